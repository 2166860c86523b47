package models

import "time"

// PageStatus tells the renderer which page to show.
type PageStatus string

const (
	PageIdle      PageStatus = "idle"
	PageActive    PageStatus = "active"
	PageGeofenced PageStatus = "geofenced"
)

// Checkout carries the browser payment SDK settings.
type Checkout struct {
	SDKURL        string `json:"sdk_url"`
	ApplicationID string `json:"application_id"`
	LocationID    string `json:"location_id"`
	Currency      string `json:"currency"`
	Country       string `json:"country"`
}

// PageState is everything the page renderer consumes from the core.
type PageState struct {
	Status         PageStatus `json:"status"`
	Price          string     `json:"price"`
	DurationHours  int        `json:"duration_hours"`
	Voltage        int        `json:"voltage"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
	Checkout       *Checkout  `json:"checkout,omitempty"`
	Reason         string     `json:"reason,omitempty"`
}
