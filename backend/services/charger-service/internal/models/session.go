package models

import "time"

// State is the charger state machine position.
type State string

const (
	StateIdle   State = "idle"
	StateActive State = "active"
)

// Session is the paid window during which the outlet is meant to be powered.
type Session struct {
	Active            bool      `json:"active"`
	StartedAt         time.Time `json:"started_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	DesiredPowerState bool      `json:"desired_power_state"`
	PaymentRef        string    `json:"payment_ref,omitempty"`
}

// State derives the state machine position from the record.
func (s Session) State() State {
	if s.Active {
		return StateActive
	}
	return StateIdle
}

// Remaining returns the time left until expiry relative to now.
func (s Session) Remaining(now time.Time) time.Duration {
	if !s.Active || !now.Before(s.ExpiresAt) {
		return 0
	}
	return s.ExpiresAt.Sub(now)
}
