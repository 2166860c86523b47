package models

import "time"

// Activation statuses stored in the ledger.
const (
	ActivationActive       = "active"
	ActivationExpired      = "expired"
	ActivationDeviceFailed = "device_failed"
)

// Activation is one paid charge recorded in the ledger.
type Activation struct {
	ID             string     `db:"id" json:"id"`
	PaymentID      string     `db:"payment_id" json:"payment_id"`
	IdempotencyKey string     `db:"idempotency_key" json:"idempotency_key"`
	AmountMinor    int64      `db:"amount_minor" json:"amount_minor"`
	Currency       string     `db:"currency" json:"currency"`
	DeviceAlias    string     `db:"device_alias" json:"device_alias"`
	Status         string     `db:"status" json:"status"`
	StartedAt      time.Time  `db:"started_at" json:"started_at"`
	ExpiresAt      time.Time  `db:"expires_at" json:"expires_at"`
	EndedAt        *time.Time `db:"ended_at" json:"ended_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}
