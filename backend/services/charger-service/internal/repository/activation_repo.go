package repository

import (
	"context"
	"database/sql"
	"time"

	"ampease/backend/services/charger-service/internal/models"
)

// Schema creates the activation ledger.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS charger_activations (
		id              UUID PRIMARY KEY,
		payment_id      TEXT NOT NULL,
		idempotency_key TEXT NOT NULL,
		amount_minor    BIGINT NOT NULL,
		currency        CHAR(3) NOT NULL,
		device_alias    TEXT NOT NULL,
		status          TEXT NOT NULL,
		started_at      TIMESTAMPTZ NOT NULL,
		expires_at      TIMESTAMPTZ NOT NULL,
		ended_at        TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS charger_activations_payment_id_idx ON charger_activations (payment_id)`,
	`CREATE INDEX IF NOT EXISTS charger_activations_started_at_idx ON charger_activations (started_at DESC)`,
}

// ActivationRepository handles persistence of paid activations.
type ActivationRepository struct {
	db *sql.DB
}

// NewActivationRepository returns repository.
func NewActivationRepository(db *sql.DB) *ActivationRepository {
	return &ActivationRepository{db: db}
}

// Record inserts an activation, or updates the status of an existing one with the same payment id.
func (r *ActivationRepository) Record(ctx context.Context, a *models.Activation) error {
	const query = `
		INSERT INTO charger_activations (id, payment_id, idempotency_key, amount_minor, currency, device_alias, status, started_at, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (payment_id) DO UPDATE SET
			status = EXCLUDED.status,
			started_at = EXCLUDED.started_at,
			expires_at = EXCLUDED.expires_at
		RETURNING id, created_at
	`
	return r.db.QueryRowContext(ctx, query,
		a.ID,
		a.PaymentID,
		a.IdempotencyKey,
		a.AmountMinor,
		a.Currency,
		a.DeviceAlias,
		a.Status,
		a.StartedAt.UTC(),
		a.ExpiresAt.UTC(),
	).Scan(&a.ID, &a.CreatedAt)
}

// MarkExpired closes the active activation for paymentID.
func (r *ActivationRepository) MarkExpired(ctx context.Context, paymentID string, endedAt time.Time) error {
	const query = `
		UPDATE charger_activations
		SET status = $2,
		    ended_at = $3
		WHERE payment_id = $1 AND status = $4
	`
	result, err := r.db.ExecContext(ctx, query, paymentID, models.ActivationExpired, endedAt.UTC(), models.ActivationActive)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListRecent returns the last limit activations, newest first.
func (r *ActivationRepository) ListRecent(ctx context.Context, limit int) ([]models.Activation, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `
		SELECT id, payment_id, idempotency_key, amount_minor, currency, device_alias, status, started_at, expires_at, ended_at, created_at
		FROM charger_activations
		ORDER BY started_at DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activations []models.Activation
	for rows.Next() {
		var a models.Activation
		if err := rows.Scan(
			&a.ID,
			&a.PaymentID,
			&a.IdempotencyKey,
			&a.AmountMinor,
			&a.Currency,
			&a.DeviceAlias,
			&a.Status,
			&a.StartedAt,
			&a.ExpiresAt,
			&a.EndedAt,
			&a.CreatedAt,
		); err != nil {
			return nil, err
		}
		activations = append(activations, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return activations, nil
}
