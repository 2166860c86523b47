package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"ampease/backend/services/charger-service/internal/apperrors"
	"ampease/backend/services/charger-service/internal/clients"
)

// ChargeRequest is one card charge.
type ChargeRequest struct {
	AmountMinor    int64
	Currency       string
	SourceToken    string
	IdempotencyKey string
}

// Validate rejects requests that must never reach the processor.
func (r ChargeRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.SourceToken) == "":
		return &apperrors.ValidationError{Field: "token", Reason: "is required"}
	case strings.TrimSpace(r.IdempotencyKey) == "":
		return &apperrors.ValidationError{Field: "idempotencyKey", Reason: "is required"}
	case len(r.IdempotencyKey) > 45:
		return &apperrors.ValidationError{Field: "idempotencyKey", Reason: "must be at most 45 characters"}
	case r.AmountMinor <= 0:
		return &apperrors.ValidationError{Field: "amount", Reason: "must be positive"}
	case len(r.Currency) != 3:
		return &apperrors.ValidationError{Field: "currency", Reason: "must be an ISO 4217 code"}
	}
	return nil
}

// Result is the processor outcome. Body is the processor reply, untouched.
type Result struct {
	Success    bool
	PaymentID  string
	StatusCode int
	Body       json.RawMessage
}

// Processor submits payments to the card processor.
type Processor interface {
	CreatePayment(ctx context.Context, req ChargeRequest) (int, []byte, error)
}

// Gateway validates and submits charges. Declines come back as an unsuccessful Result;
// unreachable or failing processors come back as an ExternalServiceError.
type Gateway struct {
	processor Processor
	breaker   *gobreaker.CircuitBreaker
	logger    *zap.Logger
}

// NewGateway creates a new payment gateway.
func NewGateway(processor Processor, logger *zap.Logger) *Gateway {
	return &Gateway{
		processor: processor,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "payment-processor",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 3
			},
		}),
		logger: logger,
	}
}

type paymentReply struct {
	Payment struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"payment"`
}

// Charge submits req once. Retrying is left to the client, which reuses its idempotency key.
func (g *Gateway) Charge(ctx context.Context, req ChargeRequest) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	out, err := g.breaker.Execute(func() (interface{}, error) {
		status, body, err := g.processor.CreatePayment(ctx, req)
		if err != nil {
			return nil, err
		}
		if status >= http.StatusInternalServerError {
			return nil, &clients.StatusError{StatusCode: status, Body: body}
		}
		return Result{StatusCode: status, Body: json.RawMessage(body)}, nil
	})
	if err != nil {
		g.logger.Error("payment processor unavailable", zap.Error(err))
		return Result{}, apperrors.External(apperrors.ServicePayment, "charge", err)
	}

	result := out.(Result)
	if result.StatusCode < 200 || result.StatusCode >= 300 {
		g.logger.Info("payment declined", zap.Int("status", result.StatusCode))
		return result, nil
	}

	var reply paymentReply
	if err := json.Unmarshal(result.Body, &reply); err != nil {
		return Result{}, apperrors.External(apperrors.ServicePayment, "charge", err)
	}
	switch reply.Payment.Status {
	case "FAILED", "CANCELED":
		g.logger.Info("payment not completed", zap.String("payment_status", reply.Payment.Status))
		return result, nil
	}

	result.Success = true
	result.PaymentID = reply.Payment.ID
	return result, nil
}
