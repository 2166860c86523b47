package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"ampease/backend/services/charger-service/internal/activation"
	"ampease/backend/services/charger-service/internal/apperrors"
)

// PaymentController processes payment submissions.
type PaymentController interface {
	ProcessPayment(ctx context.Context, client activation.ClientInfo, req activation.PaymentRequest) (activation.PaymentOutcome, error)
}

// Payment outcomes reported to the observer.
const (
	PaymentSucceeded     = "success"
	PaymentDeclined      = "declined"
	PaymentInvalid       = "invalid"
	PaymentAlreadyActive = "already_active"
	PaymentGeofenced     = "geofenced"
	PaymentFailed        = "failed"
)

type failureResponse struct {
	Error     string `json:"error"`
	PaymentID string `json:"payment_id,omitempty"`
}

// NewPaymentHandler handles POST /process-payment.
func NewPaymentHandler(controller PaymentController, observer Observer, trustProxy bool, logger *zap.Logger) http.HandlerFunc {
	observer = observerOrNoop(observer)
	return func(w http.ResponseWriter, r *http.Request) {
		var req activation.PaymentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			observer.ObservePayment(PaymentInvalid)
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		outcome, err := controller.ProcessPayment(r.Context(), clientInfo(r, trustProxy), req)
		var validationErr *apperrors.ValidationError
		switch {
		case errors.As(err, &validationErr):
			observer.ObservePayment(PaymentInvalid)
			writeError(w, http.StatusBadRequest, validationErr.Error())
		case errors.Is(err, apperrors.ErrAlreadyActive):
			observer.ObservePayment(PaymentAlreadyActive)
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, apperrors.ErrGeofenced):
			observer.ObservePayment(PaymentGeofenced)
			writeError(w, http.StatusForbidden, err.Error())
		case err != nil:
			observer.ObservePayment(PaymentFailed)
			logger.Error("payment processing failed", zap.String("payment_id", outcome.PaymentID), zap.Error(err))
			resp := failureResponse{Error: "payment processor unavailable", PaymentID: outcome.PaymentID}
			if outcome.PaymentID != "" {
				resp.Error = "payment accepted but the charger could not be activated"
			}
			writeJSON(w, http.StatusBadGateway, resp)
		case outcome.Declined:
			observer.ObservePayment(PaymentDeclined)
			writeRaw(w, http.StatusPaymentRequired, outcome.Body)
		default:
			observer.ObservePayment(PaymentSucceeded)
			writeRaw(w, http.StatusOK, outcome.Body)
		}
	}
}
