package activation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ampease/backend/services/charger-service/internal/apperrors"
	"ampease/backend/services/charger-service/internal/geo"
	"ampease/backend/services/charger-service/internal/locate"
	"ampease/backend/services/charger-service/internal/models"
	"ampease/backend/services/charger-service/internal/payment"
	"ampease/backend/services/charger-service/internal/scheduler"
)

// Scheduler is the session owner as seen by the controller.
type Scheduler interface {
	Snapshot() models.Session
	Activate(ctx context.Context, d time.Duration, paymentRef string) (models.Session, bool, error)
}

// Payments charges cards.
type Payments interface {
	Charge(ctx context.Context, req payment.ChargeRequest) (payment.Result, error)
}

// DeviceLocator reports where the outlet is.
type DeviceLocator interface {
	Location(ctx context.Context) (models.Coordinates, error)
}

// ClientLocator resolves a client IP to coordinates.
type ClientLocator interface {
	Locate(ctx context.Context, ip string) (models.Coordinates, error)
}

// Ledger records paid activations. It is optional.
type Ledger interface {
	Record(ctx context.Context, activation *models.Activation) error
	MarkExpired(ctx context.Context, paymentID string, endedAt time.Time) error
}

// Settings are the operator values the controller needs.
type Settings struct {
	CostMinor     int64
	Duration      time.Duration
	Voltage       int
	DeviceAlias   string
	AllowLoopback bool
	Checkout      models.Checkout
	// CallTimeout bounds a payment and the activation that follows it.
	CallTimeout time.Duration
}

// Dependencies groups the collaborators of a Controller. Ledger may be nil.
type Dependencies struct {
	Scheduler     Scheduler
	Payments      Payments
	Gate          *geo.Gate
	DeviceLocator DeviceLocator
	ClientLocator ClientLocator
	Ledger        Ledger
}

// ClientInfo identifies the browser. Forwarded is set when IP came from a proxy header
// rather than the socket peer.
type ClientInfo struct {
	IP        string
	Forwarded bool
}

// PaymentRequest is the payload posted by the payment form.
type PaymentRequest struct {
	Token          string `json:"token"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// PaymentOutcome is the result of ProcessPayment. When Declined is set, Body holds the
// processor reply verbatim.
type PaymentOutcome struct {
	Declined   bool
	StatusCode int
	PaymentID  string
	Body       json.RawMessage
	Session    models.Session
}

// Controller ties payment, geofence and the session scheduler together.
type Controller struct {
	settings Settings
	deps     Dependencies
	logger   *zap.Logger
	now      func() time.Time

	// serializes charges so two concurrent payments cannot both be taken for one session
	payMu sync.Mutex
}

// NewController creates a new activation controller.
func NewController(settings Settings, deps Dependencies, logger *zap.Logger) *Controller {
	if settings.CallTimeout <= 0 {
		settings.CallTimeout = defaultCallTimeout
	}
	return &Controller{
		settings: settings,
		deps:     deps,
		logger:   logger,
		now:      time.Now,
	}
}

const defaultCallTimeout = time.Minute

// FormatPrice renders minor units as a dollar string, e.g. 100 -> "$1.00".
func FormatPrice(minor int64) string {
	return fmt.Sprintf("$%d.%02d", minor/100, minor%100)
}

// RequestPage decides what the visitor sees: geofenced, active until a time, or the payment form.
func (c *Controller) RequestPage(ctx context.Context, client ClientInfo) models.PageState {
	state := models.PageState{
		Price:         FormatPrice(c.settings.CostMinor),
		DurationHours: int(c.settings.Duration / time.Hour),
		Voltage:       c.settings.Voltage,
	}

	if decision := c.checkGeofence(ctx, client); !decision.Allowed {
		c.logger.Info("page request geofenced",
			zap.String("ip", client.IP),
			zap.String("reason", decision.Reason),
			zap.Float64("distance_km", decision.DistanceKM),
		)
		state.Status = models.PageGeofenced
		state.Reason = decision.Reason
		return state
	}

	if session := c.deps.Scheduler.Snapshot(); session.Active {
		expiresAt := session.ExpiresAt
		state.Status = models.PageActive
		state.ExpiresAt = &expiresAt
		return state
	}

	checkout := c.settings.Checkout
	state.Status = models.PageIdle
	state.IdempotencyKey = uuid.NewString()
	state.Checkout = &checkout
	return state
}

// checkGeofence locates the client by IP. Only a loopback socket peer may skip the gate.
func (c *Controller) checkGeofence(ctx context.Context, client ClientInfo) geo.Decision {
	if c.settings.AllowLoopback && !client.Forwarded && locate.IsLoopback(client.IP) {
		return geo.Decision{Allowed: true}
	}

	deviceLoc, err := c.deps.DeviceLocator.Location(ctx)
	if err != nil {
		c.logger.Warn("device location unavailable", zap.Error(err))
		deviceLoc = models.Coordinates{}
	}

	clientLoc, err := c.deps.ClientLocator.Locate(ctx, client.IP)
	if err != nil {
		c.logger.Warn("client location unavailable", zap.String("ip", client.IP), zap.Error(err))
		clientLoc = models.Coordinates{}
	}
	return c.deps.Gate.Check(clientLoc, deviceLoc)
}

// ProcessPayment charges the card and, only after the processor confirms, activates the
// charger. Declines are returned as an outcome, not an error. Clients outside the geofence
// get ErrGeofenced before any charge. From the charge on, work is bounded by CallTimeout
// and outlives cancellation of ctx.
func (c *Controller) ProcessPayment(ctx context.Context, client ClientInfo, req PaymentRequest) (PaymentOutcome, error) {
	charge := payment.ChargeRequest{
		AmountMinor:    c.settings.CostMinor,
		Currency:       c.settings.Checkout.Currency,
		SourceToken:    req.Token,
		IdempotencyKey: req.IdempotencyKey,
	}
	if err := charge.Validate(); err != nil {
		return PaymentOutcome{}, err
	}

	if decision := c.checkGeofence(ctx, client); !decision.Allowed {
		c.logger.Info("payment geofenced",
			zap.String("ip", client.IP),
			zap.String("reason", decision.Reason),
			zap.Float64("distance_km", decision.DistanceKM),
		)
		return PaymentOutcome{}, fmt.Errorf("%w: %s", apperrors.ErrGeofenced, decision.Reason)
	}

	c.payMu.Lock()
	defer c.payMu.Unlock()

	if c.deps.Scheduler.Snapshot().Active {
		return PaymentOutcome{}, apperrors.ErrAlreadyActive
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.settings.CallTimeout)
	defer cancel()

	result, err := c.deps.Payments.Charge(ctx, charge)
	if err != nil {
		return PaymentOutcome{}, err
	}
	if !result.Success {
		return PaymentOutcome{Declined: true, StatusCode: result.StatusCode, Body: result.Body}, nil
	}

	outcome := PaymentOutcome{StatusCode: result.StatusCode, PaymentID: result.PaymentID, Body: result.Body}
	session, activated, err := c.deps.Scheduler.Activate(ctx, c.settings.Duration, result.PaymentID)
	if err != nil {
		c.logger.Error("charger activation failed after payment",
			zap.String("payment_id", result.PaymentID),
			zap.Error(err),
		)
		now := c.now()
		c.record(ctx, charge, result.PaymentID, models.ActivationDeviceFailed, now, now)
		return outcome, fmt.Errorf("activate charger after payment %s: %w", result.PaymentID, err)
	}
	if !activated {
		c.logger.Error("payment taken while a session was already active", zap.String("payment_id", result.PaymentID))
	} else {
		c.record(ctx, charge, result.PaymentID, models.ActivationActive, session.StartedAt, session.ExpiresAt)
	}

	outcome.Session = session
	return outcome, nil
}

func (c *Controller) record(ctx context.Context, charge payment.ChargeRequest, paymentID, status string, startedAt, expiresAt time.Time) {
	if c.deps.Ledger == nil {
		return
	}
	activation := &models.Activation{
		ID:             uuid.NewString(),
		PaymentID:      paymentID,
		IdempotencyKey: charge.IdempotencyKey,
		AmountMinor:    charge.AmountMinor,
		Currency:       charge.Currency,
		DeviceAlias:    c.settings.DeviceAlias,
		Status:         status,
		StartedAt:      startedAt,
		ExpiresAt:      expiresAt,
	}
	if err := c.deps.Ledger.Record(ctx, activation); err != nil {
		c.logger.Warn("failed to record activation", zap.String("payment_id", paymentID), zap.Error(err))
	}
}

// HandleEvent closes ledger entries when sessions expire.
func (c *Controller) HandleEvent(ev scheduler.Event) {
	if ev.Type != scheduler.EventExpired || c.deps.Ledger == nil || ev.Session.PaymentRef == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.deps.Ledger.MarkExpired(ctx, ev.Session.PaymentRef, ev.At); err != nil {
		c.logger.Warn("failed to close activation", zap.String("payment_id", ev.Session.PaymentRef), zap.Error(err))
	}
}
