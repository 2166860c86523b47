package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"ampease/backend/services/charger-service/internal/apperrors"
	"ampease/backend/services/charger-service/internal/models"
)

// ErrDeviceNotFound means no device on the account carries the configured alias.
var ErrDeviceNotFound = errors.New("device not found")

// GatewayOptions tunes retries, circuit breaking and location caching.
type GatewayOptions struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	LocationTTL     time.Duration
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

func (o GatewayOptions) withDefaults() GatewayOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = 500 * time.Millisecond
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = 5 * time.Second
	}
	if o.LocationTTL <= 0 {
		o.LocationTTL = 10 * time.Minute
	}
	if o.BreakerFailures == 0 {
		o.BreakerFailures = 5
	}
	if o.BreakerTimeout <= 0 {
		o.BreakerTimeout = 30 * time.Second
	}
	return o
}

// Gateway exposes the configured outlet by alias. Idempotent commands are retried with
// exponential backoff; Toggle is attempted once. Every failure is an ExternalServiceError.
type Gateway struct {
	manager Manager
	alias   string
	opts    GatewayOptions
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
	now     func() time.Time

	mu        sync.Mutex
	device    Device
	location  models.Coordinates
	locatedAt time.Time
}

// NewGateway builds a gateway for the device named alias.
func NewGateway(manager Manager, alias string, opts GatewayOptions, logger *zap.Logger) *Gateway {
	opts = opts.withDefaults()
	g := &Gateway{
		manager: manager,
		alias:   alias,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
	}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "device-cloud",
		Timeout: opts.BreakerTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= opts.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return g
}

// Alias returns the configured device alias.
func (g *Gateway) Alias() string {
	return g.alias
}

// IsOn reports the physical relay state.
func (g *Gateway) IsOn(ctx context.Context) (bool, error) {
	var on bool
	err := g.execute(ctx, "is_on", true, func(d Device) error {
		state, err := d.IsOn(ctx)
		if err != nil {
			return err
		}
		on = state
		return nil
	})
	return on, err
}

// PowerOn switches the relay on.
func (g *Gateway) PowerOn(ctx context.Context) error {
	return g.execute(ctx, "power_on", true, func(d Device) error { return d.PowerOn(ctx) })
}

// PowerOff switches the relay off.
func (g *Gateway) PowerOff(ctx context.Context) error {
	return g.execute(ctx, "power_off", true, func(d Device) error { return d.PowerOff(ctx) })
}

// Toggle flips the relay. It is not retried since a repeat would undo it.
func (g *Gateway) Toggle(ctx context.Context) error {
	return g.execute(ctx, "toggle", false, func(d Device) error { return d.Toggle(ctx) })
}

// Location returns the outlet position, cached for LocationTTL.
func (g *Gateway) Location(ctx context.Context) (models.Coordinates, error) {
	g.mu.Lock()
	if !g.locatedAt.IsZero() && g.now().Sub(g.locatedAt) < g.opts.LocationTTL {
		loc := g.location
		g.mu.Unlock()
		return loc, nil
	}
	g.mu.Unlock()

	var loc models.Coordinates
	err := g.execute(ctx, "location", true, func(d Device) error {
		l, err := d.Location(ctx)
		if err != nil {
			return err
		}
		loc = l
		return nil
	})
	if err != nil {
		return models.Coordinates{}, err
	}

	if !loc.IsZero() {
		g.mu.Lock()
		g.location = loc
		g.locatedAt = g.now()
		g.mu.Unlock()
	}
	return loc, nil
}

func (g *Gateway) resolve(ctx context.Context) (Device, error) {
	g.mu.Lock()
	cached := g.device
	g.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	devices, err := g.manager.Devices(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.Alias() == g.alias {
			g.mu.Lock()
			g.device = d
			g.mu.Unlock()
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: alias %q", ErrDeviceNotFound, g.alias)
}

func (g *Gateway) forget() {
	g.mu.Lock()
	g.device = nil
	g.mu.Unlock()
}

func (g *Gateway) newBackOff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.opts.InitialInterval
	bo.MaxInterval = g.opts.MaxInterval
	bo.MaxElapsedTime = 0
	bo.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(g.opts.MaxAttempts-1)), ctx)
}

func (g *Gateway) execute(ctx context.Context, op string, retry bool, fn func(Device) error) error {
	attempt := func() error {
		_, err := g.breaker.Execute(func() (interface{}, error) {
			d, err := g.resolve(ctx)
			if err != nil {
				return nil, err
			}
			if err := fn(d); err != nil {
				// the device list may be stale after a re-pair or alias change
				g.forget()
				return nil, err
			}
			return nil, nil
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || errors.Is(err, ErrDeviceNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}

	var err error
	if retry {
		err = backoff.RetryNotify(attempt, g.newBackOff(ctx), func(err error, wait time.Duration) {
			g.logger.Warn("device call failed, retrying",
				zap.String("op", op),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		})
	} else {
		err = attempt()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
	}
	return apperrors.External(apperrors.ServiceDevice, op, err)
}
