package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	libdb "ampease/backend/libs/db"
	libredis "ampease/backend/libs/redis"
	"ampease/backend/services/charger-service/internal/activation"
	"ampease/backend/services/charger-service/internal/auth"
	"ampease/backend/services/charger-service/internal/clients"
	"ampease/backend/services/charger-service/internal/config"
	"ampease/backend/services/charger-service/internal/device"
	"ampease/backend/services/charger-service/internal/geo"
	httpserver "ampease/backend/services/charger-service/internal/http"
	"ampease/backend/services/charger-service/internal/http/handlers"
	"ampease/backend/services/charger-service/internal/http/middleware"
	"ampease/backend/services/charger-service/internal/locate"
	"ampease/backend/services/charger-service/internal/metrics"
	"ampease/backend/services/charger-service/internal/models"
	"ampease/backend/services/charger-service/internal/payment"
	redisstore "ampease/backend/services/charger-service/internal/redis"
	"ampease/backend/services/charger-service/internal/repository"
	"ampease/backend/services/charger-service/internal/scheduler"
	"ampease/backend/services/charger-service/internal/ws"
)

const defaultCurrency = "USD"

// App wires charger-service dependencies.
type App struct {
	server      *httpserver.Server
	scheduler   *scheduler.Scheduler
	hub         *ws.Hub
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger
}

// New constructs the application graph. Postgres and Redis are optional.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{logger: logger}
	httpClient := clients.NewDefaultHTTPClient(cfg.HTTPTimeout())

	var (
		ledger       activation.Ledger
		ledgerLister handlers.ActivationLister
		store        scheduler.Store
	)

	if cfg.Database.DSN != "" {
		sqlDB, err := libdb.NewPostgresDB(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.db = sqlDB
		if err := libdb.Migrate(ctx, sqlDB, repository.Schema...); err != nil {
			a.Close()
			return nil, err
		}
		repo := repository.NewActivationRepository(sqlDB)
		ledger = repo
		ledgerLister = repo
	} else {
		logger.Info("no database configured, activation ledger disabled")
	}

	if cfg.Redis.Addr != "" {
		redisClient, err := libredis.NewRedisClient(ctx, libredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.redisClient = redisClient
		store = redisstore.NewSessionStore(redisClient)
	} else {
		logger.Info("no redis configured, sessions will not survive a restart")
	}

	cloud := device.NewCloudClient(cfg.TPLink.CloudURL, cfg.TPLink.Email, cfg.TPLink.Password, httpClient, logger.Named("kasa"))
	outlet := device.NewGateway(cloud, cfg.TPLink.DeviceAlias, device.GatewayOptions{}, logger.Named("device"))

	squareURL := cfg.Square.BaseURL
	if squareURL == "" {
		squareURL = payment.BaseURLFor(cfg.Environment)
	}
	square := payment.NewSquareClient(squareURL, cfg.Square.AccessToken, cfg.Square.LocationID, httpClient)
	location, err := square.RetrieveLocation(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	if location.Currency == "" {
		logger.Warn("square location has no currency, assuming default", zap.String("currency", defaultCurrency))
		location.Currency = defaultCurrency
	}
	payments := payment.NewGateway(square, logger.Named("payment"))

	m := metrics.New()
	sched := scheduler.New(outlet, store, scheduler.Options{
		ReconcileInterval: cfg.Charger.ReconcileInterval,
		OnReconcile:       m.ObserveReconcile,
	}, logger.Named("scheduler"))

	controller := activation.NewController(activation.Settings{
		CostMinor:     cfg.Charger.CostPerCharge,
		Duration:      cfg.SessionDuration(),
		Voltage:       cfg.Charger.ExpectedVoltage,
		DeviceAlias:   cfg.TPLink.DeviceAlias,
		AllowLoopback: cfg.Geofence.AllowLoopback,
		Checkout: models.Checkout{
			SDKURL:        payment.SDKURLFor(cfg.Environment),
			ApplicationID: cfg.Square.ApplicationID,
			LocationID:    cfg.Square.LocationID,
			Currency:      location.Currency,
			Country:       location.Country,
		},
	}, activation.Dependencies{
		Scheduler:     sched,
		Payments:      payments,
		Gate:          geo.NewGate(cfg.Geofence.RadiusKM),
		DeviceLocator: outlet,
		ClientLocator: locate.NewIPLocator(cfg.Geofence.LocatorURL, httpClient),
		Ledger:        ledger,
	}, logger.Named("activation"))

	hub := ws.NewHub(sched.Snapshot, 10*time.Second, 30*time.Second, logger.Named("ws"))

	sched.Subscribe(m.ObserveEvent)
	sched.Subscribe(hub.HandleEvent)
	sched.Subscribe(controller.HandleEvent)

	if err := sched.Restore(ctx); err != nil {
		logger.Warn("failed to restore session", zap.Error(err))
	}

	routes := httpserver.Routes{
		Page:    handlers.NewPageHandler(controller, handlers.JSONRenderer{}, m, cfg.HTTP.TrustProxy),
		Payment: handlers.NewPaymentHandler(controller, m, cfg.HTTP.TrustProxy, logger),
		Status:  hub.HandleWS,
		Health:  handlers.NewHealthHandler(),
		Metrics: m.Handler(),
	}

	var authMiddleware func(next http.Handler) http.Handler
	if cfg.AdminEnabled() {
		tokens := auth.NewTokenService(cfg.Admin.JWTSecret, cfg.TokenTTL())
		routes.Admin = handlers.NewAdminHandlers(cfg.Admin.PasswordHash, auth.NewBcryptHasher(0), tokens, sched, outlet, ledgerLister, logger)
		authMiddleware = middleware.AuthMiddleware(tokens)
	}

	router := httpserver.NewRouter(routes, authMiddleware)
	a.server = httpserver.NewServer(
		cfg.HTTPAddress(),
		router,
		logger,
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingMiddleware(logger),
		middleware.CORSMiddleware(cfg.HTTP.AllowedOrigins),
	)
	a.scheduler = sched
	a.hub = hub

	logger.Info("charger service configured",
		zap.String("environment", cfg.Environment),
		zap.String("device_alias", cfg.TPLink.DeviceAlias),
		zap.String("price", activation.FormatPrice(cfg.Charger.CostPerCharge)),
		zap.String("currency", location.Currency),
		zap.Duration("session_duration", cfg.SessionDuration()),
		zap.Bool("admin_enabled", cfg.AdminEnabled()),
	)
	return a, nil
}

// Run serves HTTP traffic and runs the reconciliation loop until ctx is done.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.scheduler.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		a.hub.Run(ctx)
	}()

	err := a.server.Run(ctx)
	cancel()
	wg.Wait()
	return err
}

// Close releases resources. A running session stays persisted for the next start.
func (a *App) Close() {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}
