package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	libconfig "ampease/backend/libs/config"
)

const (
	EnvironmentSandbox    = "sandbox"
	EnvironmentProduction = "production"

	MinCostPerCharge = 100
	MaxDurationHours = 24

	defaultPort              = "8000"
	defaultReconcileInterval = 30 * time.Second
	defaultRadiusKM          = 100
	defaultTokenTTL          = 60
	defaultHTTPTimeout       = 10
)

// ConfigurationError reports an operator setting that prevents startup.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// HTTP holds listener settings.
type HTTP struct {
	Port string `yaml:"port" env:"CHARGER_HTTP_PORT"`
	// TrustProxy takes the client address from X-Forwarded-For.
	TrustProxy bool `yaml:"trustProxy" env:"CHARGER_HTTP_TRUST_PROXY"`
	// AllowedOrigins lists browser origins allowed to call the public endpoints.
	AllowedOrigins []string `yaml:"allowedOrigins" env:"CHARGER_HTTP_ALLOWED_ORIGINS"`
}

// Charger holds the pricing and timing of one activation.
type Charger struct {
	CostPerCharge     int64         `yaml:"costPerCharge" env:"CHARGER_COST_PER_CHARGE"`
	DurationHours     int           `yaml:"durationHours" env:"CHARGER_DURATION_HOURS"`
	ExpectedVoltage   int           `yaml:"expectedVoltage" env:"CHARGER_EXPECTED_VOLTAGE"`
	ReconcileInterval time.Duration `yaml:"reconcileInterval" env:"CHARGER_RECONCILE_INTERVAL"`
}

// Geofence limits activation to clients near the outlet.
type Geofence struct {
	RadiusKM      float64 `yaml:"radiusKm" env:"CHARGER_GEOFENCE_RADIUS_KM"`
	LocatorURL    string  `yaml:"locatorUrl" env:"CHARGER_GEOFENCE_LOCATOR_URL"`
	AllowLoopback bool    `yaml:"allowLoopback" env:"CHARGER_GEOFENCE_ALLOW_LOOPBACK"`
}

// Square holds payment processor credentials.
type Square struct {
	ApplicationID string `yaml:"applicationId" env:"SQUARE_APPLICATION_ID"`
	LocationID    string `yaml:"locationId" env:"SQUARE_LOCATION_ID"`
	AccessToken   string `yaml:"accessToken" env:"SQUARE_ACCESS_TOKEN"`
	BaseURL       string `yaml:"baseUrl" env:"SQUARE_BASE_URL"`
}

// TPLink holds smart plug cloud credentials.
type TPLink struct {
	Email       string `yaml:"email" env:"TPLINK_EMAIL"`
	Password    string `yaml:"password" env:"TPLINK_PASSWORD"`
	DeviceAlias string `yaml:"deviceAlias" env:"TPLINK_DEVICE_ALIAS"`
	CloudURL    string `yaml:"cloudUrl" env:"TPLINK_CLOUD_URL"`
}

// Database is optional; an empty DSN disables the activation ledger.
type Database struct {
	DSN string `yaml:"dsn" env:"CHARGER_POSTGRES_DSN"`
}

// Redis is optional; an empty address disables session recovery.
type Redis struct {
	Addr     string `yaml:"addr" env:"CHARGER_REDIS_ADDR"`
	Password string `yaml:"password" env:"CHARGER_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"CHARGER_REDIS_DB"`
}

// Admin protects the operator endpoints. An empty password hash disables them.
type Admin struct {
	PasswordHash    string `yaml:"passwordHash" env:"CHARGER_ADMIN_PASSWORD_HASH"`
	JWTSecret       string `yaml:"jwtSecret" env:"CHARGER_ADMIN_JWT_SECRET"`
	TokenTTLMinutes int    `yaml:"tokenTtlMinutes" env:"CHARGER_ADMIN_TOKEN_TTL"`
}

// HTTPClient tunes outbound calls to the cloud services.
type HTTPClient struct {
	TimeoutSeconds int `yaml:"timeoutSeconds" env:"CHARGER_HTTP_CLIENT_TIMEOUT"`
}

// Config defines charger service configuration.
type Config struct {
	Environment string     `yaml:"environment" env:"CHARGER_ENVIRONMENT"`
	HTTP        HTTP       `yaml:"http"`
	Charger     Charger    `yaml:"charger"`
	Geofence    Geofence   `yaml:"geofence"`
	Square      Square     `yaml:"square"`
	TPLink      TPLink     `yaml:"tplink"`
	Database    Database   `yaml:"database"`
	Redis       Redis      `yaml:"redis"`
	Admin       Admin      `yaml:"admin"`
	HTTPClient  HTTPClient `yaml:"httpClient"`
}

// Default returns a config with every optional value filled in.
func Default() *Config {
	return &Config{
		Environment: EnvironmentSandbox,
		HTTP:        HTTP{Port: defaultPort},
		Charger: Charger{
			DurationHours:     1,
			ExpectedVoltage:   120,
			ReconcileInterval: defaultReconcileInterval,
		},
		Geofence:   Geofence{RadiusKM: defaultRadiusKM, AllowLoopback: true},
		Admin:      Admin{TokenTTLMinutes: defaultTokenTTL},
		HTTPClient: HTTPClient{TimeoutSeconds: defaultHTTPTimeout},
	}
}

// Load reads configuration via shared helper. Any returned error is fatal.
func Load() (*Config, error) {
	cfg := Default()
	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every operator setting and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	fail := func(field, reason string) {
		errs = append(errs, &ConfigurationError{Field: field, Reason: reason})
	}

	c.Environment = strings.ToLower(strings.TrimSpace(c.Environment))
	if c.Environment != EnvironmentSandbox && c.Environment != EnvironmentProduction {
		fail("environment", "must be sandbox or production")
	}

	if c.Charger.CostPerCharge < MinCostPerCharge {
		fail("charger.costPerCharge", fmt.Sprintf("must be at least %d minor units", MinCostPerCharge))
	}
	if c.Charger.DurationHours < 1 || c.Charger.DurationHours > MaxDurationHours {
		fail("charger.durationHours", fmt.Sprintf("must be between 1 and %d", MaxDurationHours))
	}
	if c.Charger.ExpectedVoltage <= 0 {
		fail("charger.expectedVoltage", "must be a positive integer")
	}
	if c.Charger.ReconcileInterval <= 0 {
		c.Charger.ReconcileInterval = defaultReconcileInterval
	}
	if c.Geofence.RadiusKM <= 0 {
		fail("geofence.radiusKm", "must be positive")
	}

	required := map[string]string{
		"square.applicationId": c.Square.ApplicationID,
		"square.locationId":    c.Square.LocationID,
		"square.accessToken":   c.Square.AccessToken,
		"tplink.email":         c.TPLink.Email,
		"tplink.password":      c.TPLink.Password,
		"tplink.deviceAlias":   c.TPLink.DeviceAlias,
	}
	for _, field := range sortedKeys(required) {
		if strings.TrimSpace(required[field]) == "" {
			fail(field, "is required")
		}
	}

	if c.Admin.PasswordHash != "" && strings.TrimSpace(c.Admin.JWTSecret) == "" {
		fail("admin.jwtSecret", "is required when admin.passwordHash is set")
	}

	return errors.Join(errs...)
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = defaultPort
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// SessionDuration returns the paid activation window.
func (c *Config) SessionDuration() time.Duration {
	return time.Duration(c.Charger.DurationHours) * time.Hour
}

// HTTPTimeout returns http client timeout.
func (c *Config) HTTPTimeout() time.Duration {
	if c.HTTPClient.TimeoutSeconds <= 0 {
		return defaultHTTPTimeout * time.Second
	}
	return time.Duration(c.HTTPClient.TimeoutSeconds) * time.Second
}

// TokenTTL returns the lifetime of operator tokens.
func (c *Config) TokenTTL() time.Duration {
	if c.Admin.TokenTTLMinutes <= 0 {
		return defaultTokenTTL * time.Minute
	}
	return time.Duration(c.Admin.TokenTTLMinutes) * time.Minute
}

// AdminEnabled reports whether operator endpoints should be mounted.
func (c *Config) AdminEnabled() bool {
	return c.Admin.PasswordHash != ""
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
