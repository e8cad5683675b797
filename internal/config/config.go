// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server, logging,
// database, rate limiting and observability settings together with the
// partner integration: upstream account, resilience gate, pricing policy,
// sync batching and the optional Redis refresh lock.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "labsyncd")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// UpstreamConfig is the partner API account and endpoint.
type UpstreamConfig struct {
	BaseURL   string        // UPSTREAM_BASE_URL
	Username  string        // UPSTREAM_USERNAME
	Password  string        // UPSTREAM_PASSWORD
	Principal string        // UPSTREAM_PRINCIPAL, the local name of the account
	Timeout   time.Duration // UPSTREAM_TIMEOUT, per call
	TZOffset  string        // UPSTREAM_TZ_OFFSET, e.g. "+05:30"
}

// GateConfig tunes the circuit breaker and outbound request queue.
type GateConfig struct {
	BreakerThreshold int           // BREAKER_THRESHOLD
	BreakerWindow    time.Duration // BREAKER_WINDOW
	BreakerCoolDown  time.Duration // BREAKER_COOLDOWN
	QueueWorkers     int           // QUEUE_WORKERS
	QueueRPS         float64       // QUEUE_RPS, 0 disables pacing
	QueueBurst       int           // QUEUE_BURST
}

// PricingConfig holds the reconciliation policy constants.
type PricingConfig struct {
	MinOrderThreshold  decimal.Decimal // PRICING_MIN_ORDER
	Surcharge          decimal.Decimal // PRICING_SURCHARGE
	SurchargeTolerance decimal.Decimal // PRICING_SURCHARGE_TOLERANCE
	Epsilon            decimal.Decimal // PRICING_EPSILON
}

// SyncConfig tunes bulk order sync.
type SyncConfig struct {
	BatchSize  int           // SYNC_BATCH_SIZE
	BatchDelay time.Duration // SYNC_BATCH_DELAY
	MaxOrders  int           // SYNC_MAX_ORDERS
}

// RedisConfig enables the cross-replica refresh lock. Empty Addr disables it.
type RedisConfig struct {
	Addr     string        // REDIS_ADDR
	Password string        // REDIS_PASSWORD
	DB       int           // REDIS_DB
	LockTTL  time.Duration // REDIS_LOCK_TTL
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // bulk sync can be slow, default 120s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	DBPath string // SQLite path

	// Rate limiting (inbound)
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig

	// Partner integration
	Upstream UpstreamConfig
	Gate     GateConfig
	Pricing  PricingConfig
	Sync     SyncConfig
	Redis    RedisConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 120*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath: getenv("DB_PATH", "labsync.db"),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "labsyncd"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},

		Upstream: UpstreamConfig{
			BaseURL:   strings.TrimRight(getenv("UPSTREAM_BASE_URL", ""), "/"),
			Username:  getenv("UPSTREAM_USERNAME", ""),
			Password:  getenv("UPSTREAM_PASSWORD", ""),
			Principal: getenv("UPSTREAM_PRINCIPAL", "admin"),
			Timeout:   getdur("UPSTREAM_TIMEOUT", 30*time.Second),
			TZOffset:  getenv("UPSTREAM_TZ_OFFSET", "+05:30"),
		},
		Gate: GateConfig{
			BreakerThreshold: getint("BREAKER_THRESHOLD", 5),
			BreakerWindow:    getdur("BREAKER_WINDOW", time.Minute),
			BreakerCoolDown:  getdur("BREAKER_COOLDOWN", 30*time.Second),
			QueueWorkers:     getint("QUEUE_WORKERS", 1),
			QueueRPS:         getfloat("QUEUE_RPS", 0),
			QueueBurst:       getint("QUEUE_BURST", 1),
		},
		Pricing: PricingConfig{
			MinOrderThreshold:  getdecimal("PRICING_MIN_ORDER", decimal.NewFromInt(300)),
			Surcharge:          getdecimal("PRICING_SURCHARGE", decimal.NewFromInt(200)),
			SurchargeTolerance: getdecimal("PRICING_SURCHARGE_TOLERANCE", decimal.NewFromInt(1)),
			Epsilon:            getdecimal("PRICING_EPSILON", decimal.NewFromInt(1)),
		},
		Sync: SyncConfig{
			BatchSize:  getint("SYNC_BATCH_SIZE", 10),
			BatchDelay: getdur("SYNC_BATCH_DELAY", time.Second),
			MaxOrders:  getint("SYNC_MAX_ORDERS", 500),
		},
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", ""),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getint("REDIS_DB", 0),
			LockTTL:  getdur("REDIS_LOCK_TTL", 30*time.Second),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	if err := cfg.validatePartner(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func (cfg Config) validatePartner() error {
	u := cfg.Upstream
	if u.BaseURL == "" {
		return errors.New("UPSTREAM_BASE_URL must not be empty")
	}
	if !strings.HasPrefix(u.BaseURL, "http://") && !strings.HasPrefix(u.BaseURL, "https://") {
		return errors.New("UPSTREAM_BASE_URL must be an http(s) URL")
	}
	if u.Username == "" || u.Password == "" {
		return errors.New("UPSTREAM_USERNAME and UPSTREAM_PASSWORD must be set")
	}
	if strings.TrimSpace(u.Principal) == "" {
		return errors.New("UPSTREAM_PRINCIPAL must not be empty")
	}
	if u.Timeout <= 0 {
		return errors.New("UPSTREAM_TIMEOUT must be > 0")
	}

	g := cfg.Gate
	if g.BreakerThreshold < 1 {
		return errors.New("BREAKER_THRESHOLD must be >= 1")
	}
	if g.BreakerWindow <= 0 || g.BreakerCoolDown <= 0 {
		return errors.New("BREAKER_WINDOW and BREAKER_COOLDOWN must be > 0")
	}
	if g.QueueWorkers < 1 {
		return errors.New("QUEUE_WORKERS must be >= 1")
	}
	if g.QueueRPS < 0 {
		return errors.New("QUEUE_RPS must be >= 0")
	}
	if g.QueueBurst < 1 {
		return errors.New("QUEUE_BURST must be >= 1")
	}

	p := cfg.Pricing
	for name, v := range map[string]decimal.Decimal{
		"PRICING_MIN_ORDER":           p.MinOrderThreshold,
		"PRICING_SURCHARGE":           p.Surcharge,
		"PRICING_SURCHARGE_TOLERANCE": p.SurchargeTolerance,
		"PRICING_EPSILON":             p.Epsilon,
	} {
		if v.IsNegative() {
			return fmt.Errorf("%s must be >= 0", name)
		}
	}

	if cfg.Sync.BatchSize < 1 {
		return errors.New("SYNC_BATCH_SIZE must be >= 1")
	}
	if cfg.Sync.BatchDelay < 0 {
		return errors.New("SYNC_BATCH_DELAY must be >= 0")
	}
	if cfg.Sync.MaxOrders < 1 {
		return errors.New("SYNC_MAX_ORDERS must be >= 1")
	}
	if cfg.Redis.Addr != "" && cfg.Redis.LockTTL <= 0 {
		return errors.New("REDIS_LOCK_TTL must be > 0")
	}
	return nil
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

// envParsed returns parse(k) when k is set and parses, def otherwise.
func envParsed[T any](k string, def T, parse func(string) (T, error)) T {
	v, ok := os.LookupEnv(k)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	out, err := parse(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return out
}

func getfloat(k string, def float64) float64 {
	return envParsed(k, def, func(v string) (float64, error) { return strconv.ParseFloat(v, 64) })
}

func getint(k string, def int) int { return envParsed(k, def, strconv.Atoi) }

func getdur(k string, def time.Duration) time.Duration {
	return envParsed(k, def, time.ParseDuration)
}

// getdecimal keeps money amounts exact.
func getdecimal(k string, def decimal.Decimal) decimal.Decimal {
	return envParsed(k, def, decimal.NewFromString)
}

func getbool(k string, def bool) bool {
	return envParsed(k, def, func(v string) (bool, error) {
		switch strings.ToLower(v) {
		case "yes", "y", "on":
			return true, nil
		case "no", "n", "off":
			return false, nil
		}
		return strconv.ParseBool(v)
	})
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
