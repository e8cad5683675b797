package config

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// setPartnerEnv sets the partner settings that have no defaults.
func setPartnerEnv(t *testing.T) {
	t.Helper()
	t.Setenv("UPSTREAM_BASE_URL", "https://partner.example/")
	t.Setenv("UPSTREAM_USERNAME", "lab")
	t.Setenv("UPSTREAM_PASSWORD", "secret")
}

// --- MustLoad ---

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	setPartnerEnv(t)
	t.Setenv("LOG_LEVEL", "verbose") // invalid -> Load() error
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

func TestMustLoad_Success_NoPanic(t *testing.T) {
	setPartnerEnv(t)
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("MustLoad should not panic on valid defaults, got: %v", r)
		}
	}()
	cfg := MustLoad()
	if cfg.APIBasePath == "" {
		t.Fatalf("unexpected empty config from MustLoad")
	}
}

// --- Load success + normalization + parsing ---

func TestLoad_Success_DefaultsAndOverrides(t *testing.T) {
	setPartnerEnv(t)

	// Server timeouts / sizes (valid)
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("READ_HEADER_TIMEOUT", "1s")
	t.Setenv("WRITE_TIMEOUT", "3s")
	t.Setenv("IDLE_TIMEOUT", "4s")
	t.Setenv("MAX_HEADER_BYTES", "8192")
	t.Setenv("GIN_MODE", "weird") // will normalize to "release"

	// Logging / Docs
	t.Setenv("LOG_LEVEL", "warning") // will normalize to "warn"
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("SWAGGER_ENABLED", "on")
	t.Setenv("API_BASE_PATH", "api/v1/")

	t.Setenv("DB_PATH", "db.sqlite")

	// Rate limiting (invalid values fall back to defaults)
	t.Setenv("RATE_RPS", "x")
	t.Setenv("RATE_BURST", "nope")

	// Web protection
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")
	t.Setenv("ENABLE_HSTS", "TRUE")
	t.Setenv("HSTS_MAX_AGE", "24h")

	t.Setenv("IDEMPOTENCY_TTL", "48h")

	// OTEL
	t.Setenv("OTEL_ENABLED", "1")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "0")
	t.Setenv("OTEL_SERVICE_NAME", "svc")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.75")

	// Partner
	t.Setenv("UPSTREAM_PRINCIPAL", "ops")
	t.Setenv("UPSTREAM_TIMEOUT", "5s")
	t.Setenv("UPSTREAM_TZ_OFFSET", "+0530")
	t.Setenv("BREAKER_THRESHOLD", "3")
	t.Setenv("BREAKER_WINDOW", "30s")
	t.Setenv("BREAKER_COOLDOWN", "10s")
	t.Setenv("QUEUE_WORKERS", "2")
	t.Setenv("QUEUE_RPS", "4.5")
	t.Setenv("QUEUE_BURST", "2")
	t.Setenv("PRICING_MIN_ORDER", "499.50")
	t.Setenv("PRICING_SURCHARGE", "bad") // -> default 200
	t.Setenv("SYNC_BATCH_SIZE", "25")
	t.Setenv("SYNC_BATCH_DELAY", "250ms")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_DB", "2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "8088" ||
		cfg.ReadTimeout != 2*time.Second ||
		cfg.ReadHeaderTimeout != 1*time.Second ||
		cfg.WriteTimeout != 3*time.Second ||
		cfg.IdleTimeout != 4*time.Second ||
		cfg.MaxHeaderBytes != 8192 ||
		cfg.GinMode != "release" {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}
	if cfg.LogLevel != "warn" || !cfg.LogPretty || !cfg.SwaggerEnabled || cfg.APIBasePath != "/api/v1" {
		t.Fatalf("logging/docs unexpected: %+v", cfg)
	}
	if cfg.DBPath != "db.sqlite" || cfg.RateRPS != 5.0 || cfg.RateBurst != 10 {
		t.Fatalf("app/rate fields unexpected: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}) {
		t.Fatalf("cors origins unexpected: %#v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.Security.EnableHSTS || cfg.Security.HSTSMaxAge != 24*time.Hour || cfg.IdempotencyTTL != 48*time.Hour {
		t.Fatalf("security/idempotency unexpected: %+v", cfg)
	}
	if !cfg.OTEL.Enabled || cfg.OTEL.Endpoint != "otel:4317" || cfg.OTEL.Insecure || cfg.OTEL.ServiceName != "svc" || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("otel unexpected: %+v", cfg.OTEL)
	}

	u := cfg.Upstream
	if u.BaseURL != "https://partner.example" || u.Principal != "ops" || u.Timeout != 5*time.Second || u.TZOffset != "+0530" {
		t.Fatalf("upstream unexpected: %+v", u)
	}
	g := cfg.Gate
	if g.BreakerThreshold != 3 || g.BreakerWindow != 30*time.Second || g.BreakerCoolDown != 10*time.Second ||
		g.QueueWorkers != 2 || g.QueueRPS != 4.5 || g.QueueBurst != 2 {
		t.Fatalf("gate unexpected: %+v", g)
	}
	if !cfg.Pricing.MinOrderThreshold.Equal(decimal.RequireFromString("499.5")) || !cfg.Pricing.Surcharge.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("pricing unexpected: %+v", cfg.Pricing)
	}
	if cfg.Sync.BatchSize != 25 || cfg.Sync.BatchDelay != 250*time.Millisecond || cfg.Sync.MaxOrders != 500 {
		t.Fatalf("sync unexpected: %+v", cfg.Sync)
	}
	if cfg.Redis.Addr != "redis:6379" || cfg.Redis.DB != 2 || cfg.Redis.LockTTL != 30*time.Second {
		t.Fatalf("redis unexpected: %+v", cfg.Redis)
	}
}

func TestLoad_PartnerDefaults(t *testing.T) {
	setPartnerEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Upstream.Principal != "admin" || cfg.Upstream.Timeout != 30*time.Second || cfg.Upstream.TZOffset != "+05:30" {
		t.Fatalf("upstream defaults unexpected: %+v", cfg.Upstream)
	}
	if cfg.Gate.QueueWorkers != 1 || cfg.Gate.QueueRPS != 0 || cfg.Gate.BreakerThreshold != 5 {
		t.Fatalf("gate defaults unexpected: %+v", cfg.Gate)
	}
	p := cfg.Pricing
	if !p.MinOrderThreshold.Equal(decimal.NewFromInt(300)) || !p.Surcharge.Equal(decimal.NewFromInt(200)) ||
		!p.SurchargeTolerance.Equal(decimal.NewFromInt(1)) || !p.Epsilon.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("pricing defaults unexpected: %+v", p)
	}
	if cfg.Sync.BatchSize != 10 || cfg.Sync.BatchDelay != time.Second || cfg.Redis.Addr != "" {
		t.Fatalf("sync/redis defaults unexpected: %+v %+v", cfg.Sync, cfg.Redis)
	}
	if cfg.APIBasePath != "/api/v1" || cfg.WriteTimeout != 120*time.Second {
		t.Fatalf("server defaults unexpected: %+v", cfg)
	}
}

// --- Load validations (each case triggers exactly one validation error) ---

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name, key, value, want string
	}{
		{"invalid LOG_LEVEL", "LOG_LEVEL", "verbose", "LOG_LEVEL"},
		{"empty PORT via spaces", "PORT", "   ", "PORT must not be empty"},
		{"non-positive timeouts", "READ_TIMEOUT", "0s", "timeouts must be positive"},
		{"max header bytes <= 0", "MAX_HEADER_BYTES", "0", "MAX_HEADER_BYTES"},
		{"empty DB_PATH", "DB_PATH", "   ", "DB_PATH must not be empty"},
		{"rate rps negative", "RATE_RPS", "-1", "RATE_RPS"},
		{"rate burst < 1", "RATE_BURST", "0", "RATE_BURST"},
		{"hsts max age negative", "HSTS_MAX_AGE", "-1s", "HSTS_MAX_AGE"},
		{"idempotency ttl non-positive", "IDEMPOTENCY_TTL", "0s", "IDEMPOTENCY_TTL"},
		{"otel sample ratio out of range", "OTEL_TRACES_SAMPLER_ARG", "1.5", "OTEL_TRACES_SAMPLER_ARG"},
		{"non-http base url", "UPSTREAM_BASE_URL", "ftp://x", "UPSTREAM_BASE_URL"},
		{"upstream timeout", "UPSTREAM_TIMEOUT", "0s", "UPSTREAM_TIMEOUT"},
		{"breaker threshold", "BREAKER_THRESHOLD", "0", "BREAKER_THRESHOLD"},
		{"breaker window", "BREAKER_WINDOW", "-1s", "BREAKER_WINDOW"},
		{"queue workers", "QUEUE_WORKERS", "0", "QUEUE_WORKERS"},
		{"queue rps", "QUEUE_RPS", "-2", "QUEUE_RPS"},
		{"queue burst", "QUEUE_BURST", "0", "QUEUE_BURST"},
		{"negative surcharge", "PRICING_SURCHARGE", "-200", "PRICING_SURCHARGE"},
		{"sync batch size", "SYNC_BATCH_SIZE", "0", "SYNC_BATCH_SIZE"},
		{"sync batch delay", "SYNC_BATCH_DELAY", "-1s", "SYNC_BATCH_DELAY"},
		{"sync max orders", "SYNC_MAX_ORDERS", "0", "SYNC_MAX_ORDERS"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setPartnerEnv(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); !containsErr(err, tc.want) {
				t.Fatalf("expected %s validation error, got: %v", tc.want, err)
			}
		})
	}

	t.Run("missing partner login", func(t *testing.T) {
		t.Setenv("UPSTREAM_BASE_URL", "https://partner.example")
		if _, err := Load(); !containsErr(err, "UPSTREAM_USERNAME") {
			t.Fatalf("expected credentials validation error, got: %v", err)
		}
	})
	t.Run("redis lock ttl", func(t *testing.T) {
		setPartnerEnv(t)
		t.Setenv("REDIS_ADDR", "redis:6379")
		t.Setenv("REDIS_LOCK_TTL", "0s")
		if _, err := Load(); !containsErr(err, "REDIS_LOCK_TTL") {
			t.Fatalf("expected REDIS_LOCK_TTL validation error, got: %v", err)
		}
	})
}

func TestEnvParsers(t *testing.T) {
	t.Setenv("X_SET", "val")
	t.Setenv("X_EMPTY", "")
	t.Setenv("F", "3.14")
	t.Setenv("I", " 42 ")
	t.Setenv("D", "150ms")
	t.Setenv("M", " 0.10 ")
	t.Setenv("BAD", "1,000")

	cases := []struct {
		name string
		got  any
		want any
	}{
		{"getenv set", getenv("X_SET", "d"), "val"},
		{"getenv empty", getenv("X_EMPTY", "d"), "d"},
		{"getfloat", getfloat("F", 0), 3.14},
		{"getfloat bad", getfloat("BAD", 1.5), 1.5},
		{"getint trims", getint("I", 0), 42},
		{"getint bad", getint("BAD", 7), 7},
		{"getint unset", getint("NOT_SET_ANYWHERE", 9), 9},
		{"getdur", getdur("D", time.Second), 150 * time.Millisecond},
		{"getdur bad", getdur("BAD", 2*time.Second), 2 * time.Second},
		{"getdecimal", getdecimal("M", decimal.Zero).String(), "0.1"},
		{"getdecimal bad", getdecimal("BAD", decimal.NewFromInt(5)).String(), "5"},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Fatalf("%s = %v; want %v", tc.name, tc.got, tc.want)
		}
	}
}

func TestGetbool(t *testing.T) {
	cases := map[string]bool{
		"1": true, "true": true, "TRUE": true, " yes ": true, "Y": true, "On": true,
		"0": false, "false": false, "FALSE": false, " no ": false, "N": false, "Off": false,
	}
	for v, want := range cases {
		t.Setenv("B", v)
		if got := getbool("B", !want); got != want {
			t.Fatalf("getbool(%q) = %v; want %v", v, got, want)
		}
	}
	for _, v := range []string{"", "maybe"} {
		t.Setenv("B", v)
		if !getbool("B", true) || getbool("B", false) {
			t.Fatalf("getbool(%q) should return the default", v)
		}
	}
}

func TestHelpers_splitCSV_and_normalizeBasePath(t *testing.T) {
	if out := splitCSV(""); out != nil {
		t.Fatalf("splitCSV empty should return nil")
	}
	if got := splitCSV(" a, ,b ,  c  ,"); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("splitCSV mismatch: got %#v", got)
	}

	if normalizeBasePath("") != "/" {
		t.Fatalf("normalizeBasePath empty -> '/' failed")
	}
	if normalizeBasePath("v1") != "/v1" {
		t.Fatalf("normalizeBasePath missing leading slash failed")
	}
	if normalizeBasePath("/v1/") != "/v1" {
		t.Fatalf("normalizeBasePath trailing slash trim failed")
	}
	if normalizeBasePath(" / ") != "/" {
		t.Fatalf("normalizeBasePath whitespace failed")
	}
}

func containsErr(err error, sub string) bool {
	return err != nil && strings.Contains(err.Error(), sub)
}
