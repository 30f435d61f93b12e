package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewTenancyPolicyHolder),
)

// Config holds application configuration.
type Config struct {
	AppName          string
	AppVersion       string
	Environment      string
	HTTPAddr         string
	PublicURL        string
	AuthCookieSecure bool
	AuthJWTSecret    string
	AuthJWTIssuer    string
	SessionTTL       time.Duration

	Telemetry TelemetryConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBAutoMigrate     bool

	Redis        RedisConfig
	Provisioning ProvisioningConfig
	Email        EmailConfig
	Stripe       StripeConfig
	RateLimit    RateLimitConfig

	TenancyPolicyPath string
}

// TelemetryConfig drives the zap logger and the OpenTelemetry exporters.
type TelemetryConfig struct {
	LogLevel      string
	LogFormat     string
	OtelEnabled   bool
	OtlpEndpoint  string
	OtlpProtocol  string
	SamplingRatio float64
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Addr) != ""
}

type ProvisioningConfig struct {
	LockTTL  time.Duration
	LockWait time.Duration
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

// RateLimitConfig sets token buckets per client IP. Rates are tokens per second.
type RateLimitConfig struct {
	Enabled     bool
	AuthRate    float64
	AuthBurst   int
	InviteRate  float64
	InviteBurst int
}

type StripeConfig struct {
	WebhookSecret    string
	WebhookTolerance time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")
	authCookieSecure := environment == "production"
	if !authCookieSecure {
		authCookieSecure = getenvBool("AUTH_COOKIE_SECURE", false)
	}

	return Config{
		AppName:          getenv("APP_SERVICE", "fieldops"),
		AppVersion:       getenv("APP_VERSION", "0.1.0"),
		Environment:      environment,
		HTTPAddr:         getenv("HTTP_ADDR", ":8080"),
		PublicURL:        strings.TrimRight(getenv("PUBLIC_URL", "http://localhost:3000"), "/"),
		AuthCookieSecure: authCookieSecure,
		AuthJWTSecret:    strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		AuthJWTIssuer:    strings.TrimSpace(getenv("AUTH_JWT_ISSUER", "")),
		SessionTTL:       getenvDuration("AUTH_SESSION_TTL", 7*24*time.Hour),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "fieldops"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "fieldops.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", true),

		Telemetry: TelemetryConfig{
			LogLevel:      strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:     strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			OtelEnabled:   getenvBool("OTEL_ENABLED", environment == "production"),
			OtlpEndpoint:  strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")),
			OtlpProtocol:  otlpProtocol(),
			SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Provisioning: ProvisioningConfig{
			LockTTL:  getenvDuration("PROVISIONING_LOCK_TTL", 15*time.Second),
			LockWait: getenvDuration("PROVISIONING_LOCK_WAIT", 5*time.Second),
		},
		Email: EmailConfig{
			SMTPHost:     strings.TrimSpace(getenv("SMTP_HOST", "")),
			SMTPPort:     getenvInt("SMTP_PORT", 587),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "no-reply@fieldops.local"),
		},
		Stripe: StripeConfig{
			WebhookSecret:    strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			WebhookTolerance: getenvDuration("STRIPE_WEBHOOK_TOLERANCE", 5*time.Minute),
		},
		RateLimit: RateLimitConfig{
			Enabled:     getenvBool("RATE_LIMIT_ENABLED", true),
			AuthRate:    getenvFloat("RATE_LIMIT_AUTH_RATE", 0.2),
			AuthBurst:   getenvInt("RATE_LIMIT_AUTH_BURST", 10),
			InviteRate:  getenvFloat("RATE_LIMIT_INVITE_RATE", 0.5),
			InviteBurst: getenvInt("RATE_LIMIT_INVITE_BURST", 20),
		},

		TenancyPolicyPath: strings.TrimSpace(getenv("TENANCY_POLICY_PATH", "")),
	}
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

// otlpProtocol lets the traces-specific variable override the shared one.
func otlpProtocol() string {
	protocol := getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))
	return strings.ToLower(strings.TrimSpace(protocol))
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
