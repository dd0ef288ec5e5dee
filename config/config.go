package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all configuration fields for the application.
type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	DBDriver    string // "sqlite" or "postgres"
	DatabaseURL string

	MetaAppSecret      string
	MetaVerifyToken    string
	MetaGraphVersion   string
	FacebookGraphHost  string
	InstagramGraphHost string

	GatewayWebhookSecret string
	GatewayDefaultHost   string // instance ids starting with "71"
	GatewayAltHost       string // instance ids starting with "77"

	EchoWindow       time.Duration
	DebounceMin      time.Duration
	DebounceMax      time.Duration
	HistoryLimit     int
	MinMessageLength int
	ReplyTimeout     time.Duration
	OutboundRate     float64
	ChannelCacheTTL  time.Duration

	EmailAPIURL  string
	EmailAPIKey  string
	EmailFrom    string
	DashboardURL string

	RabbitMQURL         string
	RabbitMQQueuePrefix string

	S3 S3Config

	UsageResetCron string
}

// S3Config configures the raw webhook archive. An empty bucket disables it.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	PathStyle bool
}

// Enabled reports whether enough settings are present to archive payloads.
func (c S3Config) Enabled() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

// LoadConfig loads configuration from environment variables.
// It attempts to load a .env file if present.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded, relying on environment variables")
	}
	return Load(os.LookupEnv)
}

// Load builds a Config from the given lookup function and validates it.
func Load(lookup func(string) (string, bool)) (*Config, error) {
	r := reader{lookup: lookup}

	cfg := &Config{
		Port:      r.str("PORT", "8080"),
		LogLevel:  r.str("LOG_LEVEL", "info"),
		LogFormat: r.str("LOG_FORMAT", "console"),

		DBDriver:    strings.ToLower(r.str("DB_DRIVER", "sqlite")),
		DatabaseURL: r.str("DATABASE_URL", "file:agent.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_time_format=sqlite"),

		MetaAppSecret:      r.str("META_APP_SECRET", ""),
		MetaVerifyToken:    r.str("META_VERIFY_TOKEN", ""),
		MetaGraphVersion:   r.str("META_GRAPH_VERSION", "v19.0"),
		FacebookGraphHost:  r.str("FACEBOOK_GRAPH_HOST", "https://graph.facebook.com"),
		InstagramGraphHost: r.str("INSTAGRAM_GRAPH_HOST", "https://graph.instagram.com"),

		GatewayWebhookSecret: r.str("GATEWAY_WEBHOOK_SECRET", ""),
		GatewayDefaultHost:   r.str("GATEWAY_DEFAULT_HOST", "https://api.green-api.com"),
		GatewayAltHost:       r.str("GATEWAY_ALT_HOST", "https://7700.api.greenapi.com"),

		EchoWindow:       r.duration("ECHO_WINDOW", 60*time.Second),
		DebounceMin:      r.duration("DEBOUNCE_MIN", 7*time.Second),
		DebounceMax:      r.duration("DEBOUNCE_MAX", 20*time.Second),
		HistoryLimit:     r.int("HISTORY_LIMIT", 20),
		MinMessageLength: r.int("MIN_MESSAGE_LENGTH", 2),
		ReplyTimeout:     r.duration("REPLY_TIMEOUT", 2*time.Minute),
		OutboundRate:     r.float("OUTBOUND_RATE", 20),
		ChannelCacheTTL:  r.duration("CHANNEL_CACHE_TTL", 30*time.Second),

		EmailAPIURL:  r.str("EMAIL_API_URL", ""),
		EmailAPIKey:  r.str("EMAIL_API_KEY", ""),
		EmailFrom:    r.str("EMAIL_FROM", "notificaciones@localhost"),
		DashboardURL: strings.TrimRight(r.str("DASHBOARD_URL", ""), "/"),

		RabbitMQURL:         r.str("RABBITMQ_URL", ""),
		RabbitMQQueuePrefix: r.str("RABBITMQ_QUEUE_PREFIX", "agent"),

		S3: S3Config{
			Bucket:    r.str("S3_BUCKET", ""),
			Region:    r.str("S3_REGION", "us-east-1"),
			Endpoint:  r.str("S3_ENDPOINT", ""),
			AccessKey: r.str("S3_ACCESS_KEY", ""),
			SecretKey: r.str("S3_SECRET_KEY", ""),
			PathStyle: r.bool("S3_PATH_STYLE", false),
		},

		UsageResetCron: r.str("USAGE_RESET_CRON", "0 0 1 * *"),
	}

	if err := errors.Join(r.errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL cannot be empty"))
	}
	if c.EchoWindow <= 0 {
		errs = append(errs, errors.New("ECHO_WINDOW must be positive"))
	}
	if c.DebounceMin < 0 || c.DebounceMax < c.DebounceMin {
		errs = append(errs, fmt.Errorf("invalid debounce range %s..%s", c.DebounceMin, c.DebounceMax))
	}
	if c.HistoryLimit <= 0 {
		errs = append(errs, errors.New("HISTORY_LIMIT must be positive"))
	}
	if c.ReplyTimeout <= c.DebounceMax {
		errs = append(errs, fmt.Errorf("REPLY_TIMEOUT (%s) must exceed DEBOUNCE_MAX (%s)", c.ReplyTimeout, c.DebounceMax))
	}
	if c.OutboundRate <= 0 {
		errs = append(errs, errors.New("OUTBOUND_RATE must be positive"))
	}
	if c.UsageResetCron != "" && !gronx.IsValid(c.UsageResetCron) {
		errs = append(errs, fmt.Errorf("invalid USAGE_RESET_CRON %q", c.UsageResetCron))
	}
	return errors.Join(errs...)
}

type reader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *reader) str(key, def string) string {
	if v, ok := r.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (r *reader) int(key string, def int) int {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (r *reader) float(key string, def float64) float64 {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func (r *reader) bool(key string, def bool) bool {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}
