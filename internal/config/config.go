package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                   string        `mapstructure:"PORT"`
	Env                    string        `mapstructure:"ENV"`
	DatabaseURL            string        `mapstructure:"DATABASE_URL"`
	DBMaxConns             int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns             int32         `mapstructure:"DB_MIN_CONNS"`
	DispatchLogDatabaseURL string        `mapstructure:"DISPATCH_LOG_DATABASE_URL"`
	AuthSigningKey         string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer             string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience           string        `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins            []string      `mapstructure:"CORS_ORIGINS"`
	AllocatorMaxRetries    int           `mapstructure:"ALLOCATOR_MAX_RETRIES"`
	WatcherInterval        time.Duration `mapstructure:"WATCHER_INTERVAL"`
	WatcherLookahead       time.Duration `mapstructure:"WATCHER_LOOKAHEAD"`
	WatcherTimezone        string        `mapstructure:"WATCHER_TIMEZONE"`
	WatcherMetricsAddr     string        `mapstructure:"WATCHER_METRICS_ADDR"`
	MetricsEnabled         bool          `mapstructure:"METRICS_ENABLED"`
	Version                string        `mapstructure:"VERSION"`
	PushTransport          string        `mapstructure:"PUSH_TRANSPORT"`
	FCMEndpoint            string        `mapstructure:"FCM_ENDPOINT"`
	FCMServerKey           string        `mapstructure:"FCM_SERVER_KEY"`
	KafkaBrokers           []string      `mapstructure:"KAFKA_BROKERS"`
	KafkaPushTopic         string        `mapstructure:"KAFKA_PUSH_TOPIC"`
	SQSPushQueue           string        `mapstructure:"SQS_PUSH_QUEUE"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"DISPATCH_LOG_DATABASE_URL", "AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"CORS_ORIGINS", "ALLOCATOR_MAX_RETRIES",
	"WATCHER_INTERVAL", "WATCHER_LOOKAHEAD", "WATCHER_TIMEZONE", "WATCHER_METRICS_ADDR",
	"METRICS_ENABLED", "VERSION",
	"PUSH_TRANSPORT", "FCM_ENDPOINT", "FCM_SERVER_KEY",
	"KAFKA_BROKERS", "KAFKA_PUSH_TOPIC", "SQS_PUSH_QUEUE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("ALLOCATOR_MAX_RETRIES", 3)
	v.SetDefault("WATCHER_INTERVAL", "60s")
	v.SetDefault("WATCHER_LOOKAHEAD", "10m")
	v.SetDefault("WATCHER_TIMEZONE", "UTC")
	v.SetDefault("PUSH_TRANSPORT", "log")
	v.SetDefault("FCM_ENDPOINT", "https://fcm.googleapis.com/fcm/send")
	v.SetDefault("KAFKA_PUSH_TOPIC", "icare.push")
	v.SetDefault("METRICS_ENABLED", true)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers, v.GetString("KAFKA_BROKERS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.DispatchLogDatabaseURL == "" {
		cfg.DispatchLogDatabaseURL = cfg.DatabaseURL
	}

	if cfg.IsDev() && cfg.AuthSigningKey == "" {
		log.Println("WARNING: ENV=development without AUTH_SIGNING_KEY: every request is treated as admin.")
	}

	return cfg, nil
}

// splitList turns a single comma separated env value into a slice when viper
// left the field as one element.
func splitList(current []string, raw string) []string {
	if len(current) > 1 {
		return current
	}
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location resolves WATCHER_TIMEZONE.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.WatcherTimezone)
	if err != nil {
		return nil, fmt.Errorf("WATCHER_TIMEZONE %q: %w", c.WatcherTimezone, err)
	}
	return loc, nil
}

// Validate checks that the configuration is safe to run. Outside development a
// signing key is mandatory, and the selected push transport must have its
// connection settings.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 characters, got %d", len(c.AuthSigningKey))
	}
	if c.AllocatorMaxRetries < 0 {
		return fmt.Errorf("ALLOCATOR_MAX_RETRIES must not be negative")
	}
	if c.WatcherInterval <= 0 {
		return fmt.Errorf("WATCHER_INTERVAL must be positive, got %s", c.WatcherInterval)
	}
	if c.WatcherLookahead <= 0 {
		return fmt.Errorf("WATCHER_LOOKAHEAD must be positive, got %s", c.WatcherLookahead)
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	switch c.PushTransport {
	case "log":
	case "fcm":
		if c.FCMServerKey == "" {
			return fmt.Errorf("FCM_SERVER_KEY is required when PUSH_TRANSPORT is \"fcm\"")
		}
	case "kafka":
		if len(c.KafkaBrokers) == 0 || c.KafkaPushTopic == "" {
			return fmt.Errorf("KAFKA_BROKERS and KAFKA_PUSH_TOPIC are required when PUSH_TRANSPORT is \"kafka\"")
		}
	case "sqs":
		if c.SQSPushQueue == "" {
			return fmt.Errorf("SQS_PUSH_QUEUE is required when PUSH_TRANSPORT is \"sqs\"")
		}
	default:
		return fmt.Errorf("PUSH_TRANSPORT must be \"log\", \"fcm\", \"kafka\" or \"sqs\", got %q", c.PushTransport)
	}

	return nil
}
