package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Device  DeviceConfig
	Prefs   RedisConfig
	Docs    DocsConfig
	DB      DBConfig
	Objects ObjectStoreConfig
	NATS    NATSConfig
	OpenAI  OpenAIConfig
	Auth    AuthConfig
	Limits  LimitsConfig
	Billing BillingConfig
	Log     LogConfig
}

// DeviceConfig identifies this installation. Preferences and local
// counters are scoped to it.
type DeviceConfig struct {
	InstallationID string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DocsConfig points at the remote document store.
type DocsConfig struct {
	Redis      RedisConfig
	TxAttempts int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32

	// MigrationsPath overrides the migrations embedded in the binary.
	MigrationsPath string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type ObjectStoreConfig struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	URLExpiry time.Duration
}

type NATSConfig struct {
	URL string
}

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type AuthConfig struct {
	TokenSecret string
	Issuer      string
	IDToken     string
}

// LimitsConfig holds the free-tier daily limits. The server tracker uses
// the four analysis limits; Messages is local only.
type LimitsConfig struct {
	Messages         int
	Exercises        int
	AdExercises      int
	Improvisations   int
	AdImprovisations int
}

type BillingConfig struct {
	RestoreTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Device: DeviceConfig{
			InstallationID: k.String("device.installation.id"),
		},
		Prefs: RedisConfig{
			Host:     k.String("prefs.redis.host"),
			Port:     k.Int("prefs.redis.port"),
			Password: k.String("prefs.redis.password"),
			DB:       k.Int("prefs.redis.db"),
		},
		Docs: DocsConfig{
			Redis: RedisConfig{
				Host:     k.String("docs.redis.host"),
				Port:     k.Int("docs.redis.port"),
				Password: k.String("docs.redis.password"),
				DB:       k.Int("docs.redis.db"),
			},
			TxAttempts: k.Int("docs.tx.attempts"),
		},
		DB: DBConfig{
			Host:           k.String("db.host"),
			Port:           k.Int("db.port"),
			User:           k.String("db.user"),
			Password:       k.String("db.password"),
			Name:           k.String("db.name"),
			SSLMode:        k.String("db.sslmode"),
			MaxConns:       int32(k.Int("db.max.conns")),
			MigrationsPath: k.String("db.migrations.path"),
		},
		Objects: ObjectStoreConfig{
			Bucket:    k.String("objects.bucket"),
			Region:    k.String("objects.region"),
			Endpoint:  k.String("objects.endpoint"),
			AccessKey: k.String("objects.access.key"),
			SecretKey: k.String("objects.secret.key"),
		},
		NATS: NATSConfig{
			URL: k.String("nats.url"),
		},
		OpenAI: OpenAIConfig{
			APIKey:  k.String("openai.api.key"),
			Model:   k.String("openai.model"),
			BaseURL: k.String("openai.base.url"),
		},
		Auth: AuthConfig{
			TokenSecret: k.String("auth.token.secret"),
			Issuer:      k.String("auth.issuer"),
			IDToken:     k.String("auth.id.token"),
		},
		Limits: LimitsConfig{
			Messages:         k.Int("limits.messages"),
			Exercises:        k.Int("limits.exercises"),
			AdExercises:      k.Int("limits.ad.exercises"),
			Improvisations:   k.Int("limits.improvisations"),
			AdImprovisations: k.Int("limits.ad.improvisations"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	applyDefaults(cfg)

	// Parse durations
	urlExpiryStr := k.String("objects.url.expiry")
	if urlExpiryStr == "" {
		urlExpiryStr = "168h"
	}
	cfg.Objects.URLExpiry, err = time.ParseDuration(urlExpiryStr)
	if err != nil {
		return nil, fmt.Errorf("parsing objects url expiry: %w", err)
	}

	restoreStr := k.String("billing.restore.timeout")
	if restoreStr == "" {
		restoreStr = "3s"
	}
	cfg.Billing.RestoreTimeout, err = time.ParseDuration(restoreStr)
	if err != nil {
		return nil, fmt.Errorf("parsing billing restore timeout: %w", err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Prefs.Host == "" {
		cfg.Prefs.Host = "localhost"
	}
	if cfg.Prefs.Port == 0 {
		cfg.Prefs.Port = 6379
	}
	if cfg.Docs.Redis.Host == "" {
		cfg.Docs.Redis.Host = "localhost"
	}
	if cfg.Docs.Redis.Port == 0 {
		cfg.Docs.Redis.Port = 6380
	}
	if cfg.Docs.TxAttempts == 0 {
		cfg.Docs.TxAttempts = 5
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "coach"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "coach"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 4
	}
	if cfg.Objects.Region == "" {
		cfg.Objects.Region = "us-east-1"
	}
	if cfg.OpenAI.Model == "" {
		cfg.OpenAI.Model = "gpt-4o-mini"
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "voicecoach"
	}
	if cfg.Limits.Messages == 0 {
		cfg.Limits.Messages = 10
	}
	if cfg.Limits.Exercises == 0 {
		cfg.Limits.Exercises = 3
	}
	if cfg.Limits.AdExercises == 0 {
		cfg.Limits.AdExercises = 3
	}
	if cfg.Limits.Improvisations == 0 {
		cfg.Limits.Improvisations = 1
	}
	if cfg.Limits.AdImprovisations == 0 {
		cfg.Limits.AdImprovisations = 2
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
