package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const devJWTSecret = "refundops-dev-secret"

type Config struct {
	DBSource    string `mapstructure:"db_source"`
	Port        string `mapstructure:"server_port"`
	Env         string `mapstructure:"environment"`
	StoreDriver string `mapstructure:"store_driver"`

	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`

	JWTSecret string `mapstructure:"jwt_secret"`
	JWTIssuer string `mapstructure:"jwt_issuer"`

	RefundMinAmount    string `mapstructure:"refund_min_amount"`
	RefundMaxAmount    string `mapstructure:"refund_max_amount"`
	RefundCodeRetries  int    `mapstructure:"refund_code_max_attempts"`
	RefundStrictReject bool   `mapstructure:"refund_strict_reject"`

	RedisURL        string   `mapstructure:"redis_url"`
	KafkaBrokers    []string `mapstructure:"kafka_brokers"`
	KafkaEmailTopic string   `mapstructure:"kafka_email_topic"`

	DispatchWorkers         int           `mapstructure:"dispatch_workers"`
	DispatchMaxAttempts     int           `mapstructure:"dispatch_max_attempts"`
	DispatchBackoff         time.Duration `mapstructure:"dispatch_backoff"`
	DispatchTimeout         time.Duration `mapstructure:"dispatch_timeout"`
	DispatchRedriveInterval time.Duration `mapstructure:"dispatch_redrive_interval"`
	DispatchMaxRedrives     int           `mapstructure:"dispatch_max_redrives"`
	StatsInterval           time.Duration `mapstructure:"stats_interval"`

	MinAmount decimal.Decimal `mapstructure:"-"`
	MaxAmount decimal.Decimal `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_source", "")
	v.SetDefault("server_port", "8080")
	v.SetDefault("environment", "development")
	v.SetDefault("store_driver", "postgres")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("jwt_issuer", "refundops")
	v.SetDefault("refund_min_amount", "50")
	v.SetDefault("refund_max_amount", "10000")
	v.SetDefault("refund_code_max_attempts", 5)
	v.SetDefault("refund_strict_reject", false)
	v.SetDefault("redis_url", "")
	v.SetDefault("kafka_brokers", []string{})
	v.SetDefault("kafka_email_topic", "refund.emails")
	v.SetDefault("dispatch_workers", 8)
	v.SetDefault("dispatch_max_attempts", 3)
	v.SetDefault("dispatch_backoff", "500ms")
	v.SetDefault("dispatch_timeout", "10s")
	v.SetDefault("dispatch_redrive_interval", "5m")
	v.SetDefault("dispatch_max_redrives", 5)
	v.SetDefault("stats_interval", "1m")
}

// Auth is the subset of Config needed to mint and verify tokens.
type Auth struct {
	Env       string `mapstructure:"environment"`
	JWTSecret string `mapstructure:"jwt_secret"`
	JWTIssuer string `mapstructure:"jwt_issuer"`
}

// Load reads config.yaml (optional) and the environment. Environment
// variables use the upper-cased key, e.g. DB_SOURCE or SERVER_PORT.
func Load() (*Config, error) {
	v, err := read()
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// LoadAuth reads the same sources as Load but only validates the token
// settings, so tooling can run without a database configured.
func LoadAuth() (*Auth, error) {
	v, err := read()
	if err != nil {
		return nil, err
	}
	return decodeAuth(v)
}

func read() (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/refundops")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return v, nil
}

func decodeAuth(v *viper.Viper) (*Auth, error) {
	var a Auth
	if err := v.Unmarshal(&a); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	secret, err := resolveSecret(a.JWTSecret, a.Env)
	if err != nil {
		return nil, err
	}
	a.JWTSecret = secret
	return &a, nil
}

func resolveSecret(secret, env string) (string, error) {
	if secret != "" {
		return secret, nil
	}
	if env != "development" {
		return "", fmt.Errorf("JWT_SECRET environment variable is required outside development")
	}
	return devJWTSecret, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	// KAFKA_BROKERS arrives as a single comma separated string.
	if len(cfg.KafkaBrokers) == 1 && strings.Contains(cfg.KafkaBrokers[0], ",") {
		cfg.KafkaBrokers = strings.Split(cfg.KafkaBrokers[0], ",")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case "postgres":
		if c.DBSource == "" {
			return fmt.Errorf("DB_SOURCE environment variable is required")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	var err error
	if c.JWTSecret, err = resolveSecret(c.JWTSecret, c.Env); err != nil {
		return err
	}
	if c.MinAmount, err = decimal.NewFromString(c.RefundMinAmount); err != nil {
		return fmt.Errorf("invalid REFUND_MIN_AMOUNT: %w", err)
	}
	if c.MaxAmount, err = decimal.NewFromString(c.RefundMaxAmount); err != nil {
		return fmt.Errorf("invalid REFUND_MAX_AMOUNT: %w", err)
	}
	if !c.MinAmount.IsPositive() || c.MaxAmount.LessThan(c.MinAmount) {
		return fmt.Errorf("refund amount bounds must satisfy 0 < min <= max")
	}
	if c.RefundCodeRetries <= 0 {
		return fmt.Errorf("REFUND_CODE_MAX_ATTEMPTS must be positive")
	}
	if c.DispatchWorkers <= 0 || c.DispatchMaxAttempts <= 0 {
		return fmt.Errorf("DISPATCH_WORKERS and DISPATCH_MAX_ATTEMPTS must be positive")
	}
	if c.DispatchMaxRedrives <= 0 {
		return fmt.Errorf("DISPATCH_MAX_REDRIVES must be positive")
	}
	return nil
}
