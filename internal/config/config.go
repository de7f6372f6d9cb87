package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Stripe    StripeConfig    `yaml:"stripe"`
	Payments  PaymentsConfig  `yaml:"payments"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// StripeConfig holds processor credentials and redirect targets. SecretKey
// and WebhookSecret normally come from the environment, not the yaml file.
type StripeConfig struct {
	SecretKey     string `yaml:"secret_key"`
	WebhookSecret string `yaml:"webhook_secret"`
	FrontendURL   string `yaml:"frontend_url"`
}

type PaymentsConfig struct {
	FeePercent int64 `yaml:"fee_percent"`
	MaxWorkers int   `yaml:"max_workers"`
	MinAmount  int64 `yaml:"min_amount"`
	MaxAmount  int64 `yaml:"max_amount"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

// Load reads yaml file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	// override secrets from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		cfg.Postgres.DSN = cfg.Postgres.DSN + " password=" + pw
	}
	if key := os.Getenv("STRIPE_SECRET_KEY"); key != "" {
		cfg.Stripe.SecretKey = key
	}
	if sec := os.Getenv("STRIPE_WEBHOOK_SECRET"); sec != "" {
		cfg.Stripe.WebhookSecret = sec
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Payments.FeePercent == 0 {
		cfg.Payments.FeePercent = 10
	}
	if cfg.Payments.MaxWorkers == 0 {
		cfg.Payments.MaxWorkers = 10
	}
	if cfg.Payments.MinAmount == 0 {
		cfg.Payments.MinAmount = 1
	}
	if cfg.Payments.MaxAmount == 0 {
		cfg.Payments.MaxAmount = 10000
	}
}
