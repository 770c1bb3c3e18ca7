package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Poller    PollerConfig    `yaml:"poller"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
	// MigrationsURL is the golang-migrate source, e.g. file://migrations.
	MigrationsURL string `yaml:"migrations_url"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers           []string `yaml:"brokers"`
	StockTopic        string   `yaml:"stock_topic"`
	NotificationTopic string   `yaml:"notification_topic"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

type GatewayConfig struct {
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
	Provider string        `yaml:"provider"`
}

type WebhookConfig struct {
	// Secret enables X-Webhook-Signature checks when set.
	Secret            string `yaml:"secret"`
	VerifyWithGateway bool   `yaml:"verify_with_gateway"`
}

type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

type PollerConfig struct {
	Interval       time.Duration `yaml:"interval"`
	BatchSize      int           `yaml:"batch_size"`
	ReconcileAfter time.Duration `yaml:"reconcile_after"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// Encoding is "json" or "console".
	Encoding string `yaml:"encoding"`
	// Sampling drops repeats of one message beyond 100 per second.
	Sampling bool `yaml:"sampling"`
}

// Load reads yaml file, fills defaults and applies env overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.setDefaults()
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Postgres.MigrationsURL == "" {
		c.Postgres.MigrationsURL = "file://migrations"
	}
	if c.Kafka.StockTopic == "" {
		c.Kafka.StockTopic = "stock-events"
	}
	if c.Kafka.NotificationTopic == "" {
		c.Kafka.NotificationTopic = "notification-events"
	}
	if c.RateLimit.RPS == 0 {
		c.RateLimit.RPS = 50
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 100
	}
	if c.Gateway.Timeout == 0 {
		c.Gateway.Timeout = 5 * time.Second
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "order-service"
	}
	if c.Poller.Interval == 0 {
		c.Poller.Interval = time.Second
	}
	if c.Poller.BatchSize == 0 {
		c.Poller.BatchSize = 100
	}
	if c.Poller.ReconcileAfter == 0 {
		c.Poller.ReconcileAfter = 10 * time.Minute
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Encoding == "" {
		c.Log.Encoding = "json"
	}
}

func (c *Config) applyEnv() {
	// override DSN password from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		c.Postgres.DSN = c.Postgres.DSN + " password=" + pw
	}
	if key := os.Getenv("GATEWAY_API_KEY"); key != "" {
		c.Gateway.APIKey = key
	}
	if s := os.Getenv("WEBHOOK_SECRET"); s != "" {
		c.Webhook.Secret = s
	}
	if b := os.Getenv("KAFKA_BROKERS"); b != "" {
		c.Kafka.Brokers = strings.Split(b, ",")
	}
	if l := os.Getenv("LOG_LEVEL"); l != "" {
		c.Log.Level = l
	}
}

func (c *Config) validate() error {
	if c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required")
	}
	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway.base_url is required")
	}
	return nil
}
