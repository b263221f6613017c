package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	EnvironmentProduction  = "production"
	EnvironmentDevelopment = "development"
)

type HTTPConfig struct {
	Addr            string        `koanf:"addr" mapstructure:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	// OperatorRoutes mounts the dispatch lookup route. Keep it off unless
	// the listener is private.
	OperatorRoutes bool `koanf:"operator_routes" mapstructure:"operator_routes"`
}

type EmailConfig struct {
	Host      string        `koanf:"host" mapstructure:"host"`
	Port      int           `koanf:"port" mapstructure:"port"`
	Secure    bool          `koanf:"secure" mapstructure:"secure"`
	Username  string        `koanf:"username" mapstructure:"username"`
	Password  string        `koanf:"password" mapstructure:"password"`
	From      string        `koanf:"from" mapstructure:"from"`
	Recipient string        `koanf:"recipient" mapstructure:"recipient"`
	Timeout   time.Duration `koanf:"timeout" mapstructure:"timeout"`
}

// Configured reports whether the SMTP transport has enough settings to send.
func (c EmailConfig) Configured() bool {
	return strings.TrimSpace(c.Host) != "" &&
		strings.TrimSpace(c.Username) != "" &&
		strings.TrimSpace(c.Password) != ""
}

type WebhookConfig struct {
	URL     string        `koanf:"url" mapstructure:"url"`
	Timeout time.Duration `koanf:"timeout" mapstructure:"timeout"`
	// Secret enables HMAC request signing when set.
	Secret string `koanf:"secret" mapstructure:"secret"`
}

type DispatchConfig struct {
	Workers            int           `koanf:"workers" mapstructure:"workers"`
	QueueCapacity      int           `koanf:"queue_capacity" mapstructure:"queue_capacity"`
	ChannelConcurrency int           `koanf:"channel_concurrency" mapstructure:"channel_concurrency"`
	PollInterval       time.Duration `koanf:"poll_interval" mapstructure:"poll_interval"`
	HandoffGrace       time.Duration `koanf:"handoff_grace" mapstructure:"handoff_grace"`
	BatchSize          int           `koanf:"batch_size" mapstructure:"batch_size"`
	MaxAttempts        int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff     time.Duration `koanf:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff         time.Duration `koanf:"max_backoff" mapstructure:"max_backoff"`
	ClaimLease         time.Duration `koanf:"claim_lease" mapstructure:"claim_lease"`
	SinkTimeout        time.Duration `koanf:"sink_timeout" mapstructure:"sink_timeout"`
}

type DatabaseConfig struct {
	Driver string `koanf:"driver" mapstructure:"driver"`
	DSN    string `koanf:"dsn" mapstructure:"dsn"`
	Debug  bool   `koanf:"debug" mapstructure:"debug"`
}

type KafkaConfig struct {
	Brokers []string `koanf:"brokers" mapstructure:"brokers"`
	Topic   string   `koanf:"topic" mapstructure:"topic"`
}

type RabbitMQConfig struct {
	URL        string `koanf:"url" mapstructure:"url"`
	Exchange   string `koanf:"exchange" mapstructure:"exchange"`
	RoutingKey string `koanf:"routing_key" mapstructure:"routing_key"`
}

type MetricsConfig struct {
	Disabled bool `koanf:"disabled" mapstructure:"disabled"`
}

type Config struct {
	ServiceName string         `koanf:"service_name" mapstructure:"service_name"`
	Environment string         `koanf:"environment" mapstructure:"environment"`
	HTTP        HTTPConfig     `koanf:"http" mapstructure:"http"`
	Email       EmailConfig    `koanf:"email" mapstructure:"email"`
	Webhook     WebhookConfig  `koanf:"webhook" mapstructure:"webhook"`
	Dispatch    DispatchConfig `koanf:"dispatch" mapstructure:"dispatch"`
	Database    DatabaseConfig `koanf:"database" mapstructure:"database"`
	Kafka       KafkaConfig    `koanf:"kafka" mapstructure:"kafka"`
	RabbitMQ    RabbitMQConfig `koanf:"rabbitmq" mapstructure:"rabbitmq"`
	Metrics     MetricsConfig  `koanf:"metrics" mapstructure:"metrics"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "formrelay",
		Environment: EnvironmentDevelopment,
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Email: EmailConfig{
			Port:    587,
			Timeout: 10 * time.Second,
		},
		Webhook: WebhookConfig{
			Timeout: 10 * time.Second,
		},
		Dispatch: DispatchConfig{
			Workers:            4,
			QueueCapacity:      256,
			ChannelConcurrency: 8,
			PollInterval:       15 * time.Second,
			HandoffGrace:       30 * time.Second,
			BatchSize:          50,
			MaxAttempts:        5,
			InitialBackoff:     2 * time.Second,
			MaxBackoff:         5 * time.Minute,
			ClaimLease:         2 * time.Minute,
			SinkTimeout:        5 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "memory",
		},
		RabbitMQ: RabbitMQConfig{
			Exchange:   "formrelay.events",
			RoutingKey: OutcomeEventType,
		},
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), EnvironmentProduction)
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Email.Port < 0 || c.Email.Port > 65535 {
		return fmt.Errorf("core: email.port %d is invalid", c.Email.Port)
	}
	if c.Email.Timeout < 0 || c.Webhook.Timeout < 0 || c.Dispatch.SinkTimeout < 0 {
		return fmt.Errorf("core: channel and sink timeouts must not be negative")
	}
	if c.Dispatch.Workers < 0 || c.Dispatch.QueueCapacity < 0 || c.Dispatch.ChannelConcurrency < 0 {
		return fmt.Errorf("core: dispatch limits must not be negative")
	}
	if c.Dispatch.MaxAttempts < 0 || c.Dispatch.BatchSize < 0 {
		return fmt.Errorf("core: dispatch batch_size and max_attempts must not be negative")
	}
	if c.Dispatch.MaxBackoff > 0 && c.Dispatch.InitialBackoff > c.Dispatch.MaxBackoff {
		return fmt.Errorf("core: dispatch.initial_backoff must not exceed dispatch.max_backoff")
	}
	switch strings.ToLower(strings.TrimSpace(c.Database.Driver)) {
	case "", "memory":
	case "sqlite", "sqlite3", "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("core: database.dsn is required for driver %q", c.Database.Driver)
		}
	default:
		return fmt.Errorf("core: database.driver %q is invalid", c.Database.Driver)
	}
	if len(c.Kafka.Brokers) > 0 && strings.TrimSpace(c.Kafka.Topic) == "" {
		return fmt.Errorf("core: kafka.topic is required when brokers are set")
	}
	if strings.TrimSpace(c.RabbitMQ.URL) != "" && strings.TrimSpace(c.RabbitMQ.Exchange) == "" {
		return fmt.Errorf("core: rabbitmq.exchange is required when url is set")
	}
	return nil
}
