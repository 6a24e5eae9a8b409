package config

import (
	"fmt"
	"regexp"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/nguyentranbao-ct/chat-replica/pkg/util"
)

type Config struct {
	Server      ServerConfig      `envPrefix:"SERVER_"`
	Database    DatabaseConfig    `envPrefix:"DATABASE_"`
	Replication ReplicationConfig `envPrefix:"REPLICATION_"`
	Redis       RedisConfig       `envPrefix:"REDIS_"`
	Transport   TransportConfig   `envPrefix:"TRANSPORT_"`
	Kafka       KafkaConfig       `envPrefix:"KAFKA_"`
	Bot         BotConfig         `envPrefix:"BOT_"`
	EventBus    EventBusConfig    `envPrefix:"EVENT_BUS_"`
}

type ServerConfig struct {
	Addr              string `env:"ADDR" envDefault:":8080"`
	CORSOriginPattern string `env:"CORS_ORIGIN_PATTERN"`
	PprofEnabled      bool   `env:"PPROF_ENABLED" envDefault:"false"`
}

type DatabaseConfig struct {
	Driver   string `env:"DRIVER" envDefault:"memory"`
	URI      string `env:"URI" envDefault:"mongodb://localhost:27017"`
	Database string `env:"DATABASE" envDefault:"chat_replica"`
}

type ReplicationConfig struct {
	PushBatchSize  int           `env:"PUSH_BATCH_SIZE" envDefault:"5"`
	PullBatchSize  int           `env:"PULL_BATCH_SIZE" envDefault:"10"`
	RetryTime      time.Duration `env:"RETRY_TIME" envDefault:"5s"`
	PollInterval   time.Duration `env:"POLL_INTERVAL" envDefault:"30s"`
	DeletedField   string        `env:"DELETED_FIELD" envDefault:"isDeleted"`
	QueueCapacity  int           `env:"QUEUE_CAPACITY" envDefault:"1024"`
	ConflictPolicy string        `env:"CONFLICT_POLICY" envDefault:"older-wins"`
	Leader         string        `env:"LEADER" envDefault:"local"`
	LeaseTTL       time.Duration `env:"LEASE_TTL" envDefault:"45s"`
	InstanceID     string        `env:"INSTANCE_ID"`
}

type RedisConfig struct {
	URL string `env:"URL"`
}

// TransportConfig selects where pushed changes and checkpoints are sent.
type TransportConfig struct {
	Kind         string        `env:"KIND" envDefault:"log"`
	KafkaBrokers []string      `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string        `env:"KAFKA_TOPIC" envDefault:"replica-changes"`
	HTTPURL      string        `env:"HTTP_URL"`
	HTTPTimeout  time.Duration `env:"HTTP_TIMEOUT" envDefault:"10s"`
}

// KafkaConfig is the inbound canonical change feed.
type KafkaConfig struct {
	Enabled        bool          `env:"ENABLED" envDefault:"false"`
	Brokers        []string      `env:"BROKERS" envDefault:"localhost:9092" envSeparator:","`
	Topic          string        `env:"TOPIC" envDefault:"canonical-changes"`
	GroupID        string        `env:"GROUP_ID" envDefault:"chat-replica"`
	Workers        int           `env:"WORKERS" envDefault:"1"`
	ConsumeTimeout time.Duration `env:"CONSUME_TIMEOUT" envDefault:"30s"`
	RetryDelay     time.Duration `env:"RETRY_DELAY" envDefault:"5s"`
}

type BotConfig struct {
	Enabled        bool          `env:"ENABLED" envDefault:"true"`
	Provider       string        `env:"PROVIDER" envDefault:"openai"`
	CompletionURL  string        `env:"COMPLETION_URL" envDefault:"https://api.openai.com/v1/chat/completions"`
	APIKey         string        `env:"API_KEY"`
	Timeout        time.Duration `env:"TIMEOUT" envDefault:"60s"`
	Temperature    float64       `env:"TEMPERATURE" envDefault:"0.7"`
	HistoryLimit   int           `env:"HISTORY_LIMIT" envDefault:"10"`
	ExtensionID    string        `env:"EXTENSION_ID"`
	Workers        int           `env:"WORKERS" envDefault:"4"`
	GoogleAIAPIKey string        `env:"GOOGLE_AI_API_KEY"`
	GenkitModel    string        `env:"GENKIT_MODEL" envDefault:"googleai/gemini-2.5-flash"`
}

type EventBusConfig struct {
	Buffer int `env:"BUFFER" envDefault:"256"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}
	return cfg
}

func (c *Config) Validate() error {
	if c.Server.CORSOriginPattern != "" {
		if _, err := regexp.Compile(c.Server.CORSOriginPattern); err != nil {
			return fmt.Errorf("invalid SERVER_CORS_ORIGIN_PATTERN: %w", err)
		}
	}

	if !util.SliceIncludes([]string{"memory", "mongo"}, c.Database.Driver) {
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.Database.Driver)
	}

	switch c.Replication.Leader {
	case "local":
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("REDIS_URL is required when REPLICATION_LEADER=redis")
		}
		if c.Replication.LeaseTTL <= c.Replication.PollInterval {
			return fmt.Errorf("REPLICATION_LEASE_TTL (%s) must exceed REPLICATION_POLL_INTERVAL (%s)", c.Replication.LeaseTTL, c.Replication.PollInterval)
		}
	default:
		return fmt.Errorf("unsupported REPLICATION_LEADER %q", c.Replication.Leader)
	}

	switch c.Transport.Kind {
	case "log":
	case "kafka":
		if len(c.Transport.KafkaBrokers) == 0 {
			return fmt.Errorf("TRANSPORT_KAFKA_BROKERS is required when TRANSPORT_KIND=kafka")
		}
	case "http":
		if c.Transport.HTTPURL == "" {
			return fmt.Errorf("TRANSPORT_HTTP_URL is required when TRANSPORT_KIND=http")
		}
	default:
		return fmt.Errorf("unsupported TRANSPORT_KIND %q", c.Transport.Kind)
	}

	if !util.SliceIncludes([]string{"openai", "genkit"}, c.Bot.Provider) {
		return fmt.Errorf("unsupported BOT_PROVIDER %q", c.Bot.Provider)
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED=true")
	}
	return nil
}
