package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/fjod/storefront/internal/storage"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	ServiceName string `envconfig:"SERVICE_NAME" default:"storefront"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	SeedCatalog bool   `envconfig:"SEED_CATALOG" default:"false"`

	// embedded: section variables are looked up by their full names
	HTTP
	DB
	Redis
	Kafka
	Auth
	Payment
	OTel
}

type HTTP struct {
	Port               string        `envconfig:"HTTP_PORT" default:"8080"`
	RequestTimeout     time.Duration `envconfig:"HTTP_REQUEST_TIMEOUT" default:"30s"`
	ShutdownTimeout    time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
	MaxRequestBodySize int64         `envconfig:"HTTP_MAX_BODY_BYTES" default:"1048576"`
}

type DB struct {
	Driver       string `envconfig:"DB_DRIVER" default:"sqlite"`
	Host         string `envconfig:"DB_HOST" default:"localhost"`
	Port         int    `envconfig:"DB_PORT" default:"5432"`
	User         string `envconfig:"DB_USER" default:"storefront"`
	Password     string `envconfig:"DB_PASSWORD"`
	Name         string `envconfig:"DB_NAME" default:"storefront"`
	SSLMode      string `envconfig:"DB_SSLMODE" default:"disable"`
	Path         string `envconfig:"DB_PATH" default:"storefront.db"`
	MaxOpenConns int    `envconfig:"DB_MAX_OPEN_CONNS" default:"100"`
	MaxIdleConns int    `envconfig:"DB_MAX_IDLE_CONNS" default:"10"`
}

// Redis is optional; an empty Addr disables the cart cache.
type Redis struct {
	Addr     string        `envconfig:"REDIS_ADDR"`
	Password string        `envconfig:"REDIS_PASSWORD"`
	DB       int           `envconfig:"REDIS_DB" default:"0"`
	CartTTL  time.Duration `envconfig:"REDIS_CART_TTL" default:"15m"`
}

// Kafka is optional; with no brokers events stay in the outbox and payment
// notifications arrive over HTTP only.
type Kafka struct {
	Brokers       []string      `envconfig:"KAFKA_BROKERS"`
	Topic         string        `envconfig:"KAFKA_TOPIC" default:"storefront.orders"`
	PollInterval  time.Duration `envconfig:"KAFKA_POLL_INTERVAL" default:"2s"`
	BatchSize     int           `envconfig:"KAFKA_BATCH_SIZE" default:"50"`
	PaymentsTopic string        `envconfig:"KAFKA_PAYMENTS_TOPIC" default:"payments.notifications"`
	GroupID       string        `envconfig:"KAFKA_GROUP_ID" default:"storefront"`
}

type Auth struct {
	JWTSecret string `envconfig:"AUTH_JWT_SECRET" required:"true"`
	Issuer    string `envconfig:"AUTH_JWT_ISSUER"`
}

type Payment struct {
	NotificationToken   string `envconfig:"PAYMENT_NOTIFICATION_TOKEN"`
	StripeWebhookSecret string `envconfig:"PAYMENT_STRIPE_WEBHOOK_SECRET"`
}

type OTel struct {
	Endpoint string `envconfig:"OTEL_ENDPOINT"`
	Insecure bool   `envconfig:"OTEL_INSECURE" default:"true"`
}

// Load reads the given dotenv files, when present, and then the process
// environment. Variables already set in the environment win over the files.
func Load(files ...string) (*Config, error) {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.DB.Driver {
	case storage.DriverPostgres, storage.DriverSQLite:
	default:
		return fmt.Errorf("%w: %q", storage.ErrUnknownDriver, c.DB.Driver)
	}
	if len(c.Auth.JWTSecret) < 16 {
		return errors.New("AUTH_JWT_SECRET must be at least 16 characters")
	}
	if c.HTTP.RequestTimeout <= 0 {
		return errors.New("HTTP_REQUEST_TIMEOUT must be positive")
	}
	if c.Kafka.BatchSize <= 0 {
		return errors.New("KAFKA_BATCH_SIZE must be positive")
	}
	return nil
}

func (c *Config) Credentials() storage.Credentials {
	return storage.Credentials{
		Driver:       c.DB.Driver,
		Host:         c.DB.Host,
		Port:         c.DB.Port,
		User:         c.DB.User,
		Password:     c.DB.Password,
		DBName:       c.DB.Name,
		SSLMode:      c.DB.SSLMode,
		Path:         c.DB.Path,
		MaxOpenConns: c.DB.MaxOpenConns,
		MaxIdleConns: c.DB.MaxIdleConns,
	}
}
