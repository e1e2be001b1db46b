package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	RabbitMQ RabbitMQConfig
	Delivery DeliveryConfig
}

type ServerConfig struct {
	Port string
	Host string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RabbitMQConfig struct {
	URL         string
	Host        string
	Port        string
	User        string
	Password    string
	VHost       string
	SourceQueue string
}

// DeliveryConfig tunes the outbound delivery pipeline. Every field has a
// working default and can be overridden via environment variables.
type DeliveryConfig struct {
	// Defaults applied to webhooks created without explicit values.
	DefaultTimeout    time.Duration
	DefaultMaxRetries int
	DefaultBaseDelay  time.Duration

	WorkerCount      int
	QueueCapacity    int
	SweepInterval    time.Duration
	SweepBatchSize   int
	MaxResponseBytes int
	UserAgent        string
}

func Load() (*Config, error) {
	var missing []string

	get := func(key string) string {
		val := os.Getenv(key)
		if val == "" {
			missing = append(missing, key)
		}
		return val
	}

	config := &Config{
		Server: ServerConfig{
			Port: get("SERVER_PORT"),
			Host: get("SERVER_HOST"),
		},
		Database: DatabaseConfig{
			Host:     get("DB_HOST"),
			Port:     get("DB_PORT"),
			User:     get("DB_USER"),
			Password: get("DB_PASSWORD"),
			DBName:   get("DB_NAME"),
			SSLMode:  get("DB_SSLMODE"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:         os.Getenv("RABBITMQ_URL"),
			Host:        get("RABBITMQ_HOST"),
			Port:        get("RABBITMQ_PORT"),
			User:        get("RABBITMQ_USER"),
			Password:    get("RABBITMQ_PASSWORD"),
			VHost:       get("RABBITMQ_VHOST"),
			SourceQueue: get("RABBITMQ_SOURCE_QUEUE"),
		},
		Delivery: DeliveryConfig{
			DefaultTimeout:    getDuration("DELIVERY_DEFAULT_TIMEOUT", 30*time.Second),
			DefaultMaxRetries: getInt("DELIVERY_DEFAULT_MAX_RETRIES", 3),
			DefaultBaseDelay:  getDuration("DELIVERY_DEFAULT_BASE_DELAY", time.Second),
			WorkerCount:       getInt("DELIVERY_WORKER_COUNT", 8),
			QueueCapacity:     getInt("DELIVERY_QUEUE_CAPACITY", 256),
			SweepInterval:     getDuration("DELIVERY_SWEEP_INTERVAL", 30*time.Second),
			SweepBatchSize:    getInt("DELIVERY_SWEEP_BATCH_SIZE", 100),
			MaxResponseBytes:  getInt("DELIVERY_MAX_RESPONSE_BYTES", 4096),
			UserAgent:         getOr("DELIVERY_USER_AGENT", "bpmflow-webhooks/1.0"),
		},
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return config, nil
}

func getOr(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ConnectionString returns a DSN string for GORM
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		c.Host, c.User, c.Password, c.DBName, c.Port, c.SSLMode)
}

// MigrateURL returns a postgres:// URL for golang-migrate
func (c *DatabaseConfig) MigrateURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

func (c *RabbitMQConfig) ConnectionURL() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%s%s",
		c.User, c.Password, c.Host, c.Port, c.VHost)
}
