package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// MaxSQSBatch is the largest batch a single SQS receive can return
	MaxSQSBatch = 10
	// MaxSQSWait is the longest SQS long-poll wait
	MaxSQSWait = 20 * time.Second
)

// Backend drivers
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	DriverRabbitMQ = "rabbitmq"
	DriverSQS      = "sqs"
	DriverS3       = "s3"
)

// Config represents the complete application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Store       StoreConfig       `yaml:"store"`
	Database    DatabaseConfig    `yaml:"database"`
	Transport   TransportConfig   `yaml:"transport"`
	RabbitMQ    RabbitMQConfig    `yaml:"rabbitmq"`
	AWS         AWSConfig         `yaml:"aws"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	Logging     LoggingConfig     `yaml:"logging"`
	App         AppConfig         `yaml:"app"`
	Producer    ProducerConfig    `yaml:"producer"`
	Worker      WorkerConfig      `yaml:"worker"`
	Reconciler  ReconcilerConfig  `yaml:"reconciler"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig selects the job record store
type StoreConfig struct {
	Driver string `yaml:"driver"`
	// Migrate applies the schema on startup
	Migrate bool `yaml:"migrate"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// TransportConfig selects the queue transport and its delivery semantics
type TransportConfig struct {
	Driver            string        `yaml:"driver"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	MaxReceiveCount   int           `yaml:"max_receive_count"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	DeadLetter DeadLetterConfig `yaml:"dead_letter"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// DeadLetterConfig names the dead-letter exchange and queue
type DeadLetterConfig struct {
	Exchange string `yaml:"exchange"`
	Queue    string `yaml:"queue"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// AWSConfig holds AWS SDK settings shared by SQS and S3
type AWSConfig struct {
	Region      string    `yaml:"region"`
	Profile     string    `yaml:"profile"`
	MaxAttempts int       `yaml:"max_attempts"`
	SQS         SQSConfig `yaml:"sqs"`
	S3          S3Config  `yaml:"s3"`
}

// SQSConfig identifies the main and dead-letter queues
type SQSConfig struct {
	Endpoint     string `yaml:"endpoint"`
	QueueName    string `yaml:"queue_name"`
	QueueURL     string `yaml:"queue_url"`
	DLQName      string `yaml:"dlq_name"`
	DLQURL       string `yaml:"dlq_url"`
	CreateQueues bool   `yaml:"create_queues"`
}

// S3Config identifies the export bucket
type S3Config struct {
	Endpoint     string `yaml:"endpoint"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// ObjectStoreConfig selects where export artifacts are written
type ObjectStoreConfig struct {
	Driver string `yaml:"driver"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ProducerConfig holds enqueue retry settings
type ProducerConfig struct {
	EnqueueAttempts int           `yaml:"enqueue_attempts"`
	RetryInitial    time.Duration `yaml:"retry_initial"`
	RetryMax        time.Duration `yaml:"retry_max"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	MaxMessages     int           `yaml:"max_messages"`
	WaitTime        time.Duration `yaml:"wait_time"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Backoff         BackoffConfig `yaml:"backoff"`
}

// BackoffConfig configures the delay after a receive fault
type BackoffConfig struct {
	Strategy string        `yaml:"strategy"`
	Initial  time.Duration `yaml:"initial"`
	Max      time.Duration `yaml:"max"`
}

// ReconcilerConfig holds the stale PENDING sweep settings
type ReconcilerConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	Threshold     time.Duration `yaml:"threshold"`
	BatchSize     int           `yaml:"batch_size"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	// MaxRequeues caps how often one record is re-enqueued
	MaxRequeues int `yaml:"max_requeues"`
}

// Load reads and parses the configuration file. Secrets from the environment
// override the file.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.setDefaults()
	config.applyEnv()

	return &config, nil
}

func (c *Config) setDefaults() {
	if c.Store.Driver == "" {
		c.Store.Driver = DriverPostgres
	}
	if c.Transport.Driver == "" {
		c.Transport.Driver = DriverRabbitMQ
	}
	if c.ObjectStore.Driver == "" {
		c.ObjectStore.Driver = DriverS3
	}
	if c.Transport.VisibilityTimeout <= 0 {
		c.Transport.VisibilityTimeout = 30 * time.Second
	}
	if c.Transport.MaxReceiveCount <= 0 {
		c.Transport.MaxReceiveCount = 5
	}
	if c.Reconciler.MaxRequeues == 0 {
		c.Reconciler.MaxRequeues = 3
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("RABBITMQ_PASSWORD"); v != "" {
		c.RabbitMQ.Password = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" && c.AWS.Region == "" {
		c.AWS.Region = v
	}
}

func validPort(port int) bool {
	return port >= MinPort && port <= MaxPort
}

// ValidateAPIConfig checks the settings the API service needs
func (c *Config) ValidateAPIConfig() error {
	if !validPort(c.Server.Port) {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateStore(); err != nil {
		return err
	}

	return c.validateTransport()
}

// ValidateWorkerConfig checks the settings the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.MaxMessages <= 0 {
		return fmt.Errorf("worker max_messages must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Worker.WaitTime < 0 {
		return fmt.Errorf("worker wait_time must not be negative")
	}

	if c.Transport.Driver == DriverSQS {
		if c.Worker.MaxMessages > MaxSQSBatch {
			return fmt.Errorf("worker max_messages must be at most %d for sqs", MaxSQSBatch)
		}
		if c.Worker.WaitTime > MaxSQSWait {
			return fmt.Errorf("worker wait_time must be at most %s for sqs", MaxSQSWait)
		}
	}

	if c.Reconciler.Enabled {
		if c.Reconciler.Interval <= 0 {
			return fmt.Errorf("reconciler interval must be greater than 0")
		}
		if c.Reconciler.Threshold <= c.Transport.VisibilityTimeout {
			return fmt.Errorf("reconciler threshold must exceed the transport visibility_timeout")
		}
		if c.Reconciler.MaxRequeues < 1 {
			return fmt.Errorf("reconciler max_requeues must be greater than 0")
		}
	}

	if err := c.validateStore(); err != nil {
		return err
	}

	if err := c.validateTransport(); err != nil {
		return err
	}

	return c.validateObjectStore()
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case DriverMemory:
		return nil
	case DriverPostgres:
	default:
		return fmt.Errorf("unknown store driver: %q", c.Store.Driver)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if !validPort(c.Database.Port) {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

func (c *Config) validateTransport() error {
	switch c.Transport.Driver {
	case DriverMemory:
		return nil
	case DriverSQS:
		return c.validateSQS()
	case DriverRabbitMQ:
		return c.validateRabbitMQ()
	default:
		return fmt.Errorf("unknown transport driver: %q", c.Transport.Driver)
	}
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if !validPort(c.RabbitMQ.Port) {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	if (c.RabbitMQ.DeadLetter.Exchange == "") != (c.RabbitMQ.DeadLetter.Queue == "") {
		return fmt.Errorf("rabbitmq dead_letter exchange and queue must be set together")
	}

	return nil
}

func (c *Config) validateSQS() error {
	sqs := c.AWS.SQS
	if sqs.QueueURL == "" && sqs.QueueName == "" {
		return fmt.Errorf("sqs queue_url or queue_name is required")
	}

	if sqs.CreateQueues && (sqs.QueueName == "" || sqs.DLQName == "") {
		return fmt.Errorf("sqs queue_name and dlq_name are required when create_queues is set")
	}

	return nil
}

func (c *Config) validateObjectStore() error {
	switch c.ObjectStore.Driver {
	case DriverMemory:
		return nil
	case DriverS3:
		if c.AWS.S3.Bucket == "" {
			return fmt.Errorf("s3 bucket is required")
		}
		return nil
	default:
		return fmt.Errorf("unknown object store driver: %q", c.ObjectStore.Driver)
	}
}
