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
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Recorder  RecorderConfig  `yaml:"recorder"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
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
}

// RabbitMQConfig holds the connection and topology for the dispatch kick bus
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   string           `yaml:"exchange"`
	Queue      string           `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// SchedulerConfig holds dispatcher and stall monitor settings
type SchedulerConfig struct {
	DispatchInterval   time.Duration `yaml:"dispatch_interval"`
	HeartbeatTolerance time.Duration `yaml:"heartbeat_tolerance"`
	MonitorInterval    time.Duration `yaml:"monitor_interval"`
	AssignedTimeout    time.Duration `yaml:"assigned_timeout"`
	RecordingTimeout   time.Duration `yaml:"recording_timeout"`
	UploadingTimeout   time.Duration `yaml:"uploading_timeout"`
}

// RecorderConfig holds the recorder agent settings
type RecorderConfig struct {
	WorkerID       string        `yaml:"worker_id"`
	CoordinatorURL string        `yaml:"coordinator_url"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Upload         UploadConfig  `yaml:"upload"`
}

// UploadConfig selects where finished captures go. Backend "s3" uploads to
// the configured bucket; "local" writes under Directory.
type UploadConfig struct {
	Backend   string `yaml:"backend"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Directory string `yaml:"directory"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// ValidateCoordinatorConfig checks the settings the coordinator service needs
func (c *Config) ValidateCoordinatorConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	if c.Scheduler.DispatchInterval <= 0 {
		return fmt.Errorf("scheduler dispatch_interval must be greater than 0")
	}

	if c.Scheduler.HeartbeatTolerance <= 0 {
		return fmt.Errorf("scheduler heartbeat_tolerance must be greater than 0")
	}

	if c.Scheduler.MonitorInterval <= 0 {
		return fmt.Errorf("scheduler monitor_interval must be greater than 0")
	}

	return nil
}

// ValidateRecorderConfig checks the settings the recorder agent needs
func (c *Config) ValidateRecorderConfig() error {
	if c.Recorder.WorkerID == "" {
		return fmt.Errorf("recorder worker_id is required")
	}

	if c.Recorder.CoordinatorURL == "" {
		return fmt.Errorf("recorder coordinator_url is required")
	}

	if c.Recorder.PollInterval <= 0 {
		return fmt.Errorf("recorder poll_interval must be greater than 0")
	}

	switch c.Recorder.Upload.Backend {
	case "s3":
		if c.Recorder.Upload.Bucket == "" {
			return fmt.Errorf("recorder upload bucket is required for the s3 backend")
		}
	case "local", "":
		if c.Recorder.Upload.Directory == "" {
			return fmt.Errorf("recorder upload directory is required for the local backend")
		}
	default:
		return fmt.Errorf("unknown recorder upload backend: %q", c.Recorder.Upload.Backend)
	}

	return nil
}
