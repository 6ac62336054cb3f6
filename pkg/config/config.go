package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App             AppConfig
	Server          ServerConfig
	BookingDatabase DatabaseConfig
	Redis           RedisConfig
	Kafka           KafkaConfig
	JWT             JWTConfig
	OTel            OTelConfig
	Services        ServicesConfig
	SeatLock        SeatLockConfig
	Breaker         BreakerConfig
	Reconcile       ReconcileConfig
	Consumer        ConsumerConfig
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string
	Environment string // development, staging, production
	Debug       bool
	Version     string
	LogLevel    string
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Addr returns host:port for the HTTP listener
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig holds Kafka/Redpanda connection settings
type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
	ClientID      string
}

// JWTConfig holds bearer token verification settings
type JWTConfig struct {
	Secret string
	Issuer string
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled       bool
	ServiceName   string
	CollectorAddr string
	SampleRatio   float64
}

// ServicesConfig holds base URLs of the synchronous collaborators
type ServicesConfig struct {
	PricingURL     string
	PromotionURL   string
	FnbURL         string
	ShowtimeURL    string
	MovieURL       string
	UserProfileURL string
	Timeout        time.Duration
}

// SeatLockConfig holds seat lock settings
type SeatLockConfig struct {
	TTL time.Duration
}

// BreakerConfig holds circuit breaker settings shared by all gateways
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// ReconcileConfig holds reconciliation sweep settings
type ReconcileConfig struct {
	Interval      time.Duration
	PendingMaxAge time.Duration
	BatchSize     int
}

// ConsumerConfig holds event consumer settings
type ConsumerConfig struct {
	WorkerCount   int
	MaxRetries    int
	RetryInterval time.Duration
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")

	// A missing .env is fine, env vars may carry everything
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !strings.Contains(err.Error(), "no such file") {
			return nil, fmt.Errorf("failed to read .env: %w", err)
		}
	}

	return load(v)
}

// LoadWithPath loads configuration from a specific env file
func LoadWithPath(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := &Config{}
	bindConfig(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("APP_NAME", "cinehub-booking")
	v.SetDefault("APP_ENVIRONMENT", "development")
	v.SetDefault("APP_DEBUG", true)
	v.SetDefault("APP_VERSION", "1.0.0")
	v.SetDefault("APP_LOG_LEVEL", "info")

	// Server defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8083)
	v.SetDefault("SERVER_READ_TIMEOUT", "15s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "15s")
	v.SetDefault("SERVER_IDLE_TIMEOUT", "60s")

	// Booking database
	v.SetDefault("BOOKING_DATABASE_HOST", "localhost")
	v.SetDefault("BOOKING_DATABASE_PORT", 5432)
	v.SetDefault("BOOKING_DATABASE_USER", "postgres")
	v.SetDefault("BOOKING_DATABASE_PASSWORD", "postgres")
	v.SetDefault("BOOKING_DATABASE_DBNAME", "booking_db")
	v.SetDefault("BOOKING_DATABASE_SSLMODE", "disable")
	v.SetDefault("BOOKING_DATABASE_MAX_OPEN_CONNS", 50)
	v.SetDefault("BOOKING_DATABASE_MAX_IDLE_CONNS", 5)
	v.SetDefault("BOOKING_DATABASE_CONN_MAX_LIFETIME", "1h")
	v.SetDefault("BOOKING_DATABASE_CONN_MAX_IDLE_TIME", "30m")

	// Redis defaults
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 100)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 10)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")

	// Kafka defaults
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_CONSUMER_GROUP", "cinehub-booking")
	v.SetDefault("KAFKA_CLIENT_ID", "cinehub-booking")

	// JWT defaults
	v.SetDefault("JWT_SECRET", "your-secret-key-change-in-production")
	v.SetDefault("JWT_ISSUER", "cinehub")

	// OTel defaults
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "cinehub-booking")
	v.SetDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")
	v.SetDefault("OTEL_SAMPLE_RATIO", 1.0)

	// Collaborator services
	v.SetDefault("SERVICES_PRICING_URL", "http://localhost:8090")
	v.SetDefault("SERVICES_PROMOTION_URL", "http://localhost:8090")
	v.SetDefault("SERVICES_FNB_URL", "http://localhost:8090")
	v.SetDefault("SERVICES_SHOWTIME_URL", "http://localhost:8091")
	v.SetDefault("SERVICES_MOVIE_URL", "http://localhost:8092")
	v.SetDefault("SERVICES_USER_PROFILE_URL", "http://localhost:8093")
	v.SetDefault("SERVICES_TIMEOUT", "2s")

	// Seat locks
	v.SetDefault("SEATLOCK_TTL", "10s")

	// Circuit breakers
	v.SetDefault("BREAKER_MAX_REQUESTS", 1)
	v.SetDefault("BREAKER_INTERVAL", "60s")
	v.SetDefault("BREAKER_TIMEOUT", "30s")
	v.SetDefault("BREAKER_FAILURE_THRESHOLD", 5)

	// Reconciliation sweep
	v.SetDefault("RECONCILE_INTERVAL", "30s")
	v.SetDefault("RECONCILE_PENDING_MAX_AGE", "15m")
	v.SetDefault("RECONCILE_BATCH_SIZE", 100)

	// Consumers
	v.SetDefault("CONSUMER_WORKER_COUNT", 8)
	v.SetDefault("CONSUMER_MAX_RETRIES", 3)
	v.SetDefault("CONSUMER_RETRY_INTERVAL", "500ms")
}

func bindConfig(v *viper.Viper, cfg *Config) {
	// App
	cfg.App.Name = v.GetString("APP_NAME")
	cfg.App.Environment = v.GetString("APP_ENVIRONMENT")
	cfg.App.Debug = v.GetBool("APP_DEBUG")
	cfg.App.Version = v.GetString("APP_VERSION")
	cfg.App.LogLevel = v.GetString("APP_LOG_LEVEL")

	// Server
	cfg.Server.Host = v.GetString("SERVER_HOST")
	cfg.Server.Port = v.GetInt("SERVER_PORT")
	cfg.Server.ReadTimeout = v.GetDuration("SERVER_READ_TIMEOUT")
	cfg.Server.WriteTimeout = v.GetDuration("SERVER_WRITE_TIMEOUT")
	cfg.Server.IdleTimeout = v.GetDuration("SERVER_IDLE_TIMEOUT")

	// Booking database
	cfg.BookingDatabase.Host = v.GetString("BOOKING_DATABASE_HOST")
	cfg.BookingDatabase.Port = v.GetInt("BOOKING_DATABASE_PORT")
	cfg.BookingDatabase.User = v.GetString("BOOKING_DATABASE_USER")
	cfg.BookingDatabase.Password = v.GetString("BOOKING_DATABASE_PASSWORD")
	cfg.BookingDatabase.DBName = v.GetString("BOOKING_DATABASE_DBNAME")
	cfg.BookingDatabase.SSLMode = v.GetString("BOOKING_DATABASE_SSLMODE")
	cfg.BookingDatabase.MaxOpenConns = v.GetInt("BOOKING_DATABASE_MAX_OPEN_CONNS")
	cfg.BookingDatabase.MaxIdleConns = v.GetInt("BOOKING_DATABASE_MAX_IDLE_CONNS")
	cfg.BookingDatabase.ConnMaxLifetime = v.GetDuration("BOOKING_DATABASE_CONN_MAX_LIFETIME")
	cfg.BookingDatabase.ConnMaxIdleTime = v.GetDuration("BOOKING_DATABASE_CONN_MAX_IDLE_TIME")

	// Redis
	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetInt("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")
	cfg.Redis.PoolSize = v.GetInt("REDIS_POOL_SIZE")
	cfg.Redis.MinIdleConns = v.GetInt("REDIS_MIN_IDLE_CONNS")
	cfg.Redis.DialTimeout = v.GetDuration("REDIS_DIAL_TIMEOUT")
	cfg.Redis.ReadTimeout = v.GetDuration("REDIS_READ_TIMEOUT")
	cfg.Redis.WriteTimeout = v.GetDuration("REDIS_WRITE_TIMEOUT")

	// Kafka
	cfg.Kafka.Brokers = splitList(v.GetString("KAFKA_BROKERS"))
	cfg.Kafka.ConsumerGroup = v.GetString("KAFKA_CONSUMER_GROUP")
	cfg.Kafka.ClientID = v.GetString("KAFKA_CLIENT_ID")

	// JWT
	cfg.JWT.Secret = v.GetString("JWT_SECRET")
	cfg.JWT.Issuer = v.GetString("JWT_ISSUER")

	// OTel
	cfg.OTel.Enabled = v.GetBool("OTEL_ENABLED")
	cfg.OTel.ServiceName = v.GetString("OTEL_SERVICE_NAME")
	cfg.OTel.CollectorAddr = v.GetString("OTEL_COLLECTOR_ADDR")
	cfg.OTel.SampleRatio = v.GetFloat64("OTEL_SAMPLE_RATIO")

	// Services
	cfg.Services.PricingURL = v.GetString("SERVICES_PRICING_URL")
	cfg.Services.PromotionURL = v.GetString("SERVICES_PROMOTION_URL")
	cfg.Services.FnbURL = v.GetString("SERVICES_FNB_URL")
	cfg.Services.ShowtimeURL = v.GetString("SERVICES_SHOWTIME_URL")
	cfg.Services.MovieURL = v.GetString("SERVICES_MOVIE_URL")
	cfg.Services.UserProfileURL = v.GetString("SERVICES_USER_PROFILE_URL")
	cfg.Services.Timeout = v.GetDuration("SERVICES_TIMEOUT")

	cfg.SeatLock.TTL = v.GetDuration("SEATLOCK_TTL")

	cfg.Breaker.MaxRequests = v.GetUint32("BREAKER_MAX_REQUESTS")
	cfg.Breaker.Interval = v.GetDuration("BREAKER_INTERVAL")
	cfg.Breaker.Timeout = v.GetDuration("BREAKER_TIMEOUT")
	cfg.Breaker.FailureThreshold = v.GetUint32("BREAKER_FAILURE_THRESHOLD")

	cfg.Reconcile.Interval = v.GetDuration("RECONCILE_INTERVAL")
	cfg.Reconcile.PendingMaxAge = v.GetDuration("RECONCILE_PENDING_MAX_AGE")
	cfg.Reconcile.BatchSize = v.GetInt("RECONCILE_BATCH_SIZE")

	cfg.Consumer.WorkerCount = v.GetInt("CONSUMER_WORKER_COUNT")
	cfg.Consumer.MaxRetries = v.GetInt("CONSUMER_MAX_RETRIES")
	cfg.Consumer.RetryInterval = v.GetDuration("CONSUMER_RETRY_INTERVAL")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}

	if c.IsProduction() && c.JWT.Secret == "your-secret-key-change-in-production" {
		return fmt.Errorf("JWT secret must be changed in production")
	}

	if c.SeatLock.TTL <= 0 {
		return fmt.Errorf("SEATLOCK_TTL must be positive, got %s", c.SeatLock.TTL)
	}

	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}

	if c.Reconcile.PendingMaxAge <= 0 {
		return fmt.Errorf("RECONCILE_PENDING_MAX_AGE must be positive")
	}

	return nil
}

// ValidateBookingDatabase validates booking database configuration
func (c *Config) ValidateBookingDatabase() error {
	if c.BookingDatabase.Host == "" {
		return fmt.Errorf("BOOKING_DATABASE_HOST is required")
	}
	if c.BookingDatabase.DBName == "" {
		return fmt.Errorf("BOOKING_DATABASE_DBNAME is required")
	}
	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
