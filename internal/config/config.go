package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all environment-supplied settings. Everything has a local-dev
// default so `go run ./cmd/server` works against docker-compose services.
type Config struct {
	// HTTP
	Port        string
	Environment string
	LogLevel    string
	LogFile     string

	// Postgres
	DatabaseURL string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	DBSSLMode   string

	// Redis (aggregate cache + task queue + token revocation)
	RedisHost     string
	RedisPort     string
	RedisPassword string

	// Kafka (notification fan-out)
	KafkaBrokers string
	KafkaTopic   string

	// Object storage for post images
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool
	// URL prefix under which uploaded objects are publicly reachable
	S3PublicBase string

	// Auth
	JWTSecret string
	TokenTTL  time.Duration

	// Task queue tuning
	QueueWorkers     int
	QueueMaxAttempts int
	QueueLease       time.Duration

	// Tracing
	OTLPEndpoint   string
	TracingEnabled bool
}

// Load reads configuration from the environment
func Load() *Config {
	return &Config{
		Port:        GetEnv("PORT", "8787"),
		Environment: GetEnv("ENVIRONMENT", "development"),
		LogLevel:    GetEnv("LOG_LEVEL", "info"),
		LogFile:     GetEnv("LOG_FILE", "tangle.log"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBHost:      GetEnv("DB_HOST", "localhost"),
		DBPort:      GetEnv("DB_PORT", "5432"),
		DBUser:      GetEnv("DB_USER", "postgres"),
		DBPassword:  os.Getenv("DB_PASSWORD"),
		DBName:      GetEnv("DB_NAME", "tangle"),
		DBSSLMode:   GetEnv("DB_SSLMODE", "disable"),

		RedisHost:     GetEnv("REDIS_HOST", "localhost"),
		RedisPort:     GetEnv("REDIS_PORT", "6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		KafkaBrokers: GetEnv("KAFKA_BROKERS", "localhost:9092"),
		KafkaTopic:   GetEnv("KAFKA_NOTIFICATIONS_TOPIC", "tangle.notifications"),

		S3Endpoint:   GetEnv("S3_ENDPOINT", "localhost:9000"),
		S3AccessKey:  GetEnv("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:  GetEnv("S3_SECRET_KEY", "minioadmin"),
		S3Bucket:     GetEnv("S3_BUCKET", "tangle-images"),
		S3UseSSL:     GetEnvBool("S3_USE_SSL", false),
		S3PublicBase: GetEnv("S3_PUBLIC_BASE", "http://localhost:9000/tangle-images"),

		JWTSecret: os.Getenv("JWT_SECRET"),
		TokenTTL:  GetEnvDuration("TOKEN_TTL", 7*24*time.Hour),

		QueueWorkers:     GetEnvInt("QUEUE_WORKERS", 4),
		QueueMaxAttempts: GetEnvInt("QUEUE_MAX_ATTEMPTS", 3),
		QueueLease:       GetEnvDuration("QUEUE_LEASE", 30*time.Second),

		OTLPEndpoint:   GetEnv("OTLP_ENDPOINT", "localhost:4318"),
		TracingEnabled: GetEnvBool("TRACING_ENABLED", false),
	}
}

// GetEnv returns the value of k or def when unset
func GetEnv(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// GetEnvInt returns an integer env var or def when unset/invalid
func GetEnvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// GetEnvBool returns a boolean env var or def when unset/invalid
func GetEnvBool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// GetEnvDuration returns a duration env var ("30s", "1h") or def
func GetEnvDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
