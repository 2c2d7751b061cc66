package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr        string
	SofficeBinary     string
	WorkDir           string
	WorkerCount       int
	QueueDepth        int
	ConversionTimeout time.Duration
	MaxTimeout        time.Duration
	MaxUploadBytes    int64
	ResultTTL         time.Duration
	SweepInterval     time.Duration
	ShutdownTimeout   time.Duration

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisPrefix    string
	RedisStatusTTL time.Duration

	DatabaseURL string

	S3Bucket       string
	S3Prefix       string
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
	S3Endpoint     string
	S3UsePathStyle bool
}

// Load reads configuration from the environment, consulting a .env file
// first when one is present.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:        getEnv("LISTEN_ADDR", ":8080"),
		SofficeBinary:     getEnv("SOFFICE_BINARY", "soffice"),
		WorkDir:           getEnv("WORK_DIR", "/tmp/docgen"),
		WorkerCount:       getEnvInt("CONVERSION_WORKER_COUNT", 3),
		QueueDepth:        getEnvInt("CONVERSION_QUEUE_DEPTH", 32),
		ConversionTimeout: getEnvSeconds("CONVERSION_TIMEOUT", 120),
		MaxTimeout:        getEnvSeconds("CONVERSION_MAX_TIMEOUT", 600),
		MaxUploadBytes:    int64(getEnvInt("MAX_UPLOAD_BYTES", 32<<20)),
		ResultTTL:         getEnvSeconds("RESULT_TTL", 3600),
		SweepInterval:     getEnvSeconds("RESULT_SWEEP_INTERVAL", 60),
		ShutdownTimeout:   getEnvSeconds("SHUTDOWN_TIMEOUT", 30),

		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("REDIS_CONVERSION_DB", 3),
		RedisPrefix:    getEnv("REDIS_PREFIX", ""),
		RedisStatusTTL: getEnvSeconds("REDIS_STATUS_TTL", 3600),

		DatabaseURL: buildDatabaseURL(),

		S3Bucket: getEnv("S3_BUCKET", ""),
		S3Prefix: getEnv("S3_PREFIX", "artifacts"),
		// Prefer unified S3_* vars, fall back to legacy AWS_* vars.
		S3Region:       getEnvWithFallback("S3_REGION", "AWS_DEFAULT_REGION", "us-east-1"),
		S3AccessKey:    getEnvWithFallback("S3_KEY", "AWS_ACCESS_KEY_ID", ""),
		S3SecretKey:    getEnvWithFallback("S3_SECRET", "AWS_SECRET_ACCESS_KEY", ""),
		S3Endpoint:     getEnv("S3_ENDPOINT", ""),
		S3UsePathStyle: getEnvBool("S3_USE_PATH_STYLE_ENDPOINT", false),
	}

	if cfg.ConversionTimeout > cfg.MaxTimeout {
		cfg.ConversionTimeout = cfg.MaxTimeout
	}
	return cfg
}

// buildDatabaseURL assembles a lib/pq connection string from DB_* variables.
// Returns empty when DB_HOST is unset, which disables the audit recorder.
// "key=value" form avoids URI escaping issues for special characters in
// passwords.
func buildDatabaseURL() string {
	dbHost := getEnv("DB_HOST", "")
	if dbHost == "" {
		return ""
	}

	dbPort := getEnv("DB_PORT", "5432")
	dbName := getEnv("DB_DATABASE", "docgen")
	dbUser := getEnv("DB_USERNAME", "docgen")
	dbPassword := getEnv("DB_PASSWORD", "")
	dbSSLMode := getEnv("DB_SSLMODE", "disable")

	var dbURL string
	if dbPassword != "" {
		dbURL = fmt.Sprintf(
			"host=%s port=%s dbname=%s user=%s password=%s sslmode=%s",
			dbHost, dbPort, dbName, dbUser, dbPassword, dbSSLMode,
		)
	} else {
		dbURL = fmt.Sprintf(
			"host=%s port=%s dbname=%s user=%s sslmode=%s",
			dbHost, dbPort, dbName, dbUser, dbSSLMode,
		)
	}

	if cert := getEnv("DB_SSLCERT", ""); cert != "" {
		dbURL += fmt.Sprintf(" sslcert=%s", cert)
	}
	if key := getEnv("DB_SSLKEY", ""); key != "" {
		dbURL += fmt.Sprintf(" sslkey=%s", key)
	}
	if rootCert := getEnv("DB_SSLROOTCERT", ""); rootCert != "" {
		dbURL += fmt.Sprintf(" sslrootcert=%s", rootCert)
	}

	return dbURL
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvWithFallback(primaryKey, secondaryKey, fallback string) string {
	if value := os.Getenv(primaryKey); value != "" {
		return value
	}
	if value := os.Getenv(secondaryKey); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvSeconds(key string, fallbackSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, fallbackSeconds)) * time.Second
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return fallback
}
