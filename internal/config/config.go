package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	StorageMySQL  = "mysql"
	StorageMemory = "memory"

	LedgerGateway = "gateway"
	LedgerDevnet  = "devnet"
)

type Config struct {
	// Server configuration
	HTTPAddr string
	GRPCAddr string

	// Storage configuration
	StorageBackend string
	MySQLDSN       string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int

	// Ledger configuration
	LedgerBackend         string
	LedgerURL             string
	LedgerToken           string
	LedgerTimeout         time.Duration
	PlatformSeed          string
	ConfirmationRounds    int
	PollInterval          time.Duration
	DevnetConfirmationLag int
	// DevnetHTTP mounts the devnet's node API under /devnet/ on the HTTP
	// server so gateway clients can be pointed at it.
	DevnetHTTP bool

	// Asset parameters
	AssetNameMaxLength int
	AssetUnitName      string

	// Reconciler configuration
	ReconcileWorkers       int
	ReconcileQueueSize     int
	ReconcileMaxAttempts   int
	ReconcileRetryDelay    time.Duration
	ReconcileSweepInterval time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	return &Config{
		// Server
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		GRPCAddr: getEnv("GRPC_ADDR", ":50051"),

		// Storage
		StorageBackend: getEnv("STORAGE_BACKEND", StorageMySQL),
		MySQLDSN:       getEnv("MYSQL_DSN", "root:root@tcp(localhost:3306)/ticketledger?parseTime=true"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvAsInt("REDIS_DB", 0),

		// Ledger
		LedgerBackend:         getEnv("LEDGER_BACKEND", LedgerGateway),
		LedgerURL:             getEnv("LEDGER_URL", "http://localhost:4001"),
		LedgerToken:           getEnv("LEDGER_TOKEN", ""),
		LedgerTimeout:         getEnvAsDuration("LEDGER_TIMEOUT", "10s"),
		PlatformSeed:          getEnv("PLATFORM_SEED", ""),
		ConfirmationRounds:    getEnvAsInt("CONFIRMATION_ROUNDS", 4),
		PollInterval:          getEnvAsDuration("POLL_INTERVAL", "1s"),
		DevnetConfirmationLag: getEnvAsInt("DEVNET_CONFIRMATION_LAG", 1),
		DevnetHTTP:            getEnvAsBool("DEVNET_HTTP", false),

		// Asset
		AssetNameMaxLength: getEnvAsInt("ASSET_NAME_MAX_LENGTH", 12),
		AssetUnitName:      getEnv("ASSET_UNIT_NAME", "TKT"),

		// Reconciler
		ReconcileWorkers:       getEnvAsInt("RECONCILE_WORKERS", 4),
		ReconcileQueueSize:     getEnvAsInt("RECONCILE_QUEUE_SIZE", 1024),
		ReconcileMaxAttempts:   getEnvAsInt("RECONCILE_MAX_ATTEMPTS", 10),
		ReconcileRetryDelay:    getEnvAsDuration("RECONCILE_RETRY_DELAY", "5s"),
		ReconcileSweepInterval: getEnvAsDuration("RECONCILE_SWEEP_INTERVAL", "1m"),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

func (c *Config) Validate() error {
	switch c.StorageBackend {
	case StorageMySQL, StorageMemory:
	default:
		return fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}
	switch c.LedgerBackend {
	case LedgerGateway, LedgerDevnet:
	default:
		return fmt.Errorf("unknown ledger backend %q", c.LedgerBackend)
	}
	if c.ConfirmationRounds <= 0 {
		return fmt.Errorf("confirmation rounds must be positive, got %d", c.ConfirmationRounds)
	}
	if c.ReconcileWorkers <= 0 {
		return fmt.Errorf("reconcile workers must be positive, got %d", c.ReconcileWorkers)
	}
	if c.ReconcileMaxAttempts <= 0 {
		return fmt.Errorf("reconcile max attempts must be positive, got %d", c.ReconcileMaxAttempts)
	}
	if c.AssetNameMaxLength <= 0 {
		return fmt.Errorf("asset name max length must be positive, got %d", c.AssetNameMaxLength)
	}
	if c.LedgerTimeout <= 0 || c.PollInterval < 0 {
		return fmt.Errorf("ledger timeout and poll interval must not be negative")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
