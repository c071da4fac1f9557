package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"lessonpulse/services/retry"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port   string
	AppEnv string

	DBDriver   string // postgres, mysql, sqlite
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string
	DBDSN      string // Overrides the DSN composed from the DB_* parts

	JWTKey string

	CompletionThreshold int // Lesson completion percentage

	RetryMaxAttempts  int
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
	RetryMultiplier   float64
	RetryJitter       bool

	QueueCapacity      int
	QueueFlushInterval time.Duration
	QueueDBPath        string // Client-local SQLite file backing the offline queue
	APIBaseURL         string
	APIToken           string

	ReconcileSchedule string // Cron spec for the completion reconcile job
	RollbarToken      string
}

// AppConfig is a global variable to access configuration
var AppConfig *Config

// LoadConfig initializes configuration from environment variables or defaults
func LoadConfig() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found. Using system environment variables.")
	}

	AppConfig = &Config{
		Port:   getEnv("PORT", "3000"),
		AppEnv: getEnv("APP_ENV", "development"),

		DBDriver:   getEnv("DB_DRIVER", "postgres"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "lessonpulse"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBDSN:      getEnv("DB_DSN", ""),

		JWTKey: getEnv("JWT_SECRET_KEY", "defaultSecret"),

		CompletionThreshold: getEnvInt("COMPLETION_THRESHOLD", 90),

		RetryMaxAttempts:  getEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryInitialDelay: getEnvDuration("RETRY_INITIAL_DELAY", time.Second),
		RetryMaxDelay:     getEnvDuration("RETRY_MAX_DELAY", 10*time.Second),
		RetryMultiplier:   getEnvFloat("RETRY_MULTIPLIER", 2.0),
		RetryJitter:       getEnvBool("RETRY_JITTER", true),

		QueueCapacity:      getEnvInt("QUEUE_CAPACITY", 100),
		QueueFlushInterval: getEnvDuration("QUEUE_FLUSH_INTERVAL", 30*time.Second),
		QueueDBPath:        getEnv("QUEUE_DB_PATH", "heartbeat-queue.db"),
		APIBaseURL:         getEnv("API_BASE_URL", "http://localhost:3000"),
		APIToken:           getEnv("API_TOKEN", ""),

		ReconcileSchedule: getEnv("RECONCILE_SCHEDULE", "30 0 * * *"),
		RollbarToken:      getEnv("ROLLBAR_TOKEN", ""),
	}

	// Validate critical configuration
	if AppConfig.JWTKey == "defaultSecret" {
		log.Println("Warning: Using default JWT_SECRET_KEY. Update it in your environment.")
	}
	if AppConfig.CompletionThreshold <= 0 || AppConfig.CompletionThreshold > 100 {
		log.Printf("Warning: COMPLETION_THRESHOLD %d out of range, using 90.", AppConfig.CompletionThreshold)
		AppConfig.CompletionThreshold = 90
	}
	if AppConfig.QueueCapacity <= 0 {
		log.Printf("Warning: QUEUE_CAPACITY %d must be positive, using 100.", AppConfig.QueueCapacity)
		AppConfig.QueueCapacity = 100
	}

	return AppConfig
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt retrieves an environment variable as an integer or returns the default integer value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Error converting environment variable %s to int: %v", key, err)
		return defaultValue
	}
	return intValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("Error converting environment variable %s to float: %v", key, err)
		return defaultValue
	}
	return floatValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("Error converting environment variable %s to bool: %v", key, err)
		return defaultValue
	}
	return boolValue
}

// getEnvDuration accepts Go duration strings ("1.5s") or plain milliseconds ("1500").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Error converting environment variable %s to duration: %v", key, err)
		return defaultValue
	}
	return d
}

// RetryPolicy builds the heartbeat delivery policy from the RETRY_* settings.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:       c.RetryMaxAttempts,
		InitialDelay:      c.RetryInitialDelay,
		MaxDelay:          c.RetryMaxDelay,
		BackoffMultiplier: c.RetryMultiplier,
		UseJitter:         c.RetryJitter,
	}
}
