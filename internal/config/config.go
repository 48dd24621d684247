package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBConfig struct {
		Host     string `env:"RECONCILER_DB_HOST"`
		Port     int    `env:"RECONCILER_DB_PORT"`
		User     string `env:"RECONCILER_DB_USER"`
		Password string `env:"RECONCILER_DB_PASSWORD"`
		Name     string `env:"RECONCILER_DB_NAME"`
		SSLMode  string `env:"RECONCILER_DB_SSLMODE"`
	}

	HTTPPort       int           `env:"HTTP_PORT"`
	MigrationsPath string        `env:"MIGRATIONS_PATH"`
	WebhookTimeout time.Duration `env:"WEBHOOK_PROCESSING_TIMEOUT"`
	AllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS"`

	KafkaBrokerURL           string        `env:"KAFKA_BROKER_URL"`
	KafkaPaymentSuccessTopic string        `env:"KAFKA_PAYMENT_SUCCESS_TOPIC"`
	KafkaPaymentFailedTopic  string        `env:"KAFKA_PAYMENT_FAILED_TOPIC"`
	KafkaPaymentRetryTopic   string        `env:"KAFKA_PAYMENT_RETRY_TOPIC"`
	KafkaRetryConsumerGroup  string        `env:"KAFKA_RETRY_CONSUMER_GROUP"`
	KafkaPublishTimeout      time.Duration `env:"KAFKA_PUBLISH_TIMEOUT"`

	RedisAddr      string        `env:"REDIS_ADDR"`
	RedisPassword  string        `env:"REDIS_PASSWORD"`
	RedisDB        int           `env:"REDIS_DB"`
	WebhookLockTTL time.Duration `env:"WEBHOOK_LOCK_TTL"`

	StripeWebhookSecret      string        `env:"STRIPE_WEBHOOK_SECRET"`
	StripeSignatureTolerance time.Duration `env:"STRIPE_SIGNATURE_TOLERANCE"`
	RazorpayWebhookSecret    string        `env:"RAZORPAY_WEBHOOK_SECRET"`
	StripeAPIKey             string        `env:"STRIPE_API_KEY"`
	StripeSuccessURL         string        `env:"STRIPE_SUCCESS_URL"`
	StripeCancelURL          string        `env:"STRIPE_CANCEL_URL"`
	RazorpayKeyID            string        `env:"RAZORPAY_KEY_ID"`
	RazorpayKeySecret        string        `env:"RAZORPAY_KEY_SECRET"`

	RetryEnabled        bool          `env:"FEATURE_RETRY_ENABLED"`
	RetrySweepInterval  time.Duration `env:"RETRY_SWEEP_INTERVAL"`
	RetryBatchSize      int           `env:"RETRY_BATCH_SIZE"`
	RetryBackoffBase    time.Duration `env:"RETRY_BACKOFF_BASE"`
	RetryBackoffMax     time.Duration `env:"RETRY_BACKOFF_MAX"`
	RetryAlertAttempts  int           `env:"RETRY_ALERT_ATTEMPTS"`
	RetryAttemptTimeout time.Duration `env:"RETRY_ATTEMPT_TIMEOUT"`

	ExpiryEnabled       bool          `env:"FEATURE_PAYMENT_EXPIRY_ENABLED"`
	ExpirySweepInterval time.Duration `env:"EXPIRY_SWEEP_INTERVAL"`
	ExpiryCutoff        time.Duration `env:"EXPIRY_CUTOFF"`
	ExpiryBatchSize     int           `env:"EXPIRY_BATCH_SIZE"`

	RateLimitCapacity     int           `env:"RATE_LIMIT_CAPACITY"`
	RateLimitRefillTokens int           `env:"RATE_LIMIT_REFILL_TOKENS"`
	RateLimitRefillPeriod time.Duration `env:"RATE_LIMIT_REFILL_PERIOD"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPSender   string `env:"SMTP_SENDER"`
}

// LoadConfig reads the environment, after merging an optional .env file.
// Variables already set in the process environment win over the file.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &Config{}

	cfg.DBConfig.Host = getEnvOrDefault("RECONCILER_DB_HOST", "localhost")
	cfg.DBConfig.Port = getEnvAsInt("RECONCILER_DB_PORT", 5432)
	cfg.DBConfig.User = getEnvOrDefault("RECONCILER_DB_USER", "user")
	cfg.DBConfig.Password = getEnvOrDefault("RECONCILER_DB_PASSWORD", "password")
	cfg.DBConfig.Name = getEnvOrDefault("RECONCILER_DB_NAME", "reconciler_db")
	cfg.DBConfig.SSLMode = getEnvOrDefault("RECONCILER_DB_SSLMODE", "disable")

	cfg.HTTPPort = getEnvAsInt("HTTP_PORT", 8082)
	cfg.MigrationsPath = getEnvOrDefault("MIGRATIONS_PATH", "file:///app/migrations")
	cfg.WebhookTimeout = getEnvAsDuration("WEBHOOK_PROCESSING_TIMEOUT", 10*time.Second)
	cfg.AllowedOrigins = getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"})

	cfg.KafkaBrokerURL = getEnvOrDefault("KAFKA_BROKER_URL", "localhost:9092")
	cfg.KafkaPaymentSuccessTopic = getEnvOrDefault("KAFKA_PAYMENT_SUCCESS_TOPIC", "payment.succeeded")
	cfg.KafkaPaymentFailedTopic = getEnvOrDefault("KAFKA_PAYMENT_FAILED_TOPIC", "payment.failed")
	cfg.KafkaPaymentRetryTopic = getEnvOrDefault("KAFKA_PAYMENT_RETRY_TOPIC", "payment.publish.retry")
	cfg.KafkaRetryConsumerGroup = getEnvOrDefault("KAFKA_RETRY_CONSUMER_GROUP", "reconciler-publish-retry-group")
	cfg.KafkaPublishTimeout = getEnvAsDuration("KAFKA_PUBLISH_TIMEOUT", 5*time.Second)

	cfg.RedisAddr = getEnvOrDefault("REDIS_ADDR", "")
	cfg.RedisPassword = getEnvOrDefault("REDIS_PASSWORD", "")
	cfg.RedisDB = getEnvAsInt("REDIS_DB", 0)
	cfg.WebhookLockTTL = getEnvAsDuration("WEBHOOK_LOCK_TTL", 30*time.Second)

	cfg.StripeWebhookSecret = getEnvOrDefault("STRIPE_WEBHOOK_SECRET", "")
	cfg.StripeSignatureTolerance = getEnvAsDuration("STRIPE_SIGNATURE_TOLERANCE", 5*time.Minute)
	cfg.RazorpayWebhookSecret = getEnvOrDefault("RAZORPAY_WEBHOOK_SECRET", "")
	cfg.StripeAPIKey = getEnvOrDefault("STRIPE_API_KEY", "")
	cfg.StripeSuccessURL = getEnvOrDefault("STRIPE_SUCCESS_URL", "http://localhost:3000/payment/success")
	cfg.StripeCancelURL = getEnvOrDefault("STRIPE_CANCEL_URL", "http://localhost:3000/payment/cancel")
	cfg.RazorpayKeyID = getEnvOrDefault("RAZORPAY_KEY_ID", "")
	cfg.RazorpayKeySecret = getEnvOrDefault("RAZORPAY_KEY_SECRET", "")

	cfg.RetryEnabled = getEnvAsBool("FEATURE_RETRY_ENABLED", true)
	cfg.RetrySweepInterval = getEnvAsDuration("RETRY_SWEEP_INTERVAL", 30*time.Second)
	cfg.RetryBatchSize = getEnvAsInt("RETRY_BATCH_SIZE", 10)
	cfg.RetryBackoffBase = getEnvAsDuration("RETRY_BACKOFF_BASE", 30*time.Second)
	cfg.RetryBackoffMax = getEnvAsDuration("RETRY_BACKOFF_MAX", 30*time.Minute)
	cfg.RetryAlertAttempts = getEnvAsInt("RETRY_ALERT_ATTEMPTS", 5)
	cfg.RetryAttemptTimeout = getEnvAsDuration("RETRY_ATTEMPT_TIMEOUT", 10*time.Second)

	cfg.ExpiryEnabled = getEnvAsBool("FEATURE_PAYMENT_EXPIRY_ENABLED", true)
	cfg.ExpirySweepInterval = getEnvAsDuration("EXPIRY_SWEEP_INTERVAL", 10*time.Minute)
	cfg.ExpiryCutoff = getEnvAsDuration("EXPIRY_CUTOFF", 15*time.Minute)
	cfg.ExpiryBatchSize = getEnvAsInt("EXPIRY_BATCH_SIZE", 100)

	cfg.RateLimitCapacity = getEnvAsInt("RATE_LIMIT_CAPACITY", 10)
	cfg.RateLimitRefillTokens = getEnvAsInt("RATE_LIMIT_REFILL_TOKENS", 10)
	cfg.RateLimitRefillPeriod = getEnvAsDuration("RATE_LIMIT_REFILL_PERIOD", 10*time.Second)

	cfg.SMTPHost = getEnvOrDefault("SMTP_HOST", "")
	cfg.SMTPPort = getEnvAsInt("SMTP_PORT", 587)
	cfg.SMTPUsername = getEnvOrDefault("SMTP_USERNAME", "")
	cfg.SMTPPassword = getEnvOrDefault("SMTP_PASSWORD", "")
	cfg.SMTPSender = getEnvOrDefault("SMTP_SENDER", "")

	return cfg, nil
}

// Validate reports every problem at once so a bad deployment fails with the full list.
func (c *Config) Validate() error {
	var errs []error
	if c.StripeWebhookSecret == "" {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required"))
	}
	if c.RazorpayWebhookSecret == "" {
		errs = append(errs, errors.New("RAZORPAY_WEBHOOK_SECRET is required"))
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"WEBHOOK_PROCESSING_TIMEOUT", c.WebhookTimeout},
		{"KAFKA_PUBLISH_TIMEOUT", c.KafkaPublishTimeout},
		{"WEBHOOK_LOCK_TTL", c.WebhookLockTTL},
		{"RETRY_SWEEP_INTERVAL", c.RetrySweepInterval},
		{"RETRY_BACKOFF_BASE", c.RetryBackoffBase},
		{"RETRY_ATTEMPT_TIMEOUT", c.RetryAttemptTimeout},
		{"EXPIRY_SWEEP_INTERVAL", c.ExpirySweepInterval},
		{"EXPIRY_CUTOFF", c.ExpiryCutoff},
		{"RATE_LIMIT_REFILL_PERIOD", c.RateLimitRefillPeriod},
	}
	for _, d := range durations {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", d.name, d.value))
		}
	}
	if c.RetryBackoffMax < c.RetryBackoffBase {
		errs = append(errs, errors.New("RETRY_BACKOFF_MAX must not be less than RETRY_BACKOFF_BASE"))
	}

	ints := []struct {
		name  string
		value int
	}{
		{"RETRY_BATCH_SIZE", c.RetryBatchSize},
		{"EXPIRY_BATCH_SIZE", c.ExpiryBatchSize},
		{"RATE_LIMIT_CAPACITY", c.RateLimitCapacity},
		{"RATE_LIMIT_REFILL_TOKENS", c.RateLimitRefillTokens},
	}
	for _, i := range ints {
		if i.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", i.name, i.value))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) GetDBMigrationConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBConfig.User, c.DBConfig.Password, c.DBConfig.Host, c.DBConfig.Port, c.DBConfig.Name, c.DBConfig.SSLMode)
}

func (c *Config) GetKafkaBrokers() []string {
	return strings.Split(c.KafkaBrokerURL, ",")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnvOrDefault(key, strconv.Itoa(defaultValue))
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnvOrDefault(key, strconv.FormatBool(defaultValue))
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnvOrDefault(key, defaultValue.String())
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(valueStr) == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
