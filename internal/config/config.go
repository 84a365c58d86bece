package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds every tunable the two delivery workers need, loaded
// from the environment via envconfig.
type Config struct {
	Port string `env:"PORT" default:"8080"`

	AMQPURL            string `env:"AMQP_URL" required:"true"`
	EmailQueuePrefetch int    `env:"EMAIL_QUEUE_PREFETCH_COUNT" default:"10"`
	PushQueuePrefetch  int    `env:"PUSH_QUEUE_PREFETCH_COUNT" default:"10"`

	RedisAddr string `env:"REDIS_ADDR" default:"localhost:6379"`

	TemplateServiceURL string `env:"TEMPLATE_SERVICE_URL" required:"true"`

	MaxRetryAttempts int           `env:"MAX_RETRY_ATTEMPTS" default:"3"`
	RetryBaseDelay   time.Duration `env:"RETRY_BASE_DELAY" default:"2s"`

	CircuitBreakerFailureThreshold int           `env:"CIRCUIT_BREAKER_FAILURE_THRESHOLD" default:"5"`
	CircuitBreakerTimeout          time.Duration `env:"CIRCUIT_BREAKER_TIMEOUT" default:"60s"`
	CircuitBreakerRecoveryTimeout  time.Duration `env:"CIRCUIT_BREAKER_RECOVERY_TIMEOUT" default:"30s"`

	// EmailProviderMode selects one of the two EmailSender
	// configurations at deploy time: "api" (SendGrid) or "smtp".
	EmailProviderMode string `env:"EMAIL_PROVIDER_MODE" default:"api"`

	SendGridAPIKey string `env:"SENDGRID_API_KEY"`
	EmailFromAddr  string `env:"EMAIL_FROM_ADDRESS"`
	EmailFromName  string `env:"EMAIL_FROM_NAME"`

	SMTPHost        string `env:"SMTP_HOST"`
	SMTPPort        int    `env:"SMTP_PORT" default:"587"`
	SMTPUsername    string `env:"SMTP_USERNAME"`
	SMTPPassword    string `env:"SMTP_PASSWORD"`
	SMTPWorkerCount int    `env:"SMTP_WORKER_COUNT" default:"5"`

	FCMCredentialsFile string `env:"FCM_CREDENTIALS_FILE"`

	APNSKeyPath    string `env:"APNS_KEY_PATH"`
	APNSKeyID      string `env:"APNS_KEY_ID"`
	APNSTeamID     string `env:"APNS_TEAM_ID"`
	APNSBundleID   string `env:"APNS_BUNDLE_ID"`
	APNSUseSandbox bool   `env:"APNS_USE_SANDBOX" default:"false"`

	LogLevel string `env:"LOG_LEVEL" default:"info"`
}

// Load reads config from environment variables with validation.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
