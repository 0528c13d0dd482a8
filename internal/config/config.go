package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	DatabaseURL string

	// Inbound auth
	WebhookSecretToken string
	CronSecret         string
	TallySigningSecret string
	WebhookRateLimit   float64
	WebhookRateBurst   int
	CORSAllowedOrigins []string

	// Admin console
	AdminJWTSecret    string
	AdminPasswordHash string
	AdminTokenTTL     time.Duration
	AdminPhoneNumber  string

	// Solapi SMS
	SolapiAPIKey      string
	SolapiAPISecret   string
	SolapiSenderPhone string
	SolapiBaseURL     string
	SMSTimeout        time.Duration
	SMSRetryAttempts  int
	SMSRetryDelay     time.Duration

	// Redis slot lock
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	SlotLockTTL   time.Duration

	// AWS (settlement archive, SES)
	AWSRegion               string
	AWSAccessKeyID          string
	AWSSecretAccessKey      string
	AWSEndpointOverride     string
	SettlementArchiveBucket string

	// Settlement report email
	EmailProvider         string
	SendGridAPIKey        string
	SendGridFromEmail     string
	SendGridFromName      string
	SESFromEmail          string
	SettlementReportEmail string

	// Tally forms
	TallyApplicationFormID string
	TallyDiagnosisFormID   string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		WebhookSecretToken: getEnv("WEBHOOK_SECRET_TOKEN", ""),
		CronSecret:         getEnv("CRON_SECRET", ""),
		TallySigningSecret: getEnv("TALLY_SIGNING_SECRET", ""),
		WebhookRateLimit:   getEnvAsFloat("WEBHOOK_RATE_LIMIT", 5),
		WebhookRateBurst:   getEnvAsInt("WEBHOOK_RATE_BURST", 20),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),

		AdminJWTSecret:    getEnv("ADMIN_JWT_SECRET", ""),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		AdminTokenTTL:     getEnvAsDuration("ADMIN_TOKEN_TTL", 12*time.Hour),
		AdminPhoneNumber:  getEnv("ADMIN_PHONE_NUMBER", ""),

		SolapiAPIKey:      getEnv("SOLAPI_API_KEY", ""),
		SolapiAPISecret:   getEnv("SOLAPI_API_SECRET", ""),
		SolapiSenderPhone: getEnv("SOLAPI_SENDER_PHONE", ""),
		SolapiBaseURL:     getEnv("SOLAPI_BASE_URL", "https://api.solapi.com"),
		SMSTimeout:        getEnvAsDuration("SMS_TIMEOUT", 5*time.Second),
		SMSRetryAttempts:  getEnvAsInt("SMS_RETRY_ATTEMPTS", 2),
		SMSRetryDelay:     getEnvAsDuration("SMS_RETRY_DELAY", time.Second),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
		SlotLockTTL:   getEnvAsDuration("SLOT_LOCK_TTL", 10*time.Second),

		AWSRegion:               getEnv("AWS_REGION", "ap-northeast-2"),
		AWSAccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:     getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		SettlementArchiveBucket: getEnv("SETTLEMENT_ARCHIVE_BUCKET", ""),

		EmailProvider:         strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "stub"))),
		SendGridAPIKey:        getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail:     getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:      getEnv("SENDGRID_FROM_NAME", "크리투스 코칭"),
		SESFromEmail:          getEnv("SES_FROM_EMAIL", ""),
		SettlementReportEmail: getEnv("SETTLEMENT_REPORT_EMAIL", ""),

		TallyApplicationFormID: getEnv("TALLY_APPLICATION_FORM_ID", "81qKPr"),
		TallyDiagnosisFormID:   getEnv("TALLY_DIAGNOSIS_FORM_ID", "44agLB"),
	}
}

// SMSConfigured reports whether Solapi credentials are present.
func (c *Config) SMSConfigured() bool {
	return c.SolapiAPIKey != "" && c.SolapiAPISecret != "" && c.SolapiSenderPhone != ""
}

// IsProduction reports whether ENV names a production deployment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping empty entries.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
