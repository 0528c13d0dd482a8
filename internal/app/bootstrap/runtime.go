package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/creatus-team/v3/internal/archive"
	appconfig "github.com/creatus-team/v3/internal/config"
	"github.com/creatus-team/v3/internal/notify"
	"github.com/creatus-team/v3/pkg/logging"
)

// BuildPool opens and pings the Postgres pool.
func BuildPool(ctx context.Context, cfg *appconfig.Config) (*pgxpool.Pool, error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, fmt.Errorf("bootstrap: DATABASE_URL is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping database: %w", err)
	}
	return pool, nil
}

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil so slot
// leases fall back to the database constraint alone.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available, slot leases disabled", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// LoadAWSConfig loads the default chain, preferring static keys when both
// are configured.
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWSRegion)}
	if cfg.AWSAccessKeyID != "" && cfg.AWSSecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("bootstrap: load aws config: %w", err)
	}
	return awsCfg, nil
}

// needsAWS reports whether any configured component talks to AWS.
func needsAWS(cfg *appconfig.Config) bool {
	return cfg.SettlementArchiveBucket != "" || cfg.EmailProvider == notify.ProviderSES
}

// BuildArchive returns the settlement archive, disabled without a bucket.
// AWS_ENDPOINT_OVERRIDE points S3 at a local emulator.
func BuildArchive(awsCfg *aws.Config, cfg *appconfig.Config, logger *logging.Logger) *archive.Store {
	if awsCfg == nil || cfg.SettlementArchiveBucket == "" {
		return archive.NewStore(nil, "", logger)
	}
	client := s3.NewFromConfig(*awsCfg, func(o *s3.Options) {
		if cfg.AWSEndpointOverride != "" {
			o.BaseEndpoint = aws.String(cfg.AWSEndpointOverride)
			o.UsePathStyle = true
		}
	})
	return archive.NewStore(client, cfg.SettlementArchiveBucket, logger)
}

// BuildReporter returns the settlement mailer, or nil when no recipient is set.
func BuildReporter(awsCfg *aws.Config, cfg *appconfig.Config, logger *logging.Logger) *notify.Reporter {
	var ses notify.SESAPI
	if awsCfg != nil && cfg.EmailProvider == notify.ProviderSES {
		ses = sesv2.NewFromConfig(*awsCfg)
	}
	sender := notify.NewEmailSender(notify.SenderConfig{
		Provider: cfg.EmailProvider,
		SendGrid: notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		},
		SES: notify.SESConfig{FromEmail: cfg.SESFromEmail, FromName: cfg.SendGridFromName},
	}, ses, logger)
	return notify.NewReporter(sender, cfg.SettlementReportEmail, logger)
}

const (
	serverReadTimeout  = 15 * time.Second
	serverWriteTimeout = 15 * time.Second
	serverIdleTimeout  = 60 * time.Second
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout = 30 * time.Second
)
