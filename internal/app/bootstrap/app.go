// Package bootstrap builds the shared infrastructure clients and wires the
// API's stores, services and handlers.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/creatus-team/v3/internal/api/router"
	appconfig "github.com/creatus-team/v3/internal/config"
	"github.com/creatus-team/v3/internal/events"
	"github.com/creatus-team/v3/internal/http/handlers"
	httpmiddleware "github.com/creatus-team/v3/internal/http/middleware"
	"github.com/creatus-team/v3/internal/inbox"
	"github.com/creatus-team/v3/internal/ingest"
	"github.com/creatus-team/v3/internal/ingest/payload"
	"github.com/creatus-team/v3/internal/messaging"
	"github.com/creatus-team/v3/internal/messaging/solapi"
	"github.com/creatus-team/v3/internal/messaging/templates"
	"github.com/creatus-team/v3/internal/observability/metrics"
	"github.com/creatus-team/v3/internal/reminders"
	"github.com/creatus-team/v3/internal/sessions"
	"github.com/creatus-team/v3/internal/settlement"
	"github.com/creatus-team/v3/internal/slotlock"
	"github.com/creatus-team/v3/pkg/logging"
)

// Infra carries the long-lived clients owned by main.
type Infra struct {
	Config   *appconfig.Config
	Logger   *logging.Logger
	Pool     *pgxpool.Pool
	Redis    *redis.Client // optional
	Registry *prometheus.Registry
}

// BuildRouterConfig wires every component of the API onto the shared infra.
func BuildRouterConfig(ctx context.Context, in Infra) (*router.Config, error) {
	cfg, logger := in.Config, in.Logger
	if cfg == nil || in.Pool == nil {
		return nil, fmt.Errorf("bootstrap: config and pool are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	reg := in.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	ingestMetrics := metrics.NewIngestMetrics(reg)
	smsMetrics := metrics.NewSMSMetrics(reg)
	cronMetrics := metrics.NewCronMetrics(reg)

	// stores
	activity := events.NewActivityLogStore(in.Pool)
	changes := events.NewChangeLogStore(in.Pool)
	systemLogs := events.NewSystemLogStore(in.Pool)
	raw := events.NewRawWebhookStore(in.Pool)
	sessionStore := sessions.NewStore(in.Pool)
	inboxStore := inbox.NewStore(in.Pool)
	lockStore := settlement.NewLockStore(in.Pool)
	smsLogs := messaging.NewStore(in.Pool)
	templateStore := templates.NewStore(in.Pool)
	reminderLog := reminders.NewStore(in.Pool)

	// SMS
	provider := solapi.New(solapi.Config{
		BaseURL:   cfg.SolapiBaseURL,
		APIKey:    cfg.SolapiAPIKey,
		APISecret: cfg.SolapiAPISecret,
		Sender:    cfg.SolapiSenderPhone,
		Timeout:   cfg.SMSTimeout,
		Logger:    logger.Component("solapi").Logger,
	})
	if !provider.Configured() {
		logger.Warn("solapi credentials missing; SMS sends will be logged as failed")
	}
	sender := messaging.NewSender(provider, smsLogs, cfg.AdminPhoneNumber, smsMetrics, logger.Component("sms"))
	dispatcher := templates.NewDispatcher(templateStore, sender, systemLogs, templates.DispatcherConfig{
		Attempts:   cfg.SMSRetryAttempts,
		RetryDelay: cfg.SMSRetryDelay,
	}, logger.Component("templates"))

	locker := slotlock.New(in.Redis, slotlock.Options{TTL: cfg.SlotLockTTL}, logger.Component("slotlock"))

	// sessions, inbox and ingest
	sessionSvc := sessions.NewService(sessions.Deps{
		Repo:     sessionStore,
		Locks:    lockStore,
		Activity: activity,
		Logs:     systemLogs,
		Changes:  changes,
		Notifier: dispatcher,
		Settings: templateStore,
		Logger:   logger.Component("sessions"),
	})
	inboxSvc := inbox.NewService(inbox.Deps{
		Items:    inboxStore,
		Repo:     sessionStore,
		Raw:      raw,
		Activity: activity,
		Logs:     systemLogs,
		Notifier: dispatcher,
		Settings: templateStore,
		Locker:   locker,
		Logger:   logger.Component("inbox"),
	})
	pipeline := ingest.NewPipeline(ingest.Deps{
		Repo:     sessionStore,
		Raw:      raw,
		Inbox:    inboxStore,
		Logs:     systemLogs,
		Activity: activity,
		Notifier: dispatcher,
		Settings: templateStore,
		Alerts:   dispatcher,
		Locker:   locker,
		Forms: payload.FormIDs{
			Application: cfg.TallyApplicationFormID,
			Diagnosis:   cfg.TallyDiagnosisFormID,
		},
		Logger:      logger.Component("ingest"),
		TallySecret: cfg.TallySigningSecret,
	})
	inboxSvc.SetReprocessor(pipeline)

	// settlement
	var awsCfg *aws.Config
	if needsAWS(cfg) {
		loaded, err := LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		awsCfg = &loaded
	}
	settlementDeps := settlement.Deps{
		Sessions: sessionStore,
		Locks:    lockStore,
		Archive:  BuildArchive(awsCfg, cfg, logger.Component("archive")),
		Logs:     systemLogs,
		Logger:   logger.Component("settlement"),
	}
	if reporter := BuildReporter(awsCfg, cfg, logger.Component("email")); reporter != nil {
		settlementDeps.Mailer = reporter
	}
	settlementSvc := settlement.NewService(settlementDeps)

	// reminders
	reminderSvc := reminders.NewService(reminders.Deps{
		Templates: templateStore,
		Sessions:  sessionStore,
		Ledger:    reminderLog,
		Sender:    dispatcher,
		Settings:  templateStore,
		Logs:      systemLogs,
		Logger:    logger.Component("reminders"),
	})

	checks := map[string]handlers.HealthCheck{
		"postgres": in.Pool.Ping,
	}
	if in.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return in.Redis.Ping(ctx).Err() }
	}

	return &router.Config{
		Logger:             logger,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		MetricsHandler:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),

		Health: handlers.NewHealthHandler(checks),
		Auth: handlers.NewAuthHandler(handlers.AuthConfig{
			PasswordHash: cfg.AdminPasswordHash,
			JWTSecret:    cfg.AdminJWTSecret,
			TokenTTL:     cfg.AdminTokenTTL,
		}, logger.Component("auth")),
		Ingest:     ingest.NewHandler(pipeline, ingestMetrics, logger.Component("ingest")),
		Inbox:      inbox.NewHandler(inboxSvc, logger.Component("inbox")),
		Sessions:   sessions.NewHandler(sessionSvc, cronMetrics, logger.Component("sessions")),
		Settlement: settlement.NewHandler(settlementSvc, logger.Component("settlement")),
		Templates:  templates.NewHandler(templateStore, logger.Component("templates")),
		Messaging:  messaging.NewHandler(messaging.NewRefresher(smsLogs, provider, logger.Component("sms")), logger),
		Reminders:  reminders.NewHandler(reminderSvc, cronMetrics, logger.Component("reminders")),

		WebhookSecret:  cfg.WebhookSecretToken,
		CronSecret:     cfg.CronSecret,
		AdminJWTSecret: cfg.AdminJWTSecret,
		WebhookLimiter: httpmiddleware.NewRateLimiter(cfg.WebhookRateLimit, cfg.WebhookRateBurst),
	}, nil
}

// NewServer applies the API's timeouts to handler.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       serverReadTimeout,
		ReadHeaderTimeout: serverReadTimeout,
		WriteTimeout:      serverWriteTimeout,
		IdleTimeout:       serverIdleTimeout,
	}
}
