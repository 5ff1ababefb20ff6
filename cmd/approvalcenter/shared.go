package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	goutils "github.com/jkaninda/go-utils"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jkaninda/approvalcenter/internal/approval"
	"github.com/jkaninda/approvalcenter/internal/audit"
	"github.com/jkaninda/approvalcenter/internal/config"
	"github.com/jkaninda/approvalcenter/internal/escalation"
	"github.com/jkaninda/approvalcenter/internal/handlers/absence"
	"github.com/jkaninda/approvalcenter/internal/handlers/timecorrection"
	"github.com/jkaninda/approvalcenter/internal/notification"
	"github.com/jkaninda/approvalcenter/internal/observability"
	"github.com/jkaninda/approvalcenter/internal/secrets"
	"github.com/jkaninda/approvalcenter/internal/security"
	"github.com/jkaninda/approvalcenter/internal/sla"
	"github.com/jkaninda/approvalcenter/internal/storage"
	pgstore "github.com/jkaninda/approvalcenter/internal/storage/postgres"
	sqlitestore "github.com/jkaninda/approvalcenter/internal/storage/sqlite"
)

// SharedComponents holds every initialized subsystem. Built once by
// initShared, torn down by Cleanup.
type SharedComponents struct {
	Config *config.Config
	Logger *slog.Logger
	Store  storage.Store

	Obs        *observability.Observability
	Registry   *approval.Registry
	Rules      *sla.RuleProvider
	Audit      *audit.Logger
	Center     approval.Service // Instrumented when observability is on.
	Dispatcher *notification.Dispatcher
	Sweeper    *escalation.Sweeper

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// loadConfig resolves the config path (flag, then APPROVALCENTER_CONFIG, then
// the default location) and falls back to built-in defaults when no file exists.
func loadConfig(logger *slog.Logger) (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	path = goutils.Env("APPROVALCENTER_CONFIG", path)

	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Debug("config file not found, using defaults", slog.String("path", path))
		return config.Default()
	}
	return cfg, err
}

// initShared performs all common initialization. Callers must call
// sc.Cleanup() when done.
func initShared(cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			logger.Warn("flushing traces", slog.String("error", err.Error()))
		}
	})
	if obs != nil {
		logger.Debug("observability initialized",
			slog.Bool("metrics", obs.Metrics != nil),
			slog.Bool("tracing", obs.Tracer != nil),
			slog.Bool("anomaly", obs.Anomaly != nil),
		)
	}

	// Storage (SQLite default, PostgreSQL optional).
	store, err := openStore(cfg, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	sc.Store = store
	sc.addCleanup(func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	})
	if err := store.Migrate(context.Background()); err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	if health := obs.HealthOrNil(); health != nil {
		health.AddPinger("store", store)
	}

	reg := obs.Registry()

	// Approval core.
	sc.Rules = sla.NewRuleProvider(store.SLARules(), cfg.Approval.RuleCacheTTL(), logger)
	sc.Audit = audit.NewLogger(store.Audit(), audit.NewMetrics(reg), logger)

	authz := newAuthorizer(cfg, logger)
	pipeline := approval.PipelineConfig{
		Requests:  store.Requests(),
		Rules:     sc.Rules,
		Timeline:  sc.Audit,
		OverFetch: cfg.Approval.OverFetch(),
		Tracer:    obs.SpanTracer(),
		Logger:    logger,
	}
	sc.Registry = approval.NewRegistry()
	sc.Registry.Register(absence.New(store.Absences(), authz, pipeline))
	sc.Registry.Register(timecorrection.New(store.TimeCorrections(), authz, pipeline))
	logger.Debug("approval types registered", slog.Any("types", sc.Registry.ListTypes()))

	bulk := approval.NewBulkCoordinator(approval.BulkConfig{
		Registry:    sc.Registry,
		Requests:    store.Requests(),
		Audit:       sc.Audit,
		Idempotency: store.Idempotency(),
		FanOut:      cfg.Approval.FanOut(),
		MaxItems:    cfg.Approval.MaxBulk(),
		Logger:      logger,
	})
	sc.Center = obs.WrapCenter(approval.NewCenter(sc.Registry, store.Requests(), bulk, sc.Audit, logger))

	// Notifications and escalation.
	esc := cfg.Escalation
	resolver, err := newSecretResolver(cfg.Secrets)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing secrets: %w", err)
	}
	sc.Dispatcher, err = newDispatcher(store, esc, resolver, reg, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing notifications: %w", err)
	}

	sweeper, err := escalation.New(escalation.Config{
		Pager:    store.Requests(),
		Registry: sc.Registry,
		Rules:    sc.Rules,
		Ledger:   store.Idempotency(),
		Audit:    sc.Audit,
		Notifier: sc.Dispatcher,
		Channels: escalationChannels(esc),
		PageSize: esc.Page(),
		Metrics:  escalation.NewMetrics(reg),
		Tracer:   obs.SpanTracer(),
		Logger:   logger,
	})
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing escalation: %w", err)
	}
	sc.Sweeper = sweeper

	return sc, nil
}

// openStore opens the configured backend. Migrations are run by the caller.
func openStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch driver := cfg.StorageDriverName(); driver {
	case storage.DriverPostgres:
		pg := cfg.Storage.Postgres
		db, err := pgstore.Open(pgstore.Config{
			DSN:             pg.DSN,
			MaxOpenConns:    pg.MaxOpenConns,
			MaxIdleConns:    pg.MaxIdleConns,
			ConnMaxLifetime: pg.ConnMaxLifetime(),
		}, logger)
		if err != nil {
			return nil, err
		}
		return pgstore.NewStore(db), nil
	case storage.DriverSQLite:
		return sqlitestore.Open(sqlitestore.Config{
			Path:        cfg.DatabasePath(),
			JournalMode: cfg.Storage.SQLite.JournalMode,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}

// newAuthorizer returns the RBAC authorizer when roles are configured.
// Without an rbac section every authenticated approver may act on every type.
func newAuthorizer(cfg *config.Config, logger *slog.Logger) security.Authorizer {
	if cfg.RBAC == nil {
		logger.Warn("no rbac section configured, all approvers may act on every approval type")
		return security.AllowAll{}
	}
	return security.NewRBAC(*cfg.RBAC, logger)
}

// newSecretResolver builds the resolver for channel credentials. env:// is
// always available; vault:// only when a vault section is configured.
func newSecretResolver(cfg *config.SecretsConfig) (*secrets.Resolver, error) {
	if cfg == nil || cfg.Vault == nil {
		return secrets.NewResolver(), nil
	}
	vp, err := secrets.NewVaultProvider(*cfg.Vault)
	if err != nil {
		return nil, err
	}
	return secrets.NewResolver(vp), nil
}

// newDispatcher registers a sender for every channel type that has credentials.
// Bot tokens may themselves be secret references.
func newDispatcher(store storage.Store, esc *config.EscalationConfig, resolver *secrets.Resolver, reg *prometheus.Registry, logger *slog.Logger) (*notification.Dispatcher, error) {
	d := notification.NewDispatcher(store.NotificationChannels(), notification.NewMetrics(reg), logger).
		WithSecrets(resolver)

	allowPrivate := esc != nil && esc.AllowPrivateWebhooks
	d.RegisterSender(notification.NewWebhookSender(allowPrivate, logger))
	if esc == nil {
		return d, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if esc.SlackBotToken != "" {
		token, err := resolver.Resolve(ctx, esc.SlackBotToken)
		if err != nil {
			return nil, fmt.Errorf("slack bot token: %w", err)
		}
		d.RegisterSender(notification.NewSlackSender(token, logger))
	}
	if esc.TelegramBotToken != "" {
		token, err := resolver.Resolve(ctx, esc.TelegramBotToken)
		if err != nil {
			return nil, fmt.Errorf("telegram bot token: %w", err)
		}
		d.RegisterSender(notification.NewTelegramSender(token, logger))
	}
	return d, nil
}

func escalationChannels(esc *config.EscalationConfig) []string {
	if esc == nil {
		return nil
	}
	return esc.Channels
}

// newCLILogger is the text logger used by one-shot commands.
func newCLILogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
