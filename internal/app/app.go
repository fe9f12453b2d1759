package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/atvirokodosprendimai/useraudit/internal/adapters/events"
	"github.com/atvirokodosprendimai/useraudit/internal/adapters/httpapi"
	"github.com/atvirokodosprendimai/useraudit/internal/adapters/security"
	sqliteadapter "github.com/atvirokodosprendimai/useraudit/internal/adapters/sqlite"
	"github.com/atvirokodosprendimai/useraudit/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/useraudit/internal/core/dispatch"
	"github.com/atvirokodosprendimai/useraudit/internal/core/domain"
	"github.com/atvirokodosprendimai/useraudit/internal/core/usecase"
	"github.com/atvirokodosprendimai/useraudit/migrations"
)

type DispatchMode string

const (
	// DispatchSync runs handlers right after the user write commits.
	DispatchSync DispatchMode = "sync"
	// DispatchOutbox stores events with the user write and relays them later.
	DispatchOutbox DispatchMode = "outbox"
)

func ParseDispatchMode(raw string) (DispatchMode, error) {
	switch m := DispatchMode(raw); m {
	case DispatchSync, DispatchOutbox:
		return m, nil
	case "":
		return DispatchSync, nil
	default:
		return "", fmt.Errorf("unknown dispatch mode %q", raw)
	}
}

type Config struct {
	Addr               string
	DBPath             string
	DispatchMode       string
	AuditFailurePolicy string

	OutboxInterval    time.Duration
	OutboxBatchSize   int
	OutboxMaxAttempts int

	BootstrapAPIKey  string
	BootstrapTenant  string
	BootstrapKeyName string

	WebhookURL     string
	WebhookSecret  string
	WebhookTimeout time.Duration

	CORSOrigins     []string
	BcryptCost      int
	ResetTokenTTL   time.Duration
	ShutdownTimeout time.Duration
}

type resourceCloser struct {
	closers []io.Closer
}

func (r resourceCloser) Close() error {
	var firstErr error
	for _, c := range r.closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// App is the assembled service: one dispatcher, its subscribers, the HTTP
// server and, in outbox mode, the relay worker.
type App struct {
	server          *http.Server
	relay           *usecase.OutboxRelay
	outbox          *sqliteadapter.OutboxRepository
	codec           *usecase.EventCodec
	audits          *usecase.AuditService
	apiKeys         *sqliteadapter.APIKeyRepository
	dispatcher      *dispatch.Dispatcher
	log             *zap.Logger
	shutdownTimeout time.Duration
	closer          io.Closer
}

func New(ctx context.Context, cfg Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	mode, err := ParseDispatchMode(cfg.DispatchMode)
	if err != nil {
		return nil, err
	}
	policy, err := dispatch.ParseFailurePolicy(cfg.AuditFailurePolicy)
	if err != nil {
		return nil, err
	}

	db, err := gormsqlite.Open(cfg.DBPath, log)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	writeSQLDB, err := db.WriteSQLDB()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("resolve writer sql db: %w", err)
	}

	migrateCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := migrations.Up(migrateCtx, writeSQLDB); err != nil {
		_ = db.Close()
		return nil, err
	}
	schemaVersion, err := migrations.Version(migrateCtx, writeSQLDB)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	dispatcher := dispatch.New(
		dispatch.WithFailurePolicy(policy),
		dispatch.WithLogger(log),
		dispatch.WithMetrics(dispatch.NewMetrics(reg)),
	)
	codec := usecase.NewEventCodec()

	userRepo := sqliteadapter.NewUserRepository(db, dispatcher)
	if mode == DispatchOutbox {
		userRepo = userRepo.WithOutbox(codec)
	}
	apiKeyRepo := sqliteadapter.NewAPIKeyRepository(db)
	auditService := usecase.NewAuditService(sqliteadapter.NewAuditRepository(db), userRepo)

	usecase.RegisterAuditSubscribers(dispatcher, auditService)
	dispatcher.SubscribeAll(events.NewLogSink(log).Handle)
	if cfg.WebhookURL != "" {
		webhook := events.NewWebhookPublisher(cfg.WebhookURL, cfg.WebhookSecret, cfg.WebhookTimeout, codec)
		dispatcher.SubscribeAll(bestEffort(log.Named("webhook"), webhook.Handle))
	}
	if missing := dispatcher.MissingKinds(); len(missing) > 0 {
		_ = db.Close()
		return nil, fmt.Errorf("event kinds without handlers: %v", missing)
	}
	dispatcher.Enable()

	closers := []io.Closer{db}
	outboxRepo := sqliteadapter.NewOutboxRepository(db)
	var relay *usecase.OutboxRelay
	if mode == DispatchOutbox {
		relay = usecase.NewOutboxRelay(outboxRepo, dispatcher, codec, log.Named("outbox"), usecase.OutboxRelayConfig{
			Interval:    cfg.OutboxInterval,
			BatchSize:   cfg.OutboxBatchSize,
			MaxAttempts: cfg.OutboxMaxAttempts,
		})
		registerRelayMetrics(reg, relay)
		closers = append([]io.Closer{relay}, closers...)
	}

	if err := bootstrapAPIKey(ctx, apiKeyRepo, cfg); err != nil {
		_ = db.Close()
		return nil, err
	}

	users := usecase.NewUserService(userRepo, security.NewBcryptHasher(cfg.BcryptCost), events.NewLogResetNotifier(log), cfg.ResetTokenTTL)
	handler, err := httpapi.NewHandler(users, auditService, usecase.NewAuthService(apiKeyRepo, userRepo), log, httpapi.Config{
		CORSOrigins: cfg.CORSOrigins,
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Instrument:  httpapi.NewHTTPMetrics(reg),
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("build http handler: %w", err)
	}

	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	log.Info("service assembled",
		zap.Int64("schema_version", schemaVersion),
		zap.String("dispatch_mode", string(mode)),
		zap.String("audit_failure_policy", string(policy)),
		zap.Bool("webhook", cfg.WebhookURL != ""),
	)

	return &App{
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		relay:           relay,
		outbox:          outboxRepo,
		codec:           codec,
		audits:          auditService,
		apiKeys:         apiKeyRepo,
		dispatcher:      dispatcher,
		log:             log,
		shutdownTimeout: shutdownTimeout,
		closer:          resourceCloser{closers: closers},
	}, nil
}

func (a *App) Handler() http.Handler { return a.server.Handler }

// Run serves HTTP, and relays the outbox when enabled, until ctx is done or
// one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})
	if a.relay != nil {
		g.Go(func() error { return a.relay.Run(gctx) })
	}
	return g.Wait()
}

// ReplayAudit writes audit logs missing for a tenant's relayed outbox events
// and reports how many events it went through.
func (a *App) ReplayAudit(ctx context.Context, tenantID string) (int, error) {
	n, err := usecase.RebuildAuditTrail(ctx, a.outbox, a.codec, a.audits, tenantID)
	if err != nil {
		return n, err
	}
	a.log.Info("audit trail replayed", zap.String("tenant_id", tenantID), zap.Int("events", n))
	return n, nil
}

// RevokeAPIKey deactivates the tenant's keys with the given name.
func (a *App) RevokeAPIKey(ctx context.Context, tenantID, name string) (int64, error) {
	n, err := a.apiKeys.Revoke(ctx, tenantID, name)
	if err != nil {
		return 0, err
	}
	a.log.Info("api keys revoked", zap.String("tenant_id", tenantID), zap.String("name", name), zap.Int64("count", n))
	return n, nil
}

func (a *App) Close() error {
	a.dispatcher.Disable()
	return a.closer.Close()
}

func bootstrapAPIKey(ctx context.Context, repo *sqliteadapter.APIKeyRepository, cfg Config) error {
	if cfg.BootstrapAPIKey == "" {
		return nil
	}
	tenant := cfg.BootstrapTenant
	if tenant == "" {
		tenant = "default"
	}
	name := cfg.BootstrapKeyName
	if name == "" {
		name = "bootstrap"
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := repo.Upsert(ctx, domain.APIKey{
		TokenHash: usecase.HashToken(cfg.BootstrapAPIKey),
		TenantID:  tenant,
		Name:      name,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("bootstrap api key: %w", err)
	}
	return nil
}

// bestEffort keeps an optional sink from failing user operations under the
// propagate policy.
func bestEffort(log *zap.Logger, h dispatch.Handler) dispatch.Handler {
	return func(ctx context.Context, event domain.Event) error {
		if err := h(ctx, event); err != nil {
			log.Warn("optional event sink failed",
				zap.String("event_kind", string(event.Kind())),
				zap.String("event_id", event.Meta().EventID),
				zap.Error(err),
			)
		}
		return nil
	}
}

func registerRelayMetrics(reg prometheus.Registerer, relay *usecase.OutboxRelay) {
	factory := promauto.With(reg)
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "useraudit_outbox_dispatch_success_total",
		Help: "Outbox events relayed to the dispatcher",
	}, func() float64 { return float64(relay.Metrics().DispatchSuccessTotal) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "useraudit_outbox_dispatch_failure_total",
		Help: "Outbox relay attempts that failed and will be retried",
	}, func() float64 { return float64(relay.Metrics().DispatchFailureTotal) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "useraudit_outbox_dispatch_dead_total",
		Help: "Outbox events moved to dead after exhausting retries",
	}, func() float64 { return float64(relay.Metrics().DispatchDeadTotal) })
}
