package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	jwttoken "ozhi/internal/jwt_token"
	"ozhi/internal/platform/config"
	"ozhi/internal/platform/httpserver"
	"ozhi/internal/platform/kafka"
	"ozhi/internal/platform/logger"
	"ozhi/internal/platform/metrics"
	"ozhi/internal/platform/postgres"
	"ozhi/internal/platform/redis"
	httptransport "ozhi/internal/transport/http"
	audit "ozhi/pkg/platform/audit"
	"ozhi/pkg/platform/audit/plugins/filter"
	"ozhi/pkg/platform/audit/plugins/notification"
	"ozhi/pkg/platform/audit/plugins/payment"
	"ozhi/pkg/platform/audit/plugins/redact"
	"ozhi/pkg/platform/audit/plugins/security"
	"ozhi/pkg/platform/audit/plugins/stream"
	"ozhi/pkg/platform/audit/plugins/tracing"
	"ozhi/pkg/platform/audit/plugins/useragent"
	"ozhi/pkg/platform/audit/store/memory"
	pgstore "ozhi/pkg/platform/audit/store/postgres"
	"ozhi/pkg/platform/circuit"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		var initErr *audit.PluginInitError
		if errors.As(err, &initErr) {
			log.Error("audit plugin failed to initialize", "plugin", initErr.Plugin, "error", initErr.Err)
		} else {
			log.Error("server stopped", "error", err)
		}
		os.Exit(1)
	}
}

// infra holds the optional backing services. Nil fields are not configured.
type infra struct {
	db    *sql.DB
	redis *redis.Client
	kafka *kafka.Client
}

func (i *infra) close(log *slog.Logger) {
	if i.kafka != nil {
		i.kafka.Close()
	}
	if i.redis != nil {
		if err := i.redis.Close(); err != nil {
			log.Warn("failed to close redis", "error", err)
		}
	}
	if i.db != nil {
		if err := i.db.Close(); err != nil {
			log.Warn("failed to close postgres", "error", err)
		}
	}
}

func connect(ctx context.Context, cfg config.Config) (*infra, error) {
	i := &infra{}
	var err error
	if i.db, err = postgres.Open(ctx, cfg.Database); err != nil {
		return nil, err
	}
	if i.redis, err = redis.New(ctx, cfg.Redis); err != nil {
		i.close(slog.Default())
		return nil, err
	}
	if i.kafka, err = kafka.New(ctx, cfg.Kafka); err != nil {
		i.close(slog.Default())
		return nil, err
	}
	return i, nil
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	deps, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.close(log)

	var store audit.Store
	health := map[string]httptransport.HealthCheck{}
	if deps.db != nil {
		pg := pgstore.New(deps.db)
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		store = pg
		health["postgres"] = deps.db.PingContext
		log.Info("using postgres audit store")
	} else {
		store = memory.NewInMemoryStore()
		log.Warn("DATABASE_URL not set, audit records are kept in memory")
	}
	if deps.redis != nil {
		health["redis"] = deps.redis.Health
	}

	m := metrics.New()
	opts := []audit.Option{
		audit.WithLogger(log),
		audit.WithMetrics(audit.NewMetrics(m.Registry)),
	}
	if len(cfg.Audit.CriticalActions) > 0 {
		opts = append(opts, audit.WithCriticalActions(cfg.Audit.CriticalActions...))
	}
	auditor, err := audit.New(store, opts...)
	if err != nil {
		return err
	}

	plugins, err := buildPlugins(cfg, deps, m, log)
	if err != nil {
		return err
	}
	for _, p := range plugins {
		if err := auditor.Register(p); err != nil {
			return err
		}
	}
	if err := auditor.Initialize(ctx); err != nil {
		return err
	}
	log.Info("audit pipeline ready", "plugins", auditor.Plugins())

	routerDeps := httptransport.Deps{
		Auditor: auditor,
		Reader:  store,
		Metrics: m,
		Health:  health,
		Logger:  log,
	}
	if cfg.JWT.SigningKey != "" {
		routerDeps.Resolver = jwttoken.NewSessionResolver(jwttoken.NewJWTService(cfg.JWT.SigningKey, cfg.JWT.Issuer))
		routerDeps.RequireActor = true
	} else {
		log.Warn("JWT_SIGNING_KEY not set, audit reads are unauthenticated")
	}

	srv := httpserver.New(cfg.Server.Addr, httptransport.NewRouter(routerDeps))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting audit server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// buildPlugins returns the plugins in registration order: enrichment and redaction run
// before the filter so vetoes see the final event; alerting and streaming run last.
func buildPlugins(cfg config.Config, deps *infra, m *metrics.Metrics, log *slog.Logger) ([]audit.Plugin, error) {
	plugins := []audit.Plugin{tracing.New(), useragent.New()}

	if len(cfg.Redact.Fields) > 0 {
		p, err := redact.New([]byte(cfg.Redact.Key), cfg.Redact.Fields...)
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, p)
	}

	if cfg.Stripe.APIKey != "" {
		provider, err := payment.NewStripeProvider(cfg.Stripe.APIKey)
		if err != nil {
			return nil, err
		}
		p, err := payment.New(provider, payment.WithLogger(log))
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, p)
	}

	var filterOpts []filter.Option
	if len(cfg.Audit.BlockedTargetTypes) > 0 {
		filterOpts = append(filterOpts, filter.WithRule(filter.Rule{TargetTypes: cfg.Audit.BlockedTargetTypes}))
	}
	if cfg.Audit.Sampling() {
		filterOpts = append(filterOpts, filter.WithSampler(filter.NewSampler(cfg.Audit.SampleDefaultRate, cfg.Audit.SampleRates)))
	}
	if len(filterOpts) > 0 {
		plugins = append(plugins, filter.New(filterOpts...))
	}

	var counter security.Counter = security.NewMemoryCounter(nil)
	if deps.redis != nil {
		counter = security.NewRedisCounter(deps.redis.Client)
	}
	sec, err := security.New(counter,
		security.WithMaxFailedAttempts(cfg.Security.MaxFailedAttempts),
		security.WithWindow(cfg.Security.Window),
		security.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	plugins = append(plugins, sec)

	var notifier notification.Notifier = notification.LogNotifier{Logger: log}
	if cfg.Notify.WebhookURL != "" {
		notifier = notification.NewWebhookNotifier(cfg.Notify.WebhookURL, nil)
	}
	notify, err := notification.New(notifier, notification.WithThreshold(audit.Severity(cfg.Notify.SeverityThreshold)))
	if err != nil {
		return nil, err
	}
	plugins = append(plugins, notify)

	if deps.kafka != nil {
		p, err := stream.New(deps.kafka.Client,
			stream.WithTopic(cfg.Kafka.Topic),
			stream.WithTopicCreator(deps.kafka.Admin, -1, -1),
			stream.WithBreaker(circuit.New("kafka")),
			stream.WithLogger(log),
			stream.WithMetrics(stream.NewMetrics(m.Registry)),
		)
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, p)
	}

	return plugins, nil
}
