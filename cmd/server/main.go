package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"alma/internal/access"
	"alma/internal/audittrail"
	consenthandler "alma/internal/consent/handler"
	consentservice "alma/internal/consent/service"
	"alma/internal/ethics"
	jwttoken "alma/internal/jwt_token"
	"alma/internal/platform/config"
	"alma/internal/platform/httpserver"
	"alma/internal/platform/logger"
	"alma/internal/platform/metrics"
	pgplatform "alma/internal/platform/postgres"
	redisplatform "alma/internal/platform/redis"
	"alma/internal/portfolio/cache"
	portfoliohandler "alma/internal/portfolio/handler"
	portfolioservice "alma/internal/portfolio/service"
	ratelimitmw "alma/internal/ratelimit/middleware"
	ratelimitmodels "alma/internal/ratelimit/models"
	ratelimitservice "alma/internal/ratelimit/service"
	"alma/internal/ratelimit/store/bucket"
	registryhandler "alma/internal/registry/handler"
	registryservice "alma/internal/registry/service"
	"alma/internal/storage"
	"alma/internal/storage/memory"
	pgstore "alma/internal/storage/postgres"
	httptransport "alma/internal/transport/http"
	"alma/internal/translation"
	usagehandler "alma/internal/usage/handler"
	"alma/internal/usage/publisher"
	usageservice "alma/internal/usage/service"
	audit "alma/pkg/platform/audit"
	"alma/pkg/platform/audit/publishers/compliance"
	"alma/pkg/platform/audit/publishers/security"
	auditmemory "alma/pkg/platform/audit/store/memory"
	auditpostgres "alma/pkg/platform/audit/store/postgres"
	"alma/pkg/platform/circuit"
)

const securityBufferSize = 4096

// main wires configuration, storage, services and the HTTP router, then runs
// the server until SIGINT or SIGTERM.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

type closer func()

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	var cleanups []closer
	defer func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	health := map[string]httptransport.HealthCheck{}

	backend, auditStore, db, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	if db != nil {
		cleanups = append(cleanups, func() { _ = db.Close() })
		health["postgres"] = db.PingContext
	}

	complianceAuditor := compliance.New(auditStore, compliance.WithLogger(log))
	securityAuditor := security.New(auditStore, securityBufferSize, log)
	auditCtx, stopAudit := context.WithCancel(context.Background())
	auditDone := make(chan struct{})
	go func() {
		defer close(auditDone)
		securityAuditor.Run(auditCtx)
	}()
	cleanups = append(cleanups, func() {
		stopAudit()
		<-auditDone
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		securityAuditor.Flush(flushCtx)
	})

	pub, err := openPublisher(cfg, log)
	if err != nil {
		return err
	}
	cleanups = append(cleanups, pub.Close)

	gate := access.NewGate(backend,
		access.WithMetrics(m),
		access.WithAuditor(securityAuditor),
		access.WithLogger(log),
	)
	usage := usageservice.New(backend, gate,
		usageservice.WithLogger(log),
		usageservice.WithMetrics(m),
		usageservice.WithPublisher(pub),
	)
	registry := registryservice.New(backend, backend, gate,
		registryservice.WithLogger(log),
		registryservice.WithMetrics(m),
		registryservice.WithUsageLogger(usage),
		registryservice.WithAuditor(complianceAuditor),
	)
	consent := consentservice.New(backend, backend, gate,
		consentservice.WithLogger(log),
		consentservice.WithMetrics(m),
		consentservice.WithAuditor(complianceAuditor),
	)

	portfolioOpts := []portfolioservice.Option{
		portfolioservice.WithLogger(log),
		portfolioservice.WithMetrics(m),
	}
	rdb, err := redisplatform.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rdb != nil {
		cleanups = append(cleanups, func() { _ = rdb.Close() })
		health["redis"] = rdb.Health
		signalCache := cache.NewGuarded(cache.NewRedis(rdb, cfg.Redis.SignalTTL), circuit.New("signal-cache"), log)
		portfolioOpts = append(portfolioOpts, portfolioservice.WithCache(signalCache))
		log.Info("signal cache enabled", "ttl", cfg.Redis.SignalTTL)
	}
	portfolio := portfolioservice.New(registry, portfolioOpts...)

	limiter, err := newRateLimiter(cfg, rdb, m, log)
	if err != nil {
		return err
	}

	jwtService := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer, cfg.Server.JWTAudience)
	router := httptransport.NewRouter(httptransport.Deps{
		Logger:         log,
		Validator:      jwttoken.NewJWTServiceAdapter(jwtService),
		Latency:        m,
		Gatherer:       reg,
		RequestTimeout: cfg.Server.RequestTimeout,
		RateLimit:      limiter.RateLimit,
		Health:         health,
		Handlers: []httptransport.Registrar{
			registryhandler.New(registry, log),
			consenthandler.New(consent, log),
			usagehandler.New(usage, log),
			portfoliohandler.New(portfolio, log),
			ethics.NewHandler(log, ethics.WithAuditor(securityAuditor)),
			audittrail.NewHandler(auditStore, log),
			translation.NewHandler(log),
		},
	})

	log.Info("starting alma", "addr", cfg.Server.Addr, "env", cfg.Env)
	srv := httpserver.New(cfg.Server.Addr, router, cfg.Server.RequestTimeout)
	return httpserver.ListenAndRun(ctx, srv, log, httpserver.DefaultShutdownTimeout)
}

// openStorage selects Postgres when a database URL is configured and the
// in-memory backend otherwise. db is nil for the memory backend.
func openStorage(ctx context.Context, cfg config.Config, log *slog.Logger) (storage.Backend, audit.Store, *sql.DB, error) {
	if cfg.Storage.DatabaseURL == "" {
		if cfg.IsProduction() {
			return nil, nil, nil, errors.New("ALMA_DATABASE_URL is required in production")
		}
		log.Warn("no database configured; using in-memory storage")
		return memory.New(memory.WithTxTimeout(cfg.Storage.ConsentTxTimeout)), auditmemory.NewInMemoryStore(), nil, nil
	}
	db, err := pgplatform.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := pgstore.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}
	log.Info("postgres storage ready", "max_open_conns", cfg.Storage.MaxOpenConns)
	return pgstore.New(db, pgstore.WithTxTimeout(cfg.Storage.ConsentTxTimeout)), auditpostgres.New(db), db, nil
}

type attributionPublisher interface {
	usageservice.Publisher
	Close()
}

func openPublisher(cfg config.Config, log *slog.Logger) (attributionPublisher, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		log.Info("no kafka brokers configured; attribution events stay local")
		return publisher.Noop{}, nil
	}
	k, err := publisher.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.AttributionTopic)
	if err != nil {
		return nil, err
	}
	log.Info("attribution publisher ready", "topic", cfg.Kafka.AttributionTopic)
	return k, nil
}

// newRateLimiter counts in Redis when it is configured, with process memory
// taking over while Redis is failing. Without Redis buckets are per replica.
func newRateLimiter(cfg config.Config, rdb *redisplatform.Client, m *metrics.Metrics, log *slog.Logger) (*ratelimitmw.Middleware, error) {
	opts := []ratelimitservice.Option{
		ratelimitservice.WithLogger(log),
		ratelimitservice.WithMetrics(m),
		ratelimitservice.WithLimits(map[ratelimitmodels.EndpointClass]ratelimitmodels.Limit{
			ratelimitmodels.ClassRead:  {Requests: cfg.RateLimit.ReadPerWindow, Window: cfg.RateLimit.Window},
			ratelimitmodels.ClassWrite: {Requests: cfg.RateLimit.WritePerWindow, Window: cfg.RateLimit.Window},
		}),
	}
	var primary ratelimitservice.BucketStore = bucket.New()
	if rdb != nil {
		primary = bucket.NewRedis(rdb)
		opts = append(opts, ratelimitservice.WithFallback(bucket.New(), circuit.New("ratelimit-store")))
	}
	svc, err := ratelimitservice.New(primary, opts...)
	if err != nil {
		return nil, err
	}
	return ratelimitmw.New(svc, log, ratelimitmw.WithDisabled(!cfg.RateLimit.Enabled)), nil
}
