// Package main is the entry point for the QMS approval workflow server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jinkaiteo/QMS-sub001/internal/audit"
	"github.com/jinkaiteo/QMS-sub001/internal/capability"
	"github.com/jinkaiteo/QMS-sub001/internal/casemachine"
	"github.com/jinkaiteo/QMS-sub001/internal/comment"
	"github.com/jinkaiteo/QMS-sub001/internal/config"
	"github.com/jinkaiteo/QMS-sub001/internal/engine"
	"github.com/jinkaiteo/QMS-sub001/internal/idempotency"
	"github.com/jinkaiteo/QMS-sub001/internal/notify"
	"github.com/jinkaiteo/QMS-sub001/internal/observability"
	"github.com/jinkaiteo/QMS-sub001/internal/signature"
	"github.com/jinkaiteo/QMS-sub001/internal/template"
	"github.com/jinkaiteo/QMS-sub001/internal/transport"
	"github.com/jinkaiteo/QMS-sub001/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "qms", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Persistence. All stores share one pool in postgres mode; in memory
	// mode each package keeps its own map-backed store.
	stores, storeCloser, err := buildStores(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("store initialization failed", zap.Error(err))
		return 1
	}

	// Event publishing.
	publisher, publisherCloser, err := buildPublisher(cfg.Notify, logger)
	if err != nil {
		logger.Error("event publisher initialization failed", zap.Error(err))
		return 1
	}

	// Audit ledger underpins every other service.
	ledger := audit.NewLedger(stores.audit, logger)

	// Workflow templates, seeded from the configured directory.
	registry := template.NewRegistry(stores.template, ledger, logger)
	seeded, err := template.NewLoader(stores.template, logger).LoadDir(ctx, cfg.Templates.SeedDirectory)
	if err != nil {
		logger.Error("template seeding failed", zap.Error(err))
		return 1
	}
	logger.Info("workflow templates seeded", zap.Int("loaded", seeded))

	templateCount := func() int {
		tpls, err := registry.List(ctx, "")
		if err != nil {
			return 0
		}
		return len(tpls)
	}
	metrics.SetTemplatesLoaded(float64(templateCount()))

	// Capability policy.
	checker, err := buildCapabilityChecker(cfg.Capability, logger)
	if err != nil {
		logger.Error("capability checker initialization failed", zap.Error(err))
		return 1
	}

	// Electronic signatures. Password re-verification goes through the
	// identity provider when a reauth endpoint is configured.
	var verifier signature.CredentialVerifier
	if cfg.Identity.ReauthTokenURL != "" {
		verifier = signature.NewIdentityProviderVerifier(cfg.Identity.ReauthTokenURL, cfg.Identity.ReauthClientID)
	}
	signatures := signature.NewService(stores.signature, ledger, verifier, publisher, logger)

	wfEngine, err := engine.NewEngine(stores.engine, registry, signatures, ledger, checker, publisher, logger)
	if err != nil {
		logger.Error("workflow engine initialization failed", zap.Error(err))
		return 1
	}

	cases, err := casemachine.NewMachine(stores.cases, ledger, publisher, logger)
	if err != nil {
		logger.Error("case machine initialization failed", zap.Error(err))
		return 1
	}
	registerCaseCallbacks(wfEngine, cases)

	comments := comment.NewService(stores.comment, logger)

	// Request deduplication (optional).
	idemStore, idemCloser := buildIdempotencyStore(cfg.Idempotency, logger)

	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)

	readiness := observability.ReadinessChecks{
		TemplatesLoaded: func() bool { return templateCount() > 0 },
	}
	if hc, ok := stores.engine.(observability.HealthChecker); ok {
		readiness.WorkflowStore = hc
	}
	if hc, ok := stores.audit.(observability.HealthChecker); ok {
		readiness.AuditStore = hc
	}
	if hc, ok := idemStore.(observability.HealthChecker); ok {
		readiness.IdempotencyStore = hc
	}
	if hc, ok := publisher.(observability.HealthChecker); ok {
		readiness.EventPublisher = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Authenticate: transport.JWTAuthenticator(cfg.Identity, jwks),
		Engine:       wfEngine,
		Templates:    registry,
		Signatures:   signatures,
		Ledger:       ledger,
		Cases:        cases,
		Comments:     comments,
		Idempotency:  idemStore,
		Metrics:      metrics,
		Readiness:    readiness,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	go runExpirySweeper(bgCtx, wfEngine, cfg.Workflow.ExpirySweepInterval, logger)

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("store_driver", cfg.Store.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	bgCancel()

	if publisherCloser != nil {
		publisherCloser()
	}
	if idemCloser != nil {
		idemCloser()
	}
	if storeCloser != nil {
		storeCloser()
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// storeSet bundles the per-package stores so run() can pass them around as
// one unit regardless of driver.
type storeSet struct {
	engine    engine.Store
	audit     audit.Store
	signature signature.Store
	template  template.Store
	comment   comment.Store
	cases     casemachine.Store
}

// buildStores creates all persistence stores for the configured driver.
func buildStores(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (storeSet, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("using in-memory stores")
		return storeSet{
			engine:    engine.NewMemoryStore(),
			audit:     audit.NewMemoryStore(),
			signature: signature.NewMemoryStore(),
			template:  template.NewMemoryStore(),
			comment:   comment.NewMemoryStore(),
			cases:     casemachine.NewMemoryStore(),
		}, nil, nil
	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return storeSet{}, nil, fmt.Errorf("store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return storeSet{}, nil, fmt.Errorf("store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxConns)
		poolCfg.MinConns = int32(cfg.MinConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return storeSet{}, nil, fmt.Errorf("store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return storeSet{}, nil, fmt.Errorf("store: ping: %w", err)
		}

		return storeSet{
			engine:    engine.NewPgStore(pool),
			audit:     audit.NewPgStore(pool),
			signature: signature.NewPgStore(pool),
			template:  template.NewPgStore(pool),
			comment:   comment.NewPgStore(pool),
			cases:     casemachine.NewPgStore(pool),
		}, pool.Close, nil
	default:
		return storeSet{}, nil, fmt.Errorf("unsupported store driver: %q", cfg.Driver)
	}
}

// buildPublisher creates the event publisher based on config.
func buildPublisher(cfg config.NotifyConfig, logger *zap.Logger) (notify.Publisher, func(), error) {
	if !cfg.Enabled {
		return notify.NopPublisher{}, nil, nil
	}

	url := os.Getenv(cfg.URLEnv)
	if url == "" {
		logger.Warn("NATS URL not configured, using in-memory publisher")
		return notify.NewMemoryPublisher(), nil, nil
	}

	pub, err := notify.NewNATSPublisher(url, cfg.SubjectPrefix, "qms-"+version)
	if err != nil {
		return nil, nil, err
	}
	return pub, pub.Close, nil
}

// buildCapabilityChecker creates the policy checker from the static policy
// file, with a TTL cache in front of the evaluator.
func buildCapabilityChecker(cfg config.CapabilityConfig, logger *zap.Logger) (model.CapabilityChecker, error) {
	evaluator, err := capability.NewStaticPolicyEvaluator(cfg.StaticPolicyFile)
	if err != nil {
		return nil, fmt.Errorf("static policy: %w", err)
	}
	resolver := capability.NewResolver(evaluator, cfg.Cache.TTL)
	return capability.NewChecker(resolver, logger), nil
}

// buildIdempotencyStore creates the idempotency store based on config.
// A nil store disables request deduplication.
func buildIdempotencyStore(cfg config.IdempotencyConfig, logger *zap.Logger) (idempotency.Store, func()) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Driver {
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			logger.Warn("Redis address not configured, using in-memory idempotency store")
			return idempotency.NewMemoryStore(), nil
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		return idempotency.NewRedisStore(client), func() { client.Close() }
	default:
		logger.Info("using in-memory idempotency store")
		return idempotency.NewMemoryStore(), nil
	}
}

// registerCaseCallbacks wires workflow outcomes back into the case machine
// so an approval workflow completing on a case advances its lifecycle.
func registerCaseCallbacks(wf *engine.Engine, cases *casemachine.Machine) {
	rctx := systemContext()

	wf.RegisterCallback(string(model.CaseCAPA), func(ctx context.Context, inst model.WorkflowInstance, outcome engine.Outcome, _ string) error {
		if outcome != engine.OutcomeCompleted {
			return nil
		}
		// Closure approval: a completed workflow closes a verified CAPA.
		_, err := cases.Transition(ctx, rctx, inst.TargetID, model.CaseActionClose)
		return err
	})

	wf.RegisterCallback(string(model.CaseQualityEvent), func(ctx context.Context, inst model.WorkflowInstance, outcome engine.Outcome, _ string) error {
		if outcome != engine.OutcomeCompleted {
			return nil
		}
		_, err := cases.Transition(ctx, rctx, inst.TargetID, model.CaseActionApprove)
		return err
	})
}

// systemContext is the actor recorded for actions the server takes on its
// own behalf, such as expiry sweeps and workflow-driven case transitions.
func systemContext() *model.RequestContext {
	return &model.RequestContext{
		SubjectID:   "system",
		DisplayName: "System",
		Roles:       []string{"system"},
	}
}

// runExpirySweeper periodically expires overdue workflow instances.
func runExpirySweeper(ctx context.Context, wf *engine.Engine, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	rctx := systemContext()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := wf.SweepExpired(ctx, rctx, time.Now())
			if err != nil {
				logger.Error("expiry sweep failed", zap.Error(err))
				continue
			}
			if expired > 0 {
				logger.Info("expired overdue workflows", zap.Int("count", expired))
			}
		}
	}
}
