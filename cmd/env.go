package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/sells-group/trend-curator/internal/config"
	"github.com/sells-group/trend-curator/internal/cost"
	"github.com/sells-group/trend-curator/internal/curation"
	"github.com/sells-group/trend-curator/internal/filter"
	"github.com/sells-group/trend-curator/internal/lock"
	"github.com/sells-group/trend-curator/internal/monitoring"
	"github.com/sells-group/trend-curator/internal/resilience"
	"github.com/sells-group/trend-curator/internal/scheduler"
	"github.com/sells-group/trend-curator/internal/store"
	anthropicpkg "github.com/sells-group/trend-curator/pkg/anthropic"
	"github.com/sells-group/trend-curator/pkg/apify"
	"github.com/sells-group/trend-curator/pkg/gemini"
)

// visionConcurrency bounds parallel video analyses within one run.
const visionConcurrency = 3

// curatorEnv holds the initialized store, providers and orchestrator needed
// by the serve and scan commands.
type curatorEnv struct {
	Store     store.Store
	Orch      *curation.Orchestrator
	Scheduler scheduler.Scheduler
	Metrics   *monitoring.Metrics
	Registry  *prometheus.Registry
	Alerter   *monitoring.Alerter

	closers []func()
}

// Close releases resources held by the environment in reverse order.
func (e *curatorEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// pricingRates overlays configured pricing onto the default table.
func pricingRates(p config.PricingConfig) cost.Rates {
	rates := cost.DefaultRates()
	for model, mp := range p.Anthropic {
		rates.Anthropic[model] = cost.ModelRate(mp)
	}
	for model, mp := range p.Gemini {
		rates.Gemini[model] = cost.ModelRate(mp)
	}
	if p.Apify.PerThousandResults > 0 {
		rates.Apify.PerThousandResults = p.Apify.PerThousandResults
	}
	return rates
}

// newGuard builds the per-provider guard. Breaker transitions feed the
// breaker gauge.
func newGuard(service string, timeout time.Duration, metrics *monitoring.Metrics) *resilience.Guard {
	retry := resilience.FromRetryConfig(
		cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs,
		cfg.Retry.Multiplier, cfg.Retry.JitterFraction,
	)
	breaker := resilience.FromCircuitConfig(cfg.Circuit.FailureThreshold, cfg.Circuit.ResetTimeoutSecs)
	breaker.OnStateChange = func(service string, from, to resilience.BreakerState) {
		zap.L().Warn("circuit breaker state change",
			zap.String("service", service),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
		metrics.SetBreakerState(service, int(to))
	}
	return resilience.NewGuard(service, timeout, retry, breaker)
}

func initLocker(ctx context.Context) (lock.Locker, func(), error) {
	if cfg.Lock.Driver != "redis" {
		return lock.NewLocal(), func() {}, nil
	}
	rc, err := lock.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, nil, err
	}
	ttl := time.Duration(cfg.Redis.LockTTLSecs) * time.Second
	zap.L().Info("using redis run lock", zap.String("addr", cfg.Redis.Addr))
	return lock.NewRedis(rc, "curator:run:", ttl), func() { _ = rc.Close() }, nil
}

// initScheduler builds the configured trigger backend around run.
func initScheduler(run scheduler.RunFunc) (scheduler.Scheduler, func(), error) {
	if cfg.Scheduler.Driver != "temporal" {
		return scheduler.NewCron(run), func() {}, nil
	}
	tc, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return nil, nil, eris.Wrap(err, "dial temporal")
	}
	zap.L().Info("using temporal scheduler",
		zap.String("host_port", cfg.Temporal.HostPort),
		zap.String("task_queue", cfg.Temporal.TaskQueue),
	)
	opts := scheduler.WorkflowOptions{RunTimeout: cfg.Curation.RunTimeout()}
	return scheduler.NewTemporal(tc, cfg.Temporal.TaskQueue, opts, run), tc.Close, nil
}

// initCurator sets up the store, provider clients, run lock, scheduler and
// orchestrator. Callers should defer env.Close().
func initCurator(ctx context.Context, mode string) (*curatorEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &curatorEnv{Store: st}

	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env.Registry = prometheus.NewRegistry()
	env.Metrics = monitoring.NewMetrics(env.Registry)
	env.Alerter = monitoring.NewAlerter(cfg.Monitoring.WebhookURL)

	callTimeout := cfg.Curation.CallTimeout()

	claude := anthropicpkg.NewClient(cfg.Anthropic.Key)
	geminiClient, err := gemini.NewClient(ctx, gemini.Config{
		APIKey:            cfg.Gemini.APIKey,
		Model:             cfg.Gemini.Model,
		RequestsPerMinute: cfg.Gemini.RequestsPerMinute,
	})
	if err != nil {
		env.Close()
		return nil, err
	}
	scraper := apify.NewClient(cfg.Apify.Token,
		apify.WithBaseURL(cfg.Apify.BaseURL),
		apify.WithActor(cfg.Apify.Actor),
		apify.WithRateLimit(cfg.Apify.RequestsPerSecond),
	)

	relevance := filter.NewRelevanceScorer(claude, st, newGuard("anthropic", callTimeout, env.Metrics), filter.RelevanceConfig{
		Model:     cfg.Anthropic.Model,
		MaxTokens: cfg.Anthropic.MaxTokens,
		BatchSize: cfg.Curation.RelevanceBatchSize,
		CacheTTL:  cfg.Curation.CacheTTL(),
	})
	vision := filter.NewVisionAnalyzer(geminiClient, newGuard("gemini", callTimeout, env.Metrics), curation.DefaultPlatform, visionConcurrency)

	locker, closeLocker, err := initLocker(ctx)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.closers = append(env.closers, closeLocker)

	var orch *curation.Orchestrator
	sched, closeSched, err := initScheduler(func(ctx context.Context, configID string) error {
		return orch.Run(ctx, configID)
	})
	if err != nil {
		env.Close()
		return nil, err
	}
	env.closers = append(env.closers, closeSched)
	env.Scheduler = sched

	orch = curation.New(cfg.Curation, curation.Deps{
		Store:          st,
		Scraper:        scraper,
		Relevance:      relevance,
		Vision:         vision,
		Scheduler:      sched,
		Locker:         locker,
		Costs:          cost.NewCalculator(pricingRates(cfg.Pricing)),
		Alerter:        env.Alerter,
		Metrics:        env.Metrics,
		RelevanceModel: cfg.Anthropic.Model,
		VisionModel:    cfg.Gemini.Model,
	})
	env.Orch = orch

	zap.L().Info("curator initialized",
		zap.String("store", cfg.Store.Driver),
		zap.String("scheduler", cfg.Scheduler.Driver),
		zap.String("lock", cfg.Lock.Driver),
	)
	return env, nil
}
