// Command worker runs the background processes for the stock intelligence
// service: the asynq consumer that executes scheduled workflow runs, the
// alert monitor's polling loop, and the stuck-execution sweeper.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mclima/stock-intel-service/internal/adapter/observability"
	"github.com/mclima/stock-intel-service/internal/adapter/repo/postgres"
	"github.com/mclima/stock-intel-service/internal/alerts"
	"github.com/mclima/stock-intel-service/internal/app"
	"github.com/mclima/stock-intel-service/internal/cache"
	"github.com/mclima/stock-intel-service/internal/config"
	"github.com/mclima/stock-intel-service/internal/notification"
	"github.com/mclima/stock-intel-service/internal/resilience"
	"github.com/mclima/stock-intel-service/internal/service/ratelimiter"
	"github.com/mclima/stock-intel-service/internal/stockdata"
	"github.com/mclima/stock-intel-service/internal/toolclient"
	"github.com/mclima/stock-intel-service/internal/workflow"
	"github.com/mclima/stock-intel-service/internal/wsregistry"
)

const taskRunWorkflow = "workflow:run"

func newToolClient(name, baseURL string, cfg config.Config) *toolclient.Client {
	return toolclient.New(toolclient.Config{
		Name:     name,
		BaseURL:  baseURL,
		Token:    cfg.ToolServerToken,
		PoolSize: cfg.ToolServerPoolSize,
		Timeout:  cfg.ToolServerTimeout,
		Retry: resilience.RetryConfig{
			MaxAttempts:     cfg.RetryMaxAttempts,
			InitialDelay:    cfg.RetryInitialDelay,
			ExponentialBase: cfg.RetryExponentialBase,
			MaxDelay:        cfg.RetryMaxDelay,
			Jitter:          cfg.RetryJitter,
		},
		Breaker: resilience.BreakerConfig{
			Name:             name,
			FailureThreshold: uint32(cfg.BreakerFailureThreshold),
			SuccessThreshold: uint32(cfg.BreakerSuccessThreshold),
			Timeout:          cfg.BreakerTimeout,
		},
	})
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.SetAppEnv(cfg.AppEnv)
	observability.InitMetrics()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid redis url", slog.Any("error", err))
		os.Exit(1)
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()
	cacheStore := cache.NewRedisStore(rdb)

	alertRepo := postgres.NewAlertRepo(pool)
	notifRepo := postgres.NewNotificationRepo(pool)
	workflowRepo := postgres.NewWorkflowRepo(pool)
	executionRepo := postgres.NewExecutionRepo(pool)

	stockRPC := newToolClient("stockdata", cfg.StockDataServerURL, cfg)
	if err := stockRPC.Connect(ctx); err != nil {
		slog.Warn("stockdata tool server not reachable at startup", slog.Any("error", err))
	}
	rpcLimiter := ratelimiter.NewRedisLuaLimiter(rdb, pool, map[string]ratelimiter.BucketConfig{
		"rpc:stockdata": ratelimiter.NewBucketConfigFromPerMinute(cfg.RateLimitPricePerMin * 4),
	})
	stocks := stockdata.New(toolclient.NewThrottled(stockRPC, rpcLimiter, "rpc:stockdata"), cacheStore, stockdata.Config{
		PriceTTL: cfg.CachePriceTTL, HistoricalTTL: cfg.CacheHistoricalTTL,
		SearchTTL: cfg.CacheSearchTTL, CompanyTTL: cfg.CacheCompanyTTL, MetricsTTL: cfg.CacheMetricsTTL,
	})

	events := wsregistry.New(cfg.WsSendTimeout)
	dispatcher := notification.New(events)

	priceFetcher := alerts.PriceFetcherFunc(func(ctx context.Context, tickers []string) map[string]float64 {
		prices := stocks.GetBatchPrices(ctx, tickers)
		out := make(map[string]float64, len(prices))
		for ticker, p := range prices {
			out[ticker] = p.Price.InexactFloat64()
		}
		return out
	})
	monitor := alerts.New(alertRepo, notifRepo, events, dispatcher, priceFetcher, alerts.Config{
		PollInterval: cfg.AlertPollInterval, AntiFatigueWindow: cfg.AlertAntiFatigueWindow,
		AntiFatigueMaxPerWindow: cfg.AlertAntiFatigueMaxPer,
	})
	go monitor.Run(ctx)

	engine := workflow.New(cfg.WorkflowParallelStepTimeout)
	orchestrator := workflow.NewOrchestrator(engine, executionRepo)
	scheduler, err := workflow.NewScheduler(cfg.RedisURL, workflowRepo, orchestrator)
	if err != nil {
		slog.Error("workflow scheduler init failed", slog.Any("error", err))
		os.Exit(1)
	}

	scheduled, err := workflowRepo.ListScheduled(ctx)
	if err != nil {
		slog.Error("failed to list scheduled workflows", slog.Any("error", err))
	}
	for _, wf := range scheduled {
		if wf.CronSchedule == nil || *wf.CronSchedule == "" {
			continue
		}
		if err := scheduler.ScheduleWorkflow(wf.ID, *wf.CronSchedule); err != nil {
			slog.Error("failed to register workflow schedule", slog.String("workflow_id", wf.ID), slog.Any("error", err))
		}
	}
	if err := scheduler.Start(); err != nil {
		slog.Error("workflow scheduler start failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer scheduler.Shutdown()

	sweeper := app.NewStuckExecutionSweeper(executionRepo, 2*cfg.WorkflowParallelStepTimeout, time.Minute)
	go sweeper.Run(ctx)

	redisConnOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid redis url for asynq server", slog.Any("error", err))
		os.Exit(1)
	}
	asynqServer := asynq.NewServer(redisConnOpt, asynq.Config{Concurrency: 5})
	mux := asynq.NewServeMux()
	mux.HandleFunc(taskRunWorkflow, scheduler.RunHandler)

	go func() {
		slog.Info("starting asynq workflow consumer")
		if err := asynqServer.Run(mux); err != nil {
			slog.Error("asynq server error", slog.Any("error", err))
		}
	}()

	slog.Info("worker started successfully, waiting for shutdown signal")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	slog.Info("signal received, shutting down", slog.String("signal", sig.String()))
	asynqServer.Shutdown()
	slog.Info("worker stopped")
}
