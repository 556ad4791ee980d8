// Command server starts the stock intelligence HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	httpserver "github.com/mclima/stock-intel-service/internal/adapter/httpserver"
	"github.com/mclima/stock-intel-service/internal/adapter/observability"
	"github.com/mclima/stock-intel-service/internal/adapter/repo/postgres"
	"github.com/mclima/stock-intel-service/internal/alerts"
	"github.com/mclima/stock-intel-service/internal/app"
	"github.com/mclima/stock-intel-service/internal/auth"
	"github.com/mclima/stock-intel-service/internal/cache"
	"github.com/mclima/stock-intel-service/internal/config"
	"github.com/mclima/stock-intel-service/internal/marketoverview"
	"github.com/mclima/stock-intel-service/internal/news"
	"github.com/mclima/stock-intel-service/internal/notification"
	"github.com/mclima/stock-intel-service/internal/portfolio"
	"github.com/mclima/stock-intel-service/internal/resilience"
	"github.com/mclima/stock-intel-service/internal/service/ratelimiter"
	"github.com/mclima/stock-intel-service/internal/stockdata"
	"github.com/mclima/stock-intel-service/internal/toolclient"
	"github.com/mclima/stock-intel-service/internal/workflow"
	"github.com/mclima/stock-intel-service/internal/wsregistry"
)

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
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.SetAppEnv(cfg.AppEnv)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
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

	users := postgres.NewUserRepo(pool)
	portfolios := postgres.NewPortfolioRepo(pool)
	alertRepo := postgres.NewAlertRepo(pool)
	notifRepo := postgres.NewNotificationRepo(pool)
	workflowRepo := postgres.NewWorkflowRepo(pool)
	executionRepo := postgres.NewExecutionRepo(pool)

	stockRPC := newToolClient("stockdata", cfg.StockDataServerURL, cfg)
	newsRPC := newToolClient("news", cfg.NewsServerURL, cfg)
	marketRPC := newToolClient("market", cfg.MarketServerURL, cfg)
	for _, c := range []*toolclient.Client{stockRPC, newsRPC, marketRPC} {
		if err := c.Connect(ctx); err != nil {
			slog.Warn("tool server not reachable at startup", slog.Any("error", err))
		}
	}

	// rpcLimiter throttles outbound RPC calls against a cluster-wide Redis
	// bucket per downstream server, so every server/worker process sharing
	// the same tool server quota backs off together instead of each
	// process enforcing its own independent limit.
	rpcLimiter := ratelimiter.NewRedisLuaLimiter(rdb, pool, map[string]ratelimiter.BucketConfig{
		"rpc:stockdata": ratelimiter.NewBucketConfigFromPerMinute(cfg.RateLimitPricePerMin * 4),
		"rpc:news":      ratelimiter.NewBucketConfigFromPerMinute(cfg.RateLimitSearchPerMin * 4),
		"rpc:market":    ratelimiter.NewBucketConfigFromPerMinute(cfg.RateLimitMarketOverviewPerMin * 4),
	})

	stocks := stockdata.New(toolclient.NewThrottled(stockRPC, rpcLimiter, "rpc:stockdata"), cacheStore, stockdata.Config{
		PriceTTL: cfg.CachePriceTTL, HistoricalTTL: cfg.CacheHistoricalTTL,
		SearchTTL: cfg.CacheSearchTTL, CompanyTTL: cfg.CacheCompanyTTL, MetricsTTL: cfg.CacheMetricsTTL,
	})
	newsSvc := news.New(toolclient.NewThrottled(newsRPC, rpcLimiter, "rpc:news"), cacheStore, news.Config{CacheTTL: cfg.CacheNewsTTL})
	market := marketoverview.New(toolclient.NewThrottled(marketRPC, rpcLimiter, "rpc:market"), cacheStore, newsSvc, marketoverview.Config{CacheTTL: cfg.CacheOverviewTTL})

	events := wsregistry.New(cfg.WsSendTimeout)
	dispatcher := notification.New(events)
	portfolioSvc := portfolio.New(portfolios)

	engine := workflow.New(cfg.WorkflowParallelStepTimeout)
	orchestrator := workflow.NewOrchestrator(engine, executionRepo)
	scheduler, err := workflow.NewScheduler(cfg.RedisURL, workflowRepo, orchestrator)
	if err != nil {
		slog.Error("workflow scheduler init failed", slog.Any("error", err))
		os.Exit(1)
	}
	if err := scheduler.Start(); err != nil {
		slog.Error("workflow scheduler start failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer scheduler.Shutdown()

	tokens := auth.NewTokenIssuer(cfg.JWTSigningKey, 24*time.Hour)

	dbCheck, cacheCheck, toolsCheck := app.BuildReadinessChecks(cfg, pool, cacheStore)

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
	monitorCtx, cancelMonitor := context.WithCancel(context.Background())
	go monitor.Run(monitorCtx)
	defer cancelMonitor()

	sweeper := app.NewStuckExecutionSweeper(executionRepo, 2*cfg.WorkflowParallelStepTimeout, time.Minute)
	sweeperCtx, cancelSweeper := context.WithCancel(context.Background())
	go sweeper.Run(sweeperCtx)
	defer cancelSweeper()

	srv := httpserver.NewServer(
		stocks, newsSvc, market, events,
		users, portfolioSvc, alertRepo, notifRepo, dispatcher,
		workflowRepo, executionRepo, orchestrator, scheduler,
		tokens, dbCheck, cacheCheck, toolsCheck,
	)

	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
