// Package app wires application components and startup helpers.
//
// It provides dependency injection and application initialization.
// The package coordinates between different layers and provides
// a clean application bootstrap process.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mclima/stock-intel-service/internal/config"
)

// Pinger is the minimal interface for a database pool capable of Ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CachePinger is the minimal interface for a cache client capable of Ping.
type CachePinger interface {
	Ping(ctx context.Context) error
}

// BuildReadinessChecks returns readiness checks for the database, the cache,
// and the upstream tool servers the market data layer depends on.
func BuildReadinessChecks(cfg config.Config, pool Pinger, cache CachePinger) (
	db func(ctx context.Context) error,
	redis func(ctx context.Context) error,
	tools func(ctx context.Context) error,
) {
	db = func(ctx context.Context) error {
		if pool == nil {
			return fmt.Errorf("db not configured")
		}
		return pool.Ping(ctx)
	}

	redis = func(ctx context.Context) error {
		if cache == nil {
			return fmt.Errorf("cache not configured")
		}
		return cache.Ping(ctx)
	}

	tools = func(ctx context.Context) error {
		client := &http.Client{Timeout: 2 * time.Second}
		for name, url := range map[string]string{
			"stockdata": cfg.StockDataServerURL,
			"news":      cfg.NewsServerURL,
			"market":    cfg.MarketServerURL,
		} {
			if url == "" {
				continue
			}
			if err := pingTool(ctx, client, url, cfg.ToolServerToken); err != nil {
				return fmt.Errorf("tool server %s: %w", name, err)
			}
		}
		return nil
	}

	return db, redis, tools
}

func pingTool(ctx context.Context, client *http.Client, baseURL, token string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("status %d", resp.StatusCode)
}
