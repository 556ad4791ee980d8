// Package marketoverview composes headlines, indices, trending tickers, and
// aggregated sentiment into one cached artifact (C7).
package marketoverview

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mclima/stock-intel-service/internal/domain"
	"github.com/mclima/stock-intel-service/internal/news"
)

const overviewKey = "market:overview"
const marketNewsLimit = 20
const trendingLimit = 10

// Config holds the overview cache TTL.
type Config struct {
	CacheTTL time.Duration
}

// NewsSource is the subset of NewsService used here.
type NewsSource interface {
	GetMarketNews(ctx context.Context, limit int) ([]news.Article, error)
	GetTrendingTickers(ctx context.Context, limit int) ([]news.TrendingTicker, error)
}

// Service implements the MarketOverviewService component.
type Service struct {
	rpc   domain.RPCClient
	cache domain.CacheStore
	news  NewsSource
	cfg   Config
}

// New builds a Service.
func New(rpc domain.RPCClient, cache domain.CacheStore, newsSvc NewsSource, cfg Config) *Service {
	return &Service{rpc: rpc, cache: cache, news: newsSvc, cfg: cfg}
}

// cachedOverview is the shape actually stored under market:overview; it
// never carries sector_heatmap, which is always fetched fresh.
type cachedOverview struct {
	Headlines   []news.Article        `json:"headlines"`
	Sentiment   news.Sentiment         `json:"sentiment"`
	Trending    []news.TrendingTicker  `json:"trending"`
	Indices     []MarketIndex          `json:"indices"`
	LastUpdated string                 `json:"last_updated"`
}

// GetOverview assembles the composite market overview. When includeSectors
// is true, sector_heatmap is fetched fresh on every call and never cached.
func (s *Service) GetOverview(ctx context.Context, includeSectors bool) (Overview, error) {
	var base cachedOverview

	if raw, err := s.cache.Get(ctx, overviewKey); err == nil {
		if jerr := json.Unmarshal(raw, &base); jerr == nil {
			return s.withSectors(ctx, base, includeSectors), nil
		}
	}

	headlines, err := s.news.GetMarketNews(ctx, marketNewsLimit)
	if err != nil {
		return Overview{}, domain.NewUnavailableError(fmt.Sprintf("op=marketoverview.GetOverview headlines: %v", err))
	}

	resp, err := s.rpc.Execute(ctx, "get_market_indices", nil)
	if err != nil {
		return Overview{}, domain.NewUnavailableError(fmt.Sprintf("op=marketoverview.GetOverview indices: %v", err))
	}
	indices, derr := decodeMarketIndices(resp.Data)
	if derr != nil {
		return Overview{}, domain.NewValidationError(fmt.Sprintf("op=marketoverview.GetOverview indices: %v", derr))
	}

	sentiments := make([]news.Sentiment, 0, len(headlines))
	for _, h := range headlines {
		sentiments = append(sentiments, h.Sentiment)
	}
	overallSentiment := computeMarketSentiment(news.AggregateSentiment(sentiments), indices)

	// Trending-ticker fetch is non-fatal per spec §4.5: on error it is
	// omitted and the overview still returns.
	trending, terr := s.news.GetTrendingTickers(ctx, trendingLimit)
	if terr != nil {
		trending = nil
	}

	base = cachedOverview{
		Headlines:   headlines,
		Sentiment:   overallSentiment,
		Trending:    trending,
		Indices:     indices,
		LastUpdated: time.Now().UTC().Format(time.RFC3339),
	}

	raw, _ := json.Marshal(base)
	_ = s.cache.SetEx(ctx, overviewKey, s.cfg.CacheTTL, raw)

	return s.withSectors(ctx, base, includeSectors), nil
}

func (s *Service) withSectors(ctx context.Context, base cachedOverview, includeSectors bool) Overview {
	out := Overview{
		Headlines:   base.Headlines,
		Sentiment:   base.Sentiment,
		Trending:    base.Trending,
		Indices:     base.Indices,
		LastUpdated: base.LastUpdated,
	}
	if !includeSectors {
		return out
	}
	sectors, err := s.GetSectorPerformance(ctx)
	if err != nil {
		return out
	}
	out.SectorHeatmap = sectors
	return out
}

// GetSectorPerformance is a supplemented feature (SPEC_FULL §4): sector
// breakdowns are never cached, matching the overview's fresh-fetch rule.
func (s *Service) GetSectorPerformance(ctx context.Context) ([]SectorPerformance, error) {
	resp, err := s.rpc.Execute(ctx, "get_sector_performance", nil)
	if err != nil {
		return nil, domain.NewUnavailableError(fmt.Sprintf("op=marketoverview.GetSectorPerformance: %v", err))
	}
	sectors, derr := decodeSectorPerformance(resp.Data)
	if derr != nil {
		return nil, domain.NewValidationError(fmt.Sprintf("op=marketoverview.GetSectorPerformance: %v", derr))
	}
	return sectors, nil
}
