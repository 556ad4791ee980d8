// Package news implements the per-ticker and market-wide news service (C6):
// retrieval, normalized-headline deduplication, and sentiment annotation.
package news

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/mclima/stock-intel-service/internal/domain"
)

// Config holds the news cache TTL (§4.5).
type Config struct {
	CacheTTL time.Duration
}

// Service implements the NewsService component.
type Service struct {
	rpc   domain.RPCClient
	cache domain.CacheStore
	cfg   Config
}

// New builds a Service.
func New(rpc domain.RPCClient, cache domain.CacheStore, cfg Config) *Service {
	return &Service{rpc: rpc, cache: cache, cfg: cfg}
}

var whitespaceRe = regexp.MustCompile(`\s+`)

func normalizeHeadline(headline string) string {
	return whitespaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(headline)), " ")
}

// dedupeArticles keeps the first article per distinct normalized headline.
func dedupeArticles(articles []Article) []Article {
	seen := make(map[string]struct{}, len(articles))
	out := make([]Article, 0, len(articles))
	for _, a := range articles {
		key := normalizeHeadline(a.Headline)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, a)
	}
	return out
}

func annotate(articles []Article) []Article {
	for i := range articles {
		articles[i].Sentiment = analyzeSentiment(articles[i].Headline, articles[i].Summary)
	}
	return articles
}

func newsStockKey(ticker string, limit int) string {
	return fmt.Sprintf("news:stock:%s:%d", strings.ToUpper(ticker), limit)
}

func newsMarketKey(limit int) string { return fmt.Sprintf("news:market:%d", limit) }

// GetStockNews fetches, dedupes, and sentiment-annotates per-ticker news.
func (s *Service) GetStockNews(ctx context.Context, ticker string, limit int) ([]Article, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	key := newsStockKey(ticker, limit)

	if raw, err := s.cache.Get(ctx, key); err == nil {
		var articles []Article
		if jerr := json.Unmarshal(raw, &articles); jerr == nil {
			return articles, nil
		}
	}

	resp, err := s.rpc.Execute(ctx, "get_stock_news", map[string]any{"ticker": ticker, "limit": limit})
	if err != nil {
		return nil, domain.NewUnavailableError(fmt.Sprintf("op=news.GetStockNews ticker=%s: %v", ticker, err))
	}

	articles, derr := decodeArticles(resp.Data)
	if derr != nil {
		return nil, domain.NewValidationError(fmt.Sprintf("op=news.GetStockNews ticker=%s: %v", ticker, derr))
	}
	articles = annotate(dedupeArticles(articles))

	raw, _ := json.Marshal(articles)
	_ = s.cache.SetEx(ctx, key, s.cfg.CacheTTL, raw)
	return articles, nil
}

// GetMarketNews fetches, dedupes, and sentiment-annotates market-wide news.
func (s *Service) GetMarketNews(ctx context.Context, limit int) ([]Article, error) {
	key := newsMarketKey(limit)

	if raw, err := s.cache.Get(ctx, key); err == nil {
		var articles []Article
		if jerr := json.Unmarshal(raw, &articles); jerr == nil {
			return articles, nil
		}
	}

	resp, err := s.rpc.Execute(ctx, "get_market_news", map[string]any{"limit": limit})
	if err != nil {
		return nil, domain.NewUnavailableError(fmt.Sprintf("op=news.GetMarketNews: %v", err))
	}

	articles, derr := decodeArticles(resp.Data)
	if derr != nil {
		return nil, domain.NewValidationError(fmt.Sprintf("op=news.GetMarketNews: %v", derr))
	}
	articles = annotate(dedupeArticles(articles))

	raw, _ := json.Marshal(articles)
	_ = s.cache.SetEx(ctx, key, s.cfg.CacheTTL, raw)
	return articles, nil
}

// GetTrendingTickers fetches trending tickers. It is consumed by
// MarketOverviewService, which treats its failure as non-fatal.
func (s *Service) GetTrendingTickers(ctx context.Context, limit int) ([]TrendingTicker, error) {
	resp, err := s.rpc.Execute(ctx, "get_trending_tickers", map[string]any{"limit": limit})
	if err != nil {
		return nil, domain.NewUnavailableError(fmt.Sprintf("op=news.GetTrendingTickers: %v", err))
	}
	tickers, derr := decodeTrendingTickers(resp.Data)
	if derr != nil {
		return nil, domain.NewValidationError(fmt.Sprintf("op=news.GetTrendingTickers: %v", derr))
	}
	return tickers, nil
}
