// Package stockdata implements the cached per-ticker data service tier
// (C5): current price, historical, search, company info, and financial
// metrics, with per-resource TTLs and stale-on-error for live prices.
package stockdata

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mclima/stock-intel-service/internal/domain"
)

// Config holds the per-resource cache TTLs from spec §4.4.
type Config struct {
	PriceTTL      time.Duration
	HistoricalTTL time.Duration
	SearchTTL     time.Duration
	CompanyTTL    time.Duration
	MetricsTTL    time.Duration
}

// Service implements the StockDataService component.
type Service struct {
	rpc   domain.RPCClient
	cache domain.CacheStore
	cfg   Config
}

// New builds a Service.
func New(rpc domain.RPCClient, cache domain.CacheStore, cfg Config) *Service {
	return &Service{rpc: rpc, cache: cache, cfg: cfg}
}

func normalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

func priceKey(ticker string) string { return fmt.Sprintf("stock:price:%s", ticker) }
func companyKey(ticker string) string { return fmt.Sprintf("stock:company:%s", ticker) }
func metricsKey(ticker string) string { return fmt.Sprintf("stock:metrics:%s", ticker) }
func historicalKey(ticker, start, end string) string {
	return fmt.Sprintf("stock:historical:%s:%s:%s", ticker, start, end)
}
func searchKey(query string) string { return fmt.Sprintf("stock:search:%s", strings.ToLower(query)) }

// GetCurrentPrice reads stock:price:{TICKER} from cache; on miss it calls
// the RPC client, and on RPC failure falls back to a stale read of the
// same logical key before giving up with Unavailable.
func (s *Service) GetCurrentPrice(ctx context.Context, ticker string) (Price, error) {
	ticker = normalizeTicker(ticker)
	key := priceKey(ticker)

	if raw, err := s.cache.Get(ctx, key); err == nil {
		var p Price
		if jerr := json.Unmarshal(raw, &p); jerr == nil {
			return p, nil
		}
	}

	resp, err := s.rpc.Execute(ctx, "get_stock_price", map[string]any{"ticker": ticker})
	if err != nil {
		if stale, serr := s.cache.GetStale(ctx, key); serr == nil {
			var p Price
			if jerr := json.Unmarshal(stale, &p); jerr == nil {
				return p, nil
			}
		}
		return Price{}, domain.NewUnavailableError(fmt.Sprintf("op=stockdata.GetCurrentPrice ticker=%s: %v", ticker, err))
	}

	price, derr := decodeStockPrice(resp.Data)
	if derr != nil {
		return Price{}, domain.NewValidationError(fmt.Sprintf("op=stockdata.GetCurrentPrice ticker=%s: %v", ticker, derr))
	}

	raw, _ := json.Marshal(price)
	_ = s.cache.SetEx(ctx, key, s.cfg.PriceTTL, raw)
	return price, nil
}

// GetBatchPrices fans GetCurrentPrice out concurrently and merges results,
// omitting any ticker whose individual call failed. The overall call never
// fails solely because a subset failed.
func (s *Service) GetBatchPrices(ctx context.Context, tickers []string) map[string]Price {
	out := make(map[string]Price, len(tickers))
	var mu sync.Mutex
	var wg sync.WaitGroup

	seen := make(map[string]struct{}, len(tickers))
	for _, t := range tickers {
		t = normalizeTicker(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}

		wg.Add(1)
		go func(ticker string) {
			defer wg.Done()
			p, err := s.GetCurrentPrice(ctx, ticker)
			if err != nil {
				return
			}
			mu.Lock()
			out[ticker] = p
			mu.Unlock()
		}(t)
	}
	wg.Wait()
	return out
}

// GetHistoricalData returns price history sorted ascending by date. Unlike
// GetCurrentPrice, stale-on-error is not applied.
func (s *Service) GetHistoricalData(ctx context.Context, ticker string, start, end time.Time) ([]HistoricalPoint, error) {
	ticker = normalizeTicker(ticker)
	startStr, endStr := start.Format("2006-01-02"), end.Format("2006-01-02")
	key := historicalKey(ticker, startStr, endStr)

	if raw, err := s.cache.Get(ctx, key); err == nil {
		var points []HistoricalPoint
		if jerr := json.Unmarshal(raw, &points); jerr == nil {
			return points, nil
		}
	}

	resp, err := s.rpc.Execute(ctx, "get_historical_data", map[string]any{
		"ticker": ticker, "start_date": startStr, "end_date": endStr,
	})
	if err != nil {
		return nil, domain.NewUnavailableError(fmt.Sprintf("op=stockdata.GetHistoricalData ticker=%s: %v", ticker, err))
	}

	points, derr := decodeHistorical(resp.Data)
	if derr != nil {
		return nil, domain.NewValidationError(fmt.Sprintf("op=stockdata.GetHistoricalData ticker=%s: %v", ticker, derr))
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })

	raw, _ := json.Marshal(points)
	_ = s.cache.SetEx(ctx, key, s.cfg.HistoricalTTL, raw)
	return points, nil
}

// SearchStocks re-ranks raw search results by relevance: exact ticker match
// scores 3.0, ticker-prefix match scores 2.0, everything else scores 1.0.
// Results are cached only when the query has at least 3 characters and the
// upstream returned a non-empty result set.
func (s *Service) SearchStocks(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, domain.NewValidationError("op=stockdata.SearchStocks: empty query")
	}
	key := searchKey(q)
	cacheable := len(q) >= 3

	if cacheable {
		if raw, err := s.cache.Get(ctx, key); err == nil {
			var results []SearchResult
			if jerr := json.Unmarshal(raw, &results); jerr == nil {
				return applyLimit(results, limit), nil
			}
		}
	}

	resp, err := s.rpc.Execute(ctx, "search_stocks", map[string]any{"query": q})
	if err != nil {
		return nil, domain.NewUnavailableError(fmt.Sprintf("op=stockdata.SearchStocks query=%s: %v", q, err))
	}

	results, derr := decodeSearchResult(resp.Data)
	if derr != nil {
		return nil, domain.NewValidationError(fmt.Sprintf("op=stockdata.SearchStocks query=%s: %v", q, derr))
	}

	upper := strings.ToUpper(q)
	for i := range results {
		switch {
		case strings.EqualFold(results[i].Ticker, upper):
			results[i].RelevanceScore = 3.0
		case strings.HasPrefix(strings.ToUpper(results[i].Ticker), upper):
			results[i].RelevanceScore = 2.0
		default:
			results[i].RelevanceScore = 1.0
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].RelevanceScore > results[j].RelevanceScore })

	if cacheable && len(results) > 0 {
		raw, _ := json.Marshal(results)
		_ = s.cache.SetEx(ctx, key, s.cfg.SearchTTL, raw)
	}
	return applyLimit(results, limit), nil
}

func applyLimit(results []SearchResult, limit int) []SearchResult {
	if limit > 0 && limit < len(results) {
		return results[:limit]
	}
	return results
}

// GetCompanyInfo passes get_company_info through with caching.
func (s *Service) GetCompanyInfo(ctx context.Context, ticker string) (CompanyInfo, error) {
	ticker = normalizeTicker(ticker)
	key := companyKey(ticker)

	if raw, err := s.cache.Get(ctx, key); err == nil {
		var info CompanyInfo
		if jerr := json.Unmarshal(raw, &info); jerr == nil {
			return info, nil
		}
	}

	resp, err := s.rpc.Execute(ctx, "get_company_info", map[string]any{"ticker": ticker})
	if err != nil {
		return CompanyInfo{}, domain.NewUnavailableError(fmt.Sprintf("op=stockdata.GetCompanyInfo ticker=%s: %v", ticker, err))
	}
	info, derr := decodeCompanyInfo(resp.Data)
	if derr != nil {
		return CompanyInfo{}, domain.NewValidationError(fmt.Sprintf("op=stockdata.GetCompanyInfo ticker=%s: %v", ticker, derr))
	}
	raw, _ := json.Marshal(info)
	_ = s.cache.SetEx(ctx, key, s.cfg.CompanyTTL, raw)
	return info, nil
}

// GetFinancialMetrics passes get_financial_metrics through with caching.
func (s *Service) GetFinancialMetrics(ctx context.Context, ticker string) (FinancialMetrics, error) {
	ticker = normalizeTicker(ticker)
	key := metricsKey(ticker)

	if raw, err := s.cache.Get(ctx, key); err == nil {
		var m FinancialMetrics
		if jerr := json.Unmarshal(raw, &m); jerr == nil {
			return m, nil
		}
	}

	resp, err := s.rpc.Execute(ctx, "get_financial_metrics", map[string]any{"ticker": ticker})
	if err != nil {
		return FinancialMetrics{}, domain.NewUnavailableError(fmt.Sprintf("op=stockdata.GetFinancialMetrics ticker=%s: %v", ticker, err))
	}
	metrics, derr := decodeFinancialMetrics(resp.Data)
	if derr != nil {
		return FinancialMetrics{}, domain.NewValidationError(fmt.Sprintf("op=stockdata.GetFinancialMetrics ticker=%s: %v", ticker, derr))
	}
	raw, _ := json.Marshal(metrics)
	_ = s.cache.SetEx(ctx, key, s.cfg.MetricsTTL, raw)
	return metrics, nil
}

// Invalidate deletes the single-entity cache keys derived from ticker
// (price, company, metrics). Parameterized keys (historical windows, search
// queries) are not enumerable and expire on their own TTL.
func (s *Service) Invalidate(ctx context.Context, ticker string) error {
	ticker = normalizeTicker(ticker)
	if err := s.cache.Delete(ctx, priceKey(ticker), companyKey(ticker), metricsKey(ticker)); err != nil {
		return fmt.Errorf("op=stockdata.Invalidate ticker=%s: %w", ticker, err)
	}
	return nil
}
