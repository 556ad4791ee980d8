package stockdata

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/mclima/stock-intel-service/internal/cache"
	"github.com/mclima/stock-intel-service/internal/domain"
)

type fakeRPC struct {
	responses map[string]domain.RPCResponse
	errs      map[string]error
	calls     map[string]int
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{
		responses: map[string]domain.RPCResponse{},
		errs:      map[string]error{},
		calls:     map[string]int{},
	}
}

func (f *fakeRPC) Execute(_ context.Context, tool string, _ map[string]any) (domain.RPCResponse, error) {
	f.calls[tool]++
	if err, ok := f.errs[tool]; ok {
		return domain.RPCResponse{}, err
	}
	return f.responses[tool], nil
}

func (f *fakeRPC) Connect(context.Context) error       { return nil }
func (f *fakeRPC) Disconnect(context.Context) error    { return nil }
func (f *fakeRPC) ListTools(context.Context) ([]string, error) { return nil, nil }

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func newTestService(t *testing.T) (*Service, *fakeRPC, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := cache.NewRedisStore(rdb)
	rpc := newFakeRPC()
	svc := New(rpc, store, Config{
		PriceTTL:      time.Minute,
		HistoricalTTL: time.Hour,
		SearchTTL:     15 * time.Minute,
		CompanyTTL:    24 * time.Hour,
		MetricsTTL:    time.Hour,
	})
	return svc, rpc, mr
}

func TestGetCurrentPrice_CacheMissThenHit(t *testing.T) {
	svc, rpc, _ := newTestService(t)
	ctx := context.Background()
	rpc.responses["get_stock_price"] = domain.RPCResponse{Success: true, Data: mustJSON(t, map[string]any{
		"ticker": "AAPL", "price": 150.25, "change": 1.5, "change_percent": 1.01, "volume": 1000,
		"timestamp": time.Now().Format(time.RFC3339),
	})}

	p1, err := svc.GetCurrentPrice(ctx, "aapl")
	require.NoError(t, err)
	require.Equal(t, "AAPL", p1.Ticker)
	require.Equal(t, 1, rpc.calls["get_stock_price"])

	p2, err := svc.GetCurrentPrice(ctx, "AAPL")
	require.NoError(t, err)
	require.True(t, p1.Price.Equal(p2.Price))
	require.Equal(t, 1, rpc.calls["get_stock_price"], "second call should be served from cache")
}

func TestGetCurrentPrice_StaleFallbackOnRPCFailure(t *testing.T) {
	svc, rpc, mr := newTestService(t)
	ctx := context.Background()
	rpc.responses["get_stock_price"] = domain.RPCResponse{Success: true, Data: mustJSON(t, map[string]any{
		"ticker": "AAPL", "price": 150.25, "volume": 1000,
	})}

	_, err := svc.GetCurrentPrice(ctx, "AAPL")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)
	rpc.errs["get_stock_price"] = context.DeadlineExceeded

	p, err := svc.GetCurrentPrice(ctx, "AAPL")
	require.NoError(t, err)
	require.Equal(t, "AAPL", p.Ticker)
}

func TestGetCurrentPrice_UnavailableWhenNoStale(t *testing.T) {
	svc, rpc, _ := newTestService(t)
	ctx := context.Background()
	rpc.errs["get_stock_price"] = context.DeadlineExceeded

	_, err := svc.GetCurrentPrice(ctx, "AAPL")
	require.Error(t, err)
	var svcErr *domain.ServiceError
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, domain.CodeUnavailable, svcErr.Code)
}

func TestGetBatchPrices_SkipsDuplicateAndBlankTickers(t *testing.T) {
	svc, rpc, _ := newTestService(t)
	ctx := context.Background()
	rpc.responses["get_stock_price"] = domain.RPCResponse{Success: true, Data: mustJSON(t, map[string]any{
		"ticker": "AAPL", "price": 100,
	})}
	// Every ticker uses the same tool name in this fake, so force failure
	// would fail all; instead verify duplicate/blank tickers are skipped.
	out := svc.GetBatchPrices(ctx, []string{"AAPL", "aapl", "", " "})
	require.Len(t, out, 1)
	require.Contains(t, out, "AAPL")
}

func TestGetHistoricalData_SortedAscendingNoStale(t *testing.T) {
	svc, rpc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Now()
	rpc.responses["get_historical_data"] = domain.RPCResponse{Success: true, Data: mustJSON(t, []map[string]any{
		{"date": now.Format("2006-01-02"), "open": 10, "close": 11, "volume": 5},
		{"date": now.AddDate(0, 0, -1).Format("2006-01-02"), "open": 9, "close": 10, "volume": 4},
	})}

	points, err := svc.GetHistoricalData(ctx, "AAPL", now.AddDate(0, 0, -5), now)
	require.NoError(t, err)
	require.Len(t, points, 2)
	require.True(t, points[0].Date.Before(points[1].Date) || points[0].Date.Equal(points[1].Date))
}

func TestSearchStocks_ExactMatchRankedFirst(t *testing.T) {
	svc, rpc, _ := newTestService(t)
	ctx := context.Background()
	rpc.responses["search_stocks"] = domain.RPCResponse{Success: true, Data: mustJSON(t, []map[string]any{
		{"ticker": "AAPLX", "company_name": "Apple Adjacent"},
		{"ticker": "AAPL", "company_name": "Apple Inc."},
		{"ticker": "MSFT", "company_name": "Microsoft"},
	})}

	results, err := svc.SearchStocks(ctx, "AAPL", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, "AAPL", results[0].Ticker)
	require.Equal(t, 3.0, results[0].RelevanceScore)
}

func TestSearchStocks_ShortQueryNotCached(t *testing.T) {
	svc, rpc, _ := newTestService(t)
	ctx := context.Background()
	rpc.responses["search_stocks"] = domain.RPCResponse{Success: true, Data: mustJSON(t, []map[string]any{
		{"ticker": "AA", "company_name": "Alcoa"},
	})}

	_, err := svc.SearchStocks(ctx, "AA", 10)
	require.NoError(t, err)
	_, err = svc.SearchStocks(ctx, "AA", 10)
	require.NoError(t, err)
	require.Equal(t, 2, rpc.calls["search_stocks"], "queries under 3 chars should never be cached")
}

func TestInvalidate_RemovesEntityKeys(t *testing.T) {
	svc, rpc, _ := newTestService(t)
	ctx := context.Background()
	rpc.responses["get_stock_price"] = domain.RPCResponse{Success: true, Data: mustJSON(t, map[string]any{"ticker": "AAPL", "price": 1})}

	_, err := svc.GetCurrentPrice(ctx, "AAPL")
	require.NoError(t, err)
	require.NoError(t, svc.Invalidate(ctx, "AAPL"))

	_, err = svc.GetCurrentPrice(ctx, "AAPL")
	require.NoError(t, err)
	require.Equal(t, 2, rpc.calls["get_stock_price"], "invalidate should force a fresh RPC call")
}
