package news

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
	return &fakeRPC{responses: map[string]domain.RPCResponse{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeRPC) Execute(_ context.Context, tool string, _ map[string]any) (domain.RPCResponse, error) {
	f.calls[tool]++
	if err, ok := f.errs[tool]; ok {
		return domain.RPCResponse{}, err
	}
	return f.responses[tool], nil
}

func (f *fakeRPC) Connect(context.Context) error               { return nil }
func (f *fakeRPC) Disconnect(context.Context) error            { return nil }
func (f *fakeRPC) ListTools(context.Context) ([]string, error) { return nil, nil }

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func newTestService(t *testing.T) (*Service, *fakeRPC) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rpc := newFakeRPC()
	return New(rpc, cache.NewRedisStore(rdb), Config{CacheTTL: 15 * time.Minute}), rpc
}

func TestGetStockNews_DeduplicatesByNormalizedHeadline(t *testing.T) {
	svc, rpc := newTestService(t)
	rpc.responses["get_stock_news"] = domain.RPCResponse{Success: true, Data: mustJSON(t, []map[string]any{
		{"id": "1", "headline": "  AAPL surges  on   earnings ", "source": "Reuters", "summary": "record profits"},
		{"id": "2", "headline": "aapl surges on earnings", "source": "Bloomberg", "summary": "duplicate by normalization"},
		{"id": "3", "headline": "AAPL announces new CEO", "source": "CNBC", "summary": "board decision"},
	})}

	articles, err := svc.GetStockNews(context.Background(), "aapl", 10)
	require.NoError(t, err)
	require.Len(t, articles, 2)
	require.Equal(t, "1", articles[0].ID)
	require.Equal(t, "3", articles[1].ID)
}

func TestGetStockNews_AnnotatesSentiment(t *testing.T) {
	svc, rpc := newTestService(t)
	rpc.responses["get_stock_news"] = domain.RPCResponse{Success: true, Data: mustJSON(t, []map[string]any{
		{"id": "1", "headline": "Stock surges on strong earnings beat", "source": "Reuters", "summary": "record profits and growth"},
		{"id": "2", "headline": "Stock falls on weak earnings miss", "source": "Reuters", "summary": "declining sales and losses"},
		{"id": "3", "headline": "Company announces new CEO", "source": "Reuters", "summary": "board meeting scheduled"},
	})}

	articles, err := svc.GetStockNews(context.Background(), "MSFT", 10)
	require.NoError(t, err)
	require.Len(t, articles, 3)
	require.Equal(t, "positive", articles[0].Sentiment.Label)
	require.Equal(t, "negative", articles[1].Sentiment.Label)
	require.Equal(t, "neutral", articles[2].Sentiment.Label)
}

func TestGetStockNews_CachesResult(t *testing.T) {
	svc, rpc := newTestService(t)
	rpc.responses["get_stock_news"] = domain.RPCResponse{Success: true, Data: mustJSON(t, []map[string]any{
		{"id": "1", "headline": "headline one", "source": "Reuters"},
	})}

	_, err := svc.GetStockNews(context.Background(), "AAPL", 5)
	require.NoError(t, err)
	_, err = svc.GetStockNews(context.Background(), "AAPL", 5)
	require.NoError(t, err)
	require.Equal(t, 1, rpc.calls["get_stock_news"])
}

func TestGetTrendingTickers_DecodesAliasedFields(t *testing.T) {
	svc, rpc := newTestService(t)
	rpc.responses["get_trending_tickers"] = domain.RPCResponse{Success: true, Data: mustJSON(t, []map[string]any{
		{"ticker": "NVDA", "companyName": "NVIDIA", "newsCount": 42, "reason": "earnings", "changePercent": 5.2},
	})}

	tickers, err := svc.GetTrendingTickers(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, tickers, 1)
	require.Equal(t, "NVIDIA", tickers[0].CompanyName)
	require.Equal(t, int64(42), tickers[0].NewsCount)
}

func TestAggregateSentiment_WeightedMean(t *testing.T) {
	agg := AggregateSentiment([]Sentiment{
		{Score: 0.8, Confidence: 1.0},
		{Score: 0.6, Confidence: 0.5},
		{Score: -0.4, Confidence: 0.2},
	})
	require.Equal(t, "positive", agg.Label)
	require.Greater(t, agg.Score, 0.0)
}

func TestAggregateSentiment_Empty(t *testing.T) {
	agg := AggregateSentiment(nil)
	require.Equal(t, "neutral", agg.Label)
	require.Equal(t, 0.0, agg.Score)
	require.Equal(t, 0.0, agg.Confidence)
}
