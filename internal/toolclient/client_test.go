package toolclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mclima/stock-intel-service/internal/domain"
	"github.com/mclima/stock-intel-service/internal/resilience"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	return New(Config{
		Name:    "test",
		BaseURL: srv.URL,
		Retry: resilience.RetryConfig{
			MaxAttempts: 3, InitialDelay: time.Millisecond, ExponentialBase: 2, MaxDelay: 10 * time.Millisecond,
		},
		Breaker: resilience.BreakerConfig{FailureThreshold: 10, SuccessThreshold: 1, Timeout: time.Second},
	})
}

func TestClient_Execute_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tools/get_stock_price", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": map[string]any{"ticker": "AAPL"}})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	resp, err := c.Execute(context.Background(), "get_stock_price", map[string]any{"ticker": "AAPL"})
	require.NoError(t, err)
	require.True(t, resp.Success)
}

func TestClient_Execute_ToolFailureNonRetryable(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "ticker not found"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Execute(context.Background(), "get_stock_price", map[string]any{"ticker": "NOPE"})
	require.Error(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_Execute_5xxRetriesThenExhausts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Execute(context.Background(), "get_stock_price", nil)
	require.Error(t, err)
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_Execute_4xxNonRetryable(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Execute(context.Background(), "get_stock_price", nil)
	require.Error(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_Execute_MissingSuccessFieldIsValidationError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_ = json.NewEncoder(w).Encode(map[string]any{"data": 1})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Execute(context.Background(), "get_stock_price", nil)
	require.Error(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_ListTools_CachesAfterFirstSuccess(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_ = json.NewEncoder(w).Encode([]string{"get_stock_price", "get_historical_data"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	tools, err := c.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)

	tools2, err := c.ListTools(context.Background())
	require.NoError(t, err)
	require.Equal(t, tools, tools2)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_ConnectDisconnect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Disconnect(context.Background()))
}

var _ domain.RPCClient = (*Client)(nil)
