package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	httpserver "github.com/mclima/stock-intel-service/internal/adapter/httpserver"
	"github.com/mclima/stock-intel-service/internal/app"
	"github.com/mclima/stock-intel-service/internal/auth"
	"github.com/mclima/stock-intel-service/internal/config"
)

func TestBuildRouter_Healthz_And_Readyz(t *testing.T) {
	cfg := config.Config{Port: 8080, RateLimitPricePerMin: 120, RateLimitHistoricalPerMin: 30, RateLimitSearchPerMin: 60, RateLimitMarketOverviewPerMin: 30, RateLimitAlertWritePerMin: 30, RateLimitNotificationsPerMin: 60}
	srv := httpserver.NewServer(
		nil, nil, nil, nil,
		nil, nil, nil, nil, nil,
		nil, nil, nil, nil,
		auth.NewTokenIssuer("test-key", time.Hour),
		func(_ context.Context) error { return nil },
		func(_ context.Context) error { return nil },
		func(_ context.Context) error { return nil },
	)
	h := app.BuildRouter(cfg, srv)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Result().StatusCode != http.StatusOK {
		t.Fatalf("/healthz: want 200, got %d", rec.Result().StatusCode)
	}

	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec2.Result().StatusCode != http.StatusOK {
		t.Fatalf("/readyz: want 200, got %d", rec2.Result().StatusCode)
	}
}

func TestBuildRouter_RejectsUnauthenticated(t *testing.T) {
	cfg := config.Config{Port: 8080}
	srv := httpserver.NewServer(
		nil, nil, nil, nil,
		nil, nil, nil, nil, nil,
		nil, nil, nil, nil,
		auth.NewTokenIssuer("test-key", time.Hour),
		nil, nil, nil,
	)
	h := app.BuildRouter(cfg, srv)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/portfolio", nil))
	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("/v1/portfolio without token: want 401, got %d", rec.Result().StatusCode)
	}
}
