// Package app wires application components and startup helpers.
//
// It provides dependency injection and application initialization.
// The package coordinates between different layers and provides
// a clean application bootstrap process.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/mclima/stock-intel-service/internal/adapter/httpserver"
	"github.com/mclima/stock-intel-service/internal/adapter/observability"
	"github.com/mclima/stock-intel-service/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming spaces.
// If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return []string{"*"}
	}
	if s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(30 * time.Second))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", srv.HealthzHandler())
	r.Get("/health", srv.HealthzHandler())
	r.Get("/readyz", srv.ReadyzHandler())
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) { promhttp.Handler().ServeHTTP(w, req) })

	r.Post("/v1/auth/register", srv.RegisterHandler())
	r.Post("/v1/auth/login", srv.LoginHandler())

	r.Get("/ws/", srv.WsHandler())

	r.Group(func(auth chi.Router) {
		auth.Use(srv.AuthRequired)

		auth.Group(func(wr chi.Router) {
			wr.Use(httprate.LimitByIP(cfg.RateLimitPricePerMin, time.Minute))
			wr.Get("/v1/stocks/{ticker}", srv.GetStockHandler())
			wr.Get("/v1/stocks/{ticker}/price", srv.GetPriceHandler())
			wr.Get("/v1/stocks/{ticker}/company", srv.GetCompanyHandler())
			wr.Get("/v1/stocks/{ticker}/metrics", srv.GetMetricsHandler())
			wr.Post("/v1/stocks/batch-prices", srv.BatchPricesHandler())
		})

		auth.Group(func(wr chi.Router) {
			wr.Use(httprate.LimitByIP(cfg.RateLimitHistoricalPerMin, time.Minute))
			wr.Get("/v1/stocks/{ticker}/historical", srv.GetHistoricalHandler())
		})

		auth.Group(func(wr chi.Router) {
			wr.Use(httprate.LimitByIP(cfg.RateLimitSearchPerMin, time.Minute))
			wr.Get("/v1/search", srv.SearchHandler())
		})

		auth.Group(func(wr chi.Router) {
			wr.Use(httprate.LimitByIP(cfg.RateLimitMarketOverviewPerMin, time.Minute))
			wr.Get("/v1/market/overview", srv.MarketOverviewHandler())
			wr.Get("/v1/market/indices", srv.MarketIndicesHandler())
			wr.Get("/v1/market/sectors", srv.MarketSectorsHandler())
			wr.Get("/v1/market/trending", srv.MarketTrendingHandler())
		})

		auth.Group(func(wr chi.Router) {
			wr.Get("/v1/alerts", srv.ListAlertsHandler())
			wr.With(httprate.LimitByIP(cfg.RateLimitAlertWritePerMin, time.Minute)).Post("/v1/alerts", srv.CreateAlertHandler())
			wr.With(httprate.LimitByIP(cfg.RateLimitAlertWritePerMin, time.Minute)).Put("/v1/alerts/{id}", srv.UpdateAlertHandler())
			wr.With(httprate.LimitByIP(cfg.RateLimitAlertWritePerMin, time.Minute)).Delete("/v1/alerts/{id}", srv.DeleteAlertHandler())
		})

		auth.Group(func(wr chi.Router) {
			wr.Use(httprate.LimitByIP(cfg.RateLimitNotificationsPerMin, time.Minute))
			wr.Get("/v1/notifications", srv.ListNotificationsHandler())
			wr.Post("/v1/notifications/{id}/read", srv.MarkNotificationReadHandler())
		})

		auth.Get("/v1/portfolio", srv.GetPortfolioHandler())
		auth.Post("/v1/portfolio/positions", srv.AddPositionHandler())
		auth.Put("/v1/portfolio/positions/{id}", srv.UpdatePositionHandler())
		auth.Delete("/v1/portfolio/positions/{id}", srv.DeletePositionHandler())
		auth.Get("/v1/portfolio/export", srv.ExportPortfolioCSVHandler())
		auth.Post("/v1/portfolio/import", srv.ImportPortfolioCSVHandler())

		auth.Get("/v1/workflows", srv.ListWorkflowsHandler())
		auth.Post("/v1/workflows", srv.CreateWorkflowHandler())
		auth.Get("/v1/workflows/{id}", srv.GetWorkflowHandler())
		auth.Delete("/v1/workflows/{id}", srv.DeleteWorkflowHandler())
		auth.Post("/v1/workflows/{id}/execute", srv.ExecuteWorkflowHandler())
		auth.Get("/v1/executions/{id}", srv.GetExecutionHandler())
		auth.Post("/v1/executions/{id}/cancel", srv.CancelExecutionHandler())
	})

	return httpserver.SecurityHeaders(r)
}
