package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/mclima/stock-intel-service/internal/auth"
	"github.com/mclima/stock-intel-service/internal/domain"
	"github.com/mclima/stock-intel-service/internal/marketoverview"
	"github.com/mclima/stock-intel-service/internal/news"
	"github.com/mclima/stock-intel-service/internal/notification"
	"github.com/mclima/stock-intel-service/internal/portfolio"
	"github.com/mclima/stock-intel-service/internal/stockdata"
	"github.com/mclima/stock-intel-service/internal/workflow"
	"github.com/mclima/stock-intel-service/internal/wsregistry"
)

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// Server aggregates every handler's dependencies: the per-ticker data tiers,
// the composite services, the repositories backing CRUD resources, and the
// cross-cutting pieces (auth, websocket registry, readiness probes).
type Server struct {
	Stocks  *stockdata.Service
	News    *news.Service
	Market  *marketoverview.Service
	Events  *wsregistry.Registry

	Users         domain.UserRepository
	Portfolios    *portfolio.Service
	Alerts        domain.AlertRepository
	Notifications domain.NotificationRepository
	Dispatcher    *notification.Dispatcher
	Workflows     domain.WorkflowRepository
	Executions    domain.ExecutionRepository
	Orchestrator  *workflow.Orchestrator
	Scheduler     *workflow.Scheduler

	Tokens *auth.TokenIssuer

	DBCheck    func(ctx context.Context) error
	CacheCheck func(ctx context.Context) error
	ToolsCheck func(ctx context.Context) error
}

// NewServer builds a Server from its wired dependencies.
func NewServer(
	stocks *stockdata.Service,
	newsSvc *news.Service,
	market *marketoverview.Service,
	events *wsregistry.Registry,
	users domain.UserRepository,
	portfolios *portfolio.Service,
	alerts domain.AlertRepository,
	notifications domain.NotificationRepository,
	dispatcher *notification.Dispatcher,
	workflows domain.WorkflowRepository,
	executions domain.ExecutionRepository,
	orchestrator *workflow.Orchestrator,
	scheduler *workflow.Scheduler,
	tokens *auth.TokenIssuer,
	dbCheck, cacheCheck, toolsCheck func(ctx context.Context) error,
) *Server {
	return &Server{
		Stocks: stocks, News: newsSvc, Market: market, Events: events,
		Users: users, Portfolios: portfolios, Alerts: alerts, Notifications: notifications, Dispatcher: dispatcher,
		Workflows: workflows, Executions: executions, Orchestrator: orchestrator, Scheduler: scheduler,
		Tokens: tokens, DBCheck: dbCheck, CacheCheck: cacheCheck, ToolsCheck: toolsCheck,
	}
}

type userIDContextKey struct{}

// userID extracts the authenticated user id attached by AuthRequired.
func userID(r *http.Request) string {
	if v := r.Context().Value(userIDContextKey{}); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// AuthRequired resolves the bearer token into a user id and rejects the
// request with 401 when absent or invalid.
func (s *Server) AuthRequired(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			writeError(w, r, &domain.ServiceError{Code: domain.CodeAuthentication, Message: "missing bearer token", UserMessage: "authentication required", Err: domain.ErrAuthentication}, nil)
			return
		}
		uid, err := s.Tokens.Verify(tok)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		ctx := context.WithValue(r.Context(), userIDContextKey{}, uid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// structValidationResult converts a go-playground/validator error into the
// same ValidationResult shape hand-rolled checks in validation.go produce, so
// callers share one error envelope regardless of which layer rejected.
func structValidationResult(err error) ValidationResult {
	ve, ok := err.(validator.ValidationErrors)
	if !ok {
		return invalid("body", "INVALID_FORMAT", "request failed validation")
	}
	res := ValidationResult{Valid: false, Errors: make([]ValidationError, 0, len(ve))}
	for _, fe := range ve {
		field := strings.ToLower(fe.Field())
		res.Errors = append(res.Errors, ValidationError{
			Field:   field,
			Code:    "INVALID_" + strings.ToUpper(fe.Tag()),
			Message: field + " failed the \"" + fe.Tag() + "\" rule",
		})
	}
	return res
}

// --- Auth ---------------------------------------------------------------

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

type tokenResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

// RegisterHandler creates a User and returns a bearer token, per spec §1's
// thin-auth-boundary carve-out (no email verification, no OAuth).
func (s *Server) RegisterHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, domain.NewValidationError("invalid JSON body"), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeValidationError(w, structValidationResult(err))
			return
		}
		if res := ValidateEmail(req.Email); !res.Valid {
			writeValidationError(w, res)
			return
		}
		if res := ValidatePassword(req.Password); !res.Valid {
			writeValidationError(w, res)
			return
		}
		email := strings.ToLower(strings.TrimSpace(req.Email))
		if _, err := s.Users.GetByEmail(r.Context(), email); err == nil {
			writeError(w, r, &domain.ServiceError{Code: domain.CodeConflict, Message: "email already registered", UserMessage: "email already registered", Err: domain.ErrConflict}, nil)
			return
		}
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			writeError(w, r, domain.NewInternalError(err), nil)
			return
		}
		id, err := s.Users.Create(r.Context(), domain.User{Email: email, PasswordHash: hash})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusCreated, tokenResponse{Token: s.Tokens.Issue(id), UserID: id})
	}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginHandler authenticates an existing user and returns a bearer token.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, domain.NewValidationError("invalid JSON body"), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeValidationError(w, structValidationResult(err))
			return
		}
		email := strings.ToLower(strings.TrimSpace(req.Email))
		u, err := s.Users.GetByEmail(r.Context(), email)
		if err != nil {
			writeError(w, r, &domain.ServiceError{Code: domain.CodeAuthentication, Message: "invalid credentials", UserMessage: "invalid email or password", Err: domain.ErrAuthentication}, nil)
			return
		}
		if !auth.VerifyPassword(u.PasswordHash, req.Password) {
			writeError(w, r, &domain.ServiceError{Code: domain.CodeAuthentication, Message: "invalid credentials", UserMessage: "invalid email or password", Err: domain.ErrAuthentication}, nil)
			return
		}
		writeJSON(w, http.StatusOK, tokenResponse{Token: s.Tokens.Issue(u.ID), UserID: u.ID})
	}
}

// --- Stock data -----------------------------------------------------------

func tickerParam(r *http.Request) (string, ValidationResult) {
	t := NormalizeTicker(chi.URLParam(r, "ticker"))
	return t, ValidateTicker(t)
}

// GetPriceHandler returns the current price for a ticker.
func (s *Server) GetPriceHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ticker, res := tickerParam(r)
		if !res.Valid {
			writeValidationError(w, res)
			return
		}
		price, err := s.Stocks.GetCurrentPrice(r.Context(), ticker)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, price)
	}
}

// GetHistoricalHandler returns a ticker's price history between ?start and
// ?end (YYYY-MM-DD), defaulting to the trailing 30 days.
func (s *Server) GetHistoricalHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ticker, res := tickerParam(r)
		if !res.Valid {
			writeValidationError(w, res)
			return
		}
		end := time.Now().UTC()
		start := end.AddDate(0, 0, -30)
		if v := r.URL.Query().Get("start"); v != "" {
			if t, err := time.Parse("2006-01-02", v); err == nil {
				start = t
			} else {
				writeValidationError(w, invalid("start", "INVALID_FORMAT", "start must be YYYY-MM-DD"))
				return
			}
		}
		if v := r.URL.Query().Get("end"); v != "" {
			if t, err := time.Parse("2006-01-02", v); err == nil {
				end = t
			} else {
				writeValidationError(w, invalid("end", "INVALID_FORMAT", "end must be YYYY-MM-DD"))
				return
			}
		}
		points, err := s.Stocks.GetHistoricalData(r.Context(), ticker, start, end)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, points)
	}
}

// GetCompanyHandler returns company profile info for a ticker.
func (s *Server) GetCompanyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ticker, res := tickerParam(r)
		if !res.Valid {
			writeValidationError(w, res)
			return
		}
		info, err := s.Stocks.GetCompanyInfo(r.Context(), ticker)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, info)
	}
}

// GetMetricsHandler returns financial metrics for a ticker.
func (s *Server) GetMetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ticker, res := tickerParam(r)
		if !res.Valid {
			writeValidationError(w, res)
			return
		}
		metrics, err := s.Stocks.GetFinancialMetrics(r.Context(), ticker)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, metrics)
	}
}

type stockDetail struct {
	Price   stockdata.Price             `json:"price"`
	Company *stockdata.CompanyInfo      `json:"company"`
	Metrics *stockdata.FinancialMetrics `json:"metrics"`
	News    []news.Article              `json:"news,omitempty"`
}

// GetStockHandler returns the composite stock-detail view: current price,
// company profile, financial metrics, and recent news, fetched concurrently.
// The price is required: if it fails, the whole request fails. A failed
// company or metrics lookup is returned as null, and failed news is omitted.
func (s *Server) GetStockHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ticker, res := tickerParam(r)
		if !res.Valid {
			writeValidationError(w, res)
			return
		}

		var detail stockDetail
		var priceErr error
		var wg sync.WaitGroup
		wg.Add(4)
		go func() { defer wg.Done(); detail.Price, priceErr = s.Stocks.GetCurrentPrice(r.Context(), ticker) }()
		go func() {
			defer wg.Done()
			if c, err := s.Stocks.GetCompanyInfo(r.Context(), ticker); err == nil {
				detail.Company = &c
			}
		}()
		go func() {
			defer wg.Done()
			if m, err := s.Stocks.GetFinancialMetrics(r.Context(), ticker); err == nil {
				detail.Metrics = &m
			}
		}()
		go func() {
			defer wg.Done()
			if s.News != nil {
				detail.News, _ = s.News.GetStockNews(r.Context(), ticker, 10)
			}
		}()
		wg.Wait()

		if priceErr != nil {
			writeError(w, r, priceErr, nil)
			return
		}
		writeJSON(w, http.StatusOK, detail)
	}
}

// BatchPricesHandler returns current prices for ?tickers=A,B,C.
func (s *Server) BatchPricesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("tickers")
		if strings.TrimSpace(raw) == "" {
			writeValidationError(w, invalid("tickers", "REQUIRED", "tickers query parameter is required"))
			return
		}
		tickers := strings.Split(raw, ",")
		for i, t := range tickers {
			tickers[i] = NormalizeTicker(t)
			if res := ValidateTicker(tickers[i]); !res.Valid {
				writeValidationError(w, res)
				return
			}
		}
		prices := s.Stocks.GetBatchPrices(r.Context(), tickers)
		writeJSON(w, http.StatusOK, prices)
	}
}

// SearchHandler handles GET /stocks/search?q=...&limit=...
func (s *Server) SearchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		if res := ValidateSearchQuery(q); !res.Valid {
			writeValidationError(w, res)
			return
		}
		limit := 10
		if v := r.URL.Query().Get("limit"); v != "" {
			if res := ValidatePagination(v, 50); !res.Valid {
				writeValidationError(w, res)
				return
			}
			limit, _ = strconv.Atoi(v)
		}
		results, err := s.Stocks.SearchStocks(r.Context(), q, limit)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, results)
	}
}

// --- Market overview --------------------------------------------------

// MarketOverviewHandler returns the composite market overview, optionally
// including a sector heatmap via ?sectors=true.
func (s *Server) MarketOverviewHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		includeSectors := r.URL.Query().Get("sectors") == "true"
		overview, err := s.Market.GetOverview(r.Context(), includeSectors)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, overview)
	}
}

// MarketIndicesHandler returns just the indices slice of the overview.
func (s *Server) MarketIndicesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overview, err := s.Market.GetOverview(r.Context(), false)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, overview.Indices)
	}
}

// MarketSectorsHandler returns sector performance, fetched fresh every call.
func (s *Server) MarketSectorsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sectors, err := s.Market.GetSectorPerformance(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, sectors)
	}
}

// MarketTrendingHandler returns trending tickers.
func (s *Server) MarketTrendingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 10
		if v := r.URL.Query().Get("limit"); v != "" {
			if res := ValidatePagination(v, 50); !res.Valid {
				writeValidationError(w, res)
				return
			}
			limit, _ = strconv.Atoi(v)
		}
		tickers, err := s.News.GetTrendingTickers(r.Context(), limit)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, tickers)
	}
}

// --- Alerts --------------------------------------------------------------

type alertRequest struct {
	Ticker      string   `json:"ticker" validate:"required"`
	Condition   string   `json:"condition" validate:"required"`
	TargetPrice string   `json:"target_price" validate:"required"`
	Channels    []string `json:"channels"`
}

func (s *Server) decodeAlert(r *http.Request) (domain.PriceAlert, ValidationResult, error) {
	var req alertRequest
	if err := decodeJSON(r, &req); err != nil {
		return domain.PriceAlert{}, ValidationResult{}, domain.NewValidationError("invalid JSON body")
	}
	if err := getValidator().Struct(req); err != nil {
		return domain.PriceAlert{}, structValidationResult(err), nil
	}
	ticker := NormalizeTicker(req.Ticker)
	if res := ValidateTicker(ticker); !res.Valid {
		return domain.PriceAlert{}, res, nil
	}
	if res := ValidateAlertCondition(req.Condition); !res.Valid {
		return domain.PriceAlert{}, res, nil
	}
	channels := req.Channels
	if len(channels) == 0 {
		channels = []string{string(domain.ChannelInApp)}
	}
	if res := ValidateNotificationChannels(channels); !res.Valid {
		return domain.PriceAlert{}, res, nil
	}
	target, err := decimal.NewFromString(req.TargetPrice)
	if err != nil || target.IsNegative() {
		return domain.PriceAlert{}, invalid("target_price", "INVALID_FORMAT", "target_price must be a non-negative decimal"), nil
	}
	chans := make([]domain.NotificationChannel, len(channels))
	for i, c := range channels {
		chans[i] = domain.NotificationChannel(c)
	}
	return domain.PriceAlert{
		Ticker:      ticker,
		Condition:   domain.AlertCondition(req.Condition),
		TargetPrice: target,
		Channels:    chans,
		IsActive:    true,
	}, ValidationResult{Valid: true}, nil
}

// ListAlertsHandler returns the caller's price alerts.
func (s *Server) ListAlertsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		alerts, err := s.Alerts.ListByUser(r.Context(), userID(r))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, alerts)
	}
}

// CreateAlertHandler creates a price alert for the caller.
func (s *Server) CreateAlertHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		alert, res, err := s.decodeAlert(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if !res.Valid {
			writeValidationError(w, res)
			return
		}
		alert.UserID = userID(r)
		id, err := s.Alerts.Create(r.Context(), alert)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		alert.ID = id
		writeJSON(w, http.StatusCreated, alert)
	}
}

// UpdateAlertHandler updates an existing alert owned by the caller.
func (s *Server) UpdateAlertHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		existing, err := s.Alerts.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if existing.UserID != userID(r) {
			writeError(w, r, domain.NewNotFoundError("alert not found"), nil)
			return
		}
		alert, res, derr := s.decodeAlert(r)
		if derr != nil {
			writeError(w, r, derr, nil)
			return
		}
		if !res.Valid {
			writeValidationError(w, res)
			return
		}
		alert.ID = id
		alert.UserID = existing.UserID
		alert.IsActive = true
		if err := s.Alerts.Update(r.Context(), alert); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, alert)
	}
}

// DeleteAlertHandler deletes an alert owned by the caller.
func (s *Server) DeleteAlertHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		existing, err := s.Alerts.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if existing.UserID != userID(r) {
			writeError(w, r, domain.NewNotFoundError("alert not found"), nil)
			return
		}
		if err := s.Alerts.Delete(r.Context(), id); err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// --- Notifications ---------------------------------------------------

// ListNotificationsHandler returns the caller's notifications, newest first.
func (s *Server) ListNotificationsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			if res := ValidatePagination(v, 200); !res.Valid {
				writeValidationError(w, res)
				return
			}
			limit, _ = strconv.Atoi(v)
		}
		unreadOnly := r.URL.Query().Get("unread") == "true"
		notifs, err := s.Notifications.ListByUser(r.Context(), userID(r), limit, unreadOnly)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, notifs)
	}
}

// MarkNotificationReadHandler marks a single notification read.
func (s *Server) MarkNotificationReadHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := s.Notifications.MarkRead(r.Context(), id); err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// --- Portfolio -------------------------------------------------------

// GetPortfolioHandler returns the caller's portfolio and positions.
func (s *Server) GetPortfolioHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pf, positions, err := s.Portfolios.GetPortfolio(r.Context(), userID(r))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"portfolio": pf, "positions": positions})
	}
}

type positionRequest struct {
	Ticker        string `json:"ticker" validate:"required"`
	Quantity      string `json:"quantity" validate:"required"`
	PurchasePrice string `json:"purchase_price" validate:"required"`
	PurchaseDate  string `json:"purchase_date" validate:"required"`
}

func parsePosition(req positionRequest) (domain.StockPosition, error) {
	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		return domain.StockPosition{}, domain.NewValidationError("quantity must be a decimal")
	}
	price, err := decimal.NewFromString(req.PurchasePrice)
	if err != nil {
		return domain.StockPosition{}, domain.NewValidationError("purchase_price must be a decimal")
	}
	date, err := time.Parse("2006-01-02", req.PurchaseDate)
	if err != nil {
		return domain.StockPosition{}, domain.NewValidationError("purchase_date must be YYYY-MM-DD")
	}
	return domain.StockPosition{Ticker: req.Ticker, Quantity: qty, PurchasePrice: price, PurchaseDate: date}, nil
}

// AddPositionHandler adds a position to the caller's portfolio.
func (s *Server) AddPositionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req positionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, domain.NewValidationError("invalid JSON body"), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeValidationError(w, structValidationResult(err))
			return
		}
		p, err := parsePosition(req)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		created, err := s.Portfolios.AddPosition(r.Context(), userID(r), p)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

// UpdatePositionHandler overwrites an existing position.
func (s *Server) UpdatePositionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req positionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, domain.NewValidationError("invalid JSON body"), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeValidationError(w, structValidationResult(err))
			return
		}
		p, err := parsePosition(req)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		p.ID = chi.URLParam(r, "id")
		if err := s.Portfolios.UpdatePosition(r.Context(), userID(r), p); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// DeletePositionHandler removes a position from the caller's portfolio.
func (s *Server) DeletePositionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := s.Portfolios.DeletePosition(r.Context(), userID(r), id); err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ExportPortfolioCSVHandler streams the caller's portfolio as CSV.
func (s *Server) ExportPortfolioCSVHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", "attachment; filename=portfolio.csv")
		if err := s.Portfolios.ExportCSV(r.Context(), userID(r), w); err != nil {
			writeError(w, r, err, nil)
			return
		}
	}
}

// ImportPortfolioCSVHandler reads a CSV body and inserts positions row by
// row, reporting per-row failures in the response rather than aborting.
func (s *Server) ImportPortfolioCSVHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 5<<20)
		imported, errs := s.Portfolios.ImportCSV(r.Context(), userID(r), r.Body)
		writeJSON(w, http.StatusOK, map[string]any{"imported": imported, "errors": errs})
	}
}

// --- Workflows -------------------------------------------------------

type workflowRequest struct {
	Name          string                     `json:"name" validate:"required"`
	Type          string                     `json:"type"`
	Definition    domain.WorkflowDefinition  `json:"definition" validate:"required"`
	ExecutionMode domain.WorkflowExecutionMode `json:"execution_mode"`
	CronSchedule  *string                    `json:"cron_schedule,omitempty"`
}

// ListWorkflowsHandler returns the caller's workflows.
func (s *Server) ListWorkflowsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wfs, err := s.Workflows.ListByUser(r.Context(), userID(r))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, wfs)
	}
}

// CreateWorkflowHandler creates a workflow and, when a cron schedule is
// given, registers it with the Scheduler immediately.
func (s *Server) CreateWorkflowHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req workflowRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, domain.NewValidationError("invalid JSON body"), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeValidationError(w, structValidationResult(err))
			return
		}
		mode := req.ExecutionMode
		if mode == "" {
			mode = domain.ExecutionModeSequential
		}
		wf := domain.Workflow{
			UserID: userID(r), Name: req.Name, Type: req.Type,
			Definition: req.Definition, ExecutionMode: mode,
			CronSchedule: req.CronSchedule, IsActive: true,
		}
		id, err := s.Workflows.Create(r.Context(), wf)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		wf.ID = id
		if s.Scheduler != nil && req.CronSchedule != nil && *req.CronSchedule != "" {
			if err := s.Scheduler.ScheduleWorkflow(id, *req.CronSchedule); err != nil {
				LoggerFrom(r).Warn("failed to register workflow schedule", "workflow_id", id, "error", err)
			}
		}
		writeJSON(w, http.StatusCreated, wf)
	}
}

// GetWorkflowHandler returns a workflow owned by the caller.
func (s *Server) GetWorkflowHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wf, err := s.Workflows.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if wf.UserID != userID(r) {
			writeError(w, r, domain.NewNotFoundError("workflow not found"), nil)
			return
		}
		writeJSON(w, http.StatusOK, wf)
	}
}

// DeleteWorkflowHandler removes a workflow and its cron schedule, if any.
func (s *Server) DeleteWorkflowHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		wf, err := s.Workflows.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if wf.UserID != userID(r) {
			writeError(w, r, domain.NewNotFoundError("workflow not found"), nil)
			return
		}
		if s.Scheduler != nil {
			_ = s.Scheduler.CancelWorkflow(r.Context(), id)
		}
		if err := s.Workflows.Delete(r.Context(), id); err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ExecuteWorkflowHandler runs a workflow synchronously and returns its
// completed execution record.
func (s *Server) ExecuteWorkflowHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		wf, err := s.Workflows.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if wf.UserID != userID(r) {
			writeError(w, r, domain.NewNotFoundError("workflow not found"), nil)
			return
		}
		var callerContext map[string]any
		if r.ContentLength > 0 {
			_ = decodeJSON(r, &callerContext)
		}
		exec, err := s.Orchestrator.Execute(r.Context(), wf, callerContext)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, exec)
	}
}

// GetExecutionHandler returns one workflow execution record.
func (s *Server) GetExecutionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		exec, err := s.Executions.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, exec)
	}
}

// CancelExecutionHandler aborts an in-flight execution.
func (s *Server) CancelExecutionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := s.Orchestrator.Cancel(r.Context(), id); err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// --- Health/readiness --------------------------------------------------

// HealthzHandler reports liveness: the process is up and serving.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler reports readiness: database, cache, and downstream tool
// servers are all reachable.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]func(context.Context) error{"db": s.DBCheck, "cache": s.CacheCheck, "tools": s.ToolsCheck}
		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if check == nil {
				continue
			}
			if err := check(r.Context()); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		writeJSON(w, status, map[string]any{"status": map[bool]string{true: "ok", false: "degraded"}[status == http.StatusOK], "checks": results})
	}
}
