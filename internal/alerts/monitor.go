// Package alerts implements the AlertMonitor polling loop (C10): periodic
// price-alert evaluation, anti-fatigue-gated notification creation, and
// fire-and-forget WebSocket delivery.
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mclima/stock-intel-service/internal/adapter/observability"
	"github.com/mclima/stock-intel-service/internal/domain"
)

// Dispatcher delivers a triggered alert's Notification across its requested
// channels; satisfied by *notification.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, userID string, n domain.Notification, channels []domain.NotificationChannel)
}

// Monitor runs the periodic evaluation loop described in spec §4.8.
type Monitor struct {
	alerts        domain.AlertRepository
	notifications domain.NotificationRepository
	broadcaster   domain.WsBroadcaster
	dispatcher    Dispatcher
	prices        PriceFetcher

	interval          time.Duration
	antiFatigueWindow time.Duration
	antiFatigueMaxPer int
}

// PriceFetcher is the batch-price lookup the monitor depends on. Callers
// typically wire it via PriceFetcherFunc wrapping *stockdata.Service,
// converting its decimal.Decimal prices to float64 at the boundary.
type PriceFetcher interface {
	GetBatchPrices(ctx context.Context, tickers []string) map[string]float64
}

// PriceFetcherFunc adapts a plain function to PriceFetcher.
type PriceFetcherFunc func(ctx context.Context, tickers []string) map[string]float64

// GetBatchPrices implements PriceFetcher.
func (f PriceFetcherFunc) GetBatchPrices(ctx context.Context, tickers []string) map[string]float64 {
	return f(ctx, tickers)
}

// Config holds AlertMonitor tuning (§4.8).
type Config struct {
	PollInterval            time.Duration
	AntiFatigueWindow       time.Duration
	AntiFatigueMaxPerWindow int
}

// New builds a Monitor. dispatcher may be nil, in which case trigger falls
// back to sending in-app only via broadcaster directly.
func New(alertRepo domain.AlertRepository, notifRepo domain.NotificationRepository, broadcaster domain.WsBroadcaster, dispatcher Dispatcher, prices PriceFetcher, cfg Config) *Monitor {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	window := cfg.AntiFatigueWindow
	if window <= 0 {
		window = 15 * time.Minute
	}
	maxPer := cfg.AntiFatigueMaxPerWindow
	if maxPer <= 0 {
		maxPer = 5
	}
	return &Monitor{
		alerts: alertRepo, notifications: notifRepo, broadcaster: broadcaster, dispatcher: dispatcher, prices: prices,
		interval: interval, antiFatigueWindow: window, antiFatigueMaxPer: maxPer,
	}
}

// Run blocks, evaluating alerts every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.evaluateOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("alert monitor stopping")
			return
		case <-ticker.C:
			m.evaluateOnce(ctx)
		}
	}
}

func (m *Monitor) evaluateOnce(ctx context.Context) {
	tracer := otel.Tracer("alerts.monitor")
	ctx, span := tracer.Start(ctx, "AlertMonitor.evaluateOnce")
	defer span.End()

	active, err := m.alerts.ListActive(ctx, nil)
	if err != nil {
		span.RecordError(err)
		slog.Error("alert monitor failed to list active alerts", slog.Any("error", err))
		return
	}
	if len(active) == 0 {
		return
	}

	tickers := uniqueTickers(active)
	prices := m.prices.GetBatchPrices(ctx, tickers)

	triggered := 0
	for _, alert := range active {
		price, ok := prices[alert.Ticker]
		if !ok {
			continue
		}
		if !conditionMet(alert, price) {
			continue
		}
		if m.trigger(ctx, alert, price) {
			triggered++
		}
	}

	span.SetAttributes(
		attribute.Int("alerts.active_count", len(active)),
		attribute.Int("alerts.triggered_count", triggered),
	)
}

func uniqueTickers(alerts []domain.PriceAlert) []string {
	seen := make(map[string]struct{}, len(alerts))
	out := make([]string, 0, len(alerts))
	for _, a := range alerts {
		if _, ok := seen[a.Ticker]; ok {
			continue
		}
		seen[a.Ticker] = struct{}{}
		out = append(out, a.Ticker)
	}
	return out
}

func conditionMet(alert domain.PriceAlert, price float64) bool {
	target, _ := alert.TargetPrice.Float64()
	switch alert.Condition {
	case domain.ConditionAbove:
		return price >= target
	case domain.ConditionBelow:
		return price <= target
	default:
		return false
	}
}

const notificationTypePriceAlert = "price_alert"

// trigger performs the atomic alert deactivation, the anti-fatigue-gated
// notification, and the fire-and-forget WebSocket push. Deactivation always
// happens regardless of anti-fatigue suppression; only notification
// creation is gated.
func (m *Monitor) trigger(ctx context.Context, alert domain.PriceAlert, price float64) bool {
	now := time.Now()
	won, err := m.alerts.Trigger(ctx, alert.ID, now)
	if err != nil {
		slog.Error("alert monitor trigger failed", slog.String("alert_id", alert.ID), slog.Any("error", err))
		return false
	}
	if !won {
		// Another evaluator already won this race; nothing more to do.
		return false
	}
	observability.RecordAlertTriggered(string(alert.Condition))

	since := now.Add(-m.antiFatigueWindow)
	count, err := m.notifications.CountSince(ctx, alert.UserID, notificationTypePriceAlert, since)
	if err != nil {
		slog.Error("alert monitor anti-fatigue count failed", slog.String("user_id", alert.UserID), slog.Any("error", err))
		return true
	}
	if count >= m.antiFatigueMaxPer {
		observability.RecordAlertSuppressed()
		slog.Info("alert suppressed by anti-fatigue window", slog.String("alert_id", alert.ID), slog.String("user_id", alert.UserID))
		return true
	}

	notif := domain.Notification{
		UserID:  alert.UserID,
		Type:    notificationTypePriceAlert,
		Title:   fmt.Sprintf("%s price alert", alert.Ticker),
		Message: fmt.Sprintf("%s is now %.2f (target %s %s)", alert.Ticker, price, conditionWord(alert.Condition), alert.TargetPrice.String()),
		Payload: map[string]any{"ticker": alert.Ticker, "price": price, "alert_id": alert.ID},
		CreatedAt: now,
	}
	notifID, err := m.notifications.Create(ctx, notif)
	if err != nil {
		slog.Error("alert monitor notification create failed", slog.String("alert_id", alert.ID), slog.Any("error", err))
		return true
	}
	notif.ID = notifID

	switch {
	case m.dispatcher != nil:
		m.dispatcher.Dispatch(ctx, alert.UserID, notif, alert.Channels)
	case m.broadcaster != nil:
		m.broadcaster.SendNotificationToUser(ctx, alert.UserID, notif)
	}
	return true
}

func conditionWord(c domain.AlertCondition) string {
	if c == domain.ConditionAbove {
		return "≥"
	}
	return "≤"
}
