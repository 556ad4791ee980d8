package alerts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mclima/stock-intel-service/internal/domain"
)

type fakeAlertRepo struct {
	mu          sync.Mutex
	alerts      map[string]domain.PriceAlert
	triggerFunc func(id string) (bool, error)
}

func newFakeAlertRepo(alerts ...domain.PriceAlert) *fakeAlertRepo {
	m := make(map[string]domain.PriceAlert, len(alerts))
	for _, a := range alerts {
		m[a.ID] = a
	}
	return &fakeAlertRepo{alerts: m}
}

func (f *fakeAlertRepo) Create(context.Context, domain.PriceAlert) (string, error) { return "", nil }
func (f *fakeAlertRepo) Update(context.Context, domain.PriceAlert) error           { return nil }
func (f *fakeAlertRepo) Delete(context.Context, string) error                     { return nil }

func (f *fakeAlertRepo) Get(_ context.Context, id string) (domain.PriceAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.alerts[id]
	if !ok {
		return domain.PriceAlert{}, domain.ErrNotFound
	}
	return a, nil
}

func (f *fakeAlertRepo) ListByUser(context.Context, string) ([]domain.PriceAlert, error) { return nil, nil }

func (f *fakeAlertRepo) ListActive(_ context.Context, _ []string) ([]domain.PriceAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.PriceAlert, 0, len(f.alerts))
	for _, a := range f.alerts {
		if a.IsActive {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAlertRepo) Trigger(_ context.Context, id string, triggeredAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.triggerFunc != nil {
		return f.triggerFunc(id)
	}
	a, ok := f.alerts[id]
	if !ok || !a.IsActive {
		return false, nil
	}
	a.IsActive = false
	a.TriggeredAt = &triggeredAt
	f.alerts[id] = a
	return true, nil
}

type fakeNotifRepo struct {
	mu      sync.Mutex
	created []domain.Notification
	since   map[string]int
}

func newFakeNotifRepo() *fakeNotifRepo { return &fakeNotifRepo{since: map[string]int{}} }

func (f *fakeNotifRepo) Create(_ context.Context, n domain.Notification) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n.ID = "notif-" + n.UserID + "-" + n.Type
	f.created = append(f.created, n)
	return n.ID, nil
}

func (f *fakeNotifRepo) ListByUser(context.Context, string, int, bool) ([]domain.Notification, error) {
	return nil, nil
}

func (f *fakeNotifRepo) MarkRead(context.Context, string) error { return nil }

func (f *fakeNotifRepo) CountSince(_ context.Context, userID, notifType string, _ time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.since[userID+":"+notifType], nil
}

type fakeBroadcaster struct {
	mu    sync.Mutex
	sent  []domain.Notification
	users []string
}

func (b *fakeBroadcaster) BroadcastPriceUpdate(context.Context, string, map[string]any) int { return 0 }

func (b *fakeBroadcaster) SendNotificationToUser(_ context.Context, userID string, n domain.Notification) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, n)
	b.users = append(b.users, userID)
	return 1
}

func fixedPrices(m map[string]float64) PriceFetcher {
	return PriceFetcherFunc(func(context.Context, []string) map[string]float64 { return m })
}

func newAlert(id, userID, ticker string, cond domain.AlertCondition, target float64) domain.PriceAlert {
	return domain.PriceAlert{
		ID:          id,
		UserID:      userID,
		Ticker:      ticker,
		Condition:   cond,
		TargetPrice: decimal.NewFromFloat(target),
		IsActive:    true,
		CreatedAt:   time.Now(),
	}
}

func TestEvaluateOnce_TriggersAboveCondition(t *testing.T) {
	alert := newAlert("a1", "u1", "AAPL", domain.ConditionAbove, 150)
	alertRepo := newFakeAlertRepo(alert)
	notifRepo := newFakeNotifRepo()
	broadcaster := &fakeBroadcaster{}

	m := New(alertRepo, notifRepo, broadcaster, nil, fixedPrices(map[string]float64{"AAPL": 151.5}), Config{})
	m.evaluateOnce(context.Background())

	got, err := alertRepo.Get(context.Background(), "a1")
	require.NoError(t, err)
	require.False(t, got.IsActive)
	require.NotNil(t, got.TriggeredAt)

	require.Len(t, notifRepo.created, 1)
	require.Len(t, broadcaster.sent, 1)
	require.Equal(t, "u1", broadcaster.users[0])
}

func TestEvaluateOnce_TriggersBelowCondition(t *testing.T) {
	alert := newAlert("a1", "u1", "TSLA", domain.ConditionBelow, 200)
	alertRepo := newFakeAlertRepo(alert)
	notifRepo := newFakeNotifRepo()
	broadcaster := &fakeBroadcaster{}

	m := New(alertRepo, notifRepo, broadcaster, nil, fixedPrices(map[string]float64{"TSLA": 199.99}), Config{})
	m.evaluateOnce(context.Background())

	got, err := alertRepo.Get(context.Background(), "a1")
	require.NoError(t, err)
	require.False(t, got.IsActive)
	require.Len(t, notifRepo.created, 1)
}

func TestEvaluateOnce_ConditionNotMetLeavesAlertActive(t *testing.T) {
	alert := newAlert("a1", "u1", "AAPL", domain.ConditionAbove, 150)
	alertRepo := newFakeAlertRepo(alert)
	notifRepo := newFakeNotifRepo()
	broadcaster := &fakeBroadcaster{}

	m := New(alertRepo, notifRepo, broadcaster, nil, fixedPrices(map[string]float64{"AAPL": 149.0}), Config{})
	m.evaluateOnce(context.Background())

	got, err := alertRepo.Get(context.Background(), "a1")
	require.NoError(t, err)
	require.True(t, got.IsActive)
	require.Empty(t, notifRepo.created)
	require.Empty(t, broadcaster.sent)
}

func TestEvaluateOnce_MissingQuoteSkipsAlert(t *testing.T) {
	alert := newAlert("a1", "u1", "AAPL", domain.ConditionAbove, 150)
	alertRepo := newFakeAlertRepo(alert)
	notifRepo := newFakeNotifRepo()
	broadcaster := &fakeBroadcaster{}

	m := New(alertRepo, notifRepo, broadcaster, nil, fixedPrices(map[string]float64{}), Config{})
	m.evaluateOnce(context.Background())

	got, err := alertRepo.Get(context.Background(), "a1")
	require.NoError(t, err)
	require.True(t, got.IsActive)
	require.Empty(t, notifRepo.created)
}

func TestTrigger_RaceLossShortCircuitsWithoutNotification(t *testing.T) {
	alert := newAlert("a1", "u1", "AAPL", domain.ConditionAbove, 150)
	alertRepo := newFakeAlertRepo(alert)
	alertRepo.triggerFunc = func(string) (bool, error) { return false, nil }
	notifRepo := newFakeNotifRepo()
	broadcaster := &fakeBroadcaster{}

	m := New(alertRepo, notifRepo, broadcaster, nil, fixedPrices(map[string]float64{"AAPL": 200}), Config{})
	m.evaluateOnce(context.Background())

	require.Empty(t, notifRepo.created)
	require.Empty(t, broadcaster.sent)
}

func TestTrigger_AntiFatigueSuppressesNotificationButStillDeactivates(t *testing.T) {
	alert := newAlert("a1", "u1", "AAPL", domain.ConditionAbove, 150)
	alertRepo := newFakeAlertRepo(alert)
	notifRepo := newFakeNotifRepo()
	notifRepo.since["u1:price_alert"] = 5
	broadcaster := &fakeBroadcaster{}

	m := New(alertRepo, notifRepo, broadcaster, nil, fixedPrices(map[string]float64{"AAPL": 200}), Config{AntiFatigueMaxPerWindow: 5})
	m.evaluateOnce(context.Background())

	got, err := alertRepo.Get(context.Background(), "a1")
	require.NoError(t, err)
	require.False(t, got.IsActive)
	require.NotNil(t, got.TriggeredAt)

	require.Empty(t, notifRepo.created)
	require.Empty(t, broadcaster.sent)
}

func TestTrigger_AntiFatigueAllowsNotificationUnderLimit(t *testing.T) {
	alert := newAlert("a1", "u1", "AAPL", domain.ConditionAbove, 150)
	alertRepo := newFakeAlertRepo(alert)
	notifRepo := newFakeNotifRepo()
	notifRepo.since["u1:price_alert"] = 4
	broadcaster := &fakeBroadcaster{}

	m := New(alertRepo, notifRepo, broadcaster, nil, fixedPrices(map[string]float64{"AAPL": 200}), Config{AntiFatigueMaxPerWindow: 5})
	m.evaluateOnce(context.Background())

	require.Len(t, notifRepo.created, 1)
	require.Len(t, broadcaster.sent, 1)
}

func TestEvaluateOnce_InactiveAlertsIgnored(t *testing.T) {
	active := newAlert("a1", "u1", "AAPL", domain.ConditionAbove, 150)
	inactive := newAlert("a2", "u2", "MSFT", domain.ConditionAbove, 100)
	inactive.IsActive = false
	alertRepo := newFakeAlertRepo(active, inactive)
	notifRepo := newFakeNotifRepo()
	broadcaster := &fakeBroadcaster{}

	m := New(alertRepo, notifRepo, broadcaster, nil, fixedPrices(map[string]float64{"AAPL": 160, "MSFT": 200}), Config{})
	m.evaluateOnce(context.Background())

	require.Len(t, notifRepo.created, 1)
	require.Equal(t, "u1", notifRepo.created[0].UserID)
}

type fakeDispatcher struct {
	mu       sync.Mutex
	calls    int
	channels []domain.NotificationChannel
}

func (d *fakeDispatcher) Dispatch(_ context.Context, _ string, _ domain.Notification, channels []domain.NotificationChannel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.channels = channels
}

func TestTrigger_UsesDispatcherWhenConfigured(t *testing.T) {
	alert := newAlert("a1", "u1", "AAPL", domain.ConditionAbove, 150)
	alert.Channels = []domain.NotificationChannel{domain.ChannelEmail, domain.ChannelPush}
	alertRepo := newFakeAlertRepo(alert)
	notifRepo := newFakeNotifRepo()
	broadcaster := &fakeBroadcaster{}
	dispatcher := &fakeDispatcher{}

	m := New(alertRepo, notifRepo, broadcaster, dispatcher, fixedPrices(map[string]float64{"AAPL": 200}), Config{})
	m.evaluateOnce(context.Background())

	require.Equal(t, 1, dispatcher.calls)
	require.Equal(t, []domain.NotificationChannel{domain.ChannelEmail, domain.ChannelPush}, dispatcher.channels)
	require.Empty(t, broadcaster.sent, "broadcaster should not be used directly when a dispatcher is configured")
}

func TestUniqueTickers_DedupesAcrossAlerts(t *testing.T) {
	alerts := []domain.PriceAlert{
		newAlert("a1", "u1", "AAPL", domain.ConditionAbove, 150),
		newAlert("a2", "u2", "AAPL", domain.ConditionBelow, 100),
		newAlert("a3", "u3", "MSFT", domain.ConditionAbove, 300),
	}
	got := uniqueTickers(alerts)
	require.ElementsMatch(t, []string{"AAPL", "MSFT"}, got)
}

func TestConditionMet_AboveAndBelow(t *testing.T) {
	above := newAlert("a1", "u1", "AAPL", domain.ConditionAbove, 150)
	require.True(t, conditionMet(above, 150))
	require.True(t, conditionMet(above, 151))
	require.False(t, conditionMet(above, 149.99))

	below := newAlert("a2", "u1", "AAPL", domain.ConditionBelow, 150)
	require.True(t, conditionMet(below, 150))
	require.True(t, conditionMet(below, 149))
	require.False(t, conditionMet(below, 150.01))
}
