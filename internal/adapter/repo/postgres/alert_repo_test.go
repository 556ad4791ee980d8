package postgres_test

import (
	"context"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mclima/stock-intel-service/internal/adapter/repo/postgres"
	"github.com/mclima/stock-intel-service/internal/domain"
)

func TestAlertRepo_CreateGetListActive(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewAlertRepo(m)
	ctx := context.Background()

	m.ExpectExec("INSERT INTO price_alerts").
		WithArgs(pgxmock.AnyArg(), "u1", "AAPL", domain.ConditionAbove, pgxmock.AnyArg(), pgxmock.AnyArg(), true, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	id, err := repo.Create(ctx, domain.PriceAlert{
		UserID: "u1", Ticker: "aapl", Condition: domain.ConditionAbove, TargetPrice: decimal.NewFromFloat(150),
		Channels: []domain.NotificationChannel{domain.ChannelInApp},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	fixed := time.Now().UTC()
	rows := pgxmock.NewRows([]string{"id", "user_id", "ticker", "condition", "target_price", "channels", "is_active", "triggered_at", "created_at"}).
		AddRow(id, "u1", "AAPL", domain.ConditionAbove, decimal.NewFromFloat(150), []string{"in-app"}, true, nil, fixed)
	m.ExpectQuery(`SELECT id, user_id, ticker, condition, target_price, channels, is_active, triggered_at, created_at FROM price_alerts WHERE id=\$1`).
		WithArgs(id).WillReturnRows(rows)
	a, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", a.Ticker)
	assert.Equal(t, []domain.NotificationChannel{domain.ChannelInApp}, a.Channels)

	rows2 := pgxmock.NewRows([]string{"id", "user_id", "ticker", "condition", "target_price", "channels", "is_active", "triggered_at", "created_at"}).
		AddRow(id, "u1", "AAPL", domain.ConditionAbove, decimal.NewFromFloat(150), []string{"in-app"}, true, nil, fixed)
	m.ExpectQuery(`SELECT id, user_id, ticker, condition, target_price, channels, is_active, triggered_at, created_at\s+FROM price_alerts WHERE is_active=true ORDER BY created_at ASC`).
		WillReturnRows(rows2)
	active, err := repo.ListActive(ctx, nil)
	require.NoError(t, err)
	require.Len(t, active, 1)

	require.NoError(t, m.ExpectationsWereMet())
}

func TestAlertRepo_Trigger_WinAndLose(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewAlertRepo(m)
	ctx := context.Background()
	now := time.Now()

	m.ExpectExec(`UPDATE price_alerts SET is_active=false, triggered_at=\$2 WHERE id=\$1 AND is_active=true`).
		WithArgs("a1", now).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	won, err := repo.Trigger(ctx, "a1", now)
	require.NoError(t, err)
	require.True(t, won)

	m.ExpectExec(`UPDATE price_alerts SET is_active=false, triggered_at=\$2 WHERE id=\$1 AND is_active=true`).
		WithArgs("a1", now).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	won2, err := repo.Trigger(ctx, "a1", now)
	require.NoError(t, err)
	require.False(t, won2)

	require.NoError(t, m.ExpectationsWereMet())
}
