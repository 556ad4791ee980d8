// Package postgres provides PostgreSQL database adapters.
//
// It implements repository interfaces for data persistence.
// The package provides type-safe database operations with
// connection pooling and transaction support.
package postgres

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mclima/stock-intel-service/internal/domain"
)

// AlertRepo persists and loads price alerts using a minimal pgx pool.
type AlertRepo struct{ Pool PgxPool }

// NewAlertRepo constructs an AlertRepo with the given pool.
func NewAlertRepo(p PgxPool) *AlertRepo { return &AlertRepo{Pool: p} }

// Create inserts a new alert and returns its id.
func (r *AlertRepo) Create(ctx domain.Context, a domain.PriceAlert) (string, error) {
	tracer := otel.Tracer("repo.alerts")
	ctx, span := tracer.Start(ctx, "alerts.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "price_alerts"),
	)
	id := a.ID
	if id == "" {
		id = uuid.New().String()
	}
	channels := make([]string, len(a.Channels))
	for i, c := range a.Channels {
		channels[i] = string(c)
	}
	q := `INSERT INTO price_alerts (id, user_id, ticker, condition, target_price, channels, is_active, created_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := r.Pool.Exec(ctx, q, id, a.UserID, strings.ToUpper(a.Ticker), a.Condition, a.TargetPrice, channels, true, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("op=alert.create: %w", err)
	}
	return id, nil
}

// Update overwrites an alert's mutable fields.
func (r *AlertRepo) Update(ctx domain.Context, a domain.PriceAlert) error {
	tracer := otel.Tracer("repo.alerts")
	ctx, span := tracer.Start(ctx, "alerts.Update")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "price_alerts"),
	)
	channels := make([]string, len(a.Channels))
	for i, c := range a.Channels {
		channels[i] = string(c)
	}
	q := `UPDATE price_alerts SET ticker=$2, condition=$3, target_price=$4, channels=$5, is_active=$6, triggered_at=$7 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, a.ID, strings.ToUpper(a.Ticker), a.Condition, a.TargetPrice, channels, a.IsActive, a.TriggeredAt)
	if err != nil {
		return fmt.Errorf("op=alert.update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=alert.update: %w", domain.ErrNotFound)
	}
	return nil
}

// Delete removes an alert by id.
func (r *AlertRepo) Delete(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.alerts")
	ctx, span := tracer.Start(ctx, "alerts.Delete")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "DELETE"),
		attribute.String("db.sql.table", "price_alerts"),
	)
	q := `DELETE FROM price_alerts WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("op=alert.delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=alert.delete: %w", domain.ErrNotFound)
	}
	return nil
}

func scanAlert(row pgx.Row) (domain.PriceAlert, error) {
	var a domain.PriceAlert
	var channels []string
	if err := row.Scan(&a.ID, &a.UserID, &a.Ticker, &a.Condition, &a.TargetPrice, &channels, &a.IsActive, &a.TriggeredAt, &a.CreatedAt); err != nil {
		return domain.PriceAlert{}, err
	}
	a.Channels = make([]domain.NotificationChannel, len(channels))
	for i, c := range channels {
		a.Channels[i] = domain.NotificationChannel(c)
	}
	return a, nil
}

// Get loads an alert by id.
func (r *AlertRepo) Get(ctx domain.Context, id string) (domain.PriceAlert, error) {
	tracer := otel.Tracer("repo.alerts")
	ctx, span := tracer.Start(ctx, "alerts.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "price_alerts"),
	)
	q := `SELECT id, user_id, ticker, condition, target_price, channels, is_active, triggered_at, created_at FROM price_alerts WHERE id=$1`
	a, err := scanAlert(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.PriceAlert{}, fmt.Errorf("op=alert.get: %w", domain.ErrNotFound)
		}
		return domain.PriceAlert{}, fmt.Errorf("op=alert.get: %w", err)
	}
	return a, nil
}

// ListByUser returns every alert owned by userID, newest first.
func (r *AlertRepo) ListByUser(ctx domain.Context, userID string) ([]domain.PriceAlert, error) {
	tracer := otel.Tracer("repo.alerts")
	ctx, span := tracer.Start(ctx, "alerts.ListByUser")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "price_alerts"),
	)
	q := `SELECT id, user_id, ticker, condition, target_price, channels, is_active, triggered_at, created_at
	      FROM price_alerts WHERE user_id=$1 ORDER BY created_at DESC`
	rows, err := r.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("op=alert.list_by_user: %w", err)
	}
	defer rows.Close()
	return scanAlertRows(rows)
}

// ListActive returns active alerts, optionally filtered to tickers.
func (r *AlertRepo) ListActive(ctx domain.Context, tickers []string) ([]domain.PriceAlert, error) {
	tracer := otel.Tracer("repo.alerts")
	ctx, span := tracer.Start(ctx, "alerts.ListActive")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "price_alerts"),
	)

	var rows pgx.Rows
	var err error
	if len(tickers) == 0 {
		q := `SELECT id, user_id, ticker, condition, target_price, channels, is_active, triggered_at, created_at
		      FROM price_alerts WHERE is_active=true ORDER BY created_at ASC`
		rows, err = r.Pool.Query(ctx, q)
	} else {
		upper := make([]string, len(tickers))
		for i, t := range tickers {
			upper[i] = strings.ToUpper(t)
		}
		q := `SELECT id, user_id, ticker, condition, target_price, channels, is_active, triggered_at, created_at
		      FROM price_alerts WHERE is_active=true AND ticker = ANY($1) ORDER BY created_at ASC`
		rows, err = r.Pool.Query(ctx, q, upper)
	}
	if err != nil {
		return nil, fmt.Errorf("op=alert.list_active: %w", err)
	}
	defer rows.Close()
	return scanAlertRows(rows)
}

func scanAlertRows(rows pgx.Rows) ([]domain.PriceAlert, error) {
	var alerts []domain.PriceAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("op=alert.scan_rows: %w", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=alert.scan_rows_iter: %w", err)
	}
	return alerts, nil
}

// Trigger atomically deactivates an alert and stamps triggered_at, guarded by
// a WHERE is_active=true predicate. ok reports whether this call won the race
// against a concurrent evaluator.
func (r *AlertRepo) Trigger(ctx domain.Context, id string, triggeredAt time.Time) (bool, error) {
	tracer := otel.Tracer("repo.alerts")
	ctx, span := tracer.Start(ctx, "alerts.Trigger")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "price_alerts"),
	)
	q := `UPDATE price_alerts SET is_active=false, triggered_at=$2 WHERE id=$1 AND is_active=true`
	tag, err := r.Pool.Exec(ctx, q, id, triggeredAt)
	if err != nil {
		return false, fmt.Errorf("op=alert.trigger: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

var _ domain.AlertRepository = (*AlertRepo)(nil)
