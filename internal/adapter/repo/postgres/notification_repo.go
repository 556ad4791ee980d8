// Package postgres provides PostgreSQL database adapters.
//
// It implements repository interfaces for data persistence.
// The package provides type-safe database operations with
// connection pooling and transaction support.
package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mclima/stock-intel-service/internal/domain"
)

// NotificationRepo persists and loads notifications using a minimal pgx pool.
type NotificationRepo struct{ Pool PgxPool }

// NewNotificationRepo constructs a NotificationRepo with the given pool.
func NewNotificationRepo(p PgxPool) *NotificationRepo { return &NotificationRepo{Pool: p} }

// Create inserts a new notification and returns its id. Payload is stored as
// jsonb; write-only per the domain invariant, mutated only via MarkRead.
func (r *NotificationRepo) Create(ctx domain.Context, n domain.Notification) (string, error) {
	tracer := otel.Tracer("repo.notifications")
	ctx, span := tracer.Start(ctx, "notifications.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "notifications"),
	)
	id := n.ID
	if id == "" {
		id = uuid.New().String()
	}
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return "", fmt.Errorf("op=notification.create.marshal: %w", err)
	}
	q := `INSERT INTO notifications (id, user_id, type, title, message, payload, is_read, created_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err = r.Pool.Exec(ctx, q, id, n.UserID, n.Type, n.Title, n.Message, payload, false, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("op=notification.create: %w", err)
	}
	return id, nil
}

// ListByUser returns up to limit notifications for userID, newest first,
// optionally restricted to unread rows.
func (r *NotificationRepo) ListByUser(ctx domain.Context, userID string, limit int, unreadOnly bool) ([]domain.Notification, error) {
	tracer := otel.Tracer("repo.notifications")
	ctx, span := tracer.Start(ctx, "notifications.ListByUser")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "notifications"),
	)

	q := `SELECT id, user_id, type, title, message, payload, is_read, created_at FROM notifications WHERE user_id=$1`
	args := []any{userID}
	if unreadOnly {
		q += ` AND is_read=false`
	}
	q += ` ORDER BY created_at DESC LIMIT $2`
	args = append(args, limit)

	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=notification.list_by_user: %w", err)
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var payload []byte
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &payload, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=notification.list_by_user_scan: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &n.Payload); err != nil {
				return nil, fmt.Errorf("op=notification.list_by_user_unmarshal: %w", err)
			}
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=notification.list_by_user_rows: %w", err)
	}
	return out, nil
}

// MarkRead flips is_read=true for one notification.
func (r *NotificationRepo) MarkRead(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.notifications")
	ctx, span := tracer.Start(ctx, "notifications.MarkRead")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "notifications"),
	)
	q := `UPDATE notifications SET is_read=true WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("op=notification.mark_read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=notification.mark_read: %w", domain.ErrNotFound)
	}
	return nil
}

// CountSince counts notifications of notifType created for userID at or
// after since; backs AlertMonitor's anti-fatigue window check.
func (r *NotificationRepo) CountSince(ctx domain.Context, userID, notifType string, since time.Time) (int, error) {
	tracer := otel.Tracer("repo.notifications")
	ctx, span := tracer.Start(ctx, "notifications.CountSince")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "COUNT"),
		attribute.String("db.sql.table", "notifications"),
	)
	q := `SELECT COUNT(*) FROM notifications WHERE user_id=$1 AND type=$2 AND created_at >= $3`
	row := r.Pool.QueryRow(ctx, q, userID, notifType, since)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("op=notification.count_since: %w", err)
	}
	return count, nil
}

var _ domain.NotificationRepository = (*NotificationRepo)(nil)
