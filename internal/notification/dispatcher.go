// Package notification implements per-channel notification delivery: one
// delivery function per domain.NotificationChannel, fanned out from a single
// Dispatch call.
//
// In-app delivery is fully wired through domain.WsBroadcaster. Email and push
// are logged stubs: no SMTP or APNs/FCM client exists anywhere in the example
// corpus, so production delivery is left as an integration point, matching
// the original alert_service.py's own placeholder _send_email_notification /
// _send_push_notification (both log-only pending a real provider).
package notification

import (
	"context"
	"log/slog"

	"github.com/mclima/stock-intel-service/internal/domain"
)

// Dispatcher fans a Notification out across its requested channels.
type Dispatcher struct {
	ws domain.WsBroadcaster
}

// New builds a Dispatcher wired to a WsBroadcaster for in-app delivery.
func New(ws domain.WsBroadcaster) *Dispatcher {
	return &Dispatcher{ws: ws}
}

// Dispatch delivers n to userID across channels, defaulting to in-app only
// when channels is empty. A failure on one channel never blocks another.
func (d *Dispatcher) Dispatch(ctx context.Context, userID string, n domain.Notification, channels []domain.NotificationChannel) {
	if len(channels) == 0 {
		channels = []domain.NotificationChannel{domain.ChannelInApp}
	}
	for _, ch := range channels {
		switch ch {
		case domain.ChannelInApp:
			d.sendInApp(ctx, userID, n)
		case domain.ChannelEmail:
			d.sendEmail(ctx, userID, n)
		case domain.ChannelPush:
			d.sendPush(ctx, userID, n)
		default:
			slog.Warn("notification dispatcher: unknown channel", slog.String("channel", string(ch)))
		}
	}
}

func (d *Dispatcher) sendInApp(ctx context.Context, userID string, n domain.Notification) {
	if d.ws == nil {
		return
	}
	d.ws.SendNotificationToUser(ctx, userID, n)
}

// sendEmail is a placeholder pending a real provider (SendGrid, SES, ...);
// it logs the outbound message instead of delivering it.
func (d *Dispatcher) sendEmail(_ context.Context, userID string, n domain.Notification) {
	slog.Info("notification dispatcher: email delivery (stub)",
		slog.String("user_id", userID), slog.String("title", n.Title), slog.String("message", n.Message))
}

// sendPush is a placeholder pending a real provider (FCM, APNs, ...); it
// logs the outbound message instead of delivering it.
func (d *Dispatcher) sendPush(_ context.Context, userID string, n domain.Notification) {
	slog.Info("notification dispatcher: push delivery (stub)",
		slog.String("user_id", userID), slog.String("title", n.Title), slog.String("message", n.Message))
}
