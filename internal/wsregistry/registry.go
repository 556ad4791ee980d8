// Package wsregistry implements the live WebSocket connection registry
// (C8): per-connection, per-user, and per-ticker indexes guarded by a
// single mutex, with best-effort broadcast and automatic dead-connection
// cleanup.
package wsregistry

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mclima/stock-intel-service/internal/adapter/observability"
	"github.com/mclima/stock-intel-service/internal/domain"
)

// Conn is the minimal socket surface the registry needs, satisfied by
// *websocket.Conn in production and a fake in tests.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type connection struct {
	id          string
	userID      string
	socket      Conn
	tickers     map[string]struct{}
	connectedAt time.Time
}

// Registry implements domain.WsBroadcaster.
type Registry struct {
	mu                  sync.Mutex
	connections         map[string]*connection
	userConnections     map[string]map[string]struct{}
	tickerSubscriptions map[string]map[string]struct{}
	sendTimeout         time.Duration
}

// New builds an empty Registry. sendTimeout bounds how long a single write
// may block before the connection is treated as dead.
func New(sendTimeout time.Duration) *Registry {
	if sendTimeout <= 0 {
		sendTimeout = 5 * time.Second
	}
	return &Registry{
		connections:         make(map[string]*connection),
		userConnections:     make(map[string]map[string]struct{}),
		tickerSubscriptions: make(map[string]map[string]struct{}),
		sendTimeout:         sendTimeout,
	}
}

// Connect registers a new live connection.
func (r *Registry) Connect(id, userID string, socket Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.connections[id] = &connection{
		id: id, userID: userID, socket: socket,
		tickers: make(map[string]struct{}), connectedAt: time.Now(),
	}
	if r.userConnections[userID] == nil {
		r.userConnections[userID] = make(map[string]struct{})
	}
	r.userConnections[userID][id] = struct{}{}
	observability.SetWsConnections(len(r.connections))
}

// Disconnect removes a connection from every index. Idempotent.
func (r *Registry) Disconnect(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnectLocked(id)
}

// disconnectLocked must be called with r.mu held.
func (r *Registry) disconnectLocked(id string) {
	conn, ok := r.connections[id]
	if !ok {
		return
	}
	for ticker := range conn.tickers {
		subs := r.tickerSubscriptions[ticker]
		delete(subs, id)
		if len(subs) == 0 {
			delete(r.tickerSubscriptions, ticker)
		}
	}
	if users := r.userConnections[conn.userID]; users != nil {
		delete(users, id)
		if len(users) == 0 {
			delete(r.userConnections, conn.userID)
		}
	}
	delete(r.connections, id)
	observability.SetWsConnections(len(r.connections))
}

func normalizeTickers(tickers []string) []string {
	out := make([]string, 0, len(tickers))
	for _, t := range tickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Subscribe adds ticker subscriptions for a connection and confirms them.
func (r *Registry) Subscribe(id string, tickers []string) {
	tickers = normalizeTickers(tickers)

	r.mu.Lock()
	conn, ok := r.connections[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	for _, t := range tickers {
		conn.tickers[t] = struct{}{}
		if r.tickerSubscriptions[t] == nil {
			r.tickerSubscriptions[t] = make(map[string]struct{})
		}
		r.tickerSubscriptions[t][id] = struct{}{}
	}
	socket := conn.socket
	r.mu.Unlock()

	r.sendTo(id, socket, map[string]any{
		"type":      "subscription_confirmed",
		"tickers":   tickers,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Unsubscribe removes ticker subscriptions for a connection and confirms it.
func (r *Registry) Unsubscribe(id string, tickers []string) {
	tickers = normalizeTickers(tickers)

	r.mu.Lock()
	conn, ok := r.connections[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	for _, t := range tickers {
		delete(conn.tickers, t)
		if subs := r.tickerSubscriptions[t]; subs != nil {
			delete(subs, id)
			if len(subs) == 0 {
				delete(r.tickerSubscriptions, t)
			}
		}
	}
	socket := conn.socket
	r.mu.Unlock()

	r.sendTo(id, socket, map[string]any{
		"type":      "unsubscription_confirmed",
		"tickers":   tickers,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// BroadcastPriceUpdate sends a price_update message to every connection
// subscribed to ticker, returning the count of successful sends. Sends that
// fail or time out drop that connection from every index.
func (r *Registry) BroadcastPriceUpdate(ctx domain.Context, ticker string, payload map[string]any) int {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))

	r.mu.Lock()
	subs := r.tickerSubscriptions[ticker]
	targets := make(map[string]Conn, len(subs))
	for id := range subs {
		if conn, ok := r.connections[id]; ok {
			targets[id] = conn.socket
		}
	}
	r.mu.Unlock()

	msg := map[string]any{"type": "price_update", "ticker": ticker, "timestamp": time.Now().UTC().Format(time.RFC3339)}
	for k, v := range payload {
		msg[k] = v
	}

	delivered := 0
	for id, socket := range targets {
		if r.sendTo(id, socket, msg) {
			delivered++
		}
	}
	return delivered
}

// SendNotificationToUser delivers a notification to every connection owned
// by userID, returning the count of successful sends.
func (r *Registry) SendNotificationToUser(ctx domain.Context, userID string, n domain.Notification) int {
	r.mu.Lock()
	ids := r.userConnections[userID]
	targets := make(map[string]Conn, len(ids))
	for id := range ids {
		if conn, ok := r.connections[id]; ok {
			targets[id] = conn.socket
		}
	}
	r.mu.Unlock()

	msg := map[string]any{
		"type":         "notification",
		"notification": n,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	}

	delivered := 0
	for id, socket := range targets {
		if r.sendTo(id, socket, msg) {
			delivered++
		}
	}
	return delivered
}

// sendTo writes msg to socket within the registry's send timeout. A failed
// or timed-out write disconnects the connection and reports no delivery.
func (r *Registry) sendTo(id string, socket Conn, msg map[string]any) bool {
	body, err := json.Marshal(msg)
	if err != nil {
		return false
	}

	done := make(chan error, 1)
	go func() { done <- socket.WriteMessage(websocket.TextMessage, body) }()

	select {
	case err := <-done:
		if err != nil {
			r.Disconnect(id)
			return false
		}
		msgType, _ := msg["type"].(string)
		observability.RecordWsMessageSent(msgType)
		return true
	case <-time.After(r.sendTimeout):
		r.Disconnect(id)
		_ = socket.Close()
		return false
	}
}

// ConnectionCount reports the number of live connections, for readiness/
// diagnostic reporting.
func (r *Registry) ConnectionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connections)
}

var _ domain.WsBroadcaster = (*Registry)(nil)
