// Package domain defines core entities, ports, and domain-specific errors
// for the stock intelligence service.
package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Error taxonomy (sentinels). The HTTP adapter maps these to status codes
// once, at the edge; nothing below this layer panics on a downstream error.
var (
	ErrValidation     = errors.New("validation")
	ErrAuthentication = errors.New("authentication")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrCircuitOpen    = errors.New("circuit open")
	ErrUnavailable    = errors.New("unavailable")
	ErrRateLimited    = errors.New("rate limited")
	ErrSchemaInvalid  = errors.New("schema invalid")
	ErrInternal       = errors.New("internal error")
)

// ErrorCode is a stable, machine-readable error discriminator carried by
// ServiceError, separate from the sentinel used for errors.Is matching.
type ErrorCode string

// Error codes surfaced to callers via ServiceError.Code.
const (
	CodeValidation     ErrorCode = "validation"
	CodeAuthentication ErrorCode = "authentication"
	CodeNotFound       ErrorCode = "not_found"
	CodeCircuitOpen    ErrorCode = "circuit_open"
	CodeUnavailable    ErrorCode = "unavailable"
	CodeRateLimited    ErrorCode = "rate_limited"
	CodeConflict       ErrorCode = "conflict"
	CodeInternal       ErrorCode = "internal"
)

// ServiceError is the typed error value every service method returns instead
// of panicking on a downstream failure.
type ServiceError struct {
	Code        ErrorCode
	Message     string
	UserMessage string
	Retryable   bool
	Details     map[string]any
	Err         error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap exposes the wrapped sentinel/cause for errors.Is/errors.As.
func (e *ServiceError) Unwrap() error { return e.Err }

func newServiceError(code ErrorCode, sentinel error, msg string) *ServiceError {
	return &ServiceError{Code: code, Message: msg, UserMessage: msg, Err: sentinel}
}

// NewValidationError builds a non-retryable validation ServiceError.
func NewValidationError(msg string) *ServiceError {
	return newServiceError(CodeValidation, ErrValidation, msg)
}

// NewNotFoundError builds a non-retryable not-found ServiceError.
func NewNotFoundError(msg string) *ServiceError {
	return newServiceError(CodeNotFound, ErrNotFound, msg)
}

// NewUnavailableError builds a ServiceError for a downstream RPC that
// exhausted retries and has no stale value to fall back on.
func NewUnavailableError(msg string) *ServiceError {
	return newServiceError(CodeUnavailable, ErrUnavailable, msg)
}

// NewCircuitOpenError builds a ServiceError for a breaker rejecting a call.
func NewCircuitOpenError(msg string) *ServiceError {
	return newServiceError(CodeCircuitOpen, ErrCircuitOpen, msg)
}

// NewInternalError wraps an unexpected error as a 500-class ServiceError.
func NewInternalError(err error) *ServiceError {
	e := newServiceError(CodeInternal, ErrInternal, "internal error")
	e.Err = err
	return e
}

// Context is a type alias to stdlib context.Context for convenience across
// layers; adapters convert where needed, domain stays import-light.
type Context = context.Context

// AlertCondition enumerates PriceAlert trigger conditions.
type AlertCondition string

// Supported alert conditions.
const (
	ConditionAbove AlertCondition = "above"
	ConditionBelow AlertCondition = "below"
)

// NotificationChannel enumerates delivery channels for alerts/notifications.
type NotificationChannel string

// Supported notification channels.
const (
	ChannelInApp NotificationChannel = "in-app"
	ChannelEmail NotificationChannel = "email"
	ChannelPush  NotificationChannel = "push"
)

// User owns at most one Portfolio plus any number of Alerts, Notifications,
// and Workflows. Email is stored case-normalized; PasswordHash is an opaque
// verifier produced outside this package (auth internals are out of scope).
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Portfolio is the exclusive child of a User and aggregates Positions.
type Portfolio struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// StockPosition is a child of Portfolio. Quantity and PurchasePrice use
// decimal.Decimal to avoid float rounding on money/share-count arithmetic.
// Invariant: Ticker is always upper-cased on write.
type StockPosition struct {
	ID            string          `json:"id"`
	PortfolioID   string          `json:"portfolio_id"`
	Ticker        string          `json:"ticker"`
	Quantity      decimal.Decimal `json:"quantity"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	PurchaseDate  time.Time       `json:"purchase_date"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// PriceAlert fires a Notification once the live price crosses TargetPrice in
// the configured Condition. Invariant: when triggered, IsActive=false and
// TriggeredAt is set in the same transaction.
type PriceAlert struct {
	ID          string                `json:"id"`
	UserID      string                `json:"user_id"`
	Ticker      string                `json:"ticker"`
	Condition   AlertCondition        `json:"condition"`
	TargetPrice decimal.Decimal       `json:"target_price"`
	Channels    []NotificationChannel `json:"channels"`
	IsActive    bool                  `json:"is_active"`
	TriggeredAt *time.Time            `json:"triggered_at,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
}

// Notification is write-only by services and mutated only via mark-read.
type Notification struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload,omitempty"`
	IsRead    bool           `json:"is_read"`
	CreatedAt time.Time      `json:"created_at"`
}

// WorkflowExecutionMode selects how WorkflowEngine walks a graph.
type WorkflowExecutionMode string

// Supported execution modes.
const (
	ExecutionModeSequential WorkflowExecutionMode = "sequential"
	ExecutionModeParallel   WorkflowExecutionMode = "parallel"
)

// WorkflowNodeType enumerates the node kinds a graph definition may contain.
type WorkflowNodeType string

// Supported node types. Unknown agent names resolve to identity pass-through.
const (
	NodeTypeAgent     WorkflowNodeType = "agent"
	NodeTypeTool      WorkflowNodeType = "tool"
	NodeTypeCondition WorkflowNodeType = "condition"
)

// WorkflowNode is one vertex of a Workflow's directed graph definition.
type WorkflowNode struct {
	ID       string           `json:"id"`
	Type     WorkflowNodeType `json:"type"`
	Agent    string           `json:"agent,omitempty"`
	IsEntry  bool             `json:"is_entry,omitempty"`
	IsFinish bool             `json:"is_finish,omitempty"`
}

// WorkflowEdge directs graph traversal from one node id to another.
type WorkflowEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// WorkflowDefinition is the graph a Workflow executes.
type WorkflowDefinition struct {
	Nodes []WorkflowNode `json:"nodes"`
	Edges []WorkflowEdge `json:"edges"`
}

// Workflow is a user-defined directed graph of agent steps.
type Workflow struct {
	ID            string                `json:"id"`
	UserID        string                `json:"user_id"`
	Name          string                `json:"name"`
	Type          string                `json:"type"`
	Definition    WorkflowDefinition    `json:"definition"`
	ExecutionMode WorkflowExecutionMode `json:"execution_mode"`
	CronSchedule  *string               `json:"cron_schedule,omitempty"`
	IsActive      bool                  `json:"is_active"`
	CreatedAt     time.Time             `json:"created_at"`
}

// WorkflowExecutionStatus captures the lifecycle state of one run.
type WorkflowExecutionStatus string

// Status transitions are monotone forward: pending -> running -> {completed, failed}.
const (
	ExecutionPending   WorkflowExecutionStatus = "pending"
	ExecutionRunning   WorkflowExecutionStatus = "running"
	ExecutionCompleted WorkflowExecutionStatus = "completed"
	ExecutionFailed    WorkflowExecutionStatus = "failed"
)

// WorkflowExecution records one run of a Workflow's graph. CompletedAt is set
// iff Status is in {completed, failed}.
type WorkflowExecution struct {
	ID              string                   `json:"id"`
	WorkflowID      string                   `json:"workflow_id"`
	Status          WorkflowExecutionStatus  `json:"status"`
	Progress        int                      `json:"progress"`
	CurrentNode     string                   `json:"current_node,omitempty"`
	Results         map[string]any           `json:"results,omitempty"`
	Errors          []string                 `json:"errors,omitempty"`
	ExecutionTimeMs int64                    `json:"execution_time_ms"`
	StartedAt       time.Time                `json:"started_at"`
	CompletedAt     *time.Time               `json:"completed_at,omitempty"`
}

// WsConnectionInfo is a read-only snapshot of one live WsRegistry connection,
// used for stats reporting; the registry itself owns the real socket.
type WsConnectionInfo struct {
	ID          string
	UserID      string
	Tickers     []string
	ConnectedAt time.Time
}

// Repositories (ports) — implemented by internal/adapter/repo/postgres.
//
//go:generate mockery --name=UserRepository --with-expecter --filename=user_repository_mock.go
//go:generate mockery --name=PortfolioRepository --with-expecter --filename=portfolio_repository_mock.go
//go:generate mockery --name=AlertRepository --with-expecter --filename=alert_repository_mock.go
//go:generate mockery --name=NotificationRepository --with-expecter --filename=notification_repository_mock.go
//go:generate mockery --name=WorkflowRepository --with-expecter --filename=workflow_repository_mock.go
//go:generate mockery --name=ExecutionRepository --with-expecter --filename=execution_repository_mock.go

// UserRepository manages User rows.
type UserRepository interface {
	Create(ctx Context, u User) (string, error)
	GetByID(ctx Context, id string) (User, error)
	GetByEmail(ctx Context, email string) (User, error)
}

// PortfolioRepository manages Portfolio and StockPosition rows.
type PortfolioRepository interface {
	GetOrCreateByUserID(ctx Context, userID string) (Portfolio, error)
	AddPosition(ctx Context, portfolioID string, p StockPosition) (string, error)
	UpdatePosition(ctx Context, p StockPosition) error
	DeletePosition(ctx Context, positionID string) error
	GetPosition(ctx Context, positionID string) (StockPosition, error)
	ListPositions(ctx Context, portfolioID string) ([]StockPosition, error)
}

// AlertRepository manages PriceAlert rows.
type AlertRepository interface {
	Create(ctx Context, a PriceAlert) (string, error)
	Update(ctx Context, a PriceAlert) error
	Delete(ctx Context, id string) error
	Get(ctx Context, id string) (PriceAlert, error)
	ListByUser(ctx Context, userID string) ([]PriceAlert, error)
	// ListActive returns active alerts, optionally filtered to tickers when
	// non-empty. Used by AlertMonitor's evaluation loop.
	ListActive(ctx Context, tickers []string) ([]PriceAlert, error)
	// Trigger atomically sets is_active=false and triggered_at=now, guarded
	// by a WHERE is_active=true predicate so a racing evaluator's duplicate
	// trigger attempt is a harmless no-op; ok reports whether this call won.
	Trigger(ctx Context, id string, triggeredAt time.Time) (ok bool, err error)
}

// NotificationRepository manages Notification rows.
type NotificationRepository interface {
	Create(ctx Context, n Notification) (string, error)
	ListByUser(ctx Context, userID string, limit int, unreadOnly bool) ([]Notification, error)
	MarkRead(ctx Context, id string) error
	// CountSince counts notifications of the given type created for userID
	// at or after since; backs the anti-fatigue window check.
	CountSince(ctx Context, userID, notifType string, since time.Time) (int, error)
}

// WorkflowRepository manages Workflow rows.
type WorkflowRepository interface {
	Create(ctx Context, w Workflow) (string, error)
	Get(ctx Context, id string) (Workflow, error)
	ListByUser(ctx Context, userID string) ([]Workflow, error)
	ListScheduled(ctx Context) ([]Workflow, error)
	SetActive(ctx Context, id string, active bool) error
	Delete(ctx Context, id string) error
}

// ExecutionRepository manages WorkflowExecution rows.
type ExecutionRepository interface {
	Create(ctx Context, e WorkflowExecution) (string, error)
	Update(ctx Context, e WorkflowExecution) error
	Get(ctx Context, id string) (WorkflowExecution, error)
	ListByWorkflow(ctx Context, workflowID string) ([]WorkflowExecution, error)
	// Cancel transitions a pending/running execution to failed with a
	// synthetic cancellation error, for callers aborting in-flight work.
	Cancel(ctx Context, executionID string) error
	// ListStuckRunning returns executions still "running" whose StartedAt
	// predates cutoff, for the sweeper that fails orphaned executions.
	ListStuckRunning(ctx Context, cutoff time.Time) ([]WorkflowExecution, error)
}

// RPCResponse is the envelope every downstream tool server reply decodes
// into before a per-tool decoder translates Data into a typed record.
type RPCResponse struct {
	Success bool
	Data    json.RawMessage
	Error   string
}

// RPCClient (port) — implemented by internal/toolclient. One instance per
// downstream tool server.
//
//go:generate mockery --name=RPCClient --with-expecter --filename=rpc_client_mock.go
type RPCClient interface {
	// Execute calls POST {baseURL}/tools/{tool} with params as the JSON body.
	Execute(ctx Context, tool string, params map[string]any) (RPCResponse, error)
	Connect(ctx Context) error
	Disconnect(ctx Context) error
	ListTools(ctx Context) ([]string, error)
}

// CacheStore (port) — implemented by internal/cache, backed by Redis.
//
//go:generate mockery --name=CacheStore --with-expecter --filename=cache_store_mock.go
type CacheStore interface {
	// Get returns ErrNotFound when key is absent or expired.
	Get(ctx Context, key string) ([]byte, error)
	SetEx(ctx Context, key string, ttl time.Duration, value []byte) error
	Delete(ctx Context, keys ...string) error
	// GetStale returns a previously-written value regardless of its TTL,
	// backing the stale-on-error read path. ErrNotFound if never written.
	GetStale(ctx Context, key string) ([]byte, error)
	// SetStale records a long-lived "last known value" copy alongside the
	// normal TTL'd entry so GetStale can serve it after expiry.
	SetStale(ctx Context, key string, value []byte) error
}

// WsBroadcaster (port) — implemented by internal/wsregistry. Kept as an
// interface so AlertMonitor and WorkflowEngine depend on the capability, not
// the concrete registry.
type WsBroadcaster interface {
	BroadcastPriceUpdate(ctx Context, ticker string, payload map[string]any) int
	SendNotificationToUser(ctx Context, userID string, n Notification) int
}
