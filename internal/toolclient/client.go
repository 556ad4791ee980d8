// Package toolclient implements the RPC client to a single downstream tool
// server (C1): HTTP keep-alive pool, circuit breaker, and bounded retries
// with exponential backoff.
package toolclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mclima/stock-intel-service/internal/adapter/observability"
	"github.com/mclima/stock-intel-service/internal/domain"
	"github.com/mclima/stock-intel-service/internal/resilience"
)

// Config configures a Client for one downstream tool server.
type Config struct {
	Name       string // used as the breaker/metrics label
	BaseURL    string
	Token      string
	PoolSize   int
	Timeout    time.Duration
	Retry      resilience.RetryConfig
	Breaker    resilience.BreakerConfig
}

// Client implements domain.RPCClient against one downstream tool server.
type Client struct {
	name       string
	baseURL    string
	token      string
	httpClient *http.Client
	transport  *http.Transport
	retrier    *resilience.Retrier
	breaker    *resilience.CircuitBreaker

	mu        sync.Mutex
	connected bool
	tools     []string
}

// classifiedError tags an error with whether the Retrier should retry it,
// per the failure classification in spec §4.1.
type classifiedError struct {
	retryable bool
	err       error
}

func (e *classifiedError) Error() string { return e.err.Error() }
func (e *classifiedError) Unwrap() error { return e.err }

func connectionError(err error) error  { return &classifiedError{retryable: true, err: err} }
func toolError(err error) error        { return &classifiedError{retryable: false, err: err} }
func validationError(err error) error  { return &classifiedError{retryable: false, err: err} }

func isRetryable(err error) bool {
	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.retryable
	}
	return false
}

// New builds a Client. Its HTTP pool is sized to cfg.PoolSize max
// connections with PoolSize/2 kept idle, wrapped with otelhttp so every RPC
// call produces a trace span.
func New(cfg Config) *Client {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	transport := &http.Transport{
		MaxConnsPerHost:     cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize / 2,
		IdleConnTimeout:     90 * time.Second,
	}
	httpClient := &http.Client{
		Transport: otelhttp.NewTransport(transport),
		Timeout:   cfg.Timeout,
	}
	cfg.Breaker.Name = cfg.Name
	name := cfg.Name
	onRetry := func(attempt int, err error) { observability.RecordRPCRetry(name) }
	return &Client{
		name:       cfg.Name,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: httpClient,
		transport:  transport,
		retrier:    resilience.NewRetrier(cfg.Retry, isRetryable, onRetry),
		breaker:    resilience.NewCircuitBreaker(cfg.Breaker),
	}
}

// Connect warms the pool and probes liveness with GET /.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("op=toolclient.Connect: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("op=toolclient.Connect: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // draining for keep-alive reuse
	return nil
}

// Disconnect closes idle pooled connections and marks the client offline.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.transport.CloseIdleConnections()
	return nil
}

// ListTools fetches GET /tools once and caches the result in memory.
func (c *Client) ListTools(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	cached := c.tools
	c.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tools", nil)
	if err != nil {
		return nil, fmt.Errorf("op=toolclient.ListTools: %w", err)
	}
	c.setAuth(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("op=toolclient.ListTools: %w", err)
	}
	defer resp.Body.Close()

	var tools []string
	if err := json.NewDecoder(resp.Body).Decode(&tools); err != nil {
		return nil, fmt.Errorf("op=toolclient.ListTools: %w", err)
	}

	c.mu.Lock()
	c.tools = tools
	c.mu.Unlock()
	return tools, nil
}

func (c *Client) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// Execute calls POST {baseURL}/tools/{tool} with params as the JSON body,
// guarded by the circuit breaker and retried with exponential backoff per
// the classification in spec §4.1.
func (c *Client) Execute(ctx context.Context, tool string, params map[string]any) (domain.RPCResponse, error) {
	var out domain.RPCResponse
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Execute(ctx, func(ctx context.Context) error {
			resp, rerr := c.doExecute(ctx, tool, params)
			if rerr != nil {
				return rerr
			}
			out = resp
			return nil
		})
	})
	if err != nil {
		return domain.RPCResponse{}, err
	}
	return out, nil
}

func (c *Client) doExecute(ctx context.Context, tool string, params map[string]any) (domain.RPCResponse, error) {
	ctx, span := otel.Tracer("toolclient").Start(ctx, "toolclient.Execute",
		trace.WithAttributes(attribute.String("tool", tool), attribute.String("server", c.name)))
	defer span.End()

	start := time.Now()
	outcome := "success"
	defer func() {
		observability.RecordRPCCall(c.name, tool, outcome, time.Since(start))
	}()

	body, err := json.Marshal(params)
	if err != nil {
		outcome = "validation_error"
		return domain.RPCResponse{}, validationError(fmt.Errorf("op=toolclient.Execute marshal params: %w", err))
	}

	url := fmt.Sprintf("%s/tools/%s", c.baseURL, tool)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		outcome = "connection_error"
		return domain.RPCResponse{}, connectionError(fmt.Errorf("op=toolclient.Execute build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		outcome = "connection_error"
		return domain.RPCResponse{}, connectionError(fmt.Errorf("op=toolclient.Execute transport: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		outcome = "connection_error"
		return domain.RPCResponse{}, connectionError(fmt.Errorf("op=toolclient.Execute read body: %w", err))
	}

	switch {
	case resp.StatusCode >= 500:
		outcome = "connection_error"
		return domain.RPCResponse{}, connectionError(fmt.Errorf("op=toolclient.Execute: tool=%s status=%d", tool, resp.StatusCode))
	case resp.StatusCode >= 400:
		outcome = "tool_error"
		return domain.RPCResponse{}, toolError(fmt.Errorf("op=toolclient.Execute: tool=%s status=%d body=%s", tool, resp.StatusCode, truncate(raw)))
	}

	var envelope struct {
		Success *bool           `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		outcome = "validation_error"
		return domain.RPCResponse{}, validationError(fmt.Errorf("op=toolclient.Execute decode: %w", err))
	}
	if envelope.Success == nil {
		outcome = "validation_error"
		return domain.RPCResponse{}, validationError(fmt.Errorf("op=toolclient.Execute: tool=%s missing success field", tool))
	}
	if !*envelope.Success {
		outcome = "tool_error"
		return domain.RPCResponse{}, toolError(fmt.Errorf("op=toolclient.Execute: tool=%s reported failure: %s", tool, envelope.Error))
	}

	return domain.RPCResponse{Success: true, Data: envelope.Data, Error: envelope.Error}, nil
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "...(truncated)"
	}
	return string(b)
}

var _ domain.RPCClient = (*Client)(nil)
