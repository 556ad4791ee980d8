package toolclient

import (
	"fmt"

	"github.com/mclima/stock-intel-service/internal/domain"
	"github.com/mclima/stock-intel-service/internal/service/ratelimiter"
)

// Throttled wraps a domain.RPCClient with a global, cluster-wide limiter so
// that multiple server/worker processes sharing one downstream tool server
// quota don't collectively exceed it; the per-process circuit breaker and
// retrier inside Client only see their own process's traffic.
type Throttled struct {
	domain.RPCClient
	limiter ratelimiter.Limiter
	key     string
}

// NewThrottled wraps client so every Execute call first consults limiter
// under bucket key. A nil limiter makes Throttled a pass-through.
func NewThrottled(client domain.RPCClient, limiter ratelimiter.Limiter, key string) *Throttled {
	return &Throttled{RPCClient: client, limiter: limiter, key: key}
}

// Execute checks the shared bucket before delegating to the wrapped client.
func (t *Throttled) Execute(ctx domain.Context, tool string, params map[string]any) (domain.RPCResponse, error) {
	if t.limiter != nil {
		allowed, retryAfter, err := t.limiter.Allow(ctx, t.key, 1)
		if err == nil && !allowed {
			return domain.RPCResponse{}, domain.NewUnavailableError(fmt.Sprintf("rate limit exceeded for %s, retry after %s", t.key, retryAfter))
		}
	}
	return t.RPCClient.Execute(ctx, tool, params)
}
