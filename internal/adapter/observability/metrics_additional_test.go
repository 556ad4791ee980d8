package observability_test

import (
	"testing"
	"time"

	"github.com/mclima/stock-intel-service/internal/adapter/observability"
	"github.com/stretchr/testify/assert"
)

func TestRecordRPCCall(t *testing.T) {
	t.Parallel()

	observability.RecordRPCCall("stockdata", "get_stock_price", "success", 10*time.Millisecond)
	observability.RecordRPCCall("news", "get_stock_news", "connection_error", 2*time.Second)

	assert.True(t, true)
}

func TestRecordCacheHitMiss(t *testing.T) {
	t.Parallel()

	observability.RecordCacheHit("stock:price")
	observability.RecordCacheMiss("stock:price")
	observability.RecordStaleRead("stock:price")

	assert.True(t, true)
}

func TestRecordCircuitBreakerStatus(t *testing.T) {
	t.Parallel()

	observability.RecordCircuitBreakerStatus("stockdata", 0) // Closed
	observability.RecordCircuitBreakerStatus("stockdata", 1) // Open
	observability.RecordCircuitBreakerStatus("stockdata", 2) // Half-open

	assert.True(t, true)
}

func TestRecordWorkflowExecution(t *testing.T) {
	t.Parallel()

	observability.RecordWorkflowExecution("sequential", "completed", 120*time.Millisecond)
	observability.RecordWorkflowExecution("parallel", "failed", 80*time.Millisecond)

	assert.True(t, true)
}

func TestMetricsFunctions_EdgeCases(t *testing.T) {
	t.Parallel()

	observability.RecordRPCCall("", "", "", 0)
	observability.RecordCacheHit("")
	observability.RecordCacheMiss("")
	observability.RecordCircuitBreakerStatus("", -1)
	observability.RecordAlertTriggered("")

	observability.RecordRPCCall("test", "test", "success", 999*time.Second)
	observability.RecordCircuitBreakerStatus("test", 999)
	observability.RecordWorkflowExecution("test", "test", 999*time.Second)

	assert.True(t, true)
}

func TestMetricsFunctions_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	done := make(chan bool, 10)

	for i := 0; i < 10; i++ {
		go func(index int) {
			observability.RecordRPCCall("stockdata", "get_stock_price", "success", time.Duration(index)*time.Millisecond)
			observability.RecordCacheHit("stock:price")
			observability.RecordCircuitBreakerStatus("stockdata", index%3)
			observability.RecordWorkflowExecution("parallel", "completed", time.Duration(index)*time.Millisecond)
			observability.RecordAlertTriggered("above")
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	assert.True(t, true)
}

func TestMetricsFunctions_RealisticScenarios(t *testing.T) {
	t.Parallel()

	scenarios := []struct {
		name   string
		server string
		tool   string
		ms     int
	}{
		{"price lookup", "stockdata", "get_stock_price", 20},
		{"historical", "stockdata", "get_historical_data", 150},
		{"news fetch", "news", "get_stock_news", 80},
		{"market indices", "market", "get_market_indices", 40},
	}

	for _, sc := range scenarios {
		t.Run(sc.name, func(_ *testing.T) {
			observability.RecordRPCCall(sc.server, sc.tool, "success", time.Duration(sc.ms)*time.Millisecond)
			observability.RecordCircuitBreakerStatus(sc.server, sc.ms%3)

			outcomes := []string{"success", "connection_error", "tool_error", "validation_error"}
			outcome := outcomes[sc.ms%len(outcomes)]
			observability.RecordRPCCall(sc.server, sc.tool, outcome, time.Duration(sc.ms)*time.Millisecond)
		})
	}

	assert.True(t, true)
}

func TestMetricsFunctions_Performance(t *testing.T) {
	t.Parallel()

	start := time.Now()

	for i := 0; i < 1000; i++ {
		observability.RecordRPCCall("test", "test", "success", time.Duration(i)*time.Microsecond)
		observability.RecordCacheHit("test")
		observability.RecordCircuitBreakerStatus("test", i%3)
		observability.RecordWorkflowExecution("sequential", "completed", time.Duration(i)*time.Microsecond)
	}

	duration := time.Since(start)

	assert.Less(t, duration, time.Second)
}

func TestMetricsFunctions_StringValues(t *testing.T) {
	t.Parallel()

	servers := []string{"stockdata", "news", "market"}
	tools := []string{"get_stock_price", "get_stock_news", "get_market_indices", "search_stocks"}
	conditions := []string{"above", "below"}

	for _, server := range servers {
		for _, tool := range tools {
			observability.RecordRPCCall(server, tool, "success", time.Millisecond)
		}
	}

	for _, condition := range conditions {
		observability.RecordAlertTriggered(condition)
	}

	observability.RecordAlertSuppressed()

	assert.True(t, true)
}
