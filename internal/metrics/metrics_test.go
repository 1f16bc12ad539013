package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeHealthSource struct {
	agents, items int64
	lag           float64
}

func (f fakeHealthSource) AgentCount() int64       { return f.agents }
func (f fakeHealthSource) MemoryCount() int64      { return f.items }
func (f fakeHealthSource) SyncLagSeconds() float64 { return f.lag }

func TestHandlerServesRegisteredCollectors(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "hivemind_tools_calls_total")
}

func TestHealthHandlerReportsLiveNumbers(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	HealthHandler(time.Now().Add(-time.Second), fakeHealthSource{agents: 3, items: 10, lag: 1.5}).ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), `"agent_count":3`)
	require.Contains(t, rec.Body.String(), `"sync_lag_s":1.5`)
}

func TestRecordToolCallIncrementsCounter(t *testing.T) {
	RecordToolCall("store_memory", "ok", 5*time.Millisecond)
	count, err := toolCalls.GetMetricWithLabelValues("store_memory", "ok")
	require.NoError(t, err)
	require.NotNil(t, count)
}

func TestSetAgentCountResetsStaleLabels(t *testing.T) {
	SetAgentCount(map[string]int{"active": 2})
	SetAgentCount(map[string]int{"idle": 1})
	g, err := agentCount.GetMetricWithLabelValues("idle")
	require.NoError(t, err)
	require.NotNil(t, g)
}
