// Package metrics exposes the fabric's Prometheus collectors and the
// /health endpoint spec.md §6 requires. Grounded on
// r3e-network/service_layer's pkg/metrics package: a package-level
// registry, NewXxxVec collectors registered in init, small Record* setter
// functions called from the components that own the numbers.
package metrics

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	memoryCount = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "hivemind", Subsystem: "memory", Name: "items_total",
		Help: "Live MemoryItem count per category.",
	}, []string{"category"})

	agentCount = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "hivemind", Subsystem: "directory", Name: "agents",
		Help: "Registered agent count per state.",
	}, []string{"state"})

	inboxDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "hivemind", Subsystem: "coordbus", Name: "inbox_depth",
		Help: "Current inbox depth per agent.",
	}, []string{"agent_id"})

	syncLag = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "hivemind", Subsystem: "sync", Name: "lag_records",
		Help: "Records this node trails a peer by, per peer machine id.",
	}, []string{"peer"})

	toolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hivemind", Subsystem: "tools", Name: "calls_total",
		Help: "Tool invocations grouped by tool name and outcome.",
	}, []string{"tool", "outcome"})

	toolDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "hivemind", Subsystem: "tools", Name: "call_duration_seconds",
		Help:    "Tool call duration.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"tool"})

	sessionsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "hivemind", Subsystem: "transport", Name: "sessions_open",
		Help: "Number of MCP sessions not yet closed.",
	})
)

func init() {
	Registry.MustRegister(
		memoryCount, agentCount, inboxDepth, syncLag, toolCalls, toolDuration, sessionsOpen,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler serves /metrics in Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetMemoryCount publishes per-category live record counts.
func SetMemoryCount(counts map[string]int64) {
	memoryCount.Reset()
	for cat, n := range counts {
		memoryCount.WithLabelValues(cat).Set(float64(n))
	}
}

// SetAgentCount publishes per-state agent counts.
func SetAgentCount(counts map[string]int) {
	agentCount.Reset()
	for state, n := range counts {
		agentCount.WithLabelValues(state).Set(float64(n))
	}
}

// SetInboxDepth records one agent's current inbox depth.
func SetInboxDepth(agentID string, depth int) {
	inboxDepth.WithLabelValues(agentID).Set(float64(depth))
}

// SetSyncLag records this node's trailing distance behind one peer.
func SetSyncLag(peer string, lag int64) {
	syncLag.WithLabelValues(peer).Set(float64(lag))
}

// RecordToolCall records one tool invocation's outcome and duration.
func RecordToolCall(tool, outcome string, dur time.Duration) {
	toolCalls.WithLabelValues(tool, outcome).Inc()
	toolDuration.WithLabelValues(tool).Observe(dur.Seconds())
}

// SetSessionsOpen publishes the current live (non-closed) session count.
func SetSessionsOpen(n int) {
	sessionsOpen.Set(float64(n))
}

// Health is the JSON body of spec.md §6's /health endpoint:
// {status, uptime_s, agent_count, memory_count, sync_lag_s}.
type Health struct {
	Status      string  `json:"status"`
	UptimeS     float64 `json:"uptime_s"`
	AgentCount  int64   `json:"agent_count"`
	MemoryCount int64   `json:"memory_count"`
	SyncLagS    float64 `json:"sync_lag_s"`
}

// HealthSource supplies the live numbers Health reports; cmd/hivemindd
// wires it to the running directory/memory/sync instances.
type HealthSource interface {
	AgentCount() int64
	MemoryCount() int64
	SyncLagSeconds() float64
}

// HealthHandler serves spec.md §6's /health JSON endpoint.
func HealthHandler(start time.Time, source HealthSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := Health{
			Status:      "ok",
			UptimeS:     time.Since(start).Seconds(),
			AgentCount:  source.AgentCount(),
			MemoryCount: source.MemoryCount(),
			SyncLagS:    source.SyncLagSeconds(),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(h)
	})
}
