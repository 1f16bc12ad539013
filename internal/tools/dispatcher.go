// Package tools implements C9: the fixed MCP tool surface over C3-C7,
// grounded on kagent's internal/mcp/mcp_handler.go (structured input/output
// per tool, text-content fallback, per-call ctrllog-style logger) but
// generalized from a handful of agent-invocation tools to the fabric's
// store/retrieve/directory/coordination/sync surface. Every tool runs
// through Dispatcher.audited, which evaluates governance (C4) first and
// emits an audit MemoryItem after (spec.md §4.9).
package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/go-logr/logr"

	"github.com/lancejames221b/agent-hivemind-sub002/internal/coordbus"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/directory"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/memory"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/metrics"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/model"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/rules"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/sync"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/telemetry"
)

// Dispatcher holds every component C9 fronts. Tool handlers are methods on
// it so mcpsdk.AddTool can bind them directly, the way kagent's MCPHandler
// methods are bound to its server.
type Dispatcher struct {
	Mem       *memory.Store
	Dir       *directory.Directory
	Bus       *coordbus.Bus
	Rules     *rules.Engine
	Node      *sync.Node
	MachineID string
	Log       logr.Logger
	Tracer    *telemetry.Tracer
}

// New builds a Dispatcher. Tracer may be nil in tests; audited falls back
// to a no-op span in that case.
func New(mem *memory.Store, dir *directory.Directory, bus *coordbus.Bus, ruleEngine *rules.Engine, node *sync.Node, machineID string, log logr.Logger) *Dispatcher {
	return &Dispatcher{Mem: mem, Dir: dir, Bus: bus, Rules: ruleEngine, Node: node, MachineID: machineID, Log: log, Tracer: telemetry.NewTracer("hivemind-tools")}
}

// callerInfo is the caller identity every tool needs for governance and
// audit purposes. Tool handlers derive it from the typed input they
// receive (each input embeds it as Caller).
type callerInfo struct {
	AgentID   string `json:"agent_id"`
	MachineID string `json:"machine_id"`
	ProjectID string `json:"project_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

func (d *Dispatcher) invocationContext(toolName string, caller callerInfo, params map[string]any) model.InvocationContext {
	machineID := caller.MachineID
	if machineID == "" {
		machineID = d.MachineID
	}
	return model.InvocationContext{
		AgentID:    caller.AgentID,
		MachineID:  machineID,
		ProjectID:  caller.ProjectID,
		ToolName:   toolName,
		Parameters: params,
		SessionID:  caller.SessionID,
		Time:       time.Now().UTC(),
	}
}

func digest(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8])
}

// audited runs fn under C4 governance, then emits an audit MemoryItem
// describing {caller, parameters_digest, outcome, duration_ms} regardless
// of whether fn (or the rule evaluation itself) succeeded, per spec.md
// §4.9 "Every tool emits at least one audit MemoryItem". fn receives the
// post-evaluation Decision so it can honor any field it resolved (e.g. a
// rule-forced category override) — most tools ignore it.
func (d *Dispatcher) audited(ctx context.Context, toolName string, caller callerInfo, params map[string]any, fn func(rules.Decision) (any, error)) (any, error) {
	start := time.Now()
	ic := d.invocationContext(toolName, caller, params)

	ctx, finishSpan := d.Tracer.StartSpan(ctx, "tool."+toolName, map[string]string{
		"agent_id":   caller.AgentID,
		"machine_id": ic.MachineID,
	})

	var decision rules.Decision
	var err error
	if d.Rules != nil {
		decision, err = d.Rules.Evaluate(ctx, ic)
		if err == nil && decision.Blocked {
			err = model.NewFault(model.FaultRuleViolation, decision.BlockReason, nil)
		}
	}

	var out any
	if err == nil {
		out, err = fn(decision)
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
		if f, ok := model.AsFault(err); ok {
			outcome = string(f.Kind)
		}
	}

	dur := time.Since(start)
	metrics.RecordToolCall(toolName, outcome, dur)
	finishSpan(err)
	d.emitAudit(ctx, toolName, caller, params, outcome, dur)
	return out, err
}

// durationMs reports dur in milliseconds at microsecond precision, flooring
// to the smallest representable nonzero value for a measured-but-sub-
// microsecond call — §8 invariant 4 requires the audit record's duration_ms
// be non-zero, and dur.Milliseconds() truncates anything under 1ms to 0.
func durationMs(dur time.Duration) float64 {
	ms := float64(dur.Microseconds()) / 1000
	if ms == 0 && dur > 0 {
		ms = 0.001
	}
	return ms
}

func (d *Dispatcher) emitAudit(ctx context.Context, toolName string, caller callerInfo, params map[string]any, outcome string, dur time.Duration) {
	if d.Mem == nil {
		return
	}
	audit := map[string]any{
		"caller":             caller,
		"tool":               toolName,
		"parameters_digest":  digest(params),
		"outcome":            outcome,
		"duration_ms":        durationMs(dur),
	}
	content, err := json.Marshal(audit)
	if err != nil {
		return
	}
	category := model.CategoryRuleAudit
	if toolName == "register_agent" || toolName == "heartbeat" {
		category = model.CategoryAgent
	}
	machineID := caller.MachineID
	if machineID == "" {
		machineID = d.MachineID
	}
	_, err = d.Mem.Put(ctx, memory.PutRequest{
		Content:       content,
		Category:      category,
		Scope:         model.ScopeMachine,
		OriginMachine: machineID,
		OriginAgent:   caller.AgentID,
		Context:       "tool-audit:" + toolName,
	})
	if err != nil {
		d.Log.V(1).Info("audit emission failed", "tool", toolName, "error", err)
	}
}
