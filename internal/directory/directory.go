// Package directory implements C5: the agent registry and its
// heartbeat-driven state machine. Grounded on kagent's in-process client
// caching style (sync.Map-guarded lookups keyed by agent identity, e.g. its
// A2A client cache) generalized into a full state machine, with a
// robfig/cron sweep standing in for the teacher's cron-mcp/r3e-network
// scheduled-job pattern.
package directory

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"

	"github.com/lancejames221b/agent-hivemind-sub002/internal/metrics"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/model"
)

// Transition is emitted whenever an agent's state changes, consumed by C6
// to re-evaluate pending_no_agent delegations (spec.md §4.5, §4.6).
type Transition struct {
	AgentID string
	From    model.AgentState
	To      model.AgentState
	At      time.Time
}

// Directory is the C5 service: an in-memory registry (spec.md §9 Non-goals:
// no sharding/clustering of the directory itself) with a TTL sweep.
type Directory struct {
	mu       sync.RWMutex
	agents   map[string]*model.Agent
	ttl      time.Duration
	log      logr.Logger
	cron     *cron.Cron
	onChange []func(Transition)
}

// New builds a Directory with the given agent TTL (default 120s per
// spec.md §4.5). idle begins at TTL/2, offline at TTL, purged at
// retentionHorizon.
func New(ttl time.Duration, log logr.Logger) *Directory {
	return &Directory{agents: make(map[string]*model.Agent), ttl: ttl, log: log}
}

// OnTransition registers a callback invoked synchronously whenever an
// agent's state changes. Callers (coordbus) use this to re-evaluate
// pending_no_agent delegations the moment an agent becomes active.
func (d *Directory) OnTransition(fn func(Transition)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onChange = append(d.onChange, fn)
}

func (d *Directory) emit(t Transition) {
	for _, fn := range d.onChange {
		fn(t)
	}
}

// refreshAgentCountLocked republishes per-state agent gauges. Callers must
// hold d.mu.
func (d *Directory) refreshAgentCountLocked() {
	counts := make(map[string]int, 5)
	for _, a := range d.agents {
		counts[string(a.State)]++
	}
	metrics.SetAgentCount(counts)
}

// Register upserts an agent record, transitioning it to "registered" (or
// keeping it active if already heartbeating) per spec.md §4.5's state
// machine entry point.
func (d *Directory) Register(ctx context.Context, agentID, machineID string, roles []string, capabilities []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now().UTC()
	caps := make(map[string]struct{}, len(capabilities))
	for _, c := range capabilities {
		caps[c] = struct{}{}
	}

	existing, ok := d.agents[agentID]
	from := model.AgentStateUnknown
	if ok {
		from = existing.State
	}

	agent := &model.Agent{
		AgentID: agentID, MachineID: machineID, Roles: roles, Capabilities: caps,
		State: model.AgentStateRegistered, LastSeen: now, RegisteredAt: now,
	}
	if ok {
		agent.RegisteredAt = existing.RegisteredAt
	}
	d.agents[agentID] = agent
	if from != model.AgentStateRegistered {
		d.emit(Transition{AgentID: agentID, From: from, To: model.AgentStateRegistered, At: now})
	}
	d.refreshAgentCountLocked()
	return nil
}

// Heartbeat refreshes last_seen and promotes the agent to active.
func (d *Directory) Heartbeat(ctx context.Context, agentID, health string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	agent, ok := d.agents[agentID]
	if !ok {
		return model.NewFault(model.FaultNotFound, agentID, nil)
	}
	from := agent.State
	now := time.Now().UTC()
	agent.LastSeen = now
	agent.Health = health
	agent.State = model.AgentStateActive
	if from != model.AgentStateActive {
		d.emit(Transition{AgentID: agentID, From: from, To: model.AgentStateActive, At: now})
	}
	d.refreshAgentCountLocked()
	return nil
}

// Filter narrows List to agents matching every non-empty field.
type Filter struct {
	State        model.AgentState
	MachineID    string
	Capabilities []string
}

func (d *Directory) List(ctx context.Context, f Filter) ([]model.Agent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]model.Agent, 0, len(d.agents))
	for _, a := range d.agents {
		if f.State != "" && a.State != f.State {
			continue
		}
		if f.MachineID != "" && a.MachineID != f.MachineID {
			continue
		}
		if len(f.Capabilities) > 0 && !a.HasAllCapabilities(f.Capabilities) {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

func (d *Directory) Status(ctx context.Context, agentID string) (model.Agent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.agents[agentID]
	if !ok {
		return model.Agent{}, model.NewFault(model.FaultNotFound, agentID, nil)
	}
	return *a, nil
}

// SetInboxDepth lets coordbus report current inbox size back into the
// directory, used by delegate()'s lowest-inbox-depth target selection
// (spec.md §4.6).
func (d *Directory) SetInboxDepth(agentID string, depth int, overflow bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if a, ok := d.agents[agentID]; ok {
		a.InboxDepth = depth
		a.Overflow = overflow
	}
	metrics.SetInboxDepth(agentID, depth)
}

// ExpireSweep advances every agent's state per the TTL ladder: idle past
// TTL/2, offline past TTL, purged past retentionHorizon (spec.md §4.5).
func (d *Directory) ExpireSweep(ctx context.Context, retentionHorizon time.Duration) []Transition {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now().UTC()
	var transitions []Transition
	for id, a := range d.agents {
		if a.State == model.AgentStatePurged {
			continue
		}
		sinceLastSeen := now.Sub(a.LastSeen)
		from := a.State
		switch {
		case sinceLastSeen > retentionHorizon:
			a.State = model.AgentStatePurged
			delete(d.agents, id)
		case sinceLastSeen > d.ttl:
			a.State = model.AgentStateOffline
		case sinceLastSeen > d.ttl/2:
			a.State = model.AgentStateIdle
		default:
			continue
		}
		if from != a.State {
			t := Transition{AgentID: id, From: from, To: a.State, At: now}
			transitions = append(transitions, t)
			d.emit(t)
		}
	}
	if len(transitions) > 0 {
		d.refreshAgentCountLocked()
	}
	return transitions
}

// StartSweep schedules ExpireSweep on a cron expression (default every
// 30s), matching the jittered-but-periodic scheduling style the pack uses
// for background maintenance. Call Stop to halt it.
func (d *Directory) StartSweep(spec string, retentionHorizon time.Duration) error {
	d.cron = cron.New()
	_, err := d.cron.AddFunc(spec, func() {
		d.ExpireSweep(context.Background(), retentionHorizon)
	})
	if err != nil {
		return err
	}
	d.cron.Start()
	return nil
}

func (d *Directory) Stop() {
	if d.cron != nil {
		d.cron.Stop()
	}
}
