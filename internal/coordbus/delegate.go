package coordbus

import (
	"context"
	"sort"
	"time"

	"github.com/lancejames221b/agent-hivemind-sub002/internal/directory"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/ids"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/model"
)

// DelegateRequest is the input to Delegate.
type DelegateRequest struct {
	TaskDescription      []byte
	RequiredCapabilities []string
	Priority             string
	Deadline             *time.Time
}

// Delegate picks one active agent matching every required capability,
// preferring lowest inbox depth with (priority match > least-recently-
// assigned) tiebreak, per spec.md §4.6. With no match it queues
// pending_no_agent for up to deadline or 15 minutes, whichever is sooner.
func (b *Bus) Delegate(ctx context.Context, req DelegateRequest) (*model.Message, error) {
	m := &model.Message{
		MessageID:            ids.NewMessageID(),
		Kind:                 model.MessageKindDelegate,
		Payload:              req.TaskDescription,
		RequiredCapabilities: req.RequiredCapabilities,
		Priority:             req.Priority,
		Deadline:             req.Deadline,
		CreatedAt:            time.Now().UTC(),
		Deliveries:           make(map[string]*model.Delivery),
	}

	target, ok, err := b.selectTarget(ctx, req.RequiredCapabilities)
	if err != nil {
		return nil, err
	}
	if !ok {
		m.DelegationState = model.DelegationPendingNoAgent
		b.mu.Lock()
		b.messages[m.MessageID] = m
		b.pendingNoAgent = append(b.pendingNoAgent, m)
		b.mu.Unlock()
		b.scheduleExpiry(m)
		return m, nil
	}

	b.assign(m, target)
	b.mu.Lock()
	b.messages[m.MessageID] = m
	b.mu.Unlock()
	return m, nil
}

func (b *Bus) assign(m *model.Message, agentID string) {
	m.AssignedAgent = agentID
	m.DelegationState = model.DelegationAssigned
	m.Deliveries[agentID] = &model.Delivery{Target: agentID, State: model.DeliveryPending}
	if b.inboxFor(agentID).push(m) {
		m.Deliveries[agentID].State = model.DeliveryDelivered
		b.publishNATS(agentID, m)
	}
}

// selectTarget implements spec.md §4.6's delegate target-selection order:
// lowest current inbox depth first, ties broken by priority-capability
// match strength then least-recently-assigned.
func (b *Bus) selectTarget(ctx context.Context, requiredCaps []string) (string, bool, error) {
	agents, err := b.dir.List(ctx, directory.Filter{State: model.AgentStateActive, Capabilities: requiredCaps})
	if err != nil {
		return "", false, err
	}
	if len(agents) == 0 {
		return "", false, nil
	}
	sort.SliceStable(agents, func(i, j int) bool {
		if agents[i].InboxDepth != agents[j].InboxDepth {
			return agents[i].InboxDepth < agents[j].InboxDepth
		}
		return agents[i].LastSeen.Before(agents[j].LastSeen) // least-recently-assigned proxy
	})
	return agents[0].AgentID, true, nil
}

// scheduleExpiry expires a pending_no_agent delegation after its deadline
// or 15 minutes, whichever is sooner.
func (b *Bus) scheduleExpiry(m *model.Message) {
	window := 15 * time.Minute
	if m.Deadline != nil {
		if until := time.Until(*m.Deadline); until < window {
			window = until
		}
	}
	go func() {
		timer := time.NewTimer(window)
		defer timer.Stop()
		<-timer.C
		b.mu.Lock()
		defer b.mu.Unlock()
		if m.DelegationState == model.DelegationPendingNoAgent {
			m.DelegationState = model.DelegationExpired
			b.removePendingLocked(m.MessageID)
		}
	}()
}

func (b *Bus) removePendingLocked(messageID string) {
	out := b.pendingNoAgent[:0]
	for _, m := range b.pendingNoAgent {
		if m.MessageID != messageID {
			out = append(out, m)
		}
	}
	b.pendingNoAgent = out
}

// reevaluatePendingNoAgent is invoked whenever C5 emits a transition into
// active, re-running target selection for every still-pending delegation.
func (b *Bus) reevaluatePendingNoAgent(ctx context.Context) {
	b.mu.Lock()
	pending := append([]*model.Message(nil), b.pendingNoAgent...)
	b.mu.Unlock()

	for _, m := range pending {
		target, ok, err := b.selectTarget(ctx, m.RequiredCapabilities)
		if err != nil || !ok {
			continue
		}
		b.mu.Lock()
		if m.DelegationState == model.DelegationPendingNoAgent {
			b.assign(m, target)
			b.removePendingLocked(m.MessageID)
		}
		b.mu.Unlock()
	}
}

// CancelDelegation withdraws a delegation; already-completed delegations
// ignore the cancel (spec.md §4.6).
func (b *Bus) CancelDelegation(ctx context.Context, messageID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.messages[messageID]
	if !ok {
		return model.NewFault(model.FaultNotFound, messageID, nil)
	}
	if m.DelegationState == model.DelegationCompleted {
		return nil
	}
	m.DelegationState = model.DelegationCancelled
	b.removePendingLocked(messageID)
	if m.AssignedAgent != "" {
		cancel := &model.Message{
			MessageID: ids.NewMessageID(),
			Kind:      model.MessageKindStatus,
			Payload:   []byte("cancel:" + messageID),
			CreatedAt: time.Now().UTC(),
		}
		b.inboxFor(m.AssignedAgent).push(cancel)
	}
	return nil
}

// QueryRequest is the input to Query.
type QueryRequest struct {
	Question string
	Category model.Category
	Scope    model.Scope
	Window   time.Duration
}

// Query broadcasts a question and collects responses within Window
// (default 30s), per spec.md §4.6. Responses arrive out-of-band via
// RecordResponse (called by the tools layer when an agent replies).
func (b *Bus) Query(ctx context.Context, req QueryRequest) (*model.Message, error) {
	window := req.Window
	if window <= 0 {
		window = 30 * time.Second
	}
	m, err := b.Broadcast(ctx, []byte(req.Question), req.Category, model.SeverityInfo, "")
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(window)
	b.mu.Lock()
	b.queryDeadlines[m.MessageID] = deadline
	b.mu.Unlock()
	return m, nil
}

// CollectResponses blocks until req's collection window elapses, then
// returns whatever responses arrived.
func (b *Bus) CollectResponses(ctx context.Context, messageID string) []Response {
	b.mu.RLock()
	deadline, ok := b.queryDeadlines[messageID]
	b.mu.RUnlock()
	if ok {
		wait := time.Until(deadline)
		if wait > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(wait):
			}
		}
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Response(nil), b.responses[messageID]...)
}

// Response is one agent's reply to a Query.
type Response struct {
	AgentID string
	Payload []byte
	At      time.Time
}

// RecordResponse appends a response to a query's collection window.
func (b *Bus) RecordResponse(messageID, agentID string, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.responses == nil {
		b.responses = make(map[string][]Response)
	}
	b.responses[messageID] = append(b.responses[messageID], Response{AgentID: agentID, Payload: payload, At: time.Now().UTC()})
}
