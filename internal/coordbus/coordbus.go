// Package coordbus implements C6: broadcast/delegate/query over a
// per-agent inbox model, backed by NATS subjects (one subject per agent,
// `hivemind.agent.<agent_id>.inbox`), the dependency kagent-dev-kagent's
// nats-activity-feed plugin pulls in for the same agent-activity-over-NATS
// purpose. Delivery retry pacing uses golang.org/x/time/rate the way
// r3e-network/service_layer's ratelimit package wraps a rate.Limiter,
// repurposed here to throttle redelivery attempts rather than inbound
// request volume.
package coordbus

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"

	"github.com/lancejames221b/agent-hivemind-sub002/internal/directory"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/ids"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/model"
)

// BackoffConfig controls delegate/broadcast retry pacing (spec.md §4.6:
// exponential backoff with jitter, capped at 10 attempts over 1 hour).
type BackoffConfig struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	CapDelay      time.Duration
}

func nextDelay(cfg BackoffConfig, attempt int) time.Duration {
	base := cfg.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	cap := cfg.CapDelay
	if cap <= 0 {
		cap = time.Hour
	}
	d := base * time.Duration(1<<uint(attempt))
	if d > cap {
		d = cap
	}
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	return d/2 + jitter
}

// inbox is one agent's pending-message queue: FIFO by created_at, with
// severity breaking ties (spec.md §4.6 "severity ties broken by higher
// severity first").
type inbox struct {
	mu       sync.Mutex
	messages []*model.Message
	cap      int
}

func (b *inbox) push(m *model.Message) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cap > 0 && len(b.messages) >= b.cap {
		return false
	}
	b.messages = append(b.messages, m)
	sort.SliceStable(b.messages, func(i, j int) bool {
		if !b.messages[i].CreatedAt.Equal(b.messages[j].CreatedAt) {
			return b.messages[i].CreatedAt.Before(b.messages[j].CreatedAt)
		}
		return b.messages[i].Severity.Rank() > b.messages[j].Severity.Rank()
	})
	return true
}

func (b *inbox) list() []*model.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*model.Message, len(b.messages))
	copy(out, b.messages)
	return out
}

func (b *inbox) depth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

func (b *inbox) ack(messageID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, m := range b.messages {
		if m.MessageID == messageID {
			b.messages = append(b.messages[:i], b.messages[i+1:]...)
			return true
		}
	}
	return false
}

// Bus is the C6 service.
type Bus struct {
	mu             sync.RWMutex
	inboxes        map[string]*inbox
	messages       map[string]*model.Message // all messages by id, for delegation lookups/cancel
	pendingNoAgent []*model.Message
	queryDeadlines map[string]time.Time
	responses      map[string][]Response
	dir            *directory.Directory
	nc             *nats.Conn
	backoff        BackoffConfig
	inboxCap       int
	limiter        *rate.Limiter
	log            logr.Logger
}

// New builds a Bus. nc may be nil (tests / single-process mode); when set,
// every delivery is additionally published to the agent's NATS subject so
// out-of-process subscribers observe the same traffic.
func New(dir *directory.Directory, nc *nats.Conn, backoff BackoffConfig, inboxCap int, log logr.Logger) *Bus {
	b := &Bus{
		inboxes:        make(map[string]*inbox),
		messages:       make(map[string]*model.Message),
		queryDeadlines: make(map[string]time.Time),
		responses:      make(map[string][]Response),
		dir:            dir,
		nc:             nc,
		backoff:        backoff,
		inboxCap:       inboxCap,
		limiter:        rate.NewLimiter(rate.Limit(50), 100),
		log:            log,
	}
	dir.OnTransition(func(t directory.Transition) {
		if t.To == model.AgentStateActive {
			b.reevaluatePendingNoAgent(context.Background())
		}
	})
	return b
}

func (b *Bus) inboxFor(agentID string) *inbox {
	b.mu.Lock()
	defer b.mu.Unlock()
	ib, ok := b.inboxes[agentID]
	if !ok {
		ib = &inbox{cap: b.inboxCap}
		b.inboxes[agentID] = ib
	}
	return ib
}

func agentSubject(agentID string) string { return fmt.Sprintf("hivemind.agent.%s.inbox", agentID) }

func (b *Bus) publishNATS(agentID string, m *model.Message) {
	if b.nc == nil {
		return
	}
	payload := append([]byte(nil), m.Payload...)
	if err := b.nc.Publish(agentSubject(agentID), payload); err != nil {
		b.log.V(1).Info("nats publish failed", "agent_id", agentID, "error", err)
	}
}

// Broadcast posts a Message to every agent matching targetSelector
// (empty selector = every active agent), per spec.md §4.6.
func (b *Bus) Broadcast(ctx context.Context, payload []byte, category model.Category, severity model.Severity, targetSelector string) (*model.Message, error) {
	targets, err := b.resolveTargets(ctx, targetSelector)
	if err != nil {
		return nil, err
	}

	m := &model.Message{
		MessageID:   ids.NewMessageID(),
		Kind:        model.MessageKindBroadcast,
		Severity:    severity,
		Category:    category,
		Payload:     payload,
		TargetSelector: targetSelector,
		CreatedAt:   time.Now().UTC(),
		Deliveries:  make(map[string]*model.Delivery),
	}
	for _, agentID := range targets {
		d := &model.Delivery{Target: agentID, State: model.DeliveryPending}
		m.Deliveries[agentID] = d
		if b.inboxFor(agentID).push(m) {
			d.State = model.DeliveryDelivered
			b.publishNATS(agentID, m)
		} else {
			d.State = model.DeliveryPending
			go b.retryDelivery(agentID, m, d)
		}
	}

	b.mu.Lock()
	b.messages[m.MessageID] = m
	b.mu.Unlock()
	return m, nil
}

func (b *Bus) resolveTargets(ctx context.Context, selector string) ([]string, error) {
	agents, err := b.dir.List(ctx, directory.Filter{State: model.AgentStateActive})
	if err != nil {
		return nil, err
	}
	var out []string
	for _, a := range agents {
		if selector == "" || a.HasCapability(selector) {
			out = append(out, a.AgentID)
		}
	}
	return out, nil
}

// retryDelivery redelivers a message whose inbox push failed (full inbox),
// with exponential backoff and jitter capped at b.backoff.MaxAttempts over
// the configured window (spec.md §4.6).
func (b *Bus) retryDelivery(agentID string, m *model.Message, d *model.Delivery) {
	maxAttempts := b.backoff.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	for d.Attempts < maxAttempts {
		delay := nextDelay(b.backoff, d.Attempts)
		d.Attempts++
		d.NextRetry = time.Now().UTC().Add(delay)
		if err := b.limiter.Wait(context.Background()); err != nil {
			return
		}
		time.Sleep(delay)
		if b.inboxFor(agentID).push(m) {
			d.State = model.DeliveryDelivered
			b.publishNATS(agentID, m)
			return
		}
	}
	d.State = model.DeliveryExpired
}

// Ack marks a delivered message acknowledged for one agent.
func (b *Bus) Ack(ctx context.Context, agentID, messageID string) error {
	if !b.inboxFor(agentID).ack(messageID) {
		return model.NewFault(model.FaultNotFound, messageID, nil)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.messages[messageID]; ok {
		if d, ok := m.Deliveries[agentID]; ok {
			now := time.Now().UTC()
			d.State = model.DeliveryAcked
			d.AckedAt = &now
		}
	}
	return nil
}

// Inbox returns every unacknowledged message for agentID, in delivery order.
func (b *Bus) Inbox(ctx context.Context, agentID string) []*model.Message {
	return b.inboxFor(agentID).list()
}
