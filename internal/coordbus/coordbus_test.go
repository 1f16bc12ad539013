package coordbus

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/lancejames221b/agent-hivemind-sub002/internal/directory"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/model"
)

func newTestBus(t *testing.T) (*Bus, *directory.Directory) {
	t.Helper()
	dir := directory.New(time.Minute, logr.Discard())
	bus := New(dir, nil, BackoffConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, CapDelay: 10 * time.Millisecond}, 100, logr.Discard())
	return bus, dir
}

func TestBroadcastDeliversToActiveAgents(t *testing.T) {
	ctx := context.Background()
	bus, dir := newTestBus(t)
	require.NoError(t, dir.Register(ctx, "a1", "m1", nil, nil))
	require.NoError(t, dir.Heartbeat(ctx, "a1", "ok"))

	m, err := bus.Broadcast(ctx, []byte("hello"), model.CategoryMonitoring, model.SeverityInfo, "")
	require.NoError(t, err)
	require.Equal(t, model.DeliveryDelivered, m.Deliveries["a1"].State)
	require.Len(t, bus.Inbox(ctx, "a1"), 1)
}

func TestInboxOrdersBySeverityOnTie(t *testing.T) {
	ctx := context.Background()
	bus, dir := newTestBus(t)
	require.NoError(t, dir.Register(ctx, "a1", "m1", nil, nil))
	require.NoError(t, dir.Heartbeat(ctx, "a1", "ok"))

	now := time.Now().UTC()
	low := &model.Message{MessageID: "low", Severity: model.SeverityInfo, CreatedAt: now}
	high := &model.Message{MessageID: "high", Severity: model.SeverityCritical, CreatedAt: now}
	ib := bus.inboxFor("a1")
	ib.push(low)
	ib.push(high)

	msgs := bus.Inbox(ctx, "a1")
	require.Equal(t, "high", msgs[0].MessageID)
}

func TestAckRemovesFromInbox(t *testing.T) {
	ctx := context.Background()
	bus, dir := newTestBus(t)
	require.NoError(t, dir.Register(ctx, "a1", "m1", nil, nil))
	require.NoError(t, dir.Heartbeat(ctx, "a1", "ok"))
	m, err := bus.Broadcast(ctx, []byte("x"), model.CategoryMonitoring, model.SeverityInfo, "")
	require.NoError(t, err)

	require.NoError(t, bus.Ack(ctx, "a1", m.MessageID))
	require.Empty(t, bus.Inbox(ctx, "a1"))
}

func TestDelegateAssignsLowestInboxDepth(t *testing.T) {
	ctx := context.Background()
	bus, dir := newTestBus(t)
	require.NoError(t, dir.Register(ctx, "busy", "m1", nil, []string{"deploy"}))
	require.NoError(t, dir.Heartbeat(ctx, "busy", "ok"))
	require.NoError(t, dir.Register(ctx, "free", "m1", nil, []string{"deploy"}))
	require.NoError(t, dir.Heartbeat(ctx, "free", "ok"))
	dir.SetInboxDepth("busy", 5, false)
	dir.SetInboxDepth("free", 0, false)

	m, err := bus.Delegate(ctx, DelegateRequest{TaskDescription: []byte("deploy v2"), RequiredCapabilities: []string{"deploy"}})
	require.NoError(t, err)
	require.Equal(t, "free", m.AssignedAgent)
	require.Equal(t, model.DelegationAssigned, m.DelegationState)
}

func TestDelegateQueuesPendingNoAgentWhenNoneMatch(t *testing.T) {
	ctx := context.Background()
	bus, _ := newTestBus(t)
	m, err := bus.Delegate(ctx, DelegateRequest{TaskDescription: []byte("x"), RequiredCapabilities: []string{"nonexistent"}})
	require.NoError(t, err)
	require.Equal(t, model.DelegationPendingNoAgent, m.DelegationState)
}

func TestDelegateReevaluatesWhenAgentBecomesActive(t *testing.T) {
	ctx := context.Background()
	bus, dir := newTestBus(t)
	m, err := bus.Delegate(ctx, DelegateRequest{TaskDescription: []byte("x"), RequiredCapabilities: []string{"deploy"}})
	require.NoError(t, err)
	require.Equal(t, model.DelegationPendingNoAgent, m.DelegationState)

	require.NoError(t, dir.Register(ctx, "late", "m1", nil, []string{"deploy"}))
	require.NoError(t, dir.Heartbeat(ctx, "late", "ok"))

	require.Eventually(t, func() bool {
		return m.DelegationState == model.DelegationAssigned
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, "late", m.AssignedAgent)
}

func TestCancelDelegationIgnoresCompleted(t *testing.T) {
	ctx := context.Background()
	bus, dir := newTestBus(t)
	require.NoError(t, dir.Register(ctx, "a1", "m1", nil, []string{"deploy"}))
	require.NoError(t, dir.Heartbeat(ctx, "a1", "ok"))
	m, err := bus.Delegate(ctx, DelegateRequest{TaskDescription: []byte("x"), RequiredCapabilities: []string{"deploy"}})
	require.NoError(t, err)

	m.DelegationState = model.DelegationCompleted
	require.NoError(t, bus.CancelDelegation(ctx, m.MessageID))
	require.Equal(t, model.DelegationCompleted, m.DelegationState)
}

func TestQueryCollectsResponsesWithinWindow(t *testing.T) {
	ctx := context.Background()
	bus, dir := newTestBus(t)
	require.NoError(t, dir.Register(ctx, "a1", "m1", nil, nil))
	require.NoError(t, dir.Heartbeat(ctx, "a1", "ok"))

	m, err := bus.Query(ctx, QueryRequest{Question: "anyone free?", Window: 20 * time.Millisecond})
	require.NoError(t, err)
	bus.RecordResponse(m.MessageID, "a1", []byte("yes"))

	responses := bus.CollectResponses(ctx, m.MessageID)
	require.Len(t, responses, 1)
	require.Equal(t, "a1", responses[0].AgentID)
}
