package directory

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/lancejames221b/agent-hivemind-sub002/internal/model"
)

func TestRegisterThenHeartbeatTransitionsToActive(t *testing.T) {
	ctx := context.Background()
	d := New(2*time.Minute, logr.Discard())

	require.NoError(t, d.Register(ctx, "agent-1", "machine-a", []string{"worker"}, []string{"deploy"}))
	status, err := d.Status(ctx, "agent-1")
	require.NoError(t, err)
	require.Equal(t, model.AgentStateRegistered, status.State)

	require.NoError(t, d.Heartbeat(ctx, "agent-1", "ok"))
	status, err = d.Status(ctx, "agent-1")
	require.NoError(t, err)
	require.Equal(t, model.AgentStateActive, status.State)
}

func TestHeartbeatUnknownAgentFails(t *testing.T) {
	d := New(time.Minute, logr.Discard())
	err := d.Heartbeat(context.Background(), "ghost", "ok")
	f, ok := model.AsFault(err)
	require.True(t, ok)
	require.Equal(t, model.FaultNotFound, f.Kind)
}

func TestExpireSweepAdvancesThroughIdleOfflinePurged(t *testing.T) {
	ctx := context.Background()
	d := New(100*time.Millisecond, logr.Discard())
	require.NoError(t, d.Register(ctx, "agent-1", "machine-a", nil, nil))
	require.NoError(t, d.Heartbeat(ctx, "agent-1", "ok"))

	d.mu.Lock()
	d.agents["agent-1"].LastSeen = time.Now().UTC().Add(-60 * time.Millisecond)
	d.mu.Unlock()
	d.ExpireSweep(ctx, time.Hour)
	status, err := d.Status(ctx, "agent-1")
	require.NoError(t, err)
	require.Equal(t, model.AgentStateIdle, status.State)

	d.mu.Lock()
	d.agents["agent-1"].LastSeen = time.Now().UTC().Add(-200 * time.Millisecond)
	d.mu.Unlock()
	d.ExpireSweep(ctx, time.Hour)
	status, err = d.Status(ctx, "agent-1")
	require.NoError(t, err)
	require.Equal(t, model.AgentStateOffline, status.State)

	d.mu.Lock()
	d.agents["agent-1"].LastSeen = time.Now().UTC().Add(-2 * time.Hour)
	d.mu.Unlock()
	d.ExpireSweep(ctx, time.Hour)
	_, err = d.Status(ctx, "agent-1")
	f, ok := model.AsFault(err)
	require.True(t, ok)
	require.Equal(t, model.FaultNotFound, f.Kind)
}

func TestOnTransitionFiresOnStateChange(t *testing.T) {
	ctx := context.Background()
	d := New(time.Minute, logr.Discard())
	var got []Transition
	d.OnTransition(func(tr Transition) { got = append(got, tr) })

	require.NoError(t, d.Register(ctx, "agent-1", "machine-a", nil, nil))
	require.NoError(t, d.Heartbeat(ctx, "agent-1", "ok"))
	require.Len(t, got, 2)
	require.Equal(t, model.AgentStateActive, got[1].To)
}

func TestListFiltersByCapability(t *testing.T) {
	ctx := context.Background()
	d := New(time.Minute, logr.Discard())
	require.NoError(t, d.Register(ctx, "a", "m", nil, []string{"deploy"}))
	require.NoError(t, d.Register(ctx, "b", "m", nil, []string{"rollback"}))

	agents, err := d.List(ctx, Filter{Capabilities: []string{"deploy"}})
	require.NoError(t, err)
	require.Len(t, agents, 1)
	require.Equal(t, "a", agents[0].AgentID)
}
