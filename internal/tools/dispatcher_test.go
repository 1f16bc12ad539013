package tools

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lancejames221b/agent-hivemind-sub002/internal/config"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/coordbus"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/directory"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/embeddings"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/memory"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/model"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/rules"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/storage"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/vectorindex"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	m, err := storage.Open(&config.Storage{Dialect: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, m.Initialize())
	db := storage.NewStore(m)

	idx := vectorindex.NewMemoryIndex()
	embed := embeddings.NewHashProvider(8)
	memCfg := &config.Memory{DedupSimilarity: config.DedupDefaults(), Ranking: config.Ranking{Alpha: 0.6, Beta: 0.3, HalfLifeDays: 14}}
	mem := memory.NewStore(db, idx, embed, memCfg, logr.Discard())

	dir := directory.New(time.Minute, logr.Discard())
	bus := coordbus.New(dir, nil, coordbus.BackoffConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, CapDelay: 5 * time.Millisecond}, 100, logr.Discard())

	rulesConn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	rulesStore, err := rules.NewStore(rulesConn)
	require.NoError(t, err)
	engine := rules.NewEngine(rulesStore, nil, 5*time.Second, logr.Discard())

	return New(mem, dir, bus, engine, nil, "machine-a", logr.Discard())
}

func TestStoreMemoryThenSearchRoundTrips(t *testing.T) {
	ctx := context.Background()
	d := newTestDispatcher(t)
	caller := callerInfo{AgentID: "agent-1", MachineID: "machine-a"}

	_, storeOut, err := d.HandleStoreMemory(ctx, nil, StoreMemoryInput{
		Caller: caller, Content: "deploy runbook for service X", Category: string(model.CategoryRunbooks), Scope: string(model.ScopeMachine),
	})
	require.NoError(t, err)
	require.NotEmpty(t, storeOut.ID)

	_, searchOut, err := d.HandleSearchMemories(ctx, nil, SearchMemoriesInput{
		Caller: caller, Query: "deploy runbook for service X", Category: string(model.CategoryRunbooks), K: 5,
	})
	require.NoError(t, err)
	require.NotEmpty(t, searchOut.Results)
}

func TestStoreMemoryEmitsAuditRecord(t *testing.T) {
	ctx := context.Background()
	d := newTestDispatcher(t)
	caller := callerInfo{AgentID: "agent-1", MachineID: "machine-a"}

	_, _, err := d.HandleStoreMemory(ctx, nil, StoreMemoryInput{
		Caller: caller, Content: "audit me", Category: string(model.CategoryMonitoring), Scope: string(model.ScopeMachine),
	})
	require.NoError(t, err)

	stats, err := d.Mem.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Counts[model.CategoryRuleAudit])
}

func TestRegisterAgentThenListAgents(t *testing.T) {
	ctx := context.Background()
	d := newTestDispatcher(t)
	caller := callerInfo{AgentID: "agent-1", MachineID: "machine-a"}

	_, regOut, err := d.HandleRegisterAgent(ctx, nil, RegisterAgentInput{
		Caller: caller, AgentID: "agent-1", MachineID: "machine-a", Capabilities: []string{"deploy"},
	})
	require.NoError(t, err)
	require.True(t, regOut.Registered)

	_, _, err = d.HandleHeartbeat(ctx, nil, HeartbeatInput{Caller: caller, AgentID: "agent-1", Health: "ok"})
	require.NoError(t, err)

	_, listOut, err := d.HandleListAgents(ctx, nil, ListAgentsInput{Caller: caller, State: string(model.AgentStateActive)})
	require.NoError(t, err)
	require.Len(t, listOut.Agents, 1)
	require.Equal(t, "agent-1", listOut.Agents[0].AgentID)
}

func TestDelegateTaskAssignsRegisteredAgent(t *testing.T) {
	ctx := context.Background()
	d := newTestDispatcher(t)
	caller := callerInfo{AgentID: "agent-1", MachineID: "machine-a"}

	_, _, err := d.HandleRegisterAgent(ctx, nil, RegisterAgentInput{
		Caller: caller, AgentID: "agent-2", MachineID: "machine-a", Capabilities: []string{"deploy"},
	})
	require.NoError(t, err)
	_, _, err = d.HandleHeartbeat(ctx, nil, HeartbeatInput{Caller: caller, AgentID: "agent-2", Health: "ok"})
	require.NoError(t, err)

	_, delOut, err := d.HandleDelegateTask(ctx, nil, DelegateTaskInput{
		Caller: caller, TaskDescription: "roll out v2", RequiredCapabilities: []string{"deploy"},
	})
	require.NoError(t, err)
	require.Equal(t, "agent-2", delOut.AssignedAgent)
	require.Equal(t, string(model.DelegationAssigned), delOut.DelegationState)
}

func TestGetFormatGuideListsCategoriesAndScopes(t *testing.T) {
	ctx := context.Background()
	d := newTestDispatcher(t)

	_, out, err := d.HandleGetFormatGuide(ctx, nil, GetFormatGuideInput{Caller: callerInfo{AgentID: "a", MachineID: "machine-a"}})
	require.NoError(t, err)
	require.Contains(t, out.Categories, string(model.CategoryRunbooks))
	require.Contains(t, out.Scopes, string(model.ScopeNetworkShared))
}
