package sync

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lancejames221b/agent-hivemind-sub002/internal/config"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/embeddings"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/memory"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/model"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/rules"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/storage"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/vectorindex"
)

type testNode struct {
	node   *Node
	mem    *memory.Store
	server *httptest.Server
}

func newTestNode(t *testing.T, machineID string) *testNode {
	t.Helper()
	m, err := storage.Open(&config.Storage{Dialect: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, m.Initialize())
	db := storage.NewStore(m)

	rulesConn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	rulesDB, err := rules.NewStore(rulesConn)
	require.NoError(t, err)

	idx := vectorindex.NewMemoryIndex()
	embed := embeddings.NewHashProvider(8)
	memCfg := &config.Memory{DedupSimilarity: config.DedupDefaults(), Ranking: config.Ranking{Alpha: 0.6, Beta: 0.3, HalfLifeDays: 14}}
	mem := memory.NewStore(db, idx, embed, memCfg, logr.Discard())

	syncCfg := &config.Sync{IntervalS: time.Hour, MaxRecordsPerRound: 500, PeerTimeoutS: 5 * time.Second}
	node := New(machineID, syncCfg, db, mem, rulesDB, logr.Discard())
	srv := httptest.NewServer(node.Handler())
	t.Cleanup(srv.Close)
	return &testNode{node: node, mem: mem, server: srv}
}

func TestSyncRoundReplicatesNetworkSharedItem(t *testing.T) {
	ctx := context.Background()
	a := newTestNode(t, "machine-a")
	b := newTestNode(t, "machine-b")

	item, err := a.mem.Put(ctx, memory.PutRequest{
		Content: []byte("shared knowledge"), Category: model.CategoryInfrastructure,
		Scope: model.ScopeNetworkShared, OriginMachine: "machine-a",
	})
	require.NoError(t, err)

	require.NoError(t, a.node.Round(ctx, b.server.URL))

	got, err := b.mem.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, item.Content, got.Content)
}

func TestSyncRoundSkipsLocalScopeItem(t *testing.T) {
	ctx := context.Background()
	a := newTestNode(t, "machine-a")
	b := newTestNode(t, "machine-b")

	item, err := a.mem.Put(ctx, memory.PutRequest{
		Content: []byte("private note"), Category: model.CategoryAgent,
		Scope: model.ScopeLocal, OriginMachine: "machine-a",
	})
	require.NoError(t, err)

	require.NoError(t, a.node.Round(ctx, b.server.URL))

	_, err = b.mem.Get(ctx, item.ID)
	f, ok := model.AsFault(err)
	require.True(t, ok)
	require.Equal(t, model.FaultNotFound, f.Kind)
}

func TestSyncRoundIsIdempotentOnRepeatedRounds(t *testing.T) {
	ctx := context.Background()
	a := newTestNode(t, "machine-a")
	b := newTestNode(t, "machine-b")

	_, err := a.mem.Put(ctx, memory.PutRequest{
		Content: []byte("repeat me"), Category: model.CategoryMonitoring,
		Scope: model.ScopeNetworkShared, OriginMachine: "machine-a",
	})
	require.NoError(t, err)

	require.NoError(t, a.node.Round(ctx, b.server.URL))
	require.NoError(t, a.node.Round(ctx, b.server.URL))

	stats, err := b.mem.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Counts[model.CategoryMonitoring])
}

func TestLagReportsMaxTrailingVersions(t *testing.T) {
	c := NewClock()
	c.Advance("machine-a", 2)
	lag := Lag(c, map[string]int64{"machine-a": 10, "machine-b": 3})
	require.Equal(t, int64(8), lag)
}
