package memory

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/lancejames221b/agent-hivemind-sub002/internal/config"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/embeddings"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/model"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/storage"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/vectorindex"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mgr, err := storage.Open(&config.Storage{Dialect: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, mgr.Initialize())
	t.Cleanup(func() { _ = mgr.Close() })

	db := storage.NewStore(mgr)
	idx := vectorindex.NewMemoryIndex()
	provider := embeddings.NewHashProvider(16)
	cfg := &config.Memory{
		DedupSimilarity: config.DedupDefaults(),
		Ranking:         config.Ranking{Alpha: 0.6, Beta: 0.3, Gamma: 0.1, HalfLifeDays: 14},
	}
	return NewStore(db, idx, provider, cfg, logr.Discard())
}

func TestPutRejectsInvalidCategory(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Put(context.Background(), PutRequest{Content: []byte("x"), Category: "bogus", Scope: model.ScopeLocal})
	f, ok := model.AsFault(err)
	require.True(t, ok)
	require.Equal(t, model.FaultInvalidCategory, f.Kind)
}

func TestPutDeduplicatesIdenticalContent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	req := PutRequest{Content: []byte("always run migrations before deploy"), Category: model.CategoryRunbooks, Scope: model.ScopeProject}
	first, err := s.Put(ctx, req)
	require.NoError(t, err)

	second, err := s.Put(ctx, req)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	// The dedup hit records an access memory alongside the original item
	// rather than creating a second copy of the content (spec.md §4.3).
	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.Counts[model.CategoryRunbooks])
}

func TestPutDoesNotDeduplicateDifferingTags(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	content := []byte("always run migrations before deploy")
	first, err := s.Put(ctx, PutRequest{Content: content, Category: model.CategoryRunbooks, Scope: model.ScopeProject, Tags: []string{"db"}})
	require.NoError(t, err)

	second, err := s.Put(ctx, PutRequest{Content: content, Category: model.CategoryRunbooks, Scope: model.ScopeProject, Tags: []string{"infra"}})
	require.NoError(t, err)

	require.NotEqual(t, first.ID, second.ID)
	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.Counts[model.CategoryRunbooks])
}

func TestPutNeverDeduplicatesRuleAudit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	req := PutRequest{Content: []byte("rule r1 applied"), Category: model.CategoryRuleAudit, Scope: model.ScopeLocal}
	_, err := s.Put(ctx, req)
	require.NoError(t, err)
	_, err = s.Put(ctx, req)
	require.NoError(t, err)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.Counts[model.CategoryRuleAudit])
}

func TestSearchReturnsStoredItem(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	item, err := s.Put(ctx, PutRequest{Content: []byte("rollback procedure for payments service"), Category: model.CategoryRunbooks, Scope: model.ScopeProject})
	require.NoError(t, err)

	results, err := s.Search(ctx, SearchRequest{Query: "rollback procedure for payments service", Category: model.CategoryRunbooks, K: 5})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, item.ID, results[0].Item.ID)
}

// constantProvider returns the same vector for any content, so tests that
// care about the keyword term in isolation aren't at the mercy of
// HashProvider's uncorrelated-by-design vector noise.
type constantProvider struct{ dimension int }

func (c constantProvider) Dimension() int { return c.dimension }
func (c constantProvider) Embed(context.Context, []byte) ([]float32, error) {
	v := make([]float32, c.dimension)
	for i := range v {
		v[i] = 1
	}
	return v, nil
}

func TestSearchBoostsExactKeywordMatchOverVectorOnlyHit(t *testing.T) {
	ctx := context.Background()
	mgr, err := storage.Open(&config.Storage{Dialect: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, mgr.Initialize())
	t.Cleanup(func() { _ = mgr.Close() })

	db := storage.NewStore(mgr)
	idx := vectorindex.NewMemoryIndex()
	cfg := &config.Memory{
		DedupSimilarity: config.DedupDefaults(),
		Ranking:         config.Ranking{Alpha: 0.6, Beta: 0.3, Gamma: 0.1, HalfLifeDays: 14},
	}
	s := NewStore(db, idx, constantProvider{dimension: 16}, cfg, logr.Discard())

	// constantProvider makes every item's vector identical, which would
	// otherwise look like a dedup hit (same category, cosine 1.0) — give
	// them different tags so the dedup tag-identity check keeps them apart.
	exact, err := s.Put(ctx, PutRequest{Content: []byte("zzyzx-incident-9001 postmortem notes"), Category: model.CategoryIncidents, Scope: model.ScopeProject, Tags: []string{"exact"}})
	require.NoError(t, err)
	_, err = s.Put(ctx, PutRequest{Content: []byte("unrelated filler content about something else"), Category: model.CategoryIncidents, Scope: model.ScopeProject, Tags: []string{"unrelated"}})
	require.NoError(t, err)

	// Every item and the query embed to the same vector here, so vector
	// score can't distinguish them: ranking must come entirely from the
	// keyword term, which only the exact item's content contains.
	results, err := s.Search(ctx, SearchRequest{Query: "zzyzx-incident-9001", Category: model.CategoryIncidents, K: 5})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, exact.ID, results[0].Item.ID)
	require.Greater(t, results[0].Score, results[1].Score)
}

func TestDeleteRemovesFromIndexAndStorage(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	item, err := s.Put(ctx, PutRequest{Content: []byte("decommission notes"), Category: model.CategoryInfrastructure, Scope: model.ScopeMachine})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, item.ID, "machine-a"))
	_, err = s.Get(ctx, item.ID)
	require.Error(t, err)
}

func TestBulkDeleteReportsPartialFailures(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	item, err := s.Put(ctx, PutRequest{Content: []byte("a"), Category: model.CategoryAgent, Scope: model.ScopeLocal})
	require.NoError(t, err)

	deleted, failures := s.BulkDelete(ctx, []model.ID{item.ID, "missing-id"}, "machine-a")
	require.Equal(t, 1, deleted)
	require.Len(t, failures, 1)
	require.Contains(t, failures, model.ID("missing-id"))
}
