package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lancejames221b/agent-hivemind-sub002/internal/model"
)

func TestMemoryIndexSearchRanksBySimilarity(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	require.NoError(t, idx.Upsert(ctx, "close", 1, []float32{1, 0, 0}))
	require.NoError(t, idx.Upsert(ctx, "far", 1, []float32{0, 1, 0}))
	require.NoError(t, idx.Upsert(ctx, "opposite", 1, []float32{-1, 0, 0}))

	matches, err := idx.Search(ctx, []float32{1, 0, 0}, 3, "")
	require.NoError(t, err)
	require.Len(t, matches, 3)
	require.Equal(t, model.ID("close"), matches[0].ID)
	require.InDelta(t, 1.0, matches[0].Score, 1e-6)
	require.Equal(t, model.ID("opposite"), matches[2].ID)
}

func TestMemoryIndexSearchFiltersByCategory(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	require.NoError(t, idx.Upsert(ctx, "a", 1, []float32{1, 0}))
	idx.SetCategory("a", model.CategoryIncidents)
	require.NoError(t, idx.Upsert(ctx, "b", 1, []float32{1, 0}))
	idx.SetCategory("b", model.CategoryRunbooks)

	matches, err := idx.Search(ctx, []float32{1, 0}, 10, model.CategoryIncidents)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, model.ID("a"), matches[0].ID)
}

func TestMemoryIndexRemove(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	require.NoError(t, idx.Upsert(ctx, "a", 1, []float32{1, 0}))
	require.NoError(t, idx.Remove(ctx, "a"))
	matches, err := idx.Search(ctx, []float32{1, 0}, 10, "")
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestMemoryIndexRebuild(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	records := []model.EmbeddingRecord{
		{ID: "a", Version: 2, Vector: []float32{1, 0}},
		{ID: "b", Version: 1, Vector: []float32{0, 1}},
	}
	require.NoError(t, idx.Rebuild(ctx, records, func(id model.ID) model.Category {
		if id == "a" {
			return model.CategoryIncidents
		}
		return model.CategoryRunbooks
	}))
	matches, err := idx.Search(ctx, []float32{1, 0}, 10, model.CategoryIncidents)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, model.ID("a"), matches[0].ID)
	require.EqualValues(t, 2, matches[0].Version)
}
