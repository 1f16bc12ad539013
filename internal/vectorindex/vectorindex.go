// Package vectorindex implements C2: the vector companion to the C1
// version-store. Two backends share one interface, the same split the
// teacher draws between its postgres hnsw path and its sqlite
// F32_BLOB path in internal/database/manager.go — pgvector-go wraps the
// postgres column, a brute-force in-memory cosine scan stands in for
// sqlite since glebarez/sqlite has no vector extension to lean on.
package vectorindex

import (
	"context"
	"math"

	"github.com/lancejames221b/agent-hivemind-sub002/internal/model"
)

// Match is one search hit: the memory id, its stored version, and a cosine
// similarity score in [-1, 1].
type Match struct {
	ID      model.ID
	Version int64
	Score   float32
}

// Index is the C2 surface: upsert/remove/search over (id, version)→vector,
// plus a rebuild hook that replays every live EmbeddingRecord from storage
// (used after a fresh sqlite start, since the in-memory backend holds
// nothing across restarts).
type Index interface {
	Upsert(ctx context.Context, id model.ID, version int64, vector []float32) error
	Remove(ctx context.Context, id model.ID) error
	Search(ctx context.Context, query []float32, k int, category model.Category) ([]Match, error)
	Rebuild(ctx context.Context, records []model.EmbeddingRecord, categoryOf func(model.ID) model.Category) error
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return -1
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
