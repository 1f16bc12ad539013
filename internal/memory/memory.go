// Package memory implements C3: store/retrieve/search/delete/bulk/stats
// over MemoryItem, layering dedup and ranking on top of C1 (storage) and C2
// (vectorindex). Grounded on kagent's internal/httpserver/handlers
// MemoryHandler — same Add/Search/List/Delete method shape — generalized
// from a single agent-memory table to the category/scope model of
// spec.md §3.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/lancejames221b/agent-hivemind-sub002/internal/config"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/embeddings"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/ids"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/metrics"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/model"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/storage"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/vectorindex"
)

// Store is the C3 service. It owns no transport concerns; callers (C9
// tools) translate MCP requests into these calls.
type Store struct {
	db       *storage.Store
	index    vectorindex.Index
	embed    embeddings.Provider
	cfg      *config.Memory
	log      logr.Logger
}

func NewStore(db *storage.Store, index vectorindex.Index, embed embeddings.Provider, cfg *config.Memory, log logr.Logger) *Store {
	return &Store{db: db, index: index, embed: embed, cfg: cfg, log: log}
}

// PutRequest is the input to Put.
type PutRequest struct {
	Content       []byte
	Category      model.Category
	Tags          []string
	Context       string
	Scope         model.Scope
	OriginMachine string
	OriginAgent   string
}

// Put stores content as a new MemoryItem, unless a near-duplicate already
// exists for this category (spec.md §4.3): a live item in the same category
// with cosine similarity ≥ the configured threshold AND identical tags is
// deduplicated by returning the existing item and recording an `access`
// memory rather than creating a new one. rule-audit is append-only and is
// never deduplicated (spec.md §4.3 "except rule-audit").
func (s *Store) Put(ctx context.Context, req PutRequest) (model.MemoryItem, error) {
	if !req.Category.Valid() {
		return model.MemoryItem{}, model.NewFault(model.FaultInvalidCategory, string(req.Category), nil)
	}
	if !req.Scope.Valid() {
		return model.MemoryItem{}, model.NewFault(model.FaultInvalidParameters, "invalid scope: "+string(req.Scope), nil)
	}
	if s.cfg.MaxContentBytes > 0 && len(req.Content) > s.cfg.MaxContentBytes {
		return model.MemoryItem{}, model.NewFault(model.FaultRecordTooLarge, fmt.Sprintf("content exceeds %d bytes", s.cfg.MaxContentBytes), nil)
	}

	vector, embedErr := s.embed.Embed(ctx, req.Content)
	vectorPending := embedErr != nil
	if embedErr != nil {
		s.log.V(1).Info("embedding failed, storing with vector_pending", "category", req.Category, "error", embedErr)
	}

	if req.Category != model.CategoryRuleAudit && !vectorPending {
		if dup, ok, err := s.findDuplicate(ctx, req.Category, req.Tags, vector); err != nil {
			return model.MemoryItem{}, err
		} else if ok {
			s.recordAccess(ctx, dup, req)
			return dup, nil
		}
	}

	now := time.Now().UTC()
	item := model.MemoryItem{
		ID:            ids.NewMemoryID(req.Content),
		Content:       req.Content,
		Category:      req.Category,
		Tags:          req.Tags,
		Context:       req.Context,
		Scope:         req.Scope,
		OriginMachine: req.OriginMachine,
		OriginAgent:   req.OriginAgent,
		CreatedAt:     now,
		UpdatedAt:     now,
		VectorPending: vectorPending,
	}
	stored, err := s.db.Put(ctx, item)
	if err != nil {
		return model.MemoryItem{}, err
	}
	if !vectorPending {
		if err := s.index.Upsert(ctx, stored.ID, stored.Version, vector); err != nil {
			s.log.Error(err, "vector upsert failed after storage commit", "id", stored.ID)
		}
		if mi, ok := s.index.(*vectorindex.MemoryIndex); ok {
			mi.SetCategory(stored.ID, stored.Category)
		}
	}
	return stored, nil
}

// findDuplicate looks for a live item in category whose cosine similarity to
// vector clears the configured threshold AND whose tags are identical to
// tags (spec.md §4.3: "cosine similarity ≥0.97 ... and identical tags").
// It inspects a handful of near neighbors, not just the closest one, since
// the nearest vector match may carry different tags while a slightly
// farther one (still above threshold) is the true duplicate.
func (s *Store) findDuplicate(ctx context.Context, category model.Category, tags []string, vector []float32) (model.MemoryItem, bool, error) {
	threshold, ok := s.cfg.DedupSimilarity[category]
	if !ok {
		threshold = 0.97
	}
	matches, err := s.index.Search(ctx, vector, 5, category)
	if err != nil {
		return model.MemoryItem{}, false, model.NewFault(model.FaultStorageUnavailable, "dedup search", err)
	}
	for _, m := range matches {
		if m.Score < float32(threshold) {
			break // Search returns matches sorted by descending score
		}
		existing, err := s.db.Get(ctx, m.ID)
		if err != nil {
			continue // vector index entry for a tombstoned/missing record
		}
		if equalTags(existing.Tags, tags) {
			return existing, true, nil
		}
	}
	return model.MemoryItem{}, false, nil
}

// equalTags reports whether a and b contain the same tags, ignoring order.
func equalTags(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, t := range a {
		counts[t]++
	}
	for _, t := range b {
		counts[t]--
	}
	for _, n := range counts {
		if n != 0 {
			return false
		}
	}
	return true
}

// recordAccess writes an `access` memory marking a dedup hit against dup,
// instead of creating a new item (spec.md §4.3). It bypasses Put/dedup
// entirely (no embedding, no vector index entry) since it is bookkeeping,
// not retrievable knowledge; a failure here is logged, not surfaced, since
// the caller's store() already has a valid id to return.
func (s *Store) recordAccess(ctx context.Context, dup model.MemoryItem, req PutRequest) {
	now := time.Now().UTC()
	access := model.MemoryItem{
		ID:            ids.NewMemoryID([]byte("access:" + string(dup.ID))),
		Content:       []byte(fmt.Sprintf("access: dedup hit against %s", dup.ID)),
		Category:      req.Category,
		Tags:          append(append([]string(nil), req.Tags...), "access"),
		Context:       "dedup hit",
		Scope:         req.Scope,
		OriginMachine: req.OriginMachine,
		OriginAgent:   req.OriginAgent,
		CreatedAt:     now,
		UpdatedAt:     now,
		VectorPending: true,
	}
	if _, err := s.db.Put(ctx, access); err != nil {
		s.log.Error(err, "failed to record access memory on dedup hit", "id", dup.ID)
	}
}

// ApplyReplicated writes a MemoryItem received from a peer's sync round.
// It delegates the version check and conflict resolution to storage.Put
// (spec.md §4.7 step 4: "Application delegates to C1 ... and, for live
// items, to C2"); the vector index is only touched when the applied row
// ends up live, since tombstones carry no vector. The peer doesn't transmit
// embeddings, so a live apply re-embeds content locally.
func (s *Store) ApplyReplicated(ctx context.Context, item model.MemoryItem) error {
	stored, err := s.db.Put(ctx, item)
	if err != nil {
		return err
	}
	if stored.Tombstone {
		return s.index.Remove(ctx, stored.ID)
	}
	if stored.ID != item.ID || stored.Version != item.Version {
		return nil // a newer local write already won; nothing further to index
	}
	vector, err := s.embed.Embed(ctx, stored.Content)
	if err != nil {
		s.log.V(1).Info("replicated item embed failed, leaving vector_pending", "id", stored.ID, "error", err)
		return nil
	}
	if err := s.index.Upsert(ctx, stored.ID, stored.Version, vector); err != nil {
		return err
	}
	if mi, ok := s.index.(*vectorindex.MemoryIndex); ok {
		mi.SetCategory(stored.ID, stored.Category)
	}
	return nil
}

// Get returns a live MemoryItem by id.
func (s *Store) Get(ctx context.Context, id model.ID) (model.MemoryItem, error) {
	return s.db.Get(ctx, id)
}

// Delete tombstones a MemoryItem and removes it from the vector index.
func (s *Store) Delete(ctx context.Context, id model.ID, originMachine string) error {
	if err := s.db.Delete(ctx, id, originMachine); err != nil {
		return err
	}
	return s.index.Remove(ctx, id)
}

// BulkDelete deletes every id, continuing past individual NotFound errors
// and reporting them back rather than aborting the whole batch.
func (s *Store) BulkDelete(ctx context.Context, ids []model.ID, originMachine string) (deleted int, failures map[model.ID]error) {
	failures = make(map[model.ID]error)
	for _, id := range ids {
		if err := s.Delete(ctx, id, originMachine); err != nil {
			failures[id] = err
			continue
		}
		deleted++
	}
	return deleted, failures
}

// SearchRequest is the input to Search.
type SearchRequest struct {
	Query    string
	Category model.Category
	K        int
}

// Result pairs a MemoryItem with its ranked score (spec.md §4.3 ranking
// formula: score = alpha*normalize(vector_score) + beta*keyword_score -
// gamma*age_decay, with age_decay's complement — freshness — following an
// exponential half-life curve).
type Result struct {
	Item  model.MemoryItem
	Score float64
}

// keywordScanLimit bounds how many live category records Search's keyword
// pass inspects, so a large category can't make every search a full scan.
const keywordScanLimit = 500

// Search performs both a vector search (C2) and a keyword match over C1's
// secondary indices, merges the two result sets by id, and ranks the union
// with the three-term formula before returning the top K (spec.md §4.3).
func (s *Store) Search(ctx context.Context, req SearchRequest) ([]Result, error) {
	k := req.K
	if k <= 0 {
		k = 20
	}
	vector, err := s.embed.Embed(ctx, []byte(req.Query))
	if err != nil {
		return nil, model.NewFault(model.FaultEmbeddingFailed, "search embedding", err)
	}

	vecMatches, err := s.index.Search(ctx, vector, k*3, req.Category)
	if err != nil {
		return nil, model.NewFault(model.FaultStorageUnavailable, "vector search", err)
	}
	candidates, err := s.db.Scan(ctx, storage.Filter{Category: req.Category, Limit: keywordScanLimit})
	if err != nil {
		return nil, model.NewFault(model.FaultStorageUnavailable, "keyword scan", err)
	}
	terms := keywordTerms(req.Query)

	alpha, beta, gamma := s.cfg.Ranking.Alpha, s.cfg.Ranking.Beta, s.cfg.Ranking.Gamma
	halfLife := s.cfg.Ranking.HalfLifeDays
	if halfLife <= 0 {
		halfLife = 14
	}
	now := time.Now().UTC()

	// hit accumulates each id's vector and keyword term independently;
	// merging by id this way is what makes the result set "deduplicated by
	// id, keep the higher-scored occurrence" — there is only ever one
	// accumulator per id, so nothing to discard later.
	type hit struct {
		item       model.MemoryItem
		normVector float64
		keyword    float64
	}
	merged := make(map[model.ID]*hit, len(vecMatches)+len(candidates))

	for _, m := range vecMatches {
		item, err := s.db.Get(ctx, m.ID)
		if err != nil {
			continue // vector index entry for a tombstoned/missing record; skip
		}
		normVector := (float64(m.Score) + 1) / 2 // cosine similarity in [-1,1] -> [0,1]
		merged[item.ID] = &hit{item: item, normVector: normVector}
	}
	for _, item := range candidates {
		keyword := keywordScore(terms, item.Content)
		if keyword <= 0 {
			continue
		}
		if existing, ok := merged[item.ID]; ok {
			existing.keyword = keyword
			continue
		}
		merged[item.ID] = &hit{item: item, keyword: keyword}
	}

	out := make([]Result, 0, len(merged))
	for _, h := range merged {
		ageDays := now.Sub(h.item.UpdatedAt).Hours() / 24
		freshness := math.Exp(-math.Ln2 * ageDays / halfLife)
		ageDecay := 1 - freshness
		score := alpha*h.normVector + beta*h.keyword - gamma*ageDecay
		out = append(out, Result{Item: h.item, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].Item.UpdatedAt.Equal(out[j].Item.UpdatedAt) {
			return out[i].Item.UpdatedAt.After(out[j].Item.UpdatedAt)
		}
		return out[i].Item.ID < out[j].Item.ID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// keywordTerms lowercases and splits query into the tokens keywordScore
// matches against item content.
func keywordTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			terms = append(terms, f)
		}
	}
	return terms
}

// keywordScore is the fraction of terms present as a substring of content,
// case-insensitively — a simple, deterministic stand-in for a full-text
// index over C1's secondary indices.
func keywordScore(terms []string, content []byte) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(string(content))
	hits := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

// Stats reports per-category live-record counts, used by
// get_memory_access_stats (SPEC_FULL.md §12).
type Stats struct {
	Counts map[model.Category]int64
	Total  int64
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	out := Stats{Counts: make(map[model.Category]int64, len(model.AllCategories))}
	for _, cat := range model.AllCategories {
		n, err := s.db.Count(ctx, cat)
		if err != nil {
			return Stats{}, err
		}
		out.Counts[cat] = n
		out.Total += n
	}
	published := make(map[string]int64, len(out.Counts))
	for cat, n := range out.Counts {
		published[string(cat)] = n
	}
	metrics.SetMemoryCount(published)
	return out, nil
}

// QuotaHeadroom reports the fraction of maxRecords still free, used to
// trigger the soft quota warning broadcast (SPEC_FULL.md §12).
func (s *Store) QuotaHeadroom(ctx context.Context, maxRecords int64) (float64, error) {
	if maxRecords <= 0 {
		return 1, nil
	}
	stats, err := s.Stats(ctx)
	if err != nil {
		return 0, err
	}
	headroom := 1 - float64(stats.Total)/float64(maxRecords)
	if headroom < 0 {
		headroom = 0
	}
	return headroom, nil
}
