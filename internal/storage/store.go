package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/lancejames221b/agent-hivemind-sub002/internal/model"
)

// Store is the C1 surface used by every higher component: put/get/delete/
// scan over MemoryItem with optimistic version checks and last-writer-wins
// conflict resolution by (version, origin_machine) (spec.md §4.2, §8
// invariant 2).
type Store struct {
	m *Manager
}

func NewStore(m *Manager) *Store { return &Store{m: m} }

// Filter narrows Scan to a subset of live records. Zero-value fields are
// not applied.
type Filter struct {
	Category      model.Category
	Tag           string
	OriginMachine string
	UpdatedSince  time.Time
	IncludeTombstones bool
	Limit         int
}

// Put inserts or updates a MemoryItem. If an existing row has the same ID
// with a version >= item.Version, Put resolves the conflict by
// last-writer-wins on (version, origin_machine) lexicographic tiebreak
// (spec.md §4.2) rather than failing outright — VersionConflict is reserved
// for a caller that expected to overwrite an up-to-date row it hasn't seen.
//
// item.Version is honored verbatim when the caller already set one (a
// replicated apply carrying the origin's own version, or a local write that
// already read-and-incremented the current version); it is only synthesized
// here when item.Version == 0, i.e. a brand-new local write. This keeps a
// replicated record's stored version equal to the version its
// origin_machine vector-clock entry advances to (spec.md §3, §8 invariant:
// applying the same sync batch twice must yield the same storage state).
func (s *Store) Put(ctx context.Context, item model.MemoryItem) (model.MemoryItem, error) {
	return s.put(ctx, item, false, 0)
}

// PutExpectingVersion behaves like Put but returns VersionConflict if the
// stored row's version has advanced past expectedVersion, instead of
// silently resolving via LWW. Used by callers (e.g. delete-by-id) that must
// observe a write race rather than merge through it.
func (s *Store) PutExpectingVersion(ctx context.Context, item model.MemoryItem, expectedVersion int64) (model.MemoryItem, error) {
	return s.put(ctx, item, true, expectedVersion)
}

func (s *Store) put(ctx context.Context, item model.MemoryItem, strict bool, expectedVersion int64) (model.MemoryItem, error) {
	var out model.MemoryItem
	err := s.m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing record
		err := tx.Where("id = ?", string(item.ID)).Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if item.Version == 0 {
				item.Version = 1
			}
			out = item
			return tx.Create(toRecord(item)).Error
		case err != nil:
			return model.NewFault(model.FaultStorageUnavailable, "read existing record", err)
		}

		current := fromRecord(existing)
		if strict && expectedVersion < current.Version {
			return model.NewFault(model.FaultVersionConflict, "stale version on strict write", nil)
		}
		if winner, ok := lww(current, item); ok {
			if winner.Version == 0 {
				winner.Version = current.Version + 1
			}
			out = winner
			return tx.Save(toRecord(winner)).Error
		}
		// current wins; report it back unchanged so the caller's cache stays coherent.
		out = current
		return nil
	})
	if err != nil {
		if _, ok := model.AsFault(err); ok {
			return model.MemoryItem{}, err
		}
		return model.MemoryItem{}, model.NewFault(model.FaultStorageUnavailable, "put", err)
	}
	return out, nil
}

// lww resolves a concurrent write by comparing (version, origin_machine)
// lexicographically — the higher pair wins, incoming ties broken by its own
// origin_machine string sorting after the stored one (spec.md §4.2).
func lww(current, incoming model.MemoryItem) (model.MemoryItem, bool) {
	if incoming.Version > current.Version {
		return incoming, true
	}
	if incoming.Version == current.Version && incoming.OriginMachine > current.OriginMachine {
		return incoming, true
	}
	return model.MemoryItem{}, false
}

// Get returns a live (non-tombstoned) MemoryItem by id.
func (s *Store) Get(ctx context.Context, id model.ID) (model.MemoryItem, error) {
	var r record
	err := s.m.db.WithContext(ctx).Where("id = ? AND tombstone = ?", string(id), false).Take(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.MemoryItem{}, model.NewFault(model.FaultNotFound, string(id), nil)
	}
	if err != nil {
		return model.MemoryItem{}, model.NewFault(model.FaultStorageUnavailable, "get", err)
	}
	return fromRecord(r), nil
}

// Delete tombstones a MemoryItem rather than physically removing it,
// leaving a linger record for sync to reconcile against peers that haven't
// yet seen the delete (spec.md §4.7 "tombstone_linger").
func (s *Store) Delete(ctx context.Context, id model.ID, originMachine string) error {
	item, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	item.Tombstone = true
	item.UpdatedAt = time.Now().UTC()
	item.OriginMachine = originMachine
	item.Version++
	_, err = s.Put(ctx, item)
	return err
}

// Scan lists live records matching f, newest-first.
func (s *Store) Scan(ctx context.Context, f Filter) ([]model.MemoryItem, error) {
	q := s.m.db.WithContext(ctx).Model(&record{})
	if !f.IncludeTombstones {
		q = q.Where("tombstone = ?", false)
	}
	if f.Category != "" {
		q = q.Where("category = ?", string(f.Category))
	}
	if f.OriginMachine != "" {
		q = q.Where("origin_machine = ?", f.OriginMachine)
	}
	if !f.UpdatedSince.IsZero() {
		q = q.Where("updated_at >= ?", f.UpdatedSince)
	}
	if f.Tag != "" {
		q = q.Where("tags LIKE ?", "%"+f.Tag+"%")
	}
	q = q.Order("updated_at DESC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var rows []record
	if err := q.Find(&rows).Error; err != nil {
		return nil, model.NewFault(model.FaultStorageUnavailable, "scan", err)
	}
	out := make([]model.MemoryItem, 0, len(rows))
	for _, r := range rows {
		item := fromRecord(r)
		if f.Tag != "" && !containsTag(item.Tags, f.Tag) {
			continue // LIKE is a prefilter; confirm exact tag membership
		}
		out = append(out, item)
	}
	return out, nil
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// SweepExpired tombstones live records whose category TTL (ttl[cat]) has
// elapsed since UpdatedAt, and physically purges tombstones older than
// lingerAfter (spec.md §9's retention/tombstone-linger resolution, recorded
// in SPEC_FULL.md §13). A zero TTL means "never expires" and is skipped.
func (s *Store) SweepExpired(ctx context.Context, ttl map[model.Category]time.Duration, lingerAfter time.Duration) (expired, purged int, err error) {
	now := time.Now().UTC()
	for cat, d := range ttl {
		if d <= 0 {
			continue
		}
		cutoff := now.Add(-d)
		res := s.m.db.WithContext(ctx).Model(&record{}).
			Where("category = ? AND tombstone = ? AND updated_at < ?", string(cat), false, cutoff).
			Updates(map[string]any{"tombstone": true, "updated_at": now})
		if res.Error != nil {
			return expired, purged, model.NewFault(model.FaultStorageUnavailable, "sweep expire", res.Error)
		}
		expired += int(res.RowsAffected)
	}

	purgeCutoff := now.Add(-lingerAfter)
	res := s.m.db.WithContext(ctx).Where("tombstone = ? AND updated_at < ?", true, purgeCutoff).Delete(&record{})
	if res.Error != nil {
		return expired, purged, model.NewFault(model.FaultStorageUnavailable, "sweep purge", res.Error)
	}
	purged = int(res.RowsAffected)
	return expired, purged, nil
}

// LogSince returns every record (including tombstones) whose
// (origin_machine, version) is strictly newer than clock's entry for that
// origin, ordered by (origin_machine, version) and capped at limit
// (spec.md §4.7 step 3). Entries from origins absent from clock are treated
// as starting at version 0, i.e. fully included.
func (s *Store) LogSince(ctx context.Context, clock map[string]int64, limit int) ([]model.MemoryItem, error) {
	q := s.m.db.WithContext(ctx).Model(&record{}).Order("origin_machine ASC, version ASC")
	var rows []record
	if err := q.Find(&rows).Error; err != nil {
		return nil, model.NewFault(model.FaultStorageUnavailable, "log since", err)
	}
	out := make([]model.MemoryItem, 0, len(rows))
	for _, r := range rows {
		item := fromRecord(r)
		if item.Version > clock[item.OriginMachine] {
			out = append(out, item)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count reports the number of live records, used by memory.Stats and the
// quota-headroom monitor (SPEC_FULL.md §12).
func (s *Store) Count(ctx context.Context, category model.Category) (int64, error) {
	q := s.m.db.WithContext(ctx).Model(&record{}).Where("tombstone = ?", false)
	if category != "" {
		q = q.Where("category = ?", string(category))
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, model.NewFault(model.FaultStorageUnavailable, "count", err)
	}
	return n, nil
}
