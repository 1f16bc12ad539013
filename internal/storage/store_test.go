package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lancejames221b/agent-hivemind-sub002/internal/config"
	"github.com/lancejames221b/agent-hivemind-sub002/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mgr, err := Open(&config.Storage{Dialect: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, mgr.Initialize())
	t.Cleanup(func() { _ = mgr.Close() })
	return NewStore(mgr)
}

func sampleItem(id string) model.MemoryItem {
	now := time.Now().UTC()
	return model.MemoryItem{
		ID:            model.ID(id),
		Content:       []byte("deploy runbook v3"),
		Category:      model.CategoryRunbooks,
		Tags:          []string{"deploy", "runbook"},
		Scope:         model.ScopeProject,
		OriginMachine: "machine-a",
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       0,
	}
}

func TestStorePutAssignsInitialVersion(t *testing.T) {
	s := newTestStore(t)
	got, err := s.Put(context.Background(), sampleItem("aaaa"))
	require.NoError(t, err)
	require.EqualValues(t, 1, got.Version)
}

func TestStoreGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), model.ID("missing"))
	f, ok := model.AsFault(err)
	require.True(t, ok)
	require.Equal(t, model.FaultNotFound, f.Kind)
}

func TestStorePutLastWriterWinsByVersion(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	first, err := s.Put(ctx, sampleItem("bbbb"))
	require.NoError(t, err)

	stale := first
	stale.Content = []byte("stale content")
	stale.Version = first.Version // not newer, must lose
	resolved, err := s.Put(ctx, stale)
	require.NoError(t, err)
	require.Equal(t, first.Content, resolved.Content)

	fresh := first
	fresh.Content = []byte("fresher content")
	fresh.Version = first.Version + 5
	resolved, err = s.Put(ctx, fresh)
	require.NoError(t, err)
	require.Equal(t, []byte("fresher content"), resolved.Content)
}

func TestStorePutLastWriterWinsByOriginMachineOnTie(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	first, err := s.Put(ctx, sampleItem("cccc"))
	require.NoError(t, err)

	challenger := first
	challenger.Version = first.Version
	challenger.OriginMachine = "zzz-later-alphabetically"
	challenger.Content = []byte("challenger content")
	resolved, err := s.Put(ctx, challenger)
	require.NoError(t, err)
	require.Equal(t, []byte("challenger content"), resolved.Content)
}

func TestStoreDeleteTombstones(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	item, err := s.Put(ctx, sampleItem("dddd"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, item.ID, "machine-a"))
	_, err = s.Get(ctx, item.ID)
	f, ok := model.AsFault(err)
	require.True(t, ok)
	require.Equal(t, model.FaultNotFound, f.Kind)

	rows, err := s.Scan(ctx, Filter{IncludeTombstones: true})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, rows[0].Tombstone)
}

func TestStoreScanFiltersByCategoryAndTag(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := sampleItem("eeee")
	a.Category = model.CategoryIncidents
	a.Tags = []string{"sev1"}
	b := sampleItem("ffff")
	b.Category = model.CategoryRunbooks
	b.Tags = []string{"deploy"}
	_, err := s.Put(ctx, a)
	require.NoError(t, err)
	_, err = s.Put(ctx, b)
	require.NoError(t, err)

	rows, err := s.Scan(ctx, Filter{Category: model.CategoryIncidents})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, model.ID("eeee"), rows[0].ID)

	rows, err = s.Scan(ctx, Filter{Tag: "deploy"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, model.ID("ffff"), rows[0].ID)
}

func TestStoreSweepExpiredHonorsPerCategoryTTLAndNeverForZero(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	old := sampleItem("gggg")
	old.Category = model.CategoryMonitoring
	old.UpdatedAt = time.Now().UTC().Add(-60 * 24 * time.Hour)
	_, err := s.Put(ctx, old)
	require.NoError(t, err)
	require.NoError(t, s.m.db.Model(&record{}).Where("id = ?", "gggg").
		Update("updated_at", old.UpdatedAt).Error)

	forever := sampleItem("hhhh")
	forever.Category = model.CategoryRunbooks
	forever.UpdatedAt = time.Now().UTC().Add(-999 * 24 * time.Hour)
	_, err = s.Put(ctx, forever)
	require.NoError(t, err)
	require.NoError(t, s.m.db.Model(&record{}).Where("id = ?", "hhhh").
		Update("updated_at", forever.UpdatedAt).Error)

	ttl := map[model.Category]time.Duration{
		model.CategoryMonitoring: 30 * 24 * time.Hour,
		model.CategoryRunbooks:   0,
	}
	expired, _, err := s.SweepExpired(ctx, ttl, 7*24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, expired)

	_, err = s.Get(ctx, model.ID("gggg"))
	require.Error(t, err)
	_, err = s.Get(ctx, model.ID("hhhh"))
	require.NoError(t, err)
}
