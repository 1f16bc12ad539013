package vectorindex

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/lancejames221b/agent-hivemind-sub002/internal/model"
)

// pgEmbedding is the GORM row shape for the postgres-only vector(N) column,
// the same split the teacher draws in internal/database/manager.go between
// its AutoMigrate-able sqlite Memory table and the manually-indexed
// postgres one: pgvector-go's Vector type can't be expressed portably, so
// it lives in its own file, imported only by this backend.
type pgEmbedding struct {
	ID       string `gorm:"primaryKey;size:32"`
	Version  int64  `gorm:"primaryKey"`
	Category string `gorm:"index:idx_pg_embeddings_category"`
	Vector   pgvector.Vector `gorm:"type:vector(1536)"`
}

func (pgEmbedding) TableName() string { return "vector_embeddings" }

// PostgresIndex stores vectors in a pgvector HNSW-indexed column and
// delegates nearest-neighbor search to `<=>` (cosine distance).
type PostgresIndex struct {
	db *gorm.DB
}

// NewPostgresIndex wraps db, which must already have had
// storage.Manager.Initialize create the vector extension and HNSW index.
func NewPostgresIndex(db *gorm.DB) (*PostgresIndex, error) {
	if err := db.AutoMigrate(&pgEmbedding{}); err != nil {
		return nil, fmt.Errorf("automigrate vector_embeddings: %w", err)
	}
	idx := `CREATE INDEX IF NOT EXISTS idx_vector_embeddings_hnsw ON vector_embeddings USING hnsw (vector vector_cosine_ops)`
	if err := db.Exec(idx).Error; err != nil {
		return nil, fmt.Errorf("create hnsw index: %w", err)
	}
	return &PostgresIndex{db: db}, nil
}

func (p *PostgresIndex) Upsert(ctx context.Context, id model.ID, version int64, vector []float32) error {
	row := pgEmbedding{ID: string(id), Version: version, Vector: pgvector.NewVector(vector)}
	return p.db.WithContext(ctx).Save(&row).Error
}

// UpsertWithCategory is the category-aware entry point memory.Store uses;
// Upsert alone exists to satisfy the Index interface for callers that
// resolve category separately.
func (p *PostgresIndex) UpsertWithCategory(ctx context.Context, id model.ID, version int64, category model.Category, vector []float32) error {
	row := pgEmbedding{ID: string(id), Version: version, Category: string(category), Vector: pgvector.NewVector(vector)}
	return p.db.WithContext(ctx).Save(&row).Error
}

func (p *PostgresIndex) Remove(ctx context.Context, id model.ID) error {
	return p.db.WithContext(ctx).Where("id = ?", string(id)).Delete(&pgEmbedding{}).Error
}

func (p *PostgresIndex) Search(ctx context.Context, query []float32, k int, category model.Category) ([]Match, error) {
	if k <= 0 {
		k = 20
	}
	q := p.db.WithContext(ctx).Model(&pgEmbedding{})
	if category != "" {
		q = q.Where("category = ?", string(category))
	}

	var rows []struct {
		ID       string
		Version  int64
		Distance float64
	}
	err := q.Select("id, version, vector <=> ? AS distance", pgvector.NewVector(query)).
		Order("distance ASC").
		Limit(k).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("pgvector search: %w", err)
	}

	out := make([]Match, 0, len(rows))
	for _, r := range rows {
		// cosine distance = 1 - cosine similarity for pgvector's `<=>` operator
		out = append(out, Match{ID: model.ID(r.ID), Version: r.Version, Score: float32(1 - r.Distance)})
	}
	return out, nil
}

func (p *PostgresIndex) Rebuild(ctx context.Context, records []model.EmbeddingRecord, categoryOf func(model.ID) model.Category) error {
	for _, r := range records {
		if err := p.UpsertWithCategory(ctx, r.ID, r.Version, categoryOf(r.ID), r.Vector); err != nil {
			return err
		}
	}
	return nil
}
