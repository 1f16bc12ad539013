// Package storage implements C1, the version-store: a dual-dialect GORM
// backend (sqlite for a single node, postgres for a node that also wants
// pgvector) providing put/get/delete/scan over MemoryItem, plus the
// secondary tables rules and directory persist into. Grounded on
// kagent-dev-kagent's internal/database.Manager (same DatabaseType switch,
// same AutoMigrate-then-manual-index shape for the vector column).
package storage

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/lancejames221b/agent-hivemind-sub002/internal/config"
)

// Dialect is the closed set of backends Manager can open.
type Dialect string

const (
	DialectSqlite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Manager owns the *gorm.DB connection and schema lifecycle.
type Manager struct {
	db       *gorm.DB
	dialect  Dialect
	initLock sync.Mutex
}

// Open connects according to cfg.Storage.Dialect. A postgres_url of the
// form "file:<path>" is resolved by reading the URL from that file, mirroring
// the teacher's resolveURLFile helper for mounted-secret database URLs.
func Open(cfg *config.Storage) (*Manager, error) {
	gormCfg := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	}

	var db *gorm.DB
	var err error
	dialect := Dialect(cfg.Dialect)
	switch dialect {
	case DialectSqlite, "":
		dialect = DialectSqlite
		path := cfg.Path
		if path == "" {
			path = "./data/hivemind.db"
		}
		db, err = gorm.Open(sqlite.Open(path), gormCfg)
	case DialectPostgres:
		url := cfg.PostgresURL
		if strings.HasPrefix(url, "file:") {
			resolved, rerr := resolveURLFile(strings.TrimPrefix(url, "file:"))
			if rerr != nil {
				return nil, fmt.Errorf("resolve postgres url: %w", rerr)
			}
			url = resolved
		}
		db, err = gorm.Open(postgres.Open(url), gormCfg)
	default:
		return nil, fmt.Errorf("invalid storage dialect: %s", cfg.Dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	return &Manager{db: db, dialect: dialect}, nil
}

// Initialize runs AutoMigrate for every model and, on postgres, creates the
// pgvector extension plus the HNSW index that GORM struct tags cannot
// express (same two-step dance as the teacher's Initialize).
func (m *Manager) Initialize() error {
	if err := m.db.AutoMigrate(&record{}, &ruleRecord{}, &agentRecord{}); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}

	if m.dialect == DialectPostgres {
		if err := m.db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("create vector extension: %w", err)
		}
		if err := m.db.AutoMigrate(&embeddingRecord{}); err != nil {
			return fmt.Errorf("automigrate embeddings: %w", err)
		}
		idx := `CREATE INDEX IF NOT EXISTS idx_embeddings_vector_hnsw ON embeddings USING hnsw (vector vector_cosine_ops)`
		if err := m.db.Exec(idx).Error; err != nil {
			return fmt.Errorf("create hnsw index: %w", err)
		}
	} else {
		// sqlite has no vector extension; vectorindex keeps embeddings
		// in-process and rebuilds them from this table on startup.
		if err := m.db.AutoMigrate(&embeddingRecord{}); err != nil {
			return fmt.Errorf("automigrate embeddings: %w", err)
		}
	}
	return nil
}

// Reset drops and, if recreate is true, recreates every managed table.
func (m *Manager) Reset(recreate bool) error {
	if !m.initLock.TryLock() {
		return fmt.Errorf("reset already in progress")
	}
	defer m.initLock.Unlock()

	if err := m.db.Migrator().DropTable(&record{}, &ruleRecord{}, &agentRecord{}, &embeddingRecord{}); err != nil {
		return fmt.Errorf("drop tables: %w", err)
	}
	if recreate {
		return m.Initialize()
	}
	return nil
}

// Close releases the underlying connection.
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Dialect reports which backend this Manager opened.
func (m *Manager) Dialect() Dialect { return m.dialect }

// DB returns the underlying connection so sibling stores (rules, the
// postgres vector index) can share it instead of opening their own.
func (m *Manager) DB() *gorm.DB { return m.db }

func resolveURLFile(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading url file: %w", err)
	}
	url := strings.TrimSpace(string(content))
	if url == "" {
		return "", fmt.Errorf("url file %s is empty", path)
	}
	return url, nil
}
