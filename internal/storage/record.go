package storage

import (
	"strings"
	"time"

	"github.com/lancejames221b/agent-hivemind-sub002/internal/model"
)

// record is the GORM row shape for a MemoryItem (C1, spec.md §3). Tags are
// stored as a comma-joined column rather than a join table, matching the
// teacher's flat `metadata TEXT` column for the sqlite-path Memory table.
type record struct {
	ID            string `gorm:"primaryKey;size:32"`
	Content       []byte
	Category      string `gorm:"index:idx_records_category"`
	Tags          string
	Context       string
	Scope         string
	OriginMachine string `gorm:"index:idx_records_origin_machine"`
	OriginAgent   string
	CreatedAt     time.Time
	UpdatedAt     time.Time `gorm:"index:idx_records_updated_at"`
	Version       int64
	Tombstone     bool
	FormatVersion int
	VectorPending bool
}

func (record) TableName() string { return "memory_items" }

func toRecord(m model.MemoryItem) record {
	return record{
		ID:            string(m.ID),
		Content:       m.Content,
		Category:      string(m.Category),
		Tags:          strings.Join(m.Tags, ","),
		Context:       m.Context,
		Scope:         string(m.Scope),
		OriginMachine: m.OriginMachine,
		OriginAgent:   m.OriginAgent,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
		Version:       m.Version,
		Tombstone:     m.Tombstone,
		FormatVersion: m.FormatVersion,
		VectorPending: m.VectorPending,
	}
}

func fromRecord(r record) model.MemoryItem {
	var tags []string
	if r.Tags != "" {
		tags = strings.Split(r.Tags, ",")
	}
	return model.MemoryItem{
		ID:            model.ID(r.ID),
		Content:       r.Content,
		Category:      model.Category(r.Category),
		Tags:          tags,
		Context:       r.Context,
		Scope:         model.Scope(r.Scope),
		OriginMachine: r.OriginMachine,
		OriginAgent:   r.OriginAgent,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		Version:       r.Version,
		Tombstone:     r.Tombstone,
		FormatVersion: r.FormatVersion,
		VectorPending: r.VectorPending,
	}
}

// ruleRecord is the GORM row shape for a governance Rule (C4, spec.md §3).
type ruleRecord struct {
	RuleID             string `gorm:"primaryKey;size:128"`
	Name               string
	Type               string
	Scope              string `gorm:"index:idx_rules_scope"`
	Priority           int
	Status             string `gorm:"index:idx_rules_status"`
	ConditionsJSON      string
	ActionsJSON         string
	ConflictResolution string
	ParentRuleID       string
	EffectiveFrom      *time.Time
	EffectiveUntil     *time.Time
	Version            int64
	DependenciesJSON   string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ChangeType         string
	ChangedBy          string
	ChangeReason       string
}

func (ruleRecord) TableName() string { return "rules" }

// agentRecord is the GORM row shape for a directory entry (C5, spec.md §3).
// The directory keeps its hot path in memory (sync.Map, per DESIGN.md); this
// row exists so registrations and last-seen timestamps survive a restart.
type agentRecord struct {
	AgentID      string `gorm:"primaryKey;size:128"`
	MachineID    string `gorm:"index:idx_agents_machine_id"`
	RolesJSON    string
	CapsJSON     string
	State        string
	LastSeen     time.Time `gorm:"index:idx_agents_last_seen"`
	RegisteredAt time.Time
	Health       string
}

func (agentRecord) TableName() string { return "agents" }

// embeddingRecord is the GORM row shape for one EmbeddingRecord (C2,
// spec.md §3). On postgres the Vector column is typed `vector(N)` via
// pgvector-go's Vector wrapper at the call site; on sqlite it is opaque
// blob bytes the vectorindex package decodes itself, mirroring the
// teacher's F32_BLOB(N)-vs-vector(N) split for the same reason: GORM can't
// express both column types from one struct tag.
type embeddingRecord struct {
	ID      string `gorm:"primaryKey;size:32"`
	Version int64  `gorm:"primaryKey"`
	Vector  []byte
}

func (embeddingRecord) TableName() string { return "embeddings" }
