// Package config loads the nested fabric configuration via viper, the way
// kagent-dev-kagent's cli/internal/config package unmarshals CLI config:
// Get() returns a typed struct built from whatever viper currently holds,
// with durations accepted as either time.Duration or a parseable string.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/lancejames221b/agent-hivemind-sub002/internal/model"
)

// Storage holds C1 configuration (spec.md §6 "storage.*").
type Storage struct {
	Path             string        `mapstructure:"path"`
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
	Dialect          string        `mapstructure:"dialect"` // "sqlite" | "postgres"
	PostgresURL      string        `mapstructure:"postgres_url"`
}

// Vector holds C2 configuration (spec.md §6 "vector.*").
type Vector struct {
	KDefault int `mapstructure:"k_default"`
	Dimension int `mapstructure:"dimension"`
}

// Ranking holds the ranking formula weights (spec.md §4.3).
type Ranking struct {
	Alpha        float64 `mapstructure:"alpha"`
	Beta         float64 `mapstructure:"beta"`
	Gamma        float64 `mapstructure:"gamma"`
	HalfLifeDays float64 `mapstructure:"half_life_days"`
}

// Memory holds C3 configuration (spec.md §6 "memory.*").
type Memory struct {
	CategoryTTL      map[model.Category]time.Duration `mapstructure:"category_ttl"`
	DedupSimilarity  map[model.Category]float64       `mapstructure:"dedup_similarity"`
	Ranking          Ranking                          `mapstructure:"ranking"`
	MaxContentBytes  int                               `mapstructure:"max_content_bytes"`
}

// BroadcastRetry holds C6's backoff schedule (spec.md §4.6).
type BroadcastRetry struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BackoffBaseMs  int           `mapstructure:"backoff_base_ms"`
	BackoffCapS    int           `mapstructure:"backoff_cap_s"`
}

// Coord holds C6 configuration (spec.md §6 "coord.*").
type Coord struct {
	InboxCap       int            `mapstructure:"inbox_cap"`
	BroadcastRetry BroadcastRetry `mapstructure:"broadcast_retry"`
	QueryWindow    time.Duration  `mapstructure:"query_window"`
	NATSURL        string         `mapstructure:"nats_url"`
}

// Directory holds C5 configuration (spec.md §6 "directory.*").
type Directory struct {
	AgentTTL time.Duration `mapstructure:"agent_ttl_s"`
}

// Sync holds C7 configuration (spec.md §6 "sync.*").
type Sync struct {
	IntervalS          time.Duration `mapstructure:"interval_s"`
	MaxRecordsPerRound int           `mapstructure:"max_records_per_round"`
	PeerTimeoutS       time.Duration `mapstructure:"peer_timeout_s"`
	RetentionHorizon   time.Duration `mapstructure:"retention_horizon"`
	MaxLag             int           `mapstructure:"max_lag"`
	ProjectTag         string        `mapstructure:"project_tag"`
	Peers              []string      `mapstructure:"peers"`
	ListenAddr         string        `mapstructure:"listen_addr"`
}

// Transport holds C8 configuration (spec.md §6 "transport.*").
type Transport struct {
	SessionTimeoutS   time.Duration `mapstructure:"session_timeout_s"`
	IdleThresholdS    time.Duration `mapstructure:"idle_threshold_s"`
	RecoveryHorizonS  time.Duration `mapstructure:"recovery_horizon_s"`
	PerCallTimeoutS   time.Duration `mapstructure:"per_call_timeout_s"`
	Addr              string        `mapstructure:"addr"`
}

// Rules holds C4 configuration (spec.md §6 "rules.*").
type Rules struct {
	ConflictDefault     model.ConflictResolution `mapstructure:"conflict_default"`
	EffectiveClockSkewS time.Duration            `mapstructure:"effective_clock_skew_s"`
}

// Config is the full nested fabric configuration (spec.md §6).
type Config struct {
	MachineID string    `mapstructure:"machine_id"`
	Storage   Storage   `mapstructure:"storage"`
	Vector    Vector    `mapstructure:"vector"`
	Memory    Memory    `mapstructure:"memory"`
	Sync      Sync      `mapstructure:"sync"`
	Directory Directory `mapstructure:"directory"`
	Coord     Coord     `mapstructure:"coord"`
	Transport Transport `mapstructure:"transport"`
	Rules     Rules     `mapstructure:"rules"`
}

// RetentionDefaults is the explicit per-category retention matrix chosen to
// resolve spec.md §9's first open question (see SPEC_FULL.md §13). Operators
// override any entry via memory.category_ttl.
func RetentionDefaults() map[model.Category]time.Duration {
	day := 24 * time.Hour
	return map[model.Category]time.Duration{
		model.CategoryGlobal:         0, // never expires
		model.CategoryProject:        180 * day,
		model.CategoryInfrastructure: 90 * day,
		model.CategoryIncidents:      365 * day,
		model.CategoryDeployments:    120 * day,
		model.CategoryMonitoring:     30 * day,
		model.CategoryRunbooks:       0, // never expires
		model.CategorySecurity:       365 * day,
		model.CategoryAgent:          14 * day,
		model.CategoryRuleAudit:      90 * day,
	}
}

// DedupDefaults is the per-category near-duplicate cosine-similarity
// threshold (spec.md §4.3: "configurable but deterministic per category").
func DedupDefaults() map[model.Category]float64 {
	out := make(map[model.Category]float64, len(model.AllCategories))
	for _, c := range model.AllCategories {
		out[c] = 0.97
	}
	return out
}

// Defaults returns a Config populated with every documented default from
// spec.md §6.
func Defaults() *Config {
	return &Config{
		MachineID: "",
		Storage: Storage{
			Path:             "./data/hivemind.db",
			SnapshotInterval: 5 * time.Minute,
			Dialect:          "sqlite",
		},
		Vector: Vector{KDefault: 20, Dimension: 1536},
		Memory: Memory{
			CategoryTTL:     RetentionDefaults(),
			DedupSimilarity: DedupDefaults(),
			Ranking:         Ranking{Alpha: 0.6, Beta: 0.3, Gamma: 0.1, HalfLifeDays: 14},
			MaxContentBytes: 1 << 20, // 1 MiB minus framing is enforced at the transport edge
		},
		Sync: Sync{
			IntervalS:          30 * time.Second,
			MaxRecordsPerRound: 500,
			PeerTimeoutS:       10 * time.Second,
			RetentionHorizon:   7 * 24 * time.Hour,
			MaxLag:             10000,
			ListenAddr:         ":8998",
		},
		Directory: Directory{AgentTTL: 120 * time.Second},
		Coord: Coord{
			InboxCap: 10000,
			BroadcastRetry: BroadcastRetry{
				MaxAttempts:   10,
				BackoffBaseMs: 500,
				BackoffCapS:   3600,
			},
			QueryWindow: 30 * time.Second,
		},
		Transport: Transport{
			SessionTimeoutS:  30 * time.Minute,
			IdleThresholdS:   5 * time.Minute,
			RecoveryHorizonS: 5 * time.Minute,
			PerCallTimeoutS:  60 * time.Second,
			Addr:             ":8999",
		},
		Rules: Rules{
			ConflictDefault:     model.ConflictHighestPriority,
			EffectiveClockSkewS: 5 * time.Second,
		},
	}
}

// Get unmarshals whatever v currently holds into a Config, starting from
// Defaults() so unset keys keep their documented default. Mirrors
// kagent's cli/internal/config.Get(): a thin typed view over viper state.
func Get(v *viper.Viper) (*Config, error) {
	cfg := Defaults()
	if v == nil {
		v = viper.GetViper()
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// BindDefaults sets every Defaults() value onto v so flags/env take
// precedence while unset keys are still enumerated (useful for `--help`
// and for config-file scaffolding).
func BindDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("machine_id", d.MachineID)
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.snapshot_interval", d.Storage.SnapshotInterval)
	v.SetDefault("storage.dialect", d.Storage.Dialect)
	v.SetDefault("vector.k_default", d.Vector.KDefault)
	v.SetDefault("vector.dimension", d.Vector.Dimension)
	v.SetDefault("memory.ranking.alpha", d.Memory.Ranking.Alpha)
	v.SetDefault("memory.ranking.beta", d.Memory.Ranking.Beta)
	v.SetDefault("memory.ranking.gamma", d.Memory.Ranking.Gamma)
	v.SetDefault("memory.ranking.half_life_days", d.Memory.Ranking.HalfLifeDays)
	v.SetDefault("memory.max_content_bytes", d.Memory.MaxContentBytes)
	v.SetDefault("sync.interval_s", d.Sync.IntervalS)
	v.SetDefault("sync.max_records_per_round", d.Sync.MaxRecordsPerRound)
	v.SetDefault("sync.peer_timeout_s", d.Sync.PeerTimeoutS)
	v.SetDefault("sync.listen_addr", d.Sync.ListenAddr)
	v.SetDefault("directory.agent_ttl_s", d.Directory.AgentTTL)
	v.SetDefault("coord.inbox_cap", d.Coord.InboxCap)
	v.SetDefault("coord.broadcast_retry.max_attempts", d.Coord.BroadcastRetry.MaxAttempts)
	v.SetDefault("coord.broadcast_retry.backoff_base_ms", d.Coord.BroadcastRetry.BackoffBaseMs)
	v.SetDefault("coord.broadcast_retry.backoff_cap_s", d.Coord.BroadcastRetry.BackoffCapS)
	v.SetDefault("transport.session_timeout_s", d.Transport.SessionTimeoutS)
	v.SetDefault("transport.idle_threshold_s", d.Transport.IdleThresholdS)
	v.SetDefault("transport.recovery_horizon_s", d.Transport.RecoveryHorizonS)
	v.SetDefault("transport.per_call_timeout_s", d.Transport.PerCallTimeoutS)
	v.SetDefault("transport.addr", d.Transport.Addr)
	v.SetDefault("rules.conflict_default", string(d.Rules.ConflictDefault))
	v.SetDefault("rules.effective_clock_skew_s", d.Rules.EffectiveClockSkewS)
}
