package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/lancejames221b/agent-hivemind-sub002/internal/model"
)

// row is the GORM shape for a Rule. Conditions/Actions/Dependencies are
// stored as JSON columns, the same flattening kagent uses for its sqlite
// `metadata TEXT` column rather than a normalized join table.
type row struct {
	RuleID             string `gorm:"primaryKey;size:128"`
	Name               string
	Type               string
	Scope              string `gorm:"index:idx_rule_rows_scope"`
	Priority           int
	Status             string `gorm:"index:idx_rule_rows_status"`
	ConditionsJSON     string
	ActionsJSON        string
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

func (row) TableName() string { return "rules" }

func toRow(r model.Rule) (row, error) {
	cond, err := json.Marshal(r.Conditions)
	if err != nil {
		return row{}, err
	}
	act, err := json.Marshal(r.Actions)
	if err != nil {
		return row{}, err
	}
	deps, err := json.Marshal(r.Dependencies)
	if err != nil {
		return row{}, err
	}
	return row{
		RuleID: r.RuleID, Name: r.Name, Type: r.Type, Scope: string(r.Scope),
		Priority: r.Priority, Status: string(r.Status),
		ConditionsJSON: string(cond), ActionsJSON: string(act),
		ConflictResolution: string(r.ConflictResolution), ParentRuleID: r.ParentRuleID,
		EffectiveFrom: r.EffectiveFrom, EffectiveUntil: r.EffectiveUntil,
		Version: r.Version, DependenciesJSON: string(deps),
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
		ChangeType: r.ChangeType, ChangedBy: r.ChangedBy, ChangeReason: r.ChangeReason,
	}, nil
}

func fromRow(r row) (model.Rule, error) {
	var conditions []model.Condition
	var actions []model.Action
	var deps []model.RuleDependency
	if r.ConditionsJSON != "" {
		if err := json.Unmarshal([]byte(r.ConditionsJSON), &conditions); err != nil {
			return model.Rule{}, err
		}
	}
	if r.ActionsJSON != "" {
		if err := json.Unmarshal([]byte(r.ActionsJSON), &actions); err != nil {
			return model.Rule{}, err
		}
	}
	if r.DependenciesJSON != "" {
		if err := json.Unmarshal([]byte(r.DependenciesJSON), &deps); err != nil {
			return model.Rule{}, err
		}
	}
	return model.Rule{
		RuleID: r.RuleID, Name: r.Name, Type: r.Type, Scope: model.RuleScope(r.Scope),
		Priority: r.Priority, Status: model.RuleStatus(r.Status),
		Conditions: conditions, Actions: actions,
		ConflictResolution: model.ConflictResolution(r.ConflictResolution), ParentRuleID: r.ParentRuleID,
		EffectiveFrom: r.EffectiveFrom, EffectiveUntil: r.EffectiveUntil,
		Version: r.Version, Dependencies: deps,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
		ChangeType: r.ChangeType, ChangedBy: r.ChangedBy, ChangeReason: r.ChangeReason,
	}, nil
}

// Store persists Rule records and serves the candidate set an Engine
// evaluates against.
type Store struct {
	db *gorm.DB
}

// NewStore opens a rules table on db (the same *gorm.DB storage.Manager
// already migrated the memory_items table onto).
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&row{}); err != nil {
		return nil, fmt.Errorf("automigrate rules: %w", err)
	}
	return &Store{db: db}, nil
}

// Get returns a rule by id regardless of status.
func (s *Store) Get(ctx context.Context, ruleID string) (model.Rule, error) {
	var r row
	if err := s.db.WithContext(ctx).Where("rule_id = ?", ruleID).Take(&r).Error; err != nil {
		return model.Rule{}, model.NewFault(model.FaultNotFound, ruleID, err)
	}
	return fromRow(r)
}

// Put creates or updates a rule, bumping its version and recording the
// change (spec.md §4.4 "update creates a new version with a change
// record"). Activation (status -> active) runs dependency validation first.
func (s *Store) Put(ctx context.Context, r model.Rule, changeType, changedBy, reason string) (model.Rule, error) {
	now := time.Now().UTC()
	existing, err := s.Get(ctx, r.RuleID)
	if err == nil {
		r.Version = existing.Version + 1
		r.CreatedAt = existing.CreatedAt
	} else {
		r.Version = 1
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	r.ChangeType, r.ChangedBy, r.ChangeReason = changeType, changedBy, reason

	if r.Status == model.RuleStatusActive {
		if err := s.validateDependencies(ctx, r); err != nil {
			return model.Rule{}, err
		}
	}

	rr, err := toRow(r)
	if err != nil {
		return model.Rule{}, model.NewFault(model.FaultInvalidParameters, "encode rule", err)
	}
	if err := s.db.WithContext(ctx).Save(&rr).Error; err != nil {
		return model.Rule{}, model.NewFault(model.FaultStorageUnavailable, "put rule", err)
	}
	return r, nil
}

// validateDependencies rejects activation when a `requires` edge points at
// a rule that is not itself active, or when the full requires-graph
// (including r) contains a cycle (spec.md §4.4, §9).
func (s *Store) validateDependencies(ctx context.Context, r model.Rule) error {
	for _, dep := range r.Dependencies {
		if dep.Kind != model.DependencyRequires {
			continue
		}
		target, err := s.Get(ctx, dep.RuleID)
		if err != nil || target.Status != model.RuleStatusActive {
			return model.NewFault(model.FaultUnmetDependency, dep.RuleID, nil)
		}
	}

	all, err := s.allRequiresEdges(ctx, r)
	if err != nil {
		return err
	}
	if hasCycle(all, r.RuleID) {
		return model.NewFault(model.FaultUnmetDependency, "cycle detected involving "+r.RuleID, nil)
	}
	return nil
}

// allRequiresEdges loads the full requires-graph reachable from r, with r's
// own (possibly not-yet-persisted) edges substituted in.
func (s *Store) allRequiresEdges(ctx context.Context, r model.Rule) (map[string][]string, error) {
	var rows []row
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, model.NewFault(model.FaultStorageUnavailable, "load rules for cycle check", err)
	}
	graph := make(map[string][]string, len(rows)+1)
	for _, rr := range rows {
		rule, err := fromRow(rr)
		if err != nil {
			continue
		}
		graph[rule.RuleID] = requiresTargets(rule)
	}
	graph[r.RuleID] = requiresTargets(r)
	return graph, nil
}

func requiresTargets(r model.Rule) []string {
	var out []string
	for _, d := range r.Dependencies {
		if d.Kind == model.DependencyRequires {
			out = append(out, d.RuleID)
		}
	}
	return out
}

// hasCycle reports whether the requires-graph contains a cycle reachable
// from start, via DFS with a recursion-stack set.
func hasCycle(graph map[string][]string, start string) bool {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var visit func(string) bool
	visit = func(node string) bool {
		visited[node] = true
		onStack[node] = true
		for _, next := range graph[node] {
			if onStack[next] {
				return true
			}
			if !visited[next] && visit(next) {
				return true
			}
		}
		onStack[node] = false
		return false
	}
	return visit(start)
}

// AllSince returns every rule whose version is strictly newer than clock's
// entry for its rule_id, ordered by rule_id then version, capped at limit.
// Used by C7's sync round to replicate governance state alongside data
// (spec.md §4.7 "For rules, application delegates to C4").
func (s *Store) AllSince(ctx context.Context, clock map[string]int64, limit int) ([]model.Rule, error) {
	var rows []row
	if err := s.db.WithContext(ctx).Order("rule_id ASC, version ASC").Find(&rows).Error; err != nil {
		return nil, model.NewFault(model.FaultStorageUnavailable, "load rules for sync", err)
	}
	out := make([]model.Rule, 0, len(rows))
	for _, rr := range rows {
		if rr.Version <= clock[rr.RuleID] {
			continue
		}
		rule, err := fromRow(rr)
		if err != nil {
			continue
		}
		out = append(out, rule)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ApplyReplicated writes a rule received from a peer's sync round verbatim,
// skipping Put's own version-bump so the peer's version number survives
// unchanged. Last-writer-wins: a local version >= the incoming one is kept.
func (s *Store) ApplyReplicated(ctx context.Context, r model.Rule) error {
	existing, err := s.Get(ctx, r.RuleID)
	if err == nil && existing.Version >= r.Version {
		return nil
	}
	if r.Status == model.RuleStatusActive {
		if err := s.validateDependencies(ctx, r); err != nil {
			return err
		}
	}
	rr, err := toRow(r)
	if err != nil {
		return model.NewFault(model.FaultInvalidParameters, "encode replicated rule", err)
	}
	if err := s.db.WithContext(ctx).Save(&rr).Error; err != nil {
		return model.NewFault(model.FaultStorageUnavailable, "apply replicated rule", err)
	}
	return nil
}

// ActiveForContext returns every rule matching step 1 of spec.md §4.4:
// status=active, time within [effective_from, effective_until] (within
// clockSkew tolerance), and scope applicable to ic's hierarchy (a rule
// scoped to "agent" applies only when ic.AgentID is set, etc. — global
// rules always apply).
func (s *Store) ActiveForContext(ctx context.Context, ic model.InvocationContext, clockSkew time.Duration) ([]model.Rule, error) {
	var rows []row
	if err := s.db.WithContext(ctx).Where("status = ?", string(model.RuleStatusActive)).Find(&rows).Error; err != nil {
		return nil, model.NewFault(model.FaultStorageUnavailable, "load active rules", err)
	}

	now := ic.Time
	if now.IsZero() {
		now = time.Now().UTC()
	}

	out := make([]model.Rule, 0, len(rows))
	for _, rr := range rows {
		rule, err := fromRow(rr)
		if err != nil {
			continue
		}
		if rule.EffectiveFrom != nil && now.Before(rule.EffectiveFrom.Add(-clockSkew)) {
			continue
		}
		if rule.EffectiveUntil != nil && now.After(rule.EffectiveUntil.Add(clockSkew)) {
			continue
		}
		if !scopeApplies(rule.Scope, ic) {
			continue
		}
		out = append(out, rule)
	}
	return out, nil
}

func scopeApplies(scope model.RuleScope, ic model.InvocationContext) bool {
	switch scope {
	case model.RuleScopeGlobal:
		return true
	case model.RuleScopeProject:
		return ic.ProjectID != ""
	case model.RuleScopeMachine:
		return ic.MachineID != ""
	case model.RuleScopeAgent:
		return ic.AgentID != ""
	case model.RuleScopeSession:
		return ic.SessionID != ""
	default:
		return false
	}
}
