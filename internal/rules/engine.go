// Package rules implements C4: scoped, versioned governance rules
// evaluated against an invocation context before a tool call is allowed to
// proceed. No teacher module implements a rule engine directly; the
// evaluation pipeline borrows kagent's ordered-middleware-with-block
// short-circuit shape (internal/mcp's request handling chain applies
// interceptors in priority order and stops on the first hard failure) and
// generalizes it to declarative conditions/actions instead of Go code.
package rules

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/lancejames221b/agent-hivemind-sub002/internal/model"
)

// SemanticMatcher is the seam for the "semantic" ConditionOp, backed by
// embeddings.SemanticClassifier. Optional: nil means "semantic" conditions
// never match, which is a safe default for an installation without an
// ANTHROPIC_API_KEY.
type SemanticMatcher interface {
	Matches(ctx context.Context, content, want string) (bool, error)
}

// Engine evaluates rules against invocation contexts.
type Engine struct {
	store     *Store
	semantic  SemanticMatcher
	clockSkew time.Duration
	log       logr.Logger
}

func NewEngine(store *Store, semantic SemanticMatcher, clockSkew time.Duration, log logr.Logger) *Engine {
	return &Engine{store: store, semantic: semantic, clockSkew: clockSkew, log: log}
}

// Decision is the outcome of evaluating one invocation.
type Decision struct {
	Blocked        bool
	BlockReason    string
	Violations     []string
	AppliedRuleIDs []string
	FieldResults   map[string]string // target field -> resolved value
	Conflicts      []string          // fields left unset due to consensus disagreement
	DurationMS     int64
}

type fieldWrite struct {
	rule   model.Rule
	action model.Action
}

// Evaluate runs the five-step algorithm of spec.md §4.4 against ic, mutating
// nothing outside the returned Decision — callers apply FieldResults onto
// their own invocation copy.
func (e *Engine) Evaluate(ctx context.Context, ic model.InvocationContext) (Decision, error) {
	start := time.Now()
	candidates, err := e.store.ActiveForContext(ctx, ic, e.clockSkew)
	if err != nil {
		return Decision{}, err
	}
	sortRules(candidates)

	d := Decision{FieldResults: make(map[string]string)}
	writes := make(map[string][]fieldWrite)

	for _, rule := range candidates {
		matched, err := e.matches(ctx, rule, ic)
		if err != nil {
			e.log.V(1).Info("condition evaluation failed", "rule_id", rule.RuleID, "error", err)
			continue
		}
		if !matched {
			continue
		}
		d.AppliedRuleIDs = append(d.AppliedRuleIDs, rule.RuleID)

		for _, action := range rule.Actions {
			switch action.Type {
			case model.ActionBlock:
				d.Blocked = true
				d.BlockReason = action.BlockReason
				d.DurationMS = time.Since(start).Milliseconds()
				return d, nil // block short-circuits (step 3)
			case model.ActionValidate:
				ok, verr := e.validate(action, ic)
				if verr != nil {
					e.log.V(1).Info("validate predicate errored", "rule_id", rule.RuleID, "error", verr)
					continue
				}
				if !ok {
					d.Violations = append(d.Violations, rule.RuleID+": "+action.Value)
				}
			case model.ActionSet, model.ActionAppend, model.ActionTransform:
				writes[action.Field] = append(writes[action.Field], fieldWrite{rule: rule, action: action})
			}
		}
	}

	for field, ws := range writes {
		value, conflict := resolveField(ws)
		if conflict {
			d.Conflicts = append(d.Conflicts, field)
			continue
		}
		d.FieldResults[field] = value
	}

	d.DurationMS = time.Since(start).Milliseconds()
	return d, nil
}

func sortRules(rules []model.Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		as, bs := a.Scope.Specificity(), b.Scope.Specificity()
		if as != bs {
			return as > bs
		}
		if a.Version != b.Version {
			return a.Version < b.Version
		}
		return a.RuleID < b.RuleID
	})
}

func (e *Engine) matches(ctx context.Context, rule model.Rule, ic model.InvocationContext) (bool, error) {
	for _, cond := range rule.Conditions {
		ok, err := e.evalCondition(ctx, cond, ic)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func fieldValue(ic model.InvocationContext, field string) string {
	switch field {
	case "agent_id":
		return ic.AgentID
	case "machine_id":
		return ic.MachineID
	case "project_id":
		return ic.ProjectID
	case "tool_name":
		return ic.ToolName
	case "session_id":
		return ic.SessionID
	default:
		if v, ok := ic.Parameters[field]; ok {
			return fmt.Sprint(v)
		}
		return ""
	}
}

func (e *Engine) evalCondition(ctx context.Context, cond model.Condition, ic model.InvocationContext) (bool, error) {
	actual := fieldValue(ic, cond.Field)
	switch cond.Op {
	case model.OpEq:
		return actual == cond.Value, nil
	case model.OpNeq:
		return actual != cond.Value, nil
	case model.OpIn:
		for _, v := range strings.Split(cond.Value, ",") {
			if actual == strings.TrimSpace(v) {
				return true, nil
			}
		}
		return false, nil
	case model.OpMatches:
		re, err := regexp.Compile(cond.Value)
		if err != nil {
			return false, err
		}
		return re.MatchString(actual), nil
	case model.OpNotMatches:
		re, err := regexp.Compile(cond.Value)
		if err != nil {
			return false, err
		}
		return !re.MatchString(actual), nil
	case model.OpGt:
		af, aerr := strconv.ParseFloat(actual, 64)
		bf, berr := strconv.ParseFloat(cond.Value, 64)
		return aerr == nil && berr == nil && af > bf, nil
	case model.OpLt:
		af, aerr := strconv.ParseFloat(actual, 64)
		bf, berr := strconv.ParseFloat(cond.Value, 64)
		return aerr == nil && berr == nil && af < bf, nil
	case model.OpSemantic:
		if e.semantic == nil {
			return false, nil
		}
		return e.semantic.Matches(ctx, actual, cond.Value)
	default:
		return false, nil
	}
}

// validate evaluates a validate() action's predicate, in the shape spec.md
// §9 example 4 uses for AWS-key detection: action.Field names the context
// field to check, action.TransformExpr (or, if empty, action.Value) holds
// the regexp, and the literal substring "not matches" in action.Value
// negates the match.
func (e *Engine) validate(action model.Action, ic model.InvocationContext) (bool, error) {
	actual := fieldValue(ic, action.Field)
	negate := strings.Contains(action.Value, "not matches")
	pattern := action.TransformExpr
	if pattern == "" {
		pattern = action.Value
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, err
	}
	matched := re.MatchString(actual)
	if negate {
		return !matched, nil
	}
	return matched, nil
}

// resolveField applies the declared conflict_resolution strategy for one
// target field across every rule that wrote to it (spec.md §4.4 step 4).
// Every writer in ws already matched the invocation and is pre-sorted by
// (priority desc, specificity desc, version asc, rule_id asc) from the
// caller's candidate order.
func resolveField(ws []fieldWrite) (value string, conflict bool) {
	res := ws[0].rule.ConflictResolution
	if res == "" {
		res = model.ConflictHighestPriority
	}

	switch res {
	case model.ConflictHighestPriority, model.ConflictOverride:
		return applyAction(ws[0].action), false

	case model.ConflictMostSpecific:
		best := ws[0]
		for _, w := range ws[1:] {
			if w.rule.Scope.Specificity() > best.rule.Scope.Specificity() {
				best = w
			}
		}
		return applyAction(best.action), false

	case model.ConflictLatestCreated:
		best := ws[0]
		for _, w := range ws[1:] {
			if w.rule.CreatedAt.After(best.rule.CreatedAt) {
				best = w
			}
		}
		return applyAction(best.action), false

	case model.ConflictConsensus:
		topPriority := ws[0].rule.Priority
		var atTop []fieldWrite
		for _, w := range ws {
			if w.rule.Priority == topPriority {
				atTop = append(atTop, w)
			}
		}
		first := applyAction(atTop[0].action)
		for _, w := range atTop[1:] {
			if applyAction(w.action) != first {
				return "", true // disagreement -> RuleConflict, field left unset
			}
		}
		return first, false

	default:
		return applyAction(ws[0].action), false
	}
}

func applyAction(a model.Action) string {
	switch a.Type {
	case model.ActionAppend:
		return a.Value // the caller appends to any existing field value itself
	default:
		return a.Value
	}
}
