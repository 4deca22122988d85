// Package planner implements C4: building an operation DAG from a
// classification and validating it is acyclic and fully resolvable. Cycle
// detection follows the Kahn's-algorithm in-degree counting pattern used for
// phase dependency graphs in the wider pack (a queue of zero-in-degree
// nodes, decrementing dependents' in-degree as each is processed; any node
// left with nonzero in-degree once the queue drains is part of a cycle).
package planner

import (
	"fmt"

	"github.com/queryorch/orchestrator/internal/adapter"
	"github.com/queryorch/orchestrator/internal/model"
)

// SourceResolver resolves a source id to its registered Source, for
// capability and existence checks during validation.
type SourceResolver interface {
	Get(id string) (model.Source, error)
}

// Planner implements build/validate/optimize (spec C4).
type Planner struct {
	sources SourceResolver
}

// New constructs a Planner.
func New(sources SourceResolver) *Planner {
	return &Planner{sources: sources}
}

// Build turns a classification into a plan, per spec §4.4's algorithm:
// one translate+execute operation per selected source, an aggregate
// operation depending on all of them when cross-source, and optional
// introspect operations prepended when the question requests introspection.
// A classification with zero sources produces a single no-op operation
// carrying the classifier's reasoning.
func (p *Planner) Build(c model.Classification, q model.Question) model.Plan {
	plan := model.Plan{ID: model.NewID(), QuestionID: q.ID}

	if len(c.SelectedSource) == 0 {
		plan.Operations = []model.Operation{{
			ID:       model.NewID(),
			Kind:     model.OperationKindNoop,
			Metadata: map[string]any{"reasoning": c.Reasoning},
		}}
		return plan
	}

	execIDs := make([]string, 0, len(c.SelectedSource))
	for _, sourceID := range c.SelectedSource {
		execID := model.NewID()
		op := model.Operation{
			ID:       execID,
			SourceID: sourceID,
			Kind:     model.OperationKindTranslateExec,
			Params:   map[string]any{"question": q.Text},
		}
		plan.Operations = append(plan.Operations, op)
		execIDs = append(execIDs, execID)
	}

	if c.IsCrossSource {
		plan.Operations = append(plan.Operations, model.Operation{
			ID:        model.NewID(),
			Kind:      model.OperationKindAggregate,
			DependsOn: execIDs,
		})
	}

	return plan
}

// BuildWithIntrospection is Build plus per-source introspect operations
// prepended ahead of each source's translate+execute operation, as spec
// §4.4 step 3 describes for requests that opt into introspection.
func (p *Planner) BuildWithIntrospection(c model.Classification, q model.Question) model.Plan {
	plan := p.Build(c, q)
	if len(c.SelectedSource) == 0 {
		return plan
	}

	introspectBySource := make(map[string]string, len(c.SelectedSource))
	var introspectOps []model.Operation
	for _, sourceID := range c.SelectedSource {
		id := model.NewID()
		introspectBySource[sourceID] = id
		introspectOps = append(introspectOps, model.Operation{
			ID:       id,
			SourceID: sourceID,
			Kind:     model.OperationKindIntrospect,
		})
	}

	for i, op := range plan.Operations {
		if op.Kind != model.OperationKindTranslateExec {
			continue
		}
		if introID, ok := introspectBySource[op.SourceID]; ok {
			plan.Operations[i].DependsOn = append(plan.Operations[i].DependsOn, introID)
		}
	}
	plan.Operations = append(introspectOps, plan.Operations...)
	return plan
}

// Validate checks the plan is a well-formed DAG per spec §4.4 step 4: every
// operation id is unique, every dependency resolves to a known operation,
// the dependency graph is acyclic, every source_id resolves to a registered
// source with the capabilities the operation requires, and no introspect
// operation is left without a dependent. No-op and aggregate operations
// carry no source_id and skip the source checks.
func (p *Planner) Validate(plan model.Plan) model.ValidationResult {
	var errs []string

	byID := make(map[string]model.Operation, len(plan.Operations))
	for _, op := range plan.Operations {
		if _, dup := byID[op.ID]; dup {
			errs = append(errs, fmt.Sprintf("duplicate operation id %q", op.ID))
			continue
		}
		byID[op.ID] = op
	}

	for _, op := range plan.Operations {
		for _, dep := range op.DependsOn {
			if _, ok := byID[dep]; !ok {
				errs = append(errs, fmt.Sprintf("operation %q depends on unknown operation %q", op.ID, dep))
			}
		}
		if op.Kind == model.OperationKindNoop || op.Kind == model.OperationKindAggregate {
			continue
		}
		if op.SourceID == "" {
			errs = append(errs, fmt.Sprintf("operation %q missing source_id", op.ID))
			continue
		}
		source, err := p.sources.Get(op.SourceID)
		if err != nil {
			errs = append(errs, fmt.Sprintf("operation %q references unknown source %q", op.ID, op.SourceID))
			continue
		}
		if cap, required := requiredCapability(op.Kind); required && !adapter.HasCapability(source, cap) {
			errs = append(errs, fmt.Sprintf("operation %q requires capability %q not declared by source %q", op.ID, cap, op.SourceID))
		}
	}

	if err := checkAcyclic(plan.Operations); err != nil {
		errs = append(errs, err.Error())
	}

	if len(plan.Operations) > 1 {
		errs = append(errs, checkNoIsolatedNodes(plan.Operations)...)
	}

	return model.ValidationResult{OK: len(errs) == 0, Errors: errs}
}

func requiredCapability(kind model.OperationKind) (model.Capability, bool) {
	switch kind {
	case model.OperationKindTranslateExec:
		return model.CapTranslateNL, true
	case model.OperationKindIntrospect:
		return model.CapIntrospect, true
	default:
		return "", false
	}
}

// checkAcyclic runs Kahn's algorithm: operations whose dependencies are all
// satisfied enter the queue first; as each is processed, dependents' unmet-
// dependency count is decremented. Any operation never dequeued is part of
// a cycle.
func checkAcyclic(ops []model.Operation) error {
	inDegree := make(map[string]int, len(ops))
	dependents := make(map[string][]string, len(ops))
	for _, op := range ops {
		if _, ok := inDegree[op.ID]; !ok {
			inDegree[op.ID] = 0
		}
		for _, dep := range op.DependsOn {
			inDegree[op.ID]++
			dependents[dep] = append(dependents[dep], op.ID)
		}
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	processed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		processed++
		for _, dependent := range dependents[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if processed != len(ops) {
		return fmt.Errorf("plan contains a cycle: %d operations could not be ordered", len(ops)-processed)
	}
	return nil
}

// checkNoIsolatedNodes rejects introspect operations nothing depends on:
// by construction every introspect op should feed a translate+execute op,
// so one with no dependents is neither a source of data (it produces no
// rows) nor the final aggregator, and indicates a malformed plan.
func checkNoIsolatedNodes(ops []model.Operation) []string {
	hasDependent := make(map[string]bool, len(ops))
	for _, op := range ops {
		for _, dep := range op.DependsOn {
			hasDependent[dep] = true
		}
	}
	var errs []string
	for _, op := range ops {
		if op.Kind == model.OperationKindIntrospect && !hasDependent[op.ID] {
			errs = append(errs, fmt.Sprintf("operation %q is an introspect op with no dependents", op.ID))
		}
	}
	return errs
}

// Optimize applies advisory, non-semantic-changing transforms per spec
// §4.4: coalescing duplicate introspection ops against the same source, and
// dropping a branch whose source is known offline. statusOf reports a
// source's availability; a nil statusOf skips the offline-pruning pass.
func (p *Planner) Optimize(plan model.Plan, statusOf func(sourceID string) (online bool, known bool)) model.Plan {
	plan = coalesceIntrospection(plan)
	if statusOf != nil {
		plan = dropOfflineBranches(plan, statusOf)
	}
	return plan
}

func coalesceIntrospection(plan model.Plan) model.Plan {
	firstIntrospectBySource := make(map[string]string)
	replace := make(map[string]string)
	var keep []model.Operation
	for _, op := range plan.Operations {
		if op.Kind != model.OperationKindIntrospect {
			keep = append(keep, op)
			continue
		}
		if existing, ok := firstIntrospectBySource[op.SourceID]; ok {
			replace[op.ID] = existing
			continue
		}
		firstIntrospectBySource[op.SourceID] = op.ID
		keep = append(keep, op)
	}
	for i, op := range keep {
		for j, dep := range op.DependsOn {
			if canon, ok := replace[dep]; ok {
				keep[i].DependsOn[j] = canon
			}
		}
	}
	plan.Operations = keep
	return plan
}

func dropOfflineBranches(plan model.Plan, statusOf func(sourceID string) (online bool, known bool)) model.Plan {
	drop := make(map[string]bool)
	for _, op := range plan.Operations {
		if op.SourceID == "" {
			continue
		}
		online, known := statusOf(op.SourceID)
		if known && !online {
			drop[op.ID] = true
		}
	}
	if len(drop) == 0 {
		return plan
	}
	var kept []model.Operation
	for _, op := range plan.Operations {
		if drop[op.ID] {
			continue
		}
		var deps []string
		for _, dep := range op.DependsOn {
			if !drop[dep] {
				deps = append(deps, dep)
			}
		}
		op.DependsOn = deps
		kept = append(kept, op)
	}
	plan.Operations = kept
	return plan
}
