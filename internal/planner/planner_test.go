package planner

import (
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryorch/orchestrator/internal/model"
)

type stubResolver struct {
	sources map[string]model.Source
}

func (s stubResolver) Get(id string) (model.Source, error) {
	src, ok := s.sources[id]
	if !ok {
		return model.Source{}, fmt.Errorf("unknown source %q", id)
	}
	return src, nil
}

func newResolver(ids ...string) stubResolver {
	sources := make(map[string]model.Source, len(ids))
	for _, id := range ids {
		sources[id] = model.Source{
			ID:   id,
			Kind: model.SourceKindRelational,
			Caps: map[model.Capability]bool{
				model.CapTranslateNL: true,
				model.CapIntrospect:  true,
			},
		}
	}
	return stubResolver{sources: sources}
}

func TestBuildSingleSourceHasNoAggregate(t *testing.T) {
	p := New(newResolver("db1"))
	plan := p.Build(model.Classification{
		QuestionID:     "q1",
		SelectedSource: []string{"db1"},
	}, model.Question{ID: "q1", Text: "how many rows"})

	require.Len(t, plan.Operations, 1)
	assert.Equal(t, model.OperationKindTranslateExec, plan.Operations[0].Kind)
	assert.Empty(t, plan.Operations[0].DependsOn)
}

func TestBuildCrossSourceAddsAggregateDependingOnEveryExec(t *testing.T) {
	p := New(newResolver("db1", "db2", "db3"))
	plan := p.Build(model.Classification{
		QuestionID:     "q1",
		SelectedSource: []string{"db1", "db2", "db3"},
		IsCrossSource:  true,
	}, model.Question{ID: "q1", Text: "join across sources"})

	require.Len(t, plan.Operations, 4)
	var agg *model.Operation
	execIDs := map[string]bool{}
	for i, op := range plan.Operations {
		if op.Kind == model.OperationKindAggregate {
			agg = &plan.Operations[i]
			continue
		}
		execIDs[op.ID] = true
	}
	require.NotNil(t, agg)
	assert.Len(t, agg.DependsOn, 3)
	for _, dep := range agg.DependsOn {
		assert.True(t, execIDs[dep])
	}
}

func TestBuildEmptyClassificationProducesNoop(t *testing.T) {
	p := New(newResolver())
	plan := p.Build(model.Classification{QuestionID: "q1", Reasoning: "nothing matched"}, model.Question{ID: "q1"})

	require.Len(t, plan.Operations, 1)
	assert.Equal(t, model.OperationKindNoop, plan.Operations[0].Kind)
	assert.Equal(t, "nothing matched", plan.Operations[0].Metadata["reasoning"])
}

func TestBuildWithIntrospectionPrependsPerSourceIntrospectOps(t *testing.T) {
	p := New(newResolver("db1", "db2"))
	plan := p.BuildWithIntrospection(model.Classification{
		QuestionID:     "q1",
		SelectedSource: []string{"db1", "db2"},
		IsCrossSource:  true,
	}, model.Question{ID: "q1", Text: "x"})

	var introspectCount, execCount int
	bySourceIntrospect := map[string]string{}
	for _, op := range plan.Operations {
		switch op.Kind {
		case model.OperationKindIntrospect:
			introspectCount++
			bySourceIntrospect[op.SourceID] = op.ID
		case model.OperationKindTranslateExec:
			execCount++
		}
	}
	assert.Equal(t, 2, introspectCount)
	assert.Equal(t, 2, execCount)

	for _, op := range plan.Operations {
		if op.Kind != model.OperationKindTranslateExec {
			continue
		}
		assert.Contains(t, op.DependsOn, bySourceIntrospect[op.SourceID])
	}

	result := p.Validate(plan)
	assert.True(t, result.OK, "expected valid plan, got errors: %v", result.Errors)
}

func TestValidateRejectsUnknownDependency(t *testing.T) {
	p := New(newResolver("db1"))
	plan := model.Plan{
		Operations: []model.Operation{
			{ID: "op1", SourceID: "db1", Kind: model.OperationKindTranslateExec, DependsOn: []string{"missing"}},
		},
	}
	result := p.Validate(plan)
	assert.False(t, result.OK)
	assert.Contains(t, result.Errors[0], "unknown operation")
}

func TestValidateRejectsUnknownSource(t *testing.T) {
	p := New(newResolver("db1"))
	plan := model.Plan{
		Operations: []model.Operation{
			{ID: "op1", SourceID: "ghost", Kind: model.OperationKindTranslateExec},
		},
	}
	result := p.Validate(plan)
	assert.False(t, result.OK)
	assert.Contains(t, result.Errors[0], "unknown source")
}

func TestValidateRejectsMissingCapability(t *testing.T) {
	sources := stubResolver{sources: map[string]model.Source{
		"db1": {ID: "db1", Kind: model.SourceKindRelational, Caps: map[model.Capability]bool{}},
	}}
	p := New(sources)
	plan := model.Plan{
		Operations: []model.Operation{
			{ID: "op1", SourceID: "db1", Kind: model.OperationKindTranslateExec},
		},
	}
	result := p.Validate(plan)
	assert.False(t, result.OK)
	assert.Contains(t, result.Errors[0], "capability")
}

func TestValidateDetectsCycle(t *testing.T) {
	p := New(newResolver("db1", "db2"))
	plan := model.Plan{
		Operations: []model.Operation{
			{ID: "op1", SourceID: "db1", Kind: model.OperationKindTranslateExec, DependsOn: []string{"op2"}},
			{ID: "op2", SourceID: "db2", Kind: model.OperationKindTranslateExec, DependsOn: []string{"op1"}},
		},
	}
	result := p.Validate(plan)
	assert.False(t, result.OK)
	found := false
	for _, e := range result.Errors {
		if strings.Contains(e, "cycle") {
			found = true
		}
	}
	assert.True(t, found, "expected a cycle error, got %v", result.Errors)
}

func TestValidateRejectsIsolatedIntrospectOp(t *testing.T) {
	p := New(newResolver("db1", "db2"))
	plan := model.Plan{
		Operations: []model.Operation{
			{ID: "intro", SourceID: "db1", Kind: model.OperationKindIntrospect},
			{ID: "exec", SourceID: "db2", Kind: model.OperationKindTranslateExec},
		},
	}
	result := p.Validate(plan)
	assert.False(t, result.OK)
	assert.Contains(t, result.Errors[0], "no dependents")
}

// TestValidateAcceptsGeneratedAcyclicDAGs checks that a DAG built from
// only-earlier dependencies (a linear chain of n operations) always
// validates as acyclic, for arbitrary chain lengths.
func TestValidateAcceptsGeneratedAcyclicDAGs(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("a DAG built from only-earlier dependencies always validates acyclic", prop.ForAll(
		func(n int) bool {
			sourceIDs := make([]string, n)
			resolverSources := map[string]model.Source{}
			for i := 0; i < n; i++ {
				sourceIDs[i] = fmt.Sprintf("src-%d", i)
				resolverSources[sourceIDs[i]] = model.Source{
					ID:   sourceIDs[i],
					Kind: model.SourceKindRelational,
					Caps: map[model.Capability]bool{model.CapTranslateNL: true},
				}
			}
			p := New(stubResolver{sources: resolverSources})

			ops := make([]model.Operation, n)
			for i := 0; i < n; i++ {
				var deps []string
				if i > 0 {
					deps = []string{ops[i-1].ID}
				}
				ops[i] = model.Operation{
					ID:        fmt.Sprintf("op-%d", i),
					SourceID:  sourceIDs[i],
					Kind:      model.OperationKindTranslateExec,
					DependsOn: deps,
				}
			}
			result := p.Validate(model.Plan{Operations: ops})
			return result.OK
		},
		gen.IntRange(1, 12),
	))

	properties.TestingRun(t)
}

func TestOptimizeCoalescesDuplicateIntrospection(t *testing.T) {
	p := New(newResolver("db1"))
	plan := model.Plan{
		Operations: []model.Operation{
			{ID: "i1", SourceID: "db1", Kind: model.OperationKindIntrospect},
			{ID: "i2", SourceID: "db1", Kind: model.OperationKindIntrospect},
			{ID: "exec", SourceID: "db1", Kind: model.OperationKindTranslateExec, DependsOn: []string{"i2"}},
		},
	}
	optimized := p.Optimize(plan, nil)

	var introspectCount int
	for _, op := range optimized.Operations {
		if op.Kind == model.OperationKindIntrospect {
			introspectCount++
		}
		if op.Kind == model.OperationKindTranslateExec {
			assert.Equal(t, []string{"i1"}, op.DependsOn)
		}
	}
	assert.Equal(t, 1, introspectCount)
}

func TestOptimizeDropsOfflineBranches(t *testing.T) {
	p := New(newResolver("db1", "db2"))
	plan := model.Plan{
		Operations: []model.Operation{
			{ID: "op1", SourceID: "db1", Kind: model.OperationKindTranslateExec},
			{ID: "op2", SourceID: "db2", Kind: model.OperationKindTranslateExec},
			{ID: "agg", Kind: model.OperationKindAggregate, DependsOn: []string{"op1", "op2"}},
		},
	}
	optimized := p.Optimize(plan, func(sourceID string) (bool, bool) {
		return sourceID != "db2", true
	})

	ids := map[string]bool{}
	for _, op := range optimized.Operations {
		ids[op.ID] = true
	}
	assert.False(t, ids["op2"])
	require.True(t, ids["agg"])
	for _, op := range optimized.Operations {
		if op.ID == "agg" {
			assert.NotContains(t, op.DependsOn, "op2")
		}
	}
}
