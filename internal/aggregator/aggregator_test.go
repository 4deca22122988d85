package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryorch/orchestrator/internal/model"
)

func TestAggregateSingleSourceUsesBareQueryText(t *testing.T) {
	a := New()
	plan := model.Plan{
		Operations: []model.Operation{
			{ID: "op1", SourceID: "db1", Kind: model.OperationKindTranslateExec},
		},
	}
	results := map[string]model.OperationResult{
		"op1": {
			Status:      model.OpCompleted,
			NativeQuery: "SELECT * FROM orders",
			Rows:        []model.Row{{Values: map[string]model.Cell{"id": {Kind: model.CellInt, Int: 1}}}},
		},
	}

	out, err := a.Aggregate(plan, results)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM orders", out.RepresentativeQuery)
	require.Len(t, out.Rows, 1)
	assert.Equal(t, "db1", out.Rows[0].SourceID)
	assert.Equal(t, "op1", out.Rows[0].OpID)
}

func TestAggregateCrossSourceJoinsQueriesWithSourcePrefix(t *testing.T) {
	a := New()
	plan := model.Plan{
		Operations: []model.Operation{
			{ID: "op1", SourceID: "db1", Kind: model.OperationKindTranslateExec},
			{ID: "op2", SourceID: "db2", Kind: model.OperationKindTranslateExec},
		},
	}
	results := map[string]model.OperationResult{
		"op1": {Status: model.OpCompleted, NativeQuery: "SELECT 1"},
		"op2": {Status: model.OpCompleted, NativeQuery: "db.find()"},
	}

	out, err := a.Aggregate(plan, results)
	require.NoError(t, err)
	assert.Equal(t, "[db1] SELECT 1; [db2] db.find()", out.RepresentativeQuery)
}

func TestAggregateSkipsNonCompletedOperations(t *testing.T) {
	a := New()
	plan := model.Plan{
		Operations: []model.Operation{
			{ID: "op1", SourceID: "db1", Kind: model.OperationKindTranslateExec},
			{ID: "op2", SourceID: "db2", Kind: model.OperationKindTranslateExec},
		},
	}
	results := map[string]model.OperationResult{
		"op1": {Status: model.OpCompleted, Rows: []model.Row{{}}},
		"op2": {Status: model.OpFailed},
	}

	out, err := a.Aggregate(plan, results)
	require.NoError(t, err)
	assert.Len(t, out.Rows, 1)
}

func TestAggregatePreservesExistingRowProvenance(t *testing.T) {
	a := New()
	plan := model.Plan{
		Operations: []model.Operation{
			{ID: "op1", SourceID: "db1", Kind: model.OperationKindTranslateExec},
		},
	}
	results := map[string]model.OperationResult{
		"op1": {Status: model.OpCompleted, Rows: []model.Row{{SourceID: "override", OpID: "override-op"}}},
	}

	out, err := a.Aggregate(plan, results)
	require.NoError(t, err)
	require.Len(t, out.Rows, 1)
	assert.Equal(t, "override", out.Rows[0].SourceID)
	assert.Equal(t, "override-op", out.Rows[0].OpID)
}

func TestVisualizeReturnsNilForEmptyRows(t *testing.T) {
	a := New()
	spec := a.Visualize(model.AggregatedResult{})
	assert.Nil(t, spec)
}

func TestVisualizePicksBarChartForLowCardinalityCategories(t *testing.T) {
	a := New()
	rows := []model.Row{
		{Values: map[string]model.Cell{"region": {Kind: model.CellStr, Str: "east"}, "revenue": {Kind: model.CellFloat, Float: 10}}},
		{Values: map[string]model.Cell{"region": {Kind: model.CellStr, Str: "west"}, "revenue": {Kind: model.CellFloat, Float: 20}}},
	}
	spec := a.Visualize(model.AggregatedResult{Rows: rows})
	require.NotNil(t, spec)
	assert.Equal(t, model.ChartBar, spec.Type)
	assert.Equal(t, "region", spec.XField)
	assert.Equal(t, "revenue", spec.YField)
}

func TestVisualizePicksLineChartForTemporalXAxis(t *testing.T) {
	a := New()
	rows := []model.Row{
		{Values: map[string]model.Cell{"day": {Kind: model.CellTime}, "count": {Kind: model.CellInt, Int: 5}}},
	}
	spec := a.Visualize(model.AggregatedResult{Rows: rows})
	require.NotNil(t, spec)
	assert.Equal(t, model.ChartLine, spec.Type)
}
