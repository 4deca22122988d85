package document

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/queryorch/orchestrator/internal/adapter"
	"github.com/queryorch/orchestrator/internal/model"
	"github.com/queryorch/orchestrator/internal/orcherrors"
)

func TestPassThroughTranslatorUsesQuestionAsCollectionWithEmptyFilter(t *testing.T) {
	tr := PassThroughTranslator{}
	coll, filter, err := tr.Translate(context.Background(), "orders", model.SchemaSummary{})
	require.NoError(t, err)
	assert.Equal(t, "orders", coll)
	assert.Equal(t, bson.M{}, filter)
}

func TestToCellMapsBSONTypes(t *testing.T) {
	assert.Equal(t, model.Cell{Kind: model.CellNull}, toCell(nil))
	assert.Equal(t, model.Cell{Kind: model.CellBool, Bool: true}, toCell(true))
	assert.Equal(t, model.Cell{Kind: model.CellInt, Int: 7}, toCell(int32(7)))
	assert.Equal(t, model.Cell{Kind: model.CellStr, Str: "x"}, toCell("x"))
}

func TestToCellMapsNestedDocumentsAndArrays(t *testing.T) {
	nestedDoc := toCell(bson.M{"a": int32(1)})
	assert.Equal(t, model.CellNest, nestedDoc.Kind)
	require.Len(t, nestedDoc.Nested, 1)

	nestedArr := toCell(bson.A{int32(1), int32(2)})
	assert.Equal(t, model.CellNest, nestedArr.Kind)
	assert.Len(t, nestedArr.Nested, 2)
}

func TestQueryParamsRequiresCollection(t *testing.T) {
	_, _, err := queryParams(adapter.NativeQuery{Params: map[string]any{}})
	require.Error(t, err)
	kind, ok := orcherrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, orcherrors.AdapterPermanent, kind)
}

func TestQueryParamsDefaultsToEmptyFilter(t *testing.T) {
	coll, filter, err := queryParams(adapter.NativeQuery{Params: map[string]any{"collection": "orders"}})
	require.NoError(t, err)
	assert.Equal(t, "orders", coll)
	assert.Equal(t, bson.M{}, filter)
}

func TestDocToRowConvertsEveryField(t *testing.T) {
	doc := bson.M{"name": "acme", "total": int32(5)}
	row := docToRow(doc)
	assert.Equal(t, model.CellStr, row["name"].Kind)
	assert.Equal(t, model.CellInt, row["total"].Kind)
}

func TestContentHashIsStableForSameDescription(t *testing.T) {
	assert.Equal(t, contentHash("orders([id name])\n"), contentHash("orders([id name])\n"))
}
