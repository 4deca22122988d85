package relational

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryorch/orchestrator/internal/model"
	"github.com/queryorch/orchestrator/internal/orcherrors"
)

func TestPassThroughTranslatorReturnsQuestionVerbatim(t *testing.T) {
	tr := PassThroughTranslator{}
	sql, err := tr.Translate(context.Background(), "SELECT 1", model.SchemaSummary{})
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", sql)
}

func TestToCellMapsPgxDecodedTypes(t *testing.T) {
	cases := []struct {
		in   any
		want model.Cell
	}{
		{nil, model.Cell{Kind: model.CellNull}},
		{true, model.Cell{Kind: model.CellBool, Bool: true}},
		{int32(42), model.Cell{Kind: model.CellInt, Int: 42}},
		{int64(42), model.Cell{Kind: model.CellInt, Int: 42}},
		{3.14, model.Cell{Kind: model.CellFloat, Float: 3.14}},
		{"hello", model.Cell{Kind: model.CellStr, Str: "hello"}},
		{[]byte("raw"), model.Cell{Kind: model.CellBytes, Bytes: []byte("raw")}},
	}
	for _, c := range cases {
		got := toCell(c.in)
		assert.Equal(t, c.want, got)
	}
}

func TestToCellHandlesTimestamp(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	got := toCell(now)
	assert.Equal(t, model.CellTime, got.Kind)
	assert.True(t, now.Equal(got.Time))
}

func TestClassifyPgErrorDistinguishesTransportFromPermanent(t *testing.T) {
	transport := classifyPgError(errors.New("dial tcp: connection refused"))
	kind, ok := orcherrors.KindOf(transport)
	require.True(t, ok)
	assert.Equal(t, orcherrors.AdapterTransport, kind)

	permanent := classifyPgError(errors.New(`syntax error at or near "SELEKT"`))
	kind, ok = orcherrors.KindOf(permanent)
	require.True(t, ok)
	assert.Equal(t, orcherrors.AdapterPermanent, kind)
}

func TestContentHashIsDeterministicAndSensitiveToInput(t *testing.T) {
	h1 := contentHash("orders(id int, total numeric)")
	h2 := contentHash("orders(id int, total numeric)")
	h3 := contentHash("orders(id int)")
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
}
