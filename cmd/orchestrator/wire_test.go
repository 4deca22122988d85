package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryorch/orchestrator/internal/config"
	"github.com/queryorch/orchestrator/internal/model"
	"github.com/queryorch/orchestrator/internal/orcherrors"
)

func TestBuildAdapterVectorKindNeedsNoNetworkDependencies(t *testing.T) {
	a := &app{}
	impl, err := buildAdapter(context.Background(), config.SourceConfig{ID: "embeddings", Kind: "vector"}, a)
	require.NoError(t, err)
	assert.NotNil(t, impl)
}

func TestBuildAdapterSaaSKindsReadOptionsIntoEndpoints(t *testing.T) {
	a := &app{}
	for _, kind := range []string{"messaging_api", "commerce_api", "analytics_api"} {
		impl, err := buildAdapter(context.Background(), config.SourceConfig{
			ID:   "svc",
			Kind: kind,
			URI:  "https://example.test",
			Options: map[string]string{
				"schema_path": "/schema",
				"query_path":  "/query",
				"rows_field":  "items",
			},
		}, a)
		require.NoError(t, err, "kind %s", kind)
		assert.NotNil(t, impl)
		nq, err := impl.Translate(context.Background(), "q", model.SchemaSummary{})
		require.NoError(t, err, "kind %s", kind)
		assert.Equal(t, "GET https://example.test/query", nq.Text)
	}
}

func TestBuildAdapterUnknownKindReturnsConfigInvalid(t *testing.T) {
	a := &app{}
	_, err := buildAdapter(context.Background(), config.SourceConfig{ID: "x", Kind: "carrier-pigeon"}, a)
	assert.Error(t, err)
	kind, ok := orcherrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, orcherrors.ConfigInvalid, kind)
}

func TestHashEmbedderIsDeterministicAndFixedDimension(t *testing.T) {
	e := hashEmbedder{}
	v1, err := e.Embed(context.Background(), "how many orders last week")
	require.NoError(t, err)
	v2, err := e.Embed(context.Background(), "how many orders last week")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Len(t, v1, 16)

	v3, err := e.Embed(context.Background(), "a completely different question")
	require.NoError(t, err)
	assert.NotEqual(t, v1, v3)
}

func TestTemplateSaaSTranslatorAnswersEveryQuestionWithConfiguredEndpoint(t *testing.T) {
	tr := templateSaaSTranslator{path: "/v1/orders", rowsField: "results"}
	path, params, rowsField, err := tr.Translate(context.Background(), "any question at all", model.SchemaSummary{})
	require.NoError(t, err)
	assert.Equal(t, "/v1/orders", path)
	assert.Nil(t, params)
	assert.Equal(t, "results", rowsField)
}

func TestFirstRelationalDSNFindsFirstRelationalSource(t *testing.T) {
	cfg := config.Config{Sources: []config.SourceConfig{
		{ID: "vec", Kind: "vector"},
		{ID: "db1", Kind: "relational", URI: "postgres://localhost/db1"},
		{ID: "db2", Kind: "relational", URI: "postgres://localhost/db2"},
	}}
	assert.Equal(t, "postgres://localhost/db1", firstRelationalDSN(cfg))
}

func TestFirstRelationalDSNReturnsEmptyWhenNoneConfigured(t *testing.T) {
	cfg := config.Config{Sources: []config.SourceConfig{{ID: "vec", Kind: "vector"}}}
	assert.Equal(t, "", firstRelationalDSN(cfg))
}
