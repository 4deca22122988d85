package document

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/queryorch/orchestrator/internal/adapter"
	"github.com/queryorch/orchestrator/internal/model"
)

var (
	testMongoClient    *mongo.Client
	testMongoContainer testcontainers.Container
	skipMongoTests     bool
)

// setupMongo starts an ephemeral MongoDB container, falling back to a
// skipped test suite when Docker isn't available in the environment.
func setupMongo(t *testing.T) {
	t.Helper()
	if testMongoClient != nil {
		return
	}
	if skipMongoTests {
		t.Skip("docker not available, skipping mongo adapter integration tests")
	}

	ctx := context.Background()
	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections"),
			Tmpfs:        map[string]string{"/data/db": "rw"},
		}
		testMongoContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()
	if containerErr != nil {
		skipMongoTests = true
		t.Skipf("docker not available, skipping mongo adapter integration tests: %v", containerErr)
	}
	t.Cleanup(func() { _ = testMongoContainer.Terminate(context.Background()) })

	host, err := testMongoContainer.Host(ctx)
	require.NoError(t, err)
	port, err := testMongoContainer.MappedPort(ctx, "27017")
	require.NoError(t, err)

	uri := fmt.Sprintf("mongodb://%s:%s", host, port.Port())
	testMongoClient, err = mongo.Connect(options.Client().ApplyURI(uri))
	require.NoError(t, err)
	require.NoError(t, testMongoClient.Ping(ctx, readpref.Primary()))
}

func TestAdapterIntegrationExecuteAndIntrospectAgainstRealMongo(t *testing.T) {
	setupMongo(t)
	ctx := context.Background()

	db := testMongoClient.Database("orchestrator_adapter_test")
	coll := db.Collection("orders")
	t.Cleanup(func() { _ = coll.Drop(ctx) })

	_, err := coll.InsertMany(ctx, []any{
		bson.M{"customer": "acme", "total": int32(10)},
		bson.M{"customer": "globex", "total": int32(20)},
	})
	require.NoError(t, err)

	a := New("orders-db", db, nil)
	require.NoError(t, a.Test(ctx))

	nq, err := a.Translate(ctx, "orders", model.SchemaSummary{})
	require.NoError(t, err)

	result, err := a.Execute(ctx, nq)
	require.NoError(t, err)
	assert.Len(t, result.Rows, 2)
	for _, row := range result.Rows {
		assert.Equal(t, "orders-db", row.SourceID)
		assert.Contains(t, row.Values, "customer")
	}

	schema, err := a.Introspect(ctx)
	require.NoError(t, err)
	assert.Contains(t, schema.Tables, "orders")
	assert.NotEmpty(t, schema.ContentHash)
}

func TestAdapterIntegrationExecuteRejectsMissingCollection(t *testing.T) {
	setupMongo(t)
	ctx := context.Background()

	db := testMongoClient.Database("orchestrator_adapter_test")
	a := New("orders-db", db, nil)

	_, err := a.Execute(ctx, adapter.NativeQuery{Params: map[string]any{}})
	assert.Error(t, err)
}
