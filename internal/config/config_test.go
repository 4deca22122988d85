package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "redis:\n  addr: localhost:6379\n")
	cfg, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, "orchestrator", cfg.RegistryID)
	assert.Equal(t, ":8090", cfg.HTTPAddr)
	assert.Equal(t, 8, cfg.Executor.MaxParallelism)
	assert.Equal(t, 5.0, cfg.Executor.PerSourceRPS)
	assert.Equal(t, 2*time.Second, cfg.Executor.CancelGrace())
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
}

func TestLoadRejectsMissingRedisAddr(t *testing.T) {
	path := writeConfig(t, "http_addr: \":9000\"\n")
	_, err := Load(path, "")
	assert.Error(t, err)
}

func TestLoadRejectsDuplicateSourceIDs(t *testing.T) {
	path := writeConfig(t, `
redis:
  addr: localhost:6379
sources:
  - id: db1
    kind: relational
  - id: db1
    kind: document
`)
	_, err := Load(path, "")
	assert.Error(t, err)
}

func TestLoadRejectsSourceMissingKind(t *testing.T) {
	path := writeConfig(t, `
redis:
  addr: localhost:6379
sources:
  - id: db1
`)
	_, err := Load(path, "")
	assert.Error(t, err)
}

func TestLoadEnvOverridesWinOverFileValues(t *testing.T) {
	path := writeConfig(t, "redis:\n  addr: file-addr:6379\n")
	t.Setenv("ORCHESTRATOR_REDIS_ADDR", "env-addr:6379")

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, "env-addr:6379", cfg.Redis.Addr)
}

func TestLoadPreservesExplicitSourceValues(t *testing.T) {
	path := writeConfig(t, `
redis:
  addr: localhost:6379
sources:
  - id: orders-db
    kind: relational
    uri: postgres://localhost/orders
    capabilities: [translate_nl, introspect]
`)
	cfg, err := Load(path, "")
	require.NoError(t, err)
	require.Len(t, cfg.Sources, 1)
	assert.Equal(t, "orders-db", cfg.Sources[0].ID)
	assert.Equal(t, "postgres://localhost/orders", cfg.Sources[0].URI)
	assert.ElementsMatch(t, []string{"translate_nl", "introspect"}, cfg.Sources[0].Capabilities)
}
