package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	def := Default()
	assert.Equal(t, def.NATSURL, cfg.NATSURL)
	assert.Equal(t, 10_000, cfg.CheckpointInterval)
	assert.Equal(t, 10*time.Millisecond, cfg.PersistFlushTimeout)
	assert.Empty(t, cfg.RedisAddr)
	assert.Empty(t, cfg.ClickHouseDSN)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DEX_POSTGRES_DSN", "postgres://x@db/dex")
	t.Setenv("DEX_REDIS_ADDR", "redis:6379")
	t.Setenv("DEX_CHECKPOINT_INTERVAL", "500")
	t.Setenv("DEX_PERSIST_FLUSH_MS", "25")
	t.Setenv("DEX_STAGE_WORKERS", "8")
	t.Setenv("DEX_REDIS_TTL", "1h")

	cfg := Load()
	assert.Equal(t, "postgres://x@db/dex", cfg.PostgresURL)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, 500, cfg.CheckpointInterval)
	assert.Equal(t, 25*time.Millisecond, cfg.PersistFlushTimeout)
	assert.Equal(t, 8, cfg.StageWorkers)
	assert.Equal(t, time.Hour, cfg.RedisTTL)
}

func TestLoadIgnoresBadNumbers(t *testing.T) {
	t.Setenv("DEX_CHECKPOINT_INTERVAL", "often")
	t.Setenv("DEX_STAGE_WORKERS", "-2")
	t.Setenv("DEX_REDIS_TTL", "forever")

	cfg := Load()
	assert.Equal(t, Default().CheckpointInterval, cfg.CheckpointInterval)
	assert.Equal(t, Default().StageWorkers, cfg.StageWorkers)
	assert.Equal(t, Default().RedisTTL, cfg.RedisTTL)
}

const referenceYAML = `
protocol:
  id: "0xregistry"
  name: Curve Finance
  slug: curve-finance
  network: MAINNET
  schema_version: 1.3.0
  genesis_block: 10809473
blacklist:
  - "0xBAD"
stables:
  - "0xusdc"
  - "0xdai"
`

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reference.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadReference(t *testing.T) {
	ref, err := LoadReference(writeFile(t, referenceYAML))
	require.NoError(t, err)
	assert.Equal(t, "0xregistry", ref.Protocol.ID)
	assert.Equal(t, uint64(10809473), ref.Protocol.GenesisBlock)
	assert.Equal(t, []string{"0xBAD"}, ref.Blacklist)
	assert.Len(t, ref.Stables, 2)

	ec := EngineConfig(Config{StageWorkers: 2}, ref)
	assert.Equal(t, ref.Protocol, ec.Protocol)
	assert.Equal(t, []string{"0xusdc", "0xdai"}, ec.Lists.Stables)
	assert.Equal(t, 2, ec.Workers)
}

func TestShippedReferenceExampleLoads(t *testing.T) {
	ref, err := LoadReference(filepath.Join("..", "..", "configs", "reference.example.yaml"))
	require.NoError(t, err)
	assert.NotEmpty(t, ref.Protocol.ID)
	assert.NotZero(t, ref.Protocol.GenesisBlock)
	assert.Len(t, ref.Stables, 3)
}

func TestLoadReferenceEmptyPath(t *testing.T) {
	ref, err := LoadReference("")
	require.NoError(t, err)
	assert.Equal(t, "curve-finance", ref.Protocol.ID)
	assert.Empty(t, ref.Blacklist)
}

func TestLoadReferenceErrors(t *testing.T) {
	_, err := LoadReference(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadReference(writeFile(t, "protocol: [unclosed"))
	assert.Error(t, err)

	_, err = LoadReference(writeFile(t, "protocol:\n  name: no id\n"))
	assert.ErrorContains(t, err, "protocol.id is required")
}
