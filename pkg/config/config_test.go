package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromBytes_Full(t *testing.T) {
	data := []byte(`
logging:
  level: debug
  format: json
engine:
  working_set_capacity: 5
  working_set_retention: 2m
  collaborator_timeout: 500ms
consolidation:
  enabled: false
  cooldown: 6h
  link_threshold: 0.9
persistence:
  type: boltdb
  boltdb:
    path: /tmp/engram.db
semantic:
  type: chromemgo
  chromemgo:
    storage_path: /tmp/vectors
embedding:
  provider: mock
  dimensions: 32
scripting:
  paths: [./scripts]
  script_timeout_ms: 250
`)

	cfg, err := LoadFromBytes(data)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 5, cfg.Engine.WorkingSetCapacity)
	assert.Equal(t, 2*time.Minute, cfg.Engine.WorkingSetRetention)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.CollaboratorTimeout)
	assert.False(t, cfg.Consolidation.Enabled)
	assert.Equal(t, 6*time.Hour, cfg.Consolidation.Cooldown)
	assert.Equal(t, 0.9, cfg.Consolidation.LinkThreshold)
	assert.Equal(t, "boltdb", cfg.Persistence.Type)
	assert.Equal(t, "/tmp/engram.db", cfg.Persistence.BoltDB.Path)
	assert.Equal(t, "chromemgo", cfg.Semantic.Type)
	assert.Equal(t, "engram", cfg.Semantic.ChromemGo.Collection)
	assert.Equal(t, "/tmp/vectors", cfg.Semantic.ChromemGo.StoragePath)
	assert.Equal(t, 32, cfg.Embedding.Dimensions)
	assert.Equal(t, []string{"./scripts"}, cfg.Scripting.Paths)
	assert.Equal(t, 250, cfg.Scripting.ScriptTimeoutMs)

	// Untouched keys keep their defaults.
	assert.Equal(t, 0.7, cfg.Consolidation.ReinforceAbove)
	assert.True(t, cfg.Scripting.EnableSandboxing)
}

func TestLoadFromBytes_Empty(t *testing.T) {
	cfg, err := LoadFromBytes(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("ENGRAM_LOG_LEVEL", "warn")
	t.Setenv("ENGRAM_PERSISTENCE", "postgres")
	t.Setenv("ENGRAM_POSTGRES_DSN", "postgres://localhost/engram")
	t.Setenv("ENGRAM_SEMANTIC", "pgvector")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := LoadFromBytes([]byte("embedding:\n  provider: openai\n"))
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "postgres", cfg.Persistence.Type)
	assert.Equal(t, "postgres://localhost/engram", cfg.Persistence.Postgres.DSN)
	assert.Equal(t, "postgres://localhost/engram", cfg.Semantic.PgVector.ConnectionString)
	assert.Equal(t, "sk-test", cfg.Embedding.OpenAI.APIKey)
}

func TestEnvironmentOverrides_Paths(t *testing.T) {
	t.Setenv("ENGRAM_BOLTDB_PATH", "/data/engram.db")
	t.Setenv("ENGRAM_SQLITE_DSN", "file:engram.sqlite")

	cfg, err := FromEnvironment()
	require.NoError(t, err)
	assert.Equal(t, "/data/engram.db", cfg.Persistence.BoltDB.Path)
	assert.Equal(t, "file:engram.sqlite", cfg.Persistence.SQLite.DSN)
	assert.Equal(t, "none", cfg.Persistence.Type)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad log level", "logging:\n  level: loud\n", "unsupported log level"},
		{"bad persistence", "persistence:\n  type: redis\n", "unsupported persistence type"},
		{"boltdb without path", "persistence:\n  type: boltdb\n", "boltdb path is required"},
		{"sqlite without dsn", "persistence:\n  type: sqlite\n", "sqlite DSN is required"},
		{"postgres without dsn", "persistence:\n  type: postgres\n", "postgres DSN is required"},
		{"bad semantic", "semantic:\n  type: faiss\n", "unsupported semantic indexer type"},
		{"pgvector without dsn", "semantic:\n  type: pgvector\n", "connection string is required"},
		{"bad metric", "semantic:\n  type: pgvector\n  pgvector:\n    connection_string: x\n    distance_metric: manhattan\n", "unsupported distance metric"},
		{"bad provider", "embedding:\n  provider: cohere\n", "unsupported embedding provider"},
		{"openai without key", "semantic:\n  type: chromemgo\nembedding:\n  provider: openai\n", "OpenAI API key is required"},
		{"inverted thresholds", "consolidation:\n  reinforce_above: 0.2\n  decay_below: 0.5\n", "exceeds reinforce threshold"},
		{"link threshold", "consolidation:\n  link_threshold: 1.5\n", "link threshold"},
		{"zero timeout", "engine:\n  collaborator_timeout: 0s\n", "collaborator timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OPENAI_API_KEY", "")
			_, err := LoadFromBytes([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidation_FillsDefaults(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(`
engine:
  working_set_capacity: 0
semantic:
  type: PGVECTOR
  pgvector:
    connection_string: postgres://localhost/engram
    table_name: ""
    dimensions: 0
    distance_metric: ""
`))
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Engine.WorkingSetCapacity)
	assert.Equal(t, "pgvector", cfg.Semantic.Type)
	assert.Equal(t, "engram_vectors", cfg.Semantic.PgVector.TableName)
	assert.Equal(t, 1536, cfg.Semantic.PgVector.Dimensions)
	assert.Equal(t, "cosine", cfg.Semantic.PgVector.DistanceMetric)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engram.yaml")
	require.NoError(t, os.WriteFile(path, []byte("persistence:\n  type: mock\n"), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "mock", cfg.Persistence.Type)

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("engine: [not, a, map]\n"), 0o600))
	_, err = LoadFromFile(path)
	assert.Error(t, err)
}
