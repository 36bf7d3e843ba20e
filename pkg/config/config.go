// Package config holds the YAML configuration of an engram engine.
package config

import "time"

// Config represents the top-level configuration of the engine.
type Config struct {
	// Logging configures the logging behavior
	Logging LoggingConfig `yaml:"logging"`

	// Engine configures the in-memory engine itself
	Engine EngineConfig `yaml:"engine"`

	// Salience tunes the retrieval-likelihood score
	Salience SalienceConfig `yaml:"salience"`

	// Consolidation configures the maintenance pass
	Consolidation ConsolidationConfig `yaml:"consolidation"`

	// Persistence selects the durable store collaborator
	Persistence PersistenceConfig `yaml:"persistence"`

	// Semantic selects the semantic indexer collaborator
	Semantic SemanticConfig `yaml:"semantic"`

	// Embedding configures the embedding provider used by vector indexers
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Scripting configures the Lua hooks
	Scripting ScriptingConfig `yaml:"scripting"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	// Level is the logging level ("debug", "info", "warn", "error")
	Level string `yaml:"level"`

	// Format is the output format ("text", "json")
	Format string `yaml:"format"`
}

// EngineConfig configures the working set and collaborator calls.
type EngineConfig struct {
	WorkingSetCapacity  int           `yaml:"working_set_capacity"`
	WorkingSetRetention time.Duration `yaml:"working_set_retention"`

	// SweepInterval is how often expired working-set entries are evicted
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// CollaboratorTimeout bounds every persistence and semantic indexer call
	CollaboratorTimeout time.Duration `yaml:"collaborator_timeout"`

	// MinSemanticScore drops weaker semantic matches from retrieval
	MinSemanticScore float64 `yaml:"min_semantic_score"`
}

// SalienceConfig tunes the salience factors.
type SalienceConfig struct {
	HalfLife         time.Duration `yaml:"half_life"`
	FrequencyWeight  float64       `yaml:"frequency_weight"`
	ConnectionWeight float64       `yaml:"connection_weight"`
}

// ConsolidationConfig configures the maintenance pass.
type ConsolidationConfig struct {
	// Enabled starts the periodic loop with the engine
	Enabled bool `yaml:"enabled"`

	Interval         time.Duration `yaml:"interval"`
	Cooldown         time.Duration `yaml:"cooldown"`
	ReinforceAbove   float64       `yaml:"reinforce_above"`
	DecayBelow       float64       `yaml:"decay_below"`
	StaleAfter       time.Duration `yaml:"stale_after"`
	StaleMaxAccesses int           `yaml:"stale_max_accesses"`
	LinkSampleSize   int           `yaml:"link_sample_size"`
	LinkThreshold    float64       `yaml:"link_threshold"`
}

// PersistenceConfig selects the durable store.
type PersistenceConfig struct {
	// Type is the backend ("none", "mock", "boltdb", "sqlite", "postgres")
	Type string `yaml:"type"`

	BoltDB   BoltDBConfig   `yaml:"boltdb"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// BoltDBConfig configures the bbolt store.
type BoltDBConfig struct {
	// Path is the database file
	Path string `yaml:"path"`
}

// SQLiteConfig configures the SQLite store.
type SQLiteConfig struct {
	// DSN is the data source name, a file path or ":memory:"
	DSN string `yaml:"dsn"`
}

// PostgresConfig configures the PostgreSQL store.
type PostgresConfig struct {
	// DSN is the connection string
	DSN string `yaml:"dsn"`
}

// SemanticConfig selects the semantic indexer.
type SemanticConfig struct {
	// Type is the indexer ("none", "mock", "chromemgo", "pgvector")
	Type string `yaml:"type"`

	ChromemGo ChromemGoConfig `yaml:"chromemgo"`
	PgVector  PgVectorConfig  `yaml:"pgvector"`
}

// ChromemGoConfig configures the embedded chromem-go indexer.
type ChromemGoConfig struct {
	// Collection is the collection name to use
	Collection string `yaml:"collection"`

	// StoragePath is the path for on-disk persistent storage (if empty, in-memory is used)
	StoragePath string `yaml:"storage_path"`
}

// PgVectorConfig configures PostgreSQL with the pgvector extension.
type PgVectorConfig struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string `yaml:"connection_string"`

	// TableName is the name of the table to use
	TableName string `yaml:"table_name"`

	// Dimensions specifies the embedding dimensions
	Dimensions int `yaml:"dimensions"`

	// DistanceMetric is the distance metric to use (cosine, euclidean, dot)
	DistanceMetric string `yaml:"distance_metric"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	// Provider is "mock" or "openai"
	Provider string `yaml:"provider"`

	// CacheSize is the number of embeddings kept in memory; 0 disables the cache
	CacheSize int `yaml:"cache_size"`

	// Dimensions is the vector size of the mock provider
	Dimensions int `yaml:"dimensions"`

	OpenAI OpenAIConfig `yaml:"openai"`
}

// OpenAIConfig configures OpenAI embeddings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key
	APIKey string `yaml:"api_key"`

	// EmbeddingModel is the model to use for generating embeddings
	EmbeddingModel string `yaml:"embedding_model"`

	// BaseURL overrides the API endpoint, for compatible servers
	BaseURL string `yaml:"base_url"`
}

// ScriptingConfig configures the Lua scripting engine.
type ScriptingConfig struct {
	// Paths is a list of script files or directories of *.lua scripts
	Paths []string `yaml:"paths"`

	// EnableSandboxing removes os, io and code-loading functions
	EnableSandboxing bool `yaml:"enable_sandboxing"`

	// ScriptTimeoutMs bounds a single hook call
	ScriptTimeoutMs int `yaml:"script_timeout_ms"`
}

// Default returns the configuration used when no file is given: everything
// in memory, mock embeddings, no collaborators.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Engine: EngineConfig{
			WorkingSetCapacity:  9,
			WorkingSetRetention: 10 * time.Minute,
			SweepInterval:       time.Minute,
			CollaboratorTimeout: 2 * time.Second,
		},
		Salience: SalienceConfig{
			HalfLife:         7 * 24 * time.Hour,
			FrequencyWeight:  0.2,
			ConnectionWeight: 0.05,
		},
		Consolidation: ConsolidationConfig{
			Enabled:          true,
			Interval:         time.Hour,
			Cooldown:         12 * time.Hour,
			ReinforceAbove:   0.7,
			DecayBelow:       0.3,
			StaleAfter:       30 * 24 * time.Hour,
			StaleMaxAccesses: 3,
			LinkSampleSize:   10,
			LinkThreshold:    0.85,
		},
		Persistence: PersistenceConfig{Type: "none"},
		Semantic: SemanticConfig{
			Type:      "none",
			ChromemGo: ChromemGoConfig{Collection: "engram"},
			PgVector: PgVectorConfig{
				TableName:      "engram_vectors",
				Dimensions:     1536,
				DistanceMetric: "cosine",
			},
		},
		Embedding: EmbeddingConfig{
			Provider:   "mock",
			CacheSize:  10000,
			Dimensions: 64,
			OpenAI:     OpenAIConfig{EmbeddingModel: "text-embedding-3-small"},
		},
		Scripting: ScriptingConfig{EnableSandboxing: true, ScriptTimeoutMs: 1000},
	}
}
