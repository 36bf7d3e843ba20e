package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from a byte slice. Keys missing from
// the document keep their Default values.
func LoadFromBytes(data []byte) (*Config, error) {
	config := Default()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvironmentOverrides(config)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// FromEnvironment returns Default with environment overrides applied.
func FromEnvironment() (*Config, error) {
	config := Default()
	applyEnvironmentOverrides(config)
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// applyEnvironmentOverrides applies environment variable overrides to the config.
func applyEnvironmentOverrides(config *Config) {
	if level := os.Getenv("ENGRAM_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if t := os.Getenv("ENGRAM_PERSISTENCE"); t != "" {
		config.Persistence.Type = t
	}

	if path := os.Getenv("ENGRAM_BOLTDB_PATH"); path != "" {
		config.Persistence.BoltDB.Path = path
	}

	if dsn := os.Getenv("ENGRAM_SQLITE_DSN"); dsn != "" {
		config.Persistence.SQLite.DSN = dsn
	}

	// The Postgres DSN also serves pgvector unless that has its own.
	if dsn := os.Getenv("ENGRAM_POSTGRES_DSN"); dsn != "" {
		config.Persistence.Postgres.DSN = dsn
		if config.Semantic.PgVector.ConnectionString == "" {
			config.Semantic.PgVector.ConnectionString = dsn
		}
	}

	if t := os.Getenv("ENGRAM_SEMANTIC"); t != "" {
		config.Semantic.Type = t
	}

	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.Embedding.OpenAI.APIKey = apiKey
	}
}

// validateConfig validates the configuration and fills derived defaults.
func validateConfig(config *Config) error {
	switch strings.ToLower(config.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level: %s", config.Logging.Level)
	}
	switch strings.ToLower(config.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unsupported log format: %s", config.Logging.Format)
	}

	if config.Engine.WorkingSetCapacity <= 0 {
		config.Engine.WorkingSetCapacity = 9
	}
	if config.Engine.CollaboratorTimeout <= 0 {
		return fmt.Errorf("collaborator timeout must be positive")
	}
	if config.Engine.MinSemanticScore < 0 || config.Engine.MinSemanticScore > 1 {
		return fmt.Errorf("min semantic score must be within [0,1]")
	}

	if config.Salience.HalfLife <= 0 {
		return fmt.Errorf("salience half-life must be positive")
	}

	c := config.Consolidation
	if c.LinkThreshold <= 0 || c.LinkThreshold > 1 {
		return fmt.Errorf("consolidation link threshold must be within (0,1]")
	}
	if c.DecayBelow > c.ReinforceAbove {
		return fmt.Errorf("consolidation decay threshold %g exceeds reinforce threshold %g", c.DecayBelow, c.ReinforceAbove)
	}
	if c.LinkSampleSize < 0 || c.StaleMaxAccesses < 0 {
		return fmt.Errorf("consolidation counts must not be negative")
	}

	config.Persistence.Type = strings.ToLower(config.Persistence.Type)
	switch config.Persistence.Type {
	case "", "none", "mock":
	case "boltdb":
		if config.Persistence.BoltDB.Path == "" {
			return fmt.Errorf("boltdb path is required for boltdb persistence")
		}
	case "sqlite":
		if config.Persistence.SQLite.DSN == "" {
			return fmt.Errorf("sqlite DSN is required for sqlite persistence")
		}
	case "postgres":
		if config.Persistence.Postgres.DSN == "" {
			return fmt.Errorf("postgres DSN is required for postgres persistence")
		}
	default:
		return fmt.Errorf("unsupported persistence type: %s", config.Persistence.Type)
	}

	config.Semantic.Type = strings.ToLower(config.Semantic.Type)
	switch config.Semantic.Type {
	case "", "none", "mock":
	case "chromemgo":
		if config.Semantic.ChromemGo.Collection == "" {
			config.Semantic.ChromemGo.Collection = "engram"
		}
	case "pgvector":
		pg := &config.Semantic.PgVector
		if pg.ConnectionString == "" {
			return fmt.Errorf("connection string is required for pgvector indexer")
		}
		if pg.TableName == "" {
			pg.TableName = "engram_vectors"
		}
		if pg.Dimensions <= 0 {
			pg.Dimensions = 1536
		}
		switch strings.ToLower(pg.DistanceMetric) {
		case "":
			pg.DistanceMetric = "cosine"
		case "cosine", "euclidean", "dot":
		default:
			return fmt.Errorf("unsupported distance metric for pgvector: %s (must be cosine, euclidean, or dot)", pg.DistanceMetric)
		}
	default:
		return fmt.Errorf("unsupported semantic indexer type: %s", config.Semantic.Type)
	}

	config.Embedding.Provider = strings.ToLower(config.Embedding.Provider)
	switch config.Embedding.Provider {
	case "", "mock":
		if config.Embedding.Dimensions <= 0 {
			config.Embedding.Dimensions = 64
		}
	case "openai":
		// The key may come from OPENAI_API_KEY, so it is only required when
		// a vector indexer will actually call the provider.
		if config.Embedding.OpenAI.APIKey == "" && needsEmbeddings(config) {
			return fmt.Errorf("OpenAI API key is required for the openai embedding provider")
		}
		if config.Embedding.OpenAI.EmbeddingModel == "" {
			config.Embedding.OpenAI.EmbeddingModel = "text-embedding-3-small"
		}
	default:
		return fmt.Errorf("unsupported embedding provider: %s", config.Embedding.Provider)
	}
	if config.Embedding.CacheSize < 0 {
		return fmt.Errorf("embedding cache size must not be negative")
	}

	if config.Scripting.ScriptTimeoutMs < 0 {
		return fmt.Errorf("script timeout must not be negative")
	}
	return nil
}

func needsEmbeddings(config *Config) bool {
	return config.Semantic.Type == "chromemgo" || config.Semantic.Type == "pgvector"
}
