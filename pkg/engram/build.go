package engram

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/lexlapax/engram/pkg/config"
	"github.com/lexlapax/engram/pkg/embed"
	embedmock "github.com/lexlapax/engram/pkg/embed/adapters/mock"
	embedopenai "github.com/lexlapax/engram/pkg/embed/adapters/openai"
	"github.com/lexlapax/engram/pkg/log"
	"github.com/lexlapax/engram/pkg/mem/consolidate"
	"github.com/lexlapax/engram/pkg/mem/ltm"
	"github.com/lexlapax/engram/pkg/mem/ltm/adapters/kv/boltdb"
	ltmmock "github.com/lexlapax/engram/pkg/mem/ltm/adapters/mock"
	"github.com/lexlapax/engram/pkg/mem/ltm/adapters/sqlstore/postgres"
	"github.com/lexlapax/engram/pkg/mem/ltm/adapters/sqlstore/sqlite"
	"github.com/lexlapax/engram/pkg/mem/salience"
	"github.com/lexlapax/engram/pkg/mem/semantic"
	"github.com/lexlapax/engram/pkg/mem/semantic/adapters/chromem_go"
	semmock "github.com/lexlapax/engram/pkg/mem/semantic/adapters/mock"
	"github.com/lexlapax/engram/pkg/mem/semantic/adapters/pgvector"
	"github.com/lexlapax/engram/pkg/scripting"
)

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}

// NewFromConfig builds an engine and its collaborators from cfg. Every
// resource opened here is released by Engine.Close, or immediately when a
// later step fails.
func NewFromConfig(ctx context.Context, cfg *config.Config) (_ *Engine, err error) {
	if cfg == nil {
		cfg = config.Default()
	}

	var (
		opts    []Option
		closers []io.Closer
		scripts scripting.Engine
	)
	defer func() {
		if err != nil {
			if scripts != nil {
				scripts.Close()
			}
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i].Close()
			}
		}
	}()

	persistence, err := newPersistence(ctx, cfg.Persistence)
	if err != nil {
		return nil, err
	}
	if persistence != nil {
		if c, ok := persistence.(ltm.Closer); ok {
			closers = append(closers, c)
		}
		opts = append(opts, WithPersistence(persistence))
	}

	indexer, indexerClosers, err := newIndexer(ctx, cfg)
	closers = append(closers, indexerClosers...)
	if err != nil {
		return nil, err
	}
	if indexer != nil {
		opts = append(opts, WithIndexer(indexer))
	}

	if len(cfg.Scripting.Paths) > 0 {
		if scripts, err = newScripting(cfg.Scripting); err != nil {
			return nil, err
		}
		opts = append(opts, WithScripting(scripts))
	}

	c := cfg.Consolidation
	opts = append(opts,
		WithSalience(salience.Params{
			HalfLife:         cfg.Salience.HalfLife,
			FrequencyWeight:  cfg.Salience.FrequencyWeight,
			ConnectionWeight: cfg.Salience.ConnectionWeight,
		}),
		WithTimeout(cfg.Engine.CollaboratorTimeout),
		WithMinSemanticScore(cfg.Engine.MinSemanticScore),
		WithWorkingSet(cfg.Engine.WorkingSetCapacity, cfg.Engine.WorkingSetRetention),
		WithSweepInterval(cfg.Engine.SweepInterval),
		WithConsolidation(consolidate.Config{
			ReinforceAbove:   c.ReinforceAbove,
			DecayBelow:       c.DecayBelow,
			StaleAfter:       c.StaleAfter,
			StaleMaxAccesses: c.StaleMaxAccesses,
			Cooldown:         c.Cooldown,
			LinkSampleSize:   c.LinkSampleSize,
			LinkThreshold:    c.LinkThreshold,
			Interval:         c.Interval,
			Timeout:          cfg.Engine.CollaboratorTimeout,
		}, c.Enabled),
	)
	for _, cl := range closers {
		opts = append(opts, withCloser(cl))
	}

	log.InfoContext(ctx, "Building engine from configuration",
		"persistence", cfg.Persistence.Type,
		"semantic", cfg.Semantic.Type,
		"embedding", cfg.Embedding.Provider,
		"scripts", len(cfg.Scripting.Paths),
	)
	return New(opts...), nil
}

func newPersistence(ctx context.Context, cfg config.PersistenceConfig) (ltm.Store, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "mock":
		return ltmmock.NewMockStore(), nil
	case "boltdb":
		s, err := boltdb.Open(ctx, cfg.BoltDB.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open boltdb persistence: %w", err)
		}
		return s, nil
	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.SQLite.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite persistence: %w", err)
		}
		return s, nil
	case "postgres":
		s, err := postgres.Open(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres persistence: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported persistence type: %s", cfg.Type)
	}
}

func newEmbedder(cfg config.EmbeddingConfig) (embed.Embedder, []io.Closer, error) {
	var inner embed.Embedder
	switch cfg.Provider {
	case "", "mock":
		inner = embedmock.NewMockEmbedder(embedmock.WithDimensions(cfg.Dimensions))
	case "openai":
		a, err := embedopenai.NewOpenAIAdapter(embedopenai.Config{
			APIKey:         cfg.OpenAI.APIKey,
			EmbeddingModel: cfg.OpenAI.EmbeddingModel,
			BaseURL:        cfg.OpenAI.BaseURL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create OpenAI embedder: %w", err)
		}
		inner = a
	default:
		return nil, nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}

	if cfg.CacheSize <= 0 {
		return inner, nil, nil
	}
	cached, err := embed.NewCachedEmbedder(inner, cfg.CacheSize)
	if err != nil {
		return nil, nil, err
	}
	return cached, []io.Closer{closerFunc(cached.Close)}, nil
}

func newIndexer(ctx context.Context, cfg *config.Config) (semantic.Indexer, []io.Closer, error) {
	switch cfg.Semantic.Type {
	case "", "none":
		return nil, nil, nil
	case "mock":
		return semmock.NewMockIndexer(), nil, nil
	}

	embedder, closers, err := newEmbedder(cfg.Embedding)
	if err != nil {
		return nil, closers, err
	}

	switch cfg.Semantic.Type {
	case "chromemgo":
		a, err := chromem_go.Open(cfg.Semantic.ChromemGo.StoragePath, cfg.Semantic.ChromemGo.Collection, embedder)
		if err != nil {
			return nil, closers, err
		}
		return a, closers, nil
	case "pgvector":
		pg := cfg.Semantic.PgVector
		dims := pg.Dimensions
		if cfg.Embedding.Provider == "mock" {
			dims = cfg.Embedding.Dimensions
		}
		a, err := pgvector.NewPgvectorAdapter(ctx, pgvector.PgvectorConfig{
			ConnectionString: pg.ConnectionString,
			TableName:        pg.TableName,
			DimensionSize:    dims,
			DistanceMetric:   pg.DistanceMetric,
		}, embedder)
		if err != nil {
			return nil, closers, err
		}
		return a, append(closers, closerFunc(a.Close)), nil
	default:
		return nil, closers, fmt.Errorf("unsupported semantic indexer type: %s", cfg.Semantic.Type)
	}
}

func newScripting(cfg config.ScriptingConfig) (scripting.Engine, error) {
	sc := scripting.DefaultConfig()
	sc.EnableSandboxing = cfg.EnableSandboxing
	if cfg.ScriptTimeoutMs > 0 {
		sc.ScriptTimeoutMs = cfg.ScriptTimeoutMs
	}
	engine, err := scripting.NewLuaEngine(sc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Lua engine: %w", err)
	}

	for _, path := range cfg.Paths {
		info, err := os.Stat(path)
		if err != nil {
			engine.Close()
			return nil, fmt.Errorf("failed to stat script path %s: %w", path, err)
		}
		if info.IsDir() {
			err = engine.LoadScriptDir(path)
		} else {
			err = engine.LoadScriptFile(path)
		}
		if err != nil {
			engine.Close()
			return nil, err
		}
	}
	return engine, nil
}
