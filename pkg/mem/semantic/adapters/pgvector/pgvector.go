package pgvector

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lexlapax/engram/pkg/embed"
	"github.com/lexlapax/engram/pkg/log"
	"github.com/lexlapax/engram/pkg/mem/record"
	"github.com/lexlapax/engram/pkg/mem/semantic"
)

// ErrDimensionMismatch is returned when an embedding does not fit the table.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// PgvectorConfig contains the configuration for a Pgvector adapter.
type PgvectorConfig struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// TableName is the name of the table to use
	TableName string

	// DimensionSize is the size of vector embeddings
	DimensionSize int

	// DistanceMetric is the distance metric to use (cosine, euclidean, dot)
	DistanceMetric string
}

// PgvectorAdapter implements semantic.Indexer using PostgreSQL with the
// pgvector extension.
type PgvectorAdapter struct {
	db             *pgxpool.Pool
	embedder       embed.Embedder
	tableName      string
	dimensionSize  int
	distanceMetric string
}

// NewPgvectorAdapter connects, ensures the extension and table exist, and
// returns the adapter.
func NewPgvectorAdapter(ctx context.Context, config PgvectorConfig, embedder embed.Embedder) (*PgvectorAdapter, error) {
	if config.ConnectionString == "" {
		return nil, errors.New("connection string cannot be empty")
	}
	if embedder == nil {
		return nil, errors.New("embedder cannot be nil")
	}
	if config.TableName == "" {
		config.TableName = "engram_vectors"
	}
	if config.DimensionSize <= 0 {
		config.DimensionSize = 1536
	}
	if config.DistanceMetric == "" {
		config.DistanceMetric = "cosine"
	}
	config.DistanceMetric = strings.ToLower(config.DistanceMetric)
	if _, ok := distanceOps[config.DistanceMetric]; !ok {
		return nil, fmt.Errorf("unsupported distance metric: %s (must be cosine, euclidean, or dot)", config.DistanceMetric)
	}

	db, err := pgxpool.New(ctx, config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	adapter := &PgvectorAdapter{
		db:             db,
		embedder:       embedder,
		tableName:      config.TableName,
		dimensionSize:  config.DimensionSize,
		distanceMetric: config.DistanceMetric,
	}
	if err := adapter.initializeTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize pgvector table: %w", err)
	}
	return adapter, nil
}

// distanceOps maps a metric to its pgvector operator and index opclass.
var distanceOps = map[string]struct{ operator, opclass string }{
	"cosine":    {"<=>", "vector_cosine_ops"},
	"euclidean": {"<->", "vector_l2_ops"},
	"dot":       {"<#>", "vector_ip_ops"},
}

func (a *PgvectorAdapter) initializeTable(ctx context.Context) error {
	if _, err := a.db.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create pgvector extension: %w", err)
	}

	_, err := a.db.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding VECTOR(%d) NOT NULL
		)
	`, a.tableName, a.dimensionSize))
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	ops := distanceOps[a.distanceMetric]
	_, err = a.db.Exec(ctx, fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding %s)",
		a.tableName, a.tableName, ops.opclass))
	if err != nil {
		return fmt.Errorf("failed to create embedding index: %w", err)
	}
	return nil
}

// Close closes the database connection pool.
func (a *PgvectorAdapter) Close() {
	a.db.Close()
}

// DB returns the underlying database connection pool (used for testing).
func (a *PgvectorAdapter) DB() *pgxpool.Pool {
	return a.db
}

func (a *PgvectorAdapter) embed(ctx context.Context, text string) (string, error) {
	v, err := embed.EmbedOne(ctx, a.embedder, text)
	if err != nil {
		return "", err
	}
	if len(v) != a.dimensionSize {
		return "", fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(v), a.dimensionSize)
	}
	return embedToString(v), nil
}

// Index implements semantic.Indexer.
func (a *PgvectorAdapter) Index(ctx context.Context, rec *record.MemoryRecord) error {
	text := semantic.Document(rec)
	embedding, err := a.embed(ctx, text)
	if err != nil {
		return fmt.Errorf("failed to embed record %s: %w", rec.ID, err)
	}

	_, err = a.db.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, kind, content, embedding)
		VALUES ($1, $2, $3, $4::vector)
		ON CONFLICT (id) DO UPDATE SET
			kind = $2,
			content = $3,
			embedding = $4::vector
	`, a.tableName), rec.ID, string(rec.Kind), text, embedding)
	if err != nil {
		return fmt.Errorf("failed to index record %s: %w", rec.ID, err)
	}

	log.DebugContext(ctx, "Indexed record in pgvector", "record_id", rec.ID, "table", a.tableName)
	return nil
}

// Reindex implements semantic.Indexer.
func (a *PgvectorAdapter) Reindex(ctx context.Context, rec *record.MemoryRecord) error {
	return a.Index(ctx, rec)
}

// Remove implements semantic.Indexer.
func (a *PgvectorAdapter) Remove(ctx context.Context, id string) error {
	if _, err := a.db.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", a.tableName), id); err != nil {
		return fmt.Errorf("failed to remove record %s: %w", id, err)
	}
	return nil
}

// SemanticSearch implements semantic.Indexer.
func (a *PgvectorAdapter) SemanticSearch(ctx context.Context, text string, limit int, minScore float64) ([]semantic.Match, error) {
	embedding, err := a.embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return a.nearest(ctx, "$1::vector", []interface{}{embedding}, "", limit, minScore)
}

// FindSimilar implements semantic.Indexer.
func (a *PgvectorAdapter) FindSimilar(ctx context.Context, id string, limit int, minSimilarity float64) ([]semantic.Match, error) {
	probe := fmt.Sprintf("(SELECT embedding FROM %s WHERE id = $1)", a.tableName)
	return a.nearest(ctx, probe, []interface{}{id}, id, limit, minSimilarity)
}

func (a *PgvectorAdapter) nearest(ctx context.Context, probe string, args []interface{}, exclude string, limit int, minScore float64) ([]semantic.Match, error) {
	if limit <= 0 {
		return nil, nil
	}
	ops := distanceOps[a.distanceMetric]
	args = append(args, exclude, limit)
	sqlQuery := fmt.Sprintf(`
		SELECT id, embedding %s %s AS distance
		FROM %s
		WHERE id <> $%d
		ORDER BY distance
		LIMIT $%d
	`, ops.operator, probe, a.tableName, len(args)-1, len(args))

	rows, err := a.db.Query(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to perform semantic search: %w", err)
	}
	defer rows.Close()

	var out []semantic.Match
	for rows.Next() {
		var (
			id       string
			distance *float64
		)
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if distance == nil {
			// The probe id is not indexed.
			continue
		}
		if score := a.similarity(*distance); score >= minScore {
			out = append(out, semantic.Match{ID: id, Score: score})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	semantic.SortMatches(out)
	return out, nil
}

// Embedding returns the stored vector of id.
func (a *PgvectorAdapter) Embedding(ctx context.Context, id string) ([]float32, error) {
	var raw string
	err := a.db.QueryRow(ctx, fmt.Sprintf("SELECT embedding::text FROM %s WHERE id = $1", a.tableName), id).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load embedding for %s: %w", id, err)
	}
	return stringToEmbed(raw)
}

// similarity converts a pgvector distance into a higher-is-better score.
func (a *PgvectorAdapter) similarity(distance float64) float64 {
	switch a.distanceMetric {
	case "euclidean":
		return 1 / (1 + distance)
	case "dot":
		// <#> returns the negative inner product.
		return -distance
	default:
		return 1 - distance
	}
}

// embedToString converts []float32 to the pgvector text format.
func embedToString(embedding []float32) string {
	elements := make([]string, len(embedding))
	for i, v := range embedding {
		elements[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(elements, ",") + "]"
}

// stringToEmbed parses the pgvector text format.
func stringToEmbed(embeddingStr string) ([]float32, error) {
	embeddingStr = strings.TrimSpace(embeddingStr)
	embeddingStr = strings.TrimPrefix(embeddingStr, "[")
	embeddingStr = strings.TrimSuffix(embeddingStr, "]")
	if embeddingStr == "" {
		return nil, nil
	}

	elements := strings.Split(embeddingStr, ",")
	embedding := make([]float32, len(elements))
	for i, element := range elements {
		val, err := strconv.ParseFloat(strings.TrimSpace(element), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid embedding element %q: %w", element, err)
		}
		embedding[i] = float32(val)
	}
	return embedding, nil
}
