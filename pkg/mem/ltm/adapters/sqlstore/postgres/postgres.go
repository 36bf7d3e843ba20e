package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lexlapax/engram/pkg/errors"
	"github.com/lexlapax/engram/pkg/log"
	"github.com/lexlapax/engram/pkg/mem/ltm"
	"github.com/lexlapax/engram/pkg/mem/ltm/adapters/sqlstore"
	"github.com/lexlapax/engram/pkg/mem/ltm/adapters/sqlstore/migrations"
	"github.com/lexlapax/engram/pkg/mem/record"
	_ "github.com/lib/pq"
)

// PostgresStore implements ltm.Store on PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore with the given connection
// pool. The schema must already be migrated.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies the embedded schema migrations to the database at dsn.
// golang-migrate drives database/sql, so this opens a short-lived lib/pq
// connection alongside the pgx pool.
func Migrate(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	return migrations.Up(db, migrations.Postgres)
}

// Open migrates the database at dsn and returns a store on a new pool.
func Open(ctx context.Context, dsn string) (*PostgresStore, error) {
	if err := Migrate(dsn); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	log.Debug("Initialized PostgreSQL LTM store adapter")
	return NewPostgresStore(pool), nil
}

// Pool returns the underlying pool (used for testing).
func (p *PostgresStore) Pool() *pgxpool.Pool {
	return p.pool
}

// Close closes the pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

const upsertSQL = `INSERT INTO memory_records (
		id, kind, content, payload, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO UPDATE SET
		kind = EXCLUDED.kind,
		content = EXCLUDED.content,
		payload = EXCLUDED.payload,
		updated_at = EXCLUDED.updated_at`

// Save implements ltm.Store.
func (p *PostgresStore) Save(ctx context.Context, rec *record.MemoryRecord) error {
	return p.SaveMany(ctx, []*record.MemoryRecord{rec})
}

// SaveMany implements ltm.Store as a single batch.
func (p *PostgresStore) SaveMany(ctx context.Context, recs []*record.MemoryRecord) error {
	if len(recs) == 0 {
		return nil
	}
	now := time.Now()

	batch := &pgx.Batch{}
	for _, rec := range recs {
		row, err := sqlstore.ToRow(rec, now)
		if err != nil {
			return err
		}
		batch.Queue(upsertSQL, row.ID, row.Kind, row.Content, row.Payload, row.CreatedAt, row.UpdatedAt)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to store records: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (p *PostgresStore) query(ctx context.Context, sqlQuery string, args ...interface{}) ([]*record.MemoryRecord, error) {
	rows, err := p.pool.Query(ctx, sqlQuery, args...)
	if err != nil {
		return nil, err
	}
	collected, err := pgx.CollectRows(rows, pgx.RowToStructByName[sqlstore.Row])
	if err != nil {
		return nil, err
	}
	return sqlstore.Records(collected)
}

// Get implements ltm.Store.
func (p *PostgresStore) Get(ctx context.Context, id string) (*record.MemoryRecord, error) {
	recs, err := p.query(ctx, "SELECT "+sqlstore.Columns+" FROM memory_records WHERE id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve record: %w", err)
	}
	if len(recs) == 0 {
		return nil, errors.Wrap(errors.ErrNotFound, "record %s", id)
	}
	return recs[0], nil
}

// GetByKind implements ltm.Store.
func (p *PostgresStore) GetByKind(ctx context.Context, kind record.Kind) ([]*record.MemoryRecord, error) {
	recs, err := p.query(ctx,
		"SELECT "+sqlstore.Columns+" FROM memory_records WHERE kind = $1 ORDER BY created_at DESC, id",
		string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve records: %w", err)
	}
	return recs, nil
}

// Search implements ltm.Store with ILIKE matching on the whole text and on
// each keyword token.
func (p *PostgresStore) Search(ctx context.Context, q ltm.SearchQuery) ([]*record.MemoryRecord, error) {
	whereClause, args := buildWhereClause(q)
	args = append(args, q.EffectiveLimit())
	sqlQuery := fmt.Sprintf(
		"SELECT %s FROM memory_records WHERE %s ORDER BY created_at DESC, id LIMIT $%d",
		sqlstore.Columns, whereClause, len(args))

	recs, err := p.query(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search records: %w", err)
	}
	log.DebugContext(ctx, "Searched PostgreSQL records", "text", q.Text, "found", len(recs))
	return recs, nil
}

// buildWhereClause constructs the WHERE clause and positional args for q.
func buildWhereClause(q ltm.SearchQuery) (string, []interface{}) {
	conditions := []string{"TRUE"}
	var args []interface{}

	if len(q.Kinds) > 0 {
		kinds := make([]string, len(q.Kinds))
		for i, k := range q.Kinds {
			kinds[i] = string(k)
		}
		args = append(args, kinds)
		conditions = append(conditions, fmt.Sprintf("kind = ANY($%d)", len(args)))
	}
	if terms := ltm.SearchTerms(q.Text); len(terms) > 0 {
		likes := make([]string, len(terms))
		for i, term := range terms {
			args = append(args, term)
			likes[i] = fmt.Sprintf("content ILIKE $%d", len(args))
		}
		conditions = append(conditions, "("+strings.Join(likes, " OR ")+")")
	}
	return strings.Join(conditions, " AND "), args
}

// Delete implements ltm.Store.
func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	return p.DeleteMany(ctx, []string{id})
}

// DeleteMany implements ltm.Store.
func (p *PostgresStore) DeleteMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := p.pool.Exec(ctx, "DELETE FROM memory_records WHERE id = ANY($1)", ids); err != nil {
		return fmt.Errorf("failed to delete records: %w", err)
	}
	return nil
}

// Count implements ltm.Store.
func (p *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM memory_records").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// Clear implements ltm.Store.
func (p *PostgresStore) Clear(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, "DELETE FROM memory_records"); err != nil {
		return fmt.Errorf("failed to clear records: %w", err)
	}
	return nil
}
