package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lexlapax/engram/pkg/errors"
	"github.com/lexlapax/engram/pkg/log"
	"github.com/lexlapax/engram/pkg/mem/ltm"
	"github.com/lexlapax/engram/pkg/mem/ltm/adapters/sqlstore"
	"github.com/lexlapax/engram/pkg/mem/ltm/adapters/sqlstore/migrations"
	"github.com/lexlapax/engram/pkg/mem/record"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements ltm.Store on a SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLiteStore with the given database
// connection. The schema must already be migrated.
func NewSQLiteStore(db *sqlx.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Open connects to dsn, applies migrations and returns the store.
func Open(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite serializes writers anyway, and an in-memory database exists
	// per connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	if err := migrations.Up(db.DB, migrations.SQLite); err != nil {
		db.Close()
		return nil, err
	}
	log.Debug("Initialized SQLite LTM store adapter", "dsn", dsn)
	return NewSQLiteStore(db), nil
}

// DB returns the underlying connection (used for testing).
func (s *SQLiteStore) DB() *sqlx.DB {
	return s.db
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const upsertSQL = `INSERT INTO memory_records (
		id, kind, content, payload, created_at, updated_at
	) VALUES (:id, :kind, :content, :payload, :created_at, :updated_at)
	ON CONFLICT(id) DO UPDATE SET
		kind = excluded.kind,
		content = excluded.content,
		payload = excluded.payload,
		updated_at = excluded.updated_at`

// Save implements ltm.Store.
func (s *SQLiteStore) Save(ctx context.Context, rec *record.MemoryRecord) error {
	return s.SaveMany(ctx, []*record.MemoryRecord{rec})
}

// SaveMany implements ltm.Store.
func (s *SQLiteStore) SaveMany(ctx context.Context, recs []*record.MemoryRecord) error {
	if len(recs) == 0 {
		return nil
	}
	now := time.Now()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range recs {
		row, err := sqlstore.ToRow(rec, now)
		if err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, upsertSQL, row); err != nil {
			return fmt.Errorf("failed to store record: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Get implements ltm.Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*record.MemoryRecord, error) {
	var row sqlstore.Row
	err := s.db.GetContext(ctx, &row, "SELECT "+sqlstore.Columns+" FROM memory_records WHERE id = ?", id)
	if err == sql.ErrNoRows {
		return nil, errors.Wrap(errors.ErrNotFound, "record %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve record: %w", err)
	}
	return row.Record()
}

// GetByKind implements ltm.Store.
func (s *SQLiteStore) GetByKind(ctx context.Context, kind record.Kind) ([]*record.MemoryRecord, error) {
	var rows []sqlstore.Row
	err := s.db.SelectContext(ctx, &rows,
		"SELECT "+sqlstore.Columns+" FROM memory_records WHERE kind = ? ORDER BY created_at DESC, id",
		string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve records: %w", err)
	}
	return sqlstore.Records(rows)
}

// Search implements ltm.Store with LIKE matching on the whole text and on
// each keyword token.
func (s *SQLiteStore) Search(ctx context.Context, q ltm.SearchQuery) ([]*record.MemoryRecord, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if len(q.Kinds) > 0 {
		kinds := make([]string, len(q.Kinds))
		for i, k := range q.Kinds {
			kinds[i] = string(k)
		}
		conditions = append(conditions, "kind IN (?)")
		args = append(args, kinds)
	}
	if terms := ltm.SearchTerms(q.Text); len(terms) > 0 {
		likes := make([]string, len(terms))
		for i, term := range terms {
			likes[i] = "lower(content) LIKE ?"
			args = append(args, term)
		}
		conditions = append(conditions, "("+strings.Join(likes, " OR ")+")")
	}

	query := "SELECT " + sqlstore.Columns + " FROM memory_records"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id LIMIT ?"
	args = append(args, q.EffectiveLimit())

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to build search query: %w", err)
	}

	var rows []sqlstore.Row
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to search records: %w", err)
	}
	log.DebugContext(ctx, "Searched SQLite records", "text", q.Text, "found", len(rows))
	return sqlstore.Records(rows)
}

// Delete implements ltm.Store.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	return s.DeleteMany(ctx, []string{id})
}

// DeleteMany implements ltm.Store.
func (s *SQLiteStore) DeleteMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In("DELETE FROM memory_records WHERE id IN (?)", ids)
	if err != nil {
		return fmt.Errorf("failed to build delete query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to delete records: %w", err)
	}
	return nil
}

// Count implements ltm.Store.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM memory_records"); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// Clear implements ltm.Store.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM memory_records"); err != nil {
		return fmt.Errorf("failed to clear records: %w", err)
	}
	return nil
}
