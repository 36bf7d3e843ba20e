package testutil

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/lexlapax/engram/pkg/mem/ltm/adapters/sqlstore/migrations"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

// CreateTempSQLiteDB creates a migrated SQLite database in a temporary
// directory. It returns the connection and its DSN; the database is closed
// when the test ends.
func CreateTempSQLiteDB(t *testing.T) (*sqlx.DB, string) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.Join(t.TempDir(), "engram.db"))

	db, err := sqlx.Open("sqlite3", dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, migrations.Up(db.DB, migrations.SQLite))
	return db, dsn
}
