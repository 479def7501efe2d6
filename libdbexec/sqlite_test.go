package libdbexec_test

import (
	"context"
	"path/filepath"
	"testing"

	libdb "github.com/chainscribe/chainscribe/libdbexec"
	"github.com/stretchr/testify/require"
)

func TestUnit_SQLiteDBManager_ExecAndQuery(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "local.db")

	schema := `CREATE TABLE IF NOT EXISTS notes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		body TEXT NOT NULL
	);`
	manager, err := libdb.NewSQLiteDBManager(ctx, path, schema)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, manager.Close()) })

	exec := manager.WithoutTransaction()
	_, err = exec.ExecContext(ctx, `INSERT INTO notes (body) VALUES ($1)`, "first")
	require.NoError(t, err)

	var body string
	err = exec.QueryRowContext(ctx, `SELECT body FROM notes WHERE id = $1`, 1).Scan(&body)
	require.NoError(t, err)
	require.Equal(t, "first", body)
}

func TestUnit_SQLiteDBManager_TransactionRollback(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tx.db")

	manager, err := libdb.NewSQLiteDBManager(ctx, path, `CREATE TABLE items (name TEXT);`)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, manager.Close()) })

	tx, _, release, err := manager.WithTransaction(ctx)
	require.NoError(t, err)

	_, err = tx.ExecContext(ctx, `INSERT INTO items (name) VALUES ($1)`, "ghost")
	require.NoError(t, err)

	// Release without commit rolls the insert back.
	require.NoError(t, release())

	var count int
	err = manager.WithoutTransaction().QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}
