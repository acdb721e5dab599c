package sqlitedb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "records.db")

	db, err := Open(path, `CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v TEXT)`)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`INSERT INTO kv (k, v) VALUES ('mal_1', 'ok')`)
	require.NoError(t, err)

	var mode string
	require.NoError(t, db.QueryRow(`PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", mode)

	var v string
	require.NoError(t, db.QueryRow(`SELECT v FROM kv WHERE k = 'mal_1'`).Scan(&v))
	assert.Equal(t, "ok", v)
}

func TestOpen_BadSchema(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "bad.db"), `CREATE TABLE (`)
	assert.Error(t, err)
}
