package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSQLitePragmas(t *testing.T) {
	r, err := NewSQLiteRepo(filepath.Join(t.TempDir(), "pragmas.db"))
	require.NoError(t, err)
	defer r.Close(context.Background())

	var journal string
	require.NoError(t, r.db.QueryRow("PRAGMA journal_mode").Scan(&journal))
	require.Equal(t, "wal", journal)

	var fk int
	require.NoError(t, r.db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	require.Equal(t, 1, fk)

	var version int
	require.NoError(t, r.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version))
	require.Equal(t, 1, version)
}

func TestMapSQLiteErr(t *testing.T) {
	require.Nil(t, mapSQLiteErr(nil))
	err := mapSQLiteErr(errString("constraint failed: UNIQUE constraint failed: documents.external_key (2067)"))
	require.ErrorIs(t, err, ErrDuplicateKey)
	require.NotErrorIs(t, mapSQLiteErr(errString("disk I/O error")), ErrDuplicateKey)
}

type errString string

func (e errString) Error() string { return string(e) }
