package repository_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/regdocs/regdocs/internal/document/repository"
	"github.com/regdocs/regdocs/internal/document/repository/storetest"
)

func newSQLiteRepo(t *testing.T) *repository.SQLiteRepo {
	t.Helper()
	r, err := repository.NewSQLiteRepo(filepath.Join(t.TempDir(), "regdocs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close(context.Background()) })
	return r
}

func TestSQLiteRepoConformance(t *testing.T) {
	storetest.TestStore(t, func(t *testing.T) repository.Store {
		return newSQLiteRepo(t)
	})
}

func TestSQLiteRepoReopenKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regdocs.db")
	r, err := repository.NewSQLiteRepo(path)
	require.NoError(t, err)
	require.NoError(t, r.Close(context.Background()))

	r, err = repository.NewSQLiteRepo(path)
	require.NoError(t, err)
	require.Equal(t, path, r.Path())
	require.NoError(t, r.Close(context.Background()))
}
