package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/regdocs/regdocs/internal/document"
	"github.com/regdocs/regdocs/internal/document/repository"
	"github.com/regdocs/regdocs/internal/document/repository/storetest"
)

func TestMemoryRepoConformance(t *testing.T) {
	storetest.TestStore(t, func(t *testing.T) repository.Store {
		return repository.NewMemoryRepo()
	})
}

func TestMemoryRepoCancelledTxDoesNotCommit(t *testing.T) {
	r := repository.NewMemoryRepo()
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	err := r.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		d := &document.Document{ExternalKey: "k", Title: "t", Type: document.TypeLaw, CreatedAt: now, UpdatedAt: now}
		if err := tx.UpsertDocument(ctx, d); err != nil {
			return err
		}
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)

	docs, err := r.ListDocuments(context.Background(), document.Filter{})
	require.NoError(t, err)
	require.Empty(t, docs)
}

func TestMemoryRepoReturnsCopies(t *testing.T) {
	r := repository.NewMemoryRepo()
	now := time.Now()
	d := &document.Document{ExternalKey: "k", Title: "original", Type: document.TypeLaw, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, r.RunInTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		return tx.UpsertDocument(ctx, d)
	}))
	d.Title = "mutated"

	got, err := r.GetDocument(context.Background(), d.ID)
	require.NoError(t, err)
	require.Equal(t, "original", got.Title)
	got.Title = "mutated again"

	again, err := r.GetDocument(context.Background(), d.ID)
	require.NoError(t, err)
	require.Equal(t, "original", again.Title)
}
