// Package storetest is a conformance suite for repository.Store
// implementations. Each backend runs it from its own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/regdocs/regdocs/internal/document"
	"github.com/regdocs/regdocs/internal/document/repository"
)

// base is truncated to milliseconds because Mongo stores BSON datetimes at
// that precision.
var base = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func day(n int) time.Time { return base.AddDate(0, 0, n) }

func newDoc(title string, typ document.DocumentType) *document.Document {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &document.Document{
		ExternalKey: uuid.NewString(),
		Title:       title,
		Type:        typ,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func newVersion(documentID, label string, from time.Time, to *time.Time, current bool) *document.Version {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &document.Version{
		ExternalKey: uuid.NewString(),
		DocumentID:  documentID,
		Label:       label,
		ValidFrom:   from,
		ValidTo:     to,
		IsCurrent:   current,
		ChangeNote:  "note",
		IndexStatus: document.IndexPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func put(t *testing.T, s repository.Store, d *document.Document, vs ...*document.Version) {
	t.Helper()
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		if err := tx.UpsertDocument(ctx, d); err != nil {
			return err
		}
		for _, v := range vs {
			v.DocumentID = d.ID
			if err := tx.UpsertVersion(ctx, v); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

// TestStore runs the suite. newStore must return a fresh, empty store for each
// sub-test.
func TestStore(t *testing.T, newStore func(t *testing.T) repository.Store) {
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		s := newStore(t)
		d := newDoc("Zakon o radu", document.TypeLaw)
		to := day(30)
		v := newVersion("", "v1", day(0), &to, true)
		v.Blob = &document.BlobRef{Path: "k/v1/x.pdf", FileName: "x.pdf", SizeBytes: 42, ContentType: "application/pdf", SHA256: "abc"}
		put(t, s, d, v)
		require.NotEmpty(t, d.ID)
		require.NotEmpty(t, v.ID)

		gotDoc, err := s.GetDocument(ctx, d.ID)
		require.NoError(t, err)
		require.Equal(t, "Zakon o radu", gotDoc.Title)
		require.Equal(t, document.TypeLaw, gotDoc.Type)
		require.Equal(t, d.ExternalKey, gotDoc.ExternalKey)
		require.True(t, gotDoc.IsActive)

		gotVer, err := s.GetVersion(ctx, v.ID)
		require.NoError(t, err)
		require.Equal(t, d.ID, gotVer.DocumentID)
		require.Equal(t, "v1", gotVer.Label)
		require.True(t, gotVer.ValidFrom.Equal(day(0)))
		require.NotNil(t, gotVer.ValidTo)
		require.True(t, gotVer.ValidTo.Equal(to))
		require.True(t, gotVer.IsCurrent)
		require.Equal(t, document.IndexPending, gotVer.IndexStatus)
		require.Nil(t, gotVer.IndexedAt)
		require.Equal(t, *v.Blob, *gotVer.Blob)
	})

	t.Run("VersionWithoutBlob", func(t *testing.T) {
		s := newStore(t)
		d := newDoc("Pravilnik", document.TypeRulebook)
		v := newVersion("", "v1", day(0), nil, true)
		put(t, s, d, v)

		got, err := s.GetVersion(ctx, v.ID)
		require.NoError(t, err)
		require.Nil(t, got.Blob)
		require.Nil(t, got.ValidTo)
	})

	t.Run("GetUnknown", func(t *testing.T) {
		s := newStore(t)
		for _, id := range []string{"999999", "does-not-exist"} {
			_, err := s.GetDocument(ctx, id)
			require.ErrorIs(t, err, repository.ErrNotFound)
			_, err = s.GetVersion(ctx, id)
			require.ErrorIs(t, err, repository.ErrNotFound)
		}
		err := s.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			_, err := tx.LockDocument(ctx, "999999")
			return err
		})
		require.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("RollbackOnError", func(t *testing.T) {
		s := newStore(t)
		boom := errors.New("boom")
		d := newDoc("Rolled back", document.TypeLaw)
		err := s.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			if err := tx.UpsertDocument(ctx, d); err != nil {
				return err
			}
			v := newVersion(d.ID, "v1", day(0), nil, true)
			if err := tx.UpsertVersion(ctx, v); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		docs, err := s.ListDocuments(ctx, document.Filter{})
		require.NoError(t, err)
		require.Empty(t, docs)
	})

	t.Run("TxSeesOwnWrites", func(t *testing.T) {
		s := newStore(t)
		d := newDoc("Own writes", document.TypeLaw)
		err := s.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			if err := tx.UpsertDocument(ctx, d); err != nil {
				return err
			}
			if err := tx.UpsertVersion(ctx, newVersion(d.ID, "v1", day(0), nil, true)); err != nil {
				return err
			}
			got, err := tx.GetDocument(ctx, d.ID)
			if err != nil {
				return err
			}
			if got.Title != d.Title {
				return fmt.Errorf("title %q", got.Title)
			}
			vs, err := tx.ListVersions(ctx, d.ID)
			if err != nil {
				return err
			}
			if len(vs) != 1 {
				return fmt.Errorf("expected 1 version, got %d", len(vs))
			}
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("ListVersionsOrder", func(t *testing.T) {
		s := newStore(t)
		d := newDoc("Ordered", document.TypeLaw)
		put(t, s, d,
			newVersion("", "v1", day(0), nil, false),
			newVersion("", "v3", day(20), nil, true),
			newVersion("", "v2", day(10), nil, false))

		vs, err := s.ListVersions(ctx, d.ID)
		require.NoError(t, err)
		require.Len(t, vs, 3)
		require.Equal(t, []string{"v3", "v2", "v1"}, []string{vs[0].Label, vs[1].Label, vs[2].Label})

		none, err := s.ListVersions(ctx, "999999")
		require.NoError(t, err)
		require.Empty(t, none)
	})

	t.Run("OneCurrentPerDocument", func(t *testing.T) {
		s := newStore(t)
		d := newDoc("Single current", document.TypeLaw)
		v1 := newVersion("", "v1", day(0), nil, true)
		put(t, s, d, v1)

		err := s.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			return tx.UpsertVersion(ctx, newVersion(d.ID, "v2", day(1), nil, true))
		})
		require.ErrorIs(t, err, repository.ErrDuplicateKey)

		vs, err := s.ListVersions(ctx, d.ID)
		require.NoError(t, err)
		require.Len(t, vs, 1)

		// flipping the flag inside one transaction is fine
		v2 := newVersion(d.ID, "v2", day(1), nil, true)
		err = s.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			old, err := tx.GetVersion(ctx, v1.ID)
			if err != nil {
				return err
			}
			old.IsCurrent = false
			if err := tx.UpsertVersion(ctx, old); err != nil {
				return err
			}
			return tx.UpsertVersion(ctx, v2)
		})
		require.NoError(t, err)
		vs, err = s.ListVersions(ctx, d.ID)
		require.NoError(t, err)
		require.Len(t, vs, 2)
		require.Equal(t, v2.ID, document.Current(vs).ID)
	})

	t.Run("DuplicateExternalKey", func(t *testing.T) {
		s := newStore(t)
		d := newDoc("First", document.TypeLaw)
		put(t, s, d)
		dup := newDoc("Second", document.TypeLaw)
		dup.ExternalKey = d.ExternalKey
		err := s.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			return tx.UpsertDocument(ctx, dup)
		})
		require.ErrorIs(t, err, repository.ErrDuplicateKey)
	})

	t.Run("LockDocumentBumpsRevision", func(t *testing.T) {
		s := newStore(t)
		d := newDoc("Locked", document.TypeLaw)
		put(t, s, d)
		var rev int64
		err := s.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			got, err := tx.LockDocument(ctx, d.ID)
			if err != nil {
				return err
			}
			rev = got.Revision
			return nil
		})
		require.NoError(t, err)
		got, err := s.GetDocument(ctx, d.ID)
		require.NoError(t, err)
		require.Equal(t, rev, got.Revision)
		require.Greater(t, got.Revision, d.Revision)
	})

	t.Run("ListDocumentsFilter", func(t *testing.T) {
		s := newStore(t)
		law := newDoc("Zakon o porezu", document.TypeLaw)
		rule := newDoc("Pravilnik o radu", document.TypeRulebook)
		inactive := newDoc("Stara politika", document.TypeInternalPolicy)
		inactive.IsActive = false
		deleted := newDoc("Obrisani zakon", document.TypeLaw)
		deleted.IsDeleted = true
		to := day(9)
		put(t, s, law, newVersion("", "v1", day(0), &to, true))
		put(t, s, rule, newVersion("", "v1", day(10), nil, true))
		put(t, s, inactive)
		put(t, s, deleted, newVersion("", "v1", day(0), nil, true))

		all, err := s.ListDocuments(ctx, document.Filter{})
		require.NoError(t, err)
		require.Len(t, all, 3)

		laws, err := s.ListDocuments(ctx, document.Filter{Type: document.TypeLaw})
		require.NoError(t, err)
		require.Len(t, laws, 1)
		require.Equal(t, law.ID, laws[0].ID)

		active := true
		act, err := s.ListDocuments(ctx, document.Filter{IsActive: &active})
		require.NoError(t, err)
		require.Len(t, act, 2)

		search, err := s.ListDocuments(ctx, document.Filter{Search: "RADU"})
		require.NoError(t, err)
		require.Len(t, search, 1)
		require.Equal(t, rule.ID, search[0].ID)

		on := day(5)
		valid, err := s.ListDocuments(ctx, document.Filter{ValidOn: &on})
		require.NoError(t, err)
		require.Len(t, valid, 1)
		require.Equal(t, law.ID, valid[0].ID)

		edge := day(9)
		valid, err = s.ListDocuments(ctx, document.Filter{ValidOn: &edge})
		require.NoError(t, err)
		require.Len(t, valid, 1)
	})

	t.Run("CompareAndSetIndexStatus", func(t *testing.T) {
		s := newStore(t)
		d := newDoc("Indexed", document.TypeLaw)
		v := newVersion("", "v1", day(0), nil, true)
		put(t, s, d, v)

		now := time.Now().UTC().Truncate(time.Millisecond)
		got, err := s.CompareAndSetIndexStatus(ctx, v.ID, document.IndexPending,
			document.IndexUpdate{Status: document.IndexIndexing, UpdatedAt: now})
		require.NoError(t, err)
		require.Equal(t, document.IndexIndexing, got.IndexStatus)

		_, err = s.CompareAndSetIndexStatus(ctx, v.ID, document.IndexPending,
			document.IndexUpdate{Status: document.IndexIndexing, UpdatedAt: now})
		require.ErrorIs(t, err, repository.ErrConflict)

		msg := "parse error"
		got, err = s.CompareAndSetIndexStatus(ctx, v.ID, document.IndexIndexing,
			document.IndexUpdate{Status: document.IndexFailed, IndexError: &msg, UpdatedAt: now})
		require.NoError(t, err)
		require.Equal(t, "parse error", got.IndexError)
		require.Nil(t, got.IndexedAt)

		empty := ""
		got, err = s.CompareAndSetIndexStatus(ctx, v.ID, document.IndexFailed,
			document.IndexUpdate{Status: document.IndexIndexing, UpdatedAt: now})
		require.NoError(t, err)
		require.Equal(t, "parse error", got.IndexError)
		got, err = s.CompareAndSetIndexStatus(ctx, v.ID, document.IndexIndexing,
			document.IndexUpdate{Status: document.IndexIndexed, IndexedAt: &now, IndexError: &empty, UpdatedAt: now})
		require.NoError(t, err)
		require.Empty(t, got.IndexError)
		require.NotNil(t, got.IndexedAt)
		require.True(t, got.IndexedAt.Equal(now))

		stored, err := s.GetVersion(ctx, v.ID)
		require.NoError(t, err)
		require.Equal(t, document.IndexIndexed, stored.IndexStatus)

		_, err = s.CompareAndSetIndexStatus(ctx, "999999", document.IndexPending,
			document.IndexUpdate{Status: document.IndexIndexing})
		require.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("ListVersionsByIndexStatus", func(t *testing.T) {
		s := newStore(t)
		d := newDoc("Queue", document.TypeLaw)
		old := newVersion("", "old", day(0), nil, false)
		old.UpdatedAt = base
		mid := newVersion("", "mid", day(1), nil, false)
		mid.UpdatedAt = base.Add(time.Hour)
		fresh := newVersion("", "fresh", day(2), nil, true)
		fresh.UpdatedAt = base.Add(48 * time.Hour)
		done := newVersion("", "done", day(3), nil, false)
		done.IndexStatus = document.IndexIndexed
		done.UpdatedAt = base
		put(t, s, d, old, mid, fresh, done)

		got, err := s.ListVersionsByIndexStatus(ctx, document.IndexPending, base.Add(24*time.Hour), 0)
		require.NoError(t, err)
		require.Len(t, got, 2)
		require.Equal(t, "old", got[0].Label)
		require.Equal(t, "mid", got[1].Label)

		got, err = s.ListVersionsByIndexStatus(ctx, document.IndexPending, base.Add(24*time.Hour), 1)
		require.NoError(t, err)
		require.Len(t, got, 1)
	})

	t.Run("BlobReferenced", func(t *testing.T) {
		s := newStore(t)
		d := newDoc("Blobs", document.TypeLaw)
		v := newVersion("", "v1", day(0), nil, true)
		v.Blob = &document.BlobRef{Path: "a/b/c.pdf", FileName: "c.pdf", SizeBytes: 1}
		put(t, s, d, v)

		ok, err := s.BlobReferenced(ctx, "a/b/c.pdf")
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = s.BlobReferenced(ctx, "a/b/other.pdf")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("ConcurrentAppendsKeepOneCurrent", func(t *testing.T) {
		s := newStore(t)
		d := newDoc("Contended", document.TypeLaw)
		put(t, s, d)

		const workers = 8
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- s.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
					if _, err := tx.LockDocument(ctx, d.ID); err != nil {
						return err
					}
					vs, err := tx.ListVersions(ctx, d.ID)
					if err != nil {
						return err
					}
					for _, v := range vs {
						if v.IsCurrent {
							v.IsCurrent = false
							if err := tx.UpsertVersion(ctx, v); err != nil {
								return err
							}
						}
					}
					return tx.UpsertVersion(ctx, newVersion(d.ID, fmt.Sprintf("v%d", i), day(i), nil, true))
				})
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		vs, err := s.ListVersions(ctx, d.ID)
		require.NoError(t, err)
		require.Len(t, vs, workers)
		current := 0
		for _, v := range vs {
			if v.IsCurrent {
				current++
			}
		}
		require.Equal(t, 1, current)
	})
}
