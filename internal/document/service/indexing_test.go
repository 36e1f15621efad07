package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/regdocs/regdocs/internal/document"
)

func TestIndexLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.create(t, "T", []byte("x"))
	id := doc.Versions[0].ID

	st, err := f.orch.GetIndexStatus(ctx, id)
	require.NoError(t, err)
	require.Equal(t, document.IndexPending, st.Status)

	_, err = f.orch.NotifyIndexed(ctx, id, time.Time{})
	require.ErrorIs(t, err, document.ErrInvalidStateTransition)

	st, err = f.orch.NotifyIndexingStarted(ctx, id)
	require.NoError(t, err)
	require.Equal(t, document.IndexIndexing, st.Status)

	_, err = f.orch.NotifyIndexingStarted(ctx, id)
	require.ErrorIs(t, err, document.ErrInvalidStateTransition)

	st, err = f.orch.NotifyFailed(ctx, id, "tika: timeout")
	require.NoError(t, err)
	require.Equal(t, document.IndexFailed, st.Status)
	require.Equal(t, "tika: timeout", st.IndexError)
	require.Nil(t, st.IndexedAt)

	// retry keeps the last error until it resolves
	st, err = f.orch.NotifyIndexingStarted(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "tika: timeout", st.IndexError)

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	st, err = f.orch.NotifyIndexed(ctx, id, at)
	require.NoError(t, err)
	require.Equal(t, document.IndexIndexed, st.Status)
	require.Empty(t, st.IndexError)
	require.NotNil(t, st.IndexedAt)
	require.True(t, at.Equal(*st.IndexedAt))

	_, err = f.orch.NotifyFailed(ctx, id, "late failure")
	require.ErrorIs(t, err, document.ErrInvalidStateTransition)
	_, err = f.orch.NotifyIndexingStarted(ctx, id)
	require.ErrorIs(t, err, document.ErrInvalidStateTransition)

	st, err = f.orch.GetIndexStatus(ctx, id)
	require.NoError(t, err)
	require.Equal(t, document.IndexIndexed, st.Status)
}

func TestMarkFailedKeepsIndexedAt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, "T", nil).Versions[0].ID

	_, err := f.orch.NotifyIndexingStarted(ctx, id)
	require.NoError(t, err)
	first, err := f.orch.NotifyIndexed(ctx, id, time.Time{})
	require.NoError(t, err)
	require.NotNil(t, first.IndexedAt)

	_, err = f.orch.RequestReindex(ctx, id)
	require.NoError(t, err)
	st, err := f.orch.NotifyFailed(ctx, id, "extractor crashed")
	require.NoError(t, err)
	require.Equal(t, document.IndexFailed, st.Status)
	require.NotNil(t, st.IndexedAt)
	require.True(t, first.IndexedAt.Equal(*st.IndexedAt))
}

func TestNotifyFailedRequiresMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, "T", nil).Versions[0].ID
	_, err := f.orch.NotifyIndexingStarted(ctx, id)
	require.NoError(t, err)

	_, err = f.orch.NotifyFailed(ctx, id, "   ")
	require.ErrorIs(t, err, document.ErrValidation)

	st, err := f.orch.GetIndexStatus(ctx, id)
	require.NoError(t, err)
	require.Equal(t, document.IndexIndexing, st.Status)
}

func TestIndexUnknownVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.orch.GetIndexStatus(ctx, "ver-404")
	require.ErrorIs(t, err, document.ErrVersionNotFound)
	_, err = f.orch.NotifyIndexingStarted(ctx, "ver-404")
	require.ErrorIs(t, err, document.ErrVersionNotFound)
	_, err = f.orch.RequestReindex(ctx, "ver-404")
	require.ErrorIs(t, err, document.ErrVersionNotFound)
}

func TestAdvanceDetectsStaleExpectation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, "T", nil).Versions[0].ID

	st, err := f.orch.Advance(ctx, id, document.IndexPending, document.IndexIndexing, document.IndexUpdate{})
	require.NoError(t, err)
	require.Equal(t, document.IndexIndexing, st.Status)

	// a second caller still believes the version is Pending
	_, err = f.orch.Advance(ctx, id, document.IndexPending, document.IndexIndexing, document.IndexUpdate{})
	require.ErrorIs(t, err, document.ErrStaleStateTransition)
	st, err = f.orch.GetIndexStatus(ctx, id)
	require.NoError(t, err)
	require.Equal(t, document.IndexIndexing, st.Status)
	require.Empty(t, st.IndexError)
	require.Nil(t, st.IndexedAt)

	_, err = f.orch.Advance(ctx, id, document.IndexPending, document.IndexIndexed, document.IndexUpdate{})
	require.ErrorIs(t, err, document.ErrInvalidStateTransition)

	_, err = f.orch.Advance(ctx, id, "Archived", document.IndexIndexed, document.IndexUpdate{})
	require.ErrorIs(t, err, document.ErrValidation)

	msg := "boom"
	st, err = f.orch.Advance(ctx, id, document.IndexIndexing, document.IndexFailed, document.IndexUpdate{IndexError: &msg})
	require.NoError(t, err)
	require.Equal(t, "boom", st.IndexError)
}

func TestAdvanceAppliesTransitionEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, "T", nil).Versions[0].ID

	_, err := f.orch.Advance(ctx, id, document.IndexPending, document.IndexIndexing, document.IndexUpdate{})
	require.NoError(t, err)

	// Failed needs a message even on the explicit path
	_, err = f.orch.Advance(ctx, id, document.IndexIndexing, document.IndexFailed, document.IndexUpdate{})
	require.ErrorIs(t, err, document.ErrValidation)
	st, err := f.orch.GetIndexStatus(ctx, id)
	require.NoError(t, err)
	require.Equal(t, document.IndexIndexing, st.Status)

	msg := "  boom "
	st, err = f.orch.Advance(ctx, id, document.IndexIndexing, document.IndexFailed, document.IndexUpdate{IndexError: &msg})
	require.NoError(t, err)
	require.Equal(t, "boom", st.IndexError)

	// caller-supplied fields outside the transition's effects are ignored
	stray := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	st, err = f.orch.Advance(ctx, id, document.IndexFailed, document.IndexIndexing, document.IndexUpdate{IndexedAt: &stray})
	require.NoError(t, err)
	require.Equal(t, document.IndexIndexing, st.Status)
	require.Equal(t, "boom", st.IndexError)
	require.Nil(t, st.IndexedAt)

	st, err = f.orch.Advance(ctx, id, document.IndexIndexing, document.IndexIndexed, document.IndexUpdate{})
	require.NoError(t, err)
	require.Equal(t, document.IndexIndexed, st.Status)
	require.Empty(t, st.IndexError)
	require.NotNil(t, st.IndexedAt)

	stored, err := f.orch.GetIndexStatus(ctx, id)
	require.NoError(t, err)
	require.Equal(t, document.IndexIndexed, stored.Status)
	require.Empty(t, stored.IndexError)
	require.NotNil(t, stored.IndexedAt)
	require.True(t, st.IndexedAt.Equal(*stored.IndexedAt))
}

func TestRequestReindex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.create(t, "T", []byte("x"))
	id := doc.Versions[0].ID
	_, err := f.queue.Pop(ctx, time.Second)
	require.NoError(t, err)

	// Pending only gets a fresh job
	st, err := f.orch.RequestReindex(ctx, id)
	require.NoError(t, err)
	require.Equal(t, document.IndexPending, st.Status)
	job, err := f.queue.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.False(t, job.Reindex)

	_, err = f.orch.NotifyIndexingStarted(ctx, id)
	require.NoError(t, err)
	_, err = f.orch.RequestReindex(ctx, id)
	require.ErrorIs(t, err, document.ErrInvalidStateTransition)
	require.Zero(t, f.queue.Len())

	_, err = f.orch.NotifyIndexed(ctx, id, time.Time{})
	require.NoError(t, err)
	st, err = f.orch.RequestReindex(ctx, id)
	require.NoError(t, err)
	require.Equal(t, document.IndexIndexing, st.Status)
	job, err = f.queue.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, job.Reindex)
	require.Equal(t, id, job.VersionID)
	require.Equal(t, doc.Versions[0].Blob.Path, job.BlobPath)

	// the indexer reports the re-index result directly
	st, err = f.orch.NotifyIndexed(ctx, id, time.Time{})
	require.NoError(t, err)
	require.Equal(t, document.IndexIndexed, st.Status)
}

func TestConcurrentIndexingStartHasOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, "T", nil).Versions[0].ID

	const callers = 16
	var ok, lost atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.orch.NotifyIndexingStarted(ctx, id)
			switch document.KindOf(err) {
			case "":
				ok.Add(1)
			case document.KindStaleStateTransition, document.KindInvalidStateTransition:
				lost.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	require.EqualValues(t, 1, ok.Load())
	require.EqualValues(t, callers-1, lost.Load())
}
