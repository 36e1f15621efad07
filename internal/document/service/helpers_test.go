package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/regdocs/regdocs/internal/document"
	"github.com/regdocs/regdocs/internal/document/repository"
	"github.com/regdocs/regdocs/internal/indexqueue"
	"github.com/regdocs/regdocs/internal/storage"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func date(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	store   repository.Store
	content *faultyContent
	queue   *indexqueue.MemoryQueue
	clock   *clock
	orch    *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithStore(t, repository.NewMemoryRepo())
}

func newFixtureWithStore(t *testing.T, store repository.Store) *fixture {
	t.Helper()
	f := &fixture{
		store:   store,
		content: &faultyContent{ContentStore: storage.NewMemoryStorage()},
		queue:   indexqueue.NewMemoryQueue(),
		clock:   &clock{now: t0},
	}
	f.orch = New(f.store, f.content, WithPublisher(f.queue), WithClock(f.clock.Now))
	return f
}

func (f *fixture) create(t *testing.T, title string, data []byte) *document.Document {
	t.Helper()
	req := CreateDocumentRequest{
		Title:        title,
		Type:         document.TypeLaw,
		VersionLabel: "1.0",
		ValidFrom:    date(2024, 1, 1),
	}
	if data != nil {
		req.Content = &Content{Data: data, FileName: "zakon.pdf"}
	}
	doc, err := f.orch.CreateDocument(context.Background(), req)
	require.NoError(t, err)
	return doc
}

// faultyContent wraps a content store with failure injection.
type faultyContent struct {
	storage.ContentStore
	writeErr  error
	dropWrite bool
	onWrite   func()
	writes    int
	mu        sync.Mutex
}

func (c *faultyContent) Write(ctx context.Context, p string, r io.Reader, size int64, contentType string) error {
	c.mu.Lock()
	c.writes++
	werr, drop, hook := c.writeErr, c.dropWrite, c.onWrite
	c.mu.Unlock()
	if werr != nil {
		return werr
	}
	if drop {
		_, err := io.Copy(io.Discard, r)
		return err
	}
	if err := c.ContentStore.Write(ctx, p, r, size, contentType); err != nil {
		return err
	}
	if hook != nil {
		hook()
	}
	return nil
}

func (c *faultyContent) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

func (c *faultyContent) paths(t *testing.T) []string {
	t.Helper()
	var out []string
	require.NoError(t, c.List(context.Background(), "", func(o storage.ObjectInfo) error {
		out = append(out, o.Path)
		return nil
	}))
	return out
}

// failingCommit runs the transaction body and then fails instead of committing.
type failingCommit struct {
	repository.Store
	err error
}

var errCommit = errors.New("commit: connection reset")

func (s *failingCommit) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	return s.Store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := fn(ctx, tx); err != nil {
			return err
		}
		return s.err
	})
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, indexqueue.IndexJob) error {
	return errors.New("redis: connection refused")
}
