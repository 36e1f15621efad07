// Package indexqueue hands index jobs to the external indexer. Publishing is
// best-effort from the orchestrator's point of view: a version whose job was
// lost stays Pending and is picked up again by the reconciler.
package indexqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// IndexJob asks the indexer to (re)index one version blob.
type IndexJob struct {
	VersionID  string    `msgpack:"version_id" json:"versionId"`
	DocumentID string    `msgpack:"document_id" json:"documentId"`
	BlobPath   string    `msgpack:"blob_path,omitempty" json:"blobPath,omitempty"`
	Reindex    bool      `msgpack:"reindex,omitempty" json:"reindex,omitempty"`
	EnqueuedAt time.Time `msgpack:"enqueued_at" json:"enqueuedAt"`
}

// Encode serializes j for the wire.
func (j IndexJob) Encode() ([]byte, error) { return msgpack.Marshal(j) }

// Decode parses a job produced by Encode.
func Decode(b []byte) (IndexJob, error) {
	var j IndexJob
	err := msgpack.Unmarshal(b, &j)
	return j, err
}

// Publisher enqueues index jobs.
type Publisher interface {
	Publish(ctx context.Context, job IndexJob) error
}

// Consumer takes jobs off the queue. Pop blocks up to timeout and returns
// ErrEmpty when nothing arrived.
type Consumer interface {
	Pop(ctx context.Context, timeout time.Duration) (IndexJob, error)
}

var ErrEmpty = errors.New("index queue empty")

// Nop drops every job.
type Nop struct{}

func (Nop) Publish(context.Context, IndexJob) error { return nil }

// MemoryQueue is an unbounded in-process FIFO.
type MemoryQueue struct {
	mu     sync.Mutex
	jobs   []IndexJob
	notify chan struct{}
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{notify: make(chan struct{}, 1)}
}

func (q *MemoryQueue) Publish(ctx context.Context, job IndexJob) error {
	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) Pop(ctx context.Context, timeout time.Duration) (IndexJob, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		q.mu.Lock()
		if len(q.jobs) > 0 {
			j := q.jobs[0]
			q.jobs = q.jobs[1:]
			q.mu.Unlock()
			return j, nil
		}
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return IndexJob{}, ctx.Err()
		case <-timer.C:
			return IndexJob{}, ErrEmpty
		case <-q.notify:
		}
	}
}

// Len returns the number of queued jobs.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
