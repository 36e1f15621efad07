package repository

import (
	"context"
	"errors"
	"time"

	"github.com/regdocs/regdocs/internal/document"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("compare-and-set conflict")
	ErrDuplicateKey = errors.New("duplicate key")
)

// Tx is the transactional view of the metadata store. All reads and writes
// made through a Tx commit or roll back together.
type Tx interface {
	GetDocument(ctx context.Context, id string) (*document.Document, error)
	// LockDocument reads the document row and takes the store's write lock on
	// it for the rest of the transaction, so concurrent transactions touching
	// the same document serialize.
	LockDocument(ctx context.Context, id string) (*document.Document, error)
	GetVersion(ctx context.Context, id string) (*document.Version, error)
	ListVersions(ctx context.Context, documentID string) ([]*document.Version, error)
	// UpsertDocument inserts d when d.ID is empty (assigning the ID) and
	// replaces the stored row otherwise.
	UpsertDocument(ctx context.Context, d *document.Document) error
	UpsertVersion(ctx context.Context, v *document.Version) error
}

// Store is the metadata store capability used by the orchestrator.
type Store interface {
	// RunInTx runs fn in a transaction; a nil return commits, anything else
	// rolls back. fn must use the ctx it is handed.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetDocument(ctx context.Context, id string) (*document.Document, error)
	GetVersion(ctx context.Context, id string) (*document.Version, error)
	ListVersions(ctx context.Context, documentID string) ([]*document.Version, error)
	ListDocuments(ctx context.Context, f document.Filter) ([]*document.Document, error)

	// CompareAndSetIndexStatus applies u only if the stored status equals
	// expected. It returns ErrConflict on mismatch and ErrNotFound for an
	// unknown version.
	CompareAndSetIndexStatus(ctx context.Context, versionID string, expected document.IndexStatus, u document.IndexUpdate) (*document.Version, error)

	// ListVersionsByIndexStatus returns up to limit versions in status whose
	// UpdatedAt is before updatedBefore, oldest first.
	ListVersionsByIndexStatus(ctx context.Context, status document.IndexStatus, updatedBefore time.Time, limit int) ([]*document.Version, error)
	// BlobReferenced reports whether any version row references path.
	BlobReferenced(ctx context.Context, path string) (bool, error)

	Close(ctx context.Context) error
}
