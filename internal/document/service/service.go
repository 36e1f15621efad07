package service

import (
	"context"
	"time"

	"github.com/regdocs/regdocs/internal/document"
)

// Service defines the document business operations used by the handler layer.
type Service interface {
	CreateDocument(ctx context.Context, req CreateDocumentRequest) (*document.Document, error)
	AppendVersion(ctx context.Context, req AppendVersionRequest) (*document.Version, error)

	GetDocument(ctx context.Context, id string) (*document.Document, error)
	ListDocuments(ctx context.Context, f document.Filter) ([]*document.Document, error)
	UpdateDocument(ctx context.Context, id string, req UpdateDocumentRequest) (*document.Document, error)
	DeleteDocument(ctx context.Context, id string) error

	ListVersions(ctx context.Context, documentID string) ([]*document.Version, error)
	GetCurrentVersion(ctx context.Context, documentID string) (*document.Version, error)
	GetVersionsValidOn(ctx context.Context, documentID string, at time.Time) ([]*document.Version, error)
	SetCurrentVersion(ctx context.Context, documentID, versionID string) (*document.Version, error)

	DownloadBlob(ctx context.Context, versionID string) (*Blob, error)
	DownloadURL(ctx context.Context, versionID string, ttl time.Duration) (string, error)

	GetIndexStatus(ctx context.Context, versionID string) (document.IndexState, error)
	RequestReindex(ctx context.Context, versionID string) (document.IndexState, error)
	IndexerCallbacks
}

// IndexerCallbacks is what the external indexer drives.
type IndexerCallbacks interface {
	NotifyIndexingStarted(ctx context.Context, versionID string) (document.IndexState, error)
	NotifyIndexed(ctx context.Context, versionID string, at time.Time) (document.IndexState, error)
	NotifyFailed(ctx context.Context, versionID, message string) (document.IndexState, error)
}

// Content is an optional file attached to a new version.
type Content struct {
	Data        []byte
	FileName    string
	ContentType string
}

// CreateDocumentRequest creates a document with its first version.
// DocumentKey and VersionKey are optional UUIDs; supplying them makes a
// retried request target the same blob path.
type CreateDocumentRequest struct {
	Title        string
	Type         document.DocumentType
	VersionLabel string
	ChangeNote   string
	ValidFrom    time.Time
	ValidTo      *time.Time
	Content      *Content
	DocumentKey  string
	VersionKey   string
}

// AppendVersionRequest adds a version to an existing document. A nil
// MakeCurrent means true.
type AppendVersionRequest struct {
	DocumentID   string
	VersionLabel string
	ChangeNote   string
	ValidFrom    time.Time
	ValidTo      *time.Time
	Content      *Content
	VersionKey   string
	MakeCurrent  *bool
}

func (r AppendVersionRequest) makeCurrent() bool {
	return r.MakeCurrent == nil || *r.MakeCurrent
}

// UpdateDocumentRequest changes document attributes; nil fields are left alone.
type UpdateDocumentRequest struct {
	Title    *string
	Type     *document.DocumentType
	IsActive *bool
}

// Blob is the content of a version as read back from the content store.
type Blob struct {
	Ref  document.BlobRef
	Data []byte
}

const defaultInitialNote = "Initial version"
