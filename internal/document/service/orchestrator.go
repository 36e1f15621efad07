package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/regdocs/regdocs/internal/document"
	"github.com/regdocs/regdocs/internal/document/repository"
	"github.com/regdocs/regdocs/internal/indexqueue"
	"github.com/regdocs/regdocs/internal/storage"
	"github.com/regdocs/regdocs/pkg/logger"
	"github.com/regdocs/regdocs/pkg/metrics"
)

// Orchestrator sequences content and metadata writes. A blob is always written
// and confirmed before the metadata row that references it is committed; a
// commit that fails after the blob landed leaves an orphan for the reconciler
// and is reported as MetadataCommitFailed. The orchestrator never retries.
type Orchestrator struct {
	store    repository.Store
	content  storage.ContentStore
	queue    indexqueue.Publisher
	tracker  *VersionTracker
	indexing *IndexStateMachine
	now      func() time.Time
}

var _ Service = (*Orchestrator)(nil)

type Option func(*Orchestrator)

// WithPublisher sets where index jobs go. The default drops them.
func WithPublisher(p indexqueue.Publisher) Option {
	return func(o *Orchestrator) { o.queue = p }
}

// WithClock overrides time.Now; used by tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func New(store repository.Store, content storage.ContentStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:   store,
		content: content,
		queue:   indexqueue.Nop{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.tracker = NewVersionTracker(o.now)
	o.indexing = NewIndexStateMachine(store, o.now)
	return o
}

func (o *Orchestrator) observe(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(document.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	metrics.Operations.WithLabelValues(op, outcome).Inc()
	metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (o *Orchestrator) CreateDocument(ctx context.Context, req CreateDocumentRequest) (doc *document.Document, err error) {
	const op = "CreateDocument"
	defer func(start time.Time) { o.observe(op, start, err) }(time.Now())

	req.Title = strings.TrimSpace(req.Title)
	req.VersionLabel = strings.TrimSpace(req.VersionLabel)
	if req.Title == "" {
		return nil, document.Validationf(op, "title is required")
	}
	if !req.Type.Valid() {
		return nil, document.Validationf(op, "unknown document type %q", req.Type)
	}
	if req.VersionLabel == "" {
		return nil, document.Validationf(op, "version label is required")
	}
	if err := o.tracker.CheckWindow(op, req.ValidFrom, req.ValidTo); err != nil {
		return nil, err
	}
	if err := checkContent(op, req.Content); err != nil {
		return nil, err
	}
	docKey, err := externalKey(op, "documentKey", req.DocumentKey)
	if err != nil {
		return nil, err
	}
	verKey, err := externalKey(op, "versionKey", req.VersionKey)
	if err != nil {
		return nil, err
	}
	if req.ChangeNote == "" {
		req.ChangeNote = defaultInitialNote
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var blob *document.BlobRef
	if req.Content != nil {
		blob, err = o.writeBlob(ctx, op, storage.BlobPath(docKey, req.VersionLabel, verKey, req.Content.FileName), req.Content)
		if err != nil {
			return nil, err
		}
	}

	var v *document.Version
	err = o.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		now := o.now().UTC()
		doc = &document.Document{
			ExternalKey:    docKey,
			Title:          req.Title,
			Type:           req.Type,
			CurrentVersion: req.VersionLabel,
			IsActive:       true,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.UpsertDocument(ctx, doc); err != nil {
			return err
		}
		v = newVersion(doc.ID, verKey, req.VersionLabel, req.ChangeNote, req.ValidFrom, req.ValidTo, blob, now)
		v.IsCurrent = true
		return tx.UpsertVersion(ctx, v)
	})
	if err != nil {
		return nil, o.commitFailed(op, "", blob, err)
	}

	o.publish(ctx, v, false)
	doc.Versions = []*document.Version{v}
	logger.Infow("document created", "document_id", doc.ID, "version_id", v.ID, "label", v.Label, "blob", blob != nil)
	return doc, nil
}

func (o *Orchestrator) AppendVersion(ctx context.Context, req AppendVersionRequest) (v *document.Version, err error) {
	const op = "AppendVersion"
	defer func(start time.Time) { o.observe(op, start, err) }(time.Now())

	req.VersionLabel = strings.TrimSpace(req.VersionLabel)
	if req.VersionLabel == "" {
		return nil, document.Validationf(op, "version label is required")
	}
	if err := o.tracker.CheckWindow(op, req.ValidFrom, req.ValidTo); err != nil {
		return nil, err
	}
	if err := checkContent(op, req.Content); err != nil {
		return nil, err
	}
	verKey, err := externalKey(op, "versionKey", req.VersionKey)
	if err != nil {
		return nil, err
	}

	// resolved up front so an unknown document never costs a blob write
	current, err := o.liveDocument(ctx, op, req.DocumentID)
	if err != nil {
		return nil, err
	}

	var blob *document.BlobRef
	if req.Content != nil {
		blob, err = o.writeBlob(ctx, op, storage.BlobPath(current.ExternalKey, req.VersionLabel, verKey, req.Content.FileName), req.Content)
		if err != nil {
			return nil, err
		}
	}

	err = o.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		doc, err := tx.LockDocument(ctx, req.DocumentID)
		if errors.Is(err, repository.ErrNotFound) || (err == nil && doc.IsDeleted) {
			return &document.Error{Kind: document.KindDocumentNotFound, Op: op, DocumentID: req.DocumentID, Err: err}
		}
		if err != nil {
			return err
		}
		now := o.now().UTC()
		v = newVersion(doc.ID, verKey, req.VersionLabel, req.ChangeNote, req.ValidFrom, req.ValidTo, blob, now)
		if err := tx.UpsertVersion(ctx, v); err != nil {
			return err
		}
		if req.makeCurrent() {
			return o.tracker.SetCurrent(ctx, tx, doc, v)
		}
		doc.UpdatedAt = now
		return tx.UpsertDocument(ctx, doc)
	})
	if err != nil {
		return nil, o.commitFailed(op, req.DocumentID, blob, err)
	}

	o.publish(ctx, v, false)
	logger.Infow("version appended", "document_id", v.DocumentID, "version_id", v.ID, "label", v.Label, "current", v.IsCurrent)
	return v, nil
}

func (o *Orchestrator) GetDocument(ctx context.Context, id string) (*document.Document, error) {
	doc, err := o.liveDocument(ctx, "GetDocument", id)
	if err != nil {
		return nil, err
	}
	versions, err := o.store.ListVersions(ctx, id)
	if err != nil {
		return nil, err
	}
	doc.Versions = versions
	return doc, nil
}

func (o *Orchestrator) ListDocuments(ctx context.Context, f document.Filter) ([]*document.Document, error) {
	if f.Type != "" && !f.Type.Valid() {
		return nil, document.Validationf("ListDocuments", "unknown document type %q", f.Type)
	}
	return o.store.ListDocuments(ctx, f)
}

func (o *Orchestrator) UpdateDocument(ctx context.Context, id string, req UpdateDocumentRequest) (doc *document.Document, err error) {
	const op = "UpdateDocument"
	defer func(start time.Time) { o.observe(op, start, err) }(time.Now())

	if req.Title != nil {
		t := strings.TrimSpace(*req.Title)
		if t == "" {
			return nil, document.Validationf(op, "title must not be empty")
		}
		req.Title = &t
	}
	if req.Type != nil && !req.Type.Valid() {
		return nil, document.Validationf(op, "unknown document type %q", *req.Type)
	}
	err = o.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		d, err := tx.LockDocument(ctx, id)
		if errors.Is(err, repository.ErrNotFound) || (err == nil && d.IsDeleted) {
			return &document.Error{Kind: document.KindDocumentNotFound, Op: op, DocumentID: id, Err: err}
		}
		if err != nil {
			return err
		}
		if req.Title != nil {
			d.Title = *req.Title
		}
		if req.Type != nil {
			d.Type = *req.Type
		}
		if req.IsActive != nil {
			d.IsActive = *req.IsActive
		}
		d.UpdatedAt = o.now().UTC()
		doc = d
		return tx.UpsertDocument(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// DeleteDocument soft-deletes: the rows and blobs stay, reads stop seeing them.
func (o *Orchestrator) DeleteDocument(ctx context.Context, id string) (err error) {
	const op = "DeleteDocument"
	defer func(start time.Time) { o.observe(op, start, err) }(time.Now())

	return o.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		d, err := tx.LockDocument(ctx, id)
		if errors.Is(err, repository.ErrNotFound) || (err == nil && d.IsDeleted) {
			return &document.Error{Kind: document.KindDocumentNotFound, Op: op, DocumentID: id, Err: err}
		}
		if err != nil {
			return err
		}
		d.IsDeleted = true
		d.IsActive = false
		d.UpdatedAt = o.now().UTC()
		return tx.UpsertDocument(ctx, d)
	})
}

func (o *Orchestrator) ListVersions(ctx context.Context, documentID string) ([]*document.Version, error) {
	if _, err := o.liveDocument(ctx, "ListVersions", documentID); err != nil {
		return nil, err
	}
	return o.store.ListVersions(ctx, documentID)
}

// GetCurrentVersion returns nil, nil when the document has no current version.
func (o *Orchestrator) GetCurrentVersion(ctx context.Context, documentID string) (*document.Version, error) {
	versions, err := o.ListVersions(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return document.Current(versions), nil
}

func (o *Orchestrator) GetVersionsValidOn(ctx context.Context, documentID string, at time.Time) ([]*document.Version, error) {
	if at.IsZero() {
		return nil, document.Validationf("GetVersionsValidOn", "date is required")
	}
	versions, err := o.ListVersions(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return o.tracker.ValidOn(versions, at), nil
}

// SetCurrentVersion promotes an existing version. A version whose blob is
// missing from the content store is refused.
func (o *Orchestrator) SetCurrentVersion(ctx context.Context, documentID, versionID string) (v *document.Version, err error) {
	const op = "SetCurrentVersion"
	defer func(start time.Time) { o.observe(op, start, err) }(time.Now())

	pre, err := o.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, versionErr(op, versionID, err)
	}
	if pre.DocumentID != documentID {
		return nil, &document.Error{Kind: document.KindVersionNotFound, Op: op, DocumentID: documentID, VersionID: versionID, Msg: "version belongs to another document"}
	}
	if pre.Blob != nil {
		ok, err := storage.Exists(ctx, o.content, pre.Blob.Path)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &document.Error{Kind: document.KindContentInconsistency, Op: op, DocumentID: documentID, VersionID: versionID, Path: pre.Blob.Path, Msg: "blob missing"}
		}
	}

	err = o.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		doc, err := tx.LockDocument(ctx, documentID)
		if errors.Is(err, repository.ErrNotFound) || (err == nil && doc.IsDeleted) {
			return &document.Error{Kind: document.KindDocumentNotFound, Op: op, DocumentID: documentID, Err: err}
		}
		if err != nil {
			return err
		}
		target, err := tx.GetVersion(ctx, versionID)
		if err != nil {
			return versionErr(op, versionID, err)
		}
		v = target
		return o.tracker.SetCurrent(ctx, tx, doc, target)
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// DownloadBlob returns nil, nil for a version without content. A recorded
// blob the store cannot produce, or whose size or digest differ from the
// record, is a ContentInconsistency.
func (o *Orchestrator) DownloadBlob(ctx context.Context, versionID string) (b *Blob, err error) {
	const op = "DownloadBlob"
	defer func(start time.Time) { o.observe(op, start, err) }(time.Now())

	v, err := o.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, versionErr(op, versionID, err)
	}
	if v.Blob == nil {
		return nil, nil
	}
	ref := *v.Blob
	inconsistent := func(msg string, cause error) error {
		logger.Errorw("content inconsistency", "version_id", versionID, "path", ref.Path, "reason", msg)
		return &document.Error{Kind: document.KindContentInconsistency, Op: op, DocumentID: v.DocumentID, VersionID: versionID, Path: ref.Path, Msg: msg, Err: cause}
	}

	rc, _, err := o.content.Read(ctx, ref.Path)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, inconsistent("blob missing", err)
	}
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", ref.Path, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", ref.Path, err)
	}
	if int64(len(data)) != ref.SizeBytes {
		return nil, inconsistent(fmt.Sprintf("size %d, recorded %d", len(data), ref.SizeBytes), nil)
	}
	if ref.SHA256 != "" && digest(data) != ref.SHA256 {
		return nil, inconsistent("sha256 mismatch", nil)
	}
	return &Blob{Ref: ref, Data: data}, nil
}

// DownloadURL returns a presigned URL when the content store supports it, or
// "" when it does not or the version has no content.
func (o *Orchestrator) DownloadURL(ctx context.Context, versionID string, ttl time.Duration) (string, error) {
	const op = "DownloadURL"
	p, ok := o.content.(storage.Presigner)
	if !ok {
		return "", nil
	}
	v, err := o.store.GetVersion(ctx, versionID)
	if err != nil {
		return "", versionErr(op, versionID, err)
	}
	if v.Blob == nil {
		return "", nil
	}
	exists, err := storage.Exists(ctx, o.content, v.Blob.Path)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", &document.Error{Kind: document.KindContentInconsistency, Op: op, VersionID: versionID, Path: v.Blob.Path, Msg: "blob missing"}
	}
	return p.PresignedURL(ctx, v.Blob.Path, ttl)
}

func (o *Orchestrator) GetIndexStatus(ctx context.Context, versionID string) (document.IndexState, error) {
	return o.indexing.Status(ctx, versionID)
}

func (o *Orchestrator) NotifyIndexingStarted(ctx context.Context, versionID string) (document.IndexState, error) {
	return o.indexing.MarkIndexing(ctx, versionID)
}

func (o *Orchestrator) NotifyIndexed(ctx context.Context, versionID string, at time.Time) (document.IndexState, error) {
	return o.indexing.MarkIndexed(ctx, versionID, at)
}

func (o *Orchestrator) NotifyFailed(ctx context.Context, versionID, message string) (document.IndexState, error) {
	return o.indexing.MarkFailed(ctx, versionID, message)
}

// RequestReindex moves an Indexed version to Indexing and publishes a job
// flagged as re-index. A Pending or Failed version keeps its state and only
// gets a fresh job, since the indexer's own start callback will move it.
func (o *Orchestrator) RequestReindex(ctx context.Context, versionID string) (document.IndexState, error) {
	v, err := o.store.GetVersion(ctx, versionID)
	if err != nil {
		return document.IndexState{}, versionErr("RequestReindex", versionID, err)
	}
	switch v.IndexStatus {
	case document.IndexPending, document.IndexFailed:
		o.publish(ctx, v, false)
		return document.StateOf(v), nil
	}
	st, err := o.indexing.Reindex(ctx, versionID)
	if err != nil {
		return st, err
	}
	o.publish(ctx, v, true)
	return st, nil
}

// Advance exposes the explicit compare-and-set transition.
func (o *Orchestrator) Advance(ctx context.Context, versionID string, expected, next document.IndexStatus, u document.IndexUpdate) (document.IndexState, error) {
	return o.indexing.Advance(ctx, versionID, expected, next, false, u)
}

func (o *Orchestrator) liveDocument(ctx context.Context, op, id string) (*document.Document, error) {
	doc, err := o.store.GetDocument(ctx, id)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && doc.IsDeleted) {
		return nil, &document.Error{Kind: document.KindDocumentNotFound, Op: op, DocumentID: id, Err: err}
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// writeBlob stores c at p and confirms it is readable before returning.
func (o *Orchestrator) writeBlob(ctx context.Context, op, p string, c *Content) (*document.BlobRef, error) {
	contentType := c.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(strings.ToLower(path.Ext(c.FileName)))
	}
	fail := func(msg string, err error) error {
		logger.Warnw("blob write failed", "op", op, "path", p, "error", err)
		return &document.Error{Kind: document.KindContentWriteFailed, Op: op, Path: p, Msg: msg, Err: err}
	}
	size := int64(len(c.Data))
	if err := o.content.Write(ctx, p, bytes.NewReader(c.Data), size, contentType); err != nil {
		return nil, fail("write", err)
	}
	info, err := o.content.Stat(ctx, p)
	if err != nil {
		return nil, fail("confirm", err)
	}
	if info.Size != size {
		return nil, fail(fmt.Sprintf("stored %d bytes, wrote %d", info.Size, size), nil)
	}
	metrics.BlobBytesWritten.Add(float64(size))
	return &document.BlobRef{
		Path:        p,
		FileName:    c.FileName,
		SizeBytes:   size,
		ContentType: contentType,
		SHA256:      digest(c.Data),
	}, nil
}

// commitFailed maps a failed metadata transaction. Typed errors raised inside
// the transaction keep their kind; anything else is MetadataCommitFailed.
// Either way a blob written beforehand is now unreferenced.
func (o *Orchestrator) commitFailed(op, documentID string, blob *document.BlobRef, err error) error {
	if blob != nil {
		metrics.OrphanedBlobs.Inc()
		logger.Warnw("orphaned blob after failed metadata commit", "op", op, "document_id", documentID, "path", blob.Path, "error", err)
	}
	var de *document.Error
	if errors.As(err, &de) {
		return err
	}
	e := &document.Error{Kind: document.KindMetadataCommitFailed, Op: op, DocumentID: documentID, Err: err}
	if blob != nil {
		e.Path = blob.Path
	}
	return e
}

func (o *Orchestrator) publish(ctx context.Context, v *document.Version, reindex bool) {
	job := indexqueue.IndexJob{
		VersionID:  v.ID,
		DocumentID: v.DocumentID,
		Reindex:    reindex,
		EnqueuedAt: o.now().UTC(),
	}
	if v.Blob != nil {
		job.BlobPath = v.Blob.Path
	}
	// the caller's request is already committed; a lost job is re-published
	// by the reconciler
	if err := o.queue.Publish(context.WithoutCancel(ctx), job); err != nil {
		metrics.IndexJobsPublished.WithLabelValues("error").Inc()
		logger.Warnw("index job publish failed", "version_id", v.ID, "error", err)
		return
	}
	metrics.IndexJobsPublished.WithLabelValues("ok").Inc()
}

func newVersion(documentID, key, label, note string, from time.Time, to *time.Time, blob *document.BlobRef, now time.Time) *document.Version {
	v := &document.Version{
		ExternalKey: key,
		DocumentID:  documentID,
		Label:       label,
		ValidFrom:   from.UTC(),
		ChangeNote:  note,
		IndexStatus: document.IndexPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if to != nil {
		t := to.UTC()
		v.ValidTo = &t
	}
	if blob != nil {
		b := *blob
		v.Blob = &b
	}
	return v
}

func checkContent(op string, c *Content) error {
	if c == nil {
		return nil
	}
	if len(c.Data) == 0 {
		return document.Validationf(op, "file is empty")
	}
	if strings.TrimSpace(c.FileName) == "" {
		return document.Validationf(op, "file name is required with content")
	}
	return nil
}

func externalKey(op, field, supplied string) (string, error) {
	if supplied == "" {
		return uuid.NewString(), nil
	}
	id, err := uuid.Parse(supplied)
	if err != nil {
		return "", document.Validationf(op, "%s must be a UUID", field)
	}
	return id.String(), nil
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
