package repository

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/regdocs/regdocs/internal/document"
)

// MemoryRepo is an in-memory metadata store used for development and unit
// tests. A transaction holds the store lock for its whole duration and stages
// its writes, so concurrent transactions are fully serialized.
type MemoryRepo struct {
	mu       sync.RWMutex
	docs     map[string]*document.Document
	versions map[string]*document.Version
	docSeq   int64
	verSeq   int64
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		docs:     make(map[string]*document.Document),
		versions: make(map[string]*document.Version),
	}
}

var _ Store = (*MemoryRepo)(nil)

func (m *MemoryRepo) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{
		repo:     m,
		docs:     make(map[string]*document.Document),
		versions: make(map[string]*document.Version),
		docSeq:   m.docSeq,
		verSeq:   m.verSeq,
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tx.checkUnique(); err != nil {
		return err
	}
	for id, d := range tx.docs {
		m.docs[id] = d
	}
	for id, v := range tx.versions {
		m.versions[id] = v
	}
	m.docSeq, m.verSeq = tx.docSeq, tx.verSeq
	return nil
}

func (m *MemoryRepo) GetDocument(ctx context.Context, id string) (*document.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.docs[id]; ok {
		return d.Clone(), nil
	}
	return nil, ErrNotFound
}

func (m *MemoryRepo) GetVersion(ctx context.Context, id string) (*document.Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.versions[id]; ok {
		return v.Clone(), nil
	}
	return nil, ErrNotFound
}

func (m *MemoryRepo) ListVersions(ctx context.Context, documentID string) ([]*document.Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.versionsOf(documentID, nil), nil
}

func (m *MemoryRepo) versionsOf(documentID string, overlay map[string]*document.Version) []*document.Version {
	out := []*document.Version{}
	seen := map[string]bool{}
	for id, v := range overlay {
		seen[id] = true
		if v.DocumentID == documentID {
			out = append(out, v.Clone())
		}
	}
	for id, v := range m.versions {
		if !seen[id] && v.DocumentID == documentID {
			out = append(out, v.Clone())
		}
	}
	document.SortByValidFromDesc(out)
	return out
}

func (m *MemoryRepo) ListDocuments(ctx context.Context, f document.Filter) ([]*document.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*document.Document{}
	for _, d := range m.docs {
		if f.Matches(d, m.versionsOf(d.ID, nil)) {
			out = append(out, d.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryRepo) CompareAndSetIndexStatus(ctx context.Context, versionID string, expected document.IndexStatus, u document.IndexUpdate) (*document.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[versionID]
	if !ok {
		return nil, ErrNotFound
	}
	if v.IndexStatus != expected {
		return nil, ErrConflict
	}
	next := v.Clone()
	u.Apply(next)
	m.versions[versionID] = next
	return next.Clone(), nil
}

func (m *MemoryRepo) ListVersionsByIndexStatus(ctx context.Context, status document.IndexStatus, updatedBefore time.Time, limit int) ([]*document.Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*document.Version{}
	for _, v := range m.versions {
		if v.IndexStatus == status && v.UpdatedAt.Before(updatedBefore) {
			out = append(out, v.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepo) BlobReferenced(ctx context.Context, path string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, v := range m.versions {
		if v.Blob != nil && v.Blob.Path == path {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryRepo) Close(ctx context.Context) error { return nil }

// memoryTx stages writes on top of the committed maps. The repo lock is held
// by RunInTx, so the committed maps are read without further locking.
type memoryTx struct {
	repo     *MemoryRepo
	docs     map[string]*document.Document
	versions map[string]*document.Version
	docSeq   int64
	verSeq   int64
}

func (t *memoryTx) GetDocument(ctx context.Context, id string) (*document.Document, error) {
	if d, ok := t.docs[id]; ok {
		return d.Clone(), nil
	}
	if d, ok := t.repo.docs[id]; ok {
		return d.Clone(), nil
	}
	return nil, ErrNotFound
}

func (t *memoryTx) LockDocument(ctx context.Context, id string) (*document.Document, error) {
	d, err := t.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	d.Revision++
	t.docs[id] = d.Clone()
	return d, nil
}

func (t *memoryTx) GetVersion(ctx context.Context, id string) (*document.Version, error) {
	if v, ok := t.versions[id]; ok {
		return v.Clone(), nil
	}
	if v, ok := t.repo.versions[id]; ok {
		return v.Clone(), nil
	}
	return nil, ErrNotFound
}

func (t *memoryTx) ListVersions(ctx context.Context, documentID string) ([]*document.Version, error) {
	return t.repo.versionsOf(documentID, t.versions), nil
}

func (t *memoryTx) UpsertDocument(ctx context.Context, d *document.Document) error {
	if d.ID == "" {
		t.docSeq++
		d.ID = "doc-" + strconv.FormatInt(t.docSeq, 10)
	}
	t.docs[d.ID] = d.Clone()
	return nil
}

func (t *memoryTx) UpsertVersion(ctx context.Context, v *document.Version) error {
	if v.ID == "" {
		t.verSeq++
		v.ID = "ver-" + strconv.FormatInt(t.verSeq, 10)
	}
	t.versions[v.ID] = v.Clone()
	return nil
}

// checkUnique mirrors the unique indexes of the persistent backends:
// external keys are unique and each document has at most one current version.
func (t *memoryTx) checkUnique() error {
	docKeys := map[string]string{}
	for id, d := range t.repo.docs {
		if _, staged := t.docs[id]; !staged {
			docKeys[d.ExternalKey] = id
		}
	}
	for id, d := range t.docs {
		if other, ok := docKeys[d.ExternalKey]; ok && other != id {
			return ErrDuplicateKey
		}
		docKeys[d.ExternalKey] = id
	}

	verKeys := map[string]string{}
	current := map[string]string{}
	merged := make(map[string]*document.Version, len(t.repo.versions)+len(t.versions))
	for id, v := range t.repo.versions {
		merged[id] = v
	}
	for id, v := range t.versions {
		merged[id] = v
	}
	for id, v := range merged {
		if other, ok := verKeys[v.ExternalKey]; ok && other != id {
			return ErrDuplicateKey
		}
		verKeys[v.ExternalKey] = id
		if v.IsCurrent {
			if other, ok := current[v.DocumentID]; ok && other != id {
				return ErrDuplicateKey
			}
			current[v.DocumentID] = id
		}
	}
	return nil
}
