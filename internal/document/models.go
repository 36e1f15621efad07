package document

import (
	"sort"
	"strings"
	"time"
)

// DocumentType is the closed set of regulatory document kinds.
type DocumentType string

const (
	TypeLaw            DocumentType = "Zakon"
	TypeRulebook       DocumentType = "Pravilnik"
	TypeInternalPolicy DocumentType = "InternaPolitika"
)

var knownTypes = []DocumentType{TypeLaw, TypeRulebook, TypeInternalPolicy}

// Valid reports whether t is one of the known document types.
func (t DocumentType) Valid() bool {
	for _, k := range knownTypes {
		if t == k {
			return true
		}
	}
	return false
}

// ParseDocumentType matches s case-insensitively against the known types.
func ParseDocumentType(s string) (DocumentType, bool) {
	s = strings.TrimSpace(s)
	for _, k := range knownTypes {
		if strings.EqualFold(s, string(k)) {
			return k, true
		}
	}
	return "", false
}

// Document is a versioned regulatory document. Versions is populated by reads
// that load the version history; it is never persisted with the document row.
type Document struct {
	ID             string       `json:"id" bson:"_id,omitempty"`
	ExternalKey    string       `json:"externalKey" bson:"externalKey"`
	Title          string       `json:"title" bson:"title"`
	Type           DocumentType `json:"type" bson:"type"`
	CurrentVersion string       `json:"currentVersion" bson:"currentVersion"`
	IsActive       bool         `json:"isActive" bson:"isActive"`
	IsDeleted      bool         `json:"-" bson:"isDeleted"`
	Revision       int64        `json:"-" bson:"revision"`
	CreatedAt      time.Time    `json:"createdAt" bson:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt" bson:"updatedAt"`

	Versions []*Version `json:"versions,omitempty" bson:"-"`
}

// BlobRef points at the immutable file backing a version.
type BlobRef struct {
	Path        string `json:"path" bson:"path"`
	FileName    string `json:"fileName" bson:"fileName"`
	SizeBytes   int64  `json:"sizeBytes" bson:"sizeBytes"`
	ContentType string `json:"contentType,omitempty" bson:"contentType,omitempty"`
	SHA256      string `json:"sha256,omitempty" bson:"sha256,omitempty"`
}

// Version is one entry in a document's history.
type Version struct {
	ID          string      `json:"id" bson:"_id,omitempty"`
	ExternalKey string      `json:"externalKey" bson:"externalKey"`
	DocumentID  string      `json:"documentId" bson:"documentId"`
	Label       string      `json:"versionLabel" bson:"label"`
	ValidFrom   time.Time   `json:"validFrom" bson:"validFrom"`
	ValidTo     *time.Time  `json:"validTo,omitempty" bson:"validTo,omitempty"`
	IsCurrent   bool        `json:"isCurrent" bson:"isCurrent"`
	ChangeNote  string      `json:"changeNote" bson:"changeNote"`
	Blob        *BlobRef    `json:"blob,omitempty" bson:"blob,omitempty"`
	IndexStatus IndexStatus `json:"indexStatus" bson:"indexStatus"`
	IndexedAt   *time.Time  `json:"indexedAt,omitempty" bson:"indexedAt,omitempty"`
	IndexError  string      `json:"indexError,omitempty" bson:"indexError,omitempty"`
	CreatedAt   time.Time   `json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt" bson:"updatedAt"`
}

// ValidOn reports whether at falls inside [ValidFrom, ValidTo]; a nil ValidTo
// is open-ended.
func (v *Version) ValidOn(at time.Time) bool {
	if at.Before(v.ValidFrom) {
		return false
	}
	return v.ValidTo == nil || !at.After(*v.ValidTo)
}

// Clone returns a deep copy so stores can hand out values callers may mutate.
func (v *Version) Clone() *Version {
	if v == nil {
		return nil
	}
	c := *v
	if v.ValidTo != nil {
		t := *v.ValidTo
		c.ValidTo = &t
	}
	if v.IndexedAt != nil {
		t := *v.IndexedAt
		c.IndexedAt = &t
	}
	if v.Blob != nil {
		b := *v.Blob
		c.Blob = &b
	}
	return &c
}

// Clone copies the document row. Versions are not copied.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.Versions = nil
	return &c
}

// SortByValidFromDesc orders versions newest validity window first. Ties keep
// creation order, newest first.
func SortByValidFromDesc(vs []*Version) {
	sort.SliceStable(vs, func(i, j int) bool {
		if !vs[i].ValidFrom.Equal(vs[j].ValidFrom) {
			return vs[i].ValidFrom.After(vs[j].ValidFrom)
		}
		return vs[i].CreatedAt.After(vs[j].CreatedAt)
	})
}

// FilterValidOn returns the versions whose validity window contains at,
// ordered by ValidFrom descending. Overlapping windows are all returned.
func FilterValidOn(vs []*Version, at time.Time) []*Version {
	out := make([]*Version, 0, len(vs))
	for _, v := range vs {
		if v.ValidOn(at) {
			out = append(out, v)
		}
	}
	SortByValidFromDesc(out)
	return out
}

// Current returns the version flagged current, or nil.
func Current(vs []*Version) *Version {
	for _, v := range vs {
		if v.IsCurrent {
			return v
		}
	}
	return nil
}

// Filter narrows document listings. Zero values mean "no constraint".
type Filter struct {
	Search   string
	Type     DocumentType
	IsActive *bool
	ValidOn  *time.Time
}

// Matches applies the filter to a document row and its versions.
func (f Filter) Matches(d *Document, versions []*Version) bool {
	if d.IsDeleted {
		return false
	}
	if s := strings.TrimSpace(f.Search); s != "" && !strings.Contains(strings.ToLower(d.Title), strings.ToLower(s)) {
		return false
	}
	if f.Type != "" && d.Type != f.Type {
		return false
	}
	if f.IsActive != nil && d.IsActive != *f.IsActive {
		return false
	}
	if f.ValidOn != nil {
		for _, v := range versions {
			if v.ValidOn(*f.ValidOn) {
				return true
			}
		}
		return false
	}
	return true
}
