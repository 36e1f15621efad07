package document

import (
	"strings"
	"time"
)

// IndexStatus is the lifecycle of a version in the downstream search index.
type IndexStatus string

const (
	IndexPending  IndexStatus = "Pending"
	IndexIndexing IndexStatus = "Indexing"
	IndexIndexed  IndexStatus = "Indexed"
	IndexFailed   IndexStatus = "Failed"
)

// Valid reports whether s is a known state.
func (s IndexStatus) Valid() bool {
	switch s {
	case IndexPending, IndexIndexing, IndexIndexed, IndexFailed:
		return true
	}
	return false
}

// ParseIndexStatus matches s case-insensitively.
func ParseIndexStatus(s string) (IndexStatus, bool) {
	for _, k := range []IndexStatus{IndexPending, IndexIndexing, IndexIndexed, IndexFailed} {
		if strings.EqualFold(strings.TrimSpace(s), string(k)) {
			return k, true
		}
	}
	return "", false
}

// CanTransition reports whether from -> to is a legal edge. Indexed -> Indexing
// is only legal for an explicit re-index request.
func CanTransition(from, to IndexStatus, reindex bool) bool {
	switch from {
	case IndexPending, IndexFailed:
		return to == IndexIndexing && !reindex
	case IndexIndexing:
		return (to == IndexIndexed || to == IndexFailed) && !reindex
	case IndexIndexed:
		return to == IndexIndexing && reindex
	}
	return false
}

// IndexState is the externally visible indexing state of a version.
type IndexState struct {
	VersionID  string      `json:"versionId"`
	Status     IndexStatus `json:"status"`
	IndexedAt  *time.Time  `json:"indexedAt,omitempty"`
	IndexError string      `json:"indexError,omitempty"`
}

// StateOf projects the indexing fields of v.
func StateOf(v *Version) IndexState {
	return IndexState{VersionID: v.ID, Status: v.IndexStatus, IndexedAt: v.IndexedAt, IndexError: v.IndexError}
}

// IndexUpdate describes the fields written by a compare-and-set transition.
// Nil pointers leave the stored value untouched; an empty IndexError clears it.
type IndexUpdate struct {
	Status     IndexStatus
	IndexedAt  *time.Time
	IndexError *string
	UpdatedAt  time.Time
}

// Apply writes u onto v.
func (u IndexUpdate) Apply(v *Version) {
	v.IndexStatus = u.Status
	if u.IndexedAt != nil {
		t := *u.IndexedAt
		v.IndexedAt = &t
	}
	if u.IndexError != nil {
		v.IndexError = *u.IndexError
	}
	if !u.UpdatedAt.IsZero() {
		v.UpdatedAt = u.UpdatedAt
	}
}
