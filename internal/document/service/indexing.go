package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/regdocs/regdocs/internal/document"
	"github.com/regdocs/regdocs/internal/document/repository"
	"github.com/regdocs/regdocs/pkg/metrics"
)

// IndexStateMachine drives Pending -> Indexing -> Indexed|Failed. Every
// transition is a single compare-and-set against the metadata store, so a
// late or duplicated callback can never overwrite a newer state.
type IndexStateMachine struct {
	store repository.Store
	now   func() time.Time
}

func NewIndexStateMachine(store repository.Store, now func() time.Time) *IndexStateMachine {
	if now == nil {
		now = time.Now
	}
	return &IndexStateMachine{store: store, now: now}
}

// Status returns the indexing state of a version.
func (m *IndexStateMachine) Status(ctx context.Context, versionID string) (document.IndexState, error) {
	v, err := m.store.GetVersion(ctx, versionID)
	if err != nil {
		return document.IndexState{}, versionErr("GetIndexStatus", versionID, err)
	}
	return document.StateOf(v), nil
}

// MarkIndexing moves a Pending or Failed version to Indexing. The stored
// error of a failed attempt is kept until the retry resolves.
func (m *IndexStateMachine) MarkIndexing(ctx context.Context, versionID string) (document.IndexState, error) {
	return m.transition(ctx, "MarkIndexing", versionID, nil, document.IndexIndexing, false, document.IndexUpdate{})
}

// MarkIndexed moves an Indexing version to Indexed and clears indexError. A
// zero at means now.
func (m *IndexStateMachine) MarkIndexed(ctx context.Context, versionID string, at time.Time) (document.IndexState, error) {
	return m.transition(ctx, "MarkIndexed", versionID, nil, document.IndexIndexed, false,
		document.IndexUpdate{IndexedAt: &at})
}

// MarkFailed moves an Indexing version to Failed and stores message.
// indexedAt from an earlier successful run is left as is.
func (m *IndexStateMachine) MarkFailed(ctx context.Context, versionID, message string) (document.IndexState, error) {
	return m.transition(ctx, "MarkFailed", versionID, nil, document.IndexFailed, false,
		document.IndexUpdate{IndexError: &message})
}

// Reindex moves an Indexed version back to Indexing.
func (m *IndexStateMachine) Reindex(ctx context.Context, versionID string) (document.IndexState, error) {
	return m.transition(ctx, "RequestReindex", versionID, nil, document.IndexIndexing, true, document.IndexUpdate{})
}

// Advance is the explicit form used by callers that track the state they
// expect: it fails with StaleStateTransition when the stored state is not
// expected, even if next would be legal from the stored state.
func (m *IndexStateMachine) Advance(ctx context.Context, versionID string, expected, next document.IndexStatus, reindex bool, u document.IndexUpdate) (document.IndexState, error) {
	return m.transition(ctx, "Advance", versionID, &expected, next, reindex, u)
}

func (m *IndexStateMachine) transition(ctx context.Context, op, versionID string, expected *document.IndexStatus, next document.IndexStatus, reindex bool, u document.IndexUpdate) (document.IndexState, error) {
	st, err := m.doTransition(ctx, op, versionID, expected, next, reindex, u)
	result := "ok"
	if err != nil {
		result = string(document.KindOf(err))
		if result == "" {
			result = "error"
		}
	}
	metrics.IndexTransitions.WithLabelValues(string(next), result).Inc()
	return st, err
}

// effects derives the fields a transition into next writes. The caller may
// only supply the indexedAt timestamp of Indexed and the message of Failed.
func (m *IndexStateMachine) effects(op string, next document.IndexStatus, in document.IndexUpdate) (document.IndexUpdate, error) {
	u := document.IndexUpdate{Status: next, UpdatedAt: m.now().UTC()}
	switch next {
	case document.IndexIndexed:
		at := u.UpdatedAt
		if in.IndexedAt != nil && !in.IndexedAt.IsZero() {
			at = in.IndexedAt.UTC()
		}
		empty := ""
		u.IndexedAt, u.IndexError = &at, &empty
	case document.IndexFailed:
		var msg string
		if in.IndexError != nil {
			msg = strings.TrimSpace(*in.IndexError)
		}
		if msg == "" {
			return document.IndexUpdate{}, document.Validationf(op, "error message is required")
		}
		u.IndexError = &msg
	}
	return u, nil
}

func (m *IndexStateMachine) doTransition(ctx context.Context, op, versionID string, expected *document.IndexStatus, next document.IndexStatus, reindex bool, in document.IndexUpdate) (document.IndexState, error) {
	u, err := m.effects(op, next, in)
	if err != nil {
		return document.IndexState{}, err
	}
	var from document.IndexStatus
	if expected != nil {
		if !expected.Valid() {
			return document.IndexState{}, document.Validationf(op, "unknown expected state %q", *expected)
		}
		from = *expected
	} else {
		v, err := m.store.GetVersion(ctx, versionID)
		if err != nil {
			return document.IndexState{}, versionErr(op, versionID, err)
		}
		from = v.IndexStatus
	}
	if !document.CanTransition(from, next, reindex) {
		return document.IndexState{}, &document.Error{
			Kind:      document.KindInvalidStateTransition,
			Op:        op,
			VersionID: versionID,
			Msg:       string(from) + " -> " + string(next),
		}
	}

	v, err := m.store.CompareAndSetIndexStatus(ctx, versionID, from, u)
	if errors.Is(err, repository.ErrConflict) {
		return document.IndexState{}, &document.Error{
			Kind:      document.KindStaleStateTransition,
			Op:        op,
			VersionID: versionID,
			Msg:       "expected " + string(from),
			Err:       err,
		}
	}
	if err != nil {
		return document.IndexState{}, versionErr(op, versionID, err)
	}
	return document.StateOf(v), nil
}

func versionErr(op, versionID string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return &document.Error{Kind: document.KindVersionNotFound, Op: op, VersionID: versionID, Err: err}
	}
	return err
}
