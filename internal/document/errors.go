package document

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies orchestrator failures so callers can map them without
// parsing messages.
type Kind string

const (
	KindValidation             Kind = "validation"
	KindContentWriteFailed     Kind = "content_write_failed"
	KindMetadataCommitFailed   Kind = "metadata_commit_failed"
	KindDocumentNotFound       Kind = "document_not_found"
	KindVersionNotFound        Kind = "version_not_found"
	KindContentInconsistency   Kind = "content_inconsistency"
	KindInvalidStateTransition Kind = "invalid_state_transition"
	KindStaleStateTransition   Kind = "stale_state_transition"
)

// Error is the structured failure returned by the orchestrator.
type Error struct {
	Kind       Kind
	Op         string
	DocumentID string
	VersionID  string
	Path       string
	Msg        string
	Err        error
}

// Sentinels for errors.Is; they match any *Error of the same kind.
var (
	ErrValidation             = &Error{Kind: KindValidation}
	ErrContentWriteFailed     = &Error{Kind: KindContentWriteFailed}
	ErrMetadataCommitFailed   = &Error{Kind: KindMetadataCommitFailed}
	ErrDocumentNotFound       = &Error{Kind: KindDocumentNotFound}
	ErrVersionNotFound        = &Error{Kind: KindVersionNotFound}
	ErrContentInconsistency   = &Error{Kind: KindContentInconsistency}
	ErrInvalidStateTransition = &Error{Kind: KindInvalidStateTransition}
	ErrStaleStateTransition   = &Error{Kind: KindStaleStateTransition}
)

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.DocumentID != "" {
		fmt.Fprintf(&b, " (document %s)", e.DocumentID)
	}
	if e.VersionID != "" {
		fmt.Fprintf(&b, " (version %s)", e.VersionID)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " (path %s)", e.Path)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind so callers can compare against the package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Validationf builds a validation error.
func Validationf(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}
