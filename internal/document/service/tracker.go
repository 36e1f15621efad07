package service

import (
	"context"
	"fmt"
	"time"

	"github.com/regdocs/regdocs/internal/document"
	"github.com/regdocs/regdocs/internal/document/repository"
)

// VersionTracker keeps at most one version per document flagged current and
// owns validity-window rules. It only ever runs inside a metadata transaction
// that has already locked the document row.
type VersionTracker struct {
	now func() time.Time
}

func NewVersionTracker(now func() time.Time) *VersionTracker {
	if now == nil {
		now = time.Now
	}
	return &VersionTracker{now: now}
}

// SetCurrent clears IsCurrent on every other version of doc, sets it on
// target, and records target's label on the document. Other versions are
// cleared before target is set so the store's one-current index never sees
// two current rows.
func (t *VersionTracker) SetCurrent(ctx context.Context, tx repository.Tx, doc *document.Document, target *document.Version) error {
	if target.DocumentID != doc.ID {
		return fmt.Errorf("version %s does not belong to document %s", target.ID, doc.ID)
	}
	versions, err := tx.ListVersions(ctx, doc.ID)
	if err != nil {
		return err
	}
	now := t.now().UTC()
	for _, v := range versions {
		if v.ID == target.ID {
			continue
		}
		if v.IsCurrent {
			v.IsCurrent = false
			v.UpdatedAt = now
			if err := tx.UpsertVersion(ctx, v); err != nil {
				return err
			}
		}
	}
	if !target.IsCurrent {
		target.IsCurrent = true
		target.UpdatedAt = now
		if err := tx.UpsertVersion(ctx, target); err != nil {
			return err
		}
	}
	doc.CurrentVersion = target.Label
	doc.UpdatedAt = now
	return tx.UpsertDocument(ctx, doc)
}

// CheckWindow validates a validity window. Equal bounds are a one-day window
// and are accepted.
func (t *VersionTracker) CheckWindow(op string, from time.Time, to *time.Time) error {
	if from.IsZero() {
		return document.Validationf(op, "validFrom is required")
	}
	if to != nil && to.Before(from) {
		return document.Validationf(op, "validTo %s is before validFrom %s", to.Format(time.DateOnly), from.Format(time.DateOnly))
	}
	return nil
}

// ValidOn returns the versions in force at at, newest validFrom first.
func (t *VersionTracker) ValidOn(versions []*document.Version, at time.Time) []*document.Version {
	return document.FilterValidOn(versions, at)
}
