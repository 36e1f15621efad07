package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"golang.org/x/sync/errgroup"

	"github.com/regdocs/regdocs/internal/document"
	"github.com/regdocs/regdocs/internal/document/repository"
	"github.com/regdocs/regdocs/internal/indexqueue"
	"github.com/regdocs/regdocs/internal/storage"
	"github.com/regdocs/regdocs/pkg/logger"
	"github.com/regdocs/regdocs/pkg/metrics"
)

// ReconcilerConfig tunes the sweep.
type ReconcilerConfig struct {
	// GracePeriod protects blobs of creates whose commit may still be in
	// flight; younger objects are never deleted.
	GracePeriod time.Duration
	// RequeueAge is how long a version may sit in Pending before its index
	// job is published again.
	RequeueAge  time.Duration
	Parallelism int
	BatchSize   int
	// DryRun reports what would be deleted without deleting.
	DryRun bool
}

// DefaultGracePeriod replaces a non-positive ReconcilerConfig.GracePeriod.
const DefaultGracePeriod = time.Hour

// SweepResult counts what one orphan sweep saw.
type SweepResult struct {
	Scanned    int
	Young      int
	Referenced int
	Deleted    int
	Failed     int
}

// Reconciler reclaims blobs left behind by failed commits and re-publishes
// index jobs that never reached the indexer.
type Reconciler struct {
	store   repository.Store
	content storage.ContentStore
	queue   indexqueue.Publisher
	cfg     ReconcilerConfig
	now     func() time.Time
}

func NewReconciler(store repository.Store, content storage.ContentStore, queue indexqueue.Publisher, cfg ReconcilerConfig) *Reconciler {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if queue == nil {
		queue = indexqueue.Nop{}
	}
	return &Reconciler{store: store, content: content, queue: queue, cfg: cfg, now: time.Now}
}

// SweepOrphans deletes content objects no version references.
func (r *Reconciler) SweepOrphans(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	var young, referenced, deleted, failed atomic.Int64
	cutoff := r.now().Add(-r.cfg.GracePeriod)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Parallelism)
	listErr := r.content.List(gctx, "", func(obj storage.ObjectInfo) error {
		res.Scanned++
		if obj.ModifiedAt.After(cutoff) {
			young.Add(1)
			return nil
		}
		g.Go(func() error {
			ok, err := r.store.BlobReferenced(gctx, obj.Path)
			if err != nil {
				return fmt.Errorf("reference check %s: %w", obj.Path, err)
			}
			if ok {
				referenced.Add(1)
				return nil
			}
			if r.cfg.DryRun {
				logger.Infow("orphaned blob (dry run)", "path", obj.Path, "size", obj.Size)
				deleted.Add(1)
				return nil
			}
			if err := r.content.Delete(gctx, obj.Path); err != nil {
				failed.Add(1)
				metrics.ReconcileSwept.WithLabelValues("failed").Inc()
				logger.Warnw("orphan delete failed", "path", obj.Path, "error", err)
				return nil
			}
			deleted.Add(1)
			metrics.ReconcileSwept.WithLabelValues("deleted").Inc()
			logger.Infow("orphaned blob deleted", "path", obj.Path, "size", obj.Size)
			return nil
		})
		return nil
	})
	waitErr := g.Wait()

	res.Young = int(young.Load())
	res.Referenced = int(referenced.Load())
	res.Deleted = int(deleted.Load())
	res.Failed = int(failed.Load())
	metrics.ReconcileSwept.WithLabelValues("kept").Add(float64(res.Young + res.Referenced))

	if waitErr != nil {
		return res, waitErr
	}
	if listErr != nil {
		return res, fmt.Errorf("list content: %w", listErr)
	}
	return res, nil
}

// RequeuePending re-publishes jobs for versions stuck in Pending.
func (r *Reconciler) RequeuePending(ctx context.Context) (int, error) {
	stale, err := r.store.ListVersionsByIndexStatus(ctx, document.IndexPending, r.now().Add(-r.cfg.RequeueAge), r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, v := range stale {
		job := indexqueue.IndexJob{VersionID: v.ID, DocumentID: v.DocumentID, EnqueuedAt: r.now().UTC()}
		if v.Blob != nil {
			job.BlobPath = v.Blob.Path
		}
		if err := r.queue.Publish(ctx, job); err != nil {
			return n, fmt.Errorf("publish %s: %w", v.ID, err)
		}
		n++
		metrics.ReconcileRequeued.Inc()
	}
	return n, nil
}

// RunOnce performs one sweep and one requeue pass.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	start := time.Now()
	res, err := r.SweepOrphans(ctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	n, err := r.RequeuePending(ctx)
	if err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	logger.Infow("reconcile pass finished",
		"scanned", res.Scanned, "young", res.Young, "referenced", res.Referenced,
		"deleted", res.Deleted, "failed", res.Failed, "requeued", n,
		"dry_run", r.cfg.DryRun, "took", time.Since(start).String())
	return nil
}

// Schedule starts a cron scheduler running RunOnce. Overlapping runs are
// skipped. The caller shuts the scheduler down.
func (r *Reconciler) Schedule(ctx context.Context, cronExpr string) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create cron scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(func() {
			if err := r.RunOnce(ctx); err != nil {
				logger.Errorw("reconcile pass failed", "error", err)
			}
		}),
		gocron.WithName("reconcile"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("create reconcile job: %w", err)
	}
	s.Start()
	logger.Infow("reconcile job scheduled", "cron", cronExpr)
	return s, nil
}
