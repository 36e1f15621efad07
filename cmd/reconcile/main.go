// Command reconcile reclaims orphaned version blobs and re-publishes index
// jobs for versions stuck in Pending.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/regdocs/regdocs/internal/config"
	"github.com/regdocs/regdocs/internal/database"
	"github.com/regdocs/regdocs/internal/document/service"
	"github.com/regdocs/regdocs/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	once        bool
	cron        string
	dryRun      bool
	grace       time.Duration
	requeueAge  time.Duration
	parallelism int
}

func newRootCmd() *cobra.Command {
	var o options
	cmd := &cobra.Command{
		Use:          "regdocs-reconcile",
		Short:        "Sweep orphaned blobs and requeue pending index jobs",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.Init(os.Getenv("LOG_LEVEL"))
			logger.SetFormat(os.Getenv("LOG_FORMAT"))

			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			o.applyDefaults(cmd, cfg)
			if err := o.validate(); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return run(ctx, cfg, o)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&o.once, "once", false, "run a single pass and exit")
	f.StringVar(&o.cron, "cron", "", "cron expression for repeated passes (default RECONCILE_CRON)")
	f.BoolVar(&o.dryRun, "dry-run", false, "report orphans without deleting them")
	f.DurationVar(&o.grace, "grace", 0, "skip blobs younger than this (default RECONCILE_GRACE)")
	f.DurationVar(&o.requeueAge, "requeue-age", 0, "requeue versions pending longer than this (default RECONCILE_REQUEUE_AGE)")
	f.IntVar(&o.parallelism, "parallelism", 0, "concurrent reference checks (default RECONCILE_PARALLELISM)")
	return cmd
}

// applyDefaults fills unset flags from configuration.
func (o *options) applyDefaults(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if !flags.Changed("cron") {
		o.cron = cfg.Reconcile.Cron
	}
	if !flags.Changed("grace") {
		o.grace = cfg.Reconcile.GracePeriod
	}
	if !flags.Changed("requeue-age") {
		o.requeueAge = cfg.Reconcile.RequeueAge
	}
	if !flags.Changed("parallelism") {
		o.parallelism = cfg.Reconcile.Parallelism
	}
}

func (o *options) validate() error {
	// --once wins over a configured schedule
	if o.once {
		o.cron = ""
	}
	if !o.once && o.cron == "" {
		return fmt.Errorf("either --once or --cron (or RECONCILE_CRON) is required")
	}
	if o.grace <= 0 {
		return fmt.Errorf("grace period must be positive, got %s", o.grace)
	}
	return nil
}

func run(ctx context.Context, cfg *config.Config, o options) error {
	backends, err := database.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := backends.Close(context.Background()); err != nil {
			logger.Warnf("closing stores: %v", err)
		}
	}()

	rec := service.NewReconciler(backends.Metadata, backends.Content, backends.Queue, service.ReconcilerConfig{
		GracePeriod: o.grace,
		RequeueAge:  o.requeueAge,
		Parallelism: o.parallelism,
		BatchSize:   cfg.Reconcile.BatchSize,
		DryRun:      o.dryRun,
	})

	if o.once {
		return rec.RunOnce(ctx)
	}
	sched, err := rec.Schedule(ctx, o.cron)
	if err != nil {
		return err
	}
	<-ctx.Done()
	logger.Info("stopping reconcile scheduler")
	return sched.Shutdown()
}
