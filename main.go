package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/regdocs/regdocs/handlers"
	"github.com/regdocs/regdocs/internal/config"
	"github.com/regdocs/regdocs/internal/database"
	"github.com/regdocs/regdocs/internal/document/handler"
	"github.com/regdocs/regdocs/internal/document/service"
	"github.com/regdocs/regdocs/pkg/logger"
	"github.com/regdocs/regdocs/pkg/metrics"
	"github.com/regdocs/regdocs/pkg/middleware"
)

var startTime = time.Now()

func main() {
	// initialize logging (can be controlled with LOG_LEVEL env: debug|info|warn|error|fatal)
	logger.Init(os.Getenv("LOG_LEVEL"))
	logger.SetFormat(os.Getenv("LOG_FORMAT"))
	logger.Debugf("startup: LOG_LEVEL=%s", logger.LevelString())

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Infof("config loaded: metadata=%s content=%s redis=%v", cfg.Metadata.Backend, cfg.Content.Backend, cfg.Redis.Host != "")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backends, err := database.Open(ctx, cfg)
	if err != nil {
		logger.Fatalf("failed to open stores: %v", err)
	}
	defer func() {
		if err := backends.Close(context.Background()); err != nil {
			logger.Warnf("closing stores: %v", err)
		}
	}()

	orch := service.New(backends.Metadata, backends.Content, service.WithPublisher(backends.Queue))

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	// Lightweight CORS for the document portal frontend.
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, "+middleware.ClientIDHeader)
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Disposition")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	})

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && backends.Redis != nil {
			r.Use(middleware.RedisRateLimitMiddleware(backends.Redis, cfg.RateLimit.RPS, cfg.RateLimit.Burst, cfg.RateLimit.Window))
			logger.Infof("rate limiter: redis (%v rps, window %s)", cfg.RateLimit.RPS, cfg.RateLimit.Window)
		} else {
			r.Use(middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
			logger.Infof("rate limiter: memory (%v rps, burst %d)", cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})

	// readiness: 200 only when every connected dependency answers
	r.GET("/ready", func(c *gin.Context) {
		pctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		deps := backends.Ping(pctx)
		if cfg.Redis.Host != "" {
			if _, ok := deps["redis"]; !ok {
				deps["redis"] = false
			}
		}
		ready := true
		for _, ok := range deps {
			ready = ready && ok
		}
		status, state := http.StatusOK, "ready"
		if !ready {
			status, state = http.StatusServiceUnavailable, "not_ready"
		}
		c.JSON(status, gin.H{"status": state, "deps": deps, "uptime": time.Since(startTime).String()})
	})

	handlers.RegisterSwagger(r)

	var presignTTL time.Duration
	if cfg.Server.PresignDownloads {
		presignTTL = cfg.Server.PresignTTL
	}
	handler.RegisterDocumentRoutes(r, orch, handler.Options{
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		PresignTTL:     presignTTL,
	})

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if cfg.Reconcile.Cron != "" {
		rec := service.NewReconciler(backends.Metadata, backends.Content, backends.Queue, service.ReconcilerConfig{
			GracePeriod: cfg.Reconcile.GracePeriod,
			RequeueAge:  cfg.Reconcile.RequeueAge,
			Parallelism: cfg.Reconcile.Parallelism,
			BatchSize:   cfg.Reconcile.BatchSize,
		})
		sched, err := rec.Schedule(ctx, cfg.Reconcile.Cron)
		if err != nil {
			logger.Fatalf("failed to schedule reconciler: %v", err)
		}
		defer func() { _ = sched.Shutdown() }()
	}

	srv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Infof("starting document service on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("graceful shutdown: %v", err)
	}
}
