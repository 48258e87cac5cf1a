package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"ResQFlow/internal/archive"
	"ResQFlow/internal/ratelimit"
	"ResQFlow/pkg/i18n"
	"ResQFlow/pkg/metrics"
	"ResQFlow/pkg/middleware"
	"ResQFlow/pkg/response"
	"ResQFlow/pkg/scheduler"
	"ResQFlow/pkg/storage"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and background jobs",
	RunE:  runServe,
}

func newEngine(a *app, tr *i18n.I18nSupport) *gin.Engine {
	gin.SetMode(a.cfg.Mode)
	engine := gin.New()

	corsCfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept-Language",
			middleware.HeaderActorID, middleware.HeaderActorRole,
			middleware.HeaderSignature, "Idempotency-Key",
		},
		ExposeHeaders: []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:        12 * time.Hour,
	}
	if len(a.cfg.CORSOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = a.cfg.CORSOrigins
	}

	engine.Use(
		gin.Recovery(),
		middleware.ZapLogger(a.log.Named("http"), "/metrics", a.cfg.APIPrefix+"/system/health"),
		cors.New(corsCfg),
		metrics.MonitorMiddleware(a.metrics),
		middleware.LanguageMiddleware(tr),
	)
	a.handlers().Register(engine)
	return engine
}

func archiveStore(a *app) (storage.Store, error) {
	if a.cfg.Minio.Endpoint != "" {
		return storage.NewMinioStore(a.cfg.Minio)
	}
	return storage.NewLocalStore(a.cfg.ArchivePath)
}

// startJobs registers the cron schedule and the in-process tickers.
func startJobs(a *app) (*scheduler.Cron, *scheduler.Scheduler, error) {
	loc := a.cfg.Location()
	cr := scheduler.NewCron(loc, a.log.Named("cron"), 10*time.Minute)

	if _, err := cr.Add(a.cfg.EscalationSchedule, scheduler.FuncJob("missing-escalation", func(ctx context.Context) error {
		_, err := a.missing.EscalationScan(ctx)
		return err
	})); err != nil {
		return nil, nil, fmt.Errorf("escalation schedule: %w", err)
	}
	if _, err := cr.Add(a.cfg.ReservationSweepSchedule, scheduler.FuncJob("reservation-sweep", func(ctx context.Context) error {
		_, err := a.ledger.ReleaseStale(ctx, a.cfg.ReservationTTL)
		return err
	})); err != nil {
		return nil, nil, fmt.Errorf("reservation sweep schedule: %w", err)
	}
	if a.cfg.ArchiveEnabled {
		store, err := archiveStore(a)
		if err != nil {
			return nil, nil, fmt.Errorf("archive store: %w", err)
		}
		arc := archive.New(a.sos, store, loc, a.log.Named("archive"), nil)
		if _, err := cr.Add(a.cfg.ArchiveSchedule, scheduler.FuncJob("sos-archive", arc.Run)); err != nil {
			return nil, nil, fmt.Errorf("archive schedule: %w", err)
		}
	}
	cr.Start()

	ticks := scheduler.New(a.log.Named("scheduler"))
	if mem, ok := a.sosStore.(*ratelimit.MemoryStore); ok {
		ticks.Every(time.Minute, scheduler.FuncJob("sos-window-prune", func(ctx context.Context) error {
			if n := mem.Prune(time.Now()); n > 0 {
				a.log.Debug("pruned sos rate limit keys", zap.Int("keys", n))
			}
			return nil
		}))
	}
	return cr, ticks, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tr, err := i18n.NewI18nSupport(cfg.DefaultLang)
	if err != nil {
		return fmt.Errorf("load translations: %w", err)
	}
	response.UseTranslator(tr)

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	cr, ticks, err := startJobs(a)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newEngine(a, tr),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("http server listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		cr.Stop()
		ticks.Stop()
		return err
	})
	return g.Wait()
}
