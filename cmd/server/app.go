package main

import (
	"context"
	"fmt"
	"strings"

	"ResQFlow/internal/allocation"
	handlers "ResQFlow/internal/handler"
	"ResQFlow/internal/listeners"
	"ResQFlow/internal/missing"
	"ResQFlow/internal/models"
	"ResQFlow/internal/ratelimit"
	"ResQFlow/internal/sos"
	"ResQFlow/internal/stock"
	"ResQFlow/pkg/cache"
	"ResQFlow/pkg/config"
	"ResQFlow/pkg/events"
	"ResQFlow/pkg/logger"
	"ResQFlow/pkg/metrics"
	"ResQFlow/pkg/middleware"
	"ResQFlow/pkg/search"
	"ResQFlow/pkg/util"

	"github.com/oschwald/geoip2-golang"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// app holds every long-lived component of a running process.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	db      *gorm.DB
	redis   *redis.Client
	metrics *metrics.Metrics
	bus     *events.Bus

	cache       cache.Cache
	sosStore    ratelimit.Store
	sosLimiter  *ratelimit.Limiter
	httpLimiter *middleware.RateLimiter

	ledger      *stock.Ledger
	sos         *sos.Service
	missing     *missing.Service
	suggestions *allocation.Service

	search search.Engine
	geoip  *geoip2.Reader
}

func needsRedis(cfg *config.Config) bool {
	switch strings.ToLower(cfg.Cache.Type) {
	case "redis", "layered":
		return true
	}
	return strings.EqualFold(cfg.RateLimitStore, "redis")
}

// openDB connects and installs the metrics plugin.
func openDB(cfg *config.Config, m *metrics.Metrics) (*gorm.DB, error) {
	level := gormlogger.Warn
	if cfg.Mode == "debug" {
		level = gormlogger.Info
	}
	db, err := util.OpenDatabase(&gorm.Config{Logger: gormlogger.Default.LogMode(level)}, cfg.DBDriver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if m != nil {
		if err := db.Use(&metrics.GormPlugin{M: m}); err != nil {
			return nil, fmt.Errorf("install metrics plugin: %w", err)
		}
	}
	return db, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:     cfg,
		log:     logger.L(),
		metrics: metrics.NewMetrics(),
		bus:     events.NewBus(),
	}
	metrics.SetGlobal(a.metrics)

	db, err := openDB(cfg, a.metrics)
	if err != nil {
		return nil, err
	}
	a.db = db
	if err := models.Migrate(db); err != nil {
		a.close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	if needsRedis(cfg) {
		if a.redis, err = cache.NewRedisClient(cfg.Cache.Redis); err != nil {
			a.close()
			return nil, err
		}
	}
	if a.cache, err = cache.NewCache(cfg.Cache, a.redis); err != nil {
		a.close()
		return nil, err
	}

	if strings.EqualFold(cfg.RateLimitStore, "redis") {
		a.sosStore = ratelimit.NewRedisStore(a.redis, "resqflow:sos:")
	} else {
		a.sosStore = ratelimit.NewMemoryStore()
	}
	a.sosLimiter = ratelimit.New(a.sosStore, cfg.SOSRateWindow, cfg.SOSRateMax, nil)

	var httpClient *redis.Client
	if strings.EqualFold(cfg.RateLimitStore, "redis") {
		httpClient = a.redis
	}
	limiterStore, err := middleware.NewLimiterStore(httpClient, "resqflow:http")
	if err != nil {
		a.close()
		return nil, fmt.Errorf("http limiter store: %w", err)
	}
	a.httpLimiter = middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:       cfg.HTTPRate,
		Identifier: "ip",
		SkipPaths:  []string{cfg.APIPrefix + "/system/health"},
		AddHeaders: true,
	}, limiterStore)

	a.ledger = stock.NewLedger(db, a.log.Named("stock"), a.bus, nil)
	a.sos = sos.NewService(db, a.sosLimiter, a.log.Named("sos"), a.bus, nil)
	a.missing = missing.NewService(db, a.log.Named("missing"), a.bus, nil)
	a.suggestions = allocation.NewService(db, a.ledger, a.cache, a.log.Named("allocation"), a.bus, nil)
	listeners.InitStockListeners(a.bus, a.suggestions, a.log.Named("listeners"))
	listeners.InitMetricsListeners(a.bus, a.metrics)

	if cfg.SearchEnabled {
		if err := a.openSearch(ctx); err != nil {
			a.close()
			return nil, err
		}
	}

	if a.geoip, err = middleware.OpenGeoIP(cfg.GeoIPDB); err != nil {
		a.log.Warn("geoip database unavailable; operator logs will carry no location", zap.Error(err))
	}
	return a, nil
}

// openSearch builds the SOS index and fills it from the database.
func (a *app) openSearch(ctx context.Context) error {
	engine, err := search.NewSOSEngine(search.Config{IndexPath: a.cfg.SearchPath})
	if err != nil {
		return fmt.Errorf("open search index: %w", err)
	}
	reqs, err := a.sos.List(ctx, sos.Filter{})
	if err != nil {
		_ = engine.Close()
		return err
	}
	if err := search.IndexSOS(ctx, engine, reqs); err != nil {
		_ = engine.Close()
		return fmt.Errorf("rebuild search index: %w", err)
	}
	a.search = engine
	listeners.InitSearchListeners(a.bus, engine, a.log.Named("search"))
	a.log.Info("search index ready", zap.Int("documents", len(reqs)))
	return nil
}

func (a *app) handlers() *handlers.Handlers {
	deps := handlers.Deps{
		DB:             a.db,
		SOS:            a.sos,
		Missing:        a.missing,
		Ledger:         a.ledger,
		Suggestions:    a.suggestions,
		SOSLimiter:     a.sosLimiter,
		HTTPLimiter:    a.httpLimiter,
		Search:         a.search,
		Idempotency:    a.cache,
		Metrics:        a.metrics,
		APIPrefix:      a.cfg.APIPrefix,
		APISecretKey:   a.cfg.APISecretKey,
		RequestTimeout: a.cfg.RequestTimeout,
	}
	if a.geoip != nil {
		deps.GeoIP = a.geoip
	}
	return handlers.NewHandlers(deps)
}

func (a *app) close() {
	if a.search != nil {
		_ = a.search.Close()
	}
	if a.geoip != nil {
		_ = a.geoip.Close()
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
