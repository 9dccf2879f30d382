package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/leveranciersportal/portalsync/internal/access"
	"github.com/leveranciersportal/portalsync/internal/config"
	"github.com/leveranciersportal/portalsync/internal/db"
	"github.com/leveranciersportal/portalsync/internal/erp"
	"github.com/leveranciersportal/portalsync/internal/http/api/admin"
	"github.com/leveranciersportal/portalsync/internal/http/api/front"
	"github.com/leveranciersportal/portalsync/internal/jobcache"
	"github.com/leveranciersportal/portalsync/internal/mutation"
	"github.com/leveranciersportal/portalsync/internal/ratelimit"
	"github.com/leveranciersportal/portalsync/internal/security"
	"github.com/leveranciersportal/portalsync/internal/statusmapping"
	"github.com/leveranciersportal/portalsync/internal/syncer"
	"github.com/leveranciersportal/portalsync/internal/synclock"
	"github.com/leveranciersportal/portalsync/internal/tracing"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const shutdownTimeout = 15 * time.Second

// components holds the wired services shared by the server and the one-shot sync.
type components struct {
	cfg       config.PortalConfig
	conn      *gorm.DB
	redis     *redis.Client
	store     *jobcache.Store
	resolver  *statusmapping.Resolver
	erpClient *erp.Client
	scheduler *syncer.Scheduler
	runner    *syncer.Runner
	tracing   func(context.Context) error
}

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	return db.Migrate(conn.WithContext(ctx))
}

// RunServer serves the admin, supplier and cron APIs and runs the optional sync ticker.
func RunServer(ctx context.Context, cfg config.AppConfig) error {
	c, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.runner.Start(ctx)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	verifier := security.NewVerifier(c.cfg.JWT)
	if strings.TrimSpace(c.cfg.JWT.Secret) == "" {
		log.Warn("jwt secret is empty; admin and supplier routes will reject every token")
	}
	deriver := access.NewDeriver(c.store, c.resolver)

	admin.RegisterAdminRoutes(engine, admin.Dependencies{
		DB:        c.conn,
		Store:     c.store,
		Statuses:  c.erpClient,
		Scheduler: c.scheduler,
		Runner:    c.runner,
		Deriver:   deriver,
		Verifier:  verifier,
	})
	front.RegisterFrontRoutes(engine, front.Dependencies{
		Store:       c.store,
		Deriver:     deriver,
		Resolver:    c.resolver,
		Mutator:     mutation.NewGateway(c.store, c.erpClient),
		Limiter:     ratelimit.NewManager(ratelimit.SettingsFromConfig(c.cfg), c.redis),
		Verifier:    verifier,
		Runner:      c.runner,
		CronSecret:  c.cfg.Sync.CronSecret,
		CronTimeout: c.cfg.Sync.CycleTimeout,
	})

	addr := fmt.Sprintf(":%d", c.cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
			log.Errorf("server shutdown error: %v", errShutdown)
		}
	}()

	log.Infof("starting portal server on %s", addr)
	if errListen := srv.ListenAndServe(); errListen != nil && !errors.Is(errListen, http.ErrServerClosed) {
		return errListen
	}
	return nil
}

// RunSync runs a single gated cycle, for use by external schedulers.
// With force set the schedule gate is opened first.
func RunSync(ctx context.Context, cfg config.AppConfig, force bool) (syncer.Result, error) {
	c, err := build(ctx, cfg)
	if err != nil {
		return syncer.Result{}, err
	}
	defer c.close()

	if force {
		return c.runner.TriggerAndRun(ctx)
	}
	return c.runner.RunOnce(ctx)
}

func build(ctx context.Context, cfg config.AppConfig) (*components, error) {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	portalCfg, err := config.LoadPortalConfig(configPath)
	if err != nil {
		return nil, err
	}
	applyLogLevel(portalCfg.LogLevel)

	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return nil, err
	}
	if target, errDescribe := describeDSN(dsn); errDescribe == nil {
		log.WithFields(target.Fields()).Info("opening database")
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return nil, err
	}
	if errMigrate := db.Migrate(conn.WithContext(ctx)); errMigrate != nil {
		return nil, errMigrate
	}

	shutdownTracing, err := tracing.Init(ctx, portalCfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	var (
		redisClient *redis.Client
		locker      synclock.Locker
	)
	if addr := strings.TrimSpace(portalCfg.Redis.Addr); addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: portalCfg.Redis.Password,
			DB:       portalCfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		errPing := redisClient.Ping(pingCtx).Err()
		cancel()
		if errPing != nil {
			log.WithError(errPing).Warn("redis unreachable at startup; sync lock and rate limits may degrade")
		}
		locker = synclock.NewRedisLocker(redisClient, portalCfg.Redis.Prefix)
	}

	store := jobcache.NewStore(conn)
	scheduler := syncer.NewScheduler(conn)
	erpClient := erp.NewClient(erp.Options{
		AuthHeader:           portalCfg.ERP.AuthHeader,
		AuthPrefix:           portalCfg.ERP.AuthPrefix,
		ApplicationElementID: portalCfg.ERP.ApplicationElementID,
		Timeout:              portalCfg.ERP.RequestTimeout,
	})
	orchestrator := syncer.NewOrchestrator(store, scheduler, erpClient, portalCfg.ERP, portalCfg.Sync)

	return &components{
		cfg:       portalCfg,
		conn:      conn,
		redis:     redisClient,
		store:     store,
		resolver:  statusmapping.NewResolver(conn),
		erpClient: erpClient,
		scheduler: scheduler,
		runner:    syncer.NewRunner(orchestrator, scheduler, locker, portalCfg.Sync),
		tracing:   shutdownTracing,
	}, nil
}

func (c *components) close() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if c.tracing != nil {
		if errShutdown := c.tracing(shutdownCtx); errShutdown != nil {
			log.WithError(errShutdown).Warn("tracing shutdown failed")
		}
	}
	if c.redis != nil {
		if errClose := c.redis.Close(); errClose != nil {
			log.WithError(errClose).Warn("redis close failed")
		}
	}
	if sqlDB, errDB := c.conn.DB(); errDB == nil {
		_ = sqlDB.Close()
	}
}

func applyLogLevel(level string) {
	parsed, errParse := log.ParseLevel(strings.TrimSpace(level))
	if errParse != nil {
		log.Warnf("unknown log level %q, keeping %s", level, log.GetLevel())
		return
	}
	log.SetLevel(parsed)
}
