package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/connectsphere/server/api"
	"github.com/connectsphere/server/audit"
	"github.com/connectsphere/server/cache"
	"github.com/connectsphere/server/config"
	"github.com/connectsphere/server/connection"
	dbadapter "github.com/connectsphere/server/db"
	"github.com/connectsphere/server/logging"
	"github.com/connectsphere/server/model"
	"github.com/connectsphere/server/moderation"
	"github.com/connectsphere/server/notify"
	"github.com/connectsphere/server/post"
	"github.com/connectsphere/server/scheduler"
	"github.com/connectsphere/server/telemetry"
	"github.com/connectsphere/server/users"
	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if cfg.Security.JWTSecret == "" {
		logger.Fatal("security.jwt_secret must be set")
	}
	// Warn loudly if admin endpoints will be disabled.
	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Telemetry ----
	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		logger.Fatal("telemetry", zap.Error(err))
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database, logger)
	if err != nil {
		logger.Fatal("db", zap.Error(err))
	}
	if err := model.AutoMigrate(db); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Cache / PubSub ----
	cacheConfig := cache.Config{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		RedisKeyPrefix:  cfg.Cache.RedisKeyPrefix,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		logger.Fatal("cache", zap.Error(err))
	}
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		logger.Fatal("pubsub", zap.Error(err))
	}
	logger.Info("Cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	// ---- Audit ----
	auditSvc := audit.New(db, logger)

	// ---- Services ----
	dir := users.NewDirectory(db)
	notifySvc := notify.NewService(db, c, pubsub, dir, cfg.Notify.UnreadCacheTTL, logger)
	connSvc := connection.NewService(connection.NewGormStore(db), dir, notifySvc, logger)
	postSvc := post.NewService(db, connSvc, dir, notifySvc, logger)
	postSvc.SetModeration(moderation.Standard(cfg.Moderation.BlockedWords))

	// ---- Periodic Scheduler Tasks ----
	sched := scheduler.New(logger)
	sched.AddTicker("notification_prune", cfg.Notify.PruneInterval, func(ctx context.Context) error {
		return notifySvc.PruneExpired(ctx, cfg.Notify.Retention)
	})
	sched.AddTicker("connection_gauges", cfg.Notify.GaugeInterval, connSvc.RefreshGauges)
	sched.RunNow("connection_gauges", connSvc.RefreshGauges)

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(ctx, api.Deps{
		DB:            db,
		Cache:         c,
		PubSub:        pubsub,
		Users:         dir,
		Connections:   connSvc,
		Notifications: notifySvc,
		Posts:         postSvc,
		Audit:         auditSvc,
		Scheduler:     sched,
		Server:        cfg.Server,
		Security:      cfg.Security,
		Notify:        cfg.Notify,
		ServiceName:   cfg.Telemetry.ServiceName,
		Logger:        logger,
	})

	corsOpts := cors.Options{
		AllowedOrigins:   cfg.Security.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Trace-ID", "X-Admin-Key"},
		ExposedHeaders:   []string{"X-Trace-ID"},
		AllowCredentials: len(cfg.Security.AllowedOrigins) > 0,
	}
	if len(corsOpts.AllowedOrigins) == 0 {
		corsOpts.AllowedOrigins = []string{"*"}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           cors.New(corsOpts).Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("server", zap.Error(err))
	}

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	sched.Stop()
	auditSvc.Stop(shutdownCtx)
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("telemetry shutdown", zap.Error(err))
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	logger.Info("Server stopped")
}
