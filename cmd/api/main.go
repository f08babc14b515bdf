package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ats-platform/internal/audit"
	"ats-platform/internal/auth"
	"ats-platform/internal/config"
	"ats-platform/internal/demo"
	"ats-platform/internal/gate"
	"ats-platform/internal/httpapi"
	"ats-platform/internal/metrics"
	"ats-platform/internal/rbac"
	"ats-platform/internal/storage"
	"ats-platform/pkg/logger"
	"ats-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadEnvFile(".env"); err != nil {
		slog.Error("env file load failed", "err", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	catalog, err := rbac.LoadDefaultCatalog()
	if err != nil {
		log.Error("permission catalog invalid", "err", err)
		os.Exit(1)
	}

	sessions, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := storage.Migrate(rootCtx, db); err != nil {
		log.Error("schema migration failed", "err", err)
		os.Exit(1)
	}

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	resolver := rbac.NewResolver(catalog, rbac.NewPostgresOverrideStore(db), rbac.ResolverConfig{
		StoreTimeout: cfg.Permissions.StoreTimeout,
	}, log)
	revocations := auth.NewRedisRevocations(rdb)
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))

	h := &httpapi.Handlers{
		Users:         auth.NewPostgresUserStore(db),
		Sessions:      sessions,
		Revocations:   revocations,
		Throttle:      auth.NewLoginThrottle(rdb, cfg.Login.RateLimit, log),
		Resolver:      resolver,
		Audit:         auditSvc,
		Recorder:      audit.NewRecorder(auditSvc, log),
		SecureCookies: cfg.IsProduction(),
		RetentionDays: cfg.Audit.RetentionDays,
		Log:           log,
	}
	routes := h.Routes()

	// Every permission a route demands must be grantable, or the route is dead.
	if err := catalog.CheckRoutePermissions(gate.Permissions(httpapi.Requirements(routes)...)...); err != nil {
		log.Error("route permissions not covered by catalog", "err", err)
		os.Exit(1)
	}

	g := gate.New(sessions, revocations, demo.NewPolicy(cfg.Demo.Email), resolver, log)
	metrics.Register(prometheus.DefaultRegisterer)

	// Gin router
	r, err := httpapi.NewEngine(cfg.App.TrustedProxies)
	if err != nil {
		log.Error("invalid trusted proxies", "err", err)
		os.Exit(1)
	}
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	r.Use(metrics.Middleware())

	registerRoutes(r, db, g, routes)

	janitor := audit.NewJanitor(auditSvc, audit.NewRedisLocker(rdb), cfg.Audit.RetentionDays, cfg.Audit.CleanupInterval, log)
	go janitor.Run(rootCtx)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
