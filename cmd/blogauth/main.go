package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-blog-auth"
	"github.com/goliatone/go-blog-auth/activitymap"
	"github.com/goliatone/go-blog-auth/config"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-router"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
)

type App struct {
	config  *config.Config
	db      *bun.DB
	repo    auth.RepositoryManager
	auther  *auth.Auther
	metrics *auth.Metrics
	srv     router.Server[*fiber.App]
	logger  *glog.BaseLogger
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

func main() {
	configPath := flag.String("config", os.Getenv("BLOGAUTH_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	app := &App{config: cfg, logger: newLogger(cfg.Logging)}
	lgr := app.GetLogger("main")
	lgr.Debug("effective config", "config", cfg.Dump())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.setup(ctx); err != nil {
		lgr.Error("setup failed", "error", err)
		os.Exit(1)
	}
	defer app.db.Close()

	go app.runCleanup(ctx)

	errc := make(chan error, 1)
	go func() {
		lgr.Info("listening", "address", cfg.Server.Address)
		errc <- app.srv.Serve(cfg.Server.Address)
	}()

	select {
	case err := <-errc:
		if err != nil {
			lgr.Error("server stopped", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		lgr.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := app.srv.Shutdown(shutdownCtx); err != nil {
			lgr.Error("shutdown failed", "error", err)
		}
	}
}

func newLogger(cfg config.LoggingConfig) *glog.BaseLogger {
	switch strings.ToLower(cfg.Level) {
	case "debug", "trace":
		return glog.NewLogger(
			glog.WithLoggerTypePretty(),
			glog.WithLevel(glog.Trace),
			glog.WithName("blogauth"),
			glog.WithAddSource(false),
			glog.WithRichErrorHandler(errors.ToSlogAttributes),
		)
	}
	return glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithName("blogauth"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)
}

func (a *App) setup(ctx context.Context) error {
	cfg := a.config
	if cfg.Auth.PhoneRegion != "" {
		auth.DefaultPhoneRegion = cfg.Auth.PhoneRegion
	}

	db, err := openDB(cfg.Persistence)
	if err != nil {
		return err
	}
	a.db = db

	if err := auth.CreateSchema(ctx, db); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to create schema")
	}

	a.repo = auth.NewRepositoryManager(db,
		auth.WithManagerRefreshTTL(cfg.Auth.RefreshTokenTTL),
		auth.WithManagerLedgerOptions(auth.WithLedgerLogger(a.GetLogger("refresh_tokens"))),
	)
	if err := a.repo.Validate(); err != nil {
		return err
	}

	catalog, err := auth.DefaultCatalog()
	if err != nil {
		return err
	}
	res, err := auth.NewSeeder(a.repo, catalog).WithLogger(a.GetLogger("seed")).Seed(ctx)
	if err != nil {
		return err
	}
	a.GetLogger("main").Info("rbac catalog seeded", "result", fmt.Sprintf("%+v", res))

	if err := a.bootstrapAdmin(ctx); err != nil {
		return err
	}

	tokens, err := auth.NewTokenService(cfg.Auth, auth.WithTokenLogger(a.GetLogger("tokens")))
	if err != nil {
		return err
	}

	a.metrics = auth.NewMetrics(nil)
	activity := a.GetLogger("activity")
	a.auther = auth.NewAuthenticator(a.repo, tokens, cfg.Auth).
		WithLogger(a.GetLogger("auth")).
		WithActivitySink(auth.MultiActivitySink{
			a.metrics,
			auth.ActivitySinkFunc(func(_ context.Context, e auth.ActivityEvent) error {
				record := activitymap.Normalize(e)
				if record.Failed() {
					activity.Warn("auth event", record.Args()...)
					return nil
				}
				activity.Info("auth event", record.Args()...)
				return nil
			}),
		})

	a.srv = router.NewFiberAdapter(func(*fiber.App) *fiber.App {
		return fiber.New(fiber.Config{
			AppName:               "blogauth",
			ReadTimeout:           cfg.Server.ReadTimeout,
			WriteTimeout:          cfg.Server.WriteTimeout,
			DisableStartupMessage: true,
		})
	})
	api := a.srv.Router().WithLogger(a.GetLogger("router"))

	controller := auth.NewAuthController(a.auther,
		auth.WithControllerLogger(a.GetLogger("http")),
		auth.WithRateLimiter(auth.NewClientLimiter(cfg.Server.RatePerMinute, cfg.Server.RateBurst)),
		auth.WithDebug(strings.EqualFold(cfg.Logging.Level, "debug")),
	)
	auth.RegisterRoutes(api, controller)

	if cfg.Server.Metrics {
		api.Get("/metrics", router.HandlerFromHTTP(a.metrics.Handler())).SetName("metrics")
	}

	return nil
}

func openDB(cfg config.PersistenceConfig) (*bun.DB, error) {
	var db *bun.DB
	switch cfg.Driver {
	case config.DriverPostgres:
		sqldb, err := sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to open postgres")
		}
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		sqldb, err := sql.Open(sqliteshim.ShimName, cfg.DSN)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to open sqlite")
		}
		// sqlite serializes writers; one connection avoids SQLITE_BUSY on refresh rotation
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	}

	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "database is unreachable")
	}
	return db, nil
}

func (a *App) bootstrapAdmin(ctx context.Context) error {
	b := a.config.Bootstrap
	if b.AdminEmail == "" {
		return nil
	}

	handler := auth.NewCreatePrincipalHandler(a.repo, auth.NewBcryptHasher(a.config.Auth.PasswordCost)).
		WithLogger(a.GetLogger("bootstrap"))

	return handler.Execute(ctx, auth.CreatePrincipalMessage{
		Username:  b.AdminUsername,
		Email:     b.AdminEmail,
		Password:  b.AdminPassword,
		Role:      auth.RoleAdmin,
		UseHashid: true,
		IfMissing: true,
	})
}

func (a *App) runCleanup(ctx context.Context) {
	interval := a.config.Cleanup.Interval
	if interval <= 0 {
		return
	}

	lgr := a.GetLogger("cleanup")
	handler := auth.NewCleanupExpiredTokensHandler(a.repo.RefreshTokens()).
		WithMetrics(a.metrics).
		WithLogger(lgr)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := handler.Execute(ctx, auth.CleanupExpiredTokensMessage{}); err != nil {
				lgr.Error("refresh token cleanup failed", "error", err)
			}
		}
	}
}
