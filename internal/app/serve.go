package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/hitoshi/clientalio/internal/config"
	"github.com/hitoshi/clientalio/internal/database"
	"github.com/hitoshi/clientalio/internal/handler"
	"github.com/hitoshi/clientalio/internal/middleware"
	"github.com/hitoshi/clientalio/internal/worker/cleanup"
	"github.com/hitoshi/clientalio/internal/worker/refresh"
)

// runServe は wall of love の埋め込みサーバーを起動する。
// データは保存済みセッションでバックエンドから取得する。
// コンテキストがキャンセルされるとグレースフルシャットダウンを行う。
func (a *App) runServe(ctx context.Context, args []string) error {
	fs := a.newFlagSet(CommandServe)
	port := fs.String("port", a.cfg.ServerPort, "listen port")
	if err := fs.Parse(args); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", ":"+*port)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return a.serve(ctx, listener)
}

// serve は指定されたリスナーでサーバーを動かす。
func (a *App) serve(ctx context.Context, listener net.Listener) error {
	rateLimiter := middleware.NewRateLimiter(middleware.PerMinute(a.cfg.RateLimitEmbed))
	defer rateLimiter.Stop()

	var walls handler.WallSource = a.testimonials
	if a.cfg.EmbedCacheTTL > 0 {
		cache := refresh.NewCache(a.testimonials, a.cfg.EmbedCacheTTL, a.metrics, a.logger)
		scheduler := refresh.NewScheduler(cache, a.logger, 0)
		go scheduler.Start(ctx, a.cfg.EmbedCacheTTL)
		walls = cache
	}

	router := handler.NewRouter(&handler.RouterDeps{
		CORSAllowedOrigin: a.cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            a.logger,
		Walls:             walls,
		Profiles:          a.sessions,
		BaseURL:           a.cfg.PublicBaseURL,
		Metrics:           a.metrics,
		Gatherer:          a.registry,
	})

	server := &http.Server{
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: a.cfg.APITimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("embed server starting",
			slog.String("addr", listener.Addr().String()),
			slog.String("public_base_url", a.cfg.PublicBaseURL),
		)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down embed server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	a.logger.Info("embed server stopped gracefully")
	return nil
}

// runMigrate はセッション保存用テーブルのマイグレーションを実行する。
func (a *App) runMigrate(ctx context.Context, args []string) error {
	fs := a.newFlagSet(CommandMigrate)
	down := fs.Bool("down", false, "roll back all migrations")
	status := fs.Bool("status", false, "print the current schema version")
	pruneDays := fs.Int("prune-days", 0, "after migrating, delete sessions not updated for this many days (0 = keep all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if a.cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for migrate (SESSION_STORE=%s)", a.cfg.SessionStore)
	}
	if a.cfg.SessionStore != config.StorePostgres {
		a.logger.Warn("migrating postgres schema while another session store is selected",
			slog.String("session_store", a.cfg.SessionStore),
		)
	}

	switch {
	case *status:
		version, dirty, err := database.MigrationVersion(a.cfg.DatabaseURL)
		if err != nil {
			return err
		}
		a.printf("schema version %d (dirty=%v)\n", version, dirty)
		return nil

	case *down:
		a.logger.Info("rolling back database migrations",
			slog.String("database_url", maskDatabaseURL(a.cfg.DatabaseURL)),
		)
		if err := database.RollbackMigrations(a.cfg.DatabaseURL); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		a.printf("migrations rolled back\n")
		return nil
	}

	a.logger.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(a.cfg.DatabaseURL)),
	)
	if err := database.RunMigrations(a.cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	a.logger.Info("database migrations completed successfully")
	a.printf("migrations applied\n")

	if *pruneDays > 0 {
		return a.pruneSessions(ctx, *pruneDays)
	}
	return nil
}

// pruneSessions は保持期間を過ぎたセッションを削除する。
func (a *App) pruneSessions(ctx context.Context, days int) error {
	db, err := database.Open(a.cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	job := cleanup.NewCleanupJob(db, a.logger)
	job.RetentionDays = days
	n, err := job.Run(ctx)
	if err != nil {
		return err
	}
	a.printf("pruned %d stale session(s)\n", n)
	return nil
}
