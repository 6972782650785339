package app

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/clientalio/internal/api"
	"github.com/hitoshi/clientalio/internal/auth"
	"github.com/hitoshi/clientalio/internal/captcha"
	"github.com/hitoshi/clientalio/internal/config"
	"github.com/hitoshi/clientalio/internal/database"
	"github.com/hitoshi/clientalio/internal/geo"
	"github.com/hitoshi/clientalio/internal/metrics"
	"github.com/hitoshi/clientalio/internal/repository"
	"github.com/hitoshi/clientalio/internal/session"
	"github.com/hitoshi/clientalio/internal/testimonial"
)

// App はワイヤリング済みの依存関係を保持する。
type App struct {
	cfg     *config.Config
	streams Streams
	out     *lockedWriter
	logger  *slog.Logger

	registry *prometheus.Registry
	metrics  *metrics.Collector

	sessions     *session.Store
	client       *api.Client
	resolver     geo.ContextResolver
	captcha      *captcha.StaticProvider
	google       *auth.GoogleProvider
	auth         *auth.Service
	testimonials *testimonial.Service

	scanner *bufio.Scanner
	closers []func() error
}

// New は設定から依存関係を組み立てる。
// cmd がセッションを必要とする場合は SESSION_STORE に応じた保存先を開く。
func New(ctx context.Context, cfg *config.Config, cmd Command, s Streams, logger *slog.Logger) (*App, error) {
	s = s.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{
		cfg:      cfg,
		streams:  s,
		out:      &lockedWriter{w: s.Out},
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	a.metrics = metrics.NewCollector(a.registry)

	var tokens api.TokenSource
	if cmd.needsSession() {
		kv, err := a.openStore(ctx)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.sessions = session.NewStore(kv, logger)
		tokens = a.sessions
	}

	client, err := api.NewClient(api.Options{
		BaseURL:   cfg.APIBaseURL,
		Timeout:   cfg.APITimeout,
		RateLimit: cfg.APIRateLimit,
		UserType:  cfg.UserType,
		Tokens:    tokens,
		OnUnauthorized: func() {
			a.printf("Session expired. Please log in again.\n")
		},
		Metrics: a.metrics,
		Logger:  logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.client = client

	// 1プロセス内の検証フローとGoogleサインインで同じ解決結果を使う
	a.resolver = geo.NewCachedResolver(
		geo.NewResolver(&http.Client{Timeout: cfg.GeoTimeout}, cfg.GeoLookupURL, logger, a.metrics),
	)

	a.captcha = captcha.NewStaticProvider(cfg.RecaptchaSiteKey)
	a.captcha.Init(func(string) {
		logger.Debug("challenge token received")
	})
	if cfg.RecaptchaToken != "" {
		a.captcha.Solve(cfg.RecaptchaToken)
	}

	if cfg.GoogleClientID != "" {
		a.google = auth.NewGoogleProvider(auth.GoogleConfig{
			ClientID:     cfg.GoogleClientID,
			RedirectURL:  cfg.GoogleRedirectURL,
			TokenInfoURL: cfg.GoogleTokenInfoURL,
		}, nil, logger)
	}

	var google auth.GoogleVerifier
	if a.google != nil {
		google = a.google
	}
	if a.sessions != nil {
		a.auth = auth.NewService(client, a.sessions, a.resolver, google, logger)
	}
	var owner testimonial.SessionReader
	if a.sessions != nil {
		owner = a.sessions
	}
	a.testimonials = testimonial.NewService(client, owner, logger)

	return a, nil
}

// openStore は SESSION_STORE に応じたキー・バリューストアを開く。
func (a *App) openStore(ctx context.Context) (repository.KeyValueStore, error) {
	switch a.cfg.SessionStore {
	case config.StoreMemory:
		return repository.NewMemoryKVStore(), nil

	case config.StorePostgres:
		db, err := database.Open(a.cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		if err := database.Ping(ctx, db); err != nil {
			return nil, err
		}
		a.logger.Debug("database connection established",
			slog.String("database_url", maskDatabaseURL(a.cfg.DatabaseURL)),
		)
		return repository.NewPostgresKVStore(db, a.cfg.SessionNamespace), nil

	case config.StoreRedis:
		client, err := database.NewRedis(a.cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		if err := database.PingRedis(ctx, client); err != nil {
			return nil, err
		}
		return repository.NewRedisKVStore(client, a.cfg.SessionNamespace), nil

	default:
		return repository.NewFileKVStore(a.cfg.SessionFile), nil
	}
}

// Close は開いた接続を閉じる。
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Execute はサブコマンドを実行する。
func (a *App) Execute(ctx context.Context, cmd Command, args []string) error {
	switch cmd {
	case CommandSignup:
		return a.runVerification(ctx, CommandSignup, args)
	case CommandForgot:
		return a.runVerification(ctx, CommandForgot, args)
	case CommandLogin:
		return a.runLogin(ctx, args)
	case CommandLogout:
		return a.runLogout(ctx, args)
	case CommandWhoami:
		return a.runWhoami(ctx, args)
	case CommandResetPassword:
		return a.runResetPassword(ctx, args)
	case CommandGoogleURL:
		return a.runGoogleURL(ctx, args)
	case CommandGoogleSignIn:
		return a.runGoogleSignIn(ctx, args)
	case CommandTestimonials:
		return a.runTestimonials(ctx, args)
	case CommandSubmit:
		return a.runSubmit(ctx, args)
	case CommandWall:
		return a.runWall(ctx, args)
	case CommandPlans:
		return a.runPlans(ctx, args)
	case CommandUpload:
		return a.runUpload(ctx, args)
	case CommandOnboard:
		return a.runOnboard(ctx, args)
	case CommandDownload:
		return a.runDownload(ctx, args)
	case CommandServe:
		return a.runServe(ctx, args)
	case CommandMigrate:
		return a.runMigrate(ctx, args)
	case CommandHelp:
		Usage(a.out)
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// newFlagSet はエラー時にusageをLogへ書き出すFlagSetを生成する。
func (a *App) newFlagSet(cmd Command) *flag.FlagSet {
	fs := flag.NewFlagSet(string(cmd), flag.ContinueOnError)
	fs.SetOutput(a.streams.Log)
	return fs
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

// lockedWriter はカウントダウン表示と入力処理の両方から書き込めるようにする。
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

