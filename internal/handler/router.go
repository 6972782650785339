package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/clientalio/internal/metrics"
	"github.com/hitoshi/clientalio/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	FrameAncestors    string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// ウォール
	Walls    WallSource
	Profiles ProfileReader
	BaseURL  string

	// メトリクス。Gathererがnilの場合は /metrics を公開しない。
	Metrics  metrics.MetricsCollector
	Gatherer prometheus.Gatherer
}

// NewRouter は埋め込みサーバーのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → SecurityHeaders → CORS → RateLimit
//
// /health と /metrics はフレーム埋め込みを禁止し、レート制限の対象外とする。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSecurityHeadersMiddleware())

		r.Get("/health", health)
		if deps.Gatherer != nil {
			r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
		}
	})

	embedHandler := NewEmbedHandler(deps.Walls, deps.Profiles, deps.Metrics, deps.BaseURL, logger)

	r.Route("/embed", func(r chi.Router) {
		r.Use(middleware.NewEmbedSecurityHeadersMiddleware(deps.FrameAncestors))
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}

		r.Get("/wall", embedHandler.WallHTML)
		r.Get("/wall.json", embedHandler.WallJSON)
		r.Get("/snippet", embedHandler.Snippet)
	})

	return r
}

func health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
