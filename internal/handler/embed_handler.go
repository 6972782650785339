package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/hitoshi/clientalio/internal/embed"
	"github.com/hitoshi/clientalio/internal/metrics"
	"github.com/hitoshi/clientalio/internal/middleware"
	"github.com/hitoshi/clientalio/internal/model"
)

// WallSource はウォールの内容を提供するインターフェース。
// testimonial.Service が満たす。
type WallSource interface {
	Wall(ctx context.Context, userID string) (*model.Wall, error)
}

// ProfileReader は保存済みセッションのプロフィールを読み取るインターフェース。
// session.Store が満たす。
type ProfileReader interface {
	GetSession(ctx context.Context) (*model.UserProfile, error)
}

// EmbedHandler は wall of love ウィジェットのHTTPハンドラー。
type EmbedHandler struct {
	walls    WallSource
	profiles ProfileReader
	renderer *embed.Renderer
	metrics  metrics.MetricsCollector
	baseURL  string
	logger   *slog.Logger
}

// NewEmbedHandler はEmbedHandlerを生成する。
func NewEmbedHandler(walls WallSource, profiles ProfileReader, collector metrics.MetricsCollector, baseURL string, logger *slog.Logger) *EmbedHandler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EmbedHandler{
		walls:    walls,
		profiles: profiles,
		renderer: embed.NewRenderer(),
		metrics:  collector,
		baseURL:  baseURL,
		logger:   logger,
	}
}

// WallHTML は GET /embed/wall を処理する。
func (h *EmbedHandler) WallHTML(w http.ResponseWriter, r *http.Request) {
	wall, opts, err := h.load(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=60")
	if err := h.renderer.RenderHTML(r.Context(), w, wall, opts); err != nil {
		h.logger.Error("failed to render wall", slog.String("error", err.Error()))
		return
	}
	h.metrics.RecordEmbedRender("html")
}

// WallJSON は GET /embed/wall.json を処理する。
func (h *EmbedHandler) WallJSON(w http.ResponseWriter, r *http.Request) {
	wall, opts, err := h.load(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	body, err := h.renderer.RenderJSON(wall, opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=60")
	w.Write(body)
	h.metrics.RecordEmbedRender("json")
}

// Snippet は GET /embed/snippet を処理し、貼り付け用のiframeコードを返す。
func (h *EmbedHandler) Snippet(w http.ResponseWriter, r *http.Request) {
	opts, err := parseOptions(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	userID, err := h.userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(embed.Snippet(h.baseURL, userID, opts)))
	h.metrics.RecordEmbedRender("snippet")
}

func (h *EmbedHandler) load(r *http.Request) (*model.Wall, embed.Options, error) {
	opts, err := parseOptions(r)
	if err != nil {
		return nil, opts, err
	}
	userID, err := h.userID(r)
	if err != nil {
		return nil, opts, err
	}
	wall, err := h.walls.Wall(r.Context(), userID)
	if err != nil {
		return nil, opts, err
	}
	return wall, opts, nil
}

// userID はクエリの userId を優先し、なければ保存済みセッションの利用者を返す。
func (h *EmbedHandler) userID(r *http.Request) (string, error) {
	if id := strings.TrimSpace(r.URL.Query().Get("userId")); id != "" {
		return id, nil
	}
	profile, err := h.profiles.GetSession(r.Context())
	if err != nil {
		return "", err
	}
	if profile == nil || profile.UserID == "" {
		return "", model.NewNotAuthenticatedError()
	}
	return profile.UserID, nil
}

func (h *EmbedHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Warn("embed request failed",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	middleware.WriteAPIError(w, err)
}

// parseOptions はクエリパラメータ theme, limit, ids, ratings を解釈する。
func parseOptions(r *http.Request) (embed.Options, error) {
	q := r.URL.Query()
	var opts embed.Options

	switch theme := q.Get("theme"); theme {
	case "", embed.ThemeLight:
		opts.Theme = embed.ThemeLight
	case embed.ThemeDark:
		opts.Theme = embed.ThemeDark
	default:
		return opts, model.NewValidationError("theme must be light or dark")
	}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return opts, model.NewValidationError("limit must be a non-negative integer")
		}
		opts.Limit = n
	}

	if raw := q.Get("ids"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				opts.Selected = append(opts.Selected, id)
			}
		}
	}

	opts.HideRatings = q.Get("ratings") == "hide"
	return opts, nil
}
