package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/clientalio/internal/embed"
	"github.com/hitoshi/clientalio/internal/metrics"
	"github.com/hitoshi/clientalio/internal/middleware"
	"github.com/hitoshi/clientalio/internal/model"
)

type mockWallSource struct {
	wallFn    func(ctx context.Context, userID string) (*model.Wall, error)
	gotUserID string
}

func (m *mockWallSource) Wall(ctx context.Context, userID string) (*model.Wall, error) {
	m.gotUserID = userID
	return m.wallFn(ctx, userID)
}

type mockProfileReader struct {
	profile *model.UserProfile
	err     error
}

func (m *mockProfileReader) GetSession(ctx context.Context) (*model.UserProfile, error) {
	return m.profile, m.err
}

func sampleWall() *model.Wall {
	return &model.Wall{
		Title:    "What our clients says about us!",
		Subtitle: "Read the our client's experience with clientalio.",
		Testimonials: []model.Testimonial{
			{ID: "1", ClientName: "Asha", Ratings: 5, TextRecorded: "Great <b>service</b>", CreatedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
			{ID: "2", ClientName: "Chen", Ratings: 3, TextRecorded: "Good", CreatedAt: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)},
		},
	}
}

type testEnv struct {
	router   http.Handler
	walls    *mockWallSource
	profiles *mockProfileReader
	reg      *prometheus.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	walls := &mockWallSource{wallFn: func(ctx context.Context, userID string) (*model.Wall, error) {
		return sampleWall(), nil
	}}
	profiles := &mockProfileReader{profile: &model.UserProfile{UserID: "owner-1", Email: "owner@example.com"}}
	reg := prometheus.NewRegistry()
	rl := middleware.NewRateLimiter(middleware.PerMinute(600))
	t.Cleanup(rl.Stop)

	router := NewRouter(&RouterDeps{
		CORSAllowedOrigin: "*",
		RateLimiter:       rl,
		Logger:            slog.New(slog.NewJSONHandler(io.Discard, nil)),
		Walls:             walls,
		Profiles:          profiles,
		BaseURL:           "https://widgets.example.com",
		Metrics:           metrics.NewCollector(reg),
		Gatherer:          reg,
	})
	return &testEnv{router: router, walls: walls, profiles: profiles, reg: reg}
}

func (e *testEnv) get(path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestRouter_Health(t *testing.T) {
	env := newTestEnv(t)

	w := env.get("/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestRouter_WallHTML_UsesSessionUser(t *testing.T) {
	env := newTestEnv(t)

	w := env.get("/embed/wall")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if env.walls.gotUserID != "owner-1" {
		t.Errorf("userID = %q, want owner-1", env.walls.gotUserID)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	if got := w.Header().Get("X-Frame-Options"); got != "" {
		t.Errorf("embed route must allow framing, X-Frame-Options = %q", got)
	}
	if csp := w.Header().Get("Content-Security-Policy"); !strings.Contains(csp, "frame-ancestors *") {
		t.Errorf("Content-Security-Policy = %q", csp)
	}

	body := w.Body.String()
	if !strings.Contains(body, "Asha") || !strings.Contains(body, "Chen") {
		t.Errorf("expected both testimonials in body")
	}
	if strings.Contains(body, "<b>service</b>") {
		t.Error("testimonial text should be sanitized")
	}

	if got := embedRenderCount(t, env.reg, "html"); got != 1 {
		t.Errorf("html renders = %v, want 1", got)
	}
}

func TestRouter_WallJSON_QueryOptions(t *testing.T) {
	env := newTestEnv(t)

	w := env.get("/embed/wall.json?userId=u-9&ids=2&theme=dark")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if env.walls.gotUserID != "u-9" {
		t.Errorf("userID = %q, want u-9 (query wins over session)", env.walls.gotUserID)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}

	var payload embed.WallPayload
	if err := json.NewDecoder(w.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if payload.Count != 1 || payload.Testimonials[0].ClientName != "Chen" {
		t.Errorf("payload = %+v, want only Chen", payload)
	}
}

func TestRouter_Snippet(t *testing.T) {
	env := newTestEnv(t)

	w := env.get("/embed/snippet?limit=3")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "https://widgets.example.com/embed/wall?limit=3&amp;userId=owner-1") {
		t.Errorf("snippet = %s", body)
	}
}

func TestRouter_InvalidOptions_Return400(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{
		"/embed/wall?theme=neon",
		"/embed/wall.json?limit=-1",
		"/embed/snippet?limit=abc",
	} {
		w := env.get(path)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, w.Code)
		}
	}
}

func TestRouter_NoSession_Returns503(t *testing.T) {
	env := newTestEnv(t)
	env.profiles.profile = nil

	w := env.get("/embed/wall")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.ErrCodeNotAuthenticated {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeNotAuthenticated)
	}
}

func TestRouter_BackendUnauthorized_Returns503(t *testing.T) {
	env := newTestEnv(t)
	env.walls.wallFn = func(ctx context.Context, userID string) (*model.Wall, error) {
		return nil, model.NewSessionExpiredError()
	}

	w := env.get("/embed/wall.json")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.ErrCodeSessionExpired {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeSessionExpired)
	}
}

func TestRouter_Metrics(t *testing.T) {
	env := newTestEnv(t)
	env.get("/embed/wall.json")

	w := env.get("/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "clientalio_embed_renders_total") {
		t.Error("expected embed render counter in /metrics output")
	}
}

func TestRouter_MetricsDisabledWithoutGatherer(t *testing.T) {
	router := NewRouter(&RouterDeps{
		Walls:    &mockWallSource{wallFn: func(context.Context, string) (*model.Wall, error) { return sampleWall(), nil }},
		Profiles: &mockProfileReader{},
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestParseOptions(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/embed/wall?theme=dark&limit=4&ids=a,%20b,,c&ratings=hide", nil)
	opts, err := parseOptions(req)
	if err != nil {
		t.Fatalf("parseOptions: %v", err)
	}
	if opts.Theme != embed.ThemeDark || opts.Limit != 4 || !opts.HideRatings {
		t.Errorf("opts = %+v", opts)
	}
	if strings.Join(opts.Selected, "|") != "a|b|c" {
		t.Errorf("Selected = %v, want [a b c]", opts.Selected)
	}

	defaults, err := parseOptions(httptest.NewRequest(http.MethodGet, "/embed/wall", nil))
	if err != nil {
		t.Fatalf("parseOptions: %v", err)
	}
	if defaults.Theme != embed.ThemeLight || defaults.Limit != 0 || defaults.HideRatings {
		t.Errorf("defaults = %+v", defaults)
	}
}

// embedRenderCount はformatラベル付きの描画回数をレジストリから読み取る。
func embedRenderCount(t *testing.T, reg *prometheus.Registry, format string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != "clientalio_embed_renders_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "format" && l.GetValue() == format {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
