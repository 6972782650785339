package refresh

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/clientalio/internal/model"
)

// fakeLoader は呼び出し回数を数える WallLoader。
type fakeLoader struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
	title string
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{calls: map[string]int{}, title: "v1"}
}

func (l *fakeLoader) Wall(_ context.Context, userID string) (*model.Wall, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[userID]++
	if l.err != nil {
		return nil, l.err
	}
	return &model.Wall{Title: l.title}, nil
}

func (l *fakeLoader) set(title string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.title, l.err = title, err
}

func (l *fakeLoader) count(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[userID]
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// newTestCache は時刻を操作できるCacheを返す。
func newTestCache(loader WallLoader, ttl time.Duration) (*Cache, *time.Time) {
	var buf bytes.Buffer
	c := NewCache(loader, ttl, nil, newTestLogger(&buf))
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestCache_HitWithinTTL(t *testing.T) {
	loader := newFakeLoader()
	c, now := newTestCache(loader, time.Minute)
	ctx := context.Background()

	if _, err := c.Wall(ctx, "u1"); err != nil {
		t.Fatalf("first Wall: %v", err)
	}
	*now = now.Add(30 * time.Second)
	w, err := c.Wall(ctx, "u1")
	if err != nil {
		t.Fatalf("second Wall: %v", err)
	}
	if w.Title != "v1" {
		t.Errorf("title = %q, want v1", w.Title)
	}
	if n := loader.count("u1"); n != 1 {
		t.Errorf("loader called %d times, want 1", n)
	}
}

func TestCache_ReloadsAfterTTL(t *testing.T) {
	loader := newFakeLoader()
	c, now := newTestCache(loader, time.Minute)
	ctx := context.Background()

	c.Wall(ctx, "u1")
	loader.set("v2", nil)
	*now = now.Add(2 * time.Minute)

	w, err := c.Wall(ctx, "u1")
	if err != nil {
		t.Fatalf("Wall: %v", err)
	}
	if w.Title != "v2" {
		t.Errorf("title = %q, want v2", w.Title)
	}
}

func TestCache_ServesStaleOnTransientError(t *testing.T) {
	loader := newFakeLoader()
	c, now := newTestCache(loader, time.Minute)
	ctx := context.Background()

	c.Wall(ctx, "u1")
	loader.set("", model.NewTransportError("network", errors.New("timeout")))
	*now = now.Add(2 * time.Minute)

	w, err := c.Wall(ctx, "u1")
	if err != nil {
		t.Fatalf("expected stale wall, got error %v", err)
	}
	if w.Title != "v1" {
		t.Errorf("title = %q, want stale v1", w.Title)
	}
}

func TestCache_UnauthorizedEvicts(t *testing.T) {
	loader := newFakeLoader()
	c, now := newTestCache(loader, time.Minute)
	ctx := context.Background()

	c.Wall(ctx, "u1")
	loader.set("", model.NewSessionExpiredError())
	*now = now.Add(2 * time.Minute)

	if _, err := c.Wall(ctx, "u1"); !model.IsUnauthorized(err) {
		t.Fatalf("err = %v, want unauthorized", err)
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d, want 0 after unauthorized", c.Len())
	}
}

func TestCache_MissWithoutStaleReturnsError(t *testing.T) {
	loader := newFakeLoader()
	loader.set("", model.NewBackendRejectedError("boom", 500))
	c, _ := newTestCache(loader, time.Minute)

	if _, err := c.Wall(context.Background(), "u1"); err == nil {
		t.Fatal("expected error without cached wall")
	}
	// 一度も取得できていない利用者はスケジューラーの対象にしない
	if c.Len() != 0 {
		t.Errorf("Len = %d, want 0 after first-time failure", c.Len())
	}
	if due := c.Due(); len(due) != 0 {
		t.Errorf("Due = %v, want none", due)
	}

	loader.set("v2", nil)
	wall, err := c.Wall(context.Background(), "u1")
	if err != nil || wall.Title != "v2" {
		t.Fatalf("Wall after recovery = %v, %v; want v2", wall, err)
	}
	if loader.count("u1") != 2 {
		t.Errorf("loader calls = %d, want 2", loader.count("u1"))
	}
}

func TestCache_DueAndBackoff(t *testing.T) {
	loader := newFakeLoader()
	c, now := newTestCache(loader, time.Minute)
	ctx := context.Background()

	c.Wall(ctx, "u1")
	if due := c.Due(); len(due) != 0 {
		t.Fatalf("Due right after load = %v, want none", due)
	}

	*now = now.Add(time.Minute)
	if due := c.Due(); len(due) != 1 || due[0] != "u1" {
		t.Fatalf("Due after TTL = %v, want [u1]", due)
	}

	loader.set("", model.NewBackendRejectedError("boom", 503))
	if err := c.Refresh(ctx, "u1"); err == nil {
		t.Fatal("expected refresh error")
	}
	*now = now.Add(10 * time.Second)
	if due := c.Due(); len(due) != 0 {
		t.Errorf("Due during backoff = %v, want none", due)
	}
	*now = now.Add(30 * time.Second)
	if due := c.Due(); len(due) != 1 {
		t.Errorf("Due after backoff = %v, want [u1]", due)
	}
}

func TestCache_DueEvictsIdleEntries(t *testing.T) {
	loader := newFakeLoader()
	c, now := newTestCache(loader, time.Minute)

	c.Wall(context.Background(), "u1")
	*now = now.Add(11 * time.Minute)

	if due := c.Due(); len(due) != 0 {
		t.Errorf("Due = %v, want idle entry evicted", due)
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d, want 0", c.Len())
	}
}
