// Package refresh は embed サーバー向けの wall キャッシュと、
// その内容をバックグラウンドで更新するスケジューラを提供する。
package refresh

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/clientalio/internal/metrics"
	"github.com/hitoshi/clientalio/internal/model"
)

// WallLoader は wall の取得元。
type WallLoader interface {
	Wall(ctx context.Context, userID string) (*model.Wall, error)
}

// idleTTLs はこの回数分のTTLの間参照されなかったエントリを破棄する倍率。
const idleTTLs = 10

type entry struct {
	wall              *model.Wall
	fetchedAt         time.Time
	lastAccess        time.Time
	nextAttempt       time.Time
	consecutiveErrors int
}

// Cache は利用者IDごとに wall を保持する。
// TTL内の参照はバックエンドを呼ばずに返し、取得に失敗した場合は古い内容を返す。
type Cache struct {
	loader  WallLoader
	ttl     time.Duration
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

// NewCache はCacheを生成する。
func NewCache(loader WallLoader, ttl time.Duration, collector metrics.MetricsCollector, logger *slog.Logger) *Cache {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		loader:  loader,
		ttl:     ttl,
		metrics: collector,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// Wall はキャッシュされた wall を返す。
// 期限切れまたは未取得の場合はバックエンドから取得する。
// 取得に失敗しても古い内容があればそれを返す。ただし認証切れは古い内容を捨ててエラーを返す。
func (c *Cache) Wall(ctx context.Context, userID string) (*model.Wall, error) {
	now := c.now()

	c.mu.Lock()
	e, ok := c.entries[userID]
	if ok {
		e.lastAccess = now
		if e.wall != nil && now.Sub(e.fetchedAt) < c.ttl {
			wall := e.wall
			c.mu.Unlock()
			c.metrics.RecordWallCache("hit")
			return wall, nil
		}
	}
	c.mu.Unlock()

	wall, err := c.load(ctx, userID)
	if err == nil {
		c.metrics.RecordWallCache("miss")
		return wall, nil
	}

	if stale := c.stale(userID); stale != nil && Classify(err) == ResultBackoff {
		c.metrics.RecordWallCache("stale")
		c.logger.Warn("serving stale wall",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return stale, nil
	}
	return nil, err
}

// Refresh は1件のエントリをバックエンドから取得し直す。
func (c *Cache) Refresh(ctx context.Context, userID string) error {
	_, err := c.load(ctx, userID)
	return err
}

// load は取得結果をエントリに反映する。
func (c *Cache) load(ctx context.Context, userID string) (*model.Wall, error) {
	wall, err := c.loader.Wall(ctx, userID)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[userID]
	if !ok {
		e = &entry{lastAccess: now}
	}

	switch Classify(err) {
	case ResultOK:
		e.wall = wall
		e.fetchedAt = now
		e.consecutiveErrors = 0
		e.nextAttempt = now.Add(c.ttl)
		c.entries[userID] = e
	case ResultStop:
		delete(c.entries, userID)
	case ResultBackoff:
		if !ok {
			// 配信できる内容が無いエントリは作らない。次のリクエストで取得し直す。
			return wall, err
		}
		e.consecutiveErrors++
		e.nextAttempt = now.Add(CalculateBackoff(e.consecutiveErrors - 1))
		c.entries[userID] = e
	}
	return wall, err
}

func (c *Cache) stale(userID string) *model.Wall {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[userID]; ok {
		return e.wall
	}
	return nil
}

// Due は更新時期を迎えたエントリの利用者IDを返す。
// 長く参照されていないエントリはここで破棄する。
func (c *Cache) Due() []string {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	var due []string
	for id, e := range c.entries {
		if now.Sub(e.lastAccess) > idleTTLs*c.ttl {
			delete(c.entries, id)
			continue
		}
		if !now.Before(e.nextAttempt) {
			due = append(due, id)
		}
	}
	return due
}

// Len はエントリ数を返す。
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
