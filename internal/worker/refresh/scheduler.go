package refresh

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Refresher は更新対象の列挙と1件の更新を行う。
type Refresher interface {
	Due() []string
	Refresh(ctx context.Context, userID string) error
}

// Scheduler は wall キャッシュの定期更新と並列制御を行う。
// ティッカーごとに更新時期を迎えたエントリを取り出し、
// semaphoreパターンで最大並列数を制御しながら更新する。
type Scheduler struct {
	refresher      Refresher
	logger         *slog.Logger
	maxConcurrency int
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値4を使用する。
func NewScheduler(refresher Refresher, logger *slog.Logger, maxConcurrency int) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		refresher:      refresher,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("wall refresh scheduler started",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("wall refresh scheduler stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce は更新時期を迎えたエントリを並列で更新し、更新した件数を返す。
func (s *Scheduler) RunOnce(ctx context.Context) int {
	due := s.refresher.Due()
	if len(due) == 0 {
		return 0
	}

	start := time.Now()
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, userID := range due {
		wg.Add(1)
		sem <- struct{}{}

		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := s.refresher.Refresh(ctx, id); err != nil {
				s.logger.Warn("wall refresh failed",
					slog.String("user_id", id),
					slog.String("error", err.Error()),
				)
			}
		}(userID)
	}

	wg.Wait()

	s.logger.Debug("wall refresh cycle completed",
		slog.Int("count", len(due)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return len(due)
}
