package verification

import (
	"context"
	"fmt"
	"time"
)

// Tick はカウントダウンを1秒進め、残り秒数を返す。0未満にはならない。
// CODE_PENDING 以外では何もしない。
func (f *Flow) Tick() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateCodePending || f.pending == nil {
		return 0
	}
	if f.pending.Remaining > 0 {
		f.pending.Remaining--
	}
	return f.pending.Remaining
}

// RunCountdown はカウントダウンが0になるか、CODE_PENDING を離れるか、ctx が終了するまで
// TickInterval ごとに Tick を呼ぶ。onTick が指定されていれば毎回残り秒数を渡す。
// 進行中のネットワーク呼び出しには影響しない。
func (f *Flow) RunCountdown(ctx context.Context, onTick func(remaining int)) {
	ticker := time.NewTicker(f.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if f.State() != StateCodePending {
				return
			}
			remaining := f.Tick()
			if onTick != nil {
				onTick(remaining)
			}
			if remaining == 0 {
				return
			}
		}
	}
}

// Remaining はカウントダウンの残り秒数を返す。
func (f *Flow) Remaining() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending == nil {
		return 0
	}
	return f.pending.Remaining
}

// Expired はコードの有効期限が切れたか（カウントダウンが0か）を返す。
func (f *Flow) Expired() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == StateCodePending && f.pending != nil && f.pending.Remaining == 0
}

// FormatRemaining は残り時間を "m:ss" 形式で返す。
func (f *Flow) FormatRemaining() string {
	return FormatSeconds(f.Remaining())
}

// FormatSeconds は秒数を "m:ss" 形式に整形する。
func FormatSeconds(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
