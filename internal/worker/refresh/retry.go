package refresh

import (
	"errors"
	"net/http"
	"time"

	"github.com/hitoshi/clientalio/internal/model"
)

// Result はバックエンドからの取得結果の分類。
type Result int

const (
	// ResultOK は取得成功。
	ResultOK Result = iota
	// ResultStop は再取得しても回復しない失敗（認証切れ、存在しない利用者）。
	ResultStop
	// ResultBackoff は時間をおけば回復しうる失敗（通信エラー、429、5xx）。
	ResultBackoff
)

const (
	// initialBackoff は指数バックオフの初回遅延。
	initialBackoff = 30 * time.Second
	// maxBackoff は指数バックオフの最大遅延。
	maxBackoff = 10 * time.Minute
)

// Classify は取得エラーを分類する。
func Classify(err error) Result {
	if err == nil {
		return ResultOK
	}
	if model.IsUnauthorized(err) || model.HasCode(err, model.ErrCodeNotAuthenticated) {
		return ResultStop
	}

	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusNotFound, http.StatusGone, http.StatusForbidden:
			return ResultStop
		}
	}
	return ResultBackoff
}

// CalculateBackoff は連続エラー回数に基づいて指数バックオフ遅延を計算する。
// 初回30秒、2倍ずつ増加、最大10分。
func CalculateBackoff(consecutiveErrors int) time.Duration {
	delay := initialBackoff
	for i := 0; i < consecutiveErrors; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}
