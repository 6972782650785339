package media

import (
	"fmt"
	"os"

	"github.com/hitoshi/clientalio/internal/model"
)

// ValidateVideoFile はアップロード前に動画ファイルを検証する。
// 存在しない、ディレクトリである、または上限サイズを超える場合はバリデーションエラーを返す。
func ValidateVideoFile(path string, maxSize int64) (os.FileInfo, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, model.NewValidationError(fmt.Sprintf("Cannot read video file: %s", path))
	}
	if info.IsDir() {
		return nil, model.NewValidationError(fmt.Sprintf("Not a file: %s", path))
	}
	if info.Size() > maxSize {
		return nil, model.NewValidationError(tooLargeMessage(maxSize))
	}
	return info, nil
}

func tooLargeMessage(maxSize int64) string {
	return fmt.Sprintf("Video file must be less than %dMB", maxSize/(1024*1024))
}
