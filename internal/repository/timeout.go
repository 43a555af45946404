package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/authcore/internal/model"
)

// DefaultStoreTimeout はタイムアウト未指定時のストア呼び出し上限。
const DefaultStoreTimeout = 5 * time.Second

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultStoreTimeout
	}
	return context.WithTimeout(ctx, d)
}

// wrapStoreError はストアエラーに操作名を付与する。
// タイムアウトした場合はStorageTimeoutエラーをチェーンに含める。
func wrapStoreError(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %v", op, model.NewStorageTimeoutError(), err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
