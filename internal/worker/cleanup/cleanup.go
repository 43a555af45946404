// Package cleanup は使用済みトークン記録の定期削除ジョブを提供する。
// 有効期限を過ぎたパスワード再設定トークンは署名検証の時点で拒否されるため、
// その使用済み記録は保持する必要がない。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/authcore/internal/metrics"
	"github.com/hitoshi/authcore/internal/repository"
)

// DefaultInterval はジョブの実行間隔のデフォルト値。
const DefaultInterval = time.Hour

// CleanupJob は期限切れの使用済みトークン記録を削除するジョブ。
// 削除は冪等で、対象がない場合もエラーにならない。
type CleanupJob struct {
	purger   repository.ConsumedTokenPurger
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	now      func() time.Time
	Interval time.Duration // 実行間隔（デフォルト: 1時間）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(purger repository.ConsumedTokenPurger, mc metrics.MetricsCollector, logger *slog.Logger) *CleanupJob {
	if mc == nil {
		mc = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		purger:   purger,
		metrics:  mc,
		logger:   logger,
		now:      time.Now,
		Interval: DefaultInterval,
	}
}

// Run は現在時刻より前に失効した記録を削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.now()

	deleted, err := j.purger.PurgeExpired(ctx, start)
	if err != nil {
		j.logger.Error("consumed token cleanup failed",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to purge consumed tokens: %w", err)
	}

	j.metrics.RecordConsumedTokensPurged(deleted)
	j.logger.Info("consumed token cleanup completed",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回実行し、以降Intervalごとに実行する。
// ctxがキャンセルされるまでブロックする。失敗は記録して次回に持ち越す。
func (j *CleanupJob) Start(ctx context.Context) {
	_ = j.Run(ctx)

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
