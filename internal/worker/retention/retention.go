// Package retention は更新レコードの保持件数を維持する削除ジョブを提供する。
// updated_at降順で上位Keep件だけを残し、それ以外を削除する。
// 日次バッチまたは/cleanupエンドポイントから実行される冪等なジョブ。
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kohei/claimsub/internal/metrics"
	"github.com/kohei/claimsub/internal/repository"
)

// DefaultKeep はデフォルトの保持件数。
const DefaultKeep = 50000

// RetentionJob は保持件数を超過した更新レコードの削除ジョブ。
type RetentionJob struct {
	repo      repository.UpdateRepository
	collector metrics.MetricsCollector
	logger    *slog.Logger
	Keep      int // 残す更新レコード数（デフォルト: 50000）
}

// NewRetentionJob は新しいRetentionJobを生成する。
func NewRetentionJob(repo repository.UpdateRepository, collector metrics.MetricsCollector, logger *slog.Logger) *RetentionJob {
	return &RetentionJob{
		repo:      repo,
		collector: collector,
		logger:    logger,
		Keep:      DefaultKeep,
	}
}

// Run は保持件数を超過したレコードを削除し、削除件数を返す。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *RetentionJob) Run(ctx context.Context) (int64, error) {
	start := time.Now()

	deleted, err := j.repo.DeleteBeyondRank(ctx, j.Keep)
	if err != nil {
		j.logger.Error("保持ジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("keep", j.Keep),
		)
		return 0, fmt.Errorf("保持ジョブの実行に失敗: %w", err)
	}

	j.collector.RecordRetentionDeleted(deleted)

	j.logger.Info("保持ジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Int("keep", j.Keep),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return deleted, nil
}
