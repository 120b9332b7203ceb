// Package cleanup は既読通知IDの定期削除ジョブを提供する。
// 通知IDはクレームの状態ごとに変わるため、状態が進んだクレームの既読IDは
// 二度と表示されない。保持期間を過ぎたそれらの行を日次で削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetentionDays は既読IDを保持する日数の既定値。
const DefaultRetentionDays = 30

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// ReadPruneJob は現在のクレーム状態に対応しない既読IDを削除するジョブ。
// 削除は冪等で、対象がなくてもエラーにならない。
type ReadPruneJob struct {
	db            Executor
	logger        *slog.Logger
	RetentionDays int
}

// NewReadPruneJob は新しいReadPruneJobを生成する。
func NewReadPruneJob(db Executor, logger *slog.Logger) *ReadPruneJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReadPruneJob{
		db:            db,
		logger:        logger,
		RetentionDays: DefaultRetentionDays,
	}
}

// pruneQuery は既読からRetentionDays日以上経過し、どのクレームの現在の通知IDとも一致しない行を削除する。
const pruneQuery = `
	DELETE FROM notification_reads nr
	WHERE nr.read_at < now() - $1::interval
	  AND NOT EXISTS (
	      SELECT 1 FROM claims c
	      WHERE nr.notification_id = 'claim_' || c.id::text || '_' || c.status
	  )`

// Run は削除を1回実行する。
func (j *ReadPruneJob) Run(ctx context.Context) error {
	start := time.Now()

	interval := fmt.Sprintf("%d days", j.RetentionDays)

	result, err := j.db.ExecContext(ctx, pruneQuery, interval)
	if err != nil {
		j.logger.Error("既読通知の削除に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("既読通知の削除に失敗: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	j.logger.Info("既読通知の削除が完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// Start は起動直後に1回実行し、以降intervalごとにRunを実行する。
// ctxがキャンセルされるまでブロックする。失敗はログに記録して継続する。
func (j *ReadPruneJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	j.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *ReadPruneJob) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	// エラーはRun内でログ出力済み
	_ = j.Run(ctx)
}
