package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PostgresNotificationReadRepo はPostgreSQLを使用した既読通知リポジトリ。
type PostgresNotificationReadRepo struct {
	db *sql.DB
}

// NewPostgresNotificationReadRepo はPostgresNotificationReadRepoを生成する。
func NewPostgresNotificationReadRepo(db *sql.DB) *PostgresNotificationReadRepo {
	return &PostgresNotificationReadRepo{db: db}
}

// ListRead は指定ユーザーの既読通知IDを取得する。
func (r *PostgresNotificationReadRepo) ListRead(ctx context.Context, userID string) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT notification_id FROM notification_reads WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("既読通知の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	read := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("既読通知の読み取りに失敗しました: %w", err)
		}
		read[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("既読通知の走査に失敗しました: %w", err)
	}
	return read, nil
}

// MarkRead は通知IDを既読集合に追加する。既に含まれるIDは無視する。
func (r *PostgresNotificationReadRepo) MarkRead(ctx context.Context, userID string, notificationIDs []string) error {
	if len(notificationIDs) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notification_reads (user_id, notification_id)
		 SELECT $1, unnest($2::text[])
		 ON CONFLICT (user_id, notification_id) DO NOTHING`,
		userID, pq.Array(notificationIDs),
	)
	if err != nil {
		return fmt.Errorf("既読通知の保存に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ NotificationReadRepository = (*PostgresNotificationReadRepo)(nil)
