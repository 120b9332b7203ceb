package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/campusfind/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user := &model.User{}
	var deviceToken sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, name, trust_score, device_token, created_at FROM users WHERE id = $1`,
		id,
	).Scan(&user.ID, &user.Email, &user.Name, &user.TrustScore, &deviceToken, &user.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	user.DeviceToken = nullStringValue(deviceToken)

	return user, nil
}

// Upsert は認証済みIDのユーザーを作成し、既存の場合は名前とメールを更新する。
// trust_scoreとdevice_tokenは変更しない。
func (r *PostgresUserRepo) Upsert(ctx context.Context, user *model.User) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (id, email, name, created_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (id) DO UPDATE SET
		     email = EXCLUDED.email,
		     name = CASE WHEN EXCLUDED.name = '' THEN users.name ELSE EXCLUDED.name END
		 RETURNING trust_score, created_at`,
		user.ID, user.Email, user.Name,
	).Scan(&user.TrustScore, &user.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// UpdateDeviceToken はプッシュ通知用のデバイストークンを保存する。
func (r *PostgresUserRepo) UpdateDeviceToken(ctx context.Context, userID, token string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET device_token = $2 WHERE id = $1`,
		userID, nullString(token),
	)
	if err != nil {
		return fmt.Errorf("failed to update device token: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", userID)
	}
	return nil
}

// ListTopByTrust は信頼スコアの高い順にユーザーを取得する。
// 同点の場合は登録の古い順とする。
func (r *PostgresUserRepo) ListTopByTrust(ctx context.Context, limit int) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, email, name, trust_score, created_at
		 FROM users
		 ORDER BY trust_score DESC, created_at ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users by trust score: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		u := &model.User{}
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.TrustScore, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
