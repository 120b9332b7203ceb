package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/campusfind/internal/model"
)

// PostgresClaimRepo はPostgreSQLを使用したクレームリポジトリ。
type PostgresClaimRepo struct {
	db *sql.DB
}

// NewPostgresClaimRepo はPostgresClaimRepoを生成する。
func NewPostgresClaimRepo(db *sql.DB) *PostgresClaimRepo {
	return &PostgresClaimRepo{db: db}
}

const claimColumns = `c.id, c.item_id, c.claimant_id, c.message, c.status, c.response_message,
	c.meeting_location, c.meeting_time, c.verification_code, c.created_at`

func scanClaim(s rowScanner, claim *model.Claim, extra ...any) error {
	var status string
	var responseMessage, meetingLocation, code sql.NullString
	var meetingTime sql.NullTime

	dest := []any{
		&claim.ID, &claim.ItemID, &claim.ClaimantID, &claim.Message, &status, &responseMessage,
		&meetingLocation, &meetingTime, &code, &claim.CreatedAt,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return err
	}

	claim.Status = model.ClaimStatus(status)
	claim.ResponseMessage = nullStringValue(responseMessage)
	claim.MeetingLocation = nullStringValue(meetingLocation)
	claim.VerificationCode = nullStringValue(code)
	if meetingTime.Valid {
		t := meetingTime.Time
		claim.MeetingTime = &t
	}
	return nil
}

// FindByID は指定IDのクレームを取得する。見つからない場合はnilを返す。
func (r *PostgresClaimRepo) FindByID(ctx context.Context, id string) (*model.Claim, error) {
	claim := &model.Claim{}
	err := scanClaim(r.db.QueryRowContext(ctx,
		`SELECT `+claimColumns+` FROM claims c WHERE c.id = $1`,
		id,
	), claim)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("クレームの取得に失敗しました: %w", err)
	}
	return claim, nil
}

// Create はpendingのクレームを作成する。
// (item_id, claimant_id)が既に存在する場合は行を作らずErrDuplicateを返す。
func (r *PostgresClaimRepo) Create(ctx context.Context, claim *model.Claim) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO claims (id, item_id, claimant_id, message, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (item_id, claimant_id) DO NOTHING`,
		claim.ID, claim.ItemID, claim.ClaimantID, claim.Message, string(claim.Status), claim.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("クレームの作成に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDuplicate
	}
	return nil
}

// ListByItem は指定アイテムのクレームを申請者情報付きで新しい順に取得する。
func (r *PostgresClaimRepo) ListByItem(ctx context.Context, itemID string) ([]*model.ClaimWithClaimant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+claimColumns+`, u.name, u.email
		 FROM claims c
		 JOIN users u ON u.id = c.claimant_id
		 WHERE c.item_id = $1
		 ORDER BY c.created_at DESC`,
		itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("クレーム一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var claims []*model.ClaimWithClaimant
	for rows.Next() {
		cwc := &model.ClaimWithClaimant{}
		if err := scanClaim(rows, &cwc.Claim, &cwc.ClaimantName, &cwc.ClaimantEmail); err != nil {
			return nil, fmt.Errorf("クレーム行の読み取りに失敗しました: %w", err)
		}
		claims = append(claims, cwc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("クレーム一覧の走査に失敗しました: %w", err)
	}
	return claims, nil
}

// Transition は現在の状態がfromの場合に限りtoへ遷移させ、応答内容を書き込む。
// 状態が一致しない場合はErrConflictを返す。
func (r *PostgresClaimRepo) Transition(ctx context.Context, claimID string, from, to model.ClaimStatus, resp model.ClaimResponse) error {
	var meetingLocation sql.NullString
	var meetingTime sql.NullTime
	if resp.Meeting != nil {
		meetingLocation = nullString(resp.Meeting.Location)
		meetingTime = sql.NullTime{Time: resp.Meeting.Time, Valid: true}
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE claims
		 SET status = $3, response_message = $4, meeting_location = $5, meeting_time = $6, verification_code = $7
		 WHERE id = $1 AND status = $2`,
		claimID, string(from), string(to), nullString(resp.ResponseMessage),
		meetingLocation, meetingTime, nullString(resp.VerificationCode),
	)
	if err != nil {
		return fmt.Errorf("クレームの状態更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("claim %s not in status %s: %w", claimID, from, ErrConflict)
	}
	return nil
}

// FindByCode は指定ユーザーが報告したアイテムに属し、指定状態にあるクレームをコードで検索する。
// reporterIDが空の場合は報告者で絞り込まない。
func (r *PostgresClaimRepo) FindByCode(ctx context.Context, code, reporterID string, status model.ClaimStatus) ([]*model.Claim, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+claimColumns+`
		 FROM claims c
		 JOIN items i ON i.id = c.item_id
		 WHERE c.verification_code = $1 AND c.status = $2
		   AND ($3::text = '' OR i.user_id::text = $3::text)
		 ORDER BY c.created_at ASC`,
		code, string(status), reporterID,
	)
	if err != nil {
		return nil, fmt.Errorf("コードによるクレーム検索に失敗しました: %w", err)
	}
	defer rows.Close()

	var claims []*model.Claim
	for rows.Next() {
		claim := &model.Claim{}
		if err := scanClaim(rows, claim); err != nil {
			return nil, fmt.Errorf("クレーム行の読み取りに失敗しました: %w", err)
		}
		claims = append(claims, claim)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("クレーム検索結果の走査に失敗しました: %w", err)
	}
	return claims, nil
}

// Complete はクレームの完了・アイテムの解決・信頼スコアの加算を1トランザクションで行う。
// クレームがacceptedでない、またはアイテムが既に解決済みの場合はErrConflictを返し、何も変更しない。
func (r *PostgresClaimRepo) Complete(ctx context.Context, claimID, itemID, rewardUserID string, reward int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE claims SET status = 'completed' WHERE id = $1 AND item_id = $2 AND status = 'accepted'`,
		claimID, itemID,
	)
	if err != nil {
		return fmt.Errorf("クレームの完了に失敗しました: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	} else if n == 0 {
		return fmt.Errorf("claim %s not accepted: %w", claimID, ErrConflict)
	}

	result, err = tx.ExecContext(ctx,
		`UPDATE items SET status = 'claimed' WHERE id = $1 AND status = 'unresolved'`,
		itemID,
	)
	if err != nil {
		return fmt.Errorf("アイテムの解決に失敗しました: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	} else if n == 0 {
		return fmt.Errorf("item %s already resolved: %w", itemID, ErrConflict)
	}

	if reward > 0 {
		// 読み取りを挟まない相対加算
		result, err = tx.ExecContext(ctx,
			`UPDATE users SET trust_score = trust_score + $2 WHERE id = $1`,
			rewardUserID, reward,
		)
		if err != nil {
			return fmt.Errorf("信頼スコアの加算に失敗しました: %w", err)
		}
		if n, err := result.RowsAffected(); err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		} else if n == 0 {
			return fmt.Errorf("user not found: %s", rewardUserID)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListIncomingPending は指定ユーザーが報告したアイテムへのpendingクレームを取得する。
func (r *PostgresClaimRepo) ListIncomingPending(ctx context.Context, reporterID string) ([]*model.ClaimWithItem, error) {
	return r.queryWithItem(ctx,
		`SELECT `+claimColumns+`, i.description, i.type, i.user_id
		 FROM claims c
		 JOIN items i ON i.id = c.item_id
		 WHERE i.user_id = $1 AND c.status = 'pending'
		 ORDER BY c.created_at DESC`,
		reporterID,
	)
}

// ListOutgoingResolved は指定ユーザーのクレームのうち応答済みのものを取得する。
func (r *PostgresClaimRepo) ListOutgoingResolved(ctx context.Context, claimantID string) ([]*model.ClaimWithItem, error) {
	return r.queryWithItem(ctx,
		`SELECT `+claimColumns+`, i.description, i.type, i.user_id
		 FROM claims c
		 JOIN items i ON i.id = c.item_id
		 WHERE c.claimant_id = $1 AND c.status IN ('accepted', 'rejected', 'completed')
		 ORDER BY c.created_at DESC`,
		claimantID,
	)
}

func (r *PostgresClaimRepo) queryWithItem(ctx context.Context, query string, args ...any) ([]*model.ClaimWithItem, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("クレーム一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var claims []*model.ClaimWithItem
	for rows.Next() {
		cwi := &model.ClaimWithItem{}
		var itemType string
		if err := scanClaim(rows, &cwi.Claim, &cwi.ItemDescription, &itemType, &cwi.ItemReporterID); err != nil {
			return nil, fmt.Errorf("クレーム行の読み取りに失敗しました: %w", err)
		}
		cwi.ItemType = model.ItemType(itemType)
		claims = append(claims, cwi)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("クレーム一覧の走査に失敗しました: %w", err)
	}
	return claims, nil
}

// compile-time interface check
var _ ClaimRepository = (*PostgresClaimRepo)(nil)
