package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hitoshi/campusfind/internal/model"
)

// PostgresItemRepo はPostgreSQLを使用したアイテムリポジトリ。
type PostgresItemRepo struct {
	db *sql.DB
}

// NewPostgresItemRepo はPostgresItemRepoを生成する。
func NewPostgresItemRepo(db *sql.DB) *PostgresItemRepo {
	return &PostgresItemRepo{db: db}
}

const itemColumns = `i.id, i.user_id, i.type, i.description, i.location, i.status,
	i.category, i.color, i.brand, i.distinctive_features,
	i.image_url, i.image_key, i.cached_image_path,
	i.verification_question, i.verification_answer_type, i.contact_info, i.created_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanItem はitemColumnsの順に1行を読み取る。extraは後続の列の格納先。
func scanItem(s rowScanner, item *model.Item, extra ...any) error {
	var itemType, status string
	var category, color, brand, imageURL, imageKey, cachedPath, question, answerType, contact sql.NullString
	var features []byte

	dest := []any{
		&item.ID, &item.UserID, &itemType, &item.Description, &item.Location, &status,
		&category, &color, &brand, &features,
		&imageURL, &imageKey, &cachedPath,
		&question, &answerType, &contact, &item.CreatedAt,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return err
	}

	item.Type = model.ItemType(itemType)
	item.Status = model.ItemStatus(status)
	item.Category = nullStringValue(category)
	item.Color = nullStringValue(color)
	item.Brand = nullStringValue(brand)
	item.ImageURL = nullStringValue(imageURL)
	item.ImageKey = nullStringValue(imageKey)
	item.CachedImagePath = nullStringValue(cachedPath)
	item.VerificationQuestion = nullStringValue(question)
	item.VerificationAnswerType = nullStringValue(answerType)
	item.ContactInfo = nullStringValue(contact)

	item.DistinctiveFeatures = []string{}
	if len(features) > 0 {
		if err := json.Unmarshal(features, &item.DistinctiveFeatures); err != nil {
			return fmt.Errorf("特徴リストの解析に失敗しました: %w", err)
		}
	}
	return nil
}

func encodeFeatures(features []string) ([]byte, error) {
	if features == nil {
		features = []string{}
	}
	return json.Marshal(features)
}

// FindByID は指定IDのアイテムを取得する。見つからない場合はnilを返す。
func (r *PostgresItemRepo) FindByID(ctx context.Context, id string) (*model.Item, error) {
	item := &model.Item{}
	row := r.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items i WHERE i.id = $1`,
		id,
	)
	err := scanItem(row, item)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("アイテムの取得に失敗しました: %w", err)
	}
	return item, nil
}

// FindWithReporter は報告者情報付きでアイテムを取得する。見つからない場合はnilを返す。
func (r *PostgresItemRepo) FindWithReporter(ctx context.Context, id string) (*model.ItemWithReporter, error) {
	iwr := &model.ItemWithReporter{}
	row := r.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+`, u.name, u.email
		 FROM items i JOIN users u ON u.id = i.user_id
		 WHERE i.id = $1`,
		id,
	)
	err := scanItem(row, &iwr.Item, &iwr.ReporterName, &iwr.ReporterEmail)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("アイテムの取得に失敗しました: %w", err)
	}
	return iwr, nil
}

// Create はアイテムを作成する。
func (r *PostgresItemRepo) Create(ctx context.Context, item *model.Item) error {
	features, err := encodeFeatures(item.DistinctiveFeatures)
	if err != nil {
		return fmt.Errorf("特徴リストのエンコードに失敗しました: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO items (id, user_id, type, description, location, status,
		                    category, color, brand, distinctive_features,
		                    image_url, image_key, cached_image_path,
		                    verification_question, verification_answer_type, contact_info, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		item.ID, item.UserID, string(item.Type), item.Description, item.Location, string(item.Status),
		nullString(item.Category), nullString(item.Color), nullString(item.Brand), features,
		nullString(item.ImageURL), nullString(item.ImageKey), nullString(item.CachedImagePath),
		nullString(item.VerificationQuestion), nullString(item.VerificationAnswerType),
		nullString(item.ContactInfo), item.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("アイテムの作成に失敗しました: %w", err)
	}
	return nil
}

// List はフィルタ条件に一致するアイテムを新しい順に取得する。
// IncludeClaimedがfalseの場合は解決済みのアイテムを除外する。
func (r *PostgresItemRepo) List(ctx context.Context, filter model.ItemFilter) ([]*model.ItemWithReporter, error) {
	baseQuery := `
		SELECT ` + itemColumns + `, u.name, u.email
		FROM items i
		JOIN users u ON u.id = i.user_id
		WHERE 1 = 1`

	var args []any
	argIndex := 1

	if filter.Type != "" {
		baseQuery += fmt.Sprintf(" AND i.type = $%d", argIndex)
		args = append(args, string(filter.Type))
		argIndex++
	}
	if !filter.IncludeClaimed {
		baseQuery += " AND i.status = 'unresolved'"
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		baseQuery += fmt.Sprintf(
			" AND (i.description ILIKE $%[1]d OR i.category ILIKE $%[1]d OR i.brand ILIKE $%[1]d OR i.location ILIKE $%[1]d)",
			argIndex,
		)
		args = append(args, "%"+escapeLike(q)+"%")
		argIndex++
	}

	baseQuery += " ORDER BY i.created_at DESC"
	if filter.Limit > 0 {
		baseQuery += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, baseQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("アイテム一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var items []*model.ItemWithReporter
	for rows.Next() {
		iwr := &model.ItemWithReporter{}
		if err := scanItem(rows, &iwr.Item, &iwr.ReporterName, &iwr.ReporterEmail); err != nil {
			return nil, fmt.Errorf("アイテム行の読み取りに失敗しました: %w", err)
		}
		items = append(items, iwr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("アイテム一覧の走査に失敗しました: %w", err)
	}
	return items, nil
}

// ListMine は指定ユーザーが報告したアイテムと、受け取りが完了したアイテムを新しい順に取得する。
func (r *PostgresItemRepo) ListMine(ctx context.Context, userID string) ([]*model.Item, error) {
	return r.queryItems(ctx,
		`SELECT `+itemColumns+`
		 FROM items i
		 WHERE i.user_id = $1
		    OR EXISTS (
		        SELECT 1 FROM claims c
		        WHERE c.item_id = i.id AND c.claimant_id = $1 AND c.status = 'completed'
		    )
		 ORDER BY i.created_at DESC`,
		userID,
	)
}

// ListMatchCandidates は指定種別の未解決アイテムを新しい順に取得する。
func (r *PostgresItemRepo) ListMatchCandidates(ctx context.Context, itemType model.ItemType, excludeItemID string, limit int) ([]*model.Item, error) {
	return r.queryItems(ctx,
		`SELECT `+itemColumns+`
		 FROM items i
		 WHERE i.type = $1 AND i.status = 'unresolved' AND i.id <> $2
		 ORDER BY i.created_at DESC
		 LIMIT $3`,
		string(itemType), excludeItemID, limit,
	)
}

// UpdateTags はタグ抽出結果でカテゴリ・色・ブランド・特徴を置き換える。
func (r *PostgresItemRepo) UpdateTags(ctx context.Context, itemID string, tags model.Tags) error {
	features, err := encodeFeatures(tags.DistinctiveFeatures)
	if err != nil {
		return fmt.Errorf("特徴リストのエンコードに失敗しました: %w", err)
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE items SET category = $2, color = $3, brand = $4, distinctive_features = $5
		 WHERE id = $1`,
		itemID, nullString(tags.Category), nullString(tags.Color), nullString(tags.BrandOrEmpty()), features,
	)
	if err != nil {
		return fmt.Errorf("タグの更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("item not found: %s", itemID)
	}
	return nil
}

func (r *PostgresItemRepo) queryItems(ctx context.Context, query string, args ...any) ([]*model.Item, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("アイテム一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var items []*model.Item
	for rows.Next() {
		item := &model.Item{}
		if err := scanItem(rows, item); err != nil {
			return nil, fmt.Errorf("アイテム行の読み取りに失敗しました: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("アイテム一覧の走査に失敗しました: %w", err)
	}
	return items, nil
}

// escapeLike はILIKEパターンのメタ文字をエスケープする。
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// compile-time interface check
var _ ItemRepository = (*PostgresItemRepo)(nil)
