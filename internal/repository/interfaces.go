// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/campusfind/internal/model"
)

var (
	// ErrConflict は条件付き更新が期待した状態の行に一致しなかったことを表す。
	ErrConflict = errors.New("repository: conditional update matched no rows")
	// ErrDuplicate は一意制約により挿入が行われなかったことを表す。
	ErrDuplicate = errors.New("repository: duplicate row")
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// Upsert は認証済みIDのユーザーを作成し、既存の場合は名前とメールを更新する。
	Upsert(ctx context.Context, user *model.User) error

	// UpdateDeviceToken はプッシュ通知用のデバイストークンを保存する。
	UpdateDeviceToken(ctx context.Context, userID, token string) error

	// ListTopByTrust は信頼スコアの高い順にユーザーを取得する。
	ListTopByTrust(ctx context.Context, limit int) ([]*model.User, error)
}

// ItemRepository はアイテムデータの永続化インターフェース。
type ItemRepository interface {
	// FindByID は指定IDのアイテムを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Item, error)

	// FindWithReporter は報告者情報付きでアイテムを取得する。見つからない場合はnilを返す。
	FindWithReporter(ctx context.Context, id string) (*model.ItemWithReporter, error)

	// Create はアイテムを作成する。
	Create(ctx context.Context, item *model.Item) error

	// List はフィルタ条件に一致するアイテムを新しい順に取得する。
	List(ctx context.Context, filter model.ItemFilter) ([]*model.ItemWithReporter, error)

	// ListMine は指定ユーザーが報告したアイテムと、受け取りが完了したアイテムを新しい順に取得する。
	ListMine(ctx context.Context, userID string) ([]*model.Item, error)

	// ListMatchCandidates は指定種別の未解決アイテムを新しい順に取得する。
	ListMatchCandidates(ctx context.Context, itemType model.ItemType, excludeItemID string, limit int) ([]*model.Item, error)

	// UpdateTags はタグ抽出結果でカテゴリ・色・ブランド・特徴を置き換える。
	UpdateTags(ctx context.Context, itemID string, tags model.Tags) error
}

// ClaimRepository はクレームデータの永続化インターフェース。
// 状態遷移はすべて現在の状態を条件とした単一の更新文で行う。
type ClaimRepository interface {
	// FindByID は指定IDのクレームを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Claim, error)

	// Create はpendingのクレームを作成する。
	// (item_id, claimant_id)が既に存在する場合は行を作らずErrDuplicateを返す。
	Create(ctx context.Context, claim *model.Claim) error

	// ListByItem は指定アイテムのクレームを申請者情報付きで新しい順に取得する。
	ListByItem(ctx context.Context, itemID string) ([]*model.ClaimWithClaimant, error)

	// Transition は現在の状態がfromの場合に限りtoへ遷移させ、応答内容を書き込む。
	// 状態が一致しない場合はErrConflictを返す。
	Transition(ctx context.Context, claimID string, from, to model.ClaimStatus, resp model.ClaimResponse) error

	// FindByCode は指定ユーザーが報告したアイテムに属し、指定状態にあるクレームをコードで検索する。
	// reporterIDが空の場合は報告者で絞り込まない。
	FindByCode(ctx context.Context, code, reporterID string, status model.ClaimStatus) ([]*model.Claim, error)

	// Complete はクレームの完了・アイテムの解決・信頼スコアの加算を1トランザクションで行う。
	// クレームがacceptedでない、またはアイテムが既に解決済みの場合はErrConflictを返す。
	Complete(ctx context.Context, claimID, itemID, rewardUserID string, reward int) error

	// ListIncomingPending は指定ユーザーが報告したアイテムへのpendingクレームを取得する。
	ListIncomingPending(ctx context.Context, reporterID string) ([]*model.ClaimWithItem, error)

	// ListOutgoingResolved は指定ユーザーのクレームのうち応答済みのものを取得する。
	ListOutgoingResolved(ctx context.Context, claimantID string) ([]*model.ClaimWithItem, error)
}

// NotificationReadRepository は既読通知IDの集合の永続化インターフェース。
type NotificationReadRepository interface {
	// ListRead は指定ユーザーの既読通知IDを取得する。
	ListRead(ctx context.Context, userID string) (map[string]bool, error)

	// MarkRead は通知IDを既読集合に追加する。既に含まれるIDは無視する。
	MarkRead(ctx context.Context, userID string, notificationIDs []string) error
}
