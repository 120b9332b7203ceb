// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, conflict, claim, oracle, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeInvalidImage        = "INVALID_IMAGE"
	ErrCodeDuplicateClaim      = "DUPLICATE_CLAIM"
	ErrCodeOwnItemClaim        = "OWN_ITEM_CLAIM"
	ErrCodeItemAlreadyResolved = "ITEM_ALREADY_RESOLVED"
	ErrCodeMeetingRequired     = "MEETING_REQUIRED"
	ErrCodeInvalidMeetingTime  = "INVALID_MEETING_TIME"
	ErrCodeInvalidAction       = "INVALID_ACTION"
	ErrCodeCodeRequired        = "CODE_REQUIRED"
	ErrCodeInvalidCode         = "INVALID_CODE"
	ErrCodeAmbiguousCode       = "AMBIGUOUS_CODE"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeClaimConflict       = "CLAIM_CONFLICT"
	ErrCodeItemNotFound        = "ITEM_NOT_FOUND"
	ErrCodeClaimNotFound       = "CLAIM_NOT_FOUND"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodeOracleRateLimited   = "ORACLE_RATE_LIMITED"
	ErrCodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// NewInvalidRequestError はリクエスト形式の不備を表すエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidImageError は画像が読み取れない場合のエラーを生成する。
func NewInvalidImageError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidImage,
		Message:  "画像を読み取れませんでした。",
		Category: "validation",
		Action:   "JPEG、PNG、GIFのいずれかの画像を添付してください。",
	}
}

// NewItemNotFoundError はアイテム未検出エラーを生成する。
func NewItemNotFoundError(itemID string) *APIError {
	return &APIError{
		Code:     ErrCodeItemNotFound,
		Message:  fmt.Sprintf("指定されたアイテムが見つかりません: %s", itemID),
		Category: "validation",
		Action:   "アイテムIDを確認してください。",
	}
}

// NewClaimNotFoundError はクレーム未検出エラーを生成する。
func NewClaimNotFoundError(claimID string) *APIError {
	return &APIError{
		Code:     ErrCodeClaimNotFound,
		Message:  fmt.Sprintf("指定されたクレームが見つかりません: %s", claimID),
		Category: "claim",
		Action:   "クレームIDを確認してください。",
	}
}

// NewDuplicateClaimError は同じアイテムに二重にクレームした場合のエラーを生成する。
func NewDuplicateClaimError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateClaim,
		Message:  "このアイテムには既にクレーム済みです。",
		Category: "validation",
		Action:   "クレームの状況は通知一覧から確認してください。",
	}
}

// NewOwnItemClaimError は自分が報告したアイテムにクレームした場合のエラーを生成する。
func NewOwnItemClaimError() *APIError {
	return &APIError{
		Code:     ErrCodeOwnItemClaim,
		Message:  "自分が報告したアイテムにはクレームできません。",
		Category: "validation",
		Action:   "他のユーザーが報告したアイテムを選択してください。",
	}
}

// NewItemAlreadyResolvedError は既に受け渡し済みのアイテムへの操作エラーを生成する。
func NewItemAlreadyResolvedError() *APIError {
	return &APIError{
		Code:     ErrCodeItemAlreadyResolved,
		Message:  "このアイテムは既に持ち主に返却されています。",
		Category: "validation",
		Action:   "フィードから他のアイテムを確認してください。",
	}
}

// NewMeetingRequiredError は承認時に待ち合わせ情報が欠けている場合のエラーを生成する。
func NewMeetingRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeMeetingRequired,
		Message:  "承認には待ち合わせ場所と日時が必要です。",
		Category: "validation",
		Action:   "meeting_location と meeting_time を指定してください。",
	}
}

// NewInvalidMeetingTimeError は待ち合わせ日時が解析できない場合のエラーを生成する。
func NewInvalidMeetingTimeError(value string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidMeetingTime,
		Message:  fmt.Sprintf("待ち合わせ日時の形式が不正です: %s", value),
		Category: "validation",
		Action:   "ISO 8601形式（例: 2026-04-01T15:00:00Z）で指定してください。",
	}
}

// NewInvalidActionError は応答操作が不正な場合のエラーを生成する。
func NewInvalidActionError(action string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidAction,
		Message:  fmt.Sprintf("無効な操作です: %s", action),
		Category: "validation",
		Action:   "action には accept または reject を指定してください。",
	}
}

// NewCodeRequiredError は検証コードが未指定の場合のエラーを生成する。
func NewCodeRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeCodeRequired,
		Message:  "検証コードが指定されていません。",
		Category: "validation",
		Action:   "申請者から提示された6桁のコードを入力してください。",
	}
}

// NewInvalidCodeError は有効な検証コードが見つからない場合のエラーを生成する。
func NewInvalidCodeError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCode,
		Message:  "検証コードが無効か、有効期限が切れています。",
		Category: "validation",
		Action:   "コードを確認して再度入力してください。",
	}
}

// NewAmbiguousCodeError は同じコードを持つ承認済みクレームが複数ある場合のエラーを生成する。
func NewAmbiguousCodeError() *APIError {
	return &APIError{
		Code:     ErrCodeAmbiguousCode,
		Message:  "同じコードを持つクレームが複数存在します。",
		Category: "validation",
		Action:   "item_id を指定して再度検証してください。",
	}
}

// NewUnauthorizedError は認証情報がない場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError はアイテムの報告者以外が操作した場合のエラーを生成する。
func NewForbiddenError(operation string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("この操作を行う権限がありません: %s", operation),
		Category: "auth",
		Action:   "アイテムの報告者のみが実行できます。",
	}
}

// NewClaimConflictError はクレームの状態が同時に変更された場合のエラーを生成する。
func NewClaimConflictError(status ClaimStatus) *APIError {
	return &APIError{
		Code:     ErrCodeClaimConflict,
		Message:  fmt.Sprintf("クレームの状態が変更されています（現在: %s）。", status),
		Category: "conflict",
		Action:   "画面を更新して最新の状態を確認してください。",
	}
}

// NewOracleRateLimitedError は画像解析サービスが混雑している場合のエラーを生成する。
func NewOracleRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeOracleRateLimited,
		Message:  "画像解析サービスが混雑しています。",
		Category: "oracle",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewRateLimitExceededError はユーザー単位のリクエスト上限を超えた場合のエラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "指定された時間が経過してから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
