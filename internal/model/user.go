// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// TrustScoreは検証完了時の報酬でのみ加算される。
type User struct {
	ID          string
	Email       string
	Name        string
	TrustScore  int
	DeviceToken string
	CreatedAt   time.Time
}

// Notification はクレームの状態から都度生成される通知を表す。
// キューとして保存されず、既読IDの集合のみが永続化される。
type Notification struct {
	ID        string
	Kind      string // incoming / outgoing
	Title     string
	Body      string
	ClaimID   string
	ItemID    string
	Link      string
	Status    ClaimStatus
	CreatedAt time.Time
	Read      bool
}
