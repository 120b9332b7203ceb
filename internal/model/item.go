// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"time"
)

// ItemType は報告種別（紛失/拾得）を表す。
type ItemType string

const (
	// ItemTypeLost は持ち主が紛失を報告した落とし物。
	ItemTypeLost ItemType = "lost"
	// ItemTypeFound は拾得者が報告した拾得物。
	ItemTypeFound ItemType = "found"
)

// ParseItemType は文字列をItemTypeに変換する。
func ParseItemType(s string) (ItemType, error) {
	switch ItemType(s) {
	case ItemTypeLost, ItemTypeFound:
		return ItemType(s), nil
	}
	return "", fmt.Errorf("unknown item type: %q", s)
}

// Opposite はマッチング対象となる反対側の種別を返す。
func (t ItemType) Opposite() ItemType {
	if t == ItemTypeLost {
		return ItemTypeFound
	}
	return ItemTypeLost
}

// ItemStatus はアイテムの解決状態を表す。
type ItemStatus string

const (
	ItemStatusUnresolved ItemStatus = "unresolved"
	ItemStatusClaimed    ItemStatus = "claimed"
)

// Item はユーザーが報告した落とし物・拾得物を表す。
// Statusはクレームの検証完了時のみ、タグ類はタグ抽出時のみ更新される。
type Item struct {
	ID                     string
	UserID                 string
	Type                   ItemType
	Description            string
	Location               string
	Status                 ItemStatus
	Category               string // 空文字はNULL
	Color                  string // 空文字はNULL
	Brand                  string // 空文字はNULL
	DistinctiveFeatures    []string
	ImageURL               string
	ImageKey               string
	CachedImagePath        string
	VerificationQuestion   string
	VerificationAnswerType string
	ContactInfo            string
	CreatedAt              time.Time
}

// ItemWithReporter はアイテムと報告者の表示情報を結合したモデル。
type ItemWithReporter struct {
	Item
	ReporterName  string
	ReporterEmail string
}

// Tags はタグ抽出の結果を表す。
// Brandはオラクルがnullを返した場合にnilとなる。
type Tags struct {
	Category            string
	Color               string
	Brand               *string
	Description         string
	DistinctiveFeatures []string
}

// BrandOrEmpty はBrandを文字列で返す。nilの場合は空文字。
func (t Tags) BrandOrEmpty() string {
	if t.Brand == nil {
		return ""
	}
	return *t.Brand
}

// VerificationQuestion は拾得物の持ち主確認用の質問を表す。
type VerificationQuestion struct {
	Question           string
	ExpectedAnswerType string
}

// ItemFilter はフィード一覧の絞り込み条件を表す。
type ItemFilter struct {
	Type           ItemType // 空の場合は全種別
	Query          string
	IncludeClaimed bool
	Limit          int
}

// Match はマッチング結果の1件を表す。
type Match struct {
	Item       Item
	Confidence int
	Reasoning  string
}
