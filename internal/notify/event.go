// Package notify はクレームの状態遷移をプッシュ通知へ変換して配信する。
// 配信はベストエフォートで行い、失敗は遷移の結果に影響しない。
package notify

import (
	"fmt"

	"github.com/hitoshi/campusfind/internal/model"
)

// EventKind はクレームの状態遷移の種類を表す。
type EventKind string

const (
	EventClaimSubmitted EventKind = "claim_submitted"
	EventClaimAccepted  EventKind = "claim_accepted"
	EventClaimRejected  EventKind = "claim_rejected"
	EventClaimCompleted EventKind = "claim_completed"
)

// Event はコミット済みの状態遷移を表す。
type Event struct {
	Kind            EventKind
	ClaimID         string
	ClaimantID      string
	ItemID          string
	ItemDescription string
	ReporterID      string
}

// NewEvent はクレームとアイテムから通知イベントを生成する。
func NewEvent(kind EventKind, claim *model.Claim, item *model.Item) Event {
	return Event{
		Kind:            kind,
		ClaimID:         claim.ID,
		ClaimantID:      claim.ClaimantID,
		ItemID:          item.ID,
		ItemDescription: item.Description,
		ReporterID:      item.UserID,
	}
}

// Message はプッシュ通知の内容を表す。
type Message struct {
	Title string
	Body  string
	Link  string
}

// ItemLink はアイテム詳細画面へのリンクを返す。
func ItemLink(itemID string) string {
	return "/item/" + itemID
}

// Translate はイベントを受信者IDと通知内容に変換する。
// 未知のイベントの場合はokにfalseを返す。
func Translate(ev Event) (recipientID string, msg Message, ok bool) {
	link := ItemLink(ev.ItemID)
	switch ev.Kind {
	case EventClaimSubmitted:
		return ev.ReporterID, Message{
			Title: "New Claim Request",
			Body:  fmt.Sprintf("Someone claimed your item: %s", ev.ItemDescription),
			Link:  link,
		}, true
	case EventClaimAccepted:
		return ev.ClaimantID, Message{
			Title: "Claim Accepted!",
			Body:  fmt.Sprintf("Your claim for '%s' was accepted. Check details!", ev.ItemDescription),
			Link:  link,
		}, true
	case EventClaimRejected:
		return ev.ClaimantID, Message{
			Title: "Claim Rejected",
			Body:  fmt.Sprintf("Your claim for '%s' was rejected.", ev.ItemDescription),
			Link:  link,
		}, true
	case EventClaimCompleted:
		return ev.ClaimantID, Message{
			Title: "Item Recovered",
			Body:  fmt.Sprintf("Your claim for '%s' was verified & recovered.", ev.ItemDescription),
			Link:  link,
		}, true
	}
	return "", Message{}, false
}
