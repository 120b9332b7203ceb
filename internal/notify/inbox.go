package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hitoshi/campusfind/internal/model"
	"github.com/hitoshi/campusfind/internal/repository"
)

// 通知の方向
const (
	KindIncoming = "incoming"
	KindOutgoing = "outgoing"
)

// maxMarkRead は1回の既読操作で受け付ける通知IDの上限。
const maxMarkRead = 200

// NotificationID はクレームの状態から通知IDを生成する。
// 状態が変わると別の通知として扱われる。
func NotificationID(claimID string, status model.ClaimStatus) string {
	return fmt.Sprintf("claim_%s_%s", claimID, status)
}

// Inbox はクレームの状態から通知一覧を都度生成し、既読状態を管理する。
type Inbox struct {
	claimRepo repository.ClaimRepository
	readRepo  repository.NotificationReadRepository
	userRepo  repository.UserRepository
}

// NewInbox はInboxの新しいインスタンスを生成する。
func NewInbox(
	claimRepo repository.ClaimRepository,
	readRepo repository.NotificationReadRepository,
	userRepo repository.UserRepository,
) *Inbox {
	return &Inbox{
		claimRepo: claimRepo,
		readRepo:  readRepo,
		userRepo:  userRepo,
	}
}

var statusEvents = map[model.ClaimStatus]EventKind{
	model.ClaimStatusPending:   EventClaimSubmitted,
	model.ClaimStatusAccepted:  EventClaimAccepted,
	model.ClaimStatusRejected:  EventClaimRejected,
	model.ClaimStatusCompleted: EventClaimCompleted,
}

// List はユーザー宛ての通知を新しい順に返す。
// 自分のアイテムへのpendingクレームと、自分のクレームの応答結果から生成する。
func (b *Inbox) List(ctx context.Context, userID string) ([]model.Notification, error) {
	incoming, err := b.claimRepo.ListIncomingPending(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("受信クレームの取得に失敗しました: %w", err)
	}
	outgoing, err := b.claimRepo.ListOutgoingResolved(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("送信クレームの取得に失敗しました: %w", err)
	}
	read, err := b.readRepo.ListRead(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("既読通知の取得に失敗しました: %w", err)
	}

	notifications := make([]model.Notification, 0, len(incoming)+len(outgoing))
	appendFrom := func(kind string, claims []*model.ClaimWithItem) {
		for _, c := range claims {
			if n, ok := toNotification(kind, c, read); ok {
				notifications = append(notifications, n)
			}
		}
	}
	appendFrom(KindIncoming, incoming)
	appendFrom(KindOutgoing, outgoing)

	sort.SliceStable(notifications, func(i, j int) bool {
		return notifications[i].CreatedAt.After(notifications[j].CreatedAt)
	})
	return notifications, nil
}

func toNotification(kind string, c *model.ClaimWithItem, read map[string]bool) (model.Notification, bool) {
	eventKind, ok := statusEvents[c.Status]
	if !ok {
		return model.Notification{}, false
	}
	_, msg, ok := Translate(Event{
		Kind:            eventKind,
		ClaimID:         c.ID,
		ClaimantID:      c.ClaimantID,
		ItemID:          c.ItemID,
		ItemDescription: c.ItemDescription,
		ReporterID:      c.ItemReporterID,
	})
	if !ok {
		return model.Notification{}, false
	}

	id := NotificationID(c.ID, c.Status)
	return model.Notification{
		ID:        id,
		Kind:      kind,
		Title:     msg.Title,
		Body:      msg.Body,
		ClaimID:   c.ID,
		ItemID:    c.ItemID,
		Link:      msg.Link,
		Status:    c.Status,
		CreatedAt: c.CreatedAt,
		Read:      read[id],
	}, true
}

// MarkRead は通知IDを既読にする。既に既読のIDは無視される。
func (b *Inbox) MarkRead(ctx context.Context, userID string, ids []string) error {
	cleaned := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			cleaned = append(cleaned, id)
		}
	}
	if len(cleaned) == 0 {
		return model.NewInvalidRequestError("通知IDを指定してください")
	}
	if len(cleaned) > maxMarkRead {
		return model.NewInvalidRequestError(fmt.Sprintf("通知IDは%d件までです", maxMarkRead))
	}

	if err := b.readRepo.MarkRead(ctx, userID, cleaned); err != nil {
		return fmt.Errorf("既読の保存に失敗しました: %w", err)
	}
	return nil
}

// SaveDeviceToken はプッシュ通知用のデバイストークンを保存する。
func (b *Inbox) SaveDeviceToken(ctx context.Context, userID, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return model.NewInvalidRequestError("デバイストークンを指定してください")
	}
	if err := b.userRepo.UpdateDeviceToken(ctx, userID, token); err != nil {
		return fmt.Errorf("デバイストークンの保存に失敗しました: %w", err)
	}
	return nil
}
