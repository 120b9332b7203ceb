package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/campusfind/internal/model"
)

// InboxInterface は通知ハンドラーが必要とするサービスインターフェース。
type InboxInterface interface {
	// List はユーザー宛ての通知を新しい順に返す。
	List(ctx context.Context, userID string) ([]model.Notification, error)
	// MarkRead は通知を既読にする。
	MarkRead(ctx context.Context, userID string, ids []string) error
	// SaveDeviceToken はプッシュ通知の宛先を保存する。
	SaveDeviceToken(ctx context.Context, userID, token string) error
}

// NotificationHandler は通知のHTTPハンドラー。
type NotificationHandler struct {
	inbox InboxInterface
}

// NewNotificationHandler はNotificationHandlerを生成する。
func NewNotificationHandler(inbox InboxInterface) *NotificationHandler {
	return &NotificationHandler{inbox: inbox}
}

// markReadRequest は既読リクエストのボディ。単一のidと複数のidsのどちらも受け付ける。
type markReadRequest struct {
	ID  string   `json:"id" validate:"max=128"`
	IDs []string `json:"ids" validate:"max=200,dive,max=128"`
}

// deviceTokenRequest はデバイストークン保存リクエストのボディ。
type deviceTokenRequest struct {
	Token string `json:"token" validate:"required,max=4096"`
}

// notificationResponse は通知のAPIレスポンス。
type notificationResponse struct {
	ID        string    `json:"id"`
	Kind      string    `json:"type"`
	Title     string    `json:"title"`
	Body      string    `json:"message"`
	ClaimID   string    `json:"claim_id"`
	ItemID    string    `json:"item_id"`
	Link      string    `json:"link"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	Read      bool      `json:"read"`
}

// ListNotifications は通知一覧を取得する。
// GET /api/notifications
func (h *NotificationHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	notifications, err := h.inbox.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]notificationResponse, len(notifications))
	for i, n := range notifications {
		resp[i] = notificationResponse{
			ID:        n.ID,
			Kind:      n.Kind,
			Title:     n.Title,
			Body:      n.Body,
			ClaimID:   n.ClaimID,
			ItemID:    n.ItemID,
			Link:      n.Link,
			Status:    string(n.Status),
			CreatedAt: n.CreatedAt,
			Read:      n.Read,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// MarkRead は通知を既読にする。
// POST /api/notifications/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req markReadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ids := req.IDs
	if req.ID != "" {
		ids = append(ids, req.ID)
	}

	if err := h.inbox.MarkRead(r.Context(), userID, ids); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SaveDeviceToken はプッシュ通知用のデバイストークンを保存する。
// POST /api/notifications/token
func (h *NotificationHandler) SaveDeviceToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req deviceTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.inbox.SaveDeviceToken(r.Context(), userID, req.Token); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
