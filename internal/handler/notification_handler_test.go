package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/hitoshi/campusfind/internal/model"
)

func TestNotificationHandler_ListNotifications(t *testing.T) {
	created := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	inbox := &mockInbox{
		listFn: func(ctx context.Context, userID string) ([]model.Notification, error) {
			if userID != "user-1" {
				t.Errorf("userID = %q, want %q", userID, "user-1")
			}
			return []model.Notification{{
				ID:        "claim_c1_pending",
				Kind:      "incoming",
				Title:     "New Claim Request",
				Body:      "Someone claimed your item: Blue bottle",
				ClaimID:   "c1",
				ItemID:    "i1",
				Link:      "/item/i1",
				Status:    model.ClaimStatusPending,
				CreatedAt: created,
				Read:      true,
			}}, nil
		},
	}
	h := NewNotificationHandler(inbox)

	req := withUserID(httptest.NewRequest(http.MethodGet, "/api/notifications", nil), "user-1")
	w := httptest.NewRecorder()
	h.ListNotifications(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(resp) != 1 {
		t.Fatalf("len = %d, want 1", len(resp))
	}
	want := map[string]any{
		"id":      "claim_c1_pending",
		"type":    "incoming",
		"message": "Someone claimed your item: Blue bottle",
		"link":    "/item/i1",
		"status":  "pending",
		"read":    true,
	}
	for k, v := range want {
		if resp[0][k] != v {
			t.Errorf("%s = %v, want %v", k, resp[0][k], v)
		}
	}
}

func TestNotificationHandler_MarkRead_AcceptsIDAndIDs(t *testing.T) {
	var got []string
	inbox := &mockInbox{
		markReadFn: func(ctx context.Context, userID string, ids []string) error {
			got = ids
			return nil
		},
	}
	h := NewNotificationHandler(inbox)

	req := withUserID(jsonRequest(http.MethodPost, "/api/notifications/read", `{"id":"claim_c3_accepted","ids":["claim_c1_pending","claim_c2_rejected"]}`), "user-1")
	w := httptest.NewRecorder()
	h.MarkRead(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	want := []string{"claim_c1_pending", "claim_c2_rejected", "claim_c3_accepted"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ids = %v, want %v", got, want)
	}
}

func TestNotificationHandler_MarkRead_Empty(t *testing.T) {
	inbox := &mockInbox{
		markReadFn: func(ctx context.Context, userID string, ids []string) error {
			return model.NewInvalidRequestError("通知IDを指定してください")
		},
	}
	h := NewNotificationHandler(inbox)

	req := withUserID(jsonRequest(http.MethodPost, "/api/notifications/read", `{}`), "user-1")
	w := httptest.NewRecorder()
	h.MarkRead(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestNotificationHandler_SaveDeviceToken(t *testing.T) {
	var gotToken string
	inbox := &mockInbox{
		saveTokenFn: func(ctx context.Context, userID, token string) error {
			gotToken = token
			return nil
		},
	}
	h := NewNotificationHandler(inbox)

	req := withUserID(jsonRequest(http.MethodPost, "/api/notifications/token", `{"token":"fcm-token-1"}`), "user-1")
	w := httptest.NewRecorder()
	h.SaveDeviceToken(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if gotToken != "fcm-token-1" {
		t.Errorf("token = %q, want %q", gotToken, "fcm-token-1")
	}

	// トークンなしは検証エラー
	req = withUserID(jsonRequest(http.MethodPost, "/api/notifications/token", `{}`), "user-1")
	w = httptest.NewRecorder()
	h.SaveDeviceToken(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
