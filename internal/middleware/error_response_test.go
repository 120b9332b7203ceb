package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/hitoshi/campusfind/internal/model"
)

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) (ErrorResponseBody, map[string]any) {
	t.Helper()

	var body ErrorResponseBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response body: %v\nraw: %s", err, w.Body.String())
	}
	var raw map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &raw); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return body, raw
}

func TestWriteErrorResponse(t *testing.T) {
	tests := []struct {
		name   string
		status int
		err    *model.APIError
	}{
		{"不正リクエスト", http.StatusBadRequest, model.NewInvalidRequestError("description is required")},
		{"未認証", http.StatusUnauthorized, model.NewUnauthorizedError()},
		{"権限なし", http.StatusForbidden, model.NewForbiddenError("respond")},
		{"アイテムなし", http.StatusNotFound, model.NewItemNotFoundError("item-1")},
		{"状態競合", http.StatusConflict, model.NewClaimConflictError(model.ClaimStatusCompleted)},
		{"カスタム", http.StatusTeapot, &model.APIError{Code: "CODE", Message: "MSG", Category: "CAT", Action: "ACT"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteErrorResponse(w, tt.status, tt.err)

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}
			if cc := w.Header().Get("Cache-Control"); cc != "no-store" {
				t.Errorf("Cache-Control = %q, want no-store", cc)
			}
			if w.Header().Get("Retry-After") != "" {
				t.Error("Retry-After should not be set")
			}

			body, raw := decodeErrorBody(t, w)
			want := ErrorResponseBody{Code: tt.err.Code, Message: tt.err.Message, Category: tt.err.Category, Action: tt.err.Action}
			if body != want {
				t.Errorf("body = %+v, want %+v", body, want)
			}
			for _, field := range []string{"code", "message", "category", "action"} {
				if _, ok := raw[field]; !ok {
					t.Errorf("missing field: %s", field)
				}
			}
			if _, ok := raw["retry_after"]; ok {
				t.Error("retry_after should be omitted outside 429 responses")
			}
		})
	}
}

func TestWriteInternalServerError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteInternalServerError(w)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	body, _ := decodeErrorBody(t, w)
	if body.Code != model.ErrCodeInternal || body.Category != "system" || body.Action == "" {
		t.Errorf("body = %+v", body)
	}
}

// TestWriteTooManyRequests はRetry-Afterヘッダーとボディの秒数が一致することを検証する。
func TestWriteTooManyRequests(t *testing.T) {
	tests := []struct {
		name    string
		seconds int
		err     *model.APIError
		want    int
	}{
		{"利用者ごとの上限", 12, model.NewRateLimitExceededError(), 12},
		{"解析サービスの上限", 30, model.NewOracleRateLimitedError(), 30},
		{"0は1秒に切り上げ", 0, model.NewRateLimitExceededError(), 1},
		{"負数も1秒", -5, model.NewOracleRateLimitedError(), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteTooManyRequests(w, tt.seconds, tt.err)

			if w.Code != http.StatusTooManyRequests {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
			}
			if got := w.Header().Get("Retry-After"); got != strconv.Itoa(tt.want) {
				t.Errorf("Retry-After = %q, want %d", got, tt.want)
			}
			body, _ := decodeErrorBody(t, w)
			if body.RetryAfter != tt.want || body.Code != tt.err.Code {
				t.Errorf("body = %+v", body)
			}
		})
	}
}
