package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// statusCounter はStatusRecorderのテスト用実装。
type statusCounter struct {
	codes []int
}

func (c *statusCounter) RecordHTTPStatus(statusCode int) {
	c.codes = append(c.codes, statusCode)
}

// logOnce はハンドラーを1回実行し、出力されたログ行とレスポンスを返す。
func logOnce(t *testing.T, next http.Handler, req *http.Request, recorder StatusRecorder) (map[string]any, *httptest.ResponseRecorder) {
	t.Helper()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	w := httptest.NewRecorder()
	NewLoggingMiddleware(logger, recorder)(next).ServeHTTP(w, req)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("ログ行数 = %d, want 1\nraw: %s", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v\nraw: %s", err, buf.String())
	}
	return entry, w
}

func TestLoggingMiddleware_Fields(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("hello"))
	})
	req := httptest.NewRequest(http.MethodPost, "/api/items/draft?x=1", nil)

	entry, _ := logOnce(t, next, req, nil)

	if entry["msg"] != "http_request" {
		t.Errorf("msg = %v, want http_request", entry["msg"])
	}
	if entry["method"] != "POST" {
		t.Errorf("method = %v, want POST", entry["method"])
	}
	if entry["path"] != "/api/items/draft" {
		t.Errorf("path = %v, want /api/items/draft", entry["path"])
	}
	if entry["status"] != float64(http.StatusAccepted) {
		t.Errorf("status = %v, want %d", entry["status"], http.StatusAccepted)
	}
	if entry["bytes"] != float64(5) {
		t.Errorf("bytes = %v, want 5", entry["bytes"])
	}
	if d, ok := entry["duration_ms"].(float64); !ok || d < 0 {
		t.Errorf("duration_ms = %v, want >= 0", entry["duration_ms"])
	}
	if _, ok := entry["user_id"]; ok {
		t.Errorf("未認証リクエストにuser_idが出力された: %v", entry["user_id"])
	}
}

func TestLoggingMiddleware_ImplicitOK(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	counter := &statusCounter{}

	entry, _ := logOnce(t, next, httptest.NewRequest(http.MethodGet, "/health", nil), counter)

	if entry["status"] != float64(http.StatusOK) {
		t.Errorf("status = %v, want 200", entry["status"])
	}
	if len(counter.codes) != 1 || counter.codes[0] != http.StatusOK {
		t.Errorf("codes = %v, want [200]", counter.codes)
	}
}

func TestLoggingMiddleware_RequestID(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	})

	t.Run("クライアント指定を引き継ぐ", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
		req.Header.Set(RequestIDHeader, "req-abc")

		entry, w := logOnce(t, next, req, nil)

		if entry["request_id"] != "req-abc" || seen != "req-abc" {
			t.Errorf("request_id = %v, context = %q, want req-abc", entry["request_id"], seen)
		}
		if got := w.Header().Get(RequestIDHeader); got != "req-abc" {
			t.Errorf("%s = %q, want req-abc", RequestIDHeader, got)
		}
	})

	t.Run("長すぎる値は採番し直す", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
		req.Header.Set(RequestIDHeader, strings.Repeat("x", maxRequestIDLength+1))

		entry, w := logOnce(t, next, req, nil)

		id, _ := entry["request_id"].(string)
		if len(id) != 36 {
			t.Errorf("request_id = %q, want generated UUID", id)
		}
		if w.Header().Get(RequestIDHeader) != id || seen != id {
			t.Errorf("header/context mismatch: header=%q context=%q log=%q", w.Header().Get(RequestIDHeader), seen, id)
		}
	})
}

func TestRequestIDFromContext_Empty(t *testing.T) {
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Errorf("RequestIDFromContext = %q, want empty", got)
	}
}

func TestLoggingMiddleware_UserIDFromOuterContext(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
	req = req.WithContext(context.WithValue(req.Context(), userIDContextKey, "user-123"))

	entry, _ := logOnce(t, next, req, nil)

	if entry["user_id"] != "user-123" {
		t.Errorf("user_id = %v, want user-123", entry["user_id"])
	}
}

// TestLoggingMiddleware_UserIDFromInnerAuth は内側の認証ミドルウェアが判明させたユーザーIDがログに含まれることを検証する。
func TestLoggingMiddleware_UserIDFromInnerAuth(t *testing.T) {
	counter := &statusCounter{}
	inner := NewAuthMiddleware(testSecret, &mockUserEnsurer{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/claims", nil)
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, testSecret, "user-inner", time.Now().Add(time.Hour)))

	entry, _ := logOnce(t, inner, req, counter)

	if entry["user_id"] != "user-inner" {
		t.Errorf("user_id = %v, want %q", entry["user_id"], "user-inner")
	}
	if len(counter.codes) != 1 || counter.codes[0] != http.StatusCreated {
		t.Errorf("記録されたステータスが想定と異なります: %v", counter.codes)
	}
}

func TestLoggingMiddleware_LevelByStatus(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusNoContent, "INFO"},
		{http.StatusNotFound, "WARN"},
		{http.StatusTooManyRequests, "WARN"},
		{http.StatusInternalServerError, "ERROR"},
		{http.StatusServiceUnavailable, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			entry, _ := logOnce(t, next, httptest.NewRequest(http.MethodGet, "/test", nil), nil)

			if entry["level"] != tt.want {
				t.Errorf("level = %v, want %s", entry["level"], tt.want)
			}
			if entry["status"] != float64(tt.status) {
				t.Errorf("status = %v, want %d", entry["status"], tt.status)
			}
		})
	}
}
