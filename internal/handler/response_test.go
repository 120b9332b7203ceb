package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/campusfind/internal/model"
	"github.com/hitoshi/campusfind/internal/oracle"
)

func TestMapAPIErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		err  *model.APIError
		want int
	}{
		{model.NewInvalidRequestError("x"), http.StatusBadRequest},
		{model.NewInvalidImageError(), http.StatusBadRequest},
		{model.NewDuplicateClaimError(), http.StatusBadRequest},
		{model.NewOwnItemClaimError(), http.StatusBadRequest},
		{model.NewMeetingRequiredError(), http.StatusBadRequest},
		{model.NewInvalidCodeError(), http.StatusBadRequest},
		{model.NewAmbiguousCodeError(), http.StatusBadRequest},
		{model.NewUnauthorizedError(), http.StatusUnauthorized},
		{model.NewForbiddenError("verify"), http.StatusForbidden},
		{model.NewItemNotFoundError("i"), http.StatusNotFound},
		{model.NewClaimNotFoundError("c"), http.StatusNotFound},
		{model.NewUserNotFoundError(), http.StatusNotFound},
		{model.NewClaimConflictError(model.ClaimStatusAccepted), http.StatusConflict},
		{model.NewOracleRateLimitedError(), http.StatusTooManyRequests},
		{&model.APIError{Code: "SOMETHING_ELSE"}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Code, func(t *testing.T) {
			if got := mapAPIErrorToHTTPStatus(tt.err); got != tt.want {
				t.Errorf("mapAPIErrorToHTTPStatus(%s) = %d, want %d", tt.err.Code, got, tt.want)
			}
		})
	}
}

func TestHandleServiceError_OracleRateLimit(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		wantRetryAfter string
	}{
		{
			name:           "推論サービスの指定値",
			err:            fmt.Errorf("タグの抽出に失敗しました: %w", &oracle.StatusError{StatusCode: 429, RetryAfter: 12 * time.Second}),
			wantRetryAfter: "12",
		},
		{
			name:           "ローカルの呼び出し上限",
			err:            fmt.Errorf("wrap: %w", oracle.ErrRateLimited),
			wantRetryAfter: "30",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			handleServiceError(w, tt.err)

			if w.Code != http.StatusTooManyRequests {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
			}
			if got := w.Header().Get("Retry-After"); got != tt.wantRetryAfter {
				t.Errorf("Retry-After = %q, want %q", got, tt.wantRetryAfter)
			}
			if body := decodeErrorBody(t, w); body.Code != model.ErrCodeOracleRateLimited {
				t.Errorf("code = %q, want %q", body.Code, model.ErrCodeOracleRateLimited)
			}
		})
	}
}

func TestHandleServiceError_WrappedAPIErrorAndInternal(t *testing.T) {
	w := httptest.NewRecorder()
	handleServiceError(w, fmt.Errorf("wrap: %w", model.NewForbiddenError("respond")))
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}

	w = httptest.NewRecorder()
	handleServiceError(w, errors.New("db down"))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if body := decodeErrorBody(t, w); body.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want INTERNAL_ERROR", body.Code)
	}
}
