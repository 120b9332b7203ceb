package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/hitoshi/campusfind/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// RetryAfterは429の場合のみ設定され、Retry-Afterヘッダーと同じ秒数を持つ。
type ErrorResponseBody struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Category   string `json:"category"`
	Action     string `json:"action"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// エラーレスポンスはキャッシュさせない。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeError(w, statusCode, apiErr, 0)
}

// WriteTooManyRequests はRetry-Afterヘッダー付きの429レスポンスを書き込む。
// secondsが1未満の場合は1秒とする。
func WriteTooManyRequests(w http.ResponseWriter, seconds int, apiErr *model.APIError) {
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeError(w, http.StatusTooManyRequests, apiErr, seconds)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}

func writeError(w http.ResponseWriter, statusCode int, apiErr *model.APIError, retryAfter int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:       apiErr.Code,
		Message:    apiErr.Message,
		Category:   apiErr.Category,
		Action:     apiErr.Action,
		RetryAfter: retryAfter,
	})
}
