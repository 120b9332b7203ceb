// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/campusfind/internal/middleware"
	"github.com/hitoshi/campusfind/internal/model"
	"github.com/hitoshi/campusfind/internal/oracle"
)

// maxJSONBodyBytes はJSONリクエストボディの上限サイズ。
const maxJSONBodyBytes = 64 << 10

// validate はリクエストDTOの検証器。
var validate = validator.New()

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// requireUser はコンテキストから認証済みユーザーIDを取得する。
// 取得できない場合は401を書き込みfalseを返す。
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return "", false
	}
	return userID, true
}

// decodeJSON はリクエストボディをdstにデコードし、validateタグで検証する。
// 失敗した場合は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの形式が正しくありません"))
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(validationMessage(err)))
		return false
	}
	return true
}

// validationMessage は検証エラーをユーザー向けの文言に変換する。
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "入力内容が正しくありません"
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s(%s)", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return "入力内容が正しくありません: " + strings.Join(fields, ", ")
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
// 推論サービスのレート制限はRetry-After付きの429として返す。
func handleServiceError(w http.ResponseWriter, err error) {
	if oracle.IsRateLimited(err) {
		middleware.WriteTooManyRequests(w, retryAfterSeconds(err), model.NewOracleRateLimitedError())
		return
	}

	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// retryAfterSeconds は推論サービスが指定した待機秒数を返す。指定がなければ既定値。
func retryAfterSeconds(err error) int {
	const fallback = 30
	d := oracle.RetryAfter(err)
	if d <= 0 {
		return fallback
	}
	return int(d.Seconds())
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidRequest,
		model.ErrCodeInvalidImage,
		model.ErrCodeDuplicateClaim,
		model.ErrCodeOwnItemClaim,
		model.ErrCodeItemAlreadyResolved,
		model.ErrCodeMeetingRequired,
		model.ErrCodeInvalidMeetingTime,
		model.ErrCodeInvalidAction,
		model.ErrCodeCodeRequired,
		model.ErrCodeInvalidCode,
		model.ErrCodeAmbiguousCode:
		return http.StatusBadRequest
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeItemNotFound, model.ErrCodeClaimNotFound, model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeClaimConflict:
		return http.StatusConflict
	case model.ErrCodeOracleRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
