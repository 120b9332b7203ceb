package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/campusfind/internal/claim"
	"github.com/hitoshi/campusfind/internal/model"
	"github.com/hitoshi/campusfind/internal/security"
)

// 入力テキストの最大文字数
const (
	maxClaimMessageRunes    = 1000
	maxResponseMessageRunes = 1000
	maxMeetingLocationRunes = 200
	maxDraftDescRunes       = 200
)

// ClaimServiceInterface はクレームハンドラーが必要とするサービスインターフェース。
type ClaimServiceInterface interface {
	// Submit はクレームを申請する。
	Submit(ctx context.Context, claimantID, itemID, message string) (*model.Claim, error)
	// Respond は報告者がクレームを承認または却下する。
	Respond(ctx context.Context, reporterID, claimID string, req claim.RespondRequest) (*model.Claim, error)
	// Verify は検証コードで受け渡しを完了する。
	Verify(ctx context.Context, verifierID string, req claim.VerifyRequest) (*model.VerifyResult, error)
	// ListForItem は閲覧者に見せてよいクレーム一覧を返す。
	ListForItem(ctx context.Context, viewerID, itemID string) ([]*model.ClaimWithClaimant, error)
}

// MessageDrafter はクレームのメッセージ案を作成するインターフェース。
type MessageDrafter interface {
	Draft(ctx context.Context, itemType model.ItemType, description string) (string, error)
}

// ClaimHandler はクレーム管理のHTTPハンドラー。
type ClaimHandler struct {
	service   ClaimServiceInterface
	drafter   MessageDrafter
	sanitizer security.TextSanitizer
}

// NewClaimHandler はClaimHandlerを生成する。
func NewClaimHandler(service ClaimServiceInterface, drafter MessageDrafter, sanitizer security.TextSanitizer) *ClaimHandler {
	return &ClaimHandler{
		service:   service,
		drafter:   drafter,
		sanitizer: sanitizer,
	}
}

// --- リクエスト型 ---

// submitClaimRequest はクレーム申請リクエストのボディ。
type submitClaimRequest struct {
	ItemID  string `json:"item_id" validate:"required,max=64"`
	Message string `json:"message" validate:"max=4000"`
}

// respondClaimRequest はクレーム応答リクエストのボディ。
type respondClaimRequest struct {
	Action          string `json:"action" validate:"required"`
	ResponseMessage string `json:"response_message" validate:"max=4000"`
	MeetingLocation string `json:"meeting_location" validate:"max=1000"`
	MeetingTime     string `json:"meeting_time" validate:"max=64"`
}

// verifyClaimRequest は検証リクエストのボディ。
// QRコード読み取り時はtoken、手入力時はcodeで送られる。
type verifyClaimRequest struct {
	Code   string `json:"code" validate:"max=32"`
	Token  string `json:"token" validate:"max=32"`
	ItemID string `json:"item_id" validate:"max=64"`
}

// draftMessageRequest はメッセージ案作成リクエストのボディ。
type draftMessageRequest struct {
	ItemType string `json:"item_type" validate:"omitempty,oneof=lost found"`
	ItemDesc string `json:"item_desc" validate:"max=1000"`
}

// --- レスポンス型 ---

// claimResponse はクレームのAPIレスポンス。
type claimResponse struct {
	ID               string     `json:"id"`
	ItemID           string     `json:"item_id"`
	ClaimantID       string     `json:"claimant_id"`
	Message          string     `json:"message"`
	Status           string     `json:"status"`
	ResponseMessage  string     `json:"response_message,omitempty"`
	MeetingLocation  string     `json:"meeting_location,omitempty"`
	MeetingTime      *time.Time `json:"meeting_time,omitempty"`
	VerificationCode string     `json:"verification_code,omitempty"`
	ClaimantName     string     `json:"claimant_name,omitempty"`
	ClaimantEmail    string     `json:"claimant_email,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// verifyResponse は検証結果のAPIレスポンス。
type verifyResponse struct {
	Message         string        `json:"message"`
	AlreadyVerified bool          `json:"already_verified"`
	Claim           claimResponse `json:"claim"`
	ItemID          string        `json:"item_id"`
	RewardedUserID  string        `json:"rewarded_user_id,omitempty"`
	Reward          int           `json:"reward"`
}

// draftMessageResponse はメッセージ案のAPIレスポンス。
type draftMessageResponse struct {
	Message string `json:"message"`
}

func toClaimResponse(c *model.Claim) claimResponse {
	return claimResponse{
		ID:               c.ID,
		ItemID:           c.ItemID,
		ClaimantID:       c.ClaimantID,
		Message:          c.Message,
		Status:           string(c.Status),
		ResponseMessage:  c.ResponseMessage,
		MeetingLocation:  c.MeetingLocation,
		MeetingTime:      c.MeetingTime,
		VerificationCode: c.VerificationCode,
		CreatedAt:        c.CreatedAt,
	}
}

// SubmitClaim はクレームを申請する。
// POST /api/claims
func (h *ClaimHandler) SubmitClaim(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req submitClaimRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	message := h.sanitizer.Plain(req.Message, maxClaimMessageRunes)
	created, err := h.service.Submit(r.Context(), userID, strings.TrimSpace(req.ItemID), message)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toClaimResponse(created))
}

// ListItemClaims はアイテムのクレーム一覧を取得する。
// GET /api/claims/item/{itemID}
func (h *ClaimHandler) ListItemClaims(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	claims, err := h.service.ListForItem(r.Context(), userID, chi.URLParam(r, "itemID"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]claimResponse, len(claims))
	for i, c := range claims {
		resp[i] = toClaimResponse(&c.Claim)
		resp[i].ClaimantName = c.ClaimantName
		resp[i].ClaimantEmail = c.ClaimantEmail
	}
	writeJSON(w, http.StatusOK, resp)
}

// RespondClaim はクレームを承認または却下する。
// POST /api/claims/{id}/respond
func (h *ClaimHandler) RespondClaim(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req respondClaimRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	updated, err := h.service.Respond(r.Context(), userID, chi.URLParam(r, "id"), claim.RespondRequest{
		Action:          req.Action,
		ResponseMessage: h.sanitizer.Plain(req.ResponseMessage, maxResponseMessageRunes),
		MeetingLocation: h.sanitizer.Plain(req.MeetingLocation, maxMeetingLocationRunes),
		MeetingTime:     req.MeetingTime,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	// 検証コードは申請者のみが参照する
	resp := toClaimResponse(updated)
	resp.VerificationCode = ""
	writeJSON(w, http.StatusOK, resp)
}

// VerifyClaim は検証コードで受け渡しを完了する。
// POST /api/claims/verify
func (h *ClaimHandler) VerifyClaim(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req verifyClaimRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	code := req.Code
	if strings.TrimSpace(code) == "" {
		code = req.Token
	}

	result, err := h.service.Verify(r.Context(), userID, claim.VerifyRequest{
		Code:   code,
		ItemID: strings.TrimSpace(req.ItemID),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := verifyResponse{
		Message:         "受け渡しを確認しました。",
		AlreadyVerified: result.AlreadyVerified,
		Claim:           toClaimResponse(&result.Claim),
		ItemID:          result.Item.ID,
		RewardedUserID:  result.RewardedUserID,
		Reward:          result.Reward,
	}
	if result.AlreadyVerified {
		resp.Message = "この受け渡しは確認済みです。"
	}
	writeJSON(w, http.StatusOK, resp)
}

// DraftMessage はクレームに添えるメッセージ案を作成する。
// POST /api/claims/draft-message
func (h *ClaimHandler) DraftMessage(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}

	var req draftMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	// 種別の指定がない場合は拾った側からの連絡として扱う
	itemType := model.ItemTypeLost
	if req.ItemType == string(model.ItemTypeFound) {
		itemType = model.ItemTypeFound
	}

	msg, err := h.drafter.Draft(r.Context(), itemType, h.sanitizer.Plain(req.ItemDesc, maxDraftDescRunes))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, draftMessageResponse{Message: msg})
}
