package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/campusfind/internal/imaging"
	"github.com/hitoshi/campusfind/internal/item"
	"github.com/hitoshi/campusfind/internal/model"
)

// multipartMemory はマルチパート解析時にメモリへ保持する上限。超過分は一時ファイルに書き出される。
const multipartMemory = 4 << 20

// ItemServiceInterface はアイテムハンドラーが必要とするサービスインターフェース。
type ItemServiceInterface interface {
	// Create は画像付きでアイテムを報告する。
	Create(ctx context.Context, in item.CreateInput) (*model.Item, error)
	// List はフィードのアイテム一覧を返す。
	List(ctx context.Context, filter model.ItemFilter) ([]*model.ItemWithReporter, error)
	// ListMine は自分が関わるアイテムを返す。
	ListMine(ctx context.Context, userID string) ([]*model.Item, error)
	// Get はアイテム詳細を返す。
	Get(ctx context.Context, itemID string) (*model.ItemWithReporter, error)
	// Reanalyze はタグ抽出を再実行する。
	Reanalyze(ctx context.Context, userID, itemID string) (*model.Item, error)
	// Matches は反対種別とのマッチング結果を返す。
	Matches(ctx context.Context, itemID string) ([]model.Match, error)
}

// ItemHandler はアイテム管理のHTTPハンドラー。
type ItemHandler struct {
	service ItemServiceInterface
}

// NewItemHandler はItemHandlerを生成する。
func NewItemHandler(service ItemServiceInterface) *ItemHandler {
	return &ItemHandler{service: service}
}

// --- レスポンス型 ---

// itemResponse はアイテムのAPIレスポンス。
type itemResponse struct {
	ID                     string    `json:"id"`
	UserID                 string    `json:"user_id"`
	Type                   string    `json:"type"`
	Description            string    `json:"description"`
	Location               string    `json:"location"`
	Status                 string    `json:"status"`
	Category               string    `json:"category"`
	Color                  string    `json:"color"`
	Brand                  *string   `json:"brand"`
	DistinctiveFeatures    []string  `json:"distinctive_features"`
	ImageURL               string    `json:"image_url"`
	VerificationQuestion   string    `json:"verification_question,omitempty"`
	VerificationAnswerType string    `json:"verification_answer_type,omitempty"`
	ContactInfo            string    `json:"contact_info,omitempty"`
	ReporterName           string    `json:"reporter_name,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
}

// matchResponse はマッチング結果1件のAPIレスポンス。
type matchResponse struct {
	Item       itemResponse `json:"item"`
	Confidence int          `json:"confidence"`
	Reasoning  string       `json:"reasoning"`
}

func toItemResponse(it *model.Item) itemResponse {
	resp := itemResponse{
		ID:                     it.ID,
		UserID:                 it.UserID,
		Type:                   string(it.Type),
		Description:            it.Description,
		Location:               it.Location,
		Status:                 string(it.Status),
		Category:               it.Category,
		Color:                  it.Color,
		DistinctiveFeatures:    it.DistinctiveFeatures,
		ImageURL:               it.ImageURL,
		VerificationQuestion:   it.VerificationQuestion,
		VerificationAnswerType: it.VerificationAnswerType,
		ContactInfo:            it.ContactInfo,
		CreatedAt:              it.CreatedAt,
	}
	if it.Brand != "" {
		brand := it.Brand
		resp.Brand = &brand
	}
	if resp.DistinctiveFeatures == nil {
		resp.DistinctiveFeatures = []string{}
	}
	return resp
}

func toItemWithReporterResponse(it *model.ItemWithReporter) itemResponse {
	resp := toItemResponse(&it.Item)
	resp.ReporterName = it.ReporterName
	return resp
}

// CreateItem はアイテムを報告する。
// POST /api/items (multipart/form-data)
func (h *ItemHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, imaging.MaxUploadBytes+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidImageError())
			return
		}
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("multipart/form-dataで送信してください"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	in := item.CreateInput{
		ReporterID:  userID,
		Type:        r.FormValue("type"),
		Description: r.FormValue("description"),
		Location:    r.FormValue("location"),
		ContactInfo: r.FormValue("contact_info"),
		ManualTags:  parseManualTags(r.FormValue("manual_tags")),
	}

	file, _, err := r.FormFile("image")
	if err == nil {
		defer file.Close()
		in.Image = file
	}

	created, err := h.service.Create(r.Context(), in)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toItemResponse(created))
}

// parseManualTags はJSON配列の手動タグを解析する。配列でない値は無視する。
func parseManualTags(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		slog.Debug("ignoring malformed manual_tags", slog.String("error", err.Error()))
		return nil
	}
	return tags
}

// ListItems はフィードのアイテム一覧を取得する。
// GET /api/items?type=lost|found|all&q=...&include_claimed=true&limit=50
func (h *ItemHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}

	query := r.URL.Query()
	filter := model.ItemFilter{
		Query:          query.Get("q"),
		IncludeClaimed: query.Get("include_claimed") == "true",
	}

	switch typ := strings.TrimSpace(query.Get("type")); typ {
	case "":
	case "all":
		// 全種別の指定時は解決済みも表示する
		filter.IncludeClaimed = true
	default:
		itemType, err := model.ParseItemType(typ)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("typeはlost、found、allのいずれかを指定してください"))
			return
		}
		filter.Type = itemType
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("limitは整数で指定してください"))
			return
		}
		filter.Limit = limit
	}

	items, err := h.service.List(r.Context(), filter)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]itemResponse, len(items))
	for i, it := range items {
		resp[i] = toItemWithReporterResponse(it)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListMyItems は自分が報告したアイテムと受け取ったアイテムを取得する。
// GET /api/items/my
func (h *ItemHandler) ListMyItems(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	items, err := h.service.ListMine(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]itemResponse, len(items))
	for i, it := range items {
		resp[i] = toItemResponse(it)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetItem はアイテム詳細を取得する。
// GET /api/items/{id}
func (h *ItemHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}

	it, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemWithReporterResponse(it))
}

// AnalyzeItem は報告者の依頼でタグ抽出を再実行する。
// POST /api/items/{id}/analyze
func (h *ItemHandler) AnalyzeItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	it, err := h.service.Reanalyze(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(it))
}

// GetMatches はアイテムのマッチング候補を取得する。
// GET /api/items/{id}/matches
func (h *ItemHandler) GetMatches(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}

	matches, err := h.service.Matches(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]matchResponse, len(matches))
	for i := range matches {
		resp[i] = matchResponse{
			Item:       toItemResponse(&matches[i].Item),
			Confidence: matches[i].Confidence,
			Reasoning:  matches[i].Reasoning,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
