package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/campusfind/internal/claim"
	"github.com/hitoshi/campusfind/internal/item"
	"github.com/hitoshi/campusfind/internal/middleware"
	"github.com/hitoshi/campusfind/internal/model"
)

// --- 共通ヘルパー ---

// withUserID はリクエストコンテキストに認証済みユーザーIDを注入する。
func withUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

// withURLParams はchiのURLパラメータを注入する。
func withURLParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// jsonRequest はJSONボディ付きのリクエストを生成する。
func jsonRequest(method, target, body string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// decodeErrorBody はエラーレスポンスのボディをデコードする。
func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("エラーレスポンスのデコードに失敗しました: %v", err)
	}
	return body
}

// --- モック定義 ---

// mockItemService はItemServiceInterfaceのモック実装。
type mockItemService struct {
	createFn    func(ctx context.Context, in item.CreateInput) (*model.Item, error)
	listFn      func(ctx context.Context, filter model.ItemFilter) ([]*model.ItemWithReporter, error)
	listMineFn  func(ctx context.Context, userID string) ([]*model.Item, error)
	getFn       func(ctx context.Context, itemID string) (*model.ItemWithReporter, error)
	reanalyzeFn func(ctx context.Context, userID, itemID string) (*model.Item, error)
	matchesFn   func(ctx context.Context, itemID string) ([]model.Match, error)
}

func (m *mockItemService) Create(ctx context.Context, in item.CreateInput) (*model.Item, error) {
	if m.createFn != nil {
		return m.createFn(ctx, in)
	}
	return &model.Item{ID: "item-1"}, nil
}

func (m *mockItemService) List(ctx context.Context, filter model.ItemFilter) ([]*model.ItemWithReporter, error) {
	if m.listFn != nil {
		return m.listFn(ctx, filter)
	}
	return nil, nil
}

func (m *mockItemService) ListMine(ctx context.Context, userID string) ([]*model.Item, error) {
	if m.listMineFn != nil {
		return m.listMineFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockItemService) Get(ctx context.Context, itemID string) (*model.ItemWithReporter, error) {
	if m.getFn != nil {
		return m.getFn(ctx, itemID)
	}
	return nil, model.NewItemNotFoundError(itemID)
}

func (m *mockItemService) Reanalyze(ctx context.Context, userID, itemID string) (*model.Item, error) {
	if m.reanalyzeFn != nil {
		return m.reanalyzeFn(ctx, userID, itemID)
	}
	return &model.Item{ID: itemID}, nil
}

func (m *mockItemService) Matches(ctx context.Context, itemID string) ([]model.Match, error) {
	if m.matchesFn != nil {
		return m.matchesFn(ctx, itemID)
	}
	return nil, nil
}

// mockClaimService はClaimServiceInterfaceのモック実装。
type mockClaimService struct {
	submitFn  func(ctx context.Context, claimantID, itemID, message string) (*model.Claim, error)
	respondFn func(ctx context.Context, reporterID, claimID string, req claim.RespondRequest) (*model.Claim, error)
	verifyFn  func(ctx context.Context, verifierID string, req claim.VerifyRequest) (*model.VerifyResult, error)
	listFn    func(ctx context.Context, viewerID, itemID string) ([]*model.ClaimWithClaimant, error)
}

func (m *mockClaimService) Submit(ctx context.Context, claimantID, itemID, message string) (*model.Claim, error) {
	if m.submitFn != nil {
		return m.submitFn(ctx, claimantID, itemID, message)
	}
	return &model.Claim{ID: "claim-1", ItemID: itemID, ClaimantID: claimantID, Status: model.ClaimStatusPending}, nil
}

func (m *mockClaimService) Respond(ctx context.Context, reporterID, claimID string, req claim.RespondRequest) (*model.Claim, error) {
	if m.respondFn != nil {
		return m.respondFn(ctx, reporterID, claimID, req)
	}
	return &model.Claim{ID: claimID}, nil
}

func (m *mockClaimService) Verify(ctx context.Context, verifierID string, req claim.VerifyRequest) (*model.VerifyResult, error) {
	if m.verifyFn != nil {
		return m.verifyFn(ctx, verifierID, req)
	}
	return nil, model.NewInvalidCodeError()
}

func (m *mockClaimService) ListForItem(ctx context.Context, viewerID, itemID string) ([]*model.ClaimWithClaimant, error) {
	if m.listFn != nil {
		return m.listFn(ctx, viewerID, itemID)
	}
	return nil, nil
}

// mockDrafter はMessageDrafterのモック実装。
type mockDrafter struct {
	draftFn func(ctx context.Context, itemType model.ItemType, description string) (string, error)
}

func (m *mockDrafter) Draft(ctx context.Context, itemType model.ItemType, description string) (string, error) {
	if m.draftFn != nil {
		return m.draftFn(ctx, itemType, description)
	}
	return "draft", nil
}

// mockInbox はInboxInterfaceのモック実装。
type mockInbox struct {
	listFn      func(ctx context.Context, userID string) ([]model.Notification, error)
	markReadFn  func(ctx context.Context, userID string, ids []string) error
	saveTokenFn func(ctx context.Context, userID, token string) error
}

func (m *mockInbox) List(ctx context.Context, userID string) ([]model.Notification, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockInbox) MarkRead(ctx context.Context, userID string, ids []string) error {
	if m.markReadFn != nil {
		return m.markReadFn(ctx, userID, ids)
	}
	return nil
}

func (m *mockInbox) SaveDeviceToken(ctx context.Context, userID, token string) error {
	if m.saveTokenFn != nil {
		return m.saveTokenFn(ctx, userID, token)
	}
	return nil
}

// mockUserService はUserServiceInterfaceのモック実装。
type mockUserService struct {
	meFn          func(ctx context.Context, userID string) (*model.User, error)
	leaderboardFn func(ctx context.Context) ([]*model.User, error)
}

func (m *mockUserService) Me(ctx context.Context, userID string) (*model.User, error) {
	if m.meFn != nil {
		return m.meFn(ctx, userID)
	}
	return &model.User{ID: userID}, nil
}

func (m *mockUserService) Leaderboard(ctx context.Context) ([]*model.User, error) {
	if m.leaderboardFn != nil {
		return m.leaderboardFn(ctx)
	}
	return nil, nil
}
