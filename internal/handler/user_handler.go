package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/campusfind/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// Me は認証済みユーザーの情報を返す。
	Me(ctx context.Context, userID string) (*model.User, error)
	// Leaderboard は信頼スコアの上位ユーザーを返す。
	Leaderboard(ctx context.Context) ([]*model.User, error)
}

// UserHandler はユーザー情報のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

// userResponse はユーザー情報のAPIレスポンス。
type userResponse struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	TrustScore int       `json:"trust_score"`
	CreatedAt  time.Time `json:"created_at"`
}

// leaderResponse はランキング1件のAPIレスポンス。メールアドレスは含めない。
type leaderResponse struct {
	Rank       int    `json:"rank"`
	ID         string `json:"id"`
	Name       string `json:"name"`
	TrustScore int    `json:"trust_score"`
}

// GetMe は認証済みユーザーの情報を取得する。
// GET /api/users/me
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	u, err := h.service.Me(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{
		ID:         u.ID,
		Email:      u.Email,
		Name:       u.Name,
		TrustScore: u.TrustScore,
		CreatedAt:  u.CreatedAt,
	})
}

// GetLeaderboard は信頼スコアのランキングを取得する。
// GET /api/users/leaderboard
func (h *UserHandler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}

	users, err := h.service.Leaderboard(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]leaderResponse, len(users))
	for i, u := range users {
		resp[i] = leaderResponse{
			Rank:       i + 1,
			ID:         u.ID,
			Name:       u.Name,
			TrustScore: u.TrustScore,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
