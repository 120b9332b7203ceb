// Package user はユーザー情報と信頼スコアのランキングを提供する。
package user

import (
	"context"
	"fmt"
	"strings"

	"github.com/hitoshi/campusfind/internal/model"
	"github.com/hitoshi/campusfind/internal/repository"
)

// LeaderboardSize はランキングに表示するユーザー数。
const LeaderboardSize = 5

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo repository.UserRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository) *Service {
	return &Service{userRepo: userRepo}
}

// Ensure は認証済みIDのユーザーを作成または更新し、最新の状態を返す。
// 認証ミドルウェアからリクエストごとに呼ばれる。
func (s *Service) Ensure(ctx context.Context, id, email, name string) (*model.User, error) {
	if strings.TrimSpace(id) == "" {
		return nil, model.NewUnauthorizedError()
	}
	user := &model.User{
		ID:    id,
		Email: strings.TrimSpace(email),
		Name:  strings.TrimSpace(name),
	}
	if err := s.userRepo.Upsert(ctx, user); err != nil {
		return nil, fmt.Errorf("ユーザーの登録に失敗しました: %w", err)
	}
	return user, nil
}

// Me は現在のユーザーを返す。
func (s *Service) Me(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// Leaderboard は信頼スコアの高いユーザーを上位LeaderboardSize件返す。
func (s *Service) Leaderboard(ctx context.Context) ([]*model.User, error) {
	users, err := s.userRepo.ListTopByTrust(ctx, LeaderboardSize)
	if err != nil {
		return nil, fmt.Errorf("ランキングの取得に失敗しました: %w", err)
	}
	return users, nil
}
