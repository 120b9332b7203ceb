// Package item はアイテムの報告・一覧・再解析・マッチングを提供する。
package item

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/campusfind/internal/imagestore"
	"github.com/hitoshi/campusfind/internal/imaging"
	"github.com/hitoshi/campusfind/internal/model"
	"github.com/hitoshi/campusfind/internal/oracle"
	"github.com/hitoshi/campusfind/internal/repository"
	"github.com/hitoshi/campusfind/internal/security"
	"github.com/hitoshi/campusfind/internal/tagging"
)

// 入力テキストの最大文字数
const (
	maxDescriptionRunes = 500
	maxLocationRunes    = 200
	maxContactRunes     = 200
	maxTagRunes         = 50
	maxManualTags       = 20
)

// 一覧の件数
const (
	defaultListLimit      = 50
	maxListLimit          = 100
	DefaultCandidateLimit = 20
)

// TagExtractor はタグと確認用の質問を抽出するインターフェース。
type TagExtractor interface {
	Extract(ctx context.Context, img oracle.Image, hint string) (model.Tags, error)
	VerificationQuestion(ctx context.Context, description string, features []string) model.VerificationQuestion
}

// ImageLibrary は画像の保存と解決のインターフェース。
type ImageLibrary interface {
	Save(ctx context.Context, img *imaging.Normalized) (imagestore.Stored, error)
	Resolve(ctx context.Context, item *model.Item) (oracle.Image, bool)
}

// Matcher は候補集合とのマッチングを行うインターフェース。
type Matcher interface {
	Match(ctx context.Context, source *model.Item, candidates []*model.Item) []model.Match
}

// CreateInput はアイテム報告の入力を表す。
type CreateInput struct {
	ReporterID  string
	Type        string
	Description string
	Location    string
	ContactInfo string
	ManualTags  []string
	Image       io.Reader
}

// Service はアイテムのサービス層。
type Service struct {
	itemRepo       repository.ItemRepository
	extractor      TagExtractor
	images         ImageLibrary
	matcher        Matcher
	sanitizer      security.TextSanitizer
	candidateLimit int
	logger         *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	itemRepo repository.ItemRepository,
	extractor TagExtractor,
	images ImageLibrary,
	matcher Matcher,
	sanitizer security.TextSanitizer,
	candidateLimit int,
	logger *slog.Logger,
) *Service {
	if candidateLimit <= 0 {
		candidateLimit = DefaultCandidateLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		itemRepo:       itemRepo,
		extractor:      extractor,
		images:         images,
		matcher:        matcher,
		sanitizer:      sanitizer,
		candidateLimit: candidateLimit,
		logger:         logger,
	}
}

// Create はアイテムを報告する。
// 画像を正規化してタグを抽出し、保存後にアイテムを作成する。
// タグ抽出がレート制限を受けた場合は画像を保存せずにエラーを返す。
func (s *Service) Create(ctx context.Context, in CreateInput) (*model.Item, error) {
	itemType, err := model.ParseItemType(strings.TrimSpace(in.Type))
	if err != nil {
		return nil, model.NewInvalidRequestError("typeはlostまたはfoundを指定してください")
	}
	if in.Image == nil {
		return nil, model.NewInvalidImageError()
	}

	description := s.sanitizer.Plain(in.Description, maxDescriptionRunes)
	location := s.sanitizer.Plain(in.Location, maxLocationRunes)
	contact := s.sanitizer.Plain(in.ContactInfo, maxContactRunes)
	manualTags, err := s.cleanTags(in.ManualTags)
	if err != nil {
		return nil, err
	}

	normalized, err := imaging.Normalize(in.Image)
	if err != nil {
		if errors.Is(err, imaging.ErrUnsupported) {
			return nil, model.NewInvalidImageError()
		}
		return nil, err
	}

	tags, err := s.extractor.Extract(ctx, oracle.Image{Data: normalized.Data, MIME: normalized.MIME}, description)
	if err != nil {
		return nil, fmt.Errorf("タグの抽出に失敗しました: %w", err)
	}

	stored, err := s.images.Save(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("画像の保存に失敗しました: %w", err)
	}

	if description == "" {
		description = tags.Description
	}
	item := &model.Item{
		ID:                  uuid.NewString(),
		UserID:              in.ReporterID,
		Type:                itemType,
		Description:         description,
		Location:            location,
		Status:              model.ItemStatusUnresolved,
		Category:            tags.Category,
		Color:               tags.Color,
		Brand:               tags.BrandOrEmpty(),
		DistinctiveFeatures: tagging.MergeFeatures(tags.DistinctiveFeatures, manualTags),
		ImageURL:            stored.URL,
		ImageKey:            stored.Key,
		CachedImagePath:     stored.CachedPath,
		ContactInfo:         contact,
		CreatedAt:           time.Now().UTC(),
	}

	if itemType == model.ItemTypeFound {
		q := s.extractor.VerificationQuestion(ctx, description, item.DistinctiveFeatures)
		item.VerificationQuestion = q.Question
		item.VerificationAnswerType = q.ExpectedAnswerType
	}

	if err := s.itemRepo.Create(ctx, item); err != nil {
		return nil, err
	}

	s.logger.Info("アイテムを登録しました",
		slog.String("item_id", item.ID),
		slog.String("type", string(item.Type)),
		slog.String("category", item.Category),
	)
	return item, nil
}

func (s *Service) cleanTags(tags []string) ([]string, error) {
	if len(tags) > maxManualTags {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("manual_tagsは%d件までです", maxManualTags))
	}
	cleaned := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag = s.sanitizer.Plain(tag, maxTagRunes); tag != "" {
			cleaned = append(cleaned, tag)
		}
	}
	return cleaned, nil
}

// List はフィードのアイテム一覧を新しい順に返す。
func (s *Service) List(ctx context.Context, filter model.ItemFilter) ([]*model.ItemWithReporter, error) {
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultListLimit
	case filter.Limit > maxListLimit:
		filter.Limit = maxListLimit
	}
	filter.Query = strings.TrimSpace(filter.Query)

	items, err := s.itemRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("アイテム一覧の取得に失敗しました: %w", err)
	}
	return items, nil
}

// ListMine は自分が報告したアイテムと受け取りが完了したアイテムを返す。
func (s *Service) ListMine(ctx context.Context, userID string) ([]*model.Item, error) {
	items, err := s.itemRepo.ListMine(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("アイテム一覧の取得に失敗しました: %w", err)
	}
	return items, nil
}

// Get はアイテムを報告者情報付きで返す。
func (s *Service) Get(ctx context.Context, itemID string) (*model.ItemWithReporter, error) {
	item, err := s.itemRepo.FindWithReporter(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("アイテムの取得に失敗しました: %w", err)
	}
	if item == nil {
		return nil, model.NewItemNotFoundError(itemID)
	}
	return item, nil
}

// Reanalyze は報告者の依頼でタグ抽出を再実行し、カテゴリ・色・ブランド・特徴を置き換える。
func (s *Service) Reanalyze(ctx context.Context, userID, itemID string) (*model.Item, error) {
	item, err := s.find(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.UserID != userID {
		return nil, model.NewForbiddenError("analyze")
	}

	img, ok := s.images.Resolve(ctx, item)
	if !ok {
		return nil, model.NewInvalidImageError()
	}
	tags, err := s.extractor.Extract(ctx, img, item.Description)
	if err != nil {
		return nil, fmt.Errorf("タグの抽出に失敗しました: %w", err)
	}
	if tags.DistinctiveFeatures == nil {
		tags.DistinctiveFeatures = []string{}
	}
	if err := s.itemRepo.UpdateTags(ctx, item.ID, tags); err != nil {
		return nil, fmt.Errorf("タグの更新に失敗しました: %w", err)
	}

	item.Category = tags.Category
	item.Color = tags.Color
	item.Brand = tags.BrandOrEmpty()
	item.DistinctiveFeatures = tags.DistinctiveFeatures
	return item, nil
}

// Matches は反対種別の未解決アイテムとのマッチング結果を返す。
func (s *Service) Matches(ctx context.Context, itemID string) ([]model.Match, error) {
	item, err := s.find(ctx, itemID)
	if err != nil {
		return nil, err
	}
	candidates, err := s.itemRepo.ListMatchCandidates(ctx, item.Type.Opposite(), item.ID, s.candidateLimit)
	if err != nil {
		return nil, fmt.Errorf("候補の取得に失敗しました: %w", err)
	}
	return s.matcher.Match(ctx, item, candidates), nil
}

func (s *Service) find(ctx context.Context, itemID string) (*model.Item, error) {
	item, err := s.itemRepo.FindByID(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("アイテムの取得に失敗しました: %w", err)
	}
	if item == nil {
		return nil, model.NewItemNotFoundError(itemID)
	}
	return item, nil
}
