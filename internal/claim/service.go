// Package claim はクレームの申請・応答・検証のライフサイクルを管理する。
package claim

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/campusfind/internal/metrics"
	"github.com/hitoshi/campusfind/internal/model"
	"github.com/hitoshi/campusfind/internal/notify"
	"github.com/hitoshi/campusfind/internal/repository"
)

const (
	// VerificationReward は検証完了時に発見者へ加算される信頼スコア。
	VerificationReward = 10

	codeMin = 100000
	codeMax = 999999
)

// meetingTimeLayouts は待ち合わせ日時として受け付ける書式。
var meetingTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// Notifier はコミット済みの状態遷移を通知するインターフェース。
type Notifier interface {
	Dispatch(ctx context.Context, ev notify.Event)
}

// RespondRequest は応答操作の入力を表す。
type RespondRequest struct {
	Action          string
	ResponseMessage string
	MeetingLocation string
	MeetingTime     string
}

// VerifyRequest は検証操作の入力を表す。ItemIDは任意。
type VerifyRequest struct {
	Code   string
	ItemID string
}

// Service はクレームのライフサイクルを管理するサービス層。
type Service struct {
	claimRepo repository.ClaimRepository
	itemRepo  repository.ItemRepository
	notifier  Notifier
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	newCode   func() (string, error)
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	claimRepo repository.ClaimRepository,
	itemRepo repository.ItemRepository,
	notifier Notifier,
	m metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		claimRepo: claimRepo,
		itemRepo:  itemRepo,
		notifier:  notifier,
		metrics:   m,
		logger:    logger,
		newCode:   GenerateCode,
	}
}

// GenerateCode は6桁の検証コードを一様乱数で生成する。
// 他のクレームのコードとの重複は確認しない。
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", fmt.Errorf("検証コードの生成に失敗しました: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+codeMin), nil
}

// Submit はアイテムに対するクレームをpendingで作成し、報告者に通知する。
// 同じ(アイテム, 申請者)のクレームが既に存在する場合はエラーを返し、行を作らない。
func (s *Service) Submit(ctx context.Context, claimantID, itemID, message string) (*model.Claim, error) {
	item, err := s.itemRepo.FindByID(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("アイテムの取得に失敗しました: %w", err)
	}
	if item == nil {
		return nil, model.NewItemNotFoundError(itemID)
	}
	if item.UserID == claimantID {
		return nil, model.NewOwnItemClaimError()
	}
	if item.Status != model.ItemStatusUnresolved {
		return nil, model.NewItemAlreadyResolvedError()
	}

	claim := &model.Claim{
		ID:         uuid.NewString(),
		ItemID:     itemID,
		ClaimantID: claimantID,
		Message:    strings.TrimSpace(message),
		Status:     model.ClaimStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.claimRepo.Create(ctx, claim); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewDuplicateClaimError()
		}
		return nil, fmt.Errorf("クレームの作成に失敗しました: %w", err)
	}

	s.metrics.RecordClaimTransition("submit", string(claim.Status))
	s.logger.Info("クレームを受け付けました",
		slog.String("claim_id", claim.ID),
		slog.String("item_id", itemID),
	)
	s.notify(ctx, notify.EventClaimSubmitted, claim, item)
	return claim, nil
}

// Respond は報告者によるクレームの承認または却下を行う。
// 承認時は待ち合わせ場所と日時が必須で、新しい検証コードを発行する。
func (s *Service) Respond(ctx context.Context, reporterID, claimID string, req RespondRequest) (*model.Claim, error) {
	action, err := model.ParseRespondAction(strings.TrimSpace(req.Action))
	if err != nil {
		return nil, model.NewInvalidActionError(req.Action)
	}

	claim, item, err := s.loadClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if item.UserID != reporterID {
		return nil, model.NewForbiddenError("respond")
	}

	next, err := claim.Status.Next(action)
	if err != nil {
		return nil, model.NewClaimConflictError(claim.Status)
	}

	resp := model.ClaimResponse{ResponseMessage: strings.TrimSpace(req.ResponseMessage)}
	if action == model.ClaimActionAccept {
		if item.Status != model.ItemStatusUnresolved {
			return nil, model.NewItemAlreadyResolvedError()
		}
		meeting, err := parseMeeting(req.MeetingLocation, req.MeetingTime)
		if err != nil {
			return nil, err
		}
		code, err := s.newCode()
		if err != nil {
			return nil, err
		}
		resp.Meeting = meeting
		resp.VerificationCode = code
	}

	if err := s.claimRepo.Transition(ctx, claim.ID, claim.Status, next, resp); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, s.conflict(ctx, claim.ID, claim.Status)
		}
		return nil, fmt.Errorf("クレームの更新に失敗しました: %w", err)
	}

	claim.Status = next
	claim.ResponseMessage = resp.ResponseMessage
	if resp.Meeting != nil {
		claim.MeetingLocation = resp.Meeting.Location
		t := resp.Meeting.Time
		claim.MeetingTime = &t
		claim.VerificationCode = resp.VerificationCode
	}

	s.metrics.RecordClaimTransition(string(action), string(next))
	s.logger.Info("クレームに応答しました",
		slog.String("claim_id", claim.ID),
		slog.String("action", string(action)),
	)
	kind := notify.EventClaimRejected
	if next == model.ClaimStatusAccepted {
		kind = notify.EventClaimAccepted
	}
	s.notify(ctx, kind, claim, item)
	return claim, nil
}

func parseMeeting(location, rawTime string) (*model.Meeting, error) {
	location = strings.TrimSpace(location)
	rawTime = strings.TrimSpace(rawTime)
	if location == "" || rawTime == "" {
		return nil, model.NewMeetingRequiredError()
	}
	for _, layout := range meetingTimeLayouts {
		if t, err := time.Parse(layout, rawTime); err == nil {
			return &model.Meeting{Location: location, Time: t.UTC()}, nil
		}
	}
	return nil, model.NewInvalidMeetingTimeError(rawTime)
}

// Verify は検証コードで受け渡しを確認し、クレームを完了させる。
// コードは検証者が報告したアイテムのacceptedなクレームに対してのみ有効。
// 完了済みのクレームを再度検証した場合は報酬を加算せずAlreadyVerifiedを返す。
func (s *Service) Verify(ctx context.Context, verifierID string, req VerifyRequest) (*model.VerifyResult, error) {
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return nil, model.NewCodeRequiredError()
	}
	itemID := strings.TrimSpace(req.ItemID)
	if itemID != "" {
		item, err := s.itemRepo.FindByID(ctx, itemID)
		if err != nil {
			return nil, fmt.Errorf("アイテムの取得に失敗しました: %w", err)
		}
		if item == nil {
			return nil, model.NewItemNotFoundError(itemID)
		}
		if item.UserID != verifierID {
			return nil, model.NewForbiddenError("verify")
		}
	}

	accepted, err := s.findByCode(ctx, code, verifierID, itemID, model.ClaimStatusAccepted)
	if err != nil {
		return nil, err
	}
	switch len(accepted) {
	case 0:
		return s.alreadyVerified(ctx, code, verifierID, itemID)
	case 1:
	default:
		return nil, model.NewAmbiguousCodeError()
	}

	claim := accepted[0]
	item, err := s.itemRepo.FindByID(ctx, claim.ItemID)
	if err != nil {
		return nil, fmt.Errorf("アイテムの取得に失敗しました: %w", err)
	}
	if item == nil {
		return nil, model.NewItemNotFoundError(claim.ItemID)
	}

	next, err := claim.Status.Next(model.ClaimActionVerify)
	if err != nil {
		return nil, model.NewClaimConflictError(claim.Status)
	}
	finder := FinderOf(item, claim)

	if err := s.claimRepo.Complete(ctx, claim.ID, item.ID, finder, VerificationReward); err != nil {
		if !errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("クレームの完了に失敗しました: %w", err)
		}
		current, findErr := s.claimRepo.FindByID(ctx, claim.ID)
		if findErr != nil {
			return nil, fmt.Errorf("クレームの再取得に失敗しました: %w", findErr)
		}
		if current != nil && current.Status == model.ClaimStatusCompleted {
			return &model.VerifyResult{Claim: *current, Item: *item, AlreadyVerified: true}, nil
		}
		return nil, s.conflict(ctx, claim.ID, claim.Status)
	}

	claim.Status = next
	item.Status = model.ItemStatusClaimed

	s.metrics.RecordClaimTransition(string(model.ClaimActionVerify), string(next))
	s.logger.Info("受け渡しを確認しました",
		slog.String("claim_id", claim.ID),
		slog.String("item_id", item.ID),
		slog.String("rewarded_user_id", finder),
	)
	s.notify(ctx, notify.EventClaimCompleted, claim, item)
	return &model.VerifyResult{
		Claim:          *claim,
		Item:           *item,
		RewardedUserID: finder,
		Reward:         VerificationReward,
	}, nil
}

// FinderOf はアイテムを物理的に見つけた側のユーザーIDを返す。
// 紛失報告のアイテムでは申請者、拾得報告のアイテムでは報告者となる。
func FinderOf(item *model.Item, claim *model.Claim) string {
	if item.Type == model.ItemTypeLost {
		return claim.ClaimantID
	}
	return item.UserID
}

func (s *Service) alreadyVerified(ctx context.Context, code, verifierID, itemID string) (*model.VerifyResult, error) {
	completed, err := s.findByCode(ctx, code, verifierID, itemID, model.ClaimStatusCompleted)
	if err != nil {
		return nil, err
	}
	switch len(completed) {
	case 0:
		return nil, s.unmatchedCode(ctx, code, verifierID)
	case 1:
	default:
		return nil, model.NewAmbiguousCodeError()
	}

	claim := completed[0]
	item, err := s.itemRepo.FindByID(ctx, claim.ItemID)
	if err != nil {
		return nil, fmt.Errorf("アイテムの取得に失敗しました: %w", err)
	}
	if item == nil {
		return nil, model.NewItemNotFoundError(claim.ItemID)
	}
	return &model.VerifyResult{Claim: *claim, Item: *item, AlreadyVerified: true}, nil
}

// unmatchedCode は検証者のアイテムに一致しなかったコードのエラーを返す。
// 他のユーザーのアイテムでacceptedなクレームのコードであればFORBIDDENとする。
func (s *Service) unmatchedCode(ctx context.Context, code, verifierID string) error {
	accepted, err := s.claimRepo.FindByCode(ctx, code, "", model.ClaimStatusAccepted)
	if err != nil {
		return fmt.Errorf("検証コードの検索に失敗しました: %w", err)
	}
	for _, c := range accepted {
		item, err := s.itemRepo.FindByID(ctx, c.ItemID)
		if err != nil {
			return fmt.Errorf("アイテムの取得に失敗しました: %w", err)
		}
		if item != nil && item.UserID != verifierID {
			return model.NewForbiddenError("verify")
		}
	}
	return model.NewInvalidCodeError()
}

func (s *Service) findByCode(ctx context.Context, code, verifierID, itemID string, status model.ClaimStatus) ([]*model.Claim, error) {
	claims, err := s.claimRepo.FindByCode(ctx, code, verifierID, status)
	if err != nil {
		return nil, fmt.Errorf("検証コードの検索に失敗しました: %w", err)
	}
	if itemID == "" {
		return claims, nil
	}
	filtered := claims[:0]
	for _, c := range claims {
		if c.ItemID == itemID {
			filtered = append(filtered, c)
		}
	}
	return filtered, nil
}

// ListForItem はアイテムのクレーム一覧を返す。
// 報告者には全件を検証コードを除いて返し、それ以外のユーザーには自身のクレームのみを返す。
func (s *Service) ListForItem(ctx context.Context, viewerID, itemID string) ([]*model.ClaimWithClaimant, error) {
	item, err := s.itemRepo.FindByID(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("アイテムの取得に失敗しました: %w", err)
	}
	if item == nil {
		return nil, model.NewItemNotFoundError(itemID)
	}

	claims, err := s.claimRepo.ListByItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("クレーム一覧の取得に失敗しました: %w", err)
	}

	result := make([]*model.ClaimWithClaimant, 0, len(claims))
	for _, c := range claims {
		if item.UserID == viewerID {
			c.VerificationCode = ""
			result = append(result, c)
			continue
		}
		if c.ClaimantID == viewerID {
			result = append(result, c)
		}
	}
	return result, nil
}

func (s *Service) loadClaim(ctx context.Context, claimID string) (*model.Claim, *model.Item, error) {
	claim, err := s.claimRepo.FindByID(ctx, claimID)
	if err != nil {
		return nil, nil, fmt.Errorf("クレームの取得に失敗しました: %w", err)
	}
	if claim == nil {
		return nil, nil, model.NewClaimNotFoundError(claimID)
	}
	item, err := s.itemRepo.FindByID(ctx, claim.ItemID)
	if err != nil {
		return nil, nil, fmt.Errorf("アイテムの取得に失敗しました: %w", err)
	}
	if item == nil {
		return nil, nil, model.NewItemNotFoundError(claim.ItemID)
	}
	return claim, item, nil
}

// conflict は競合した遷移の現在の状態を含むエラーを返す。
// 再取得に失敗した場合はknownを現在の状態として扱う。
func (s *Service) conflict(ctx context.Context, claimID string, known model.ClaimStatus) error {
	current, err := s.claimRepo.FindByID(ctx, claimID)
	if err != nil || current == nil {
		return model.NewClaimConflictError(known)
	}
	return model.NewClaimConflictError(current.Status)
}

func (s *Service) notify(ctx context.Context, kind notify.EventKind, claim *model.Claim, item *model.Item) {
	if s.notifier == nil {
		return
	}
	s.notifier.Dispatch(ctx, notify.NewEvent(kind, claim, item))
}
