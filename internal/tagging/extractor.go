// Package tagging は推論サービスを使ってアイテム画像からタグと確認用の質問を抽出する。
package tagging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/campusfind/internal/metrics"
	"github.com/hitoshi/campusfind/internal/model"
	"github.com/hitoshi/campusfind/internal/oracle"
)

// 推論に失敗した場合の既定値
const (
	FallbackCategory    = "General Item"
	FallbackColor       = "See image"
	FallbackDescription = "Check image for details"
	FallbackQuestion    = "Please describe any unique markings on this item."
	FallbackAnswerType  = "text"
)

const tagInstruction = `Analyze this image of a lost/found item.
Return ONLY a raw JSON object (no markdown formatting) with the following fields:
- category: (e.g., Electronics, Clothing, Bottle, Keys)
- color: (Dominant color)
- brand: (Visible brand name or null)
- description: (A concise 1-sentence visual description)
- distinctive_features: (Array of strings listing unique scratches, stickers, or identifiers)`

const questionInstruction = `I have found an item described as: %q.
It has these distinctive features: %s.

Generate a "Verification Question" that the true owner should be able to answer, but a stranger wouldn't know from just seeing a generic photo.
Focus on specific details like brands, scratches, wallpapers (if phone), or contents (if wallet).

Return JSON: { "question": "string", "expected_answer_type": "text" }`

// Oracle は推論サービスの呼び出しインターフェース。
type Oracle interface {
	Complete(ctx context.Context, req oracle.Request) (string, error)
}

// Extractor はアイテム画像からタグと確認用の質問を抽出する。
type Extractor struct {
	oracle  Oracle
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewExtractor はExtractorの新しいインスタンスを生成する。
func NewExtractor(o Oracle, m metrics.MetricsCollector, logger *slog.Logger) *Extractor {
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{oracle: o, metrics: m, logger: logger}
}

// tagPayload は推論サービスが返すタグのJSONスキーマ。
type tagPayload struct {
	Category            *string  `json:"category"`
	Color               *string  `json:"color"`
	Brand               *string  `json:"brand"`
	Description         *string  `json:"description"`
	DistinctiveFeatures []string `json:"distinctive_features"`
}

func (p tagPayload) validate() error {
	if p.Category == nil || strings.TrimSpace(*p.Category) == "" {
		return fmt.Errorf("%w: category is required", oracle.ErrMalformed)
	}
	if p.Color == nil {
		return fmt.Errorf("%w: color is required", oracle.ErrMalformed)
	}
	return nil
}

// Fallback は推論に失敗した場合のタグを返す。
func Fallback(hint string) model.Tags {
	description := strings.TrimSpace(hint)
	if description == "" {
		description = FallbackDescription
	}
	return model.Tags{
		Category:            FallbackCategory,
		Color:               FallbackColor,
		Brand:               nil,
		Description:         description,
		DistinctiveFeatures: []string{},
	}
}

// Extract は画像からタグを抽出する。
// レート制限はエラーとしてそのまま返し、それ以外の失敗はFallback(hint)を返す。
func (e *Extractor) Extract(ctx context.Context, img oracle.Image, hint string) (model.Tags, error) {
	content, err := e.oracle.Complete(ctx, oracle.Request{
		Op:          "tags",
		Instruction: tagInstruction,
		Images:      []oracle.Image{img},
	})
	if err == nil {
		var payload tagPayload
		if err = oracle.DecodeJSON(content, &payload); err == nil {
			err = payload.validate()
		}
		if err == nil {
			return payload.toTags(hint), nil
		}
	}
	if oracle.IsRateLimited(err) {
		return model.Tags{}, err
	}

	e.metrics.RecordTagFallback("tags")
	e.logger.Warn("タグ抽出に失敗したため既定値を使用します", slog.String("error", err.Error()))
	return Fallback(hint), nil
}

func (p tagPayload) toTags(hint string) model.Tags {
	tags := model.Tags{
		Category:            strings.TrimSpace(*p.Category),
		Color:               strings.TrimSpace(*p.Color),
		DistinctiveFeatures: MergeFeatures(p.DistinctiveFeatures, nil),
	}
	if p.Brand != nil {
		if b := strings.TrimSpace(*p.Brand); b != "" && !strings.EqualFold(b, "null") {
			tags.Brand = &b
		}
	}
	if p.Description != nil {
		tags.Description = strings.TrimSpace(*p.Description)
	}
	if tags.Description == "" {
		tags.Description = Fallback(hint).Description
	}
	return tags
}

// questionPayload は確認用の質問のJSONスキーマ。
type questionPayload struct {
	Question           string `json:"question"`
	ExpectedAnswerType string `json:"expected_answer_type"`
}

// FallbackVerificationQuestion は推論に失敗した場合の質問を返す。
func FallbackVerificationQuestion() model.VerificationQuestion {
	return model.VerificationQuestion{Question: FallbackQuestion, ExpectedAnswerType: FallbackAnswerType}
}

// VerificationQuestion は拾得物の持ち主だけが答えられる質問を生成する。
// 失敗した場合はレート制限を含めて既定の質問を返す。
func (e *Extractor) VerificationQuestion(ctx context.Context, description string, features []string) model.VerificationQuestion {
	featureText := "No specific features listed"
	if len(features) > 0 {
		featureText = strings.Join(features, ", ")
	}
	content, err := e.oracle.Complete(ctx, oracle.Request{
		Op:          "question",
		Instruction: fmt.Sprintf(questionInstruction, description, featureText),
	})
	if err == nil {
		var payload questionPayload
		if err = oracle.DecodeJSON(content, &payload); err == nil {
			if q := strings.TrimSpace(payload.Question); q != "" {
				answerType := strings.TrimSpace(payload.ExpectedAnswerType)
				if answerType == "" {
					answerType = FallbackAnswerType
				}
				return model.VerificationQuestion{Question: q, ExpectedAnswerType: answerType}
			}
			err = fmt.Errorf("%w: question is required", oracle.ErrMalformed)
		}
	}

	e.metrics.RecordTagFallback("question")
	e.logger.Warn("確認用の質問の生成に失敗したため既定値を使用します", slog.String("error", err.Error()))
	return FallbackVerificationQuestion()
}

// MergeFeatures はAI由来の特徴と手動タグの和集合を返す。
// 前後の空白を除いて同一のものは1つにまとめ、最初に現れた順序を保つ。
func MergeFeatures(ai, manual []string) []string {
	merged := make([]string, 0, len(ai)+len(manual))
	seen := make(map[string]bool, len(ai)+len(manual))
	for _, list := range [][]string{ai, manual} {
		for _, f := range list {
			f = strings.TrimSpace(f)
			if f == "" || seen[f] {
				continue
			}
			seen[f] = true
			merged = append(merged, f)
		}
	}
	return merged
}
