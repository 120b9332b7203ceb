// Package matching は反対種別のアイテムとの一致度を評価する。
package matching

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/hitoshi/campusfind/internal/metrics"
	"github.com/hitoshi/campusfind/internal/model"
	"github.com/hitoshi/campusfind/internal/oracle"
)

const (
	// MaxOracleComparisons は1回のマッチングで推論サービスに問い合わせる候補数の上限。
	MaxOracleComparisons = 2
	// MatchThreshold は推論による一致判定を採用する信頼度の下限（この値を超える必要がある）。
	MatchThreshold = 60
	// AttributeThreshold は属性スコアで候補を残す下限。
	AttributeThreshold = 30
	// MaxAttributeMatches は属性スコアによる結果の最大件数。
	MaxAttributeMatches = 5
	// DefaultPacing は推論呼び出しの間隔の既定値。
	DefaultPacing = time.Second
)

// 属性スコアの加点
const (
	categoryPoints = 40
	colorPoints    = 30
	brandPoints    = 20
)

// マッチング経路
const (
	PathOracle    = "oracle"
	PathAttribute = "attribute"
	PathEmpty     = "empty"
)

const compareInstruction = `Compare these two items.
Item 1: %s
Item 2: %s

Are they the SAME physical object?
Return JSON: { "is_match": boolean, "confidence": 0-100, "reasoning": "string" }`

// Oracle は推論サービスの呼び出しインターフェース。
type Oracle interface {
	Complete(ctx context.Context, req oracle.Request) (string, error)
}

// ImageResolver はアイテムの画像を解決するインターフェース。
// 画像が得られない場合はokにfalseを返す。
type ImageResolver interface {
	Resolve(ctx context.Context, item *model.Item) (img oracle.Image, ok bool)
}

// Scorer は推論と属性スコアを組み合わせてマッチング結果を生成する。
type Scorer struct {
	oracle  Oracle
	images  ImageResolver
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	pacing  time.Duration
	wait    func(ctx context.Context, d time.Duration) error
}

// Option はScorerの設定を変更する関数。
type Option func(*Scorer)

// WithPacing は推論呼び出しの間隔を設定する。
func WithPacing(d time.Duration) Option {
	return func(s *Scorer) {
		s.pacing = d
	}
}

// WithWaitFunc は呼び出し間隔の待機処理を差し替える。
func WithWaitFunc(wait func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scorer) {
		s.wait = wait
	}
}

// WithMetrics はメトリクスコレクターを設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(s *Scorer) {
		s.metrics = m
	}
}

// WithLogger はロガーを設定する。
func WithLogger(l *slog.Logger) Option {
	return func(s *Scorer) {
		s.logger = l
	}
}

// NewScorer はScorerの新しいインスタンスを生成する。
func NewScorer(o Oracle, images ImageResolver, opts ...Option) *Scorer {
	s := &Scorer{
		oracle:  o,
		images:  images,
		metrics: metrics.Nop{},
		logger:  slog.Default(),
		pacing:  DefaultPacing,
		wait:    sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// sleepContext はdだけ待機する。コンテキストがキャンセルされた場合は即座に戻る。
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Match は候補集合に対するマッチング結果を信頼度の降順で返す。
// 推論経路で1件も一致しなかった場合は属性スコアによる結果を返す。
// アイテムの読み取りのみを行い、書き込みは行わない。
func (s *Scorer) Match(ctx context.Context, source *model.Item, candidates []*model.Item) []model.Match {
	if len(candidates) == 0 {
		s.metrics.RecordMatchPath(PathEmpty, 0)
		return []model.Match{}
	}

	matches, err := s.CompareWithOracle(ctx, source, candidates)
	if err != nil {
		s.logger.Warn("推論によるマッチングを途中で打ち切りました",
			slog.String("item_id", source.ID),
			slog.Int("partial_matches", len(matches)),
			slog.String("error", err.Error()),
		)
	}
	if len(matches) > 0 {
		s.metrics.RecordMatchPath(PathOracle, len(matches))
		return matches
	}

	matches = ScoreAttributes(source, candidates)
	s.metrics.RecordMatchPath(PathAttribute, len(matches))
	return matches
}

// comparePayload は比較結果のJSONスキーマ。
type comparePayload struct {
	IsMatch    *bool    `json:"is_match"`
	Confidence *float64 `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
}

// CompareWithOracle は先頭MaxOracleComparisons件の候補を推論サービスで1件ずつ比較する。
// レート制限を受けた場合は残りの候補を打ち切り、それまでの結果とエラーを返す。
// 元画像が解決できない場合は空の結果を返す。
func (s *Scorer) CompareWithOracle(ctx context.Context, source *model.Item, candidates []*model.Item) ([]model.Match, error) {
	matches := []model.Match{}
	sourceImage, ok := s.images.Resolve(ctx, source)
	if !ok {
		s.logger.Info("元アイテムの画像が解決できないため推論比較を行いません", slog.String("item_id", source.ID))
		return matches, nil
	}

	if len(candidates) > MaxOracleComparisons {
		candidates = candidates[:MaxOracleComparisons]
	}

	called := false
	for _, cand := range candidates {
		candImage, ok := s.images.Resolve(ctx, cand)
		if !ok {
			s.logger.Debug("候補の画像が解決できないためスキップします", slog.String("item_id", cand.ID))
			continue
		}

		if called {
			if err := s.wait(ctx, s.pacing); err != nil {
				return sortMatches(matches), err
			}
		}
		called = true

		content, err := s.oracle.Complete(ctx, oracle.Request{
			Op:          "compare",
			Instruction: fmt.Sprintf(compareInstruction, source.Description, cand.Description),
			Images:      []oracle.Image{sourceImage, candImage},
		})
		if err != nil {
			if oracle.IsRateLimited(err) {
				return sortMatches(matches), err
			}
			s.logger.Warn("候補との比較に失敗しました", slog.String("item_id", cand.ID), slog.String("error", err.Error()))
			continue
		}

		var payload comparePayload
		if err := oracle.DecodeJSON(content, &payload); err != nil || payload.IsMatch == nil || payload.Confidence == nil {
			s.logger.Warn("比較結果の形式が不正です", slog.String("item_id", cand.ID))
			continue
		}
		confidence := clampConfidence(*payload.Confidence)
		if *payload.IsMatch && confidence > MatchThreshold {
			matches = append(matches, model.Match{
				Item:       *cand,
				Confidence: confidence,
				Reasoning:  strings.TrimSpace(payload.Reasoning),
			})
		}
	}
	return sortMatches(matches), nil
}

func clampConfidence(v float64) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return int(v)
}

// ScoreAttributes はカテゴリ・色・ブランドの一致で候補を採点する。
// AttributeThreshold以上の候補を降順で最大MaxAttributeMatches件返す。
func ScoreAttributes(source *model.Item, candidates []*model.Item) []model.Match {
	matches := []model.Match{}
	// Caserは状態を持つため呼び出しごとに生成する。
	fold := cases.Fold()
	srcCategory := fold.String(source.Category)
	srcColor := fold.String(source.Color)
	srcBrand := fold.String(source.Brand)

	for _, cand := range candidates {
		score := 0
		var reasons []string

		if srcCategory != "" && cand.Category != "" && srcCategory == fold.String(cand.Category) {
			score += categoryPoints
			reasons = append(reasons, fmt.Sprintf("Same category (%s)", source.Category))
		}
		if candColor := fold.String(cand.Color); srcColor != "" && candColor != "" &&
			(strings.Contains(candColor, srcColor) || strings.Contains(srcColor, candColor)) {
			score += colorPoints
			reasons = append(reasons, fmt.Sprintf("Similar color (%s)", source.Color))
		}
		if srcBrand != "" && cand.Brand != "" && strings.Contains(fold.String(cand.Brand), srcBrand) {
			score += brandPoints
			reasons = append(reasons, fmt.Sprintf("Same brand (%s)", source.Brand))
		}

		if score >= AttributeThreshold {
			matches = append(matches, model.Match{
				Item:       *cand,
				Confidence: score,
				Reasoning:  "Basic Feature Match: " + strings.Join(reasons, ", "),
			})
		}
	}

	matches = sortMatches(matches)
	if len(matches) > MaxAttributeMatches {
		matches = matches[:MaxAttributeMatches]
	}
	return matches
}

// sortMatches は信頼度の降順に並べ替える。同点は元の候補順を保つ。
func sortMatches(matches []model.Match) []model.Match {
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Confidence > matches[j].Confidence
	})
	return matches
}
