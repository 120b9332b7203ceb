// Package oracle は画像・テキスト推論サービスのクライアントを提供する。
// 応答はJSONとして受け取り、失敗はレート制限とそれ以外に分類して返す。
package oracle

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/campusfind/internal/metrics"
)

const (
	jsonResponseType   = "json_object"
	defaultHTTPTimeout = 20 * time.Second
	defaultBaseURL     = "https://api.openai.com/v1/chat/completions"
	maxResponseBytes   = 1 << 20
)

// Config は推論サービスへの接続設定を保持する。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	// RequestsPerMinute はプロセス全体での呼び出し上限。0以下の場合は無制限。
	RequestsPerMinute int
}

// Image は推論サービスに渡す画像を表す。
type Image struct {
	Data []byte
	MIME string
}

// dataURL は画像をdata URL形式にエンコードする。
func (img Image) dataURL() string {
	mime := img.MIME
	if mime == "" {
		mime = "image/jpeg"
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(img.Data))
}

// Request は1回の推論呼び出しを表す。
type Request struct {
	Op          string // メトリクス・ログ用の操作名
	Instruction string
	Images      []Image
	// Text がtrueの場合はJSON形式を要求しない。
	Text bool
}

// Client はOpenAI互換のchat completions APIのクライアント。
// 1回の呼び出しにつき1リクエストのみ送信し、再試行は行わない。
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
}

// Option はClientの設定を変更する。
type Option func(*Client)

// WithHTTPClient はHTTPクライアントを差し替える。
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLimiter は呼び出し上限のリミッターを差し替える。
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithMetrics はメトリクスコレクターを設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithLogger はロガーを設定する。
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient は推論サービスクライアントを生成する。
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}

	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		metrics:    metrics.Nop{},
		logger:     slog.Default(),
	}
	if cfg.RequestsPerMinute > 0 {
		client.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), cfg.RequestsPerMinute)
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

var (
	sharedOnce   sync.Once
	sharedClient *Client
)

// Shared はプロセス全体で共有するClientを返す。
// 初回呼び出し時にのみ生成し、以降の引数は無視する。
func Shared(cfg Config, opts ...Option) *Client {
	sharedOnce.Do(func() {
		sharedClient = NewClient(cfg, opts...)
	})
	return sharedClient
}

// Enabled はAPIキーが設定されているかを返す。
func (c *Client) Enabled() bool {
	return c != nil && c.cfg.APIKey != ""
}

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete は推論サービスを1回呼び出し、応答本文を返す。
// 失敗はErrRateLimited、ErrUnavailable、ErrMalformed、ErrNotConfiguredのいずれかをラップする。
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	content, err := c.complete(ctx, req)

	outcome := metrics.OutcomeOK
	switch {
	case IsRateLimited(err):
		outcome = metrics.OutcomeRateLimited
	case err != nil:
		outcome = metrics.OutcomeError
	}
	c.metrics.RecordOracleCall(req.Op, outcome, time.Since(start))
	if err != nil {
		c.logger.Warn("oracle call failed",
			slog.String("op", req.Op),
			slog.String("outcome", outcome),
			slog.String("error", err.Error()),
		)
	}
	return content, err
}

func (c *Client) complete(ctx context.Context, req Request) (string, error) {
	if !c.Enabled() {
		return "", ErrNotConfigured
	}
	instruction := strings.TrimSpace(req.Instruction)
	if instruction == "" {
		return "", errors.New("oracle complete: instruction required")
	}
	if c.limiter != nil && !c.limiter.Allow() {
		return "", fmt.Errorf("%w: local request ceiling reached", ErrRateLimited)
	}

	parts := []contentPart{{Type: "text", Text: instruction}}
	for _, img := range req.Images {
		parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: img.dataURL()}})
	}
	payload := chatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: parts}},
		Temperature: 0,
	}
	if !req.Text {
		payload.ResponseFormat = map[string]string{"type": jsonResponseType}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	completion, err := c.send(ctx, payload)
	if err != nil {
		return "", err
	}
	for _, choice := range completion.Choices {
		if content := strings.TrimSpace(choice.Message.Content); content != "" {
			return content, nil
		}
	}
	return "", fmt.Errorf("%w: empty content", ErrMalformed)
}

func (c *Client) send(ctx context.Context, payload chatCompletionRequest) (chatCompletionResponse, error) {
	var completion chatCompletionResponse
	encoded, err := json.Marshal(payload)
	if err != nil {
		return completion, fmt.Errorf("oracle request: encode body: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(encoded))
	if err != nil {
		return completion, fmt.Errorf("oracle request: new request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return completion, fmt.Errorf("%w: http error (timeout=%s): %v", ErrUnavailable, c.cfg.Timeout, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return completion, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return completion, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RetryAfter: retryAfter,
		}
	}
	if err := json.Unmarshal(body, &completion); err != nil {
		return completion, fmt.Errorf("%w: decode response: %v", ErrMalformed, err)
	}
	if completion.Error != nil {
		return completion, fmt.Errorf("%w: api error: %s", ErrUnavailable, strings.TrimSpace(completion.Error.Message))
	}
	return completion, nil
}
