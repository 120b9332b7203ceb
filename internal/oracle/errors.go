package oracle

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrRateLimited は推論サービスまたはローカルの呼び出し上限によるレート制限を表す。
	// 呼び出し側はこのエラーを既定値で握りつぶしてはならない。
	ErrRateLimited = errors.New("oracle: rate limited")
	// ErrUnavailable はレート制限以外の失敗（ネットワーク、タイムアウト、HTTPエラー）を表す。
	ErrUnavailable = errors.New("oracle: unavailable")
	// ErrMalformed は応答が期待したJSONスキーマに一致しないことを表す。
	ErrMalformed = errors.New("oracle: malformed response")
	// ErrNotConfigured はAPIキーが設定されていないことを表す。
	ErrNotConfigured = errors.New("oracle: not configured")
)

// StatusError は推論サービスが2xx以外を返したことを表す。
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("oracle request: http %d: %s", e.StatusCode, snippet(e.Body))
}

// Unwrap は429をErrRateLimited、それ以外をErrUnavailableとして分類する。
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	return ErrUnavailable
}

// IsRateLimited はerrがレート制限によるものかを返す。
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// RetryAfter はレート制限エラーから再試行までの待ち時間を取り出す。不明な場合は0。
func RetryAfter(err error) time.Duration {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.RetryAfter
	}
	return 0
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}
