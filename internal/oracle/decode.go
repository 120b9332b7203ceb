package oracle

import (
	"encoding/json"
	"fmt"
	"strings"
)

// snippetLimit はエラーメッセージに含める応答本文の最大文字数。
const snippetLimit = 160

// DecodeJSON はモデルの応答からJSONオブジェクトを取り出してtargetに格納する。
// ```json フェンスや前後の説明文は無視する。
// 失敗した場合はErrMalformedをラップしたエラーを返す。
func DecodeJSON(content string, target any) error {
	object := extractObject(content)
	if object == "" {
		return fmt.Errorf("%w: no JSON object in %q", ErrMalformed, snippet(content))
	}
	if err := json.Unmarshal([]byte(object), target); err != nil {
		return fmt.Errorf("%w: %v: %q", ErrMalformed, err, snippet(object))
	}
	return nil
}

// extractObject は最初の '{' から最後の '}' までを返す。見つからなければ空文字。
func extractObject(content string) string {
	body := strings.TrimSpace(content)
	if rest, ok := strings.CutPrefix(body, "```"); ok {
		rest = strings.TrimPrefix(strings.TrimLeft(rest, " \t"), "json")
		rest, _, _ = strings.Cut(rest, "```")
		body = rest
	}
	start := strings.IndexByte(body, '{')
	end := strings.LastIndexByte(body, '}')
	if start < 0 || end < start {
		return ""
	}
	return body[start : end+1]
}

// snippet は空白を詰めた先頭snippetLimit文字を返す。
func snippet(s string) string {
	runes := []rune(strings.Join(strings.Fields(s), " "))
	if len(runes) > snippetLimit {
		return string(runes[:snippetLimit]) + "..."
	}
	return string(runes)
}
