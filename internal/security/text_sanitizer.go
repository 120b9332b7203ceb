// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はユーザーが入力した説明文・メッセージ・場所などから
// HTMLを取り除き、プレーンテキストとして保存できる形にする。
package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はユーザー入力のサニタイズ機能のインターフェースを定義する。
type TextSanitizer interface {
	// Plain はすべてのタグを除去し、前後の空白を除いたテキストを返す。
	// maxRunesが正の場合はその文字数で切り詰める。
	Plain(input string, maxRunes int) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのポリシーはスレッドセーフなため共有する。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Plain はタグを除去したプレーンテキストを返す。
// StrictPolicyがエスケープした文字実体は元の文字に戻す。
func (s *textSanitizer) Plain(input string, maxRunes int) string {
	if input == "" {
		return ""
	}
	text := strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(input)))
	if maxRunes > 0 && utf8.RuneCountInString(text) > maxRunes {
		text = strings.TrimSpace(string([]rune(text)[:maxRunes]))
	}
	return text
}
