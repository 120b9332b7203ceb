// Package logger はJSON構造化ログの初期化を提供する。
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ServiceName はすべてのログ行に付与するサービス名。
const ServiceName = "campusfind"

// level はSetupで生成したハンドラが共有するログレベル。
// 設定の読み込み前にロガーを作り、後からSetLevelで変更する。
var level = new(slog.LevelVar)

// Setup はJSONハンドラのslog.Loggerを生成する。
// 出力にはservice属性が常に含まれる。
func Setup(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})).With(slog.String("service", ServiceName))
}

// SetupDefault はSetupのロガーをslogのデフォルトに設定する。wがnilならos.Stdout。
func SetupDefault(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	slog.SetDefault(Setup(w))
}

// Component はデフォルトロガーにcomponent属性を付けたロガーを返す。
func Component(name string) *slog.Logger {
	return slog.Default().With(slog.String("component", name))
}

// SetLevel はログレベルを文字列（debug/info/warn/error）で変更する。
func SetLevel(s string) {
	level.Set(ParseLevel(s))
}

// ParseLevel はログレベル文字列をslog.Levelに変換する。不明な値はinfo。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
