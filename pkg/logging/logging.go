// Package logging はlog/slogベースの構造化ロガーを生成する。
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// ParseLevel はログレベル名をslog.Levelに変換する。未知の値はInfoとみなす。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// New はレベルと出力形式（json/text）を指定してロガーを生成する。
func New(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// Discard は何も出力しないロガーを返す。テスト用。
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
