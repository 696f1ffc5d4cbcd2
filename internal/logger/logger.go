package logger

import (
	"io"
	"log/slog"
	"os"
)

// Setup は指定のwriterへJSON行を出力するslog.Loggerを生成する。
// ログレベルはInfo固定。
func Setup(w io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(handler)
}

// SetupDefault はJSON構造化ログをプロセス全体のデフォルトロガーに設定する。
// wがnilの場合はos.Stdoutに出力する（本番の想定）。
func SetupDefault(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	logger := Setup(w)
	slog.SetDefault(logger)
}
