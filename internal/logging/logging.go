package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config はログ出力の設定
type Config struct {
	Level  string `koanf:"level"`  // trace / debug / info / warn / error
	Format string `koanf:"format"` // json / console
	Caller bool   `koanf:"caller"` // 呼び出し元のファイルと行番号を含める
}

// DefaultConfig はデフォルトのログ設定を返す
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "json",
		Caller: false,
	}
}

// Setup は設定に従ってルートロガーを構築する
func Setup(cfg Config) zerolog.Logger {
	return SetupWriter(cfg, os.Stderr)
}

// SetupWriter は出力先を指定してルートロガーを構築する
func SetupWriter(cfg Config, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(w).Level(level).With().Timestamp()
	if cfg.Caller {
		ctx = ctx.Caller()
	}
	return ctx.Logger()
}

// Component はコンポーネント名付きの子ロガーを払い出す
func Component(root zerolog.Logger, name string) zerolog.Logger {
	return root.With().Str("component", name).Logger()
}
