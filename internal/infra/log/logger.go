package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger создаёт настроенный zerolog.
// Пустой level выбирает уровень по окружению: debug для dev, info для остальных.
func NewLogger(appEnv, level, format string) zerolog.Logger {
	return newLogger(os.Stdout, appEnv, level, format)
}

// NewLoggerTo создаёт логгер, пишущий в out.
func NewLoggerTo(out io.Writer, appEnv, level, format string) zerolog.Logger {
	return newLogger(out, appEnv, level, format)
}

func newLogger(out io.Writer, appEnv, level, format string) zerolog.Logger {
	lvl := zerolog.InfoLevel
	if appEnv == "dev" {
		lvl = zerolog.DebugLevel
	}
	if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level))); err == nil && level != "" {
		lvl = parsed
	}
	zerolog.TimeFieldFormat = time.RFC3339
	if strings.EqualFold(format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}
	return zerolog.New(out).With().Timestamp().Logger().Level(lvl)
}

// Component возвращает дочерний логгер с полем component.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
