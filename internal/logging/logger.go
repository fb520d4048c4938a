package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// Format selects the root handler.
type Format string

const (
	FormatAuto Format = "auto" // tint on a terminal, JSON otherwise
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseLevel maps debug/info/warn/error to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return lvl, nil
}

// New builds the root logger writing to w, wrapped in a CorrelationHandler.
func New(w io.Writer, level slog.Level, format Format) *slog.Logger {
	var h slog.Handler
	switch format {
	case FormatJSON:
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case FormatText:
		h = tint.NewHandler(w, &tint.Options{Level: level, TimeFormat: time.Kitchen, NoColor: !isTerminal(w)})
	default:
		if isTerminal(w) {
			h = tint.NewHandler(w, &tint.Options{Level: level, TimeFormat: time.Kitchen})
		} else {
			h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
		}
	}
	return slog.New(NewCorrelationHandler(h))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
