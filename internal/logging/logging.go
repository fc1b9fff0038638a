package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config selects the level and output format of the logger.
type Config struct {
	Level  string // trace|debug|info|warn|error
	Format string // json|console
}

// New creates a zerolog logger writing to stdout.
func New(cfg Config) *zerolog.Logger {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter creates a zerolog logger writing to w.
// Unknown levels fall back to info.
func NewWithWriter(cfg Config, w io.Writer) *zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	out := w
	if strings.ToLower(cfg.Format) == "console" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: true}
	}
	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return &logger
}

// ForJob returns a child logger tagged with the job id.
func ForJob(base *zerolog.Logger, jobID string) *zerolog.Logger {
	l := base.With().Str("job_id", jobID).Logger()
	return &l
}

// Redact hides most of a device token; keep a short preview.
func Redact(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "..." + s[len(s)-2:]
}
