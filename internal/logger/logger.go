package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

type Format string

const (
	FormatText  Format = "text"
	FormatJSON  Format = "json"
	FormatColor Format = "color"
)

// SlogConfig selects the handler.
type SlogConfig struct {
	Level      Level
	Format     Format
	TimeStamps bool
	Source     bool
}

// FileConfig sends logs to a rotating file instead of stderr.
// Rotation parameters follow lumberjack semantics.
type FileConfig struct {
	Path       string
	MaxSizeMB  int  // megabytes before rotation (default 10)
	MaxBackups int  // number of backups to keep (default 3)
	MaxAgeDays int  // days to keep (default 7)
	Compress   bool // gzip rotated files
}

// Config is the application logging configuration.
type Config struct {
	Slog SlogConfig
	File FileConfig
}

// ParseLevel maps a level name to a slog level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case "", LevelInfo:
		return slog.LevelInfo, nil
	case LevelDebug:
		return slog.LevelDebug, nil
	case LevelWarn, "warning":
		return slog.LevelWarn, nil
	case LevelError:
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// ValidFormat reports whether f names a known handler format. Empty is valid
// and means text.
func ValidFormat(f Format) bool {
	switch f {
	case "", FormatText, FormatJSON, FormatColor:
		return true
	}
	return false
}

// Writer returns a rotating file writer, or nil when no path is set.
func (c FileConfig) Writer() io.WriteCloser {
	if c.Path == "" {
		return nil
	}
	return &lj.Logger{
		Filename:   c.Path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// New builds a logger for cfg. The returned closer releases the log file and
// is never nil. Color output is downgraded to text when writing to a file.
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	lvl, err := ParseLevel(string(cfg.Slog.Level))
	if err != nil {
		return nil, nil, err
	}
	if !ValidFormat(cfg.Slog.Format) {
		return nil, nil, fmt.Errorf("unknown log format %q", cfg.Slog.Format)
	}
	var (
		w      io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
		format           = cfg.Slog.Format
	)
	if fw := cfg.File.Writer(); fw != nil {
		w, closer = fw, fw
		if format == FormatColor {
			format = FormatText
		}
	}
	return slog.New(newHandler(w, format, lvl, cfg.Slog)), closer, nil
}

func newHandler(w io.Writer, format Format, lvl slog.Level, sc SlogConfig) slog.Handler {
	opts := &slog.HandlerOptions{Level: lvl, AddSource: sc.Source}
	if !sc.TimeStamps {
		opts.ReplaceAttr = dropTime
	}
	switch format {
	case FormatJSON:
		return slog.NewJSONHandler(w, opts)
	case FormatColor:
		return NewColorTextHandler(w, opts)
	default:
		return slog.NewTextHandler(w, opts)
	}
}

func dropTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return a
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
