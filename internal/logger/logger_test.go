package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"info":    slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestFileWriter_Defaults(t *testing.T) {
	if w := (FileConfig{}).Writer(); w != nil {
		t.Fatalf("expected nil writer without a path")
	}
	w := FileConfig{Path: "x.log"}.Writer()
	l, ok := w.(*lj.Logger)
	if !ok {
		t.Fatalf("writer is not lumberjack.Logger")
	}
	if l.MaxSize != 10 || l.MaxBackups != 3 || l.MaxAge != 7 {
		t.Fatalf("unexpected defaults: size=%d backups=%d age=%d", l.MaxSize, l.MaxBackups, l.MaxAge)
	}
}

func TestFileWriter_Overrides(t *testing.T) {
	w := FileConfig{Path: "x2.log", MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 11, Compress: true}.Writer()
	l := w.(*lj.Logger)
	if l.MaxSize != 1 || l.MaxBackups != 9 || l.MaxAge != 11 || !l.Compress {
		t.Fatalf("unexpected overrides: size=%d backups=%d age=%d compress=%t", l.MaxSize, l.MaxBackups, l.MaxAge, l.Compress)
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cnc.log")
	log, closer, err := New(Config{
		Slog: SlogConfig{Level: LevelDebug, Format: FormatColor},
		File: FileConfig{Path: path},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Debug("ingest started", "run_id", "r1")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, "ingest started") || !strings.Contains(s, "run_id=r1") {
		t.Fatalf("unexpected log contents: %q", s)
	}
	if strings.Contains(s, "\033[") {
		t.Fatalf("color codes written to file: %q", s)
	}
	if strings.Contains(s, "time=") {
		t.Fatalf("timestamps should be omitted: %q", s)
	}
}

func TestNew_Rejects(t *testing.T) {
	if _, _, err := New(Config{Slog: SlogConfig{Level: "loud"}}); err == nil {
		t.Fatal("expected level error")
	}
	if _, _, err := New(Config{Slog: SlogConfig{Format: "xml"}}); err == nil {
		t.Fatal("expected format error")
	}
}

func TestColorTextHandler(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	log := slog.New(h).With("job_id", 7).WithGroup("kpi")
	log.Warn("alarm rate high", "rate", 1.5)
	out := buf.String()
	// the text handler may escape the control byte, so match past it
	if !strings.Contains(out, "[33mWARN") || !strings.Contains(out, "alarm rate high") {
		t.Fatalf("missing colored level: %q", out)
	}
	if !strings.Contains(out, "job_id=7") || !strings.Contains(out, "kpi.rate=1.5") {
		t.Fatalf("attrs lost: %q", out)
	}
}
