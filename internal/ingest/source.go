package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// maxLineBytes bounds a single controller line. Longer lines are truncated
// and the rest up to the newline is dropped.
const maxLineBytes = 64 * 1024

type lineSource struct {
	r      *bufio.Reader
	closer io.Closer
	sleep  time.Duration
	served bool
}

// NewReaderSource reads lines from r. Blank lines are skipped and invalid
// UTF-8 is replaced.
func NewReaderSource(r io.Reader) Source {
	return newLineSource(r, nil, 0)
}

// OpenFile replays a log file. A positive sleep is waited between lines to
// mimic a live controller.
func OpenFile(path string, sleep time.Duration) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return newLineSource(f, f, sleep), nil
}

func newLineSource(r io.Reader, c io.Closer, sleep time.Duration) *lineSource {
	return &lineSource{r: bufio.NewReader(r), closer: c, sleep: sleep}
}

// readLine returns the next line without its terminator, keeping at most
// maxLineBytes of it.
func readLine(r *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		frag, err := r.ReadSlice('\n')
		if room := maxLineBytes - len(line); room > 0 {
			line = append(line, frag[:min(len(frag), room)]...)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return line, nil
		}
		return line, err
	}
}

func (s *lineSource) Next(ctx context.Context) (string, error) {
	for {
		raw, err := readLine(s.r)
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("failed to read line: %w", err)
		}
		line := cleanLine(string(raw))
		if line == "" {
			continue
		}
		if s.served && s.sleep > 0 {
			t := time.NewTimer(s.sleep)
			select {
			case <-ctx.Done():
				t.Stop()
				return "", ctx.Err()
			case <-t.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		s.served = true
		return line, nil
	}
}

func (s *lineSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func cleanLine(s string) string {
	return strings.TrimSpace(strings.ToValidUTF8(s, "�"))
}
