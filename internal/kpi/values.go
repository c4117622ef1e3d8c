package kpi

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/Phillip-Steyn/cnc-iiot/internal/store"
)

// toFloat converts a driver value to a finite float. Nulls and
// non-numeric values report false.
func toFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case nil:
		return 0, false
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int64:
		f = float64(x)
	case int32:
		f = float64(x)
	case int:
		f = float64(x)
	case string:
		p, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = p
	case []byte:
		return toFloat(string(x))
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

func toTime(v any) (time.Time, bool) { return store.ParseTime(v) }

// stats accumulates mean and max over numeric values.
type stats struct {
	n   int
	sum float64
	max float64
}

func (s *stats) add(v any) {
	f, ok := toFloat(v)
	if !ok {
		return
	}
	if s.n == 0 || f > s.max {
		s.max = f
	}
	s.sum += f
	s.n++
}

func (s *stats) result() (avg, max *float64) {
	if s.n == 0 {
		return nil, nil
	}
	a, m := s.sum/float64(s.n), s.max
	return &a, &m
}
