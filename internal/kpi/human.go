package kpi

import (
	"fmt"
	"math"
)

// HumanDuration renders seconds as "0s", "42s", "3m 5s" or "1h 2m 3s".
// Seconds are rounded half to even.
func HumanDuration(seconds float64) string {
	if seconds <= 0 || math.IsNaN(seconds) {
		return "0s"
	}
	s := int64(math.RoundToEven(seconds))
	h, m, sec := s/3600, (s%3600)/60, s%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, sec)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, sec)
	default:
		return fmt.Sprintf("%ds", sec)
	}
}

// Efficiency scores a job from its idle and alarm percentages:
// 100 - 0.6*idle - 1.5*alarm, clamped to [0, 100].
func Efficiency(idlePct, alarmPct float64) float64 {
	score := 100.0 - 0.6*idlePct - 1.5*alarmPct
	return math.Max(0, math.Min(100, score))
}
