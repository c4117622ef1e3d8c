package grbl

import "fmt"

// ParseError reports a bracketed line that is not a usable status report.
type ParseError struct {
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("grbl: invalid status report %q: %s", e.Line, e.Reason)
}

type arityError struct{ want, got int }

func (e arityError) Error() string {
	return fmt.Sprintf("expected %d values, got %d", e.want, e.got)
}

type numericError struct{ value string }

func (e numericError) Error() string {
	return fmt.Sprintf("non-numeric value %q", e.value)
}
