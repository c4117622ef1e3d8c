package grbl

import (
	"strconv"
	"strings"
)

// Tokens recognised on the controller's serial stream.
const (
	StartupPrefix     = "grbl"
	AckToken          = "ok"
	AlarmPrefix       = "ALARM:"
	MachinePosPrefix  = "MPos:"
	WorkPosPrefix     = "WPos:"
	FeedSpindlePrefix = "FS:"
)

// Kind is the classification of a single controller line.
type Kind string

const (
	KindStartup Kind = "startup"
	KindAck     Kind = "ok"
	KindAlarm   Kind = "alarm"
	KindStatus  Kind = "status"
	KindRaw     Kind = "raw"
)

// Event levels and categories produced for non-status lines.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"

	CategorySystem     = "system"
	CategoryGRBL       = "grbl"
	CategoryJob        = "job"
	CategoryConnection = "connection"

	AlarmCode = "ALARM"
)

// Position is a machine or work coordinate triple.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Status is a decoded "<State|MPos:x,y,z|FS:f,s>" report.
type Status struct {
	State   string    `json:"state"`
	MPos    Position  `json:"mpos"`
	WPos    *Position `json:"wpos,omitempty"`
	Feed    float64   `json:"feed"`
	Spindle float64   `json:"spindle"`
}

// String renders the status back into controller form. Only the fields the
// parser interprets are emitted.
func (s Status) String() string {
	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(s.State)
	b.WriteByte('|')
	b.WriteString(MachinePosPrefix)
	writeFloats(&b, s.MPos.X, s.MPos.Y, s.MPos.Z)
	if s.WPos != nil {
		b.WriteByte('|')
		b.WriteString(WorkPosPrefix)
		writeFloats(&b, s.WPos.X, s.WPos.Y, s.WPos.Z)
	}
	b.WriteByte('|')
	b.WriteString(FeedSpindlePrefix)
	writeFloats(&b, s.Feed, s.Spindle)
	b.WriteByte('>')
	return b.String()
}

func writeFloats(b *strings.Builder, vs ...float64) {
	for i, v := range vs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
	}
}

// EventInfo describes how a non-status line is recorded as an event.
type EventInfo struct {
	Type     string
	Level    string
	Category string
	Code     string
	Message  string
}

// Line is one classified controller line. Status is set only for KindStatus.
// ParseErr is set when a bracketed line failed to parse and was downgraded
// to KindRaw by Classify.
type Line struct {
	Kind     Kind
	Text     string
	Status   *Status
	ParseErr error
}

// Event returns the event shape for the line. It is meaningless for
// KindStatus lines, which are stored as telemetry.
func (l Line) Event() EventInfo {
	switch l.Kind {
	case KindStartup:
		return EventInfo{Type: string(KindStartup), Level: LevelInfo, Category: CategorySystem, Message: l.Text}
	case KindAck:
		return EventInfo{Type: string(KindAck), Level: LevelInfo, Category: CategorySystem, Message: "Command acknowledged"}
	case KindAlarm:
		return EventInfo{Type: string(KindAlarm), Level: LevelError, Category: CategoryGRBL, Code: AlarmCode, Message: l.Text}
	default:
		return EventInfo{Type: string(KindRaw), Level: LevelInfo, Category: CategorySystem, Message: l.Text}
	}
}

// Parse classifies line strictly: a bracketed line that is not a valid
// status report yields a *ParseError.
func Parse(line string) (Line, error) {
	switch {
	case hasPrefixFold(line, StartupPrefix):
		return Line{Kind: KindStartup, Text: line}, nil
	case line == AckToken:
		return Line{Kind: KindAck, Text: line}, nil
	case strings.HasPrefix(line, AlarmPrefix):
		return Line{Kind: KindAlarm, Text: line}, nil
	case isBracketed(line):
		st, err := ParseStatus(line)
		if err != nil {
			return Line{Kind: KindStatus, Text: line}, err
		}
		return Line{Kind: KindStatus, Text: line, Status: &st}, nil
	default:
		return Line{Kind: KindRaw, Text: line}, nil
	}
}

// Classify never fails. Malformed status reports are downgraded to KindRaw
// with the parse error kept on the returned Line.
func Classify(line string) Line {
	l, err := Parse(line)
	if err != nil {
		return Line{Kind: KindRaw, Text: line, ParseErr: err}
	}
	return l
}

// ParseStatus decodes a bracketed status report. Fields other than the
// state, MPos, WPos and FS are ignored.
func ParseStatus(line string) (Status, error) {
	if !isBracketed(line) {
		return Status{}, &ParseError{Line: line, Reason: "not a bracketed status report"}
	}
	body := line[1 : len(line)-1]
	fields := strings.Split(body, "|")

	st := Status{State: fields[0]}
	var havePos, haveFS bool
	for _, f := range fields[1:] {
		switch {
		case strings.HasPrefix(f, MachinePosPrefix):
			if havePos {
				return Status{}, &ParseError{Line: line, Reason: "duplicate " + MachinePosPrefix + " field"}
			}
			v, err := parseFloats(f[len(MachinePosPrefix):], 3)
			if err != nil {
				return Status{}, &ParseError{Line: line, Reason: MachinePosPrefix + " " + err.Error()}
			}
			st.MPos = Position{X: v[0], Y: v[1], Z: v[2]}
			havePos = true
		case strings.HasPrefix(f, FeedSpindlePrefix):
			if haveFS {
				return Status{}, &ParseError{Line: line, Reason: "duplicate " + FeedSpindlePrefix + " field"}
			}
			v, err := parseFloats(f[len(FeedSpindlePrefix):], 2)
			if err != nil {
				return Status{}, &ParseError{Line: line, Reason: FeedSpindlePrefix + " " + err.Error()}
			}
			st.Feed, st.Spindle = v[0], v[1]
			haveFS = true
		case strings.HasPrefix(f, WorkPosPrefix):
			// optional; a malformed WPos does not invalidate the report
			if v, err := parseFloats(f[len(WorkPosPrefix):], 3); err == nil && st.WPos == nil {
				st.WPos = &Position{X: v[0], Y: v[1], Z: v[2]}
			}
		}
	}
	if !havePos {
		return Status{}, &ParseError{Line: line, Reason: "missing " + MachinePosPrefix + " field"}
	}
	if !haveFS {
		return Status{}, &ParseError{Line: line, Reason: "missing " + FeedSpindlePrefix + " field"}
	}
	return st, nil
}

func parseFloats(s string, n int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, arityError{want: n, got: len(parts)}
	}
	out := make([]float64, n)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, numericError{value: p}
		}
		out[i] = v
	}
	return out, nil
}

func isBracketed(line string) bool {
	return len(line) >= 2 && line[0] == '<' && line[len(line)-1] == '>'
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
