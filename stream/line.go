// Package stream turns a server-sent-events byte stream into decoded chat
// events, independent of how the bytes were split into chunks.
package stream

import "strings"

// Field identifies the kind of an SSE line.
type Field int

const (
	FieldNone Field = iota
	FieldData
	FieldEvent
	FieldID
	FieldRetry
	FieldComment
)

func (f Field) String() string {
	switch f {
	case FieldData:
		return "data"
	case FieldEvent:
		return "event"
	case FieldID:
		return "id"
	case FieldRetry:
		return "retry"
	case FieldComment:
		return "comment"
	}
	return "none"
}

// Line is one classified SSE line.
type Line struct {
	Field Field
	Value string
}

var linePrefixes = []struct {
	prefix string
	field  Field
}{
	{"data:", FieldData},
	{"event:", FieldEvent},
	{"id:", FieldID},
	{"retry:", FieldRetry},
	{":", FieldComment},
}

// ParseLine classifies a single line (without its terminator). Blank and
// unrecognised lines yield FieldNone.
func ParseLine(line string) Line {
	line = strings.TrimLeft(line, " \t")
	if line == "" {
		return Line{}
	}
	for _, p := range linePrefixes {
		if rest, ok := strings.CutPrefix(line, p.prefix); ok {
			return Line{Field: p.field, Value: strings.TrimLeft(rest, " \t")}
		}
	}
	return Line{}
}
