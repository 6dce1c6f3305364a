package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/alexschlessinger/pollychat/messages"
	"github.com/xeipuuv/gojsonschema"
)

// DoneMarker is the sentinel payload some servers send after the last event.
const DoneMarker = "[DONE]"

// ErrorKind classifies why a data payload could not be decoded.
type ErrorKind string

const (
	ErrInvalidFormat ErrorKind = "invalid_format"
	ErrInvalidJSON   ErrorKind = "invalid_json"
	ErrMissingField  ErrorKind = "missing_field"
	ErrUnknownEvent  ErrorKind = "unknown_event"
)

// DecodeError describes a rejected payload.
type DecodeError struct {
	Kind    ErrorKind
	Message string
	Raw     string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Reportable reports whether the error indicates a malformed payload rather
// than an empty line or end marker.
func (e *DecodeError) Reportable() bool {
	return e.Kind != ErrInvalidFormat
}

// AsDecodeError unwraps err to a *DecodeError.
func AsDecodeError(err error) (*DecodeError, bool) {
	var de *DecodeError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// Decoder validates data payloads and converts them to events. A Decoder is
// immutable after construction and safe for concurrent use.
type Decoder struct {
	tool *gojsonschema.Schema
	chat *gojsonschema.Schema
}

// NewDecoder compiles the payload schemas.
func NewDecoder() (*Decoder, error) {
	tool, err := compileSchema(toolEventSchema())
	if err != nil {
		return nil, fmt.Errorf("tool_event: %w", err)
	}
	chat, err := compileSchema(chatEventSchema())
	if err != nil {
		return nil, fmt.Errorf("chat_event: %w", err)
	}
	return &Decoder{tool: tool, chat: chat}, nil
}

var defaultDecoder = sync.OnceValues(NewDecoder)

// DefaultDecoder returns a process-wide decoder, compiling it on first use.
func DefaultDecoder() (*Decoder, error) {
	return defaultDecoder()
}

// Decode converts one data payload into an event. The returned error is
// always a *DecodeError.
func (d *Decoder) Decode(payload string) (messages.Event, error) {
	data := strings.TrimSpace(payload)
	if data == "" || data == DoneMarker {
		return nil, &DecodeError{Kind: ErrInvalidFormat, Message: "empty payload or end marker", Raw: payload}
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, &DecodeError{Kind: ErrInvalidJSON, Message: err.Error(), Raw: data}
	}
	if obj == nil {
		return nil, &DecodeError{Kind: ErrInvalidJSON, Message: "payload is not a JSON object", Raw: data}
	}

	name, ok := obj["event_name"].(string)
	if !ok {
		return nil, &DecodeError{Kind: ErrMissingField, Message: "event_name is missing or not a string", Raw: data}
	}

	var schema *gojsonschema.Schema
	switch messages.EventName(name) {
	case messages.EventNameTool:
		schema = d.tool
	case messages.EventNameChat:
		schema = d.chat
	default:
		return nil, &DecodeError{Kind: ErrUnknownEvent, Message: fmt.Sprintf("unknown event_name %q", name), Raw: data}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(obj))
	if err != nil {
		return nil, &DecodeError{Kind: ErrInvalidJSON, Message: err.Error(), Raw: data}
	}
	if !result.Valid() {
		return nil, classifySchemaErrors(result.Errors(), data)
	}

	switch messages.EventName(name) {
	case messages.EventNameTool:
		return messages.ToolEvent{
			ToolName:   messages.ToolName(stringField(obj, "tool_name")),
			ToolParam:  stringField(obj, "tool_param"),
			ToolResult: stringField(obj, "tool_result"),
		}, nil
	default:
		return messages.ChatEvent{Content: stringField(obj, "content")}, nil
	}
}

// classifySchemaErrors picks one DecodeError for a failed validation. An
// out-of-enum tool name wins; otherwise the first error by field name is
// reported as a missing or mistyped field.
func classifySchemaErrors(errs []gojsonschema.ResultError, raw string) *DecodeError {
	for _, re := range errs {
		if re.Type() == "enum" && re.Field() == "tool_name" {
			return &DecodeError{
				Kind:    ErrUnknownEvent,
				Message: fmt.Sprintf("unknown tool_name %v", re.Value()),
				Raw:     raw,
			}
		}
	}

	sort.SliceStable(errs, func(i, j int) bool {
		return fieldOf(errs[i]) < fieldOf(errs[j])
	})
	re := errs[0]
	field := fieldOf(re)
	var msg string
	switch re.Type() {
	case "required":
		msg = fmt.Sprintf("missing required field %q", field)
	case "invalid_type":
		msg = fmt.Sprintf("field %q must be a string", field)
	default:
		msg = re.String()
	}
	return &DecodeError{Kind: ErrMissingField, Message: msg, Raw: raw}
}

func fieldOf(re gojsonschema.ResultError) string {
	if re.Type() == "required" {
		if p, ok := re.Details()["property"].(string); ok {
			return p
		}
	}
	return re.Field()
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}
