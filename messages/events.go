package messages

import (
	"encoding/json"
	"strings"
)

// EventName is the wire discriminator carried in every data payload.
type EventName string

const (
	EventNameTool EventName = "tool_event"
	EventNameChat EventName = "chat_event"
)

// Event is a decoded stream event. It is implemented only by ToolEvent and
// ChatEvent.
type Event interface {
	EventName() EventName
	isEvent()
}

// ToolEvent reports progress of a server side tool. An empty result means the
// tool is still running.
type ToolEvent struct {
	ToolName   ToolName `json:"tool_name"`
	ToolParam  string   `json:"tool_param"`
	ToolResult string   `json:"tool_result"`
}

func (ToolEvent) EventName() EventName { return EventNameTool }
func (ToolEvent) isEvent()             {}

// IsComplete reports whether the event carries a tool result.
func (e ToolEvent) IsComplete() bool {
	return strings.TrimSpace(e.ToolResult) != ""
}

// ChatEvent carries one incremental fragment of assistant text.
type ChatEvent struct {
	Content string `json:"content"`
}

func (ChatEvent) EventName() EventName { return EventNameChat }
func (ChatEvent) isEvent()             {}

// MarshalWire encodes e in the server's wire representation, including the
// event_name discriminator.
func MarshalWire(e Event) ([]byte, error) {
	switch ev := e.(type) {
	case ToolEvent:
		return json.Marshal(struct {
			EventName EventName `json:"event_name"`
			ToolEvent
		}{EventNameTool, ev})
	case ChatEvent:
		return json.Marshal(struct {
			EventName EventName `json:"event_name"`
			ChatEvent
		}{EventNameChat, ev})
	}
	return nil, &ChatError{Type: ErrorValidation, Message: "unsupported event type"}
}

// DataLine formats e as a complete SSE frame ("data: {...}\n\n").
func DataLine(e Event) string {
	raw, err := MarshalWire(e)
	if err != nil {
		return ""
	}
	return "data: " + string(raw) + "\n\n"
}
