package messages

import (
	"slices"
	"time"
)

// Role identifies who authored a message.
type Role string

// Standard role constants
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageStatus is the lifecycle position of a message.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusStreaming MessageStatus = "streaming"
	StatusComplete  MessageStatus = "complete"
	StatusError     MessageStatus = "error"
)

// ToolCallStatus tracks a tool invocation reported by the server.
type ToolCallStatus string

const (
	ToolCalling  ToolCallStatus = "calling"
	ToolComplete ToolCallStatus = "complete"
)

// ToolCall is one tool invocation attached to an assistant message.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      ToolName       `json:"name"`
	Param     string         `json:"param"`
	Result    string         `json:"result,omitempty"`
	Status    ToolCallStatus `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
}

// DisplayText returns the human readable progress line for the call.
func (tc ToolCall) DisplayText() string {
	return tc.Name.DisplayText(tc.Param, tc.Result, tc.Status)
}

// Matches reports whether the call was created for the given tool and parameter.
func (tc ToolCall) Matches(name ToolName, param string) bool {
	return tc.Name == name && tc.Param == param
}

// Message is one entry of the transcript.
type Message struct {
	ID        string        `json:"id"`
	Role      Role          `json:"role"`
	Content   string        `json:"content"`
	Timestamp time.Time     `json:"timestamp"`
	Status    MessageStatus `json:"status"`
	ToolCalls []ToolCall    `json:"toolCalls,omitempty"`
}

// IsOpen reports whether the message is an assistant turn still receiving content.
func (m Message) IsOpen() bool {
	return m.Role == RoleAssistant && m.Status == StatusStreaming
}

// FindToolCall returns the index of the tool call created for (name, param), or -1.
func (m Message) FindToolCall(name ToolName, param string) int {
	return slices.IndexFunc(m.ToolCalls, func(tc ToolCall) bool {
		return tc.Matches(name, param)
	})
}

// Clone returns a copy that shares no slices with m.
func (m Message) Clone() Message {
	m.ToolCalls = slices.Clone(m.ToolCalls)
	return m
}
