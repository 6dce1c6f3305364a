// Package transcript holds the chat transcript and the pure transition
// function that folds actions into it.
package transcript

import (
	"slices"

	"github.com/alexschlessinger/pollychat/messages"
)

// State is a snapshot of the conversation and its connection flags. Error is
// empty when no error is shown.
type State struct {
	Messages    []messages.Message `json:"messages"`
	IsConnected bool               `json:"isConnected"`
	IsStreaming bool               `json:"isStreaming"`
	IsSending   bool               `json:"isSending"`
	Error       string             `json:"error,omitempty"`
}

// Initial returns the empty transcript.
func Initial() State {
	return State{Messages: []messages.Message{}}
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := s
	out.Messages = make([]messages.Message, len(s.Messages))
	for i, m := range s.Messages {
		out.Messages[i] = m.Clone()
	}
	return out
}

// Find returns the index of the message with id, or -1.
func (s State) Find(id string) int {
	return slices.IndexFunc(s.Messages, func(m messages.Message) bool {
		return m.ID == id
	})
}

// Message returns the message with id.
func (s State) Message(id string) (messages.Message, bool) {
	if i := s.Find(id); i >= 0 {
		return s.Messages[i], true
	}
	return messages.Message{}, false
}

// OpenTurn returns the assistant message currently streaming, if any.
func (s State) OpenTurn() (messages.Message, bool) {
	for _, m := range s.Messages {
		if m.IsOpen() {
			return m, true
		}
	}
	return messages.Message{}, false
}

// HasError reports whether an error is being shown.
func (s State) HasError() bool {
	return s.Error != ""
}
