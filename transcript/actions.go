package transcript

import (
	"time"

	"github.com/alexschlessinger/pollychat/messages"
)

// Action is a transcript transition. It is implemented only by the types in
// this file.
type Action interface {
	isAction()
}

// SendMessage appends the user's message in the sending state.
type SendMessage struct {
	ID   string
	Text string
	At   time.Time
}

// MessageSent marks the user message as accepted by the server.
type MessageSent struct {
	ID string
}

// MessageFailed marks the user message as not delivered.
type MessageFailed struct {
	ID string
}

// StartStreaming opens a new assistant turn.
type StartStreaming struct {
	ID string
	At time.Time
}

// AppendStreamingContent adds a fragment to the open assistant turn.
type AppendStreamingContent struct {
	ID       string
	Fragment string
}

// AddToolCallToMessage attaches a tool call to an assistant turn.
type AddToolCallToMessage struct {
	ID       string
	ToolCall messages.ToolCall
}

// UpdateToolCallInMessage completes a running tool call.
type UpdateToolCallInMessage struct {
	ID         string
	ToolCallID string
	Result     string
}

// CompleteMessage closes an assistant turn.
type CompleteMessage struct {
	ID string
}

// SetConnectionStatus records whether a stream is connected.
type SetConnectionStatus struct {
	Connected bool
}

// SetError shows Message, or clears the error when Message is empty.
type SetError struct {
	Message string
}

// ResetChat returns the transcript to its initial state.
type ResetChat struct{}

func (SendMessage) isAction()             {}
func (MessageSent) isAction()             {}
func (MessageFailed) isAction()           {}
func (StartStreaming) isAction()          {}
func (AppendStreamingContent) isAction()  {}
func (AddToolCallToMessage) isAction()    {}
func (UpdateToolCallInMessage) isAction() {}
func (CompleteMessage) isAction()         {}
func (SetConnectionStatus) isAction()     {}
func (SetError) isAction()                {}
func (ResetChat) isAction()               {}
