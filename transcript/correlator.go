package transcript

import (
	"time"

	"github.com/alexschlessinger/pollychat/messages"
)

// Correlator maps decoded stream events onto transcript actions for the
// currently open assistant turn.
type Correlator struct {
	newID func() string
	now   func() time.Time
}

// NewCorrelator returns a correlator that names new turns and tool calls with
// newID. A nil now uses time.Now.
func NewCorrelator(newID func() string, now func() time.Time) *Correlator {
	if now == nil {
		now = time.Now
	}
	return &Correlator{newID: newID, now: now}
}

// Actions returns the actions for ev, in order, together with the open turn
// id to use for the next event. openID is empty when no turn is open yet.
func (c *Correlator) Actions(s State, openID string, ev messages.Event) ([]Action, string) {
	var actions []Action

	turn, ok := s.Message(openID)
	if openID == "" || !ok || !turn.IsOpen() {
		openID = c.newID()
		turn = messages.Message{ID: openID}
		actions = append(actions, StartStreaming{ID: openID, At: c.now()})
	}

	switch ev := ev.(type) {
	case messages.ChatEvent:
		if ev.Content != "" {
			actions = append(actions, AppendStreamingContent{ID: openID, Fragment: ev.Content})
		}

	case messages.ToolEvent:
		if i := turn.FindToolCall(ev.ToolName, ev.ToolParam); i >= 0 {
			existing := turn.ToolCalls[i]
			// complete is terminal; repeats of a running call are ignored
			if existing.Status == messages.ToolCalling && ev.IsComplete() {
				actions = append(actions, UpdateToolCallInMessage{
					ID:         openID,
					ToolCallID: existing.ID,
					Result:     ev.ToolResult,
				})
			}
			break
		}
		status := messages.ToolCalling
		if ev.IsComplete() {
			status = messages.ToolComplete
		}
		actions = append(actions, AddToolCallToMessage{
			ID: openID,
			ToolCall: messages.ToolCall{
				ID:        c.newID(),
				Name:      ev.ToolName,
				Param:     ev.ToolParam,
				Result:    ev.ToolResult,
				Status:    status,
				Timestamp: c.now(),
			},
		})
	}
	return actions, openID
}

// Complete returns the actions that close the turn at end of stream.
func (c *Correlator) Complete(openID string) []Action {
	var actions []Action
	if openID != "" {
		actions = append(actions, CompleteMessage{ID: openID})
	}
	return append(actions, SetConnectionStatus{Connected: false})
}
