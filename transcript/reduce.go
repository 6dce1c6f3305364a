package transcript

import (
	"slices"
	"strings"

	"github.com/alexschlessinger/pollychat/messages"
)

// Reduce returns the state that results from applying a to s. It never
// modifies s; actions whose preconditions do not hold return s unchanged.
func Reduce(s State, a Action) State {
	switch a := a.(type) {
	case SendMessage:
		if strings.TrimSpace(a.Text) == "" || s.IsStreaming {
			return s
		}
		s.Messages = appendMessage(s.Messages, messages.Message{
			ID:        a.ID,
			Role:      messages.RoleUser,
			Content:   a.Text,
			Timestamp: a.At,
			Status:    messages.StatusSending,
		})
		s.IsSending = true
		s.Error = ""
		return s

	case MessageSent:
		s.IsSending = false
		return updateMessage(s, a.ID, func(m *messages.Message) bool {
			if m.Role != messages.RoleUser || m.Status != messages.StatusSending {
				return false
			}
			m.Status = messages.StatusSent
			return true
		})

	case MessageFailed:
		s.IsSending = false
		return updateMessage(s, a.ID, func(m *messages.Message) bool {
			if m.Role != messages.RoleUser || m.Status != messages.StatusSending {
				return false
			}
			m.Status = messages.StatusError
			return true
		})

	case StartStreaming:
		if _, open := s.OpenTurn(); open || s.Find(a.ID) >= 0 {
			return s
		}
		s.Messages = appendMessage(s.Messages, messages.Message{
			ID:        a.ID,
			Role:      messages.RoleAssistant,
			Timestamp: a.At,
			Status:    messages.StatusStreaming,
			ToolCalls: []messages.ToolCall{},
		})
		s.IsStreaming = true
		return s

	case AppendStreamingContent:
		if a.Fragment == "" {
			return s
		}
		return updateMessage(s, a.ID, func(m *messages.Message) bool {
			if !m.IsOpen() {
				return false
			}
			m.Content += a.Fragment
			return true
		})

	case AddToolCallToMessage:
		return updateMessage(s, a.ID, func(m *messages.Message) bool {
			if m.Role != messages.RoleAssistant {
				return false
			}
			if slices.ContainsFunc(m.ToolCalls, func(tc messages.ToolCall) bool { return tc.ID == a.ToolCall.ID }) {
				return false
			}
			m.ToolCalls = append(slices.Clip(m.ToolCalls), a.ToolCall)
			return true
		})

	case UpdateToolCallInMessage:
		return updateMessage(s, a.ID, func(m *messages.Message) bool {
			i := slices.IndexFunc(m.ToolCalls, func(tc messages.ToolCall) bool { return tc.ID == a.ToolCallID })
			if i < 0 || m.ToolCalls[i].Status != messages.ToolCalling {
				return false
			}
			m.ToolCalls = slices.Clone(m.ToolCalls)
			m.ToolCalls[i].Result = a.Result
			m.ToolCalls[i].Status = messages.ToolComplete
			return true
		})

	case CompleteMessage:
		s.IsStreaming = false
		return updateMessage(s, a.ID, func(m *messages.Message) bool {
			if m.Status != messages.StatusStreaming {
				return false
			}
			m.Status = messages.StatusComplete
			return true
		})

	case SetConnectionStatus:
		s.IsConnected = a.Connected
		return s

	case SetError:
		s.Error = a.Message
		if a.Message == "" {
			return s
		}
		s.IsStreaming = false
		s.IsSending = false
		s.IsConnected = false
		failed := false
		out := slices.Clone(s.Messages)
		for i, m := range out {
			if m.IsOpen() || (m.Role == messages.RoleUser && m.Status == messages.StatusSending) {
				out[i].Status = messages.StatusError
				failed = true
			}
		}
		if failed {
			s.Messages = out
		}
		return s

	case ResetChat:
		return Initial()
	}
	return s
}

// appendMessage appends m without writing into the backing array of msgs.
func appendMessage(msgs []messages.Message, m messages.Message) []messages.Message {
	return append(slices.Clip(msgs), m)
}

// updateMessage applies fn to a copy of the message with id. The message
// slice is copied only when fn reports a change.
func updateMessage(s State, id string, fn func(*messages.Message) bool) State {
	i := s.Find(id)
	if i < 0 {
		return s
	}
	m := s.Messages[i]
	if !fn(&m) {
		return s
	}
	out := slices.Clone(s.Messages)
	out[i] = m
	s.Messages = out
	return s
}
