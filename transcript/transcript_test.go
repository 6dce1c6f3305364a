package transcript

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alexschlessinger/pollychat/messages"
	"github.com/google/go-cmp/cmp"
)

var epoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

// sequentialIDs returns an id generator producing id-1, id-2, ...
func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newTestCorrelator() *Correlator {
	return NewCorrelator(sequentialIDs(), func() time.Time { return epoch })
}

// feed applies events the way the chat session does and returns the final
// state and open turn id.
func feed(s State, c *Correlator, openID string, events ...messages.Event) (State, string) {
	for _, ev := range events {
		var actions []Action
		actions, openID = c.Actions(s, openID, ev)
		for _, a := range actions {
			s = Reduce(s, a)
		}
	}
	return s, openID
}

func TestSendMessage(t *testing.T) {
	s := Reduce(Initial(), SetError{Message: "old"})
	s = Reduce(s, SendMessage{ID: "u1", Text: "hello", At: epoch})

	if len(s.Messages) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(s.Messages))
	}
	m := s.Messages[0]
	if m.Role != messages.RoleUser || m.Status != messages.StatusSending || m.Content != "hello" {
		t.Errorf("Unexpected user message %+v", m)
	}
	if !s.IsSending || s.HasError() {
		t.Errorf("Expected sending with no error, got %+v", s)
	}

	s = Reduce(s, MessageSent{ID: "u1"})
	if s.Messages[0].Status != messages.StatusSent || s.IsSending {
		t.Errorf("Expected sent, got %s (sending=%v)", s.Messages[0].Status, s.IsSending)
	}
}

func TestSendMessagePreconditions(t *testing.T) {
	s := Initial()
	if got := Reduce(s, SendMessage{ID: "u1", Text: "   "}); len(got.Messages) != 0 || got.IsSending {
		t.Error("Expected blank text to be ignored")
	}

	s = Reduce(s, StartStreaming{ID: "a1"})
	got := Reduce(s, SendMessage{ID: "u2", Text: "hi"})
	if diff := cmp.Diff(s, got); diff != "" {
		t.Errorf("Expected send while streaming to be ignored (-want +got):\n%s", diff)
	}
}

func TestMessageFailed(t *testing.T) {
	s := Reduce(Initial(), SendMessage{ID: "u1", Text: "hi"})
	s = Reduce(s, MessageFailed{ID: "u1"})
	if s.Messages[0].Status != messages.StatusError || s.IsSending {
		t.Errorf("Expected failed user message, got %+v", s.Messages[0])
	}
	// already failed; sent must not resurrect it
	s = Reduce(s, MessageSent{ID: "u1"})
	if s.Messages[0].Status != messages.StatusError {
		t.Errorf("Expected status to stay error, got %s", s.Messages[0].Status)
	}
}

func TestStartStreamingAtMostOneOpen(t *testing.T) {
	s := Reduce(Initial(), StartStreaming{ID: "a1", At: epoch})
	s2 := Reduce(s, StartStreaming{ID: "a2", At: epoch})
	if len(s2.Messages) != 1 {
		t.Fatalf("Expected second open turn to be rejected, got %d messages", len(s2.Messages))
	}
	s2 = Reduce(s2, CompleteMessage{ID: "a1"})
	s2 = Reduce(s2, StartStreaming{ID: "a2", At: epoch})
	if len(s2.Messages) != 2 || !s2.IsStreaming {
		t.Errorf("Expected new turn after completion, got %+v", s2)
	}
}

func TestChatFragmentsAccumulate(t *testing.T) {
	c := newTestCorrelator()
	s, open := feed(Initial(), c, "",
		messages.ChatEvent{Content: "He"},
		messages.ChatEvent{Content: ""},
		messages.ChatEvent{Content: "llo"},
	)
	if len(s.Messages) != 1 {
		t.Fatalf("Expected one assistant message, got %d", len(s.Messages))
	}
	m := s.Messages[0]
	if m.ID != open || m.Content != "Hello" || m.Status != messages.StatusStreaming {
		t.Errorf("Unexpected message %+v", m)
	}

	for _, a := range c.Complete(open) {
		s = Reduce(s, a)
	}
	if s.Messages[0].Status != messages.StatusComplete || s.IsStreaming || s.IsConnected {
		t.Errorf("Expected completed turn, got %+v", s)
	}
}

func TestToolCallLifecycle(t *testing.T) {
	c := newTestCorrelator()
	s, _ := feed(Initial(), c, "",
		messages.ToolEvent{ToolName: messages.ToolCurrentTime},
		messages.ToolEvent{ToolName: messages.ToolCurrentTime, ToolResult: "12:00"},
	)

	turn, ok := s.OpenTurn()
	if !ok {
		t.Fatal("Expected an open turn")
	}
	want := []messages.ToolCall{{
		ID:        "id-2",
		Name:      messages.ToolCurrentTime,
		Result:    "12:00",
		Status:    messages.ToolComplete,
		Timestamp: epoch,
	}}
	if diff := cmp.Diff(want, turn.ToolCalls); diff != "" {
		t.Errorf("tool calls mismatch (-want +got):\n%s", diff)
	}
}

func TestToolCallDedup(t *testing.T) {
	c := newTestCorrelator()
	search := func(param, result string) messages.Event {
		return messages.ToolEvent{ToolName: messages.ToolTavilySearch, ToolParam: param, ToolResult: result}
	}
	s, _ := feed(Initial(), c, "",
		search("go", ""),
		search("go", ""),
		search("rust", ""),
		search("go", "a\nb"),
		search("go", "different"),
		search("go", ""),
		messages.ToolEvent{ToolName: messages.ToolCurrentTime, ToolResult: "09:30"},
	)

	turn, _ := s.OpenTurn()
	if len(turn.ToolCalls) != 3 {
		t.Fatalf("Expected 3 tool calls, got %d", len(turn.ToolCalls))
	}
	goCall := turn.ToolCalls[turn.FindToolCall(messages.ToolTavilySearch, "go")]
	if goCall.Status != messages.ToolComplete || goCall.Result != "a\nb" {
		t.Errorf("Expected first result to stick, got %+v", goCall)
	}
	if rust := turn.ToolCalls[1]; rust.Param != "rust" || rust.Status != messages.ToolCalling {
		t.Errorf("Expected rust search still running, got %+v", rust)
	}
	if tc := turn.ToolCalls[2]; tc.Status != messages.ToolComplete || tc.Result != "09:30" {
		t.Errorf("Expected complete-on-arrival call, got %+v", tc)
	}
}

func TestMonotonicContentGrowth(t *testing.T) {
	c := newTestCorrelator()
	s := Initial()
	open := ""
	prev := ""
	for _, frag := range strings.Split("the quick brown fox", " ") {
		var actions []Action
		actions, open = c.Actions(s, open, messages.ChatEvent{Content: frag + " "})
		for _, a := range actions {
			s = Reduce(s, a)
			if turn, ok := s.Message(open); ok {
				if !strings.HasPrefix(turn.Content, prev) {
					t.Fatalf("Content %q does not extend %q", turn.Content, prev)
				}
				prev = turn.Content
			}
		}
	}
	if prev != "the quick brown fox " {
		t.Errorf("Unexpected final content %q", prev)
	}
}

func TestSetError(t *testing.T) {
	c := newTestCorrelator()
	s := Reduce(Initial(), SendMessage{ID: "u1", Text: "hi"})
	s = Reduce(s, MessageSent{ID: "u1"})
	s = Reduce(s, SetConnectionStatus{Connected: true})
	s, _ = feed(s, c, "", messages.ChatEvent{Content: "partial"})

	s = Reduce(s, SetError{Message: "Stream reading failed"})
	if s.IsStreaming || s.IsSending || s.IsConnected {
		t.Errorf("Expected flags cleared, got %+v", s)
	}
	if s.Error != "Stream reading failed" {
		t.Errorf("Unexpected error %q", s.Error)
	}
	if len(s.Messages) != 2 {
		t.Fatalf("Expected messages to be kept, got %d", len(s.Messages))
	}
	if s.Messages[1].Status != messages.StatusError || s.Messages[1].Content != "partial" {
		t.Errorf("Expected open turn marked as error, got %+v", s.Messages[1])
	}
	if s.Messages[0].Status != messages.StatusSent {
		t.Errorf("Expected delivered user message untouched, got %s", s.Messages[0].Status)
	}
	if _, open := s.OpenTurn(); open {
		t.Error("Expected no open turn after error")
	}

	s = Reduce(s, SetError{})
	if s.HasError() || len(s.Messages) != 2 {
		t.Errorf("Expected error cleared and messages kept, got %+v", s)
	}
}

func TestResetChat(t *testing.T) {
	s := Reduce(Initial(), SendMessage{ID: "u1", Text: "hi"})
	s = Reduce(s, SetError{Message: "boom"})
	s = Reduce(s, ResetChat{})
	if diff := cmp.Diff(Initial(), s); diff != "" {
		t.Errorf("Expected initial state (-want +got):\n%s", diff)
	}
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	c := newTestCorrelator()
	base, open := feed(Initial(), c, "",
		messages.ToolEvent{ToolName: messages.ToolTavilySearch, ToolParam: "q"},
		messages.ChatEvent{Content: "a"},
	)
	snapshot := base.Clone()

	actions := []Action{
		AppendStreamingContent{ID: open, Fragment: "b"},
		UpdateToolCallInMessage{ID: open, ToolCallID: base.Messages[0].ToolCalls[0].ID, Result: "r"},
		AddToolCallToMessage{ID: open, ToolCall: messages.ToolCall{ID: "x", Name: messages.ToolCurrentTime}},
		CompleteMessage{ID: open},
		SetError{Message: "e"},
		SendMessage{ID: "u9", Text: "later"},
		ResetChat{},
	}
	for _, a := range actions {
		_ = Reduce(base, a)
		if diff := cmp.Diff(snapshot, base); diff != "" {
			t.Fatalf("%T mutated its input (-want +got):\n%s", a, diff)
		}
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	c := newTestCorrelator()
	s, open := feed(Initial(), c, "", messages.ChatEvent{Content: "done"})
	s = Reduce(s, CompleteMessage{ID: open})
	again := Reduce(s, CompleteMessage{ID: open})
	if diff := cmp.Diff(s, again); diff != "" {
		t.Errorf("Expected second completion to be a no-op (-want +got):\n%s", diff)
	}
	// late fragments do not reopen a completed turn
	late := Reduce(s, AppendStreamingContent{ID: open, Fragment: "!"})
	if late.Messages[0].Content != "done" {
		t.Errorf("Expected completed content to be frozen, got %q", late.Messages[0].Content)
	}
}

func TestCorrelatorStartsNewTurnWhenOpenIDIsStale(t *testing.T) {
	c := newTestCorrelator()
	s, open := feed(Initial(), c, "", messages.ChatEvent{Content: "one"})
	s = Reduce(s, CompleteMessage{ID: open})

	s, next := feed(s, c, open, messages.ChatEvent{Content: "two"})
	if next == open {
		t.Fatal("Expected a fresh turn id")
	}
	if len(s.Messages) != 2 || s.Messages[1].Content != "two" {
		t.Errorf("Unexpected transcript %+v", s.Messages)
	}
}
