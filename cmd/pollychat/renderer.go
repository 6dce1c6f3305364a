package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/alexschlessinger/pollychat/messages"
	"github.com/alexschlessinger/pollychat/transcript"
)

// Renderer prints transcript snapshots incrementally: each snapshot only adds
// what has not been printed yet.
type Renderer struct {
	mu         sync.Mutex
	out        io.Writer
	status     *Status
	echoUser   bool
	showErrors bool

	seenUser  map[string]bool
	printed   map[string]int
	toolState map[string]messages.ToolCallStatus
	finished  map[string]bool
	midLine   bool
	lastError string
}

// NewRenderer creates a renderer writing to out. status may be nil.
func NewRenderer(out io.Writer, status *Status, echoUser, showErrors bool) *Renderer {
	r := &Renderer{out: out, status: status, echoUser: echoUser, showErrors: showErrors}
	r.Reset()
	return r
}

// Reset forgets everything printed so far
func (r *Renderer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seenUser = make(map[string]bool)
	r.printed = make(map[string]int)
	r.toolState = make(map[string]messages.ToolCallStatus)
	r.finished = make(map[string]bool)
	r.midLine = false
	r.lastError = ""
}

// Update renders the difference between st and what was printed before
func (r *Renderer) Update(st transcript.State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range st.Messages {
		switch m.Role {
		case messages.RoleUser:
			if r.echoUser && !r.seenUser[m.ID] {
				r.endLine()
				fmt.Fprintf(r.out, "%s %s\n", userStyle.Styled(">"), m.Content)
			}
			r.seenUser[m.ID] = true
		case messages.RoleAssistant:
			r.renderAssistant(m)
		}
	}

	if r.showErrors && st.Error != "" && st.Error != r.lastError {
		r.endLine()
		fmt.Fprintf(r.out, "%s %s\n", errorStyle.Styled("✗"), st.Error)
	}
	r.lastError = st.Error

	r.updateStatus(st)
}

func (r *Renderer) renderAssistant(m messages.Message) {
	for _, tc := range m.ToolCalls {
		if prev, ok := r.toolState[tc.ID]; ok && prev == tc.Status {
			continue
		}
		r.endLine()
		mark := dimStyle.Styled("⋯")
		if tc.Status == messages.ToolComplete {
			mark = successStyle.Styled("✓")
		}
		fmt.Fprintf(r.out, "%s %s\n", mark, dimStyle.Styled(tc.DisplayText()))
		r.toolState[tc.ID] = tc.Status
	}

	if n := r.printed[m.ID]; len(m.Content) > n {
		chunk := m.Content[n:]
		fmt.Fprint(r.out, assistantStyle.Styled(chunk))
		r.printed[m.ID] = len(m.Content)
		r.midLine = !strings.HasSuffix(chunk, "\n")
	}

	if !r.finished[m.ID] && (m.Status == messages.StatusComplete || m.Status == messages.StatusError) {
		r.endLine()
		r.finished[m.ID] = true
	}
}

// endLine terminates a partially printed content line
func (r *Renderer) endLine() {
	if r.midLine {
		fmt.Fprintln(r.out)
		r.midLine = false
	}
}

func (r *Renderer) updateStatus(st transcript.State) {
	if r.status == nil {
		return
	}
	switch {
	case st.IsStreaming:
		if m, ok := st.OpenTurn(); ok {
			r.status.UpdateStreamingProgress(len(m.Content))
		}
	case st.IsSending:
		r.status.ShowSpinner("connecting")
	default:
		r.status.Clear()
	}
}

// formatTranscript renders the whole transcript as plain text
func formatTranscript(st transcript.State) string {
	var b strings.Builder
	for _, m := range st.Messages {
		fmt.Fprintf(&b, "=== %s (%s) ===\n", m.Role, m.Status)
		for _, tc := range m.ToolCalls {
			fmt.Fprintf(&b, "[%s] %s\n", tc.Status, tc.DisplayText())
		}
		fmt.Fprintf(&b, "%s\n\n", m.Content)
	}
	return b.String()
}
