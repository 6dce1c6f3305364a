// Package chat drives one conversation: it sends questions, consumes the
// event stream and keeps the transcript.
package chat

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/alexschlessinger/pollychat/messages"
	"github.com/alexschlessinger/pollychat/stream"
	"github.com/alexschlessinger/pollychat/transcript"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Transport opens the event stream for a question.
type Transport interface {
	SendMessage(ctx context.Context, question string) (io.ReadCloser, error)
}

// Recorder wraps a stream body so its raw bytes are kept.
type Recorder interface {
	Record(body io.ReadCloser, turnID, question string) (io.ReadCloser, error)
}

// Listener receives a snapshot after every state change.
type Listener func(transcript.State)

// Session owns the transcript of one conversation. All methods are safe for
// concurrent use; at most one turn runs at a time.
type Session struct {
	transport  Transport
	decoder    *stream.Decoder
	recorder   Recorder
	chunkSize  int
	ids        func() string
	now        func() time.Time
	correlator *transcript.Correlator
	// held while a turn uses the transport and its stream, including a turn
	// abandoned by ResetChat that is still unwinding
	turn *semaphore.Weighted

	mu         sync.Mutex
	state      transcript.State
	openID     string
	generation uint64
	active     uint64 // generation of the running turn, 0 when idle
	body       io.ReadCloser
	cancel     context.CancelFunc
	listeners  map[int]Listener
	nextID     int
	closed     bool
}

// Option configures a Session.
type Option func(*Session)

// WithDecoder sets the payload decoder.
func WithDecoder(d *stream.Decoder) Option {
	return func(s *Session) { s.decoder = d }
}

// WithRecorder captures every stream body.
func WithRecorder(r Recorder) Option {
	return func(s *Session) { s.recorder = r }
}

// WithChunkSize sets the read size used when consuming a stream.
func WithChunkSize(n int) Option {
	return func(s *Session) { s.chunkSize = n }
}

// WithIDs sets the generator for message and tool call ids.
func WithIDs(fn func() string) Option {
	return func(s *Session) { s.ids = fn }
}

// WithClock sets the time source for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// New creates a session that talks to the server through t.
func New(t Transport, opts ...Option) (*Session, error) {
	s := &Session{
		transport: t,
		chunkSize: stream.DefaultChunkSize,
		now:       time.Now,
		turn:      semaphore.NewWeighted(1),
		state:     transcript.Initial(),
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.decoder == nil {
		d, err := stream.DefaultDecoder()
		if err != nil {
			return nil, err
		}
		s.decoder = d
	}
	if s.ids == nil {
		s.ids = messages.NewIDGenerator(s.now).New
	}
	s.correlator = transcript.NewCorrelator(s.ids, s.now)
	return s, nil
}

// SendMessage runs one turn: it sends text, streams the answer into the
// transcript and returns when the stream ends. Blank text, a closed session or
// a turn already in progress make it a no-op that returns nil. Failures are
// recorded in the transcript and also returned as *messages.ChatError.
func (s *Session) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	userID := s.ids()
	gen, ok := s.beginTurn(cancel,
		transcript.SendMessage{ID: userID, Text: text, At: s.now()},
		transcript.SetConnectionStatus{Connected: true},
	)
	if !ok {
		return nil
	}

	if err := s.turn.Acquire(turnCtx, 1); err != nil {
		if !s.current(gen) {
			return nil
		}
		ce := messages.ClassifyError(err)
		s.finish(gen, transcript.MessageFailed{ID: userID}, transcript.SetError{Message: ce.Message})
		return ce
	}
	defer s.turn.Release(1)

	body, err := s.transport.SendMessage(turnCtx, text)
	if err != nil {
		if !s.current(gen) {
			return nil
		}
		ce := messages.ClassifyError(err)
		zap.S().Debugw("chat_send_failed", "type", ce.Type, "error", ce.Message)
		s.finish(gen, transcript.MessageFailed{ID: userID}, transcript.SetError{Message: ce.Message})
		return ce
	}
	s.dispatch(gen, transcript.MessageSent{ID: userID})

	if s.recorder != nil {
		recorded, err := s.recorder.Record(body, userID, text)
		if err != nil {
			zap.S().Warnw("chat_record_failed", "error", err)
		} else {
			body = recorded
		}
	}
	if !s.attach(gen, body) {
		_ = body.Close()
		return nil
	}

	proc, err := stream.NewProcessor(s.decoder)
	if err != nil {
		s.detach(gen)
		ce := messages.NewChatError(messages.ErrorValidation, err.Error(), err)
		s.finish(gen, transcript.SetError{Message: ce.Message})
		return ce
	}
	// rejected payloads are logged by the processor and do not end the turn
	proc.OnEvent(func(ev messages.Event) { s.handleEvent(gen, ev) })

	err = stream.Pump(turnCtx, body, proc, s.chunkSize)
	s.detach(gen)
	if err != nil {
		proc.Reset()
		if !s.current(gen) {
			// reset or closed while streaming
			return nil
		}
		ce := messages.NewChatError(messages.ErrorConnection, "stream reading failed: "+err.Error(), err)
		if ctx.Err() != nil {
			ce = messages.ClassifyError(ctx.Err())
		}
		s.finish(gen, transcript.SetError{Message: ce.Message})
		return ce
	}

	s.complete(gen)
	return nil
}

// ResetChat abandons any in-flight turn and clears the transcript.
func (s *Session) ResetChat() {
	s.mu.Lock()
	s.abortLocked()
	s.state = transcript.Reduce(s.state, transcript.ResetChat{})
	snap, listeners := s.snapshotLocked()
	s.mu.Unlock()
	zap.S().Debugw("chat_reset")
	notify(listeners, snap)
}

// ClearError removes the error shown in the transcript.
func (s *Session) ClearError() {
	s.mu.Lock()
	s.state = transcript.Reduce(s.state, transcript.SetError{})
	snap, listeners := s.snapshotLocked()
	s.mu.Unlock()
	notify(listeners, snap)
}

// Snapshot returns a deep copy of the current state.
func (s *Session) Snapshot() transcript.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Subscribe registers fn to receive a snapshot after every change. The
// returned function removes the registration.
func (s *Session) Subscribe(fn Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Close releases any in-flight stream and rejects further turns. It is safe
// to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.abortLocked()
	return nil
}

// abortLocked invalidates the running turn and releases its stream.
func (s *Session) abortLocked() {
	s.generation++
	s.active = 0
	s.openID = ""
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.body != nil {
		_ = s.body.Close()
		s.body = nil
	}
}

// beginTurn claims the session for a new turn and applies its opening
// actions. It fails when the session is closed or another turn is active.
func (s *Session) beginTurn(cancel context.CancelFunc, actions ...transcript.Action) (uint64, bool) {
	s.mu.Lock()
	if s.closed || s.active != 0 {
		closed := s.closed
		s.mu.Unlock()
		zap.S().Debugw("chat_send_ignored", "closed", closed)
		return 0, false
	}
	s.generation++
	gen := s.generation
	s.active = gen
	s.cancel = cancel
	s.openID = ""
	s.applyLocked(actions)
	snap, listeners := s.snapshotLocked()
	s.mu.Unlock()
	notify(listeners, snap)
	return gen, true
}

func (s *Session) attach(gen uint64, body io.ReadCloser) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return false
	}
	s.body = body
	return true
}

// detach closes the body of turn gen if it is still attached.
func (s *Session) detach(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || s.body == nil {
		return
	}
	_ = s.body.Close()
	s.body = nil
}

// endLocked marks the session idle. The state change that ends a turn and
// this happen under one lock, so a send observing the final state is accepted.
func (s *Session) endLocked() {
	s.active = 0
	s.cancel = nil
	s.openID = ""
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.generation
}

func (s *Session) handleEvent(gen uint64, ev messages.Event) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	var actions []transcript.Action
	actions, s.openID = s.correlator.Actions(s.state, s.openID, ev)
	s.applyLocked(actions)
	snap, listeners := s.snapshotLocked()
	s.mu.Unlock()
	notify(listeners, snap)
}

func (s *Session) complete(gen uint64) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.applyLocked(s.correlator.Complete(s.openID))
	s.endLocked()
	snap, listeners := s.snapshotLocked()
	s.mu.Unlock()
	notify(listeners, snap)
}

// finish applies the closing actions of turn gen and marks the session idle.
func (s *Session) finish(gen uint64, actions ...transcript.Action) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.applyLocked(actions)
	s.endLocked()
	snap, listeners := s.snapshotLocked()
	s.mu.Unlock()
	notify(listeners, snap)
}

// dispatch applies actions if turn gen is still current and notifies listeners.
func (s *Session) dispatch(gen uint64, actions ...transcript.Action) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.applyLocked(actions)
	snap, listeners := s.snapshotLocked()
	s.mu.Unlock()
	notify(listeners, snap)
}

func (s *Session) applyLocked(actions []transcript.Action) {
	for _, a := range actions {
		s.state = transcript.Reduce(s.state, a)
		zap.S().Debugw("chat_action", "action", actionName(a))
	}
}

func (s *Session) snapshotLocked() (transcript.State, []Listener) {
	if len(s.listeners) == 0 {
		return transcript.State{}, nil
	}
	listeners := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	return s.state.Clone(), listeners
}

func notify(listeners []Listener, snap transcript.State) {
	for _, fn := range listeners {
		fn(snap.Clone())
	}
}

func actionName(a transcript.Action) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", a), "transcript.")
}
