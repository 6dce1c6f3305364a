package capture

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrExhausted is returned when every capture has been replayed.
var ErrExhausted = errors.New("no more captures to replay")

// Replayer serves capture files in order, one per request, in place of the
// HTTP transport.
type Replayer struct {
	mu    sync.Mutex
	paths []string
	next  int
}

// NewReplayer returns a replayer over paths.
func NewReplayer(paths ...string) *Replayer {
	return &Replayer{paths: paths}
}

// Next returns the capture that the following SendMessage will serve, without
// consuming it.
func (r *Replayer) Next() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.next >= len(r.paths) {
		return "", false
	}
	return r.paths[r.next], true
}

// SendMessage opens the next capture. The question is ignored; captures are
// served in order.
func (r *Replayer) SendMessage(ctx context.Context, _ string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	if r.next >= len(r.paths) {
		r.mu.Unlock()
		return nil, ErrExhausted
	}
	path := r.paths[r.next]
	r.next++
	r.mu.Unlock()

	c, err := Open(path)
	if err != nil {
		return nil, err
	}
	return c, nil
}
