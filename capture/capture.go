// Package capture records raw event streams to disk and plays them back.
//
// A capture file is the exact byte stream the server sent, preceded by one SSE
// comment line carrying the question, so a capture is itself valid wire input.
package capture

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

// Ext is the file extension of capture files.
const Ext = ".sse"

const questionPrefix = ": question "

var lockTimeout = 10 * time.Second

// Recorder writes one capture file per turn into a directory.
type Recorder struct {
	dir string
}

// NewRecorder creates dir if needed and returns a recorder writing into it.
func NewRecorder(dir string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create capture directory: %w", err)
	}
	return &Recorder{dir: dir}, nil
}

// Dir returns the capture directory.
func (r *Recorder) Dir() string { return r.dir }

// Record returns a reader that copies everything read from body into
// <dir>/<turnID>.sse. The file stays exclusively locked until the returned
// reader is closed.
func (r *Recorder) Record(body io.ReadCloser, turnID, question string) (io.ReadCloser, error) {
	path := filepath.Join(r.dir, turnID+Ext)
	lock, err := acquire(path, false)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open capture: %w", err)
	}
	header, _ := json.Marshal(question)
	if _, err := fmt.Fprintf(f, "%s%s\n", questionPrefix, header); err != nil {
		_ = f.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("write capture header: %w", err)
	}

	zap.S().Debugw("capture_started", "path", path)
	return &recordingBody{body: body, file: f, lock: lock, path: path}, nil
}

type recordingBody struct {
	body    io.ReadCloser
	file    *os.File
	lock    *flock.Flock
	path    string
	written int64
	failed  bool
	once    sync.Once
	err     error
}

func (b *recordingBody) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)
	if n > 0 && !b.failed {
		if _, werr := b.file.Write(p[:n]); werr != nil {
			b.failed = true
			zap.S().Warnw("capture_write_failed", "path", b.path, "error", werr)
		} else {
			b.written += int64(n)
		}
	}
	return n, err
}

func (b *recordingBody) Close() error {
	b.once.Do(func() {
		b.err = b.body.Close()
		if err := b.file.Close(); err != nil && b.err == nil {
			b.err = err
		}
		_ = b.lock.Unlock()
		zap.S().Debugw("capture_finished", "path", b.path, "bytes", b.written)
	})
	return b.err
}

// Capture is an open capture file.
type Capture struct {
	Path     string
	Question string

	r    *bufio.Reader
	file *os.File
	lock *flock.Flock
	once sync.Once
}

// Open opens a capture for reading under a shared lock, so a capture still
// being recorded is not read half written.
func Open(path string) (*Capture, error) {
	// the lock would otherwise create a missing file
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	lock, err := acquire(path, true)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open capture: %w", err)
	}

	c := &Capture{Path: path, r: bufio.NewReader(f), file: f, lock: lock}
	if first, err := c.r.Peek(len(questionPrefix)); err == nil && string(first) == questionPrefix {
		line, _ := c.r.ReadString('\n')
		raw := strings.TrimSpace(strings.TrimPrefix(line, questionPrefix))
		if err := json.Unmarshal([]byte(raw), &c.Question); err != nil {
			c.Question = raw
		}
	}
	return c, nil
}

// Question returns the question recorded in the capture at path, or "" when
// the capture has no header.
func Question(path string) (string, error) {
	c, err := Open(path)
	if err != nil {
		return "", err
	}
	defer c.Close()
	return c.Question, nil
}

func (c *Capture) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

// Close releases the file and its lock. It is safe to call more than once.
func (c *Capture) Close() error {
	var err error
	c.once.Do(func() {
		err = c.file.Close()
		_ = c.lock.Unlock()
	})
	return err
}

func acquire(path string, shared bool) (*flock.Flock, error) {
	lock := flock.New(path)
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()

	var locked bool
	var err error
	if shared {
		locked, err = lock.TryRLockContext(ctx, 100*time.Millisecond)
	} else {
		locked, err = lock.TryLockContext(ctx, 100*time.Millisecond)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock on %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("could not acquire lock on %s within %s", path, lockTimeout)
	}
	return lock, nil
}

// Files expands paths into capture files. Directories contribute their *.sse
// files in name order, which for recorded captures is creation order.
func Files(paths ...string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(p, "*"+Ext))
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		out = append(out, matches...)
	}
	if len(out) == 0 {
		return nil, errors.New("no capture files found")
	}
	return out, nil
}
