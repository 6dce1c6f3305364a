package stream

import (
	"strings"
	"unicode/utf8"

	"github.com/alexschlessinger/pollychat/messages"
	"go.uber.org/zap"
)

// Processor reassembles lines from arbitrarily split chunks and dispatches
// decoded events in order. It is not safe for concurrent use; one Processor
// serves one stream.
type Processor struct {
	decoder *Decoder
	buf     string
	pending []byte // incomplete UTF-8 sequence from the last ProcessBytes call
	onEvent func(messages.Event)
	onError func(*DecodeError)
}

// NewProcessor returns a processor using d, or the default decoder if d is nil.
func NewProcessor(d *Decoder) (*Processor, error) {
	if d == nil {
		var err error
		if d, err = DefaultDecoder(); err != nil {
			return nil, err
		}
	}
	return &Processor{decoder: d}, nil
}

// OnEvent sets the callback invoked for every decoded event.
func (p *Processor) OnEvent(fn func(messages.Event)) {
	p.onEvent = fn
}

// OnError sets the callback invoked for malformed payloads. Empty payloads and
// end markers are never reported.
func (p *Processor) OnError(fn func(*DecodeError)) {
	p.onError = fn
}

// ProcessChunk appends chunk to the buffer and handles every complete line.
func (p *Processor) ProcessChunk(chunk string) {
	p.buf += chunk
	for {
		i := strings.IndexByte(p.buf, '\n')
		if i < 0 {
			return
		}
		line := p.buf[:i]
		p.buf = p.buf[i+1:]
		p.handleLine(line)
	}
}

// ProcessBytes is ProcessChunk for raw reads. A multi-byte character split
// across calls is held back until its remaining bytes arrive.
func (p *Processor) ProcessBytes(b []byte) {
	data := append(p.pending, b...)
	cut := len(data)
	for i := len(data) - 1; i >= 0 && i >= len(data)-utf8.UTFMax; i-- {
		if utf8.RuneStart(data[i]) {
			if !utf8.FullRune(data[i:]) {
				cut = i
			}
			break
		}
	}
	p.pending = append([]byte(nil), data[cut:]...)
	p.ProcessChunk(string(data[:cut]))
}

// Finish handles whatever remains buffered as a final line and clears the
// buffer. Calling it again has no effect.
func (p *Processor) Finish() {
	rest := p.buf + string(p.pending)
	p.buf, p.pending = "", nil
	if rest != "" {
		p.handleLine(rest)
	}
}

// Reset discards buffered input without handling it.
func (p *Processor) Reset() {
	p.buf, p.pending = "", nil
}

// Buffered returns the number of bytes held for the next line.
func (p *Processor) Buffered() int {
	return len(p.buf) + len(p.pending)
}

func (p *Processor) handleLine(line string) {
	parsed := ParseLine(strings.TrimSuffix(line, "\r"))
	if parsed.Field != FieldData {
		if parsed.Field != FieldNone {
			zap.S().Debugw("stream_line_ignored", "field", parsed.Field.String())
		}
		return
	}

	ev, err := p.decoder.Decode(parsed.Value)
	if err != nil {
		de, ok := AsDecodeError(err)
		if !ok || !de.Reportable() {
			return
		}
		zap.S().Debugw("stream_decode_error", "kind", de.Kind, "message", de.Message, "raw", de.Raw)
		if p.onError != nil {
			p.onError(de)
		}
		return
	}
	if p.onEvent != nil {
		p.onEvent(ev)
	}
}
