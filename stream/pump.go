package stream

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"
)

// DefaultChunkSize is the read size used by Pump when none is given.
const DefaultChunkSize = 4096

// Pump reads r until EOF, feeding every chunk to p, and calls p.Finish at EOF.
// Each chunk is fully processed, callbacks included, before the next read.
// Read errors are returned as is; the caller decides whether to Reset p.
func Pump(ctx context.Context, r io.Reader, p *Processor, chunkSize int) error {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	buf := make([]byte, chunkSize)
	var total int
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			total += n
			p.ProcessBytes(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			p.Finish()
			zap.S().Debugw("stream_eof", "bytes", total)
			return nil
		}
		if err != nil {
			zap.S().Debugw("stream_read_error", "bytes", total, "error", err)
			return err
		}
	}
}
