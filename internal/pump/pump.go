// Package pump copies a byte stream to a sink chunk by chunk.
package pump

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// DefaultChunkSize is used when Copy is given a non-positive chunk size.
const DefaultChunkSize = 32 * 1024

// Op names the side of the pipe that failed.
type Op string

const (
	OpRead  Op = "read"
	OpWrite Op = "write"
)

// Error reports a failure after zero or more bytes were already delivered.
type Error struct {
	Op      Op
	Written int64
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("pump %s after %d bytes: %v", e.Op, e.Written, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Copy reads src in chunks and writes each chunk to dst as it arrives,
// flushing after every write when dst is an http.Flusher. It stops at EOF,
// when ctx is done, or at the first read or write error, and returns the
// number of bytes written. Errors are of type *Error.
func Copy(ctx context.Context, dst io.Writer, src io.Reader, chunkSize int) (int64, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	flusher, _ := dst.(http.Flusher)
	buf := make([]byte, chunkSize)

	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, &Error{Op: OpWrite, Written: written, Err: err}
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			written += int64(w)
			if werr == nil && w != n {
				werr = io.ErrShortWrite
			}
			if werr != nil {
				return written, &Error{Op: OpWrite, Written: written, Err: werr}
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return written, nil
			}
			return written, &Error{Op: OpRead, Written: written, Err: rerr}
		}
	}
}

// ClientGone reports whether err means the consumer went away rather than
// the source failing.
func ClientGone(err error) bool {
	var pe *Error
	if errors.As(err, &pe) && pe.Op == OpWrite {
		return true
	}
	return errors.Is(err, context.Canceled)
}
