package runner

import (
	"fmt"
	"io"
	"sync"

	"go.uber.org/multierr"
)

// lockedWriter serializes writes from both drains onto one sink.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// sameWriter reports whether a and b are the same sink. Writers whose
// dynamic type is not comparable are treated as distinct.
func sameWriter(a, b io.Writer) (same bool) {
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}

// sinks returns the writers the two drains use, wrapping a shared sink.
func sinks(stdout, stderr io.Writer) (io.Writer, io.Writer) {
	if sameWriter(stdout, stderr) {
		lw := &lockedWriter{w: stdout}
		return lw, lw
	}
	return stdout, stderr
}

// relay copies src to dst one chunk at a time as bytes arrive and returns
// the number of bytes read from src.
//
// When dst fails, relay keeps reading src to EOF and discards the rest so
// the child never blocks on a full pipe; the write error is still returned.
func relay(dst io.Writer, src io.Reader, buf []byte) (int64, error) {
	var (
		total    int64
		writeErr error
	)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			total += int64(n)
			if writeErr == nil {
				if _, werr := dst.Write(buf[:n]); werr != nil {
					writeErr = fmt.Errorf("write: %w", werr)
				}
			}
		}
		if err == io.EOF {
			return total, writeErr
		}
		if err != nil {
			return total, multierr.Append(writeErr, fmt.Errorf("read: %w", err))
		}
	}
}
