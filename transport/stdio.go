package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

type scanResult struct {
	line []byte
	err  error
}

// StdIOConn exchanges newline delimited frames over a reader and a writer.
type StdIOConn struct {
	in  io.Reader
	out io.Writer

	writeMu sync.Mutex

	once      sync.Once
	lines     chan scanResult
	closeOnce sync.Once
	closed    chan struct{}
}

// NewStdIOConn reads frames from in and writes them to out.
func NewStdIOConn(in io.Reader, out io.Writer) *StdIOConn {
	return &StdIOConn{
		in:     in,
		out:    out,
		lines:  make(chan scanResult),
		closed: make(chan struct{}),
	}
}

func (c *StdIOConn) scan() {
	scanner := bufio.NewScanner(c.in)
	buffer := make([]byte, 0, 64*1024)
	scanner.Buffer(buffer, 1024*1024)

	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		select {
		case c.lines <- scanResult{line: line}:
		case <-c.closed:
			return
		}
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	} else {
		err = fmt.Errorf("scanner error: %w", err)
	}
	select {
	case c.lines <- scanResult{err: err}:
	case <-c.closed:
	}
}

// ReadFrame blocks until a frame arrives, ctx is done or the conn is closed.
// Blank lines are skipped.
func (c *StdIOConn) ReadFrame(ctx context.Context) (Frame, error) {
	c.once.Do(func() { go c.scan() })

	for {
		var res scanResult
		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-c.closed:
			return Frame{}, io.EOF
		case res = <-c.lines:
		}
		if res.err != nil {
			return Frame{}, res.err
		}
		if len(res.line) == 0 {
			continue
		}

		var f Frame
		if err := json.Unmarshal(res.line, &f); err != nil {
			return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return f, nil
	}
}

// WriteFrame writes f as one line.
func (c *StdIOConn) WriteFrame(f Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	b = append(b, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.out.Write(b); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Close unblocks ReadFrame. The underlying reader and writer are left open.
func (c *StdIOConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}
