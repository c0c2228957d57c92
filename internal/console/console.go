// Package console adapts the keyboard and the display for the interactive
// session: line-based input with carry-over buffering, and a serialized
// output gate so concurrent producers never interleave partial lines.
package console

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/term"
)

// lineBacklog bounds how many complete lines are held for future prompts.
// Input typed before the next prompt opens is buffered up to this many
// lines; past that the oldest unclaimed line is dropped.
const lineBacklog = 16

const readChunkSize = 4096

// fallbackWidth is used when the display is not a terminal.
const fallbackWidth = 80

// Console multiplexes line input and serialized output. One Console is
// shared by every component that reads or prints; all display writes pass
// through a single mutual-exclusion gate.
type Console struct {
	lines chan string

	mu  sync.Mutex
	out io.Writer
}

// New starts the input reader on in and returns a console writing to out.
func New(in io.Reader, out io.Writer) *Console {
	c := &Console{
		lines: make(chan string, lineBacklog),
		out:   out,
	}
	go c.readLines(in)
	return c
}

// readLines reads chunks from the keyboard, splits on newline, and carries
// any unterminated remainder over to the next read. Closing the lines
// channel signals end of input to ReadLine.
func (c *Console) readLines(in io.Reader) {
	defer close(c.lines)
	var carry []byte
	buf := make([]byte, readChunkSize)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			for {
				i := bytes.IndexByte(data, '\n')
				if i < 0 {
					break
				}
				c.push(string(trimCR(data[:i])))
				data = data[i+1:]
			}
			carry = append(carry[:0], data...)
		}
		if err != nil {
			if err != io.EOF {
				slog.Warn("keyboard read failed", "error", err)
			}
			return
		}
	}
}

// push enqueues a complete line, dropping the oldest buffered line when the
// backlog is full.
func (c *Console) push(line string) {
	for {
		select {
		case c.lines <- line:
			return
		default:
			select {
			case dropped := <-c.lines:
				slog.Debug("dropping unclaimed input line", "line", dropped)
			default:
			}
		}
	}
}

// ReadLine prints the prompt (without a trailing newline) and blocks until
// a complete line, end of input, or ctx cancellation. Lines are delivered
// to exactly one caller; the session serializes its prompts so only one
// ReadLine is active at a time.
func (c *Console) ReadLine(ctx context.Context, prompt string) (string, error) {
	if prompt != "" {
		c.write(prompt)
	}
	select {
	case line, ok := <-c.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Println writes one line to the display.
func (c *Console) Println(msg string) {
	c.write(msg + "\n")
}

// Printf formats and writes to the display without an implied newline.
func (c *Console) Printf(format string, args ...any) {
	c.write(fmt.Sprintf(format, args...))
}

// write is the single serialized output path. The write loop retries with
// the remainder until the full message is flushed, so a short write to a
// backpressured pipe never truncates or interleaves output.
func (c *Console) write(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := []byte(msg)
	for len(b) > 0 {
		n, err := c.out.Write(b)
		if err != nil {
			slog.Warn("display write failed", "error", err)
			return
		}
		b = b[n:]
	}
}

// Width returns the display width in columns, falling back to 80 when the
// display is not a terminal.
func (c *Console) Width() int {
	if f, ok := c.out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			return w
		}
	}
	return fallbackWidth
}

func trimCR(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == '\r' {
		return b[:len(b)-1]
	}
	return b
}
