package console

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestReadLineDeliversLines(t *testing.T) {
	var out bytes.Buffer
	c := New(strings.NewReader("first\nsecond\n"), &out)

	for _, want := range []string{"first", "second"} {
		got, err := c.ReadLine(testCtx(t), "> ")
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	}
	if _, err := c.ReadLine(testCtx(t), ""); err != io.EOF {
		t.Errorf("expected EOF after input drained, got %v", err)
	}
	if !strings.Contains(out.String(), "> ") {
		t.Error("prompt was not written to the display")
	}
}

func TestReadLineStripsCR(t *testing.T) {
	c := New(strings.NewReader("value\r\n"), io.Discard)
	got, err := c.ReadLine(testCtx(t), "")
	if err != nil {
		t.Fatal(err)
	}
	if got != "value" {
		t.Errorf("expected %q, got %q", "value", got)
	}
}

// chunkReader yields its chunks one Read call at a time, simulating
// keyboard input arriving in arbitrary pieces.
type chunkReader struct {
	chunks []string
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if r.chunks[0] == "" {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func TestCarryOverAcrossChunks(t *testing.T) {
	r := &chunkReader{chunks: []string{"hel", "lo\nwor", "ld\n"}}
	c := New(r, io.Discard)

	for _, want := range []string{"hello", "world"} {
		got, err := c.ReadLine(testCtx(t), "")
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	}
}

func TestEarlyInputIsBuffered(t *testing.T) {
	// All lines arrive before the first prompt opens.
	c := New(strings.NewReader("1\n2\n3\n"), io.Discard)
	time.Sleep(20 * time.Millisecond)

	for _, want := range []string{"1", "2", "3"} {
		got, err := c.ReadLine(testCtx(t), "")
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	}
}

func TestBacklogDropsOldest(t *testing.T) {
	var input strings.Builder
	for i := 0; i < lineBacklog+4; i++ {
		fmt.Fprintf(&input, "line-%d\n", i)
	}
	c := New(strings.NewReader(input.String()), io.Discard)

	// Wait for the reader to drain its input so the backlog is settled.
	deadline := time.Now().Add(time.Second)
	for len(c.lines) < lineBacklog && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)

	got, err := c.ReadLine(testCtx(t), "")
	if err != nil {
		t.Fatal(err)
	}
	if got != "line-4" {
		t.Errorf("expected oldest lines dropped, first delivered %q", got)
	}
}

func TestReadLineHonorsContext(t *testing.T) {
	c := New(&blockedReader{}, io.Discard)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.ReadLine(ctx, ""); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// blockedReader never returns, like a keyboard nobody types on.
type blockedReader struct{}

func (*blockedReader) Read([]byte) (int, error) {
	select {}
}

// shortWriter accepts at most 3 bytes per call.
type shortWriter struct {
	buf bytes.Buffer
}

func (w *shortWriter) Write(p []byte) (int, error) {
	if len(p) > 3 {
		p = p[:3]
	}
	return w.buf.Write(p)
}

func TestWriteRetriesShortWrites(t *testing.T) {
	w := &shortWriter{}
	c := New(strings.NewReader(""), w)
	c.Println("a fairly long message that needs several short writes")
	if w.buf.String() != "a fairly long message that needs several short writes\n" {
		t.Errorf("short writes lost data: %q", w.buf.String())
	}
}

func TestConcurrentWritersDoNotInterleave(t *testing.T) {
	var out bytes.Buffer
	c := New(strings.NewReader(""), &out)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.Println(strings.Repeat(string(rune('a'+i)), 40))
			}
		}(i)
	}
	wg.Wait()

	for _, line := range strings.Split(strings.TrimRight(out.String(), "\n"), "\n") {
		if len(line) != 40 || strings.Count(line, line[:1]) != 40 {
			t.Fatalf("interleaved output line: %q", line)
		}
	}
}

func TestWidthFallback(t *testing.T) {
	c := New(strings.NewReader(""), io.Discard)
	if w := c.Width(); w != fallbackWidth {
		t.Errorf("expected fallback width %d, got %d", fallbackWidth, w)
	}
}
