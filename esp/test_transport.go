package esp

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"
)

// TestTransport is a test helper that simulates a module behind a
// non-blocking transport. Every Read hands out at most one queued chunk and
// returns (0, nil) when nothing is queued, like a serial port whose read
// timeout expired. Replies registered with Reply are queued when the exact
// command is written, so a test can script a whole conversation.
type TestTransport struct {
	mu       sync.Mutex
	chunks   [][]byte
	replies  map[string][][]string
	written  bytes.Buffer
	writeErr error
	closed   bool
}

// NewTestTransport creates a new test transport for testing.
// Exported for use in tests.
func NewTestTransport() *TestTransport {
	return &TestTransport{
		replies: make(map[string][][]string),
	}
}

// Dial makes TestTransport its own Dialer.
func (t *TestTransport) Dial(ctx context.Context) (Transport, error) {
	return t, nil
}

func (t *TestTransport) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, io.ErrClosedPipe
	}
	if t.writeErr != nil {
		return 0, t.writeErr
	}
	t.written.Write(p)

	key := string(p)
	if queue := t.replies[key]; len(queue) > 0 {
		for _, chunk := range queue[0] {
			t.chunks = append(t.chunks, []byte(chunk))
		}
		t.replies[key] = queue[1:]
	}
	return len(p), nil
}

func (t *TestTransport) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, io.EOF
	}
	if len(t.chunks) == 0 {
		return 0, nil
	}
	n = copy(p, t.chunks[0])
	if n < len(t.chunks[0]) {
		t.chunks[0] = t.chunks[0][n:]
	} else {
		t.chunks = t.chunks[1:]
	}
	return n, nil
}

func (t *TestTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Reply queues the chunks to be read after cmd is written. Each call
// answers one write of cmd; chunks arrive in separate reads.
func (t *TestTransport) Reply(cmd string, chunks ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replies[cmd] = append(t.replies[cmd], chunks)
}

// SendData queues data to be read by the transport.
// This simulates receiving data from the module.
func (t *TestTransport) SendData(chunks ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, chunk := range chunks {
		t.chunks = append(t.chunks, []byte(chunk))
	}
}

// FailWrites makes every following Write fail with err before accepting
// any byte.
func (t *TestTransport) FailWrites(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeErr = err
}

// Written returns everything written so far.
func (t *TestTransport) Written() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.written.String()
}

// StepClock is a Clock that advances by Step every time it is read, so
// deadlines expire after a predictable number of polls.
type StepClock struct {
	mu   sync.Mutex
	now  time.Duration
	Step time.Duration
}

func (c *StepClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now += c.Step
	return now
}
