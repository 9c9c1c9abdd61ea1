package chat

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errFakeClosed = errors.New("fake connection closed")

type fakeFrame struct {
	typ  FrameType
	data []byte
	err  error
}

// fakeConn is an in-memory transport. Frames pushed with deliver are returned
// by Read in order; remoteClose makes Read fail as if the peer went away.
type fakeConn struct {
	inbound   chan fakeFrame
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	written  [][]byte
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan fakeFrame, 64),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) (FrameType, []byte, error) {
	select {
	case f := <-c.inbound:
		return f.typ, f.data, f.err
	case <-c.closed:
		return FrameText, nil, errFakeClosed
	case <-ctx.Done():
		return FrameText, nil, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) deliver(text string) {
	c.inbound <- fakeFrame{typ: FrameText, data: []byte(text)}
}

func (c *fakeConn) deliverBinary(data []byte) {
	c.inbound <- fakeFrame{typ: FrameBinary, data: data}
}

func (c *fakeConn) remoteClose(err error) {
	c.inbound <- fakeFrame{err: err}
}

func (c *fakeConn) setWriteErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

func (c *fakeConn) writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, len(c.written))
	for i, w := range c.written {
		out[i] = string(w)
	}
	return out
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeDialer hands out fakeConns. The first failures dials fail with failErr
// (or every dial, when failures is negative). While gate is non-nil, dials
// block until it is closed or their context ends.
type fakeDialer struct {
	mu       sync.Mutex
	dials    int
	failures int
	failErr  error
	gate     chan struct{}
	conns    []*fakeConn
	headers  []http.Header
}

func (d *fakeDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	d.mu.Lock()
	d.dials++
	d.headers = append(d.headers, header)
	gate := d.gate
	fail := d.failures != 0
	if d.failures > 0 {
		d.failures--
	}
	failErr := d.failErr
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if fail {
		if failErr == nil {
			failErr = errors.New("connection refused")
		}
		return nil, failErr
	}

	conn := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()

	return conn, nil
}

func (d *fakeDialer) failNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = n
}

func (d *fakeDialer) hold() chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gate = make(chan struct{})
	return d.gate
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// recorder is a message and connection listener that remembers what it saw.
type recorder struct {
	mu          sync.Mutex
	messages    []InboundEnvelope
	connections []ConnectionEvent
}

func (r *recorder) OnMessage(ctx context.Context, msg InboundEnvelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

func (r *recorder) OnConnectionChange(ctx context.Context, ev ConnectionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections = append(r.connections, ev)
	return nil
}

func (r *recorder) Messages() []InboundEnvelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]InboundEnvelope(nil), r.messages...)
}

func (r *recorder) Connections() []ConnectionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ConnectionEvent(nil), r.connections...)
}

func (r *recorder) connectedFlags() []bool {
	events := r.Connections()
	flags := make([]bool, len(events))
	for i, ev := range events {
		flags[i] = ev.Connected
	}
	return flags
}

const (
	testURL    = "ws://chat.test/api/chat/ws"
	waitFor    = 2 * time.Second
	pollEvery  = 5 * time.Millisecond
	fixedStamp = "2024-01-01T00:00:00.000Z"
)

var fixedTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// newTestClient builds a client on dialer and closes it when the test ends.
func newTestClient(t *testing.T, dialer Dialer, configure ...func(*ClientBuilder)) *Client {
	t.Helper()

	builder := NewClient().
		WithURL(testURL).
		WithLogger(zaptest.NewLogger(t)).
		WithTransport(dialer).
		WithBackoff(Backoff{Initial: time.Millisecond, Max: 4 * time.Millisecond, Factor: 2, MaxAttempts: 5})
	for _, fn := range configure {
		fn(builder)
	}

	client, err := builder.Build()
	require.NoError(t, err)
	client.now = func() time.Time { return fixedTime }

	t.Cleanup(func() { client.Close() })

	return client
}
