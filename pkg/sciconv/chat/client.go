package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tsarna/sciconv/pkg/sciconv/o11y"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Client maintains one logical connection to the chat endpoint. All methods
// are safe for concurrent use.
type Client struct {
	// Configuration
	url         string
	clientID    string
	logger      *zap.Logger
	dialTimeout time.Duration
	dialer      Dialer
	headers     http.Header
	backoff     Backoff
	metrics     *ClientMetrics
	tracing     o11y.TracingProvider
	now         func() time.Time

	// Lifetime
	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup

	// Connection state, guarded by mu
	mu         sync.Mutex
	state      State
	conn       Conn
	connCancel context.CancelFunc
	generation uint64
	reconnect  ReconnectState
	closed     bool

	connecting singleflight.Group

	messageListeners    listenerSet[MessageListener]
	connectionListeners listenerSet[ConnectionListener]
	dispatcher          *dispatcher
}

const connectKey = "connect"

// Connect opens the connection. It returns immediately when already open and
// joins the in-flight attempt when one is running, so concurrent callers never
// cause more than one dial. ctx bounds only the caller's wait; the attempt
// itself is bounded by the dial timeout and the client's lifetime.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.state == StateOpen {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	result := c.connecting.DoChan(connectKey, func() (any, error) {
		return nil, c.dial()
	})

	select {
	case res := <-result:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dial runs one connection attempt. Only one dial runs at a time.
func (c *Client) dial() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.state == StateOpen {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	generation := c.generation
	c.workers.Add(1)
	c.mu.Unlock()
	defer c.workers.Done()

	ctx, span := o11y.StartSpan(c.ctx, c.tracing, "chat.connect")
	span.SetAttributes(o11y.Label{Key: "url", Value: c.url})
	recordConnect := c.metrics.RecordConnect(ctx)

	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	c.logger.Debug("Connecting to chat endpoint", zap.String("url", c.url))

	conn, err := c.dialer.Dial(dialCtx, c.url, c.headers.Clone())
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		recordConnect(err)
		o11y.EndSpan(span, err)
		c.failAttempt(generation, err)
		return err
	}

	c.mu.Lock()
	if c.closed || generation != c.generation {
		c.mu.Unlock()

		// Disconnect ran while dialing; the new transport is stale.
		conn.Close()
		err = fmt.Errorf("%w: %w", ErrConnectionFailed, ErrDisconnected)
		recordConnect(err)
		o11y.EndSpan(span, err)
		c.logger.Debug("Discarding connection opened after disconnect", zap.String("url", c.url))
		return err
	}

	readCtx, readCancel := context.WithCancel(c.ctx)
	c.state = StateOpen
	c.conn = conn
	c.connCancel = readCancel
	c.reconnect = ReconnectState{Delay: c.backoff.Delay(0)}
	recordConnect(nil)
	c.notifyLocked(true, StateOpen, nil)

	c.workers.Add(1)
	go c.readLoop(readCtx, generation, conn)
	c.mu.Unlock()

	o11y.EndSpan(span, nil)
	c.logger.Info("Chat client connected", zap.String("url", c.url))

	return nil
}

// failAttempt records a failed dial unless Disconnect already superseded it.
func (c *Client) failAttempt(generation uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation || c.state != StateConnecting {
		return
	}

	c.state = StateFailed
	c.reconnect.Attempts++
	c.reconnect.Delay = c.backoff.After(c.reconnect.Attempts)
	c.notifyLocked(false, StateFailed, err)

	c.logger.Warn("Failed to connect to chat endpoint",
		zap.String("url", c.url),
		zap.Int("consecutive_failures", c.reconnect.Attempts),
		zap.Error(err))
}

// Disconnect closes the connection if there is one. Registered listeners are
// kept. Calling it with no connection is a no-op.
func (c *Client) Disconnect() {
	c.mu.Lock()
	previous := c.state
	conn := c.conn
	cancel := c.connCancel

	if conn == nil && previous != StateConnecting {
		c.mu.Unlock()
		return
	}

	if previous == StateConnecting {
		// The pending dial is now stale; later Connect calls must not join it.
		c.connecting.Forget(connectKey)
	}

	c.generation++
	c.state = StateClosed
	c.conn = nil
	c.connCancel = nil
	c.metrics.RecordClosed(c.ctx, false)
	c.notifyLocked(false, StateClosed, nil)
	c.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			c.logger.Debug("Error closing chat connection", zap.Error(err))
		}
	}
	if cancel != nil {
		cancel()
	}

	c.logger.Info("Chat client disconnected", zap.Stringer("previous_state", previous))
}

// Send writes one message envelope carrying the trimmed text. If the client is
// not open it connects first and fails with ErrConnectionFailed when that does
// not succeed. The write itself is never retried.
func (c *Client) Send(ctx context.Context, text string) error {
	content := strings.TrimSpace(text)
	if content == "" {
		return fmt.Errorf("%w: message content is empty", ErrInvalidArgument)
	}

	conn, err := c.openConn(ctx)
	if err != nil {
		c.metrics.RecordSendError(ctx, "connect")
		return err
	}

	data, err := json.Marshal(NewOutboundEnvelope(content, c.now()))
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := conn.Write(ctx, data); err != nil {
		c.metrics.RecordSendError(ctx, "write")
		c.logger.Warn("Failed to write chat message", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	c.metrics.RecordSent(ctx, len(data))

	return nil
}

func (c *Client) openConn(ctx context.Context) (Conn, error) {
	if conn := c.currentConn(); conn != nil {
		return conn, nil
	}

	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	if conn := c.currentConn(); conn != nil {
		return conn, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, ErrDisconnected)
}

func (c *Client) currentConn() Conn {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpen {
		return nil
	}
	return c.conn
}

// readLoop reads frames until the transport fails or the connection is
// superseded.
func (c *Client) readLoop(ctx context.Context, generation uint64, conn Conn) {
	defer c.workers.Done()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			c.handleReadError(generation, conn, err)
			return
		}

		if typ != FrameText {
			c.logger.Warn("Dropping binary chat frame", zap.Int("size", len(data)))
			c.metrics.RecordMalformed(ctx)
			continue
		}

		msg, err := DecodeInbound(data)
		if err != nil {
			c.logger.Warn("Dropping malformed chat message", zap.Int("size", len(data)), zap.Error(err))
			c.metrics.RecordMalformed(ctx)
			continue
		}

		c.metrics.RecordReceived(ctx, len(data))

		c.mu.Lock()
		if generation == c.generation {
			c.dispatcher.enqueue(event{message: &msg})
		}
		c.mu.Unlock()
	}
}

// handleReadError turns a read failure on the current connection into a
// remote close. Failures on superseded connections are expected and ignored.
func (c *Client) handleReadError(generation uint64, conn Conn, err error) {
	c.mu.Lock()
	if generation != c.generation || c.state != StateOpen {
		c.mu.Unlock()
		return
	}

	c.generation++
	c.state = StateClosed
	c.conn = nil
	cancel := c.connCancel
	c.connCancel = nil
	c.metrics.RecordClosed(c.ctx, true)
	c.notifyLocked(false, StateClosed, err)
	c.mu.Unlock()

	conn.Close()
	if cancel != nil {
		cancel()
	}

	c.logger.Warn("Chat connection closed", zap.String("url", c.url), zap.Error(err))
}

// notifyLocked queues a connection event. c.mu must be held so events are
// queued in transition order.
func (c *Client) notifyLocked(connected bool, state State, err error) {
	c.dispatcher.enqueue(event{connection: &ConnectionEvent{
		Connected: connected,
		State:     state,
		Err:       err,
		Time:      c.now(),
	}})
}

// Listener registration

// OnMessage registers l. Registering the same listener again has no effect.
func (c *Client) OnMessage(l MessageListener) {
	if !comparableListener(l) {
		c.logger.Error("Ignoring message listener that cannot be compared", zap.String("type", fmt.Sprintf("%T", l)))
		return
	}
	c.messageListeners.add(l)
}

// OffMessage deregisters l. Removing an unknown listener is a no-op.
func (c *Client) OffMessage(l MessageListener) {
	if comparableListener(l) {
		c.messageListeners.remove(l)
	}
}

// OnConnectionChange registers l. Registering the same listener again has no
// effect.
func (c *Client) OnConnectionChange(l ConnectionListener) {
	if !comparableListener(l) {
		c.logger.Error("Ignoring connection listener that cannot be compared", zap.String("type", fmt.Sprintf("%T", l)))
		return
	}
	c.connectionListeners.add(l)
}

// OffConnectionChange deregisters l. Removing an unknown listener is a no-op.
func (c *Client) OffConnectionChange(l ConnectionListener) {
	if comparableListener(l) {
		c.connectionListeners.remove(l)
	}
}

// deliver runs on the dispatcher goroutine. Listeners removed after the
// snapshot was taken are skipped.
func (c *Client) deliver(ev event) {
	switch {
	case ev.message != nil:
		for _, l := range c.messageListeners.snapshot() {
			if !c.messageListeners.contains(l) {
				continue
			}
			c.invoke("message", func() error {
				return l.OnMessage(c.ctx, *ev.message)
			})
		}

	case ev.connection != nil:
		for _, l := range c.connectionListeners.snapshot() {
			if !c.connectionListeners.contains(l) {
				continue
			}
			c.invoke("connection", func() error {
				return l.OnConnectionChange(c.ctx, *ev.connection)
			})
		}
	}
}

// invoke calls one listener, containing its errors and panics.
func (c *Client) invoke(kind string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			c.metrics.RecordListenerFault(c.ctx, kind)
			c.logger.Error("Listener panicked",
				zap.String("kind", kind),
				zap.Any("panic", r),
				zap.Error(ErrListenerFault))
		}
	}()

	if err := fn(); err != nil {
		c.metrics.RecordListenerFault(c.ctx, kind)
		c.logger.Warn("Listener returned an error",
			zap.String("kind", kind),
			zap.Error(fmt.Errorf("%w: %w", ErrListenerFault, err)))
	}
}

// Close disconnects, delivers the notifications already queued and stops the
// dispatcher. The client cannot be used afterwards. Close must not be called
// from a listener.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.Disconnect()
	c.cancel()
	c.workers.Wait()
	c.dispatcher.close()

	return nil
}

// State queries

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the state is StateOpen.
func (c *Client) IsConnected() bool {
	return c.State() == StateOpen
}

// ReconnectState returns the consecutive failure count since the last open
// and the delay the backoff schedule suggests before the next attempt.
func (c *Client) ReconnectState() ReconnectState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnect
}

// Backoff returns the schedule the client uses for ReconnectState.
func (c *Client) Backoff() Backoff {
	return c.backoff
}

// ClientID returns the id sent in the X-Client-Id handshake header.
func (c *Client) ClientID() string {
	return c.clientID
}

// URL returns the endpoint the client connects to.
func (c *Client) URL() string {
	return c.url
}

// ListenerCounts returns how many message and connection listeners are
// registered.
func (c *Client) ListenerCounts() (messages, connections int) {
	return c.messageListeners.size(), c.connectionListeners.size()
}
