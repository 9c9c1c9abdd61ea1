package chat

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// GorillaDialer dials with github.com/gorilla/websocket.
type GorillaDialer struct {
	// Dialer is used for the handshake; nil means websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// ReadLimit caps the size of a single inbound message; zero means no limit.
	ReadLimit int64
}

func (d *GorillaDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake returned %s: %w", resp.Status, err)
		}
		return nil, err
	}

	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}

	return &gorillaConn{conn: conn}, nil
}

// gorillaConn serialises writers; gorilla allows one concurrent reader and
// one concurrent writer.
type gorillaConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *gorillaConn) Read(ctx context.Context) (FrameType, []byte, error) {
	stop := context.AfterFunc(ctx, func() {
		c.conn.Close()
	})
	defer stop()

	typ, data, err := c.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return FrameText, nil, ctx.Err()
		}
		return FrameText, nil, err
	}
	if typ == websocket.BinaryMessage {
		return FrameBinary, data, nil
	}
	return FrameText, data, nil
}

func (c *gorillaConn) Write(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *gorillaConn) Close() error {
	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.writeMu.Unlock()

	return c.conn.Close()
}
