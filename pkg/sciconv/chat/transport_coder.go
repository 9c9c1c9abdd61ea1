package chat

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
)

// CoderDialer dials with github.com/coder/websocket. It is the default
// transport.
type CoderDialer struct {
	// HTTPClient is used for the handshake; nil means http.DefaultClient.
	HTTPClient *http.Client

	// ReadLimit caps the size of a single inbound message; zero keeps the
	// library default.
	ReadLimit int64
}

func (d *CoderDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	opts := &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: header,
	}

	conn, resp, err := websocket.Dial(ctx, url, opts)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake returned %s: %w", resp.Status, err)
		}
		return nil, err
	}

	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}

	return &coderConn{conn: conn}, nil
}

type coderConn struct {
	conn *websocket.Conn
}

func (c *coderConn) Read(ctx context.Context) (FrameType, []byte, error) {
	typ, data, err := c.conn.Read(ctx)
	if err != nil {
		return FrameText, nil, err
	}
	if typ == websocket.MessageBinary {
		return FrameBinary, data, nil
	}
	return FrameText, data, nil
}

func (c *coderConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *coderConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "client disconnect")
}
