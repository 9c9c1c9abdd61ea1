package chat

import (
	"context"
	"fmt"
	"net/http"
)

// FrameType distinguishes text frames from binary ones.
type FrameType int

const (
	FrameText FrameType = iota
	FrameBinary
)

// Dialer opens transport connections. The Client calls it at most once per
// connection attempt.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// Conn is an established full-duplex transport.
//
// Read blocks until a frame arrives, the connection fails, or ctx is done.
// Write sends one text frame and must be safe to call concurrently with Read.
// Close sends a normal closure and releases the connection.
type Conn interface {
	Read(ctx context.Context) (FrameType, []byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, url string, header http.Header) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	return f(ctx, url, header)
}

// TransportNames lists the values accepted by DialerByName.
var TransportNames = []string{"coder", "gorilla"}

// DialerByName returns the transport registered under name. An empty name
// selects the default.
func DialerByName(name string) (Dialer, error) {
	switch name {
	case "", "coder":
		return &CoderDialer{}, nil
	case "gorilla":
		return &GorillaDialer{}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q, expected one of %v", name, TransportNames)
	}
}
