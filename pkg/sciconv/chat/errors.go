package chat

import "errors"

var (
	// ErrConnectionFailed is returned by Connect and Send when the transport
	// could not be opened.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrInvalidArgument is returned by Send for content that is empty after
	// trimming whitespace. No network activity happens in that case.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrMalformedMessage marks an inbound payload that could not be decoded.
	// Such payloads are dropped and never reach listeners.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrListenerFault marks an error or panic raised by a listener.
	ErrListenerFault = errors.New("listener fault")

	// ErrDisconnected is wrapped into ErrConnectionFailed when Disconnect ran
	// while the attempt was in flight.
	ErrDisconnected = errors.New("disconnected during connect")

	// ErrSendFailed wraps transport write errors.
	ErrSendFailed = errors.New("send failed")

	// ErrClientClosed is returned once Close has been called.
	ErrClientClosed = errors.New("client is closed")

	// ErrRetriesExhausted is the terminal failure reported by a Reconnector
	// after its last permitted attempt fails.
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")

	// ErrReconnectInProgress is returned by Reconnector.Reconnect while another
	// run is active.
	ErrReconnectInProgress = errors.New("reconnect already in progress")
)
