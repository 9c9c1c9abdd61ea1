package chat

import (
	"context"
	"time"

	"github.com/tsarna/sciconv/pkg/sciconv/o11y"
)

// ClientMetrics holds the instruments recorded by a Client and a Reconnector.
// A nil *ClientMetrics records nothing.
type ClientMetrics struct {
	// Connection metrics
	connectAttempts   o11y.Counter   // Dials started
	connectFailures   o11y.Counter   // Dials that did not open
	connectDuration   o11y.Histogram // Time from dial start to open or failure
	openConnections   o11y.Gauge     // 1 while open, 0 otherwise
	remoteCloses      o11y.Counter   // Open connections closed by the peer or the network
	reconnectAttempts o11y.Counter   // Attempts made by a Reconnector
	reconnectGiveUps  o11y.Counter   // Reconnector runs that exhausted their attempts

	// Message metrics
	messagesSent      o11y.Counter   // Envelopes written
	sendErrors        o11y.Counter   // Writes that failed, by reason
	messagesReceived  o11y.Counter   // Envelopes parsed and dispatched
	messagesMalformed o11y.Counter   // Payloads dropped as unparseable
	messageSize       o11y.Histogram // Payload size in bytes, by direction

	// Listener metrics
	listenerFaults o11y.Counter // Listener errors and panics, by kind
}

// NewClientMetrics creates the instruments on provider. A nil provider yields
// a nil *ClientMetrics.
func NewClientMetrics(provider o11y.MetricsProvider) *ClientMetrics {
	if provider == nil {
		return nil
	}

	return &ClientMetrics{
		connectAttempts:   provider.Counter("chat_connect_attempts_total"),
		connectFailures:   provider.Counter("chat_connect_failures_total"),
		connectDuration:   provider.Histogram("chat_connect_duration_seconds"),
		openConnections:   provider.Gauge("chat_open_connections"),
		remoteCloses:      provider.Counter("chat_remote_closes_total"),
		reconnectAttempts: provider.Counter("chat_reconnect_attempts_total"),
		reconnectGiveUps:  provider.Counter("chat_reconnect_giveups_total"),

		messagesSent:      provider.Counter("chat_messages_sent_total"),
		sendErrors:        provider.Counter("chat_send_errors_total"),
		messagesReceived:  provider.Counter("chat_messages_received_total"),
		messagesMalformed: provider.Counter("chat_messages_malformed_total"),
		messageSize:       provider.Histogram("chat_message_size_bytes"),

		listenerFaults: provider.Counter("chat_listener_faults_total"),
	}
}

// RecordConnect records the start of a dial and returns a function that
// records its outcome.
func (m *ClientMetrics) RecordConnect(ctx context.Context) func(error) {
	if m == nil {
		return func(error) {}
	}

	start := time.Now()
	m.connectAttempts.Add(ctx, 1)

	return func(err error) {
		m.connectDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			m.connectFailures.Add(ctx, 1)
			return
		}
		m.openConnections.Set(ctx, 1)
	}
}

// RecordClosed records that the connection is no longer open.
func (m *ClientMetrics) RecordClosed(ctx context.Context, remote bool) {
	if m == nil {
		return
	}
	m.openConnections.Set(ctx, 0)
	if remote {
		m.remoteCloses.Add(ctx, 1)
	}
}

func (m *ClientMetrics) RecordSent(ctx context.Context, sizeBytes int) {
	if m == nil {
		return
	}
	m.messagesSent.Add(ctx, 1)
	m.messageSize.Record(ctx, float64(sizeBytes), o11y.Label{Key: "direction", Value: "sent"})
}

func (m *ClientMetrics) RecordSendError(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.sendErrors.Add(ctx, 1, o11y.Label{Key: "reason", Value: reason})
}

func (m *ClientMetrics) RecordReceived(ctx context.Context, sizeBytes int) {
	if m == nil {
		return
	}
	m.messagesReceived.Add(ctx, 1)
	m.messageSize.Record(ctx, float64(sizeBytes), o11y.Label{Key: "direction", Value: "received"})
}

func (m *ClientMetrics) RecordMalformed(ctx context.Context) {
	if m == nil {
		return
	}
	m.messagesMalformed.Add(ctx, 1)
}

func (m *ClientMetrics) RecordListenerFault(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.listenerFaults.Add(ctx, 1, o11y.Label{Key: "kind", Value: kind})
}

func (m *ClientMetrics) RecordReconnectAttempt(ctx context.Context) {
	if m == nil {
		return
	}
	m.reconnectAttempts.Add(ctx, 1)
}

func (m *ClientMetrics) RecordReconnectGiveUp(ctx context.Context) {
	if m == nil {
		return
	}
	m.reconnectGiveUps.Add(ctx, 1)
}
