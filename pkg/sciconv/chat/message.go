package chat

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageTypeChat is the "type" of every envelope the client sends.
const MessageTypeChat = "message"

// TimestampLayout renders UTC timestamps with millisecond precision, e.g.
// 2024-01-01T00:00:00.000Z.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// OutboundEnvelope is the JSON document written for each Send.
type OutboundEnvelope struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// NewOutboundEnvelope stamps content with now.
func NewOutboundEnvelope(content string, now time.Time) OutboundEnvelope {
	return OutboundEnvelope{
		Type:      MessageTypeChat,
		Content:   content,
		Timestamp: now.UTC().Format(TimestampLayout),
	}
}

// InboundEnvelope is a message received from the server. Only Content is
// required; Raw holds the whole decoded object, server-defined extras included.
type InboundEnvelope struct {
	Content   string
	Timestamp string
	Raw       map[string]any
}

// Time parses Timestamp as RFC 3339. It reports false when the server did not
// send a timestamp or sent one that does not parse.
func (e InboundEnvelope) Time() (time.Time, bool) {
	if e.Timestamp == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, e.Timestamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// DecodeInbound parses a text payload. The payload must be a JSON object with
// a string "content" field and, if present, a string "timestamp" field.
// Anything else is reported as ErrMalformedMessage.
func DecodeInbound(data []byte) (InboundEnvelope, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return InboundEnvelope{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if raw == nil {
		return InboundEnvelope{}, fmt.Errorf("%w: payload is not an object", ErrMalformedMessage)
	}

	content, ok := raw["content"].(string)
	if !ok {
		return InboundEnvelope{}, fmt.Errorf("%w: missing string field \"content\"", ErrMalformedMessage)
	}

	envelope := InboundEnvelope{Content: content, Raw: raw}

	if ts, present := raw["timestamp"]; present && ts != nil {
		s, ok := ts.(string)
		if !ok {
			return InboundEnvelope{}, fmt.Errorf("%w: field \"timestamp\" is %T, not a string", ErrMalformedMessage, ts)
		}
		envelope.Timestamp = s
	}

	return envelope, nil
}
