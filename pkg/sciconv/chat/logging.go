package chat

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggingListener logs every message and connection change it sees and then
// forwards to the wrapped listeners, if any. Either wrapped listener may be
// nil.
type LoggingListener struct {
	messages    MessageListener
	connections ConnectionListener
	logger      *zap.Logger
	logLevel    zapcore.Level
	name        string
}

// NewLoggingListener creates a standalone logging listener.
func NewLoggingListener(logger *zap.Logger, logLevel zapcore.Level) *LoggingListener {
	return NewNamedLoggingListener(nil, nil, logger, logLevel, "LoggingListener")
}

// NewNamedLoggingListener creates a logging listener that wraps messages and
// connections and identifies itself as name.
func NewNamedLoggingListener(messages MessageListener, connections ConnectionListener, logger *zap.Logger, logLevel zapcore.Level, name string) *LoggingListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingListener{
		messages:    messages,
		connections: connections,
		logger:      logger,
		logLevel:    logLevel,
		name:        name,
	}
}

// OnMessage implements MessageListener.
func (l *LoggingListener) OnMessage(ctx context.Context, msg InboundEnvelope) error {
	l.logger.Log(l.logLevel, "Chat message received",
		zap.String("listener", l.name),
		zap.String("content", msg.Content),
		zap.String("timestamp", msg.Timestamp),
		zap.Int("fieldCount", len(msg.Raw)),
	)

	if l.messages != nil {
		return l.messages.OnMessage(ctx, msg)
	}
	return nil
}

// OnConnectionChange implements ConnectionListener.
func (l *LoggingListener) OnConnectionChange(ctx context.Context, ev ConnectionEvent) error {
	fields := []zap.Field{
		zap.String("listener", l.name),
		zap.Bool("connected", ev.Connected),
		zap.Stringer("state", ev.State),
	}
	if ev.Err != nil {
		fields = append(fields, zap.Error(ev.Err))
	}
	l.logger.Log(l.logLevel, "Chat connection changed", fields...)

	if l.connections != nil {
		return l.connections.OnConnectionChange(ctx, ev)
	}
	return nil
}
