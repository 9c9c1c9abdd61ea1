package chat

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/tsarna/sciconv/pkg/sciconv/o11y"
	"go.uber.org/zap"
)

// ClientIDHeader carries the client id on the WebSocket handshake.
const ClientIDHeader = "X-Client-Id"

// DefaultDialTimeout bounds a single connection attempt.
const DefaultDialTimeout = 30 * time.Second

// ClientBuilder provides a fluent interface for building chat clients.
type ClientBuilder struct {
	url         string
	logger      *zap.Logger
	dialTimeout time.Duration
	dialer      Dialer
	headers     http.Header
	clientID    string
	backoff     Backoff
	metrics     o11y.MetricsProvider
	tracing     o11y.TracingProvider
}

// NewClient creates a new chat client builder.
func NewClient() *ClientBuilder {
	return &ClientBuilder{
		dialTimeout: DefaultDialTimeout,
		logger:      zap.NewNop(),
		backoff:     DefaultBackoff(),
	}
}

// WithURL sets the ws:// or wss:// endpoint to connect to.
func (b *ClientBuilder) WithURL(url string) *ClientBuilder {
	b.url = url
	return b
}

// WithLogger sets the logger for the client.
func (b *ClientBuilder) WithLogger(logger *zap.Logger) *ClientBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithDialTimeout sets the timeout for establishing the connection.
func (b *ClientBuilder) WithDialTimeout(timeout time.Duration) *ClientBuilder {
	if timeout > 0 {
		b.dialTimeout = timeout
	}
	return b
}

// WithTransport sets the dialer used to open connections. The default is
// CoderDialer.
func (b *ClientBuilder) WithTransport(dialer Dialer) *ClientBuilder {
	b.dialer = dialer
	return b
}

// WithHeaders adds HTTP headers sent with every handshake.
func (b *ClientBuilder) WithHeaders(headers map[string][]string) *ClientBuilder {
	if b.headers == nil {
		b.headers = make(http.Header)
	}
	for key, values := range headers {
		b.headers[http.CanonicalHeaderKey(key)] = values
	}
	return b
}

// WithHeader sets a single handshake header.
func (b *ClientBuilder) WithHeader(key, value string) *ClientBuilder {
	if b.headers == nil {
		b.headers = make(http.Header)
	}
	b.headers.Set(key, value)
	return b
}

// WithClientID sets the id sent in the X-Client-Id header. A random UUID is
// used when unset.
func (b *ClientBuilder) WithClientID(id string) *ClientBuilder {
	b.clientID = id
	return b
}

// WithBackoff sets the schedule used to compute ReconnectState.Delay.
func (b *ClientBuilder) WithBackoff(backoff Backoff) *ClientBuilder {
	b.backoff = backoff
	return b
}

// WithMetrics sets the metrics provider.
func (b *ClientBuilder) WithMetrics(provider o11y.MetricsProvider) *ClientBuilder {
	b.metrics = provider
	return b
}

// WithTracing sets the tracing provider. Each connection attempt is a span.
func (b *ClientBuilder) WithTracing(provider o11y.TracingProvider) *ClientBuilder {
	b.tracing = provider
	return b
}

// IsValid checks that all required configuration is present.
func (b *ClientBuilder) IsValid() error {
	if b.url == "" {
		return fmt.Errorf("URL is required")
	}

	u, err := url.Parse(b.url)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("URL scheme must be ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL %q has no host", b.url)
	}

	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	if b.dialTimeout <= 0 {
		b.dialTimeout = DefaultDialTimeout
	}

	return nil
}

// Build creates the client. The returned client starts its dispatcher
// immediately; call Close to release it.
func (b *ClientBuilder) Build() (*Client, error) {
	if err := b.IsValid(); err != nil {
		return nil, err
	}

	dialer := b.dialer
	if dialer == nil {
		dialer = &CoderDialer{}
	}

	clientID := b.clientID
	if clientID == "" {
		clientID = uuid.NewString()
	}

	headers := make(http.Header, len(b.headers)+1)
	for key, values := range b.headers {
		headers[key] = append([]string(nil), values...)
	}
	headers.Set(ClientIDHeader, clientID)

	backoff := b.backoff.normalized()

	ctx, cancel := context.WithCancel(context.Background())

	client := &Client{
		url:         b.url,
		logger:      b.logger.With(zap.String("client_id", clientID)),
		dialTimeout: b.dialTimeout,
		dialer:      dialer,
		headers:     headers,
		clientID:    clientID,
		backoff:     backoff,
		metrics:     NewClientMetrics(b.metrics),
		tracing:     b.tracing,
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
		state:       StateIdle,
		reconnect:   ReconnectState{Delay: backoff.Delay(0)},
	}
	client.dispatcher = newDispatcher(client.deliver).start()

	return client, nil
}
