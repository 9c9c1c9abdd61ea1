package chat

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tsarna/sciconv/pkg/sciconv/o11y"
	"github.com/tsarna/sciconv/pkg/sciconv/otel"
	"go.uber.org/zap"
)

// newBenchClient returns a connected client on an in-memory transport.
func newBenchClient(b *testing.B, configure func(*ClientBuilder)) (*Client, *fakeDialer) {
	b.Helper()

	dialer := &fakeDialer{}
	builder := NewClient().
		WithURL(testURL).
		WithLogger(zap.NewNop()).
		WithTransport(dialer)
	if configure != nil {
		configure(builder)
	}

	client, err := builder.Build()
	if err != nil {
		b.Fatalf("Build() returned error: %v", err)
	}
	b.Cleanup(func() { client.Close() })

	if err := client.Connect(context.Background()); err != nil {
		b.Fatalf("Connect() returned error: %v", err)
	}
	return client, dialer
}

func benchmarkSend(b *testing.B, configure func(*ClientBuilder)) {
	client, _ := newBenchClient(b, configure)
	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if err := client.Send(ctx, "benchmark message"); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSendNoObservability(b *testing.B) {
	benchmarkSend(b, nil)
}

func BenchmarkSendWithMemoryMetrics(b *testing.B) {
	benchmarkSend(b, func(builder *ClientBuilder) {
		builder.WithMetrics(o11y.NewMemoryProvider())
	})
}

func BenchmarkSendWithOpenTelemetry(b *testing.B) {
	provider := otel.NewProvider("benchmark", "v1.0.0")
	benchmarkSend(b, func(builder *ClientBuilder) {
		builder.WithMetrics(provider).WithTracing(provider)
	})
}

// BenchmarkInboundDispatch measures decode and fan-out of inbound frames to
// three listeners.
func BenchmarkInboundDispatch(b *testing.B) {
	client, dialer := newBenchClient(b, nil)

	var delivered atomic.Int64
	done := make(chan struct{})
	target := int64(3 * b.N)
	for i := 0; i < 3; i++ {
		client.OnMessage(MessageFunc(func(ctx context.Context, msg InboundEnvelope) error {
			if delivered.Add(1) == target {
				close(done)
			}
			return nil
		}))
	}

	conn := dialer.lastConn()
	frame := `{"content":"benchmark reply","timestamp":"2024-01-01T00:00:00.000Z"}`

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		conn.deliver(frame)
	}

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		b.Fatalf("only %d of %d deliveries arrived", delivered.Load(), target)
	}
}
