package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/tsarna/sciconv/pkg/sciconv/o11y"
	"go.uber.org/zap"
)

// Connector is the part of Client a Reconnector drives.
type Connector interface {
	Connect(ctx context.Context) error
}

// GiveUpFunc receives the terminal error once a reconnect run has used all of
// its attempts. The error wraps ErrRetriesExhausted and the last attempt's
// error.
type GiveUpFunc func(err error)

// Reconnector re-establishes a connection after the server or the network
// closes it. Register it with Client.OnConnectionChange to react to remote
// closes, or call Reconnect directly.
//
// Only a false notification that carries an error and StateClosed starts a
// run; failed attempts and clean disconnects never do, so a run that gives up
// stays given up until something else reconnects.
type Reconnector struct {
	client   Connector
	backoff  Backoff
	logger   *zap.Logger
	metrics  *ClientMetrics
	onGiveUp GiveUpFunc

	enabled atomic.Bool
	running atomic.Bool

	mu            sync.Mutex
	stopped       bool
	lastError     error
	reconnects    int
	lastReconnect time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ReconnectorBuilder provides a fluent interface for building a Reconnector.
type ReconnectorBuilder struct {
	client   Connector
	backoff  Backoff
	logger   *zap.Logger
	metrics  o11y.MetricsProvider
	onGiveUp GiveUpFunc
	enabled  bool
}

// NewReconnector creates a builder for a Reconnector driving client.
func NewReconnector(client Connector) *ReconnectorBuilder {
	return &ReconnectorBuilder{
		client:  client,
		backoff: DefaultBackoff(),
		logger:  zap.NewNop(),
		enabled: true,
	}
}

// WithBackoff sets the retry schedule.
func (b *ReconnectorBuilder) WithBackoff(backoff Backoff) *ReconnectorBuilder {
	b.backoff = backoff
	return b
}

// WithInitialDelay sets the first wait.
func (b *ReconnectorBuilder) WithInitialDelay(d time.Duration) *ReconnectorBuilder {
	b.backoff.Initial = d
	return b
}

// WithMaxDelay caps the wait between attempts.
func (b *ReconnectorBuilder) WithMaxDelay(d time.Duration) *ReconnectorBuilder {
	b.backoff.Max = d
	return b
}

// WithBackoffFactor sets the growth factor between waits.
func (b *ReconnectorBuilder) WithBackoffFactor(f float64) *ReconnectorBuilder {
	b.backoff.Factor = f
	return b
}

// WithMaxAttempts sets how many consecutive attempts a run may make.
func (b *ReconnectorBuilder) WithMaxAttempts(n int) *ReconnectorBuilder {
	b.backoff.MaxAttempts = n
	return b
}

// WithLogger sets the logger.
func (b *ReconnectorBuilder) WithLogger(logger *zap.Logger) *ReconnectorBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithMetrics sets the metrics provider.
func (b *ReconnectorBuilder) WithMetrics(provider o11y.MetricsProvider) *ReconnectorBuilder {
	b.metrics = provider
	return b
}

// WithGiveUp sets the function told about terminal failures.
func (b *ReconnectorBuilder) WithGiveUp(fn GiveUpFunc) *ReconnectorBuilder {
	b.onGiveUp = fn
	return b
}

// WithEnabled sets whether notifications start runs. Reconnect works either way.
func (b *ReconnectorBuilder) WithEnabled(enabled bool) *ReconnectorBuilder {
	b.enabled = enabled
	return b
}

// Build creates the Reconnector.
func (b *ReconnectorBuilder) Build() (*Reconnector, error) {
	if b.client == nil {
		return nil, fmt.Errorf("client is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Reconnector{
		client:   b.client,
		backoff:  b.backoff.normalized(),
		logger:   b.logger,
		metrics:  NewClientMetrics(b.metrics),
		onGiveUp: b.onGiveUp,
		ctx:      ctx,
		cancel:   cancel,
	}
	r.enabled.Store(b.enabled)

	return r, nil
}

// OnConnectionChange implements ConnectionListener.
func (r *Reconnector) OnConnectionChange(ctx context.Context, ev ConnectionEvent) error {
	if ev.Connected || ev.Err == nil || ev.State != StateClosed || !r.IsEnabled() {
		return nil
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	if !r.running.CompareAndSwap(false, true) {
		r.mu.Unlock()
		return nil
	}
	r.wg.Add(1)
	r.mu.Unlock()

	r.logger.Info("Connection lost, reconnecting", zap.Error(ev.Err))

	go func() {
		defer r.wg.Done()
		defer r.running.Store(false)
		r.run(r.ctx)
	}()

	return nil
}

// Reconnect runs the schedule in the calling goroutine: up to MaxAttempts
// connects separated by Backoff.After. It returns nil on the first success and
// an error wrapping ErrRetriesExhausted when every attempt fails. It returns
// ErrReconnectInProgress immediately if a run is already in progress.
func (r *Reconnector) Reconnect(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrReconnectInProgress
	}
	defer r.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(r.ctx, cancel)
	defer stop()

	return r.run(ctx)
}

func (r *Reconnector) run(ctx context.Context) error {
	attempts := 0

	err := retry.Do(
		func() error {
			attempts++
			r.metrics.RecordReconnectAttempt(ctx)
			return r.client.Connect(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(uint(max(r.backoff.MaxAttempts, 0))),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return r.backoff.After(int(n) + 1)
		}),
		retry.MaxJitter(0),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, ErrClientClosed)
		}),
		retry.OnRetry(func(n uint, err error) {
			r.logger.Warn("Reconnect attempt failed",
				zap.Uint("attempt", n+1),
				zap.Duration("next_delay", r.backoff.After(int(n)+1)),
				zap.Error(err))
		}),
	)

	if err == nil {
		r.mu.Lock()
		r.reconnects++
		r.lastReconnect = time.Now()
		r.lastError = nil
		r.mu.Unlock()

		r.logger.Info("Reconnected", zap.Int("attempts", attempts))
		return nil
	}

	if ctx.Err() != nil {
		r.logger.Debug("Reconnect cancelled", zap.Int("attempts", attempts))
		return ctx.Err()
	}

	if !errors.Is(err, ErrClientClosed) {
		err = fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, err)
		r.metrics.RecordReconnectGiveUp(ctx)
	}

	r.mu.Lock()
	r.lastError = err
	r.mu.Unlock()

	r.logger.Error("Giving up on reconnecting", zap.Int("attempts", attempts), zap.Error(err))

	if r.onGiveUp != nil {
		r.onGiveUp(err)
	}

	return err
}

// Stop cancels a run in progress and prevents new ones.
func (r *Reconnector) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
}

// SetEnabled turns notification-triggered runs on or off.
func (r *Reconnector) SetEnabled(enabled bool) {
	r.enabled.Store(enabled)
}

// IsEnabled reports whether notifications start runs.
func (r *Reconnector) IsEnabled() bool {
	return r.enabled.Load()
}

// IsRunning reports whether a run is in progress.
func (r *Reconnector) IsRunning() bool {
	return r.running.Load()
}

// LastError returns the terminal error of the most recent run, or nil if it
// succeeded.
func (r *Reconnector) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastError
}

// ReconnectCount returns how many runs ended in a successful connect.
func (r *Reconnector) ReconnectCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reconnects
}

// LastReconnectTime returns when the last successful run finished.
func (r *Reconnector) LastReconnectTime() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastReconnect
}

// Backoff returns the schedule in use.
func (r *Reconnector) Backoff() Backoff {
	return r.backoff
}
