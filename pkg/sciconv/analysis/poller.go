package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	DefaultPollSchedule = "@every 5s"

	// DefaultMaxPollErrors is how many consecutive failed polls a watch
	// tolerates before giving up.
	DefaultMaxPollErrors = 3
)

// ResultFetcher is the part of Client a Poller needs.
type ResultFetcher interface {
	Result(ctx context.Context, sessionID string) (Result, error)
}

// UpdateFunc is called with every result a watch fetches, terminal or not.
type UpdateFunc func(Result)

// Poller watches sessions until they reach a terminal status. Each Watch runs
// its own cron scheduler, so one Poller can watch many sessions at once.
type Poller struct {
	fetcher   ResultFetcher
	schedule  cron.Schedule
	logger    *zap.Logger
	maxErrors int
}

type PollerBuilder struct {
	fetcher   ResultFetcher
	spec      string
	schedule  cron.Schedule
	logger    *zap.Logger
	maxErrors int
}

func NewPoller(fetcher ResultFetcher) *PollerBuilder {
	return &PollerBuilder{
		fetcher:   fetcher,
		spec:      DefaultPollSchedule,
		logger:    zap.NewNop(),
		maxErrors: DefaultMaxPollErrors,
	}
}

// WithScheduleSpec sets the poll schedule from a spec such as "@every 2s".
func (b *PollerBuilder) WithScheduleSpec(spec string) *PollerBuilder {
	b.spec = spec
	b.schedule = nil
	return b
}

// WithSchedule sets the poll schedule directly, overriding any spec.
func (b *PollerBuilder) WithSchedule(schedule cron.Schedule) *PollerBuilder {
	b.schedule = schedule
	return b
}

func (b *PollerBuilder) WithLogger(logger *zap.Logger) *PollerBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithMaxErrors sets how many consecutive fetch errors end a watch. Not found
// errors always end it at once.
func (b *PollerBuilder) WithMaxErrors(n int) *PollerBuilder {
	b.maxErrors = n
	return b
}

func (b *PollerBuilder) Build() (*Poller, error) {
	if b.fetcher == nil {
		return nil, fmt.Errorf("result fetcher is required")
	}
	if b.maxErrors < 1 {
		return nil, fmt.Errorf("max errors must be at least 1, got %d", b.maxErrors)
	}

	schedule := b.schedule
	if schedule == nil {
		var err error
		schedule, err = ParseSchedule(b.spec)
		if err != nil {
			return nil, fmt.Errorf("invalid poll schedule %q: %w", b.spec, err)
		}
	}

	return &Poller{
		fetcher:   b.fetcher,
		schedule:  schedule,
		logger:    b.logger,
		maxErrors: b.maxErrors,
	}, nil
}

// Watch polls sessionID once immediately and then on the poller's schedule
// until the session completes, fails, or ctx ends. onUpdate may be nil.
//
// A session that ends in StatusError is returned together with an error
// wrapping ErrAnalysisFailed.
func (p *Poller) Watch(ctx context.Context, sessionID string, onUpdate UpdateFunc) (Result, error) {
	id, err := ParseSessionID(sessionID)
	if err != nil {
		return Result{}, err
	}

	logger := p.logger.With(zap.String("session_id", id))
	w := &watch{
		poller:   p,
		id:       id,
		logger:   logger,
		onUpdate: onUpdate,
		done:     make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.ctx = ctx

	scheduler := cron.New(
		cron.WithLogger(zapCronLogger{logger: logger}),
		cron.WithChain(cron.SkipIfStillRunning(zapCronLogger{logger: logger})),
	)
	scheduler.Schedule(p.schedule, w)

	w.Run()
	scheduler.Start()

	select {
	case <-w.done:
	case <-ctx.Done():
	}

	cancel()
	<-scheduler.Stop().Done()

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.finished {
		logger.Debug("Watch cancelled")
		return w.last, ctx.Err()
	}
	return w.last, w.err
}

// watch is the cron job for a single Watch call.
type watch struct {
	poller   *Poller
	ctx      context.Context
	id       string
	logger   *zap.Logger
	onUpdate UpdateFunc
	done     chan struct{}

	mu       sync.Mutex
	polls    int
	errors   int
	finished bool
	last     Result
	err      error
}

func (w *watch) Run() {
	w.mu.Lock()
	if w.finished {
		w.mu.Unlock()
		return
	}
	w.polls++
	poll := w.polls
	w.mu.Unlock()

	result, err := w.poller.fetcher.Result(w.ctx, w.id)
	if w.ctx.Err() != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finished {
		return
	}

	if err != nil {
		w.errors++
		w.logger.Warn("Result poll failed", zap.Int("poll", poll), zap.Int("consecutive_errors", w.errors), zap.Error(err))
		if IsNotFound(err) || errors.Is(err, ErrInvalidSessionID) || w.errors >= w.poller.maxErrors {
			w.finish(err)
		}
		return
	}

	w.errors = 0
	w.last = result
	w.logger.Debug("Result polled", zap.Int("poll", poll), zap.String("status", string(result.Status)))

	if w.onUpdate != nil {
		w.onUpdate(result)
	}

	switch result.Status {
	case StatusCompleted:
		w.finish(nil)
	case StatusError:
		if result.Error == "" {
			w.finish(ErrAnalysisFailed)
		} else {
			w.finish(fmt.Errorf("%w: %s", ErrAnalysisFailed, result.Error))
		}
	}
}

// finish must be called with mu held.
func (w *watch) finish(err error) {
	w.finished = true
	w.err = err
	close(w.done)
}
