package o11y

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsSnapshot is a point-in-time copy of everything a MemoryProvider has
// recorded. Labelled series are keyed as name{k=v,...}.
type MetricsSnapshot struct {
	Timestamp  time.Time            `json:"timestamp"`
	Counters   map[string]int64     `json:"counters"`
	Histograms map[string][]float64 `json:"histograms"`
	Gauges     map[string]float64   `json:"gauges"`
}

// ReportFunc receives periodic snapshots from a running MemoryProvider.
type ReportFunc func(MetricsSnapshot)

// MemoryProvider keeps metrics in process memory. It backs the CLI's
// statistics output and lets tests assert on recorded values.
type MemoryProvider struct {
	counters   sync.Map // map[string]*memoryCounter
	histograms sync.Map // map[string]*memoryHistogram
	gauges     sync.Map // map[string]*memoryGauge

	interval time.Duration
	report   ReportFunc

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started int32
}

// NewMemoryProvider creates an empty provider. Reporting is off until
// WithReporter and Start are called.
func NewMemoryProvider() *MemoryProvider {
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryProvider{
		interval: 30 * time.Second,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// WithReporter sets a function that is called with a snapshot every interval
// once Start is called, and a final time on Stop.
func (m *MemoryProvider) WithReporter(interval time.Duration, report ReportFunc) *MemoryProvider {
	if interval > 0 {
		m.interval = interval
	}
	m.report = report
	return m
}

// Start begins periodic reporting. It is a no-op without a reporter.
func (m *MemoryProvider) Start() error {
	if m.report == nil {
		return nil
	}
	if !atomic.CompareAndSwapInt32(&m.started, 0, 1) {
		return nil
	}

	m.wg.Add(1)
	go m.reportLoop()

	return nil
}

// Stop halts reporting after delivering a final snapshot.
func (m *MemoryProvider) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.started, 1, 0) {
		return nil
	}

	m.cancel()
	m.wg.Wait()

	return nil
}

func (m *MemoryProvider) reportLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.report(m.Snapshot())
		case <-m.ctx.Done():
			m.report(m.Snapshot())
			return
		}
	}
}

// Snapshot copies the current values of all series.
func (m *MemoryProvider) Snapshot() MetricsSnapshot {
	snapshot := MetricsSnapshot{
		Timestamp:  time.Now(),
		Counters:   make(map[string]int64),
		Histograms: make(map[string][]float64),
		Gauges:     make(map[string]float64),
	}

	m.counters.Range(func(key, value any) bool {
		counter := value.(*memoryCounter)
		counter.series.Range(func(series, v any) bool {
			snapshot.Counters[key.(string)+series.(string)] = atomic.LoadInt64(v.(*int64))
			return true
		})
		return true
	})

	m.histograms.Range(func(key, value any) bool {
		histogram := value.(*memoryHistogram)
		histogram.mu.RLock()
		for series, values := range histogram.values {
			snapshot.Histograms[key.(string)+series] = append([]float64(nil), values...)
		}
		histogram.mu.RUnlock()
		return true
	})

	m.gauges.Range(func(key, value any) bool {
		gauge := value.(*memoryGauge)
		gauge.mu.RLock()
		for series, v := range gauge.values {
			snapshot.Gauges[key.(string)+series] = v
		}
		gauge.mu.RUnlock()
		return true
	})

	return snapshot
}

// CounterValue returns the total of a counter across all label sets.
func (m *MemoryProvider) CounterValue(name string) int64 {
	existing, ok := m.counters.Load(name)
	if !ok {
		return 0
	}

	var total int64
	existing.(*memoryCounter).series.Range(func(_, v any) bool {
		total += atomic.LoadInt64(v.(*int64))
		return true
	})
	return total
}

// GaugeValue returns the unlabelled value of a gauge.
func (m *MemoryProvider) GaugeValue(name string) float64 {
	existing, ok := m.gauges.Load(name)
	if !ok {
		return 0
	}
	gauge := existing.(*memoryGauge)
	gauge.mu.RLock()
	defer gauge.mu.RUnlock()
	return gauge.values[""]
}

// MetricsProvider interface implementation

func (m *MemoryProvider) Counter(name string) Counter {
	actual, _ := m.counters.LoadOrStore(name, &memoryCounter{})
	return actual.(*memoryCounter)
}

func (m *MemoryProvider) Histogram(name string) Histogram {
	actual, _ := m.histograms.LoadOrStore(name, &memoryHistogram{values: make(map[string][]float64)})
	return actual.(*memoryHistogram)
}

func (m *MemoryProvider) Gauge(name string) Gauge {
	actual, _ := m.gauges.LoadOrStore(name, &memoryGauge{values: make(map[string]float64)})
	return actual.(*memoryGauge)
}

type memoryCounter struct {
	series sync.Map // map[string]*int64
}

func (c *memoryCounter) Add(ctx context.Context, value int64, labels ...Label) {
	actual, _ := c.series.LoadOrStore(seriesKey(labels), new(int64))
	atomic.AddInt64(actual.(*int64), value)
}

type memoryHistogram struct {
	mu     sync.RWMutex
	values map[string][]float64
}

func (h *memoryHistogram) Record(ctx context.Context, value float64, labels ...Label) {
	key := seriesKey(labels)
	h.mu.Lock()
	h.values[key] = append(h.values[key], value)
	h.mu.Unlock()
}

type memoryGauge struct {
	mu     sync.RWMutex
	values map[string]float64
}

func (g *memoryGauge) Set(ctx context.Context, value float64, labels ...Label) {
	g.mu.Lock()
	g.values[seriesKey(labels)] = value
	g.mu.Unlock()
}

func seriesKey(labels []Label) string {
	if len(labels) == 0 {
		return ""
	}

	parts := make([]string, len(labels))
	for i, label := range labels {
		parts[i] = label.Key + "=" + label.Value
	}
	sort.Strings(parts)

	return "{" + strings.Join(parts, ",") + "}"
}
