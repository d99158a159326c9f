// Package telemetry records HTTP and engine metrics in memory and serves
// them in the Prometheus text exposition format.
package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// MetricsPath is where PrometheusHandler is mounted. Requests to it are not
// recorded.
const MetricsPath = "/metrics"

// Request durations in seconds.
var defaultDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// ---------------------------------------------------------------------------
// Histogram
// ---------------------------------------------------------------------------

// histogram stores non-cumulative bucket counts; cumulative counts are
// computed at export time.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits, for atomic add
	mu           sync.Mutex
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	atomicAddFloat64(&h.sum, v)

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
}

func (h *histogram) Count() int64 {
	return atomic.LoadInt64(&h.count)
}

func (h *histogram) Sum() float64 {
	return math.Float64frombits(atomic.LoadUint64(&h.sum))
}

func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	raw := make([]int64, len(h.bucketCounts))
	copy(raw, h.bucketCounts)
	h.mu.Unlock()

	var running int64
	for i, c := range raw {
		running += c
		raw[i] = running
	}
	return raw
}

func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if atomic.CompareAndSwapUint64(addr, old, next) {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Labeled stores
// ---------------------------------------------------------------------------

const labelSep = "\x1f"

func labelsKey(values ...string) string {
	return strings.Join(values, labelSep)
}

type histogramStore struct {
	mu    sync.RWMutex
	items map[string]*histogram
}

func (s *histogramStore) getOrCreate(key string) *histogram {
	s.mu.RLock()
	h, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		return h
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok = s.items[key]; !ok {
		h = newHistogram(defaultDurationBuckets)
		s.items[key] = h
	}
	return h
}

func (s *histogramStore) snapshot() map[string]*histogram {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]*histogram, len(s.items))
	for k, v := range s.items {
		cp[k] = v
	}
	return cp
}

type counterStore struct {
	mu    sync.RWMutex
	items map[string]*int64
}

func (s *counterStore) inc(key string) {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		s.mu.Lock()
		if p, ok = s.items[key]; !ok {
			p = new(int64)
			s.items[key] = p
		}
		s.mu.Unlock()
	}
	atomic.AddInt64(p, 1)
}

func (s *counterStore) get(key string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.items[key]; ok {
		return atomic.LoadInt64(p)
	}
	return 0
}

func (s *counterStore) snapshot() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]int64, len(s.items))
	for k, p := range s.items {
		cp[k] = atomic.LoadInt64(p)
	}
	return cp
}

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

type gaugeFunc struct {
	name, help string
	fn         func() float64
}

// Metrics is the in-process registry. The zero value is not usable; call
// NewMetrics.
type Metrics struct {
	requests        *histogramStore // method, route, status
	classifications *counterStore   // analyte, tier
	active          int64

	gaugeMu sync.RWMutex
	gauges  []gaugeFunc
}

func NewMetrics() *Metrics {
	return &Metrics{
		requests:        &histogramStore{items: make(map[string]*histogram)},
		classifications: &counterStore{items: make(map[string]*int64)},
	}
}

// RegisterGauge adds a gauge whose value is read at scrape time.
func (m *Metrics) RegisterGauge(name, help string, fn func() float64) {
	m.gaugeMu.Lock()
	defer m.gaugeMu.Unlock()
	m.gauges = append(m.gauges, gaugeFunc{name: name, help: help, fn: fn})
}

// ObserveClassification counts one lab classification.
func (m *Metrics) ObserveClassification(analyte, tier string) {
	m.classifications.inc(labelsKey(analyte, tier))
}

func (m *Metrics) ClassificationCount(analyte, tier string) int64 {
	return m.classifications.get(labelsKey(analyte, tier))
}

func (m *Metrics) ActiveRequests() int64 {
	return atomic.LoadInt64(&m.active)
}

// RequestCount returns the number of requests recorded for the route
// pattern, e.g. "/api/v1/pregnancies/:id".
func (m *Metrics) RequestCount(method, route string, status int) int64 {
	h, ok := m.requests.snapshot()[labelsKey(method, route, strconv.Itoa(status))]
	if !ok {
		return 0
	}
	return h.Count()
}

// Middleware records the duration of every request by method, route
// pattern and status.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Path() == MetricsPath {
				return next(c)
			}
			atomic.AddInt64(&m.active, 1)
			defer atomic.AddInt64(&m.active, -1)

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				// The error handler has not written the response yet.
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			key := labelsKey(c.Request().Method, route, strconv.Itoa(status))
			m.requests.getOrCreate(key).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// PrometheusHandler serves every metric in text exposition format.
func (m *Metrics) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		b.WriteString("# HELP http_server_request_duration_seconds Duration of HTTP requests in seconds.\n")
		b.WriteString("# TYPE http_server_request_duration_seconds histogram\n")
		reqs := m.requests.snapshot()
		for _, key := range sortedKeys(reqs) {
			parts := strings.Split(key, labelSep)
			labels := fmt.Sprintf(`method="%s",route="%s",status_code="%s"`,
				escapeLabel(parts[0]), escapeLabel(parts[1]), escapeLabel(parts[2]))
			writeHistogram(&b, "http_server_request_duration_seconds", labels, reqs[key])
		}
		b.WriteByte('\n')

		b.WriteString("# HELP http_server_active_requests Number of in-flight HTTP requests.\n")
		b.WriteString("# TYPE http_server_active_requests gauge\n")
		fmt.Fprintf(&b, "http_server_active_requests %d\n\n", atomic.LoadInt64(&m.active))

		b.WriteString("# HELP lab_classifications_total Lab results classified, by analyte and tier.\n")
		b.WriteString("# TYPE lab_classifications_total counter\n")
		counts := m.classifications.snapshot()
		for _, key := range sortedKeys(counts) {
			parts := strings.Split(key, labelSep)
			fmt.Fprintf(&b, "lab_classifications_total{analyte=\"%s\",tier=\"%s\"} %d\n",
				escapeLabel(parts[0]), escapeLabel(parts[1]), counts[key])
		}
		b.WriteByte('\n')

		m.gaugeMu.RLock()
		gauges := append([]gaugeFunc(nil), m.gauges...)
		m.gaugeMu.RUnlock()
		for _, g := range gauges {
			fmt.Fprintf(&b, "# HELP %s %s\n", g.name, g.help)
			fmt.Fprintf(&b, "# TYPE %s gauge\n", g.name)
			fmt.Fprintf(&b, "%s %g\n\n", g.name, g.fn())
		}

		return c.String(http.StatusOK, b.String())
	}
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	cum := h.cumulativeBuckets()
	total := h.Count()
	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, total)
	fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.Sum())
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, total)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Exposition format label values escape only backslash, quote and newline.
var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func escapeLabel(v string) string { return labelEscaper.Replace(v) }
