// Package telemetry records HTTP server metrics and a few scheduling gauges and
// serves them in the Prometheus text exposition format.
package telemetry

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// defaultDurationBuckets are the histogram boundaries (in seconds) used for
// HTTP request duration.
var defaultDurationBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// ---------------------------------------------------------------------------
// Histogram
// ---------------------------------------------------------------------------

// histogram keeps non-cumulative bucket counts; cumulative counts are computed
// at export time.
type histogram struct {
	mu           sync.Mutex
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          float64
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

func (h *histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
}

func (h *histogram) snapshot() (cum []int64, count int64, sum float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cum = make([]int64, len(h.bucketCounts))
	var running int64
	for i, c := range h.bucketCounts {
		running += c
		cum[i] = running
	}
	return cum, h.count, h.sum
}

// ---------------------------------------------------------------------------
// Provider
// ---------------------------------------------------------------------------

type gaugeFunc struct {
	name  string
	help  string
	label string
	fn    func() map[string]int64
}

type counterMeta struct {
	help  string
	label string
}

// Provider holds every metric the server exports.
type Provider struct {
	active atomic.Int64

	mu        sync.RWMutex
	durations map[string]*histogram
	counters  map[string]map[string]int64
	meta      map[string]counterMeta
	gauges    []gaugeFunc
}

func NewProvider() *Provider {
	return &Provider{
		durations: make(map[string]*histogram),
		counters:  make(map[string]map[string]int64),
		meta:      make(map[string]counterMeta),
	}
}

// LabelsKey joins HTTP labels into a single map key.
func LabelsKey(method, route, statusCode string) string {
	return method + "|" + route + "|" + statusCode
}

// Inc adds one to the counter name. label may be empty.
func (p *Provider) Inc(name, label string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.counters[name]
	if !ok {
		m = make(map[string]int64)
		p.counters[name] = m
	}
	m[label]++
}

// Counter returns the current value of a counter.
func (p *Provider) Counter(name, label string) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.counters[name][label]
}

// DescribeCounter sets the HELP text and label name exported for a counter.
func (p *Provider) DescribeCounter(name, help, label string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.meta[name] = counterMeta{help: help, label: label}
}

// GaugeFunc registers a gauge sampled at scrape time. fn returns values keyed
// by the value of label; the empty key is exported without labels.
func (p *Provider) GaugeFunc(name, help, label string, fn func() map[string]int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gauges = append(p.gauges, gaugeFunc{name: name, help: help, label: label, fn: fn})
}

// Middleware records request duration by method, route and status, plus the
// number of in-flight requests.
func (p *Provider) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p.active.Add(1)
			defer p.active.Add(-1)

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			key := LabelsKey(c.Request().Method, route, strconv.Itoa(c.Response().Status))
			p.histogramFor(key).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}

func (p *Provider) histogramFor(key string) *histogram {
	p.mu.RLock()
	h, ok := p.durations[key]
	p.mu.RUnlock()
	if ok {
		return h
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok = p.durations[key]; ok {
		return h
	}
	h = newHistogram(defaultDurationBuckets)
	p.durations[key] = h
	return h
}

// Handler serves GET /metrics.
func (p *Provider) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.String(http.StatusOK, p.render())
	}
}

func (p *Provider) render() string {
	var b strings.Builder

	p.mu.RLock()
	durationKeys := sortedKeys(p.durations)
	durations := make([]*histogram, len(durationKeys))
	for i, k := range durationKeys {
		durations[i] = p.durations[k]
	}
	counterNames := sortedKeys(p.counters)
	counters := make(map[string]map[string]int64, len(counterNames))
	for _, name := range counterNames {
		counters[name] = copyMap(p.counters[name])
	}
	meta := copyMap(p.meta)
	gauges := append([]gaugeFunc(nil), p.gauges...)
	p.mu.RUnlock()

	name := "http_server_request_duration_seconds"
	b.WriteString("# HELP " + name + " Duration of HTTP requests in seconds.\n")
	b.WriteString("# TYPE " + name + " histogram\n")
	for i, key := range durationKeys {
		parts := strings.SplitN(key, "|", 3)
		labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", parts[0], parts[1], parts[2])
		writeHistogram(&b, name, labels, durations[i])
	}
	b.WriteByte('\n')

	b.WriteString("# HELP http_server_active_requests Number of active HTTP requests.\n")
	b.WriteString("# TYPE http_server_active_requests gauge\n")
	fmt.Fprintf(&b, "http_server_active_requests %d\n\n", p.active.Load())

	for _, name := range counterNames {
		m, ok := meta[name]
		if ok {
			fmt.Fprintf(&b, "# HELP %s %s\n", name, m.help)
		}
		if m.label == "" {
			m.label = "kind"
		}
		fmt.Fprintf(&b, "# TYPE %s counter\n", name)
		writeSeries(&b, name, m.label, counters[name])
		b.WriteByte('\n')
	}

	for _, g := range gauges {
		fmt.Fprintf(&b, "# HELP %s %s\n", g.name, g.help)
		fmt.Fprintf(&b, "# TYPE %s gauge\n", g.name)
		writeSeries(&b, g.name, g.label, g.fn())
		b.WriteByte('\n')
	}

	return b.String()
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	cum, count, sum := h.snapshot()
	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, count)
	fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, sum)
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, count)
}

func writeSeries(b *strings.Builder, name, labelName string, values map[string]int64) {
	for _, label := range sortedKeys(values) {
		if label == "" {
			fmt.Fprintf(b, "%s %d\n", name, values[label])
			continue
		}
		fmt.Fprintf(b, "%s{%s=%q} %d\n", name, labelName, label, values[label])
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func copyMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
