// Package telemetry keeps process-local metrics (counters, gauges and
// histograms) for the API server and the dispatch watcher, and exposes them
// in the Prometheus text exposition format.
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

// TelemetryConfig holds the provider settings.
type TelemetryConfig struct {
	ServiceName    string `json:"service_name"`
	ServiceVersion string `json:"service_version"`
	Environment    string `json:"environment"`
	// MetricsEnabled nil means enabled.
	MetricsEnabled *bool `json:"metrics_enabled"`
}

func (c *TelemetryConfig) metricsOn() bool {
	if c.MetricsEnabled == nil {
		return true
	}
	return *c.MetricsEnabled
}

func (c *TelemetryConfig) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "icare-server"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

// BoolPtr is a helper to create a *bool for TelemetryConfig fields.
func BoolPtr(b bool) *bool {
	return &b
}

// Label is one name/value pair attached to a series.
type Label struct {
	Name  string
	Value string
}

// L builds a Label.
func L(name, value string) Label {
	return Label{Name: name, Value: value}
}

// seriesKey renders a metric name plus labels sorted by label name, so the
// same label set always maps to one series.
func seriesKey(name string, labels []Label) string {
	if len(labels) == 0 {
		return name
	}
	sorted := make([]Label, len(labels))
	copy(sorted, labels)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, l := range sorted {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", l.Name, l.Value)
	}
	b.WriteByte('}')
	return b.String()
}

// splitSeries returns the metric name and the rendered label block of a key.
func splitSeries(key string) (string, string) {
	if i := strings.IndexByte(key, '{'); i >= 0 {
		return key[:i], key[i+1 : len(key)-1]
	}
	return key, ""
}

// histogram is a thread-safe histogram with configurable bucket boundaries.
// Bucket counts are non-cumulative in storage; cumulative counts are computed
// at export time.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits
	mu           sync.Mutex
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

// Observe records a single value.
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

// Count returns the total number of observations.
func (h *histogram) Count() int64 {
	return atomic.LoadInt64(&h.count)
}

// Sum returns the total sum of all observations.
func (h *histogram) Sum() float64 {
	return math.Float64frombits(atomic.LoadUint64(&h.sum))
}

func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	raw := make([]int64, len(h.bucketCounts))
	copy(raw, h.bucketCounts)
	h.mu.Unlock()

	cum := make([]int64, len(raw))
	var running int64
	for i, c := range raw {
		running += c
		cum[i] = running
	}
	return cum
}

func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		newVal := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(addr, old, math.Float64bits(newVal)) {
			return
		}
	}
}

// valueStore holds int64 series keyed by seriesKey. Used for both counters and gauges.
type valueStore struct {
	mu    sync.RWMutex
	items map[string]*int64
}

func newValueStore() *valueStore {
	return &valueStore{items: make(map[string]*int64)}
}

func (s *valueStore) ptr(key string) *int64 {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		return p
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok = s.items[key]; !ok {
		p = new(int64)
		s.items[key] = p
	}
	return p
}

func (s *valueStore) get(key string) int64 {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(p)
}

func (s *valueStore) snapshot() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]int64, len(s.items))
	for k, p := range s.items {
		cp[k] = atomic.LoadInt64(p)
	}
	return cp
}

// DefaultDurationBuckets are histogram boundaries in seconds.
var DefaultDurationBuckets = []float64{
	0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0,
}

// TelemetryProvider manages all metric state for one process.
type TelemetryProvider struct {
	cfg TelemetryConfig

	counters *valueStore
	gauges   *valueStore

	histMu     sync.RWMutex
	histograms map[string]*histogram

	helpMu sync.RWMutex
	help   map[string]string
}

// NewTelemetryProvider creates and initialises the telemetry provider.
func NewTelemetryProvider(cfg TelemetryConfig) *TelemetryProvider {
	cfg.applyDefaults()
	return &TelemetryProvider{
		cfg:        cfg,
		counters:   newValueStore(),
		gauges:     newValueStore(),
		histograms: make(map[string]*histogram),
		help:       make(map[string]string),
	}
}

// Resource returns the service identity attributes.
func (tp *TelemetryProvider) Resource() map[string]string {
	return map[string]string{
		"service.name":           tp.cfg.ServiceName,
		"service.version":        tp.cfg.ServiceVersion,
		"deployment.environment": tp.cfg.Environment,
	}
}

// Describe sets the HELP text printed for a metric family.
func (tp *TelemetryProvider) Describe(name, help string) {
	tp.helpMu.Lock()
	tp.help[name] = help
	tp.helpMu.Unlock()
}

func (tp *TelemetryProvider) helpFor(name string) string {
	tp.helpMu.RLock()
	defer tp.helpMu.RUnlock()
	if h, ok := tp.help[name]; ok {
		return h
	}
	return name
}

// Inc increments a counter series by one.
func (tp *TelemetryProvider) Inc(name string, labels ...Label) {
	tp.Add(name, 1, labels...)
}

// Add increments a counter series by n.
func (tp *TelemetryProvider) Add(name string, n int64, labels ...Label) {
	atomic.AddInt64(tp.counters.ptr(seriesKey(name, labels)), n)
}

// Counter returns the current value of a counter series.
func (tp *TelemetryProvider) Counter(name string, labels ...Label) int64 {
	return tp.counters.get(seriesKey(name, labels))
}

// SetGauge sets a gauge series.
func (tp *TelemetryProvider) SetGauge(name string, v int64, labels ...Label) {
	atomic.StoreInt64(tp.gauges.ptr(seriesKey(name, labels)), v)
}

// AddGauge moves a gauge series by delta.
func (tp *TelemetryProvider) AddGauge(name string, delta int64, labels ...Label) {
	atomic.AddInt64(tp.gauges.ptr(seriesKey(name, labels)), delta)
}

// Gauge returns the current value of a gauge series.
func (tp *TelemetryProvider) Gauge(name string, labels ...Label) int64 {
	return tp.gauges.get(seriesKey(name, labels))
}

// Observe records v in a histogram series with DefaultDurationBuckets.
func (tp *TelemetryProvider) Observe(name string, v float64, labels ...Label) {
	tp.histogramFor(seriesKey(name, labels)).Observe(v)
}

// Histogram returns the histogram series, or nil if nothing was observed.
func (tp *TelemetryProvider) Histogram(name string, labels ...Label) *histogram {
	tp.histMu.RLock()
	defer tp.histMu.RUnlock()
	return tp.histograms[seriesKey(name, labels)]
}

func (tp *TelemetryProvider) histogramFor(key string) *histogram {
	tp.histMu.RLock()
	h, ok := tp.histograms[key]
	tp.histMu.RUnlock()
	if ok {
		return h
	}
	tp.histMu.Lock()
	defer tp.histMu.Unlock()
	if h, ok = tp.histograms[key]; !ok {
		h = newHistogram(DefaultDurationBuckets)
		tp.histograms[key] = h
	}
	return h
}

// MetricsMiddleware records request duration per (method, route, status) and
// the number of in-flight requests.
func (tp *TelemetryProvider) MetricsMiddleware() echo.MiddlewareFunc {
	tp.Describe("http_server_request_duration_seconds", "Duration of HTTP requests in seconds.")
	tp.Describe("http_server_active_requests", "Number of active HTTP requests.")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !tp.cfg.metricsOn() {
				return next(c)
			}

			tp.AddGauge("http_server_active_requests", 1)
			start := time.Now()

			err := next(c)

			tp.AddGauge("http_server_active_requests", -1)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			tp.Observe("http_server_request_duration_seconds", time.Since(start).Seconds(),
				L("method", c.Request().Method),
				L("route", route),
				L("status_code", strconv.Itoa(status)),
			)
			return err
		}
	}
}

// PrometheusHandler serves every series in Prometheus text exposition format.
func (tp *TelemetryProvider) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.String(http.StatusOK, tp.Expose())
	}
}

// Expose renders all series, grouped by family and sorted by key.
func (tp *TelemetryProvider) Expose() string {
	var b strings.Builder
	writeTargetInfo(&b, tp.Resource())
	writeValueFamilies(&b, tp, "counter", tp.counters.snapshot())
	writeValueFamilies(&b, tp, "gauge", tp.gauges.snapshot())

	tp.histMu.RLock()
	hists := make(map[string]*histogram, len(tp.histograms))
	for k, h := range tp.histograms {
		hists[k] = h
	}
	tp.histMu.RUnlock()

	keys := sortedKeys(hists)
	lastFamily := ""
	for _, key := range keys {
		name, labels := splitSeries(key)
		if name != lastFamily {
			if lastFamily != "" {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "# HELP %s %s\n", name, tp.helpFor(name))
			fmt.Fprintf(&b, "# TYPE %s histogram\n", name)
			lastFamily = name
		}
		writeSingleHistogram(&b, name, labels, hists[key])
	}
	if lastFamily != "" {
		b.WriteByte('\n')
	}
	return b.String()
}

// writeTargetInfo publishes the resource attributes as the labels of a
// constant target_info gauge.
func writeTargetInfo(b *strings.Builder, resource map[string]string) {
	keys := sortedKeys(resource)
	labels := make([]string, 0, len(keys))
	for _, k := range keys {
		labels = append(labels, fmt.Sprintf("%s=%q", strings.ReplaceAll(k, ".", "_"), resource[k]))
	}
	b.WriteString("# HELP target_info Service identity.\n")
	b.WriteString("# TYPE target_info gauge\n")
	fmt.Fprintf(b, "target_info{%s} 1\n\n", strings.Join(labels, ","))
}

func writeValueFamilies(b *strings.Builder, tp *TelemetryProvider, typ string, values map[string]int64) {
	lastFamily := ""
	for _, key := range sortedKeys(values) {
		name, _ := splitSeries(key)
		if name != lastFamily {
			if lastFamily != "" {
				b.WriteByte('\n')
			}
			fmt.Fprintf(b, "# HELP %s %s\n", name, tp.helpFor(name))
			fmt.Fprintf(b, "# TYPE %s %s\n", name, typ)
			lastFamily = name
		}
		fmt.Fprintf(b, "%s %d\n", key, values[key])
	}
	if lastFamily != "" {
		b.WriteByte('\n')
	}
}

func writeSingleHistogram(b *strings.Builder, name, labels string, h *histogram) {
	cum := h.cumulativeBuckets()
	total := h.Count()

	labelsPrefix := ""
	labelsSuffix := ""
	if labels != "" {
		labelsPrefix = labels + ","
		labelsSuffix = "{" + labels + "}"
	}

	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%sle=\"%g\"} %d\n", name, labelsPrefix, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%sle=\"+Inf\"} %d\n", name, labelsPrefix, total)
	fmt.Fprintf(b, "%s_sum%s %g\n", name, labelsSuffix, h.Sum())
	fmt.Fprintf(b, "%s_count%s %d\n", name, labelsSuffix, total)
}

// sortedKeys orders series by family name first so every family is
// contiguous, then by the full key.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ni, _ := splitSeries(keys[i])
		nj, _ := splitSeries(keys[j])
		if ni != nj {
			return ni < nj
		}
		return keys[i] < keys[j]
	})
	return keys
}
