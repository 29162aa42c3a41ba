package metrics

import (
	"math"
	"regexp"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every exported Prometheus series.
const Namespace = "relay"

const (
	PublisherAttempts          = "publisher_attempts"
	PublisherSent              = "publisher_sent"
	PublisherFailures          = "publisher_failures"
	PublisherDeadLettered      = "publisher_dead_lettered"
	PublisherDuplicatesSkipped = "publisher_duplicates_skipped"
	TenantUnknownDropped       = "tenant_unknown_dropped"
	PublishDurationMS          = "publish_duration_ms"
	PublisherLagMS             = "publisher_lag_ms"
	ReplaySelected             = "replay_selected"
	ReplayCommitted            = "replay_committed"
)

// Sink is the narrow surface the domain code reports through.
type Sink interface {
	Increment(name string)
	Observe(name string, value float64)
}

// Discard drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) Increment(string) {}
func (discard) Observe(string, float64) {}

// Summary is the JSON view of an observed series.
type Summary struct {
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// Snapshot is a point-in-time copy of the recorder.
type Snapshot struct {
	Counters   map[string]int64   `json:"counters"`
	Histograms map[string]Summary `json:"histograms"`
}

var invalidMetricChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

var msBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 15000, 60000}

// Recorder keeps in-process counters and summaries, mirrored onto lazily
// registered Prometheus collectors when a registerer is provided.
type Recorder struct {
	mu         sync.Mutex
	reg        prometheus.Registerer
	counters   map[string]int64
	histograms map[string]*Summary
	promCtr    map[string]prometheus.Counter
	promHist   map[string]prometheus.Histogram
}

func NewRecorder(reg prometheus.Registerer) *Recorder {
	return &Recorder{
		reg:        reg,
		counters:   map[string]int64{},
		histograms: map[string]*Summary{},
		promCtr:    map[string]prometheus.Counter{},
		promHist:   map[string]prometheus.Histogram{},
	}
}

func (r *Recorder) Increment(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.counters[name]++
	if c := r.counterLocked(name); c != nil {
		c.Inc()
	}
}

func (r *Recorder) Observe(name string, value float64) {
	if math.IsNaN(value) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.histograms[name]
	if !ok {
		s = &Summary{Min: value, Max: value}
		r.histograms[name] = s
	}
	s.Count++
	s.Sum += value
	s.Min = math.Min(s.Min, value)
	s.Max = math.Max(s.Max, value)
	if h := r.histogramLocked(name); h != nil {
		h.Observe(value)
	}
}

// Counter returns the current value of a counter, zero when never incremented.
func (r *Recorder) Counter(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[name]
}

func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		Counters:   make(map[string]int64, len(r.counters)),
		Histograms: make(map[string]Summary, len(r.histograms)),
	}
	for k, v := range r.counters {
		snap.Counters[k] = v
	}
	for k, v := range r.histograms {
		snap.Histograms[k] = *v
	}
	return snap
}

// Names lists every series seen so far, sorted.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.counters)+len(r.histograms))
	for k := range r.counters {
		names = append(names, k)
	}
	for k := range r.histograms {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (r *Recorder) counterLocked(name string) prometheus.Counter {
	if r.reg == nil {
		return nil
	}
	if c, ok := r.promCtr[name]; ok {
		return c
	}
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      promName(name) + "_total",
		Help:      "Relay counter " + name + ".",
	})
	if err := r.reg.Register(c); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			r.promCtr[name] = nil
			return nil
		}
		c = are.ExistingCollector.(prometheus.Counter)
	}
	r.promCtr[name] = c
	return c
}

func (r *Recorder) histogramLocked(name string) prometheus.Histogram {
	if r.reg == nil {
		return nil
	}
	if h, ok := r.promHist[name]; ok {
		return h
	}
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      promName(name),
		Help:      "Relay histogram " + name + ".",
		Buckets:   msBuckets,
	})
	if err := r.reg.Register(h); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			r.promHist[name] = nil
			return nil
		}
		h = are.ExistingCollector.(prometheus.Histogram)
	}
	r.promHist[name] = h
	return h
}

func promName(name string) string {
	return invalidMetricChars.ReplaceAllString(name, "_")
}
