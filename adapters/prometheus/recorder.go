package prometheus

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/goliatone/go-formrelay/core"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultDurationBuckets are tuned for channel round trips in milliseconds.
var DefaultDurationBuckets = []float64{5, 25, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

type Option func(*Recorder)

func WithNamespace(namespace string) Option {
	return func(r *Recorder) {
		r.namespace = sanitizeName(namespace)
	}
}

func WithBuckets(buckets []float64) Option {
	return func(r *Recorder) {
		if len(buckets) > 0 {
			r.buckets = slices.Clone(buckets)
		}
	}
}

// Recorder implements core.MetricsRecorder on top of a Prometheus registry.
// Vectors are created on first use; the tag keys seen first fix the label set
// of a metric and later calls with other keys are coerced to it.
type Recorder struct {
	registry  *prom.Registry
	namespace string
	buckets   []float64

	mu         sync.Mutex
	counters   map[string]*counterVec
	histograms map[string]*histogramVec
}

type counterVec struct {
	labels []string
	vec    *prom.CounterVec
}

type histogramVec struct {
	labels []string
	vec    *prom.HistogramVec
}

func New(opts ...Option) *Recorder {
	r := &Recorder{
		registry:   prom.NewRegistry(),
		buckets:    DefaultDurationBuckets,
		counters:   map[string]*counterVec{},
		histograms: map[string]*histogramVec{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Recorder) Registry() *prom.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if r == nil || value < 0 {
		return
	}
	metric := r.counter(name, tags)
	if metric == nil {
		return
	}
	metric.vec.WithLabelValues(labelValues(metric.labels, tags)...).Add(float64(value))
}

func (r *Recorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	if r == nil {
		return
	}
	metric := r.histogram(name, tags)
	if metric == nil {
		return
	}
	metric.vec.WithLabelValues(labelValues(metric.labels, tags)...).Observe(value)
}

func (r *Recorder) counter(name string, tags map[string]string) *counterVec {
	fullName := r.metricName(name)
	if fullName == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.counters[fullName]; ok {
		return existing
	}
	labels := labelNames(tags)
	vec := prom.NewCounterVec(prom.CounterOpts{
		Name: fullName,
		Help: "formrelay counter " + strings.TrimSpace(name),
	}, labels)
	if err := r.registry.Register(vec); err != nil {
		return nil
	}
	metric := &counterVec{labels: labels, vec: vec}
	r.counters[fullName] = metric
	return metric
}

func (r *Recorder) histogram(name string, tags map[string]string) *histogramVec {
	fullName := r.metricName(name)
	if fullName == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.histograms[fullName]; ok {
		return existing
	}
	labels := labelNames(tags)
	vec := prom.NewHistogramVec(prom.HistogramOpts{
		Name:    fullName,
		Help:    "formrelay histogram " + strings.TrimSpace(name),
		Buckets: r.buckets,
	}, labels)
	if err := r.registry.Register(vec); err != nil {
		return nil
	}
	metric := &histogramVec{labels: labels, vec: vec}
	r.histograms[fullName] = metric
	return metric
}

func (r *Recorder) metricName(name string) string {
	name = sanitizeName(name)
	if name == "" {
		return ""
	}
	if r.namespace != "" && !strings.HasPrefix(name, r.namespace+"_") {
		return r.namespace + "_" + name
	}
	return name
}

func labelNames(tags map[string]string) []string {
	out := make([]string, 0, len(tags))
	for key := range tags {
		if label := sanitizeName(key); label != "" {
			out = append(out, label)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func labelValues(labels []string, tags map[string]string) []string {
	sanitized := make(map[string]string, len(tags))
	for key, value := range tags {
		sanitized[sanitizeName(key)] = value
	}
	values := make([]string, len(labels))
	for i, label := range labels {
		values[i] = sanitized[label]
	}
	return values
}

// sanitizeName maps dotted metric names such as formrelay.channel.total to
// formrelay_channel_total.
func sanitizeName(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "_" + out
	}
	return out
}

var _ core.MetricsRecorder = (*Recorder)(nil)
