// Package metrics exposes estimator and output counters to Prometheus.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the helipad metrics. It implements stream.Observer so
// the engine can count samples directly.
type Collector struct {
	gatherer prometheus.Gatherer

	Samples *prometheus.CounterVec
	Outputs *prometheus.CounterVec
	Running prometheus.Gauge

	hubs *hubCollector
}

// New registers the metrics against reg, defaulting to the global registry
// when nil.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	samples, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "helipad_samples_total",
		Help: "Raw samples consumed by each estimator, labeled by whether the sample produced an update.",
	}, []string{"estimator", "accepted"}), "helipad_samples_total")
	if err != nil {
		return nil, err
	}

	outputs, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "helipad_outputs_total",
		Help: "Snapshots sent to external outputs (mqtt, udp, annunciator), labeled by result.",
	}, []string{"output", "result"}), "helipad_outputs_total")
	if err != nil {
		return nil, err
	}

	running, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "helipad_engine_running",
		Help: "1 while the estimator engine is started.",
	}), "helipad_engine_running")
	if err != nil {
		return nil, err
	}

	hubs := &hubCollector{
		published: prometheus.NewDesc("helipad_hub_published_total", "Values published on a stream hub.", []string{"hub"}, nil),
		dropped:   prometheus.NewDesc("helipad_hub_dropped_total", "Values dropped for slow subscribers on a stream hub.", []string{"hub"}, nil),
		stats:     map[string]func() (uint64, uint64){},
	}
	if err := reg.Register(hubs); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, err
		}
		existing, ok := are.ExistingCollector.(*hubCollector)
		if !ok {
			return nil, fmt.Errorf("collector helipad_hub_published_total already registered with incompatible type")
		}
		hubs = existing
	}

	return &Collector{
		gatherer: gatherer,
		Samples:  samples,
		Outputs:  outputs,
		Running:  running,
		hubs:     hubs,
	}, nil
}

func (c *Collector) ObserveSample(estimator string, accepted bool) {
	if c == nil {
		return
	}
	c.Samples.WithLabelValues(estimator, strconv.FormatBool(accepted)).Inc()
}

// ObserveOutput counts one send attempt on an output.
func (c *Collector) ObserveOutput(output string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.Outputs.WithLabelValues(output, result).Inc()
}

func (c *Collector) SetRunning(running bool) {
	if c == nil {
		return
	}
	if running {
		c.Running.Set(1)
	} else {
		c.Running.Set(0)
	}
}

// WatchHub exports the published/dropped counters of a hub. stats is read
// at scrape time.
func (c *Collector) WatchHub(name string, stats func() (published, dropped uint64)) {
	if c == nil || stats == nil {
		return
	}
	c.hubs.mu.Lock()
	c.hubs.stats[name] = stats
	c.hubs.mu.Unlock()
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

type hubCollector struct {
	published *prometheus.Desc
	dropped   *prometheus.Desc

	mu    sync.Mutex
	stats map[string]func() (uint64, uint64)
}

func (h *hubCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- h.published
	ch <- h.dropped
}

func (h *hubCollector) Collect(ch chan<- prometheus.Metric) {
	h.mu.Lock()
	names := make([]string, 0, len(h.stats))
	for name := range h.stats {
		names = append(names, name)
	}
	sort.Strings(names)
	fns := make([]func() (uint64, uint64), len(names))
	for i, name := range names {
		fns[i] = h.stats[name]
	}
	h.mu.Unlock()

	for i, name := range names {
		pub, drop := fns[i]()
		ch <- prometheus.MustNewConstMetric(h.published, prometheus.CounterValue, float64(pub), name)
		ch <- prometheus.MustNewConstMetric(h.dropped, prometheus.CounterValue, float64(drop), name)
	}
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
