package bufferpool

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
	flushes   prometheus.Counter
	aborts    prometheus.Counter
}

func newMetrics() *metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "heapdb",
			Subsystem: "bufferpool",
			Name:      name,
			Help:      help,
		})
	}

	return &metrics{
		hits:      counter("hits_total", "Page requests served from the cache."),
		misses:    counter("misses_total", "Page requests that had to read the heap file."),
		evictions: counter("evictions_total", "Clean pages dropped to make room."),
		flushes:   counter("flushes_total", "Dirty pages written back to heap files."),
		aborts:    counter("aborted_pages_total", "Pages restored from their before-image."),
	}
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.hits, m.misses, m.evictions, m.flushes, m.aborts}
}

// RegisterMetrics exposes the pool counters on reg.
func (m *Manager) RegisterMetrics(reg prometheus.Registerer) error {
	var err error
	for _, c := range m.metrics.collectors() {
		err = errors.Join(err, reg.Register(c))
	}
	return err
}
