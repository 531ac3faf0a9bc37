package reusablestore

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// stats holds the cache-wide counters, updated on the hot path with
// atomics only.
type stats struct {
	frontHits   atomic.Int64
	backendHits atomic.Int64
	misses      atomic.Int64
	sets        atomic.Int64
	removes     atomic.Int64
	expired     atomic.Int64
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	FrontHits   int64 `json:"front_hits"`
	BackendHits int64 `json:"backend_hits"`
	Misses      int64 `json:"misses"`
	Sets        int64 `json:"sets"`
	Removes     int64 `json:"removes"`
	Expired     int64 `json:"expired"`
	Entries     int   `json:"entries"`
}

// Stats returns a snapshot of the cache counters and the in-memory
// layer size.
func (c *Cache) Stats() Stats {
	return Stats{
		FrontHits:   c.stats.frontHits.Load(),
		BackendHits: c.stats.backendHits.Load(),
		Misses:      c.stats.misses.Load(),
		Sets:        c.stats.sets.Load(),
		Removes:     c.stats.removes.Load(),
		Expired:     c.stats.expired.Load(),
		Entries:     c.front.len(),
	}
}

// Collector exposes cache counters as Prometheus metrics. Register it
// with a prometheus.Registerer:
//
//	prometheus.MustRegister(reusablestore.NewCollector(cache, "myapp"))
type Collector struct {
	cache *Cache

	frontHits   *prometheus.Desc
	backendHits *prometheus.Desc
	misses      *prometheus.Desc
	sets        *prometheus.Desc
	removes     *prometheus.Desc
	expired     *prometheus.Desc
	entries     *prometheus.Desc
}

// NewCollector creates a Collector for the given cache. namespace
// prefixes every metric name and may be empty.
func NewCollector(c *Cache, namespace string) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "cache", name), help, nil, nil)
	}
	return &Collector{
		cache:       c,
		frontHits:   desc("front_hits_total", "Reads served by the in-memory layer."),
		backendHits: desc("backend_hits_total", "Reads served by the backend store."),
		misses:      desc("misses_total", "Reads that found no live entry."),
		sets:        desc("sets_total", "Completed writes."),
		removes:     desc("removes_total", "Completed removals."),
		expired:     desc("expired_total", "Entries evicted on expiry discovery."),
		entries:     desc("entries", "Current entries in the in-memory layer."),
	}
}

// Describe implements prometheus.Collector.
func (col *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- col.frontHits
	ch <- col.backendHits
	ch <- col.misses
	ch <- col.sets
	ch <- col.removes
	ch <- col.expired
	ch <- col.entries
}

// Collect implements prometheus.Collector.
func (col *Collector) Collect(ch chan<- prometheus.Metric) {
	s := col.cache.Stats()
	ch <- prometheus.MustNewConstMetric(col.frontHits, prometheus.CounterValue, float64(s.FrontHits))
	ch <- prometheus.MustNewConstMetric(col.backendHits, prometheus.CounterValue, float64(s.BackendHits))
	ch <- prometheus.MustNewConstMetric(col.misses, prometheus.CounterValue, float64(s.Misses))
	ch <- prometheus.MustNewConstMetric(col.sets, prometheus.CounterValue, float64(s.Sets))
	ch <- prometheus.MustNewConstMetric(col.removes, prometheus.CounterValue, float64(s.Removes))
	ch <- prometheus.MustNewConstMetric(col.expired, prometheus.CounterValue, float64(s.Expired))
	ch <- prometheus.MustNewConstMetric(col.entries, prometheus.GaugeValue, float64(s.Entries))
}
