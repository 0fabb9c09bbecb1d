// Package promobserver exports scopearena collector metrics to Prometheus.
package promobserver

import (
	"time"

	"github.com/hupe1980/scopearena"
	"github.com/prometheus/client_golang/prometheus"
)

// Observer implements scopearena.MetricsObserver.
type Observer struct {
	blocks        *prometheus.CounterVec
	offHeap       prometheus.Counter
	blockBytes    prometheus.Gauge
	arenas        *prometheus.CounterVec
	pending       prometheus.Gauge
	cleanerPasses prometheus.Counter
	recycled      prometheus.Counter
	passLatency   *prometheus.HistogramVec
	compactions   prometheus.Counter
	movedEntries  prometheus.Counter
	movedBytes    prometheus.Counter
	flushes       *prometheus.CounterVec
}

var _ scopearena.MetricsObserver = (*Observer)(nil)

// New creates an Observer whose metric names start with namespace and
// registers the metrics with reg. A nil reg uses the default registerer.
func New(namespace string, reg prometheus.Registerer) (*Observer, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	o := &Observer{
		blocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_total",
			Help:      "Blocks created and freed",
		}, []string{"event"}),
		offHeap: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offheap_blocks_total",
			Help:      "Blocks backed by anonymous mappings",
		}),
		blockBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "block_bytes",
			Help:      "Bytes currently held in blocks",
		}),
		arenas: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "arenas_total",
			Help:      "Child arenas by lifecycle event",
		}, []string{"event"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "arenas_pending_reclaim",
			Help:      "Destroyed arenas awaiting reclamation",
		}),
		cleanerPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleaner_passes_total",
			Help:      "Completed cleaner passes",
		}),
		recycled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recycled_entries_total",
			Help:      "Handle slots returned to free lists",
		}),
		passLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collector_duration_seconds",
			Help:      "Duration of collector work",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 10),
		}, []string{"collector"}),
		compactions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compactions_total",
			Help:      "Arena compactions",
		}),
		movedEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compaction_moved_entries_total",
			Help:      "Entries relocated by compaction",
		}),
		movedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compaction_moved_bytes_total",
			Help:      "Bytes relocated by compaction",
		}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "GCFlush calls by outcome",
		}, []string{"status"}),
	}

	for _, c := range []prometheus.Collector{
		o.blocks, o.offHeap, o.blockBytes, o.arenas, o.pending, o.cleanerPasses, o.recycled,
		o.passLatency, o.compactions, o.movedEntries, o.movedBytes, o.flushes,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// MustNew is New that panics on registration errors.
func MustNew(namespace string, reg prometheus.Registerer) *Observer {
	o, err := New(namespace, reg)
	if err != nil {
		panic(err)
	}
	return o
}

func (o *Observer) OnBlockAlloc(size int, offHeap bool) {
	o.blocks.WithLabelValues("alloc").Inc()
	if offHeap {
		o.offHeap.Inc()
	}
	o.blockBytes.Add(float64(size))
}

func (o *Observer) OnBlockFree(size int) {
	o.blocks.WithLabelValues("free").Inc()
	o.blockBytes.Sub(float64(size))
}

func (o *Observer) OnArenaCreated() {
	o.arenas.WithLabelValues("created").Inc()
}

func (o *Observer) OnArenaRetired() {
	o.arenas.WithLabelValues("retired").Inc()
	o.pending.Inc()
}

func (o *Observer) OnArenaReclaimed(n int) {
	o.arenas.WithLabelValues("reclaimed").Add(float64(n))
	o.pending.Sub(float64(n))
}

func (o *Observer) OnCleanerPass(_, recycled int, elapsed time.Duration) {
	o.cleanerPasses.Inc()
	o.recycled.Add(float64(recycled))
	o.passLatency.WithLabelValues("cleaner").Observe(elapsed.Seconds())
}

func (o *Observer) OnCompaction(moved int, bytes int64, elapsed time.Duration) {
	o.compactions.Inc()
	o.movedEntries.Add(float64(moved))
	o.movedBytes.Add(float64(bytes))
	o.passLatency.WithLabelValues("compactor").Observe(elapsed.Seconds())
}

func (o *Observer) OnFlush(_ time.Duration, ok bool) {
	status := "success"
	if !ok {
		status = "timeout"
	}
	o.flushes.WithLabelValues(status).Inc()
}
