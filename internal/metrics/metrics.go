package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rzbill/flojobs/internal/fetch"
	"github.com/rzbill/flojobs/internal/registry"
	"github.com/rzbill/flojobs/internal/store/redisstore"
	pebblestore "github.com/rzbill/flojobs/internal/storage/pebble"
	"github.com/rzbill/flojobs/internal/watcher"
)

const namespace = "flojobs"

// Collector records job storage metrics. One value implements the
// observer interfaces of every instrumented package.
type Collector struct {
	reg prometheus.Gatherer

	// fetch
	jobsFetched      *prometheus.CounterVec
	fetchWait        *prometheus.HistogramVec
	jobsAcknowledged *prometheus.CounterVec
	jobsRequeued     *prometheus.CounterVec
	jobsRecovered    *prometheus.CounterVec

	// queues, refreshed on scrape
	queueEnqueued *prometheus.GaugeVec
	queueFetched  *prometheus.GaugeVec

	// registry
	serversAnnounced prometheus.Counter
	serversRemoved   prometheus.Counter

	// store backends
	storeCommands     *prometheus.HistogramVec
	storeErrors       *prometheus.CounterVec
	pebbleReads       prometheus.Histogram
	pebbleCommits     prometheus.Histogram
	pebbleCommitBytes prometheus.Counter
}

var (
	_ fetch.Metrics              = (*Collector)(nil)
	_ watcher.Metrics            = (*Collector)(nil)
	_ registry.Metrics           = (*Collector)(nil)
	_ redisstore.CommandObserver = (*Collector)(nil)
	_ pebblestore.MetricsHook    = (*Collector)(nil)
)

// NewCollector creates the metrics and registers them on reg. A nil reg
// gets a fresh registry.
func NewCollector(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	c := &Collector{
		reg: reg,
		jobsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_fetched_total",
			Help:      "Total number of jobs moved to an in-flight list",
		}, []string{"queue"}),
		fetchWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_wait_seconds",
			Help:      "Time a fetch call waited before it got a job",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"queue"}),
		jobsAcknowledged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_acknowledged_total",
			Help:      "Total number of fetched jobs acknowledged by workers",
		}, []string{"queue"}),
		jobsRequeued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_requeued_total",
			Help:      "Total number of fetched jobs put back by workers",
		}, []string{"queue"}),
		jobsRecovered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_recovered_total",
			Help:      "Total number of abandoned jobs requeued by the watcher",
		}, []string{"queue"}),
		queueEnqueued: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_enqueued_jobs",
			Help:      "Jobs waiting in a queue",
		}, []string{"queue"}),
		queueFetched: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_fetched_jobs",
			Help:      "Jobs in a queue's in-flight list",
		}, []string{"queue"}),
		serversAnnounced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "servers_announced_total",
			Help:      "Total number of server announcements",
		}),
		serversRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "servers_timed_out_total",
			Help:      "Total number of servers removed for missing heartbeats",
		}),
		storeCommands: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "redis_command_duration_seconds",
			Help:      "Redis command latency",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"command"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redis_command_errors_total",
			Help:      "Total number of failed Redis commands",
		}, []string{"command"}),
		pebbleReads: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pebble_read_duration_seconds",
			Help:      "Pebble point read latency",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 8),
		}),
		pebbleCommits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pebble_commit_duration_seconds",
			Help:      "Pebble batch commit latency",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		pebbleCommitBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pebble_committed_bytes_total",
			Help:      "Total bytes written in Pebble batches",
		}),
	}
	reg.MustRegister(
		c.jobsFetched,
		c.fetchWait,
		c.jobsAcknowledged,
		c.jobsRequeued,
		c.jobsRecovered,
		c.queueEnqueued,
		c.queueFetched,
		c.serversAnnounced,
		c.serversRemoved,
		c.storeCommands,
		c.storeErrors,
		c.pebbleReads,
		c.pebbleCommits,
		c.pebbleCommitBytes,
	)
	return c
}

func (c *Collector) JobFetched(queue string, wait time.Duration) {
	c.jobsFetched.WithLabelValues(queue).Inc()
	c.fetchWait.WithLabelValues(queue).Observe(wait.Seconds())
}

func (c *Collector) JobAcknowledged(queue string) { c.jobsAcknowledged.WithLabelValues(queue).Inc() }

func (c *Collector) JobRequeued(queue string) { c.jobsRequeued.WithLabelValues(queue).Inc() }

func (c *Collector) JobsRecovered(queue string, n int) {
	c.jobsRecovered.WithLabelValues(queue).Add(float64(n))
}

// SetQueueDepth publishes the current size of a queue and its in-flight
// list.
func (c *Collector) SetQueueDepth(queue string, enqueued, fetched int64) {
	c.queueEnqueued.WithLabelValues(queue).Set(float64(enqueued))
	c.queueFetched.WithLabelValues(queue).Set(float64(fetched))
}

func (c *Collector) ServerAnnounced() { c.serversAnnounced.Inc() }

func (c *Collector) ServersRemoved(n int) { c.serversRemoved.Add(float64(n)) }

func (c *Collector) ObserveCommand(name string, elapsed time.Duration, err error) {
	c.storeCommands.WithLabelValues(name).Observe(elapsed.Seconds())
	if err != nil {
		c.storeErrors.WithLabelValues(name).Inc()
	}
}

func (c *Collector) ObserveRead(elapsed time.Duration, _ int) {
	c.pebbleReads.Observe(elapsed.Seconds())
}

func (c *Collector) ObserveBatchCommit(elapsed time.Duration, _ int, bytes int) {
	c.pebbleCommits.Observe(elapsed.Seconds())
	c.pebbleCommitBytes.Add(float64(bytes))
}

// Handler serves the registry in the Prometheus text format. refresh, if
// not nil, runs before every scrape.
func (c *Collector) Handler(refresh func(*http.Request)) http.Handler {
	h := promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
	if refresh == nil {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refresh(r)
		h.ServeHTTP(w, r)
	})
}
