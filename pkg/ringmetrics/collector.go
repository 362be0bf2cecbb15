// Package ringmetrics exposes Prometheus instrumentation for the ring
// election pipeline, adapted from ZTAP's pkg/metrics.Collector singleton.
package ringmetrics

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector manages every ring-related Prometheus series.
type Collector struct {
	electionsStarted   prometheus.Counter
	electionsCompleted prometheus.Counter
	electionsFailed    prometheus.Counter
	leaderChanges      prometheus.Counter
	ringRebuilds       prometheus.Counter
	heartbeatFailures  prometheus.Counter
	forwardsExhausted  prometheus.Counter
	electionDuration   prometheus.Histogram
	currentEpoch       prometheus.Gauge
	mu                 sync.Mutex
}

var (
	globalCollector *Collector
	once            sync.Once
)

// GetCollector returns the process-wide metrics collector, registering its
// series with the default Prometheus registry on first use.
func GetCollector() *Collector {
	once.Do(func() {
		globalCollector = &Collector{
			electionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "ringvote_elections_started_total",
				Help: "Total number of election rounds initiated",
			}),
			electionsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "ringvote_elections_completed_total",
				Help: "Total number of elections that reached a leader announcement",
			}),
			electionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "ringvote_elections_failed_total",
				Help: "Total number of elections that exhausted their round budget",
			}),
			leaderChanges: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "ringvote_leader_changes_total",
				Help: "Total number of distinct leaders announced",
			}),
			ringRebuilds: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "ringvote_ring_rebuilds_total",
				Help: "Total number of ring topology rebuilds",
			}),
			heartbeatFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "ringvote_heartbeat_failures_total",
				Help: "Total number of failed leader health probes",
			}),
			forwardsExhausted: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "ringvote_forward_retries_exhausted_total",
				Help: "Total number of message forwards that exhausted their retry budget",
			}),
			electionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "ringvote_election_duration_seconds",
				Help:    "Time from election initiation to leader announcement",
				Buckets: prometheus.DefBuckets,
			}),
			currentEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "ringvote_topology_epoch",
				Help: "Current topology epoch as last observed by the registrar",
			}),
		}

		prometheus.MustRegister(
			globalCollector.electionsStarted,
			globalCollector.electionsCompleted,
			globalCollector.electionsFailed,
			globalCollector.leaderChanges,
			globalCollector.ringRebuilds,
			globalCollector.heartbeatFailures,
			globalCollector.forwardsExhausted,
			globalCollector.electionDuration,
			globalCollector.currentEpoch,
		)
	})

	return globalCollector
}

func (c *Collector) IncElectionsStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.electionsStarted.Inc()
}

func (c *Collector) IncElectionsCompleted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.electionsCompleted.Inc()
}

func (c *Collector) IncElectionsFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.electionsFailed.Inc()
}

func (c *Collector) IncLeaderChanges() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leaderChanges.Inc()
}

func (c *Collector) IncRingRebuilds() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ringRebuilds.Inc()
}

func (c *Collector) IncHeartbeatFailures() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.heartbeatFailures.Inc()
}

func (c *Collector) IncForwardsExhausted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forwardsExhausted.Inc()
}

func (c *Collector) ObserveElectionDuration(seconds float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.electionDuration.Observe(seconds)
}

func (c *Collector) SetCurrentEpoch(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentEpoch.Set(float64(epoch))
}

// StartServer starts the Prometheus metrics HTTP server on the given port.
func StartServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	fmt.Printf("metrics server listening on http://localhost%s/metrics\n", addr)
	return http.ListenAndServe(addr, mux)
}
