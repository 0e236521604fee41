// Package metrics exports scheduler and driver statistics to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ardnew/softwlan/driver"
	"github.com/ardnew/softwlan/sched"
)

const namespace = "softwlan"

var (
	poolCapacity = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pool", "capacity"),
		"Number of message envelopes.", nil, nil)
	poolFree = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pool", "free"),
		"Envelopes on the free list.", nil, nil)
	poolHighWater = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pool", "high_water"),
		"Most envelopes ever in use at once.", nil, nil)
	poolMisses = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pool", "misses_total"),
		"Failed envelope acquisitions.", nil, nil)
	poolStarvation = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pool", "starvation_run"),
		"Consecutive failed envelope acquisitions.", nil, nil)

	queueLabels     = []string{"flow", "dest"}
	queueDepth      = prometheus.NewDesc(prometheus.BuildFQName(namespace, "queue", "depth"), "Messages waiting in the queue.", queueLabels, nil)
	queueEnqueued   = prometheus.NewDesc(prometheus.BuildFQName(namespace, "queue", "enqueued_total"), "Messages posted to the queue.", queueLabels, nil)
	queueRejected   = prometheus.NewDesc(prometheus.BuildFQName(namespace, "queue", "rejected_total"), "Posts rejected for lack of envelopes.", queueLabels, nil)
	queueDispatched = prometheus.NewDesc(prometheus.BuildFQName(namespace, "queue", "dispatched_total"), "Messages handled successfully.", queueLabels, nil)
	queueFailed     = prometheus.NewDesc(prometheus.BuildFQName(namespace, "queue", "failed_total"), "Messages whose handler failed.", queueLabels, nil)
	queueDropped    = prometheus.NewDesc(prometheus.BuildFQName(namespace, "queue", "dropped_total"), "Messages dropped without a handler or at shutdown.", queueLabels, nil)

	workerState   = prometheus.NewDesc(prometheus.BuildFQName(namespace, "worker", "state"), "Worker state: 0 idle, 1 draining, 2 suspended, 3 shut down.", []string{"flow"}, nil)
	workerBatches = prometheus.NewDesc(prometheus.BuildFQName(namespace, "worker", "batches_total"), "Drain passes run by the worker.", []string{"flow"}, nil)

	handshakes = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "handshake", "total"),
		"Handshakes by outcome.", []string{"outcome"}, nil)

	driverFrames = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "driver", "frames_total"),
		"Frames by direction and result.", []string{"dir", "result"}, nil)
	driverFramesFree = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "driver", "frames_free"),
		"Idle pooled frame buffers.", nil, nil)
	driverUp = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "driver", "running"),
		"1 if the driver is running or suspended.", nil, nil)
)

// Collector implements prometheus.Collector over scheduler and driver
// snapshots. Nothing is cached; every scrape takes a fresh snapshot.
type Collector struct {
	sched  func() *sched.Scheduler
	driver *driver.Driver
}

var _ prometheus.Collector = (*Collector)(nil)

// NewSchedulerCollector exports the statistics of s.
func NewSchedulerCollector(s *sched.Scheduler) *Collector {
	return &Collector{sched: func() *sched.Scheduler { return s }}
}

// NewDriverCollector exports the statistics of d and of its scheduler while
// d is started.
func NewDriverCollector(d *driver.Driver) *Collector {
	return &Collector{sched: d.Scheduler, driver: d}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		poolCapacity, poolFree, poolHighWater, poolMisses, poolStarvation,
		queueDepth, queueEnqueued, queueRejected, queueDispatched, queueFailed, queueDropped,
		workerState, workerBatches, handshakes,
	} {
		ch <- d
	}
	if c.driver != nil {
		ch <- driverFrames
		ch <- driverFramesFree
		ch <- driverUp
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.driver != nil {
		c.collectDriver(ch)
	}
	s := c.sched()
	if s == nil {
		return
	}
	st := s.Stats()

	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}

	gauge(poolCapacity, float64(st.Pool.Capacity))
	gauge(poolFree, float64(st.Pool.Free))
	gauge(poolHighWater, float64(st.Pool.HighWater))
	counter(poolMisses, st.Pool.Misses)
	gauge(poolStarvation, float64(st.Pool.StarvationRun))

	for _, q := range st.Queues {
		flow, dest := q.Flow.String(), q.Dest.String()
		gauge(queueDepth, float64(q.Depth), flow, dest)
		counter(queueEnqueued, q.Enqueued, flow, dest)
		counter(queueRejected, q.Rejected, flow, dest)
		counter(queueDispatched, q.Dispatched, flow, dest)
		counter(queueFailed, q.Failed, flow, dest)
		counter(queueDropped, q.Dropped, flow, dest)
	}

	for _, w := range st.Workers {
		gauge(workerState, float64(w.State), w.Flow.String())
		counter(workerBatches, w.Batches, w.Flow.String())
	}

	hs := st.Handshakes
	counter(handshakes, hs.Completed, "completed")
	counter(handshakes, hs.TimedOut, "timed_out")
	counter(handshakes, hs.Cancelled, "cancelled")
	counter(handshakes, hs.Late, "late")
}

func (c *Collector) collectDriver(ch chan<- prometheus.Metric) {
	st := c.driver.Stats()
	frames := func(v uint64, dir, result string) {
		ch <- prometheus.MustNewConstMetric(driverFrames, prometheus.CounterValue, float64(v), dir, result)
	}
	frames(st.TxFrames, "tx", "ok")
	frames(st.TxErrors, "tx", "error")
	frames(st.RxFrames, "rx", "ok")
	frames(st.RxDropped, "rx", "dropped")
	ch <- prometheus.MustNewConstMetric(driverFramesFree, prometheus.GaugeValue, float64(st.FramesFree))

	up := 0.0
	if st.State == driver.StateRunning || st.State == driver.StateSuspended {
		up = 1
	}
	ch <- prometheus.MustNewConstMetric(driverUp, prometheus.GaugeValue, up)
}
