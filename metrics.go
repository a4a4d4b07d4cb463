package cmdq

import (
	"github.com/prometheus/client_golang/prometheus"
)

// QueueCollector exposes CommandQueue counters to Prometheus.
type QueueCollector struct {
	stats func() QueueStats

	logLen   *prometheus.Desc
	views    *prometheus.Desc
	pushes   *prometheus.Desc
	commands *prometheus.Desc
}

func NewQueueCollector[T any](q *CommandQueue[T]) *QueueCollector {
	return &QueueCollector{
		stats: q.Stats,

		logLen: prometheus.NewDesc(
			"cmdq_log_length",
			"Number of commands in the log",
			nil, nil,
		),
		views: prometheus.NewDesc(
			"cmdq_attached_views",
			"Number of currently attached views",
			nil, nil,
		),
		pushes: prometheus.NewDesc(
			"cmdq_pushes_total",
			"Total number of push calls",
			nil, nil,
		),
		commands: prometheus.NewDesc(
			"cmdq_commands_total",
			"Total number of commands appended to the log",
			nil, nil,
		),
	}
}

func (c *QueueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.logLen
	ch <- c.views
	ch <- c.pushes
	ch <- c.commands
}

func (c *QueueCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.stats()
	ch <- prometheus.MustNewConstMetric(c.logLen, prometheus.GaugeValue, float64(st.LogLen))
	ch <- prometheus.MustNewConstMetric(c.views, prometheus.GaugeValue, float64(st.Views))
	ch <- prometheus.MustNewConstMetric(c.pushes, prometheus.CounterValue, float64(st.Pushes))
	ch <- prometheus.MustNewConstMetric(c.commands, prometheus.CounterValue, float64(st.Commands))
}

// NodeCollector exposes one node's counters under a constant node label.
// Works for views and derivations alike: hand it the node's Stats method.
type NodeCollector struct {
	stats func() NodeStats

	ready       *prometheus.Desc
	waves       *prometheus.Desc
	reduces     *prometheus.Desc
	subscribers *prometheus.Desc
	reduceAvg   *prometheus.Desc
}

func NewNodeCollector(name string, stats func() NodeStats) *NodeCollector {
	labels := prometheus.Labels{"node": name}
	return &NodeCollector{
		stats: stats,

		ready: prometheus.NewDesc(
			"cmdq_node_ready",
			"Whether the node's ready gate has resolved (1) or not (0)",
			nil, labels,
		),
		waves: prometheus.NewDesc(
			"cmdq_node_waves_total",
			"Total number of notification waves fired by the node",
			nil, labels,
		),
		reduces: prometheus.NewDesc(
			"cmdq_node_reduces_total",
			"Total number of reducer invocations on the node",
			nil, labels,
		),
		subscribers: prometheus.NewDesc(
			"cmdq_node_subscribers",
			"Number of currently registered subscribers",
			nil, labels,
		),
		reduceAvg: prometheus.NewDesc(
			"cmdq_node_reduce_seconds_avg",
			"Average duration of one reducer invocation",
			nil, labels,
		),
	}
}

func (c *NodeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.ready
	ch <- c.waves
	ch <- c.reduces
	ch <- c.subscribers
	ch <- c.reduceAvg
}

func (c *NodeCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.stats()
	ready := float64(0)
	if st.Ready {
		ready = 1
	}
	ch <- prometheus.MustNewConstMetric(c.ready, prometheus.GaugeValue, ready)
	ch <- prometheus.MustNewConstMetric(c.waves, prometheus.CounterValue, float64(st.Waves))
	ch <- prometheus.MustNewConstMetric(c.reduces, prometheus.CounterValue, float64(st.Reduces))
	ch <- prometheus.MustNewConstMetric(c.subscribers, prometheus.GaugeValue, float64(st.Subscribers))
	ch <- prometheus.MustNewConstMetric(c.reduceAvg, prometheus.GaugeValue, st.AvgReduceSeconds)
}
