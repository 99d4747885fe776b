// Package metrics exports broker queue statistics as Prometheus gauges and
// counters, grounded on src/metrics.go / ws/metrics.go: package-level
// collectors registered with the default registerer, a Handler for
// promhttp, and a background loop that periodically samples
// Queue.GetStatisticsSnapshot into the gauges.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scbroker/broker/internal/broker"
)

var (
	clientsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scbroker_clients_active",
		Help: "Current number of connected clients.",
	}, []string{"queue"})

	groupsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scbroker_groups_active",
		Help: "Current number of groups.",
	}, []string{"queue"})

	ringSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scbroker_ring_size",
		Help: "Current number of messages retained in the replay ring.",
	}, []string{"queue"})

	taskQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scbroker_task_queue_depth",
		Help: "Pending messages waiting on the processor pipeline.",
	}, []string{"queue"})

	resultQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scbroker_result_queue_depth",
		Help: "Processed messages waiting to be flushed to publish.",
	}, []string{"queue"})

	currentSequence = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scbroker_current_sequence",
		Help: "Current monotonic publish sequence number.",
	}, []string{"queue"})

	messagesReceivedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scbroker_messages_received_total",
		Help: "Total messages pushed into the queue.",
	}, []string{"queue"})

	bytesReceivedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scbroker_bytes_received_total",
		Help: "Total payload bytes pushed into the queue.",
	}, []string{"queue"})

	messagesSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scbroker_messages_sent_total",
		Help: "Total messages delivered to clients.",
	}, []string{"queue"})

	bytesSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scbroker_bytes_sent_total",
		Help: "Total payload bytes delivered to clients.",
	}, []string{"queue"})
)

func init() {
	prometheus.MustRegister(
		clientsActive,
		groupsActive,
		ringSize,
		taskQueueDepth,
		resultQueueDepth,
		currentSequence,
		messagesReceivedTotal,
		bytesReceivedTotal,
		messagesSentTotal,
		bytesSentTotal,
	)
}

// Handler returns the promhttp handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// lastCumulative tracks the last-seen cumulative counters per queue so the
// periodic sampler can feed Prometheus's ever-increasing Counter type from
// the broker's resettable snapshot without double counting.
type lastCumulative struct {
	messagesReceived uint64
	bytesReceived    uint64
	messagesSent     uint64
	bytesSent        uint64
}

// Collect samples the queue's statistics once and updates every collector.
func Collect(q *broker.Queue, prev *lastCumulative) *lastCumulative {
	snap := q.GetStatisticsSnapshot(false)
	labels := prometheus.Labels{"queue": snap.QueueName}

	clientsActive.With(labels).Set(float64(snap.ClientCount))
	groupsActive.With(labels).Set(float64(snap.GroupCount))
	ringSize.With(labels).Set(float64(snap.RingSize))
	taskQueueDepth.With(labels).Set(float64(snap.TaskQueueDepth))
	resultQueueDepth.With(labels).Set(float64(snap.ResultQueueDepth))
	currentSequence.With(labels).Set(float64(snap.CurrentSequence))

	if prev == nil {
		prev = &lastCumulative{}
	}
	if d := snap.MessagesReceived - prev.messagesReceived; d > 0 {
		messagesReceivedTotal.With(labels).Add(float64(d))
	}
	if d := snap.BytesReceived - prev.bytesReceived; d > 0 {
		bytesReceivedTotal.With(labels).Add(float64(d))
	}
	if d := snap.MessagesSent - prev.messagesSent; d > 0 {
		messagesSentTotal.With(labels).Add(float64(d))
	}
	if d := snap.BytesSent - prev.bytesSent; d > 0 {
		bytesSentTotal.With(labels).Add(float64(d))
	}

	return &lastCumulative{
		messagesReceived: snap.MessagesReceived,
		bytesReceived:    snap.BytesReceived,
		messagesSent:     snap.MessagesSent,
		bytesSent:        snap.BytesSent,
	}
}

// Run samples q's statistics into the Prometheus collectors every interval
// until ctx is cancelled.
func Run(ctx context.Context, q *broker.Queue, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var prev *lastCumulative
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prev = Collect(q, prev)
		}
	}
}
