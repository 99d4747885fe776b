package broker

import "sync/atomic"

// queueStats holds the queue-level counters surfaced by
// GetStatisticsSnapshot, mirroring the atomic-counter style the teacher's
// Stats struct uses rather than a mutex-guarded aggregate.
type queueStats struct {
	messagesReceived uint64
	bytesReceived    uint64
	messagesSent     uint64
	bytesSent        uint64
}

func (s *queueStats) addReceived(messages, bytes uint64) {
	atomic.AddUint64(&s.messagesReceived, messages)
	atomic.AddUint64(&s.bytesReceived, bytes)
}

func (s *queueStats) addSent(messages, bytes uint64) {
	atomic.AddUint64(&s.messagesSent, messages)
	atomic.AddUint64(&s.bytesSent, bytes)
}

func (s *queueStats) snapshot(reset bool) (messagesReceived, bytesReceived, messagesSent, bytesSent uint64) {
	if reset {
		messagesReceived = atomic.SwapUint64(&s.messagesReceived, 0)
		bytesReceived = atomic.SwapUint64(&s.bytesReceived, 0)
		messagesSent = atomic.SwapUint64(&s.messagesSent, 0)
		bytesSent = atomic.SwapUint64(&s.bytesSent, 0)
		return
	}
	messagesReceived = atomic.LoadUint64(&s.messagesReceived)
	bytesReceived = atomic.LoadUint64(&s.bytesReceived)
	messagesSent = atomic.LoadUint64(&s.messagesSent)
	bytesSent = atomic.LoadUint64(&s.bytesSent)
	return
}

// StatisticsSnapshot is the point-in-time view returned by
// Queue.GetStatisticsSnapshot, suitable for logging or exporting as
// Prometheus gauges (see internal/metrics).
type StatisticsSnapshot struct {
	QueueName        string
	ClientCount      int
	GroupCount       int
	RingSize         int
	TaskQueueDepth   int
	ResultQueueDepth int
	MessagesReceived uint64
	BytesReceived    uint64
	MessagesSent     uint64
	BytesSent        uint64
	CurrentSequence  uint64
}

// GetStatisticsSnapshot returns the current counters, optionally resetting
// the cumulative ones back to zero.
func (q *Queue) GetStatisticsSnapshot(reset bool) StatisticsSnapshot {
	q.clientsMu.RLock()
	clientCount := len(q.clients)
	q.clientsMu.RUnlock()

	q.groupsMu.RLock()
	groupCount := len(q.groups)
	q.groupsMu.RUnlock()

	messagesReceived, bytesReceived, messagesSent, bytesSent := q.stats.snapshot(reset)

	return StatisticsSnapshot{
		QueueName:        q.name,
		ClientCount:      clientCount,
		GroupCount:       groupCount,
		RingSize:         q.ringBuf.len(),
		TaskQueueDepth:   len(q.tasks),
		ResultQueueDepth: len(q.results),
		MessagesReceived: messagesReceived,
		BytesReceived:    bytesReceived,
		MessagesSent:     messagesSent,
		BytesSent:        bytesSent,
		CurrentSequence:  atomic.LoadUint64(&q.sequenceCounter),
	}
}
