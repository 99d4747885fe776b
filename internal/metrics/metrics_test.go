package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/scbroker/broker/internal/broker"
)

func TestCollectTracksDeltasAcrossCalls(t *testing.T) {
	q := broker.NewQueue("metrics-test", 4096, nil, broker.DefaultQueueConfig())
	require.True(t, q.AddGroup("g").Ok())

	prev := Collect(q, nil)
	require.NotNil(t, prev)

	before := testutil.ToFloat64(messagesReceivedTotal.With(map[string]string{"queue": "metrics-test"}))

	c := newStubClient()
	_, _, res := q.Connect(c, "alice", nil)
	require.True(t, res.Ok())
	require.True(t, q.Subscribe(c, "g").Ok())

	msg := broker.NewMessage("alice", "g", "text/plain", "", []byte("hi"))
	require.True(t, q.Push(c, msg, 2).Ok())

	prev = Collect(q, prev)
	after := testutil.ToFloat64(messagesReceivedTotal.With(map[string]string{"queue": "metrics-test"}))
	require.Greater(t, after, before)

	snap := q.GetStatisticsSnapshot(false)
	require.Equal(t, 1, snap.ClientCount)
	require.Equal(t, float64(snap.ClientCount), testutil.ToFloat64(clientsActive.With(map[string]string{"queue": "metrics-test"})))
}

type stubClient struct {
	*broker.BaseClient
}

func newStubClient() *stubClient { return &stubClient{BaseClient: broker.NewBaseClient()} }

func (c *stubClient) IPAddress() string                                    { return "127.0.0.1" }
func (c *stubClient) Publish(broker.Client, *broker.Message) int           { return 0 }
func (c *stubClient) Enter(*broker.Group, broker.Client, *broker.Message)  {}
func (c *stubClient) Leave(*broker.Group, broker.Client, *broker.Message)  {}
func (c *stubClient) Disconnected(broker.Client, *broker.Message)          {}
func (c *stubClient) Ack()                                                 {}
func (c *stubClient) Dispose()                                             {}
