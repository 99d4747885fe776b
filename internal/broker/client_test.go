package broker

import "sync"

// testClient is a minimal broker.Client used across the broker package's
// tests: it embeds *BaseClient for the broker-owned state and records every
// delivery it receives so assertions can inspect what was published to it.
type testClient struct {
	*BaseClient

	mu       sync.Mutex
	received []*Message
	notices  []*Message
	disposed bool
	ackCount int
}

func newTestClient() *testClient {
	return &testClient{BaseClient: NewBaseClient()}
}

func (c *testClient) IPAddress() string { return "127.0.0.1" }

func (c *testClient) Publish(sender Client, msg *Message) int {
	if c.ShouldDiscard(msg) {
		return 0
	}
	c.mu.Lock()
	c.received = append(c.received, msg)
	c.mu.Unlock()
	return len(msg.Payload)
}

func (c *testClient) Enter(group *Group, newMember Client, msg *Message) {
	c.mu.Lock()
	c.notices = append(c.notices, msg)
	c.mu.Unlock()
}

func (c *testClient) Leave(group *Group, oldMember Client, msg *Message) {
	c.mu.Lock()
	c.notices = append(c.notices, msg)
	c.mu.Unlock()
}

func (c *testClient) Disconnected(peer Client, msg *Message) {
	c.mu.Lock()
	c.notices = append(c.notices, msg)
	c.mu.Unlock()
}

func (c *testClient) Ack() {
	c.mu.Lock()
	c.ackCount++
	c.mu.Unlock()
}

func (c *testClient) acks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ackCount
}

func (c *testClient) Dispose() {
	c.mu.Lock()
	c.disposed = true
	c.mu.Unlock()
}

func (c *testClient) messages() []*Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Message, len(c.received))
	copy(out, c.received)
	return out
}
