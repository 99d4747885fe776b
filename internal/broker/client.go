package broker

import (
	"sync"
	"sync/atomic"
	"time"
)

// Client is the broker-side contract a transport's connection object must
// satisfy. The broker only ever calls these methods; everything else a
// transport needs (Name, Memory, the Set* configuration calls) comes from
// embedding *BaseClient, which supplies the broker-owned bookkeeping the
// abstract Client carries (sequence counter, ack window, inactivity clock,
// scratch area).
type Client interface {
	Name() string
	IPAddress() string
	Publish(sender Client, msg *Message) int
	Enter(group *Group, newMember Client, msg *Message)
	Leave(group *Group, oldMember Client, msg *Message)
	Disconnected(peer Client, msg *Message)
	Ack()
	Dispose()
}

// BaseClient is the broker-owned state every connected client carries. A
// transport's connection type embeds *BaseClient and implements the
// remaining Client methods (IPAddress, Publish, Enter, Leave, Disconnected,
// Ack, Dispose) itself; Name and the Set* configuration calls are promoted
// from the embedded type for free.
type BaseClient struct {
	mu   sync.RWMutex
	name string

	scratch scratch
	ack     ackWindow

	sequenceNumber    uint64
	inactivityCounter int64 // seconds since last activity; atomic

	created         time.Time
	lastSOHReceived time.Time

	wantsMembershipInfo atomic.Bool
	discardSelf         atomic.Bool

	// epoch is bumped every time this BaseClient is (re)connected to a
	// queue. flushProcessedMessages compares epochs instead of pointer
	// identity to detect a stale sender across a disconnect/reconnect.
	epoch uint64

	queue *Queue
}

// NewBaseClient constructs broker-owned state with self-discard on by
// default, matching spec.md's default for selfDiscard.
func NewBaseClient() *BaseClient {
	b := &BaseClient{}
	b.discardSelf.Store(true)
	return b
}

// Name returns the unique name assigned at connect time (empty before
// connect succeeds).
func (b *BaseClient) Name() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.name
}

// Memory returns a slice view into the client's 128-byte scratch area at
// offset, as previously obtained from Queue.AllocateClientHeap.
func (b *BaseClient) Memory(offset int) []byte {
	return b.scratch.memory(offset)
}

// SetMembershipInformationEnabled toggles whether this client receives
// enter/leave/disconnected notifications for other clients.
func (b *BaseClient) SetMembershipInformationEnabled(v bool) {
	b.wantsMembershipInfo.Store(v)
}

// WantsMembershipInformation reports the current setting.
func (b *BaseClient) WantsMembershipInformation() bool {
	return b.wantsMembershipInfo.Load()
}

// SetDiscardSelf toggles whether messages this client sent are withheld
// from its own deliveries.
func (b *BaseClient) SetDiscardSelf(v bool) {
	b.discardSelf.Store(v)
}

// SetAcknowledgeWindow configures the batch size for this client's
// acknowledgement window (spec.md §4.5.6).
func (b *BaseClient) SetAcknowledgeWindow(n int) {
	b.ack.setWindow(n)
}

// ShouldDiscard implements the self-discard rule: a concrete Client's
// Publish method should call this first and return 0 without delivering
// when it reports true.
func (b *BaseClient) ShouldDiscard(msg *Message) bool {
	return b.discardSelf.Load() && msg.DiscardsSelf(b.Name())
}

// Created returns when the client connected.
func (b *BaseClient) Created() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.created
}

func (b *BaseClient) setName(name string) {
	b.mu.Lock()
	b.name = name
	b.mu.Unlock()
}

func (b *BaseClient) bindQueue(q *Queue, now time.Time) {
	b.mu.Lock()
	b.queue = q
	b.created = now
	b.mu.Unlock()
	atomic.StoreUint64(&b.epoch, atomic.AddUint64(&q.epochCounter, 1))
	atomic.StoreInt64(&b.inactivityCounter, 0)
}

func (b *BaseClient) unbindQueue() {
	b.mu.Lock()
	b.queue = nil
	b.mu.Unlock()
}

func (b *BaseClient) boundQueue() *Queue {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.queue
}

func (b *BaseClient) currentEpoch() uint64 {
	return atomic.LoadUint64(&b.epoch)
}

func (b *BaseClient) resetInactivity() {
	atomic.StoreInt64(&b.inactivityCounter, 0)
}

func (b *BaseClient) tickInactivity() int64 {
	return atomic.AddInt64(&b.inactivityCounter, 1)
}

func (b *BaseClient) markSOHReceived(now time.Time) {
	b.mu.Lock()
	b.lastSOHReceived = now
	b.mu.Unlock()
}

func (b *BaseClient) nextSequenceNumber() uint64 {
	return atomic.AddUint64(&b.sequenceNumber, 1)
}

// uptimeSeconds returns whole seconds since Created(), floored at zero.
func (b *BaseClient) uptimeSeconds(now time.Time) int64 {
	created := b.Created()
	if created.IsZero() {
		return 0
	}
	d := now.Sub(created)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

// base satisfies hasBase so any type embedding *BaseClient exposes its
// broker-owned state back to the Queue through promotion, without the
// exported Client interface needing to mention BaseClient at all.
func (b *BaseClient) base() *BaseClient {
	return b
}

// hasBase is implemented by every concrete Client via an embedded
// *BaseClient. It is unexported so external transport packages cannot
// bypass BaseClient and hand the Queue a client with no broker state.
type hasBase interface {
	base() *BaseClient
}

// baseOf extracts the broker-owned state from a Client. It panics if c does
// not embed *BaseClient, which would be a transport programming error
// caught the first time the client is used, not a runtime condition to
// recover from.
func baseOf(c Client) *BaseClient {
	hb, ok := c.(hasBase)
	if !ok {
		panic("broker: Client does not embed *BaseClient")
	}
	return hb.base()
}
