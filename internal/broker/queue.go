package broker

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	gopsmem "github.com/shirou/gopsutil/v3/mem"
	gopsprocess "github.com/shirou/gopsutil/v3/process"
)

// ReservedSenderName is the broker's own sender identity, occupied in the
// client namespace at construction so no transport client may claim it.
const ReservedSenderName = "MASTER"

// StatusGroupName is the group the periodic SOH broadcast targets. It is
// added automatically at construction.
const StatusGroupName = "STATUS_GROUP"

const (
	// DefaultTaskQueueCapacity bounds the tasks/results channels.
	DefaultTaskQueueCapacity = 10
	// DefaultInactivityLimit is the number of idle seconds before a client
	// is disposed.
	DefaultInactivityLimit = 36
	// DefaultSOHInterval is the number of seconds between SOH broadcasts.
	DefaultSOHInterval = 12
)

// QueueConfig configures the knobs spec.md leaves as "configured, default
// X" values.
type QueueConfig struct {
	RingCapacity            int
	TaskQueueCapacity       int
	InactivityLimitSeconds  int64
	SOHIntervalSeconds      int64
	ReservedSenderName      string
	StatusGroupName         string
	PublishOnProcessorError bool
}

// DefaultQueueConfig returns spec.md's documented defaults.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		RingCapacity:            DefaultRingCapacity,
		TaskQueueCapacity:       DefaultTaskQueueCapacity,
		InactivityLimitSeconds:  DefaultInactivityLimit,
		SOHIntervalSeconds:      DefaultSOHInterval,
		ReservedSenderName:      ReservedSenderName,
		StatusGroupName:         StatusGroupName,
		PublishOnProcessorError: true,
	}
}

type pushTask struct {
	senderName  string
	senderEpoch uint64
	hasSender   bool
	msg         *Message
}

// Queue is the central broker component: one named hub owning groups,
// clients, processors, the message ring and the worker that runs the
// message-processor pipeline.
type Queue struct {
	name           string
	maxPayloadSize int
	cfg            QueueConfig
	codec          CodecRegistry

	clientsMu   sync.RWMutex
	clients     map[string]Client
	reservedSet map[string]bool

	groupsMu sync.RWMutex
	groups   map[string]*Group

	ringBuf   *ring
	allocator *bumpAllocator

	sequenceCounter uint64
	epochCounter    uint64

	connectionProcessors []ConnectionProcessor
	messageProcessors    []MessageProcessor
	infoProcessors       []InfoProcessor
	allProcessors        []Processor

	dispatcher MessageDispatcher

	tasks   chan pushTask
	results chan pushTask

	workerCtx    context.Context
	workerCancel context.CancelFunc
	wg           sync.WaitGroup
	activated    bool

	shutdownOnce sync.Once
	mu           sync.Mutex // guards activated

	createdAt time.Time
	lastSOH   time.Time

	stats queueStats
}

// NewQueue constructs a named broker instance. codec may be nil if the
// transport only ever exchanges pre-decoded Objects.
func NewQueue(name string, maxPayloadSize int, codec CodecRegistry, cfg QueueConfig) *Queue {
	if cfg.RingCapacity <= 0 {
		cfg.RingCapacity = DefaultRingCapacity
	}
	if cfg.TaskQueueCapacity <= 0 {
		cfg.TaskQueueCapacity = DefaultTaskQueueCapacity
	}
	if cfg.InactivityLimitSeconds <= 0 {
		cfg.InactivityLimitSeconds = DefaultInactivityLimit
	}
	if cfg.SOHIntervalSeconds <= 0 {
		cfg.SOHIntervalSeconds = DefaultSOHInterval
	}
	if cfg.ReservedSenderName == "" {
		cfg.ReservedSenderName = ReservedSenderName
	}
	if cfg.StatusGroupName == "" {
		cfg.StatusGroupName = StatusGroupName
	}

	now := time.Now()
	q := &Queue{
		name:           name,
		maxPayloadSize: maxPayloadSize,
		cfg:            cfg,
		codec:          codec,
		clients:        make(map[string]Client),
		reservedSet:    map[string]bool{cfg.ReservedSenderName: true},
		groups:         make(map[string]*Group),
		ringBuf:        newRing(cfg.RingCapacity),
		allocator:      newBumpAllocator(ClientScratchSize),
		tasks:          make(chan pushTask, cfg.TaskQueueCapacity),
		results:        make(chan pushTask, cfg.TaskQueueCapacity),
		createdAt:      now,
		lastSOH:        now,
	}
	q.groups[cfg.StatusGroupName] = newGroup(cfg.StatusGroupName)
	return q
}

func (q *Queue) Name() string { return q.name }

// AddGroup registers a new named pub/sub channel.
func (q *Queue) AddGroup(name string) Result {
	q.groupsMu.Lock()
	defer q.groupsMu.Unlock()

	if _, exists := q.groups[name]; exists {
		return GroupNameNotUnique
	}
	q.clientsMu.RLock()
	_, clientCollision := q.clients[name]
	reserved := q.reservedSet[name]
	q.clientsMu.RUnlock()
	if clientCollision || reserved {
		return GroupNameNotUnique
	}
	q.groups[name] = newGroup(name)
	return Success
}

func (q *Queue) group(name string) *Group {
	q.groupsMu.RLock()
	defer q.groupsMu.RUnlock()
	return q.groups[name]
}

// Add attaches a processor before Activate. Processors are filtered into
// their capability-specific slices once, here, so the hot paths never
// type-assert.
func (q *Queue) Add(p Processor) bool {
	caps := p.Capabilities()
	if caps == 0 {
		return false
	}
	if caps.Has(CapMessage) {
		mp, ok := p.(MessageProcessor)
		if !ok {
			return false
		}
		q.messageProcessors = append(q.messageProcessors, mp)
	}
	if caps.Has(CapConnection) {
		cp, ok := p.(ConnectionProcessor)
		if !ok {
			return false
		}
		q.connectionProcessors = append(q.connectionProcessors, cp)
	}
	if caps.Has(CapInfo) {
		ip, ok := p.(InfoProcessor)
		if !ok {
			return false
		}
		q.infoProcessors = append(q.infoProcessors, ip)
	}
	q.allProcessors = append(q.allProcessors, p)
	return true
}

// SetMessageDispatcher installs the worker→owner concurrency bridge. Must
// be called before Activate.
func (q *Queue) SetMessageDispatcher(d MessageDispatcher) {
	q.dispatcher = d
}

// Activate starts the worker goroutine, if at least one message processor
// is attached.
func (q *Queue) Activate() {
	q.mu.Lock()
	if q.activated {
		q.mu.Unlock()
		return
	}
	q.activated = true
	q.mu.Unlock()

	if len(q.messageProcessors) == 0 {
		return
	}
	q.workerCtx, q.workerCancel = context.WithCancel(context.Background())
	q.wg.Add(1)
	go q.processingLoop()
}

func (q *Queue) processingLoop() {
	defer q.wg.Done()
	for {
		select {
		case task, ok := <-q.tasks:
			if !ok {
				return
			}
			failed := false
			if task.msg.Type == Regular {
				for _, mp := range q.messageProcessors {
					if err := mp.Process(task.msg); err != nil {
						failed = true
					}
				}
			}
			task.msg.Processed = true
			if failed && !q.cfg.PublishOnProcessorError {
				continue
			}
			q.taskReady(task)
		case <-q.workerCtx.Done():
			return
		}
	}
}

func (q *Queue) taskReady(task pushTask) {
	if q.dispatcher != nil {
		select {
		case q.results <- task:
			q.dispatcher.MessageAvailable(q)
		case <-q.workerCtx.Done():
		}
		return
	}
	q.publishResolved(task)
}

// FlushProcessedMessages drains results, republishing each message. The
// original sender is resolved by name+epoch rather than by pointer
// identity: a disconnect/reconnect between submission and processing nulls
// the sender so the message still publishes but per-client bookkeeping
// (sequence number, ack window) is skipped for that publish.
func (q *Queue) FlushProcessedMessages() {
	for {
		select {
		case task := <-q.results:
			q.publishResolved(task)
		default:
			return
		}
	}
}

func (q *Queue) publishResolved(task pushTask) {
	var sender Client
	if task.hasSender {
		q.clientsMu.RLock()
		current, ok := q.clients[task.senderName]
		q.clientsMu.RUnlock()
		if ok && baseOf(current).currentEpoch() == task.senderEpoch {
			sender = current
		}
	}
	q.publish(sender, task.msg)
}

// Connect registers a new client. desiredName may be empty to request an
// auto-generated name.
func (q *Queue) Connect(c Client, desiredName string, inParams map[string]string) (string, map[string]string, Result) {
	base := baseOf(c)
	outParams := make(map[string]string)

	name := desiredName
	if name == "" {
		generated, ok := q.generateUniqueName()
		if !ok {
			return "", outParams, ClientNameNotUnique
		}
		name = generated
	} else if q.nameTaken(name) {
		return "", outParams, ClientNameNotUnique
	}

	for _, cp := range q.connectionProcessors {
		if !cp.AcceptConnection(c, inParams, outParams) {
			return "", outParams, ClientNotAccepted
		}
	}

	now := time.Now()
	base.setName(name)
	base.bindQueue(q, now)

	q.clientsMu.Lock()
	q.clients[name] = c
	q.clientsMu.Unlock()

	return name, outParams, Success
}

func (q *Queue) nameTaken(name string) bool {
	if q.reservedSet[name] {
		return true
	}
	q.clientsMu.RLock()
	_, clientExists := q.clients[name]
	q.clientsMu.RUnlock()
	if clientExists {
		return true
	}
	q.groupsMu.RLock()
	_, groupExists := q.groups[name]
	q.groupsMu.RUnlock()
	return groupExists
}

func (q *Queue) generateUniqueName() (string, bool) {
	for i := 0; i < 10; i++ {
		var buf [4]byte
		if _, err := rand.Read(buf[:]); err != nil {
			continue
		}
		name := fmt.Sprintf("%02x%02x%02x%02x", buf[0], buf[1], buf[2], buf[3])
		if !q.nameTaken(name) {
			return name, true
		}
	}
	return "", false
}

// Disconnect removes a client from every group and the client table,
// notifying members that want membership information.
func (q *Queue) Disconnect(c Client) Result {
	name := c.Name()

	q.groupsMu.RLock()
	groups := make([]*Group, 0, len(q.groups))
	for _, g := range q.groups {
		groups = append(groups, g)
	}
	q.groupsMu.RUnlock()

	leaveMsg := q.membershipNotice()
	for _, g := range groups {
		if !g.hasMember(c) {
			continue
		}
		g.removeMember(c)
		for _, m := range g.memberSnapshot() {
			if baseOf(m).WantsMembershipInformation() {
				m.Leave(g, c, leaveMsg)
			}
		}
	}

	for _, cp := range q.connectionProcessors {
		cp.DropConnection(c)
	}

	q.clientsMu.Lock()
	delete(q.clients, name)
	others := make([]Client, 0, len(q.clients))
	for _, other := range q.clients {
		others = append(others, other)
	}
	q.clientsMu.Unlock()

	disconnectedMsg := q.membershipNotice()
	for _, other := range others {
		if baseOf(other).WantsMembershipInformation() {
			other.Disconnected(c, disconnectedMsg)
		}
	}

	baseOf(c).unbindQueue()
	return Success
}

// membershipNotice builds the Transient record passed to Enter/Leave/
// Disconnected callbacks: these never touch the ring or get a sequence
// number, they're just a timestamped carrier for the notification.
func (q *Queue) membershipNotice() *Message {
	return &Message{
		Type:           Transient,
		Timestamp:      time.Now(),
		SequenceNumber: NoSequence,
	}
}

// Subscribe adds c to the named group, notifying the newcomer and every
// existing membership-aware member.
func (q *Queue) Subscribe(c Client, groupName string) Result {
	g := q.group(groupName)
	if g == nil {
		return GroupDoesNotExist
	}
	if g.hasMember(c) {
		return GroupAlreadySubscribed
	}
	g.addMember(c)

	enterMsg := q.membershipNotice()
	c.Enter(g, c, enterMsg)
	for _, m := range g.memberSnapshot() {
		if m.Name() == c.Name() {
			continue
		}
		if baseOf(m).WantsMembershipInformation() {
			m.Enter(g, c, enterMsg)
		}
	}
	return Success
}

// Unsubscribe removes c from the named group, notifying remaining
// membership-aware members.
func (q *Queue) Unsubscribe(c Client, groupName string) Result {
	g := q.group(groupName)
	if g == nil {
		return GroupDoesNotExist
	}
	if !g.hasMember(c) {
		return GroupNotSubscribed
	}
	g.removeMember(c)

	leaveMsg := q.membershipNotice()
	c.Leave(g, c, leaveMsg)
	for _, m := range g.memberSnapshot() {
		if baseOf(m).WantsMembershipInformation() {
			m.Leave(g, c, leaveMsg)
		}
	}
	return Success
}

// Push is the ingress entry point from a transport. sender must already be
// connected.
func (q *Queue) Push(sender Client, msg *Message, packetSize int) Result {
	q.FlushProcessedMessages()

	if q.maxPayloadSize > 0 && len(msg.Payload) > q.maxPayloadSize {
		return MessageNotAccepted
	}

	g := q.group(msg.Target)
	var targetClient Client
	if g == nil {
		q.clientsMu.RLock()
		targetClient = q.clients[msg.Target]
		q.clientsMu.RUnlock()
		if targetClient == nil {
			return GroupDoesNotExist
		}
	} else {
		g.addReceived(1, uint64(len(msg.Payload)), uint64(len(msg.Payload)))
	}

	senderBase := baseOf(sender)
	msg.Sender = sender.Name()
	senderBase.resetInactivity()
	q.stats.addReceived(1, uint64(len(msg.Payload)))

	if msg.Type == Status {
		now := time.Now()
		senderBase.markSOHReceived(now)
		fields := ParseStatusPayload(msg.Payload)
		fields["uptime"] = fmt.Sprintf("%d", senderBase.uptimeSeconds(now))
		fields["address"] = sender.IPAddress()
		msg.Payload = WriteStatusPayload(fields)
		msg.SelfDiscard = false
	}

	if msg.Type >= Transient || len(q.messageProcessors) == 0 {
		q.publish(sender, msg)
		return Success
	}

	task := pushTask{
		senderName:  sender.Name(),
		senderEpoch: senderBase.currentEpoch(),
		hasSender:   true,
		msg:         msg,
	}
	q.tasks <- task
	return Success
}

// publish is the egress path, run on the owner goroutine (or, absent a
// dispatcher, optionally from the worker goroutine per taskReady).
func (q *Queue) publish(sender Client, msg *Message) {
	msg.Timestamp = time.Now()

	if msg.Type == Regular {
		msg.SequenceNumber = atomic.AddUint64(&q.sequenceCounter, 1)
		q.ringBuf.push(msg)
	}

	if sender != nil {
		senderBase := baseOf(sender)
		senderBase.nextSequenceNumber()
		senderBase.ack.onPublish(msg.Timestamp, sender.Ack)
	}

	payloadLen := uint64(len(msg.Payload))

	if g := q.group(msg.Target); g != nil {
		msg.internalGroup = g
		members := g.memberSnapshot()
		for _, m := range members {
			m.Publish(sender, msg)
		}
		g.addSent(uint64(len(members)), payloadLen*uint64(len(members)), payloadLen*uint64(len(members)))
		q.stats.addSent(uint64(len(members)), payloadLen*uint64(len(members)))
		return
	}

	q.clientsMu.RLock()
	target := q.clients[msg.Target]
	q.clientsMu.RUnlock()
	if target != nil {
		target.Publish(sender, msg)
		q.stats.addSent(1, payloadLen)
	}
}

// GetMessage returns the oldest ring message at or after seq deliverable
// to client, or nil.
func (q *Queue) GetMessage(seq uint64, client Client) *Message {
	msg := q.ringBuf.getMessage(seq, func(m *Message) bool {
		return q.deliverableTo(m, client)
	})
	if msg == nil {
		return nil
	}
	if g := msg.Group(); g != nil {
		g.addSent(1, uint64(len(msg.Payload)), uint64(len(msg.Payload)))
	}
	q.stats.addSent(1, uint64(len(msg.Payload)))
	return msg
}

func (q *Queue) deliverableTo(m *Message, client Client) bool {
	if g := m.Group(); g != nil {
		return g.hasMember(client)
	}
	return m.Target == client.Name()
}

// AllocateClientHeap returns a bump-allocated offset shared by every
// client's 128-byte scratch area, or -1/NotEnoughClientHeap on exhaustion.
func (q *Queue) AllocateClientHeap(n int) (int, Result) {
	return q.allocator.allocate(n)
}

// Timeout runs the cooperative ~1 Hz tick: ack-window flush, inactivity
// eviction, and the periodic SOH broadcast. It must be called from the
// same goroutine that calls Push/publish.
func (q *Queue) Timeout() {
	now := time.Now()

	q.clientsMu.RLock()
	clients := make([]Client, 0, len(q.clients))
	for _, c := range q.clients {
		clients = append(clients, c)
	}
	q.clientsMu.RUnlock()

	for _, c := range clients {
		base := baseOf(c)
		base.ack.flushIfStale(now, c.Ack)
		if base.tickInactivity() > q.cfg.InactivityLimitSeconds {
			c.Dispose()
		}
	}

	if now.Sub(q.lastSOH) >= time.Duration(q.cfg.SOHIntervalSeconds)*time.Second {
		q.lastSOH = now
		q.broadcastSOH(now, len(clients))
	}
}

func (q *Queue) broadcastSOH(now time.Time, liveObjects int) {
	fields := map[string]string{
		"hostname":         hostname(),
		"programname":      q.name,
		"pid":              fmt.Sprintf("%d", os.Getpid()),
		"time":             now.UTC().Format(time.RFC3339),
		"clientname":       q.cfg.ReservedSenderName,
		"objectcount":      fmt.Sprintf("%d", liveObjects),
		"messagequeuesize": fmt.Sprintf("%d", len(q.tasks)),
	}
	q.addProcessStats(fields)
	for _, ip := range q.infoProcessors {
		ip.GetInfo(now, fields)
	}

	msg := &Message{
		Sender:         q.cfg.ReservedSenderName,
		Target:         q.cfg.StatusGroupName,
		Type:           Status,
		SelfDiscard:    false,
		SequenceNumber: NoSequence,
		Payload:        WriteStatusPayload(fields),
	}
	q.publish(nil, msg)
}

// addProcessStats fills cpuusage/clientmemoryusage/totalmemory from the
// running process and host, falling back to a system-wide memory read when
// the per-process sample is unavailable (e.g. sandboxed environments
// without /proc access).
func (q *Queue) addProcessStats(fields map[string]string) {
	proc, err := gopsprocess.NewProcess(int32(os.Getpid()))
	if err == nil {
		if cpuPct, err := proc.CPUPercent(); err == nil {
			fields["cpuusage"] = fmt.Sprintf("%.3f", cpuPct/100.0)
		}
		if memInfo, err := proc.MemoryInfo(); err == nil {
			fields["clientmemoryusage"] = fmt.Sprintf("%d", memInfo.RSS)
		}
	}
	if vm, err := gopsmem.VirtualMemory(); err == nil {
		fields["totalmemory"] = fmt.Sprintf("%d", vm.Total)
		if _, ok := fields["clientmemoryusage"]; !ok {
			fields["clientmemoryusage"] = fmt.Sprintf("%d", vm.Used)
		}
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

// Shutdown stops the worker, releases every client and group reference,
// clears the ring, and closes every processor. It is idempotent and safe
// to call on a queue that was never Activated.
func (q *Queue) Shutdown() {
	q.shutdownOnce.Do(func() {
		if q.workerCancel != nil {
			q.workerCancel()
		}
		close(q.tasks)
		q.wg.Wait()

		q.clientsMu.Lock()
		for _, c := range q.clients {
			baseOf(c).unbindQueue()
		}
		q.clients = make(map[string]Client)
		q.clientsMu.Unlock()

		q.groupsMu.Lock()
		for _, g := range q.groups {
			g.clearMembers()
		}
		q.groupsMu.Unlock()

		drainTasks(q.tasks)
		close(q.results)
		drainTasks(q.results)

		q.ringBuf.clear()
		atomic.StoreUint64(&q.sequenceCounter, 0)

		for _, p := range q.allProcessors {
			p.Close()
		}
	})
}

func drainTasks(ch chan pushTask) {
	for range ch {
	}
}
