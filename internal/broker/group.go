package broker

import "sync"

// Tally is a pair of sent/received counters, used for messages, bytes, and
// payload-only byte counts on a Group.
type Tally struct {
	Sent     uint64
	Received uint64
}

// Group is a named, O(1)-membership pub/sub channel inside a Queue. The
// member set is guarded by its own lock so publish fan-out and
// subscribe/unsubscribe can proceed without holding the Queue's own lock any
// longer than it takes to look the group up.
type Group struct {
	groupName string

	mu      sync.RWMutex
	members map[string]Client

	Messages Tally
	Bytes    Tally
	Payload  Tally
}

func newGroup(name string) *Group {
	return &Group{
		groupName: name,
		members:   make(map[string]Client),
	}
}

// name returns the group's immutable name.
func (g *Group) name() string {
	return g.groupName
}

// Name is the exported accessor, mirroring Client.Name for external callers
// (e.g. Queue.GetStatisticsSnapshot, processor plugins).
func (g *Group) Name() string {
	return g.groupName
}

func (g *Group) addMember(c Client) {
	g.mu.Lock()
	g.members[c.Name()] = c
	g.mu.Unlock()
}

func (g *Group) removeMember(c Client) {
	g.mu.Lock()
	delete(g.members, c.Name())
	g.mu.Unlock()
}

func (g *Group) hasMember(c Client) bool {
	g.mu.RLock()
	_, ok := g.members[c.Name()]
	g.mu.RUnlock()
	return ok
}

func (g *Group) hasMemberNamed(name string) bool {
	g.mu.RLock()
	_, ok := g.members[name]
	g.mu.RUnlock()
	return ok
}

func (g *Group) clearMembers() {
	g.mu.Lock()
	g.members = make(map[string]Client)
	g.mu.Unlock()
}

// memberSnapshot returns a snapshot slice of the current membership. Taken under
// the read lock and copied out so callers can iterate without holding the
// group's lock across calls into client code.
func (g *Group) memberSnapshot() []Client {
	g.mu.RLock()
	out := make([]Client, 0, len(g.members))
	for _, c := range g.members {
		out = append(out, c)
	}
	g.mu.RUnlock()
	return out
}

func (g *Group) size() int {
	g.mu.RLock()
	n := len(g.members)
	g.mu.RUnlock()
	return n
}

func (g *Group) addReceived(messages, bytes, payload uint64) {
	g.Messages.Received += messages
	g.Bytes.Received += bytes
	g.Payload.Received += payload
}

func (g *Group) addSent(messages, bytes, payload uint64) {
	g.Messages.Sent += messages
	g.Bytes.Sent += bytes
	g.Payload.Sent += payload
}
