package broker

import (
	"strings"
	"time"
)

// MessageType discriminates delivery semantics: Regular messages get a
// sequence number and a ring slot, Transient and Status messages bypass both.
type MessageType int

const (
	Unspecified MessageType = iota
	Regular
	Transient
	Status
)

// NoSequence is the sentinel sequence number for a message that has not
// (yet) been assigned one by Queue.publish.
const NoSequence uint64 = ^uint64(0)

// CodecRegistry is the contract Message.Encode/Decode dispatch through. It is
// implemented by internal/codec.Registry; broker never imports that package
// directly so the wire format stays swappable without touching the core.
type CodecRegistry interface {
	Decode(mimeType, encoding string, payload []byte) (object interface{}, schemaVersion int, err error)
	Encode(mimeType, encoding string, object interface{}, schemaVersion int) (payload []byte, err error)
}

// Message is the carrier of one payload plus its delivery metadata. A Message
// may be shared between the ring and any number of in-flight publishes, so
// callers must not mutate a Message once it has been handed to Queue.Push.
type Message struct {
	Sender   string
	Target   string
	MimeType string
	Encoding string

	Payload []byte
	Object  interface{}

	Timestamp time.Time
	Type      MessageType

	SelfDiscard bool
	Processed   bool

	SequenceNumber uint64
	SchemaVersion  int

	// internalGroup is set by Queue.publish when Target names a group, so
	// Client implementations can inspect which group a delivery came through
	// without a second lookup.
	internalGroup *Group
}

// NewMessage builds a Message with the sequence number left unassigned.
func NewMessage(sender, target, mimeType, encoding string, payload []byte) *Message {
	return &Message{
		Sender:         sender,
		Target:         target,
		MimeType:       mimeType,
		Encoding:       encoding,
		Payload:        payload,
		Type:           Regular,
		SelfDiscard:    true,
		SequenceNumber: NoSequence,
	}
}

// Group returns the group a message was published through, or nil for
// peer-to-peer or not-yet-published messages.
func (m *Message) Group() *Group {
	return m.internalGroup
}

// Decode populates Object from Payload via reg, unless Object is already set.
// It returns false on an unknown mime/encoding pair or a codec failure, and
// leaves Object cleared on failure so a half-decoded Message is never
// observable.
func (m *Message) Decode(reg CodecRegistry) bool {
	if m.Object != nil {
		return true
	}
	if reg == nil {
		return false
	}
	obj, schemaVersion, err := reg.Decode(m.MimeType, m.Encoding, m.Payload)
	if err != nil {
		m.Object = nil
		return false
	}
	m.Object = obj
	m.SchemaVersion = schemaVersion
	return true
}

// Encode serializes Object into Payload via reg. If Object is unset, Payload
// is cleared and Encode reports success: an object-less Message is simply a
// raw-bytes message and there is nothing to serialize.
func (m *Message) Encode(reg CodecRegistry) bool {
	if m.Object == nil {
		m.Payload = nil
		return true
	}
	if reg == nil {
		return false
	}
	payload, err := reg.Encode(m.MimeType, m.Encoding, m.Object, m.SchemaVersion)
	if err != nil {
		return false
	}
	m.Payload = payload
	return true
}

// DiscardsSelf reports whether m must not be delivered to a client named
// senderName, per the self-discard rule.
func (m *Message) DiscardsSelf(senderName string) bool {
	return m.SelfDiscard && m.Sender == senderName
}

// ParseStatusPayload parses a Status message's "k=v&k&k=v" payload into a
// map, where a bare key means "flag present, no value".
func ParseStatusPayload(payload []byte) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(string(payload), "&") {
		if pair == "" {
			continue
		}
		if idx := strings.IndexByte(pair, '='); idx >= 0 {
			out[pair[:idx]] = pair[idx+1:]
		} else {
			out[pair] = ""
		}
	}
	return out
}

// WriteStatusPayload renders a status map back to "k=v&k&k=v" form. Key
// order is sorted so the wire form is deterministic for tests.
func WriteStatusPayload(fields map[string]string) []byte {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sortStrings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		if v := fields[k]; v != "" {
			b.WriteByte('=')
			b.WriteString(v)
		}
	}
	return []byte(b.String())
}

// sortStrings avoids pulling in "sort" just for a call site; kept trivial
// (insertion sort) since status payloads carry a handful of keys.
func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
