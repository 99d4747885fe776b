// Package wsclient adapts a raw gobwas/ws connection into a broker.Client,
// grounded on src/server.go's readPump/writePump pair: one goroutine reads
// frames and calls Queue.Push, another drains a buffered send channel and
// writes frames, with a ticker driving periodic pings the same way
// pingPeriod/pongWait do in the teacher's server.
package wsclient

import (
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"

	"github.com/scbroker/broker/internal/broker"
	"github.com/scbroker/broker/internal/codec"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendDepth  = 256
)

// Client is a WebSocket-backed broker.Client. It embeds *broker.BaseClient
// so the broker package can reach its broker-owned state via baseOf, and it
// implements the remaining virtual hooks itself.
type Client struct {
	*broker.BaseClient

	conn   net.Conn
	addr   string
	send   chan []byte
	logger zerolog.Logger
	codec  *codec.Registry

	closeOnce sync.Once
	done      chan struct{}
}

// NewClient wraps an already-upgraded connection. Callers still need to
// call Queue.Connect and then Serve to start the read/write pumps.
func NewClient(conn net.Conn, reg *codec.Registry, logger zerolog.Logger) *Client {
	return &Client{
		BaseClient: broker.NewBaseClient(),
		conn:       conn,
		addr:       conn.RemoteAddr().String(),
		send:       make(chan []byte, sendDepth),
		logger:     logger,
		codec:      reg,
		done:       make(chan struct{}),
	}
}

func (c *Client) IPAddress() string { return c.addr }

// Publish encodes msg's Object (if no raw Payload is already set) and
// queues the frame for the write pump. It honors the self-discard rule via
// BaseClient.ShouldDiscard.
func (c *Client) Publish(sender broker.Client, msg *broker.Message) int {
	if c.ShouldDiscard(msg) {
		return 0
	}
	payload := msg.Payload
	if payload == nil && msg.Object != nil && c.codec != nil {
		if !msg.Encode(c.codec) {
			return -1
		}
		payload = msg.Payload
	}
	select {
	case c.send <- payload:
		return len(payload)
	default:
		c.logger.Warn().Str("client", c.Name()).Msg("send buffer full, disconnecting slow client")
		c.Dispose()
		return -1
	}
}

func (c *Client) Enter(group *broker.Group, newMember broker.Client, msg *broker.Message) {
	c.deliverNotice(msg)
}

func (c *Client) Leave(group *broker.Group, oldMember broker.Client, msg *broker.Message) {
	c.deliverNotice(msg)
}

func (c *Client) Disconnected(peer broker.Client, msg *broker.Message) {
	c.deliverNotice(msg)
}

func (c *Client) deliverNotice(msg *broker.Message) {
	if msg == nil || c.codec == nil {
		return
	}
	if msg.Payload == nil && msg.Object != nil {
		msg.Encode(c.codec)
	}
	select {
	case c.send <- msg.Payload:
	default:
	}
}

func (c *Client) Ack() {
	// No client-visible effect; acknowledgement windowing is purely a
	// broker-side throttle on how often Ack fires.
}

func (c *Client) Dispose() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Serve starts the read and write pumps and blocks until the connection
// closes, at which point it disconnects the client from q.
func (c *Client) Serve(q *broker.Queue) {
	go c.writePump()
	c.readPump(q)
	q.Disconnect(c)
}

func (c *Client) readPump(q *broker.Queue) {
	defer c.Dispose()
	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		payload, op, err := wsutil.ReadClientData(c.conn)
		if err != nil {
			c.logger.Debug().Str("client", c.Name()).Err(err).Msg("client disconnected")
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch op {
		case ws.OpText, ws.OpBinary:
			mimeType := codec.MimeJSON
			if op == ws.OpBinary {
				mimeType = codec.MimeBinary
			}
			msg := broker.NewMessage(c.Name(), "", mimeType, "", payload)
			if res := q.Push(c, msg, len(payload)); !res.Ok() {
				c.logger.Debug().Str("client", c.Name()).Str("result", res.String()).Msg("push rejected")
			}
		case ws.OpClose:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.Dispose()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpBinary, payload); err != nil {
				c.logger.Debug().Str("client", c.Name()).Err(err).Msg("write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
