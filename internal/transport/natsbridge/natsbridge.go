// Package natsbridge ingests messages from a NATS JetStream subject into a
// broker.Queue, grounded on src/server.go's JetStream subscription: a
// durable, manually-acked consumer whose handler pushes each message into
// the queue and acks only once the push is accepted.
//
// The bridge is itself registered with the queue as a synthetic
// broker.Client (named "MASTER" is reserved, so it connects under its own
// generated name) purely so Queue.Push has a sender identity to stamp;
// it never receives deliveries itself (Publish is a no-op).
package natsbridge

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/scbroker/broker/internal/broker"
	"github.com/scbroker/broker/internal/codec"
)

// Config describes the JetStream stream/consumer the bridge subscribes to.
type Config struct {
	URL          string
	Subject      string
	StreamName   string
	ConsumerName string
	AckWait      time.Duration
	MaxAge       time.Duration
}

// ingestClient is a non-delivering synthetic Client used only as the
// sender identity for bridged messages.
type ingestClient struct {
	*broker.BaseClient
}

func (c *ingestClient) IPAddress() string { return "nats-bridge" }
func (c *ingestClient) Publish(_ broker.Client, _ *broker.Message) int { return 0 }
func (c *ingestClient) Enter(*broker.Group, broker.Client, *broker.Message)       {}
func (c *ingestClient) Leave(*broker.Group, broker.Client, *broker.Message)       {}
func (c *ingestClient) Disconnected(broker.Client, *broker.Message)              {}
func (c *ingestClient) Ack()                                                     {}
func (c *ingestClient) Dispose()                                                 {}

// Bridge owns the NATS connection, the JetStream subscription, and the
// synthetic client registered with the queue.
type Bridge struct {
	cfg    Config
	q      *broker.Queue
	codec  *codec.Registry
	logger zerolog.Logger

	conn   *nats.Conn
	sub    *nats.Subscription
	client *ingestClient

	msgCount     int64
	droppedCount int64
}

// Start connects to NATS, ensures the stream exists, registers the
// synthetic client with q, and subscribes with manual ack.
func Start(cfg Config, q *broker.Queue, reg *codec.Registry, logger zerolog.Logger) (*Bridge, error) {
	b := &Bridge{cfg: cfg, q: q, codec: reg, logger: logger}

	nc, err := nats.Connect(cfg.URL, nats.MaxReconnects(5), nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("natsbridge: connect: %w", err)
	}
	b.conn = nc

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("natsbridge: jetstream init: %w", err)
	}

	if _, err := js.StreamInfo(cfg.StreamName); err != nil {
		if _, err := js.AddStream(&nats.StreamConfig{
			Name:      cfg.StreamName,
			Subjects:  []string{cfg.Subject},
			Retention: nats.InterestPolicy,
			MaxAge:    cfg.MaxAge,
			Storage:   nats.MemoryStorage,
			Discard:   nats.DiscardOld,
		}); err != nil {
			nc.Close()
			return nil, fmt.Errorf("natsbridge: create stream: %w", err)
		}
	}

	client := &ingestClient{BaseClient: broker.NewBaseClient()}
	if _, _, res := q.Connect(client, "", nil); !res.Ok() {
		nc.Close()
		return nil, fmt.Errorf("natsbridge: connect synthetic client: %s", res)
	}
	b.client = client

	sub, err := js.Subscribe(cfg.Subject, b.handle,
		nats.Durable(cfg.ConsumerName), nats.ManualAck(), nats.AckWait(cfg.AckWait))
	if err != nil {
		q.Disconnect(client)
		nc.Close()
		return nil, fmt.Errorf("natsbridge: subscribe: %w", err)
	}
	b.sub = sub

	return b, nil
}

func (b *Bridge) handle(msg *nats.Msg) {
	b.msgCount++

	m := broker.NewMessage(b.client.Name(), rootGroupFor(msg.Subject), codec.MimeBinary, "", msg.Data)
	res := b.q.Push(b.client, m, len(msg.Data))
	if !res.Ok() {
		b.droppedCount++
		b.logger.Warn().Str("subject", msg.Subject).Str("result", res.String()).Msg("natsbridge: push rejected, nak")
		if err := msg.Nak(); err != nil {
			b.logger.Debug().Err(err).Msg("natsbridge: nak failed")
		}
		return
	}
	if err := msg.Ack(); err != nil {
		b.logger.Debug().Err(err).Str("subject", msg.Subject).Msg("natsbridge: ack failed")
	}
}

// rootGroupFor maps a dotted NATS subject (e.g. "scbroker.ingest.BTC") to
// the broker group its last segment names, so downstream subscribers can
// join per-instrument groups without the bridge needing per-subject
// configuration.
func rootGroupFor(subject string) string {
	last := subject
	for i := len(subject) - 1; i >= 0; i-- {
		if subject[i] == '.' {
			last = subject[i+1:]
			break
		}
	}
	if last == "" {
		return broker.StatusGroupName
	}
	return last
}

// Close unsubscribes, disconnects the synthetic client, and closes the
// NATS connection.
func (b *Bridge) Close() {
	if b.sub != nil {
		b.sub.Unsubscribe()
	}
	if b.client != nil {
		b.q.Disconnect(b.client)
	}
	if b.conn != nil {
		b.conn.Close()
	}
}
