package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	headerContentType = "Content-Type"
	headerRunID       = "Archgraph-Run-Id"

	// closeFlushTimeout bounds how long Close waits for buffered events.
	closeFlushTimeout = 2 * time.Second
)

// runScoped is implemented by payloads that belong to one ingestion run.
type runScoped interface {
	runID() string
}

func (e IngestStarted) runID() string { return e.RunID }
func (e IngestFailed) runID() string  { return e.RunID }

func (e IngestCompleted) runID() string {
	if e.Summary == nil {
		return ""
	}
	return e.Summary.RunID
}

func (e GenerationCommitted) runID() string {
	if e.Generation == nil {
		return ""
	}
	return e.Generation.RunID
}

// NATSPublisher publishes JSON payloads with the topic as the NATS subject.
// Messages carry the run ID in a header so consumers can group them
// without decoding the body.
type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(url string, opts ...nats.Option) (*NATSPublisher, error) {
	defaults := []nats.Option{
		nats.Name("archgraph"),
		nats.MaxReconnects(-1),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSPublisher{conn: nc}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, topic string, event any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", topic, err)
	}
	msg := nats.NewMsg(topic)
	msg.Data = data
	msg.Header.Set(headerContentType, "application/json")
	if rs, ok := event.(runScoped); ok && rs.runID() != "" {
		msg.Header.Set(headerRunID, rs.runID())
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return nil
}

// Close flushes buffered events before closing the connection.
func (p *NATSPublisher) Close() error {
	if p.conn.IsConnected() {
		_ = p.conn.FlushTimeout(closeFlushTimeout)
	}
	p.conn.Close()
	return nil
}

// NATSSubscriber receives events over a NATS connection that reconnects
// forever.
type NATSSubscriber struct {
	conn *nats.Conn
}

// NewNATSSubscriber connects to url. opts are applied after the defaults,
// so callers can add disconnect and reconnect handlers.
func NewNATSSubscriber(url string, opts ...nats.Option) (*NATSSubscriber, error) {
	defaults := []nats.Option{
		nats.Name("archgraph-watch"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSSubscriber{conn: nc}, nil
}

// Subscription is a live subscription. Messages arriving while C is full
// are dropped and counted.
type Subscription struct {
	C <-chan Message

	ch      chan Message
	sub     *nats.Subscription
	mu      sync.Mutex
	closed  bool
	once    sync.Once
	dropped atomic.Uint64
}

// Subscribe delivers messages whose subject matches topic, which may use
// NATS wildcards such as TopicAll.
func (s *NATSSubscriber) Subscribe(topic string) (*Subscription, error) {
	ch := make(chan Message, 64)
	sn := &Subscription{C: ch, ch: ch}

	sub, err := s.conn.Subscribe(topic, sn.deliver)
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	sn.sub = sub
	// Publishers on other connections are only routed to the subscription
	// once the server has seen it.
	if err := s.conn.Flush(); err != nil {
		sn.Close()
		return nil, fmt.Errorf("flushing subscription: %w", err)
	}
	return sn, nil
}

func (sn *Subscription) deliver(msg *nats.Msg) {
	sn.mu.Lock()
	defer sn.mu.Unlock()
	if sn.closed {
		return
	}
	select {
	case sn.ch <- Message{Topic: msg.Subject, RunID: msg.Header.Get(headerRunID), Data: msg.Data}:
	default:
		sn.dropped.Add(1)
	}
}

// Dropped reports how many messages were discarded because C was full.
func (sn *Subscription) Dropped() uint64 {
	return sn.dropped.Load()
}

// Close unsubscribes and closes C. It is safe to call more than once.
func (sn *Subscription) Close() {
	sn.once.Do(func() {
		if sn.sub != nil {
			_ = sn.sub.Unsubscribe()
		}
		sn.mu.Lock()
		sn.closed = true
		close(sn.ch)
		sn.mu.Unlock()
	})
}

func (s *NATSSubscriber) Close() error {
	s.conn.Close()
	return nil
}
