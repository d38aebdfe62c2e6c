// Package broker fans out newly-appended events to live stream
// subscribers (Server-Sent Events clients) within a single process.
// It is a Non-goal of this system to coordinate across processes —
// there is exactly one control-plane instance, so an in-process
// broker is sufficient and avoids a message-bus dependency for
// same-process delivery.
package broker

import (
	"log/slog"
	"sync"

	"github.com/agentctl/sentryd/pkg/eventlog"
	"github.com/agentctl/sentryd/pkg/metrics"
)

// queueDepth bounds how many events a slow subscriber may lag behind
// before it is disconnected. A client that falls further behind than
// this must re-subscribe with a from_seq and replay through catch-up.
const queueDepth = 1024

// StreamKey identifies a subscribable stream, e.g. "room:rm_123".
func StreamKey(streamType, streamID string) string {
	return streamType + ":" + streamID
}

// Subscriber receives live events for one stream. Events arrive
// ordered on C; if the subscriber cannot keep up, Overflowed is closed
// and no further events are delivered.
type Subscriber struct {
	id         string
	streamKey  string
	C          chan eventlog.Event
	Overflowed chan struct{}
}

// Broker holds the in-process subscriber registry.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[string]*Subscriber
	next uint64
}

// New creates an empty Broker.
func New() *Broker {
	return &Broker{subs: make(map[string]map[string]*Subscriber)}
}

// Subscribe registers a new subscriber for a stream and returns it.
// Callers MUST call Unsubscribe when done, typically via defer.
func (b *Broker) Subscribe(streamType, streamID string) *Subscriber {
	key := StreamKey(streamType, streamID)

	b.mu.Lock()
	b.next++
	sub := &Subscriber{
		id:         key + "#" + itoa(b.next),
		streamKey:  key,
		C:          make(chan eventlog.Event, queueDepth),
		Overflowed: make(chan struct{}),
	}
	if b.subs[key] == nil {
		b.subs[key] = make(map[string]*Subscriber)
	}
	b.subs[key][sub.id] = sub
	b.mu.Unlock()

	metrics.BrokerSubscribersGauge.Inc()
	return sub
}

// Unsubscribe removes a subscriber. Safe to call more than once.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	set, ok := b.subs[sub.streamKey]
	if !ok {
		b.mu.Unlock()
		return
	}
	if _, present := set[sub.id]; !present {
		b.mu.Unlock()
		return
	}
	delete(set, sub.id)
	if len(set) == 0 {
		delete(b.subs, sub.streamKey)
	}
	b.mu.Unlock()

	metrics.BrokerSubscribersGauge.Dec()
}

// Publish delivers an event to every live subscriber of its stream. A
// subscriber whose queue is full is disconnected (its Overflowed
// channel is closed and it is removed) rather than blocking the
// publisher — a wedged SSE client must not stall event writes for
// everyone else.
func (b *Broker) Publish(evt eventlog.Event) {
	key := StreamKey(evt.StreamType, evt.StreamID)

	b.mu.RLock()
	set, ok := b.subs[key]
	if !ok {
		b.mu.RUnlock()
		return
	}
	targets := make([]*Subscriber, 0, len(set))
	for _, sub := range set {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.C <- evt:
		default:
			slog.Warn("subscriber overflowed, disconnecting",
				"stream", key, "subscriber_id", sub.id)
			b.disconnect(sub)
		}
	}
}

func (b *Broker) disconnect(sub *Subscriber) {
	b.mu.Lock()
	if set, ok := b.subs[sub.streamKey]; ok {
		delete(set, sub.id)
		if len(set) == 0 {
			delete(b.subs, sub.streamKey)
		}
	}
	b.mu.Unlock()

	metrics.BrokerSubscribersGauge.Dec()
	metrics.BrokerOverflowsTotal.Inc()
	close(sub.Overflowed)
}

// SubscriberCount reports the number of live subscribers for a stream,
// used by tests and metrics.
func (b *Broker) SubscriberCount(streamType, streamID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[StreamKey(streamType, streamID)])
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
