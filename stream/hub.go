package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Envelope frames a broadcast event on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Hub fans broadcast events out to every connected observer. With a Redis
// client configured, publishes go through a pub/sub channel so observers on
// other instances receive them too; without one the hub delivers locally.
//
// Delivery is fire and forget: a slow observer drops events rather than
// blocking the publisher, and nothing is replayed to late subscribers.
type Hub struct {
	rc      *redis.Client
	channel string

	mu        sync.Mutex
	observers map[chan []byte]struct{}
}

// NewHub creates a Hub. rc may be nil for single-instance deployments.
func NewHub(rc *redis.Client, channel string) *Hub {
	return &Hub{rc: rc, channel: channel, observers: make(map[chan []byte]struct{})}
}

// Subscribe registers a new observer and returns its delivery channel.
func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 16)
	h.mu.Lock()
	h.observers[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes an observer. Events published afterwards are no longer
// delivered to its channel.
func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.observers, ch)
	h.mu.Unlock()
}

// Publish delivers the named event with its payload to all currently
// connected observers. Errors are logged, never returned: a failed broadcast
// must not fail the mutation that triggered it.
func (h *Hub) Publish(ctx context.Context, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Errorf("marshal %s payload: %v", event, err)
		return
	}
	msg, _ := json.Marshal(Envelope{Event: event, Data: data})
	if h.rc == nil {
		h.fanOut(msg)
		return
	}
	if err := h.rc.Publish(ctx, h.channel, msg).Err(); err != nil {
		log.Errorf("publish %s: %v", event, err)
		// Local observers still get the event when redis is down.
		h.fanOut(msg)
	}
}

func (h *Hub) fanOut(msg []byte) {
	h.mu.Lock()
	for ch := range h.observers {
		select {
		case ch <- msg:
		default:
		}
	}
	h.mu.Unlock()
}

// Run consumes the Redis events channel and delivers bridged envelopes to
// local observers. It reconnects when the pub/sub channel closes and returns
// once ctx is done. Only call Run when the hub has a Redis client.
func (h *Hub) Run(ctx context.Context) {
	for {
		sub := h.rc.Subscribe(ctx, h.channel)
		ch := sub.Channel()
	receive:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break receive
				}
				h.fanOut([]byte(msg.Payload))
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		log.Error("events pubsub channel closed, reconnecting")
		time.Sleep(time.Second)
	}
}
