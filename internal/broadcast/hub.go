// Package broadcast fans graph-change events out to connected
// subscribers. A slow or dead subscriber is cut loose without touching
// the others, and the registry lock is never held while sending.
package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Event is one change notification.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// EventGraphUpdated is emitted after a durably committed graph
// mutation.
const EventGraphUpdated = "graph_updated"

// Subscription states. A subscription starts Connecting, is promoted
// to Open once its transport is ready, and ends Closed. Events are
// only delivered while Open.
const (
	stateConnecting int32 = iota
	stateOpen
	stateClosed
)

const subscriberBuffer = 16

// Subscription is one subscriber's attachment to the hub.
type Subscription struct {
	hub   *Hub
	ch    chan Event
	done  chan struct{}
	state int32
}

// C is the subscriber's event channel. It is never closed; a concurrent
// Broadcast may still be sending on it after removal. Done signals the
// end of the subscription.
func (s *Subscription) C() <-chan Event { return s.ch }

// Done is closed when the subscription ends, whether by Close or by the
// hub cutting an unresponsive subscriber loose.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Open marks the transport ready. Events are dropped until this is
// called.
func (s *Subscription) Open() {
	atomic.CompareAndSwapInt32(&s.state, stateConnecting, stateOpen)
}

// Close ends the subscription and deregisters it. Safe to call from
// any goroutine and more than once.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// IsOpen reports whether the subscription currently receives events.
func (s *Subscription) IsOpen() bool {
	return atomic.LoadInt32(&s.state) == stateOpen
}

// Publisher mirrors events to an external system. Failures must be
// isolated by the caller.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Hub is the subscriber registry.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	mirror Publisher
	logger *zap.Logger
}

// NewHub creates a hub. mirror may be nil.
func NewHub(mirror Publisher, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:   make(map[*Subscription]struct{}),
		mirror: mirror,
		logger: logger,
	}
}

// Subscribe registers a new subscription in the Connecting state.
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{
		hub:   h,
		ch:    make(chan Event, subscriberBuffer),
		done:  make(chan struct{}),
		state: stateConnecting,
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	count := len(h.subs)
	h.mu.Unlock()

	h.logger.Debug("subscriber registered", zap.Int("subscribers", count))
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	_, present := h.subs[sub]
	if present {
		delete(h.subs, sub)
	}
	count := len(h.subs)
	h.mu.Unlock()

	if present {
		// The event channel is left open: Broadcast may hold a snapshot
		// that still sends on it. The closed state stops delivery and
		// done tells the consumer to detach; the channel is garbage
		// collected with the subscription.
		atomic.StoreInt32(&sub.state, stateClosed)
		close(sub.done)
		h.logger.Debug("subscriber removed", zap.Int("subscribers", count))
	}
}

// Broadcast delivers the event to every Open subscriber. The registry
// is snapshotted first so no send happens under the lock. A subscriber
// whose buffer is full is considered dead and removed; the rest are
// unaffected.
func (h *Hub) Broadcast(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	h.mu.RLock()
	snapshot := make([]*Subscription, 0, len(h.subs))
	for sub := range h.subs {
		snapshot = append(snapshot, sub)
	}
	h.mu.RUnlock()

	var dropped []*Subscription
	for _, sub := range snapshot {
		if !sub.IsOpen() {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			dropped = append(dropped, sub)
		}
	}
	for _, sub := range dropped {
		h.logger.Warn("dropping unresponsive subscriber")
		h.remove(sub)
	}

	if h.mirror != nil {
		if err := h.mirror.Publish(ctx, event); err != nil {
			h.logger.Warn("event mirror publish failed", zap.Error(err))
		}
	}
}

// NotifyGraphUpdated broadcasts a graph_updated event.
func (h *Hub) NotifyGraphUpdated(ctx context.Context) {
	h.Broadcast(ctx, Event{Type: EventGraphUpdated})
}

// Len returns the number of registered subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close removes every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		h.remove(sub)
	}
}
