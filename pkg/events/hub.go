package events

import (
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

// EventHub fans events out to SSE subscribers. Slow subscribers lose
// events instead of blocking publishers.
type EventHub struct {
	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	buffer int
	closed bool
}

func NewEventHub() *EventHub { return NewEventHubWithBuffer(DefaultBuffer) }

func NewEventHubWithBuffer(n int) *EventHub {
	if n <= 0 {
		n = DefaultBuffer
	}
	return &EventHub{subs: make(map[chan Event]struct{}), buffer: n}
}

// Subscribe registers a new subscriber. The channel is closed by
// Unsubscribe or Close.
func (h *EventHub) Subscribe() chan Event {
	ch := make(chan Event, h.buffer)
	h.mu.Lock()
	if h.closed {
		close(ch)
	} else {
		h.subs[ch] = struct{}{}
	}
	h.mu.Unlock()
	return ch
}

func (h *EventHub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// Close disconnects every subscriber. Later publishes are dropped.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
	h.closed = true
}

func (h *EventHub) Publish(name string, payload any) {
	if h == nil {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		logrus.WithError(err).WithField("event", name).Error("failed to marshal event")
		return
	}
	msg := Event{Name: name, Data: b}
	h.mu.RLock()
	for ch := range h.subs {
		// Non-blocking send; drop if subscriber is slow
		select {
		case ch <- msg:
		default:
			logrus.WithField("event", name).Debug("dropped event for slow subscriber")
		}
	}
	h.mu.RUnlock()
}
