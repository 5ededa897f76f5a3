// Package notify provides a channel per subscriber notification hub.
// Publishing never blocks: if a subscriber's buffer is full the
// notification is dropped for that subscriber and counted.
package notify

import "sync"

const DefaultBuffer = 16

type Hub[T any] struct {
	mu      sync.Mutex
	subs    map[int]chan T
	nextID  int
	dropped int
	closed  bool
}

func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[int]chan T)}
}

// Subscribe returns a channel receiving notifications and a function to
// cancel the subscription. The channel is closed on cancel or Close.
func (h *Hub[T]) Subscribe(buffer int) (ch <-chan T, cancel func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := make(chan T, buffer)
	if h.closed {
		close(c)
		return c, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = c
	return c, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
}

func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.subs {
		select {
		case c <- v:
		default:
			h.dropped++
		}
	}
}

func (h *Hub[T]) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns the number of notifications not delivered due to full buffers
func (h *Hub[T]) Dropped() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, c := range h.subs {
		close(c)
		delete(h.subs, id)
	}
}
