package wordstash

import "sync"

// EventHub fans finished reconciliations out to live subscribers (the
// websocket endpoint). Slow subscribers drop events instead of blocking
// the engine.
type EventHub struct {
	mu          sync.Mutex
	nextID      int
	subscribers map[int]chan ReconcileRecord
}

func NewEventHub() *EventHub {
	return &EventHub{subscribers: map[int]chan ReconcileRecord{}}
}

func (h *EventHub) Subscribe() (<-chan ReconcileRecord, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan ReconcileRecord, 16)
	h.subscribers[id] = ch
	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if existing, ok := h.subscribers[id]; ok {
			delete(h.subscribers, id)
			close(existing)
		}
	}
	return ch, cancel
}

func (h *EventHub) Publish(record ReconcileRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subscribers {
		select {
		case ch <- record:
		default:
		}
	}
}
