package streaming

import (
	"context"
	"sync"
	"sync/atomic"
)

// subscriptionBuffer is the per-subscriber channel depth. A subscriber that
// falls further behind than this starts losing events.
const subscriptionBuffer = 64

// MemoryHub is the in-process EventHub. Delivery is best-effort: Publish
// never blocks on a slow subscriber, it counts the drop and moves on.
type MemoryHub struct {
	mu      sync.RWMutex
	nextID  uint64
	subs    map[uint64]*memorySub
	dropped atomic.Int64
}

type memorySub struct {
	filter EventFilter
	ch     chan StreamEvent
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: make(map[uint64]*memorySub)}
}

// Publish fans the event out to every subscriber whose filter matches.
func (h *MemoryHub) Publish(ctx context.Context, event StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if !sub.filter.matches(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers a filtered subscription. The returned func removes
// it; events published after removal are not delivered.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	sub := &memorySub{filter: filter, ch: make(chan StreamEvent, subscriptionBuffer)}
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = sub
	h.mu.Unlock()

	remove := func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
	return sub.ch, remove, nil
}

// Dropped returns how many events were lost to slow subscribers.
func (h *MemoryHub) Dropped() int64 {
	return h.dropped.Load()
}
