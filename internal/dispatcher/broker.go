package dispatcher

import (
	"sync"

	"github.com/pavelc4/aether-queue/internal/task"
)

const subscriberBuffer = 64

// broker fans events out to subscribers. A subscriber that falls behind loses
// events instead of stalling workers.
type broker struct {
	mu     sync.RWMutex
	subs   map[int]chan task.Event
	next   int
	closed bool
}

func newBroker() *broker {
	return &broker{subs: make(map[int]chan task.Event)}
}

func (b *broker) subscribe() (<-chan task.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan task.Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

func (b *broker) publish(ev task.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *broker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
