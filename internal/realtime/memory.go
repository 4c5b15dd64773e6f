package realtime

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/gophmsg/internal/common"
)

// MemoryBus delivers events synchronously to in-process subscribers.
// Used by tests and by the client when no NATS URL is configured.
type MemoryBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]Handler
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[int]Handler)}
}

func (b *MemoryBus) Publish(_ context.Context, userID string, ev Event) error {
	if err := common.ValidateUserID(userID); err != nil {
		return err
	}
	b.mu.Lock()
	handlers := make([]Handler, 0, len(b.subs[userID]))
	for _, h := range b.subs[userID] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, userID string, h Handler) (Subscription, error) {
	if err := common.ValidateUserID(userID); err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[int]Handler)
	}
	b.subs[userID][id] = h
	b.mu.Unlock()

	s := &memorySubscription{bus: b, userID: userID, id: id, done: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Unsubscribe()
		case <-s.done:
		}
	}()
	return s, nil
}

// Subscribers reports how many live subscriptions userID has.
func (b *MemoryBus) Subscribers(userID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[userID])
}

type memorySubscription struct {
	bus    *MemoryBus
	userID string
	id     int
	once   sync.Once
	done   chan struct{}
}

func (s *memorySubscription) Unsubscribe() error {
	s.once.Do(func() {
		close(s.done)
		s.bus.mu.Lock()
		delete(s.bus.subs[s.userID], s.id)
		s.bus.mu.Unlock()
	})
	return nil
}
