package chat

import (
	"context"
	"sync"
)

// Broker fans out appended messages to live subscribers of a session.
type Broker interface {
	Publish(ctx context.Context, msg Message) error
	// Subscribe delivers messages of sessionID until ctx is done or cancel is called.
	Subscribe(ctx context.Context, sessionID string) (msgs <-chan Message, cancel func(), err error)
}

const subscriberBuffer = 32

// MemoryBroker is an in-process Broker. Slow subscribers drop messages rather than
// block writers; they can always re-read the full log.
type MemoryBroker struct {
	mu   sync.Mutex
	subs map[string]map[chan Message]struct{}
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[chan Message]struct{})}
}

func (b *MemoryBroker) Publish(_ context.Context, msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[msg.SessionID] {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, sessionID string) (<-chan Message, func(), error) {
	ch := make(chan Message, subscriberBuffer)

	b.mu.Lock()
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[chan Message]struct{})
	}
	b.subs[sessionID][ch] = struct{}{}
	b.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[sessionID], ch)
			if len(b.subs[sessionID]) == 0 {
				delete(b.subs, sessionID)
			}
			b.mu.Unlock()
			close(ch)
			close(done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return ch, cancel, nil
}
