package store

import (
	"context"
	"sync"
)

// Notifier wakes long-poll readers when a record changes.
type Notifier interface {
	// Subscribe returns a channel that receives after the next Publish for
	// key, and a func that must be called to unsubscribe.
	Subscribe(key string) (<-chan struct{}, func())
	Publish(ctx context.Context, key string)
}

// LocalNotifier delivers wake-ups within a single process.
type LocalNotifier struct {
	mu      sync.Mutex
	waiters map[string]map[chan struct{}]struct{}
}

// NewLocalNotifier creates an in-process notifier.
func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{waiters: make(map[string]map[chan struct{}]struct{})}
}

func (n *LocalNotifier) Subscribe(key string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	n.mu.Lock()
	set, ok := n.waiters[key]
	if !ok {
		set = make(map[chan struct{}]struct{})
		n.waiters[key] = set
	}
	set[ch] = struct{}{}
	n.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if set, ok := n.waiters[key]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(n.waiters, key)
				}
			}
		})
	}
}

func (n *LocalNotifier) Publish(_ context.Context, key string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.waiters[key] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// waiting is the number of keys with at least one subscriber.
func (n *LocalNotifier) waiting() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.waiters)
}
