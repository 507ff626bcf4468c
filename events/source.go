package events

import (
	"encoding/json"
	"sync"
)

// Observer receives host events.
type Observer interface {
	OnEvent(name string, payload json.RawMessage)
}

// Source produces host events. Observers are compared by identity, so they
// must be comparable values such as pointers.
type Source interface {
	AddObserver(o Observer)
	RemoveObserver(o Observer)
}

// Broadcaster is an in-process Source that fans events out to its observers.
type Broadcaster struct {
	mu        sync.RWMutex
	observers []Observer
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// AddObserver subscribes o. Adding the same observer twice is a no-op.
func (b *Broadcaster) AddObserver(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.observers {
		if existing == o {
			return
		}
	}
	b.observers = append(b.observers, o)
}

// RemoveObserver unsubscribes o.
func (b *Broadcaster) RemoveObserver(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, existing := range b.observers {
		if existing == o {
			b.observers = append(b.observers[:i:i], b.observers[i+1:]...)
			return
		}
	}
}

// Broadcast delivers the event to every current observer on the calling goroutine.
func (b *Broadcaster) Broadcast(name string, payload json.RawMessage) {
	b.mu.RLock()
	observers := make([]Observer, len(b.observers))
	copy(observers, b.observers)
	b.mu.RUnlock()

	for _, o := range observers {
		o.OnEvent(name, payload)
	}
}

// Len returns the number of subscribed observers.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers)
}
