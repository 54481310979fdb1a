// Package notifier fans script lifecycle messages out to SSE subscribers.
package notifier

import (
	"sync"
	"time"

	"github.com/leapstack-labs/leapscript/internal/script"
)

// bufferSize is the per-subscriber backlog before messages are dropped.
const bufferSize = 16

// Message is the wire form of a lifecycle event.
type Message struct {
	Kind   string    `json:"kind"`
	Script string    `json:"script"`
	Path   string    `json:"path,omitempty"`
	LoadID string    `json:"load_id,omitempty"`
	Bound  []string  `json:"bound,omitempty"`
	Error  string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}

// FromEvent converts a lifecycle event to a Message.
func FromEvent(e script.Event) Message {
	m := Message{
		Kind:   e.Kind.String(),
		Script: e.Name,
		Path:   e.Path,
		LoadID: e.LoadID,
		Bound:  append([]string(nil), e.Bound...),
		At:     e.At,
	}
	if e.Err != nil {
		m.Error = e.Err.Error()
	}
	return m
}

// Notifier broadcasts messages to all subscribed listeners.
// Slow listeners miss messages rather than stall the publisher, which runs
// under the manager lock.
type Notifier struct {
	mu        sync.RWMutex
	listeners map[chan Message]struct{}
	dropped   uint64
}

// New creates a new Notifier instance.
func New() *Notifier {
	return &Notifier{
		listeners: make(map[chan Message]struct{}),
	}
}

// Subscribe returns a channel that receives published messages.
// The caller must call Unsubscribe when done to prevent goroutine leaks.
func (n *Notifier) Subscribe() chan Message {
	ch := make(chan Message, bufferSize)
	n.mu.Lock()
	n.listeners[ch] = struct{}{}
	n.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener channel and closes it.
func (n *Notifier) Unsubscribe(ch chan Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.listeners[ch]; !ok {
		return
	}
	delete(n.listeners, ch)
	close(ch)
}

// Publish sends msg to all listeners without blocking.
func (n *Notifier) Publish(msg Message) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for ch := range n.listeners {
		select {
		case ch <- msg:
		default:
			n.dropped++
		}
	}
}

// Listener adapts the notifier to the manager's lifecycle callbacks.
func (n *Notifier) Listener() script.Listener {
	return func(e script.Event) {
		n.Publish(FromEvent(e))
	}
}

// Dropped returns how many deliveries were skipped because a listener was full.
func (n *Notifier) Dropped() uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.dropped
}

// Subscribers returns the number of active listeners.
func (n *Notifier) Subscribers() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.listeners)
}
