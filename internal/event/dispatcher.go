// Package event provides a small generic observer list used to fan out
// worker lifecycle events. See doc.go for complete package documentation.
package event

import "sync"

// Dispatcher is a thread-safe broadcast channel: handlers register and
// unregister themselves, and Broadcast invokes every currently registered
// handler synchronously in the broadcasting goroutine.
//
// The zero value is not usable; construct with NewDispatcher. Dispatchers
// are owned by the component that emits the events (the coordinator server
// owns the connect/disconnect pair); there is no ambient global registry.
//
// Thread Safety:
// Register, Unregister and Broadcast are safe for concurrent use. Handlers
// run under the dispatcher's read lock, so a handler must not call Register
// or Unregister on the same dispatcher.
type Dispatcher[T any] struct {
	mu       sync.RWMutex
	seq      int
	handlers map[int]func(T)
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher[T any]() *Dispatcher[T] {
	return &Dispatcher[T]{handlers: make(map[int]func(T))}
}

// Register adds a handler and returns the token needed to unregister it.
// The handler starts receiving broadcasts immediately.
func (d *Dispatcher[T]) Register(handler func(T)) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	d.handlers[d.seq] = handler
	return d.seq
}

// Unregister removes the handler registered under token. Unknown tokens are
// ignored, so unregistering twice is harmless.
func (d *Dispatcher[T]) Unregister(token int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, token)
}

// Broadcast delivers v to every registered handler. Delivery is synchronous:
// Broadcast returns after the last handler returns.
func (d *Dispatcher[T]) Broadcast(v T) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, handler := range d.handlers {
		handler(v)
	}
}

// Len returns the number of registered handlers.
func (d *Dispatcher[T]) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers)
}
