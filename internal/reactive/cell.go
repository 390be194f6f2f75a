// Package reactive provides an observable value container. A Cell holds
// the current value and pushes every write to its watchers.
package reactive

import "sync"

// CancelFunc stops a watch. Calling it more than once is a no-op.
type CancelFunc func()

// Cell is a mutable value observed by any number of watchers.
// It is safe for concurrent use.
type Cell[T any] struct {
	mu       sync.RWMutex
	value    T
	watchers map[int]chan T
	nextID   int
	closed   bool
}

// NewCell returns a Cell holding initial.
func NewCell[T any](initial T) *Cell[T] {
	return &Cell[T]{value: initial, watchers: make(map[int]chan T)}
}

// Get returns the current value.
func (c *Cell[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Set stores v and notifies watchers. Writes to a closed cell are ignored.
func (c *Cell[T]) Set(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.value = v
	c.publish()
}

// Update replaces the value with fn(current) under the cell lock.
func (c *Cell[T]) Update(fn func(T) T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.value = fn(c.value)
	c.publish()
}

// Watch returns a channel that receives the current value immediately and
// then every subsequent write. The channel holds only the latest value: a
// slow reader skips intermediate writes instead of blocking the writer.
// The channel is closed by cancel or by Close.
func (c *Cell[T]) Watch() (<-chan T, CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan T, 1)
	if c.closed {
		ch <- c.value
		close(ch)
		return ch, func() {}
	}

	id := c.nextID
	c.nextID++
	c.watchers[id] = ch
	ch <- c.value

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if w, ok := c.watchers[id]; ok {
				delete(c.watchers, id)
				close(w)
			}
		})
	}
}

// Close closes every watcher channel. The last value stays readable.
func (c *Cell[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, w := range c.watchers {
		delete(c.watchers, id)
		close(w)
	}
}

// publish must be called with mu held.
func (c *Cell[T]) publish() {
	for _, w := range c.watchers {
		select {
		case <-w:
		default:
		}
		w <- c.value
	}
}
