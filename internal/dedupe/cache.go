// ABOUTME: Thread-safe TTL cache of send idempotency keys and their outcomes
// ABOUTME: Lets a client retry POST /api/send without producing a second exchange

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Outcome is what a claimed key produced. Pending is true until Complete.
type Outcome struct {
	Pending        bool   `json:"pending"`
	ConversationID string `json:"conversation_id,omitempty"`
	State          string `json:"state,omitempty"`
}

type entry struct {
	claimed time.Time
	outcome Outcome
	element *list.Element
}

// Cache tracks idempotency keys for a bounded time and size.
// Insertion order is kept in a list so the oldest key is evicted in O(1).
type Cache struct {
	mu      sync.Mutex
	keys    map[string]*entry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a cache. A background goroutine drops expired keys.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		keys:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Key scopes a client-supplied idempotency key.
func Key(key string) string {
	return "client:" + key
}

// Claim reserves key for a new send. It returns false, with the outcome the
// earlier claim recorded, when key was claimed within the TTL. Check and
// reservation happen under one lock so two concurrent retries cannot both win.
func (c *Cache) Claim(key string) (Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.keys[key]; ok && time.Since(e.claimed) < c.ttl {
		return e.outcome, false
	}

	c.putLocked(key, Outcome{Pending: true})
	return Outcome{Pending: true}, true
}

// Complete records the outcome of a claimed key. Unknown keys are ignored.
func (c *Cache) Complete(key, conversationID, state string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.keys[key]; ok {
		e.outcome = Outcome{ConversationID: conversationID, State: state}
	}
}

// Release forgets key so a rejected send can be retried with it.
func (c *Cache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.keys[key]; ok {
		c.order.Remove(e.element)
		delete(c.keys, key)
	}
}

// putLocked must be called with mu held.
func (c *Cache) putLocked(key string, o Outcome) {
	now := time.Now()

	if e, exists := c.keys[key]; exists {
		e.claimed = now
		e.outcome = o
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.keys) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.keys[key] = &entry{claimed: now, outcome: o, element: elem}
}

// evictOldest must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.keys, key)
}

func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.expire()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) expire() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, e := range c.keys {
		if now.Sub(e.claimed) > c.ttl {
			c.order.Remove(e.element)
			delete(c.keys, key)
		}
	}
}

// Close stops the background cleanup goroutine. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
