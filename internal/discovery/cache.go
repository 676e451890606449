package discovery

import (
	"container/list"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ttlCache is a bounded LRU whose entries also expire after ttl. Expiry is
// read from the injected clock so tests can advance time.
type ttlCache[V any] struct {
	mu    sync.Mutex
	size  int
	ttl   time.Duration
	clock clockwork.Clock
	ll    *list.List
	items map[string]*list.Element
}

type cacheEntry[V any] struct {
	key     string
	value   V
	expires time.Time
}

func newTTLCache[V any](size int, ttl time.Duration, clock clockwork.Clock) *ttlCache[V] {
	if size <= 0 {
		size = 512
	}
	return &ttlCache[V]{
		size:  size,
		ttl:   ttl,
		clock: clock,
		ll:    list.New(),
		items: make(map[string]*list.Element),
	}
}

func (c *ttlCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		return zero, false
	}
	entry := el.Value.(*cacheEntry[V])
	if c.ttl > 0 && !c.clock.Now().Before(entry.expires) {
		c.ll.Remove(el)
		delete(c.items, key)
		return zero, false
	}
	c.ll.MoveToFront(el)
	return entry.value, true
}

func (c *ttlCache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.clock.Now().Add(c.ttl)
	if el, ok := c.items[key]; ok {
		entry := el.Value.(*cacheEntry[V])
		entry.value = value
		entry.expires = expires
		c.ll.MoveToFront(el)
		return
	}

	c.items[key] = c.ll.PushFront(&cacheEntry[V]{key: key, value: value, expires: expires})
	for c.ll.Len() > c.size {
		oldest := c.ll.Back()
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry[V]).key)
	}
}

func (c *ttlCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
