package cache

import (
	"container/list"
	"sync"
	"time"
)

// ModelCache remembers which model id a chat was started with, so that
// follow-up turns that omit a model selection don't query the store on
// every request. Safe for concurrent use. Entries expire after a TTL and
// the least recently used entry is evicted past capacity.
type ModelCache struct {
	mu       sync.Mutex
	items    map[string]*entry
	order    *list.List // MRU at front, LRU at back
	ttl      time.Duration
	maxItems int // 0 = unlimited
}

type entry struct {
	chatID  string
	modelID string
	exp     int64 // unix seconds; 0 = no expiry
	elem    *list.Element
}

func NewModelCache(ttl time.Duration, maxItems int) *ModelCache {
	c := &ModelCache{
		items:    make(map[string]*entry),
		order:    list.New(),
		ttl:      ttl,
		maxItems: maxItems,
	}
	go c.janitor(60 * time.Second)
	return c
}

// Get returns the cached model id for a chat, if present and fresh.
func (c *ModelCache) Get(chatID string) (string, bool) {
	if c == nil {
		return "", false
	}
	now := time.Now().Unix()
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[chatID]
	if !ok {
		return "", false
	}
	if e.exp != 0 && e.exp < now {
		c.removeLocked(chatID)
		return "", false
	}
	c.order.MoveToFront(e.elem)
	return e.modelID, true
}

// Set records the model id a chat resolves to.
func (c *ModelCache) Set(chatID, modelID string) {
	if c == nil || chatID == "" || modelID == "" {
		return
	}
	var exp int64
	if c.ttl > 0 {
		exp = time.Now().Add(c.ttl).Unix()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[chatID]; ok {
		e.modelID = modelID
		e.exp = exp
		c.order.MoveToFront(e.elem)
		return
	}
	e := &entry{chatID: chatID, modelID: modelID, exp: exp}
	e.elem = c.order.PushFront(e)
	c.items[chatID] = e
	if c.maxItems > 0 && c.order.Len() > c.maxItems {
		c.evictLRULocked()
	}
}

// Invalidate drops a chat's entry. Called when the chat is deleted.
func (c *ModelCache) Invalidate(chatID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.removeLocked(chatID)
	c.mu.Unlock()
}

// InvalidateAll drops every entry.
func (c *ModelCache) InvalidateAll() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.items = make(map[string]*entry)
	c.order.Init()
	c.mu.Unlock()
}

func (c *ModelCache) janitor(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for range t.C {
		now := time.Now().Unix()
		c.mu.Lock()
		for id, e := range c.items {
			if e.exp != 0 && e.exp < now {
				c.removeLocked(id)
			}
		}
		c.mu.Unlock()
	}
}

func (c *ModelCache) removeLocked(chatID string) {
	if e, ok := c.items[chatID]; ok {
		c.order.Remove(e.elem)
		delete(c.items, chatID)
	}
}

func (c *ModelCache) evictLRULocked() {
	back := c.order.Back()
	if back == nil {
		return
	}
	e := back.Value.(*entry)
	c.order.Remove(back)
	delete(c.items, e.chatID)
}
