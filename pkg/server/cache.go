package server

import (
	"container/list"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/nicktill/ldmon/pkg/analysis"
)

// resultCache keeps the most recent analysis results for report and export requests.
type resultCache struct {
	mu      sync.Mutex
	size    int
	order   *list.List // front is most recent
	entries map[uuid.UUID]*list.Element
}

func newResultCache(size int) *resultCache {
	if size <= 0 {
		size = 1
	}
	return &resultCache{
		size:    size,
		order:   list.New(),
		entries: make(map[uuid.UUID]*list.Element, size),
	}
}

func (c *resultCache) put(res *analysis.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[res.ID]; ok {
		el.Value = res
		c.order.MoveToFront(el)
		return
	}
	c.entries[res.ID] = c.order.PushFront(res)
	for c.order.Len() > c.size {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*analysis.Result).ID)
	}
}

func (c *resultCache) get(id uuid.UUID) (*analysis.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*analysis.Result), true
}

func (c *resultCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// keyLocks serialises analyses that persist to the same store keys.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *keyLocks) lock(key string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// lockAll locks every key and returns a function unlocking them.
func (l *keyLocks) lockAll(keys []string) func() {
	keys = append([]string(nil), keys...)
	// Fixed order so overlapping selections cannot deadlock
	sort.Strings(keys)
	unlocks := make([]func(), 0, len(keys))
	for i, k := range keys {
		if i > 0 && k == keys[i-1] {
			continue
		}
		unlocks = append(unlocks, l.lock(k))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}
