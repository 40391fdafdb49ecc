package cache

import (
	"bytes"
	"container/heap"
	"container/list"
	"context"
	"sync"
	"time"
)

// DefaultCapacity bounds a MemoryStore created with capacity <= 0.
const DefaultCapacity = 10000

// MemoryStore is a capacity-bounded LRU store with per-key TTL.
type MemoryStore struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List // front is most recently used
	expiries expiryHeap // items with a TTL, soonest first
	guard    EvictionGuard
	now      func() time.Time
}

type memoryItem struct {
	key       string
	value     []byte
	expiresAt time.Time
	heapIndex int // -1 when the item has no TTL
}

// NewMemoryStore creates a store holding at most capacity keys. Guarded keys
// are skipped by eviction, so the store can briefly exceed capacity when
// every candidate is guarded.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryStore{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

// SetEvictionGuard installs guard.
func (s *MemoryStore) SetEvictionGuard(guard EvictionGuard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guard = guard
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.lookup(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), item.value...), true, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(key, value, ttl)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.items[key]; ok {
		s.remove(el)
	}
	return nil
}

func (s *MemoryStore) CompareAndSet(ctx context.Context, key string, old, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.lookup(key)
	switch {
	case old == nil && ok:
		return false, nil
	case old != nil && (!ok || !bytes.Equal(item.value, old)):
		return false, nil
	}
	s.put(key, value, ttl)
	return true, nil
}

func (s *MemoryStore) CompareAndDelete(ctx context.Context, key string, old []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.lookup(key)
	if !ok || !bytes.Equal(item.value, old) {
		return false, nil
	}
	s.remove(s.items[key])
	return true, nil
}

// Len returns the number of stored keys, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *MemoryStore) Close() error {
	return nil
}

// lookup returns a live item and marks it recently used. Expired items are dropped.
func (s *MemoryStore) lookup(key string) (*memoryItem, bool) {
	el, ok := s.items[key]
	if !ok {
		return nil, false
	}
	item := el.Value.(*memoryItem)
	if s.expired(item) {
		s.remove(el)
		return nil, false
	}
	s.order.MoveToFront(el)
	return item, true
}

func (s *MemoryStore) put(key string, value []byte, ttl time.Duration) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = s.now().Add(ttl)
	}
	value = append([]byte(nil), value...)

	if el, ok := s.items[key]; ok {
		item := el.Value.(*memoryItem)
		item.value = value
		s.setExpiry(item, expiresAt)
		s.order.MoveToFront(el)
		return
	}

	if len(s.items) >= s.capacity {
		s.evict()
	}
	item := &memoryItem{key: key, value: value, heapIndex: -1}
	s.setExpiry(item, expiresAt)
	s.items[key] = s.order.PushFront(item)
}

func (s *MemoryStore) setExpiry(item *memoryItem, expiresAt time.Time) {
	item.expiresAt = expiresAt
	switch {
	case expiresAt.IsZero() && item.heapIndex >= 0:
		heap.Remove(&s.expiries, item.heapIndex)
	case expiresAt.IsZero():
	case item.heapIndex >= 0:
		heap.Fix(&s.expiries, item.heapIndex)
	default:
		heap.Push(&s.expiries, item)
	}
}

// evict drops expired items, then the least recently used unguarded item.
// Only guarded items are walked past, so the cost does not grow with the
// number of stored keys.
func (s *MemoryStore) evict() {
	for len(s.expiries) > 0 && s.expired(s.expiries[0]) {
		s.remove(s.items[s.expiries[0].key])
	}
	if len(s.items) < s.capacity {
		return
	}

	for el := s.order.Back(); el != nil; el = el.Prev() {
		item := el.Value.(*memoryItem)
		if s.guard != nil && s.guard(item.key) {
			continue
		}
		s.remove(el)
		return
	}
}

func (s *MemoryStore) expired(item *memoryItem) bool {
	return !item.expiresAt.IsZero() && !s.now().Before(item.expiresAt)
}

func (s *MemoryStore) remove(el *list.Element) {
	item := el.Value.(*memoryItem)
	if item.heapIndex >= 0 {
		heap.Remove(&s.expiries, item.heapIndex)
	}
	s.order.Remove(el)
	delete(s.items, item.key)
}

// expiryHeap orders items by expiry time.
type expiryHeap []*memoryItem

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].expiresAt.Before(h[j].expiresAt) }

func (h expiryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *expiryHeap) Push(x interface{}) {
	item := x.(*memoryItem)
	item.heapIndex = len(*h)
	*h = append(*h, item)
}

func (h *expiryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.heapIndex = -1
	*h = old[:n-1]
	return item
}
