package ledger

import (
	"sync"

	"github.com/google/uuid"
)

const shardCount = 32

type shard struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*Entry
}

// Cache 内存余额缓存，读取的唯一权威来源
//
// 按实体ID分片加锁，不同实体互不阻塞；不做淘汰，
// 由调用方在会话结束时 Remove
type Cache struct {
	shards [shardCount]*shard
}

func NewCache() *Cache {
	c := &Cache{}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[uuid.UUID]*Entry)}
	}
	return c
}

func (c *Cache) shardFor(id uuid.UUID) *shard {
	// UUID 的末字节足够分散（v4 随机位）
	return c.shards[int(id[15])%shardCount]
}

func (c *Cache) Get(id uuid.UUID) (*Entry, bool) {
	s := c.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	return e, ok
}

// Put 覆盖写入
func (c *Cache) Put(id uuid.UUID, e *Entry) {
	s := c.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[id] = e
}

// LoadOrStore 已存在则返回已有条目和 true，否则写入 e
// 保证同一实体同时只有一个存活的条目
func (c *Cache) LoadOrStore(id uuid.UUID, e *Entry) (*Entry, bool) {
	s := c.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[id]; ok {
		return existing, true
	}
	s.entries[id] = e
	return e, false
}

// Remove 只从缓存中移除，不影响已落库的数据和队列中的变更
func (c *Cache) Remove(id uuid.UUID) (*Entry, bool) {
	s := c.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	return e, ok
}

func (c *Cache) Contains(id uuid.UUID) bool {
	_, ok := c.Get(id)
	return ok
}

func (c *Cache) Clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.entries = make(map[uuid.UUID]*Entry)
		s.mu.Unlock()
	}
}

func (c *Cache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}
