package client

import (
	"strings"
	"sync"
	"time"
)

// RefCache кэш справочных ответов с TTL. Снимает повторные чтения
// SQLite между pull-циклами; инвалидация по префиксу ключа позволяет
// сбрасывать целый справочник одним вызовом.
type RefCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

func NewRefCache(ttl time.Duration) *RefCache {
	return &RefCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get возвращает значение, если оно есть и не протухло
func (c *RefCache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

func (c *RefCache) Set(key string, value any) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{value: value, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// InvalidatePrefix удаляет все ключи с данным префиксом
func (c *RefCache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}
