package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRefCache_ExpiresByTTL(t *testing.T) {
	cache := NewRefCache(time.Minute)
	current := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return current }

	cache.Set("produits:all", []string{"a", "b"})

	value, ok := cache.Get("produits:all")
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, value)

	current = current.Add(61 * time.Second)
	_, ok = cache.Get("produits:all")
	assert.False(t, ok)
}

func TestRefCache_InvalidatePrefix(t *testing.T) {
	cache := NewRefCache(time.Minute)

	cache.Set("produits:1", "eau")
	cache.Set("produits:2", "lait")
	cache.Set("categories:1", "boissons")

	cache.InvalidatePrefix("produits:")

	_, ok := cache.Get("produits:1")
	assert.False(t, ok)
	_, ok = cache.Get("produits:2")
	assert.False(t, ok)
	_, ok = cache.Get("categories:1")
	assert.True(t, ok)
}

func TestRefCache_MissingKey(t *testing.T) {
	cache := NewRefCache(time.Minute)

	_, ok := cache.Get("absent")
	assert.False(t, ok)
}
