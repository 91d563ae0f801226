package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPutRoundTrip(t *testing.T) {
	c := New(DefaultConfig())
	c.Put("customer_balance_1", 42)
	v, ok := c.Get("customer_balance_1")
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestInvalidateByPrefix(t *testing.T) {
	c := New(DefaultConfig())
	c.Put("customer_balance_1", 1)
	c.Put("customer_balance_2", 2)
	c.Put("products_5", "widget")

	c.InvalidateByPrefix("customer_")

	_, ok := c.Get("customer_balance_1")
	assert.False(t, ok)
	_, ok = c.Get("customer_balance_2")
	assert.False(t, ok)
	_, ok = c.Get("products_5")
	assert.True(t, ok)
}

func TestInvalidateAll(t *testing.T) {
	c := New(DefaultConfig())
	c.Put("a", 1)
	c.Put("b", 2)
	c.InvalidateAll()
	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestTTLExpiry(t *testing.T) {
	c := New(Config{MaxSize: 10, DefaultTTL: 10 * time.Millisecond})
	c.Put("k", "v")
	time.Sleep(30 * time.Millisecond)
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestLRUEviction(t *testing.T) {
	c := New(Config{MaxSize: 2, DefaultTTL: time.Minute})
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3) // evicts "a"
	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}
