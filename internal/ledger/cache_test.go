package ledger

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_PutGetRemove(t *testing.T) {
	c := NewCache()
	e := newTestEntry("10", NewQueue(0), nil)
	id := e.EntityID()

	_, ok := c.Get(id)
	assert.False(t, ok)

	c.Put(id, e)
	got, ok := c.Get(id)
	require.True(t, ok)
	assert.Same(t, e, got)
	assert.True(t, c.Contains(id))
	assert.Equal(t, 1, c.Len())

	removed, ok := c.Remove(id)
	require.True(t, ok)
	assert.Same(t, e, removed)
	assert.False(t, c.Contains(id))

	_, ok = c.Remove(id)
	assert.False(t, ok)
}

func TestCache_LoadOrStoreKeepsFirst(t *testing.T) {
	c := NewCache()
	q := NewQueue(0)
	first := newTestEntry("1", q, nil)
	id := first.EntityID()

	actual, loaded := c.LoadOrStore(id, first)
	assert.False(t, loaded)
	assert.Same(t, first, actual)

	second := newTestEntry("2", q, nil)
	actual, loaded = c.LoadOrStore(id, second)
	assert.True(t, loaded)
	assert.Same(t, first, actual)
}

func TestCache_Clear(t *testing.T) {
	c := NewCache()
	q := NewQueue(0)
	for i := 0; i < 100; i++ {
		e := newTestEntry("0", q, nil)
		c.Put(e.EntityID(), e)
	}
	assert.Equal(t, 100, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestCache_ConcurrentLoadOrStoreSingleWinner(t *testing.T) {
	c := NewCache()
	q := NewQueue(0)
	id := uuid.New()

	const goroutines = 16
	results := make([]*Entry, goroutines)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e := newTestEntry("0", q, nil)
			results[i], _ = c.LoadOrStore(id, e)
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Same(t, results[0], r)
	}
	assert.Equal(t, 1, c.Len())
}
