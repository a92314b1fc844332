package cache

import (
	"sync"
	"testing"

	"github.com/ecopia-map/cesium_streamer/internal/content"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Returns a content whose ByteSize is size, size being a multiple of 4
func sizedContent(size int) *content.TileContent {
	mesh := content.NewMesh(content.ModePoints)
	mesh.Attributes[content.AttributePosition] = content.NewFloat32Array(make([]float32, size/4), 1)
	return &content.TileContent{Format: content.FormatPNTS, Meshes: []*content.Mesh{mesh}}
}

func TestInsertIsIdempotent(t *testing.T) {
	c := NewCache(1000)
	first := sizedContent(100)

	assert.True(t, c.Insert("a", first))
	assert.False(t, c.Insert("a", sizedContent(200)))
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(100), c.TotalBytes())

	e, ok := c.Acquire("a")
	require.True(t, ok)
	assert.Same(t, first, e.Content)
	assert.Equal(t, 1, e.RefCount())
}

func TestReleaseBelowZero(t *testing.T) {
	c := NewCache(1000)
	c.Insert("a", sizedContent(100))

	c.Acquire("a")
	c.Release("a")
	c.Release("a")
	c.Release("a")
	c.Release("missing")

	e, ok := c.Acquire("a")
	require.True(t, ok)
	assert.Equal(t, 1, e.RefCount())
}

func TestAcquireMiss(t *testing.T) {
	c := NewCache(1000)
	e, ok := c.Acquire("missing")
	assert.False(t, ok)
	assert.Nil(t, e)
	assert.False(t, c.Contains("missing"))
}

func TestEvictsLeastRecentlyUsedUnreferenced(t *testing.T) {
	c := NewCache(300)
	var evicted []string
	c.OnEvict(func(key string) { evicted = append(evicted, key) })

	c.BeginFrame(1)
	c.Insert("old", sizedContent(100))
	c.Insert("held", sizedContent(100))
	c.Acquire("held")
	c.BeginFrame(2)
	c.Insert("recent", sizedContent(100))

	// 400 bytes for a budget of 300: "old" is the least recently used unreferenced entry
	c.BeginFrame(3)
	assert.True(t, c.Insert("new", sizedContent(100)))
	assert.Equal(t, []string{"old"}, evicted)
	assert.True(t, c.Contains("held"))
	assert.True(t, c.Contains("recent"))
	assert.True(t, c.Contains("new"))
	assert.Equal(t, int64(300), c.TotalBytes())
}

func TestNeverEvictsReferencedEntries(t *testing.T) {
	c := NewCache(150)
	c.Insert("a", sizedContent(100))
	c.Acquire("a")
	c.Insert("b", sizedContent(100))
	c.Acquire("b")

	// over budget but everything is in use
	c.Insert("c", sizedContent(100))
	c.Acquire("c")
	assert.Empty(t, c.Trim())
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, int64(300), c.TotalBytes())

	// once released, the unreferenced entries go in lru order, ties broken by key
	c.Release("a")
	c.Release("b")
	assert.Equal(t, []string{"a", "b"}, c.Trim())
	assert.Equal(t, int64(100), c.TotalBytes())
	assert.True(t, c.Contains("c"))
}

func TestInsertedEntryIsNotEvictedByItsOwnInsert(t *testing.T) {
	c := NewCache(50)
	assert.True(t, c.Insert("big", sizedContent(100)))
	assert.True(t, c.Contains("big"))

	assert.Equal(t, []string{"big"}, c.Trim())
	assert.False(t, c.Contains("big"))
}

func TestTouchRefreshesLastUsedFrame(t *testing.T) {
	c := NewCache(200)
	c.BeginFrame(1)
	c.Insert("a", sizedContent(100))
	c.Insert("b", sizedContent(100))
	c.BeginFrame(5)
	c.Touch("a")

	c.Insert("c", sizedContent(100))
	assert.True(t, c.Contains("a"))
	assert.False(t, c.Contains("b"))
}

func TestConcurrentInserts(t *testing.T) {
	c := NewCache(1 << 20)
	var wg sync.WaitGroup
	inserted := make(chan bool, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inserted <- c.Insert("same", sizedContent(100))
		}()
	}
	wg.Wait()
	close(inserted)

	firsts := 0
	for ok := range inserted {
		if ok {
			firsts++
		}
	}
	assert.Equal(t, 1, firsts)
	assert.Equal(t, int64(100), c.TotalBytes())
}

func TestClear(t *testing.T) {
	c := NewCache(1000)
	c.Insert("a", sizedContent(100))
	c.Acquire("a")
	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(0), c.TotalBytes())
}
