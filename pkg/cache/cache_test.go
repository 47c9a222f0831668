package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/homer-bot/homerbot/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

func newTestCache(t *testing.T, capacity int, ttl time.Duration) (*Cache, *testingclock.FakeClock) {
	t.Helper()
	clk := testingclock.NewFakeClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	c, err := New(capacity, ttl, WithClock(clk))
	require.NoError(t, err)
	return c, clk
}

func TestNewRejectsInvalidSettings(t *testing.T) {
	_, err := New(0, time.Minute)
	assert.ErrorIs(t, err, ErrInvalidCapacity)

	_, err = New(10, 0)
	assert.ErrorIs(t, err, ErrInvalidTTL)
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "best donuts in portland?", NormalizeKey("  Best Donuts in Portland?\n"))
}

func TestStoreAndLookup(t *testing.T) {
	c, _ := newTestCache(t, DefaultCapacity, DefaultTTL)
	usage := models.NewUsage(12, 30, 42)

	c.Store("best donuts in Portland?", "Voodoo Doughnut, mmm!", usage)

	entry, ok := c.Lookup("  BEST donuts in portland?  ", false)
	require.True(t, ok)
	assert.Equal(t, "best donuts in portland?", entry.Key)
	assert.Equal(t, "Voodoo Doughnut, mmm!", entry.ResponseText)
	require.NotNil(t, entry.Usage.TotalTokens)
	assert.Equal(t, 42, *entry.Usage.TotalTokens)
}

func TestLookupReturnsCopy(t *testing.T) {
	c, _ := newTestCache(t, DefaultCapacity, DefaultTTL)
	c.Store("glazed", "yes", models.NewUsage(1, 2, 3))

	first, ok := c.Lookup("glazed", false)
	require.True(t, ok)
	*first.Usage.TotalTokens = 999

	second, ok := c.Lookup("glazed", false)
	require.True(t, ok)
	assert.Equal(t, 3, *second.Usage.TotalTokens)
}

func TestHistoryBypassesCache(t *testing.T) {
	c, _ := newTestCache(t, DefaultCapacity, DefaultTTL)
	c.Store("crullers?", "French crullers!", models.Usage{})

	_, ok := c.Lookup("crullers?", true)
	assert.False(t, ok)

	stats := c.Stats()
	assert.Zero(t, stats.Hits)
	assert.Zero(t, stats.Misses, "bypassed lookups are not misses")
}

func TestTTLExpiration(t *testing.T) {
	c, clk := newTestCache(t, DefaultCapacity, 30*time.Minute)
	c.Store("sprinkles", "rainbow", models.Usage{})

	clk.Step(30*time.Minute - time.Second)
	_, ok := c.Lookup("sprinkles", false)
	assert.True(t, ok, "entry should be valid just before the TTL")

	clk.Step(time.Second)
	_, ok = c.Lookup("sprinkles", false)
	assert.False(t, ok, "entry should expire once age reaches the TTL")
	assert.Equal(t, 0, c.Len(), "expired entry should be purged on lookup")
}

func TestFIFOEviction(t *testing.T) {
	c, _ := newTestCache(t, 3, DefaultTTL)
	c.Store("a", "1", models.Usage{})
	c.Store("b", "2", models.Usage{})
	c.Store("c", "3", models.Usage{})

	// Reading the oldest entry must not protect it from eviction.
	_, ok := c.Lookup("a", false)
	require.True(t, ok)

	c.Store("d", "4", models.Usage{})
	assert.Equal(t, 3, c.Len())

	_, ok = c.Lookup("a", false)
	assert.False(t, ok, "oldest insertion should be evicted")
	for _, k := range []string{"b", "c", "d"} {
		_, ok := c.Lookup(k, false)
		assert.True(t, ok, "expected %q to survive", k)
	}
}

func TestBoundedGrowth(t *testing.T) {
	c, _ := newTestCache(t, DefaultCapacity, DefaultTTL)
	for i := range DefaultCapacity + 1 {
		c.Store(fmt.Sprintf("question %d", i), "answer", models.Usage{})
	}
	assert.Equal(t, DefaultCapacity, c.Len())

	_, ok := c.Lookup("question 0", false)
	assert.False(t, ok)
	_, ok = c.Lookup(fmt.Sprintf("question %d", DefaultCapacity), false)
	assert.True(t, ok)
}

func TestOverwriteRefreshesEntry(t *testing.T) {
	c, clk := newTestCache(t, 2, time.Minute)
	c.Store("a", "old", models.Usage{})
	c.Store("b", "2", models.Usage{})

	clk.Step(50 * time.Second)
	c.Store("A", "new", models.Usage{})
	assert.Equal(t, 2, c.Len(), "overwriting must not grow or evict")

	clk.Step(20 * time.Second)
	entry, ok := c.Lookup("a", false)
	require.True(t, ok, "overwrite should reset the timestamp")
	assert.Equal(t, "new", entry.ResponseText)

	// "a" is now the newest insertion, so "b" goes first.
	c.Store("c", "3", models.Usage{})
	_, ok = c.Lookup("b", false)
	assert.False(t, ok)
	_, ok = c.Lookup("a", false)
	assert.True(t, ok)
}

func TestStatsAndClear(t *testing.T) {
	c, clk := newTestCache(t, DefaultCapacity, time.Minute)
	c.Store("h1", "data", models.Usage{})
	c.Lookup("h1", false) // hit
	c.Lookup("h2", false) // miss

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Entries)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(60), stats.TTLSeconds)

	clk.Step(2 * time.Minute)
	c.Store("h3", "fresh", models.Usage{})
	assert.Equal(t, 1, c.Clear(true))
	assert.Equal(t, 1, c.Len())

	assert.Equal(t, 1, c.Clear(false))
	assert.Equal(t, 0, c.Len())
}

func TestConcurrentAccess(t *testing.T) {
	c, _ := newTestCache(t, 10, DefaultTTL)

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				key := fmt.Sprintf("k%d-%d", g, i%25)
				c.Store(key, "v", models.Usage{})
				c.Lookup(key, false)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 10)
	c.mu.Lock()
	assert.Equal(t, c.order.Len(), len(c.entries), "map and order list must agree")
	c.mu.Unlock()
}
