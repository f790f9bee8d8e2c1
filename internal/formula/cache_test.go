package formula

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_ReusesPrograms(t *testing.T) {
	c := NewCache(10, 0)

	p1, err := c.Parse("data.a + 1")
	require.NoError(t, err)
	p2, err := c.Parse("data.a + 1")
	require.NoError(t, err)

	assert.Same(t, p1, p2)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, DefaultMaxLength, c.MaxLength())
}

func TestCache_DoesNotCacheErrors(t *testing.T) {
	c := NewCache(10, 0)

	_, err := c.Parse("foo(")
	require.Error(t, err)
	assert.Equal(t, 0, c.Len())
}

func TestCache_Evicts(t *testing.T) {
	c := NewCache(2, 0)

	first, err := c.Parse("1")
	require.NoError(t, err)
	_, err = c.Parse("2")
	require.NoError(t, err)
	_, err = c.Parse("3")
	require.NoError(t, err)

	assert.Equal(t, 2, c.Len())

	again, err := c.Parse("1")
	require.NoError(t, err)
	assert.NotSame(t, first, again)
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewCache(2, 0)

	one, err := c.Parse("1")
	require.NoError(t, err)
	two, err := c.Parse("2")
	require.NoError(t, err)

	// touching "1" makes "2" the eviction candidate
	_, err = c.Parse("1")
	require.NoError(t, err)
	_, err = c.Parse("3")
	require.NoError(t, err)

	got, err := c.Parse("1")
	require.NoError(t, err)
	assert.Same(t, one, got)

	got, err = c.Parse("2")
	require.NoError(t, err)
	assert.NotSame(t, two, got)
}

func TestCache_MaxLength(t *testing.T) {
	c := NewCache(0, 10)

	_, err := c.Parse(strings.Repeat("1+", 10) + "1")
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 0, c.Len())
}

func TestCache_Concurrent(t *testing.T) {
	c := NewCache(16, 0)
	ctx := NewContext(ContextData{Data: map[string]any{"n": 2}})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			prog, err := c.Parse(fmt.Sprintf("data.n * %d", i%4))
			if !assert.NoError(t, err) {
				return
			}
			got, err := Evaluate(prog, ctx)
			assert.NoError(t, err)
			assert.Equal(t, int64(2*(i%4)), got)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 4, c.Len())
}
