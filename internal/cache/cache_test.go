package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnapshot_LoadStore(t *testing.T) {
	var s Snapshot[map[string]int]

	v, ok := s.Load()
	assert.False(t, ok)
	assert.Nil(t, v)

	s.Store(map[string]int{"a": 1})
	v, ok = s.Load()
	assert.True(t, ok)
	assert.Equal(t, 1, v["a"])
}

func TestSnapshot_ConcurrentSwap(t *testing.T) {
	var s Snapshot[int]
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			s.Store(n)
			_, _ = s.Load()
		}(i)
	}
	wg.Wait()
	v, ok := s.Load()
	assert.True(t, ok)
	assert.GreaterOrEqual(t, v, 0)
}
