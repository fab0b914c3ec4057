package engine

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInFlightSet(t *testing.T) {
	s := NewInFlightSet()

	assert.True(t, s.Claim("m1"))
	assert.False(t, s.Claim("m1"), "second claim rejected")
	assert.True(t, s.Claim("m2"), "independent markets")
	assert.Equal(t, 2, s.Len())

	s.Release("m1")
	assert.True(t, s.Claim("m1"), "claimable again after release")
}

func TestInFlightSetConcurrentClaims(t *testing.T) {
	s := NewInFlightSet()
	var won atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Claim("m1") {
				won.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), won.Load(), "exactly one claimant wins")
	assert.Equal(t, 1, s.Len())
}
