package sync

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_Consistency(t *testing.T) {
	r1 := newStripeRing("lock", 16, 100)
	r2 := newStripeRing("lock", 16, 100)

	for i := 0; i < 1000; i++ {
		key := []byte(fmt.Sprintf("address%d", i))
		assert.Equal(t, r1.stripe(key), r2.stripe(key))
	}
}

func TestRing_Distribution(t *testing.T) {
	const stripes = 8
	r := newStripeRing("lock", stripes, hashEntriesPerLock)

	counts := make(map[int]int)
	for i := 0; i < 8000; i++ {
		stripe := r.stripe([]byte(fmt.Sprintf("address%d", i)))
		require.True(t, stripe >= 0 && stripe < stripes)
		counts[stripe]++
	}

	require.Len(t, counts, stripes)
	for _, count := range counts {
		// Each stripe gets 1000 keys on average
		assert.InDelta(t, 1000, count, 400)
	}
}

func TestRing_SingleStripe(t *testing.T) {
	r := newStripeRing("chan", 1, 10)
	for i := 0; i < 100; i++ {
		assert.Equal(t, 0, r.stripe([]byte{byte(i)}))
	}
}
