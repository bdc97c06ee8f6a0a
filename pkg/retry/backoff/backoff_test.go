package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConstant(t *testing.T) {
	s := Constant(100 * time.Millisecond)

	for i := uint(1); i < 10; i++ {
		assert.Equal(t, 100*time.Millisecond, s(i))
	}
}

func TestExponential(t *testing.T) {
	s := Exponential(2*time.Second, 3.0)

	assert.Equal(t, 2*time.Second, s(1))  // 2*3^0
	assert.Equal(t, 6*time.Second, s(2))  // 2*3^1
	assert.Equal(t, 18*time.Second, s(3)) // 2*3^2
	assert.Equal(t, 54*time.Second, s(4)) // 2*3^3
}

func TestBinaryExponential(t *testing.T) {
	exp := Exponential(2*time.Second, 2)
	binExp := BinaryExponential(2 * time.Second)

	for i := uint(1); i < 10; i++ {
		assert.Equal(t, exp(i), binExp(i))
	}
}

func TestCapped(t *testing.T) {
	s := Capped(BinaryExponential(100*time.Millisecond), time.Second)

	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}, delays(s, 6))
}

func TestCappedNonDecreasing(t *testing.T) {
	for _, tc := range []struct {
		base time.Duration
		max  time.Duration
	}{
		{time.Millisecond, 50 * time.Millisecond},
		{250 * time.Millisecond, 250 * time.Millisecond},
		{3 * time.Second, time.Second},
		{time.Hour, 24 * time.Hour},
	} {
		s := Capped(BinaryExponential(tc.base), tc.max)

		var last time.Duration
		for _, delay := range delays(s, 100) {
			assert.True(t, delay >= last)
			assert.True(t, delay <= tc.max)
			last = delay
		}
	}
}

func delays(strategy Strategy, n int) []time.Duration {
	res := make([]time.Duration, n)
	for i := range res {
		res[i] = strategy(uint(i + 1))
	}
	return res
}
