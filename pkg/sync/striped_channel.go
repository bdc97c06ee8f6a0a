package sync

import (
	"sync"
)

const (
	hashEntriesPerChannel = 200
)

// StripedChannel is a partitioned channel that consistently maps a key space
// to a set of channels. Values sent with the same key are received in order
// by the same receiver.
type StripedChannel[T any] struct {
	channels  []chan T
	hashRing  *ring
	closeFunc sync.Once
}

// NewStripedChannel returns a new StripedChannel with a static number of
// channels.
func NewStripedChannel[T any](count, queueSize uint) *StripedChannel[T] {
	if count == 0 {
		count = 1
	}

	channels := make([]chan T, count)
	for i := range channels {
		channels[i] = make(chan T, queueSize)
	}

	return &StripedChannel[T]{
		channels: channels,
		hashRing: newStripeRing("chan", count, hashEntriesPerChannel),
	}
}

// GetChannels returns the set of all receiver channels.
func (c *StripedChannel[T]) GetChannels() []<-chan T {
	receivers := make([]<-chan T, len(c.channels))
	for i, channel := range c.channels {
		receivers[i] = channel
	}
	return receivers
}

// Send sends the value to the channel that maps to the key. It is non-blocking
// and returns whether the value was put on the channel.
func (c *StripedChannel[T]) Send(key []byte, value T) bool {
	select {
	case c.channels[c.hashRing.stripe(key)] <- value:
		return true
	default:
		return false
	}
}

// BlockingSend is a blocking variation of Send.
func (c *StripedChannel[T]) BlockingSend(key []byte, value T) {
	c.channels[c.hashRing.stripe(key)] <- value
}

// Close closes all underlying channels.
func (c *StripedChannel[T]) Close() {
	c.closeFunc.Do(func() {
		for _, channel := range c.channels {
			close(channel)
		}
	})
}
