package sync

import (
	"fmt"
	base "sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripedLock_HappyPath(t *testing.T) {
	workerCount := 64
	operationCount := 1000

	l := NewStripedLock(4)

	var workerWg base.WaitGroup
	startChan := make(chan struct{})
	data := make([]int, workerCount)

	for i := 0; i < workerCount; i++ {
		workerWg.Add(1)

		go func(workerID int) {
			defer workerWg.Done()

			var opWg base.WaitGroup
			key := fmt.Sprintf("worker%d", workerID)
			for j := 0; j < operationCount; j++ {
				opWg.Add(1)

				go func() {
					defer opWg.Done()

					<-startChan

					mu := l.GetString(key)
					mu.Lock()
					data[workerID]++
					mu.Unlock()
				}()
			}

			opWg.Wait()
		}(i)
	}

	close(startChan)
	workerWg.Wait()

	for _, value := range data {
		assert.Equal(t, operationCount, value)
	}
}

func TestStripedLock_SameKeySameLock(t *testing.T) {
	l := NewStripedLock(16)
	assert.True(t, l.Get([]byte("address")) == l.GetString("address"))

	l = NewStripedLock(0)
	assert.True(t, l.GetString("a") == l.GetString("b"))
}
