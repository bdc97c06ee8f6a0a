package sync

import (
	"encoding/binary"
	"fmt"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"
	"github.com/spaolacci/murmur3"
)

// ring is a consistent hash ring mapping arbitrary keys onto stripe indices
type ring struct {
	hashRing *treemap.Map

	// minEntry caches the min entry in hashRing, since treemap.Map.Min() is
	// O(log n).
	minEntry int
}

// newStripeRing returns a consistent hash ring over count stripes, each
// having replicationFactor entries in the ring.
func newStripeRing(prefix string, count, replicationFactor uint) *ring {
	hashRing := treemap.NewWith(utils.Int64Comparator)
	for stripe := 0; stripe < int(count); stripe++ {
		keyHash, _ := murmur3.Sum128([]byte(fmt.Sprintf("%s%d", prefix, stripe)))
		keyHashBytes := make([]byte, 8)
		binary.LittleEndian.PutUint64(keyHashBytes, keyHash)

		indexBytes := make([]byte, 4)
		for i := 0; i < int(replicationFactor); i++ {
			binary.LittleEndian.PutUint32(indexBytes, uint32(i))

			hasher := murmur3.New128()
			hasher.Write(keyHashBytes)
			hasher.Write(indexBytes)
			hash, _ := hasher.Sum128()
			hashRing.Put(int64(hash), stripe)
		}
	}

	var minEntry int
	if _, v := hashRing.Min(); v != nil {
		minEntry = v.(int)
	}

	return &ring{
		hashRing: hashRing,
		minEntry: minEntry,
	}
}

// stripe consistently hashes the key and returns its stripe index
func (r *ring) stripe(key []byte) int {
	hasher := murmur3.New128()
	hasher.Write(key)
	raw, _ := hasher.Sum128()

	_, stripe := r.hashRing.Ceiling(int64(raw))
	if stripe != nil {
		return stripe.(int)
	}
	return r.minEntry
}
