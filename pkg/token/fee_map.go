package token

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

var (
	// ErrMissingFee indicates the fee map has no minimum fee for MOB
	ErrMissingFee = errors.New("token is missing from the fee map")
	// ErrInvalidFee indicates a zero minimum fee
	ErrInvalidFee = errors.New("token has an invalid fee")
)

// FeeMap is a thread-safe map of minimum fee by token id
type FeeMap struct {
	mu     sync.RWMutex
	fees   map[TokenID]uint64
	digest string
}

// DefaultFees returns the default minimum fees, which only contain MOB
func DefaultFees() map[TokenID]uint64 {
	return map[TokenID]uint64{
		MOB: MobMinimumFee,
	}
}

// NewDefaultFeeMap returns a FeeMap with the default minimum fees
func NewDefaultFeeMap() *FeeMap {
	m, _ := NewFeeMap(DefaultFees())
	return m
}

// NewFeeMap returns a FeeMap for the provided fees, which must be valid
func NewFeeMap(fees map[TokenID]uint64) (*FeeMap, error) {
	if err := ValidateFees(fees); err != nil {
		return nil, err
	}

	copied := copyFees(fees)
	return &FeeMap{
		fees:   copied,
		digest: digestFees(copied),
	}, nil
}

// ParseFeeMap parses a comma separated list of token_id:fee pairs, for
// example "0:400000000,1:1024".
func ParseFeeMap(val string) (*FeeMap, error) {
	fees := make(map[TokenID]uint64)
	for _, entry := range strings.Split(val, ",") {
		entry = strings.TrimSpace(entry)
		if len(entry) == 0 {
			continue
		}

		parts := strings.Split(entry, ":")
		if len(parts) != 2 {
			return nil, errors.Errorf("invalid fee map entry %q", entry)
		}

		tokenID, err := ParseTokenID(parts[0])
		if err != nil {
			return nil, err
		}

		var fee uint64
		if _, err := fmt.Sscanf(parts[1], "%d", &fee); err != nil {
			return nil, errors.Wrapf(err, "invalid fee for %s", tokenID)
		}

		if _, ok := fees[tokenID]; ok {
			return nil, errors.Errorf("duplicate fee map entry for %s", tokenID)
		}
		fees[tokenID] = fee
	}

	return NewFeeMap(fees)
}

// ValidateFees checks all fees are non-zero and that MOB has a fee
func ValidateFees(fees map[TokenID]uint64) error {
	for _, tokenID := range sortedTokenIDs(fees) {
		if fees[tokenID] == 0 {
			return errors.Wrapf(ErrInvalidFee, "%s fee 0", tokenID)
		}
	}

	if _, ok := fees[MOB]; !ok {
		return errors.Wrapf(ErrMissingFee, "%s", MOB)
	}

	return nil
}

// GetFee returns the minimum fee for a token, if one is set
func (m *FeeMap) GetFee(tokenID TokenID) (uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fee, ok := m.fees[tokenID]
	return fee, ok
}

// Update replaces the fees, or resets them to the defaults when fees is nil.
// Invalid fees leave the map unmodified.
func (m *FeeMap) Update(fees map[TokenID]uint64) error {
	if fees == nil {
		fees = DefaultFees()
	}

	if err := ValidateFees(fees); err != nil {
		return err
	}

	copied := copyFees(fees)

	m.mu.Lock()
	m.fees = copied
	m.digest = digestFees(copied)
	m.mu.Unlock()

	return nil
}

// Digest returns the hex encoded digest of the current fees
func (m *FeeMap) Digest() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.digest
}

// ResponderID appends the fee map digest to a responder id, producing an id
// that is unique to the current fee configuration.
func (m *FeeMap) ResponderID(responderID string) string {
	return fmt.Sprintf("%s-%s", responderID, m.Digest())
}

// Fees returns a copy of the current fees
func (m *FeeMap) Fees() map[TokenID]uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return copyFees(m.fees)
}

// digestFees hashes the fees in token id order, so equal maps always have the
// same digest.
func digestFees(fees map[TokenID]uint64) string {
	h, _ := blake2b.New256([]byte("fee_map"))

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(len(fees)*2))
	h.Write(buf[:])

	for _, tokenID := range sortedTokenIDs(fees) {
		binary.LittleEndian.PutUint32(buf[:4], uint32(tokenID))
		h.Write([]byte("token_id"))
		h.Write(buf[:4])

		binary.LittleEndian.PutUint64(buf[:], fees[tokenID])
		h.Write([]byte("fee"))
		h.Write(buf[:])
	}

	return hex.EncodeToString(h.Sum(nil))
}

func sortedTokenIDs(fees map[TokenID]uint64) []TokenID {
	tokenIDs := make([]TokenID, 0, len(fees))
	for tokenID := range fees {
		tokenIDs = append(tokenIDs, tokenID)
	}
	sort.Slice(tokenIDs, func(i, j int) bool {
		return tokenIDs[i] < tokenIDs[j]
	})
	return tokenIDs
}

func copyFees(fees map[TokenID]uint64) map[TokenID]uint64 {
	copied := make(map[TokenID]uint64, len(fees))
	for k, v := range fees {
		copied[k] = v
	}
	return copied
}
