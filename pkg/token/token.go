package token

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
)

const (
	// PicoMobPerMob is the number of base units in one MOB
	PicoMobPerMob = 1_000_000_000_000
	// PicoMobPerMicroMob is the number of base units in one microMOB
	PicoMobPerMicroMob = 1_000_000
	// Decimals is the number of decimal places used when displaying MOB
	Decimals = 12

	// MobMinimumFee is the minimum network fee for MOB, in picoMOB
	MobMinimumFee = 400 * PicoMobPerMicroMob
)

// TokenID identifies an asset on the ledger
type TokenID uint32

// MOB is the native token of the ledger
const MOB TokenID = 0

// ParseTokenID parses a base 10 token id
func ParseTokenID(val string) (TokenID, error) {
	id, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid token id %q", val)
	}
	return TokenID(id), nil
}

// String implements fmt.Stringer
func (t TokenID) String() string {
	return fmt.Sprintf("TokenId(%d)", uint32(t))
}
