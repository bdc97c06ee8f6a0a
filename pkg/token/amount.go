package token

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// StrToPicoMob converts a string representation of MOB to the picoMOB
// value.
//
// An error is returned if the value string is invalid, or it cannot be
// accurately represented as picoMOB. For example, a value smaller than a
// picoMOB, or one that overflows a uint64.
func StrToPicoMob(val string) (uint64, error) {
	parts := strings.Split(val, ".")
	if len(parts) > 2 || len(parts[0]) == 0 {
		return 0, errors.New("invalid mob value")
	}

	// 18446744073709551615 picoMOB is ~18.4 million MOB
	if len(parts[0]) > 8 {
		return 0, errors.New("value cannot be represented")
	}

	mob, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, err
	}

	var pico uint64
	if len(parts) == 2 {
		if len(parts[1]) > Decimals {
			return 0, errors.New("value cannot be represented")
		}

		padded := fmt.Sprintf("%s%s", parts[1], strings.Repeat("0", Decimals-len(parts[1])))
		pico, err = strconv.ParseUint(padded, 10, 64)
		if err != nil {
			return 0, errors.Wrap(err, "invalid decimal component")
		}
	}

	whole := mob * PicoMobPerMob
	if whole/PicoMobPerMob != mob || whole+pico < whole {
		return 0, errors.New("value cannot be represented")
	}

	return whole + pico, nil
}

// MustStrToPicoMob calls StrToPicoMob, panicking if there's an error.
//
// This should only be used if you know for sure this will not panic.
func MustStrToPicoMob(val string) uint64 {
	result, err := StrToPicoMob(val)
	if err != nil {
		panic(err)
	}

	return result
}

// StrFromPicoMob converts an amount of picoMOB to the string representation
// of MOB.
func StrFromPicoMob(amount uint64) string {
	return fmt.Sprintf("%d.%012d", amount/PicoMobPerMob, amount%PicoMobPerMob)
}
