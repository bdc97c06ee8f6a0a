package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrToPicoMob(t *testing.T) {
	validCases := map[string]uint64{
		"0.000000000001":  1,
		"0.0004":          MobMinimumFee,
		"1":               PicoMobPerMob,
		"1.5":             PicoMobPerMob + PicoMobPerMob/2,
		"12.000000000034": 12*PicoMobPerMob + 34,
		"18000000":        18_000_000 * PicoMobPerMob,
	}
	for in, expected := range validCases {
		actual, err := StrToPicoMob(in)
		require.NoError(t, err, in)
		assert.Equal(t, expected, actual, in)
		assert.Equal(t, expected, MustStrToPicoMob(in))
	}

	invalidCases := []string{
		"",
		".5",
		"0.0000000000001",
		"1.2.3",
		"abc",
		"-1",
		"99999999",
		"123456789",
	}
	for _, in := range invalidCases {
		_, err := StrToPicoMob(in)
		assert.Error(t, err, in)
	}

	assert.Panics(t, func() { MustStrToPicoMob("abc") })
}

func TestStrFromPicoMob(t *testing.T) {
	assert.Equal(t, "0.000000000001", StrFromPicoMob(1))
	assert.Equal(t, "0.000400000000", StrFromPicoMob(MobMinimumFee))
	assert.Equal(t, "1.500000000000", StrFromPicoMob(1_500_000_000_000))

	for _, amount := range []uint64{0, 1, 1000, MobMinimumFee, 7 * PicoMobPerMob, 123456789012345} {
		roundTripped, err := StrToPicoMob(StrFromPicoMob(amount))
		require.NoError(t, err)
		assert.Equal(t, amount, roundTripped)
	}
}

func TestTokenID(t *testing.T) {
	id, err := ParseTokenID("42")
	require.NoError(t, err)
	assert.EqualValues(t, 42, id)
	assert.Equal(t, "TokenId(42)", id.String())
	assert.Equal(t, "TokenId(0)", MOB.String())

	_, err = ParseTokenID("-1")
	assert.Error(t, err)
}
