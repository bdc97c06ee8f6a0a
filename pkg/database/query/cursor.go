package query

import (
	"encoding/binary"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

// Cursor is an opaque position in a paged result set. It encodes the id of
// the last record of the previous page.
type Cursor []byte

var (
	EmptyCursor Cursor = Cursor([]byte{})
)

// ToCursor returns the cursor positioned after the record with the given id
func ToCursor(id uint64) Cursor {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

// CursorFromBase58 decodes a cursor previously encoded with ToBase58
func CursorFromBase58(val string) (Cursor, error) {
	decoded, err := base58.Decode(val)
	if err != nil {
		return nil, errors.Wrap(err, "invalid cursor encoding")
	}
	if len(decoded) != 8 {
		return nil, errors.Errorf("invalid cursor length %d", len(decoded))
	}
	return decoded, nil
}

func (c Cursor) ToUint64() uint64 {
	return binary.BigEndian.Uint64(c)
}

func (c Cursor) ToBase58() string {
	return base58.Encode(c)
}
