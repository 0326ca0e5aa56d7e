package meta

import (
	"encoding/hex"
	"fmt"
)

type Hash [20]byte

func (h Hash) Bytes() []byte { return h[:] }

func (h Hash) String() string {
	return h.Hex()
}

func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

func ParseHash(s string) (Hash, error) {
	var h Hash
	if hex.DecodedLen(len(s)) != len(h) {
		return h, fmt.Errorf("invalid info hash %q", s)
	}

	_, err := hex.Decode(h[:], []byte(s))
	return h, err
}
