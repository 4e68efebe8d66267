package util

import (
	"bytes"
	"encoding/json"
	"math/big"
	"regexp"

	"github.com/pkg/errors"
)

var decimalRegex = regexp.MustCompile(`^[0-9]+$`)

// ErrInvalidNumber is returned for values that are not non-negative
// integers.
var ErrInvalidNumber = errors.New("invalid number")

// Number is a non-negative integer decoded from either a JSON number or
// a decimal string.
type Number struct {
	v big.Int
}

// NewNumber returns n as a Number.
func NewNumber(n uint64) *Number {
	num := &Number{}
	num.v.SetUint64(n)
	return num
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return errors.Wrap(ErrInvalidNumber, err.Error())
		}
		data = []byte(s)
	}

	if !decimalRegex.Match(data) {
		return errors.Wrapf(ErrInvalidNumber, "%q", data)
	}
	if _, ok := n.v.SetString(string(data), 10); !ok {
		return errors.Wrapf(ErrInvalidNumber, "%q", data)
	}

	return nil
}

// MarshalJSON encodes the number as a decimal string.
func (n Number) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.v.String())
}

// Big returns a copy of the value.
func (n *Number) Big() *big.Int {
	return new(big.Int).Set(&n.v)
}

// Uint64 returns the value if it fits in bits bits.
func (n *Number) Uint64(bits uint) (uint64, error) {
	if n.v.BitLen() > int(bits) {
		return 0, errors.Wrapf(ErrInvalidNumber, "%s overflows uint%d", n.v.String(), bits)
	}

	return n.v.Uint64(), nil
}

func (n *Number) String() string {
	return n.v.String()
}
