package types

import "strconv"

// TokenAmount is an amount of the native value unit. Balances, attached
// value, rent and fees are all denominated in it.
type TokenAmount uint64

// ZeroToken is the zero amount.
const ZeroToken = TokenAmount(0)

// Add returns a + b.
func (a TokenAmount) Add(b TokenAmount) TokenAmount {
	return a + b
}

// Sub returns a - b. The caller must have checked a >= b; subtraction below
// zero is a programmer error in value accounting.
func (a TokenAmount) Sub(b TokenAmount) TokenAmount {
	if a < b {
		panic("token amount underflow")
	}
	return a - b
}

// LessThan reports a < b.
func (a TokenAmount) LessThan(b TokenAmount) bool {
	return a < b
}

// IsZero reports whether the amount is zero.
func (a TokenAmount) IsZero() bool {
	return a == 0
}

func (a TokenAmount) String() string {
	return strconv.FormatUint(uint64(a), 10)
}
