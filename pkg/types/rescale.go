package types

import "math/big"

// Rescale converts an amount between decimal precisions by multiplying or
// dividing by the appropriate power of ten. Scaling up is exact; scaling down
// truncates. The result is always a new big.Int.
func Rescale(amount *big.Int, fromDecimals uint8, toDecimals uint8) *big.Int {
	if amount == nil {
		return nil
	}
	if fromDecimals == toDecimals {
		return new(big.Int).Set(amount)
	}

	if toDecimals > fromDecimals {
		exponent := new(big.Int).SetInt64(int64(toDecimals - fromDecimals))
		multiplier := new(big.Int).Exp(big.NewInt(10), exponent, nil)
		return new(big.Int).Mul(amount, multiplier)
	}

	exponent := new(big.Int).SetInt64(int64(fromDecimals - toDecimals))
	divisor := new(big.Int).Exp(big.NewInt(10), exponent, nil)
	return new(big.Int).Div(amount, divisor)
}
