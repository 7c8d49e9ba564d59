// internal/curve/units.go
package curve

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional digits carried by fixed-point values.
const Decimals = 18

// ParseUnits converts a human-readable decimal such as "1.5" into a
// fixed-point value. Fractions finer than 18 digits are rejected.
func ParseUnits(s string) (*uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount %q is negative", s)
	}
	scaled := d.Shift(Decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("amount %q has more than %d decimals", s, Decimals)
	}
	v, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("amount %q does not fit in 256 bits", s)
	}
	return v, nil
}

// MustParseUnits is ParseUnits that panics on error. Intended for constants and tests.
func MustParseUnits(s string) *uint256.Int {
	v, err := ParseUnits(s)
	if err != nil {
		panic(err)
	}
	return v
}

// ToDecimal converts a fixed-point value to a decimal for display.
func ToDecimal(v *uint256.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v.ToBig(), -Decimals)
}

// FormatUnits renders a fixed-point value with trailing zeros trimmed.
func FormatUnits(v *uint256.Int) string {
	return ToDecimal(v).String()
}
