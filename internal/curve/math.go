// internal/curve/math.go
package curve

import (
	"github.com/holiman/uint256"

	"github.com/rovshanmuradov/curvesale/internal/types"
)

// mulDiv computes x*y/d with a 512-bit intermediate, truncating.
func mulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, types.ErrDivisionByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, types.ErrOverflow
	}
	return z, nil
}

// mulDivUp is mulDiv rounded towards positive infinity.
func mulDivUp(x, y, d *uint256.Int) (*uint256.Int, error) {
	z, err := mulDiv(x, y, d)
	if err != nil {
		return nil, err
	}
	if new(uint256.Int).MulMod(x, y, d).IsZero() {
		return z, nil
	}
	return add(z, uint256.NewInt(1))
}

func mul(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, types.ErrOverflow
	}
	return z, nil
}

func add(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, types.ErrOverflow
	}
	return z, nil
}

// MulDiv is the exported form of the 512-bit multiply-divide used across the
// engine for fee and share arithmetic.
func MulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	return mulDiv(x, y, d)
}

// Add returns x+y or ErrOverflow.
func Add(x, y *uint256.Int) (*uint256.Int, error) {
	return add(x, y)
}

// Sub returns x-y or ErrInsufficientBalance when y > x.
func Sub(x, y *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		return nil, types.ErrInsufficientBalance
	}
	return z, nil
}
