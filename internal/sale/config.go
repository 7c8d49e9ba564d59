// internal/sale/config.go
package sale

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/rovshanmuradov/curvesale/internal/curve"
	"github.com/rovshanmuradov/curvesale/internal/types"
)

// Config is supplied once, at initialization, and never changes afterwards.
type Config struct {
	Creator             types.Address
	TotalSupply         *uint256.Int
	InitialPrice        *uint256.Int
	PriceIncrement      *uint256.Int
	GraduationThreshold *uint256.Int
	CreatorFeeBps       uint64
	PlatformFeeBps      uint64
	EnableSell          bool
}

// Validate checks the config before a sale is initialized with it.
func (c Config) Validate() error {
	if c.Creator.IsZero() {
		return fmt.Errorf("%w: %w: creator", types.ErrInvalidParameters, types.ErrInvalidBeneficiary)
	}
	if c.TotalSupply == nil || c.TotalSupply.IsZero() {
		return types.ErrInvalidTotalSupply
	}
	if c.InitialPrice == nil || c.InitialPrice.IsZero() {
		return types.ErrInvalidPrice
	}
	if c.GraduationThreshold == nil || c.GraduationThreshold.IsZero() {
		return types.ErrInvalidGraduationThreshold
	}
	if c.CreatorFeeBps > types.BasisPoints || c.PlatformFeeBps > types.BasisPoints ||
		c.CreatorFeeBps+c.PlatformFeeBps >= types.BasisPoints {
		return fmt.Errorf("%w: fees of %d+%d bps leave nothing to raise",
			types.ErrInvalidParameters, c.CreatorFeeBps, c.PlatformFeeBps)
	}
	return nil
}

// Params returns the curve parameters of the config.
func (c Config) Params() curve.Params {
	return curve.NewParams(c.InitialPrice, c.PriceIncrement)
}

func (c Config) clone() Config {
	out := c
	out.TotalSupply = types.Copy(c.TotalSupply)
	out.InitialPrice = types.Copy(c.InitialPrice)
	out.PriceIncrement = types.Copy(c.PriceIncrement)
	out.GraduationThreshold = types.Copy(c.GraduationThreshold)
	return out
}
