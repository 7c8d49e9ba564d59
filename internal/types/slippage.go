// internal/types/slippage.go
package types

import (
	"fmt"

	"github.com/holiman/uint256"
)

// BasisPoints is the denominator for fee and tolerance rates.
const BasisPoints = 10_000

// SlippageType selects how a minimum output is derived from a quote.
type SlippageType string

const (
	// SlippageFixed uses Value as the exact minimum output in base units.
	SlippageFixed SlippageType = "fixed"
	// SlippageBps tolerates Value basis points below the quote.
	SlippageBps SlippageType = "bps"
	// SlippageNone accepts any output.
	SlippageNone SlippageType = "none"
)

// SlippageConfig configures the slippage policy of a trade.
type SlippageConfig struct {
	Type  SlippageType `json:"type" yaml:"type"`
	Value uint64       `json:"value" yaml:"value"`
}

// Validate checks the policy is well formed.
func (c SlippageConfig) Validate() error {
	switch c.Type {
	case SlippageFixed, SlippageNone, "":
		return nil
	case SlippageBps:
		if c.Value > BasisPoints {
			return fmt.Errorf("%w: slippage %d bps exceeds 100%%", ErrInvalidParameters, c.Value)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown slippage type %q", ErrInvalidParameters, c.Type)
	}
}

// MinAmountOut derives the minimum acceptable output for an expected amount.
func MinAmountOut(expected *uint256.Int, cfg SlippageConfig) *uint256.Int {
	switch cfg.Type {
	case SlippageFixed:
		return uint256.NewInt(cfg.Value)
	case SlippageBps:
		if cfg.Value >= BasisPoints {
			return new(uint256.Int)
		}
		// expected * (10000 - bps) / 10000 cannot overflow the 512-bit intermediate
		out, _ := new(uint256.Int).MulDivOverflow(expected,
			uint256.NewInt(BasisPoints-cfg.Value), uint256.NewInt(BasisPoints))
		return out
	default:
		return new(uint256.Int)
	}
}

// ApplyBps returns amount*bps/10000, truncated.
func ApplyBps(amount *uint256.Int, bps uint64) *uint256.Int {
	out, _ := new(uint256.Int).MulDivOverflow(amount, uint256.NewInt(bps), uint256.NewInt(BasisPoints))
	return out
}
