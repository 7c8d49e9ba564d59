// internal/sale/state.go
package sale

import (
	"time"

	"github.com/holiman/uint256"

	"github.com/rovshanmuradov/curvesale/internal/types"
)

// State is the mutable ledger of a sale. Reserve is the BNB backing the
// curve; the sale account always holds Reserve plus both accrued fees until
// graduation moves everything out.
type State struct {
	TokensSold             *uint256.Int
	TotalRaised            *uint256.Int
	Reserve                *uint256.Int
	AccumulatedCreatorFee  *uint256.Int
	AccumulatedPlatformFee *uint256.Int
	Graduated              bool
	LPShares               *uint256.Int
	Pair                   string
}

func newState() State {
	return State{
		TokensSold:             new(uint256.Int),
		TotalRaised:            new(uint256.Int),
		Reserve:                new(uint256.Int),
		AccumulatedCreatorFee:  new(uint256.Int),
		AccumulatedPlatformFee: new(uint256.Int),
		LPShares:               new(uint256.Int),
	}
}

func (s State) clone() State {
	out := s
	out.TokensSold = s.TokensSold.Clone()
	out.TotalRaised = s.TotalRaised.Clone()
	out.Reserve = s.Reserve.Clone()
	out.AccumulatedCreatorFee = s.AccumulatedCreatorFee.Clone()
	out.AccumulatedPlatformFee = s.AccumulatedPlatformFee.Clone()
	out.LPShares = s.LPShares.Clone()
	return out
}

// snapshot captures everything a failed operation has to put back.
type snapshot struct {
	state   State
	paused  bool
	holder  types.Address
	holding *uint256.Int
}

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Trade is the outcome of a committed buy or sell. BnbAmount is the gross
// BNB paid on a buy and the net BNB received on a sell.
type Trade struct {
	ID          string
	SaleID      string
	Side        Side
	Trader      types.Address
	BnbAmount   *uint256.Int
	TokenAmount *uint256.Int
	CreatorFee  *uint256.Int
	PlatformFee *uint256.Int
	Price       *uint256.Int
	TokensSold  *uint256.Int
	Graduated   bool
	Timestamp   time.Time
}

// BuyQuote breaks down a buy of Gross BNB.
type BuyQuote struct {
	Gross       *uint256.Int
	CreatorFee  *uint256.Int
	PlatformFee *uint256.Int
	Net         *uint256.Int
	TokensOut   *uint256.Int
}

// SellQuote breaks down a sell of Tokens.
type SellQuote struct {
	Tokens      *uint256.Int
	Gross       *uint256.Int
	CreatorFee  *uint256.Int
	PlatformFee *uint256.Int
	Net         *uint256.Int
}
