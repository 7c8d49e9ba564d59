// internal/curve/curve.go
package curve

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/rovshanmuradov/curvesale/internal/types"
)

var (
	// Precision is the fixed-point scale shared by prices and token amounts.
	Precision = uint256.NewInt(1_000_000_000_000_000_000)

	precisionSquared = new(uint256.Int).Mul(Precision, Precision)

	// twoPrecisionSquared is the denominator of the increment term of Cost.
	twoPrecisionSquared = new(uint256.Int).Mul(precisionSquared, uint256.NewInt(2))

	// costRoundingSlack covers the two truncating divisions in Cost.
	costRoundingSlack = uint256.NewInt(2)
)

const (
	// maxClampPasses bounds the final pass that keeps a purchase within budget.
	maxClampPasses = 3

	// toleranceDivisor sets the accepted under-spend of a purchase to 1%.
	toleranceDivisor = 100
)

// Params are the immutable parameters of a linear curve:
// price(x) = InitialPrice + PriceIncrement*x/Precision.
type Params struct {
	InitialPrice   *uint256.Int
	PriceIncrement *uint256.Int
}

// NewParams copies the given values into a Params.
func NewParams(initialPrice, priceIncrement *uint256.Int) Params {
	return Params{
		InitialPrice:   types.Copy(initialPrice),
		PriceIncrement: types.Copy(priceIncrement),
	}
}

// IsFlat reports whether the price never changes.
func (p Params) IsFlat() bool {
	return p.PriceIncrement == nil || p.PriceIncrement.IsZero()
}

func (p Params) initial() *uint256.Int {
	if p.InitialPrice == nil {
		return new(uint256.Int)
	}
	return p.InitialPrice
}

func (p Params) increment() *uint256.Int {
	if p.PriceIncrement == nil {
		return new(uint256.Int)
	}
	return p.PriceIncrement
}

// Price returns the marginal price once tokensSold tokens have been sold.
func Price(tokensSold *uint256.Int, p Params) (*uint256.Int, error) {
	step, err := mulDiv(p.increment(), tokensSold, Precision)
	if err != nil {
		return nil, fmt.Errorf("price increment term: %w", err)
	}
	return add(p.initial(), step)
}

// Cost integrates the price from currentSupply to currentSupply+tokenAmount:
//
//	ip*a/P + pi*(2*s*a + a^2)/(2*P^2)
//
// Both terms truncate independently.
func Cost(tokenAmount, currentSupply *uint256.Int, p Params) (*uint256.Int, error) {
	if tokenAmount.IsZero() {
		return new(uint256.Int), nil
	}

	base, err := mulDiv(p.initial(), tokenAmount, Precision)
	if err != nil {
		return nil, fmt.Errorf("cost base term: %w", err)
	}
	if p.IsFlat() {
		return base, nil
	}

	twoSA, err := mul(currentSupply, tokenAmount)
	if err != nil {
		return nil, fmt.Errorf("cost supply term: %w", err)
	}
	if twoSA, err = mul(twoSA, uint256.NewInt(2)); err != nil {
		return nil, fmt.Errorf("cost supply term: %w", err)
	}
	aSquared, err := mul(tokenAmount, tokenAmount)
	if err != nil {
		return nil, fmt.Errorf("cost square term: %w", err)
	}
	span, err := add(twoSA, aSquared)
	if err != nil {
		return nil, fmt.Errorf("cost span: %w", err)
	}
	slope, err := mulDiv(p.increment(), span, twoPrecisionSquared)
	if err != nil {
		return nil, fmt.Errorf("cost increment term: %w", err)
	}
	return add(base, slope)
}

// PurchaseReturn estimates how many tokens bnbAmount buys at currentSupply.
//
// A flat curve is solved exactly. Otherwise the result is an approximation:
// a linear estimate at the average of the current price and the price after
// the estimate, one Newton step against Cost, then a bounded clamp that
// guarantees Cost(result) <= bnbAmount. When that leaves more than 1% of the
// budget unspent the integer square root of the quadratic is used instead.
func PurchaseReturn(bnbAmount, currentSupply *uint256.Int, p Params) (*uint256.Int, error) {
	if bnbAmount.IsZero() {
		return new(uint256.Int), nil
	}

	current, err := Price(currentSupply, p)
	if err != nil {
		return nil, err
	}
	if current.IsZero() {
		return nil, types.ErrInvalidPrice
	}
	if p.IsFlat() {
		return mulDiv(bnbAmount, Precision, current)
	}

	estimate, err := mulDiv(bnbAmount, Precision, current)
	if err != nil {
		return nil, fmt.Errorf("linear estimate: %w", err)
	}
	after, err := priceAfter(currentSupply, estimate, p)
	if err != nil {
		return nil, err
	}
	avg, err := add(current, after)
	if err != nil {
		return nil, err
	}
	avg.Rsh(avg, 1)

	tokens, err := mulDiv(bnbAmount, Precision, avg)
	if err != nil {
		return nil, fmt.Errorf("average estimate: %w", err)
	}

	if tokens, err = newtonStep(tokens, bnbAmount, currentSupply, p); err != nil {
		return nil, err
	}
	if tokens, err = clampToBudget(tokens, bnbAmount, currentSupply, current, p); err != nil {
		return nil, err
	}
	ok, err := withinTolerance(tokens, bnbAmount, currentSupply, p)
	if err != nil || ok {
		return tokens, err
	}

	// Wide ranges defeat a single Newton step; fall back to the closed form.
	root, err := exactRoot(bnbAmount, current, p)
	if err != nil {
		return tokens, nil
	}
	return clampToBudget(root, bnbAmount, currentSupply, current, p)
}

// withinTolerance reports whether tokens spend at least 99% of budget.
func withinTolerance(tokens, budget, supply *uint256.Int, p Params) (bool, error) {
	spent, err := Cost(tokens, supply, p)
	if err != nil {
		return false, err
	}
	deficit := new(uint256.Int).Sub(budget, spent)
	limit := new(uint256.Int).Div(budget, uint256.NewInt(toleranceDivisor))
	return !deficit.Gt(limit), nil
}

// exactRoot solves pi*a^2/(2P^2) + current*a/P = budget for a:
//
//	a = sqrt(k^2 + 2*budget*P^2/pi) - k,  k = current*P/pi
func exactRoot(budget, current *uint256.Int, p Params) (*uint256.Int, error) {
	k, err := mulDiv(current, Precision, p.increment())
	if err != nil {
		return nil, err
	}
	kSquared, err := mul(k, k)
	if err != nil {
		return nil, err
	}
	twoBudget, err := mul(budget, uint256.NewInt(2))
	if err != nil {
		return nil, err
	}
	spread, err := mulDiv(twoBudget, precisionSquared, p.increment())
	if err != nil {
		return nil, err
	}
	disc, err := add(kSquared, spread)
	if err != nil {
		return nil, err
	}
	root := new(uint256.Int).Sqrt(disc)
	if !root.Gt(k) {
		return new(uint256.Int), nil
	}
	return root.Sub(root, k), nil
}

// newtonStep corrects tokens by the residual of Cost, priced at the marginal
// price of the estimated end of the range.
func newtonStep(tokens, budget, supply *uint256.Int, p Params) (*uint256.Int, error) {
	spent, err := Cost(tokens, supply, p)
	if err != nil {
		return nil, err
	}
	if spent.Eq(budget) {
		return tokens, nil
	}

	marginal, err := priceAfter(supply, tokens, p)
	if err != nil {
		return nil, err
	}

	if spent.Gt(budget) {
		excess := new(uint256.Int).Sub(spent, budget)
		remove, err := mulDiv(excess, Precision, marginal)
		if err != nil {
			return nil, err
		}
		if remove.Gt(tokens) {
			return new(uint256.Int), nil
		}
		return new(uint256.Int).Sub(tokens, remove), nil
	}

	remaining := new(uint256.Int).Sub(budget, spent)
	extra, err := mulDiv(remaining, Precision, marginal)
	if err != nil {
		return nil, err
	}
	return add(tokens, extra)
}

// clampToBudget shrinks tokens while they cost more than budget. Each pass
// removes enough tokens at the lowest price in the range to cover the excess
// plus the truncation slack of Cost, so one pass normally suffices.
func clampToBudget(tokens, budget, supply, floorPrice *uint256.Int, p Params) (*uint256.Int, error) {
	for i := 0; i < maxClampPasses && !tokens.IsZero(); i++ {
		spent, err := Cost(tokens, supply, p)
		if err != nil {
			return nil, err
		}
		if !spent.Gt(budget) {
			return tokens, nil
		}
		excess := new(uint256.Int).Sub(spent, budget)
		excess.Add(excess, costRoundingSlack)
		cut, err := mulDivUp(excess, Precision, floorPrice)
		if err != nil {
			return nil, err
		}
		if cut.Gt(tokens) {
			return new(uint256.Int), nil
		}
		tokens = new(uint256.Int).Sub(tokens, cut)
	}

	spent, err := Cost(tokens, supply, p)
	if err != nil {
		return nil, err
	}
	if spent.Gt(budget) {
		return new(uint256.Int), nil
	}
	return tokens, nil
}

// SaleReturn is the BNB released by selling tokenAmount back to the curve:
// the integral over the descending range. It is zero when tokenAmount
// exceeds currentSupply.
func SaleReturn(tokenAmount, currentSupply *uint256.Int, p Params) (*uint256.Int, error) {
	if tokenAmount.Gt(currentSupply) {
		return new(uint256.Int), nil
	}
	start := new(uint256.Int).Sub(currentSupply, tokenAmount)
	return Cost(tokenAmount, start, p)
}

// MarketCap values tokensSold at the current marginal price.
func MarketCap(tokensSold *uint256.Int, p Params) (*uint256.Int, error) {
	if tokensSold.IsZero() {
		return new(uint256.Int), nil
	}
	price, err := Price(tokensSold, p)
	if err != nil {
		return nil, err
	}
	return mulDiv(price, tokensSold, Precision)
}

// AveragePrice is the mean price paid per token for tokenAmount at currentSupply.
func AveragePrice(tokenAmount, currentSupply *uint256.Int, p Params) (*uint256.Int, error) {
	if tokenAmount.IsZero() {
		return new(uint256.Int), nil
	}
	cost, err := Cost(tokenAmount, currentSupply, p)
	if err != nil {
		return nil, err
	}
	return mulDiv(cost, Precision, tokenAmount)
}

func priceAfter(supply, amount *uint256.Int, p Params) (*uint256.Int, error) {
	end, err := add(supply, amount)
	if err != nil {
		return nil, err
	}
	return Price(end, p)
}
