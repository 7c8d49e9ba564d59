// internal/sale/trade.go
package sale

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/curvesale/internal/curve"
	"github.com/rovshanmuradov/curvesale/internal/custody"
	"github.com/rovshanmuradov/curvesale/internal/events"
	"github.com/rovshanmuradov/curvesale/internal/liquidity"
	"github.com/rovshanmuradov/curvesale/internal/types"
)

// graduation is the liquidity migration decided inside a buy.
type graduation struct {
	tokenAmount *uint256.Int
	bnbAmount   *uint256.Int
	creatorFee  *uint256.Int
	platformFee *uint256.Int
	marketCap   *uint256.Int
}

// Buy spends bnbIn on tokens. The whole of bnbIn is priced on the curve;
// fees are taken from it before the rest counts toward the raise. A buy that
// lifts the market cap to the graduation threshold also graduates the sale;
// if graduation fails the buy fails.
func (s *Sale) Buy(ctx context.Context, buyer types.Address, bnbIn, minTokensOut *uint256.Int) (*Trade, error) {
	ctx, release, err := s.guard.Enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if buyer.IsZero() {
		return nil, fmt.Errorf("%w: zero buyer", types.ErrInvalidParameters)
	}

	s.mu.Lock()
	quote, grad, snap, err := s.applyBuyLocked(buyer, bnbIn, minTokensOut)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	// Interactions: one batch settles the trade and, when graduating, pays
	// out the fees and deposits the liquidity.
	batch := []custody.Transfer{
		{Asset: custody.Native, From: buyer, To: s.account, Amount: quote.Gross},
		{Asset: s.token, From: s.account, To: buyer, Amount: quote.TokensOut},
	}
	if grad != nil {
		batch = append(batch, s.graduationTransfers(grad)...)
	}
	if err := s.settle(ctx, batch...); err != nil {
		s.restore(snap)
		return nil, fmt.Errorf("failed to settle buy: %w", err)
	}

	if grad != nil {
		if err := s.provideLiquidity(ctx, grad); err != nil {
			err = fmt.Errorf("failed to graduate: %w", err)
			if uerr := s.unwind(ctx, batch); uerr != nil {
				err = errors.Join(err, uerr)
			}
			s.restore(snap)
			return nil, err
		}
	}

	trade := s.buyTrade(buyer, quote)
	s.logger.Info("Tokens bought",
		zap.String("trade_id", trade.ID),
		zap.String("buyer", buyer.String()),
		zap.String("bnb_in", curve.FormatUnits(quote.Gross)),
		zap.String("tokens_out", curve.FormatUnits(quote.TokensOut)),
		zap.String("tokens_sold", curve.FormatUnits(trade.TokensSold)),
		zap.Bool("graduated", trade.Graduated))

	s.publish(&events.TokensBoughtEvent{
		BaseEvent:   events.NewBase(events.TokensBought),
		SaleID:      s.id,
		Buyer:       buyer,
		BnbIn:       quote.Gross,
		TokensOut:   quote.TokensOut,
		CreatorFee:  quote.CreatorFee,
		PlatformFee: quote.PlatformFee,
		TokensSold:  trade.TokensSold,
		Price:       trade.Price,
	})
	if grad != nil {
		s.publishGraduation(grad)
	}
	return trade, nil
}

// applyBuyLocked validates the buy and applies its effects to the ledger.
func (s *Sale) applyBuyLocked(buyer types.Address, bnbIn, minTokensOut *uint256.Int) (BuyQuote, *graduation, snapshot, error) {
	if !s.initialized {
		return BuyQuote{}, nil, snapshot{}, types.ErrNotInitialized
	}
	if bnbIn == nil || bnbIn.IsZero() {
		return BuyQuote{}, nil, snapshot{}, types.ErrInvalidAmount
	}
	if s.state.Graduated {
		return BuyQuote{}, nil, snapshot{}, types.ErrAlreadyGraduated
	}
	if s.paused {
		return BuyQuote{}, nil, snapshot{}, types.ErrPaused
	}

	quote, err := s.quoteBuyLocked(bnbIn)
	if err != nil {
		return BuyQuote{}, nil, snapshot{}, err
	}
	if quote.TokensOut.IsZero() {
		return BuyQuote{}, nil, snapshot{}, fmt.Errorf("%w: buy too small for any tokens", types.ErrInvalidAmount)
	}
	soldAfter, err := curve.Add(s.state.TokensSold, quote.TokensOut)
	if err != nil {
		return BuyQuote{}, nil, snapshot{}, err
	}
	if soldAfter.Gt(s.cfg.TotalSupply) {
		return BuyQuote{}, nil, snapshot{}, types.ErrSupplyExceeded
	}
	if minTokensOut != nil && quote.TokensOut.Lt(minTokensOut) {
		return BuyQuote{}, nil, snapshot{}, &types.SlippageError{Expected: quote.TokensOut, Minimum: minTokensOut.Clone()}
	}

	snap := s.snapshotLocked(buyer)

	st := &s.state
	st.TokensSold = soldAfter
	st.TotalRaised = new(uint256.Int).Add(st.TotalRaised, quote.Net)
	st.Reserve = new(uint256.Int).Add(st.Reserve, quote.Net)
	st.AccumulatedCreatorFee = new(uint256.Int).Add(st.AccumulatedCreatorFee, quote.CreatorFee)
	st.AccumulatedPlatformFee = new(uint256.Int).Add(st.AccumulatedPlatformFee, quote.PlatformFee)
	s.holdings[buyer] = new(uint256.Int).Add(types.Copy(s.holdings[buyer]), quote.TokensOut)

	mc, err := curve.MarketCap(st.TokensSold, s.params)
	if err != nil {
		s.state = snap.state
		s.restoreHoldingLocked(snap)
		return BuyQuote{}, nil, snapshot{}, err
	}
	if mc.Lt(s.cfg.GraduationThreshold) {
		return quote, nil, snap, nil
	}

	grad := &graduation{
		tokenAmount: new(uint256.Int).Sub(s.cfg.TotalSupply, st.TokensSold),
		bnbAmount:   st.Reserve.Clone(),
		creatorFee:  st.AccumulatedCreatorFee.Clone(),
		platformFee: st.AccumulatedPlatformFee.Clone(),
		marketCap:   mc,
	}
	st.Reserve = new(uint256.Int)
	st.AccumulatedCreatorFee = new(uint256.Int)
	st.AccumulatedPlatformFee = new(uint256.Int)
	st.Graduated = true
	return quote, grad, snap, nil
}

func (s *Sale) restoreHoldingLocked(snap snapshot) {
	if snap.holding.IsZero() {
		delete(s.holdings, snap.holder)
		return
	}
	s.holdings[snap.holder] = snap.holding
}

// graduationTransfers pays out accrued fees and moves the unsold inventory
// and the reserve to the liquidity provider.
func (s *Sale) graduationTransfers(g *graduation) []custody.Transfer {
	out := []custody.Transfer{
		{Asset: custody.Native, From: s.account, To: s.cfg.Creator, Amount: g.creatorFee},
		{Asset: custody.Native, From: s.account, To: s.platform, Amount: g.platformFee},
	}
	if g.depositable() {
		lp := s.liquidity.Account()
		out = append(out,
			custody.Transfer{Asset: s.token, From: s.account, To: lp, Amount: g.tokenAmount},
			custody.Transfer{Asset: custody.Native, From: s.account, To: lp, Amount: g.bnbAmount},
		)
	}
	return out
}

// depositable reports whether there is liquidity to provide. A sale that
// graduates with its whole supply sold, or with an empty reserve, has none.
func (g *graduation) depositable() bool {
	return !g.tokenAmount.IsZero() && !g.bnbAmount.IsZero()
}

func (s *Sale) provideLiquidity(ctx context.Context, g *graduation) error {
	if !g.depositable() {
		s.logger.Warn("Graduating without liquidity deposit",
			zap.String("token_amount", g.tokenAmount.Dec()),
			zap.String("bnb_amount", g.bnbAmount.Dec()))
		return nil
	}
	var pos liquidity.Position
	err := s.guard.Call(ctx, func(ctx context.Context) error {
		var err error
		pos, err = s.liquidity.AddLiquidity(ctx, s.token, g.tokenAmount, g.bnbAmount)
		return err
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.state.LPShares = types.Copy(pos.LPShares)
	s.state.Pair = pos.Pair
	s.mu.Unlock()
	return nil
}

func (s *Sale) publishGraduation(g *graduation) {
	st := s.State()
	s.logger.Info("Sale graduated",
		zap.String("pair", st.Pair),
		zap.String("lp_shares", st.LPShares.Dec()),
		zap.String("token_amount", curve.FormatUnits(g.tokenAmount)),
		zap.String("bnb_amount", curve.FormatUnits(g.bnbAmount)),
		zap.String("market_cap", curve.FormatUnits(g.marketCap)))

	s.publish(&events.GraduatedToDexEvent{
		BaseEvent:   events.NewBase(events.GraduatedToDex),
		SaleID:      s.id,
		TokenAmount: g.tokenAmount,
		BnbAmount:   g.bnbAmount,
		LPShares:    st.LPShares,
		Pair:        st.Pair,
		MarketCap:   g.marketCap,
	})
	for _, fee := range []struct {
		kind      events.FeeKind
		recipient types.Address
		amount    *uint256.Int
	}{
		{events.CreatorFee, s.cfg.Creator, g.creatorFee},
		{events.PlatformFee, s.platform, g.platformFee},
	} {
		if fee.amount.IsZero() {
			continue
		}
		s.publish(&events.FeesCollectedEvent{
			BaseEvent: events.NewBase(events.FeesCollected),
			SaleID:    s.id,
			Kind:      fee.kind,
			Recipient: fee.recipient,
			Amount:    fee.amount,
		})
	}
}

// Sell returns tokenAmount to the curve. Fees are deducted from the gross
// sale return and the rest is paid to the seller.
func (s *Sale) Sell(ctx context.Context, seller types.Address, tokenAmount, minBnbOut *uint256.Int) (*Trade, error) {
	ctx, release, err := s.guard.Enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	s.mu.Lock()
	quote, snap, err := s.applySellLocked(seller, tokenAmount, minBnbOut)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	batch := []custody.Transfer{
		{Asset: s.token, From: seller, To: s.account, Amount: quote.Tokens},
		{Asset: custody.Native, From: s.account, To: seller, Amount: quote.Net},
	}
	if err := s.settle(ctx, batch...); err != nil {
		s.restore(snap)
		return nil, fmt.Errorf("failed to settle sell: %w", err)
	}

	trade := s.sellTrade(seller, quote)
	s.logger.Info("Tokens sold",
		zap.String("trade_id", trade.ID),
		zap.String("seller", seller.String()),
		zap.String("tokens_in", curve.FormatUnits(quote.Tokens)),
		zap.String("bnb_out", curve.FormatUnits(quote.Net)),
		zap.String("tokens_sold", curve.FormatUnits(trade.TokensSold)))

	s.publish(&events.TokensSoldEvent{
		BaseEvent:   events.NewBase(events.TokensSold),
		SaleID:      s.id,
		Seller:      seller,
		TokenAmount: quote.Tokens,
		BnbOut:      quote.Net,
		CreatorFee:  quote.CreatorFee,
		PlatformFee: quote.PlatformFee,
		TokensSold:  trade.TokensSold,
		Price:       trade.Price,
	})
	return trade, nil
}

func (s *Sale) applySellLocked(seller types.Address, tokenAmount, minBnbOut *uint256.Int) (SellQuote, snapshot, error) {
	if !s.initialized {
		return SellQuote{}, snapshot{}, types.ErrNotInitialized
	}
	if tokenAmount == nil || tokenAmount.IsZero() {
		return SellQuote{}, snapshot{}, types.ErrInvalidAmount
	}
	if !s.cfg.EnableSell {
		return SellQuote{}, snapshot{}, types.ErrSellDisabled
	}
	if s.state.Graduated {
		return SellQuote{}, snapshot{}, types.ErrAlreadyGraduated
	}
	if s.paused {
		return SellQuote{}, snapshot{}, types.ErrPaused
	}
	holding := types.Copy(s.holdings[seller])
	if holding.Lt(tokenAmount) {
		return SellQuote{}, snapshot{}, fmt.Errorf("%w: holding %s, selling %s",
			types.ErrInsufficientBalance, holding.Dec(), tokenAmount.Dec())
	}

	quote, err := s.quoteSellLocked(tokenAmount)
	if err != nil {
		return SellQuote{}, snapshot{}, err
	}
	if minBnbOut != nil && quote.Net.Lt(minBnbOut) {
		return SellQuote{}, snapshot{}, &types.SlippageError{Expected: quote.Net, Minimum: minBnbOut.Clone()}
	}

	snap := s.snapshotLocked(seller)

	st := &s.state
	st.TokensSold = new(uint256.Int).Sub(st.TokensSold, tokenAmount)
	st.Reserve = new(uint256.Int).Sub(st.Reserve, quote.Gross)
	st.AccumulatedCreatorFee = new(uint256.Int).Add(st.AccumulatedCreatorFee, quote.CreatorFee)
	st.AccumulatedPlatformFee = new(uint256.Int).Add(st.AccumulatedPlatformFee, quote.PlatformFee)
	left := holding.Sub(holding, tokenAmount)
	if left.IsZero() {
		delete(s.holdings, seller)
	} else {
		s.holdings[seller] = left
	}
	return quote, snap, nil
}

// settle moves a batch through custody on behalf of the operation admitted
// on ctx.
func (s *Sale) settle(ctx context.Context, batch ...custody.Transfer) error {
	return s.guard.Call(ctx, func(ctx context.Context) error {
		return s.custody.Transfer(ctx, batch...)
	})
}

// unwind reverses a settled batch after a later step of the same operation
// failed. A non-nil error means custody still holds the settled batch.
func (s *Sale) unwind(ctx context.Context, batch []custody.Transfer) error {
	reversed := make([]custody.Transfer, len(batch))
	for i, t := range batch {
		reversed[len(batch)-1-i] = t.Reverse()
	}
	if err := s.settle(ctx, reversed...); err != nil {
		s.logger.Error("Failed to unwind settlement", zap.Error(err))
		return fmt.Errorf("failed to unwind settlement: %w", err)
	}
	return nil
}

func (s *Sale) buyTrade(buyer types.Address, q BuyQuote) *Trade {
	return s.newTrade(SideBuy, buyer, q.Gross, q.TokensOut, q.CreatorFee, q.PlatformFee)
}

func (s *Sale) sellTrade(seller types.Address, q SellQuote) *Trade {
	return s.newTrade(SideSell, seller, q.Net, q.Tokens, q.CreatorFee, q.PlatformFee)
}

func (s *Sale) newTrade(side Side, trader types.Address, bnb, tokens, creatorFee, platformFee *uint256.Int) *Trade {
	s.mu.RLock()
	sold := s.state.TokensSold.Clone()
	graduated := s.state.Graduated
	s.mu.RUnlock()

	price, err := curve.Price(sold, s.params)
	if err != nil {
		price = new(uint256.Int)
	}
	return &Trade{
		ID:          uuid.New().String(),
		SaleID:      s.id,
		Side:        side,
		Trader:      trader,
		BnbAmount:   bnb,
		TokenAmount: tokens,
		CreatorFee:  creatorFee,
		PlatformFee: platformFee,
		Price:       price,
		TokensSold:  sold,
		Graduated:   graduated,
		Timestamp:   time.Now().UTC(),
	}
}
