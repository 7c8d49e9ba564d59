// internal/sale/sale.go
package sale

import (
	"context"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/curvesale/internal/curve"
	"github.com/rovshanmuradov/curvesale/internal/custody"
	"github.com/rovshanmuradov/curvesale/internal/events"
	"github.com/rovshanmuradov/curvesale/internal/guard"
	"github.com/rovshanmuradov/curvesale/internal/liquidity"
	"github.com/rovshanmuradov/curvesale/internal/types"
)

// Options wires a sale to its collaborators.
type Options struct {
	// Admin may pause and unpause the sale.
	Admin types.Address
	// PlatformRecipient receives platform fees.
	PlatformRecipient types.Address
	Custody           custody.Custody
	Liquidity         liquidity.Provider
	Events            events.Publisher
	Logger            *zap.Logger
}

// Sale is one bonding-curve sale. Mutating operations are serialized and
// all-or-nothing; views never block on them.
type Sale struct {
	id       string
	token    custody.Asset
	account  types.Address
	admin    types.Address
	platform types.Address

	custody   custody.Custody
	liquidity liquidity.Provider
	events    events.Publisher
	logger    *zap.Logger
	guard     *guard.Guard

	mu          sync.RWMutex
	initialized bool
	paused      bool
	cfg         Config
	params      curve.Params
	state       State
	holdings    map[types.Address]*uint256.Int
}

// New creates an uninitialized sale of token. The sale settles through a
// fresh custody account.
func New(id string, token custody.Asset, opts Options) *Sale {
	if opts.Events == nil {
		opts.Events = events.NopPublisher{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Sale{
		id:        id,
		token:     token,
		account:   types.NewAddress(),
		admin:     opts.Admin,
		platform:  opts.PlatformRecipient,
		custody:   opts.Custody,
		liquidity: opts.Liquidity,
		events:    opts.Events,
		logger:    opts.Logger.Named("sale").With(zap.String("sale_id", id)),
		guard:     guard.New(),
		state:     newState(),
		holdings:  make(map[types.Address]*uint256.Int),
	}
}

// ID returns the sale identifier.
func (s *Sale) ID() string { return s.id }

// Token returns the asset sold by the curve.
func (s *Sale) Token() custody.Asset { return s.token }

// Account returns the custody account holding the inventory, reserve and fees.
func (s *Sale) Account() types.Address { return s.account }

// Initialize configures the sale. It succeeds exactly once, and only after
// the sale account holds the whole supply.
func (s *Sale) Initialize(ctx context.Context, cfg Config) error {
	_, release, err := s.guard.Enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := cfg.Validate(); err != nil {
		return err
	}
	if s.custody == nil || s.liquidity == nil {
		return fmt.Errorf("%w: custody and liquidity provider are required", types.ErrInvalidParameters)
	}
	if s.platform.IsZero() {
		return fmt.Errorf("%w: %w: platform recipient", types.ErrInvalidParameters, types.ErrInvalidBeneficiary)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return types.ErrAlreadyInitialized
	}
	if inventory := s.custody.BalanceOf(s.token, s.account); inventory.Lt(cfg.TotalSupply) {
		return fmt.Errorf("%w: sale account holds %s of %s", types.ErrInvalidTotalSupply,
			inventory.Dec(), cfg.TotalSupply.Dec())
	}

	s.cfg = cfg.clone()
	s.params = s.cfg.Params()
	s.initialized = true

	s.logger.Info("Sale initialized",
		zap.String("token", string(s.token)),
		zap.String("creator", cfg.Creator.String()),
		zap.String("total_supply", curve.FormatUnits(cfg.TotalSupply)),
		zap.String("initial_price", curve.FormatUnits(cfg.InitialPrice)),
		zap.String("price_increment", curve.FormatUnits(s.params.PriceIncrement)),
		zap.String("graduation_threshold", curve.FormatUnits(cfg.GraduationThreshold)),
		zap.Uint64("creator_fee_bps", cfg.CreatorFeeBps),
		zap.Uint64("platform_fee_bps", cfg.PlatformFeeBps),
		zap.Bool("enable_sell", cfg.EnableSell))
	return nil
}

// Config returns the sale configuration.
func (s *Sale) Config() (Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return Config{}, types.ErrNotInitialized
	}
	return s.cfg.clone(), nil
}

// State returns a copy of the ledger.
func (s *Sale) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// IsPaused reports whether trading is paused.
func (s *Sale) IsPaused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

// HoldingOf returns the tokens owner acquired through the curve and still holds.
func (s *Sale) HoldingOf(owner types.Address) *uint256.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return types.Copy(s.holdings[owner])
}

// CurrentPrice is the marginal price at the current supply.
func (s *Sale) CurrentPrice() (*uint256.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, types.ErrNotInitialized
	}
	return curve.Price(s.state.TokensSold, s.params)
}

// MarketCap values the sold supply at the current price.
func (s *Sale) MarketCap() (*uint256.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, types.ErrNotInitialized
	}
	return curve.MarketCap(s.state.TokensSold, s.params)
}

// TokensForBnb is the curve output for bnbAmount at the current supply,
// before fees.
func (s *Sale) TokensForBnb(bnbAmount *uint256.Int) (*uint256.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, types.ErrNotInitialized
	}
	return curve.PurchaseReturn(bnbAmount, s.state.TokensSold, s.params)
}

// BnbForTokens is the curve return for selling tokenAmount at the current
// supply, before fees.
func (s *Sale) BnbForTokens(tokenAmount *uint256.Int) (*uint256.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, types.ErrNotInitialized
	}
	return curve.SaleReturn(tokenAmount, s.state.TokensSold, s.params)
}

// QuoteBuy previews a buy of bnbIn including fees.
func (s *Sale) QuoteBuy(bnbIn *uint256.Int) (BuyQuote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return BuyQuote{}, types.ErrNotInitialized
	}
	return s.quoteBuyLocked(bnbIn)
}

// QuoteSell previews a sell of tokenAmount including fees.
func (s *Sale) QuoteSell(tokenAmount *uint256.Int) (SellQuote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return SellQuote{}, types.ErrNotInitialized
	}
	return s.quoteSellLocked(tokenAmount)
}

// Progress is the market cap as a share of the graduation threshold, in
// basis points, capped at 10000.
func (s *Sale) Progress() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return 0, types.ErrNotInitialized
	}
	if s.state.Graduated {
		return types.BasisPoints, nil
	}
	mc, err := curve.MarketCap(s.state.TokensSold, s.params)
	if err != nil {
		return 0, err
	}
	bps, err := curve.MulDiv(mc, uint256.NewInt(types.BasisPoints), s.cfg.GraduationThreshold)
	if err != nil {
		return 0, err
	}
	if bps.GtUint64(types.BasisPoints) {
		return types.BasisPoints, nil
	}
	return bps.Uint64(), nil
}

// quoteBuyLocked prices the gross bnbIn on the curve and splits it into fees
// and the net amount that counts toward the raise.
func (s *Sale) quoteBuyLocked(bnbIn *uint256.Int) (BuyQuote, error) {
	creatorFee := types.ApplyBps(bnbIn, s.cfg.CreatorFeeBps)
	platformFee := types.ApplyBps(bnbIn, s.cfg.PlatformFeeBps)
	net := new(uint256.Int).Sub(bnbIn, creatorFee)
	net.Sub(net, platformFee)

	out, err := curve.PurchaseReturn(bnbIn, s.state.TokensSold, s.params)
	if err != nil {
		return BuyQuote{}, err
	}
	return BuyQuote{
		Gross:       bnbIn.Clone(),
		CreatorFee:  creatorFee,
		PlatformFee: platformFee,
		Net:         net,
		TokensOut:   out,
	}, nil
}

// quoteSellLocked prices tokenAmount on the curve and deducts fees from the
// gross return. The gross is capped at the reserve to absorb rounding dust.
func (s *Sale) quoteSellLocked(tokenAmount *uint256.Int) (SellQuote, error) {
	gross, err := curve.SaleReturn(tokenAmount, s.state.TokensSold, s.params)
	if err != nil {
		return SellQuote{}, err
	}
	if gross.Gt(s.state.Reserve) {
		s.logger.Debug("Sale return capped at reserve",
			zap.String("gross", gross.Dec()),
			zap.String("reserve", s.state.Reserve.Dec()))
		gross = s.state.Reserve.Clone()
	}
	creatorFee := types.ApplyBps(gross, s.cfg.CreatorFeeBps)
	platformFee := types.ApplyBps(gross, s.cfg.PlatformFeeBps)
	net := new(uint256.Int).Sub(gross, creatorFee)
	net.Sub(net, platformFee)
	return SellQuote{
		Tokens:      tokenAmount.Clone(),
		Gross:       gross,
		CreatorFee:  creatorFee,
		PlatformFee: platformFee,
		Net:         net,
	}, nil
}

func (s *Sale) snapshotLocked(holder types.Address) snapshot {
	return snapshot{
		state:   s.state.clone(),
		paused:  s.paused,
		holder:  holder,
		holding: types.Copy(s.holdings[holder]),
	}
}

// restore puts the ledger back after a failed interaction.
func (s *Sale) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = snap.state
	s.paused = snap.paused
	if snap.holder.IsZero() {
		return
	}
	if snap.holding.IsZero() {
		delete(s.holdings, snap.holder)
	} else {
		s.holdings[snap.holder] = snap.holding
	}
}

// publish emits an event; failures are logged and otherwise ignored.
func (s *Sale) publish(e events.Event) {
	if err := s.events.Publish(e); err != nil {
		s.logger.Warn("Failed to publish event",
			zap.String("event_type", string(e.Type())),
			zap.Error(err))
	}
}
