// internal/liquidity/router.go
package liquidity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/curvesale/internal/custody"
	"github.com/rovshanmuradov/curvesale/internal/types"
)

// MinimumLiquidity is burned from the first deposit of every pair.
var MinimumLiquidity = uint256.NewInt(1000)

var (
	ErrZeroDeposit                 = errors.New("liquidity deposit must be non-zero")
	ErrInsufficientLiquidityMinted = errors.New("insufficient liquidity minted")
	ErrDepositNotReceived          = errors.New("deposit not received")
)

// Position is what a graduation receives back for its liquidity.
type Position struct {
	LPShares *uint256.Int
	Pair     string
}

// Provider provisions DEX liquidity for a graduating sale. The sale moves
// the deposit into Account() before calling AddLiquidity.
type Provider interface {
	Account() types.Address
	AddLiquidity(ctx context.Context, token custody.Asset, tokenAmount, bnbAmount *uint256.Int) (Position, error)
}

// Pool is a constant-product pair between a sale token and the native asset.
type Pool struct {
	ID           string
	Token        custody.Asset
	TokenReserve *uint256.Int
	BnbReserve   *uint256.Int
	TotalShares  *uint256.Int
}

// Router is an in-memory Provider that keeps one pool per token.
type Router struct {
	mu      sync.RWMutex
	account types.Address
	custody custody.Custody
	pools   map[custody.Asset]*Pool
	logger  *zap.Logger
}

// NewRouter creates a router whose deposits land in a fresh account.
func NewRouter(c custody.Custody, logger *zap.Logger) *Router {
	return &Router{
		account: types.NewAddress(),
		custody: c,
		pools:   make(map[custody.Asset]*Pool),
		logger:  logger.Named("router"),
	}
}

// Account implements Provider.
func (r *Router) Account() types.Address {
	return r.account
}

// AddLiquidity implements Provider. The first deposit mints
// sqrt(token*bnb) - MinimumLiquidity shares; later deposits mint the smaller
// of the two proportional shares.
func (r *Router) AddLiquidity(_ context.Context, token custody.Asset, tokenAmount, bnbAmount *uint256.Int) (Position, error) {
	if tokenAmount.IsZero() || bnbAmount.IsZero() {
		return Position{}, ErrZeroDeposit
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	pool, ok := r.pools[token]
	if !ok {
		pool = &Pool{
			ID:           uuid.New().String(),
			Token:        token,
			TokenReserve: new(uint256.Int),
			BnbReserve:   new(uint256.Int),
			TotalShares:  new(uint256.Int),
		}
	}

	if err := r.checkReceived(pool, tokenAmount, bnbAmount); err != nil {
		return Position{}, err
	}

	shares, err := mintShares(pool, tokenAmount, bnbAmount)
	if err != nil {
		return Position{}, err
	}

	if pool.TotalShares.IsZero() {
		pool.TotalShares.Add(shares, MinimumLiquidity)
	} else {
		pool.TotalShares.Add(pool.TotalShares, shares)
	}
	pool.TokenReserve.Add(pool.TokenReserve, tokenAmount)
	pool.BnbReserve.Add(pool.BnbReserve, bnbAmount)
	r.pools[token] = pool

	r.logger.Info("Liquidity added",
		zap.String("pair", pool.ID),
		zap.String("token", string(token)),
		zap.String("token_amount", tokenAmount.Dec()),
		zap.String("bnb_amount", bnbAmount.Dec()),
		zap.String("lp_shares", shares.Dec()))

	return Position{LPShares: shares, Pair: pool.ID}, nil
}

// Pool returns a snapshot of the pool for token.
func (r *Router) Pool(token custody.Asset) (Pool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pool, ok := r.pools[token]
	if !ok {
		return Pool{}, false
	}
	return Pool{
		ID:           pool.ID,
		Token:        pool.Token,
		TokenReserve: pool.TokenReserve.Clone(),
		BnbReserve:   pool.BnbReserve.Clone(),
		TotalShares:  pool.TotalShares.Clone(),
	}, true
}

// checkReceived verifies the router account holds the reserves plus the new deposit.
func (r *Router) checkReceived(pool *Pool, tokenAmount, bnbAmount *uint256.Int) error {
	wantToken := new(uint256.Int).Add(pool.TokenReserve, tokenAmount)
	if r.custody.BalanceOf(pool.Token, r.account).Lt(wantToken) {
		return fmt.Errorf("%w: %s", ErrDepositNotReceived, pool.Token)
	}
	wantBnb := new(uint256.Int).Add(pool.BnbReserve, bnbAmount)
	if r.custody.BalanceOf(custody.Native, r.account).Lt(wantBnb) {
		return fmt.Errorf("%w: %s", ErrDepositNotReceived, custody.Native)
	}
	return nil
}

func mintShares(pool *Pool, tokenAmount, bnbAmount *uint256.Int) (*uint256.Int, error) {
	if pool.TotalShares.IsZero() {
		k, overflow := new(uint256.Int).MulOverflow(tokenAmount, bnbAmount)
		if overflow {
			return nil, types.ErrOverflow
		}
		root := new(uint256.Int).Sqrt(k)
		if !root.Gt(MinimumLiquidity) {
			return nil, ErrInsufficientLiquidityMinted
		}
		return root.Sub(root, MinimumLiquidity), nil
	}

	byToken, overflow := new(uint256.Int).MulDivOverflow(tokenAmount, pool.TotalShares, pool.TokenReserve)
	if overflow {
		return nil, types.ErrOverflow
	}
	byBnb, overflow := new(uint256.Int).MulDivOverflow(bnbAmount, pool.TotalShares, pool.BnbReserve)
	if overflow {
		return nil, types.ErrOverflow
	}
	shares := byToken
	if byBnb.Lt(byToken) {
		shares = byBnb
	}
	if shares.IsZero() {
		return nil, ErrInsufficientLiquidityMinted
	}
	return shares, nil
}
