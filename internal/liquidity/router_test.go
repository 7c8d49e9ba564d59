package liquidity

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/curvesale/internal/custody"
	"github.com/rovshanmuradov/curvesale/internal/types"
)

const token custody.Asset = "TKN"

func deposit(t *testing.T, l *custody.Ledger, r *Router, tokens, bnb uint64) {
	t.Helper()
	require.NoError(t, l.Mint(token, r.Account(), uint256.NewInt(tokens)))
	require.NoError(t, l.Mint(custody.Native, r.Account(), uint256.NewInt(bnb)))
}

func TestAddLiquidity(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	l := custody.NewLedger(logger)
	r := NewRouter(l, logger)

	deposit(t, l, r, 4_000_000, 1_000_000)
	first, err := r.AddLiquidity(ctx, token, uint256.NewInt(4_000_000), uint256.NewInt(1_000_000))
	require.NoError(t, err)
	// sqrt(4e12) - 1000
	assert.Equal(t, uint64(1_999_000), first.LPShares.Uint64())
	assert.NotEmpty(t, first.Pair)

	deposit(t, l, r, 400_000, 200_000)
	second, err := r.AddLiquidity(ctx, token, uint256.NewInt(400_000), uint256.NewInt(200_000))
	require.NoError(t, err)
	// min(400k*2e6/4e6, 200k*2e6/1e6)
	assert.Equal(t, uint64(200_000), second.LPShares.Uint64())
	assert.Equal(t, first.Pair, second.Pair)

	pool, ok := r.Pool(token)
	require.True(t, ok)
	assert.Equal(t, uint64(4_400_000), pool.TokenReserve.Uint64())
	assert.Equal(t, uint64(1_200_000), pool.BnbReserve.Uint64())
	assert.Equal(t, uint64(2_200_000), pool.TotalShares.Uint64())
}

func TestAddLiquidityRejections(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	t.Run("zero deposit", func(t *testing.T) {
		r := NewRouter(custody.NewLedger(logger), logger)
		_, err := r.AddLiquidity(ctx, token, new(uint256.Int), uint256.NewInt(1))
		assert.ErrorIs(t, err, ErrZeroDeposit)
	})

	t.Run("deposit not in custody", func(t *testing.T) {
		l := custody.NewLedger(logger)
		r := NewRouter(l, logger)
		require.NoError(t, l.Mint(token, r.Account(), uint256.NewInt(1_000_000)))
		_, err := r.AddLiquidity(ctx, token, uint256.NewInt(1_000_000), uint256.NewInt(1_000_000))
		assert.ErrorIs(t, err, ErrDepositNotReceived)
		_, ok := r.Pool(token)
		assert.False(t, ok)
	})

	t.Run("dust deposit", func(t *testing.T) {
		l := custody.NewLedger(logger)
		r := NewRouter(l, logger)
		deposit(t, l, r, 1000, 1000)
		_, err := r.AddLiquidity(ctx, token, uint256.NewInt(1000), uint256.NewInt(1000))
		assert.ErrorIs(t, err, ErrInsufficientLiquidityMinted)
	})

	t.Run("overflow", func(t *testing.T) {
		l := custody.NewLedger(logger)
		r := NewRouter(l, logger)
		max := new(uint256.Int).SetAllOne()
		require.NoError(t, l.Mint(token, r.Account(), max))
		require.NoError(t, l.Mint(custody.Native, r.Account(), max))
		_, err := r.AddLiquidity(ctx, token, max, max)
		assert.ErrorIs(t, err, types.ErrOverflow)
	})
}
