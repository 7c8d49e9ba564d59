package vesting

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/rovshanmuradov/curvesale/internal/custody"
	"github.com/rovshanmuradov/curvesale/internal/events"
	"github.com/rovshanmuradov/curvesale/internal/types"
)

const token custody.Asset = "VEST"

var start = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	engine   *Engine
	ledger   *custody.Ledger
	recorder *events.Recorder
	admin    types.Address
}

func newFixture(t *testing.T, funded uint64) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	f := &fixture{
		ledger:   custody.NewLedger(logger),
		recorder: &events.Recorder{},
		admin:    types.NewAddress(),
	}
	f.engine = New(token, Options{
		Admin:   f.admin,
		Custody: f.ledger,
		Events:  f.recorder,
		Logger:  logger,
		Clock:   func() time.Time { return start },
	})
	require.NoError(t, f.ledger.Mint(token, f.engine.Account(), uint256.NewInt(funded)))
	return f
}

func TestAddScheduleValidation(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()
	b := types.NewAddress()

	tests := []struct {
		name     string
		caller   types.Address
		to       types.Address
		total    *uint256.Int
		duration time.Duration
		cliff    time.Duration
		wantErr  error
	}{
		{"not admin", b, b, uint256.NewInt(1), time.Hour, 0, types.ErrUnauthorized},
		{"zero beneficiary", f.admin, types.ZeroAddress, uint256.NewInt(1), time.Hour, 0, types.ErrInvalidBeneficiary},
		{"zero total", f.admin, b, new(uint256.Int), time.Hour, 0, types.ErrInvalidParameters},
		{"zero duration", f.admin, b, uint256.NewInt(1), 0, 0, types.ErrInvalidParameters},
		{"cliff after end", f.admin, b, uint256.NewInt(1), time.Hour, 2 * time.Hour, types.ErrInvalidParameters},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.engine.AddSchedule(ctx, tt.caller, tt.to, tt.total, start, tt.duration, tt.cliff)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.True(t, f.engine.TotalAllocated().IsZero())
	assert.Empty(t, f.recorder.Events())
}

func TestVestedAmount(t *testing.T) {
	f := newFixture(t, 1000)
	b := types.NewAddress()
	require.NoError(t, f.engine.AddSchedule(context.Background(), f.admin, b, uint256.NewInt(1000),
		time.Time{}, 100*time.Hour, 25*time.Hour))

	sched, ok := f.engine.Schedule(b)
	require.True(t, ok)
	assert.Equal(t, start, sched.StartTime, "zero start uses the clock")

	tests := []struct {
		at   time.Duration
		want uint64
	}{
		{-time.Hour, 0},
		{0, 0},
		{25*time.Hour - time.Nanosecond, 0},
		// Elapsed counts from the start, not from the cliff.
		{25 * time.Hour, 250},
		{50 * time.Hour, 500},
		{99 * time.Hour, 990},
		{100 * time.Hour, 1000},
		{500 * time.Hour, 1000},
	}
	for _, tt := range tests {
		got, err := f.engine.VestedAmount(b, start.Add(tt.at))
		require.NoError(t, err)
		assert.Equal(t, tt.want, got.Uint64(), "vested at %s", tt.at)
	}

	none, err := f.engine.VestedAmount(types.NewAddress(), start.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, none.IsZero())
}

func TestRelease(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()
	b := types.NewAddress()
	require.NoError(t, f.engine.AddSchedule(ctx, f.admin, b, uint256.NewInt(1000), start, 10*time.Hour, time.Hour))

	_, err := f.engine.Release(ctx, b, start.Add(30*time.Minute))
	assert.ErrorIs(t, err, types.ErrNoTokensToRelease)

	now := start.Add(4 * time.Hour)
	got, err := f.engine.Release(ctx, b, now)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), got.Uint64())
	assert.Equal(t, uint64(400), f.ledger.BalanceOf(token, b).Uint64())

	_, err = f.engine.Release(ctx, b, now)
	assert.ErrorIs(t, err, types.ErrNoTokensToRelease)
	assert.Equal(t, types.KindEconomic, types.KindOf(err))

	got, err = f.engine.Release(ctx, b, start.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, uint64(600), got.Uint64())

	sched, _ := f.engine.Schedule(b)
	assert.Equal(t, uint64(1000), sched.ReleasedAmount.Uint64())
	assert.Len(t, f.recorder.OfType(events.TokensReleased), 2)
	assert.Len(t, f.recorder.OfType(events.VestingScheduleAdded), 1)
}

func TestReleaseRollsBackWhenUnfunded(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	b := types.NewAddress()
	require.NoError(t, f.engine.AddSchedule(ctx, f.admin, b, uint256.NewInt(1000), start, time.Hour, 0))

	_, err := f.engine.Release(ctx, b, start.Add(time.Hour))
	assert.ErrorIs(t, err, types.ErrInsufficientBalance)

	sched, _ := f.engine.Schedule(b)
	assert.True(t, sched.ReleasedAmount.IsZero())
	assert.Empty(t, f.recorder.OfType(events.TokensReleased))
}

func TestReentrantReleaseIsRejected(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()
	b := types.NewAddress()
	require.NoError(t, f.engine.AddSchedule(ctx, f.admin, b, uint256.NewInt(1000), start, time.Hour, 0))

	f.ledger.OnTransfer(func(ctx context.Context, _ custody.Transfer) error {
		_, err := f.engine.Release(ctx, b, start.Add(time.Hour))
		return err
	})

	_, err := f.engine.Release(ctx, b, start.Add(time.Hour))
	assert.ErrorIs(t, err, types.ErrReentrantCall)
	assert.True(t, f.ledger.BalanceOf(token, b).IsZero())
	sched, _ := f.engine.Schedule(b)
	assert.True(t, sched.ReleasedAmount.IsZero())
}

func TestReleaseCallbackOnFreshContextIsRejected(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()
	b := types.NewAddress()
	require.NoError(t, f.engine.AddSchedule(ctx, f.admin, b, uint256.NewInt(1000), start, time.Hour, 0))

	f.ledger.OnTransfer(func(context.Context, custody.Transfer) error {
		_, err := f.engine.Release(context.Background(), b, start.Add(time.Hour))
		return err
	})

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.Release(ctx, b, start.Add(time.Hour))
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, types.ErrReentrantCall)
	case <-time.After(5 * time.Second):
		t.Fatal("release blocked on its own transfer hook")
	}
	assert.True(t, f.ledger.BalanceOf(token, b).IsZero())
}

func TestExcessShrinksWithReleases(t *testing.T) {
	f := newFixture(t, 1500)
	ctx := context.Background()
	b := types.NewAddress()
	require.NoError(t, f.engine.AddSchedule(ctx, f.admin, b, uint256.NewInt(1000), start, time.Hour, 0))
	assert.Equal(t, uint64(500), f.engine.ExcessBalance().Uint64())

	released, err := f.engine.Release(ctx, b, start.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, uint64(500), released.Uint64())

	// Released tokens leave the balance but stay allocated.
	assert.Equal(t, uint64(1000), f.engine.TotalAllocated().Uint64())
	assert.True(t, f.engine.ExcessBalance().IsZero())
}

func TestReplaceSchedule(t *testing.T) {
	f := newFixture(t, 2000)
	ctx := context.Background()
	b, other := types.NewAddress(), types.NewAddress()
	require.NoError(t, f.engine.AddSchedule(ctx, f.admin, b, uint256.NewInt(1000), start, time.Hour, 0))
	require.NoError(t, f.engine.AddSchedule(ctx, f.admin, other, uint256.NewInt(300), start, time.Hour, 0))
	assert.Equal(t, uint64(1300), f.engine.TotalAllocated().Uint64())

	_, err := f.engine.Release(ctx, b, start.Add(30*time.Minute))
	require.NoError(t, err)

	require.NoError(t, f.engine.AddSchedule(ctx, f.admin, b, uint256.NewInt(200), start, time.Hour, 0))
	assert.Equal(t, uint64(500), f.engine.TotalAllocated().Uint64())

	sched, _ := f.engine.Schedule(b)
	assert.True(t, sched.ReleasedAmount.IsZero())
	assert.Equal(t, uint64(200), sched.TotalAmount.Uint64())
}

func TestWithdrawExcess(t *testing.T) {
	f := newFixture(t, 1500)
	ctx := context.Background()
	b, treasury := types.NewAddress(), types.NewAddress()
	require.NoError(t, f.engine.AddSchedule(ctx, f.admin, b, uint256.NewInt(1000), start, time.Hour, 0))
	assert.Equal(t, uint64(500), f.engine.ExcessBalance().Uint64())

	err := f.engine.WithdrawExcess(ctx, b, treasury, uint256.NewInt(1))
	assert.ErrorIs(t, err, types.ErrUnauthorized)

	err = f.engine.WithdrawExcess(ctx, f.admin, treasury, uint256.NewInt(501))
	assert.ErrorIs(t, err, types.ErrExceedsExcessBalance)

	require.NoError(t, f.engine.WithdrawExcess(ctx, f.admin, treasury, uint256.NewInt(500)))
	assert.Equal(t, uint64(500), f.ledger.BalanceOf(token, treasury).Uint64())
	assert.True(t, f.engine.ExcessBalance().IsZero())

	// Allocation above the balance leaves no excess rather than underflowing.
	require.NoError(t, f.engine.AddSchedule(ctx, f.admin, b, uint256.NewInt(5000), start, time.Hour, 0))
	assert.True(t, f.engine.ExcessBalance().IsZero())
}

func TestVestingProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		total := uint256.NewInt(rapid.Uint64Range(1, 1<<62).Draw(t, "total"))
		duration := time.Duration(rapid.Int64Range(1, int64(1000*time.Hour)).Draw(t, "duration"))
		cliff := time.Duration(rapid.Int64Range(0, int64(duration)).Draw(t, "cliff"))
		s := &Schedule{TotalAmount: total, ReleasedAmount: new(uint256.Int), StartTime: start, Duration: duration, CliffDuration: cliff}

		a := time.Duration(rapid.Int64Range(0, int64(2*duration)).Draw(t, "a"))
		b := time.Duration(rapid.Int64Range(int64(a), int64(2*duration)).Draw(t, "b"))

		va, err := s.vested(start.Add(a))
		require.NoError(t, err)
		vb, err := s.vested(start.Add(b))
		require.NoError(t, err)

		assert.False(t, va.Gt(vb), "vesting must be monotone")
		assert.False(t, vb.Gt(total), "vesting must not exceed the total")
		if a < cliff {
			assert.True(t, va.IsZero())
		}
		if b >= duration {
			assert.Equal(t, total.Dec(), vb.Dec())
		}
	})
}
