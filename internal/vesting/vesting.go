// internal/vesting/vesting.go
package vesting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/curvesale/internal/curve"
	"github.com/rovshanmuradov/curvesale/internal/custody"
	"github.com/rovshanmuradov/curvesale/internal/events"
	"github.com/rovshanmuradov/curvesale/internal/guard"
	"github.com/rovshanmuradov/curvesale/internal/types"
)

// Schedule is a linear release with a cliff. Nothing vests before
// StartTime+CliffDuration; after that the vested amount follows the line
// from StartTime, reaching TotalAmount at StartTime+Duration.
type Schedule struct {
	TotalAmount    *uint256.Int
	ReleasedAmount *uint256.Int
	StartTime      time.Time
	Duration       time.Duration
	CliffDuration  time.Duration
}

func (s *Schedule) clone() *Schedule {
	out := *s
	out.TotalAmount = s.TotalAmount.Clone()
	out.ReleasedAmount = s.ReleasedAmount.Clone()
	return &out
}

// vested is the amount unlocked at now.
func (s *Schedule) vested(now time.Time) (*uint256.Int, error) {
	if now.Before(s.StartTime.Add(s.CliffDuration)) {
		return new(uint256.Int), nil
	}
	if !now.Before(s.StartTime.Add(s.Duration)) {
		return s.TotalAmount.Clone(), nil
	}
	elapsed := uint256.NewInt(uint64(now.Sub(s.StartTime)))
	return curve.MulDiv(s.TotalAmount, elapsed, uint256.NewInt(uint64(s.Duration)))
}

// Options wires an engine to its collaborators.
type Options struct {
	Admin   types.Address
	Custody custody.Custody
	Events  events.Publisher
	Logger  *zap.Logger
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Engine releases one token to beneficiaries along their schedules. The
// tokens sit in a custody account owned by the engine.
type Engine struct {
	token   custody.Asset
	account types.Address
	admin   types.Address
	custody custody.Custody
	events  events.Publisher
	logger  *zap.Logger
	clock   func() time.Time
	guard   *guard.Guard

	mu             sync.RWMutex
	schedules      map[types.Address]*Schedule
	totalAllocated *uint256.Int
}

// New creates an engine for token with a fresh custody account.
func New(token custody.Asset, opts Options) *Engine {
	if opts.Events == nil {
		opts.Events = events.NopPublisher{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Engine{
		token:          token,
		account:        types.NewAddress(),
		admin:          opts.Admin,
		custody:        opts.Custody,
		events:         opts.Events,
		logger:         opts.Logger.Named("vesting").With(zap.String("token", string(token))),
		clock:          opts.Clock,
		guard:          guard.New(),
		schedules:      make(map[types.Address]*Schedule),
		totalAllocated: new(uint256.Int),
	}
}

// Account returns the custody account holding the vesting tokens.
func (e *Engine) Account() types.Address { return e.account }

// AddSchedule creates or replaces the schedule of beneficiary. A zero start
// means now. Replacing a schedule discards what it had released so far.
func (e *Engine) AddSchedule(ctx context.Context, caller, beneficiary types.Address, total *uint256.Int,
	start time.Time, duration, cliff time.Duration) error {
	_, release, err := e.guard.Enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if !e.isAdmin(caller) {
		return fmt.Errorf("%w: %s is not the vesting admin", types.ErrUnauthorized, caller)
	}
	if beneficiary.IsZero() {
		return fmt.Errorf("%w: %w", types.ErrInvalidParameters, types.ErrInvalidBeneficiary)
	}
	if total == nil || total.IsZero() {
		return fmt.Errorf("%w: zero total amount", types.ErrInvalidParameters)
	}
	if duration <= 0 {
		return fmt.Errorf("%w: duration must be positive", types.ErrInvalidParameters)
	}
	if cliff < 0 || cliff > duration {
		return fmt.Errorf("%w: cliff %s outside duration %s", types.ErrInvalidParameters, cliff, duration)
	}
	if start.IsZero() {
		start = e.clock()
	}

	e.mu.Lock()
	allocated := e.totalAllocated.Clone()
	if old, ok := e.schedules[beneficiary]; ok {
		allocated.Sub(allocated, old.TotalAmount)
	}
	allocated, err = curve.Add(allocated, total)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	e.totalAllocated = allocated
	e.schedules[beneficiary] = &Schedule{
		TotalAmount:    total.Clone(),
		ReleasedAmount: new(uint256.Int),
		StartTime:      start,
		Duration:       duration,
		CliffDuration:  cliff,
	}
	e.mu.Unlock()

	e.logger.Info("Vesting schedule added",
		zap.String("beneficiary", beneficiary.String()),
		zap.String("total_amount", curve.FormatUnits(total)),
		zap.Time("start", start),
		zap.Duration("duration", duration),
		zap.Duration("cliff", cliff))

	e.publish(&events.VestingScheduleAddedEvent{
		BaseEvent:     events.NewBase(events.VestingScheduleAdded),
		Beneficiary:   beneficiary,
		TotalAmount:   total.Clone(),
		StartTime:     start,
		Duration:      duration,
		CliffDuration: cliff,
	})
	return nil
}

// Schedule returns a copy of the schedule of beneficiary.
func (e *Engine) Schedule(beneficiary types.Address) (Schedule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.schedules[beneficiary]
	if !ok {
		return Schedule{}, false
	}
	return *s.clone(), true
}

// TotalAllocated is the sum of all schedule totals.
func (e *Engine) TotalAllocated() *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.totalAllocated.Clone()
}

// VestedAmount is what beneficiary has unlocked at now. A beneficiary
// without a schedule has nothing vested.
func (e *Engine) VestedAmount(beneficiary types.Address, now time.Time) (*uint256.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.schedules[beneficiary]
	if !ok {
		return new(uint256.Int), nil
	}
	return s.vested(now)
}

// ReleasableAmount is the vested amount not yet released.
func (e *Engine) ReleasableAmount(beneficiary types.Address, now time.Time) (*uint256.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.releasableLocked(beneficiary, now)
}

func (e *Engine) releasableLocked(beneficiary types.Address, now time.Time) (*uint256.Int, error) {
	s, ok := e.schedules[beneficiary]
	if !ok {
		return new(uint256.Int), nil
	}
	vested, err := s.vested(now)
	if err != nil {
		return nil, err
	}
	if vested.Lt(s.ReleasedAmount) {
		return new(uint256.Int), nil
	}
	return vested.Sub(vested, s.ReleasedAmount), nil
}

// Release transfers everything releasable at now to beneficiary and returns
// the amount.
func (e *Engine) Release(ctx context.Context, beneficiary types.Address, now time.Time) (*uint256.Int, error) {
	ctx, release, err := e.guard.Enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	e.mu.Lock()
	amount, err := e.releasableLocked(beneficiary, now)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if amount.IsZero() {
		e.mu.Unlock()
		return nil, types.ErrNoTokensToRelease
	}
	s := e.schedules[beneficiary]
	before := s.ReleasedAmount
	s.ReleasedAmount = new(uint256.Int).Add(before, amount)
	e.mu.Unlock()

	err = e.transfer(ctx, custody.Transfer{
		Asset:  e.token,
		From:   e.account,
		To:     beneficiary,
		Amount: amount,
	})
	if err != nil {
		e.mu.Lock()
		s.ReleasedAmount = before
		e.mu.Unlock()
		return nil, fmt.Errorf("failed to release tokens: %w", err)
	}

	e.logger.Info("Tokens released",
		zap.String("beneficiary", beneficiary.String()),
		zap.String("amount", curve.FormatUnits(amount)))

	e.publish(&events.TokensReleasedEvent{
		BaseEvent:   events.NewBase(events.TokensReleased),
		Beneficiary: beneficiary,
		Amount:      amount.Clone(),
	})
	return amount, nil
}

// ExcessBalance is the part of the custody balance that no schedule claims.
// Tokens already released still count as allocated, so each release lowers
// the excess.
func (e *Engine) ExcessBalance() *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.excessLocked()
}

func (e *Engine) excessLocked() *uint256.Int {
	balance := e.custody.BalanceOf(e.token, e.account)
	if balance.Lt(e.totalAllocated) {
		return new(uint256.Int)
	}
	return balance.Sub(balance, e.totalAllocated)
}

// WithdrawExcess moves up to ExcessBalance out of the engine.
func (e *Engine) WithdrawExcess(ctx context.Context, caller, to types.Address, amount *uint256.Int) error {
	ctx, release, err := e.guard.Enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if !e.isAdmin(caller) {
		return fmt.Errorf("%w: %s is not the vesting admin", types.ErrUnauthorized, caller)
	}
	if to.IsZero() {
		return fmt.Errorf("%w: %w", types.ErrInvalidParameters, types.ErrInvalidBeneficiary)
	}
	if amount == nil || amount.IsZero() {
		return types.ErrInvalidAmount
	}

	e.mu.RLock()
	excess := e.excessLocked()
	e.mu.RUnlock()
	if amount.Gt(excess) {
		return fmt.Errorf("%w: requested %s, excess %s", types.ErrExceedsExcessBalance, amount.Dec(), excess.Dec())
	}

	if err := e.transfer(ctx, custody.Transfer{Asset: e.token, From: e.account, To: to, Amount: amount}); err != nil {
		return fmt.Errorf("failed to withdraw excess: %w", err)
	}
	e.logger.Info("Excess withdrawn",
		zap.String("to", to.String()),
		zap.String("amount", curve.FormatUnits(amount)))
	return nil
}

func (e *Engine) transfer(ctx context.Context, t custody.Transfer) error {
	return e.guard.Call(ctx, func(ctx context.Context) error {
		return e.custody.Transfer(ctx, t)
	})
}

func (e *Engine) isAdmin(caller types.Address) bool {
	return !e.admin.IsZero() && caller.Equals(e.admin)
}

func (e *Engine) publish(ev events.Event) {
	if err := e.events.Publish(ev); err != nil {
		e.logger.Warn("Failed to publish event",
			zap.String("event_type", string(ev.Type())),
			zap.Error(err))
	}
}
