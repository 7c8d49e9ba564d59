// internal/sale/admin.go
package sale

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/curvesale/internal/curve"
	"github.com/rovshanmuradov/curvesale/internal/custody"
	"github.com/rovshanmuradov/curvesale/internal/events"
	"github.com/rovshanmuradov/curvesale/internal/types"
)

// Pause stops buys and sells until Unpause. Views keep working.
func (s *Sale) Pause(ctx context.Context, caller types.Address) error {
	return s.setPaused(ctx, caller, true)
}

// Unpause resumes trading.
func (s *Sale) Unpause(ctx context.Context, caller types.Address) error {
	return s.setPaused(ctx, caller, false)
}

func (s *Sale) setPaused(ctx context.Context, caller types.Address, paused bool) error {
	_, release, err := s.guard.Enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if s.admin.IsZero() || !caller.Equals(s.admin) {
		return fmt.Errorf("%w: %s is not the sale admin", types.ErrUnauthorized, caller)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case paused && s.paused:
		return types.ErrPaused
	case !paused && !s.paused:
		return types.ErrNotPaused
	}
	s.paused = paused

	s.logger.Info("Pause state changed", zap.Bool("paused", paused))
	return nil
}

// CollectCreatorFees pays the accrued creator fees to the creator and
// returns the amount paid. It works in every state, including after
// graduation; an empty balance pays nothing.
func (s *Sale) CollectCreatorFees(ctx context.Context) (*uint256.Int, error) {
	return s.collectFees(ctx, events.CreatorFee)
}

// CollectPlatformFees pays the accrued platform fees to the platform recipient.
func (s *Sale) CollectPlatformFees(ctx context.Context) (*uint256.Int, error) {
	return s.collectFees(ctx, events.PlatformFee)
}

func (s *Sale) collectFees(ctx context.Context, kind events.FeeKind) (*uint256.Int, error) {
	ctx, release, err := s.guard.Enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return nil, types.ErrNotInitialized
	}
	snap := s.snapshotLocked(types.ZeroAddress)
	var amount *uint256.Int
	var recipient types.Address
	if kind == events.CreatorFee {
		amount, recipient = s.state.AccumulatedCreatorFee, s.cfg.Creator
		s.state.AccumulatedCreatorFee = new(uint256.Int)
	} else {
		amount, recipient = s.state.AccumulatedPlatformFee, s.platform
		s.state.AccumulatedPlatformFee = new(uint256.Int)
	}
	s.mu.Unlock()

	if amount.IsZero() {
		return new(uint256.Int), nil
	}

	err = s.settle(ctx, custody.Transfer{
		Asset:  custody.Native,
		From:   s.account,
		To:     recipient,
		Amount: amount,
	})
	if err != nil {
		s.restore(snap)
		return nil, fmt.Errorf("failed to pay %s fees: %w", kind, err)
	}

	s.logger.Info("Fees collected",
		zap.String("kind", string(kind)),
		zap.String("recipient", recipient.String()),
		zap.String("amount", curve.FormatUnits(amount)))

	s.publish(&events.FeesCollectedEvent{
		BaseEvent: events.NewBase(events.FeesCollected),
		SaleID:    s.id,
		Kind:      kind,
		Recipient: recipient,
		Amount:    amount,
	})
	return amount.Clone(), nil
}
