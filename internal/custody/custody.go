// internal/custody/custody.go
package custody

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/curvesale/internal/types"
)

// Asset names a balance book: the settlement currency or a sale token.
type Asset string

// Native is the settlement currency.
const Native Asset = "BNB"

// Transfer moves Amount of Asset between two accounts.
type Transfer struct {
	Asset  Asset
	From   types.Address
	To     types.Address
	Amount *uint256.Int
}

// Reverse returns the transfer that undoes t.
func (t Transfer) Reverse() Transfer {
	return Transfer{Asset: t.Asset, From: t.To, To: t.From, Amount: t.Amount}
}

// Custody is the credit/debit interface the engines settle through.
type Custody interface {
	BalanceOf(asset Asset, owner types.Address) *uint256.Int
	// Transfer applies the batch atomically: either every transfer lands or none does.
	Transfer(ctx context.Context, transfers ...Transfer) error
}

// Hook observes a landed transfer. It runs after the batch is applied and
// outside the ledger lock. A hook that calls back into the engine that
// initiated the transfer is refused with ErrReentrantCall, whichever context
// it passes. A hook error reverts the batch.
type Hook func(ctx context.Context, t Transfer) error

// Ledger is an in-memory Custody.
type Ledger struct {
	mu       sync.RWMutex
	balances map[Asset]map[types.Address]*uint256.Int
	hooks    []Hook
	logger   *zap.Logger
}

// NewLedger creates an empty ledger.
func NewLedger(logger *zap.Logger) *Ledger {
	return &Ledger{
		balances: make(map[Asset]map[types.Address]*uint256.Int),
		logger:   logger.Named("custody"),
	}
}

// OnTransfer registers a hook invoked for every landed transfer.
func (l *Ledger) OnTransfer(h Hook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, h)
}

// Mint credits amount to owner out of nothing. Used to fund wallets and sale
// inventories.
func (l *Ledger) Mint(asset Asset, owner types.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.balanceLocked(asset, owner)
	sum, overflow := new(uint256.Int).AddOverflow(bal, amount)
	if overflow {
		return fmt.Errorf("mint %s to %s: %w", asset, owner, types.ErrOverflow)
	}
	l.setLocked(asset, owner, sum)
	return nil
}

// BalanceOf returns a copy of owner's balance of asset.
func (l *Ledger) BalanceOf(asset Asset, owner types.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balanceLocked(asset, owner).Clone()
}

// Transfer implements Custody.
func (l *Ledger) Transfer(ctx context.Context, transfers ...Transfer) error {
	if len(transfers) == 0 {
		return nil
	}

	l.mu.Lock()
	if err := l.applyLocked(transfers); err != nil {
		l.mu.Unlock()
		return err
	}
	hooks := append([]Hook(nil), l.hooks...)
	l.mu.Unlock()

	for _, t := range transfers {
		for _, h := range hooks {
			if err := h(ctx, t); err != nil {
				return l.revert(transfers, fmt.Errorf("transfer hook rejected %s: %w", t.Asset, err))
			}
		}
	}

	l.logger.Debug("Batch settled", zap.Int("transfers", len(transfers)))
	return nil
}

// revert undoes a landed batch after a hook failure.
func (l *Ledger) revert(transfers []Transfer, cause error) error {
	reversed := make([]Transfer, len(transfers))
	for i, t := range transfers {
		reversed[len(transfers)-1-i] = t.Reverse()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.applyLocked(reversed); err != nil {
		l.logger.Error("Failed to revert batch", zap.Error(err))
		return errors.Join(cause, err)
	}
	return cause
}

// applyLocked stages the batch on a scratch copy of the touched balances and
// commits only if every step succeeds.
func (l *Ledger) applyLocked(transfers []Transfer) error {
	type key struct {
		asset Asset
		owner types.Address
	}
	staged := make(map[key]*uint256.Int)
	get := func(asset Asset, owner types.Address) *uint256.Int {
		k := key{asset, owner}
		if v, ok := staged[k]; ok {
			return v
		}
		v := l.balanceLocked(asset, owner).Clone()
		staged[k] = v
		return v
	}

	for _, t := range transfers {
		if t.Amount == nil || t.Amount.IsZero() {
			continue
		}
		from := get(t.Asset, t.From)
		if from.Lt(t.Amount) {
			return fmt.Errorf("%s balance of %s is %s, need %s: %w",
				t.Asset, t.From.String(), from.Dec(), t.Amount.Dec(), types.ErrInsufficientBalance)
		}
		from.Sub(from, t.Amount)
		to := get(t.Asset, t.To)
		if _, overflow := to.AddOverflow(to, t.Amount); overflow {
			return fmt.Errorf("%s credit to %s: %w", t.Asset, t.To.String(), types.ErrOverflow)
		}
	}

	for k, v := range staged {
		l.setLocked(k.asset, k.owner, v)
	}
	return nil
}

func (l *Ledger) balanceLocked(asset Asset, owner types.Address) *uint256.Int {
	if book, ok := l.balances[asset]; ok {
		if v, ok := book[owner]; ok {
			return v
		}
	}
	return new(uint256.Int)
}

func (l *Ledger) setLocked(asset Asset, owner types.Address, v *uint256.Int) {
	book, ok := l.balances[asset]
	if !ok {
		book = make(map[types.Address]*uint256.Int)
		l.balances[asset] = book
	}
	book[owner] = v
}
