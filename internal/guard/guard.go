// internal/guard/guard.go
package guard

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/rovshanmuradov/curvesale/internal/types"
)

type ctxKey struct{ g *Guard }

// Guard admits one mutating operation at a time on an engine instance.
//
// Enter tags the returned context. A nested call that arrives through that
// context is rejected with ErrReentrantCall instead of waiting on itself.
// While the admitted operation is inside Call, Enter does not queue at all:
// a collaborator calling back on a context of its own is refused the same
// way. Outside that window unrelated callers queue on the semaphore.
type Guard struct {
	sem      *semaphore.Weighted
	outbound atomic.Bool
}

// New creates an open guard.
func New() *Guard {
	return &Guard{sem: semaphore.NewWeighted(1)}
}

// Enter acquires the guard. The returned release func must be called exactly once.
func (g *Guard) Enter(ctx context.Context) (context.Context, func(), error) {
	if ctx.Value(ctxKey{g}) != nil {
		return nil, nil, types.ErrReentrantCall
	}
	if g.outbound.Load() {
		if !g.sem.TryAcquire(1) {
			return nil, nil, types.ErrReentrantCall
		}
	} else if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, fmt.Errorf("failed to acquire operation slot: %w", err)
	}
	return context.WithValue(ctx, ctxKey{g}, struct{}{}), func() { g.sem.Release(1) }, nil
}

// Call runs fn on behalf of the operation admitted on ctx. Custody transfers
// and liquidity deposits go through it.
func (g *Guard) Call(ctx context.Context, fn func(context.Context) error) error {
	if !g.Held(ctx) {
		return fn(ctx)
	}
	g.outbound.Store(true)
	defer g.outbound.Store(false)
	return fn(ctx)
}

// Held reports whether ctx is inside an operation admitted by g.
func (g *Guard) Held(ctx context.Context) bool {
	return ctx.Value(ctxKey{g}) != nil
}
