// internal/sale/factory.go
package sale

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/curvesale/internal/custody"
	"github.com/rovshanmuradov/curvesale/internal/events"
	"github.com/rovshanmuradov/curvesale/internal/liquidity"
	"github.com/rovshanmuradov/curvesale/internal/types"
)

// Treasury is custody that can also issue new supply.
type Treasury interface {
	custody.Custody
	Mint(asset custody.Asset, owner types.Address, amount *uint256.Int) error
}

// Factory creates independent sales that share the same collaborators and
// keeps them addressable by ID.
type Factory struct {
	mu       sync.RWMutex
	sales    map[string]*Sale
	treasury Treasury
	provider liquidity.Provider
	events   events.Publisher
	admin    types.Address
	platform types.Address
	logger   *zap.Logger
}

// NewFactory creates a factory. admin pauses the sales it creates and
// platform receives their platform fees.
func NewFactory(treasury Treasury, provider liquidity.Provider, publisher events.Publisher,
	admin, platform types.Address, logger *zap.Logger) *Factory {
	return &Factory{
		sales:    make(map[string]*Sale),
		treasury: treasury,
		provider: provider,
		events:   publisher,
		admin:    admin,
		platform: platform,
		logger:   logger.Named("factory"),
	}
}

// Create mints the supply of a new token into a fresh sale and initializes it.
func (f *Factory) Create(ctx context.Context, cfg Config) (*Sale, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	token := custody.Asset("CURVE-" + strings.ToUpper(id[:8]))
	s := New(id, token, Options{
		Admin:             f.admin,
		PlatformRecipient: f.platform,
		Custody:           f.treasury,
		Liquidity:         f.provider,
		Events:            f.events,
		Logger:            f.logger,
	})

	if err := f.treasury.Mint(token, s.Account(), cfg.TotalSupply); err != nil {
		return nil, fmt.Errorf("failed to mint supply: %w", err)
	}
	if err := s.Initialize(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize sale: %w", err)
	}

	f.mu.Lock()
	f.sales[id] = s
	f.mu.Unlock()

	f.logger.Info("Sale created", zap.String("sale_id", id), zap.String("token", string(token)))
	return s, nil
}

// Get returns the sale with the given ID.
func (f *Factory) Get(id string) (*Sale, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.sales[id]
	return s, ok
}

// List returns every sale, ordered by ID.
func (f *Factory) List() []*Sale {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*Sale, 0, len(f.sales))
	for _, s := range f.sales {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}
