// internal/events/types.go
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/rovshanmuradov/curvesale/internal/types"
)

// EventType represents the type of event.
type EventType string

const (
	// Trade events
	TokensBought EventType = "sale.tokens_bought"
	TokensSold   EventType = "sale.tokens_sold"

	// Lifecycle events
	GraduatedToDex EventType = "sale.graduated"
	FeesCollected  EventType = "sale.fees_collected"

	// Vesting events
	TokensReleased       EventType = "vesting.tokens_released"
	VestingScheduleAdded EventType = "vesting.schedule_added"
)

// AllTypes lists every event type the engines publish.
func AllTypes() []EventType {
	return []EventType{
		TokensBought,
		TokensSold,
		GraduatedToDex,
		FeesCollected,
		TokensReleased,
		VestingScheduleAdded,
	}
}

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
	ID() string
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventID   string
	EventType EventType
	EventTime time.Time
}

// NewBase stamps a new event of the given type.
func NewBase(t EventType) BaseEvent {
	return BaseEvent{EventID: uuid.New().String(), EventType: t, EventTime: time.Now().UTC()}
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// ID returns the unique event identifier.
func (e BaseEvent) ID() string {
	return e.EventID
}

// TokensBoughtEvent is emitted after a committed buy.
type TokensBoughtEvent struct {
	BaseEvent
	SaleID      string
	Buyer       types.Address
	BnbIn       *uint256.Int
	TokensOut   *uint256.Int
	CreatorFee  *uint256.Int
	PlatformFee *uint256.Int
	TokensSold  *uint256.Int
	Price       *uint256.Int
}

// TokensSoldEvent is emitted after a committed sell.
type TokensSoldEvent struct {
	BaseEvent
	SaleID      string
	Seller      types.Address
	TokenAmount *uint256.Int
	BnbOut      *uint256.Int
	CreatorFee  *uint256.Int
	PlatformFee *uint256.Int
	TokensSold  *uint256.Int
	Price       *uint256.Int
}

// GraduatedToDexEvent is emitted once, when a sale migrates its liquidity.
type GraduatedToDexEvent struct {
	BaseEvent
	SaleID      string
	TokenAmount *uint256.Int
	BnbAmount   *uint256.Int
	LPShares    *uint256.Int
	Pair        string
	MarketCap   *uint256.Int
}

// FeeKind tells creator and platform fees apart.
type FeeKind string

const (
	CreatorFee  FeeKind = "creator"
	PlatformFee FeeKind = "platform"
)

// FeesCollectedEvent is emitted when an accrued fee balance is paid out.
type FeesCollectedEvent struct {
	BaseEvent
	SaleID    string
	Kind      FeeKind
	Recipient types.Address
	Amount    *uint256.Int
}

// TokensReleasedEvent is emitted when vested tokens are released.
type TokensReleasedEvent struct {
	BaseEvent
	Beneficiary types.Address
	Amount      *uint256.Int
}

// VestingScheduleAddedEvent is emitted when a schedule is created or replaced.
type VestingScheduleAddedEvent struct {
	BaseEvent
	Beneficiary   types.Address
	TotalAmount   *uint256.Int
	StartTime     time.Time
	Duration      time.Duration
	CliffDuration time.Duration
}
