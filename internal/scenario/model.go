// internal/scenario/model.go
package scenario

import (
	"time"

	"github.com/holiman/uint256"

	"github.com/rovshanmuradov/curvesale/internal/config"
	"github.com/rovshanmuradov/curvesale/internal/types"
)

// Action is one step kind of a scenario.
type Action string

const (
	ActionBuy            Action = "buy"
	ActionSell           Action = "sell"
	ActionPause          Action = "pause"
	ActionUnpause        Action = "unpause"
	ActionCollectFees    Action = "collect_fees"
	ActionRelease        Action = "release"
	ActionWithdrawExcess Action = "withdraw_excess"
)

// File is the YAML layout of a scenario file.
type File struct {
	Scenarios []Spec `yaml:"scenarios"`
}

// Spec is a scenario as written in YAML.
type Spec struct {
	Name    string            `yaml:"name"`
	Sale    SaleOverrides     `yaml:"sale"`
	Wallets map[string]string `yaml:"wallets"`
	Vesting *VestingSpec      `yaml:"vesting"`
	Steps   []StepSpec        `yaml:"steps"`
}

// SaleOverrides replaces individual fields of the configured sale defaults.
type SaleOverrides struct {
	TotalSupply         *string `yaml:"total_supply"`
	InitialPrice        *string `yaml:"initial_price"`
	PriceIncrement      *string `yaml:"price_increment"`
	GraduationThreshold *string `yaml:"graduation_threshold"`
	CreatorFeeBps       *uint64 `yaml:"creator_fee_bps"`
	PlatformFeeBps      *uint64 `yaml:"platform_fee_bps"`
	EnableSell          *bool   `yaml:"enable_sell"`
}

// VestingSpec funds a vesting engine for the sale token.
type VestingSpec struct {
	Supply    string         `yaml:"supply"`
	Schedules []ScheduleSpec `yaml:"schedules"`
}

// ScheduleSpec is one vesting schedule. Start is an offset from the
// scenario start.
type ScheduleSpec struct {
	Beneficiary string        `yaml:"beneficiary"`
	Amount      string        `yaml:"amount"`
	Start       time.Duration `yaml:"start"`
	Duration    time.Duration `yaml:"duration"`
	Cliff       time.Duration `yaml:"cliff"`
}

// StepSpec is one step as written in YAML. Amount is BNB for buys and
// tokens for sells and withdrawals; a sell without an amount sells Percent
// of the holding. At offsets the release time from the scenario start.
type StepSpec struct {
	Action      Action               `yaml:"action"`
	Wallet      string               `yaml:"wallet"`
	Amount      string               `yaml:"amount"`
	Percent     uint64               `yaml:"percent"`
	Slippage    types.SlippageConfig `yaml:"slippage"`
	At          time.Duration        `yaml:"at"`
	ExpectError string               `yaml:"expect_error"`
}

// Scenario is a validated, parsed Spec.
type Scenario struct {
	Name    string
	Sale    config.Sale
	Wallets map[string]*uint256.Int
	Vesting *Vesting
	Steps   []Step
}

// Vesting is a parsed VestingSpec.
type Vesting struct {
	Supply    *uint256.Int
	Schedules []Schedule
}

// Schedule is a parsed ScheduleSpec.
type Schedule struct {
	Beneficiary string
	Amount      *uint256.Int
	Start       time.Duration
	Duration    time.Duration
	Cliff       time.Duration
}

// Step is a parsed StepSpec. Amount is nil when the step has none.
type Step struct {
	Action      Action
	Wallet      string
	Amount      *uint256.Int
	Percent     uint64
	Slippage    types.SlippageConfig
	At          time.Duration
	ExpectError string
}
