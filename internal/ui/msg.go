package ui

import (
	"time"

	"github.com/holiman/uint256"

	"github.com/rovshanmuradov/curvesale/internal/scenario"
)

// ScenarioStartedMsg announces a sale the dashboard should track.
type ScenarioStartedMsg struct {
	Name      string
	SaleID    string
	Threshold *uint256.Int
}

// TradeMsg reports a committed buy or sell.
type TradeMsg struct {
	SaleID     string
	Side       string
	Bnb        *uint256.Int
	Tokens     *uint256.Int
	TokensSold *uint256.Int
	Price      *uint256.Int
	At         time.Time
}

// GraduatedMsg reports a sale migrating to the DEX.
type GraduatedMsg struct {
	SaleID    string
	MarketCap *uint256.Int
	BnbAmount *uint256.Int
	Pair      string
}

// ScenarioFinishedMsg carries the final report of a scenario.
type ScenarioFinishedMsg struct {
	Report *scenario.Report
}

// RunFinishedMsg is sent once every scenario has finished or the run failed.
type RunFinishedMsg struct {
	Err error
}

type tickMsg time.Time
