package ui

import (
	"context"
	"sync"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/curvesale/internal/events"
	"github.com/rovshanmuradov/curvesale/internal/scenario"
)

// Feed turns runner callbacks and engine events into tea messages. Trade
// updates are dropped when the dashboard falls behind; lifecycle messages
// wait until it catches up or the feed is closed.
type Feed struct {
	msgs      chan tea.Msg
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger

	sentUpdates    atomic.Uint64
	droppedUpdates atomic.Uint64
}

var _ scenario.Observer = (*Feed)(nil)

// NewFeed creates a feed buffering up to size messages.
func NewFeed(size int, logger *zap.Logger) *Feed {
	if size <= 0 {
		size = 1024
	}
	return &Feed{
		msgs:   make(chan tea.Msg, size),
		done:   make(chan struct{}),
		logger: logger.Named("feed"),
	}
}

// Listen returns a command that waits for the next message.
func (f *Feed) Listen() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-f.msgs:
			return msg
		case <-f.done:
			return nil
		}
	}
}

// Close unblocks pending senders and listeners.
func (f *Feed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

// Stats returns how many trade updates were delivered and dropped.
func (f *Feed) Stats() (sent, dropped uint64) {
	return f.sentUpdates.Load(), f.droppedUpdates.Load()
}

// ScenarioStarted implements scenario.Observer.
func (f *Feed) ScenarioStarted(name, saleID string, threshold *uint256.Int) {
	f.send(ScenarioStartedMsg{Name: name, SaleID: saleID, Threshold: threshold.Clone()})
}

// ScenarioFinished implements scenario.Observer.
func (f *Feed) ScenarioFinished(report *scenario.Report) {
	f.send(ScenarioFinishedMsg{Report: report})
}

// Finish reports the end of the run.
func (f *Feed) Finish(err error) {
	f.send(RunFinishedMsg{Err: err})
}

// Handle implements events.Handler.
func (f *Feed) Handle(_ context.Context, event events.Event) error {
	switch e := event.(type) {
	case *events.TokensBoughtEvent:
		f.sendUpdate(TradeMsg{
			SaleID:     e.SaleID,
			Side:       "buy",
			Bnb:        e.BnbIn,
			Tokens:     e.TokensOut,
			TokensSold: e.TokensSold,
			Price:      e.Price,
			At:         e.Timestamp(),
		})
	case *events.TokensSoldEvent:
		f.sendUpdate(TradeMsg{
			SaleID:     e.SaleID,
			Side:       "sell",
			Bnb:        e.BnbOut,
			Tokens:     e.TokenAmount,
			TokensSold: e.TokensSold,
			Price:      e.Price,
			At:         e.Timestamp(),
		})
	case *events.GraduatedToDexEvent:
		f.send(GraduatedMsg{
			SaleID:    e.SaleID,
			MarketCap: e.MarketCap,
			BnbAmount: e.BnbAmount,
			Pair:      e.Pair,
		})
	}
	return nil
}

func (f *Feed) send(msg tea.Msg) {
	select {
	case f.msgs <- msg:
	case <-f.done:
	}
}

func (f *Feed) sendUpdate(msg tea.Msg) {
	select {
	case f.msgs <- msg:
		f.sentUpdates.Add(1)
	default:
		if f.droppedUpdates.Add(1)%100 == 1 {
			f.logger.Warn("Dashboard is behind, dropping trade updates",
				zap.Uint64("dropped", f.droppedUpdates.Load()))
		}
	}
}
