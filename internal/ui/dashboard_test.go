package ui

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/curvesale/internal/curve"
	"github.com/rovshanmuradov/curvesale/internal/events"
	"github.com/rovshanmuradov/curvesale/internal/sale"
	"github.com/rovshanmuradov/curvesale/internal/scenario"
	"github.com/rovshanmuradov/curvesale/internal/types"
	"github.com/rovshanmuradov/curvesale/internal/utils/logger"
)

func keyPress(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestFeedTranslatesEvents(t *testing.T) {
	feed := NewFeed(4, zaptest.NewLogger(t))

	require.NoError(t, feed.Handle(context.Background(), &events.TokensBoughtEvent{
		BaseEvent:  events.NewBase(events.TokensBought),
		SaleID:     "s1",
		Buyer:      types.NewAddress(),
		BnbIn:      curve.MustParseUnits("1"),
		TokensOut:  curve.MustParseUnits("1000"),
		TokensSold: curve.MustParseUnits("1000"),
		Price:      curve.MustParseUnits("0.0002"),
	}))
	require.NoError(t, feed.Handle(context.Background(), &events.GraduatedToDexEvent{
		BaseEvent: events.NewBase(events.GraduatedToDex),
		SaleID:    "s1",
		Pair:      "CURVE-1/BNB",
	}))

	msg := feed.Listen()()
	trade, ok := msg.(TradeMsg)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, "buy", trade.Side)
	assert.Equal(t, "s1", trade.SaleID)

	msg = feed.Listen()()
	grad, ok := msg.(GraduatedMsg)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, "CURVE-1/BNB", grad.Pair)
}

func TestFeedDropsTradeUpdatesWhenFull(t *testing.T) {
	feed := NewFeed(1, zaptest.NewLogger(t))
	sold := &events.TokensSoldEvent{BaseEvent: events.NewBase(events.TokensSold), SaleID: "s1"}

	require.NoError(t, feed.Handle(context.Background(), sold))
	require.NoError(t, feed.Handle(context.Background(), sold))

	sent, dropped := feed.Stats()
	assert.Equal(t, uint64(1), sent)
	assert.Equal(t, uint64(1), dropped)
}

func TestFeedCloseUnblocks(t *testing.T) {
	feed := NewFeed(1, zaptest.NewLogger(t))
	feed.Finish(nil)

	done := make(chan struct{})
	go func() {
		feed.ScenarioStarted("late", "s2", uint256.NewInt(1))
		close(done)
	}()
	feed.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ScenarioStarted blocked after Close")
	}
}

func TestFeedListenReturnsNilAfterClose(t *testing.T) {
	feed := NewFeed(1, zaptest.NewLogger(t))
	feed.Close()
	assert.Nil(t, feed.Listen()())
}

func TestDashboardTracksScenario(t *testing.T) {
	buf := logger.NewLogBuffer(10)
	d := NewDashboard(NewFeed(8, zaptest.NewLogger(t)), buf)

	d.Update(ScenarioStartedMsg{Name: "launch", SaleID: "s1", Threshold: curve.MustParseUnits("10")})
	view := d.View()
	assert.Contains(t, view, "launch")
	assert.Contains(t, view, "running")
	assert.Contains(t, view, "0/1 scenarios finished")

	d.Update(TradeMsg{
		SaleID:     "s1",
		Side:       "buy",
		Bnb:        curve.MustParseUnits("1"),
		Tokens:     curve.MustParseUnits("1000"),
		TokensSold: curve.MustParseUnits("1000"),
		Price:      curve.MustParseUnits("0.005"),
		At:         time.Now(),
	})
	view = d.View()
	assert.Contains(t, view, "50.0%")
	assert.Contains(t, view, "BUY")

	d.Update(TradeMsg{SaleID: "unknown", Side: "sell"})
	assert.Equal(t, 1, d.sales[0].buys)
	assert.Equal(t, 0, d.sales[0].sells)

	d.Update(GraduatedMsg{SaleID: "s1", Pair: "CURVE-1/BNB"})
	view = d.View()
	assert.Contains(t, view, "graduated")
	assert.Contains(t, view, "100.0%")
	assert.Contains(t, view, "CURVE-1/BNB")

	d.Update(ScenarioFinishedMsg{Report: &scenario.Report{
		Name:     "launch",
		SaleID:   "s1",
		Failures: 1,
		Steps:    make([]scenario.StepResult, 3),
		State:    sale.State{Graduated: true, TokensSold: curve.MustParseUnits("1000")},
	}})
	d.Update(RunFinishedMsg{})
	view = d.View()
	assert.Contains(t, view, "failed (1)")
	assert.Contains(t, view, "1/1 scenarios finished")
	assert.Contains(t, view, "Run finished.")
	assert.True(t, d.Finished())
	assert.NoError(t, d.Err())

	buf.Add(logger.LogEntry{Timestamp: time.Now(), Level: zapcore.WarnLevel, Message: "Step did not go as expected"})
	assert.NotContains(t, d.View(), "Step did not go as expected")
	d.Update(keyPress('l'))
	assert.Contains(t, d.View(), "Step did not go as expected")
}

func TestDashboardQuit(t *testing.T) {
	feed := NewFeed(1, zaptest.NewLogger(t))
	d := NewDashboard(feed, nil)

	_, cmd := d.Update(keyPress('q'))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Nil(t, feed.Listen()())
}
