package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/holiman/uint256"
	"go.uber.org/zap/zapcore"

	"github.com/rovshanmuradov/curvesale/internal/curve"
	"github.com/rovshanmuradov/curvesale/internal/ui/style"
	"github.com/rovshanmuradov/curvesale/internal/utils/logger"
)

const (
	refreshInterval = 500 * time.Millisecond
	logLines        = 8
)

// saleView is what the dashboard knows about one running scenario.
type saleView struct {
	name       string
	saleID     string
	threshold  *uint256.Int
	buys       int
	sells      int
	tokensSold *uint256.Int
	price      *uint256.Int
	lastTrade  *TradeMsg
	graduated  bool
	pair       string
	finished   bool
	failures   int
	steps      int
}

func (v *saleView) marketCap() *uint256.Int {
	if v.price == nil || v.tokensSold == nil {
		return new(uint256.Int)
	}
	mc, err := curve.MulDiv(v.price, v.tokensSold, curve.Precision)
	if err != nil {
		return new(uint256.Int)
	}
	return mc
}

// progress is the share of the graduation threshold reached, in [0, 1].
func (v *saleView) progress() float64 {
	if v.graduated {
		return 1
	}
	if v.threshold == nil || v.threshold.IsZero() {
		return 0
	}
	ratio := curve.ToDecimal(v.marketCap()).Div(curve.ToDecimal(v.threshold)).InexactFloat64()
	return min(ratio, 1)
}

func (v *saleView) status() string {
	switch {
	case v.finished && v.failures > 0:
		return fmt.Sprintf("failed (%d)", v.failures)
	case v.graduated:
		return "graduated"
	case v.finished:
		return "done"
	default:
		return "running"
	}
}

// Dashboard is a live view of a simulation run.
type Dashboard struct {
	feed    *Feed
	logs    *logger.LogBuffer
	keys    KeyMap
	help    help.Model
	table   table.Model
	bar     progress.Model
	palette style.Palette

	sales    []*saleView
	index    map[string]*saleView
	showLogs bool
	finished bool
	err      error
	width    int
}

// NewDashboard creates a dashboard fed by feed. logs may be nil.
func NewDashboard(feed *Feed, logs *logger.LogBuffer) *Dashboard {
	palette := style.DefaultPalette()

	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Scenario", Width: 18},
			{Title: "Status", Width: 12},
			{Title: "Buys", Width: 5},
			{Title: "Sells", Width: 5},
			{Title: "Sold", Width: 16},
			{Title: "Price", Width: 14},
			{Title: "Mkt cap", Width: 12},
			{Title: "Progress", Width: 8},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(palette.TextMuted).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(palette.Text).
		Background(palette.Secondary).
		Bold(false)
	t.SetStyles(styles)

	return &Dashboard{
		feed:    feed,
		logs:    logs,
		keys:    DefaultKeyMap(),
		help:    help.New(),
		table:   t,
		bar:     progress.New(progress.WithGradient(string(palette.Primary), string(palette.Secondary)), progress.WithWidth(40)),
		palette: palette,
		index:   make(map[string]*saleView),
		width:   100,
	}
}

// Finished reports whether the run has ended.
func (d *Dashboard) Finished() bool {
	return d.finished
}

// Err returns the run error, if any.
func (d *Dashboard) Err() error {
	return d.err
}

// Init implements tea.Model.
func (d *Dashboard) Init() tea.Cmd {
	return tea.Batch(d.feed.Listen(), tick())
}

// Update implements tea.Model.
func (d *Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, d.keys.Quit):
			d.feed.Close()
			return d, tea.Quit
		case key.Matches(msg, d.keys.Logs):
			d.showLogs = !d.showLogs
			return d, nil
		case key.Matches(msg, d.keys.Help):
			d.help.ShowAll = !d.help.ShowAll
			return d, nil
		}
		var cmd tea.Cmd
		d.table, cmd = d.table.Update(msg)
		return d, cmd

	case tea.WindowSizeMsg:
		d.width = msg.Width
		d.help.Width = msg.Width
		d.bar.Width = max(10, min(msg.Width-24, 60))
		return d, nil

	case tickMsg:
		return d, tick()

	case ScenarioStartedMsg:
		v := &saleView{name: msg.Name, saleID: msg.SaleID, threshold: msg.Threshold}
		d.sales = append(d.sales, v)
		d.index[msg.SaleID] = v
		d.refreshRows()
		return d, d.feed.Listen()

	case TradeMsg:
		if v, ok := d.index[msg.SaleID]; ok {
			if msg.Side == "buy" {
				v.buys++
			} else {
				v.sells++
			}
			v.tokensSold = msg.TokensSold
			v.price = msg.Price
			trade := msg
			v.lastTrade = &trade
			d.refreshRows()
		}
		return d, d.feed.Listen()

	case GraduatedMsg:
		if v, ok := d.index[msg.SaleID]; ok {
			v.graduated = true
			v.pair = msg.Pair
			d.refreshRows()
		}
		return d, d.feed.Listen()

	case ScenarioFinishedMsg:
		if v, ok := d.index[msg.Report.SaleID]; ok {
			v.finished = true
			v.failures = msg.Report.Failures
			v.steps = len(msg.Report.Steps)
			v.graduated = msg.Report.State.Graduated
			v.tokensSold = msg.Report.State.TokensSold
			if msg.Report.State.Pair != "" {
				v.pair = msg.Report.State.Pair
			}
			d.refreshRows()
		}
		return d, d.feed.Listen()

	case RunFinishedMsg:
		d.finished = true
		d.err = msg.Err
		return d, nil
	}
	return d, nil
}

func (d *Dashboard) refreshRows() {
	rows := make([]table.Row, 0, len(d.sales))
	for _, v := range d.sales {
		rows = append(rows, table.Row{
			v.name,
			v.status(),
			fmt.Sprint(v.buys),
			fmt.Sprint(v.sells),
			formatAmount(v.tokensSold, 2),
			formatAmount(v.price, 10),
			formatAmount(v.marketCap(), 4),
			fmt.Sprintf("%.1f%%", v.progress()*100),
		})
	}
	d.table.SetRows(rows)
}

// View implements tea.Model.
func (d *Dashboard) View() string {
	var b strings.Builder

	done := 0
	for _, v := range d.sales {
		if v.finished {
			done++
		}
	}
	b.WriteString(style.Title.Render("curvesale"))
	b.WriteString(style.Muted.Render(fmt.Sprintf("  %d/%d scenarios finished", done, len(d.sales))))
	b.WriteString("\n\n")
	b.WriteString(d.table.View())
	b.WriteString("\n")

	if v := d.selected(); v != nil {
		b.WriteString(style.Panel.Render(d.details(v)))
		b.WriteString("\n")
	}

	if d.showLogs && d.logs != nil {
		b.WriteString(style.Panel.Render(d.recentLogs()))
		b.WriteString("\n")
	}

	if d.finished {
		if d.err != nil {
			b.WriteString(style.Error.Render("Run failed: " + d.err.Error()))
		} else {
			b.WriteString(style.Success.Render("Run finished."))
		}
		b.WriteString(style.Muted.Render(" Press q to quit."))
		b.WriteString("\n")
	}
	if d.feed != nil {
		if _, dropped := d.feed.Stats(); dropped > 0 {
			b.WriteString(style.Warning.Render(fmt.Sprintf("%d trade updates dropped", dropped)))
			b.WriteString("\n")
		}
	}

	b.WriteString(d.help.View(d.keys))
	return b.String()
}

func (d *Dashboard) selected() *saleView {
	i := d.table.Cursor()
	if i < 0 || i >= len(d.sales) {
		return nil
	}
	return d.sales[i]
}

func (d *Dashboard) details(v *saleView) string {
	lines := []string{
		style.Selected.Render(v.name) + style.Muted.Render("  sale "+v.saleID),
		fmt.Sprintf("Graduation at %s BNB  %s", formatAmount(v.threshold, 4), d.bar.ViewAs(v.progress())),
	}
	if v.lastTrade != nil {
		color := d.palette.Buy
		if v.lastTrade.Side == "sell" {
			color = d.palette.Sell
		}
		side := lipgloss.NewStyle().Foreground(color).Render(strings.ToUpper(v.lastTrade.Side))
		lines = append(lines, fmt.Sprintf("Last trade: %s %s tokens for %s BNB at %s",
			side,
			formatAmount(v.lastTrade.Tokens, 2),
			formatAmount(v.lastTrade.Bnb, 6),
			v.lastTrade.At.Local().Format("15:04:05.000")))
	}
	if v.graduated && v.pair != "" {
		lines = append(lines, style.Success.Render("Liquidity pair: "+v.pair))
	}
	if v.finished {
		lines = append(lines, fmt.Sprintf("Steps: %d, unexpected outcomes: %d", v.steps, v.failures))
	}
	return strings.Join(lines, "\n")
}

func (d *Dashboard) recentLogs() string {
	entries := d.logs.Recent(logLines)
	if len(entries) == 0 {
		return style.Muted.Render("no log entries")
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		level := e.Level.CapitalString()
		switch {
		case e.Level >= zapcore.ErrorLevel:
			level = style.Error.Render(level)
		case e.Level == zapcore.WarnLevel:
			level = style.Warning.Render(level)
		default:
			level = style.Muted.Render(level)
		}
		lines = append(lines, fmt.Sprintf("%s %s %s %s",
			e.Timestamp.Local().Format("15:04:05"), level, style.Muted.Render(e.Logger), e.Message))
	}
	return strings.Join(lines, "\n")
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func formatAmount(v *uint256.Int, places int32) string {
	if v == nil {
		return "-"
	}
	return curve.ToDecimal(v).StringFixed(places)
}
