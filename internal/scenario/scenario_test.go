package scenario

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/curvesale/internal/config"
	"github.com/rovshanmuradov/curvesale/internal/curve"
	"github.com/rovshanmuradov/curvesale/internal/events"
	"github.com/rovshanmuradov/curvesale/internal/types"
	"github.com/rovshanmuradov/curvesale/internal/utils/metrics"
)

func defaultSale() config.Sale {
	return config.Sale{
		TotalSupply:         "1000000",
		InitialPrice:        "0.0001",
		PriceIncrement:      "0.000001",
		GraduationThreshold: "10",
		CreatorFeeBps:       100,
		PlatformFeeBps:      100,
		EnableSell:          true,
	}
}

const launchYAML = `
scenarios:
  - name: launch
    wallets:
      creator: "1"
      alice: "50"
      bob: "50"
    vesting:
      supply: "1000"
      schedules:
        - beneficiary: creator
          amount: "1000"
          duration: 100h
          cliff: 10h
    steps:
      - action: buy
        wallet: alice
        amount: "1"
        slippage: {type: bps, value: 50}
      - action: sell
        wallet: alice
        percent: 50
      - action: pause
        wallet: bob
        expect_error: authorization
      - action: pause
      - action: buy
        wallet: bob
        amount: "1"
        expect_error: enforced pause
      - action: unpause
      - action: collect_fees
      - action: release
        wallet: creator
        at: 5h
        expect_error: no tokens to release
      - action: release
        wallet: creator
        at: 50h
      - action: buy
        wallet: bob
        amount: "20"
      - action: buy
        wallet: bob
        amount: "1"
        expect_error: already graduated
`

func TestLoad(t *testing.T) {
	loader := NewLoader(zaptest.NewLogger(t), defaultSale())

	scenarios, err := loader.Load([]byte(launchYAML))
	require.NoError(t, err)
	require.Len(t, scenarios, 1)

	sc := scenarios[0]
	assert.Equal(t, "launch", sc.Name)
	assert.Len(t, sc.Steps, 11)
	assert.Equal(t, curve.MustParseUnits("50").Dec(), sc.Wallets["alice"].Dec())
	assert.Equal(t, uint64(100), sc.Steps[1].Percent)
	assert.Equal(t, types.SlippageBps, sc.Steps[0].Slippage.Type)
	assert.Equal(t, 50*time.Hour, sc.Steps[8].At)
	require.NotNil(t, sc.Vesting)
	assert.Equal(t, 10*time.Hour, sc.Vesting.Schedules[0].Cliff)
}

func TestLoadSkipsInvalidScenarios(t *testing.T) {
	loader := NewLoader(zaptest.NewLogger(t), defaultSale())

	scenarios, err := loader.Load([]byte(`
scenarios:
  - name: ok
    sale: {graduation_threshold: "5", enable_sell: false}
    wallets: {a: "1"}
    steps: [{action: buy, wallet: a, amount: "1"}]
  - name: unknown-wallet
    steps: [{action: buy, wallet: ghost, amount: "1"}]
  - name: unknown-action
    wallets: {a: "1"}
    steps: [{action: stake, wallet: a}]
  - name: release-without-vesting
    wallets: {a: "1"}
    steps: [{action: release, wallet: a}]
  - name: bad-slippage
    wallets: {a: "1"}
    steps: [{action: buy, wallet: a, amount: "1", slippage: {type: bps, value: 20000}}]
  - name: no-steps
`))
	require.NoError(t, err)
	require.Len(t, scenarios, 1)
	assert.Equal(t, "ok", scenarios[0].Name)
	assert.Equal(t, "5", scenarios[0].Sale.GraduationThreshold)
	assert.Equal(t, "0.0001", scenarios[0].Sale.InitialPrice)
	assert.False(t, scenarios[0].Sale.EnableSell)

	_, err = loader.Load([]byte("scenarios: []"))
	assert.Error(t, err)
	_, err = loader.Load([]byte("scenarios: ["))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenarios.yaml")
	require.NoError(t, os.WriteFile(path, []byte(launchYAML), 0o600))

	scenarios, err := NewLoader(zaptest.NewLogger(t), defaultSale()).LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, scenarios, 1)

	_, err = NewLoader(zaptest.NewLogger(t), defaultSale()).LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRunLaunch(t *testing.T) {
	logger := zaptest.NewLogger(t)
	scenarios, err := NewLoader(logger, defaultSale()).Load([]byte(launchYAML))
	require.NoError(t, err)

	collector := metrics.NewCollector()
	runner := NewRunner(logger, WithMetrics(collector), WithEventBus(64, 2))

	report, err := runner.Run(context.Background(), scenarios[0])
	require.NoError(t, err)

	for _, step := range report.Steps {
		assert.True(t, step.OK, "step %d (%s): %s", step.Index, step.Action, step.Err)
	}
	assert.Zero(t, report.Failures)
	assert.NoError(t, Failed([]*Report{report}))

	assert.True(t, report.State.Graduated)
	assert.Equal(t, uint64(types.BasisPoints), report.Progress)
	require.NotNil(t, report.Pool)
	assert.Equal(t, report.State.Pair, report.Pool.ID)

	// Half of the creator's schedule had vested at 50h.
	assert.Equal(t, curve.MustParseUnits("500").Dec(), report.Steps[8].Amount.Dec())

	// Rejected buys never reach the journal.
	assert.Equal(t, 2, report.Summary.BuyCount)
	assert.Equal(t, 1, report.Summary.SellCount)
	assert.Len(t, report.Records, 3)
	assert.Zero(t, report.BusStats.Dropped)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.OperationCounter("buy", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.OperationCounter("buy", string(types.KindState))))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.OperationCounter("pause", string(types.KindAuthorization))))
}

func TestRunAllReportsUnexpectedOutcomes(t *testing.T) {
	logger := zaptest.NewLogger(t)
	scenarios, err := NewLoader(logger, defaultSale()).Load([]byte(`
scenarios:
  - name: first
    wallets: {a: "5"}
    steps:
      - {action: buy, wallet: a, amount: "1"}
  - name: second
    wallets: {a: "5"}
    steps:
      - {action: buy, wallet: a, amount: "1", expect_error: economic}
      - {action: sell, wallet: a, amount: "1000000"}
`))
	require.NoError(t, err)

	reports, err := NewRunner(logger).RunAll(context.Background(), scenarios, 2)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, "first", reports[0].Name)
	assert.Zero(t, reports[0].Failures)
	assert.Equal(t, 2, reports[1].Failures)
	assert.NotEqual(t, reports[0].SaleID, reports[1].SaleID)

	err = Failed(reports)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "second")
}

func TestRunAllHonoursCancellation(t *testing.T) {
	logger := zaptest.NewLogger(t)
	scenarios, err := NewLoader(logger, defaultSale()).Load([]byte(launchYAML))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewRunner(logger).RunAll(ctx, scenarios, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOutcomeMatches(t *testing.T) {
	assert.True(t, outcomeMatches("", nil))
	assert.False(t, outcomeMatches("state", nil))
	assert.False(t, outcomeMatches("", types.ErrPaused))
	assert.True(t, outcomeMatches("state", types.ErrPaused))
	assert.True(t, outcomeMatches("enforced pause", types.ErrPaused))
	assert.False(t, outcomeMatches("economic", types.ErrPaused))
}

type recordingObserver struct {
	mu       sync.Mutex
	started  map[string]string
	finished []string
	seen     map[events.EventType]int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{started: map[string]string{}, seen: map[events.EventType]int{}}
}

func (o *recordingObserver) Handle(_ context.Context, e events.Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen[e.Type()]++
	return nil
}

func (o *recordingObserver) ScenarioStarted(name, saleID string, threshold *uint256.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started[name] = saleID + "/" + curve.FormatUnits(threshold)
}

func (o *recordingObserver) ScenarioFinished(report *Report) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, report.Name)
}

func TestRunnerNotifiesObserver(t *testing.T) {
	scenarios, err := NewLoader(zaptest.NewLogger(t), defaultSale()).Load([]byte(launchYAML))
	require.NoError(t, err)

	obs := newRecordingObserver()
	report, err := NewRunner(zaptest.NewLogger(t), WithObserver(obs)).Run(context.Background(), scenarios[0])
	require.NoError(t, err)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, report.SaleID+"/10", obs.started["launch"])
	assert.Equal(t, []string{"launch"}, obs.finished)
	assert.Equal(t, 2, obs.seen[events.TokensBought])
	assert.Equal(t, 1, obs.seen[events.TokensSold])
	assert.Equal(t, 1, obs.seen[events.GraduatedToDex])
	assert.Equal(t, 1, obs.seen[events.TokensReleased])
}
