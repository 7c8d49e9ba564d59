// internal/scenario/runner.go
package scenario

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/curvesale/internal/custody"
	"github.com/rovshanmuradov/curvesale/internal/events"
	"github.com/rovshanmuradov/curvesale/internal/export"
	"github.com/rovshanmuradov/curvesale/internal/liquidity"
	"github.com/rovshanmuradov/curvesale/internal/sale"
	"github.com/rovshanmuradov/curvesale/internal/types"
	"github.com/rovshanmuradov/curvesale/internal/utils/metrics"
	"github.com/rovshanmuradov/curvesale/internal/vesting"
)

// creatorWallet, when declared, is used as the sale creator.
const creatorWallet = "creator"

// StepResult is the outcome of one step.
type StepResult struct {
	Index  int    `json:"index"`
	Action Action `json:"action"`
	Wallet string `json:"wallet,omitempty"`
	// Amount is what the step moved: tokens bought, BNB received, fees
	// collected or tokens released.
	Amount *uint256.Int `json:"amount,omitempty"`
	Err    string       `json:"error,omitempty"`
	// OK is false when the step failed unexpectedly or an expected failure
	// did not happen.
	OK bool `json:"ok"`
}

// Report summarizes a finished scenario.
type Report struct {
	Name      string               `json:"name"`
	SaleID    string               `json:"sale_id"`
	Token     string               `json:"token"`
	Steps     []StepResult         `json:"steps"`
	Failures  int                  `json:"failures"`
	State     sale.State           `json:"state"`
	Progress  uint64               `json:"progress_bps"`
	Pool      *liquidity.Pool      `json:"pool,omitempty"`
	Records   []export.Record      `json:"records"`
	Summary   export.ExportSummary `json:"summary"`
	BusStats  events.Stats         `json:"bus_stats"`
	Wallets   map[string]string    `json:"wallets"`
	StartedAt time.Time            `json:"started_at"`
	Duration  time.Duration        `json:"duration"`
}

// Runner executes scenarios against fresh in-memory engines.
type Runner struct {
	logger           *zap.Logger
	metrics          *metrics.Collector
	observer         Observer
	eventBuffer      int
	deliveryAttempts uint
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithMetrics feeds every scenario's events and operations into c.
func WithMetrics(c *metrics.Collector) RunnerOption {
	return func(r *Runner) { r.metrics = c }
}

// Observer follows scenarios while they run. Events reach it through each
// scenario's bus, after ScenarioStarted and before ScenarioFinished.
type Observer interface {
	events.Handler
	ScenarioStarted(name, saleID string, threshold *uint256.Int)
	ScenarioFinished(report *Report)
}

// WithObserver attaches o to every scenario.
func WithObserver(o Observer) RunnerOption {
	return func(r *Runner) { r.observer = o }
}

// WithEventBus sizes the per-scenario event bus.
func WithEventBus(buffer int, attempts uint) RunnerOption {
	return func(r *Runner) {
		if buffer > 0 {
			r.eventBuffer = buffer
		}
		r.deliveryAttempts = attempts
	}
}

// NewRunner creates a runner.
func NewRunner(logger *zap.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		logger:           logger.Named("scenario"),
		eventBuffer:      256,
		deliveryAttempts: events.DefaultDeliveryAttempts,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunAll runs scenarios concurrently, at most workers at a time, and
// returns their reports in input order.
func (r *Runner) RunAll(ctx context.Context, scenarios []*Scenario, workers int) ([]*Report, error) {
	reports := make([]*Report, len(scenarios))
	g, gCtx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, sc := range scenarios {
		g.Go(func() error {
			report, err := r.Run(gCtx, sc)
			if err != nil {
				return fmt.Errorf("scenario %q: %w", sc.Name, err)
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

// env is the world a single scenario runs in.
type env struct {
	ledger   *custody.Ledger
	router   *liquidity.Router
	sale     *sale.Sale
	vesting  *vesting.Engine
	admin    types.Address
	wallets  map[string]types.Address
	start    time.Time
	logger   *zap.Logger
	recorder func(op string, d time.Duration, err error)
}

// Run executes one scenario. Step failures are part of the report; an error
// is returned only when the scenario could not be set up.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Report, error) {
	started := time.Now()
	logger := r.logger.With(zap.String("scenario", sc.Name))

	bus := events.NewBus(logger, r.eventBuffer, events.WithDeliveryAttempts(r.deliveryAttempts))
	defer func() {
		if err := bus.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Event bus shutdown incomplete", zap.Error(err))
		}
	}()
	journal := export.NewJournal()
	journal.Attach(bus)
	if r.metrics != nil {
		r.metrics.Attach(bus)
	}

	if r.observer != nil {
		bus.SubscribeAll(r.observer, events.AllTypes()...)
	}

	e, err := r.setup(ctx, sc, bus, started, logger)
	if err != nil {
		return nil, err
	}
	if r.observer != nil {
		cfg, err := e.sale.Config()
		if err != nil {
			return nil, err
		}
		r.observer.ScenarioStarted(sc.Name, e.sale.ID(), cfg.GraduationThreshold)
	}

	report := &Report{
		Name:      sc.Name,
		SaleID:    e.sale.ID(),
		Token:     string(e.sale.Token()),
		Wallets:   make(map[string]string, len(e.wallets)),
		StartedAt: started,
	}
	for name, addr := range e.wallets {
		report.Wallets[name] = addr.String()
	}

	for i, step := range sc.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		begin := time.Now()
		amount, stepErr := e.execute(ctx, step)
		e.recorder(string(step.Action), time.Since(begin), stepErr)

		result := StepResult{Index: i + 1, Action: step.Action, Wallet: step.Wallet, Amount: amount}
		if stepErr != nil {
			result.Err = stepErr.Error()
		}
		result.OK = outcomeMatches(step.ExpectError, stepErr)
		if !result.OK {
			report.Failures++
			logger.Warn("Step did not go as expected",
				zap.Int("step", i+1),
				zap.String("action", string(step.Action)),
				zap.String("expect_error", step.ExpectError),
				zap.Error(stepErr))
		}
		report.Steps = append(report.Steps, result)
	}

	if err := bus.Flush(ctx); err != nil {
		logger.Warn("Event bus did not drain", zap.Error(err))
	}

	report.State = e.sale.State()
	if report.Progress, err = e.sale.Progress(); err != nil {
		return nil, err
	}
	if pool, ok := e.router.Pool(e.sale.Token()); ok {
		report.Pool = &pool
	}
	report.Records = journal.Records()
	sort.SliceStable(report.Records, func(i, j int) bool {
		return report.Records[i].Timestamp.Before(report.Records[j].Timestamp)
	})
	report.Summary = export.Summarize(report.Records)
	report.BusStats = bus.Stats()
	report.Duration = time.Since(started)

	if r.observer != nil {
		r.observer.ScenarioFinished(report)
	}

	logger.Info("Scenario finished",
		zap.Int("steps", len(report.Steps)),
		zap.Int("failures", report.Failures),
		zap.Bool("graduated", report.State.Graduated),
		zap.Duration("duration", report.Duration))
	return report, nil
}

// setup builds the engines. Vesting schedules and release times are offsets
// from start.
func (r *Runner) setup(ctx context.Context, sc *Scenario, bus *events.Bus, start time.Time, logger *zap.Logger) (*env, error) {
	ledger := custody.NewLedger(logger)
	router := liquidity.NewRouter(ledger, logger)
	e := &env{
		ledger:   ledger,
		router:   router,
		admin:    types.NewAddress(),
		wallets:  make(map[string]types.Address, len(sc.Wallets)),
		start:    start,
		logger:   logger,
		recorder: func(string, time.Duration, error) {},
	}
	if r.metrics != nil {
		e.recorder = r.metrics.RecordOperation
	}

	for name, balance := range sc.Wallets {
		addr := types.NewAddress()
		if err := ledger.Mint(custody.Native, addr, balance); err != nil {
			return nil, fmt.Errorf("failed to fund wallet %q: %w", name, err)
		}
		e.wallets[name] = addr
	}
	creator, ok := e.wallets[creatorWallet]
	if !ok {
		creator = types.NewAddress()
	}

	amounts, err := sc.Sale.Amounts()
	if err != nil {
		return nil, err
	}
	factory := sale.NewFactory(ledger, router, bus, e.admin, types.NewAddress(), logger)
	e.sale, err = factory.Create(ctx, sale.Config{
		Creator:             creator,
		TotalSupply:         amounts.TotalSupply,
		InitialPrice:        amounts.InitialPrice,
		PriceIncrement:      amounts.PriceIncrement,
		GraduationThreshold: amounts.GraduationThreshold,
		CreatorFeeBps:       sc.Sale.CreatorFeeBps,
		PlatformFeeBps:      sc.Sale.PlatformFeeBps,
		EnableSell:          sc.Sale.EnableSell,
	})
	if err != nil {
		return nil, err
	}

	if sc.Vesting != nil {
		e.vesting = vesting.New(e.sale.Token(), vesting.Options{
			Admin:   e.admin,
			Custody: ledger,
			Events:  bus,
			Logger:  logger,
			Clock:   func() time.Time { return start },
		})
		if err := ledger.Mint(e.sale.Token(), e.vesting.Account(), sc.Vesting.Supply); err != nil {
			return nil, fmt.Errorf("failed to fund vesting: %w", err)
		}
		for _, s := range sc.Vesting.Schedules {
			err := e.vesting.AddSchedule(ctx, e.admin, e.wallets[s.Beneficiary], s.Amount,
				start.Add(s.Start), s.Duration, s.Cliff)
			if err != nil {
				return nil, fmt.Errorf("failed to add schedule for %q: %w", s.Beneficiary, err)
			}
		}
	}
	return e, nil
}

func (e *env) execute(ctx context.Context, step Step) (*uint256.Int, error) {
	wallet := e.wallets[step.Wallet]

	switch step.Action {
	case ActionBuy:
		quote, err := e.sale.QuoteBuy(step.Amount)
		if err != nil {
			return nil, err
		}
		minOut := types.MinAmountOut(quote.TokensOut, step.Slippage)
		trade, err := e.sale.Buy(ctx, wallet, step.Amount, minOut)
		if err != nil {
			return nil, err
		}
		return trade.TokenAmount, nil

	case ActionSell:
		amount := step.Amount
		if amount == nil {
			held := e.sale.HoldingOf(wallet)
			amount = held.Mul(held, uint256.NewInt(step.Percent))
			amount.Div(amount, uint256.NewInt(100))
		}
		quote, err := e.sale.QuoteSell(amount)
		if err != nil {
			return nil, err
		}
		trade, err := e.sale.Sell(ctx, wallet, amount, types.MinAmountOut(quote.Net, step.Slippage))
		if err != nil {
			return nil, err
		}
		return trade.BnbAmount, nil

	case ActionPause, ActionUnpause:
		caller := e.admin
		if step.Wallet != "" {
			caller = wallet
		}
		if step.Action == ActionPause {
			return nil, e.sale.Pause(ctx, caller)
		}
		return nil, e.sale.Unpause(ctx, caller)

	case ActionCollectFees:
		creator, err := e.sale.CollectCreatorFees(ctx)
		if err != nil {
			return nil, err
		}
		platform, err := e.sale.CollectPlatformFees(ctx)
		if err != nil {
			return creator, err
		}
		return new(uint256.Int).Add(creator, platform), nil

	case ActionRelease:
		return e.vesting.Release(ctx, wallet, e.start.Add(step.At))

	case ActionWithdrawExcess:
		return step.Amount, e.vesting.WithdrawExcess(ctx, e.admin, wallet, step.Amount)
	}
	return nil, fmt.Errorf("unsupported action: %q", step.Action)
}

// outcomeMatches reports whether err is what the step expected. An
// expectation names an error kind or a fragment of the error message.
func outcomeMatches(expect string, err error) bool {
	switch {
	case expect == "" && err == nil:
		return true
	case expect == "" || err == nil:
		return false
	case string(types.KindOf(err)) == expect:
		return true
	default:
		return strings.Contains(err.Error(), expect)
	}
}

// Failed reports whether any report has unexpected step outcomes.
func Failed(reports []*Report) error {
	var errs []error
	for _, r := range reports {
		if r.Failures > 0 {
			errs = append(errs, fmt.Errorf("scenario %q: %d unexpected step outcomes", r.Name, r.Failures))
		}
	}
	return errors.Join(errs...)
}
