// internal/scenario/loader.go
package scenario

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/holiman/uint256"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/rovshanmuradov/curvesale/internal/config"
	"github.com/rovshanmuradov/curvesale/internal/curve"
)

// Loader reads scenario files.
type Loader struct {
	logger   *zap.Logger
	defaults config.Sale
}

// NewLoader creates a loader that fills unspecified sale fields from defaults.
func NewLoader(logger *zap.Logger, defaults config.Sale) *Loader {
	return &Loader{logger: logger, defaults: defaults}
}

// LoadFile reads scenarios from a YAML file. Invalid scenarios are skipped
// with a warning; a file without any valid scenario is an error.
func (l *Loader) LoadFile(path string) ([]*Scenario, error) {
	if filepath.IsAbs(path) {
		l.logger.Debug("Using absolute path for scenario file", zap.String("path", path))
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return l.Load(data)
}

// Load parses scenarios from YAML.
func (l *Loader) Load(data []byte) ([]*Scenario, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(file.Scenarios) == 0 {
		return nil, errors.New("no scenarios found")
	}

	seen := make(map[string]bool)
	scenarios := make([]*Scenario, 0, len(file.Scenarios))
	for i, spec := range file.Scenarios {
		if spec.Name == "" {
			spec.Name = fmt.Sprintf("scenario-%d", i+1)
		}
		if seen[spec.Name] {
			l.logger.Warn("Skipping duplicate scenario", zap.String("scenario", spec.Name))
			continue
		}
		sc, err := l.parse(spec)
		if err != nil {
			l.logger.Warn("Skipping invalid scenario", zap.String("scenario", spec.Name), zap.Error(err))
			continue
		}
		seen[spec.Name] = true
		scenarios = append(scenarios, sc)
	}

	if len(scenarios) == 0 {
		return nil, errors.New("no valid scenarios loaded")
	}
	l.logger.Info("Loaded scenarios", zap.Int("count", len(scenarios)))
	return scenarios, nil
}

func (l *Loader) parse(spec Spec) (*Scenario, error) {
	sc := &Scenario{
		Name:    spec.Name,
		Sale:    mergeSale(l.defaults, spec.Sale),
		Wallets: make(map[string]*uint256.Int, len(spec.Wallets)),
	}
	if _, err := sc.Sale.Amounts(); err != nil {
		return nil, err
	}

	for name, balance := range spec.Wallets {
		v, err := curve.ParseUnits(balance)
		if err != nil {
			return nil, fmt.Errorf("wallet %q: %w", name, err)
		}
		sc.Wallets[name] = v
	}

	if spec.Vesting != nil {
		v, err := sc.parseVesting(spec.Vesting)
		if err != nil {
			return nil, err
		}
		sc.Vesting = v
	}

	if len(spec.Steps) == 0 {
		return nil, errors.New("scenario has no steps")
	}
	for i, st := range spec.Steps {
		step, err := sc.parseStep(st)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		sc.Steps = append(sc.Steps, step)
	}
	return sc, nil
}

func (sc *Scenario) parseVesting(spec *VestingSpec) (*Vesting, error) {
	supply, err := curve.ParseUnits(spec.Supply)
	if err != nil {
		return nil, fmt.Errorf("vesting supply: %w", err)
	}
	v := &Vesting{Supply: supply}
	for _, s := range spec.Schedules {
		if _, ok := sc.Wallets[s.Beneficiary]; !ok {
			return nil, fmt.Errorf("vesting beneficiary %q is not a wallet", s.Beneficiary)
		}
		amount, err := curve.ParseUnits(s.Amount)
		if err != nil {
			return nil, fmt.Errorf("vesting amount for %q: %w", s.Beneficiary, err)
		}
		v.Schedules = append(v.Schedules, Schedule{
			Beneficiary: s.Beneficiary,
			Amount:      amount,
			Start:       s.Start,
			Duration:    s.Duration,
			Cliff:       s.Cliff,
		})
	}
	return v, nil
}

func (sc *Scenario) parseStep(spec StepSpec) (Step, error) {
	step := Step{
		Action:      spec.Action,
		Wallet:      spec.Wallet,
		Percent:     spec.Percent,
		Slippage:    spec.Slippage,
		At:          spec.At,
		ExpectError: spec.ExpectError,
	}
	if err := step.Slippage.Validate(); err != nil {
		return Step{}, err
	}
	if spec.Amount != "" {
		v, err := curve.ParseUnits(spec.Amount)
		if err != nil {
			return Step{}, err
		}
		step.Amount = v
	}
	if step.Wallet != "" {
		if _, ok := sc.Wallets[step.Wallet]; !ok {
			return Step{}, fmt.Errorf("unknown wallet %q", step.Wallet)
		}
	}

	switch step.Action {
	case ActionBuy:
		if step.Wallet == "" || step.Amount == nil {
			return Step{}, errors.New("buy needs a wallet and an amount")
		}
	case ActionSell:
		if step.Wallet == "" {
			return Step{}, errors.New("sell needs a wallet")
		}
		if step.Amount == nil && (step.Percent == 0 || step.Percent > 100) {
			step.Percent = 100
		}
	case ActionRelease:
		if step.Wallet == "" {
			return Step{}, errors.New("release needs a wallet")
		}
	case ActionWithdrawExcess:
		if step.Wallet == "" || step.Amount == nil {
			return Step{}, errors.New("withdraw_excess needs a wallet and an amount")
		}
	case ActionPause, ActionUnpause, ActionCollectFees:
	default:
		return Step{}, fmt.Errorf("unsupported action: %q", step.Action)
	}
	if (step.Action == ActionRelease || step.Action == ActionWithdrawExcess) && sc.Vesting == nil {
		return Step{}, fmt.Errorf("%s needs a vesting block", step.Action)
	}
	return step, nil
}

func mergeSale(base config.Sale, o SaleOverrides) config.Sale {
	out := base
	if o.TotalSupply != nil {
		out.TotalSupply = *o.TotalSupply
	}
	if o.InitialPrice != nil {
		out.InitialPrice = *o.InitialPrice
	}
	if o.PriceIncrement != nil {
		out.PriceIncrement = *o.PriceIncrement
	}
	if o.GraduationThreshold != nil {
		out.GraduationThreshold = *o.GraduationThreshold
	}
	if o.CreatorFeeBps != nil {
		out.CreatorFeeBps = *o.CreatorFeeBps
	}
	if o.PlatformFeeBps != nil {
		out.PlatformFeeBps = *o.PlatformFeeBps
	}
	if o.EnableSell != nil {
		out.EnableSell = *o.EnableSell
	}
	return out
}
