package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/curvesale/internal/config"
	"github.com/rovshanmuradov/curvesale/internal/types"
	"github.com/rovshanmuradov/curvesale/internal/utils/logger"
)

func testSale() config.Sale {
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

func TestRunQuote(t *testing.T) {
	var out bytes.Buffer
	err := runQuote(&out, testSale(), &quoteOptions{supply: "1000", bnb: "1", tokens: "100"})
	require.NoError(t, err)

	got := out.String()
	assert.Contains(t, got, "0.0011 BNB")
	assert.Contains(t, got, "1.1 BNB")
	assert.Contains(t, got, "10 BNB")
	assert.Contains(t, got, "Buy 1 BNB")
	assert.Contains(t, got, "(0.98 BNB raised after 200 bps fees)")
	assert.Contains(t, got, "Average buy price")
	assert.Contains(t, got, "0.105 BNB (0.1029 BNB after 200 bps fees)")
}

func TestRunQuoteRejectsOversizedSupply(t *testing.T) {
	err := runQuote(&bytes.Buffer{}, testSale(), &quoteOptions{supply: "2000000"})
	assert.ErrorIs(t, err, types.ErrSupplyExceeded)

	err = runQuote(&bytes.Buffer{}, testSale(), &quoteOptions{supply: "abc"})
	assert.Error(t, err)
}

const smokeYAML = `
scenarios:
  - name: smoke
    wallets: {alice: "10"}
    steps:
      - {action: buy, wallet: alice, amount: "1"}
      - {action: sell, wallet: alice, percent: 50}
`

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Workers:          2,
		EventBuffer:      64,
		DeliveryAttempts: 1,
		ExportDir:        t.TempDir(),
		ExportFormat:     "csv",
		Sale:             testSale(),
	}
}

func testLogger(t *testing.T) *logger.Logger {
	log, err := logger.New(&logger.Config{Quiet: true})
	require.NoError(t, err)
	return log
}

func TestRunSimulate(t *testing.T) {
	dir := t.TempDir()
	scenarios := filepath.Join(dir, "scenarios.yaml")
	require.NoError(t, os.WriteFile(scenarios, []byte(smokeYAML), 0o600))
	reportPath := filepath.Join(dir, "report.json")

	cfg := testConfig(t)
	var out bytes.Buffer
	err := runSimulate(context.Background(), &out, cfg, testLogger(t), []string{scenarios},
		&simulateOptions{reportPath: reportPath})
	require.NoError(t, err)

	assert.Contains(t, out.String(), "smoke")
	assert.Contains(t, out.String(), "Journal for smoke written to")

	exported, err := filepath.Glob(filepath.Join(cfg.ExportDir, "smoke_*.csv"))
	require.NoError(t, err)
	assert.Len(t, exported, 1)

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var reports []map[string]any
	require.NoError(t, json.Unmarshal(data, &reports))
	require.Len(t, reports, 1)
	assert.Equal(t, "smoke", reports[0]["name"])
	assert.EqualValues(t, 0, reports[0]["failures"])
}

func TestRunSimulateReportsUnexpectedOutcomes(t *testing.T) {
	scenarios := filepath.Join(t.TempDir(), "scenarios.yaml")
	require.NoError(t, os.WriteFile(scenarios, []byte(`
scenarios:
  - name: wrong-expectation
    wallets: {alice: "10"}
    steps:
      - {action: buy, wallet: alice, amount: "1", expect_error: paused}
`), 0o600))

	var out bytes.Buffer
	err := runSimulate(context.Background(), &out, testConfig(t), testLogger(t), []string{scenarios},
		&simulateOptions{noExport: true})
	require.Error(t, err)
	assert.Contains(t, out.String(), "wrong-expectation step 1 (buy): unexpected outcome: no error")
}

func TestRunSimulateMissingFile(t *testing.T) {
	err := runSimulate(context.Background(), &bytes.Buffer{}, testConfig(t), testLogger(t),
		[]string{filepath.Join(t.TempDir(), "missing.yaml")}, &simulateOptions{})
	assert.Error(t, err)
}

func TestRootCommandWiring(t *testing.T) {
	cmd := newRootCmd()
	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["quote"])
	assert.True(t, names["simulate"])
	assert.True(t, names["watch"])

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"quote", "--supply", "0"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Graduation threshold")
}
