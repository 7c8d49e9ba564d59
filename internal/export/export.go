// internal/export/export.go
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ExportFormat represents the export file format
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
)

// ExportOptions configures the export behavior
type ExportOptions struct {
	Format     ExportFormat
	StartTime  time.Time
	EndTime    time.Time
	SaleFilter string // Filter by sale ID
	SideFilter string // Filter by side (buy/sell)
	OutputDir  string
	// Name overrides the generated file name, without extension.
	Name string
}

// TradeExporter writes trade journals to disk.
type TradeExporter struct {
	logger *zap.Logger
}

// NewTradeExporter creates a new trade exporter
func NewTradeExporter(logger *zap.Logger) *TradeExporter {
	return &TradeExporter{
		logger: logger,
	}
}

// ExportTrades writes the records matching options and returns the file path.
func (te *TradeExporter) ExportTrades(records []Record, options ExportOptions) (string, error) {
	filtered := te.filterRecords(records, options)
	if len(filtered) == 0 {
		return "", fmt.Errorf("no trades match the export criteria")
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Timestamp.Before(filtered[j].Timestamp)
	})

	outputPath := filepath.Join(options.OutputDir, te.generateFilename(options))
	if err := os.MkdirAll(options.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	var err error
	switch options.Format {
	case FormatCSV:
		err = te.exportToCSV(filtered, outputPath)
	case FormatJSON:
		err = te.exportToJSON(filtered, outputPath)
	default:
		err = fmt.Errorf("unsupported format: %s", options.Format)
	}
	if err != nil {
		return "", err
	}

	te.logger.Info("Trades exported",
		zap.String("file", outputPath),
		zap.Int("count", len(filtered)),
		zap.String("format", string(options.Format)))

	return outputPath, nil
}

func (te *TradeExporter) filterRecords(records []Record, options ExportOptions) []Record {
	var filtered []Record
	for _, r := range records {
		if !options.StartTime.IsZero() && r.Timestamp.Before(options.StartTime) {
			continue
		}
		if !options.EndTime.IsZero() && r.Timestamp.After(options.EndTime) {
			continue
		}
		if options.SaleFilter != "" && r.SaleID != options.SaleFilter {
			continue
		}
		if options.SideFilter != "" && r.Side != options.SideFilter {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered
}

func (te *TradeExporter) generateFilename(options ExportOptions) string {
	if options.Name != "" {
		return fmt.Sprintf("%s.%s", options.Name, options.Format)
	}

	prefix := "trades_all"
	if options.SideFilter != "" {
		prefix = "trades_" + options.SideFilter
	}
	if options.SaleFilter != "" {
		id := options.SaleFilter
		if len(id) > 8 {
			id = id[:8]
		}
		prefix += "_" + id
	}
	return fmt.Sprintf("%s_%s.%s", prefix, time.Now().Format("20060102_150405"), options.Format)
}

func (te *TradeExporter) exportToCSV(records []Record, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(CSVHeaders()); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, r := range records {
		if err := writer.Write(r.ToCSV()); err != nil {
			return fmt.Errorf("failed to write trade: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func (te *TradeExporter) exportToJSON(records []Record, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create JSON file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")

	exportData := struct {
		ExportTime time.Time     `json:"export_time"`
		TradeCount int           `json:"trade_count"`
		Trades     []Record      `json:"trades"`
		Summary    ExportSummary `json:"summary"`
	}{
		ExportTime: time.Now(),
		TradeCount: len(records),
		Trades:     records,
		Summary:    Summarize(records),
	}

	if err := encoder.Encode(exportData); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// ExportSummary aggregates a set of trades.
type ExportSummary struct {
	TotalTrades     int             `json:"total_trades"`
	BuyCount        int             `json:"buy_count"`
	SellCount       int             `json:"sell_count"`
	UniqueSales     int             `json:"unique_sales"`
	UniqueTraders   int             `json:"unique_traders"`
	TotalBuyVolume  decimal.Decimal `json:"total_buy_volume"`
	TotalSellVolume decimal.Decimal `json:"total_sell_volume"`
	TokensBought    decimal.Decimal `json:"tokens_bought"`
	TokensReturned  decimal.Decimal `json:"tokens_returned"`
	CreatorFees     decimal.Decimal `json:"creator_fees"`
	PlatformFees    decimal.Decimal `json:"platform_fees"`
	// AvgBuyPrice is BNB paid per token bought, fees included.
	AvgBuyPrice decimal.Decimal `json:"avg_buy_price"`
	LastPrice   decimal.Decimal `json:"last_price"`
	StartDate   time.Time       `json:"start_date"`
	EndDate     time.Time       `json:"end_date"`
}

// Summarize computes summary statistics over records in any order.
func Summarize(records []Record) ExportSummary {
	summary := ExportSummary{TotalTrades: len(records)}
	if len(records) == 0 {
		return summary
	}

	summary.StartDate = records[0].Timestamp
	sales := make(map[string]bool)
	traders := make(map[string]bool)
	for _, r := range records {
		if r.Timestamp.Before(summary.StartDate) {
			summary.StartDate = r.Timestamp
		}
		if !r.Timestamp.Before(summary.EndDate) {
			summary.EndDate = r.Timestamp
			summary.LastPrice = r.Price
		}
		sales[r.SaleID] = true
		traders[r.Trader] = true
		summary.CreatorFees = summary.CreatorFees.Add(r.CreatorFee)
		summary.PlatformFees = summary.PlatformFees.Add(r.PlatformFee)

		switch r.Side {
		case "buy":
			summary.BuyCount++
			summary.TotalBuyVolume = summary.TotalBuyVolume.Add(r.Bnb)
			summary.TokensBought = summary.TokensBought.Add(r.Tokens)
		case "sell":
			summary.SellCount++
			summary.TotalSellVolume = summary.TotalSellVolume.Add(r.Bnb)
			summary.TokensReturned = summary.TokensReturned.Add(r.Tokens)
		}
	}

	summary.UniqueSales = len(sales)
	summary.UniqueTraders = len(traders)
	if summary.TokensBought.IsPositive() {
		summary.AvgBuyPrice = summary.TotalBuyVolume.DivRound(summary.TokensBought, 18)
	}
	return summary
}
