// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/spf13/viper"

	"github.com/rovshanmuradov/curvesale/internal/curve"
	"github.com/rovshanmuradov/curvesale/internal/types"
)

// EnvPrefix prefixes every environment override, e.g. CURVESALE_WORKERS or
// CURVESALE_SALE_INITIAL_PRICE.
const EnvPrefix = "CURVESALE"

type Config struct {
	DebugLogging     bool   `mapstructure:"debug_logging"`
	LogFile          string `mapstructure:"log_file"`
	Workers          int    `mapstructure:"workers"`
	EventBuffer      int    `mapstructure:"event_buffer"`
	DeliveryAttempts uint   `mapstructure:"delivery_attempts"`
	ExportDir        string `mapstructure:"export_dir"`
	ExportFormat     string `mapstructure:"export_format"`
	MetricsAddr      string `mapstructure:"metrics_addr"`
	Sale             Sale   `mapstructure:"sale"`
}

// Sale holds the default launch parameters. Amounts are decimal strings in
// whole units.
type Sale struct {
	TotalSupply         string `mapstructure:"total_supply"`
	InitialPrice        string `mapstructure:"initial_price"`
	PriceIncrement      string `mapstructure:"price_increment"`
	GraduationThreshold string `mapstructure:"graduation_threshold"`
	CreatorFeeBps       uint64 `mapstructure:"creator_fee_bps"`
	PlatformFeeBps      uint64 `mapstructure:"platform_fee_bps"`
	EnableSell          bool   `mapstructure:"enable_sell"`
}

// SaleAmounts is Sale with its amounts parsed to 18-decimal fixed point.
type SaleAmounts struct {
	TotalSupply         *uint256.Int
	InitialPrice        *uint256.Int
	PriceIncrement      *uint256.Int
	GraduationThreshold *uint256.Int
}

const (
	DefaultWorkers          = 4
	DefaultEventBuffer      = 1024
	DefaultDeliveryAttempts = 3
)

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"debug_logging":             false,
		"log_file":                  "curvesale.log",
		"workers":                   DefaultWorkers,
		"event_buffer":              DefaultEventBuffer,
		"delivery_attempts":         DefaultDeliveryAttempts,
		"export_dir":                "exports",
		"export_format":             "csv",
		"metrics_addr":              "",
		"sale.total_supply":         "1000000000",
		"sale.initial_price":        "0.00000001",
		"sale.price_increment":      "0.0000000001",
		"sale.graduation_threshold": "69",
		"sale.creator_fee_bps":      100,
		"sale.platform_fee_bps":     100,
		"sale.enable_sell":          true,
	}
}

// LoadConfig reads path, applies defaults and environment overrides and
// validates the result. An empty path loads defaults and environment only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}
	bindEnvironment(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return &cfg, validateConfig(&cfg)
}

func bindEnvironment(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func validateConfig(cfg *Config) error {
	if cfg.Workers <= 0 {
		return errors.New("invalid workers count")
	}
	if cfg.EventBuffer <= 0 {
		return errors.New("invalid event_buffer")
	}
	if cfg.DeliveryAttempts == 0 {
		return errors.New("invalid delivery_attempts")
	}
	switch cfg.ExportFormat {
	case "csv", "json":
	default:
		return fmt.Errorf("unsupported export_format %q", cfg.ExportFormat)
	}
	fees := cfg.Sale
	if fees.CreatorFeeBps > types.BasisPoints || fees.PlatformFeeBps > types.BasisPoints ||
		fees.CreatorFeeBps+fees.PlatformFeeBps >= types.BasisPoints {
		return errors.New("sale fees must leave something to raise")
	}
	if _, err := cfg.Sale.Amounts(); err != nil {
		return err
	}
	return nil
}

// Amounts parses the decimal amounts of the sale block.
func (s Sale) Amounts() (SaleAmounts, error) {
	var out SaleAmounts
	fields := []struct {
		name string
		raw  string
		dst  **uint256.Int
	}{
		{"sale.total_supply", s.TotalSupply, &out.TotalSupply},
		{"sale.initial_price", s.InitialPrice, &out.InitialPrice},
		{"sale.price_increment", s.PriceIncrement, &out.PriceIncrement},
		{"sale.graduation_threshold", s.GraduationThreshold, &out.GraduationThreshold},
	}
	for _, f := range fields {
		v, err := curve.ParseUnits(f.raw)
		if err != nil {
			return SaleAmounts{}, fmt.Errorf("invalid %s: %w", f.name, err)
		}
		*f.dst = v
	}
	return out, nil
}
