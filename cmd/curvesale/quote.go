package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/holiman/uint256"
	"github.com/spf13/cobra"

	"github.com/rovshanmuradov/curvesale/internal/config"
	"github.com/rovshanmuradov/curvesale/internal/curve"
	"github.com/rovshanmuradov/curvesale/internal/types"
)

type quoteOptions struct {
	supply string
	bnb    string
	tokens string
}

func newQuoteCmd(root *rootOptions) *cobra.Command {
	opts := &quoteOptions{}
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Price trades on the configured curve",
		Long: `Quote shows the price and market cap at a given sold supply and, optionally,
what a buy of --bnb or a sell of --tokens would return before and after fees.

Example:
  $ curvesale quote --supply 250000 --bnb 1.5 --tokens 1000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			return runQuote(cmd.OutOrStdout(), cfg.Sale, opts)
		},
	}
	cmd.Flags().StringVar(&opts.supply, "supply", "0", "tokens already sold")
	cmd.Flags().StringVar(&opts.bnb, "bnb", "", "BNB to spend on a buy")
	cmd.Flags().StringVar(&opts.tokens, "tokens", "", "tokens to sell")
	return cmd
}

func runQuote(out io.Writer, sale config.Sale, opts *quoteOptions) error {
	amounts, err := sale.Amounts()
	if err != nil {
		return err
	}
	params := curve.NewParams(amounts.InitialPrice, amounts.PriceIncrement)

	supply, err := curve.ParseUnits(opts.supply)
	if err != nil {
		return fmt.Errorf("invalid --supply: %w", err)
	}
	if supply.Gt(amounts.TotalSupply) {
		return fmt.Errorf("%w: supply %s exceeds total supply %s", types.ErrSupplyExceeded,
			curve.FormatUnits(supply), curve.FormatUnits(amounts.TotalSupply))
	}

	price, err := curve.Price(supply, params)
	if err != nil {
		return err
	}
	marketCap, err := curve.MarketCap(supply, params)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Sold supply\t%s\n", curve.FormatUnits(supply))
	fmt.Fprintf(w, "Price\t%s BNB\n", curve.FormatUnits(price))
	fmt.Fprintf(w, "Market cap\t%s BNB\n", curve.FormatUnits(marketCap))
	fmt.Fprintf(w, "Graduation threshold\t%s BNB\n", curve.FormatUnits(amounts.GraduationThreshold))

	fees := sale.CreatorFeeBps + sale.PlatformFeeBps
	if opts.bnb != "" {
		gross, err := curve.ParseUnits(opts.bnb)
		if err != nil {
			return fmt.Errorf("invalid --bnb: %w", err)
		}
		net := new(uint256.Int).Sub(gross, types.ApplyBps(gross, sale.CreatorFeeBps))
		net.Sub(net, types.ApplyBps(gross, sale.PlatformFeeBps))
		tokens, err := curve.PurchaseReturn(gross, supply, params)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Buy %s BNB\t%s tokens (%s BNB raised after %d bps fees)\n",
			curve.FormatUnits(gross), curve.FormatUnits(tokens), curve.FormatUnits(net), fees)
		if !tokens.IsZero() {
			avg, err := curve.AveragePrice(tokens, supply, params)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "Average buy price\t%s BNB\n", curve.FormatUnits(avg))
		}
	}
	if opts.tokens != "" {
		amount, err := curve.ParseUnits(opts.tokens)
		if err != nil {
			return fmt.Errorf("invalid --tokens: %w", err)
		}
		gross, err := curve.SaleReturn(amount, supply, params)
		if err != nil {
			return err
		}
		net := new(uint256.Int).Sub(gross, types.ApplyBps(gross, sale.CreatorFeeBps))
		net.Sub(net, types.ApplyBps(gross, sale.PlatformFeeBps))
		fmt.Fprintf(w, "Sell %s tokens\t%s BNB (%s BNB after %d bps fees)\n",
			curve.FormatUnits(amount), curve.FormatUnits(gross), curve.FormatUnits(net), fees)
	}
	return w.Flush()
}
