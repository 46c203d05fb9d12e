package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/brojonat/basketswap/client"
	"github.com/brojonat/basketswap/service/basket"
	"github.com/brojonat/basketswap/service/catalog"
	"github.com/urfave/cli/v2"
)

func loadCatalog(c *cli.Context) (*catalog.Catalog, error) {
	cat, err := catalog.Load(c.String("catalog"))
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	return cat, nil
}

func listBasketsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List baskets in the catalog",
		Action: func(c *cli.Context) error {
			cat, err := loadCatalog(c)
			if err != nil {
				return err
			}
			baskets := cat.List()

			if c.Bool("json") {
				return outputJSON(baskets)
			}

			if len(baskets) == 0 {
				fmt.Println("No baskets in catalog")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tALLOCATIONS\tTOTAL WEIGHT")
			for _, b := range baskets {
				fmt.Fprintf(w, "%s\t%s\t%d\t%g\n", b.ID, b.Name, len(b.Allocations), b.TotalWeight())
			}
			w.Flush()

			fmt.Printf("\nTotal: %d basket(s)\n", len(baskets))
			return nil
		},
	}
}

func showBasketCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show one basket's allocations",
		ArgsUsage: "BASKET_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("basket id is required")
			}
			cat, err := loadCatalog(c)
			if err != nil {
				return err
			}
			b, err := cat.Get(c.Args().Get(0))
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(b)
			}

			fmt.Printf("%s (%s)\n", b.Name, b.ID)
			if b.Description != "" {
				fmt.Printf("  %s\n", b.Description)
			}
			fmt.Println()
			printAllocations(b.Allocations)
			return nil
		},
	}
}

func printAllocations(allocs []basket.Allocation) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tWEIGHT\tDECIMALS\tMINT")
	for _, a := range allocs {
		fmt.Fprintf(w, "%s\t%g\t%d\t%s\n", a.Symbol, a.Weight, a.Decimals, a.Mint)
	}
	w.Flush()
}

func previewCommand() *cli.Command {
	return &cli.Command{
		Name:      "preview",
		Usage:     "Price a basket deposit without executing it",
		ArgsUsage: "BASKET_ID AMOUNT",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "weight",
				Aliases: []string{"w"},
				Usage:   "Override an allocation weight as SYMBOL=WEIGHT (repeatable)",
			},
			&cli.IntFlag{
				Name:  "slippage-bps",
				Usage: "Slippage tolerance in basis points (server default when unset)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return fmt.Errorf("basket id and amount are required")
			}
			amount, err := parsePositive("amount", c.Args().Get(1))
			if err != nil {
				return err
			}
			weights, err := parseWeights(c.StringSlice("weight"))
			if err != nil {
				return err
			}

			cl := client.NewClient(c.String("server-url"), nil, newLogger(false))
			preview, err := cl.Preview(context.Background(), c.Args().Get(0), client.PreviewRequest{
				Amount:      amount,
				SlippageBps: c.Int("slippage-bps"),
				Weights:     weights,
			})
			if err != nil {
				return fmt.Errorf("failed to preview basket: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(preview)
			}
			printPreview(preview)
			return nil
		},
	}
}

func printPreview(p *basket.SwapPreview) {
	fmt.Printf("Deposit:  %s %s\n", p.GrossAmount, p.InputSymbol)
	fmt.Printf("Fee:      %s %s\n", p.TotalFeeAmount, p.InputSymbol)
	fmt.Printf("Net:      %s %s\n\n", p.NetInputAmount, p.InputSymbol)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tWEIGHT\tINPUT (RAW)\tEST. OUTPUT (RAW)\tIMPACT %")
	for _, a := range p.Allocations {
		if a.Passthrough {
			fmt.Fprintf(w, "%s\t%g\t%d\t%d\t-\n", a.Symbol, a.Weight, a.InputAmount, a.EstimatedOutput)
			continue
		}
		fmt.Fprintf(w, "%s\t%g\t%d\t%d\t%.4f\n", a.Symbol, a.Weight, a.InputAmount, a.EstimatedOutput, a.PriceImpactPct)
	}
	w.Flush()
}
