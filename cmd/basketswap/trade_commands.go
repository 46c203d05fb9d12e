package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/brojonat/basketswap/service/basket"
	"github.com/brojonat/basketswap/service/config"
	"github.com/brojonat/basketswap/service/relay"
	"github.com/brojonat/basketswap/service/router"
	"github.com/brojonat/basketswap/service/solana"
	"github.com/urfave/cli/v2"
)

func tradeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "keypair",
			Aliases:  []string{"k"},
			Usage:    "Path to the owner's JSON keypair file",
			EnvVars:  []string{"SIGNER_KEYPAIR_PATH"},
			Required: true,
		},
		&cli.StringFlag{
			Name:  "order-id",
			Usage: "Order id (generated when empty)",
		},
		&cli.IntFlag{
			Name:  "slippage-bps",
			Usage: "Slippage tolerance in basis points (SLIPPAGE_BPS when unset)",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Log engine progress to stderr",
		},
	}
}

// localEngine builds an engine from the environment, the same way the worker does.
func localEngine(logger *slog.Logger) (*basket.Engine, error) {
	cfg, err := config.LoadEngine()
	if err != nil {
		return nil, err
	}
	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return nil, err
	}
	return basket.NewEngine(
		engineCfg,
		router.NewClient(cfg.RouterURL, logger,
			router.WithAPIKey(cfg.RouterAPIKey),
			router.WithRateLimitBackoff(cfg.RouterRateLimitBackoff),
		),
		solana.NewClient(solana.NewRPCClient(cfg.SolanaRPCURL), nil, logger),
		relay.NewClient(cfg.BundleRelayURLs, logger),
		nil,
		logger,
	), nil
}

func buyCommand() *cli.Command {
	return &cli.Command{
		Name:      "buy",
		Usage:     "Buy a basket with the input asset, signing locally",
		ArgsUsage: "BASKET_ID AMOUNT",
		Flags: append(tradeFlags(), &cli.StringSliceFlag{
			Name:    "weight",
			Aliases: []string{"w"},
			Usage:   "Override an allocation weight as SYMBOL=WEIGHT (repeatable)",
		}),
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

			return runTrade(c, func(ctx context.Context, e *basket.Engine, s *solana.KeypairSigner, allocs []basket.Allocation) *basket.ExecutionResult {
				return e.ExecuteBasketBuy(ctx, basket.BuyRequest{
					OrderID:     c.String("order-id"),
					Owner:       s.PublicKey(),
					Signer:      s,
					Allocations: allocs,
					Amount:      amount,
					Weights:     weights,
					SlippageBps: c.Int("slippage-bps"),
				})
			})
		},
	}
}

func sellCommand() *cli.Command {
	return &cli.Command{
		Name:      "sell",
		Usage:     "Sell a percentage of each basket holding back to the input asset",
		ArgsUsage: "BASKET_ID PERCENT",
		Flags:     tradeFlags(),
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return fmt.Errorf("basket id and percent are required")
			}
			percent, err := parsePositive("percent", c.Args().Get(1))
			if err != nil {
				return err
			}
			if percent > 100 {
				return fmt.Errorf("percent must be at most 100, got %v", percent)
			}

			return runTrade(c, func(ctx context.Context, e *basket.Engine, s *solana.KeypairSigner, allocs []basket.Allocation) *basket.ExecutionResult {
				return e.ExecuteBasketSell(ctx, basket.SellRequest{
					OrderID:     c.String("order-id"),
					Owner:       s.PublicKey(),
					Signer:      s,
					Allocations: allocs,
					Percent:     percent,
					SlippageBps: c.Int("slippage-bps"),
				})
			})
		},
	}
}

type tradeFunc func(ctx context.Context, e *basket.Engine, s *solana.KeypairSigner, allocs []basket.Allocation) *basket.ExecutionResult

func runTrade(c *cli.Context, trade tradeFunc) error {
	logger := newLogger(c.Bool("verbose"))

	cat, err := loadCatalog(c)
	if err != nil {
		return err
	}
	b, err := cat.Get(c.Args().Get(0))
	if err != nil {
		return err
	}

	signer, err := solana.LoadKeypairSigner(c.String("keypair"), logger)
	if err != nil {
		return fmt.Errorf("failed to load keypair: %w", err)
	}
	engine, err := localEngine(logger)
	if err != nil {
		return err
	}

	// Interrupting cancels the order before submission; landed legs stay landed.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if !c.Bool("json") {
		fmt.Fprintf(os.Stderr, "Executing %s for %s...\n", b.ID, signer.PublicKey())
	}
	res := trade(ctx, engine, signer, b.Allocations)

	if c.Bool("json") {
		if err := outputJSON(res); err != nil {
			return err
		}
	} else {
		printResult(res)
	}

	if !res.Success {
		return cli.Exit(fmt.Sprintf("order %s %s", res.OrderID, res.Outcome), 1)
	}
	return nil
}

func printResult(res *basket.ExecutionResult) {
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	switch res.Outcome {
	case basket.OutcomeSucceeded:
		fmt.Println("✓ Order Succeeded")
	case basket.OutcomeCancelled:
		fmt.Println("✗ Order Cancelled")
	default:
		fmt.Println("✗ Order Failed")
	}
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("Order ID:    %s\n", res.OrderID)
	fmt.Printf("Side:        %s\n", res.Side)
	if res.Path != "" {
		fmt.Printf("Path:        %s\n", res.Path)
	}
	if res.BundleID != "" {
		fmt.Printf("Bundle ID:   %s\n", res.BundleID)
	}
	if res.Slot != 0 {
		fmt.Printf("Slot:        %d\n", res.Slot)
	}
	if res.Side == basket.SideBuy {
		fmt.Printf("Gross (raw): %d\n", res.GrossRaw)
		fmt.Printf("Fee (raw):   %d\n", res.FeeRaw)
		fmt.Printf("Net (raw):   %d\n", res.NetRaw)
	}
	if res.Error != "" {
		fmt.Printf("Error:       %s (%s)\n", res.Error, res.ErrorClass)
	}

	if len(res.Legs) > 0 {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "LEG\tSYMBOL\tINPUT (RAW)\tLANDED\tPATH\tSIGNATURE")
		for _, l := range res.Legs {
			fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%s\t%s\n", l.Kind, l.Symbol, l.InputAmount, l.Landed, l.Path, l.Signature)
		}
		w.Flush()
	}

	if len(res.Trace) > 0 {
		fmt.Println()
		for _, t := range res.Trace {
			line := fmt.Sprintf("  %s  %-11s", t.At.Format(time.RFC3339), t.State)
			if t.Path != "" {
				line += " [" + string(t.Path) + "]"
			}
			if t.Detail != "" {
				line += " " + t.Detail
			}
			fmt.Println(line)
		}
	}
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}
