package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/brojonat/basketswap/client"
	"github.com/brojonat/basketswap/service/basket"
	natspkg "github.com/brojonat/basketswap/service/nats"
	"github.com/urfave/cli/v2"
)

func placeOrderCommand() *cli.Command {
	return &cli.Command{
		Name:      "place",
		Usage:     "Start a buy or sell order on the server",
		ArgsUsage: "BASKET_ID",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "side",
				Usage: "buy or sell",
				Value: "buy",
			},
			&cli.StringFlag{
				Name:     "owner",
				Aliases:  []string{"o"},
				Usage:    "Owner wallet address",
				EnvVars:  []string{"OWNER"},
				Required: true,
			},
			&cli.Float64Flag{
				Name:  "amount",
				Usage: "Gross deposit in input-asset units (buy)",
			},
			&cli.Float64Flag{
				Name:  "percent",
				Usage: "Percent of each holding to sell (sell)",
			},
			&cli.StringSliceFlag{
				Name:    "weight",
				Aliases: []string{"w"},
				Usage:   "Override an allocation weight as SYMBOL=WEIGHT (repeatable)",
			},
			&cli.IntFlag{
				Name:  "slippage-bps",
				Usage: "Slippage tolerance in basis points",
			},
			&cli.StringFlag{
				Name:  "order-id",
				Usage: "Order id (the server generates one when empty)",
			},
			&cli.BoolFlag{
				Name:  "wait",
				Usage: "Poll until the order finishes",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long --wait polls before giving up",
				Value: 5 * time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("basket id is required")
			}
			req, err := orderRequestFromFlags(c)
			if err != nil {
				return err
			}

			cl := client.NewClient(c.String("server-url"), nil, newLogger(false))
			placed, err := cl.PlaceOrder(context.Background(), req)
			if err != nil {
				return fmt.Errorf("failed to place order: %w", err)
			}

			if !c.Bool("wait") {
				if c.Bool("json") {
					return outputJSON(placed)
				}
				fmt.Printf("✓ Order placed\n")
				fmt.Printf("  Order ID:    %s\n", placed.OrderID)
				fmt.Printf("  Workflow ID: %s\n", placed.WorkflowID)
				return nil
			}

			if !c.Bool("json") {
				fmt.Fprintf(os.Stderr, "Order %s placed, waiting for it to finish...\n", placed.OrderID)
			}
			ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
			defer cancel()
			order, err := cl.AwaitOrder(ctx, placed.OrderID, 2*time.Second)
			if err != nil {
				return fmt.Errorf("failed to await order: %w", err)
			}
			return printOrder(c, order)
		},
	}
}

func orderRequestFromFlags(c *cli.Context) (client.OrderRequest, error) {
	weights, err := parseWeights(c.StringSlice("weight"))
	if err != nil {
		return client.OrderRequest{}, err
	}
	req := client.OrderRequest{
		OrderID:     c.String("order-id"),
		BasketID:    c.Args().Get(0),
		Side:        strings.ToLower(c.String("side")),
		Owner:       c.String("owner"),
		SlippageBps: c.Int("slippage-bps"),
		Weights:     weights,
	}
	switch req.Side {
	case "buy":
		if err := basket.CheckAmount("--amount", c.Float64("amount")); err != nil {
			return client.OrderRequest{}, fmt.Errorf("%w for a buy", err)
		}
		req.Amount = c.Float64("amount")
	case "sell":
		p := c.Float64("percent")
		if basket.CheckAmount("--percent", p) != nil || p > 100 {
			return client.OrderRequest{}, fmt.Errorf("--percent must be in (0, 100] for a sell")
		}
		req.Percent = p
	default:
		return client.OrderRequest{}, fmt.Errorf("--side must be buy or sell, got %q", req.Side)
	}
	return req, nil
}

func getOrderCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show an order's state and result",
		ArgsUsage: "ORDER_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("order id is required")
			}
			cl := client.NewClient(c.String("server-url"), nil, newLogger(false))
			order, err := cl.GetOrder(context.Background(), c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("failed to get order: %w", err)
			}
			return printOrder(c, order)
		},
	}
}

func printOrder(c *cli.Context, order *client.Order) error {
	if c.Bool("json") {
		return outputJSON(order)
	}
	fmt.Printf("Order ID:    %s\n", order.OrderID)
	fmt.Printf("Workflow ID: %s\n", order.WorkflowID)
	fmt.Printf("State:       %s\n", order.State)
	if order.Stage != "" {
		fmt.Printf("Stage:       %s\n", order.Stage)
	}
	if order.Error != "" {
		fmt.Printf("Error:       %s\n", order.Error)
	}
	if order.Result != nil {
		fmt.Println()
		printResult(order.Result)
	}
	return nil
}

func watchOrdersCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Stream order events from NATS",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "owner",
				Aliases: []string{"o"},
				Usage:   "Only show events for this wallet",
			},
			&cli.StringFlag{
				Name:  "durable",
				Usage: "Durable consumer name to resume from (new events only when empty)",
			},
			&cli.StringSliceFlag{
				Name:    "must-jq",
				Aliases: []string{"jq"},
				Usage:   "jq filter that must evaluate to true (repeatable, all must match)",
			},
			&cli.IntFlag{
				Name:  "count",
				Usage: "Exit after this many matching events (0 streams until interrupted)",
			},
		},
		Action: func(c *cli.Context) error {
			filters, err := compileJQ(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}
			logger := newLogger(false)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			if !c.Bool("json") {
				target := c.String("owner")
				if target == "" {
					target = "all owners"
				}
				fmt.Fprintf(os.Stderr, "Watching order events for %s (Ctrl+C to stop)...\n", target)
			}

			limit := c.Int("count")
			seen := 0
			err = natspkg.Watch(ctx, c.String("nats-url"), natspkg.WatchOptions{
				Owner:   c.String("owner"),
				Durable: c.String("durable"),
			}, logger, func(event *natspkg.OrderEvent) error {
				ok, err := filters.match(event)
				if err != nil {
					logger.Debug("jq filter error", "error", err, "order_id", event.OrderID)
					return nil
				}
				if !ok {
					return nil
				}

				if c.Bool("json") {
					if err := outputJSON(event); err != nil {
						return err
					}
				} else {
					printEvent(event)
				}

				seen++
				if limit > 0 && seen >= limit {
					cancel()
				}
				return nil
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func printEvent(e *natspkg.OrderEvent) {
	fmt.Printf("%s  %-9s %-4s %s  basket=%s owner=%s",
		e.PublishedAt.Format(time.RFC3339), e.Outcome, e.Side, e.OrderID, e.BasketID, e.Owner)
	if e.Path != "" {
		fmt.Printf(" path=%s", e.Path)
	}
	if e.Error != "" {
		fmt.Printf(" error=%q", e.Error)
	}
	fmt.Println()
}
