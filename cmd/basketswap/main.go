package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "basketswap",
		Usage: "Solana basket swap CLI",
		Description: `A command-line tool for previewing and executing token basket orders.

buy and sell run the engine locally with a keypair signer. The orders and
purchases commands talk to a running basketswap server.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			{
				Name:  "baskets",
				Usage: "Inspect the basket catalog",
				Subcommands: []*cli.Command{
					listBasketsCommand(),
					showBasketCommand(),
				},
			},
			previewCommand(),
			buyCommand(),
			sellCommand(),
			{
				Name:  "orders",
				Usage: "Place and follow orders on the server",
				Subcommands: []*cli.Command{
					placeOrderCommand(),
					getOrderCommand(),
					watchOrdersCommand(),
				},
			},
			{
				Name:  "purchases",
				Usage: "Purchase history commands",
				Subcommands: []*cli.Command{
					listPurchasesCommand(),
				},
			},
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "basketswap server URL",
				EnvVars: []string{"SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.StringFlag{
				Name:    "catalog",
				Usage:   "Basket catalog file (defaults to the built-in catalog)",
				EnvVars: []string{"CATALOG_PATH"},
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}
}
