package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/basketswap/client"
	"github.com/urfave/cli/v2"
)

func listPurchasesCommand() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Aliases:   []string{"ls"},
		Usage:     "List an owner's purchase history, most recent first",
		ArgsUsage: "OWNER",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of purchases to fetch",
				Value:   50,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Number of purchases to skip",
			},
			&cli.StringSliceFlag{
				Name:    "must-jq",
				Aliases: []string{"jq"},
				Usage:   "jq filter that must evaluate to true (repeatable, all must match)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("owner address is required")
			}
			filters, err := compileJQ(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}

			cl := client.NewClient(c.String("server-url"), nil, newLogger(false))
			purchases, err := cl.ListPurchases(context.Background(), c.Args().Get(0), c.Int("limit"), c.Int("offset"))
			if err != nil {
				return fmt.Errorf("failed to list purchases: %w", err)
			}

			purchases, err = filterPurchases(purchases, filters)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(purchases)
			}

			if len(purchases) == 0 {
				fmt.Println("No purchases found")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ORDER ID\tBASKET\tSIDE\tOUTCOME\tPATH\tGROSS (RAW)\tSIGNATURES\tCREATED")
			for _, p := range purchases {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
					p.OrderID,
					p.BasketID,
					p.Side,
					p.Outcome,
					p.Path,
					p.GrossAmount,
					len(p.Signatures),
					p.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Printf("\nTotal: %d purchase(s)\n", len(purchases))
			return nil
		},
	}
}

func filterPurchases(purchases []*client.Purchase, filters jqFilters) ([]*client.Purchase, error) {
	if len(filters) == 0 {
		return purchases, nil
	}
	out := make([]*client.Purchase, 0, len(purchases))
	for _, p := range purchases {
		ok, err := filters.match(p)
		if err != nil {
			return nil, fmt.Errorf("jq filter failed on order %s: %w", p.OrderID, err)
		}
		if ok {
			out = append(out, p)
		}
	}
	return out, nil
}
