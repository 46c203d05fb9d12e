package basket

import (
	"context"
	"fmt"

	"github.com/brojonat/basketswap/service/router"
	"golang.org/x/sync/errgroup"
)

// fetchQuotes prices every non-passthrough slice of a buy. The result is
// aligned with plan.Slices; passthrough entries are nil.
func (e *Engine) fetchQuotes(ctx context.Context, plan Plan, slippageBps int) ([]*router.Quote, error) {
	return e.quoteSlices(ctx, plan, func(s Slice) router.QuoteParams {
		return router.QuoteParams{
			InputMint:   e.cfg.Input.Mint,
			OutputMint:  s.Allocation.Mint,
			Amount:      s.InputRaw,
			SlippageBps: slippageBps,
		}
	})
}

func (e *Engine) fetchSellQuotes(ctx context.Context, plan Plan, slippageBps int) ([]*router.Quote, error) {
	return e.quoteSlices(ctx, plan, func(s Slice) router.QuoteParams {
		return e.sellQuoteParams(s, slippageBps)
	})
}

// quoteSlices issues one quote per slice concurrently, each bounded by the
// quote timeout. Any failure fails the whole call and cancels the rest.
func (e *Engine) quoteSlices(ctx context.Context, plan Plan, paramsFor func(Slice) router.QuoteParams) ([]*router.Quote, error) {
	quotes := make([]*router.Quote, len(plan.Slices))

	g, gctx := errgroup.WithContext(ctx)
	for _, i := range plan.Quoted() {
		s := plan.Slices[i]
		g.Go(func() error {
			q, err := e.quoteOne(gctx, s.Allocation, paramsFor(s))
			if err != nil {
				return err
			}
			quotes[i] = q
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return quotes, nil
}

func (e *Engine) quoteOne(ctx context.Context, a Allocation, params router.QuoteParams) (*router.Quote, error) {
	qctx, cancel := context.WithTimeout(ctx, e.cfg.QuoteTimeout)
	defer cancel()

	q, err := e.router.Quote(qctx, params)
	if err != nil {
		return nil, &QuoteUnavailableError{Symbol: a.Symbol, Mint: a.Mint.String(), Err: err}
	}
	if q == nil {
		return nil, &QuoteUnavailableError{Symbol: a.Symbol, Mint: a.Mint.String(), Err: fmt.Errorf("empty quote")}
	}
	return q, nil
}
