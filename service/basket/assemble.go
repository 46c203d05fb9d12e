package basket

import (
	"context"
	"fmt"

	"github.com/brojonat/basketswap/service/relay"
	"github.com/brojonat/basketswap/service/router"
	"github.com/brojonat/basketswap/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"
)

type legKind string

const (
	legFee  legKind = "fee"
	legSwap legKind = "swap"
)

// leg is one fee transfer or swap of an order. Each leg becomes exactly one
// transaction per delivery attempt.
type leg struct {
	kind   legKind
	symbol string
	mint   solanago.PublicKey
	amount uint64
	quote  *router.Quote
	params router.QuoteParams

	signature solanago.Signature
	landed    bool
	path      Path
}

func (l *leg) label() string {
	if l.kind == legFee {
		return "fee transfer"
	}
	return l.symbol + " swap"
}

// assembled is an unsigned transaction set: one transaction per leg, in leg
// order, plus an optional trailing tip. All share one blockhash.
type assembled struct {
	txs       []*solanago.Transaction
	blockhash solanago.Hash
	tip       bool
}

// assemble builds the transaction set for legs against a freshly fetched
// blockhash. Any malformed route plan or unresolvable lookup table fails the
// whole set.
func (e *Engine) assemble(ctx context.Context, o *order, legs []*leg, withTip bool) (*assembled, error) {
	swaps := make([]*router.SwapInstructions, len(legs))

	g, gctx := errgroup.WithContext(ctx)
	for i, l := range legs {
		if l.kind != legSwap {
			continue
		}
		g.Go(func() error {
			ixs, err := e.router.SwapInstructions(gctx, l.quote, router.SwapParams{
				UserPublicKey: o.owner,
				FeeAccount:    o.feeAccount,
			})
			if err != nil {
				return &AssemblyError{Symbol: l.symbol, Err: err}
			}
			swaps[i] = ixs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var tableAddrs []solanago.PublicKey
	for _, s := range swaps {
		if s != nil {
			tableAddrs = append(tableAddrs, s.AddressLookupTables...)
		}
	}
	tables := map[solanago.PublicKey]solanago.PublicKeySlice{}
	if len(tableAddrs) > 0 {
		resolved, err := e.ledger.LookupTables(ctx, tableAddrs)
		if err != nil {
			return nil, &AssemblyError{Err: err}
		}
		tables = resolved
	}

	blockhash, err := e.ledger.LatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch blockhash: %w", err)
	}

	out := &assembled{blockhash: blockhash, tip: withTip}
	for i, l := range legs {
		var tx *solanago.Transaction
		switch l.kind {
		case legFee:
			tx, err = e.feeTransaction(o.owner, l.amount, blockhash)
		case legSwap:
			tx, err = compileSwap(o.owner, swaps[i], tables, blockhash)
		}
		if err != nil {
			return nil, &AssemblyError{Symbol: l.symbol, Err: err}
		}
		out.txs = append(out.txs, tx)
	}

	if withTip {
		tx, err := e.tipTransaction(o.owner, blockhash)
		if err != nil {
			return nil, &AssemblyError{Symbol: "tip", Err: err}
		}
		out.txs = append(out.txs, tx)
	}

	return out, nil
}

func (e *Engine) feeTransaction(owner solanago.PublicKey, amount uint64, blockhash solanago.Hash) (*solanago.Transaction, error) {
	ixs, err := solana.FeeTransferInstructions(owner, e.cfg.FeeWallet, e.cfg.Input.Mint, e.cfg.Input.Decimals, amount)
	if err != nil {
		return nil, err
	}
	return solanago.NewTransaction(ixs, blockhash, solanago.TransactionPayer(owner))
}

func (e *Engine) tipTransaction(owner solanago.PublicKey, blockhash solanago.Hash) (*solanago.Transaction, error) {
	tipAccount, err := relay.SelectTipAccount(e.cfg.TipAccounts)
	if err != nil {
		return nil, err
	}
	return solanago.NewTransaction(
		[]solanago.Instruction{solana.TipInstruction(owner, tipAccount, e.cfg.TipLamports)},
		blockhash,
		solanago.TransactionPayer(owner),
	)
}

// compileSwap compiles one swap's instructions, using only the lookup tables
// that swap references.
func compileSwap(
	owner solanago.PublicKey,
	ixs *router.SwapInstructions,
	tables map[solanago.PublicKey]solanago.PublicKeySlice,
	blockhash solanago.Hash,
) (*solanago.Transaction, error) {
	opts := []solanago.TransactionOption{solanago.TransactionPayer(owner)}

	if len(ixs.AddressLookupTables) > 0 {
		used := make(map[solanago.PublicKey]solanago.PublicKeySlice, len(ixs.AddressLookupTables))
		for _, addr := range ixs.AddressLookupTables {
			addrs, ok := tables[addr]
			if !ok {
				return nil, fmt.Errorf("lookup table %s was not resolved", addr)
			}
			used[addr] = addrs
		}
		opts = append(opts, solanago.TransactionAddressTables(used))
	}

	return solanago.NewTransaction(ixs.Instructions(), blockhash, opts...)
}
