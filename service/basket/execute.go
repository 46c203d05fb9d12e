package basket

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/brojonat/basketswap/service/relay"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// order is the per-invocation state of one execution. Nothing in it is shared
// with other invocations.
type order struct {
	id          string
	side        Side
	owner       solana.PublicKey
	signer      Signer
	slippageBps int
	feeAccount  *solana.PublicKey
	legs        []*leg
	started     time.Time

	ctx      context.Context
	logger   *slog.Logger
	result   *ExecutionResult
	progress func(*ExecutionResult)
	now      func() time.Time
}

func (e *Engine) newOrder(ctx context.Context, id string, side Side, owner solana.PublicKey, signer Signer, progress func(*ExecutionResult)) *order {
	if id == "" {
		id = uuid.NewString()
	}
	return &order{
		id:      id,
		side:    side,
		owner:   owner,
		signer:  signer,
		started: e.now(),
		ctx:     ctx,
		logger:  e.logger.With("order_id", id, "side", string(side)),
		result: &ExecutionResult{
			OrderID:    id,
			Side:       side,
			Signatures: []string{},
			Legs:       []LegResult{},
			Trace:      []Transition{},
		},
		progress: progress,
		now:      e.now,
	}
}

func (o *order) transition(state State, path Path, detail string) {
	o.result.Trace = append(o.result.Trace, Transition{State: state, Path: path, At: o.now(), Detail: detail})
	attrs := []any{"state", string(state)}
	if path != "" {
		attrs = append(attrs, "path", string(path))
	}
	if detail != "" {
		attrs = append(attrs, "detail", detail)
	}
	o.logger.InfoContext(o.ctx, "order state", attrs...)
	o.report()
}

// report hands a copy of the result so far to the progress callback.
func (o *order) report() {
	if o.progress == nil {
		return
	}
	o.finishLegs()
	snap := *o.result
	snap.Signatures = slices.Clone(o.result.Signatures)
	snap.Legs = slices.Clone(o.result.Legs)
	snap.Trace = slices.Clone(o.result.Trace)
	o.progress(&snap)
}

// fail ends the order with err. Only a signer declining ends it as cancelled.
func (o *order) fail(err error) *ExecutionResult {
	o.result.err = err
	o.result.Error = err.Error()
	o.result.ErrorClass = Classify(err)
	o.result.Outcome = OutcomeFailed
	switch {
	case Declined(err):
		o.result.ErrorClass = ClassUserRejection
		o.result.Outcome = OutcomeCancelled
	case o.result.ErrorClass == ClassUserRejection:
		o.result.ErrorClass = ClassRetryableOrFatal
	}
	o.transition(StateFailed, o.result.Path, err.Error())
	o.finishLegs()
	return o.result
}

func (o *order) succeed(path Path) *ExecutionResult {
	o.result.Success = true
	o.result.Outcome = OutcomeSucceeded
	o.result.Path = path
	o.transition(StateSucceeded, path, "")
	o.finishLegs()
	return o.result
}

func (o *order) finishLegs() {
	o.result.Legs = o.result.Legs[:0]
	o.result.Signatures = o.result.Signatures[:0]
	for _, l := range o.legs {
		lr := LegResult{
			Kind:        string(l.kind),
			Symbol:      l.symbol,
			Mint:        l.mint.String(),
			InputAmount: l.amount,
			Landed:      l.landed,
			Path:        l.path,
		}
		if l.quote != nil {
			lr.EstimatedOutput = l.quote.OutAmount
		}
		if !l.signature.IsZero() {
			lr.Signature = l.signature.String()
		}
		if l.landed {
			o.result.Signatures = append(o.result.Signatures, lr.Signature)
		}
		o.result.Legs = append(o.result.Legs, lr)
	}
}

func (o *order) pending() []*leg {
	var out []*leg
	for _, l := range o.legs {
		if !l.landed {
			out = append(out, l)
		}
	}
	return out
}

// execute runs the delivery state machine: one direct attempt, then at most
// one bundle attempt unless the user declined to sign.
func (e *Engine) execute(ctx context.Context, o *order) *ExecutionResult {
	res := e.run(ctx, o)
	e.metrics.RecordExecution(string(o.side), string(res.Path), string(res.Outcome), e.now().Sub(o.started).Seconds())
	return res
}

func (e *Engine) run(ctx context.Context, o *order) *ExecutionResult {
	if len(o.legs) == 0 {
		return o.fail(fmt.Errorf("nothing to execute"))
	}

	o.result.Path = PathDirect
	fatal, directErr := e.direct(ctx, o)
	if directErr == nil {
		return o.succeed(PathDirect)
	}
	if fatal || Declined(directErr) {
		return o.fail(directErr)
	}
	if ctx.Err() != nil {
		return o.fail(ctx.Err())
	}

	e.metrics.RecordPathFallback()
	o.logger.WarnContext(ctx, "direct path failed, falling back to bundle", "error", directErr)

	o.result.Path = PathBundle
	if err := e.bundle(ctx, o); err != nil {
		return o.fail(err)
	}
	return o.succeed(PathBundle)
}

// direct signs and submits each leg as an independent transaction. It reports
// fatal when the failure happened before anything was signed and sent.
func (e *Engine) direct(ctx context.Context, o *order) (fatal bool, err error) {
	if err := e.refreshStaleQuotes(ctx, o, o.legs); err != nil {
		return true, err
	}

	o.transition(StateAssembling, PathDirect, "")
	set, err := e.assemble(ctx, o, o.legs, false)
	if err != nil {
		return true, err
	}

	o.transition(StateSigning, PathDirect, "")
	signed, err := o.signer.SignAll(ctx, set.txs)
	if err != nil {
		return false, &SigningError{Path: PathDirect, Err: err}
	}
	if len(signed) != len(set.txs) {
		return false, fmt.Errorf("signer returned %d transactions, expected %d", len(signed), len(set.txs))
	}

	o.transition(StateSubmitting, PathDirect, "")
	slots := make([]uint64, len(o.legs))
	sendErrs := make([]error, len(o.legs))

	var g errgroup.Group
	for i, l := range o.legs {
		tx := signed[i]
		l.signature = tx.Signatures[0]
		l.path = PathDirect
		g.Go(func() error {
			slots[i], sendErrs[i] = e.send(ctx, o, l, tx)
			return nil
		})
	}
	_ = g.Wait()

	o.transition(StateConfirming, PathDirect, "")
	var firstErr error
	for i, l := range o.legs {
		if sendErrs[i] != nil {
			if firstErr == nil {
				firstErr = sendErrs[i]
			}
			continue
		}
		if l.landed {
			o.result.Slot = max(o.result.Slot, slots[i])
			continue
		}

		st, err := e.waitForSignature(ctx, l.signature, e.cfg.ConfirmTimeout)
		if err != nil {
			o.logger.WarnContext(ctx, "direct transaction not confirmed", "leg", l.label(), "signature", l.signature.String(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			continue
		}
		l.landed = true
		o.result.Slot = max(o.result.Slot, st.Slot)
		o.report()
	}

	return false, firstErr
}

// send submits one signed transaction. A blockhash-expiry error may still
// hide a landed transaction, so its signature is polled briefly before the
// send is counted as failed. When that poll finds it, the leg is marked landed
// and its slot returned. It only mutates l.
func (e *Engine) send(ctx context.Context, o *order, l *leg, tx *solana.Transaction) (uint64, error) {
	_, err := e.ledger.SendTransaction(ctx, tx)
	if err == nil {
		return 0, nil
	}

	if Classify(err) != ClassBlockhashExpiry {
		return 0, &SubmissionError{Leg: l.label(), Err: err}
	}

	sig, ok := extractSignature(err.Error())
	if !ok {
		sig = tx.Signatures[0]
	}
	o.logger.WarnContext(ctx, "send reported blockhash expiry, checking signature", "leg", l.label(), "signature", sig.String())

	st, perr := e.waitForSignature(ctx, sig, e.cfg.ExpiryRecoveryTimeout)
	if perr == nil {
		e.metrics.RecordExpiryRecovery(true)
		l.signature = sig
		l.landed = true
		return st.Slot, nil
	}
	e.metrics.RecordExpiryRecovery(false)
	return 0, &SubmissionError{Leg: l.label(), Err: err}
}

// bundle rebuilds the legs that did not land with a fresh blockhash and a tip,
// asks for a second signature, and submits them as one atomic bundle.
func (e *Engine) bundle(ctx context.Context, o *order) error {
	legs := o.pending()

	if err := e.refreshStaleQuotes(ctx, o, legs); err != nil {
		return &BundleError{Stage: "quoting", Err: err}
	}

	o.transition(StateAssembling, PathBundle, "")
	if n := len(legs) + 1; n > relay.MaxBundleTransactions {
		return &BundleError{
			Stage: "assembling",
			Err:   fmt.Errorf("%d transactions exceed the relay limit of %d", n, relay.MaxBundleTransactions),
		}
	}
	set, err := e.assemble(ctx, o, legs, true)
	if err != nil {
		return &BundleError{Stage: "assembling", Err: err}
	}

	o.transition(StateSigning, PathBundle, "")
	signed, err := o.signer.SignAll(ctx, set.txs)
	if err != nil {
		return &BundleError{Stage: "signing", Err: &SigningError{Path: PathBundle, Err: err}}
	}
	if len(signed) != len(set.txs) {
		return &BundleError{Stage: "signing", Err: fmt.Errorf("signer returned %d transactions, expected %d", len(signed), len(set.txs))}
	}

	encoded := make([]string, len(signed))
	for i, tx := range signed {
		if encoded[i], err = tx.ToBase64(); err != nil {
			return &BundleError{Stage: "encoding", Err: err}
		}
	}
	for i, l := range legs {
		l.signature = signed[i].Signatures[0]
		l.path = PathBundle
	}

	o.transition(StateSubmitting, PathBundle, "")
	sub, err := e.relay.SendBundle(ctx, encoded)
	if err != nil {
		return &BundleError{Stage: "submitting", Err: err}
	}
	o.result.BundleID = sub.BundleID

	o.transition(StateConfirming, PathBundle, "bundle "+sub.BundleID)
	status, err := e.waitForBundle(ctx, sub)
	if err != nil {
		return &BundleError{Stage: "confirming", Err: err}
	}

	for _, l := range legs {
		l.landed = true
	}
	o.result.Slot = status.Slot
	return nil
}

// refreshStaleQuotes re-quotes any swap leg whose quote is older than the
// configured maximum age.
func (e *Engine) refreshStaleQuotes(ctx context.Context, o *order, legs []*leg) error {
	now := e.now()

	var g errgroup.Group
	for _, l := range legs {
		if l.kind != legSwap || l.quote.Age(now) <= e.cfg.QuoteMaxAge {
			continue
		}
		g.Go(func() error {
			q, err := e.quoteOne(ctx, Allocation{Symbol: l.symbol, Mint: l.mint}, l.params)
			if err != nil {
				return err
			}
			o.logger.DebugContext(ctx, "re-quoted stale quote", "symbol", l.symbol, "out_amount", q.OutAmount)
			l.quote = q
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}
