package basket

import (
	"context"
	"fmt"
	"time"

	"github.com/brojonat/basketswap/service/relay"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// waitForSignature polls a signature until it is confirmed or finalized, fails
// on chain, or the timeout passes. Transient RPC errors keep polling.
func (e *Engine) waitForSignature(ctx context.Context, sig solana.Signature, timeout time.Duration) (*rpc.SignatureStatusesResult, error) {
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(e.cfg.ConfirmPollInterval)
	defer ticker.Stop()

	for {
		statuses, err := e.ledger.SignatureStatuses(pctx, []solana.Signature{sig})
		e.metrics.RecordConfirmationPoll("signature")
		if err != nil {
			e.logger.DebugContext(ctx, "signature status poll failed", "signature", sig.String(), "error", err)
		} else if len(statuses) > 0 && statuses[0] != nil {
			st := statuses[0]
			if st.Err != nil {
				return nil, &ConfirmationError{Signature: sig.String(), Reason: fmt.Sprintf("%v", st.Err)}
			}
			if st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				st.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return st, nil
			}
		}

		select {
		case <-pctx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &ConfirmationError{
				Signature: sig.String(),
				Reason:    fmt.Sprintf("not confirmed within %v", timeout),
				TimedOut:  true,
			}
		case <-ticker.C:
		}
	}
}

// waitForBundle polls the accepting relay until the bundle lands, fails, or
// the attempt budget runs out.
func (e *Engine) waitForBundle(ctx context.Context, sub relay.Submission) (*relay.BundleStatus, error) {
	ticker := time.NewTicker(e.cfg.BundlePollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= e.cfg.BundlePollAttempts; attempt++ {
		status, err := e.relay.BundleStatus(ctx, sub.Endpoint, sub.BundleID)
		e.metrics.RecordConfirmationPoll("bundle")
		switch {
		case err != nil:
			e.logger.DebugContext(ctx, "bundle status poll failed", "bundle_id", sub.BundleID, "attempt", attempt, "error", err)
		case status.Landed():
			return status, nil
		case status.ErrMessage() != "":
			return nil, fmt.Errorf("bundle %s failed on chain: %s", sub.BundleID, status.ErrMessage())
		}

		if attempt == e.cfg.BundlePollAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	return nil, fmt.Errorf("bundle %s not confirmed after %d polls", sub.BundleID, e.cfg.BundlePollAttempts)
}
