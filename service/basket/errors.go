package basket

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// ErrUserRejected is returned by signers when the wallet holder declines.
var ErrUserRejected = errors.New("user rejected the request")

// ErrorClass is the engine's view of a failure.
type ErrorClass string

const (
	ClassRetryableOrFatal ErrorClass = "retryable_or_fatal"
	ClassUserRejection    ErrorClass = "user_rejection"
	ClassBlockhashExpiry  ErrorClass = "blockhash_expiry"
)

// Wallet and ledger SDKs report these conditions only as text, so this is the
// one place that matches on error messages.
var (
	userRejectionPatterns = []string{
		"user rejected",
		"user denied",
		"cancelled",
		"rejected the request",
	}
	blockhashExpiryPatterns = []string{
		"block height exceeded",
		"has expired",
	}
)

// Classify maps a failure to an ErrorClass. Whether a RetryableOrFatal error
// leads to fallback depends on the phase that raised it.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrUserRejected) {
		return ClassUserRejection
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassRetryableOrFatal
	}

	msg := strings.ToLower(err.Error())
	for _, p := range userRejectionPatterns {
		if strings.Contains(msg, p) {
			return ClassUserRejection
		}
	}
	for _, p := range blockhashExpiryPatterns {
		if strings.Contains(msg, p) {
			return ClassBlockhashExpiry
		}
	}
	return ClassRetryableOrFatal
}

var embeddedSignaturePattern = regexp.MustCompile(`(?i)signature\s+([1-9A-HJ-NP-Za-km-z]{64,90})`)

// extractSignature finds a transaction signature embedded in an error message,
// as ledgers do for "Signature X has expired: block height exceeded".
func extractSignature(msg string) (solana.Signature, bool) {
	m := embeddedSignaturePattern.FindStringSubmatch(msg)
	if m == nil {
		return solana.Signature{}, false
	}
	sig, err := solana.SignatureFromBase58(m[1])
	if err != nil {
		return solana.Signature{}, false
	}
	return sig, true
}

// QuoteUnavailableError means a requested allocation could not be priced.
// The whole preview or execution fails rather than dropping the token.
type QuoteUnavailableError struct {
	Symbol string
	Mint   string
	Err    error
}

func (e *QuoteUnavailableError) Error() string {
	return fmt.Sprintf("quote unavailable for %s (%s): %v", e.Symbol, e.Mint, e.Err)
}

func (e *QuoteUnavailableError) Unwrap() error { return e.Err }

// SubmissionError is a direct-path send failure.
type SubmissionError struct {
	Leg string
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("failed to submit %s: %v", e.Leg, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// ConfirmationError is a transaction that failed on chain or never confirmed.
type ConfirmationError struct {
	Signature string
	Reason    string
	TimedOut  bool
}

func (e *ConfirmationError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("transaction %s not confirmed: %s", e.Signature, e.Reason)
	}
	return fmt.Sprintf("transaction %s failed: %s", e.Signature, e.Reason)
}

// SigningError is a failure returned by the signer.
type SigningError struct {
	Path Path
	Err  error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("signing failed on %s path: %v", e.Path, e.Err)
}

func (e *SigningError) Unwrap() error { return e.Err }

// Declined reports whether err is the signer refusing to sign. Rejection text
// raised by any other step is an ordinary failure.
func Declined(err error) bool {
	var se *SigningError
	return errors.As(err, &se) && Classify(se.Err) == ClassUserRejection
}

// BundleError is a terminal failure of the bundle path.
type BundleError struct {
	Stage string
	Err   error
}

func (e *BundleError) Error() string {
	return fmt.Sprintf("bundle %s failed: %v", e.Stage, e.Err)
}

func (e *BundleError) Unwrap() error { return e.Err }

// AssemblyError is a malformed route plan or unresolvable lookup table.
type AssemblyError struct {
	Symbol string
	Err    error
}

func (e *AssemblyError) Error() string {
	if e.Symbol == "" {
		return fmt.Sprintf("failed to assemble transactions: %v", e.Err)
	}
	return fmt.Sprintf("failed to assemble %s transaction: %v", e.Symbol, e.Err)
}

func (e *AssemblyError) Unwrap() error { return e.Err }
