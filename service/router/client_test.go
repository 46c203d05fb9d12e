package router

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	usdcMint = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	bonkMint = solana.MustPublicKeyFromBase58("DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func quoteJSON(input, output solana.PublicKey, in, out string) string {
	return fmt.Sprintf(`{
		"inputMint": %q,
		"inAmount": %q,
		"outputMint": %q,
		"outAmount": %q,
		"otherAmountThreshold": "990",
		"swapMode": "ExactIn",
		"slippageBps": 100,
		"platformFee": null,
		"priceImpactPct": "0.0012",
		"routePlan": [{"swapInfo": {"ammKey": "amm1", "label": "Whirlpool", "inputMint": %q, "outputMint": %q, "inAmount": %q, "outAmount": %q}, "percent": 100}],
		"contextSlot": 1,
		"timeTaken": 0.01
	}`, input, in, output, out, input, output, in, out)
}

func testParams() QuoteParams {
	return QuoteParams{InputMint: usdcMint, OutputMint: bonkMint, Amount: 1_000_000, SlippageBps: 100}
}

func TestQuote_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, usdcMint.String(), r.URL.Query().Get("inputMint"))
		assert.Equal(t, bonkMint.String(), r.URL.Query().Get("outputMint"))
		assert.Equal(t, "1000000", r.URL.Query().Get("amount"))
		assert.Equal(t, "100", r.URL.Query().Get("slippageBps"))
		assert.Empty(t, r.URL.Query().Get("platformFeeBps"))
		assert.Equal(t, "secret", r.Header.Get(apiKeyHeader))
		_, _ = w.Write([]byte(quoteJSON(usdcMint, bonkMint, "1000000", "5000")))
	}))
	defer server.Close()

	c := NewClient(server.URL, testLogger(), WithAPIKey("secret"))
	quote, err := c.Quote(context.Background(), testParams())
	require.NoError(t, err)

	assert.Equal(t, usdcMint, quote.InputMint)
	assert.Equal(t, bonkMint, quote.OutputMint)
	assert.Equal(t, uint64(1_000_000), quote.InAmount)
	assert.Equal(t, uint64(5000), quote.OutAmount)
	assert.Equal(t, uint64(990), quote.OtherAmountThreshold)
	assert.InDelta(t, 0.0012, quote.PriceImpactPct, 1e-9)
	require.Len(t, quote.RoutePlan, 1)
	assert.Equal(t, "Whirlpool", quote.RoutePlan[0].Label)
	assert.False(t, quote.FetchedAt.IsZero())
	assert.NotEmpty(t, quote.Raw())
}

func TestQuote_PlatformFee(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "25", r.URL.Query().Get("platformFeeBps"))
		_, _ = w.Write([]byte(quoteJSON(bonkMint, usdcMint, "5000", "1000")))
	}))
	defer server.Close()

	c := NewClient(server.URL, testLogger())
	_, err := c.Quote(context.Background(), QuoteParams{
		InputMint: bonkMint, OutputMint: usdcMint, Amount: 5000, SlippageBps: 50, PlatformFeeBps: 25,
	})
	require.NoError(t, err)
}

func TestQuote_AuthFallback(t *testing.T) {
	t.Run("401 then success retries once without key", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := calls.Add(1)
			if n == 1 {
				assert.Equal(t, "secret", r.Header.Get(apiKeyHeader))
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			assert.Empty(t, r.Header.Get(apiKeyHeader))
			_, _ = w.Write([]byte(quoteJSON(usdcMint, bonkMint, "1000000", "5000")))
		}))
		defer server.Close()

		c := NewClient(server.URL, testLogger(), WithAPIKey("secret"))
		_, err := c.Quote(context.Background(), testParams())
		require.NoError(t, err)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("second failure is surfaced", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		c := NewClient(server.URL, testLogger(), WithAPIKey("secret"))
		_, err := c.Quote(context.Background(), testParams())
		require.Error(t, err)

		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
		assert.Equal(t, int32(2), calls.Load(), "exactly one retry without credentials")
	})

	t.Run("403 fallback", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			_, _ = w.Write([]byte(quoteJSON(usdcMint, bonkMint, "1000000", "5000")))
		}))
		defer server.Close()

		c := NewClient(server.URL, testLogger(), WithAPIKey("secret"))
		_, err := c.Quote(context.Background(), testParams())
		require.NoError(t, err)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("no key configured means no retry", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		c := NewClient(server.URL, testLogger())
		_, err := c.Quote(context.Background(), testParams())
		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestQuote_RateLimitBackoff(t *testing.T) {
	backoff := WithRateLimitBackoff([]time.Duration{time.Millisecond, time.Millisecond})

	t.Run("recovers within schedule", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) <= 2 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			_, _ = w.Write([]byte(quoteJSON(usdcMint, bonkMint, "1000000", "5000")))
		}))
		defer server.Close()

		c := NewClient(server.URL, testLogger(), backoff)
		_, err := c.Quote(context.Background(), testParams())
		require.NoError(t, err)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("exhausted schedule surfaces 429", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		c := NewClient(server.URL, testLogger(), backoff)
		_, err := c.Quote(context.Background(), testParams())
		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("cancelled during backoff", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		c := NewClient(server.URL, testLogger(), WithRateLimitBackoff([]time.Duration{time.Minute}))
		_, err := c.Quote(ctx, testParams())
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestQuote_MalformedPayloads(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>`},
		{"wrong output mint", quoteJSON(usdcMint, usdcMint, "1000000", "5000")},
		{"bad out amount", quoteJSON(usdcMint, bonkMint, "1000000", "lots")},
		{"negative in amount", quoteJSON(usdcMint, bonkMint, "-1", "5000")},
		{"empty route plan", fmt.Sprintf(`{"inputMint":%q,"outputMint":%q,"inAmount":"1","outAmount":"1","routePlan":[]}`, usdcMint, bonkMint)},
		{"bad mint", `{"inputMint":"nope","outputMint":"nope","inAmount":"1","outAmount":"1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := NewClient(server.URL, testLogger())
			_, err := c.Quote(context.Background(), testParams())
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func wireIx(program solana.PublicKey, data []byte, accounts ...solana.PublicKey) map[string]any {
	accs := make([]map[string]any, len(accounts))
	for i, a := range accounts {
		accs[i] = map[string]any{"pubkey": a.String(), "isSigner": i == 0, "isWritable": true}
	}
	return map[string]any{
		"programId": program.String(),
		"accounts":  accs,
		"data":      base64.StdEncoding.EncodeToString(data),
	}
}

func TestSwapInstructions(t *testing.T) {
	user := solana.NewWallet().PublicKey()
	feeAccount := solana.NewWallet().PublicKey()
	table := solana.NewWallet().PublicKey()
	swapProgram := solana.NewWallet().PublicKey()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/quote":
			_, _ = w.Write([]byte(quoteJSON(usdcMint, bonkMint, "1000000", "5000")))
		case "/swap-instructions":
			assert.Equal(t, http.MethodPost, r.Method)
			var req map[string]json.RawMessage
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Contains(t, string(req["quoteResponse"]), `"outAmount"`)
			assert.Equal(t, `"`+user.String()+`"`, string(req["userPublicKey"]))
			assert.Equal(t, `"`+feeAccount.String()+`"`, string(req["feeAccount"]))

			_ = json.NewEncoder(w).Encode(map[string]any{
				"computeBudgetInstructions":   []any{wireIx(solana.ComputeBudget, []byte{2, 1, 2, 3, 4})},
				"setupInstructions":           []any{wireIx(solana.SPLAssociatedTokenAccountProgramID, []byte{1}, user)},
				"swapInstruction":             wireIx(swapProgram, []byte{9, 9, 9}, user, feeAccount),
				"cleanupInstruction":          nil,
				"otherInstructions":           []any{},
				"addressLookupTableAddresses": []string{table.String()},
			})
		}
	}))
	defer server.Close()

	c := NewClient(server.URL, testLogger())
	quote, err := c.Quote(context.Background(), testParams())
	require.NoError(t, err)

	ixs, err := c.SwapInstructions(context.Background(), quote, SwapParams{UserPublicKey: user, FeeAccount: &feeAccount})
	require.NoError(t, err)

	assert.Len(t, ixs.ComputeBudget, 1)
	assert.Len(t, ixs.Setup, 1)
	assert.Nil(t, ixs.Cleanup)
	assert.Equal(t, []solana.PublicKey{table}, ixs.AddressLookupTables)

	all := ixs.Instructions()
	require.Len(t, all, 3)
	assert.Equal(t, swapProgram, all[2].ProgramID())
	data, err := all[2].Data()
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9, 9}, data)
	accounts := all[2].Accounts()
	require.Len(t, accounts, 2)
	assert.True(t, accounts[0].IsSigner)
	assert.True(t, accounts[1].IsWritable)
}

func TestSwapInstructions_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing swap instruction", `{"setupInstructions":[]}`},
		{"bad account", `{"swapInstruction":{"programId":"11111111111111111111111111111111","accounts":[{"pubkey":"xyz"}],"data":""}}`},
		{"bad data", `{"swapInstruction":{"programId":"11111111111111111111111111111111","accounts":[],"data":"%%%"}}`},
		{"bad lookup table", `{"swapInstruction":{"programId":"11111111111111111111111111111111","accounts":[],"data":""},"addressLookupTableAddresses":["bad"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := NewClient(server.URL, testLogger())
			quote := &Quote{raw: json.RawMessage(`{}`)}
			_, err := c.SwapInstructions(context.Background(), quote, SwapParams{UserPublicKey: solana.NewWallet().PublicKey()})
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestSwapInstructions_RouterError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"Quote expired"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, testLogger())
	_, err := c.SwapInstructions(context.Background(), &Quote{raw: json.RawMessage(`{}`)}, SwapParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Quote expired")
}
