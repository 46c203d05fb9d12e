package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/basketswap/service/metrics"
)

// DefaultRPCProxyMaxBody bounds proxied JSON-RPC request bodies when no limit is configured.
const DefaultRPCProxyMaxBody = 64 << 10

// allowedRPCMethods are the ledger methods browsers may call through the proxy.
var allowedRPCMethods = map[string]bool{
	"getLatestBlockhash":      true,
	"getAccountInfo":          true,
	"getMultipleAccounts":     true,
	"sendTransaction":         true,
	"getSignatureStatuses":    true,
	"getBalance":              true,
	"getTokenAccountBalance":  true,
	"getTokenAccountsByOwner": true,
}

type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
}

// handleRPCProxy returns a handler that forwards allowlisted JSON-RPC requests
// to the ledger endpoint. Batches are forwarded only if every entry is allowed.
// POST /api/v1/rpc
func handleRPCProxy(upstream string, maxBody int64, client *http.Client, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	if maxBody <= 0 {
		maxBody = DefaultRPCProxyMaxBody
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				m.RecordRPCProxyRejected("too_large")
				writeError(w, "request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			writeError(w, "failed to read request body", http.StatusBadRequest)
			return
		}

		methods, err := rpcMethods(body)
		if err != nil {
			m.RecordRPCProxyRejected("malformed")
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, method := range methods {
			if !allowedRPCMethods[method] {
				m.RecordRPCProxyRejected("method")
				logger.Warn("rpc proxy rejected method", "method", method)
				writeError(w, "method not allowed: "+method, http.StatusForbidden)
				return
			}
		}

		req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, upstream, bytes.NewReader(body))
		if err != nil {
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			logger.Error("rpc proxy upstream failed", "methods", methods, "error", err)
			writeError(w, "upstream unavailable", http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(w, resp.Body); err != nil {
			logger.Warn("rpc proxy response copy failed", "error", err)
		}
	})
}

// rpcMethods extracts the method names of a single or batch JSON-RPC body.
func rpcMethods(body []byte) ([]string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errorf("empty request body")
	}

	var envelopes []rpcEnvelope
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &envelopes); err != nil {
			return nil, errorf("invalid JSON-RPC batch: %v", err)
		}
		if len(envelopes) == 0 {
			return nil, errorf("empty JSON-RPC batch")
		}
	} else {
		var env rpcEnvelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, errorf("invalid JSON-RPC request: %v", err)
		}
		envelopes = []rpcEnvelope{env}
	}

	methods := make([]string, len(envelopes))
	for i, env := range envelopes {
		if env.Method == "" {
			return nil, errorf("JSON-RPC request %d has no method", i)
		}
		methods[i] = env.Method
	}
	return methods, nil
}
