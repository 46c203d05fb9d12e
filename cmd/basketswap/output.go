package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/brojonat/basketswap/service/basket"
	"github.com/itchyny/gojq"
)

// outputJSON writes v to stdout as indented JSON.
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newLogger only reports errors so command output stays readable.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelError
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// jqFilters is a set of compiled jq expressions that must all hold.
type jqFilters []*gojq.Code

func compileJQ(filters []string) (jqFilters, error) {
	compiled := make(jqFilters, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		compiled[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}
	return compiled, nil
}

// match reports whether the first result of every filter is truthy for v.
// v is round-tripped through JSON so filters see the wire field names.
func (f jqFilters) match(v interface{}) (bool, error) {
	if len(f) == 0 {
		return true, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("failed to marshal value for jq: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return false, fmt.Errorf("failed to decode value for jq: %w", err)
	}

	for _, code := range f {
		iter := code.Run(doc)
		result, ok := iter.Next()
		if !ok {
			return false, nil
		}
		if err, isErr := result.(error); isErr {
			return false, err
		}
		if !isTruthy(result) {
			return false, nil
		}
	}
	return true, nil
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

// parseWeights turns SYMBOL=WEIGHT pairs into an override map.
func parseWeights(pairs []string) (map[string]float64, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	weights := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		symbol, raw, ok := strings.Cut(pair, "=")
		symbol = strings.TrimSpace(symbol)
		if !ok || symbol == "" {
			return nil, fmt.Errorf("invalid weight %q: expected SYMBOL=WEIGHT", pair)
		}
		w, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid weight %q: %w", pair, err)
		}
		if err := basket.CheckWeight(symbol, w); err != nil {
			return nil, fmt.Errorf("invalid weight %q: %w", pair, err)
		}
		weights[symbol] = w
	}
	return weights, nil
}

// parsePositive parses a command argument that must be a positive number.
func parsePositive(name, raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	if err := basket.CheckAmount(name, v); err != nil {
		return 0, err
	}
	return v, nil
}
