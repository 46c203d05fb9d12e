package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/brojonat/basketswap/service/basket"
	"github.com/gagliardetto/solana-go"
	"gopkg.in/yaml.v3"
)

//go:embed baskets.yaml
var defaultCatalog []byte

// ErrNotFound is returned when a basket id is not in the catalog.
var ErrNotFound = errors.New("basket not found")

// Basket is a named set of weighted allocations.
type Basket struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Allocations []basket.Allocation `json:"allocations"`
}

// TotalWeight returns the sum of allocation weights.
func (b Basket) TotalWeight() float64 {
	var total float64
	for _, a := range b.Allocations {
		total += a.Weight
	}
	return total
}

// Catalog is an immutable, ordered set of baskets.
type Catalog struct {
	baskets []Basket
	byID    map[string]int
}

type fileCatalog struct {
	Baskets []fileBasket `yaml:"baskets"`
}

type fileBasket struct {
	ID          string           `yaml:"id"`
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	Allocations []fileAllocation `yaml:"allocations"`
}

type fileAllocation struct {
	Symbol   string  `yaml:"symbol"`
	Mint     string  `yaml:"mint"`
	Weight   float64 `yaml:"weight"`
	Decimals uint8   `yaml:"decimals"`
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads the catalog at path, or the compiled-in catalog when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	return LoadFile(path)
}

// LoadFile reads and validates a catalog file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates catalog YAML. Every problem found is reported.
func Parse(data []byte) (*Catalog, error) {
	var fc fileCatalog
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(fc.Baskets) == 0 {
		return nil, fmt.Errorf("catalog has no baskets")
	}

	c := &Catalog{byID: make(map[string]int, len(fc.Baskets))}
	var errs []error

	for i, fb := range fc.Baskets {
		if fb.ID == "" {
			errs = append(errs, fmt.Errorf("basket %d: id is required", i))
			continue
		}
		if _, dup := c.byID[fb.ID]; dup {
			errs = append(errs, fmt.Errorf("basket %s: duplicate id", fb.ID))
			continue
		}

		b, berrs := convert(fb)
		if len(berrs) > 0 {
			errs = append(errs, berrs...)
			continue
		}
		c.byID[b.ID] = len(c.baskets)
		c.baskets = append(c.baskets, b)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid catalog: %w", errors.Join(errs...))
	}
	return c, nil
}

func convert(fb fileBasket) (Basket, []error) {
	b := Basket{ID: fb.ID, Name: fb.Name, Description: fb.Description}
	if b.Name == "" {
		b.Name = b.ID
	}

	var errs []error
	if len(fb.Allocations) == 0 {
		errs = append(errs, fmt.Errorf("basket %s: no allocations", fb.ID))
	}

	seen := map[string]bool{}
	for _, fa := range fb.Allocations {
		if fa.Symbol == "" {
			errs = append(errs, fmt.Errorf("basket %s: allocation symbol is required", fb.ID))
			continue
		}
		if seen[fa.Symbol] {
			errs = append(errs, fmt.Errorf("basket %s: duplicate symbol %s", fb.ID, fa.Symbol))
			continue
		}
		seen[fa.Symbol] = true

		mint, err := solana.PublicKeyFromBase58(fa.Mint)
		if err != nil {
			errs = append(errs, fmt.Errorf("basket %s: %s: invalid mint %q: %w", fb.ID, fa.Symbol, fa.Mint, err))
			continue
		}
		if fa.Weight < 0 || math.IsNaN(fa.Weight) || math.IsInf(fa.Weight, 0) {
			errs = append(errs, fmt.Errorf("basket %s: %s: invalid weight %v", fb.ID, fa.Symbol, fa.Weight))
			continue
		}
		b.Allocations = append(b.Allocations, basket.Allocation{
			Symbol:   fa.Symbol,
			Mint:     mint,
			Weight:   fa.Weight,
			Decimals: fa.Decimals,
		})
	}

	if len(errs) == 0 && b.TotalWeight() <= 0 {
		errs = append(errs, fmt.Errorf("basket %s: weights sum to zero", fb.ID))
	}
	return b, errs
}

// List returns every basket in catalog order.
func (c *Catalog) List() []Basket {
	out := make([]Basket, len(c.baskets))
	copy(out, c.baskets)
	return out
}

// Get returns the basket with the given id.
func (c *Catalog) Get(id string) (Basket, error) {
	i, ok := c.byID[id]
	if !ok {
		return Basket{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c.baskets[i], nil
}
