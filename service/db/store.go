package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/brojonat/basketswap/service/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// Store provides database operations for the service.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// If metrics is nil, no metrics will be recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{
		pool:    pool,
		metrics: m,
	}
}

// Purchase is the durable record of one basket order. Amounts are raw units
// of the input asset.
type Purchase struct {
	OrderID     string          `json:"order_id"`
	Owner       string          `json:"owner"`
	BasketID    string          `json:"basket_id"`
	Side        string          `json:"side"`
	Outcome     string          `json:"outcome"`
	InputMint   string          `json:"input_mint"`
	GrossAmount int64           `json:"gross_amount"`
	FeeAmount   int64           `json:"fee_amount"`
	NetAmount   int64           `json:"net_amount"`
	Path        string          `json:"path"`
	BundleID    *string         `json:"bundle_id,omitempty"`
	Slot        int64           `json:"slot"`
	Signatures  []string        `json:"signatures"`
	Allocations json.RawMessage `json:"allocations"`
	CreatedAt   time.Time       `json:"created_at"`
}

// CreatePurchaseParams contains the parameters for recording a purchase.
type CreatePurchaseParams struct {
	OrderID     string
	Owner       string
	BasketID    string
	Side        string
	Outcome     string
	InputMint   string
	GrossAmount int64
	FeeAmount   int64
	NetAmount   int64
	Path        string
	BundleID    *string
	Slot        int64
	Signatures  []string
	Allocations json.RawMessage
}

// ListPurchasesByOwnerParams contains pagination parameters.
type ListPurchasesByOwnerParams struct {
	Owner  string
	Limit  int32
	Offset int32
}

const purchaseColumns = `order_id, owner, basket_id, side, outcome, input_mint, gross_amount, fee_amount,
	net_amount, path, bundle_id, slot, signatures, allocations, created_at`

// EnsureSchema creates the purchases table and its indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// CreatePurchase records a purchase. Recording the same order again replaces
// the earlier row, so retried workflow activities are idempotent.
func (s *Store) CreatePurchase(ctx context.Context, params CreatePurchaseParams) (p *Purchase, err error) {
	start := time.Now()
	defer func() { s.metrics.RecordDBQuery("create", "purchases", time.Since(start).Seconds(), err) }()

	allocations := params.Allocations
	if len(allocations) == 0 {
		allocations = json.RawMessage("[]")
	}
	signatures := params.Signatures
	if signatures == nil {
		signatures = []string{}
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO purchases (order_id, owner, basket_id, side, outcome, input_mint, gross_amount,
			fee_amount, net_amount, path, bundle_id, slot, signatures, allocations)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (order_id) DO UPDATE SET
			outcome = EXCLUDED.outcome,
			path = EXCLUDED.path,
			bundle_id = EXCLUDED.bundle_id,
			slot = EXCLUDED.slot,
			signatures = EXCLUDED.signatures,
			allocations = EXCLUDED.allocations
		RETURNING `+purchaseColumns,
		params.OrderID, params.Owner, params.BasketID, params.Side, params.Outcome, params.InputMint,
		params.GrossAmount, params.FeeAmount, params.NetAmount, params.Path,
		pgtextFromStringPtr(params.BundleID), params.Slot, signatures, []byte(allocations),
	)
	return scanPurchase(row)
}

// GetPurchase retrieves a purchase by order id. It returns pgx.ErrNoRows when
// there is none.
func (s *Store) GetPurchase(ctx context.Context, orderID string) (p *Purchase, err error) {
	start := time.Now()
	defer func() { s.metrics.RecordDBQuery("get", "purchases", time.Since(start).Seconds(), err) }()

	row := s.pool.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE order_id = $1`, orderID)
	return scanPurchase(row)
}

// ListPurchasesByOwner returns an owner's purchases, most recent first.
func (s *Store) ListPurchasesByOwner(ctx context.Context, params ListPurchasesByOwnerParams) (out []*Purchase, err error) {
	start := time.Now()
	defer func() { s.metrics.RecordDBQuery("list", "purchases", time.Since(start).Seconds(), err) }()

	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+purchaseColumns+`
		FROM purchases
		WHERE owner = $1
		ORDER BY created_at DESC, order_id
		LIMIT $2 OFFSET $3`,
		params.Owner, limit, params.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out = []*Purchase{}
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPurchase(row pgx.Row) (*Purchase, error) {
	var (
		p           Purchase
		bundleID    pgtype.Text
		allocations []byte
		createdAt   pgtype.Timestamptz
	)
	err := row.Scan(
		&p.OrderID, &p.Owner, &p.BasketID, &p.Side, &p.Outcome, &p.InputMint,
		&p.GrossAmount, &p.FeeAmount, &p.NetAmount, &p.Path, &bundleID, &p.Slot,
		&p.Signatures, &allocations, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	p.BundleID = stringPtrFromPgtext(bundleID)
	p.Allocations = json.RawMessage(allocations)
	p.CreatedAt = createdAt.Time
	return &p, nil
}

func pgtextFromStringPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}
