package nats

import (
	"fmt"
	"time"

	"github.com/brojonat/basketswap/service/basket"
)

// OrderEvent is published when a basket order reaches a terminal state.
// It is published to the subject "orders.{owner}" in JetStream.
type OrderEvent struct {
	// Order identifiers
	OrderID  string `json:"order_id"`
	Owner    string `json:"owner"`
	BasketID string `json:"basket_id"`
	Side     string `json:"side"`

	// Outcome
	Outcome    string `json:"outcome"`
	Path       string `json:"path,omitempty"`
	BundleID   string `json:"bundle_id,omitempty"`
	Slot       uint64 `json:"slot,omitempty"`
	Error      string `json:"error,omitempty"`
	ErrorClass string `json:"error_class,omitempty"`

	// Amounts in raw units of the input asset
	GrossAmount uint64   `json:"gross_amount"`
	FeeAmount   uint64   `json:"fee_amount"`
	NetAmount   uint64   `json:"net_amount"`
	Signatures  []string `json:"signatures"`

	// Metadata
	PublishedAt time.Time `json:"published_at"`
}

// Subject returns the subject the event is published to.
func (e *OrderEvent) Subject() string {
	return SubjectForOwner(e.Owner)
}

// SubjectForOwner returns the subject carrying an owner's order events.
func SubjectForOwner(owner string) string {
	return fmt.Sprintf("orders.%s", owner)
}

// FromExecutionResult converts an execution result into an event for publishing.
func FromExecutionResult(basketID, owner string, res *basket.ExecutionResult) *OrderEvent {
	signatures := res.Signatures
	if signatures == nil {
		signatures = []string{}
	}
	return &OrderEvent{
		OrderID:     res.OrderID,
		Owner:       owner,
		BasketID:    basketID,
		Side:        string(res.Side),
		Outcome:     string(res.Outcome),
		Path:        string(res.Path),
		BundleID:    res.BundleID,
		Slot:        res.Slot,
		Error:       res.Error,
		ErrorClass:  string(res.ErrorClass),
		GrossAmount: res.GrossRaw,
		FeeAmount:   res.FeeRaw,
		NetAmount:   res.NetRaw,
		Signatures:  signatures,
		PublishedAt: time.Now().UTC(),
	}
}
