package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseOrderStatus is the lifecycle state of a purchase order.
//
// The state machine:
//
//	DRAFT → SUBMITTED → PENDING_APPROVAL → APPROVED → PARTIALLY_RECEIVED → CLOSED
//	Any status except CLOSED → CANCELLED
//
// A full receipt in one delivery skips PARTIALLY_RECEIVED and goes
// straight to CLOSED.
type PurchaseOrderStatus string

const (
	PODraft             PurchaseOrderStatus = "DRAFT"
	POSubmitted         PurchaseOrderStatus = "SUBMITTED"
	POPendingApproval   PurchaseOrderStatus = "PENDING_APPROVAL"
	POApproved          PurchaseOrderStatus = "APPROVED"
	POPartiallyReceived PurchaseOrderStatus = "PARTIALLY_RECEIVED"
	POClosed            PurchaseOrderStatus = "CLOSED"
	POCancelled         PurchaseOrderStatus = "CANCELLED"
)

var purchaseOrderTransitions = map[PurchaseOrderStatus][]PurchaseOrderStatus{
	PODraft:             {POSubmitted, POCancelled},
	POSubmitted:         {POPendingApproval, POCancelled},
	POPendingApproval:   {POApproved, POCancelled},
	POApproved:          {POPartiallyReceived, POClosed, POCancelled},
	POPartiallyReceived: {POPartiallyReceived, POClosed, POCancelled},
	POClosed:            {},
	POCancelled:         {},
}

// CanTransitionTo reports whether the state machine permits moving from s to next.
func (s PurchaseOrderStatus) CanTransitionTo(next PurchaseOrderStatus) bool {
	for _, allowed := range purchaseOrderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TransitionTo returns next if the move is legal, or ErrInvalidTransition.
func (s PurchaseOrderStatus) TransitionTo(next PurchaseOrderStatus) (PurchaseOrderStatus, error) {
	if !s.CanTransitionTo(next) {
		return s, invalidTransition("purchase order", string(s), string(next))
	}
	return next, nil
}

// Receivable reports whether goods may be received against a PO in this status.
func (s PurchaseOrderStatus) Receivable() bool {
	return s == POApproved || s == POPartiallyReceived
}

// PurchaseOrder is a procurement order header. PONumber is empty until
// the order is approved.
type PurchaseOrder struct {
	ID           int
	PONumber     string
	VendorID     int
	VendorCode   string // joined from vendors
	VendorName   string // joined from vendors
	Status       PurchaseOrderStatus
	ExpectedDate *time.Time
	TotalAmount  decimal.Decimal
	Notes        *string
	Lines        []PurchaseOrderLine
	CreatedAt    time.Time
	SubmittedAt  *time.Time
	ApprovedAt   *time.Time
	ClosedAt     *time.Time
	CancelledAt  *time.Time
}

// PurchaseOrderLine is one line on a purchase order. QuantityReceived
// accumulates across goods receipts and never exceeds QuantityOrdered.
type PurchaseOrderLine struct {
	ID               int
	OrderID          int
	LineNumber       int
	ProductVariantID int
	SKU              string // joined from product_variants
	ProductName      string // joined from product_variants
	QuantityOrdered  decimal.Decimal
	QuantityReceived decimal.Decimal
	UnitCost         decimal.Decimal
	LineTotal        decimal.Decimal
}

// POLineInput holds the fields required to create a purchase order line.
// If UnitCost is zero, the variant's cost_price is used.
type POLineInput struct {
	SKU      string
	Quantity decimal.Decimal
	UnitCost decimal.Decimal // zero means "use variant default"
}

// ReceiptLineInput is one PO line being received on a delivery.
type ReceiptLineInput struct {
	POLineID     int
	Quantity     decimal.Decimal
	LocationCode string // receiving bin within the warehouse
}

// GoodsReceipt is the header record of one delivery against a PO.
type GoodsReceipt struct {
	ID          int
	GRNNumber   string
	OrderID     int
	WarehouseID int
	ReceivedAt  time.Time
	Lines       []GoodsReceiptLine
}

// GoodsReceiptLine records the quantity received for one PO line.
type GoodsReceiptLine struct {
	ID         int
	ReceiptID  int
	POLineID   int
	LocationID int
	Quantity   decimal.Decimal
	UnitCost   decimal.Decimal
}

// PurchaseOrderService drives the procurement workflow.
type PurchaseOrderService interface {
	// CreatePurchaseOrder creates a DRAFT purchase order for the vendor.
	CreatePurchaseOrder(ctx context.Context, vendorCode string, lines []POLineInput, expectedDate *time.Time, notes string) (*PurchaseOrder, error)

	// AddPurchaseOrderLine appends a line to a DRAFT purchase order.
	AddPurchaseOrderLine(ctx context.Context, poID int, input POLineInput) (*PurchaseOrder, error)

	// SubmitPurchaseOrder moves DRAFT → SUBMITTED. The PO must have at
	// least one line.
	SubmitPurchaseOrder(ctx context.Context, poID int) (*PurchaseOrder, error)

	// RequestApproval moves SUBMITTED → PENDING_APPROVAL.
	RequestApproval(ctx context.Context, poID int) (*PurchaseOrder, error)

	// ApprovePurchaseOrder moves PENDING_APPROVAL → APPROVED and assigns
	// the gapless PO number.
	ApprovePurchaseOrder(ctx context.Context, poID int) (*PurchaseOrder, error)

	// CancelPurchaseOrder moves any status except CLOSED to CANCELLED.
	CancelPurchaseOrder(ctx context.Context, poID int) (*PurchaseOrder, error)

	// ReceiveGoods records a delivery against an APPROVED or
	// PARTIALLY_RECEIVED purchase order. Stock is booked into the given
	// warehouse through the ledger. When every line is fully received the
	// PO closes; otherwise it moves to PARTIALLY_RECEIVED. A receipt that
	// would push any line past its ordered quantity fails with
	// ErrOverReceipt and nothing is booked.
	ReceiveGoods(ctx context.Context, poID int, warehouseCode string, lines []ReceiptLineInput) (*GoodsReceipt, error)

	// GetPurchaseOrder returns a purchase order with its lines.
	GetPurchaseOrder(ctx context.Context, poID int) (*PurchaseOrder, error)

	// GetPurchaseOrders returns PO headers, optionally filtered by status.
	GetPurchaseOrders(ctx context.Context, status *PurchaseOrderStatus) ([]PurchaseOrder, error)
}
