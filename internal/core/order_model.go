package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of a sales order.
//
// The state machine:
//
//	DRAFT → CONFIRMED → ALLOCATED → PICKED → PACKED → SHIPPED → INVOICED
//	Any status except SHIPPED and INVOICED → CANCELLED
type OrderStatus string

const (
	OrderDraft     OrderStatus = "DRAFT"
	OrderConfirmed OrderStatus = "CONFIRMED"
	OrderAllocated OrderStatus = "ALLOCATED"
	OrderPicked    OrderStatus = "PICKED"
	OrderPacked    OrderStatus = "PACKED"
	OrderShipped   OrderStatus = "SHIPPED"
	OrderInvoiced  OrderStatus = "INVOICED"
	OrderCancelled OrderStatus = "CANCELLED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderDraft:     {OrderConfirmed, OrderCancelled},
	OrderConfirmed: {OrderAllocated, OrderCancelled},
	OrderAllocated: {OrderPicked, OrderCancelled},
	OrderPicked:    {OrderPacked, OrderCancelled},
	OrderPacked:    {OrderShipped, OrderCancelled},
	OrderShipped:   {OrderInvoiced},
	OrderInvoiced:  {},
	OrderCancelled: {},
}

// CanTransitionTo reports whether the state machine permits moving from s to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TransitionTo returns next if the move is legal, or ErrInvalidTransition.
func (s OrderStatus) TransitionTo(next OrderStatus) (OrderStatus, error) {
	if !s.CanTransitionTo(next) {
		return s, invalidTransition("sales order", string(s), string(next))
	}
	return next, nil
}

// SalesOrder is a customer order header. OrderNumber is empty until the
// order is confirmed; gapless numbers are only spent on real orders.
// Fulfillment is scoped to the order's warehouse.
type SalesOrder struct {
	ID            int
	OrderNumber   string
	CustomerID    int
	CustomerCode  string // joined from customers
	CustomerName  string // joined from customers
	WarehouseID   int
	WarehouseCode string // joined from warehouses
	Status        OrderStatus
	TotalAmount   decimal.Decimal
	Notes         *string
	Lines         []SalesOrderLine
	CreatedAt     time.Time
	ConfirmedAt   *time.Time
	AllocatedAt   *time.Time
	PickedAt      *time.Time
	PackedAt      *time.Time
	ShippedAt     *time.Time
	InvoicedAt    *time.Time
	CancelledAt   *time.Time
}

// SalesOrderLine is one line item on a sales order.
type SalesOrderLine struct {
	ID               int
	OrderID          int
	LineNumber       int
	ProductVariantID int
	SKU              string // joined from product_variants
	ProductName      string // joined from product_variants
	Quantity         decimal.Decimal
	UnitPrice        decimal.Decimal
	LineTotal        decimal.Decimal
}

// OrderLineInput is used when creating an order or adding a line.
// If UnitPrice is zero, the variant's sales_price is used.
type OrderLineInput struct {
	SKU       string
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal // zero means "use variant default"
}

// OrderService drives the sales order workflow. Operations that change
// state return the domain events raised, after the transaction commits.
type OrderService interface {
	// CreateOrder creates a DRAFT order for the customer, fulfilled from
	// the given warehouse, with the given lines.
	CreateOrder(ctx context.Context, customerCode, warehouseCode string, lines []OrderLineInput, notes string) (*SalesOrder, error)

	// AddOrderLine appends a line to a DRAFT order.
	AddOrderLine(ctx context.Context, orderID int, input OrderLineInput) (*SalesOrder, error)

	// ConfirmOrder moves DRAFT → CONFIRMED and assigns the order number.
	ConfirmOrder(ctx context.Context, orderID int) (*SalesOrder, []DomainEvent, error)

	// AllocateOrder reserves stock for every line and moves CONFIRMED → ALLOCATED.
	AllocateOrder(ctx context.Context, orderID int) (*SalesOrder, []DomainEvent, error)

	// PickOrder moves ALLOCATED → PICKED.
	PickOrder(ctx context.Context, orderID int) (*SalesOrder, []DomainEvent, error)

	// PackOrder moves PICKED → PACKED.
	PackOrder(ctx context.Context, orderID int) (*SalesOrder, []DomainEvent, error)

	// ShipOrder moves PACKED → SHIPPED, consuming the held reservations
	// and deducting stock through the ledger.
	ShipOrder(ctx context.Context, orderID int) (*SalesOrder, []DomainEvent, error)

	// InvoiceOrder moves SHIPPED → INVOICED.
	InvoiceOrder(ctx context.Context, orderID int) (*SalesOrder, []DomainEvent, error)

	// CancelOrder moves any pre-shipment status to CANCELLED. Held
	// reservations are released back to available stock.
	CancelOrder(ctx context.Context, orderID int) (*SalesOrder, []DomainEvent, error)

	// GetOrder returns an order with its lines.
	GetOrder(ctx context.Context, orderID int) (*SalesOrder, error)

	// GetOrderByNumber returns an order by its assigned number.
	GetOrderByNumber(ctx context.Context, orderNumber string) (*SalesOrder, error)

	// GetOrders returns order headers, optionally filtered by status.
	GetOrders(ctx context.Context, status *OrderStatus) ([]SalesOrder, error)
}
