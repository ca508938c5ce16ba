package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type orderService struct {
	pool  *pgxpool.Pool
	alloc *AllocationService
}

func NewOrderService(pool *pgxpool.Pool, alloc *AllocationService) OrderService {
	return &orderService{pool: pool, alloc: alloc}
}

// lockOrderTx locks the order header for the rest of the transaction.
// NOWAIT: a second worker touching the same order gets ErrConflict
// immediately instead of queueing behind the first.
func (s *orderService) lockOrderTx(ctx context.Context, tx pgx.Tx, orderID int) (status OrderStatus, orderNumber string, err error) {
	var number *string
	err = tx.QueryRow(ctx,
		"SELECT status, order_number FROM sales_orders WHERE id = $1 FOR UPDATE NOWAIT",
		orderID,
	).Scan(&status, &number)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", fmt.Errorf("order %d: %w", orderID, ErrNotFound)
		}
		if isLockNotAvailable(err) {
			return "", "", fmt.Errorf("order %d: %w", orderID, ErrConflict)
		}
		return "", "", fmt.Errorf("failed to fetch order %d: %w", orderID, err)
	}
	if number != nil {
		orderNumber = *number
	}
	return status, orderNumber, nil
}

// resolvedOrderLine is an order line input priced against the catalog.
type resolvedOrderLine struct {
	variantID int
	quantity  decimal.Decimal
	unitPrice decimal.Decimal
	lineTotal decimal.Decimal
}

func (s *orderService) resolveOrderLine(ctx context.Context, q pgxQuerier, input OrderLineInput) (resolvedOrderLine, error) {
	var rl resolvedOrderLine
	if !input.Quantity.IsPositive() {
		return rl, fmt.Errorf("quantity for %s must be positive, got %s", input.SKU, input.Quantity.String())
	}

	var salesPrice decimal.Decimal
	err := q.QueryRow(ctx,
		"SELECT id, sales_price FROM product_variants WHERE sku = $1 AND is_active",
		input.SKU,
	).Scan(&rl.variantID, &salesPrice)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rl, fmt.Errorf("product variant %s: %w", input.SKU, ErrNotFound)
		}
		return rl, fmt.Errorf("failed to resolve variant %s: %w", input.SKU, err)
	}

	rl.quantity = input.Quantity
	rl.unitPrice = input.UnitPrice
	if rl.unitPrice.IsZero() {
		rl.unitPrice = salesPrice
	}
	rl.lineTotal = rl.quantity.Mul(rl.unitPrice).Round(2)
	return rl, nil
}

func (s *orderService) CreateOrder(ctx context.Context, customerCode, warehouseCode string, lines []OrderLineInput, notes string) (*SalesOrder, error) {
	customerID, err := resolveCustomerID(ctx, s.pool, customerCode, true)
	if err != nil {
		return nil, err
	}
	warehouseID, err := resolveWarehouseID(ctx, s.pool, warehouseCode, true)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	total := decimal.Zero
	resolved := make([]resolvedOrderLine, 0, len(lines))
	for _, input := range lines {
		rl, err := s.resolveOrderLine(ctx, tx, input)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, rl)
		total = total.Add(rl.lineTotal)
	}

	var notesArg *string
	if notes != "" {
		notesArg = &notes
	}

	var orderID int
	err = tx.QueryRow(ctx, `
		INSERT INTO sales_orders (customer_id, warehouse_id, status, total_amount, notes)
		VALUES ($1, $2, 'DRAFT', $3, $4)
		RETURNING id
	`, customerID, warehouseID, total, notesArg).Scan(&orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert sales order: %w", err)
	}

	for i, rl := range resolved {
		_, err = tx.Exec(ctx, `
			INSERT INTO sales_order_lines (order_id, line_number, product_variant_id, quantity, unit_price, line_total)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, orderID, i+1, rl.variantID, rl.quantity, rl.unitPrice, rl.lineTotal)
		if err != nil {
			return nil, fmt.Errorf("failed to insert order line %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit order creation: %w", err)
	}

	return s.GetOrder(ctx, orderID)
}

func (s *orderService) AddOrderLine(ctx context.Context, orderID int, input OrderLineInput) (*SalesOrder, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	status, _, err := s.lockOrderTx(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if status != OrderDraft {
		return nil, invalidTransition("sales order", string(status), "accept new lines")
	}

	rl, err := s.resolveOrderLine(ctx, tx, input)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO sales_order_lines (order_id, line_number, product_variant_id, quantity, unit_price, line_total)
		VALUES ($1, (SELECT COALESCE(MAX(line_number), 0) + 1 FROM sales_order_lines WHERE order_id = $1), $2, $3, $4, $5)
	`, orderID, rl.variantID, rl.quantity, rl.unitPrice, rl.lineTotal)
	if err != nil {
		return nil, fmt.Errorf("failed to insert order line: %w", err)
	}

	_, err = tx.Exec(ctx,
		"UPDATE sales_orders SET total_amount = total_amount + $2 WHERE id = $1",
		orderID, rl.lineTotal,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update order total: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit line addition: %w", err)
	}

	return s.GetOrder(ctx, orderID)
}

func (s *orderService) ConfirmOrder(ctx context.Context, orderID int) (*SalesOrder, []DomainEvent, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	status, _, err := s.lockOrderTx(ctx, tx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := status.TransitionTo(OrderConfirmed); err != nil {
		return nil, nil, err
	}

	var lineCount int
	if err := tx.QueryRow(ctx,
		"SELECT COUNT(*) FROM sales_order_lines WHERE order_id = $1", orderID,
	).Scan(&lineCount); err != nil {
		return nil, nil, fmt.Errorf("failed to count order lines: %w", err)
	}
	if lineCount == 0 {
		return nil, nil, invalidTransition("sales order", string(status), "confirm with no lines")
	}

	// Numbers are spent inside the tx, so a failed confirm burns nothing.
	orderNumber, err := nextDocumentNumber(ctx, tx, seqSalesOrder)
	if err != nil {
		return nil, nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE sales_orders
		SET status = 'CONFIRMED', order_number = $1, confirmed_at = NOW()
		WHERE id = $2
	`, orderNumber, orderID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to confirm order %d: %w", orderID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit order confirmation: %w", err)
	}

	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return order, []DomainEvent{newEvent(EventOrderConfirmed, orderID, orderNumber)}, nil
}

func (s *orderService) AllocateOrder(ctx context.Context, orderID int) (*SalesOrder, []DomainEvent, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	status, orderNumber, err := s.lockOrderTx(ctx, tx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := status.TransitionTo(OrderAllocated); err != nil {
		return nil, nil, err
	}

	var warehouseID int
	if err := tx.QueryRow(ctx,
		"SELECT warehouse_id FROM sales_orders WHERE id = $1", orderID,
	).Scan(&warehouseID); err != nil {
		return nil, nil, fmt.Errorf("failed to fetch order warehouse: %w", err)
	}

	lines, err := fetchOrderLinesQ(ctx, tx, orderID)
	if err != nil {
		return nil, nil, err
	}

	if err := s.alloc.AllocateOrderTx(ctx, tx, &SalesOrder{ID: orderID, WarehouseID: warehouseID, Lines: lines}); err != nil {
		return nil, nil, fmt.Errorf("allocating order %s: %w", orderNumber, err)
	}

	_, err = tx.Exec(ctx,
		"UPDATE sales_orders SET status = 'ALLOCATED', allocated_at = NOW() WHERE id = $1",
		orderID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to mark order allocated: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit allocation: %w", err)
	}

	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return order, []DomainEvent{newEvent(EventOrderAllocated, orderID, orderNumber)}, nil
}

// stepOrder performs a plain status transition with no side effects beyond
// the status row itself. Pick, pack and invoice are such steps.
func (s *orderService) stepOrder(ctx context.Context, orderID int, next OrderStatus, tsColumn string) (*SalesOrder, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	status, _, err := s.lockOrderTx(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if _, err := status.TransitionTo(next); err != nil {
		return nil, err
	}

	// tsColumn comes from a fixed set of callers, never user input.
	_, err = tx.Exec(ctx,
		fmt.Sprintf("UPDATE sales_orders SET status = $1, %s = NOW() WHERE id = $2", tsColumn),
		next, orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to move order %d to %s: %w", orderID, next, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}

	return s.GetOrder(ctx, orderID)
}

func (s *orderService) PickOrder(ctx context.Context, orderID int) (*SalesOrder, []DomainEvent, error) {
	order, err := s.stepOrder(ctx, orderID, OrderPicked, "picked_at")
	return order, nil, err
}

func (s *orderService) PackOrder(ctx context.Context, orderID int) (*SalesOrder, []DomainEvent, error) {
	order, err := s.stepOrder(ctx, orderID, OrderPacked, "packed_at")
	return order, nil, err
}

func (s *orderService) ShipOrder(ctx context.Context, orderID int) (*SalesOrder, []DomainEvent, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	status, orderNumber, err := s.lockOrderTx(ctx, tx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := status.TransitionTo(OrderShipped); err != nil {
		return nil, nil, err
	}

	// Reservations become physical deductions atomically with the
	// status change.
	if err := s.alloc.ConsumeOrderTx(ctx, tx, orderID); err != nil {
		return nil, nil, fmt.Errorf("shipping order %s: %w", orderNumber, err)
	}

	_, err = tx.Exec(ctx,
		"UPDATE sales_orders SET status = 'SHIPPED', shipped_at = NOW() WHERE id = $1",
		orderID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to mark order shipped: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit shipment: %w", err)
	}

	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return order, []DomainEvent{newEvent(EventOrderShipped, orderID, orderNumber)}, nil
}

func (s *orderService) InvoiceOrder(ctx context.Context, orderID int) (*SalesOrder, []DomainEvent, error) {
	order, err := s.stepOrder(ctx, orderID, OrderInvoiced, "invoiced_at")
	return order, nil, err
}

func (s *orderService) CancelOrder(ctx context.Context, orderID int) (*SalesOrder, []DomainEvent, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	status, orderNumber, err := s.lockOrderTx(ctx, tx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := status.TransitionTo(OrderCancelled); err != nil {
		return nil, nil, err
	}

	// Orders past allocation hold stock. A DRAFT or CONFIRMED order has
	// nothing held, so ErrAlreadyReleased is the expected outcome there.
	if err := s.alloc.ReleaseOrderTx(ctx, tx, orderID); err != nil && !errors.Is(err, ErrAlreadyReleased) {
		return nil, nil, fmt.Errorf("cancelling order %d: %w", orderID, err)
	}

	_, err = tx.Exec(ctx,
		"UPDATE sales_orders SET status = 'CANCELLED', cancelled_at = NOW() WHERE id = $1",
		orderID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to cancel order %d: %w", orderID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit cancellation: %w", err)
	}

	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return order, []DomainEvent{newEvent(EventOrderCancelled, orderID, orderNumber)}, nil
}

// ── Reads ────────────────────────────────────────────────────────────────────

const orderHeaderSelect = `
	SELECT so.id, so.order_number, so.customer_id, c.code, c.name,
	       so.warehouse_id, w.code, so.status,
	       so.total_amount, so.notes, so.created_at, so.confirmed_at, so.allocated_at,
	       so.picked_at, so.packed_at, so.shipped_at, so.invoiced_at, so.cancelled_at
	FROM sales_orders so
	JOIN customers c ON c.id = so.customer_id
	JOIN warehouses w ON w.id = so.warehouse_id
`

func scanOrderHeader(row pgx.Row) (*SalesOrder, error) {
	var o SalesOrder
	var number *string
	err := row.Scan(&o.ID, &number, &o.CustomerID, &o.CustomerCode, &o.CustomerName,
		&o.WarehouseID, &o.WarehouseCode, &o.Status,
		&o.TotalAmount, &o.Notes, &o.CreatedAt, &o.ConfirmedAt, &o.AllocatedAt,
		&o.PickedAt, &o.PackedAt, &o.ShippedAt, &o.InvoicedAt, &o.CancelledAt)
	if err != nil {
		return nil, err
	}
	if number != nil {
		o.OrderNumber = *number
	}
	return &o, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID int) (*SalesOrder, error) {
	order, err := scanOrderHeader(s.pool.QueryRow(ctx, orderHeaderSelect+"WHERE so.id = $1", orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("order %d: %w", orderID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch order %d: %w", orderID, err)
	}

	order.Lines, err = fetchOrderLinesQ(ctx, s.pool, orderID)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *orderService) GetOrderByNumber(ctx context.Context, orderNumber string) (*SalesOrder, error) {
	order, err := scanOrderHeader(s.pool.QueryRow(ctx, orderHeaderSelect+"WHERE so.order_number = $1", orderNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("order %s: %w", orderNumber, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch order %s: %w", orderNumber, err)
	}

	order.Lines, err = fetchOrderLinesQ(ctx, s.pool, order.ID)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *orderService) GetOrders(ctx context.Context, status *OrderStatus) ([]SalesOrder, error) {
	query := orderHeaderSelect
	var args []any
	if status != nil {
		query += "WHERE so.status = $1"
		args = append(args, *status)
	}
	query += " ORDER BY so.id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []SalesOrder
	for rows.Next() {
		o, err := scanOrderHeader(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func fetchOrderLinesQ(ctx context.Context, q pgxRowQuerier, orderID int) ([]SalesOrderLine, error) {
	rows, err := q.Query(ctx, `
		SELECT sol.id, sol.order_id, sol.line_number,
		       pv.id, pv.sku, pv.name,
		       sol.quantity, sol.unit_price, sol.line_total
		FROM sales_order_lines sol
		JOIN product_variants pv ON pv.id = sol.product_variant_id
		WHERE sol.order_id = $1
		ORDER BY sol.line_number
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order lines: %w", err)
	}
	defer rows.Close()

	var lines []SalesOrderLine
	for rows.Next() {
		var l SalesOrderLine
		if err := rows.Scan(
			&l.ID, &l.OrderID, &l.LineNumber,
			&l.ProductVariantID, &l.SKU, &l.ProductName,
			&l.Quantity, &l.UnitPrice, &l.LineTotal,
		); err != nil {
			return nil, fmt.Errorf("failed to scan order line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}
