package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const receiptRefKind = "GOODS_RECEIPT"

type purchaseOrderService struct {
	pool   *pgxpool.Pool
	ledger *StockLedger
}

func NewPurchaseOrderService(pool *pgxpool.Pool, ledger *StockLedger) PurchaseOrderService {
	return &purchaseOrderService{pool: pool, ledger: ledger}
}

// lockPOTx locks the PO header. NOWAIT, same contention contract as the
// sales order side.
func (s *purchaseOrderService) lockPOTx(ctx context.Context, tx pgx.Tx, poID int) (PurchaseOrderStatus, error) {
	var status PurchaseOrderStatus
	err := tx.QueryRow(ctx,
		"SELECT status FROM purchase_orders WHERE id = $1 FOR UPDATE NOWAIT",
		poID,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("purchase order %d: %w", poID, ErrNotFound)
		}
		if isLockNotAvailable(err) {
			return "", fmt.Errorf("purchase order %d: %w", poID, ErrConflict)
		}
		return "", fmt.Errorf("failed to fetch purchase order %d: %w", poID, err)
	}
	return status, nil
}

type resolvedPOLine struct {
	variantID int
	quantity  decimal.Decimal
	unitCost  decimal.Decimal
	lineTotal decimal.Decimal
}

func (s *purchaseOrderService) resolvePOLine(ctx context.Context, q pgxQuerier, input POLineInput) (resolvedPOLine, error) {
	var rl resolvedPOLine
	if !input.Quantity.IsPositive() {
		return rl, fmt.Errorf("quantity for %s must be positive, got %s", input.SKU, input.Quantity.String())
	}

	var costPrice decimal.Decimal
	err := q.QueryRow(ctx,
		"SELECT id, cost_price FROM product_variants WHERE sku = $1 AND is_active",
		input.SKU,
	).Scan(&rl.variantID, &costPrice)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rl, fmt.Errorf("product variant %s: %w", input.SKU, ErrNotFound)
		}
		return rl, fmt.Errorf("failed to resolve variant %s: %w", input.SKU, err)
	}

	rl.quantity = input.Quantity
	rl.unitCost = input.UnitCost
	if rl.unitCost.IsZero() {
		rl.unitCost = costPrice
	}
	rl.lineTotal = rl.quantity.Mul(rl.unitCost).Round(2)
	return rl, nil
}

func (s *purchaseOrderService) CreatePurchaseOrder(ctx context.Context, vendorCode string, lines []POLineInput, expectedDate *time.Time, notes string) (*PurchaseOrder, error) {
	vendorID, err := resolveVendorID(ctx, s.pool, vendorCode, true)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	total := decimal.Zero
	resolved := make([]resolvedPOLine, 0, len(lines))
	for _, input := range lines {
		rl, err := s.resolvePOLine(ctx, tx, input)
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

	var poID int
	err = tx.QueryRow(ctx, `
		INSERT INTO purchase_orders (vendor_id, status, total_amount, expected_delivery_date, notes)
		VALUES ($1, 'DRAFT', $2, $3, $4)
		RETURNING id
	`, vendorID, total, expectedDate, notesArg).Scan(&poID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert purchase order: %w", err)
	}

	for i, rl := range resolved {
		_, err = tx.Exec(ctx, `
			INSERT INTO purchase_order_lines (order_id, line_number, product_variant_id, quantity_ordered, unit_cost, line_total)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, poID, i+1, rl.variantID, rl.quantity, rl.unitCost, rl.lineTotal)
		if err != nil {
			return nil, fmt.Errorf("failed to insert PO line %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit PO creation: %w", err)
	}

	return s.GetPurchaseOrder(ctx, poID)
}

func (s *purchaseOrderService) AddPurchaseOrderLine(ctx context.Context, poID int, input POLineInput) (*PurchaseOrder, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	status, err := s.lockPOTx(ctx, tx, poID)
	if err != nil {
		return nil, err
	}
	if status != PODraft {
		return nil, invalidTransition("purchase order", string(status), "accept new lines")
	}

	rl, err := s.resolvePOLine(ctx, tx, input)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO purchase_order_lines (order_id, line_number, product_variant_id, quantity_ordered, unit_cost, line_total)
		VALUES ($1, (SELECT COALESCE(MAX(line_number), 0) + 1 FROM purchase_order_lines WHERE order_id = $1), $2, $3, $4, $5)
	`, poID, rl.variantID, rl.quantity, rl.unitCost, rl.lineTotal)
	if err != nil {
		return nil, fmt.Errorf("failed to insert PO line: %w", err)
	}

	_, err = tx.Exec(ctx,
		"UPDATE purchase_orders SET total_amount = total_amount + $2 WHERE id = $1",
		poID, rl.lineTotal,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update PO total: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit line addition: %w", err)
	}

	return s.GetPurchaseOrder(ctx, poID)
}

func (s *purchaseOrderService) SubmitPurchaseOrder(ctx context.Context, poID int) (*PurchaseOrder, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	status, err := s.lockPOTx(ctx, tx, poID)
	if err != nil {
		return nil, err
	}
	if _, err := status.TransitionTo(POSubmitted); err != nil {
		return nil, err
	}

	var lineCount int
	if err := tx.QueryRow(ctx,
		"SELECT COUNT(*) FROM purchase_order_lines WHERE order_id = $1", poID,
	).Scan(&lineCount); err != nil {
		return nil, fmt.Errorf("failed to count PO lines: %w", err)
	}
	if lineCount == 0 {
		return nil, invalidTransition("purchase order", string(status), "submit with no lines")
	}

	_, err = tx.Exec(ctx,
		"UPDATE purchase_orders SET status = 'SUBMITTED', submitted_at = NOW() WHERE id = $1",
		poID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to submit purchase order %d: %w", poID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit submission: %w", err)
	}

	return s.GetPurchaseOrder(ctx, poID)
}

func (s *purchaseOrderService) RequestApproval(ctx context.Context, poID int) (*PurchaseOrder, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	status, err := s.lockPOTx(ctx, tx, poID)
	if err != nil {
		return nil, err
	}
	if _, err := status.TransitionTo(POPendingApproval); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		"UPDATE purchase_orders SET status = 'PENDING_APPROVAL' WHERE id = $1",
		poID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to move purchase order %d to approval: %w", poID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit approval request: %w", err)
	}

	return s.GetPurchaseOrder(ctx, poID)
}

func (s *purchaseOrderService) ApprovePurchaseOrder(ctx context.Context, poID int) (*PurchaseOrder, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	status, err := s.lockPOTx(ctx, tx, poID)
	if err != nil {
		return nil, err
	}
	if _, err := status.TransitionTo(POApproved); err != nil {
		return nil, err
	}

	poNumber, err := nextDocumentNumber(ctx, tx, seqPurchaseOrder)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE purchase_orders
		SET status = 'APPROVED', po_number = $1, approved_at = NOW()
		WHERE id = $2
	`, poNumber, poID)
	if err != nil {
		return nil, fmt.Errorf("failed to approve purchase order %d: %w", poID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit approval: %w", err)
	}

	return s.GetPurchaseOrder(ctx, poID)
}

func (s *purchaseOrderService) CancelPurchaseOrder(ctx context.Context, poID int) (*PurchaseOrder, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	status, err := s.lockPOTx(ctx, tx, poID)
	if err != nil {
		return nil, err
	}
	if _, err := status.TransitionTo(POCancelled); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		"UPDATE purchase_orders SET status = 'CANCELLED', cancelled_at = NOW() WHERE id = $1",
		poID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel purchase order %d: %w", poID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit cancellation: %w", err)
	}

	return s.GetPurchaseOrder(ctx, poID)
}

func (s *purchaseOrderService) ReceiveGoods(ctx context.Context, poID int, warehouseCode string, lines []ReceiptLineInput) (*GoodsReceipt, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("goods receipt needs at least one line")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	status, err := s.lockPOTx(ctx, tx, poID)
	if err != nil {
		return nil, err
	}
	if !status.Receivable() {
		return nil, invalidTransition("purchase order", string(status), "receive goods")
	}

	warehouseID, err := resolveWarehouseID(ctx, tx, warehouseCode, true)
	if err != nil {
		return nil, err
	}

	grnNumber, err := nextDocumentNumber(ctx, tx, seqGoodsReceipt)
	if err != nil {
		return nil, err
	}

	receipt := &GoodsReceipt{GRNNumber: grnNumber, OrderID: poID, WarehouseID: warehouseID}
	err = tx.QueryRow(ctx, `
		INSERT INTO goods_receipt_notes (grn_number, purchase_order_id, warehouse_id)
		VALUES ($1, $2, $3)
		RETURNING id, received_at
	`, grnNumber, poID, warehouseID).Scan(&receipt.ID, &receipt.ReceivedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert goods receipt: %w", err)
	}

	for _, input := range lines {
		if !input.Quantity.IsPositive() {
			return nil, fmt.Errorf("receipt quantity for PO line %d must be positive", input.POLineID)
		}

		var variantID int
		var ordered, received, unitCost decimal.Decimal
		err = tx.QueryRow(ctx, `
			SELECT product_variant_id, quantity_ordered, quantity_received, unit_cost
			FROM purchase_order_lines
			WHERE id = $1 AND order_id = $2
			FOR UPDATE
		`, input.POLineID, poID).Scan(&variantID, &ordered, &received, &unitCost)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("PO line %d: %w", input.POLineID, ErrNotFound)
			}
			return nil, fmt.Errorf("failed to lock PO line %d: %w", input.POLineID, err)
		}

		cumulative := received.Add(input.Quantity)
		if cumulative.GreaterThan(ordered) {
			return nil, fmt.Errorf("%w: PO line %d ordered %s, already received %s, receiving %s",
				ErrOverReceipt, input.POLineID, ordered.String(), received.String(), input.Quantity.String())
		}

		locationID, err := resolveLocationID(ctx, tx, warehouseID, input.LocationCode, true)
		if err != nil {
			return nil, err
		}

		refID := receipt.ID
		if _, err := s.ledger.AppendEntryTx(ctx, tx, LedgerEntry{
			EntryType:        EntryPurchase,
			ProductVariantID: variantID,
			LocationID:       locationID,
			QuantityChange:   input.Quantity,
			UnitCost:         unitCost,
			ReferenceKind:    ptr(receiptRefKind),
			ReferenceID:      &refID,
		}); err != nil {
			return nil, err
		}

		grl := GoodsReceiptLine{ReceiptID: receipt.ID, POLineID: input.POLineID, LocationID: locationID, Quantity: input.Quantity, UnitCost: unitCost}
		err = tx.QueryRow(ctx, `
			INSERT INTO goods_receipt_lines (grn_id, po_line_id, location_id, quantity, unit_cost)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, receipt.ID, input.POLineID, locationID, input.Quantity, unitCost).Scan(&grl.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to insert receipt line: %w", err)
		}
		receipt.Lines = append(receipt.Lines, grl)

		_, err = tx.Exec(ctx,
			"UPDATE purchase_order_lines SET quantity_received = $2 WHERE id = $1",
			input.POLineID, cumulative,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to update PO line %d: %w", input.POLineID, err)
		}
	}

	var fullyReceived bool
	err = tx.QueryRow(ctx,
		"SELECT bool_and(quantity_received >= quantity_ordered) FROM purchase_order_lines WHERE order_id = $1",
		poID,
	).Scan(&fullyReceived)
	if err != nil {
		return nil, fmt.Errorf("failed to check receipt completion: %w", err)
	}

	if fullyReceived {
		_, err = tx.Exec(ctx,
			"UPDATE purchase_orders SET status = 'CLOSED', closed_at = NOW() WHERE id = $1",
			poID,
		)
	} else {
		_, err = tx.Exec(ctx,
			"UPDATE purchase_orders SET status = 'PARTIALLY_RECEIVED' WHERE id = $1",
			poID,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update PO status after receipt: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit goods receipt: %w", err)
	}

	return receipt, nil
}

// ── Reads ────────────────────────────────────────────────────────────────────

const poHeaderSelect = `
	SELECT po.id, po.po_number, po.vendor_id, v.code, v.name, po.status,
	       po.expected_delivery_date, po.total_amount, po.notes, po.created_at,
	       po.submitted_at, po.approved_at, po.closed_at, po.cancelled_at
	FROM purchase_orders po
	JOIN vendors v ON v.id = po.vendor_id
`

func scanPOHeader(row pgx.Row) (*PurchaseOrder, error) {
	var po PurchaseOrder
	var number *string
	err := row.Scan(&po.ID, &number, &po.VendorID, &po.VendorCode, &po.VendorName, &po.Status,
		&po.ExpectedDate, &po.TotalAmount, &po.Notes, &po.CreatedAt,
		&po.SubmittedAt, &po.ApprovedAt, &po.ClosedAt, &po.CancelledAt)
	if err != nil {
		return nil, err
	}
	if number != nil {
		po.PONumber = *number
	}
	return &po, nil
}

func (s *purchaseOrderService) GetPurchaseOrder(ctx context.Context, poID int) (*PurchaseOrder, error) {
	po, err := scanPOHeader(s.pool.QueryRow(ctx, poHeaderSelect+"WHERE po.id = $1", poID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("purchase order %d: %w", poID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch purchase order %d: %w", poID, err)
	}

	po.Lines, err = fetchPOLinesQ(ctx, s.pool, poID)
	if err != nil {
		return nil, err
	}
	return po, nil
}

func (s *purchaseOrderService) GetPurchaseOrders(ctx context.Context, status *PurchaseOrderStatus) ([]PurchaseOrder, error) {
	query := poHeaderSelect
	var args []any
	if status != nil {
		query += "WHERE po.status = $1"
		args = append(args, *status)
	}
	query += " ORDER BY po.id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query purchase orders: %w", err)
	}
	defer rows.Close()

	var pos []PurchaseOrder
	for rows.Next() {
		po, err := scanPOHeader(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan purchase order: %w", err)
		}
		pos = append(pos, *po)
	}
	return pos, rows.Err()
}

func fetchPOLinesQ(ctx context.Context, q pgxRowQuerier, poID int) ([]PurchaseOrderLine, error) {
	rows, err := q.Query(ctx, `
		SELECT pol.id, pol.order_id, pol.line_number,
		       pv.id, pv.sku, pv.name,
		       pol.quantity_ordered, pol.quantity_received, pol.unit_cost, pol.line_total
		FROM purchase_order_lines pol
		JOIN product_variants pv ON pv.id = pol.product_variant_id
		WHERE pol.order_id = $1
		ORDER BY pol.line_number
	`, poID)
	if err != nil {
		return nil, fmt.Errorf("failed to query PO lines: %w", err)
	}
	defer rows.Close()

	var lines []PurchaseOrderLine
	for rows.Next() {
		var l PurchaseOrderLine
		if err := rows.Scan(
			&l.ID, &l.OrderID, &l.LineNumber,
			&l.ProductVariantID, &l.SKU, &l.ProductName,
			&l.QuantityOrdered, &l.QuantityReceived, &l.UnitCost, &l.LineTotal,
		); err != nil {
			return nil, fmt.Errorf("failed to scan PO line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}
