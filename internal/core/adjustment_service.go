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

// StockAdjustment is the audit record of a manual correction. The matching
// ADJUSTMENT ledger entry references it.
type StockAdjustment struct {
	ID               int
	ProductVariantID int
	LocationID       int
	QuantityDelta    decimal.Decimal
	ReasonCode       AdjustmentReason
	AdjustedBy       string
	Notes            *string
	CreatedAt        time.Time
}

// TransferOrder records one completed inter-warehouse stock move.
type TransferOrder struct {
	ID              int
	TransferNumber  string
	FromWarehouseID int
	ToWarehouseID   int
	Notes           *string
	Lines           []TransferOrderLine
	CreatedAt       time.Time
}

// TransferOrderLine is one variant moved by a transfer order.
type TransferOrderLine struct {
	ID               int
	TransferOrderID  int
	ProductVariantID int
	Quantity         decimal.Decimal
}

// TransferLineInput is one requested line of an inter-warehouse transfer.
type TransferLineInput struct {
	SKU      string
	Quantity decimal.Decimal
}

var validReasons = map[AdjustmentReason]bool{
	ReasonDamaged:    true,
	ReasonExpired:    true,
	ReasonLost:       true,
	ReasonFound:      true,
	ReasonCycleCount: true,
	ReasonOther:      true,
}

// AdjustmentService handles the stock movements that happen outside the
// order workflows: manual corrections, inter-warehouse transfers and
// customer returns.
type AdjustmentService struct {
	pool   *pgxpool.Pool
	ledger *StockLedger
}

func NewAdjustmentService(pool *pgxpool.Pool, ledger *StockLedger) *AdjustmentService {
	return &AdjustmentService{pool: pool, ledger: ledger}
}

// ApplyAdjustment books a manual correction for one variant at one bin.
// Positive delta adds stock, negative removes it. A negative delta that
// would drive the bin below zero, or below its allocated quantity, fails
// with ErrNegativeStock.
func (s *AdjustmentService) ApplyAdjustment(ctx context.Context, sku, warehouseCode, locationCode string, delta decimal.Decimal, reason AdjustmentReason, adjustedBy, notes string) (*StockAdjustment, error) {
	if delta.IsZero() {
		return nil, fmt.Errorf("adjustment delta must be non-zero")
	}
	if !validReasons[reason] {
		return nil, fmt.Errorf("unknown adjustment reason %q", reason)
	}
	if adjustedBy == "" {
		return nil, fmt.Errorf("adjustment requires an operator name")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	variantID, err := resolveVariantID(ctx, tx, sku, false)
	if err != nil {
		return nil, err
	}
	warehouseID, err := resolveWarehouseID(ctx, tx, warehouseCode, true)
	if err != nil {
		return nil, err
	}
	locationID, err := resolveLocationID(ctx, tx, warehouseID, locationCode, true)
	if err != nil {
		return nil, err
	}

	var costPrice decimal.Decimal
	if err := tx.QueryRow(ctx, "SELECT cost_price FROM product_variants WHERE id = $1", variantID).Scan(&costPrice); err != nil {
		return nil, fmt.Errorf("failed to fetch cost price for %s: %w", sku, err)
	}

	adj := &StockAdjustment{
		ProductVariantID: variantID,
		LocationID:       locationID,
		QuantityDelta:    delta,
		ReasonCode:       reason,
		AdjustedBy:       adjustedBy,
	}
	if notes != "" {
		adj.Notes = &notes
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO stock_adjustments (product_variant_id, location_id, quantity_delta, reason_code, adjusted_by, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, variantID, locationID, delta, reason, adjustedBy, adj.Notes).Scan(&adj.ID, &adj.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert adjustment: %w", err)
	}

	refID := adj.ID
	_, err = s.ledger.AppendEntryTx(ctx, tx, LedgerEntry{
		EntryType:        EntryAdjustment,
		ProductVariantID: variantID,
		LocationID:       locationID,
		QuantityChange:   delta,
		UnitCost:         costPrice,
		ReferenceKind:    ptr("ADJUSTMENT"),
		ReferenceID:      &refID,
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientStock) {
			return nil, fmt.Errorf("%w: %v", ErrNegativeStock, err)
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit adjustment: %w", err)
	}
	return adj, nil
}

// ApplyTransfer moves stock between warehouses in a single transaction,
// all lines or none. Per line, source bins are drained greedily by
// available stock; everything lands in the destination's first active
// RECEIVING bin.
func (s *AdjustmentService) ApplyTransfer(ctx context.Context, fromWarehouseCode, toWarehouseCode string, lines []TransferLineInput, notes string) (*TransferOrder, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("transfer needs at least one line")
	}
	if fromWarehouseCode == toWarehouseCode {
		return nil, fmt.Errorf("transfer source and destination warehouses must differ")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	fromID, err := resolveWarehouseID(ctx, tx, fromWarehouseCode, true)
	if err != nil {
		return nil, err
	}
	toID, err := resolveWarehouseID(ctx, tx, toWarehouseCode, true)
	if err != nil {
		return nil, err
	}

	var destLocationID int
	err = tx.QueryRow(ctx, `
		SELECT id FROM locations
		WHERE warehouse_id = $1 AND zone_type = 'RECEIVING' AND is_active
		ORDER BY code
		LIMIT 1
	`, toID).Scan(&destLocationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("warehouse %s has no active receiving bin: %w", toWarehouseCode, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to resolve receiving bin: %w", err)
	}

	transferNumber, err := nextDocumentNumber(ctx, tx, seqTransfer)
	if err != nil {
		return nil, err
	}

	to := &TransferOrder{TransferNumber: transferNumber, FromWarehouseID: fromID, ToWarehouseID: toID}
	if notes != "" {
		to.Notes = &notes
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO transfer_orders (transfer_number, from_warehouse_id, to_warehouse_id, status, notes)
		VALUES ($1, $2, $3, 'COMPLETED', $4)
		RETURNING id, created_at
	`, transferNumber, fromID, toID, to.Notes).Scan(&to.ID, &to.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert transfer order: %w", err)
	}

	refID := to.ID
	for _, input := range lines {
		if !input.Quantity.IsPositive() {
			return nil, fmt.Errorf("transfer quantity for %s must be positive, got %s", input.SKU, input.Quantity.String())
		}

		variantID, err := resolveVariantID(ctx, tx, input.SKU, false)
		if err != nil {
			return nil, err
		}

		// Only unallocated stock may leave; reservations stay where
		// they were made.
		rows, err := tx.Query(ctx, `
			SELECT ss.location_id, l.code, ss.quantity_on_hand - ss.quantity_allocated
			FROM stock_snapshots ss
			JOIN locations l ON l.id = ss.location_id
			WHERE ss.product_variant_id = $1 AND l.warehouse_id = $2 AND l.is_active
			  AND ss.quantity_on_hand - ss.quantity_allocated > 0
			FOR UPDATE OF ss
		`, variantID, fromID)
		if err != nil {
			return nil, fmt.Errorf("failed to query source bins: %w", err)
		}
		var bins []LocationAvailability
		for rows.Next() {
			var b LocationAvailability
			if err := rows.Scan(&b.LocationID, &b.LocationCode, &b.Available); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan source bin: %w", err)
			}
			bins = append(bins, b)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}

		plan, err := PlanAllocation(input.Quantity, bins)
		if err != nil {
			return nil, fmt.Errorf("transfer of %s from %s: %w", input.SKU, fromWarehouseCode, err)
		}

		line := TransferOrderLine{TransferOrderID: to.ID, ProductVariantID: variantID, Quantity: input.Quantity}
		err = tx.QueryRow(ctx, `
			INSERT INTO transfer_order_lines (transfer_order_id, product_variant_id, quantity)
			VALUES ($1, $2, $3)
			RETURNING id
		`, to.ID, variantID, input.Quantity).Scan(&line.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to insert transfer line: %w", err)
		}
		to.Lines = append(to.Lines, line)

		var costPrice decimal.Decimal
		if err := tx.QueryRow(ctx, "SELECT cost_price FROM product_variants WHERE id = $1", variantID).Scan(&costPrice); err != nil {
			return nil, fmt.Errorf("failed to fetch cost price for %s: %w", input.SKU, err)
		}

		for _, part := range plan {
			if _, err := s.ledger.AppendEntryTx(ctx, tx, LedgerEntry{
				EntryType:        EntryTransfer,
				ProductVariantID: variantID,
				LocationID:       part.LocationID,
				QuantityChange:   part.Quantity.Neg(),
				UnitCost:         costPrice,
				ReferenceKind:    ptr("TRANSFER_ORDER"),
				ReferenceID:      &refID,
			}); err != nil {
				return nil, err
			}
		}
		if _, err := s.ledger.AppendEntryTx(ctx, tx, LedgerEntry{
			EntryType:        EntryTransfer,
			ProductVariantID: variantID,
			LocationID:       destLocationID,
			QuantityChange:   input.Quantity,
			UnitCost:         costPrice,
			ReferenceKind:    ptr("TRANSFER_ORDER"),
			ReferenceID:      &refID,
		}); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transfer: %w", err)
	}
	return to, nil
}

// RecordReturn books customer returns against a shipped order. The
// returned quantity may never exceed what the order actually shipped for
// that variant, net of earlier returns. Returns usually land in a
// quarantine bin of a non-nettable warehouse so they stay out of
// available stock until inspected.
func (s *AdjustmentService) RecordReturn(ctx context.Context, orderID int, sku, warehouseCode, locationCode string, quantity decimal.Decimal, notes string) (*LedgerEntry, error) {
	if !quantity.IsPositive() {
		return nil, fmt.Errorf("return quantity must be positive, got %s", quantity.String())
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var status OrderStatus
	err = tx.QueryRow(ctx, "SELECT status FROM sales_orders WHERE id = $1 FOR UPDATE", orderID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("order %d: %w", orderID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch order %d: %w", orderID, err)
	}
	if status != OrderShipped && status != OrderInvoiced {
		return nil, invalidTransition("sales order", string(status), "accept returns")
	}

	variantID, err := resolveVariantID(ctx, tx, sku, false)
	if err != nil {
		return nil, err
	}
	warehouseID, err := resolveWarehouseID(ctx, tx, warehouseCode, true)
	if err != nil {
		return nil, err
	}
	locationID, err := resolveLocationID(ctx, tx, warehouseID, locationCode, true)
	if err != nil {
		return nil, err
	}

	// Shipped minus already returned for this order and variant.
	var returnable decimal.Decimal
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(-SUM(quantity_change) FILTER (WHERE entry_type = 'SALE'), 0)
		     - COALESCE(SUM(quantity_change) FILTER (WHERE entry_type = 'RETURN'), 0)
		FROM stock_ledger
		WHERE reference_kind = 'SALES_ORDER' AND reference_id = $1 AND product_variant_id = $2
	`, orderID, variantID).Scan(&returnable)
	if err != nil {
		return nil, fmt.Errorf("failed to compute returnable quantity: %w", err)
	}
	if quantity.GreaterThan(returnable) {
		return nil, fmt.Errorf("order %d shipped %s of %s still returnable, got %s",
			orderID, returnable.String(), sku, quantity.String())
	}

	var costPrice decimal.Decimal
	if err := tx.QueryRow(ctx, "SELECT cost_price FROM product_variants WHERE id = $1", variantID).Scan(&costPrice); err != nil {
		return nil, fmt.Errorf("failed to fetch cost price for %s: %w", sku, err)
	}

	var notesArg *string
	if notes != "" {
		notesArg = &notes
	}
	refID := orderID
	entry, err := s.ledger.AppendEntryTx(ctx, tx, LedgerEntry{
		EntryType:        EntryReturn,
		ProductVariantID: variantID,
		LocationID:       locationID,
		QuantityChange:   quantity,
		UnitCost:         costPrice,
		ReferenceKind:    ptr(allocationRefKind),
		ReferenceID:      &refID,
		Notes:            notesArg,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit return: %w", err)
	}
	return entry, nil
}
