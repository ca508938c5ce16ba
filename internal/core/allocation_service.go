package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// AllocationStatus is the state of one stock reservation.
type AllocationStatus string

const (
	AllocationHeld     AllocationStatus = "HELD"
	AllocationReleased AllocationStatus = "RELEASED"
	AllocationConsumed AllocationStatus = "CONSUMED"
)

// StockAllocation reserves a quantity of one variant at one bin for a
// sales order. HELD reservations reduce available stock without moving it;
// they end as RELEASED (cancel) or CONSUMED (ship).
type StockAllocation struct {
	ID               int
	OrderID          int
	OrderLineID      int
	ProductVariantID int
	LocationID       int
	Quantity         decimal.Decimal
	Status           AllocationStatus
	CreatedAt        time.Time
	ClosedAt         *time.Time
}

const allocationRefKind = "SALES_ORDER"

// AllocationService reserves, releases and consumes stock for sales orders.
// Every change goes through the ledger so reservations reconcile.
type AllocationService struct {
	pool   *pgxpool.Pool
	ledger *StockLedger
}

func NewAllocationService(pool *pgxpool.Pool, ledger *StockLedger) *AllocationService {
	return &AllocationService{pool: pool, ledger: ledger}
}

// AllocateOrderTx reserves stock for every line of the order within the
// caller's transaction, drawing only from the order's warehouse. Candidate
// bins are locked while planning so a concurrent allocation cannot
// double-book the same stock. All lines allocate or none do: the first
// shortfall fails the whole call with ErrInsufficientStock.
func (s *AllocationService) AllocateOrderTx(ctx context.Context, tx pgx.Tx, order *SalesOrder) error {
	for _, line := range order.Lines {
		bins, err := s.lockCandidateBinsTx(ctx, tx, line.ProductVariantID, order.WarehouseID)
		if err != nil {
			return err
		}

		plan, err := PlanAllocation(line.Quantity, bins)
		if err != nil {
			return fmt.Errorf("line %d (%s): %w", line.LineNumber, line.SKU, err)
		}

		for _, part := range plan {
			refID := order.ID
			if _, err := s.ledger.AppendEntryTx(ctx, tx, LedgerEntry{
				EntryType:        EntryAllocation,
				ProductVariantID: line.ProductVariantID,
				LocationID:       part.LocationID,
				QuantityChange:   part.Quantity.Neg(),
				ReferenceKind:    ptr(allocationRefKind),
				ReferenceID:      &refID,
			}); err != nil {
				return err
			}

			_, err = tx.Exec(ctx, `
				INSERT INTO stock_allocations (order_id, order_line_id, product_variant_id, location_id, quantity, status)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, order.ID, line.ID, line.ProductVariantID, part.LocationID, part.Quantity, AllocationHeld)
			if err != nil {
				return fmt.Errorf("failed to record allocation: %w", err)
			}
		}
	}
	return nil
}

// lockCandidateBinsTx returns the available stock per bin for a variant
// within one warehouse, restricted to active bins, with the snapshot rows
// locked for the rest of the transaction.
func (s *AllocationService) lockCandidateBinsTx(ctx context.Context, tx pgx.Tx, variantID, warehouseID int) ([]LocationAvailability, error) {
	rows, err := tx.Query(ctx, `
		SELECT ss.location_id, l.code, ss.quantity_on_hand - ss.quantity_allocated
		FROM stock_snapshots ss
		JOIN locations l ON l.id = ss.location_id
		WHERE ss.product_variant_id = $1 AND l.warehouse_id = $2 AND l.is_active
		  AND ss.quantity_on_hand - ss.quantity_allocated > 0
		FOR UPDATE OF ss
	`, variantID, warehouseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidate bins: %w", err)
	}
	defer rows.Close()

	var bins []LocationAvailability
	for rows.Next() {
		var b LocationAvailability
		if err := rows.Scan(&b.LocationID, &b.LocationCode, &b.Available); err != nil {
			return nil, fmt.Errorf("failed to scan candidate bin: %w", err)
		}
		bins = append(bins, b)
	}
	return bins, rows.Err()
}

// heldAllocationsTx locks and returns the order's HELD reservations.
func (s *AllocationService) heldAllocationsTx(ctx context.Context, tx pgx.Tx, orderID int) ([]StockAllocation, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, order_id, order_line_id, product_variant_id, location_id, quantity, status, created_at, closed_at
		FROM stock_allocations
		WHERE order_id = $1 AND status = $2
		ORDER BY id
		FOR UPDATE
	`, orderID, AllocationHeld)
	if err != nil {
		return nil, fmt.Errorf("failed to query held allocations: %w", err)
	}
	defer rows.Close()

	var allocs []StockAllocation
	for rows.Next() {
		var a StockAllocation
		if err := rows.Scan(&a.ID, &a.OrderID, &a.OrderLineID, &a.ProductVariantID,
			&a.LocationID, &a.Quantity, &a.Status, &a.CreatedAt, &a.ClosedAt); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		allocs = append(allocs, a)
	}
	return allocs, rows.Err()
}

// ReleaseOrderTx returns every HELD reservation of the order to available
// stock within the caller's transaction. If the order holds no open
// reservations it fails with ErrAlreadyReleased, which callers on an
// idempotent path may ignore.
func (s *AllocationService) ReleaseOrderTx(ctx context.Context, tx pgx.Tx, orderID int) error {
	allocs, err := s.heldAllocationsTx(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if len(allocs) == 0 {
		return fmt.Errorf("order %d: %w", orderID, ErrAlreadyReleased)
	}

	for _, a := range allocs {
		refID := orderID
		if _, err := s.ledger.AppendEntryTx(ctx, tx, LedgerEntry{
			EntryType:        EntryAllocation,
			ProductVariantID: a.ProductVariantID,
			LocationID:       a.LocationID,
			QuantityChange:   a.Quantity,
			ReferenceKind:    ptr(allocationRefKind),
			ReferenceID:      &refID,
		}); err != nil {
			return err
		}
		if err := s.closeAllocationTx(ctx, tx, a.ID, AllocationReleased); err != nil {
			return err
		}
	}
	return nil
}

// ConsumeOrderTx turns every HELD reservation of the order into a physical
// deduction: the reservation is lifted and a SALE entry removes the stock,
// both in the same transaction. Used at ship time.
func (s *AllocationService) ConsumeOrderTx(ctx context.Context, tx pgx.Tx, orderID int) error {
	allocs, err := s.heldAllocationsTx(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if len(allocs) == 0 {
		return fmt.Errorf("order %d has no held allocations to consume", orderID)
	}

	for _, a := range allocs {
		var costPrice decimal.Decimal
		err := tx.QueryRow(ctx, "SELECT cost_price FROM product_variants WHERE id = $1", a.ProductVariantID).Scan(&costPrice)
		if err != nil {
			return fmt.Errorf("failed to fetch cost price for variant %d: %w", a.ProductVariantID, err)
		}

		refID := orderID
		if _, err := s.ledger.AppendEntryTx(ctx, tx, LedgerEntry{
			EntryType:        EntryAllocation,
			ProductVariantID: a.ProductVariantID,
			LocationID:       a.LocationID,
			QuantityChange:   a.Quantity,
			ReferenceKind:    ptr(allocationRefKind),
			ReferenceID:      &refID,
		}); err != nil {
			return err
		}
		if _, err := s.ledger.AppendEntryTx(ctx, tx, LedgerEntry{
			EntryType:        EntrySale,
			ProductVariantID: a.ProductVariantID,
			LocationID:       a.LocationID,
			QuantityChange:   a.Quantity.Neg(),
			UnitCost:         costPrice,
			ReferenceKind:    ptr(allocationRefKind),
			ReferenceID:      &refID,
		}); err != nil {
			return err
		}
		if err := s.closeAllocationTx(ctx, tx, a.ID, AllocationConsumed); err != nil {
			return err
		}
	}
	return nil
}

func (s *AllocationService) closeAllocationTx(ctx context.Context, tx pgx.Tx, allocationID int, status AllocationStatus) error {
	_, err := tx.Exec(ctx, `
		UPDATE stock_allocations SET status = $2, closed_at = NOW() WHERE id = $1
	`, allocationID, status)
	if err != nil {
		return fmt.Errorf("failed to close allocation %d: %w", allocationID, err)
	}
	return nil
}

// ReleaseOrder releases the order's reservations in its own transaction.
// Maintenance entry point; the cancel workflow releases inside its own tx.
func (s *AllocationService) ReleaseOrder(ctx context.Context, orderID int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.ReleaseOrderTx(ctx, tx, orderID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit release: %w", err)
	}
	return nil
}

// GetAllocations returns every reservation recorded for an order, open or
// closed, oldest first.
func (s *AllocationService) GetAllocations(ctx context.Context, orderID int) ([]StockAllocation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, order_id, order_line_id, product_variant_id, location_id, quantity, status, created_at, closed_at
		FROM stock_allocations
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	var allocs []StockAllocation
	for rows.Next() {
		var a StockAllocation
		if err := rows.Scan(&a.ID, &a.OrderID, &a.OrderLineID, &a.ProductVariantID,
			&a.LocationID, &a.Quantity, &a.Status, &a.CreatedAt, &a.ClosedAt); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		allocs = append(allocs, a)
	}
	return allocs, rows.Err()
}

func ptr[T any](v T) *T { return &v }
