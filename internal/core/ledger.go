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

// EntryType classifies a stock ledger entry.
type EntryType string

const (
	EntryPurchase   EntryType = "PURCHASE"
	EntrySale       EntryType = "SALE"
	EntryAdjustment EntryType = "ADJUSTMENT"
	EntryTransfer   EntryType = "TRANSFER"
	EntryAllocation EntryType = "ALLOCATION"
	EntryReturn     EntryType = "RETURN"
)

// LedgerEntry is one immutable row in the stock ledger. Entries are only
// ever appended; corrections are new entries, never updates.
//
// For ALLOCATION entries QuantityChange tracks the reservation, not a
// physical movement: a reserve appends a negative change, a release or
// consume appends the matching positive change. All other entry types
// record physical on-hand movement.
type LedgerEntry struct {
	ID               int64
	EntryType        EntryType
	ProductVariantID int
	LocationID       int
	QuantityChange   decimal.Decimal
	UnitCost         decimal.Decimal
	ReferenceKind    *string
	ReferenceID      *int
	Notes            *string
	CreatedAt        time.Time
}

// StockLedger is the append-only source of truth for stock positions.
// Snapshots in stock_snapshots are a cache maintained alongside each
// append and can always be rebuilt from the ledger.
type StockLedger struct {
	pool *pgxpool.Pool
}

func NewStockLedger(pool *pgxpool.Pool) *StockLedger {
	return &StockLedger{pool: pool}
}

// lockSnapshotTx row-locks the snapshot for (variant, location), creating
// a zero row first if none exists, and returns the current quantities.
func lockSnapshotTx(ctx context.Context, tx pgx.Tx, variantID, locationID int) (onHand, allocated decimal.Decimal, err error) {
	_, err = tx.Exec(ctx, `
		INSERT INTO stock_snapshots (product_variant_id, location_id, quantity_on_hand, quantity_allocated)
		VALUES ($1, $2, 0, 0)
		ON CONFLICT (product_variant_id, location_id) DO NOTHING
	`, variantID, locationID)
	if err != nil {
		return onHand, allocated, fmt.Errorf("failed to ensure snapshot row: %w", err)
	}

	err = tx.QueryRow(ctx, `
		SELECT quantity_on_hand, quantity_allocated
		FROM stock_snapshots
		WHERE product_variant_id = $1 AND location_id = $2
		FOR UPDATE
	`, variantID, locationID).Scan(&onHand, &allocated)
	if err != nil {
		return onHand, allocated, fmt.Errorf("failed to lock snapshot: %w", err)
	}
	return onHand, allocated, nil
}

// AppendEntryTx appends a ledger entry within the caller's transaction and
// applies its delta to the snapshot under a row lock.
//
// Physical entry types move quantity_on_hand; ALLOCATION entries move
// quantity_allocated by the negated change. An append that would drive
// on-hand negative, or allocate past on-hand, fails with
// ErrInsufficientStock and leaves the transaction poisoned for rollback.
func (sl *StockLedger) AppendEntryTx(ctx context.Context, tx pgx.Tx, e LedgerEntry) (*LedgerEntry, error) {
	if e.QuantityChange.IsZero() {
		return nil, fmt.Errorf("ledger entry quantity change must be non-zero")
	}

	onHand, allocated, err := lockSnapshotTx(ctx, tx, e.ProductVariantID, e.LocationID)
	if err != nil {
		return nil, err
	}

	if e.EntryType == EntryAllocation {
		newAllocated := allocated.Sub(e.QuantityChange)
		if newAllocated.IsNegative() {
			return nil, fmt.Errorf("%w: release of %s exceeds allocated %s",
				ErrInsufficientStock, e.QuantityChange.String(), allocated.String())
		}
		if newAllocated.GreaterThan(onHand) {
			return nil, fmt.Errorf("%w: variant %d at location %d has %s available, need %s",
				ErrInsufficientStock, e.ProductVariantID, e.LocationID,
				onHand.Sub(allocated).String(), e.QuantityChange.Neg().String())
		}
		_, err = tx.Exec(ctx, `
			UPDATE stock_snapshots
			SET quantity_allocated = $3, updated_at = NOW()
			WHERE product_variant_id = $1 AND location_id = $2
		`, e.ProductVariantID, e.LocationID, newAllocated)
	} else {
		newOnHand := onHand.Add(e.QuantityChange)
		if newOnHand.IsNegative() {
			return nil, fmt.Errorf("%w: variant %d at location %d has %s on hand, change %s",
				ErrInsufficientStock, e.ProductVariantID, e.LocationID,
				onHand.String(), e.QuantityChange.String())
		}
		if allocated.GreaterThan(newOnHand) {
			return nil, fmt.Errorf("%w: variant %d at location %d has %s allocated, on-hand would drop to %s",
				ErrInsufficientStock, e.ProductVariantID, e.LocationID,
				allocated.String(), newOnHand.String())
		}
		_, err = tx.Exec(ctx, `
			UPDATE stock_snapshots
			SET quantity_on_hand = $3, updated_at = NOW()
			WHERE product_variant_id = $1 AND location_id = $2
		`, e.ProductVariantID, e.LocationID, newOnHand)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update snapshot: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO stock_ledger (entry_type, product_variant_id, location_id, quantity_change, unit_cost, reference_kind, reference_id, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`, e.EntryType, e.ProductVariantID, e.LocationID, e.QuantityChange, e.UnitCost,
		e.ReferenceKind, e.ReferenceID, e.Notes).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return &e, nil
}

// BinRef names a single bin. Location codes repeat across warehouses
// (every warehouse has an RCV-1), so the warehouse code is required too.
type BinRef struct {
	WarehouseCode string
	LocationCode  string
}

// GetAvailableQuantity returns on-hand minus allocated for a SKU, summed
// across nettable warehouses. A non-nil bin narrows the figure to that
// one bin; non-nettable warehouses are excluded either way.
func (sl *StockLedger) GetAvailableQuantity(ctx context.Context, sku string, bin *BinRef) (decimal.Decimal, error) {
	variantID, err := resolveVariantID(ctx, sl.pool, sku, false)
	if err != nil {
		return decimal.Zero, err
	}

	query := `
		SELECT COALESCE(SUM(ss.quantity_on_hand - ss.quantity_allocated), 0)
		FROM stock_snapshots ss
		JOIN locations l ON l.id = ss.location_id
		JOIN warehouses w ON w.id = l.warehouse_id
		WHERE ss.product_variant_id = $1 AND w.is_nettable`
	args := []any{variantID}
	if bin != nil {
		query += " AND w.code = $2 AND l.code = $3"
		args = append(args, bin.WarehouseCode, bin.LocationCode)
	}

	var available decimal.Decimal
	if err := sl.pool.QueryRow(ctx, query, args...).Scan(&available); err != nil {
		return decimal.Zero, fmt.Errorf("failed to compute available quantity for %s: %w", sku, err)
	}
	return available, nil
}

// VerifyReconciliation recomputes every stock position from the ledger and
// compares it against the snapshot cache. It returns an *IntegrityError
// listing every mismatch, or nil when the cache is consistent.
func (sl *StockLedger) VerifyReconciliation(ctx context.Context) error {
	rows, err := sl.pool.Query(ctx, `
		WITH ledger AS (
			SELECT product_variant_id, location_id,
			       COALESCE(SUM(quantity_change) FILTER (WHERE entry_type <> 'ALLOCATION'), 0) AS on_hand,
			       COALESCE(-SUM(quantity_change) FILTER (WHERE entry_type = 'ALLOCATION'), 0) AS allocated
			FROM stock_ledger
			GROUP BY product_variant_id, location_id
		)
		SELECT COALESCE(ss.product_variant_id, lg.product_variant_id),
		       COALESCE(ss.location_id, lg.location_id),
		       COALESCE(ss.quantity_on_hand, 0), COALESCE(lg.on_hand, 0),
		       COALESCE(ss.quantity_allocated, 0), COALESCE(lg.allocated, 0)
		FROM stock_snapshots ss
		FULL OUTER JOIN ledger lg
		  ON lg.product_variant_id = ss.product_variant_id AND lg.location_id = ss.location_id
		WHERE COALESCE(ss.quantity_on_hand, 0) <> COALESCE(lg.on_hand, 0)
		   OR COALESCE(ss.quantity_allocated, 0) <> COALESCE(lg.allocated, 0)
		ORDER BY 1, 2
	`)
	if err != nil {
		return fmt.Errorf("reconciliation query failed: %w", err)
	}
	defer rows.Close()

	var faults []ReconciliationFault
	for rows.Next() {
		var f ReconciliationFault
		if err := rows.Scan(&f.ProductVariantID, &f.LocationID,
			&f.SnapshotOnHand, &f.LedgerOnHand,
			&f.SnapshotAllocated, &f.LedgerAllocated); err != nil {
			return fmt.Errorf("failed to scan reconciliation row: %w", err)
		}
		faults = append(faults, f)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating reconciliation rows: %w", err)
	}

	if len(faults) > 0 {
		return &IntegrityError{Faults: faults}
	}
	return nil
}

// RebuildSnapshots discards the snapshot cache and recomputes it from the
// ledger in a single transaction. Recovery tool; workflows never need it.
func (sl *StockLedger) RebuildSnapshots(ctx context.Context) error {
	tx, err := sl.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM stock_snapshots"); err != nil {
		return fmt.Errorf("failed to clear snapshots: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO stock_snapshots (product_variant_id, location_id, quantity_on_hand, quantity_allocated)
		SELECT product_variant_id, location_id,
		       COALESCE(SUM(quantity_change) FILTER (WHERE entry_type <> 'ALLOCATION'), 0),
		       COALESCE(-SUM(quantity_change) FILTER (WHERE entry_type = 'ALLOCATION'), 0)
		FROM stock_ledger
		GROUP BY product_variant_id, location_id
	`)
	if err != nil {
		return fmt.Errorf("failed to rebuild snapshots: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit rebuild: %w", err)
	}
	return nil
}

// EntriesForKey returns every ledger entry for one (variant, location)
// key in append order.
func (sl *StockLedger) EntriesForKey(ctx context.Context, variantID, locationID int) ([]LedgerEntry, error) {
	rows, err := sl.pool.Query(ctx, `
		SELECT id, entry_type, product_variant_id, location_id, quantity_change, unit_cost, reference_kind, reference_id, notes, created_at
		FROM stock_ledger
		WHERE product_variant_id = $1 AND location_id = $2
		ORDER BY id
	`, variantID, locationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.EntryType, &e.ProductVariantID, &e.LocationID,
			&e.QuantityChange, &e.UnitCost, &e.ReferenceKind, &e.ReferenceID, &e.Notes, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetEntry returns a single ledger entry by ID.
func (sl *StockLedger) GetEntry(ctx context.Context, id int64) (*LedgerEntry, error) {
	var e LedgerEntry
	err := sl.pool.QueryRow(ctx, `
		SELECT id, entry_type, product_variant_id, location_id, quantity_change, unit_cost, reference_kind, reference_id, notes, created_at
		FROM stock_ledger WHERE id = $1
	`, id).Scan(&e.ID, &e.EntryType, &e.ProductVariantID, &e.LocationID,
		&e.QuantityChange, &e.UnitCost, &e.ReferenceKind, &e.ReferenceID, &e.Notes, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("ledger entry %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch ledger entry %d: %w", id, err)
	}
	return &e, nil
}
