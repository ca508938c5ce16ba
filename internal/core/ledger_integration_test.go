package core_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"inventory-engine/internal/core"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

func setupTestDB(t *testing.T) *pgxpool.Pool {
	_ = godotenv.Load("../../.env")

	// Use a dedicated TEST database to avoid wiping the live database.
	// Set TEST_DATABASE_URL in your .env or environment to run integration tests.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set — skipping integration test to protect live database")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	// Clean and seed: two nettable warehouses, one returns warehouse kept
	// out of available stock, two variants, a customer and a vendor.
	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE stock_ledger, stock_snapshots, stock_allocations,
			goods_receipt_lines, goods_receipt_notes,
			purchase_order_lines, purchase_orders,
			sales_order_lines, sales_orders,
			transfer_order_lines, transfer_orders,
			stock_adjustments, document_sequences,
			locations, warehouses, product_variants, customers, vendors CASCADE;

		INSERT INTO warehouses (id, code, name, is_nettable) VALUES
			(1, 'MAIN', 'Main DC', true),
			(2, 'EAST', 'East Regional', true),
			(3, 'RET',  'Returns Staging', false);
		SELECT setval('warehouses_id_seq', 10);

		INSERT INTO locations (id, warehouse_id, code, zone_type) VALUES
			(1, 1, 'BULK-A', 'BULK'),
			(2, 1, 'BULK-B', 'BULK'),
			(3, 1, 'PICK-A', 'PICKING'),
			(4, 1, 'RCV-1',  'RECEIVING'),
			(5, 2, 'RCV-1',  'RECEIVING'),
			(6, 2, 'BULK-X', 'BULK'),
			(7, 3, 'QUAR-1', 'QUARANTINE');
		SELECT setval('locations_id_seq', 10);

		INSERT INTO product_variants (id, sku, name, cost_price, sales_price, reorder_point, reorder_quantity) VALUES
			(1, 'SKU-A', 'Alpha Widget', 4.50, 10.00, 5, 20),
			(2, 'SKU-B', 'Beta Widget',  2.00,  6.00, 0, 0);
		SELECT setval('product_variants_id_seq', 10);

		INSERT INTO customers (id, code, name) VALUES (1, 'CUST1', 'Test Customer');
		SELECT setval('customers_id_seq', 10);

		INSERT INTO vendors (id, code, name) VALUES (1, 'VEND1', 'Test Vendor');
		SELECT setval('vendors_id_seq', 10);
	`)
	if err != nil {
		t.Fatalf("Failed to seed test database: %v", err)
	}

	return pool
}

// seedStock books quantity into a bin through a FOUND adjustment, so the
// ledger and snapshot stay consistent with each other.
func seedStock(t *testing.T, pool *pgxpool.Pool, sku, warehouseCode, locationCode, qty string) {
	t.Helper()
	adj := core.NewAdjustmentService(pool, core.NewStockLedger(pool))
	if _, err := adj.ApplyAdjustment(context.Background(), sku, warehouseCode, locationCode,
		dec(qty), core.ReasonFound, "test-seed", ""); err != nil {
		t.Fatalf("Failed to seed stock %s %s@%s/%s: %v", qty, sku, warehouseCode, locationCode, err)
	}
}

func available(t *testing.T, pool *pgxpool.Pool, sku string) decimal.Decimal {
	t.Helper()
	got, err := core.NewStockLedger(pool).GetAvailableQuantity(context.Background(), sku, nil)
	if err != nil {
		t.Fatalf("GetAvailableQuantity(%s): %v", sku, err)
	}
	return got
}

func TestStockLedger_AvailableQuantity(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	seedStock(t, pool, "SKU-A", "MAIN", "BULK-A", "10")
	seedStock(t, pool, "SKU-A", "EAST", "BULK-X", "7")
	seedStock(t, pool, "SKU-A", "RET", "QUAR-1", "3")

	// Returns warehouse is non-nettable, so only 17 counts.
	if got := available(t, pool, "SKU-A"); !got.Equal(dec("17")) {
		t.Errorf("available = %s, want 17", got)
	}

	ledger := core.NewStockLedger(pool)
	got, err := ledger.GetAvailableQuantity(ctx, "SKU-A",
		&core.BinRef{WarehouseCode: "EAST", LocationCode: "BULK-X"})
	if err != nil {
		t.Fatalf("bin-scoped available: %v", err)
	}
	if !got.Equal(dec("7")) {
		t.Errorf("available at EAST/BULK-X = %s, want 7", got)
	}

	// RCV-1 exists in both MAIN and EAST; the bin scope must not sum them.
	seedStock(t, pool, "SKU-A", "MAIN", "RCV-1", "5")
	seedStock(t, pool, "SKU-A", "EAST", "RCV-1", "2")
	got, err = ledger.GetAvailableQuantity(ctx, "SKU-A",
		&core.BinRef{WarehouseCode: "MAIN", LocationCode: "RCV-1"})
	if err != nil {
		t.Fatalf("bin-scoped available: %v", err)
	}
	if !got.Equal(dec("5")) {
		t.Errorf("available at MAIN/RCV-1 = %s, want 5", got)
	}

	if _, err := ledger.GetAvailableQuantity(ctx, "NO-SUCH-SKU", nil); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("unknown SKU: want ErrNotFound, got %v", err)
	}
}

func TestStockLedger_NegativeAdjustmentGuard(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	seedStock(t, pool, "SKU-A", "MAIN", "BULK-A", "10")

	adj := core.NewAdjustmentService(pool, core.NewStockLedger(pool))
	_, err := adj.ApplyAdjustment(context.Background(), "SKU-A", "MAIN", "BULK-A",
		dec("-15"), core.ReasonLost, "tester", "")
	if !errors.Is(err, core.ErrNegativeStock) {
		t.Fatalf("want ErrNegativeStock, got %v", err)
	}

	// Nothing booked: quantity and ledger untouched.
	if got := available(t, pool, "SKU-A"); !got.Equal(dec("10")) {
		t.Errorf("available = %s, want 10 after failed adjustment", got)
	}
	if err := core.NewStockLedger(pool).VerifyReconciliation(context.Background()); err != nil {
		t.Errorf("reconciliation after failed adjustment: %v", err)
	}
}

func TestStockLedger_ReconciliationAndRebuild(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	seedStock(t, pool, "SKU-A", "MAIN", "BULK-A", "10")
	seedStock(t, pool, "SKU-B", "MAIN", "BULK-B", "4")

	ledger := core.NewStockLedger(pool)
	if err := ledger.VerifyReconciliation(ctx); err != nil {
		t.Fatalf("fresh ledger should reconcile: %v", err)
	}

	// Corrupt the cache behind the ledger's back.
	if _, err := pool.Exec(ctx,
		"UPDATE stock_snapshots SET quantity_on_hand = 99 WHERE product_variant_id = 1 AND location_id = 1",
	); err != nil {
		t.Fatalf("failed to corrupt snapshot: %v", err)
	}

	err := ledger.VerifyReconciliation(ctx)
	var integrity *core.IntegrityError
	if !errors.As(err, &integrity) {
		t.Fatalf("want IntegrityError, got %v", err)
	}
	if len(integrity.Faults) != 1 {
		t.Fatalf("want 1 fault, got %d", len(integrity.Faults))
	}
	f := integrity.Faults[0]
	if f.ProductVariantID != 1 || f.LocationID != 1 {
		t.Errorf("fault at variant %d location %d, want 1/1", f.ProductVariantID, f.LocationID)
	}
	if !f.SnapshotOnHand.Equal(dec("99")) || !f.LedgerOnHand.Equal(dec("10")) {
		t.Errorf("fault quantities snapshot=%s ledger=%s, want 99/10", f.SnapshotOnHand, f.LedgerOnHand)
	}

	if err := ledger.RebuildSnapshots(ctx); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if err := ledger.VerifyReconciliation(ctx); err != nil {
		t.Errorf("after rebuild: %v", err)
	}
	if got := available(t, pool, "SKU-A"); !got.Equal(dec("10")) {
		t.Errorf("available after rebuild = %s, want 10", got)
	}
}

func TestStockLedger_EntriesForKey(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	seedStock(t, pool, "SKU-A", "MAIN", "BULK-A", "10")
	seedStock(t, pool, "SKU-A", "MAIN", "BULK-B", "3")
	adj := core.NewAdjustmentService(pool, core.NewStockLedger(pool))
	if _, err := adj.ApplyAdjustment(ctx, "SKU-A", "MAIN", "BULK-A",
		dec("-2"), core.ReasonDamaged, "tester", ""); err != nil {
		t.Fatalf("ApplyAdjustment: %v", err)
	}

	// variant 1 at location 1 (BULK-A); the BULK-B entry does not belong.
	entries, err := core.NewStockLedger(pool).EntriesForKey(ctx, 1, 1)
	if err != nil {
		t.Fatalf("EntriesForKey: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("want 2 entries for BULK-A, got %d", len(entries))
	}
	if !entries[0].QuantityChange.Equal(dec("10")) || !entries[1].QuantityChange.Equal(dec("-2")) {
		t.Errorf("entries out of append order: %s then %s",
			entries[0].QuantityChange, entries[1].QuantityChange)
	}
	for _, e := range entries {
		if e.EntryType != core.EntryAdjustment {
			t.Errorf("entry %d type = %s, want ADJUSTMENT", e.ID, e.EntryType)
		}
	}
}

func TestStockLedger_ReconciliationCatchesMissingSnapshot(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	seedStock(t, pool, "SKU-A", "MAIN", "BULK-A", "10")

	if _, err := pool.Exec(ctx, "DELETE FROM stock_snapshots"); err != nil {
		t.Fatalf("failed to drop snapshots: %v", err)
	}

	err := core.NewStockLedger(pool).VerifyReconciliation(ctx)
	var integrity *core.IntegrityError
	if !errors.As(err, &integrity) {
		t.Fatalf("want IntegrityError for ledger rows with no snapshot, got %v", err)
	}
}
