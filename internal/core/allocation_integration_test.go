package core_test

import (
	"context"
	"errors"
	"testing"

	"inventory-engine/internal/core"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

func newOrderStack(pool *pgxpool.Pool) (core.OrderService, *core.AllocationService) {
	ledger := core.NewStockLedger(pool)
	alloc := core.NewAllocationService(pool, ledger)
	return core.NewOrderService(pool, alloc), alloc
}

// draftOrder creates a DRAFT order for CUST1 with a single SKU-A line.
func draftOrder(t *testing.T, orders core.OrderService, qty string) *core.SalesOrder {
	t.Helper()
	order, err := orders.CreateOrder(context.Background(), "CUST1", "MAIN",
		[]core.OrderLineInput{{SKU: "SKU-A", Quantity: dec(qty)}}, "")
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	return order
}

func TestAllocateOrder_ReservesAndCancelRestores(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	seedStock(t, pool, "SKU-A", "MAIN", "BULK-A", "10")
	seedStock(t, pool, "SKU-A", "MAIN", "BULK-B", "5")

	orders, allocSvc := newOrderStack(pool)
	order := draftOrder(t, orders, "10")

	if _, _, err := orders.ConfirmOrder(ctx, order.ID); err != nil {
		t.Fatalf("ConfirmOrder: %v", err)
	}
	order, events, err := orders.AllocateOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("AllocateOrder: %v", err)
	}
	if order.Status != core.OrderAllocated {
		t.Errorf("status = %s, want ALLOCATED", order.Status)
	}
	if len(events) != 1 || events[0].Kind != core.EventOrderAllocated {
		t.Errorf("events = %+v, want one OrderAllocated", events)
	}

	// 15 on hand, 10 reserved.
	if got := available(t, pool, "SKU-A"); !got.Equal(dec("5")) {
		t.Errorf("available after allocation = %s, want 5", got)
	}

	allocs, err := allocSvc.GetAllocations(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetAllocations: %v", err)
	}
	total := decimal.Zero
	for _, a := range allocs {
		if a.Status != core.AllocationHeld {
			t.Errorf("allocation %d status = %s, want HELD", a.ID, a.Status)
		}
		total = total.Add(a.Quantity)
	}
	if !total.Equal(dec("10")) {
		t.Errorf("held total = %s, want 10", total)
	}

	if _, _, err := orders.CancelOrder(ctx, order.ID); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if got := available(t, pool, "SKU-A"); !got.Equal(dec("15")) {
		t.Errorf("available after cancel = %s, want 15", got)
	}

	allocs, _ = allocSvc.GetAllocations(ctx, order.ID)
	for _, a := range allocs {
		if a.Status != core.AllocationReleased {
			t.Errorf("allocation %d status = %s, want RELEASED", a.ID, a.Status)
		}
		if a.ClosedAt == nil {
			t.Errorf("allocation %d has no closed_at", a.ID)
		}
	}

	if err := core.NewStockLedger(pool).VerifyReconciliation(ctx); err != nil {
		t.Errorf("reconciliation after cancel: %v", err)
	}
}

func TestAllocateOrder_SpansBinsLargestFirst(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	seedStock(t, pool, "SKU-A", "MAIN", "BULK-A", "3")
	seedStock(t, pool, "SKU-A", "MAIN", "BULK-B", "8")

	orders, allocSvc := newOrderStack(pool)
	order := draftOrder(t, orders, "9")
	if _, _, err := orders.ConfirmOrder(ctx, order.ID); err != nil {
		t.Fatalf("ConfirmOrder: %v", err)
	}
	if _, _, err := orders.AllocateOrder(ctx, order.ID); err != nil {
		t.Fatalf("AllocateOrder: %v", err)
	}

	allocs, err := allocSvc.GetAllocations(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetAllocations: %v", err)
	}
	if len(allocs) != 2 {
		t.Fatalf("want 2 reservations, got %d", len(allocs))
	}
	// BULK-B (location 2) holds more, so it drains first.
	if allocs[0].LocationID != 2 || !allocs[0].Quantity.Equal(dec("8")) {
		t.Errorf("first reservation %+v, want 8 from location 2", allocs[0])
	}
	if allocs[1].LocationID != 1 || !allocs[1].Quantity.Equal(dec("1")) {
		t.Errorf("second reservation %+v, want 1 from location 1", allocs[1])
	}
}

func TestAllocateOrder_InsufficientIsAtomic(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	seedStock(t, pool, "SKU-A", "MAIN", "BULK-A", "15")

	orders, allocSvc := newOrderStack(pool)
	order, err := orders.CreateOrder(ctx, "CUST1", "MAIN", []core.OrderLineInput{
		{SKU: "SKU-A", Quantity: dec("10")},
		{SKU: "SKU-B", Quantity: dec("1")}, // no SKU-B stock anywhere
	}, "")
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if _, _, err := orders.ConfirmOrder(ctx, order.ID); err != nil {
		t.Fatalf("ConfirmOrder: %v", err)
	}

	_, _, err = orders.AllocateOrder(ctx, order.ID)
	if !errors.Is(err, core.ErrInsufficientStock) {
		t.Fatalf("want ErrInsufficientStock, got %v", err)
	}

	// The SKU-A line must not stay half-reserved.
	got, _ := orders.GetOrder(ctx, order.ID)
	if got.Status != core.OrderConfirmed {
		t.Errorf("status = %s, want CONFIRMED after failed allocation", got.Status)
	}
	if a := available(t, pool, "SKU-A"); !a.Equal(dec("15")) {
		t.Errorf("available = %s, want 15 untouched", a)
	}
	allocs, _ := allocSvc.GetAllocations(ctx, order.ID)
	if len(allocs) != 0 {
		t.Errorf("want no reservation rows, got %d", len(allocs))
	}
}

func TestReleaseOrder_SecondReleaseReportsAlreadyReleased(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	seedStock(t, pool, "SKU-A", "MAIN", "BULK-A", "10")

	orders, allocSvc := newOrderStack(pool)
	order := draftOrder(t, orders, "6")
	if _, _, err := orders.ConfirmOrder(ctx, order.ID); err != nil {
		t.Fatalf("ConfirmOrder: %v", err)
	}
	if _, _, err := orders.AllocateOrder(ctx, order.ID); err != nil {
		t.Fatalf("AllocateOrder: %v", err)
	}

	if err := allocSvc.ReleaseOrder(ctx, order.ID); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if got := available(t, pool, "SKU-A"); !got.Equal(dec("10")) {
		t.Errorf("available after release = %s, want 10", got)
	}

	err := allocSvc.ReleaseOrder(ctx, order.ID)
	if !errors.Is(err, core.ErrAlreadyReleased) {
		t.Fatalf("second release: want ErrAlreadyReleased, got %v", err)
	}
	// Idempotent: quantities unchanged.
	if got := available(t, pool, "SKU-A"); !got.Equal(dec("10")) {
		t.Errorf("available after double release = %s, want 10", got)
	}
}
