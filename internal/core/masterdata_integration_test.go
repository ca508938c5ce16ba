package core_test

import (
	"context"
	"errors"
	"testing"

	"inventory-engine/internal/core"
)

func TestMasterData_WarehouseDeactivation(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	md := core.NewMasterDataService(pool)

	wh, err := md.CreateWarehouse(ctx, "WEST", "West DC", "1 Dock Rd", true)
	if err != nil {
		t.Fatalf("CreateWarehouse: %v", err)
	}
	if !wh.IsActive || !wh.IsNettable {
		t.Errorf("new warehouse = active %v nettable %v, want both true", wh.IsActive, wh.IsNettable)
	}

	if err := md.DeactivateWarehouse(ctx, "WEST"); err != nil {
		t.Fatalf("DeactivateWarehouse: %v", err)
	}

	// Hidden from active lookups, still visible to historical ones.
	if _, err := md.GetWarehouseByCode(ctx, "WEST", true); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("active lookup of deactivated warehouse: want ErrNotFound, got %v", err)
	}
	wh, err = md.GetWarehouseByCode(ctx, "WEST", false)
	if err != nil {
		t.Fatalf("inactive lookup: %v", err)
	}
	if wh.IsActive {
		t.Error("warehouse still flagged active after deactivation")
	}

	all, err := md.GetWarehouses(ctx, false)
	if err != nil {
		t.Fatalf("GetWarehouses: %v", err)
	}
	active, err := md.GetWarehouses(ctx, true)
	if err != nil {
		t.Fatalf("GetWarehouses(active): %v", err)
	}
	if len(all) != len(active)+1 {
		t.Errorf("all=%d active=%d, deactivated warehouse should only drop from the active list", len(all), len(active))
	}
}

func TestMasterData_CreateLocation(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	md := core.NewMasterDataService(pool)

	loc, err := md.CreateLocation(ctx, "MAIN", "PACK-1", core.ZonePacking)
	if err != nil {
		t.Fatalf("CreateLocation: %v", err)
	}
	if loc.ZoneType != core.ZonePacking {
		t.Errorf("zone = %s, want PACKING", loc.ZoneType)
	}

	if _, err := md.CreateLocation(ctx, "MAIN", "ODD-1", "MEZZANINE"); err == nil {
		t.Error("unknown zone type should fail")
	}
	if _, err := md.CreateLocation(ctx, "NOPE", "PACK-1", core.ZonePacking); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("unknown warehouse: want ErrNotFound, got %v", err)
	}

	locs, err := md.GetLocations(ctx, "MAIN", true)
	if err != nil {
		t.Fatalf("GetLocations: %v", err)
	}
	if len(locs) != 5 { // 4 seeded + PACK-1
		t.Errorf("MAIN has %d locations, want 5", len(locs))
	}
}

func TestMasterData_DeactivatedVariantBlocksNewOrders(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	md := core.NewMasterDataService(pool)
	if err := md.DeactivateVariant(ctx, "SKU-A"); err != nil {
		t.Fatalf("DeactivateVariant: %v", err)
	}

	// New orders cannot reference it.
	orders, _ := newOrderStack(pool)
	_, err := orders.CreateOrder(ctx, "CUST1", "MAIN",
		[]core.OrderLineInput{{SKU: "SKU-A", Quantity: dec("1")}}, "")
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("order for deactivated SKU: want ErrNotFound, got %v", err)
	}

	// History and reporting still resolve it.
	v, err := md.GetVariantBySKU(ctx, "SKU-A", false)
	if err != nil {
		t.Fatalf("inactive variant lookup: %v", err)
	}
	if v.IsActive {
		t.Error("variant still flagged active after deactivation")
	}
}

func TestMasterData_VariantAndPartners(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	md := core.NewMasterDataService(pool)

	v, err := md.CreateVariant(ctx, core.VariantInput{
		SKU:             "WID-PRO-RED",
		Name:            "Widget Pro, red",
		CostPrice:       dec("7.25"),
		SalesPrice:      dec("19.99"),
		ReorderPoint:    dec("10"),
		ReorderQuantity: dec("40"),
	})
	if err != nil {
		t.Fatalf("CreateVariant: %v", err)
	}
	if v.ID == 0 || !v.CostPrice.Equal(dec("7.25")) {
		t.Errorf("variant = %+v", v)
	}

	c, err := md.CreateCustomer(ctx, core.CustomerInput{Code: "CUST-ACME", Name: "Acme Corp", Email: "po@acme.test"})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	got, err := md.GetCustomerByCode(ctx, c.Code, true)
	if err != nil || got.Name != "Acme Corp" {
		t.Errorf("GetCustomerByCode = %+v, %v", got, err)
	}

	vend, err := md.CreateVendor(ctx, core.VendorInput{
		Code: "VEND-ACME", Name: "Acme Supply", PaymentTermsDays: 45, Rating: 4,
	})
	if err != nil {
		t.Fatalf("CreateVendor: %v", err)
	}
	if vend.PaymentTermsDays != 45 || vend.Rating != 4 {
		t.Errorf("vendor = terms %d rating %d, want 45 and 4", vend.PaymentTermsDays, vend.Rating)
	}

	vendors, err := md.GetVendors(ctx, true)
	if err != nil {
		t.Fatalf("GetVendors: %v", err)
	}
	if len(vendors) != 2 { // seeded VEND1 + VEND-ACME
		t.Errorf("got %d vendors, want 2", len(vendors))
	}
}
