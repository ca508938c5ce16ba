package core_test

import (
	"errors"
	"testing"

	"inventory-engine/internal/core"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func bin(id int, code, available string) core.LocationAvailability {
	return core.LocationAvailability{LocationID: id, LocationCode: code, Available: dec(available)}
}

func TestPlanAllocation_SingleBin(t *testing.T) {
	plan, err := core.PlanAllocation(dec("10"), []core.LocationAvailability{bin(1, "BULK-A", "15")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan) != 1 || plan[0].LocationID != 1 || !plan[0].Quantity.Equal(dec("10")) {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}

func TestPlanAllocation_GreedyLargestFirst(t *testing.T) {
	bins := []core.LocationAvailability{
		bin(1, "BULK-A", "3"),
		bin(2, "BULK-B", "8"),
		bin(3, "PICK-A", "5"),
	}

	plan, err := core.PlanAllocation(dec("12"), bins)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan) != 2 {
		t.Fatalf("want 2 parts, got %d: %+v", len(plan), plan)
	}
	if plan[0].LocationID != 2 || !plan[0].Quantity.Equal(dec("8")) {
		t.Errorf("first part should drain BULK-B fully, got %+v", plan[0])
	}
	if plan[1].LocationID != 3 || !plan[1].Quantity.Equal(dec("4")) {
		t.Errorf("second part should take 4 from PICK-A, got %+v", plan[1])
	}
}

func TestPlanAllocation_TieBreakByLocationCode(t *testing.T) {
	bins := []core.LocationAvailability{
		bin(2, "BULK-B", "5"),
		bin(1, "BULK-A", "5"),
	}

	plan, err := core.PlanAllocation(dec("5"), bins)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan) != 1 || plan[0].LocationID != 1 {
		t.Fatalf("tie should resolve to BULK-A, got %+v", plan)
	}
}

func TestPlanAllocation_ExactTotal(t *testing.T) {
	bins := []core.LocationAvailability{
		bin(1, "BULK-A", "7"),
		bin(2, "BULK-B", "3"),
	}

	plan, err := core.PlanAllocation(dec("10"), bins)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	total := decimal.Zero
	for _, part := range plan {
		total = total.Add(part.Quantity)
	}
	if !total.Equal(dec("10")) {
		t.Fatalf("plan covers %s, want 10", total)
	}
}

func TestPlanAllocation_Insufficient(t *testing.T) {
	bins := []core.LocationAvailability{
		bin(1, "BULK-A", "4"),
		bin(2, "BULK-B", "5"),
	}

	if _, err := core.PlanAllocation(dec("10"), bins); !errors.Is(err, core.ErrInsufficientStock) {
		t.Fatalf("want ErrInsufficientStock, got %v", err)
	}
}

func TestPlanAllocation_IgnoresEmptyAndNegativeBins(t *testing.T) {
	bins := []core.LocationAvailability{
		bin(1, "BULK-A", "0"),
		bin(2, "BULK-B", "-2"),
		bin(3, "PICK-A", "6"),
	}

	plan, err := core.PlanAllocation(dec("6"), bins)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan) != 1 || plan[0].LocationID != 3 {
		t.Fatalf("only PICK-A should be used, got %+v", plan)
	}
}

func TestPlanAllocation_RejectsNonPositiveRequest(t *testing.T) {
	for _, qty := range []string{"0", "-1"} {
		if _, err := core.PlanAllocation(dec(qty), []core.LocationAvailability{bin(1, "BULK-A", "5")}); err == nil {
			t.Errorf("requested %s: want error, got nil", qty)
		}
	}
}

func TestPlanAllocation_FractionalQuantities(t *testing.T) {
	bins := []core.LocationAvailability{
		bin(1, "BULK-A", "2.5"),
		bin(2, "BULK-B", "1.75"),
	}

	plan, err := core.PlanAllocation(dec("3.25"), bins)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan) != 2 || !plan[0].Quantity.Equal(dec("2.5")) || !plan[1].Quantity.Equal(dec("0.75")) {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}
