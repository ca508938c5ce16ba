package core

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// LocationAvailability is the available stock for one bin, as seen when
// planning an allocation.
type LocationAvailability struct {
	LocationID   int
	LocationCode string
	Available    decimal.Decimal
}

// AllocationPart is one planned reservation: take Quantity from LocationID.
type AllocationPart struct {
	LocationID int
	Quantity   decimal.Decimal
}

// PlanAllocation decides which bins to reserve from to cover the requested
// quantity. Greedy policy: the bin with the most available stock first,
// ties broken by location code ascending so plans are deterministic. If the
// bins cannot cover the request the plan fails with ErrInsufficientStock
// and nothing is reserved.
func PlanAllocation(requested decimal.Decimal, bins []LocationAvailability) ([]AllocationPart, error) {
	if !requested.IsPositive() {
		return nil, fmt.Errorf("requested quantity must be positive, got %s", requested.String())
	}

	candidates := make([]LocationAvailability, 0, len(bins))
	total := decimal.Zero
	for _, b := range bins {
		if b.Available.IsPositive() {
			candidates = append(candidates, b)
			total = total.Add(b.Available)
		}
	}
	if total.LessThan(requested) {
		return nil, fmt.Errorf("%w: %s available, %s requested",
			ErrInsufficientStock, total.String(), requested.String())
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].Available.Equal(candidates[j].Available) {
			return candidates[i].Available.GreaterThan(candidates[j].Available)
		}
		return candidates[i].LocationCode < candidates[j].LocationCode
	})

	var plan []AllocationPart
	remaining := requested
	for _, c := range candidates {
		if remaining.IsZero() {
			break
		}
		take := decimal.Min(c.Available, remaining)
		plan = append(plan, AllocationPart{LocationID: c.LocationID, Quantity: take})
		remaining = remaining.Sub(take)
	}
	return plan, nil
}
