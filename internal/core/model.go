package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// ZoneType categorizes a bin location within a warehouse.
type ZoneType string

const (
	ZoneReceiving  ZoneType = "RECEIVING"
	ZoneBulk       ZoneType = "BULK"
	ZonePicking    ZoneType = "PICKING"
	ZonePacking    ZoneType = "PACKING"
	ZoneShipping   ZoneType = "SHIPPING"
	ZoneQuarantine ZoneType = "QUARANTINE"
)

// AdjustmentReason is the reason code recorded with a manual stock correction.
type AdjustmentReason string

const (
	ReasonDamaged    AdjustmentReason = "DAMAGED"
	ReasonExpired    AdjustmentReason = "EXPIRED"
	ReasonLost       AdjustmentReason = "LOST"
	ReasonFound      AdjustmentReason = "FOUND"
	ReasonCycleCount AdjustmentReason = "CYCLE_COUNT"
	ReasonOther      AdjustmentReason = "OTHER"
)

// Warehouse represents a physical storage site. Non-nettable warehouses
// (returns staging, quarantine) hold stock that never counts as available.
type Warehouse struct {
	ID         int
	Code       string
	Name       string
	Address    *string
	IsNettable bool
	IsActive   bool
	CreatedAt  time.Time
}

// Location is a bin within a warehouse. Locations reference their warehouse
// by ID; a warehouse does not carry its child locations.
type Location struct {
	ID          int
	WarehouseID int
	Code        string
	ZoneType    ZoneType
	IsActive    bool
	CreatedAt   time.Time
}

// ProductVariant is a sellable SKU.
type ProductVariant struct {
	ID              int
	SKU             string
	Name            string
	Barcode         *string
	CostPrice       decimal.Decimal
	SalesPrice      decimal.Decimal
	ReorderPoint    decimal.Decimal
	ReorderQuantity decimal.Decimal
	IsActive        bool
	CreatedAt       time.Time
}

type Customer struct {
	ID        int
	Code      string
	Name      string
	Email     *string
	Phone     *string
	Address   *string
	IsActive  bool
	CreatedAt time.Time
}

// Vendor represents a supplier in the procurement workflow.
type Vendor struct {
	ID               int
	Code             string
	Name             string
	Email            *string
	Phone            *string
	Address          *string
	PaymentTermsDays int
	Rating           int
	IsActive         bool
	CreatedAt        time.Time
}

// StockSnapshot is the cached (on-hand, allocated) pair for a variant at a
// location. It is derived state: the stock ledger is the source of truth and
// the snapshot can be rebuilt from it at any time.
type StockSnapshot struct {
	ID                int
	ProductVariantID  int
	LocationID        int
	QuantityOnHand    decimal.Decimal
	QuantityAllocated decimal.Decimal
	UpdatedAt         time.Time
}

// Available returns on-hand minus allocated.
func (s StockSnapshot) Available() decimal.Decimal {
	return s.QuantityOnHand.Sub(s.QuantityAllocated)
}
