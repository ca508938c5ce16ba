package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ── Report types ──────────────────────────────────────────────────────────────

// StockLevel is a read view of one (variant, location) position joined
// with variant and warehouse info.
type StockLevel struct {
	SKU           string
	ProductName   string
	WarehouseCode string
	LocationCode  string
	ZoneType      ZoneType
	OnHand        decimal.Decimal
	Allocated     decimal.Decimal
	Available     decimal.Decimal // = OnHand - Allocated
}

// LowStockItem is a variant whose total available stock across nettable
// warehouses has fallen to or below its reorder point.
type LowStockItem struct {
	SKU             string
	ProductName     string
	Available       decimal.Decimal
	ReorderPoint    decimal.Decimal
	ReorderQuantity decimal.Decimal
}

// LedgerHistoryEntry is one ledger row in a movement history listing.
type LedgerHistoryEntry struct {
	ID             int64
	EntryType      EntryType
	SKU            string
	WarehouseCode  string
	LocationCode   string
	QuantityChange decimal.Decimal
	UnitCost       decimal.Decimal
	ReferenceKind  *string
	ReferenceID    *int
	CreatedAt      time.Time
}

// ── Interface ─────────────────────────────────────────────────────────────────

// ReportingService provides read-only queries over stock positions and
// movement history.
type ReportingService interface {
	// GetStockLevels returns current positions, optionally narrowed to one
	// warehouse (nil for all). Zeroed positions are included; they carry
	// history.
	GetStockLevels(ctx context.Context, warehouseCode *string) ([]StockLevel, error)

	// GetLowStockItems returns active variants at or below their reorder
	// point, counting available stock in nettable warehouses only.
	GetLowStockItems(ctx context.Context) ([]LowStockItem, error)

	// GetLedgerHistory returns movement history for a SKU, newest first,
	// capped at limit rows. limit <= 0 means a default of 100.
	GetLedgerHistory(ctx context.Context, sku string, limit int) ([]LedgerHistoryEntry, error)
}

type reportingService struct {
	pool *pgxpool.Pool
}

func NewReportingService(pool *pgxpool.Pool) ReportingService {
	return &reportingService{pool: pool}
}

func (s *reportingService) GetStockLevels(ctx context.Context, warehouseCode *string) ([]StockLevel, error) {
	query := `
		SELECT pv.sku, pv.name, w.code, l.code, l.zone_type,
		       ss.quantity_on_hand, ss.quantity_allocated,
		       ss.quantity_on_hand - ss.quantity_allocated
		FROM stock_snapshots ss
		JOIN product_variants pv ON pv.id = ss.product_variant_id
		JOIN locations l ON l.id = ss.location_id
		JOIN warehouses w ON w.id = l.warehouse_id`
	var args []any
	if warehouseCode != nil {
		query += " WHERE w.code = $1"
		args = append(args, *warehouseCode)
	}
	query += " ORDER BY pv.sku, w.code, l.code"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("stock levels query failed: %w", err)
	}
	defer rows.Close()

	var levels []StockLevel
	for rows.Next() {
		var sl StockLevel
		if err := rows.Scan(&sl.SKU, &sl.ProductName, &sl.WarehouseCode, &sl.LocationCode,
			&sl.ZoneType, &sl.OnHand, &sl.Allocated, &sl.Available); err != nil {
			return nil, fmt.Errorf("failed to scan stock level: %w", err)
		}
		levels = append(levels, sl)
	}
	return levels, rows.Err()
}

func (s *reportingService) GetLowStockItems(ctx context.Context) ([]LowStockItem, error) {
	// A variant with no snapshot rows at all still shows up at zero
	// available, so never-stocked items surface too.
	rows, err := s.pool.Query(ctx, `
		SELECT pv.sku, pv.name,
		       COALESCE(SUM(ss.quantity_on_hand - ss.quantity_allocated) FILTER (WHERE w.is_nettable), 0) AS available,
		       pv.reorder_point, pv.reorder_quantity
		FROM product_variants pv
		LEFT JOIN stock_snapshots ss ON ss.product_variant_id = pv.id
		LEFT JOIN locations l ON l.id = ss.location_id
		LEFT JOIN warehouses w ON w.id = l.warehouse_id
		WHERE pv.is_active AND pv.reorder_point > 0
		GROUP BY pv.id, pv.sku, pv.name, pv.reorder_point, pv.reorder_quantity
		HAVING COALESCE(SUM(ss.quantity_on_hand - ss.quantity_allocated) FILTER (WHERE w.is_nettable), 0) <= pv.reorder_point
		ORDER BY pv.sku
	`)
	if err != nil {
		return nil, fmt.Errorf("low stock query failed: %w", err)
	}
	defer rows.Close()

	var items []LowStockItem
	for rows.Next() {
		var item LowStockItem
		if err := rows.Scan(&item.SKU, &item.ProductName, &item.Available,
			&item.ReorderPoint, &item.ReorderQuantity); err != nil {
			return nil, fmt.Errorf("failed to scan low stock item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *reportingService) GetLedgerHistory(ctx context.Context, sku string, limit int) ([]LedgerHistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT sl.id, sl.entry_type, pv.sku, w.code, l.code,
		       sl.quantity_change, sl.unit_cost, sl.reference_kind, sl.reference_id, sl.created_at
		FROM stock_ledger sl
		JOIN product_variants pv ON pv.id = sl.product_variant_id
		JOIN locations l ON l.id = sl.location_id
		JOIN warehouses w ON w.id = l.warehouse_id
		WHERE pv.sku = $1
		ORDER BY sl.id DESC
		LIMIT $2
	`, sku, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger history query failed: %w", err)
	}
	defer rows.Close()

	var entries []LedgerHistoryEntry
	for rows.Next() {
		var e LedgerHistoryEntry
		if err := rows.Scan(&e.ID, &e.EntryType, &e.SKU, &e.WarehouseCode, &e.LocationCode,
			&e.QuantityChange, &e.UnitCost, &e.ReferenceKind, &e.ReferenceID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger history entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
