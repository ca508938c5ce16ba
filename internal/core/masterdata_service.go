package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// VariantInput holds the fields required to create a product variant.
type VariantInput struct {
	SKU             string
	Name            string
	Barcode         string
	CostPrice       decimal.Decimal
	SalesPrice      decimal.Decimal
	ReorderPoint    decimal.Decimal
	ReorderQuantity decimal.Decimal
}

// CustomerInput holds the fields required to create a customer.
type CustomerInput struct {
	Code    string
	Name    string
	Email   string
	Phone   string
	Address string
}

// VendorInput holds the fields required to create a vendor.
type VendorInput struct {
	Code             string
	Name             string
	Email            string
	Phone            string
	Address          string
	PaymentTermsDays int
	Rating           int
}

var validZones = map[ZoneType]bool{
	ZoneReceiving:  true,
	ZoneBulk:       true,
	ZonePicking:    true,
	ZonePacking:    true,
	ZoneShipping:   true,
	ZoneQuarantine: true,
}

// MasterDataService manages warehouses, locations, variants, customers and
// vendors. Records are never hard-deleted; deactivation hides them from
// activeOnly lookups while history keeps referencing them.
type MasterDataService interface {
	CreateWarehouse(ctx context.Context, code, name, address string, isNettable bool) (*Warehouse, error)
	GetWarehouseByCode(ctx context.Context, code string, activeOnly bool) (*Warehouse, error)
	GetWarehouses(ctx context.Context, activeOnly bool) ([]Warehouse, error)
	DeactivateWarehouse(ctx context.Context, code string) error

	CreateLocation(ctx context.Context, warehouseCode, code string, zone ZoneType) (*Location, error)
	GetLocations(ctx context.Context, warehouseCode string, activeOnly bool) ([]Location, error)

	CreateVariant(ctx context.Context, input VariantInput) (*ProductVariant, error)
	GetVariantBySKU(ctx context.Context, sku string, activeOnly bool) (*ProductVariant, error)
	GetVariants(ctx context.Context, activeOnly bool) ([]ProductVariant, error)
	DeactivateVariant(ctx context.Context, sku string) error

	CreateCustomer(ctx context.Context, input CustomerInput) (*Customer, error)
	GetCustomerByCode(ctx context.Context, code string, activeOnly bool) (*Customer, error)

	CreateVendor(ctx context.Context, input VendorInput) (*Vendor, error)
	GetVendorByCode(ctx context.Context, code string, activeOnly bool) (*Vendor, error)
	GetVendors(ctx context.Context, activeOnly bool) ([]Vendor, error)
}

type masterDataService struct {
	pool *pgxpool.Pool
}

// NewMasterDataService constructs a MasterDataService backed by PostgreSQL.
func NewMasterDataService(pool *pgxpool.Pool) MasterDataService {
	return &masterDataService{pool: pool}
}

func toPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// activeFilter appends the soft-delete filter when requested. The base
// query must already end in a WHERE clause.
func activeFilter(query string, activeOnly bool) string {
	if activeOnly {
		return query + " AND is_active"
	}
	return query
}

// ── Warehouses ───────────────────────────────────────────────────────────────

func (s *masterDataService) CreateWarehouse(ctx context.Context, code, name, address string, isNettable bool) (*Warehouse, error) {
	w := &Warehouse{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO warehouses (code, name, address, is_nettable)
		VALUES ($1, $2, $3, $4)
		RETURNING id, code, name, address, is_nettable, is_active, created_at`,
		code, name, toPtr(address), isNettable,
	).Scan(&w.ID, &w.Code, &w.Name, &w.Address, &w.IsNettable, &w.IsActive, &w.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create warehouse %q: %w", code, err)
	}
	return w, nil
}

func (s *masterDataService) GetWarehouseByCode(ctx context.Context, code string, activeOnly bool) (*Warehouse, error) {
	w := &Warehouse{}
	query := activeFilter(`
		SELECT id, code, name, address, is_nettable, is_active, created_at
		FROM warehouses
		WHERE code = $1`, activeOnly)
	err := s.pool.QueryRow(ctx, query, code).Scan(
		&w.ID, &w.Code, &w.Name, &w.Address, &w.IsNettable, &w.IsActive, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("warehouse %s: %w", code, ErrNotFound)
		}
		return nil, fmt.Errorf("get warehouse %q: %w", code, err)
	}
	return w, nil
}

func (s *masterDataService) GetWarehouses(ctx context.Context, activeOnly bool) ([]Warehouse, error) {
	query := "SELECT id, code, name, address, is_nettable, is_active, created_at FROM warehouses"
	if activeOnly {
		query += " WHERE is_active"
	}
	query += " ORDER BY code"

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get warehouses: %w", err)
	}
	defer rows.Close()

	var warehouses []Warehouse
	for rows.Next() {
		var w Warehouse
		if err := rows.Scan(&w.ID, &w.Code, &w.Name, &w.Address, &w.IsNettable, &w.IsActive, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan warehouse: %w", err)
		}
		warehouses = append(warehouses, w)
	}
	return warehouses, rows.Err()
}

func (s *masterDataService) DeactivateWarehouse(ctx context.Context, code string) error {
	tag, err := s.pool.Exec(ctx, "UPDATE warehouses SET is_active = false WHERE code = $1", code)
	if err != nil {
		return fmt.Errorf("deactivate warehouse %q: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("warehouse %s: %w", code, ErrNotFound)
	}
	return nil
}

// ── Locations ────────────────────────────────────────────────────────────────

func (s *masterDataService) CreateLocation(ctx context.Context, warehouseCode, code string, zone ZoneType) (*Location, error) {
	if !validZones[zone] {
		return nil, fmt.Errorf("unknown zone type %q", zone)
	}
	warehouseID, err := resolveWarehouseID(ctx, s.pool, warehouseCode, true)
	if err != nil {
		return nil, err
	}

	l := &Location{}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO locations (warehouse_id, code, zone_type)
		VALUES ($1, $2, $3)
		RETURNING id, warehouse_id, code, zone_type, is_active, created_at`,
		warehouseID, code, zone,
	).Scan(&l.ID, &l.WarehouseID, &l.Code, &l.ZoneType, &l.IsActive, &l.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create location %q in %s: %w", code, warehouseCode, err)
	}
	return l, nil
}

func (s *masterDataService) GetLocations(ctx context.Context, warehouseCode string, activeOnly bool) ([]Location, error) {
	warehouseID, err := resolveWarehouseID(ctx, s.pool, warehouseCode, false)
	if err != nil {
		return nil, err
	}

	query := activeFilter(`
		SELECT id, warehouse_id, code, zone_type, is_active, created_at
		FROM locations
		WHERE warehouse_id = $1`, activeOnly)
	rows, err := s.pool.Query(ctx, query+" ORDER BY code", warehouseID)
	if err != nil {
		return nil, fmt.Errorf("get locations for %s: %w", warehouseCode, err)
	}
	defer rows.Close()

	var locations []Location
	for rows.Next() {
		var l Location
		if err := rows.Scan(&l.ID, &l.WarehouseID, &l.Code, &l.ZoneType, &l.IsActive, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		locations = append(locations, l)
	}
	return locations, rows.Err()
}

// ── Product variants ─────────────────────────────────────────────────────────

func (s *masterDataService) CreateVariant(ctx context.Context, input VariantInput) (*ProductVariant, error) {
	v := &ProductVariant{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO product_variants (sku, name, barcode, cost_price, sales_price, reorder_point, reorder_quantity)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, sku, name, barcode, cost_price, sales_price, reorder_point, reorder_quantity, is_active, created_at`,
		input.SKU, input.Name, toPtr(input.Barcode), input.CostPrice, input.SalesPrice,
		input.ReorderPoint, input.ReorderQuantity,
	).Scan(&v.ID, &v.SKU, &v.Name, &v.Barcode, &v.CostPrice, &v.SalesPrice,
		&v.ReorderPoint, &v.ReorderQuantity, &v.IsActive, &v.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create variant %q: %w", input.SKU, err)
	}
	return v, nil
}

func (s *masterDataService) GetVariantBySKU(ctx context.Context, sku string, activeOnly bool) (*ProductVariant, error) {
	v := &ProductVariant{}
	query := activeFilter(`
		SELECT id, sku, name, barcode, cost_price, sales_price, reorder_point, reorder_quantity, is_active, created_at
		FROM product_variants
		WHERE sku = $1`, activeOnly)
	err := s.pool.QueryRow(ctx, query, sku).Scan(
		&v.ID, &v.SKU, &v.Name, &v.Barcode, &v.CostPrice, &v.SalesPrice,
		&v.ReorderPoint, &v.ReorderQuantity, &v.IsActive, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("product variant %s: %w", sku, ErrNotFound)
		}
		return nil, fmt.Errorf("get variant %q: %w", sku, err)
	}
	return v, nil
}

func (s *masterDataService) GetVariants(ctx context.Context, activeOnly bool) ([]ProductVariant, error) {
	query := "SELECT id, sku, name, barcode, cost_price, sales_price, reorder_point, reorder_quantity, is_active, created_at FROM product_variants"
	if activeOnly {
		query += " WHERE is_active"
	}
	query += " ORDER BY sku"

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get variants: %w", err)
	}
	defer rows.Close()

	var variants []ProductVariant
	for rows.Next() {
		var v ProductVariant
		if err := rows.Scan(&v.ID, &v.SKU, &v.Name, &v.Barcode, &v.CostPrice, &v.SalesPrice,
			&v.ReorderPoint, &v.ReorderQuantity, &v.IsActive, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan variant: %w", err)
		}
		variants = append(variants, v)
	}
	return variants, rows.Err()
}

func (s *masterDataService) DeactivateVariant(ctx context.Context, sku string) error {
	tag, err := s.pool.Exec(ctx, "UPDATE product_variants SET is_active = false WHERE sku = $1", sku)
	if err != nil {
		return fmt.Errorf("deactivate variant %q: %w", sku, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("product variant %s: %w", sku, ErrNotFound)
	}
	return nil
}

// ── Customers ────────────────────────────────────────────────────────────────

func (s *masterDataService) CreateCustomer(ctx context.Context, input CustomerInput) (*Customer, error) {
	c := &Customer{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO customers (code, name, email, phone, address)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, code, name, email, phone, address, is_active, created_at`,
		input.Code, input.Name, toPtr(input.Email), toPtr(input.Phone), toPtr(input.Address),
	).Scan(&c.ID, &c.Code, &c.Name, &c.Email, &c.Phone, &c.Address, &c.IsActive, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create customer %q: %w", input.Code, err)
	}
	return c, nil
}

func (s *masterDataService) GetCustomerByCode(ctx context.Context, code string, activeOnly bool) (*Customer, error) {
	c := &Customer{}
	query := activeFilter(`
		SELECT id, code, name, email, phone, address, is_active, created_at
		FROM customers
		WHERE code = $1`, activeOnly)
	err := s.pool.QueryRow(ctx, query, code).Scan(
		&c.ID, &c.Code, &c.Name, &c.Email, &c.Phone, &c.Address, &c.IsActive, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("customer %s: %w", code, ErrNotFound)
		}
		return nil, fmt.Errorf("get customer %q: %w", code, err)
	}
	return c, nil
}

// ── Vendors ──────────────────────────────────────────────────────────────────

func (s *masterDataService) CreateVendor(ctx context.Context, input VendorInput) (*Vendor, error) {
	paymentTerms := input.PaymentTermsDays
	if paymentTerms == 0 {
		paymentTerms = 30
	}

	v := &Vendor{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO vendors (code, name, email, phone, address, payment_terms_days, rating)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, code, name, email, phone, address, payment_terms_days, rating, is_active, created_at`,
		input.Code, input.Name, toPtr(input.Email), toPtr(input.Phone), toPtr(input.Address),
		paymentTerms, input.Rating,
	).Scan(&v.ID, &v.Code, &v.Name, &v.Email, &v.Phone, &v.Address,
		&v.PaymentTermsDays, &v.Rating, &v.IsActive, &v.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create vendor %q: %w", input.Code, err)
	}
	return v, nil
}

func (s *masterDataService) GetVendorByCode(ctx context.Context, code string, activeOnly bool) (*Vendor, error) {
	v := &Vendor{}
	query := activeFilter(`
		SELECT id, code, name, email, phone, address, payment_terms_days, rating, is_active, created_at
		FROM vendors
		WHERE code = $1`, activeOnly)
	err := s.pool.QueryRow(ctx, query, code).Scan(
		&v.ID, &v.Code, &v.Name, &v.Email, &v.Phone, &v.Address,
		&v.PaymentTermsDays, &v.Rating, &v.IsActive, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("vendor %s: %w", code, ErrNotFound)
		}
		return nil, fmt.Errorf("get vendor %q: %w", code, err)
	}
	return v, nil
}

func (s *masterDataService) GetVendors(ctx context.Context, activeOnly bool) ([]Vendor, error) {
	query := "SELECT id, code, name, email, phone, address, payment_terms_days, rating, is_active, created_at FROM vendors"
	if activeOnly {
		query += " WHERE is_active"
	}
	query += " ORDER BY code"

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get vendors: %w", err)
	}
	defer rows.Close()

	var vendors []Vendor
	for rows.Next() {
		var v Vendor
		if err := rows.Scan(&v.ID, &v.Code, &v.Name, &v.Email, &v.Phone, &v.Address,
			&v.PaymentTermsDays, &v.Rating, &v.IsActive, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan vendor: %w", err)
		}
		vendors = append(vendors, v)
	}
	return vendors, rows.Err()
}
