package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx, enabling shared query helpers.
type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgxRowQuerier is satisfied by both *pgxpool.Pool and pgx.Tx (for Query).
type pgxRowQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// resolveVariantID looks up a product variant ID from its SKU.
// With activeOnly set, deactivated variants are treated as absent.
func resolveVariantID(ctx context.Context, q pgxQuerier, sku string, activeOnly bool) (int, error) {
	query := "SELECT id FROM product_variants WHERE sku = $1"
	if activeOnly {
		query += " AND is_active"
	}
	var id int
	if err := q.QueryRow(ctx, query, sku).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("product variant %s: %w", sku, ErrNotFound)
		}
		return 0, fmt.Errorf("failed to resolve variant %s: %w", sku, err)
	}
	return id, nil
}

// resolveWarehouseID looks up a warehouse ID from its code.
func resolveWarehouseID(ctx context.Context, q pgxQuerier, code string, activeOnly bool) (int, error) {
	query := "SELECT id FROM warehouses WHERE code = $1"
	if activeOnly {
		query += " AND is_active"
	}
	var id int
	if err := q.QueryRow(ctx, query, code).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("warehouse %s: %w", code, ErrNotFound)
		}
		return 0, fmt.Errorf("failed to resolve warehouse %s: %w", code, err)
	}
	return id, nil
}

// resolveLocationID looks up a location ID by warehouse and bin code.
func resolveLocationID(ctx context.Context, q pgxQuerier, warehouseID int, code string, activeOnly bool) (int, error) {
	query := "SELECT id FROM locations WHERE warehouse_id = $1 AND code = $2"
	if activeOnly {
		query += " AND is_active"
	}
	var id int
	if err := q.QueryRow(ctx, query, warehouseID, code).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("location %s: %w", code, ErrNotFound)
		}
		return 0, fmt.Errorf("failed to resolve location %s: %w", code, err)
	}
	return id, nil
}

// resolveCustomerID looks up a customer ID from its code.
func resolveCustomerID(ctx context.Context, q pgxQuerier, code string, activeOnly bool) (int, error) {
	query := "SELECT id FROM customers WHERE code = $1"
	if activeOnly {
		query += " AND is_active"
	}
	var id int
	if err := q.QueryRow(ctx, query, code).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("customer %s: %w", code, ErrNotFound)
		}
		return 0, fmt.Errorf("failed to resolve customer %s: %w", code, err)
	}
	return id, nil
}

// resolveVendorID looks up a vendor ID from its code.
func resolveVendorID(ctx context.Context, q pgxQuerier, code string, activeOnly bool) (int, error) {
	query := "SELECT id FROM vendors WHERE code = $1"
	if activeOnly {
		query += " AND is_active"
	}
	var id int
	if err := q.QueryRow(ctx, query, code).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("vendor %s: %w", code, ErrNotFound)
		}
		return 0, fmt.Errorf("failed to resolve vendor %s: %w", code, err)
	}
	return id, nil
}
