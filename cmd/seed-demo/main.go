// seed-demo loads a small demo dataset: two warehouses with bins, a
// returns warehouse kept out of available stock, a handful of variants,
// one customer and one vendor. Safe to re-run; existing codes are updated
// in place and no order or ledger data is touched.
//
// Usage: go run ./cmd/seed-demo
package main

import (
	"context"
	"log"

	"inventory-engine/internal/db"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	ctx := context.Background()
	pool, err := db.NewPool(ctx)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer pool.Close()

	tx, err := pool.Begin(ctx)
	if err != nil {
		log.Fatalf("Failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	log.Println("Seeding warehouses...")
	_, err = tx.Exec(ctx, `
		INSERT INTO warehouses (code, name, is_nettable)
		VALUES
		  ('MAIN',    'Main Distribution Center', true),
		  ('EAST',    'East Regional Warehouse',  true),
		  ('RETURNS', 'Returns Staging',          false)
		ON CONFLICT (code) DO UPDATE
		  SET name = EXCLUDED.name,
		      is_nettable = EXCLUDED.is_nettable;
	`)
	if err != nil {
		log.Fatalf("Failed to seed warehouses: %v", err)
	}

	log.Println("Seeding locations...")
	_, err = tx.Exec(ctx, `
		INSERT INTO locations (warehouse_id, code, zone_type)
		SELECT w.id, l.code, l.zone_type
		FROM warehouses w
		JOIN (VALUES
		    ('MAIN',    'RCV-01',  'RECEIVING'),
		    ('MAIN',    'BULK-01', 'BULK'),
		    ('MAIN',    'BULK-02', 'BULK'),
		    ('MAIN',    'PICK-01', 'PICKING'),
		    ('MAIN',    'PACK-01', 'PACKING'),
		    ('MAIN',    'SHIP-01', 'SHIPPING'),
		    ('EAST',    'RCV-01',  'RECEIVING'),
		    ('EAST',    'BULK-01', 'BULK'),
		    ('EAST',    'PICK-01', 'PICKING'),
		    ('RETURNS', 'QUAR-01', 'QUARANTINE')
		) AS l(warehouse_code, code, zone_type) ON l.warehouse_code = w.code
		ON CONFLICT (warehouse_id, code) DO UPDATE
		  SET zone_type = EXCLUDED.zone_type;
	`)
	if err != nil {
		log.Fatalf("Failed to seed locations: %v", err)
	}

	log.Println("Seeding product variants...")
	_, err = tx.Exec(ctx, `
		INSERT INTO product_variants (sku, name, cost_price, sales_price, reorder_point, reorder_quantity)
		VALUES
		  ('WID-STD-BLU', 'Standard Widget, Blue', 4.50,  9.99, 50, 200),
		  ('WID-STD-RED', 'Standard Widget, Red',  4.50,  9.99, 50, 200),
		  ('WID-PRO-BLK', 'Pro Widget, Black',     11.20, 24.99, 20, 100),
		  ('GAD-MINI-01', 'Mini Gadget',           2.10,  5.49, 100, 500),
		  ('GAD-MAXI-01', 'Maxi Gadget',           7.80, 17.99, 30, 150)
		ON CONFLICT (sku) DO UPDATE
		  SET name = EXCLUDED.name,
		      cost_price = EXCLUDED.cost_price,
		      sales_price = EXCLUDED.sales_price,
		      reorder_point = EXCLUDED.reorder_point,
		      reorder_quantity = EXCLUDED.reorder_quantity;
	`)
	if err != nil {
		log.Fatalf("Failed to seed variants: %v", err)
	}

	log.Println("Seeding customers and vendors...")
	_, err = tx.Exec(ctx, `
		INSERT INTO customers (code, name, email)
		VALUES ('CUST-001', 'Acme Retail Ltd', 'orders@acme-retail.example')
		ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email;

		INSERT INTO vendors (code, name, email, payment_terms_days, rating)
		VALUES ('VEND-001', 'Widget Works Manufacturing', 'sales@widgetworks.example', 45, 4)
		ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email;
	`)
	if err != nil {
		log.Fatalf("Failed to seed customers and vendors: %v", err)
	}

	if err := tx.Commit(ctx); err != nil {
		log.Fatalf("Failed to commit: %v", err)
	}

	log.Println("Demo data seeded successfully.")
}
