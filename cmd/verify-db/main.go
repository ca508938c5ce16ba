// verify-db checks that the stock snapshot cache agrees with the ledger.
// With -rebuild it recomputes the snapshots from the ledger first, which
// repairs any drift, then verifies again.
//
// Usage: go run ./cmd/verify-db [-rebuild]
package main

import (
	"context"
	"errors"
	"flag"
	"log"

	"inventory-engine/internal/core"
	"inventory-engine/internal/db"

	"github.com/joho/godotenv"
)

func main() {
	rebuild := flag.Bool("rebuild", false, "rebuild snapshots from the ledger before verifying")
	flag.Parse()

	_ = godotenv.Load()

	ctx := context.Background()
	pool, err := db.NewPool(ctx)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer pool.Close()

	ledger := core.NewStockLedger(pool)

	if *rebuild {
		log.Println("Rebuilding snapshots from ledger...")
		if err := ledger.RebuildSnapshots(ctx); err != nil {
			log.Fatalf("Rebuild failed: %v", err)
		}
		log.Println("Rebuild complete.")
	}

	err = ledger.VerifyReconciliation(ctx)
	if err == nil {
		log.Println("OK: snapshots reconcile with the ledger.")
		return
	}

	var integrity *core.IntegrityError
	if errors.As(err, &integrity) {
		log.Printf("FAIL: %d position(s) out of sync:", len(integrity.Faults))
		for _, f := range integrity.Faults {
			log.Printf("  variant=%d location=%d snapshot(on_hand=%s allocated=%s) ledger(on_hand=%s allocated=%s)",
				f.ProductVariantID, f.LocationID,
				f.SnapshotOnHand, f.SnapshotAllocated,
				f.LedgerOnHand, f.LedgerAllocated)
		}
		log.Fatal("Run with -rebuild to repair from the ledger.")
	}

	log.Fatalf("Verification failed: %v", err)
}
