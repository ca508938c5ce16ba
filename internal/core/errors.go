package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// Recoverable failure taxonomy. Every operation returns one of these
// (wrapped with context) for expected business failures; anything else
// is an infrastructure error.
var (
	// ErrInvalidTransition is returned when a workflow guard rejects a
	// status change. The wrapping message names the current status and
	// the attempted transition.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInsufficientStock is returned when an allocation or transfer
	// cannot be satisfied from available quantity.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrOverReceipt is returned when a goods receipt would push a PO
	// line's cumulative received quantity above the ordered quantity.
	ErrOverReceipt = errors.New("receipt exceeds ordered quantity")

	// ErrNegativeStock is returned when an adjustment would drive
	// on-hand quantity below zero.
	ErrNegativeStock = errors.New("adjustment would drive stock negative")

	// ErrConflict is returned when a concurrent transition holds the row
	// lock. Callers may retry; no state was changed.
	ErrConflict = errors.New("concurrent modification conflict")

	ErrNotFound = errors.New("not found")

	// ErrAlreadyReleased signals an idempotent no-op: the order's
	// reservations were already released (or never held). Snapshots are
	// untouched. Callers should treat it as benign.
	ErrAlreadyReleased = errors.New("allocation already released")
)

// ReconciliationFault describes one (variant, location) key whose snapshot
// disagrees with the ledger.
type ReconciliationFault struct {
	ProductVariantID  int
	LocationID        int
	SnapshotOnHand    decimal.Decimal
	LedgerOnHand      decimal.Decimal
	SnapshotAllocated decimal.Decimal
	LedgerAllocated   decimal.Decimal
}

// IntegrityError reports a violated reconciliation invariant: for some key
// the snapshot no longer equals the ledger sums. This is a fatal integrity
// fault, not a recoverable business outcome. Repair by replaying the
// ledger (StockLedger.RebuildSnapshots / cmd/verify-db -rebuild).
type IntegrityError struct {
	Faults []ReconciliationFault
}

func (e *IntegrityError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ledger/snapshot reconciliation failed for %d key(s):", len(e.Faults))
	for _, f := range e.Faults {
		fmt.Fprintf(&b, " [variant %d @ location %d: snapshot on_hand=%s ledger=%s, snapshot allocated=%s ledger=%s]",
			f.ProductVariantID, f.LocationID,
			f.SnapshotOnHand.String(), f.LedgerOnHand.String(),
			f.SnapshotAllocated.String(), f.LedgerAllocated.String())
	}
	return b.String()
}

// invalidTransition builds the standard guard-violation error naming the
// current status and the attempted transition.
func invalidTransition(kind, current, attempted string) error {
	return fmt.Errorf("%w: %s in status %s cannot %s", ErrInvalidTransition, kind, current, attempted)
}

// isLockNotAvailable reports whether err is Postgres' lock_not_available
// (SQLSTATE 55P03), raised by FOR UPDATE NOWAIT when another transaction
// holds the row.
func isLockNotAvailable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "55P03"
}
