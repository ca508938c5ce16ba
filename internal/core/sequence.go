package core

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Document number prefixes, one sequence per kind.
const (
	seqSalesOrder    = "SO"
	seqPurchaseOrder = "PO"
	seqGoodsReceipt  = "GRN"
	seqTransfer      = "TR"
)

// nextDocumentNumber allocates the next gapless number for a document kind
// inside the caller's transaction. The sequence row is created on first use;
// the upsert takes a row lock, so concurrent allocations serialize and the
// number only becomes visible if the caller commits.
func nextDocumentNumber(ctx context.Context, tx pgx.Tx, kind string) (string, error) {
	var lastNumber int
	err := tx.QueryRow(ctx, `
		INSERT INTO document_sequences (kind, last_number)
		VALUES ($1, 1)
		ON CONFLICT (kind)
		DO UPDATE SET last_number = document_sequences.last_number + 1
		RETURNING last_number
	`, kind).Scan(&lastNumber)
	if err != nil {
		return "", fmt.Errorf("allocating %s number: %w", kind, err)
	}
	return fmt.Sprintf("%s-%05d", kind, lastNumber), nil
}
