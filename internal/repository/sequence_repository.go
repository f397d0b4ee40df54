package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/civicqo/be-billing/internal/apperr"
	"github.com/civicqo/be-billing/internal/database"
)

// Document number prefixes. French commercial vocabulary: devis, bon de
// commande, facture.
const (
	DocTypeQuote   = "DEV"
	DocTypeOrder   = "BDC"
	DocTypeInvoice = "FAC"
)

// SequenceRepository allocates human-readable document numbers.
type SequenceRepository struct {
	db *database.DB
}

// NewSequenceRepository creates a new sequence repository.
func NewSequenceRepository(db *database.DB) *SequenceRepository {
	return &SequenceRepository{db: db}
}

// Next allocates the next number for a document type, e.g. "DEV-2026-0042".
// The upsert serializes concurrent callers on the sequence row, so two
// concurrent creations can never receive the same number.
func (r *SequenceRepository) Next(ctx context.Context, docType string) (string, error) {
	year := time.Now().UTC().Year()

	query := `
		INSERT INTO document_sequences (doc_type, year, last_value)
		VALUES ($1, $2, 1)
		ON CONFLICT (doc_type, year)
		DO UPDATE SET last_value = document_sequences.last_value + 1
		RETURNING last_value
	`

	var value int64
	if err := r.db.QueryRow(ctx, query, docType, year).Scan(&value); err != nil {
		return "", apperr.Wrap(err, apperr.CodeInternal, "failed to allocate document number")
	}

	return FormatDocumentNumber(docType, year, value), nil
}

// FormatDocumentNumber renders a document number as prefix-year-counter
// with the counter zero-padded to four digits.
func FormatDocumentNumber(docType string, year int, value int64) string {
	return fmt.Sprintf("%s-%d-%04d", docType, year, value)
}
