package importer

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/Veraticus/tally/internal/model"
	"github.com/gocarina/gocsv"
)

// resultRow is one line of a categorization report.
type resultRow struct {
	TransactionID string `csv:"transaction_id"`
	Date          string `csv:"date"`
	Description   string `csv:"description"`
	Amount        string `csv:"amount"`
	Type          string `csv:"type"`
	CategoryID    string `csv:"category_id"`
	CategoryName  string `csv:"category_name"`
	Source        string `csv:"source"`
	Confidence    string `csv:"confidence"`
	AutoApprove   bool   `csv:"auto_approve"`
	NeedsReview   bool   `csv:"needs_review"`
	Status        string `csv:"status"`
	Justification string `csv:"justification"`
	Error         string `csv:"error"`
}

// WriteResults writes transactions next to their categorization results.
// The slices must be the same length and in the same order.
func WriteResults(w io.Writer, delimiter rune, txns []model.Transaction, results []model.CategorizationResult) error {
	if len(txns) != len(results) {
		return fmt.Errorf("mismatched export: %d transactions, %d results", len(txns), len(results))
	}
	if delimiter == 0 {
		delimiter = ','
	}

	rows := make([]resultRow, len(txns))
	for i, tx := range txns {
		res := results[i]
		row := resultRow{
			TransactionID: res.TransactionID,
			Description:   tx.Description,
			Amount:        tx.Amount.StringFixed(2),
			Type:          string(tx.Type),
			CategoryID:    res.CategoryID,
			CategoryName:  res.CategoryName,
			Source:        string(res.Source),
			Confidence:    strconv.FormatFloat(res.Confidence, 'f', 2, 64),
			AutoApprove:   res.AutoApprove,
			NeedsReview:   res.NeedsReview,
			Status:        string(res.Status),
			Justification: res.Justification,
			Error:         res.Error,
		}
		if row.TransactionID == "" {
			row.TransactionID = tx.ID
		}
		if !tx.Date.IsZero() {
			row.Date = tx.Date.Format("2006-01-02")
		}
		rows[i] = row
	}

	writer := csv.NewWriter(w)
	writer.Comma = delimiter
	if err := gocsv.MarshalCSV(rows, gocsv.NewSafeCSVWriter(writer)); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	return nil
}
