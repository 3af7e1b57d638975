package importer

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"
)

// dateLayouts are tried in order when reading the date column.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"02/01/2006",
	"02.01.2006",
}

// csvRow maps the import columns. Only description and amount are required;
// a missing type is inferred from the amount sign.
type csvRow struct {
	ID          string `csv:"id"`
	Date        string `csv:"date"`
	Description string `csv:"description"`
	Merchant    string `csv:"merchant"`
	Amount      string `csv:"amount"`
	Type        string `csv:"type"`
	Reference   string `csv:"reference"`
	EntityID    string `csv:"entity_id"`
}

// CSVParser reads delimited transaction exports.
type CSVParser struct {
	Delimiter rune
}

// NewCSVParser creates a parser for the given delimiter; zero means comma.
func NewCSVParser(delimiter rune) *CSVParser {
	if delimiter == 0 {
		delimiter = ','
	}
	return &CSVParser{Delimiter: delimiter}
}

// Parse reads all rows. A row that cannot be converted fails the whole file
// with its line number so the caller can fix the export.
func (p *CSVParser) Parse(reader io.Reader) ([]model.Transaction, error) {
	r := csv.NewReader(reader)
	r.Comma = p.Delimiter
	r.TrimLeadingSpace = true

	var rows []csvRow
	if err := gocsv.UnmarshalCSV(r, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse CSV file: %w", err)
	}

	transactions := make([]model.Transaction, 0, len(rows))
	for i, row := range rows {
		tx, err := row.toTransaction()
		if err != nil {
			// Line 1 is the header.
			return nil, fmt.Errorf("line %d: %w", i+2, err)
		}
		if tx.ID == "" {
			tx.ID = fmt.Sprintf("row-%d", i+1)
		}
		transactions = append(transactions, tx)
	}

	slog.Info("Parsed CSV file", "total_transactions", len(transactions))
	return transactions, nil
}

func (r csvRow) toTransaction() (model.Transaction, error) {
	description := strings.TrimSpace(r.Description)
	if description == "" {
		return model.Transaction{}, fmt.Errorf("%w: description is required", common.ErrInvalidInput)
	}

	amount, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(r.Amount), ",", ""))
	if err != nil {
		return model.Transaction{}, fmt.Errorf("%w: invalid amount %q", common.ErrInvalidInput, r.Amount)
	}

	var txType model.TransactionType
	if strings.TrimSpace(r.Type) == "" {
		txType = model.TransactionTypeCredit
		if amount.IsNegative() {
			txType = model.TransactionTypeDebit
		}
	} else {
		var ok bool
		txType, ok = model.ParseTransactionType(r.Type)
		if !ok {
			return model.Transaction{}, fmt.Errorf("%w: invalid type %q", common.ErrInvalidInput, r.Type)
		}
	}

	tx := model.Transaction{
		ID:           strings.TrimSpace(r.ID),
		Description:  description,
		MerchantName: strings.TrimSpace(r.Merchant),
		Amount:       amount.Abs(),
		Type:         txType,
		Reference:    strings.TrimSpace(r.Reference),
	}
	if entity := strings.TrimSpace(r.EntityID); entity != "" {
		tx.EntityID = &entity
	}
	if date := strings.TrimSpace(r.Date); date != "" {
		parsed, err := parseDate(date)
		if err != nil {
			return model.Transaction{}, err
		}
		tx.Date = parsed
	}
	return tx, nil
}

func parseDate(value string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognized date %q", common.ErrInvalidInput, value)
}
