package importer

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVParser_Parse(t *testing.T) {
	input := `id,date,description,merchant,amount,type
t1,2024-03-01,TESCO STORES 3297,,-42.10,
t2,01/03/2024,ACME LTD SALARY,,2500.00,credit
,2024-03-02,CARD PAYMENT PRET A MANGER,Pret A Manger,6.45,DEBIT
`
	transactions, err := NewCSVParser(0).Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, transactions, 3)

	tesco := transactions[0]
	assert.Equal(t, "t1", tesco.ID)
	assert.Equal(t, "TESCO STORES 3297", tesco.Description)
	assert.Equal(t, model.TransactionTypeDebit, tesco.Type)
	assert.True(t, decimal.RequireFromString("42.10").Equal(tesco.Amount))
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), tesco.Date)

	salary := transactions[1]
	assert.Equal(t, model.TransactionTypeCredit, salary.Type)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), salary.Date)

	pret := transactions[2]
	assert.Equal(t, "row-3", pret.ID)
	assert.Equal(t, "Pret A Manger", pret.MerchantName)
	assert.Equal(t, model.TransactionTypeDebit, pret.Type)
}

func TestCSVParser_Delimiter(t *testing.T) {
	input := "description;amount;entity_id\nSPOTIFY;-9.99;household-1\n"

	transactions, err := NewCSVParser(';').Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, transactions, 1)
	require.NotNil(t, transactions[0].EntityID)
	assert.Equal(t, "household-1", *transactions[0].EntityID)
	assert.Equal(t, model.TransactionTypeDebit, transactions[0].Type)
}

func TestCSVParser_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantMsg string
	}{
		{
			name:    "missing description",
			input:   "description,amount\n,10\n",
			wantMsg: "line 2",
		},
		{
			name:    "bad amount",
			input:   "description,amount\nTESCO,ten\n",
			wantMsg: "invalid amount",
		},
		{
			name:    "bad type",
			input:   "description,amount,type\nTESCO,10,refund\n",
			wantMsg: "invalid type",
		},
		{
			name:    "bad date",
			input:   "description,amount,date\nTESCO,10,yesterday\n",
			wantMsg: "unrecognized date",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCSVParser(',').Parse(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.ErrorIs(t, err, common.ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestWriteResults(t *testing.T) {
	ruleID := int64(7)
	txns := []model.Transaction{
		{ID: "t1", Description: "TESCO STORES 3297", Amount: decimal.RequireFromString("42.1"), Type: model.TransactionTypeDebit, Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "t2", Description: "MYSTERY", Amount: decimal.NewFromInt(3), Type: model.TransactionTypeDebit},
	}
	results := []model.CategorizationResult{
		{TransactionID: "t1", CategoryID: "groceries", CategoryName: "Groceries", Source: model.SourceRule, Confidence: 1, RuleID: &ruleID, AutoApprove: true, Status: model.StatusOK},
		model.Uncategorized("t2"),
	}

	var buf bytes.Buffer
	require.NoError(t, WriteResults(&buf, ',', txns, results))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "transaction_id", records[0][0])
	assert.Equal(t, []string{"t1", "2024-03-01", "TESCO STORES 3297", "42.10", "debit", "groceries", "Groceries", "rule", "1.00", "true", "false", "ok", "", ""}, records[1])
	assert.Equal(t, "none", records[2][7])
	assert.Equal(t, "true", records[2][10])
}

func TestWriteResults_Mismatch(t *testing.T) {
	err := WriteResults(&bytes.Buffer{}, ',', []model.Transaction{{ID: "a"}}, nil)
	assert.Error(t, err)
}
