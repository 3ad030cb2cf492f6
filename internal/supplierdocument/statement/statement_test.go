package statement

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/payables/internal/channel"
	"github.com/smallbiznis/payables/internal/supplierdocument/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestWrite(t *testing.T) {
	due := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	pos := "0003"
	docs := []domain.SupplierDocument{
		{
			Type:           domain.DocumentTypeInvoiceB,
			PointOfSale:    &pos,
			DocumentNumber: "00000120",
			IssueDate:      time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
			DueDate:        &due,
			Status:         domain.StatusPartiallyApplied,
			TotalAmount:    decimal.RequireFromString("1000"),
			AppliedAmount:  decimal.RequireFromString("250.5"),
			Balance:        decimal.RequireFromString("749.5"),
		},
	}
	balance := domain.SupplierBalance{
		SupplierID:        "42",
		Channel:           channel.Fiscal,
		OpenDocuments:     1,
		OpenBalance:       decimal.RequireFromString("749.5"),
		NetPayableBalance: decimal.RequireFromString("749.5"),
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, balance, docs))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(rows), 4)
	assert.Equal(t, headings, rows[0])
	assert.Equal(t, []string{"INVOICE_B", "0003", "00000120", "2026-04-01", "2026-05-01", "PARTIALLY_APPLIED", "1000", "250.5", "749.5"}, rows[1])

	supplier, err := f.GetCellValue(SheetName, "B4")
	require.NoError(t, err)
	assert.Equal(t, "42", supplier)
	net, err := f.GetCellValue(SheetName, "B10")
	require.NoError(t, err)
	assert.Equal(t, "749.5", net)
}

func TestWriteWithoutDocuments(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, domain.SupplierBalance{SupplierID: "7", Channel: channel.Internal}, nil))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	label, err := f.GetCellValue(SheetName, "A3")
	require.NoError(t, err)
	assert.Equal(t, "Supplier", label)
}
