// Package statement exports a supplier account statement as a spreadsheet.
package statement

import (
	"io"

	"github.com/smallbiznis/payables/internal/supplierdocument/domain"
	"github.com/xuri/excelize/v2"
)

const (
	SheetName   = "Statement"
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	dateLayout = "2006-01-02"
)

var headings = []string{"Type", "Point of sale", "Number", "Issue date", "Due date", "Status", "Total", "Applied", "Balance"}

// Write renders one row per document followed by the supplier summary.
func Write(w io.Writer, balance domain.SupplierBalance, documents []domain.SupplierDocument) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	for i, h := range headings {
		if err := setCell(f, i+1, 1, h); err != nil {
			return err
		}
	}
	last, err := excelize.CoordinatesToCellName(len(headings), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetName, "A1", last, bold); err != nil {
		return err
	}

	row := 2
	for _, doc := range documents {
		values := []any{
			string(doc.Type),
			deref(doc.PointOfSale),
			doc.DocumentNumber,
			doc.IssueDate.UTC().Format(dateLayout),
			formatDate(doc),
			string(doc.Status),
			doc.TotalAmount.InexactFloat64(),
			doc.AppliedAmount.InexactFloat64(),
			doc.Balance.InexactFloat64(),
		}
		for col, value := range values {
			if err := setCell(f, col+1, row, value); err != nil {
				return err
			}
		}
		row++
	}

	row++
	summary := []struct {
		label string
		value any
	}{
		{"Supplier", balance.SupplierID},
		{"Channel", string(balance.Channel)},
		{"Open balance", balance.OpenBalance.InexactFloat64()},
		{"Overdue", balance.OverdueBalance.InexactFloat64()},
		{"Due soon", balance.DueSoonBalance.InexactFloat64()},
		{"Available credit", balance.AvailableCredit.InexactFloat64()},
		{"Net payable", balance.NetPayableBalance.InexactFloat64()},
	}
	for _, line := range summary {
		if err := setCell(f, 1, row, line.label); err != nil {
			return err
		}
		if err := setCell(f, 2, row, line.value); err != nil {
			return err
		}
		row++
	}

	return f.Write(w)
}

func setCell(f *excelize.File, col, row int, value any) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(SheetName, cell, value)
}

func formatDate(doc domain.SupplierDocument) string {
	if doc.DueDate == nil {
		return ""
	}
	return doc.DueDate.UTC().Format(dateLayout)
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
