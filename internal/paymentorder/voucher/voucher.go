// Package voucher renders a printable payment order for the supplier file.
package voucher

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
	orderdomain "github.com/smallbiznis/payables/internal/paymentorder/domain"
	docdomain "github.com/smallbiznis/payables/internal/supplierdocument/domain"
)

const dateLayout = "2006-01-02"

type Renderer interface {
	Render(ctx context.Context, data Data) (io.Reader, error)
}

type Data struct {
	OrderNumber string
	Date        string
	Status      string
	Channel     string
	SupplierID  string
	Notes       string
	ApprovedBy  string

	Documents   []Line
	CreditNotes []Line
	Payments    []Line

	DocumentsTotal   string
	CreditNotesTotal string
	PaymentsTotal    string
}

type Line struct {
	Description string
	Detail      string
	Amount      string
}

// FromOrder builds voucher data for order. documents resolves referenced
// document ids to their numbers; unknown ids print as the raw id.
func FromOrder(order orderdomain.PaymentOrder, documents map[snowflake.ID]docdomain.SupplierDocument) Data {
	data := Data{
		OrderNumber:      order.OrderNumber,
		Date:             order.Date.UTC().Format(dateLayout),
		Status:           string(order.Status),
		Channel:          string(order.Channel),
		SupplierID:       order.SupplierID.String(),
		Notes:            order.Notes,
		DocumentsTotal:   order.DocumentsTotal.StringFixed(2),
		CreditNotesTotal: order.CreditNotesTotal.StringFixed(2),
		PaymentsTotal:    order.PaymentsTotal.StringFixed(2),
	}
	if order.ApprovedBy != nil {
		data.ApprovedBy = *order.ApprovedBy
	}

	for _, line := range order.Documents {
		desc, detail := describe(line.DocumentID, documents)
		data.Documents = append(data.Documents, Line{Description: desc, Detail: detail, Amount: line.AppliedAmount.StringFixed(2)})
	}
	for _, line := range order.CreditNotes {
		desc, detail := describe(line.CreditNoteID, documents)
		data.CreditNotes = append(data.CreditNotes, Line{Description: desc, Detail: detail, Amount: line.AppliedAmount.StringFixed(2)})
	}
	for _, line := range order.Payments {
		detail := ""
		if line.Reference != nil {
			detail = *line.Reference
		}
		data.Payments = append(data.Payments, Line{Description: string(line.Method), Detail: detail, Amount: line.Amount.StringFixed(2)})
	}
	return data
}

func describe(id snowflake.ID, documents map[snowflake.ID]docdomain.SupplierDocument) (string, string) {
	doc, ok := documents[id]
	if !ok {
		return id.String(), ""
	}
	number := doc.DocumentNumber
	if doc.PointOfSale != nil && strings.TrimSpace(*doc.PointOfSale) != "" {
		number = strings.TrimSpace(*doc.PointOfSale) + "-" + number
	}
	return string(doc.Type) + " " + number, "issued " + doc.IssueDate.UTC().Format(dateLayout)
}

type PDFRenderer struct{}

func New() Renderer {
	return &PDFRenderer{}
}

func (r *PDFRenderer) Render(ctx context.Context, data Data) (io.Reader, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(8, "Payment order "+data.OrderNumber, props.Text{
			Size:  18,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, data.Status, props.Text{
			Size:  12,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	m.AddRow(20,
		col.New(6).Add(
			text.New("Date: "+data.Date, props.Text{Top: 0}),
			text.New("Supplier: "+data.SupplierID, props.Text{Top: 4}),
			text.New("Channel: "+data.Channel, props.Text{Top: 8}),
		),
		col.New(6).Add(
			text.New("Approved by: "+orDash(data.ApprovedBy), props.Text{Top: 0, Align: align.Right}),
		),
	)

	addSection(m, "Documents", data.Documents, data.DocumentsTotal)
	if len(data.CreditNotes) > 0 {
		addSection(m, "Credit notes", data.CreditNotes, data.CreditNotesTotal)
	}
	addSection(m, "Payments", data.Payments, data.PaymentsTotal)

	if strings.TrimSpace(data.Notes) != "" {
		m.AddRow(20,
			text.NewCol(12, data.Notes, props.Text{Size: 9, Top: 5}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}

	return bytes.NewReader(doc.GetBytes()), nil
}

func addSection(m core.Maroto, title string, lines []Line, total string) {
	m.AddRow(10,
		text.NewCol(12, title, props.Text{Size: 11, Style: fontstyle.Bold, Top: 3}),
	)
	m.AddRow(8,
		text.NewCol(5, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(4, "Detail", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	for _, line := range lines {
		m.AddRow(7,
			text.NewCol(5, line.Description, props.Text{Size: 9}),
			text.NewCol(4, line.Detail, props.Text{Size: 9}),
			text.NewCol(3, line.Amount, props.Text{Size: 9, Align: align.Right}),
		)
	}
	m.AddRow(8,
		col.New(7),
		text.NewCol(2, "Total", props.Text{Size: 9, Style: fontstyle.Bold}),
		text.NewCol(3, total, props.Text{Size: 9, Style: fontstyle.Bold, Align: align.Right}),
	)
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
