package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	orderdomain "github.com/smallbiznis/payables/internal/paymentorder/domain"
	"github.com/smallbiznis/payables/internal/paymentorder/voucher"
	docdomain "github.com/smallbiznis/payables/internal/supplierdocument/domain"
	"github.com/smallbiznis/payables/pkg/db/pagination"
)

type createPaymentOrderRequest struct {
	SupplierID  string                              `json:"supplier_id" binding:"required"`
	Documents   []orderdomain.DocumentLineRequest   `json:"documents"`
	CreditNotes []orderdomain.CreditNoteLineRequest `json:"credit_notes"`
	Payments    []orderdomain.PaymentRequest        `json:"payments"`
	Notes       string                              `json:"notes"`
	Date        string                              `json:"date"`
}

type cancelPaymentOrderRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) CreatePaymentOrder(c *gin.Context) {
	var req createPaymentOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	date, err := parseDateField("date", req.Date)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.orderSvc.Create(c.Request.Context(), orderdomain.CreatePaymentOrderRequest{
		Grant:       grantFrom(c),
		SupplierID:  strings.TrimSpace(req.SupplierID),
		Documents:   req.Documents,
		CreditNotes: req.CreditNotes,
		Payments:    req.Payments,
		Notes:       req.Notes,
		Date:        date,
		CreatedBy:   actorFrom(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ConfirmPaymentOrder(c *gin.Context) {
	resp, err := s.orderSvc.Confirm(c.Request.Context(), orderdomain.ConfirmPaymentOrderRequest{
		Grant:      grantFrom(c),
		ID:         strings.TrimSpace(c.Param("id")),
		ApprovedBy: actorFrom(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CancelPaymentOrder(c *gin.Context) {
	var req cancelPaymentOrderRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, bindError(err))
			return
		}
	}

	resp, err := s.orderSvc.Cancel(c.Request.Context(), orderdomain.CancelPaymentOrderRequest{
		Grant:       grantFrom(c),
		ID:          strings.TrimSpace(c.Param("id")),
		CancelledBy: actorFrom(c),
		Reason:      strings.TrimSpace(req.Reason),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetPaymentOrderByID(c *gin.Context) {
	resp, err := s.orderSvc.GetByID(c.Request.Context(), orderdomain.GetPaymentOrderRequest{
		Grant: grantFrom(c),
		ID:    strings.TrimSpace(c.Param("id")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// GetPaymentOrderVoucher renders the order as a printable PDF.
func (s *Server) GetPaymentOrderVoucher(c *gin.Context) {
	ctx := c.Request.Context()
	grant := grantFrom(c)

	order, err := s.orderSvc.GetByID(ctx, orderdomain.GetPaymentOrderRequest{
		Grant: grant,
		ID:    strings.TrimSpace(c.Param("id")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	documents := make(map[snowflake.ID]docdomain.SupplierDocument, len(order.Documents)+len(order.CreditNotes))
	for _, id := range order.DocumentIDs() {
		if _, ok := documents[id]; ok {
			continue
		}
		doc, err := s.documentSvc.GetByID(ctx, docdomain.GetDocumentRequest{Grant: grant, ID: id.String()})
		if err != nil {
			AbortWithError(c, err)
			return
		}
		documents[id] = doc
	}

	reader, err := s.vouchers.Render(ctx, voucher.FromOrder(order, documents))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	raw, err := io.ReadAll(reader)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `inline; filename="`+order.OrderNumber+`.pdf"`)
	c.Data(http.StatusOK, "application/pdf", raw)
}

func (s *Server) ListPaymentOrders(c *gin.Context) {
	var query struct {
		pagination.Pagination
		SupplierID string `form:"supplier_id"`
		Status     string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.orderSvc.List(c.Request.Context(), orderdomain.ListPaymentOrderRequest{
		Grant:      grantFrom(c),
		PageToken:  query.PageToken,
		PageSize:   int32(query.PageSize),
		SupplierID: strings.TrimSpace(query.SupplierID),
		Status:     orderdomain.Status(strings.ToUpper(strings.TrimSpace(query.Status))),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.PaymentOrders, "page_info": resp.PageInfo})
}
