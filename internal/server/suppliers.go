package server

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	docdomain "github.com/smallbiznis/payables/internal/supplierdocument/domain"
	"github.com/smallbiznis/payables/internal/supplierdocument/statement"
)

func (s *Server) ListOpenDocuments(c *gin.Context) {
	resp, err := s.documentSvc.ListOpenDocuments(c.Request.Context(), docdomain.ListOpenRequest{
		Grant:      grantFrom(c),
		SupplierID: strings.TrimSpace(c.Param("supplier_id")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListOpenCreditNotes(c *gin.Context) {
	resp, err := s.documentSvc.ListOpenCreditNotes(c.Request.Context(), docdomain.ListOpenRequest{
		Grant:      grantFrom(c),
		SupplierID: strings.TrimSpace(c.Param("supplier_id")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetSupplierBalance(c *gin.Context) {
	resp, err := s.documentSvc.SupplierBalance(c.Request.Context(), docdomain.SupplierBalanceRequest{
		Grant:      grantFrom(c),
		SupplierID: strings.TrimSpace(c.Param("supplier_id")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// ExportSupplierStatement downloads the open documents and balance summary
// of one supplier as an xlsx workbook.
func (s *Server) ExportSupplierStatement(c *gin.Context) {
	ctx := c.Request.Context()
	grant := grantFrom(c)
	supplierID := strings.TrimSpace(c.Param("supplier_id"))

	balance, err := s.documentSvc.SupplierBalance(ctx, docdomain.SupplierBalanceRequest{Grant: grant, SupplierID: supplierID})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	documents, err := s.documentSvc.ListOpenDocuments(ctx, docdomain.ListOpenRequest{Grant: grant, SupplierID: supplierID})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := statement.Write(&buf, balance, documents); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="statement-`+supplierID+`.xlsx"`)
	c.Data(http.StatusOK, statement.ContentType, buf.Bytes())
}

// GetAlerts counts fiscal documents that are due soon or overdue.
func (s *Server) GetAlerts(c *gin.Context) {
	resp, err := s.documentSvc.CountAlerts(c.Request.Context(), docdomain.CountAlertsRequest{
		SupplierID: strings.TrimSpace(c.Query("supplier_id")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
