package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	creditdomain "github.com/smallbiznis/payables/internal/creditapplication/domain"
	docdomain "github.com/smallbiznis/payables/internal/supplierdocument/domain"
	"github.com/smallbiznis/payables/pkg/db/pagination"
)

type createDocumentRequest struct {
	SupplierID     string           `json:"supplier_id" binding:"required"`
	Type           string           `json:"type" binding:"required"`
	PointOfSale    *string          `json:"point_of_sale"`
	DocumentNumber string           `json:"document_number" binding:"required"`
	IssueDate      string           `json:"issue_date" binding:"required"`
	DueDate        string           `json:"due_date"`
	TotalAmount    *decimal.Decimal `json:"total_amount" binding:"required"`
	ImpactsStock   bool             `json:"impacts_stock"`
	ImpactsCosts   bool             `json:"impacts_costs"`
	Notes          string           `json:"notes"`
}

type updateDocumentRequest struct {
	PointOfSale     *string          `json:"point_of_sale"`
	DocumentNumber  *string          `json:"document_number"`
	IssueDate       *string          `json:"issue_date"`
	DueDate         *string          `json:"due_date"`
	// TotalAmount is only bound to reject edits of a fixed total.
	TotalAmount     *decimal.Decimal `json:"total_amount"`
	ImpactsStock    *bool            `json:"impacts_stock"`
	ImpactsCosts    *bool            `json:"impacts_costs"`
	Notes           *string          `json:"notes"`
	ExpectedVersion *int64           `json:"expected_version"`
}

type versionedRequest struct {
	ExpectedVersion *int64 `json:"expected_version"`
}

func (s *Server) CreateDocument(c *gin.Context) {
	var req createDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	issueDate, err := parseDateField("issue_date", req.IssueDate)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	dueDate, err := parseDateField("due_date", req.DueDate)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.documentSvc.Create(c.Request.Context(), docdomain.CreateDocumentRequest{
		Grant:          grantFrom(c),
		SupplierID:     strings.TrimSpace(req.SupplierID),
		Type:           docdomain.DocumentType(req.Type),
		PointOfSale:    req.PointOfSale,
		DocumentNumber: req.DocumentNumber,
		IssueDate:      *issueDate,
		DueDate:        dueDate,
		TotalAmount:    decimalOrZero(req.TotalAmount),
		ImpactsStock:   req.ImpactsStock,
		ImpactsCosts:   req.ImpactsCosts,
		Notes:          req.Notes,
		CreatedBy:      actorFrom(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) UpdateDocument(c *gin.Context) {
	var req updateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}
	if req.TotalAmount != nil {
		AbortWithError(c, docdomain.ErrTotalImmutable)
		return
	}

	update := docdomain.UpdateDocumentRequest{
		Grant:           grantFrom(c),
		ID:              strings.TrimSpace(c.Param("id")),
		PointOfSale:     req.PointOfSale,
		DocumentNumber:  req.DocumentNumber,
		ImpactsStock:    req.ImpactsStock,
		ImpactsCosts:    req.ImpactsCosts,
		Notes:           req.Notes,
		ExpectedVersion: req.ExpectedVersion,
		UpdatedBy:       actorFrom(c),
	}
	if req.IssueDate != nil {
		issueDate, err := parseDateField("issue_date", *req.IssueDate)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		update.IssueDate = issueDate
	}
	if req.DueDate != nil {
		dueDate, err := parseDateField("due_date", *req.DueDate)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		update.DueDate = dueDate
	}

	resp, err := s.documentSvc.Update(c.Request.Context(), update)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CancelDocument(c *gin.Context) {
	var req versionedRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, bindError(err))
			return
		}
	}

	resp, err := s.documentSvc.Cancel(c.Request.Context(), docdomain.CancelDocumentRequest{
		Grant:           grantFrom(c),
		ID:              strings.TrimSpace(c.Param("id")),
		ExpectedVersion: req.ExpectedVersion,
		CancelledBy:     actorFrom(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetDocumentByID(c *gin.Context) {
	resp, err := s.documentSvc.GetByID(c.Request.Context(), docdomain.GetDocumentRequest{
		Grant: grantFrom(c),
		ID:    strings.TrimSpace(c.Param("id")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListDocuments(c *gin.Context) {
	var query struct {
		pagination.Pagination
		SupplierID string `form:"supplier_id"`
		Type       string `form:"type"`
		Status     string `form:"status"`
		IssuedFrom string `form:"issued_from"`
		IssuedTo   string `form:"issued_to"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	issuedFrom, err := parseOptionalTime(query.IssuedFrom, false)
	if err != nil {
		AbortWithError(c, newValidationError("issued_from", "invalid_issued_from", "invalid issued_from"))
		return
	}
	issuedTo, err := parseOptionalTime(query.IssuedTo, true)
	if err != nil {
		AbortWithError(c, newValidationError("issued_to", "invalid_issued_to", "invalid issued_to"))
		return
	}

	resp, err := s.documentSvc.List(c.Request.Context(), docdomain.ListDocumentRequest{
		Grant:      grantFrom(c),
		PageToken:  query.PageToken,
		PageSize:   int32(query.PageSize),
		SupplierID: strings.TrimSpace(query.SupplierID),
		Type:       docdomain.DocumentType(strings.ToUpper(strings.TrimSpace(query.Type))),
		Status:     docdomain.Status(strings.ToUpper(strings.TrimSpace(query.Status))),
		IssuedFrom: issuedFrom,
		IssuedTo:   issuedTo,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Documents, "page_info": resp.PageInfo})
}

func (s *Server) ListDocumentCreditApplications(c *gin.Context) {
	resp, err := s.creditSvc.ListByDocument(c.Request.Context(), creditdomain.ListByDocumentRequest{
		Grant:      grantFrom(c),
		DocumentID: strings.TrimSpace(c.Param("id")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
