package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	creditdomain "github.com/smallbiznis/payables/internal/creditapplication/domain"
)

type applyCreditRequest struct {
	CreditNoteID     string           `json:"credit_note_id" binding:"required"`
	TargetDocumentID string           `json:"target_document_id" binding:"required"`
	Amount           *decimal.Decimal `json:"amount" binding:"required"`
}

func (s *Server) ApplyCredit(c *gin.Context) {
	var req applyCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	resp, err := s.creditSvc.ApplyCredit(c.Request.Context(), creditdomain.ApplyCreditRequest{
		Grant:            grantFrom(c),
		CreditNoteID:     strings.TrimSpace(req.CreditNoteID),
		TargetDocumentID: strings.TrimSpace(req.TargetDocumentID),
		Amount:           decimalOrZero(req.Amount),
		AppliedBy:        actorFrom(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}
