package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/payables/internal/audit/domain"
	auditrepo "github.com/smallbiznis/payables/internal/audit/repository"
	auditservice "github.com/smallbiznis/payables/internal/audit/service"
	"github.com/smallbiznis/payables/internal/clock"
	"github.com/smallbiznis/payables/internal/config"
	creditdomain "github.com/smallbiznis/payables/internal/creditapplication/domain"
	creditrepo "github.com/smallbiznis/payables/internal/creditapplication/repository"
	creditservice "github.com/smallbiznis/payables/internal/creditapplication/service"
	"github.com/smallbiznis/payables/internal/observability"
	orderdomain "github.com/smallbiznis/payables/internal/paymentorder/domain"
	orderrepo "github.com/smallbiznis/payables/internal/paymentorder/repository"
	orderservice "github.com/smallbiznis/payables/internal/paymentorder/service"
	"github.com/smallbiznis/payables/internal/sequence"
	docdomain "github.com/smallbiznis/payables/internal/supplierdocument/domain"
	docrepo "github.com/smallbiznis/payables/internal/supplierdocument/repository"
	docservice "github.com/smallbiznis/payables/internal/supplierdocument/service"
	"github.com/smallbiznis/payables/internal/supplierdocument/statement"
	"github.com/smallbiznis/payables/pkg/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 4, 15, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	engine *gin.Engine
	node   *snowflake.Node
	clock  *clock.FakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:server_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&docdomain.SupplierDocument{},
		&creditdomain.CreditApplication{},
		&orderdomain.PaymentOrder{},
		&orderdomain.PaymentOrderDocument{},
		&orderdomain.PaymentOrderCreditNote{},
		&orderdomain.PaymentOrderPayment{},
		&sequence.OrderSequence{},
		&auditdomain.AuditLog{},
	))

	node, err := snowflake.NewNode(7)
	require.NoError(t, err)
	clk := clock.NewFakeClock(testNow)
	ledgerCfg := config.NewStaticLedgerConfig(config.DefaultLedgerConfig())
	documents := docrepo.Provide()

	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  auditrepo.Provide(),
	})
	docs := docservice.New(docservice.Params{
		DB:           db,
		Log:          zap.NewNop(),
		GenID:        node,
		Clock:        clk,
		LedgerConfig: ledgerCfg,
		Repo:         documents,
		AuditSvc:     auditSvc,
	})
	ledger := docservice.NewLedger(docservice.LedgerParams{Log: zap.NewNop(), Clock: clk, Repo: documents})
	credit := creditservice.NewService(creditservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Repo:     creditrepo.Provide(),
		DocRepo:  documents,
		Ledger:   ledger,
		AuditSvc: auditSvc,
	})
	orders := orderservice.NewService(orderservice.Params{
		DB:           db,
		Log:          zap.NewNop(),
		GenID:        node,
		Clock:        clk,
		LedgerConfig: ledgerCfg,
		Repo:         orderrepo.Provide(),
		Ledger:       ledger,
		CreditEngine: credit,
		Sequence:     sequence.New(clk),
		AuditSvc:     auditSvc,
	})

	engine := NewEngine(observability.Config{}, nil)
	NewServer(ServerParams{
		Gin:         engine,
		Cfg:         config.Config{Environment: "test"},
		DocumentSvc: docs,
		CreditSvc:   credit,
		OrderSvc:    orders,
		AuditSvc:    auditSvc,
	})

	return &testEnv{engine: engine, node: node, clock: clk}
}

type apiResponse struct {
	Data     json.RawMessage `json:"data"`
	PageInfo map[string]any  `json:"page_info"`
	Error    *errorPayload   `json:"error"`
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) (int, apiResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderUserID, "clerk-1")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	e.engine.ServeHTTP(rec, req)

	var resp apiResponse
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	}
	return rec.Code, resp
}

func internalHeaders(expiresAt time.Time) map[string]string {
	return map[string]string{
		HeaderChannel:         "INTERNAL",
		HeaderChannelGrant:    "true",
		HeaderChannelGrantExp: expiresAt.Format(time.RFC3339),
	}
}

func decodeData(t *testing.T, resp apiResponse, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(resp.Data, out))
}

type documentView struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Balance string `json:"balance"`
	Version int64  `json:"version"`
}

func (e *testEnv) createDocument(t *testing.T, supplierID snowflake.ID, docType, number, total string, headers map[string]string) documentView {
	t.Helper()
	body := map[string]any{
		"supplier_id":     supplierID.String(),
		"type":            docType,
		"document_number": number,
		"issue_date":      "2026-04-01",
		"total_amount":    total,
	}
	if docType != "CREDIT_NOTE" {
		body["due_date"] = "2026-05-01"
	}
	code, resp := e.do(t, http.MethodPost, "/api/documents", body, headers)
	require.Equal(t, http.StatusCreated, code, "%+v", resp.Error)
	var doc documentView
	decodeData(t, resp, &doc)
	return doc
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	env.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSettlementFlowOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	supplierID := env.node.Generate()

	invoice := env.createDocument(t, supplierID, "INVOICE_A", "0001-00000010", "1000", nil)
	assert.Equal(t, "PENDING", invoice.Status)
	note := env.createDocument(t, supplierID, "CREDIT_NOTE", "0001-00000011", "300", nil)

	code, resp := env.do(t, http.MethodPost, "/api/credit-applications", map[string]any{
		"credit_note_id":     note.ID,
		"target_document_id": invoice.ID,
		"amount":             "300",
	}, nil)
	require.Equal(t, http.StatusCreated, code, "%+v", resp.Error)

	code, resp = env.do(t, http.MethodGet, "/api/suppliers/"+supplierID.String()+"/balance", nil, nil)
	require.Equal(t, http.StatusOK, code)
	var balance struct {
		OpenBalance       string `json:"open_balance"`
		NetPayableBalance string `json:"net_payable_balance"`
	}
	decodeData(t, resp, &balance)
	assert.Equal(t, "700", balance.OpenBalance)
	assert.Equal(t, "700", balance.NetPayableBalance)

	code, resp = env.do(t, http.MethodPost, "/api/payment-orders", map[string]any{
		"supplier_id": supplierID.String(),
		"documents":   []map[string]any{{"document_id": invoice.ID, "applied_amount": "700"}},
		"payments":    []map[string]any{{"method": "transfer", "amount": "700"}},
	}, nil)
	require.Equal(t, http.StatusCreated, code, "%+v", resp.Error)
	var order struct {
		ID          string `json:"id"`
		OrderNumber string `json:"order_number"`
		Status      string `json:"status"`
	}
	decodeData(t, resp, &order)
	assert.Equal(t, "OP-00000001", order.OrderNumber)
	assert.Equal(t, "PENDING", order.Status)

	code, resp = env.do(t, http.MethodGet, "/api/documents/"+invoice.ID, nil, nil)
	require.Equal(t, http.StatusOK, code)
	var settled documentView
	decodeData(t, resp, &settled)
	assert.Equal(t, "APPLIED", settled.Status)
	assert.Equal(t, "0", settled.Balance)

	code, resp = env.do(t, http.MethodPut, "/api/payment-orders/"+order.ID+"/confirm", nil, nil)
	require.Equal(t, http.StatusOK, code, "%+v", resp.Error)

	code, resp = env.do(t, http.MethodPut, "/api/payment-orders/"+order.ID+"/cancel", map[string]any{"reason": "duplicate"}, nil)
	require.Equal(t, http.StatusOK, code, "%+v", resp.Error)

	code, resp = env.do(t, http.MethodPut, "/api/payment-orders/"+order.ID+"/confirm", nil, nil)
	require.Equal(t, http.StatusConflict, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "invalid_state", resp.Error.Type)
	assert.False(t, resp.Error.Retryable)

	code, resp = env.do(t, http.MethodGet, "/api/documents/"+invoice.ID+"/credit-applications", nil, nil)
	require.Equal(t, http.StatusOK, code)
	var apps []map[string]any
	decodeData(t, resp, &apps)
	assert.Len(t, apps, 1)

	code, resp = env.do(t, http.MethodGet, "/api/audit-logs?target_type=payment_order", nil, nil)
	require.Equal(t, http.StatusOK, code)
	var logs []map[string]any
	decodeData(t, resp, &logs)
	assert.Len(t, logs, 3)
}

func TestPaymentOrderVoucherIsPDF(t *testing.T) {
	env := newTestEnv(t)
	supplierID := env.node.Generate()
	invoice := env.createDocument(t, supplierID, "INVOICE_C", "0004-00000001", "80", nil)

	code, resp := env.do(t, http.MethodPost, "/api/payment-orders", map[string]any{
		"supplier_id": supplierID.String(),
		"documents":   []map[string]any{{"document_id": invoice.ID, "applied_amount": "80"}},
		"payments":    []map[string]any{{"method": "check", "amount": "80", "reference": "CHK-17"}},
	}, nil)
	require.Equal(t, http.StatusCreated, code, "%+v", resp.Error)
	var order struct {
		ID string `json:"id"`
	}
	decodeData(t, resp, &order)

	req := httptest.NewRequest(http.MethodGet, "/api/payment-orders/"+order.ID+"/voucher", nil)
	rec := httptest.NewRecorder()
	env.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "OP-00000001.pdf")
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))

	missing := httptest.NewRequest(http.MethodGet, "/api/payment-orders/"+env.node.Generate().String()+"/voucher", nil)
	rec = httptest.NewRecorder()
	env.engine.ServeHTTP(rec, missing)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportSupplierStatement(t *testing.T) {
	env := newTestEnv(t)
	supplierID := env.node.Generate()
	env.createDocument(t, supplierID, "INVOICE_A", "0005-00000001", "640", nil)
	env.createDocument(t, supplierID, "CREDIT_NOTE", "0005-00000002", "40", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/suppliers/"+supplierID.String()+"/statement", nil)
	rec := httptest.NewRecorder()
	env.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, statement.ContentType, rec.Header().Get("Content-Type"))

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(statement.SheetName)
	require.NoError(t, err)
	assert.Equal(t, "INVOICE_A", rows[1][0])
	assert.Equal(t, "CREDIT_NOTE", rows[2][0])
}

func TestPaymentsMismatchIsUnprocessable(t *testing.T) {
	env := newTestEnv(t)
	supplierID := env.node.Generate()
	invoice := env.createDocument(t, supplierID, "INVOICE_B", "0002-00000001", "500", nil)

	code, resp := env.do(t, http.MethodPost, "/api/payment-orders", map[string]any{
		"supplier_id": supplierID.String(),
		"documents":   []map[string]any{{"document_id": invoice.ID, "applied_amount": "500"}},
		"payments":    []map[string]any{{"method": "cash", "amount": "400"}},
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "payments_mismatch", resp.Error.Code)

	code, resp = env.do(t, http.MethodGet, "/api/documents/"+invoice.ID, nil, nil)
	require.Equal(t, http.StatusOK, code)
	var doc documentView
	decodeData(t, resp, &doc)
	assert.Equal(t, "500", doc.Balance)
}

func TestCreateDocumentBindingErrors(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, http.MethodPost, "/api/documents", map[string]any{
		"type":            "INVOICE_A",
		"document_number": "0001-1",
		"issue_date":      "2026-04-01",
		"total_amount":    "10",
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	require.NotNil(t, resp.Error)
	require.Len(t, resp.Error.Errors, 1)
	assert.Equal(t, "supplier_id", resp.Error.Errors[0].Field)
	assert.Equal(t, "required", resp.Error.Errors[0].Code)

	code, resp = env.do(t, http.MethodPost, "/api/documents", map[string]any{
		"supplier_id":     env.node.Generate().String(),
		"type":            "INVOICE_A",
		"document_number": "0001-1",
		"issue_date":      "01/04/2026",
		"total_amount":    "10",
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "issue_date", resp.Error.Errors[0].Field)
}

func TestInternalChannelRequiresGrant(t *testing.T) {
	env := newTestEnv(t)
	supplierID := env.node.Generate()

	code, resp := env.do(t, http.MethodGet, "/api/suppliers/"+supplierID.String()+"/documents/open", nil, map[string]string{
		HeaderChannel: "INTERNAL",
	})
	assert.Equal(t, http.StatusForbidden, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "channel_not_granted", resp.Error.Code)

	code, _ = env.do(t, http.MethodGet, "/api/suppliers/"+supplierID.String()+"/documents/open", nil, internalHeaders(testNow.Add(-time.Minute)))
	assert.Equal(t, http.StatusForbidden, code)

	code, resp = env.do(t, http.MethodGet, "/api/documents", nil, map[string]string{HeaderChannel: "OTHER"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "invalid_channel", resp.Error.Code)
}

func TestChannelsAreIsolated(t *testing.T) {
	env := newTestEnv(t)
	supplierID := env.node.Generate()
	internal := internalHeaders(testNow.Add(time.Hour))

	doc := env.createDocument(t, supplierID, "INVOICE", "X-1", "250", internal)

	code, resp := env.do(t, http.MethodGet, "/api/documents/"+doc.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "document_not_found", resp.Error.Code)

	code, _ = env.do(t, http.MethodGet, "/api/documents/"+doc.ID, nil, internal)
	assert.Equal(t, http.StatusOK, code)

	code, resp = env.do(t, http.MethodGet, "/api/documents?supplier_id="+supplierID.String(), nil, nil)
	require.Equal(t, http.StatusOK, code)
	var fiscalDocs []documentView
	decodeData(t, resp, &fiscalDocs)
	assert.Empty(t, fiscalDocs)
}

func TestStaleVersionIsRetryableConflict(t *testing.T) {
	env := newTestEnv(t)
	supplierID := env.node.Generate()
	doc := env.createDocument(t, supplierID, "INVOICE_C", "0003-00000001", "90", nil)

	code, resp := env.do(t, http.MethodPut, "/api/documents/"+doc.ID, map[string]any{
		"notes":            "first edit",
		"expected_version": doc.Version,
	}, nil)
	require.Equal(t, http.StatusOK, code, "%+v", resp.Error)

	code, resp = env.do(t, http.MethodPut, "/api/documents/"+doc.ID+"/cancel", map[string]any{
		"expected_version": doc.Version,
	}, nil)
	assert.Equal(t, http.StatusConflict, code)
	require.NotNil(t, resp.Error)
	assert.True(t, resp.Error.Retryable)
}

func TestUpdateRejectsTotalEdit(t *testing.T) {
	env := newTestEnv(t)
	doc := env.createDocument(t, env.node.Generate(), "INVOICE_A", "0005-00000001", "1000", nil)

	code, resp := env.do(t, http.MethodPut, "/api/documents/"+doc.ID, map[string]any{
		"total_amount": "5000",
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "total_amount_immutable", resp.Error.Code)

	code, resp = env.do(t, http.MethodGet, "/api/documents/"+doc.ID, nil, nil)
	require.Equal(t, http.StatusOK, code)
	var got documentView
	decodeData(t, resp, &got)
	assert.Equal(t, "1000", got.Balance)
	assert.Equal(t, doc.Version, got.Version)
}

func TestCancelTwiceIsStateError(t *testing.T) {
	env := newTestEnv(t)
	doc := env.createDocument(t, env.node.Generate(), "INVOICE_B", "0006-00000001", "10", nil)

	code, _ := env.do(t, http.MethodPut, "/api/documents/"+doc.ID+"/cancel", nil, nil)
	require.Equal(t, http.StatusOK, code)

	code, resp := env.do(t, http.MethodPut, "/api/documents/"+doc.ID+"/cancel", nil, nil)
	assert.Equal(t, http.StatusConflict, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "invalid_state", resp.Error.Type)
	assert.False(t, resp.Error.Retryable)
}

func TestAlertsCountFiscalDocuments(t *testing.T) {
	env := newTestEnv(t)
	supplierID := env.node.Generate()
	env.createDocument(t, supplierID, "INVOICE_A", "0004-00000001", "100", nil)

	env.clock.Set(time.Date(2026, 4, 27, 9, 0, 0, 0, time.UTC))
	code, resp := env.do(t, http.MethodGet, "/api/alerts", nil, nil)
	require.Equal(t, http.StatusOK, code)
	var counts docdomain.AlertCounts
	decodeData(t, resp, &counts)
	assert.Equal(t, 1, counts.DueSoon)
	assert.Equal(t, 0, counts.Overdue)

	env.clock.Set(time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC))
	code, resp = env.do(t, http.MethodGet, "/api/alerts", nil, nil)
	require.Equal(t, http.StatusOK, code)
	decodeData(t, resp, &counts)
	assert.Equal(t, 0, counts.DueSoon)
	assert.Equal(t, 1, counts.Overdue)
}

func TestMapError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		status    int
		errType   string
		retryable bool
	}{
		{"validation", apperr.Validation("amount_exceeds_balance", "x"), http.StatusUnprocessableEntity, "validation_error", false},
		{"conflict", fmt.Errorf("wrapped: %w", apperr.Conflict("document_version_conflict", "x")), http.StatusConflict, "conflict", true},
		{"state", apperr.State("invalid_transition", "x"), http.StatusConflict, "invalid_state", false},
		{"not found", apperr.NotFound("document_not_found", "x"), http.StatusNotFound, "not_found", false},
		{"forbidden", apperr.Forbidden("channel_not_granted", "x"), http.StatusForbidden, "forbidden", false},
		{"record not found", gorm.ErrRecordNotFound, http.StatusNotFound, "not_found", false},
		{"rate limited", ErrRateLimited, http.StatusTooManyRequests, "rate_limited", true},
		{"internal kind", apperr.New(apperr.KindInternal, "balance_invariant", "x"), http.StatusInternalServerError, "internal_error", false},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError, "internal_error", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, payload := mapError(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.errType, payload.Type)
			assert.Equal(t, tc.retryable, payload.Retryable)
		})
	}
}

func TestToSnakeCase(t *testing.T) {
	assert.Equal(t, "supplier_id", toSnakeCase("SupplierID"))
	assert.Equal(t, "total_amount", toSnakeCase("TotalAmount"))
	assert.Equal(t, "id", toSnakeCase("ID"))
}
