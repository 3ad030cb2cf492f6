package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/payables/internal/audit"
	"github.com/smallbiznis/payables/internal/clock"
	"github.com/smallbiznis/payables/internal/config"
	"github.com/smallbiznis/payables/internal/creditapplication"
	"github.com/smallbiznis/payables/internal/lock"
	"github.com/smallbiznis/payables/internal/migration"
	"github.com/smallbiznis/payables/internal/observability"
	"github.com/smallbiznis/payables/internal/paymentorder"
	"github.com/smallbiznis/payables/internal/ratelimit"
	"github.com/smallbiznis/payables/internal/scheduler"
	"github.com/smallbiznis/payables/internal/sequence"
	"github.com/smallbiznis/payables/internal/server"
	"github.com/smallbiznis/payables/internal/supplierdocument"
	"github.com/smallbiznis/payables/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type testEnv struct {
	app       *fx.App
	server    *server.Server
	db        *gorm.DB
	genID     *snowflake.Node
	baseURL   string
	scheduler *scheduler.Scheduler
	httpSrv   *httptest.Server
}

var env *testEnv

// The suite boots the full application graph against a real postgres
// database. Set E2E=true together with the DATABASE_* variables to run it.
func TestMain(m *testing.M) {
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("E2E")), "true") {
		fmt.Fprintln(os.Stderr, "skipping e2e suite: E2E is not set")
		os.Exit(0)
	}

	gin.SetMode(gin.TestMode)
	setDefaultEnv()

	var err error
	env, err = startEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to start test environment:", err)
		os.Exit(1)
	}

	code := m.Run()
	env.shutdown()
	os.Exit(code)
}

func TestE2E_HealthCheck(t *testing.T) {
	resp, err := http.Get(env.baseURL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
}

func TestE2E_SettlementLifecycle(t *testing.T) {
	resetDatabase(t, env.db)
	supplierID := env.genID.Generate().String()

	invoice := createDocument(t, supplierID, "INVOICE_A", "0001-00000100", "1500", "2026-01-10")
	note := createDocument(t, supplierID, "CREDIT_NOTE", "0001-00000101", "500", "")

	resp, body := doJSON(t, http.MethodPost, "/api/credit-applications", map[string]any{
		"credit_note_id":     note.ID,
		"target_document_id": invoice.ID,
		"amount":             "200",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("apply credit failed: %d: %s", resp.StatusCode, string(body))
	}

	// 1500 - 200 applied, leaving 300 of credit for the order.
	resp, body = doJSON(t, http.MethodPost, "/api/payment-orders", map[string]any{
		"supplier_id":  supplierID,
		"documents":    []map[string]any{{"document_id": invoice.ID, "applied_amount": "1300"}},
		"credit_notes": []map[string]any{{"credit_note_id": note.ID, "applied_amount": "300"}},
		"payments":     []map[string]any{{"method": "transfer", "amount": "1000"}},
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create payment order failed: %d: %s", resp.StatusCode, string(body))
	}
	order := decodeView(t, body)

	settled := getDocument(t, invoice.ID)
	if settled.Status != "APPLIED" || settled.Balance != "0" {
		t.Fatalf("expected invoice settled, got status=%s balance=%s", settled.Status, settled.Balance)
	}
	if got := getDocument(t, note.ID); got.Status != "APPLIED" {
		t.Fatalf("expected credit note consumed, got %s", got.Status)
	}

	resp, body = doJSON(t, http.MethodPut, "/api/payment-orders/"+order.ID+"/cancel", map[string]any{"reason": "wrong bank account"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel payment order failed: %d: %s", resp.StatusCode, string(body))
	}

	restored := getDocument(t, invoice.ID)
	if restored.Balance != "1300" {
		t.Fatalf("expected balance 1300 after cancel, got %s", restored.Balance)
	}
	if got := getDocument(t, note.ID); got.Balance != "300" {
		t.Fatalf("expected credit note balance 300 after cancel, got %s", got.Balance)
	}

	if countRows(t, env.db, "audit_logs", "target_type = ?", "payment_order") != 2 {
		t.Fatalf("expected create and cancel audit entries")
	}
}

func TestE2E_OrderNumbersAreSequential(t *testing.T) {
	resetDatabase(t, env.db)
	supplierID := env.genID.Generate().String()

	var numbers []string
	for i := 0; i < 3; i++ {
		invoice := createDocument(t, supplierID, "INVOICE_B", fmt.Sprintf("0002-%08d", i+1), "100", "2026-02-01")
		resp, body := doJSON(t, http.MethodPost, "/api/payment-orders", map[string]any{
			"supplier_id": supplierID,
			"documents":   []map[string]any{{"document_id": invoice.ID, "applied_amount": "100"}},
			"payments":    []map[string]any{{"method": "cash", "amount": "100"}},
		}, nil)
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("create payment order failed: %d: %s", resp.StatusCode, string(body))
		}
		numbers = append(numbers, decodeView(t, body).OrderNumber)
	}

	want := []string{"OP-00000001", "OP-00000002", "OP-00000003"}
	for i := range want {
		if numbers[i] != want[i] {
			t.Fatalf("expected order numbers %v, got %v", want, numbers)
		}
	}
}

func TestE2E_AlertScan(t *testing.T) {
	resetDatabase(t, env.db)
	supplierID := env.genID.Generate().String()

	createDocument(t, supplierID, "INVOICE_A", "0003-00000001", "250", "2020-01-01")

	if err := env.scheduler.RunOnce(context.Background()); err != nil {
		t.Fatalf("scheduler run: %v", err)
	}

	resp, body := doJSON(t, http.MethodGet, "/api/alerts?supplier_id="+supplierID, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("alerts failed: %d: %s", resp.StatusCode, string(body))
	}
	var payload struct {
		Data struct {
			Overdue int `json:"overdue"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode alerts: %v", err)
	}
	if payload.Data.Overdue != 1 {
		t.Fatalf("expected one overdue document, got %d", payload.Data.Overdue)
	}
}

type view struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Balance     string `json:"balance"`
	OrderNumber string `json:"order_number"`
}

func startEnv() (*testEnv, error) {
	var (
		srv         *server.Server
		dbConn      *gorm.DB
		genID       *snowflake.Node
		schedulerSv *scheduler.Scheduler
	)

	app := fx.New(
		fx.NopLogger,
		observability.Module,
		config.Module,
		db.Module,
		migration.Module,
		clock.Module,
		lock.Module,
		ratelimit.Module,
		sequence.Module,
		audit.Module,
		supplierdocument.Module,
		creditapplication.Module,
		paymentorder.Module,
		fx.Provide(scheduler.ProvideConfig),
		fx.Provide(scheduler.New),
		fx.Provide(func() (*snowflake.Node, error) {
			return snowflake.NewNode(1)
		}),
		fx.Provide(server.NewEngine),
		fx.Provide(server.NewServer),
		fx.Populate(&srv, &dbConn, &genID, &schedulerSv),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return nil, err
	}

	if dbConn.Dialector.Name() != "postgres" {
		_ = app.Stop(context.Background())
		return nil, fmt.Errorf("expected postgres db, got %s", dbConn.Dialector.Name())
	}

	httpSrv := httptest.NewServer(srv.Engine())

	return &testEnv{
		app:       app,
		server:    srv,
		db:        dbConn,
		genID:     genID,
		baseURL:   httpSrv.URL,
		scheduler: schedulerSv,
		httpSrv:   httpSrv,
	}, nil
}

func (e *testEnv) shutdown() {
	if e == nil {
		return
	}
	if e.httpSrv != nil {
		e.httpSrv.Close()
	}
	if e.app != nil {
		_ = e.app.Stop(context.Background())
	}
}

func setDefaultEnv() {
	setEnvIfEmpty("ENVIRONMENT", "test")
	setEnvIfEmpty("DATABASE_TYPE", "postgres")
	setEnvIfEmpty("LOG_LEVEL", "error")
	setEnvIfEmpty("SCHEDULER_ENABLED", "false")
}

func setEnvIfEmpty(key, value string) {
	if strings.TrimSpace(os.Getenv(key)) != "" {
		return
	}
	_ = os.Setenv(key, value)
}

func resetDatabase(t *testing.T, dbConn *gorm.DB) {
	t.Helper()
	tables := []string{
		"payment_order_payments",
		"payment_order_credit_notes",
		"payment_order_documents",
		"payment_orders",
		"credit_applications",
		"supplier_documents",
		"order_sequences",
		"audit_logs",
	}
	stmt := "TRUNCATE TABLE " + strings.Join(tables, ", ") + " RESTART IDENTITY CASCADE"
	if err := dbConn.Exec(stmt).Error; err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}

func countRows(t *testing.T, dbConn *gorm.DB, table, where string, args ...any) int64 {
	t.Helper()
	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", table, where)
	if err := dbConn.Raw(query, args...).Scan(&count).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}

func createDocument(t *testing.T, supplierID, docType, number, total, dueDate string) view {
	t.Helper()
	req := map[string]any{
		"supplier_id":     supplierID,
		"type":            docType,
		"document_number": number,
		"issue_date":      "2020-01-01",
		"total_amount":    total,
	}
	if dueDate != "" {
		req["due_date"] = dueDate
	}
	resp, body := doJSON(t, http.MethodPost, "/api/documents", req, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create document failed: %d: %s", resp.StatusCode, string(body))
	}
	return decodeView(t, body)
}

func getDocument(t *testing.T, id string) view {
	t.Helper()
	resp, body := doJSON(t, http.MethodGet, "/api/documents/"+id, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get document failed: %d: %s", resp.StatusCode, string(body))
	}
	return decodeView(t, body)
}

func decodeView(t *testing.T, body []byte) view {
	t.Helper()
	var payload struct {
		Data view `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return payload.Data
}

func doJSON(t *testing.T, method, path string, payload any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, env.baseURL+path, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(server.HeaderUserID, "e2e")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, respBody
}
