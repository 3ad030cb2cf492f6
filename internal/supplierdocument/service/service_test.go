package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/payables/internal/audit/domain"
	auditrepo "github.com/smallbiznis/payables/internal/audit/repository"
	auditservice "github.com/smallbiznis/payables/internal/audit/service"
	"github.com/smallbiznis/payables/internal/channel"
	"github.com/smallbiznis/payables/internal/clock"
	"github.com/smallbiznis/payables/internal/config"
	"github.com/smallbiznis/payables/internal/supplierdocument/domain"
	"github.com/smallbiznis/payables/internal/supplierdocument/repository"
	"github.com/smallbiznis/payables/internal/supplierdocument/service"
	"github.com/smallbiznis/payables/pkg/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var baseTime = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	db     *gorm.DB
	node   *snowflake.Node
	clock  *clock.FakeClock
	svc    domain.Service
	ledger domain.Ledger
}

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:supplierdocument_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&domain.SupplierDocument{}, &auditdomain.AuditLog{}))
	return db
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := setupDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(baseTime)
	repo := repository.Provide()

	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  auditrepo.Provide(),
	})

	svc := service.New(service.Params{
		DB:           db,
		Log:          zap.NewNop(),
		GenID:        node,
		Clock:        clk,
		LedgerConfig: config.NewStaticLedgerConfig(config.LedgerConfig{AlertWindowDays: 7}),
		Repo:         repo,
		AuditSvc:     auditSvc,
	})
	ledger := service.NewLedger(service.LedgerParams{
		Log:   zap.NewNop(),
		Clock: clk,
		Repo:  repo,
	})

	return &fixture{db: db, node: node, clock: clk, svc: svc, ledger: ledger}
}

func internalGrant() channel.Grant {
	return channel.InternalGrant(baseTime.Add(24 * time.Hour))
}

func (f *fixture) invoice(t *testing.T, supplierID snowflake.ID, number string, total int64, dueInDays int) domain.SupplierDocument {
	t.Helper()
	due := baseTime.AddDate(0, 0, dueInDays)
	doc, err := f.svc.Create(context.Background(), domain.CreateDocumentRequest{
		Grant:          channel.FiscalGrant(),
		SupplierID:     supplierID.String(),
		Type:           domain.DocumentTypeInvoiceA,
		DocumentNumber: number,
		IssueDate:      baseTime.AddDate(0, 0, -30),
		DueDate:        &due,
		TotalAmount:    decimal.NewFromInt(total),
		CreatedBy:      "user-1",
	})
	require.NoError(t, err)
	return doc
}

func TestCreateInvoiceStartsPending(t *testing.T) {
	f := newFixture(t)
	supplierID := f.node.Generate()

	doc := f.invoice(t, supplierID, "0001-00000123", 1000, 30)

	assert.Equal(t, channel.Fiscal, doc.Channel)
	assert.Equal(t, domain.StatusPending, doc.Status)
	assert.True(t, doc.Balance.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, int64(1), doc.Version)

	var audits []auditdomain.AuditLog
	require.NoError(t, f.db.Where("target_id = ?", doc.ID.String()).Find(&audits).Error)
	require.Len(t, audits, 1)
	assert.Equal(t, auditdomain.ActionDocumentCreate, audits[0].Action)
}

func TestCreateRejectsDuplicateNumber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	supplierID := f.node.Generate()
	pos := "0001"
	due := baseTime.AddDate(0, 0, 10)

	req := domain.CreateDocumentRequest{
		Grant:          channel.FiscalGrant(),
		SupplierID:     supplierID.String(),
		Type:           domain.DocumentTypeInvoiceA,
		PointOfSale:    &pos,
		DocumentNumber: "00000042",
		IssueDate:      baseTime,
		DueDate:        &due,
		TotalAmount:    decimal.NewFromInt(100),
	}
	first, err := f.svc.Create(ctx, req)
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, req)
	assert.True(t, errors.Is(err, domain.ErrDuplicateNumber))

	// Another supplier may reuse the number.
	other := req
	other.SupplierID = f.node.Generate().String()
	_, err = f.svc.Create(ctx, other)
	require.NoError(t, err)

	// Cancelling frees the number.
	_, err = f.svc.Cancel(ctx, domain.CancelDocumentRequest{Grant: channel.FiscalGrant(), ID: first.ID.String()})
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, req)
	require.NoError(t, err)
}

func TestCreateValidatesDueDateRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	supplierID := f.node.Generate().String()
	before := baseTime.AddDate(0, 0, -1)
	after := baseTime.AddDate(0, 0, 5)

	cases := []struct {
		name    string
		docType domain.DocumentType
		due     *time.Time
		want    error
	}{
		{"invoice without due date", domain.DocumentTypeInvoiceB, nil, domain.ErrDueDateRequired},
		{"due before issue", domain.DocumentTypeInvoiceB, &before, domain.ErrDueBeforeIssue},
		{"credit note with due date", domain.DocumentTypeCreditNote, &after, domain.ErrDueDateNotAllowed},
		{"delivery note with due date", domain.DocumentTypeFiscalDeliveryNote, &after, domain.ErrDueDateNotAllowed},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, domain.CreateDocumentRequest{
				Grant:          channel.FiscalGrant(),
				SupplierID:     supplierID,
				Type:           tc.docType,
				DocumentNumber: fmt.Sprintf("N-%d", i),
				IssueDate:      baseTime,
				DueDate:        tc.due,
				TotalAmount:    decimal.NewFromInt(10),
			})
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
			assert.True(t, apperr.IsValidation(err))
		})
	}

	sameDay := baseTime
	_, err := f.svc.Create(ctx, domain.CreateDocumentRequest{
		Grant:          channel.FiscalGrant(),
		SupplierID:     supplierID,
		Type:           domain.DocumentTypeInvoiceB,
		DocumentNumber: "same-day",
		IssueDate:      baseTime,
		DueDate:        &sameDay,
		TotalAmount:    decimal.NewFromInt(10),
	})
	assert.NoError(t, err)
}

func TestCreateRejectsNonPositiveTotal(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), domain.CreateDocumentRequest{
		Grant:          channel.FiscalGrant(),
		SupplierID:     f.node.Generate().String(),
		Type:           domain.DocumentTypeCreditNote,
		DocumentNumber: "NC-1",
		IssueDate:      baseTime,
		TotalAmount:    decimal.Zero,
	})
	assert.True(t, errors.Is(err, domain.ErrInvalidTotalAmount))
}

func TestChannelRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	supplierID := f.node.Generate().String()
	due := baseTime.AddDate(0, 0, 10)

	_, err := f.svc.Create(ctx, domain.CreateDocumentRequest{
		Grant:          channel.Grant{Channel: channel.Internal},
		SupplierID:     supplierID,
		Type:           domain.DocumentTypeInvoice,
		DocumentNumber: "INT-1",
		IssueDate:      baseTime,
		DueDate:        &due,
		TotalAmount:    decimal.NewFromInt(10),
	})
	assert.True(t, errors.Is(err, channel.ErrChannelNotGranted))

	_, err = f.svc.Create(ctx, domain.CreateDocumentRequest{
		Grant:          internalGrant(),
		SupplierID:     supplierID,
		Type:           domain.DocumentTypeInvoiceA,
		DocumentNumber: "INT-2",
		IssueDate:      baseTime,
		DueDate:        &due,
		TotalAmount:    decimal.NewFromInt(10),
	})
	assert.True(t, errors.Is(err, domain.ErrInvalidType))

	_, err = f.svc.Create(ctx, domain.CreateDocumentRequest{
		Grant:          channel.FiscalGrant(),
		SupplierID:     supplierID,
		Type:           domain.DocumentTypeInvoiceA,
		DocumentNumber: "F-1",
		IssueDate:      baseTime,
		DueDate:        &due,
		TotalAmount:    decimal.NewFromInt(10),
		ImpactsStock:   true,
	})
	assert.True(t, errors.Is(err, domain.ErrInvalidFlags))

	internalDoc, err := f.svc.Create(ctx, domain.CreateDocumentRequest{
		Grant:          internalGrant(),
		SupplierID:     supplierID,
		Type:           domain.DocumentTypeInvoice,
		DocumentNumber: "INT-3",
		IssueDate:      baseTime,
		DueDate:        &due,
		TotalAmount:    decimal.NewFromInt(10),
		ImpactsStock:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, channel.Internal, internalDoc.Channel)

	// Internal documents are invisible from the fiscal channel.
	_, err = f.svc.GetByID(ctx, domain.GetDocumentRequest{Grant: channel.FiscalGrant(), ID: internalDoc.ID.String()})
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	list, err := f.svc.List(ctx, domain.ListDocumentRequest{Grant: channel.FiscalGrant(), SupplierID: supplierID})
	require.NoError(t, err)
	assert.Empty(t, list.Documents)

	// Grants expire.
	f.clock.Advance(48 * time.Hour)
	_, err = f.svc.GetByID(ctx, domain.GetDocumentRequest{Grant: internalGrant(), ID: internalDoc.ID.String()})
	assert.True(t, apperr.KindOf(err) == apperr.KindForbidden)
}

func TestUpdateAndCancelRequireNoApplications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	supplierID := f.node.Generate()
	doc := f.invoice(t, supplierID, "A-1", 1000, 20)

	notes := "received by mail"
	updated, err := f.svc.Update(ctx, domain.UpdateDocumentRequest{
		Grant: channel.FiscalGrant(),
		ID:    doc.ID.String(),
		Notes: &notes,
	})
	require.NoError(t, err)
	assert.Equal(t, notes, updated.Notes)
	assert.True(t, updated.TotalAmount.Equal(decimal.NewFromInt(1000)))
	assert.True(t, updated.Balance.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, int64(2), updated.Version)

	stale := int64(1)
	_, err = f.svc.Update(ctx, domain.UpdateDocumentRequest{
		Grant:           channel.FiscalGrant(),
		ID:              doc.ID.String(),
		Notes:           &notes,
		ExpectedVersion: &stale,
	})
	assert.True(t, apperr.IsConflict(err))

	applyPayment(t, f, supplierID, doc.ID, decimal.NewFromInt(200))

	_, err = f.svc.Update(ctx, domain.UpdateDocumentRequest{Grant: channel.FiscalGrant(), ID: doc.ID.String(), Notes: &notes})
	assert.True(t, errors.Is(err, domain.ErrHasApplications))

	_, err = f.svc.Cancel(ctx, domain.CancelDocumentRequest{Grant: channel.FiscalGrant(), ID: doc.ID.String()})
	assert.True(t, errors.Is(err, domain.ErrHasApplications))
	assert.True(t, apperr.IsState(err))
}

func TestCancelTwiceFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.invoice(t, f.node.Generate(), "C-1", 50, 10)

	cancelled, err := f.svc.Cancel(ctx, domain.CancelDocumentRequest{Grant: channel.FiscalGrant(), ID: doc.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	_, err = f.svc.Cancel(ctx, domain.CancelDocumentRequest{Grant: channel.FiscalGrant(), ID: doc.ID.String()})
	assert.True(t, errors.Is(err, domain.ErrAlreadyCancelled))
	assert.True(t, apperr.IsState(err))

	notes := "late edit"
	_, err = f.svc.Update(ctx, domain.UpdateDocumentRequest{Grant: channel.FiscalGrant(), ID: doc.ID.String(), Notes: &notes})
	assert.True(t, apperr.IsState(err))
}

func TestCreateRejectsAmountsBeyondStoredScale(t *testing.T) {
	f := newFixture(t)
	due := baseTime.AddDate(0, 0, 10)
	req := domain.CreateDocumentRequest{
		Grant:          channel.FiscalGrant(),
		SupplierID:     f.node.Generate().String(),
		Type:           domain.DocumentTypeInvoiceA,
		DocumentNumber: "P-1",
		IssueDate:      baseTime,
		DueDate:        &due,
		TotalAmount:    decimal.RequireFromString("10.00005"),
	}
	_, err := f.svc.Create(context.Background(), req)
	assert.True(t, errors.Is(err, domain.ErrAmountScale))
	assert.True(t, apperr.IsValidation(err))

	req.TotalAmount = decimal.RequireFromString("10.12340000")
	doc, err := f.svc.Create(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, doc.Balance.Equal(decimal.RequireFromString("10.1234")))
}

func TestLedgerRejectsPaymentBeyondStoredScale(t *testing.T) {
	f := newFixture(t)
	supplierID := f.node.Generate()
	doc := f.invoice(t, supplierID, "P-2", 1, 10)

	scope := domain.Scope{SupplierID: supplierID, Channel: channel.Fiscal}
	err := f.db.Transaction(func(tx *gorm.DB) error {
		docs, err := f.ledger.Lock(context.Background(), tx, scope, doc.ID)
		if err != nil {
			return err
		}
		return f.ledger.Apply(context.Background(), tx, docs, []domain.Movement{
			{DocumentID: doc.ID, Kind: domain.MovementPayment, Amount: decimal.RequireFromString("0.00005")},
		})
	})
	assert.True(t, errors.Is(err, domain.ErrAmountScale))

	got, err := f.svc.GetByID(context.Background(), domain.GetDocumentRequest{Grant: channel.FiscalGrant(), ID: doc.ID.String()})
	require.NoError(t, err)
	assert.True(t, got.AppliedPaymentsTotal.IsZero())
	assert.Equal(t, domain.StatusPending, got.Status)
}

func TestStatusIsDerivedFromClock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	supplierID := f.node.Generate()
	doc := f.invoice(t, supplierID, "S-1", 100, 10)

	get := func() domain.Status {
		got, err := f.svc.GetByID(ctx, domain.GetDocumentRequest{Grant: channel.FiscalGrant(), ID: doc.ID.String()})
		require.NoError(t, err)
		return got.Status
	}

	assert.Equal(t, domain.StatusPending, get())
	f.clock.Advance(4 * 24 * time.Hour)
	assert.Equal(t, domain.StatusDueSoon, get())
	f.clock.Advance(7 * 24 * time.Hour)
	assert.Equal(t, domain.StatusOverdue, get())

	var stored domain.Status
	require.NoError(t, f.db.Raw("SELECT status FROM supplier_documents WHERE id = ?", doc.ID).Scan(&stored).Error)
	assert.Equal(t, domain.StatusPending, stored)
}

func TestListFiltersByDerivedStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	supplierID := f.node.Generate()

	overdue := f.invoice(t, supplierID, "L-1", 100, 10)
	dueSoon := f.invoice(t, supplierID, "L-2", 100, 15)
	pending := f.invoice(t, supplierID, "L-3", 100, 40)
	f.clock.Advance(11 * 24 * time.Hour)

	statusIDs := func(status domain.Status) []snowflake.ID {
		resp, err := f.svc.List(ctx, domain.ListDocumentRequest{Grant: channel.FiscalGrant(), Status: status})
		require.NoError(t, err)
		ids := make([]snowflake.ID, 0, len(resp.Documents))
		for _, doc := range resp.Documents {
			assert.Equal(t, status, doc.Status)
			ids = append(ids, doc.ID)
		}
		return ids
	}

	assert.Equal(t, []snowflake.ID{overdue.ID}, statusIDs(domain.StatusOverdue))
	assert.Equal(t, []snowflake.ID{dueSoon.ID}, statusIDs(domain.StatusDueSoon))
	assert.Equal(t, []snowflake.ID{pending.ID}, statusIDs(domain.StatusPending))
}

func TestListPaginates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	supplierID := f.node.Generate()
	for i := 0; i < 5; i++ {
		f.invoice(t, supplierID, fmt.Sprintf("P-%d", i), 10, 30)
		f.clock.Advance(time.Minute)
	}

	seen := map[snowflake.ID]bool{}
	token := ""
	pages := 0
	for {
		resp, err := f.svc.List(ctx, domain.ListDocumentRequest{Grant: channel.FiscalGrant(), PageSize: 2, PageToken: token})
		require.NoError(t, err)
		pages++
		for _, doc := range resp.Documents {
			assert.False(t, seen[doc.ID])
			seen[doc.ID] = true
		}
		if !resp.HasMore {
			break
		}
		token = resp.NextPageToken
	}
	assert.Len(t, seen, 5)
	assert.Equal(t, 3, pages)
}

func TestSupplierBalanceAndAlerts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	supplierID := f.node.Generate()

	f.invoice(t, supplierID, "B-1", 1000, 2)
	f.invoice(t, supplierID, "B-2", 500, -1)
	f.invoice(t, supplierID, "B-3", 300, 60)
	_, err := f.svc.Create(ctx, domain.CreateDocumentRequest{
		Grant:          channel.FiscalGrant(),
		SupplierID:     supplierID.String(),
		Type:           domain.DocumentTypeCreditNote,
		DocumentNumber: "NC-1",
		IssueDate:      baseTime,
		TotalAmount:    decimal.NewFromInt(200),
	})
	require.NoError(t, err)

	summary, err := f.svc.SupplierBalance(ctx, domain.SupplierBalanceRequest{Grant: channel.FiscalGrant(), SupplierID: supplierID.String()})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.OpenDocuments)
	assert.True(t, summary.OpenBalance.Equal(decimal.NewFromInt(1800)))
	assert.True(t, summary.OverdueBalance.Equal(decimal.NewFromInt(500)))
	assert.True(t, summary.DueSoonBalance.Equal(decimal.NewFromInt(1000)))
	assert.True(t, summary.AvailableCredit.Equal(decimal.NewFromInt(200)))
	assert.True(t, summary.NetPayableBalance.Equal(decimal.NewFromInt(1600)))

	counts, err := f.svc.CountAlerts(ctx, domain.CountAlertsRequest{})
	require.NoError(t, err)
	assert.Equal(t, domain.AlertCounts{DueSoon: 1, Overdue: 1}, counts)

	notes, err := f.svc.ListOpenCreditNotes(ctx, domain.ListOpenRequest{Grant: channel.FiscalGrant(), SupplierID: supplierID.String()})
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, domain.DocumentTypeCreditNote, notes[0].Type)

	open, err := f.svc.ListOpenDocuments(ctx, domain.ListOpenRequest{Grant: channel.FiscalGrant(), SupplierID: supplierID.String()})
	require.NoError(t, err)
	assert.Len(t, open, 4)
}

func TestAlertsIgnoreInternalChannel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	due := baseTime.AddDate(0, 0, -2)
	_, err := f.svc.Create(ctx, domain.CreateDocumentRequest{
		Grant:          internalGrant(),
		SupplierID:     f.node.Generate().String(),
		Type:           domain.DocumentTypeInvoice,
		DocumentNumber: "I-1",
		IssueDate:      baseTime.AddDate(0, 0, -10),
		DueDate:        &due,
		TotalAmount:    decimal.NewFromInt(10),
	})
	require.NoError(t, err)

	counts, err := f.svc.CountAlerts(ctx, domain.CountAlertsRequest{})
	require.NoError(t, err)
	assert.Equal(t, domain.AlertCounts{}, counts)
}

func TestLedgerLockRejectsForeignScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.invoice(t, f.node.Generate(), "X-1", 100, 10)

	err := f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.ledger.Lock(ctx, tx, domain.Scope{SupplierID: f.node.Generate(), Channel: channel.Fiscal}, doc.ID)
		return err
	})
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	err = f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.ledger.Lock(ctx, tx, domain.Scope{SupplierID: doc.SupplierID, Channel: channel.Internal}, doc.ID)
		return err
	})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestLedgerApplyIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	supplierID := f.node.Generate()
	a := f.invoice(t, supplierID, "Y-1", 100, 10)
	b := f.invoice(t, supplierID, "Y-2", 50, 10)
	scope := domain.Scope{SupplierID: supplierID, Channel: channel.Fiscal}

	err := f.db.Transaction(func(tx *gorm.DB) error {
		docs, err := f.ledger.Lock(ctx, tx, scope, a.ID, b.ID)
		if err != nil {
			return err
		}
		return f.ledger.Apply(ctx, tx, docs, []domain.Movement{
			{DocumentID: a.ID, Kind: domain.MovementPayment, Amount: decimal.NewFromInt(100)},
			{DocumentID: b.ID, Kind: domain.MovementPayment, Amount: decimal.NewFromInt(60)},
		})
	})
	assert.True(t, errors.Is(err, domain.ErrAmountExceedsBalance))

	got, err := f.svc.GetByID(ctx, domain.GetDocumentRequest{Grant: channel.FiscalGrant(), ID: a.ID.String()})
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, int64(1), got.Version)
}

func applyPayment(t *testing.T, f *fixture, supplierID, docID snowflake.ID, amount decimal.Decimal) {
	t.Helper()
	scope := domain.Scope{SupplierID: supplierID, Channel: channel.Fiscal}
	err := f.db.Transaction(func(tx *gorm.DB) error {
		docs, err := f.ledger.Lock(context.Background(), tx, scope, docID)
		if err != nil {
			return err
		}
		return f.ledger.Apply(context.Background(), tx, docs, []domain.Movement{
			{DocumentID: docID, Kind: domain.MovementPayment, Amount: amount},
		})
	})
	require.NoError(t, err)
}
