package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/payables/internal/audit/domain"
	"github.com/smallbiznis/payables/internal/channel"
	"github.com/smallbiznis/payables/internal/clock"
	"github.com/smallbiznis/payables/internal/config"
	creditdomain "github.com/smallbiznis/payables/internal/creditapplication/domain"
	"github.com/smallbiznis/payables/internal/lock"
	"github.com/smallbiznis/payables/internal/observability/metrics"
	"github.com/smallbiznis/payables/internal/paymentorder/domain"
	"github.com/smallbiznis/payables/internal/sequence"
	docdomain "github.com/smallbiznis/payables/internal/supplierdocument/domain"
	"github.com/smallbiznis/payables/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	LedgerConfig  *config.LedgerConfigHolder
	Repo          domain.Repository
	Ledger        docdomain.Ledger
	CreditEngine  creditdomain.Engine
	Sequence      sequence.Generator
	Locker        lock.Locker            `optional:"true"`
	AuditSvc      auditdomain.Service    `optional:"true"`
	Metrics       *metrics.Metrics       `optional:"true"`
	LedgerMetrics *metrics.LedgerMetrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	ledgerConfig  *config.LedgerConfigHolder
	repo          domain.Repository
	ledger        docdomain.Ledger
	creditEngine  creditdomain.Engine
	sequence      sequence.Generator
	locker        lock.Locker
	auditSvc      auditdomain.Service
	metrics       *metrics.Metrics
	ledgerMetrics *metrics.LedgerMetrics
}

func NewService(p Params) domain.Service {
	locker := p.Locker
	if locker == nil {
		locker = lock.NewNoopLocker()
	}
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("paymentorder.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		ledgerConfig:  p.LedgerConfig,
		repo:          p.Repo,
		ledger:        p.Ledger,
		creditEngine:  p.CreditEngine,
		sequence:      p.Sequence,
		locker:        locker,
		auditSvc:      p.AuditSvc,
		metrics:       p.Metrics,
		ledgerMetrics: p.LedgerMetrics,
	}
}

type createInput struct {
	supplierID snowflake.ID
	documents  []domain.DocumentLine
	credits    []domain.CreditNoteLine
	payments   []domain.Payment
	versions   map[snowflake.ID]int64
	totals     domain.Totals
}

func (s *Service) Create(ctx context.Context, req domain.CreatePaymentOrderRequest) (domain.PaymentOrder, error) {
	started := time.Now()
	now := s.clock.Now().UTC()

	ch, err := req.Grant.Resolve(now)
	if err != nil {
		return domain.PaymentOrder{}, err
	}
	in, err := parseCreateRequest(req)
	if err != nil {
		s.ledgerMetrics.ObserveOperation(metrics.OperationCreatePaymentOrder, string(ch), started, err)
		return domain.PaymentOrder{}, err
	}

	date := now
	if req.Date != nil && !req.Date.IsZero() {
		date = req.Date.UTC()
	}
	createdBy := strings.TrimSpace(req.CreatedBy)
	scope := docdomain.Scope{SupplierID: in.supplierID, Channel: ch}

	ids := make([]snowflake.ID, 0, len(in.documents)+len(in.credits))
	for _, line := range in.documents {
		ids = append(ids, line.DocumentID)
	}
	for _, line := range in.credits {
		ids = append(ids, line.CreditNoteID)
	}

	release, err := s.locker.ObtainAll(ctx, documentKeys(ids)...)
	if err != nil {
		s.ledgerMetrics.ObserveOperation(metrics.OperationCreatePaymentOrder, string(ch), started, err)
		return domain.PaymentOrder{}, err
	}
	defer release(ctx)

	order := domain.PaymentOrder{
		ID:               s.genID.Generate(),
		SupplierID:       in.supplierID,
		Channel:          ch,
		Date:             date,
		Status:           domain.StatusPending,
		DocumentsTotal:   in.totals.DocumentsTotal,
		CreditNotesTotal: in.totals.CreditNotesTotal,
		PaymentsTotal:    in.totals.PaymentsTotal,
		NetPayable:       in.totals.NetPayable,
		Notes:            strings.TrimSpace(req.Notes),
		CreatedBy:        createdBy,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		docs, err := s.ledger.Lock(ctx, tx, scope, ids...)
		if err != nil {
			return err
		}
		if err := s.checkLines(ctx, docs, in); err != nil {
			return err
		}

		alloc := domain.Allocate(in.documents, in.credits)
		transfers := make([]creditdomain.Transfer, 0, len(alloc.Splits))
		for _, split := range alloc.Splits {
			transfers = append(transfers, creditdomain.Transfer{
				CreditNoteID:     split.CreditNoteID,
				TargetDocumentID: split.DocumentID,
				Amount:           split.Amount,
				PaymentOrderID:   &order.ID,
				AppliedBy:        createdBy,
			})
		}
		if _, err := s.creditEngine.TransferTx(ctx, tx, docs, transfers); err != nil {
			return err
		}

		movements := make([]docdomain.Movement, 0, len(in.documents))
		for _, line := range in.documents {
			paid := alloc.Paid[line.DocumentID]
			if paid.Sign() > 0 {
				movements = append(movements, docdomain.Movement{
					DocumentID: line.DocumentID,
					Kind:       docdomain.MovementPayment,
					Amount:     paid,
				})
			}
			order.Documents = append(order.Documents, domain.PaymentOrderDocument{
				ID:             s.genID.Generate(),
				PaymentOrderID: order.ID,
				DocumentID:     line.DocumentID,
				AppliedAmount:  line.AppliedAmount,
				CreditedAmount: alloc.Credited[line.DocumentID],
				PaidAmount:     paid,
			})
		}
		if len(movements) > 0 {
			if err := s.ledger.Apply(ctx, tx, docs, movements); err != nil {
				return err
			}
		}
		for _, line := range in.credits {
			order.CreditNotes = append(order.CreditNotes, domain.PaymentOrderCreditNote{
				ID:             s.genID.Generate(),
				PaymentOrderID: order.ID,
				CreditNoteID:   line.CreditNoteID,
				AppliedAmount:  line.AppliedAmount,
			})
		}
		for _, p := range in.payments {
			order.Payments = append(order.Payments, domain.PaymentOrderPayment{
				ID:             s.genID.Generate(),
				PaymentOrderID: order.ID,
				Method:         p.Method,
				Reference:      p.Reference,
				Amount:         p.Amount,
			})
		}

		if err := s.assignNumber(ctx, tx, &order); err != nil {
			return err
		}
		if err := s.repo.Insert(ctx, tx, &order); err != nil {
			return err
		}
		return s.emitAudit(ctx, tx, auditdomain.ActionPaymentOrderCreate, &order, createdBy, map[string]any{
			"documents_total":    order.DocumentsTotal.String(),
			"credit_notes_total": order.CreditNotesTotal.String(),
			"payments_total":     order.PaymentsTotal.String(),
			"net_payable":        order.NetPayable.String(),
		})
	})
	s.ledgerMetrics.ObserveOperation(metrics.OperationCreatePaymentOrder, string(ch), started, err)
	if err != nil {
		return domain.PaymentOrder{}, err
	}

	s.metrics.RecordPaymentOrderEvent(ctx, string(ch), "create")
	if len(in.credits) > 0 {
		s.metrics.RecordCreditApplication(ctx, string(ch), "payment_order")
	}
	return order, nil
}

func (s *Service) Confirm(ctx context.Context, req domain.ConfirmPaymentOrderRequest) (domain.PaymentOrder, error) {
	started := time.Now()
	now := s.clock.Now().UTC()

	ch, err := req.Grant.Resolve(now)
	if err != nil {
		return domain.PaymentOrder{}, err
	}
	id, err := parseID(req.ID, domain.ErrInvalidID)
	if err != nil {
		return domain.PaymentOrder{}, err
	}

	release, err := s.locker.ObtainAll(ctx, lock.OrderKey(id.String()))
	if err != nil {
		s.ledgerMetrics.ObserveOperation(metrics.OperationConfirmOrder, string(ch), started, err)
		return domain.PaymentOrder{}, err
	}
	defer release(ctx)

	var confirmed domain.PaymentOrder
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.lockOrder(ctx, tx, ch, id)
		if err != nil {
			return err
		}
		from := order.Status
		if !from.CanTransition(domain.StatusConfirmed) {
			return domain.ErrInvalidTransition
		}

		approvedBy := strings.TrimSpace(req.ApprovedBy)
		order.Status = domain.StatusConfirmed
		order.ApprovedBy = &approvedBy
		order.ConfirmedAt = &now
		order.UpdatedAt = now
		if err := s.repo.UpdateStatus(ctx, tx, order, from); err != nil {
			return err
		}
		if err := s.repo.LoadLines(ctx, tx, order); err != nil {
			return err
		}
		if err := s.emitAudit(ctx, tx, auditdomain.ActionPaymentOrderConfirm, order, approvedBy, nil); err != nil {
			return err
		}
		confirmed = *order
		return nil
	})
	s.ledgerMetrics.ObserveOperation(metrics.OperationConfirmOrder, string(ch), started, err)
	if err != nil {
		return domain.PaymentOrder{}, err
	}

	s.metrics.RecordPaymentOrderEvent(ctx, string(ch), "confirm")
	return confirmed, nil
}

// Cancel reverses every amount the order moved, each by its own recorded
// delta, and marks the order CANCELLED.
func (s *Service) Cancel(ctx context.Context, req domain.CancelPaymentOrderRequest) (domain.PaymentOrder, error) {
	started := time.Now()
	now := s.clock.Now().UTC()

	ch, err := req.Grant.Resolve(now)
	if err != nil {
		return domain.PaymentOrder{}, err
	}
	id, err := parseID(req.ID, domain.ErrInvalidID)
	if err != nil {
		return domain.PaymentOrder{}, err
	}

	snapshot, err := s.repo.FindByID(ctx, s.db, ch, id, false)
	if err != nil {
		return domain.PaymentOrder{}, err
	}
	if snapshot == nil {
		return domain.PaymentOrder{}, domain.ErrNotFound
	}
	if err := s.repo.LoadLines(ctx, s.db, snapshot); err != nil {
		return domain.PaymentOrder{}, err
	}

	keys := append(documentKeys(snapshot.DocumentIDs()), lock.OrderKey(id.String()))
	release, err := s.locker.ObtainAll(ctx, keys...)
	if err != nil {
		s.ledgerMetrics.ObserveOperation(metrics.OperationCancelOrder, string(ch), started, err)
		return domain.PaymentOrder{}, err
	}
	defer release(ctx)

	cancelledBy := strings.TrimSpace(req.CancelledBy)
	var cancelled domain.PaymentOrder
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.lockOrder(ctx, tx, ch, id)
		if err != nil {
			return err
		}
		from := order.Status
		if !from.CanTransition(domain.StatusCancelled) {
			return domain.ErrInvalidTransition
		}
		if err := s.repo.LoadLines(ctx, tx, order); err != nil {
			return err
		}

		scope := docdomain.Scope{SupplierID: order.SupplierID, Channel: order.Channel}
		docs, err := s.ledger.Lock(ctx, tx, scope, order.DocumentIDs()...)
		if err != nil {
			return err
		}

		movements := make([]docdomain.Movement, 0, len(order.Documents))
		for _, line := range order.Documents {
			if line.PaidAmount.Sign() > 0 {
				movements = append(movements, docdomain.Movement{
					DocumentID: line.DocumentID,
					Kind:       docdomain.MovementPayment,
					Amount:     line.PaidAmount.Neg(),
				})
			}
		}
		if len(movements) > 0 {
			if err := s.ledger.Apply(ctx, tx, docs, movements); err != nil {
				return err
			}
		}
		if _, err := s.creditEngine.ReverseTx(ctx, tx, docs, order.ID, cancelledBy); err != nil {
			return err
		}

		order.Status = domain.StatusCancelled
		order.CancelledBy = &cancelledBy
		order.CancelledAt = &now
		if reason := strings.TrimSpace(req.Reason); reason != "" {
			order.CancelReason = &reason
		}
		order.UpdatedAt = now
		if err := s.repo.UpdateStatus(ctx, tx, order, from); err != nil {
			return err
		}
		if err := s.emitAudit(ctx, tx, auditdomain.ActionPaymentOrderCancel, order, cancelledBy, map[string]any{
			"previous_status": string(from),
			"reason":          req.Reason,
		}); err != nil {
			return err
		}
		cancelled = *order
		return nil
	})
	s.ledgerMetrics.ObserveOperation(metrics.OperationCancelOrder, string(ch), started, err)
	if err != nil {
		return domain.PaymentOrder{}, err
	}

	s.metrics.RecordPaymentOrderEvent(ctx, string(ch), "cancel")
	return cancelled, nil
}

func (s *Service) GetByID(ctx context.Context, req domain.GetPaymentOrderRequest) (domain.PaymentOrder, error) {
	ch, err := req.Grant.Resolve(s.clock.Now().UTC())
	if err != nil {
		return domain.PaymentOrder{}, err
	}
	id, err := parseID(req.ID, domain.ErrInvalidID)
	if err != nil {
		return domain.PaymentOrder{}, err
	}

	order, err := s.repo.FindByID(ctx, s.db, ch, id, false)
	if err != nil {
		return domain.PaymentOrder{}, err
	}
	if order == nil {
		return domain.PaymentOrder{}, domain.ErrNotFound
	}
	if err := s.repo.LoadLines(ctx, s.db, order); err != nil {
		return domain.PaymentOrder{}, err
	}
	return *order, nil
}

func (s *Service) List(ctx context.Context, req domain.ListPaymentOrderRequest) (domain.ListPaymentOrderResponse, error) {
	ch, err := req.Grant.Resolve(s.clock.Now().UTC())
	if err != nil {
		return domain.ListPaymentOrderResponse{}, err
	}

	filter := domain.ListOrderFilter{
		Status: domain.Status(strings.ToUpper(strings.TrimSpace(string(req.Status)))),
	}
	if strings.TrimSpace(req.SupplierID) != "" {
		supplierID, err := parseID(req.SupplierID, domain.ErrInvalidSupplier)
		if err != nil {
			return domain.ListPaymentOrderResponse{}, err
		}
		filter.SupplierID = &supplierID
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}
	if pageSize > pagination.MaxPageSize {
		pageSize = pagination.MaxPageSize
	}

	items, err := s.repo.List(ctx, s.db, ch, filter, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  int(pageSize),
	})
	if err != nil {
		return domain.ListPaymentOrderResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(order *domain.PaymentOrder) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        order.ID.String(),
			CreatedAt: order.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > int(pageSize) {
		items = items[:pageSize]
	}

	orders := make([]domain.PaymentOrder, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		orders = append(orders, *item)
	}

	resp := domain.ListPaymentOrderResponse{PaymentOrders: orders}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) lockOrder(ctx context.Context, tx *gorm.DB, ch channel.Channel, id snowflake.ID) (*domain.PaymentOrder, error) {
	order, err := s.repo.FindByID(ctx, tx, ch, id, true)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrNotFound
	}
	return order, nil
}

// checkLines validates every line against the locked documents before any
// balance moves.
func (s *Service) checkLines(ctx context.Context, docs map[snowflake.ID]*docdomain.SupplierDocument, in createInput) error {
	for id, expected := range in.versions {
		if doc := docs[id]; doc != nil && doc.Version != expected {
			s.metrics.RecordVersionConflict(ctx, string(doc.Channel), "payment_order_line")
			return domain.ErrLineVersionConflict
		}
	}
	for _, line := range in.documents {
		doc := docs[line.DocumentID]
		if doc.Type.IsCreditNote() {
			return domain.ErrDocumentIsCreditNote
		}
		if doc.IsCancelled() {
			return docdomain.ErrDocumentCancelled
		}
		if line.AppliedAmount.GreaterThan(doc.Balance) {
			return docdomain.ErrAmountExceedsBalance
		}
	}
	for _, line := range in.credits {
		note := docs[line.CreditNoteID]
		if !note.Type.IsCreditNote() {
			return domain.ErrNotCreditNote
		}
		if note.IsCancelled() {
			return docdomain.ErrDocumentCancelled
		}
		if line.AppliedAmount.GreaterThan(note.Balance) {
			return docdomain.ErrAmountExceedsBalance
		}
	}
	return nil
}

func (s *Service) assignNumber(ctx context.Context, tx *gorm.DB, order *domain.PaymentOrder) error {
	started := time.Now()
	seq, err := s.sequence.Next(ctx, tx, "payment_order:"+string(order.Channel))
	s.ledgerMetrics.ObserveDBLockWait(metrics.LockResourceOrderSequence, time.Since(started))
	if err != nil {
		return err
	}

	template := s.ledgerConfig.Get().OrderNumberFormat(string(order.Channel))
	number, err := sequence.Format(template, order.Date, seq)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidNumberFormat, err)
	}
	order.Sequence = seq
	order.OrderNumber = number
	return nil
}

func (s *Service) emitAudit(ctx context.Context, tx *gorm.DB, action string, order *domain.PaymentOrder, actor string, extra map[string]any) error {
	if s.auditSvc == nil || order == nil {
		return nil
	}
	metadata := map[string]any{
		"order_number": order.OrderNumber,
		"supplier_id":  order.SupplierID.String(),
		"status":       string(order.Status),
	}
	for key, value := range extra {
		if key == "" {
			continue
		}
		metadata[key] = value
	}
	return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
		Channel:    order.Channel,
		ActorID:    actor,
		Action:     action,
		TargetType: auditdomain.TargetPaymentOrder,
		TargetID:   order.ID.String(),
		Metadata:   metadata,
	})
}

func parseCreateRequest(req domain.CreatePaymentOrderRequest) (createInput, error) {
	supplierID, err := parseID(req.SupplierID, domain.ErrInvalidSupplier)
	if err != nil {
		return createInput{}, err
	}

	in := createInput{
		supplierID: supplierID,
		documents:  make([]domain.DocumentLine, 0, len(req.Documents)),
		credits:    make([]domain.CreditNoteLine, 0, len(req.CreditNotes)),
		payments:   make([]domain.Payment, 0, len(req.Payments)),
		versions:   map[snowflake.ID]int64{},
	}
	for _, line := range req.Documents {
		id, err := parseID(line.DocumentID, domain.ErrInvalidDocument)
		if err != nil {
			return createInput{}, err
		}
		in.documents = append(in.documents, domain.DocumentLine{DocumentID: id, AppliedAmount: line.AppliedAmount})
		if line.ExpectedVersion != nil {
			in.versions[id] = *line.ExpectedVersion
		}
	}
	for _, line := range req.CreditNotes {
		id, err := parseID(line.CreditNoteID, domain.ErrInvalidCreditNote)
		if err != nil {
			return createInput{}, err
		}
		in.credits = append(in.credits, domain.CreditNoteLine{CreditNoteID: id, AppliedAmount: line.AppliedAmount})
		if line.ExpectedVersion != nil {
			in.versions[id] = *line.ExpectedVersion
		}
	}
	for _, p := range req.Payments {
		method, err := domain.ParsePaymentMethod(p.Method)
		if err != nil {
			return createInput{}, err
		}
		in.payments = append(in.payments, domain.Payment{
			Method:    method,
			Reference: normalizeOptional(p.Reference),
			Amount:    p.Amount,
		})
	}

	totals, err := domain.ComputeTotals(in.documents, in.credits, in.payments)
	if err != nil {
		return createInput{}, err
	}
	in.totals = totals
	return in, nil
}

func documentKeys(ids []snowflake.ID) []string {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, lock.DocumentKey(id.String()))
	}
	return keys
}

func parseID(value string, invalid error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalid
	}
	return id, nil
}

func normalizeOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
