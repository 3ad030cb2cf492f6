package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/payables/internal/audit/domain"
	"github.com/smallbiznis/payables/internal/clock"
	"github.com/smallbiznis/payables/internal/creditapplication/domain"
	"github.com/smallbiznis/payables/internal/lock"
	"github.com/smallbiznis/payables/internal/observability/metrics"
	docdomain "github.com/smallbiznis/payables/internal/supplierdocument/domain"
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
	Repo          domain.Repository
	DocRepo       docdomain.Repository
	Ledger        docdomain.Ledger
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
	repo          domain.Repository
	docRepo       docdomain.Repository
	ledger        docdomain.Ledger
	locker        lock.Locker
	auditSvc      auditdomain.Service
	metrics       *metrics.Metrics
	ledgerMetrics *metrics.LedgerMetrics
}

func NewService(p Params) *Service {
	locker := p.Locker
	if locker == nil {
		locker = lock.NewNoopLocker()
	}
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("creditapplication.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		repo:          p.Repo,
		docRepo:       p.DocRepo,
		ledger:        p.Ledger,
		locker:        locker,
		auditSvc:      p.AuditSvc,
		metrics:       p.Metrics,
		ledgerMetrics: p.LedgerMetrics,
	}
}

func (s *Service) ApplyCredit(ctx context.Context, req domain.ApplyCreditRequest) (domain.CreditApplication, error) {
	started := time.Now()
	now := s.clock.Now().UTC()

	ch, err := req.Grant.Resolve(now)
	if err != nil {
		return domain.CreditApplication{}, err
	}
	noteID, err := parseID(req.CreditNoteID, domain.ErrInvalidCreditNote)
	if err != nil {
		return domain.CreditApplication{}, err
	}
	targetID, err := parseID(req.TargetDocumentID, domain.ErrInvalidTarget)
	if err != nil {
		return domain.CreditApplication{}, err
	}
	if noteID == targetID {
		return domain.CreditApplication{}, domain.ErrSameDocument
	}
	if req.Amount.Sign() <= 0 {
		return domain.CreditApplication{}, domain.ErrInvalidAmount
	}
	if !docdomain.FitsScale(req.Amount) {
		return domain.CreditApplication{}, docdomain.ErrAmountScale
	}

	release, err := s.locker.ObtainAll(ctx, lock.DocumentKey(noteID.String()), lock.DocumentKey(targetID.String()))
	if err != nil {
		s.ledgerMetrics.ObserveOperation(metrics.OperationApplyCredit, string(ch), started, err)
		return domain.CreditApplication{}, err
	}
	defer release(ctx)

	var applied domain.CreditApplication
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		note, err := s.docRepo.FindByID(ctx, tx, ch, noteID, false)
		if err != nil {
			return err
		}
		target, err := s.docRepo.FindByID(ctx, tx, ch, targetID, false)
		if err != nil {
			return err
		}
		if note == nil || target == nil {
			return docdomain.ErrNotFound
		}
		if note.SupplierID != target.SupplierID {
			return domain.ErrSupplierMismatch
		}

		scope := docdomain.Scope{SupplierID: note.SupplierID, Channel: ch}
		docs, err := s.ledger.Lock(ctx, tx, scope, noteID, targetID)
		if err != nil {
			return err
		}
		if err := validatePair(docs[noteID], docs[targetID]); err != nil {
			return err
		}

		apps, err := s.TransferTx(ctx, tx, docs, []domain.Transfer{{
			CreditNoteID:     noteID,
			TargetDocumentID: targetID,
			Amount:           req.Amount,
			AppliedBy:        strings.TrimSpace(req.AppliedBy),
		}})
		if err != nil {
			return err
		}
		applied = apps[0]
		return nil
	})
	s.ledgerMetrics.ObserveOperation(metrics.OperationApplyCredit, string(ch), started, err)
	if err != nil {
		return domain.CreditApplication{}, err
	}

	s.metrics.RecordCreditApplication(ctx, string(ch), "manual")
	return applied, nil
}

func (s *Service) ListByDocument(ctx context.Context, req domain.ListByDocumentRequest) ([]domain.CreditApplication, error) {
	ch, err := req.Grant.Resolve(s.clock.Now().UTC())
	if err != nil {
		return nil, err
	}
	documentID, err := parseID(req.DocumentID, docdomain.ErrInvalidID)
	if err != nil {
		return nil, err
	}

	doc, err := s.docRepo.FindByID(ctx, s.db, ch, documentID, false)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, docdomain.ErrNotFound
	}

	items, err := s.repo.ListByDocument(ctx, s.db, ch, documentID)
	if err != nil {
		return nil, err
	}
	apps := make([]domain.CreditApplication, 0, len(items))
	for _, item := range items {
		apps = append(apps, *item)
	}
	return apps, nil
}

// TransferTx applies each transfer through the document ledger and records it.
func (s *Service) TransferTx(ctx context.Context, tx *gorm.DB, docs map[snowflake.ID]*docdomain.SupplierDocument, transfers []domain.Transfer) ([]domain.CreditApplication, error) {
	if len(transfers) == 0 {
		return nil, nil
	}

	movements := make([]docdomain.Movement, 0, len(transfers)*2)
	for _, t := range transfers {
		if t.Amount.Sign() <= 0 {
			return nil, domain.ErrInvalidAmount
		}
		if err := validatePair(docs[t.CreditNoteID], docs[t.TargetDocumentID]); err != nil {
			return nil, err
		}
		movements = append(movements, t.Movements(1)...)
	}
	if err := s.ledger.Apply(ctx, tx, docs, movements); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	apps := make([]domain.CreditApplication, 0, len(transfers))
	for _, t := range transfers {
		note := docs[t.CreditNoteID]
		app := domain.CreditApplication{
			ID:               s.genID.Generate(),
			SupplierID:       note.SupplierID,
			Channel:          note.Channel,
			CreditNoteID:     t.CreditNoteID,
			TargetDocumentID: t.TargetDocumentID,
			Amount:           t.Amount,
			PaymentOrderID:   t.PaymentOrderID,
			AppliedBy:        t.AppliedBy,
			CreatedAt:        now,
		}
		if err := s.repo.Insert(ctx, tx, &app); err != nil {
			return nil, err
		}
		if err := s.emitAudit(ctx, tx, &app); err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, nil
}

func (s *Service) ReverseTx(ctx context.Context, tx *gorm.DB, docs map[snowflake.ID]*docdomain.SupplierDocument, orderID snowflake.ID, reversedBy string) ([]domain.CreditApplication, error) {
	items, err := s.repo.ListActiveByOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}

	movements := make([]docdomain.Movement, 0, len(items)*2)
	ids := make([]snowflake.ID, 0, len(items))
	for _, item := range items {
		movements = append(movements, item.Transfer().Movements(-1)...)
		ids = append(ids, item.ID)
	}
	if err := s.ledger.Apply(ctx, tx, docs, movements); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	if err := s.repo.MarkReversed(ctx, tx, ids, now, reversedBy); err != nil {
		return nil, err
	}

	reversed := make([]domain.CreditApplication, 0, len(items))
	for _, item := range items {
		item.ReversedAt = &now
		by := reversedBy
		item.ReversedBy = &by
		reversed = append(reversed, *item)
	}
	return reversed, nil
}

func (s *Service) emitAudit(ctx context.Context, tx *gorm.DB, app *domain.CreditApplication) error {
	if s.auditSvc == nil {
		return nil
	}
	metadata := map[string]any{
		"credit_note_id":     app.CreditNoteID.String(),
		"target_document_id": app.TargetDocumentID.String(),
		"amount":             app.Amount.String(),
	}
	if app.PaymentOrderID != nil {
		metadata["payment_order_id"] = app.PaymentOrderID.String()
	}
	return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
		Channel:    app.Channel,
		ActorID:    app.AppliedBy,
		Action:     auditdomain.ActionCreditApply,
		TargetType: auditdomain.TargetCreditApplication,
		TargetID:   app.ID.String(),
		Metadata:   metadata,
	})
}

func validatePair(note, target *docdomain.SupplierDocument) error {
	if note == nil || target == nil {
		return docdomain.ErrNotFound
	}
	if !note.Type.IsCreditNote() {
		return domain.ErrNotCreditNote
	}
	if target.Type.IsCreditNote() {
		return domain.ErrTargetIsCreditNote
	}
	if note.SupplierID != target.SupplierID || note.Channel != target.Channel {
		return domain.ErrSupplierMismatch
	}
	if note.IsCancelled() || target.IsCancelled() {
		return docdomain.ErrDocumentCancelled
	}
	return nil
}

func parseID(value string, invalid error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalid
	}
	return id, nil
}
