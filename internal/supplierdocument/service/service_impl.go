package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/payables/internal/audit/domain"
	"github.com/smallbiznis/payables/internal/channel"
	"github.com/smallbiznis/payables/internal/clock"
	"github.com/smallbiznis/payables/internal/config"
	"github.com/smallbiznis/payables/internal/observability/metrics"
	"github.com/smallbiznis/payables/internal/supplierdocument/domain"
	"github.com/smallbiznis/payables/pkg/db"
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
	auditSvc      auditdomain.Service
	metrics       *metrics.Metrics
	ledgerMetrics *metrics.LedgerMetrics
}

func New(p Params) domain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("supplierdocument.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		ledgerConfig:  p.LedgerConfig,
		repo:          p.Repo,
		auditSvc:      p.AuditSvc,
		metrics:       p.Metrics,
		ledgerMetrics: p.LedgerMetrics,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateDocumentRequest) (domain.SupplierDocument, error) {
	started := time.Now()
	now := s.clock.Now().UTC()

	ch, err := req.Grant.Resolve(now)
	if err != nil {
		return domain.SupplierDocument{}, err
	}

	supplierID, err := parseSupplierID(req.SupplierID)
	if err != nil {
		return domain.SupplierDocument{}, err
	}

	doc := domain.SupplierDocument{
		ID:                   s.genID.Generate(),
		SupplierID:           supplierID,
		Channel:              ch,
		Type:                 domain.DocumentType(strings.ToUpper(strings.TrimSpace(string(req.Type)))),
		PointOfSale:          normalizeOptional(req.PointOfSale),
		DocumentNumber:       strings.TrimSpace(req.DocumentNumber),
		IssueDate:            req.IssueDate.UTC(),
		DueDate:              utcPointer(req.DueDate),
		TotalAmount:          req.TotalAmount,
		AppliedPaymentsTotal: decimal.Zero,
		AppliedCreditsTotal:  decimal.Zero,
		AppliedAmount:        decimal.Zero,
		ImpactsStock:         req.ImpactsStock,
		ImpactsCosts:         req.ImpactsCosts,
		Notes:                strings.TrimSpace(req.Notes),
		Version:              1,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := validateDocument(&doc); err != nil {
		return domain.SupplierDocument{}, err
	}
	doc.Recalculate()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureUniqueNumber(ctx, tx, &doc); err != nil {
			return err
		}
		if err := s.repo.Insert(ctx, tx, &doc); err != nil {
			if db.IsDuplicateKeyErr(err) {
				s.log.Debug("document number rejected by index", zap.String("constraint", db.ViolatedConstraint(err)))
				return domain.ErrDuplicateNumber
			}
			return err
		}
		return s.emitAudit(ctx, tx, auditdomain.ActionDocumentCreate, &doc, req.CreatedBy, nil)
	})
	s.ledgerMetrics.ObserveOperation(metrics.OperationCreateDocument, string(ch), started, err)
	if err != nil {
		return domain.SupplierDocument{}, err
	}

	s.metrics.RecordDocumentEvent(ctx, string(ch), string(doc.Type), "create")
	return s.present(&doc, now), nil
}

func (s *Service) Update(ctx context.Context, req domain.UpdateDocumentRequest) (domain.SupplierDocument, error) {
	started := time.Now()
	now := s.clock.Now().UTC()

	ch, err := req.Grant.Resolve(now)
	if err != nil {
		return domain.SupplierDocument{}, err
	}
	id, err := parseID(req.ID)
	if err != nil {
		return domain.SupplierDocument{}, err
	}

	var updated domain.SupplierDocument
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc, err := s.repo.FindByID(ctx, tx, ch, id, true)
		if err != nil {
			return err
		}
		if doc == nil {
			return domain.ErrNotFound
		}
		if req.ExpectedVersion != nil && *req.ExpectedVersion != doc.Version {
			return domain.ErrStaleVersion
		}
		if doc.IsCancelled() {
			return domain.ErrAlreadyCancelled
		}
		if doc.HasApplications() {
			return domain.ErrHasApplications
		}

		before := map[string]any{
			"document_number": doc.DocumentNumber,
			"total_amount":    doc.TotalAmount.String(),
		}
		numberChanged := applyUpdate(doc, req)
		if err := validateDocument(doc); err != nil {
			return err
		}
		if numberChanged {
			if err := s.ensureUniqueNumber(ctx, tx, doc); err != nil {
				return err
			}
		}

		doc.Recalculate()
		doc.UpdatedAt = now
		if err := s.repo.UpdateDetails(ctx, tx, doc, doc.Version); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrDuplicateNumber
			}
			return err
		}
		if err := s.emitAudit(ctx, tx, auditdomain.ActionDocumentUpdate, doc, req.UpdatedBy, map[string]any{"before": before}); err != nil {
			return err
		}
		updated = *doc
		return nil
	})
	s.ledgerMetrics.ObserveOperation(metrics.OperationUpdateDocument, string(ch), started, err)
	if err != nil {
		return domain.SupplierDocument{}, err
	}

	s.metrics.RecordDocumentEvent(ctx, string(ch), string(updated.Type), "update")
	return s.present(&updated, now), nil
}

func (s *Service) Cancel(ctx context.Context, req domain.CancelDocumentRequest) (domain.SupplierDocument, error) {
	started := time.Now()
	now := s.clock.Now().UTC()

	ch, err := req.Grant.Resolve(now)
	if err != nil {
		return domain.SupplierDocument{}, err
	}
	id, err := parseID(req.ID)
	if err != nil {
		return domain.SupplierDocument{}, err
	}

	var cancelled domain.SupplierDocument
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc, err := s.repo.FindByID(ctx, tx, ch, id, true)
		if err != nil {
			return err
		}
		if doc == nil {
			return domain.ErrNotFound
		}
		if req.ExpectedVersion != nil && *req.ExpectedVersion != doc.Version {
			return domain.ErrStaleVersion
		}
		if doc.IsCancelled() {
			return domain.ErrAlreadyCancelled
		}
		if doc.HasApplications() {
			return domain.ErrHasApplications
		}

		doc.CancelledAt = &now
		doc.Status = domain.StatusCancelled
		doc.UpdatedAt = now
		if err := s.repo.MarkCancelled(ctx, tx, doc, doc.Version); err != nil {
			return err
		}
		if err := s.emitAudit(ctx, tx, auditdomain.ActionDocumentCancel, doc, req.CancelledBy, nil); err != nil {
			return err
		}
		cancelled = *doc
		return nil
	})
	s.ledgerMetrics.ObserveOperation(metrics.OperationCancelDocument, string(ch), started, err)
	if err != nil {
		return domain.SupplierDocument{}, err
	}

	s.metrics.RecordDocumentEvent(ctx, string(ch), string(cancelled.Type), "cancel")
	return s.present(&cancelled, now), nil
}

func (s *Service) GetByID(ctx context.Context, req domain.GetDocumentRequest) (domain.SupplierDocument, error) {
	now := s.clock.Now().UTC()
	ch, err := req.Grant.Resolve(now)
	if err != nil {
		return domain.SupplierDocument{}, err
	}
	id, err := parseID(req.ID)
	if err != nil {
		return domain.SupplierDocument{}, err
	}

	doc, err := s.repo.FindByID(ctx, s.db, ch, id, false)
	if err != nil {
		return domain.SupplierDocument{}, err
	}
	if doc == nil {
		return domain.SupplierDocument{}, domain.ErrNotFound
	}
	return s.present(doc, now), nil
}

func (s *Service) List(ctx context.Context, req domain.ListDocumentRequest) (domain.ListDocumentResponse, error) {
	now := s.clock.Now().UTC()
	ch, err := req.Grant.Resolve(now)
	if err != nil {
		return domain.ListDocumentResponse{}, err
	}

	filter := domain.ListDocumentFilter{
		Type:        domain.DocumentType(strings.ToUpper(strings.TrimSpace(string(req.Type)))),
		Status:      domain.Status(strings.ToUpper(strings.TrimSpace(string(req.Status)))),
		IssuedFrom:  req.IssuedFrom,
		IssuedTo:    req.IssuedTo,
		Now:         now,
		AlertWindow: s.alertWindow(),
	}
	if strings.TrimSpace(req.SupplierID) != "" {
		supplierID, err := parseSupplierID(req.SupplierID)
		if err != nil {
			return domain.ListDocumentResponse{}, err
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
		return domain.ListDocumentResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(doc *domain.SupplierDocument) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        doc.ID.String(),
			CreatedAt: doc.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > int(pageSize) {
		items = items[:pageSize]
	}

	docs := make([]domain.SupplierDocument, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		docs = append(docs, s.present(item, now))
	}

	resp := domain.ListDocumentResponse{Documents: docs}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

// ListOpenDocuments returns every non-cancelled document with a positive
// balance, credit notes included.
func (s *Service) ListOpenDocuments(ctx context.Context, req domain.ListOpenRequest) ([]domain.SupplierDocument, error) {
	return s.listOpen(ctx, req, false)
}

func (s *Service) ListOpenCreditNotes(ctx context.Context, req domain.ListOpenRequest) ([]domain.SupplierDocument, error) {
	return s.listOpen(ctx, req, true)
}

func (s *Service) listOpen(ctx context.Context, req domain.ListOpenRequest, creditNotes bool) ([]domain.SupplierDocument, error) {
	now := s.clock.Now().UTC()
	scope, err := s.resolveScope(now, req.Grant, req.SupplierID)
	if err != nil {
		return nil, err
	}

	items, err := s.repo.ListOpen(ctx, s.db, scope, creditNotes)
	if err != nil {
		return nil, err
	}

	docs := make([]domain.SupplierDocument, 0, len(items))
	for _, item := range items {
		docs = append(docs, s.present(item, now))
	}
	return docs, nil
}

func (s *Service) SupplierBalance(ctx context.Context, req domain.SupplierBalanceRequest) (domain.SupplierBalance, error) {
	now := s.clock.Now().UTC()
	scope, err := s.resolveScope(now, req.Grant, req.SupplierID)
	if err != nil {
		return domain.SupplierBalance{}, err
	}

	open, err := s.repo.ListOpen(ctx, s.db, scope, false)
	if err != nil {
		return domain.SupplierBalance{}, err
	}
	var payables, credits []*domain.SupplierDocument
	for _, doc := range open {
		if doc.Type.IsCreditNote() {
			credits = append(credits, doc)
			continue
		}
		payables = append(payables, doc)
	}

	window := s.alertWindow()
	summary := domain.SupplierBalance{
		SupplierID:      scope.SupplierID.String(),
		Channel:         scope.Channel,
		OpenDocuments:   len(payables),
		OpenBalance:     decimal.Zero,
		OverdueBalance:  decimal.Zero,
		DueSoonBalance:  decimal.Zero,
		AvailableCredit: decimal.Zero,
	}
	for _, doc := range payables {
		summary.OpenBalance = summary.OpenBalance.Add(doc.Balance)
		switch doc.StatusAt(now, window) {
		case domain.StatusOverdue:
			summary.OverdueBalance = summary.OverdueBalance.Add(doc.Balance)
		case domain.StatusDueSoon:
			summary.DueSoonBalance = summary.DueSoonBalance.Add(doc.Balance)
		}
	}
	for _, note := range credits {
		summary.AvailableCredit = summary.AvailableCredit.Add(note.Balance)
	}
	summary.NetPayableBalance = decimal.Max(decimal.Zero, summary.OpenBalance.Sub(summary.AvailableCredit))
	return summary, nil
}

// CountAlerts aggregates due-date alerts over the fiscal channel.
func (s *Service) CountAlerts(ctx context.Context, req domain.CountAlertsRequest) (domain.AlertCounts, error) {
	now := s.clock.Now().UTC()

	var supplierID *snowflake.ID
	if strings.TrimSpace(req.SupplierID) != "" {
		id, err := parseSupplierID(req.SupplierID)
		if err != nil {
			return domain.AlertCounts{}, err
		}
		supplierID = &id
	}

	items, err := s.repo.ListOpenWithDueDate(ctx, s.db, channel.Fiscal, supplierID)
	if err != nil {
		return domain.AlertCounts{}, err
	}

	window := s.alertWindow()
	var counts domain.AlertCounts
	for _, doc := range items {
		switch doc.StatusAt(now, window) {
		case domain.StatusDueSoon:
			counts.DueSoon++
		case domain.StatusOverdue:
			counts.Overdue++
		}
	}
	return counts, nil
}

func (s *Service) ensureUniqueNumber(ctx context.Context, tx *gorm.DB, doc *domain.SupplierDocument) error {
	existing, err := s.repo.FindActiveByNumber(ctx, tx, doc.SupplierID, doc.Channel, doc.PointOfSale, doc.DocumentNumber)
	if err != nil {
		return err
	}
	if existing != nil && existing.ID != doc.ID {
		return domain.ErrDuplicateNumber
	}
	return nil
}

func (s *Service) resolveScope(now time.Time, grant channel.Grant, rawSupplierID string) (domain.Scope, error) {
	ch, err := grant.Resolve(now)
	if err != nil {
		return domain.Scope{}, err
	}
	supplierID, err := parseSupplierID(rawSupplierID)
	if err != nil {
		return domain.Scope{}, err
	}
	return domain.Scope{SupplierID: supplierID, Channel: ch}, nil
}

// present returns a copy carrying the status derived at now.
func (s *Service) present(doc *domain.SupplierDocument, now time.Time) domain.SupplierDocument {
	out := *doc
	out.Status = doc.StatusAt(now, s.alertWindow())
	return out
}

func (s *Service) alertWindow() time.Duration {
	return s.ledgerConfig.Get().AlertWindow()
}

func (s *Service) emitAudit(ctx context.Context, tx *gorm.DB, action string, doc *domain.SupplierDocument, actor string, extra map[string]any) error {
	if s.auditSvc == nil || doc == nil {
		return nil
	}
	metadata := map[string]any{
		"supplier_id":     doc.SupplierID.String(),
		"type":            string(doc.Type),
		"document_number": doc.DocumentNumber,
		"total_amount":    doc.TotalAmount.String(),
		"version":         doc.Version,
	}
	for key, value := range extra {
		if key == "" {
			continue
		}
		metadata[key] = value
	}

	return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
		Channel:    doc.Channel,
		ActorID:    actor,
		Action:     action,
		TargetType: auditdomain.TargetSupplierDocument,
		TargetID:   doc.ID.String(),
		Metadata:   metadata,
	})
}

// applyUpdate copies the set fields of req onto doc and reports whether the
// document number or point of sale changed.
func applyUpdate(doc *domain.SupplierDocument, req domain.UpdateDocumentRequest) bool {
	numberChanged := false
	if req.PointOfSale != nil {
		pos := normalizeOptional(req.PointOfSale)
		if !sameOptional(pos, doc.PointOfSale) {
			numberChanged = true
		}
		doc.PointOfSale = pos
	}
	if req.DocumentNumber != nil {
		number := strings.TrimSpace(*req.DocumentNumber)
		if number != doc.DocumentNumber {
			numberChanged = true
		}
		doc.DocumentNumber = number
	}
	if req.IssueDate != nil {
		doc.IssueDate = req.IssueDate.UTC()
	}
	if req.DueDate != nil {
		doc.DueDate = utcPointer(req.DueDate)
	}
	if req.ImpactsStock != nil {
		doc.ImpactsStock = *req.ImpactsStock
	}
	if req.ImpactsCosts != nil {
		doc.ImpactsCosts = *req.ImpactsCosts
	}
	if req.Notes != nil {
		doc.Notes = strings.TrimSpace(*req.Notes)
	}
	return numberChanged
}

func validateDocument(doc *domain.SupplierDocument) error {
	if !doc.Type.AllowedIn(doc.Channel) {
		return domain.ErrInvalidType
	}
	if doc.DocumentNumber == "" {
		return domain.ErrInvalidDocumentNumber
	}
	if doc.IssueDate.IsZero() {
		return domain.ErrInvalidIssueDate
	}
	if doc.Type.RequiresDueDate() {
		if doc.DueDate == nil || doc.DueDate.IsZero() {
			return domain.ErrDueDateRequired
		}
		if dateOnly(*doc.DueDate).Before(dateOnly(doc.IssueDate)) {
			return domain.ErrDueBeforeIssue
		}
	} else if doc.DueDate != nil {
		return domain.ErrDueDateNotAllowed
	}
	if doc.TotalAmount.Sign() <= 0 {
		return domain.ErrInvalidTotalAmount
	}
	if !domain.FitsScale(doc.TotalAmount) {
		return domain.ErrAmountScale
	}
	if doc.Channel != channel.Internal && (doc.ImpactsStock || doc.ImpactsCosts) {
		return domain.ErrInvalidFlags
	}
	return nil
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}

func parseSupplierID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidSupplier
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

func sameOptional(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func utcPointer(value *time.Time) *time.Time {
	if value == nil || value.IsZero() {
		return nil
	}
	utc := value.UTC()
	return &utc
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
