package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payables/internal/channel"
	"github.com/smallbiznis/payables/internal/supplierdocument/domain"
	pkgdb "github.com/smallbiznis/payables/pkg/db"
	"github.com/smallbiznis/payables/pkg/db/option"
	"github.com/smallbiznis/payables/pkg/db/pagination"
	"gorm.io/gorm"
)

const documentColumns = `id, supplier_id, channel, type, point_of_sale, document_number, issue_date, due_date,
	total_amount, applied_payments_total, applied_credits_total, applied_amount, balance, status,
	impacts_stock, impacts_costs, notes, version, cancelled_at, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, doc *domain.SupplierDocument) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO supplier_documents (`+documentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID,
		doc.SupplierID,
		doc.Channel,
		doc.Type,
		doc.PointOfSale,
		doc.DocumentNumber,
		doc.IssueDate,
		doc.DueDate,
		doc.TotalAmount,
		doc.AppliedPaymentsTotal,
		doc.AppliedCreditsTotal,
		doc.AppliedAmount,
		doc.Balance,
		doc.Status,
		doc.ImpactsStock,
		doc.ImpactsCosts,
		doc.Notes,
		doc.Version,
		doc.CancelledAt,
		doc.CreatedAt,
		doc.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, ch channel.Channel, id snowflake.ID, forUpdate bool) (*domain.SupplierDocument, error) {
	var doc domain.SupplierDocument
	query := `SELECT ` + documentColumns + `
	 FROM supplier_documents
	 WHERE channel = ? AND id = ?`
	if forUpdate {
		query += pkgdb.RowLockClause(db)
	}
	err := db.WithContext(ctx).Raw(query, ch, id).Scan(&doc).Error
	if err != nil {
		return nil, pkgdb.WrapLockContention(err, domain.ErrStaleVersion)
	}
	if doc.ID == 0 {
		return nil, nil
	}
	return &doc, nil
}

// FindByIDs returns the documents ordered by id so that concurrent lockers
// always acquire rows in the same order.
func (r *repo) FindByIDs(ctx context.Context, db *gorm.DB, ch channel.Channel, ids []snowflake.ID, forUpdate bool) ([]*domain.SupplierDocument, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var docs []*domain.SupplierDocument
	query := `SELECT ` + documentColumns + `
	 FROM supplier_documents
	 WHERE channel = ? AND id IN ?
	 ORDER BY id ASC`
	if forUpdate {
		query += pkgdb.RowLockClause(db)
	}
	err := db.WithContext(ctx).Raw(query, ch, ids).Scan(&docs).Error
	if err != nil {
		return nil, pkgdb.WrapLockContention(err, domain.ErrStaleVersion)
	}
	return docs, nil
}

func (r *repo) FindActiveByNumber(ctx context.Context, db *gorm.DB, supplierID snowflake.ID, ch channel.Channel, pointOfSale *string, number string) (*domain.SupplierDocument, error) {
	pos := ""
	if pointOfSale != nil {
		pos = *pointOfSale
	}
	var doc domain.SupplierDocument
	err := db.WithContext(ctx).Raw(
		`SELECT `+documentColumns+`
		 FROM supplier_documents
		 WHERE supplier_id = ? AND channel = ? AND COALESCE(point_of_sale, '') = ? AND document_number = ?
		   AND cancelled_at IS NULL
		 LIMIT 1`,
		supplierID,
		ch,
		pos,
		number,
	).Scan(&doc).Error
	if err != nil {
		return nil, err
	}
	if doc.ID == 0 {
		return nil, nil
	}
	return &doc, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, ch channel.Channel, filter domain.ListDocumentFilter, page pagination.Pagination) ([]*domain.SupplierDocument, error) {
	var docs []*domain.SupplierDocument
	stmt := db.WithContext(ctx).
		Model(&domain.SupplierDocument{}).
		Where("channel = ?", ch)
	if filter.SupplierID != nil {
		stmt = stmt.Where("supplier_id = ?", *filter.SupplierID)
	}
	if filter.Type != "" {
		stmt = stmt.Where("type = ?", filter.Type)
	}
	stmt = applyStatusFilter(stmt, filter)
	if filter.IssuedFrom != nil {
		stmt = stmt.Where("issue_date >= ?", *filter.IssuedFrom)
	}
	if filter.IssuedTo != nil {
		stmt = stmt.Where("issue_date <= ?", *filter.IssuedTo)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&docs).Error
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// applyStatusFilter matches the derived status. Time-driven statuses are only
// ever stored as PENDING, so they become due date ranges around filter.Now.
func applyStatusFilter(stmt *gorm.DB, filter domain.ListDocumentFilter) *gorm.DB {
	horizon := filter.Now.Add(filter.AlertWindow)
	switch filter.Status {
	case "":
		return stmt
	case domain.StatusOverdue:
		return stmt.Where("status = ? AND due_date IS NOT NULL AND due_date < ?", domain.StatusPending, filter.Now)
	case domain.StatusDueSoon:
		return stmt.Where("status = ? AND due_date IS NOT NULL AND due_date >= ? AND due_date <= ?", domain.StatusPending, filter.Now, horizon)
	case domain.StatusPending:
		return stmt.Where("status = ? AND (due_date IS NULL OR due_date > ?)", domain.StatusPending, horizon)
	default:
		return stmt.Where("status = ?", filter.Status)
	}
}

func (r *repo) ListOpen(ctx context.Context, db *gorm.DB, scope domain.Scope, creditNotesOnly bool) ([]*domain.SupplierDocument, error) {
	var docs []*domain.SupplierDocument
	query := `SELECT ` + documentColumns + `
	 FROM supplier_documents
	 WHERE supplier_id = ? AND channel = ? AND cancelled_at IS NULL AND balance > 0`
	args := []any{scope.SupplierID, scope.Channel}
	if creditNotesOnly {
		query += " AND type = ?"
		args = append(args, domain.DocumentTypeCreditNote)
	}
	query += " ORDER BY issue_date ASC, id ASC"
	err := db.WithContext(ctx).Raw(query, args...).Scan(&docs).Error
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *repo) ListOpenWithDueDate(ctx context.Context, db *gorm.DB, ch channel.Channel, supplierID *snowflake.ID) ([]*domain.SupplierDocument, error) {
	var docs []*domain.SupplierDocument
	stmt := db.WithContext(ctx).
		Model(&domain.SupplierDocument{}).
		Where("channel = ?", ch).
		Where("cancelled_at IS NULL").
		Where("due_date IS NOT NULL").
		Where("balance > 0")
	if supplierID != nil {
		stmt = stmt.Where("supplier_id = ?", *supplierID)
	}
	if err := stmt.Order("due_date asc, id asc").Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *repo) UpdateBalances(ctx context.Context, db *gorm.DB, doc *domain.SupplierDocument, expectedVersion int64) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE supplier_documents
		 SET applied_payments_total = ?, applied_credits_total = ?, applied_amount = ?, balance = ?,
		     status = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		doc.AppliedPaymentsTotal,
		doc.AppliedCreditsTotal,
		doc.AppliedAmount,
		doc.Balance,
		doc.Status,
		doc.UpdatedAt,
		doc.ID,
		expectedVersion,
	)
	return checkVersioned(res, doc, expectedVersion)
}

func (r *repo) UpdateDetails(ctx context.Context, db *gorm.DB, doc *domain.SupplierDocument, expectedVersion int64) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE supplier_documents
		 SET point_of_sale = ?, document_number = ?, issue_date = ?, due_date = ?,
		     status = ?, impacts_stock = ?, impacts_costs = ?, notes = ?,
		     version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		doc.PointOfSale,
		doc.DocumentNumber,
		doc.IssueDate,
		doc.DueDate,
		doc.Status,
		doc.ImpactsStock,
		doc.ImpactsCosts,
		doc.Notes,
		doc.UpdatedAt,
		doc.ID,
		expectedVersion,
	)
	return checkVersioned(res, doc, expectedVersion)
}

func (r *repo) MarkCancelled(ctx context.Context, db *gorm.DB, doc *domain.SupplierDocument, expectedVersion int64) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE supplier_documents
		 SET status = ?, cancelled_at = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		domain.StatusCancelled,
		doc.CancelledAt,
		doc.UpdatedAt,
		doc.ID,
		expectedVersion,
	)
	return checkVersioned(res, doc, expectedVersion)
}

func checkVersioned(res *gorm.DB, doc *domain.SupplierDocument, expectedVersion int64) error {
	if res.Error != nil {
		return pkgdb.WrapLockContention(res.Error, domain.ErrStaleVersion)
	}
	if res.RowsAffected == 0 {
		return domain.ErrStaleVersion
	}
	doc.Version = expectedVersion + 1
	return nil
}
