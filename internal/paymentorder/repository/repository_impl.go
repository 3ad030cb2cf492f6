package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payables/internal/channel"
	"github.com/smallbiznis/payables/internal/paymentorder/domain"
	pkgdb "github.com/smallbiznis/payables/pkg/db"
	"github.com/smallbiznis/payables/pkg/db/option"
	"github.com/smallbiznis/payables/pkg/db/pagination"
	"gorm.io/gorm"
)

const orderColumns = `id, order_number, sequence, supplier_id, channel, date, status,
	documents_total, credit_notes_total, payments_total, net_payable, notes,
	created_by, approved_by, confirmed_at, cancelled_by, cancelled_at, cancel_reason,
	created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, order *domain.PaymentOrder) error {
	if err := db.WithContext(ctx).Exec(
		`INSERT INTO payment_orders (`+orderColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID,
		order.OrderNumber,
		order.Sequence,
		order.SupplierID,
		order.Channel,
		order.Date,
		order.Status,
		order.DocumentsTotal,
		order.CreditNotesTotal,
		order.PaymentsTotal,
		order.NetPayable,
		order.Notes,
		order.CreatedBy,
		order.ApprovedBy,
		order.ConfirmedAt,
		order.CancelledBy,
		order.CancelledAt,
		order.CancelReason,
		order.CreatedAt,
		order.UpdatedAt,
	).Error; err != nil {
		return err
	}

	for _, line := range order.Documents {
		if err := db.WithContext(ctx).Exec(
			`INSERT INTO payment_order_documents (
				id, payment_order_id, document_id, applied_amount, credited_amount, paid_amount
			) VALUES (?, ?, ?, ?, ?, ?)`,
			line.ID,
			order.ID,
			line.DocumentID,
			line.AppliedAmount,
			line.CreditedAmount,
			line.PaidAmount,
		).Error; err != nil {
			return err
		}
	}

	for _, line := range order.CreditNotes {
		if err := db.WithContext(ctx).Exec(
			`INSERT INTO payment_order_credit_notes (
				id, payment_order_id, credit_note_id, applied_amount
			) VALUES (?, ?, ?, ?)`,
			line.ID,
			order.ID,
			line.CreditNoteID,
			line.AppliedAmount,
		).Error; err != nil {
			return err
		}
	}

	for _, payment := range order.Payments {
		if err := db.WithContext(ctx).Exec(
			`INSERT INTO payment_order_payments (
				id, payment_order_id, method, reference, amount
			) VALUES (?, ?, ?, ?, ?)`,
			payment.ID,
			order.ID,
			payment.Method,
			payment.Reference,
			payment.Amount,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, ch channel.Channel, id snowflake.ID, forUpdate bool) (*domain.PaymentOrder, error) {
	var order domain.PaymentOrder
	query := `SELECT ` + orderColumns + `
	 FROM payment_orders
	 WHERE channel = ? AND id = ?`
	if forUpdate {
		query += pkgdb.RowLockClause(db)
	}
	err := db.WithContext(ctx).Raw(query, ch, id).Scan(&order).Error
	if err != nil {
		return nil, pkgdb.WrapLockContention(err, domain.ErrStatusChanged)
	}
	if order.ID == 0 {
		return nil, nil
	}
	return &order, nil
}

func (r *repo) LoadLines(ctx context.Context, db *gorm.DB, order *domain.PaymentOrder) error {
	var documents []domain.PaymentOrderDocument
	if err := db.WithContext(ctx).Raw(
		`SELECT id, payment_order_id, document_id, applied_amount, credited_amount, paid_amount
		 FROM payment_order_documents
		 WHERE payment_order_id = ?
		 ORDER BY id ASC`,
		order.ID,
	).Scan(&documents).Error; err != nil {
		return err
	}

	var credits []domain.PaymentOrderCreditNote
	if err := db.WithContext(ctx).Raw(
		`SELECT id, payment_order_id, credit_note_id, applied_amount
		 FROM payment_order_credit_notes
		 WHERE payment_order_id = ?
		 ORDER BY id ASC`,
		order.ID,
	).Scan(&credits).Error; err != nil {
		return err
	}

	var payments []domain.PaymentOrderPayment
	if err := db.WithContext(ctx).Raw(
		`SELECT id, payment_order_id, method, reference, amount
		 FROM payment_order_payments
		 WHERE payment_order_id = ?
		 ORDER BY id ASC`,
		order.ID,
	).Scan(&payments).Error; err != nil {
		return err
	}

	order.Documents = documents
	order.CreditNotes = credits
	order.Payments = payments
	return nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, ch channel.Channel, filter domain.ListOrderFilter, page pagination.Pagination) ([]*domain.PaymentOrder, error) {
	var orders []*domain.PaymentOrder
	stmt := db.WithContext(ctx).
		Model(&domain.PaymentOrder{}).
		Where("channel = ?", ch)
	if filter.SupplierID != nil {
		stmt = stmt.Where("supplier_id = ?", *filter.SupplierID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, order *domain.PaymentOrder, from domain.Status) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_orders
		 SET status = ?, approved_by = ?, confirmed_at = ?, cancelled_by = ?, cancelled_at = ?,
		     cancel_reason = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		order.Status,
		order.ApprovedBy,
		order.ConfirmedAt,
		order.CancelledBy,
		order.CancelledAt,
		order.CancelReason,
		order.UpdatedAt,
		order.ID,
		from,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrStatusChanged
	}
	return nil
}
