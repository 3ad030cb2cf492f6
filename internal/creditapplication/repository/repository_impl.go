package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payables/internal/channel"
	"github.com/smallbiznis/payables/internal/creditapplication/domain"
	"gorm.io/gorm"
)

const applicationColumns = `id, supplier_id, channel, credit_note_id, target_document_id, amount,
	payment_order_id, applied_by, reversed_at, reversed_by, created_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, app *domain.CreditApplication) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO credit_applications (`+applicationColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		app.ID,
		app.SupplierID,
		app.Channel,
		app.CreditNoteID,
		app.TargetDocumentID,
		app.Amount,
		app.PaymentOrderID,
		app.AppliedBy,
		app.ReversedAt,
		app.ReversedBy,
		app.CreatedAt,
	).Error
}

func (r *repo) ListByDocument(ctx context.Context, db *gorm.DB, ch channel.Channel, documentID snowflake.ID) ([]*domain.CreditApplication, error) {
	var apps []*domain.CreditApplication
	err := db.WithContext(ctx).Raw(
		`SELECT `+applicationColumns+`
		 FROM credit_applications
		 WHERE channel = ? AND (credit_note_id = ? OR target_document_id = ?)
		 ORDER BY created_at ASC, id ASC`,
		ch, documentID, documentID,
	).Scan(&apps).Error
	if err != nil {
		return nil, err
	}
	return apps, nil
}

func (r *repo) ListActiveByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]*domain.CreditApplication, error) {
	var apps []*domain.CreditApplication
	err := db.WithContext(ctx).Raw(
		`SELECT `+applicationColumns+`
		 FROM credit_applications
		 WHERE payment_order_id = ? AND reversed_at IS NULL
		 ORDER BY id ASC`,
		orderID,
	).Scan(&apps).Error
	if err != nil {
		return nil, err
	}
	return apps, nil
}

func (r *repo) MarkReversed(ctx context.Context, db *gorm.DB, ids []snowflake.ID, reversedAt time.Time, reversedBy string) error {
	if len(ids) == 0 {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`UPDATE credit_applications
		 SET reversed_at = ?, reversed_by = ?
		 WHERE id IN ? AND reversed_at IS NULL`,
		reversedAt, reversedBy, ids,
	).Error
}
