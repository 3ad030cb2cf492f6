package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/payables/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Insert appends entry through db, which is usually the transaction of the
// audited ledger change.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	if entry == nil {
		return errors.New("audit entry is nil")
	}
	return db.WithContext(ctx).Create(entry).Error
}

// List returns entries newest first. It reads one row past Limit so the
// caller can tell whether another page exists.
func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.AuditLog, error) {
	where, args := listConditions(filter)

	stmt := db.WithContext(ctx).
		Model(&domain.AuditLog{}).
		Where(strings.Join(where, " AND "), args...).
		Order("created_at DESC").
		Order("id DESC")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	var logs []*domain.AuditLog
	if err := stmt.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

func listConditions(filter domain.ListFilter) ([]string, []any) {
	where := []string{"channel = ?"}
	args := []any{filter.Channel}

	equal := func(column, value string) {
		if value = strings.TrimSpace(value); value != "" {
			where = append(where, column+" = ?")
			args = append(args, value)
		}
	}
	equal("action", filter.Action)
	equal("target_type", filter.TargetType)
	equal("target_id", filter.TargetID)
	equal("actor_id", filter.ActorID)

	if filter.StartAt != nil {
		where = append(where, "created_at >= ?")
		args = append(args, filter.StartAt.UTC())
	}
	if filter.EndAt != nil {
		where = append(where, "created_at <= ?")
		args = append(args, filter.EndAt.UTC())
	}
	if c := filter.Cursor; c != nil {
		where = append(where, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, c.CreatedAt, c.CreatedAt, c.ID)
	}
	return where, args
}
