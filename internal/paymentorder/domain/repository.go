package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payables/internal/channel"
	"github.com/smallbiznis/payables/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListOrderFilter struct {
	SupplierID *snowflake.ID
	Status     Status
}

type Repository interface {
	// Insert writes the order together with its lines.
	Insert(ctx context.Context, db *gorm.DB, order *PaymentOrder) error
	FindByID(ctx context.Context, db *gorm.DB, ch channel.Channel, id snowflake.ID, forUpdate bool) (*PaymentOrder, error)
	LoadLines(ctx context.Context, db *gorm.DB, order *PaymentOrder) error
	List(ctx context.Context, db *gorm.DB, ch channel.Channel, filter ListOrderFilter, page pagination.Pagination) ([]*PaymentOrder, error)
	// UpdateStatus persists the status and its audit fields when the stored
	// status is still from. It returns ErrStatusChanged otherwise.
	UpdateStatus(ctx context.Context, db *gorm.DB, order *PaymentOrder, from Status) error
}
