package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payables/internal/channel"
	"github.com/smallbiznis/payables/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListDocumentFilter struct {
	SupplierID *snowflake.ID
	Type       DocumentType
	Status     Status
	IssuedFrom *time.Time
	IssuedTo   *time.Time
	// Now and AlertWindow resolve time-derived statuses into due date ranges.
	Now         time.Time
	AlertWindow time.Duration
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, doc *SupplierDocument) error
	FindByID(ctx context.Context, db *gorm.DB, ch channel.Channel, id snowflake.ID, forUpdate bool) (*SupplierDocument, error)
	FindByIDs(ctx context.Context, db *gorm.DB, ch channel.Channel, ids []snowflake.ID, forUpdate bool) ([]*SupplierDocument, error)
	FindActiveByNumber(ctx context.Context, db *gorm.DB, supplierID snowflake.ID, ch channel.Channel, pointOfSale *string, number string) (*SupplierDocument, error)
	List(ctx context.Context, db *gorm.DB, ch channel.Channel, filter ListDocumentFilter, page pagination.Pagination) ([]*SupplierDocument, error)
	ListOpen(ctx context.Context, db *gorm.DB, scope Scope, creditNotesOnly bool) ([]*SupplierDocument, error)
	ListOpenWithDueDate(ctx context.Context, db *gorm.DB, ch channel.Channel, supplierID *snowflake.ID) ([]*SupplierDocument, error)

	// UpdateBalances writes applied totals, balance and status when the row is
	// still at expectedVersion, and bumps the version.
	UpdateBalances(ctx context.Context, db *gorm.DB, doc *SupplierDocument, expectedVersion int64) error
	UpdateDetails(ctx context.Context, db *gorm.DB, doc *SupplierDocument, expectedVersion int64) error
	MarkCancelled(ctx context.Context, db *gorm.DB, doc *SupplierDocument, expectedVersion int64) error
}

// Ledger is the only path through which document balances change.
// Both credit applications and payment orders go through it inside their own
// transaction.
type Ledger interface {
	// Lock loads documents of scope for mutation. Ids that do not exist, or
	// exist under another supplier or channel, resolve to ErrNotFound.
	Lock(ctx context.Context, tx *gorm.DB, scope Scope, ids ...snowflake.ID) (map[snowflake.ID]*SupplierDocument, error)
	// Apply performs every movement and persists each touched document once.
	// Either all movements land or none do.
	Apply(ctx context.Context, tx *gorm.DB, docs map[snowflake.ID]*SupplierDocument, movements []Movement) error
}
