package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payables/internal/channel"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, app *CreditApplication) error
	// ListByDocument returns applications where the document is either the
	// credit note or the target.
	ListByDocument(ctx context.Context, db *gorm.DB, ch channel.Channel, documentID snowflake.ID) ([]*CreditApplication, error)
	ListActiveByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]*CreditApplication, error)
	MarkReversed(ctx context.Context, db *gorm.DB, ids []snowflake.ID, reversedAt time.Time, reversedBy string) error
}
