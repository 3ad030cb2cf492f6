package option

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payables/pkg/db/pagination"
	"gorm.io/gorm"
)

// QueryOption decorates a gorm statement.
type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

type paginationOption struct {
	page pagination.Pagination
}

// ApplyPagination limits the statement to one page, fetching one extra row so
// callers can tell whether more pages exist. Rows must be ordered by
// created_at desc, id desc.
func ApplyPagination(page pagination.Pagination) QueryOption {
	return paginationOption{page: page}
}

func (o paginationOption) Apply(db *gorm.DB) *gorm.DB {
	size := o.page.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}
	if size > pagination.MaxPageSize {
		size = pagination.MaxPageSize
	}

	if o.page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(o.page.PageToken)
		if err == nil && cursor != nil {
			createdAt, terr := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
			id, ierr := snowflake.ParseString(cursor.ID)
			if terr == nil && ierr == nil {
				db = db.Where("(created_at < ? OR (created_at = ? AND id < ?))", createdAt, createdAt, id)
			}
		}
	}

	return db.Limit(size + 1)
}
