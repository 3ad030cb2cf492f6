package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/smallbiznis/payables/pkg/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestIsLockContentionErr(t *testing.T) {
	assert.False(t, IsLockContentionErr(nil))
	assert.True(t, IsLockContentionErr(&pgconn.PgError{Code: "55P03"}))
	assert.True(t, IsLockContentionErr(fmt.Errorf("select: %w", &pgconn.PgError{Code: "40001"})))
	assert.True(t, IsLockContentionErr(&pgconn.PgError{Code: "40P01"}))
	assert.False(t, IsLockContentionErr(&pgconn.PgError{Code: "23505"}))
	assert.True(t, IsLockContentionErr(errors.New("ERROR: could not obtain lock on row in relation \"supplier_documents\" (SQLSTATE 55P03)")))
	assert.True(t, IsLockContentionErr(errors.New("Error 3572 (HY000): Statement aborted because lock(s) could not be acquired immediately and NOWAIT is set.")))
	assert.True(t, IsLockContentionErr(errors.New("Error 1213 (40001): Deadlock found when trying to get lock")))
	assert.False(t, IsLockContentionErr(errors.New("connection refused")))
}

func TestWrapLockContention(t *testing.T) {
	conflict := apperr.Conflict("document_version_conflict", "document changed concurrently")
	pgErr := &pgconn.PgError{Code: "55P03"}

	err := WrapLockContention(pgErr, conflict)
	assert.True(t, errors.Is(err, conflict))
	assert.True(t, apperr.IsConflict(err))
	var got *pgconn.PgError
	require.True(t, errors.As(err, &got))
	assert.Equal(t, "55P03", got.Code)

	other := errors.New("connection refused")
	assert.Same(t, other, WrapLockContention(other, conflict))
	assert.NoError(t, WrapLockContention(nil, conflict))
}

func TestRowLockClause(t *testing.T) {
	with := func(d gorm.Dialector) *gorm.DB {
		return &gorm.DB{Config: &gorm.Config{Dialector: d}}
	}
	assert.Equal(t, " FOR UPDATE NOWAIT", RowLockClause(with(postgres.New(postgres.Config{DSN: "host=localhost"}))))
	assert.Equal(t, " FOR UPDATE NOWAIT", RowLockClause(with(mysql.Open("root@tcp(localhost:3306)/payables"))))
	assert.Equal(t, "", RowLockClause(with(sqlite.Open("file::memory:"))))
	assert.Equal(t, "", RowLockClause(nil))
}
