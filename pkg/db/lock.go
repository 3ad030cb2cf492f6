package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	pgLockNotAvailable     = "55P03"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// RowLockClause returns the suffix that locks selected rows without queueing
// behind another session. SQLite serializes writers itself and has no row locks.
func RowLockClause(db *gorm.DB) string {
	if db == nil || db.Dialector == nil {
		return ""
	}
	switch db.Dialector.Name() {
	case "postgres", "mysql":
		return " FOR UPDATE NOWAIT"
	}
	return ""
}

// IsLockContentionErr reports whether err means another session holds the
// rows or the transaction lost a serialization race.
func IsLockContentionErr(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable, pgSerializationFailure, pgDeadlockDetected:
			return true
		}
		return false
	}

	msg := err.Error()
	for _, marker := range []string{
		"SQLSTATE " + pgLockNotAvailable,
		"SQLSTATE " + pgSerializationFailure,
		"SQLSTATE " + pgDeadlockDetected,
		"Error 3572", // NOWAIT
		"Error 1205",
		"Error 1213",
		"database is locked",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// WrapLockContention returns err wrapped under conflict when it is lock
// contention, so callers see a retryable conflict and metrics still see the
// driver error. Other errors pass through.
func WrapLockContention(err, conflict error) error {
	if !IsLockContentionErr(err) {
		return err
	}
	return fmt.Errorf("%w: %w", conflict, err)
}
