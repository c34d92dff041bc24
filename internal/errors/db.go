package errors

import (
	"context"
	"errors"
	"regexp"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// reKeyField extracts the field name from a unique violation detail:
// "Key (field)=(value) already exists.".
var reKeyField = regexp.MustCompile(`Key \(([^)]+)\)=`)

// MapDBError maps database errors to AppError instances:
// - pgx.ErrNoRows → NotFound
// - unique constraint violations → Conflict (callers that know the natural key
//   translate this further into Duplicate)
// - check / NOT NULL violations → Validation
// - context timeouts and cancellations → Timeout / Canceled
//
// Unrecognized errors are returned unchanged.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &AppError{Code: ErrCodeTimeout, Message: "database operation timed out", Cause: err}
	}
	if errors.Is(err, context.Canceled) {
		return &AppError{Code: ErrCodeCanceled, Message: "database operation was canceled", Cause: err}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &AppError{Code: ErrCodeNotFound, Message: "resource not found", Cause: err}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return mapPgError(pgErr)
	}

	return err
}

// IsUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation, before any mapping.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

func mapPgError(pgErr *pgconn.PgError) error {
	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return mapUniqueViolation(pgErr)
	case pgerrcode.CheckViolation, pgerrcode.NotNullViolation:
		return &AppError{
			Code:    ErrCodeValidation,
			Message: "a value failed a database constraint",
			Field:   pgErr.ColumnName,
			Cause:   pgErr,
		}
	case pgerrcode.ForeignKeyViolation:
		return &AppError{
			Code:    ErrCodeValidation,
			Message: "a referenced record does not exist",
			Cause:   pgErr,
		}
	default:
		return &AppError{Code: ErrCodeInternal, Message: "a database error occurred", Cause: pgErr}
	}
}

func mapUniqueViolation(pgErr *pgconn.PgError) error {
	field := pgErr.ColumnName
	if field == "" && pgErr.Detail != "" {
		if m := reKeyField.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
			field = m[1]
		}
	}
	return &AppError{
		Code:    ErrCodeConflict,
		Message: "this value already exists",
		Field:   field,
		Cause:   pgErr,
	}
}
