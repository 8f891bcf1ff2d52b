package db

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the services branch on.
const (
	CodeUniqueViolation    = "23505"
	CodeExclusionViolation = "23P01"
	CodeLockNotAvailable   = "55P03"
)

func HasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func IsExclusionViolation(err error) bool { return HasCode(err, CodeExclusionViolation) }

func IsUniqueViolation(err error) bool { return HasCode(err, CodeUniqueViolation) }

func IsLockTimeout(err error) bool { return HasCode(err, CodeLockNotAvailable) }

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
