package db

import (
	"errors"

	"github.com/lib/pq"
)

// PostgreSQL error codes the repositories react to.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeInvalidText         = "22P02"
)

// IsUniqueViolation reports whether err is a unique constraint violation.
// When constraint is non-empty, the violated constraint name must match too.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || string(pqErr.Code) != codeUniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// IsForeignKeyViolation reports whether err is a foreign key violation, which
// happens when a parent row disappeared between the ownership check and the write.
func IsForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == codeForeignKeyViolation
}

// IsInvalidText reports whether Postgres rejected a parameter it could not parse, such
// as a malformed UUID in a path or form field. No row can match such a value.
func IsInvalidText(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == codeInvalidText
}
