package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned by multi-step writes when the scoped row vanished or
// never belonged to the caller. Single-row getters return nil, nil instead.
var ErrNotFound = errors.New("not found")

// withTx runs fn inside a transaction, committing on success and rolling back otherwise.
func withTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds an ILIKE pattern matching q as a literal substring.
func containsPattern(q string) string {
	return "%" + likeEscaper.Replace(q) + "%"
}
