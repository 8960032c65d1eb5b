package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"dexscope/internal/storage"
)

const (
	codeUniqueViolation = "23505"
	codeUndefinedTable  = "42P01"
)

// IsDuplicateKey reports whether err is a unique-constraint violation.
// Callers resolve these by retrying row by row and merging into the
// existing row.
func IsDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == codeUniqueViolation
	}
	return false
}

// IsMissingSchema reports whether err means a table has not been
// migrated yet. The harvester treats this as "feature disabled for this
// deployment" and skips the stream instead of failing the cycle.
func IsMissingSchema(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == codeUndefinedTable
	}
	if err != nil && strings.Contains(err.Error(), "does not exist") {
		return true
	}
	return false
}

// classify maps driver errors onto the storage-level taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if IsMissingSchema(err) {
		return fmt.Errorf("%w: %v", storage.ErrMissingSchema, err)
	}
	return err
}
