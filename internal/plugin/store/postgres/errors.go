package postgres

import (
	"errors"

	registrystore "github.com/chirino/swarm-sync/internal/registry/store"
	"github.com/jackc/pgx/v5/pgconn"
)

// mapError turns constraint violations on the interactions table into
// registry errors; anything else passes through.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		return &registrystore.ConflictError{Message: pgErr.Message, Code: pgErr.ConstraintName}
	case "23502", "23514", "22P02":
		return &registrystore.ValidationError{Field: pgErr.ColumnName, Message: pgErr.Message}
	}
	return err
}
