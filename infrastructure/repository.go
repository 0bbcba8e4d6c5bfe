package infrastructure

import (
	"context"
	"database/sql"
	"fmt"
)

// WithTransaction handles a database transaction and executes the given operation
func WithTransaction(db *sql.DB, ctx context.Context, operation func(*sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p) // re-throw panic after Rollback
		} else if err != nil {
			_ = tx.Rollback()
		} else if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", cerr)
		}
	}()

	err = operation(tx)
	return err
}
