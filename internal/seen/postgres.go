package seen

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresBackend stores the id set in a single table. The set is
// append-only, so a plain primary-key table with ON CONFLICT DO NOTHING
// gives the idempotent append for free.
type PostgresBackend struct {
	db *sql.DB
}

// NewPostgresBackend creates a backend over an existing connection pool.
func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

func (b *PostgresBackend) Name() string { return "postgres" }

// EnsureSchema creates the seen_events table if it does not exist.
func (b *PostgresBackend) EnsureSchema(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, queryEnsureSchema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Load(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, queryLoadSeen)
	if err != nil {
		return nil, fmt.Errorf("load seen ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan seen id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate seen ids: %w", err)
	}
	return ids, nil
}

func (b *PostgresBackend) Append(ctx context.Context, id string, snapshot []string) error {
	if _, err := b.db.ExecContext(ctx, queryInsertSeen, id); err != nil {
		return fmt.Errorf("insert seen id: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Save(ctx context.Context, snapshot []string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, id := range snapshot {
		if _, err := tx.ExecContext(ctx, queryInsertSeen, id); err != nil {
			return fmt.Errorf("insert seen id %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
