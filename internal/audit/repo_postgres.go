package audit

import (
	"context"
	"database/sql"
)

// NOTE: assumes an audit_events table with a jsonb details column.

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, ev Event) error {
	const q = `
INSERT INTO audit_events (id, type, call_id, details, created_at)
VALUES ($1,$2,$3,$4,$5)
`
	_, err := r.db.ExecContext(ctx, q, ev.ID, ev.Type, ev.CallID, ev.Details, ev.CreatedAt)
	return err
}

func (r *PostgresRepo) ListByCall(ctx context.Context, callID string) ([]Event, error) {
	const q = `
SELECT id, type, call_id, details, created_at
FROM audit_events
WHERE call_id = $1
ORDER BY created_at
`
	rows, err := r.db.QueryContext(ctx, q, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.CallID, &ev.Details, &ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
