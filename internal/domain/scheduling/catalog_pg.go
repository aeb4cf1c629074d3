package scheduling

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

const procedureTableDDL = `CREATE TABLE IF NOT EXISTS procedures (
    id               TEXT PRIMARY KEY,
    name             TEXT NOT NULL,
    duration_minutes INTEGER NOT NULL CHECK (duration_minutes > 0)
)`

// LoadCatalogPG reads the procedures table into a StaticCatalog. Rows are
// ordered by id so the listing is stable across restarts.
func LoadCatalogPG(ctx context.Context, q queryable) (*StaticCatalog, error) {
	rows, err := q.Query(ctx, `SELECT id, name, duration_minutes FROM procedures ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query procedures: %w", err)
	}
	defer rows.Close()

	var procs []Procedure
	for rows.Next() {
		var p Procedure
		if err := rows.Scan(&p.ID, &p.Name, &p.DurationMinutes); err != nil {
			return nil, fmt.Errorf("scan procedure: %w", err)
		}
		procs = append(procs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate procedures: %w", err)
	}
	if len(procs) == 0 {
		return nil, fmt.Errorf("procedures table is empty")
	}
	return NewStaticCatalog(procs)
}

// InitCatalogPG creates the procedures table when missing and inserts procs,
// leaving rows that already exist untouched. It returns the number of rows
// inserted.
func InitCatalogPG(ctx context.Context, q queryable, procs []Procedure) (int, error) {
	if _, err := q.Exec(ctx, procedureTableDDL); err != nil {
		return 0, fmt.Errorf("create procedures table: %w", err)
	}

	inserted := 0
	for _, p := range procs {
		tag, err := q.Exec(ctx,
			`INSERT INTO procedures (id, name, duration_minutes) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`,
			p.ID, p.Name, p.DurationMinutes)
		if err != nil {
			return inserted, fmt.Errorf("seed procedure %s: %w", p.ID, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}
