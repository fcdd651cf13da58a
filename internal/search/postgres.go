package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgSearch implements Searcher with ILIKE matching over plate, notes and
// pilot name. It is the fallback when Meilisearch is absent or unhealthy.
type PgSearch struct {
	db *sql.DB
}

func NewPgSearch(db *sql.DB) *PgSearch {
	return &PgSearch{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgSearch) Healthy() bool {
	return true
}

func (p *PgSearch) Search(ctx context.Context, q Query) ([]Result, int, error) {
	query, args := buildPgSearch(q)
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pg search: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0)
	total := 0
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.SheetID, &r.Plate, &r.PilotName, &r.Platform, &r.Snippet, &r.CreatedAt, &total); err != nil {
			return nil, 0, fmt.Errorf("scan pg search result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate pg search results: %w", err)
	}
	return results, total, nil
}

func buildPgSearch(q Query) (string, []any) {
	args := []any{q.CompanyID}
	where := []string{"ds.company_id = $1"}

	if text := strings.TrimSpace(q.Text); text != "" {
		args = append(args, "%"+escapeLike(text)+"%")
		n := len(args)
		where = append(where, fmt.Sprintf("(ds.plate ILIKE $%d OR ds.notes ILIKE $%d OR p.full_name ILIKE $%d)", n, n, n))
	}
	if q.Platform != "" {
		args = append(args, q.Platform)
		where = append(where, fmt.Sprintf("ds.platform = $%d", len(args)))
	}
	if q.VehicleID > 0 {
		args = append(args, q.VehicleID)
		where = append(where, fmt.Sprintf("ds.vehicle_id = $%d", len(args)))
	}

	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, normalizeLimit(q.Limit), offset)

	query := fmt.Sprintf(`
		SELECT ds.id, ds.plate, COALESCE(p.full_name, ''), ds.platform, LEFT(ds.notes, 160),
			EXTRACT(EPOCH FROM ds.created_at)::bigint, COUNT(*) OVER ()::int
		FROM departure_sheets ds
		LEFT JOIN pilots p ON p.id = ds.pilot_id
		WHERE %s
		ORDER BY ds.created_at DESC, ds.id DESC
		LIMIT $%d OFFSET $%d
	`, strings.Join(where, " AND "), len(args)-1, len(args))
	return query, args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// LoadAllRecords returns every submitted sheet for a full reindex.
func (p *PgSearch) LoadAllRecords(ctx context.Context) ([]SheetRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT ds.company_id, ds.id, ds.platform, ds.vehicle_id, ds.plate, COALESCE(p.full_name, ''),
			ds.notes, ds.odometer_reading, ds.fuel_percentage, ds.created_by, EXTRACT(EPOCH FROM ds.created_at)::bigint
		FROM departure_sheets ds
		LEFT JOIN pilots p ON p.id = ds.pilot_id
		ORDER BY ds.company_id, ds.id
	`)
	if err != nil {
		return nil, fmt.Errorf("load sheets for reindex: %w", err)
	}
	defer rows.Close()

	records := make([]SheetRecord, 0)
	for rows.Next() {
		var r SheetRecord
		if err := rows.Scan(&r.CompanyID, &r.SheetID, &r.Platform, &r.VehicleID, &r.Plate, &r.PilotName,
			&r.Notes, &r.OdometerReading, &r.FuelPercentage, &r.CreatedBy, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan sheet record: %w", err)
		}
		r.ID = RecordID(r.CompanyID, r.SheetID)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sheet records: %w", err)
	}
	return records, nil
}

// RecordID is the index primary key of a sheet. Sheet numbers are only
// unique within a company.
func RecordID(companyID, sheetID int64) string {
	return fmt.Sprintf("%d-%d", companyID, sheetID)
}
