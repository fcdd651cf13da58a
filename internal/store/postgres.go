package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const defaultSequenceLockTimeout = 3 * time.Second

type PostgresStore struct {
	db                  *sql.DB
	sequenceLockTimeout time.Duration
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, sequenceLockTimeout: defaultSequenceLockTimeout}
}

// WithSequenceLockTimeout bounds how long AllocateSequence waits on a
// contended counter row before failing with ErrUnavailable.
func (s *PostgresStore) WithSequenceLockTimeout(d time.Duration) *PostgresStore {
	if d > 0 {
		s.sequenceLockTimeout = d
	}
	return s
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return classify(s.db.PingContext(ctx), nil)
}

// AllocateSequence hands out the next document number for a company and
// document type. The increment is a single upsert so concurrent callers
// always receive distinct values. It commits on its own: a later failure of
// the document write leaves a gap, never a duplicate.
func (s *PostgresStore) AllocateSequence(ctx context.Context, companyID int64, documentType string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin sequence tx: %w", classify(err, nil))
	}
	defer func() { _ = tx.Rollback() }()

	if ms := s.sequenceLockTimeout.Milliseconds(); ms > 0 {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", ms)); err != nil {
			return 0, fmt.Errorf("set lock timeout: %w", classify(err, nil))
		}
	}

	var value int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO document_sequences (company_id, document_type, last_value)
		VALUES ($1, $2, 1)
		ON CONFLICT (company_id, document_type)
		DO UPDATE SET last_value = document_sequences.last_value + 1, updated_at = NOW()
		RETURNING last_value
	`, companyID, documentType).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("allocate %s sequence: %w", documentType, classify(err, nil))
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit sequence: %w", classify(err, nil))
	}
	return value, nil
}

// PeekNextSequence previews the number the next allocation would return.
// The value is not reserved.
func (s *PostgresStore) PeekNextSequence(ctx context.Context, companyID int64, documentType string) (int64, error) {
	var last int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(last_value), 0)
		FROM document_sequences
		WHERE company_id = $1 AND document_type = $2
	`, companyID, documentType).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("peek %s sequence: %w", documentType, classify(err, nil))
	}
	return last + 1, nil
}

// CreateDepartureSheet writes the master row and every review row in one
// transaction. Either all rows are stored or none are.
func (s *PostgresStore) CreateDepartureSheet(ctx context.Context, sheet DepartureSheet, reviews []ChecklistItemReview) (DepartureSheet, []ChecklistItemReview, error) {
	if sheet.Status == "" {
		sheet.Status = StatusSubmitted
	}
	photoRefs := sheet.PhotoRefs
	if photoRefs == nil {
		photoRefs = []string{}
	}
	photoJSON, err := json.Marshal(photoRefs)
	if err != nil {
		return DepartureSheet{}, nil, fmt.Errorf("encode photo refs: %w", err)
	}

	ids := refs{EntityPilot: sheet.PilotID, EntityVehicle: sheet.VehicleID}
	if sheet.FuelVoucherID != nil {
		ids[EntityFuelVoucher] = *sheet.FuelVoucherID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return DepartureSheet{}, nil, fmt.Errorf("begin sheet tx: %w", classify(err, nil))
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO departure_sheets (
			company_id, id, platform, pilot_id, vehicle_id, plate, odometer_reading,
			odometer_photo_ref, fuel_percentage, fuel_voucher_id, notes, photo_refs, status, created_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::jsonb, $13, $14)
		RETURNING created_at, updated_at
	`,
		sheet.CompanyID, sheet.ID, sheet.Platform, sheet.PilotID, sheet.VehicleID, sheet.Plate, sheet.OdometerReading,
		sheet.OdometerPhotoRef, sheet.FuelPercentage, sheet.FuelVoucherID, sheet.Notes, string(photoJSON), sheet.Status, sheet.CreatedBy,
	).Scan(&sheet.CreatedAt, &sheet.UpdatedAt)
	if err != nil {
		return DepartureSheet{}, nil, fmt.Errorf("insert departure sheet %d: %w", sheet.ID, classify(err, ids))
	}

	stored := make([]ChecklistItemReview, 0, len(reviews))
	for _, review := range reviews {
		review.CompanyID = sheet.CompanyID
		review.SheetID = sheet.ID
		if review.CreatedBy == "" {
			review.CreatedBy = sheet.CreatedBy
		}
		if err := insertReview(ctx, tx, &review); err != nil {
			return DepartureSheet{}, nil, err
		}
		stored = append(stored, review)
	}

	if err := tx.Commit(); err != nil {
		return DepartureSheet{}, nil, fmt.Errorf("commit departure sheet %d: %w", sheet.ID, classify(err, nil))
	}
	return sheet, stored, nil
}

// AddChecklistReview stores a single detail row against an existing sheet.
func (s *PostgresStore) AddChecklistReview(ctx context.Context, review ChecklistItemReview) (ChecklistItemReview, error) {
	if err := insertReview(ctx, s.db, &review); err != nil {
		return ChecklistItemReview{}, err
	}
	return review, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertReview(ctx context.Context, q queryRower, review *ChecklistItemReview) error {
	err := q.QueryRowContext(ctx, `
		INSERT INTO checklist_item_reviews (company_id, sheet_id, item_id, annotation, has_photo, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`, review.CompanyID, review.SheetID, review.ItemID, review.Annotation, review.HasPhoto, review.CreatedBy,
	).Scan(&review.ID, &review.CreatedAt, &review.UpdatedAt)
	if err != nil {
		ids := refs{EntityChecklistItem: review.ItemID, EntityDepartureSheet: review.SheetID}
		return fmt.Errorf("insert review of item %d on sheet %d: %w", review.ItemID, review.SheetID, classify(err, ids))
	}
	return nil
}

// UpdateDepartureSheet applies a post-submit amendment. Applying the same
// amendment twice yields the same row; updated_at only moves when a value
// actually changes.
func (s *PostgresStore) UpdateDepartureSheet(ctx context.Context, companyID, sheetID int64, amendment SheetAmendment) (DepartureSheet, error) {
	ids := refs{}
	if amendment.FuelVoucherID != nil {
		ids[EntityFuelVoucher] = *amendment.FuelVoucherID
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE departure_sheets SET
			odometer_photo_ref = COALESCE($3, odometer_photo_ref),
			fuel_voucher_id = COALESCE($4, fuel_voucher_id),
			fuel_percentage = COALESCE($5, fuel_percentage),
			updated_at = CASE
				WHEN (odometer_photo_ref, fuel_voucher_id, fuel_percentage)
					IS DISTINCT FROM (COALESCE($3, odometer_photo_ref), COALESCE($4, fuel_voucher_id), COALESCE($5, fuel_percentage))
				THEN NOW()
				ELSE updated_at
			END
		WHERE company_id = $1 AND id = $2
		RETURNING id
	`, companyID, sheetID, amendment.OdometerPhotoRef, amendment.FuelVoucherID, amendment.FuelPercentage).Scan(&id)
	if err != nil {
		return DepartureSheet{}, fmt.Errorf("update departure sheet %d: %w", sheetID, classify(err, ids))
	}
	return s.GetDepartureSheet(ctx, companyID, sheetID)
}

const sheetColumns = `
	ds.company_id, ds.id, ds.platform, ds.pilot_id, COALESCE(p.full_name, ''), ds.vehicle_id, ds.plate,
	ds.odometer_reading, ds.odometer_photo_ref, ds.fuel_percentage, ds.fuel_voucher_id, ds.notes,
	ds.photo_refs, ds.status, ds.created_by, ds.created_at, ds.updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSheet(row rowScanner) (DepartureSheet, error) {
	var (
		item      DepartureSheet
		photoRef  sql.NullString
		voucherID sql.NullInt64
		photoJSON []byte
	)
	err := row.Scan(
		&item.CompanyID, &item.ID, &item.Platform, &item.PilotID, &item.PilotName, &item.VehicleID, &item.Plate,
		&item.OdometerReading, &photoRef, &item.FuelPercentage, &voucherID, &item.Notes,
		&photoJSON, &item.Status, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return DepartureSheet{}, err
	}
	if photoRef.Valid {
		item.OdometerPhotoRef = &photoRef.String
	}
	if voucherID.Valid {
		item.FuelVoucherID = &voucherID.Int64
	}
	item.PhotoRefs = []string{}
	if len(photoJSON) > 0 {
		if err := json.Unmarshal(photoJSON, &item.PhotoRefs); err != nil {
			return DepartureSheet{}, fmt.Errorf("decode photo refs: %w", err)
		}
	}
	return item, nil
}

func (s *PostgresStore) GetDepartureSheet(ctx context.Context, companyID, sheetID int64) (DepartureSheet, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sheetColumns+`
		FROM departure_sheets ds
		LEFT JOIN pilots p ON p.id = ds.pilot_id
		WHERE ds.company_id = $1 AND ds.id = $2
	`, companyID, sheetID)
	item, err := scanSheet(row)
	if err != nil {
		return DepartureSheet{}, fmt.Errorf("get departure sheet %d: %w", sheetID, classify(err, nil))
	}
	return item, nil
}

func (s *PostgresStore) ListDepartureSheets(ctx context.Context, companyID int64, filter SheetFilter) ([]DepartureSheet, error) {
	where := []string{"ds.company_id = $1"}
	args := []any{companyID}
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.VehicleID > 0 {
		add("ds.vehicle_id = $%d", filter.VehicleID)
	}
	if filter.PilotID > 0 {
		add("ds.pilot_id = $%d", filter.PilotID)
	}
	if filter.Platform != "" {
		add("ds.platform = $%d", filter.Platform)
	}
	if filter.From != nil {
		add("ds.created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("ds.created_at < $%d", *filter.To)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	query := `
		SELECT ` + sheetColumns + `
		FROM departure_sheets ds
		LEFT JOIN pilots p ON p.id = ds.pilot_id
		WHERE ` + strings.Join(where, " AND ") + fmt.Sprintf(`
		ORDER BY ds.id DESC
		LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list departure sheets: %w", classify(err, nil))
	}
	defer rows.Close()

	items := make([]DepartureSheet, 0)
	for rows.Next() {
		item, err := scanSheet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan departure sheet: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate departure sheets: %w", classify(err, nil))
	}
	return items, nil
}

func (s *PostgresStore) ListChecklistReviews(ctx context.Context, companyID, sheetID int64) ([]ChecklistItemReview, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.company_id, r.sheet_id, r.item_id, COALESCE(ci.code, ''), COALESCE(ci.description, ''),
			r.annotation, r.has_photo, r.created_by, r.created_at, r.updated_at
		FROM checklist_item_reviews r
		LEFT JOIN checklist_items ci ON ci.id = r.item_id
		WHERE r.company_id = $1 AND r.sheet_id = $2
		ORDER BY ci.sort_order ASC, r.item_id ASC
	`, companyID, sheetID)
	if err != nil {
		return nil, fmt.Errorf("list checklist reviews: %w", classify(err, nil))
	}
	defer rows.Close()

	items := make([]ChecklistItemReview, 0)
	for rows.Next() {
		var (
			item       ChecklistItemReview
			annotation sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.CompanyID, &item.SheetID, &item.ItemID, &item.ItemCode, &item.ItemDescription,
			&annotation, &item.HasPhoto, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan checklist review: %w", err)
		}
		if annotation.Valid {
			item.Annotation = &annotation.String
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checklist reviews: %w", classify(err, nil))
	}
	return items, nil
}
