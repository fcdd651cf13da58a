package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrConflict    = errors.New("record already exists")
	ErrUnavailable = errors.New("store unavailable")
)

// ReferenceError reports a write that pointed at a row that does not exist.
type ReferenceError struct {
	Entity string
	ID     int64
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("%s %d does not exist", e.Entity, e.ID)
}

// Is lets callers treat a missing reference as ErrNotFound.
func (e *ReferenceError) Is(target error) bool {
	return target == ErrNotFound
}

const (
	EntityPilot          = "pilot"
	EntityVehicle        = "vehicle"
	EntityFuelVoucher    = "fuel voucher"
	EntityChecklistItem  = "checklist item"
	EntityDepartureSheet = "departure sheet"
)

var constraintEntities = map[string]string{
	"departure_sheets_pilot_fk":        EntityPilot,
	"departure_sheets_vehicle_fk":      EntityVehicle,
	"departure_sheets_fuel_voucher_fk": EntityFuelVoucher,
	"checklist_item_reviews_item_fk":   EntityChecklistItem,
	"checklist_item_reviews_sheet_fk":  EntityDepartureSheet,
}

// refs carries the ids written by a statement, keyed by entity, so a foreign
// key violation can be reported against the offending id.
type refs map[string]int64

// classify maps driver and postgres failures onto the package sentinels.
// The original error stays in the chain.
func classify(err error, ids refs) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %w", ErrConflict, err)
		case "23503":
			entity, ok := constraintEntities[pgErr.ConstraintName]
			if !ok {
				return fmt.Errorf("%w: %w", ErrNotFound, err)
			}
			return fmt.Errorf("%w: %w", &ReferenceError{Entity: entity, ID: ids[entity]}, err)
		case "55P03", "57014", "53300", "57P01", "57P03":
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		if len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08" {
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return err
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

// Classify maps a driver error from another data access layer sharing this
// database onto the package sentinels.
func Classify(err error) error {
	return classify(err, nil)
}
