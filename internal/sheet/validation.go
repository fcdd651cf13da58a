package sheet

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// Field names used as keys of FieldErrors.
const (
	FieldPlatform        = "platform"
	FieldPilotID         = "pilotId"
	FieldVehicleID       = "vehicleId"
	FieldOdometerReading = "odometerReading"
	FieldFuelPercentage  = "fuelPercentage"
	FieldFuelVoucherID   = "fuelVoucherId"
	FieldNotes           = "notes"
	FieldPhotos          = "photos"
	FieldItems           = "items"
)

// MaxNotesLength bounds the free-text notes of a sheet.
const MaxNotesLength = 1000

// FieldErrors maps a field name to a message. An empty map means the sheet
// may be submitted.
type FieldErrors map[string]string

func (e FieldErrors) Error() string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Empty reports whether no rule was violated.
func (e FieldErrors) Empty() bool { return len(e) == 0 }

// Facts are the catalog lookups the rules depend on, resolved by the caller
// for the header's current pilot, vehicle and voucher.
type Facts struct {
	PilotExists   bool
	VehicleExists bool
	LastOdometer  int64
	VoucherExists bool
}

// Rules carries the configurable parts of validation.
type Rules struct {
	RequiredPhotos      int
	RequireReviewedItem bool
}

// DefaultRules mirrors the back office defaults.
func DefaultRules() Rules {
	return Rules{RequiredPhotos: DefaultRequiredPhotos, RequireReviewedItem: true}
}

// Validate evaluates the header and the checklist session. It has no side
// effects and must be re-run after any change to either input.
func Validate(h Header, s *Session, facts Facts, rules Rules) FieldErrors {
	errs := ValidateHeader(h, facts, rules)
	if rules.RequireReviewedItem && (s == nil || s.ReviewedCount() == 0) {
		errs[FieldItems] = "at least one checklist item must be reviewed"
	}
	return errs
}

// ValidateHeader evaluates only the master-level rules.
func ValidateHeader(h Header, facts Facts, rules Rules) FieldErrors {
	errs := FieldErrors{}

	switch {
	case h.Platform == "":
		errs[FieldPlatform] = "platform is required"
	case !h.Platform.Valid():
		errs[FieldPlatform] = fmt.Sprintf("platform must be one of %s", joinPlatforms())
	}

	switch {
	case h.PilotID <= 0:
		errs[FieldPilotID] = "pilot is required"
	case !facts.PilotExists:
		errs[FieldPilotID] = fmt.Sprintf("pilot %d does not exist", h.PilotID)
	}

	vehicleOK := false
	switch {
	case h.VehicleID <= 0:
		errs[FieldVehicleID] = "vehicle is required"
	case !facts.VehicleExists:
		errs[FieldVehicleID] = fmt.Sprintf("vehicle %d does not exist", h.VehicleID)
	default:
		vehicleOK = true
	}

	switch {
	case h.OdometerReading == nil:
		errs[FieldOdometerReading] = "odometer reading is required"
	case *h.OdometerReading < 0:
		errs[FieldOdometerReading] = "odometer reading must be zero or greater"
	case vehicleOK && *h.OdometerReading < facts.LastOdometer:
		errs[FieldOdometerReading] = fmt.Sprintf("odometer reading must be at least %d", facts.LastOdometer)
	}

	switch {
	case h.FuelPercentage == nil:
		errs[FieldFuelPercentage] = "fuel percentage is required"
	case !FuelLevel(*h.FuelPercentage).Valid():
		errs[FieldFuelPercentage] = "fuel percentage must be one of 0, 10, ..., 100"
	}

	if h.FuelVoucherID != nil && !facts.VoucherExists {
		errs[FieldFuelVoucherID] = fmt.Sprintf("fuel voucher %d does not exist", *h.FuelVoucherID)
	}

	if utf8.RuneCountInString(h.Notes) > MaxNotesLength {
		errs[FieldNotes] = fmt.Sprintf("notes must be at most %d characters", MaxNotesLength)
	}

	if tracker := h.PhotoTracker(rules.RequiredPhotos); !tracker.IsSatisfied() {
		missing := tracker.Missing()
		noun := "photos"
		if missing == 1 {
			noun = "photo"
		}
		errs[FieldPhotos] = fmt.Sprintf("missing %d %s", missing, noun)
	}

	return errs
}

func joinPlatforms() string {
	names := make([]string, len(Platforms))
	for i, p := range Platforms {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}
