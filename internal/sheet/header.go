package sheet

import "strings"

// Platform is the ride-hailing client a vehicle departs for.
type Platform string

const (
	PlatformYango Platform = "YANGO"
	PlatformUber  Platform = "UBER"
)

// Platforms lists the accepted platforms in display order.
var Platforms = []Platform{PlatformYango, PlatformUber}

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	for _, known := range Platforms {
		if p == known {
			return true
		}
	}
	return false
}

// NormalizePlatform upper-cases and trims user input.
func NormalizePlatform(raw string) Platform {
	return Platform(strings.ToUpper(strings.TrimSpace(raw)))
}

// PhotoRef points at an uploaded vehicle photo.
type PhotoRef struct {
	ID          string `json:"id"`
	Key         string `json:"key"`
	ContentType string `json:"contentType"`
}

// Header is the master-level data of a departure sheet being prepared.
// Pointer fields distinguish "not entered yet" from zero.
type Header struct {
	Platform        Platform   `json:"platform"`
	PilotID         int64      `json:"pilotId"`
	VehicleID       int64      `json:"vehicleId"`
	OdometerReading *int64     `json:"odometerReading"`
	FuelPercentage  *int       `json:"fuelPercentage"`
	FuelVoucherID   *int64     `json:"fuelVoucherId,omitempty"`
	Notes           string     `json:"notes"`
	Photos          []PhotoRef `json:"photos"`
}

// PhotoTracker returns the required-photo counter for this header.
func (h Header) PhotoTracker(required int) PhotoTracker {
	return NewPhotoTracker(required, len(h.Photos))
}

// HeaderPatch is a partial header update. Nil fields are left untouched.
type HeaderPatch struct {
	Platform         *string `json:"platform"`
	PilotID          *int64  `json:"pilotId"`
	VehicleID        *int64  `json:"vehicleId"`
	OdometerReading  *int64  `json:"odometerReading"`
	FuelPercentage   *int    `json:"fuelPercentage"`
	FuelVoucherID    *int64  `json:"fuelVoucherId"`
	ClearFuelVoucher bool    `json:"clearFuelVoucher"`
	Notes            *string `json:"notes"`
}

// Apply merges the patch into h.
func (p HeaderPatch) Apply(h *Header) {
	if p.Platform != nil {
		h.Platform = NormalizePlatform(*p.Platform)
	}
	if p.PilotID != nil {
		h.PilotID = *p.PilotID
	}
	if p.VehicleID != nil {
		h.VehicleID = *p.VehicleID
	}
	if p.OdometerReading != nil {
		v := *p.OdometerReading
		h.OdometerReading = &v
	}
	if p.FuelPercentage != nil {
		v := *p.FuelPercentage
		h.FuelPercentage = &v
	}
	if p.FuelVoucherID != nil {
		v := *p.FuelVoucherID
		h.FuelVoucherID = &v
	}
	if p.ClearFuelVoucher {
		h.FuelVoucherID = nil
	}
	if p.Notes != nil {
		h.Notes = strings.TrimSpace(*p.Notes)
	}
}
