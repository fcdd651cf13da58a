package store

import "time"

const DocumentTypeDepartureSheet = "DEPARTURE_SHEET"

const (
	StatusDraft     = "DRAFT"
	StatusSubmitted = "SUBMITTED"
)

type DocumentSequence struct {
	CompanyID    int64
	DocumentType string
	LastValue    int64
	UpdatedAt    time.Time
}

// DepartureSheet is the master record of a submitted sheet. ID is the number
// handed out by AllocateSequence and is unique per company.
type DepartureSheet struct {
	CompanyID        int64     `json:"companyId"`
	ID               int64     `json:"id"`
	Platform         string    `json:"platform"`
	PilotID          int64     `json:"pilotId"`
	PilotName        string    `json:"pilotName"`
	VehicleID        int64     `json:"vehicleId"`
	Plate            string    `json:"plate"`
	OdometerReading  int64     `json:"odometerReading"`
	OdometerPhotoRef *string   `json:"odometerPhotoRef,omitempty"`
	FuelPercentage   int       `json:"fuelPercentage"`
	FuelVoucherID    *int64    `json:"fuelVoucherId,omitempty"`
	Notes            string    `json:"notes"`
	PhotoRefs        []string  `json:"photoRefs"`
	Status           string    `json:"status"`
	CreatedBy        string    `json:"createdBy"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

type ChecklistItemReview struct {
	ID              int64     `json:"id"`
	CompanyID       int64     `json:"companyId"`
	SheetID         int64     `json:"sheetId"`
	ItemID          int64     `json:"itemId"`
	ItemCode        string    `json:"itemCode"`
	ItemDescription string    `json:"itemDescription"`
	Annotation      *string   `json:"annotation,omitempty"`
	HasPhoto        bool      `json:"hasPhoto"`
	CreatedBy       string    `json:"createdBy"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// SheetAmendment lists the fields that may change after submission.
// Nil fields keep their stored value.
type SheetAmendment struct {
	OdometerPhotoRef *string
	FuelVoucherID    *int64
	FuelPercentage   *int
}

// Empty reports whether the amendment changes nothing.
func (a SheetAmendment) Empty() bool {
	return a.OdometerPhotoRef == nil && a.FuelVoucherID == nil && a.FuelPercentage == nil
}

type SheetFilter struct {
	VehicleID int64
	PilotID   int64
	Platform  string
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}
