// Package catalog reads the fleet reference data a departure sheet points
// at. It never writes: pilots, vehicles, checklist definitions and fuel
// vouchers are maintained elsewhere.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fleetdesk/api/internal/store"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type ChecklistItem struct {
	ID          int64  `gorm:"primaryKey" json:"id"`
	CompanyID   int64  `json:"companyId"`
	Code        string `json:"code"`
	Description string `json:"description"`
	Active      bool   `json:"active"`
	SortOrder   int    `json:"sortOrder"`
}

func (ChecklistItem) TableName() string { return "checklist_items" }

type Pilot struct {
	ID            int64  `gorm:"primaryKey" json:"id"`
	CompanyID     int64  `json:"companyId"`
	FullName      string `json:"fullName"`
	LicenseNumber string `json:"licenseNumber"`
	Active        bool   `json:"active"`
}

func (Pilot) TableName() string { return "pilots" }

type Vehicle struct {
	ID           int64  `gorm:"primaryKey" json:"id"`
	CompanyID    int64  `json:"companyId"`
	Plate        string `json:"plate"`
	Brand        string `json:"brand"`
	Model        string `json:"model"`
	LastOdometer int64  `json:"lastOdometer"`
	Active       bool   `json:"active"`
}

func (Vehicle) TableName() string { return "vehicles" }

type FuelVoucher struct {
	ID            int64     `gorm:"primaryKey" json:"id"`
	CompanyID     int64     `json:"companyId"`
	VoucherNumber string    `json:"voucherNumber"`
	VehicleID     *int64    `json:"vehicleId,omitempty"`
	Liters        float64   `json:"liters"`
	IssuedAt      time.Time `json:"issuedAt"`
	Active        bool      `json:"active"`
}

func (FuelVoucher) TableName() string { return "fuel_vouchers" }

type Provider struct {
	db *gorm.DB
}

// Open wraps the shared connection pool in a gorm session.
func Open(sqlDB *sql.DB) (*Provider, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Warn),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	return NewWithDB(db), nil
}

func NewWithDB(db *gorm.DB) *Provider {
	return &Provider{db: db}
}

// ListActiveChecklistItems returns the active definitions in display order.
func (p *Provider) ListActiveChecklistItems(ctx context.Context, companyID int64) ([]ChecklistItem, error) {
	items := make([]ChecklistItem, 0)
	err := p.db.WithContext(ctx).
		Where("company_id = ? AND active = ?", companyID, true).
		Order("sort_order ASC, id ASC").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("list checklist items: %w", store.Classify(err))
	}
	return items, nil
}

func (p *Provider) ListPilots(ctx context.Context, companyID int64) ([]Pilot, error) {
	pilots := make([]Pilot, 0)
	err := p.db.WithContext(ctx).
		Where("company_id = ? AND active = ?", companyID, true).
		Order("full_name ASC").
		Find(&pilots).Error
	if err != nil {
		return nil, fmt.Errorf("list pilots: %w", store.Classify(err))
	}
	return pilots, nil
}

func (p *Provider) ListVehicles(ctx context.Context, companyID int64) ([]Vehicle, error) {
	vehicles := make([]Vehicle, 0)
	err := p.db.WithContext(ctx).
		Where("company_id = ? AND active = ?", companyID, true).
		Order("plate ASC").
		Find(&vehicles).Error
	if err != nil {
		return nil, fmt.Errorf("list vehicles: %w", store.Classify(err))
	}
	return vehicles, nil
}

func (p *Provider) GetVehicle(ctx context.Context, companyID, vehicleID int64) (Vehicle, error) {
	var vehicle Vehicle
	err := p.db.WithContext(ctx).
		Where("company_id = ? AND id = ?", companyID, vehicleID).
		First(&vehicle).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Vehicle{}, &store.ReferenceError{Entity: store.EntityVehicle, ID: vehicleID}
	}
	if err != nil {
		return Vehicle{}, fmt.Errorf("get vehicle %d: %w", vehicleID, store.Classify(err))
	}
	return vehicle, nil
}

// GetVehicleLastOdometer is the highest reading known for a vehicle: the
// value on the vehicle record or the largest submitted on a sheet.
func (p *Provider) GetVehicleLastOdometer(ctx context.Context, companyID, vehicleID int64) (int64, error) {
	vehicle, err := p.GetVehicle(ctx, companyID, vehicleID)
	if err != nil {
		return 0, err
	}
	var submitted int64
	err = p.db.WithContext(ctx).Raw(`
		SELECT COALESCE(MAX(odometer_reading), 0)
		FROM departure_sheets
		WHERE company_id = ? AND vehicle_id = ?
	`, companyID, vehicleID).Scan(&submitted).Error
	if err != nil {
		return 0, fmt.Errorf("last odometer of vehicle %d: %w", vehicleID, store.Classify(err))
	}
	if submitted > vehicle.LastOdometer {
		return submitted, nil
	}
	return vehicle.LastOdometer, nil
}

// ListFuelVouchers returns active vouchers, optionally only those issued to
// one vehicle or unassigned.
func (p *Provider) ListFuelVouchers(ctx context.Context, companyID, vehicleID int64) ([]FuelVoucher, error) {
	vouchers := make([]FuelVoucher, 0)
	q := p.db.WithContext(ctx).Where("company_id = ? AND active = ?", companyID, true)
	if vehicleID > 0 {
		q = q.Where("vehicle_id = ? OR vehicle_id IS NULL", vehicleID)
	}
	if err := q.Order("issued_at DESC").Find(&vouchers).Error; err != nil {
		return nil, fmt.Errorf("list fuel vouchers: %w", store.Classify(err))
	}
	return vouchers, nil
}

func (p *Provider) GetPilot(ctx context.Context, companyID, pilotID int64) (Pilot, error) {
	var pilot Pilot
	err := p.db.WithContext(ctx).
		Where("company_id = ? AND id = ?", companyID, pilotID).
		First(&pilot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Pilot{}, &store.ReferenceError{Entity: store.EntityPilot, ID: pilotID}
	}
	if err != nil {
		return Pilot{}, fmt.Errorf("get pilot %d: %w", pilotID, store.Classify(err))
	}
	return pilot, nil
}

// FuelVoucherExists reports whether the voucher belongs to the company,
// active or not.
func (p *Provider) FuelVoucherExists(ctx context.Context, companyID, voucherID int64) (bool, error) {
	var n int64
	err := p.db.WithContext(ctx).Model(&FuelVoucher{}).
		Where("company_id = ? AND id = ?", companyID, voucherID).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check fuel voucher %d: %w", voucherID, store.Classify(err))
	}
	return n > 0, nil
}
