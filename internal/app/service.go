package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fleetdesk/api/internal/auth"
	"fleetdesk/api/internal/catalog"
	"fleetdesk/api/internal/config"
	"fleetdesk/api/internal/drafts"
	"fleetdesk/api/internal/export"
	"fleetdesk/api/internal/photos"
	"fleetdesk/api/internal/search"
	"fleetdesk/api/internal/sheet"
	"fleetdesk/api/internal/store"
	"fleetdesk/api/internal/util"
)

type catalogProvider interface {
	ListActiveChecklistItems(ctx context.Context, companyID int64) ([]catalog.ChecklistItem, error)
	ListPilots(ctx context.Context, companyID int64) ([]catalog.Pilot, error)
	ListVehicles(ctx context.Context, companyID int64) ([]catalog.Vehicle, error)
	GetPilot(ctx context.Context, companyID, pilotID int64) (catalog.Pilot, error)
	GetVehicle(ctx context.Context, companyID, vehicleID int64) (catalog.Vehicle, error)
	GetVehicleLastOdometer(ctx context.Context, companyID, vehicleID int64) (int64, error)
	ListFuelVouchers(ctx context.Context, companyID, vehicleID int64) ([]catalog.FuelVoucher, error)
	FuelVoucherExists(ctx context.Context, companyID, voucherID int64) (bool, error)
}

type sheetStore interface {
	AllocateSequence(ctx context.Context, companyID int64, documentType string) (int64, error)
	PeekNextSequence(ctx context.Context, companyID int64, documentType string) (int64, error)
	CreateDepartureSheet(ctx context.Context, sheet store.DepartureSheet, reviews []store.ChecklistItemReview) (store.DepartureSheet, []store.ChecklistItemReview, error)
	AddChecklistReview(ctx context.Context, review store.ChecklistItemReview) (store.ChecklistItemReview, error)
	UpdateDepartureSheet(ctx context.Context, companyID, sheetID int64, amendment store.SheetAmendment) (store.DepartureSheet, error)
	GetDepartureSheet(ctx context.Context, companyID, sheetID int64) (store.DepartureSheet, error)
	ListDepartureSheets(ctx context.Context, companyID int64, filter store.SheetFilter) ([]store.DepartureSheet, error)
	ListChecklistReviews(ctx context.Context, companyID, sheetID int64) ([]store.ChecklistItemReview, error)
	Ping(ctx context.Context) error
}

type draftStore interface {
	Save(ctx context.Context, draft drafts.Draft) error
	Get(ctx context.Context, id string) (drafts.Draft, error)
	Delete(ctx context.Context, id string) error
	Update(ctx context.Context, id string, fn func(*drafts.Draft) error) (drafts.Draft, error)
	AcquireSubmitLock(ctx context.Context, id string, ttl time.Duration) (bool, error)
	ReleaseSubmitLock(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

type photoStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Remove(ctx context.Context, key string) error
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type sheetSearcher interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexSheet(record search.SheetRecord)
}

type sheetExporter interface {
	Sheet(ctx context.Context, view export.SheetView, format export.Format) (*export.Result, error)
	Register(title string, rows []export.RegisterRow) (*export.Result, error)
}

// Dependencies are the collaborators main wires into the service.
type Dependencies struct {
	Catalog *catalog.Provider
	Store   *store.PostgresStore
	Drafts  *drafts.RedisStore
	Photos  *photos.Store
	Search  *search.Service
	Export  *export.Service
}

const (
	submitLockTTL   = time.Minute
	photoURLTTL     = 15 * time.Minute
	registerMaxRows = 500
)

type Service struct {
	rules   sheet.Rules
	catalog catalogProvider
	store   sheetStore
	drafts  draftStore
	photos  photoStore
	search  sheetSearcher
	export  sheetExporter
	logger  *zap.Logger
	now     func() time.Time
	newID   func(prefix string) string
}

func New(cfg config.Config, deps Dependencies, logger *zap.Logger) *Service {
	return &Service{
		rules: sheet.Rules{
			RequiredPhotos:      cfg.RequiredPhotos,
			RequireReviewedItem: cfg.RequireReviewedItem,
		},
		catalog: deps.Catalog,
		store:   deps.Store,
		drafts:  deps.Drafts,
		photos:  deps.Photos,
		search:  deps.Search,
		export:  deps.Export,
		logger:  logger.Named("app"),
		now:     time.Now,
		newID:   util.NewID,
	}
}

// Ping checks the database and the draft store.
func (s *Service) Ping(ctx context.Context) map[string]error {
	return map[string]error{
		"database": s.store.Ping(ctx),
		"redis":    s.drafts.Ping(ctx),
	}
}

// ReferenceData is everything the departure screen loads up front.
type ReferenceData struct {
	Platforms      []sheet.Platform        `json:"platforms"`
	Pilots         []catalog.Pilot         `json:"pilots"`
	Vehicles       []catalog.Vehicle       `json:"vehicles"`
	ChecklistItems []catalog.ChecklistItem `json:"checklistItems"`
	FuelVouchers   []catalog.FuelVoucher   `json:"fuelVouchers"`
	RequiredPhotos int                     `json:"requiredPhotos"`
	NextNumber     int64                   `json:"nextNumber"`
}

func (s *Service) ReferenceData(ctx context.Context, op auth.Operator) (ReferenceData, error) {
	data := ReferenceData{Platforms: sheet.Platforms, RequiredPhotos: s.rules.RequiredPhotos}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		data.Pilots, err = s.catalog.ListPilots(gctx, op.CompanyID)
		return err
	})
	g.Go(func() (err error) {
		data.Vehicles, err = s.catalog.ListVehicles(gctx, op.CompanyID)
		return err
	})
	g.Go(func() (err error) {
		data.ChecklistItems, err = s.catalog.ListActiveChecklistItems(gctx, op.CompanyID)
		return err
	})
	g.Go(func() (err error) {
		data.FuelVouchers, err = s.catalog.ListFuelVouchers(gctx, op.CompanyID, 0)
		return err
	})
	g.Go(func() (err error) {
		data.NextNumber, err = s.store.PeekNextSequence(gctx, op.CompanyID, store.DocumentTypeDepartureSheet)
		return err
	})
	if err := g.Wait(); err != nil {
		return ReferenceData{}, err
	}
	return data, nil
}

func (s *Service) ListActiveChecklistItems(ctx context.Context, op auth.Operator) ([]catalog.ChecklistItem, error) {
	return s.catalog.ListActiveChecklistItems(ctx, op.CompanyID)
}

func (s *Service) ListPilots(ctx context.Context, op auth.Operator) ([]catalog.Pilot, error) {
	return s.catalog.ListPilots(ctx, op.CompanyID)
}

func (s *Service) ListVehicles(ctx context.Context, op auth.Operator) ([]catalog.Vehicle, error) {
	return s.catalog.ListVehicles(ctx, op.CompanyID)
}

func (s *Service) GetVehicleLastOdometer(ctx context.Context, op auth.Operator, vehicleID int64) (int64, error) {
	return s.catalog.GetVehicleLastOdometer(ctx, op.CompanyID, vehicleID)
}

func (s *Service) ListFuelVouchers(ctx context.Context, op auth.Operator, vehicleID int64) ([]catalog.FuelVoucher, error) {
	return s.catalog.ListFuelVouchers(ctx, op.CompanyID, vehicleID)
}

var knownDocumentTypes = map[string]struct{}{
	store.DocumentTypeDepartureSheet: {},
}

// PeekNextSequence previews the next number without reserving it.
func (s *Service) PeekNextSequence(ctx context.Context, op auth.Operator, documentType string) (int64, error) {
	documentType = strings.ToUpper(strings.TrimSpace(documentType))
	if _, ok := knownDocumentTypes[documentType]; !ok {
		return 0, domainError(http.StatusNotFound, "NOT_FOUND", "Unknown document type", map[string]any{"documentType": documentType})
	}
	return s.store.PeekNextSequence(ctx, op.CompanyID, documentType)
}

// resolved carries the catalog rows a header points at along with the
// facts the validator needs.
type resolved struct {
	facts   sheet.Facts
	pilot   catalog.Pilot
	vehicle catalog.Vehicle
}

// resolve looks up the header's references concurrently. Missing rows are
// facts, not errors; only infrastructure failures are returned.
func (s *Service) resolve(ctx context.Context, companyID int64, h sheet.Header) (resolved, error) {
	var out resolved

	g, gctx := errgroup.WithContext(ctx)
	if h.PilotID > 0 {
		g.Go(func() error {
			pilot, err := s.catalog.GetPilot(gctx, companyID, h.PilotID)
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			out.pilot = pilot
			out.facts.PilotExists = true
			return nil
		})
	}
	if h.VehicleID > 0 {
		g.Go(func() error {
			vehicle, err := s.catalog.GetVehicle(gctx, companyID, h.VehicleID)
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			last, err := s.catalog.GetVehicleLastOdometer(gctx, companyID, h.VehicleID)
			if err != nil {
				return err
			}
			out.vehicle = vehicle
			out.facts.VehicleExists = true
			out.facts.LastOdometer = last
			return nil
		})
	}
	if h.FuelVoucherID != nil {
		g.Go(func() error {
			ok, err := s.catalog.FuelVoucherExists(gctx, companyID, *h.FuelVoucherID)
			out.facts.VoucherExists = ok
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return resolved{}, err
	}
	return out, nil
}

// CreateDepartureSheet writes a header-only sheet under a freshly allocated
// number. Checklist details are added with AddChecklistReview.
func (s *Service) CreateDepartureSheet(ctx context.Context, op auth.Operator, h sheet.Header) (SheetDetail, error) {
	h.Platform = sheet.NormalizePlatform(string(h.Platform))
	h.Notes = strings.TrimSpace(h.Notes)

	res, err := s.resolve(ctx, op.CompanyID, h)
	if err != nil {
		return SheetDetail{}, err
	}
	if errs := sheet.ValidateHeader(h, res.facts, s.rules); !errs.Empty() {
		return SheetDetail{}, errs
	}

	number, err := s.store.AllocateSequence(ctx, op.CompanyID, store.DocumentTypeDepartureSheet)
	if err != nil {
		return SheetDetail{}, err
	}
	created, _, err := s.store.CreateDepartureSheet(ctx, masterRecord(op, number, h, res), nil)
	if err != nil {
		return SheetDetail{}, err
	}
	created.PilotName = res.pilot.FullName

	s.logger.Info("departure sheet created",
		zap.Int64("company_id", op.CompanyID),
		zap.Int64("sheet_id", created.ID),
		zap.String("operator", op.Name),
	)
	s.index(created)
	return SheetDetail{Sheet: created, Reviews: []store.ChecklistItemReview{}}, nil
}

// ReviewInput is one checklist detail added to a stored sheet.
type ReviewInput struct {
	ItemID     int64  `json:"itemId"`
	Annotation string `json:"annotation"`
	HasPhoto   bool   `json:"hasPhoto"`
}

func (s *Service) AddChecklistReview(ctx context.Context, op auth.Operator, sheetID int64, in ReviewInput) (store.ChecklistItemReview, error) {
	if in.ItemID <= 0 {
		return store.ChecklistItemReview{}, validationError("itemId", "checklist item is required")
	}
	annotation := strings.TrimSpace(in.Annotation)
	if len([]rune(annotation)) > sheet.MaxAnnotationLength {
		return store.ChecklistItemReview{}, sheet.ErrAnnotationTooLong
	}
	if _, err := s.store.GetDepartureSheet(ctx, op.CompanyID, sheetID); err != nil {
		return store.ChecklistItemReview{}, err
	}
	return s.store.AddChecklistReview(ctx, store.ChecklistItemReview{
		CompanyID:  op.CompanyID,
		SheetID:    sheetID,
		ItemID:     in.ItemID,
		Annotation: optionalString(annotation),
		HasPhoto:   in.HasPhoto,
		CreatedBy:  op.Name,
	})
}

// AmendmentInput is the body of a post-submit update.
type AmendmentInput struct {
	OdometerPhotoRef *string `json:"odometerPhotoRef"`
	FuelVoucherID    *int64  `json:"fuelVoucherId"`
	FuelPercentage   *int    `json:"fuelPercentage"`
}

// UpdateDepartureSheet applies a post-submit amendment. Repeating the same
// amendment leaves the sheet unchanged.
func (s *Service) UpdateDepartureSheet(ctx context.Context, op auth.Operator, sheetID int64, in AmendmentInput) (store.DepartureSheet, error) {
	amendment := store.SheetAmendment{
		OdometerPhotoRef: in.OdometerPhotoRef,
		FuelVoucherID:    in.FuelVoucherID,
		FuelPercentage:   in.FuelPercentage,
	}
	if amendment.Empty() {
		return s.store.GetDepartureSheet(ctx, op.CompanyID, sheetID)
	}

	errs := sheet.FieldErrors{}
	if in.FuelPercentage != nil && !sheet.FuelLevel(*in.FuelPercentage).Valid() {
		errs[sheet.FieldFuelPercentage] = "fuel percentage must be one of 0, 10, ..., 100"
	}
	if in.OdometerPhotoRef != nil && strings.TrimSpace(*in.OdometerPhotoRef) == "" {
		errs["odometerPhotoRef"] = "odometer photo reference must not be empty"
	}
	if in.FuelVoucherID != nil {
		ok, err := s.catalog.FuelVoucherExists(ctx, op.CompanyID, *in.FuelVoucherID)
		if err != nil {
			return store.DepartureSheet{}, err
		}
		if !ok {
			errs[sheet.FieldFuelVoucherID] = fmt.Sprintf("fuel voucher %d does not exist", *in.FuelVoucherID)
		}
	}
	if !errs.Empty() {
		return store.DepartureSheet{}, errs
	}

	updated, err := s.store.UpdateDepartureSheet(ctx, op.CompanyID, sheetID, amendment)
	if err != nil {
		return store.DepartureSheet{}, err
	}
	s.index(updated)
	return updated, nil
}

// UploadOdometerPhoto stores the odometer photo of a submitted sheet and
// records its key on the sheet.
func (s *Service) UploadOdometerPhoto(ctx context.Context, op auth.Operator, sheetID int64, body io.Reader, size int64, contentType string) (store.DepartureSheet, error) {
	if err := photos.CheckUpload(contentType, size); err != nil {
		return store.DepartureSheet{}, err
	}
	if _, err := s.store.GetDepartureSheet(ctx, op.CompanyID, sheetID); err != nil {
		return store.DepartureSheet{}, err
	}
	key := photos.OdometerPhotoKey(op.CompanyID, sheetID, s.newID("p"), contentType)
	if err := s.photos.Put(ctx, key, body, size, contentType); err != nil {
		return store.DepartureSheet{}, err
	}
	updated, err := s.store.UpdateDepartureSheet(ctx, op.CompanyID, sheetID, store.SheetAmendment{OdometerPhotoRef: &key})
	if err != nil {
		s.removePhoto(key)
		return store.DepartureSheet{}, err
	}
	return updated, nil
}

// SheetDetail is a stored sheet with its checklist details.
type SheetDetail struct {
	Sheet     store.DepartureSheet        `json:"sheet"`
	Reviews   []store.ChecklistItemReview `json:"reviews"`
	PhotoURLs map[string]string           `json:"photoUrls,omitempty"`
}

func (s *Service) GetDepartureSheet(ctx context.Context, op auth.Operator, sheetID int64) (SheetDetail, error) {
	sh, err := s.store.GetDepartureSheet(ctx, op.CompanyID, sheetID)
	if err != nil {
		return SheetDetail{}, err
	}
	reviews, err := s.store.ListChecklistReviews(ctx, op.CompanyID, sheetID)
	if err != nil {
		return SheetDetail{}, err
	}
	return SheetDetail{Sheet: sh, Reviews: reviews, PhotoURLs: s.photoURLs(ctx, sh)}, nil
}

// photoURLs presigns every stored photo. Failures only drop the links.
func (s *Service) photoURLs(ctx context.Context, sh store.DepartureSheet) map[string]string {
	keys := append([]string{}, sh.PhotoRefs...)
	if sh.OdometerPhotoRef != nil {
		keys = append(keys, *sh.OdometerPhotoRef)
	}
	if len(keys) == 0 {
		return nil
	}
	urls := make(map[string]string, len(keys))
	for _, key := range keys {
		u, err := s.photos.PresignedURL(ctx, key, photoURLTTL)
		if err != nil {
			s.logger.Warn("presign photo", zap.String("key", key), zap.Error(err))
			return nil
		}
		urls[key] = u
	}
	return urls
}

func (s *Service) ListDepartureSheets(ctx context.Context, op auth.Operator, filter store.SheetFilter) ([]store.DepartureSheet, error) {
	if filter.Platform != "" {
		filter.Platform = string(sheet.NormalizePlatform(filter.Platform))
	}
	return s.store.ListDepartureSheets(ctx, op.CompanyID, filter)
}

// SearchDepartureSheets is always scoped to the operator's company.
func (s *Service) SearchDepartureSheets(ctx context.Context, op auth.Operator, q search.Query) search.Response {
	q.CompanyID = op.CompanyID
	if q.Platform != "" {
		q.Platform = string(sheet.NormalizePlatform(q.Platform))
	}
	return s.search.Search(ctx, q)
}

func (s *Service) ExportDepartureSheet(ctx context.Context, op auth.Operator, sheetID int64, format export.Format) (*export.Result, error) {
	detail, err := s.GetDepartureSheet(ctx, op, sheetID)
	if err != nil {
		return nil, err
	}
	return s.export.Sheet(ctx, sheetView(detail), format)
}

// ExportRegister renders the filtered sheet list as a workbook.
func (s *Service) ExportRegister(ctx context.Context, op auth.Operator, filter store.SheetFilter) (*export.Result, error) {
	filter.Limit = registerMaxRows
	sheets, err := s.ListDepartureSheets(ctx, op, filter)
	if err != nil {
		return nil, err
	}
	rows := make([]export.RegisterRow, 0, len(sheets))
	for _, sh := range sheets {
		reviews, err := s.store.ListChecklistReviews(ctx, op.CompanyID, sh.ID)
		if err != nil {
			return nil, err
		}
		rows = append(rows, export.RegisterRow{
			Number:          sh.ID,
			CreatedAt:       sh.CreatedAt,
			Platform:        sh.Platform,
			Plate:           sh.Plate,
			PilotName:       sh.PilotName,
			OdometerReading: sh.OdometerReading,
			FuelPercentage:  sh.FuelPercentage,
			ReviewedItems:   len(reviews),
			CreatedBy:       sh.CreatedBy,
			Notes:           sh.Notes,
		})
	}
	return s.export.Register("Registro de hojas de salida", rows)
}

func sheetView(detail SheetDetail) export.SheetView {
	sh := detail.Sheet
	view := export.SheetView{
		Number:           sh.ID,
		Platform:         sh.Platform,
		PilotName:        sh.PilotName,
		Plate:            sh.Plate,
		OdometerReading:  sh.OdometerReading,
		HasOdometerPhoto: sh.OdometerPhotoRef != nil,
		FuelPercentage:   sh.FuelPercentage,
		FuelVoucherID:    sh.FuelVoucherID,
		Notes:            sh.Notes,
		PhotoCount:       len(sh.PhotoRefs),
		CreatedBy:        sh.CreatedBy,
		CreatedAt:        sh.CreatedAt,
		Reviews:          make([]export.ReviewView, 0, len(detail.Reviews)),
	}
	for _, r := range detail.Reviews {
		rv := export.ReviewView{Code: r.ItemCode, Description: r.ItemDescription, HasPhoto: r.HasPhoto}
		if r.Annotation != nil {
			rv.Annotation = *r.Annotation
		}
		view.Reviews = append(view.Reviews, rv)
	}
	return view
}

func masterRecord(op auth.Operator, number int64, h sheet.Header, res resolved) store.DepartureSheet {
	refs := make([]string, 0, len(h.Photos))
	for _, p := range h.Photos {
		refs = append(refs, p.Key)
	}
	return store.DepartureSheet{
		CompanyID:       op.CompanyID,
		ID:              number,
		Platform:        string(h.Platform),
		PilotID:         h.PilotID,
		VehicleID:       h.VehicleID,
		Plate:           res.vehicle.Plate,
		OdometerReading: *h.OdometerReading,
		FuelPercentage:  *h.FuelPercentage,
		FuelVoucherID:   h.FuelVoucherID,
		Notes:           h.Notes,
		PhotoRefs:       refs,
		Status:          store.StatusSubmitted,
		CreatedBy:       op.Name,
	}
}

// index pushes a sheet to the search index in the background.
func (s *Service) index(sh store.DepartureSheet) {
	s.search.IndexSheet(search.SheetRecord{
		ID:              search.RecordID(sh.CompanyID, sh.ID),
		SheetID:         sh.ID,
		CompanyID:       sh.CompanyID,
		Platform:        sh.Platform,
		VehicleID:       sh.VehicleID,
		Plate:           sh.Plate,
		PilotName:       sh.PilotName,
		Notes:           sh.Notes,
		OdometerReading: sh.OdometerReading,
		FuelPercentage:  sh.FuelPercentage,
		CreatedBy:       sh.CreatedBy,
		CreatedAt:       sh.CreatedAt.Unix(),
	})
}

// removePhoto deletes an orphaned object. It uses its own deadline so a
// cancelled request still cleans up; failures are only logged.
func (s *Service) removePhoto(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.photos.Remove(ctx, key); err != nil {
		s.logger.Warn("remove orphaned photo", zap.String("key", key), zap.Error(err))
	}
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
