package app

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"fleetdesk/api/internal/auth"
	"fleetdesk/api/internal/catalog"
	"fleetdesk/api/internal/drafts"
	"fleetdesk/api/internal/export"
	"fleetdesk/api/internal/search"
	"fleetdesk/api/internal/sheet"
	"fleetdesk/api/internal/store"
)

type fakeCatalog struct {
	mu          sync.Mutex
	items       []catalog.ChecklistItem
	pilots      map[int64]catalog.Pilot
	vehicles    map[int64]catalog.Vehicle
	vouchers    map[int64]catalog.FuelVoucher
	listItemsFn func(context.Context, int64) ([]catalog.ChecklistItem, error)
}

func (f *fakeCatalog) ListActiveChecklistItems(ctx context.Context, companyID int64) ([]catalog.ChecklistItem, error) {
	if f.listItemsFn != nil {
		return f.listItemsFn(ctx, companyID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]catalog.ChecklistItem, 0, len(f.items))
	for _, item := range f.items {
		if item.CompanyID == companyID && item.Active {
			out = append(out, item)
		}
	}
	return out, nil
}

func (f *fakeCatalog) ListPilots(_ context.Context, companyID int64) ([]catalog.Pilot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []catalog.Pilot{}
	for _, p := range f.pilots {
		if p.CompanyID == companyID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeCatalog) ListVehicles(_ context.Context, companyID int64) ([]catalog.Vehicle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []catalog.Vehicle{}
	for _, v := range f.vehicles {
		if v.CompanyID == companyID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeCatalog) GetPilot(_ context.Context, companyID, pilotID int64) (catalog.Pilot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pilots[pilotID]
	if !ok || p.CompanyID != companyID {
		return catalog.Pilot{}, &store.ReferenceError{Entity: store.EntityPilot, ID: pilotID}
	}
	return p, nil
}

func (f *fakeCatalog) GetVehicle(_ context.Context, companyID, vehicleID int64) (catalog.Vehicle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vehicles[vehicleID]
	if !ok || v.CompanyID != companyID {
		return catalog.Vehicle{}, &store.ReferenceError{Entity: store.EntityVehicle, ID: vehicleID}
	}
	return v, nil
}

func (f *fakeCatalog) GetVehicleLastOdometer(ctx context.Context, companyID, vehicleID int64) (int64, error) {
	v, err := f.GetVehicle(ctx, companyID, vehicleID)
	if err != nil {
		return 0, err
	}
	return v.LastOdometer, nil
}

func (f *fakeCatalog) ListFuelVouchers(_ context.Context, companyID, vehicleID int64) ([]catalog.FuelVoucher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []catalog.FuelVoucher{}
	for _, v := range f.vouchers {
		if v.CompanyID != companyID {
			continue
		}
		if vehicleID > 0 && (v.VehicleID == nil || *v.VehicleID != vehicleID) {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (f *fakeCatalog) FuelVoucherExists(_ context.Context, companyID, voucherID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vouchers[voucherID]
	return ok && v.CompanyID == companyID, nil
}

type sheetKey struct {
	companyID int64
	id        int64
}

// fakeStore keeps sheets in memory. CreateDepartureSheet is all-or-nothing
// like the Postgres transaction it stands in for.
type fakeStore struct {
	mu        sync.Mutex
	sequences map[string]int64
	sheets    map[sheetKey]store.DepartureSheet
	reviews   map[sheetKey][]store.ChecklistItemReview
	nextID    int64
	clock     time.Time

	createFn   func(store.DepartureSheet, []store.ChecklistItemReview) error
	allocateFn func(context.Context, int64, string) error
	peekFn     func(context.Context) error
	pingFn     func(context.Context) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sequences: map[string]int64{},
		sheets:    map[sheetKey]store.DepartureSheet{},
		reviews:   map[sheetKey][]store.ChecklistItemReview{},
		clock:     time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
	}
}

func seqKey(companyID int64, documentType string) string {
	return fmt.Sprintf("%d/%s", companyID, documentType)
}

func (f *fakeStore) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeStore) AllocateSequence(ctx context.Context, companyID int64, documentType string) (int64, error) {
	if f.allocateFn != nil {
		if err := f.allocateFn(ctx, companyID, documentType); err != nil {
			return 0, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sequences[seqKey(companyID, documentType)]++
	return f.sequences[seqKey(companyID, documentType)], nil
}

func (f *fakeStore) PeekNextSequence(ctx context.Context, companyID int64, documentType string) (int64, error) {
	if f.peekFn != nil {
		if err := f.peekFn(ctx); err != nil {
			return 0, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sequences[seqKey(companyID, documentType)] + 1, nil
}

func (f *fakeStore) CreateDepartureSheet(_ context.Context, sh store.DepartureSheet, reviews []store.ChecklistItemReview) (store.DepartureSheet, []store.ChecklistItemReview, error) {
	if f.createFn != nil {
		if err := f.createFn(sh, reviews); err != nil {
			return store.DepartureSheet{}, nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := sheetKey{sh.CompanyID, sh.ID}
	if _, exists := f.sheets[key]; exists {
		return store.DepartureSheet{}, nil, fmt.Errorf("departure sheet %d: %w", sh.ID, store.ErrConflict)
	}
	now := f.tick()
	sh.CreatedAt, sh.UpdatedAt = now, now
	stored := make([]store.ChecklistItemReview, 0, len(reviews))
	for _, r := range reviews {
		f.nextID++
		r.ID = f.nextID
		r.CompanyID = sh.CompanyID
		r.SheetID = sh.ID
		r.CreatedAt, r.UpdatedAt = now, now
		stored = append(stored, r)
	}
	f.sheets[key] = sh
	f.reviews[key] = stored
	return sh, append([]store.ChecklistItemReview(nil), stored...), nil
}

func (f *fakeStore) AddChecklistReview(_ context.Context, r store.ChecklistItemReview) (store.ChecklistItemReview, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := sheetKey{r.CompanyID, r.SheetID}
	if _, ok := f.sheets[key]; !ok {
		return store.ChecklistItemReview{}, &store.ReferenceError{Entity: store.EntityDepartureSheet, ID: r.SheetID}
	}
	for _, existing := range f.reviews[key] {
		if existing.ItemID == r.ItemID {
			return store.ChecklistItemReview{}, fmt.Errorf("review of item %d: %w", r.ItemID, store.ErrConflict)
		}
	}
	f.nextID++
	r.ID = f.nextID
	r.CreatedAt = f.tick()
	r.UpdatedAt = r.CreatedAt
	f.reviews[key] = append(f.reviews[key], r)
	return r, nil
}

// UpdateDepartureSheet only moves UpdatedAt when a value actually changes.
func (f *fakeStore) UpdateDepartureSheet(_ context.Context, companyID, sheetID int64, a store.SheetAmendment) (store.DepartureSheet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := sheetKey{companyID, sheetID}
	sh, ok := f.sheets[key]
	if !ok {
		return store.DepartureSheet{}, fmt.Errorf("departure sheet %d: %w", sheetID, store.ErrNotFound)
	}
	changed := false
	if a.OdometerPhotoRef != nil && (sh.OdometerPhotoRef == nil || *sh.OdometerPhotoRef != *a.OdometerPhotoRef) {
		v := *a.OdometerPhotoRef
		sh.OdometerPhotoRef = &v
		changed = true
	}
	if a.FuelVoucherID != nil && (sh.FuelVoucherID == nil || *sh.FuelVoucherID != *a.FuelVoucherID) {
		v := *a.FuelVoucherID
		sh.FuelVoucherID = &v
		changed = true
	}
	if a.FuelPercentage != nil && sh.FuelPercentage != *a.FuelPercentage {
		sh.FuelPercentage = *a.FuelPercentage
		changed = true
	}
	if changed {
		sh.UpdatedAt = f.tick()
		f.sheets[key] = sh
	}
	return sh, nil
}

func (f *fakeStore) GetDepartureSheet(_ context.Context, companyID, sheetID int64) (store.DepartureSheet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sh, ok := f.sheets[sheetKey{companyID, sheetID}]
	if !ok {
		return store.DepartureSheet{}, fmt.Errorf("departure sheet %d: %w", sheetID, store.ErrNotFound)
	}
	return sh, nil
}

func (f *fakeStore) ListDepartureSheets(_ context.Context, companyID int64, filter store.SheetFilter) ([]store.DepartureSheet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.DepartureSheet{}
	for key, sh := range f.sheets {
		if key.companyID != companyID {
			continue
		}
		if filter.VehicleID > 0 && sh.VehicleID != filter.VehicleID {
			continue
		}
		if filter.Platform != "" && sh.Platform != filter.Platform {
			continue
		}
		out = append(out, sh)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (f *fakeStore) ListChecklistReviews(_ context.Context, companyID, sheetID int64) ([]store.ChecklistItemReview, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.ChecklistItemReview{}, f.reviews[sheetKey{companyID, sheetID}]...), nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) sheetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sheets)
}

type fakePhotos struct {
	mu      sync.Mutex
	objects map[string]string
	putErr  error
}

func (f *fakePhotos) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	if f.putErr != nil {
		return f.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = string(data)
	return nil
}

func (f *fakePhotos) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakePhotos) PresignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://photos.test/" + key, nil
}

func (f *fakePhotos) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

type fakeSearch struct {
	mu      sync.Mutex
	indexed []search.SheetRecord
	last    search.Query
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = q
	results := []search.Result{}
	for _, rec := range f.indexed {
		if rec.CompanyID == q.CompanyID && strings.Contains(rec.Plate, q.Text) {
			results = append(results, search.Result{SheetID: rec.SheetID, Plate: rec.Plate, Platform: rec.Platform})
		}
	}
	return search.Response{Results: results, Total: len(results), Query: q.Text, Source: search.SourcePostgres}
}

func (f *fakeSearch) IndexSheet(record search.SheetRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, record)
}

func (f *fakeSearch) records() []search.SheetRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]search.SheetRecord(nil), f.indexed...)
}

type testEnv struct {
	catalog *fakeCatalog
	store   *fakeStore
	drafts  *drafts.RedisStore
	redis   *miniredis.Miniredis
	photos  *fakePhotos
	search  *fakeSearch
}

const (
	testPilotID   int64 = 7
	testVehicleID int64 = 3
	testVoucherID int64 = 11
)

var testOperator = auth.Operator{ID: "u-1", Name: "Lucia Paredes", Role: "operator", CompanyID: 1}

// newTestService wires a service for company 1 with eight active checklist
// items, one pilot, one vehicle at 1000 km and a departure sheet sequence
// that last handed out 41.
func newTestService(t *testing.T) (*Service, *testEnv) {
	t.Helper()

	mr := miniredis.RunT(t)
	draftStore, err := drafts.NewRedisStore("redis://"+mr.Addr(), time.Hour)
	if err != nil {
		t.Fatalf("drafts.NewRedisStore() error = %v", err)
	}
	t.Cleanup(func() { _ = draftStore.Close() })

	vehicleID := testVehicleID
	cat := &fakeCatalog{
		pilots: map[int64]catalog.Pilot{
			testPilotID: {ID: testPilotID, CompanyID: 1, FullName: "Rosa Quispe", Active: true},
			8:           {ID: 8, CompanyID: 2, FullName: "Other Company", Active: true},
		},
		vehicles: map[int64]catalog.Vehicle{
			testVehicleID: {ID: testVehicleID, CompanyID: 1, Plate: "ABC-123", LastOdometer: 1000, Active: true},
		},
		vouchers: map[int64]catalog.FuelVoucher{
			testVoucherID: {ID: testVoucherID, CompanyID: 1, VoucherNumber: "V-0011", VehicleID: &vehicleID, Active: true},
			12:            {ID: 12, CompanyID: 1, VoucherNumber: "V-0012", Active: true},
		},
	}
	for i := int64(1); i <= 8; i++ {
		cat.items = append(cat.items, catalog.ChecklistItem{
			ID:          i,
			CompanyID:   1,
			Code:        fmt.Sprintf("CHK-%02d", i),
			Description: fmt.Sprintf("Check %d", i),
			Active:      true,
			SortOrder:   int(i),
		})
	}

	st := newFakeStore()
	st.sequences[seqKey(1, store.DocumentTypeDepartureSheet)] = 41

	env := &testEnv{
		catalog: cat,
		store:   st,
		drafts:  draftStore,
		redis:   mr,
		photos:  &fakePhotos{objects: map[string]string{}},
		search:  &fakeSearch{},
	}

	var ids int
	var idMu sync.Mutex
	svc := &Service{
		rules:   sheet.DefaultRules(),
		catalog: env.catalog,
		store:   env.store,
		drafts:  env.drafts,
		photos:  env.photos,
		search:  env.search,
		export:  export.NewService(),
		logger:  zap.NewNop(),
		now:     func() time.Time { return time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC) },
		newID: func(prefix string) string {
			idMu.Lock()
			defer idMu.Unlock()
			ids++
			return fmt.Sprintf("%s_%d", prefix, ids)
		},
	}
	return svc, env
}

func ptr[T any](v T) *T { return &v }

func mustOpenDraft(t *testing.T, svc *Service) DraftView {
	t.Helper()
	view, err := svc.OpenDraft(context.Background(), testOperator)
	if err != nil {
		t.Fatalf("OpenDraft() error = %v", err)
	}
	return view
}

// completeHeader fills every header field with values that pass validation.
func completeHeader(t *testing.T, svc *Service, draftID string) DraftView {
	t.Helper()
	view, err := svc.UpdateDraftHeader(context.Background(), testOperator, draftID, sheet.HeaderPatch{
		Platform:        ptr("yango"),
		PilotID:         ptr(testPilotID),
		VehicleID:       ptr(testVehicleID),
		OdometerReading: ptr(int64(1200)),
		FuelPercentage:  ptr(60),
		Notes:           ptr("  first shift  "),
	})
	if err != nil {
		t.Fatalf("UpdateDraftHeader() error = %v", err)
	}
	return view
}

func attachPhotos(t *testing.T, svc *Service, draftID string, n int) DraftView {
	t.Helper()
	var view DraftView
	for i := 0; i < n; i++ {
		var err error
		view, err = svc.AttachRequiredPhoto(context.Background(), testOperator, draftID, strings.NewReader("jpeg-bytes"), 10, "image/jpeg")
		if err != nil {
			t.Fatalf("AttachRequiredPhoto(%d) error = %v", i, err)
		}
	}
	return view
}

// readyDraft opens a draft with a valid header, the required photos and
// items 2, 4 and 6 reviewed.
func readyDraft(t *testing.T, svc *Service) DraftView {
	t.Helper()
	ctx := context.Background()
	view, err := svc.OpenDraft(ctx, testOperator)
	if err != nil {
		t.Fatalf("OpenDraft() error = %v", err)
	}
	completeHeader(t, svc, view.ID)
	attachPhotos(t, svc, view.ID, svc.rules.RequiredPhotos)
	for _, id := range []int64{2, 4, 6} {
		if view, err = svc.PassItem(ctx, testOperator, view.ID, id); err != nil {
			t.Fatalf("PassItem(%d) error = %v", id, err)
		}
	}
	if view, err = svc.AnnotateItem(ctx, testOperator, view.ID, 4, "left mirror loose"); err != nil {
		t.Fatalf("AnnotateItem() error = %v", err)
	}
	if view, err = svc.SetItemPhoto(ctx, testOperator, view.ID, 6, true); err != nil {
		t.Fatalf("SetItemPhoto() error = %v", err)
	}
	return view
}
