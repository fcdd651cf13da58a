package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fleetdesk/api/internal/auth"
	"fleetdesk/api/internal/catalog"
	"fleetdesk/api/internal/drafts"
	"fleetdesk/api/internal/photos"
	"fleetdesk/api/internal/sheet"
	"fleetdesk/api/internal/store"
)

// DraftItem is one checklist line of a draft as shown to the operator.
type DraftItem struct {
	ItemID      int64           `json:"itemId"`
	Code        string          `json:"code"`
	Description string          `json:"description"`
	State       sheet.ItemState `json:"state"`
	Annotation  string          `json:"annotation,omitempty"`
	HasPhoto    bool            `json:"hasPhoto"`
}

// DraftView is a draft with its validation result. Errors is recomputed on
// every read and after every change.
type DraftView struct {
	ID             string            `json:"id"`
	Header         sheet.Header      `json:"header"`
	Items          []DraftItem       `json:"items"`
	PendingCount   int               `json:"pendingCount"`
	ReviewedCount  int               `json:"reviewedCount"`
	PhotosAttached int               `json:"photosAttached"`
	PhotosRequired int               `json:"photosRequired"`
	LastOdometer   int64             `json:"lastOdometer"`
	NextNumber     int64             `json:"nextNumber"`
	Errors         sheet.FieldErrors `json:"errors"`
	CanSubmit      bool              `json:"canSubmit"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// SubmitResult is the stored sheet plus the draft, reset for the next
// departure.
type SubmitResult struct {
	Sheet SheetDetail `json:"sheet"`
	Draft DraftView   `json:"draft"`
}

// OpenDraft starts a departure sheet with every active checklist item
// pending and an empty header.
func (s *Service) OpenDraft(ctx context.Context, op auth.Operator) (DraftView, error) {
	items, err := s.catalog.ListActiveChecklistItems(ctx, op.CompanyID)
	if err != nil {
		return DraftView{}, err
	}
	session := sheet.NewSession(itemIDs(items))
	now := s.now().UTC()
	draft := drafts.Draft{
		ID:           s.newID("draft"),
		CompanyID:    op.CompanyID,
		OperatorID:   op.ID,
		OperatorName: op.Name,
		Header:       sheet.Header{Photos: []sheet.PhotoRef{}},
		Checklist:    session.Snapshot(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.drafts.Save(ctx, draft); err != nil {
		return DraftView{}, err
	}
	s.logger.Debug("draft opened", zap.String("draft_id", draft.ID), zap.Int("items", len(items)))
	return s.committedView(ctx, draft, session), nil
}

func (s *Service) GetDraft(ctx context.Context, op auth.Operator, draftID string) (DraftView, error) {
	draft, session, err := s.loadDraft(ctx, op, draftID)
	if err != nil {
		return DraftView{}, err
	}
	return s.view(ctx, draft, session)
}

func (s *Service) UpdateDraftHeader(ctx context.Context, op auth.Operator, draftID string, patch sheet.HeaderPatch) (DraftView, error) {
	return s.mutate(ctx, op, draftID, func(d *drafts.Draft, _ *sheet.Session) error {
		patch.Apply(&d.Header)
		return nil
	})
}

func (s *Service) PassItem(ctx context.Context, op auth.Operator, draftID string, itemID int64) (DraftView, error) {
	return s.mutate(ctx, op, draftID, func(_ *drafts.Draft, session *sheet.Session) error {
		return session.Pass(sheet.ItemID(itemID))
	})
}

func (s *Service) UnpassItem(ctx context.Context, op auth.Operator, draftID string, itemID int64) (DraftView, error) {
	return s.mutate(ctx, op, draftID, func(_ *drafts.Draft, session *sheet.Session) error {
		return session.Unpass(sheet.ItemID(itemID))
	})
}

func (s *Service) AnnotateItem(ctx context.Context, op auth.Operator, draftID string, itemID int64, text string) (DraftView, error) {
	return s.mutate(ctx, op, draftID, func(_ *drafts.Draft, session *sheet.Session) error {
		return session.Annotate(sheet.ItemID(itemID), text)
	})
}

// SetItemPhoto flags whether a reviewed item has a photo attached.
func (s *Service) SetItemPhoto(ctx context.Context, op auth.Operator, draftID string, itemID int64, attached bool) (DraftView, error) {
	return s.mutate(ctx, op, draftID, func(_ *drafts.Draft, session *sheet.Session) error {
		if attached {
			return session.AttachPhoto(sheet.ItemID(itemID))
		}
		return session.DetachPhoto(sheet.ItemID(itemID))
	})
}

// AttachRequiredPhoto uploads one of the vehicle photos the sheet needs.
func (s *Service) AttachRequiredPhoto(ctx context.Context, op auth.Operator, draftID string, body io.Reader, size int64, contentType string) (DraftView, error) {
	if err := photos.CheckUpload(contentType, size); err != nil {
		return DraftView{}, err
	}
	draft, _, err := s.loadDraft(ctx, op, draftID)
	if err != nil {
		return DraftView{}, err
	}
	if err := s.checkPhotoRoom(draft.Header); err != nil {
		return DraftView{}, err
	}

	photoID := s.newID("p")
	key := photos.DraftPhotoKey(op.CompanyID, draftID, photoID, contentType)
	if err := s.photos.Put(ctx, key, body, size, contentType); err != nil {
		return DraftView{}, err
	}

	view, err := s.mutate(ctx, op, draftID, func(d *drafts.Draft, _ *sheet.Session) error {
		if err := s.checkPhotoRoom(d.Header); err != nil {
			return err
		}
		d.Header.Photos = append(d.Header.Photos, sheet.PhotoRef{ID: photoID, Key: key, ContentType: contentType})
		return nil
	})
	if err != nil {
		s.removePhoto(key)
		return DraftView{}, err
	}
	return view, nil
}

func (s *Service) checkPhotoRoom(h sheet.Header) error {
	if s.rules.RequiredPhotos > 0 && len(h.Photos) >= s.rules.RequiredPhotos {
		return validationError(sheet.FieldPhotos, fmt.Sprintf("all %d photos are already attached", s.rules.RequiredPhotos))
	}
	return nil
}

func (s *Service) DetachRequiredPhoto(ctx context.Context, op auth.Operator, draftID, photoID string) (DraftView, error) {
	var removed string
	view, err := s.mutate(ctx, op, draftID, func(d *drafts.Draft, _ *sheet.Session) error {
		kept := make([]sheet.PhotoRef, 0, len(d.Header.Photos))
		for _, p := range d.Header.Photos {
			if p.ID == photoID {
				removed = p.Key
				continue
			}
			kept = append(kept, p)
		}
		if removed == "" {
			return domainError(http.StatusNotFound, "NOT_FOUND", "Photo not found", map[string]any{"photoId": photoID})
		}
		d.Header.Photos = kept
		return nil
	})
	if err != nil {
		return DraftView{}, err
	}
	s.removePhoto(removed)
	return view, nil
}

// ResetDraft returns every item to pending against the current active
// catalog. The header is kept.
func (s *Service) ResetDraft(ctx context.Context, op auth.Operator, draftID string) (DraftView, error) {
	items, err := s.catalog.ListActiveChecklistItems(ctx, op.CompanyID)
	if err != nil {
		return DraftView{}, err
	}
	return s.mutate(ctx, op, draftID, func(_ *drafts.Draft, session *sheet.Session) error {
		session.Reseed(itemIDs(items))
		return nil
	})
}

// CancelDraft deletes the draft and its uploaded photos.
func (s *Service) CancelDraft(ctx context.Context, op auth.Operator, draftID string) error {
	draft, err := s.ownedDraft(ctx, op, draftID)
	if err != nil {
		return err
	}
	if err := s.drafts.Delete(ctx, draftID); err != nil {
		return err
	}
	for _, p := range draft.Header.Photos {
		s.removePhoto(p.Key)
	}
	return nil
}

// SubmitDraft validates the draft, allocates the sheet number and writes
// the master row with one detail per reviewed item in a single
// transaction. Only after the write commits is the draft reset for the
// next departure; on any failure the draft is left as it was.
func (s *Service) SubmitDraft(ctx context.Context, op auth.Operator, draftID string) (SubmitResult, error) {
	if _, err := s.ownedDraft(ctx, op, draftID); err != nil {
		return SubmitResult{}, err
	}
	locked, err := s.drafts.AcquireSubmitLock(ctx, draftID, submitLockTTL)
	if err != nil {
		return SubmitResult{}, err
	}
	if !locked {
		return SubmitResult{}, domainError(http.StatusConflict, "CONFLICT", "Draft is already being submitted", map[string]any{"draftId": draftID})
	}
	defer s.releaseSubmitLock(draftID)

	draft, session, err := s.loadDraft(ctx, op, draftID)
	if err != nil {
		return SubmitResult{}, err
	}
	res, err := s.resolve(ctx, op.CompanyID, draft.Header)
	if err != nil {
		return SubmitResult{}, err
	}
	if errs := sheet.Validate(draft.Header, session, res.facts, s.rules); !errs.Empty() {
		return SubmitResult{}, errs
	}

	number, err := s.store.AllocateSequence(ctx, op.CompanyID, store.DocumentTypeDepartureSheet)
	if err != nil {
		return SubmitResult{}, err
	}

	reviewed := session.Reviewed()
	details := make([]store.ChecklistItemReview, 0, len(reviewed))
	for _, item := range reviewed {
		details = append(details, store.ChecklistItemReview{
			ItemID:     int64(item.ItemID),
			Annotation: optionalString(item.Annotation),
			HasPhoto:   item.HasPhoto,
			CreatedBy:  op.Name,
		})
	}

	created, stored, err := s.store.CreateDepartureSheet(ctx, masterRecord(op, number, draft.Header, res), details)
	if err != nil {
		s.logger.Warn("departure sheet write failed, draft kept",
			zap.String("draft_id", draftID),
			zap.Int64("allocated_number", number),
			zap.Error(err),
		)
		return SubmitResult{}, err
	}
	created.PilotName = res.pilot.FullName
	s.logger.Info("departure sheet submitted",
		zap.Int64("company_id", op.CompanyID),
		zap.Int64("sheet_id", created.ID),
		zap.Int("reviewed_items", len(stored)),
		zap.String("operator", op.Name),
	)
	s.index(created)

	// The sheet is committed; what follows must not depend on the caller
	// still waiting.
	postCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	items, err := s.catalog.ListActiveChecklistItems(postCtx, op.CompanyID)
	if err != nil {
		s.logger.Warn("refresh checklist after submit, keeping previous catalog", zap.Error(err))
		session.Reset()
	} else {
		session.Reseed(itemIDs(items))
		fillReviewLabels(stored, items)
	}
	draft.Header = sheet.Header{Photos: []sheet.PhotoRef{}}
	draft.Checklist = session.Snapshot()
	draft.UpdatedAt = s.now().UTC()
	if err := s.drafts.Save(postCtx, draft); err != nil {
		s.logger.Error("reset draft after submit, discarding it",
			zap.String("draft_id", draftID),
			zap.Int64("sheet_id", created.ID),
			zap.Error(err),
		)
		if delErr := s.drafts.Delete(postCtx, draftID); delErr != nil {
			s.logger.Error("discard submitted draft", zap.String("draft_id", draftID), zap.Error(delErr))
		}
	}

	return SubmitResult{
		Sheet: SheetDetail{Sheet: created, Reviews: stored},
		Draft: s.committedView(postCtx, draft, session),
	}, nil
}

func (s *Service) releaseSubmitLock(draftID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.drafts.ReleaseSubmitLock(ctx, draftID); err != nil {
		s.logger.Warn("release submit lock", zap.String("draft_id", draftID), zap.Error(err))
	}
}

// loadDraft fetches a draft owned by the operator's company and rebuilds its
// checklist session. A corrupted session discards the draft.
func (s *Service) loadDraft(ctx context.Context, op auth.Operator, draftID string) (drafts.Draft, *sheet.Session, error) {
	draft, err := s.ownedDraft(ctx, op, draftID)
	if err != nil {
		return drafts.Draft{}, nil, err
	}
	session, err := sheet.Restore(draft.Checklist)
	if err != nil {
		s.discardDraft(ctx, draftID, err)
		return drafts.Draft{}, nil, err
	}
	return draft, session, nil
}

// ownedDraft fetches a draft and hides it from other companies.
func (s *Service) ownedDraft(ctx context.Context, op auth.Operator, draftID string) (drafts.Draft, error) {
	draft, err := s.drafts.Get(ctx, draftID)
	if err != nil {
		return drafts.Draft{}, err
	}
	if draft.CompanyID != op.CompanyID {
		return drafts.Draft{}, fmt.Errorf("draft %s: %w", draftID, drafts.ErrNotFound)
	}
	return draft, nil
}

// mutate applies fn to the stored draft atomically and returns the new view.
// Errors from fn leave the stored draft untouched.
func (s *Service) mutate(ctx context.Context, op auth.Operator, draftID string, fn func(*drafts.Draft, *sheet.Session) error) (DraftView, error) {
	var session *sheet.Session
	updated, err := s.drafts.Update(ctx, draftID, func(d *drafts.Draft) error {
		if d.CompanyID != op.CompanyID {
			return fmt.Errorf("draft %s: %w", draftID, drafts.ErrNotFound)
		}
		restored, err := sheet.Restore(d.Checklist)
		if err != nil {
			return err
		}
		if err := fn(d, restored); err != nil {
			return err
		}
		if err := restored.Check(); err != nil {
			return err
		}
		d.Checklist = restored.Snapshot()
		session = restored
		return nil
	})
	if err != nil {
		if errors.Is(err, sheet.ErrIntegrity) {
			s.discardDraft(ctx, draftID, err)
		}
		return DraftView{}, err
	}
	return s.committedView(ctx, updated, session), nil
}

func (s *Service) discardDraft(ctx context.Context, draftID string, cause error) {
	s.logger.Error("discarding corrupted draft", zap.String("draft_id", draftID), zap.Error(cause))
	if err := s.drafts.Delete(context.WithoutCancel(ctx), draftID); err != nil {
		s.logger.Error("delete corrupted draft", zap.String("draft_id", draftID), zap.Error(err))
	}
}

// view enriches a draft with catalog labels, validation and the next
// sheet number.
func (s *Service) view(ctx context.Context, d drafts.Draft, session *sheet.Session) (DraftView, error) {
	var (
		items []catalog.ChecklistItem
		res   resolved
		next  int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		items, err = s.catalog.ListActiveChecklistItems(gctx, d.CompanyID)
		return err
	})
	g.Go(func() (err error) {
		res, err = s.resolve(gctx, d.CompanyID, d.Header)
		return err
	})
	g.Go(func() (err error) {
		next, err = s.store.PeekNextSequence(gctx, d.CompanyID, store.DocumentTypeDepartureSheet)
		return err
	})
	if err := g.Wait(); err != nil {
		return DraftView{}, err
	}

	view := bareView(d, session, s.rules)
	labels := make(map[int64]catalog.ChecklistItem, len(items))
	for _, item := range items {
		labels[item.ID] = item
	}
	for i := range view.Items {
		if item, ok := labels[view.Items[i].ItemID]; ok {
			view.Items[i].Code = item.Code
			view.Items[i].Description = item.Description
		}
	}
	view.LastOdometer = res.facts.LastOdometer
	view.NextNumber = next
	view.Errors = sheet.Validate(d.Header, session, res.facts, s.rules)
	view.CanSubmit = view.Errors.Empty()
	return view, nil
}

// committedView builds the view of a draft whose change is already stored.
// Lookup failures degrade to the bare view validated against trusted
// references, with CanSubmit false.
func (s *Service) committedView(ctx context.Context, d drafts.Draft, session *sheet.Session) DraftView {
	view, err := s.view(ctx, d, session)
	if err == nil {
		return view
	}
	s.logger.Warn("draft view degraded after a stored change",
		zap.String("draft_id", d.ID),
		zap.Error(err),
	)
	view = bareView(d, session, s.rules)
	view.Errors = sheet.Validate(d.Header, session, trustedFacts(d.Header), s.rules)
	view.CanSubmit = false
	return view
}

// trustedFacts assumes every referenced catalog row exists.
func trustedFacts(h sheet.Header) sheet.Facts {
	return sheet.Facts{
		PilotExists:   h.PilotID > 0,
		VehicleExists: h.VehicleID > 0,
		VoucherExists: h.FuelVoucherID != nil,
	}
}

// bareView is the draft without any catalog lookups.
func bareView(d drafts.Draft, session *sheet.Session, rules sheet.Rules) DraftView {
	reviews := make(map[sheet.ItemID]sheet.Review)
	for _, r := range session.Reviewed() {
		reviews[r.ItemID] = r.Review
	}
	catalogIDs := session.Catalog()
	items := make([]DraftItem, 0, len(catalogIDs))
	for _, id := range catalogIDs {
		item := DraftItem{ItemID: int64(id), State: sheet.StatePending}
		if r, ok := reviews[id]; ok {
			item.State = sheet.StateReviewed
			item.Annotation = r.Annotation
			item.HasPhoto = r.HasPhoto
		}
		items = append(items, item)
	}
	tracker := d.Header.PhotoTracker(rules.RequiredPhotos)
	return DraftView{
		ID:             d.ID,
		Header:         d.Header,
		Items:          items,
		PendingCount:   len(session.Pending()),
		ReviewedCount:  session.ReviewedCount(),
		PhotosAttached: tracker.AttachedCount(),
		PhotosRequired: tracker.RequiredCount(),
		Errors:         sheet.FieldErrors{},
		UpdatedAt:      d.UpdatedAt,
	}
}

func itemIDs(items []catalog.ChecklistItem) []sheet.ItemID {
	ids := make([]sheet.ItemID, 0, len(items))
	for _, item := range items {
		ids = append(ids, sheet.ItemID(item.ID))
	}
	return ids
}

func fillReviewLabels(reviews []store.ChecklistItemReview, items []catalog.ChecklistItem) {
	labels := make(map[int64]catalog.ChecklistItem, len(items))
	for _, item := range items {
		labels[item.ID] = item
	}
	for i := range reviews {
		if item, ok := labels[reviews[i].ItemID]; ok {
			reviews[i].ItemCode = item.Code
			reviews[i].ItemDescription = item.Description
		}
	}
}
