// Package sheet holds the departure sheet workflow rules: the checklist
// session state machine, header validation and the small value types the
// validator consumes.
package sheet

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// ItemID identifies a checklist item definition.
type ItemID int64

// ItemState is the bucket an item sits in within one session.
type ItemState string

const (
	StatePending  ItemState = "PENDING"
	StateReviewed ItemState = "REVIEWED"
)

// MaxAnnotationLength bounds the free text attached to a reviewed item.
const MaxAnnotationLength = 500

var (
	// ErrUnknownItem is returned when an item is not part of the session catalog.
	ErrUnknownItem = errors.New("checklist item not in catalog")
	// ErrInvalidTransition is returned when an operation does not apply to the item's current state.
	ErrInvalidTransition = errors.New("invalid checklist transition")
	// ErrAnnotationTooLong is returned when an annotation exceeds MaxAnnotationLength.
	ErrAnnotationTooLong = errors.New("annotation too long")
	// ErrIntegrity signals a broken session invariant. The session must be discarded.
	ErrIntegrity = errors.New("checklist session integrity violated")
)

// Review is the per-item data carried while an item is reviewed.
type Review struct {
	Annotation string `json:"annotation"`
	HasPhoto   bool   `json:"hasPhoto"`
}

// ReviewedItem pairs a reviewed item with its review data.
type ReviewedItem struct {
	ItemID ItemID `json:"itemId"`
	Review
}

// Session partitions a checklist catalog into pending and reviewed items.
// A Session is not safe for concurrent use.
type Session struct {
	catalog  []ItemID
	pending  map[ItemID]struct{}
	reviewed map[ItemID]Review
}

// NewSession seeds a session with every catalog item pending. Duplicate ids
// keep their first position.
func NewSession(catalog []ItemID) *Session {
	s := &Session{}
	s.Reseed(catalog)
	return s
}

// Reseed replaces the catalog and returns every item to pending.
func (s *Session) Reseed(catalog []ItemID) {
	seen := make(map[ItemID]struct{}, len(catalog))
	ordered := make([]ItemID, 0, len(catalog))
	for _, id := range catalog {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ordered = append(ordered, id)
	}
	s.catalog = ordered
	s.Reset()
}

// Reset returns the session to its seeded state.
func (s *Session) Reset() {
	s.pending = make(map[ItemID]struct{}, len(s.catalog))
	for _, id := range s.catalog {
		s.pending[id] = struct{}{}
	}
	s.reviewed = make(map[ItemID]Review)
}

// Pass moves a pending item to reviewed with an empty annotation and no photo.
func (s *Session) Pass(id ItemID) error {
	if err := s.require(id, StatePending); err != nil {
		return err
	}
	delete(s.pending, id)
	s.reviewed[id] = Review{}
	return nil
}

// Unpass moves a reviewed item back to pending, dropping its annotation and photo flag.
func (s *Session) Unpass(id ItemID) error {
	if err := s.require(id, StateReviewed); err != nil {
		return err
	}
	delete(s.reviewed, id)
	s.pending[id] = struct{}{}
	return nil
}

// Annotate replaces the annotation of a reviewed item.
func (s *Session) Annotate(id ItemID, text string) error {
	if err := s.require(id, StateReviewed); err != nil {
		return err
	}
	if utf8.RuneCountInString(text) > MaxAnnotationLength {
		return fmt.Errorf("item %d: %w", id, ErrAnnotationTooLong)
	}
	review := s.reviewed[id]
	review.Annotation = text
	s.reviewed[id] = review
	return nil
}

// AttachPhoto flags a reviewed item as carrying a photo.
func (s *Session) AttachPhoto(id ItemID) error {
	return s.setPhoto(id, true)
}

// DetachPhoto clears the photo flag of a reviewed item.
func (s *Session) DetachPhoto(id ItemID) error {
	return s.setPhoto(id, false)
}

func (s *Session) setPhoto(id ItemID, value bool) error {
	if err := s.require(id, StateReviewed); err != nil {
		return err
	}
	review := s.reviewed[id]
	review.HasPhoto = value
	s.reviewed[id] = review
	return nil
}

// State reports the bucket of an item. ok is false for items outside the catalog.
func (s *Session) State(id ItemID) (state ItemState, ok bool) {
	if _, found := s.reviewed[id]; found {
		return StateReviewed, true
	}
	if _, found := s.pending[id]; found {
		return StatePending, true
	}
	return "", false
}

// Catalog returns the seeded item ids in catalog order.
func (s *Session) Catalog() []ItemID {
	return append([]ItemID(nil), s.catalog...)
}

// Pending returns pending item ids in catalog order.
func (s *Session) Pending() []ItemID {
	out := make([]ItemID, 0, len(s.pending))
	for _, id := range s.catalog {
		if _, ok := s.pending[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// Reviewed returns reviewed items in catalog order.
func (s *Session) Reviewed() []ReviewedItem {
	out := make([]ReviewedItem, 0, len(s.reviewed))
	for _, id := range s.catalog {
		if review, ok := s.reviewed[id]; ok {
			out = append(out, ReviewedItem{ItemID: id, Review: review})
		}
	}
	return out
}

// ReviewedCount returns the number of reviewed items.
func (s *Session) ReviewedCount() int {
	return len(s.reviewed)
}

// Check verifies pending and reviewed are disjoint and together cover the catalog.
func (s *Session) Check() error {
	if len(s.pending)+len(s.reviewed) != len(s.catalog) {
		return fmt.Errorf("%w: %d pending + %d reviewed != %d catalog items",
			ErrIntegrity, len(s.pending), len(s.reviewed), len(s.catalog))
	}
	for _, id := range s.catalog {
		_, isPending := s.pending[id]
		_, isReviewed := s.reviewed[id]
		if isPending == isReviewed {
			return fmt.Errorf("%w: item %d pending=%t reviewed=%t", ErrIntegrity, id, isPending, isReviewed)
		}
	}
	return nil
}

func (s *Session) require(id ItemID, want ItemState) error {
	state, ok := s.State(id)
	if !ok {
		return fmt.Errorf("item %d: %w", id, ErrUnknownItem)
	}
	if state != want {
		return fmt.Errorf("item %d is %s, expected %s: %w", id, state, want, ErrInvalidTransition)
	}
	return nil
}

// Snapshot is the serializable form of a session.
type Snapshot struct {
	Catalog  []ItemID       `json:"catalog"`
	Pending  []ItemID       `json:"pending"`
	Reviewed []ReviewedItem `json:"reviewed"`
}

// Snapshot captures the session in catalog order.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		Catalog:  s.Catalog(),
		Pending:  s.Pending(),
		Reviewed: s.Reviewed(),
	}
}

// Restore rebuilds a session from a snapshot and verifies its invariants.
// Any overlap, gap or foreign id yields ErrIntegrity.
func Restore(snap Snapshot) (*Session, error) {
	s := &Session{
		catalog:  make([]ItemID, 0, len(snap.Catalog)),
		pending:  make(map[ItemID]struct{}, len(snap.Pending)),
		reviewed: make(map[ItemID]Review, len(snap.Reviewed)),
	}
	known := make(map[ItemID]struct{}, len(snap.Catalog))
	for _, id := range snap.Catalog {
		if _, dup := known[id]; dup {
			return nil, fmt.Errorf("%w: duplicate catalog item %d", ErrIntegrity, id)
		}
		known[id] = struct{}{}
		s.catalog = append(s.catalog, id)
	}
	for _, id := range snap.Pending {
		if _, ok := known[id]; !ok {
			return nil, fmt.Errorf("%w: pending item %d not in catalog", ErrIntegrity, id)
		}
		if _, dup := s.pending[id]; dup {
			return nil, fmt.Errorf("%w: item %d pending twice", ErrIntegrity, id)
		}
		s.pending[id] = struct{}{}
	}
	for _, item := range snap.Reviewed {
		if _, ok := known[item.ItemID]; !ok {
			return nil, fmt.Errorf("%w: reviewed item %d not in catalog", ErrIntegrity, item.ItemID)
		}
		if _, dup := s.reviewed[item.ItemID]; dup {
			return nil, fmt.Errorf("%w: item %d reviewed twice", ErrIntegrity, item.ItemID)
		}
		s.reviewed[item.ItemID] = item.Review
	}
	if err := s.Check(); err != nil {
		return nil, err
	}
	return s, nil
}
