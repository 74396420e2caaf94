// Package session tracks, per account and per booking category, the state the
// bot has observed on the portal during the current polling cycle.
package session

import (
	"fmt"
	"strings"

	"github.com/kieran-lim/CDC-Camper-Bot/internal/domain/slot"
)

// Category identifies an independent booking domain on the portal. All state
// is partitioned by category; there is no cross-category sharing except the
// explicit practical-test eligibility check in the workflow.
type Category string

const (
	CategoryPractical     Category = "practical"
	CategoryPracticalTest Category = "pt"
)

// AllCategories lists every known category in its canonical processing order.
var AllCategories = []Category{CategoryPractical, CategoryPracticalTest}

// ParseCategory maps a configuration string onto a known category.
func ParseCategory(s string) (Category, error) {
	switch Category(strings.ToLower(strings.TrimSpace(s))) {
	case CategoryPractical:
		return CategoryPractical, nil
	case CategoryPracticalTest:
		return CategoryPracticalTest, nil
	}
	return "", fmt.Errorf("unknown session category %q", s)
}

// ClassifyLesson determines the category a lesson label belongs to. The
// portal tags practical-test rows with "PT"; everything else is treated as a
// practical lesson.
func ClassifyLesson(lessonLabel string) Category {
	if strings.Contains(lessonLabel, "PT") {
		return CategoryPracticalTest
	}
	return CategoryPractical
}

// SlotKind names the three slot collections a poll overwrites wholesale.
type SlotKind int

const (
	KindAvailable SlotKind = iota
	KindReserved
	KindBooked
)

// State is the per-category view of the portal for one account. Everything
// except CachedEarlier is transient: overwritten on every poll and zeroed by
// Reset at the end of the cycle.
type State struct {
	// VisibleDates is the ordered sequence of dates currently rendered by
	// the booking calendar.
	VisibleDates []string

	Available slot.Collection // currently advertised open slots
	Reserved  slot.Collection // pending, unconfirmed reservations held by the account
	Booked    slot.Collection // confirmed bookings

	// Earlier is derived by ComputeEarlier: the subset of Available that
	// starts strictly before every slot in Booked.
	Earlier slot.Collection

	// CachedEarlier is the Earlier snapshot from the previous poll cycle.
	// It survives Reset so the workflow can detect genuinely new slots.
	CachedEarlier slot.Collection

	// LessonLabel is the free-text lesson descriptor from the portal, used
	// to classify rows and to detect the terminal revision stage.
	LessonLabel string

	// CanBookNext is the category-specific eligibility flag.
	CanBookNext bool

	// HasAutoReserved marks that an automatic reservation was already
	// placed this cycle. Only meaningful for the practical category.
	HasAutoReserved bool
}

// NewState returns an empty state, eligible for booking.
func NewState() *State {
	return &State{
		Available:     slot.Collection{},
		Reserved:      slot.Collection{},
		Booked:        slot.Collection{},
		Earlier:       slot.Collection{},
		CachedEarlier: slot.Collection{},
		CanBookNext:   true,
	}
}

// SetSlots replaces one of the three polled collections wholesale. The poll
// is authoritative for the cycle; there is no partial merge.
func (s *State) SetSlots(kind SlotKind, c slot.Collection) {
	if c == nil {
		c = slot.Collection{}
	}
	switch kind {
	case KindAvailable:
		s.Available = c
	case KindReserved:
		s.Reserved = c
	case KindBooked:
		s.Booked = c
	}
}

// ComputeEarlier derives Earlier from the current Available and Booked
// collections. Pure function of current state; safe to call repeatedly.
func (s *State) ComputeEarlier() {
	s.Earlier = slot.EarlierThan(s.Available, s.Booked)
}

// Reset returns every field to its zero value except CachedEarlier, which is
// explicitly carried into the next polling cycle for change detection.
func (s *State) Reset() {
	cached := s.CachedEarlier
	*s = *NewState()
	s.CachedEarlier = cached
}

// Set holds one State per category for a single account session.
type Set map[Category]*State

// NewSet builds an empty state for every known category.
func NewSet() Set {
	set := Set{}
	for _, cat := range AllCategories {
		set[cat] = NewState()
	}
	return set
}

// ResetAll resets every category's state at the end of a cycle.
func (s Set) ResetAll() {
	for _, st := range s {
		st.Reset()
	}
}
