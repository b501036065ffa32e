package models

import (
	"errors"
	"time"
)

// ErrMissingEndsAt is returned for a snapshot of an unfinished lot without a close time.
var ErrMissingEndsAt = errors.New("lot snapshot has no ends_at")

// Lifecycle defines where a lot is in its auction lifetime.
type Lifecycle string

const (
	LifecycleScheduled Lifecycle = "scheduled"
	LifecycleOpen      Lifecycle = "open"
	LifecycleClosing   Lifecycle = "closing"
	LifecycleEnded     Lifecycle = "ended"
)

var lifecycleRank = map[Lifecycle]int{
	LifecycleScheduled: 0,
	LifecycleOpen:      1,
	LifecycleClosing:   2,
	LifecycleEnded:     3,
}

// Valid reports whether l is one of the known lifecycle values.
func (l Lifecycle) Valid() bool {
	_, ok := lifecycleRank[l]
	return ok
}

// Before reports whether l comes strictly earlier than other in the forward-only order.
func (l Lifecycle) Before(other Lifecycle) bool {
	return lifecycleRank[l] < lifecycleRank[other]
}

// TrackedLot is the client-side projection of one observed auction lot.
type TrackedLot struct {
	LotID              string    `json:"lot_id"`
	StartsAt           time.Time `json:"starts_at,omitempty"`
	EndsAt             time.Time `json:"ends_at"`
	CurrentPrice       Amount    `json:"current_price"`
	BidCount           int       `json:"bid_count"`
	IsLocalUserLeading bool      `json:"is_local_user_leading"`
	Lifecycle          Lifecycle `json:"lifecycle"`
	// EndConfirmed is only set by the server, never by the local countdown.
	EndConfirmed bool      `json:"end_confirmed"`
	LastEventSeq uint64    `json:"last_event_seq"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// LotSnapshot is the authoritative lot state returned by the lots API.
type LotSnapshot struct {
	LotID         string    `json:"lot_id"`
	CurrentPrice  Amount    `json:"current_price"`
	BidCount      int       `json:"bid_count"`
	StartsAt      time.Time `json:"starts_at,omitempty"`
	EndsAt        time.Time `json:"ends_at"`
	Lifecycle     Lifecycle `json:"lifecycle"`
	LeadingUserID string    `json:"leading_user_id,omitempty"`
	Sequence      *uint64   `json:"sequence,omitempty"`
}

// Validate reports whether s can be tracked. Only an ended lot may omit EndsAt.
func (s LotSnapshot) Validate() error {
	if s.EndsAt.IsZero() && s.Lifecycle != LifecycleEnded {
		return ErrMissingEndsAt
	}
	return nil
}

// NewTrackedLot builds the initial ledger entry for a snapshot as seen by localUserID.
func NewTrackedLot(s LotSnapshot, localUserID string, now time.Time) *TrackedLot {
	lot := &TrackedLot{LotID: s.LotID}
	lot.ApplySnapshot(s, localUserID, now)
	return lot
}

// ApplySnapshot replaces the lot state with s. Sequence is only moved when s carries one.
func (l *TrackedLot) ApplySnapshot(s LotSnapshot, localUserID string, now time.Time) {
	lifecycle := s.Lifecycle
	if !lifecycle.Valid() {
		lifecycle = LifecycleOpen
	}

	l.CurrentPrice = s.CurrentPrice
	l.BidCount = s.BidCount
	l.StartsAt = s.StartsAt
	l.EndsAt = s.EndsAt
	l.Lifecycle = lifecycle
	l.EndConfirmed = lifecycle == LifecycleEnded
	l.IsLocalUserLeading = s.LeadingUserID != "" && s.LeadingUserID == localUserID
	if s.Sequence != nil {
		l.LastEventSeq = *s.Sequence
	}
	l.UpdatedAt = now
}
