package reconciler

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bidwatch/go/internal/bidding/clock"
	"github.com/mcdev12/bidwatch/go/internal/bidding/events"
	"github.com/mcdev12/bidwatch/go/internal/bidding/identity"
	"github.com/mcdev12/bidwatch/go/internal/bidding/ledger"
	"github.com/mcdev12/bidwatch/go/internal/bidding/metrics"
	"github.com/mcdev12/bidwatch/go/internal/models"
)

// DefaultDedupeSize is how many applied event ids are remembered.
const DefaultDedupeSize = 4096

// Outcome describes what happened to an event.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeUntracked Outcome = "untracked"
	OutcomeMalformed Outcome = "malformed"
	OutcomeStale     Outcome = "stale"
	OutcomeDuplicate Outcome = "duplicate"
)

const kindResync = "resync"

// Result tells the caller which single lot needs its view recomputed.
type Result struct {
	LotID   string
	Outcome Outcome
	// NeedsResync is set when a bid extended the deadline of a lot the local clock had
	// already ended. Only a server snapshot may reopen it.
	NeedsResync bool
}

// Changed reports whether the ledger entry was mutated.
func (r Result) Changed() bool { return r.Outcome == OutcomeApplied }

// Reconciler applies push events and snapshots to the ledger.
type Reconciler struct {
	store    *ledger.Store
	identity identity.Identity
	clock    clock.Clock
	metrics  metrics.Collector
	seen     *lru.Cache
}

// Option configures a Reconciler.
type Option func(*options)

type options struct {
	clock      clock.Clock
	metrics    metrics.Collector
	dedupeSize int
}

func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

func WithMetrics(m metrics.Collector) Option { return func(o *options) { o.metrics = m } }

// WithDedupeSize bounds the number of remembered event ids.
func WithDedupeSize(n int) Option { return func(o *options) { o.dedupeSize = n } }

// New creates a reconciler working on store, comparing leaders against id.
func New(store *ledger.Store, id identity.Identity, opts ...Option) (*Reconciler, error) {
	o := options{
		clock:      clock.NewReal(),
		metrics:    metrics.NoOp{},
		dedupeSize: DefaultDedupeSize,
	}
	for _, opt := range opts {
		opt(&o)
	}

	seen, err := lru.New(o.dedupeSize)
	if err != nil {
		return nil, fmt.Errorf("create dedupe cache: %w", err)
	}

	return &Reconciler{
		store:    store,
		identity: id,
		clock:    o.clock,
		metrics:  o.metrics,
		seen:     seen,
	}, nil
}

// Apply dispatches ev to the matching handler.
func (r *Reconciler) Apply(ev events.Event) Result {
	switch e := ev.(type) {
	case events.BidAccepted:
		return r.ApplyBidEvent(e)
	case events.AuctionEnded:
		return r.ApplyAuctionEnded(e)
	case events.ResyncSnapshot:
		return r.ApplySnapshot(e.Snapshot)
	default:
		log.Warn().Str("type", fmt.Sprintf("%T", ev)).Msg("dropping event of unhandled type")
		return Result{Outcome: OutcomeMalformed}
	}
}

// ApplyBidEvent applies a bidAccepted event. Bad, stale and duplicate events are reported
// through the outcome only; nothing is returned as an error.
func (r *Reconciler) ApplyBidEvent(e events.BidAccepted) Result {
	res := Result{LotID: e.LotID}

	if reason := validateBid(e); reason != "" {
		log.Warn().
			Str("lot_id", e.LotID).
			Str("event_id", e.EventID).
			Str("reason", reason).
			Msg("dropping malformed bid event")
		res.Outcome = OutcomeMalformed
		return r.finish(string(events.EventTypeBidAccepted), res)
	}

	if r.alreadySeen(e.EventID) {
		res.Outcome = OutcomeDuplicate
		return r.finish(string(events.EventTypeBidAccepted), res)
	}

	now := r.clock.Now()
	found := r.store.Update(e.LotID, func(lot *models.TrackedLot) {
		res.Outcome, res.NeedsResync = r.applyBid(lot, e, now)
	})
	if !found {
		res.Outcome = OutcomeUntracked
	}
	if res.Outcome == OutcomeApplied {
		r.remember(e.EventID)
	}

	return r.finish(string(events.EventTypeBidAccepted), res)
}

func (r *Reconciler) applyBid(lot *models.TrackedLot, e events.BidAccepted, now time.Time) (Outcome, bool) {
	if lot.EndConfirmed {
		return OutcomeStale, false
	}

	if e.Sequence != nil && lot.LastEventSeq > 0 {
		if *e.Sequence <= lot.LastEventSeq {
			return OutcomeStale, false
		}
	} else if !advancesByMagnitude(lot, e) {
		return OutcomeStale, false
	}

	price := e.NewPrice
	if price < lot.CurrentPrice {
		log.Warn().
			Str("lot_id", lot.LotID).
			Int64("current_price", int64(lot.CurrentPrice)).
			Int64("new_price", int64(e.NewPrice)).
			Msg("newer bid event carries a lower price, keeping current price")
		price = lot.CurrentPrice
	}

	count := lot.BidCount + 1
	if e.NewBidCount != nil {
		count = *e.NewBidCount
	}
	if count < lot.BidCount {
		count = lot.BidCount
	}

	lot.CurrentPrice = price
	lot.BidCount = count
	lot.IsLocalUserLeading = e.LeadingUserID == r.identity.LocalUserID()
	if e.Sequence != nil && *e.Sequence > lot.LastEventSeq {
		lot.LastEventSeq = *e.Sequence
	}
	lot.UpdatedAt = now

	needsResync := false
	if e.EndsAt != nil && e.EndsAt.After(lot.EndsAt) {
		log.Info().
			Str("lot_id", lot.LotID).
			Time("old_ends_at", lot.EndsAt).
			Time("new_ends_at", *e.EndsAt).
			Msg("auction extended by late bid")
		lot.EndsAt = *e.EndsAt
		switch lot.Lifecycle {
		case models.LifecycleClosing:
			lot.Lifecycle = models.LifecycleOpen
		case models.LifecycleEnded:
			needsResync = true
		}
	}

	return OutcomeApplied, needsResync
}

// advancesByMagnitude is the ordering rule for events without usable sequence numbers:
// a newer bid never lowers the price.
func advancesByMagnitude(lot *models.TrackedLot, e events.BidAccepted) bool {
	if e.NewPrice > lot.CurrentPrice {
		return true
	}
	if e.NewPrice < lot.CurrentPrice {
		return false
	}
	if lot.BidCount == 0 {
		return true
	}
	return e.NewBidCount != nil && *e.NewBidCount > lot.BidCount
}

// ApplyAuctionEnded applies the server's end notification. It overrides any end the
// local countdown inferred and is a no-op once the end is confirmed.
func (r *Reconciler) ApplyAuctionEnded(e events.AuctionEnded) Result {
	res := Result{LotID: e.LotID}

	if e.LotID == "" || e.FinalPrice < 0 {
		log.Warn().
			Str("lot_id", e.LotID).
			Str("event_id", e.EventID).
			Msg("dropping malformed auction ended event")
		res.Outcome = OutcomeMalformed
		return r.finish(string(events.EventTypeAuctionEnded), res)
	}

	if r.alreadySeen(e.EventID) {
		res.Outcome = OutcomeDuplicate
		return r.finish(string(events.EventTypeAuctionEnded), res)
	}

	now := r.clock.Now()
	found := r.store.Update(e.LotID, func(lot *models.TrackedLot) {
		if lot.EndConfirmed {
			res.Outcome = OutcomeDuplicate
			return
		}

		lot.Lifecycle = models.LifecycleEnded
		lot.EndConfirmed = true
		if e.FinalPrice >= lot.CurrentPrice {
			lot.CurrentPrice = e.FinalPrice
		}
		lot.IsLocalUserLeading = e.WinningUserID != "" && e.WinningUserID == r.identity.LocalUserID()
		if e.WinningUserID != "" && lot.BidCount == 0 {
			lot.BidCount = 1
		}
		if e.Sequence != nil && *e.Sequence > lot.LastEventSeq {
			lot.LastEventSeq = *e.Sequence
		}
		lot.UpdatedAt = now
		res.Outcome = OutcomeApplied
	})
	if !found {
		res.Outcome = OutcomeUntracked
	}
	if res.Outcome == OutcomeApplied {
		r.remember(e.EventID)
	}

	return r.finish(string(events.EventTypeAuctionEnded), res)
}

// ApplySnapshot replaces the ledger entry with an authoritative snapshot. This is the only
// path allowed to lower prices or reopen an ended lot.
func (r *Reconciler) ApplySnapshot(s models.LotSnapshot) Result {
	res := Result{LotID: s.LotID}
	if s.LotID == "" {
		res.Outcome = OutcomeMalformed
		return r.finish(kindResync, res)
	}
	if err := s.Validate(); err != nil {
		log.Warn().Err(err).Str("lot_id", s.LotID).Msg("dropping malformed snapshot")
		res.Outcome = OutcomeMalformed
		return r.finish(kindResync, res)
	}

	now := r.clock.Now()
	local := r.identity.LocalUserID()
	found := r.store.Update(s.LotID, func(lot *models.TrackedLot) {
		lot.ApplySnapshot(s, local, now)
	})
	if found {
		res.Outcome = OutcomeApplied
	} else {
		res.Outcome = OutcomeUntracked
	}

	return r.finish(kindResync, res)
}

func (r *Reconciler) finish(kind string, res Result) Result {
	r.metrics.RecordEventApplied(kind, string(res.Outcome))
	if res.Outcome == OutcomeStale || res.Outcome == OutcomeDuplicate {
		log.Debug().
			Str("lot_id", res.LotID).
			Str("kind", kind).
			Str("outcome", string(res.Outcome)).
			Msg("event discarded")
	}
	return res
}

func (r *Reconciler) alreadySeen(eventID string) bool {
	return eventID != "" && r.seen.Contains(eventID)
}

func (r *Reconciler) remember(eventID string) {
	if eventID != "" {
		r.seen.Add(eventID, struct{}{})
	}
}

func validateBid(e events.BidAccepted) string {
	switch {
	case e.LotID == "":
		return "missing lot id"
	case e.NewPrice <= 0:
		return "missing new price"
	case e.LeadingUserID == "":
		return "missing leading user id"
	case e.NewBidCount != nil && *e.NewBidCount < 0:
		return "negative bid count"
	}
	return ""
}
