package tracker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bidwatch/go/clients"
	"github.com/mcdev12/bidwatch/go/internal/bidding/clock"
	"github.com/mcdev12/bidwatch/go/internal/bidding/countdown"
	"github.com/mcdev12/bidwatch/go/internal/bidding/events"
	"github.com/mcdev12/bidwatch/go/internal/bidding/identity"
	"github.com/mcdev12/bidwatch/go/internal/bidding/ledger"
	"github.com/mcdev12/bidwatch/go/internal/bidding/metrics"
	"github.com/mcdev12/bidwatch/go/internal/bidding/projector"
	"github.com/mcdev12/bidwatch/go/internal/bidding/reconciler"
	"github.com/mcdev12/bidwatch/go/internal/models"
)

var (
	ErrNotTracked    = errors.New("lot not tracked")
	ErrInvalidAmount = errors.New("bid amount must be positive")
)

// LotsAPI is the REST side of the auction.
type LotsAPI interface {
	GetLot(ctx context.Context, lotID string) (*models.LotSnapshot, error)
	PlaceBid(ctx context.Context, lotID string, amount models.Amount) (*clients.BidReceipt, error)
}

// Subscriptions is the push side of the auction.
type Subscriptions interface {
	Join(ctx context.Context, lotID string) error
	Leave(ctx context.Context, lotID string) error
	Events() <-chan events.Event
	Degraded() bool
}

// Sink receives a view whenever it changes.
type Sink interface {
	Publish(view projector.View)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(view projector.View)

func (f SinkFunc) Publish(view projector.View) { f(view) }

// Config holds configuration for the tracker
type Config struct {
	TickInterval         time.Duration
	ClosingSoonThreshold time.Duration
	// DisplayScale is the number of minor-unit decimal places shown in formatted prices.
	DisplayScale  int32
	ResyncTimeout time.Duration
	DedupeSize    int
}

// DefaultConfig returns default tracker configuration
func DefaultConfig() Config {
	return Config{
		TickInterval:         time.Second,
		ClosingSoonThreshold: countdown.DefaultClosingSoonThreshold,
		DisplayScale:         2,
		ResyncTimeout:        10 * time.Second,
		DedupeSize:           reconciler.DefaultDedupeSize,
	}
}

type resyncResult struct {
	lotID    string
	snapshot *models.LotSnapshot
	err      error
}

// Tracker owns the ledger and serializes ticks, push events and track commands on one
// goroutine. Only Run mutates lots.
type Tracker struct {
	store      *ledger.Store
	reconciler *reconciler.Reconciler
	subs       Subscriptions
	api        LotsAPI
	identity   identity.Identity
	clock      clock.Clock
	metrics    metrics.Collector
	sink       Sink
	config     Config

	commands chan func()
	resyncs  chan resyncResult
	inflight map[string]bool

	mu    sync.RWMutex
	views map[string]projector.View
}

// Option configures a Tracker.
type Option func(*Tracker)

func WithClock(c clock.Clock) Option { return func(t *Tracker) { t.clock = c } }

func WithMetrics(m metrics.Collector) Option { return func(t *Tracker) { t.metrics = m } }

func WithSink(s Sink) Option { return func(t *Tracker) { t.sink = s } }

// New creates a tracker. The subscription manager must be run separately.
func New(api LotsAPI, subs Subscriptions, id identity.Identity, config Config, opts ...Option) (*Tracker, error) {
	t := &Tracker{
		store:    ledger.NewStore(),
		subs:     subs,
		api:      api,
		identity: id,
		clock:    clock.NewReal(),
		metrics:  metrics.NoOp{},
		sink:     SinkFunc(func(projector.View) {}),
		config:   config,
		commands: make(chan func()),
		resyncs:  make(chan resyncResult, 16),
		inflight: make(map[string]bool),
		views:    make(map[string]projector.View),
	}
	for _, opt := range opts {
		opt(t)
	}

	rec, err := reconciler.New(t.store, id,
		reconciler.WithClock(t.clock),
		reconciler.WithMetrics(t.metrics),
		reconciler.WithDedupeSize(config.DedupeSize),
	)
	if err != nil {
		return nil, fmt.Errorf("create reconciler: %w", err)
	}
	t.reconciler = rec

	return t, nil
}

// Run processes ticks, push events and commands until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := t.clock.NewTicker(t.config.TickInterval)
	defer ticker.Stop()

	log.Info().
		Str("user_id", t.identity.LocalUserID()).
		Dur("tick", t.config.TickInterval).
		Msg("tracker started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("tracker shutting down")
			return nil

		case <-ticker.Chan():
			t.tick()

		case ev, ok := <-t.subs.Events():
			if !ok {
				return errors.New("subscription event stream closed")
			}
			t.handle(ctx, ev)

		case res := <-t.resyncs:
			t.finishResync(ctx, res)

		case fn := <-t.commands:
			fn()
		}
	}
}

// Track loads the lot's current state and starts following it. Tracking a lot twice is a no-op.
func (t *Tracker) Track(ctx context.Context, lotID string) error {
	if lotID == "" {
		return errors.New("lot id is required")
	}
	if t.store.Has(lotID) {
		return nil
	}

	snap, err := t.api.GetLot(ctx, lotID)
	if err != nil {
		return fmt.Errorf("fetch lot %s: %w", lotID, err)
	}
	snap.LotID = lotID
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("track lot %s: %w", lotID, err)
	}

	added := false
	if err := t.exec(ctx, func() { added = t.insert(*snap) }); err != nil {
		return err
	}
	if !added {
		return nil
	}

	if err := t.subs.Join(ctx, lotID); err != nil {
		log.Warn().Err(err).Str("lot_id", lotID).Msg("join failed, lot will be joined on reconnect")
	}

	log.Info().
		Str("lot_id", lotID).
		Str("lifecycle", string(snap.Lifecycle)).
		Time("ends_at", snap.EndsAt).
		Msg("tracking lot")
	return nil
}

// Untrack stops following lotID.
func (t *Tracker) Untrack(ctx context.Context, lotID string) error {
	removed := false
	err := t.exec(ctx, func() {
		removed = t.store.Remove(lotID)
		t.mu.Lock()
		delete(t.views, lotID)
		t.mu.Unlock()
	})
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("untrack %s: %w", lotID, ErrNotTracked)
	}

	if err := t.subs.Leave(ctx, lotID); err != nil {
		log.Warn().Err(err).Str("lot_id", lotID).Msg("leave failed")
	}
	log.Info().Str("lot_id", lotID).Msg("stopped tracking lot")
	return nil
}

// PlaceBid submits a bid for a tracked lot. Rejections are returned as they are and never
// retried; the resulting state change arrives over the push channel.
func (t *Tracker) PlaceBid(ctx context.Context, lotID string, amount models.Amount) (*clients.BidReceipt, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if !t.store.Has(lotID) {
		return nil, fmt.Errorf("place bid on %s: %w", lotID, ErrNotTracked)
	}

	receipt, err := t.api.PlaceBid(ctx, lotID, amount)
	if err != nil {
		log.Warn().
			Err(err).
			Str("lot_id", lotID).
			Int64("amount", int64(amount)).
			Msg("bid not placed")
		return nil, err
	}

	log.Info().
		Str("lot_id", lotID).
		Str("bid_id", receipt.BidID).
		Str("amount", amount.Format(t.config.DisplayScale)).
		Msg("bid placed")
	return receipt, nil
}

// Views returns the latest view of every tracked lot, sorted by lot id.
func (t *Tracker) Views() []projector.View {
	t.mu.RLock()
	defer t.mu.RUnlock()

	views := make([]projector.View, 0, len(t.views))
	for _, v := range t.views {
		views = append(views, v)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].LotID < views[j].LotID })
	return views
}

// View returns the latest view of lotID.
func (t *Tracker) View(lotID string) (projector.View, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.views[lotID]
	return v, ok
}

// exec runs fn on the Run goroutine and waits for it.
func (t *Tracker) exec(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case t.commands <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tracker) insert(snap models.LotSnapshot) bool {
	if t.store.Has(snap.LotID) {
		return false
	}
	now := t.clock.Now()
	lot := models.NewTrackedLot(snap, t.identity.LocalUserID(), now)
	countdown.Advance(lot, now, t.config.ClosingSoonThreshold)
	t.store.Put(lot)
	t.publish(snap.LotID, now)
	return true
}

func (t *Tracker) tick() {
	now := t.clock.Now()
	for _, lotID := range t.store.IDs() {
		t.store.Update(lotID, func(lot *models.TrackedLot) {
			if countdown.Advance(lot, now, t.config.ClosingSoonThreshold) {
				log.Debug().
					Str("lot_id", lotID).
					Str("lifecycle", string(lot.Lifecycle)).
					Msg("lifecycle advanced by countdown")
			}
		})
		t.publish(lotID, now)
	}
}

func (t *Tracker) handle(ctx context.Context, ev events.Event) {
	res := t.reconciler.Apply(ev)
	if res.Changed() {
		now := t.clock.Now()
		t.store.Update(res.LotID, func(lot *models.TrackedLot) {
			countdown.Advance(lot, now, t.config.ClosingSoonThreshold)
		})
		t.publish(res.LotID, now)
	}
	if res.NeedsResync {
		t.requestResync(ctx, res.LotID)
	}
}

// requestResync fetches a snapshot off the loop; the result comes back through resyncs.
func (t *Tracker) requestResync(ctx context.Context, lotID string) {
	if t.inflight[lotID] {
		return
	}
	t.inflight[lotID] = true

	log.Info().Str("lot_id", lotID).Msg("requesting resync")
	go func() {
		rctx, cancel := context.WithTimeout(ctx, t.config.ResyncTimeout)
		defer cancel()

		snap, err := t.api.GetLot(rctx, lotID)
		select {
		case t.resyncs <- resyncResult{lotID: lotID, snapshot: snap, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (t *Tracker) finishResync(ctx context.Context, res resyncResult) {
	delete(t.inflight, res.lotID)
	if res.err != nil {
		t.metrics.RecordResync(false)
		log.Warn().Err(res.err).Str("lot_id", res.lotID).Msg("resync failed, keeping last known state")
		return
	}

	t.metrics.RecordResync(true)
	snap := *res.snapshot
	snap.LotID = res.lotID
	t.handle(ctx, events.ResyncSnapshot{Snapshot: snap})
}

// publish recomputes the view of lotID and sends it to the sink if it differs from the last one.
func (t *Tracker) publish(lotID string, now time.Time) {
	lot, ok := t.store.Get(lotID)
	if !ok {
		return
	}

	view := projector.Project(lot, countdown.ComputeRemaining(lot, now, t.config.ClosingSoonThreshold), t.config.DisplayScale)
	view.Degraded = t.subs.Degraded()

	t.mu.Lock()
	prev, seen := t.views[lotID]
	if seen && prev == view {
		t.mu.Unlock()
		return
	}
	t.views[lotID] = view
	t.mu.Unlock()

	t.sink.Publish(view)
}
