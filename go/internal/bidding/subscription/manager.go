package subscription

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bidwatch/go/internal/bidding/clock"
	"github.com/mcdev12/bidwatch/go/internal/bidding/events"
	"github.com/mcdev12/bidwatch/go/internal/bidding/metrics"
	"github.com/mcdev12/bidwatch/go/internal/models"
)

// ErrConnClosed is returned by a Conn once it has been closed or dropped.
var ErrConnClosed = errors.New("push connection closed")

// State is the state of the push connection.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Conn is one live push connection. Receive may be called concurrently with
// Subscribe and Unsubscribe.
type Conn interface {
	Subscribe(ctx context.Context, lotID string) error
	Unsubscribe(ctx context.Context, lotID string) error
	Receive(ctx context.Context) (events.Envelope, error)
	Close() error
}

// Transport opens push connections.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// StateProvider fetches authoritative lot state, used to resync after a reconnect.
type StateProvider interface {
	GetLot(ctx context.Context, lotID string) (*models.LotSnapshot, error)
}

// Config holds configuration for the subscription manager
type Config struct {
	ReconnectDelay time.Duration
	// MaxReconnectAttempts is how many consecutive failures switch on degraded mode.
	MaxReconnectAttempts int
	ResyncTimeout        time.Duration
	EventBuffer          int
	// StableAfter is how long a connection must stay up, without delivering anything,
	// before it resets the failure count. A connection that drops sooner is a failure.
	StableAfter time.Duration
}

// DefaultConfig returns default subscription manager configuration
func DefaultConfig() Config {
	return Config{
		ReconnectDelay:       3 * time.Second,
		MaxReconnectAttempts: 5,
		ResyncTimeout:        10 * time.Second,
		EventBuffer:          256,
		StableAfter:          10 * time.Second,
	}
}

// StateListener is notified of connection state changes.
type StateListener func(state State, degraded bool)

// Manager keeps one logical push connection per session and the set of lot topics
// currently of interest.
type Manager struct {
	transport Transport
	provider  StateProvider
	clock     clock.Clock
	metrics   metrics.Collector
	config    Config

	out chan events.Event

	mu       sync.Mutex
	interest map[string]struct{}
	conn     Conn
	state    State
	degraded bool
	failures int
	// connectedAt and stable describe the current connection.
	connectedAt time.Time
	stable      bool
	listener    StateListener
}

// Option configures a Manager.
type Option func(*Manager)

func WithClock(c clock.Clock) Option { return func(m *Manager) { m.clock = c } }

func WithMetrics(c metrics.Collector) Option { return func(m *Manager) { m.metrics = c } }

func WithStateListener(fn StateListener) Option { return func(m *Manager) { m.listener = fn } }

// NewManager creates a subscription manager
func NewManager(transport Transport, provider StateProvider, config Config, opts ...Option) *Manager {
	m := &Manager{
		transport: transport,
		provider:  provider,
		clock:     clock.NewReal(),
		metrics:   metrics.NoOp{},
		config:    config,
		out:       make(chan events.Event, config.EventBuffer),
		interest:  make(map[string]struct{}),
		state:     StateDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Events is the typed output of the push channel. Malformed messages never reach it.
func (m *Manager) Events() <-chan events.Event {
	return m.out
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Degraded reports whether live updates are currently unavailable. Degraded mode is left
// once a connection proves stable, either by delivering a message or by staying up for
// StableAfter.
func (m *Manager) Degraded() bool {
	m.mu.Lock()
	settled := m.state == StateConnected && !m.stable &&
		m.clock.Now().Sub(m.connectedAt) >= m.config.StableAfter
	degraded := m.degraded
	m.mu.Unlock()

	if settled {
		m.markStable()
		return false
	}
	return degraded
}

// Interests returns the lot ids currently joined, sorted.
func (m *Manager) Interests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interestsLocked()
}

// Join adds lotID to the interest set and subscribes to its topic if connected.
// The lot stays of interest even if the subscribe call fails; it is re-joined on reconnect.
func (m *Manager) Join(ctx context.Context, lotID string) error {
	m.mu.Lock()
	if _, ok := m.interest[lotID]; ok {
		m.mu.Unlock()
		return nil
	}
	m.interest[lotID] = struct{}{}
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Subscribe(ctx, lotID); err != nil {
		// Reconnecting re-joins and resyncs every lot of interest.
		log.Warn().Err(err).Str("lot_id", lotID).Msg("subscribe failed, dropping push connection")
		m.detach(conn)
		return fmt.Errorf("subscribe to lot %s: %w", lotID, err)
	}
	log.Debug().Str("lot_id", lotID).Msg("joined lot topic")
	return nil
}

// Leave removes lotID from the interest set and unsubscribes its topic if connected.
func (m *Manager) Leave(ctx context.Context, lotID string) error {
	m.mu.Lock()
	if _, ok := m.interest[lotID]; !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.interest, lotID)
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Unsubscribe(ctx, lotID); err != nil {
		return fmt.Errorf("unsubscribe from lot %s: %w", lotID, err)
	}
	log.Debug().Str("lot_id", lotID).Msg("left lot topic")
	return nil
}

// Run connects and keeps the connection alive until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	log.Info().Msg("subscription manager started")
	defer log.Info().Msg("subscription manager stopped")

	attempted := false
	for {
		if ctx.Err() != nil {
			m.setState(StateDisconnected)
			return nil
		}

		m.setState(StateConnecting)
		conn, err := m.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				m.setState(StateDisconnected)
				return nil
			}
			if attempted {
				m.metrics.RecordReconnect(false)
			}
			attempted = true
			m.recordFailure(err)
			if !m.waitReconnect(ctx) {
				return nil
			}
			continue
		}

		if attempted {
			m.metrics.RecordReconnect(true)
		}
		attempted = true
		m.recordConnected()

		// Events may have been missed before this connection existed.
		m.resyncAll(ctx)

		err = m.pump(ctx, conn)
		m.detach(conn)
		if ctx.Err() != nil {
			m.setState(StateDisconnected)
			return nil
		}

		log.Warn().Err(err).Msg("push channel dropped")
		m.recordDrop(err)
		if !m.waitReconnect(ctx) {
			return nil
		}
	}
}

// connect dials and joins every lot of interest.
func (m *Manager) connect(ctx context.Context) (Conn, error) {
	conn, err := m.transport.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial push channel: %w", err)
	}

	m.mu.Lock()
	m.conn = conn
	lots := m.interestsLocked()
	m.mu.Unlock()

	for _, lotID := range lots {
		if err := conn.Subscribe(ctx, lotID); err != nil {
			m.detach(conn)
			return nil, fmt.Errorf("rejoin lot %s: %w", lotID, err)
		}
	}

	log.Info().Int("lots", len(lots)).Msg("push channel connected")
	return conn, nil
}

func (m *Manager) detach(conn Conn) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()

	if err := conn.Close(); err != nil && !errors.Is(err, ErrConnClosed) {
		log.Debug().Err(err).Msg("closing push connection")
	}
}

// pump forwards parsed events until the connection fails or ctx is done.
func (m *Manager) pump(ctx context.Context, conn Conn) error {
	for {
		env, err := conn.Receive(ctx)
		if err != nil {
			return err
		}
		m.markStable()

		ev, err := events.Parse(env)
		if err != nil {
			log.Warn().
				Err(err).
				Str("event_id", env.EventID).
				Str("lot_id", env.LotID).
				Msg("dropping malformed push event")
			m.metrics.RecordEventApplied(string(env.EventType), "malformed")
			continue
		}

		if !m.emit(ctx, ev) {
			return ctx.Err()
		}
	}
}

// resyncAll fetches a snapshot for every lot of interest.
func (m *Manager) resyncAll(ctx context.Context) {
	for _, lotID := range m.Interests() {
		rctx, cancel := context.WithTimeout(ctx, m.config.ResyncTimeout)
		snap, err := m.provider.GetLot(rctx, lotID)
		cancel()
		if err != nil {
			m.metrics.RecordResync(false)
			log.Warn().Err(err).Str("lot_id", lotID).Msg("resync failed, keeping last known state")
			continue
		}

		m.metrics.RecordResync(true)
		if !m.emit(ctx, events.ResyncSnapshot{Snapshot: *snap}) {
			return
		}
	}
}

func (m *Manager) emit(ctx context.Context, ev events.Event) bool {
	select {
	case m.out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// waitReconnect blocks for the backoff delay. The timer is stopped if ctx ends first.
func (m *Manager) waitReconnect(ctx context.Context) bool {
	timer := m.clock.NewTimer(m.config.ReconnectDelay)
	log.Debug().Dur("delay", m.config.ReconnectDelay).Msg("scheduled reconnect")

	select {
	case <-timer.Chan():
		return true
	case <-ctx.Done():
		clock.StopAndDrain(timer)
		log.Debug().Msg("reconnect cancelled")
		m.setState(StateDisconnected)
		return false
	}
}

func (m *Manager) recordFailure(err error) {
	m.mu.Lock()
	m.failures++
	failures := m.failures
	enteredDegraded := !m.degraded && failures >= m.config.MaxReconnectAttempts
	if enteredDegraded {
		m.degraded = true
	}
	m.mu.Unlock()

	log.Warn().Err(err).Int("attempt", failures).Msg("push channel connect failed")
	if enteredDegraded {
		log.Error().
			Int("attempts", failures).
			Msg("live updates unavailable, showing last known state")
	}
	m.setState(StateDisconnected)
}

// recordConnected marks a new connection as up. Failures are only forgiven once it
// proves stable.
func (m *Manager) recordConnected() {
	m.mu.Lock()
	m.connectedAt = m.clock.Now()
	m.stable = false
	m.mu.Unlock()

	m.setState(StateConnected)
}

// recordDrop counts a connection that dropped before it became stable as a failure.
func (m *Manager) recordDrop(err error) {
	m.mu.Lock()
	short := !m.stable && m.clock.Now().Sub(m.connectedAt) < m.config.StableAfter
	m.mu.Unlock()

	if short {
		m.recordFailure(fmt.Errorf("connection dropped before it was stable: %w", err))
		return
	}
	m.setState(StateDisconnected)
}

func (m *Manager) markStable() {
	m.mu.Lock()
	if m.stable {
		m.mu.Unlock()
		return
	}
	m.stable = true
	wasDegraded := m.degraded
	m.failures = 0
	m.degraded = false
	state := m.state
	m.mu.Unlock()

	if wasDegraded {
		log.Info().Msg("live updates restored")
		m.setState(state)
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	changed := m.state != s
	m.state = s
	degraded := m.degraded
	listener := m.listener
	m.mu.Unlock()

	if listener != nil {
		listener(s, degraded)
	}
	if changed {
		log.Debug().Str("state", string(s)).Bool("degraded", degraded).Msg("push channel state")
	}
}

func (m *Manager) interestsLocked() []string {
	ids := make([]string, 0, len(m.interest))
	for id := range m.interest {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
