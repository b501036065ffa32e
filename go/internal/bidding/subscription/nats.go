package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bidwatch/go/internal/bidding/events"
)

// NATSConfig holds configuration for the JetStream transport
type NATSConfig struct {
	URL           string
	Name          string
	StreamName    string
	SubjectPrefix string // lot events are published on <prefix>.<lot id>
	Timeout       time.Duration
	// StreamSequence numbers events that carry no sequence with their stream sequence.
	// Only enable it when the lots API reports snapshot sequences from the same stream;
	// otherwise events and snapshots would be ordered in different numbering spaces.
	StreamSequence bool
}

// DefaultNATSConfig returns default JetStream transport configuration
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "bidwatch",
		StreamName:    "LOT_EVENTS",
		SubjectPrefix: "auction.lots",
		Timeout:       5 * time.Second,
	}
}

// NATSTransport reads lot events from a JetStream stream, one ordered consumer per lot.
// Reconnection belongs to the Manager, so the NATS client's own reconnect is disabled.
type NATSTransport struct {
	config NATSConfig
}

// NewNATSTransport creates a new JetStream transport
func NewNATSTransport(config NATSConfig) *NATSTransport {
	return &NATSTransport{config: config}
}

func (t *NATSTransport) Dial(ctx context.Context) (Conn, error) {
	c := &natsConn{
		config:   t.config,
		subs:     make(map[string]jetstream.ConsumeContext),
		incoming: make(chan events.Envelope, 256),
		done:     make(chan struct{}),
	}

	opts := []nats.Option{
		nats.Name(t.config.Name),
		nats.Timeout(t.config.Timeout),
		nats.NoReconnect(),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
			if err == nil {
				err = nats.ErrConnectionClosed
			}
			c.fail(err)
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			c.fail(nats.ErrConnectionClosed)
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(t.config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	stream, err := js.Stream(ctx, t.config.StreamName)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("get stream %s: %w", t.config.StreamName, err)
	}

	c.nc = nc
	c.stream = stream

	log.Info().
		Str("url", nc.ConnectedUrl()).
		Str("stream", t.config.StreamName).
		Msg("NATS connection established")

	return c, nil
}

type natsConn struct {
	config NATSConfig
	nc     *nats.Conn
	stream jetstream.Stream

	mu   sync.Mutex
	subs map[string]jetstream.ConsumeContext

	incoming chan events.Envelope
	done     chan struct{}
	closeErr error
	once     sync.Once
}

func (c *natsConn) subject(lotID string) string {
	return c.config.SubjectPrefix + "." + lotID
}

// Subscribe starts an ordered consumer delivering only new messages for the lot.
func (c *natsConn) Subscribe(ctx context.Context, lotID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.subs[lotID]; ok {
		return nil
	}

	consumer, err := c.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{c.subject(lotID)},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create ordered consumer: %w", err)
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		c.handle(lotID, msg)
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}

	c.subs[lotID] = consumeCtx
	log.Debug().Str("lot_id", lotID).Str("subject", c.subject(lotID)).Msg("consuming lot subject")
	return nil
}

func (c *natsConn) Unsubscribe(ctx context.Context, lotID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if consumeCtx, ok := c.subs[lotID]; ok {
		consumeCtx.Stop()
		delete(c.subs, lotID)
	}
	return nil
}

func (c *natsConn) handle(lotID string, msg jetstream.Msg) {
	md, err := msg.Metadata()
	if err != nil {
		md = nil
	}

	env, err := decodeEnvelope(msg.Data(), lotID, c.fallbackSequence(md))
	if err != nil {
		log.Warn().
			Err(err).
			Str("subject", msg.Subject()).
			Msg("dropping undecodable push message")
		return
	}

	select {
	case c.incoming <- env:
	case <-c.done:
	}
}

// fallbackSequence is the sequence given to unnumbered events, 0 for none.
func (c *natsConn) fallbackSequence(md *jetstream.MsgMetadata) uint64 {
	if !c.config.StreamSequence || md == nil {
		return 0
	}
	return md.Sequence.Stream
}

// decodeEnvelope unmarshals a message published for lotID. When the publisher did not
// number the event, the stream sequence is used; it increases per lot subject.
func decodeEnvelope(data []byte, lotID string, streamSeq uint64) (events.Envelope, error) {
	var env events.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return events.Envelope{}, fmt.Errorf("unmarshal event envelope: %w", err)
	}
	if env.LotID == "" {
		env.LotID = lotID
	}
	if env.Sequence == nil && streamSeq > 0 {
		seq := streamSeq
		env.Sequence = &seq
	}
	return env, nil
}

func (c *natsConn) Receive(ctx context.Context) (events.Envelope, error) {
	select {
	case env := <-c.incoming:
		return env, nil
	case <-c.done:
		select {
		case env := <-c.incoming:
			return env, nil
		default:
		}
		return events.Envelope{}, c.closeErr
	case <-ctx.Done():
		return events.Envelope{}, ctx.Err()
	}
}

func (c *natsConn) Close() error {
	c.mu.Lock()
	for lotID, consumeCtx := range c.subs {
		consumeCtx.Stop()
		delete(c.subs, lotID)
	}
	c.mu.Unlock()

	c.fail(ErrConnClosed)
	c.nc.Close()
	return nil
}

func (c *natsConn) fail(err error) {
	c.once.Do(func() {
		c.closeErr = err
		close(c.done)
	})
}
