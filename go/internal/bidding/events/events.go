package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/bidwatch/go/internal/models"
)

var (
	// ErrMalformedEvent is returned when an envelope is missing required fields.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrUnknownEventType is returned for event types this client does not handle.
	ErrUnknownEventType = errors.New("unknown event type")
)

// EventType represents the type of a push event
type EventType string

const (
	EventTypeBidAccepted  EventType = "bidAccepted"
	EventTypeAuctionEnded EventType = "auctionEnded"
)

// Envelope is the wire format of every push channel message
type Envelope struct {
	EventID   string          `json:"eventId"`
	EventType EventType       `json:"eventType"`
	LotID     string          `json:"lotId"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  *uint64         `json:"sequence,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// BidAcceptedPayload is the payload for a bidAccepted event
type BidAcceptedPayload struct {
	NewPrice      models.Amount `json:"new_price"`
	NewBidCount   *int          `json:"new_bid_count,omitempty"`
	LeadingUserID string        `json:"leading_user_id"`
	EndsAt        *time.Time    `json:"ends_at,omitempty"`
}

// AuctionEndedPayload is the payload for an auctionEnded event
type AuctionEndedPayload struct {
	FinalPrice    models.Amount `json:"final_price"`
	WinningUserID string        `json:"winning_user_id,omitempty"`
}

// Event is implemented by BidAccepted, AuctionEnded and ResyncSnapshot.
type Event interface {
	Lot() string
	event()
}

// BidAccepted reports a bid the server accepted for a lot.
type BidAccepted struct {
	EventID         string
	LotID           string
	NewPrice        models.Amount
	NewBidCount     *int
	LeadingUserID   string
	ServerTimestamp time.Time
	Sequence        *uint64
	// EndsAt is set when the bid extended the lot's deadline.
	EndsAt *time.Time
}

// AuctionEnded is the authoritative end of a lot.
type AuctionEnded struct {
	EventID         string
	LotID           string
	FinalPrice      models.Amount
	WinningUserID   string
	ServerTimestamp time.Time
	Sequence        *uint64
}

// ResyncSnapshot carries a full state replacement fetched after a reconnect.
type ResyncSnapshot struct {
	Snapshot models.LotSnapshot
}

func (e BidAccepted) Lot() string    { return e.LotID }
func (e AuctionEnded) Lot() string   { return e.LotID }
func (e ResyncSnapshot) Lot() string { return e.Snapshot.LotID }

func (BidAccepted) event()    {}
func (AuctionEnded) event()   {}
func (ResyncSnapshot) event() {}

// Parse converts an envelope into a typed event.
func Parse(env Envelope) (Event, error) {
	if env.LotID == "" {
		return nil, fmt.Errorf("%w: missing lotId", ErrMalformedEvent)
	}

	switch env.EventType {
	case EventTypeBidAccepted:
		var p BidAcceptedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: unmarshal bidAccepted payload: %v", ErrMalformedEvent, err)
		}
		if p.NewPrice <= 0 {
			return nil, fmt.Errorf("%w: bidAccepted without new_price", ErrMalformedEvent)
		}
		if p.LeadingUserID == "" {
			return nil, fmt.Errorf("%w: bidAccepted without leading_user_id", ErrMalformedEvent)
		}
		if p.NewBidCount != nil && *p.NewBidCount < 0 {
			return nil, fmt.Errorf("%w: negative new_bid_count", ErrMalformedEvent)
		}
		return BidAccepted{
			EventID:         env.EventID,
			LotID:           env.LotID,
			NewPrice:        p.NewPrice,
			NewBidCount:     p.NewBidCount,
			LeadingUserID:   p.LeadingUserID,
			ServerTimestamp: env.Timestamp,
			Sequence:        env.Sequence,
			EndsAt:          p.EndsAt,
		}, nil

	case EventTypeAuctionEnded:
		var p AuctionEndedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: unmarshal auctionEnded payload: %v", ErrMalformedEvent, err)
		}
		if p.FinalPrice < 0 {
			return nil, fmt.Errorf("%w: negative final_price", ErrMalformedEvent)
		}
		return AuctionEnded{
			EventID:         env.EventID,
			LotID:           env.LotID,
			FinalPrice:      p.FinalPrice,
			WinningUserID:   p.WinningUserID,
			ServerTimestamp: env.Timestamp,
			Sequence:        env.Sequence,
		}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.EventType)
	}
}
