package projector

import (
	"github.com/mcdev12/bidwatch/go/internal/bidding/countdown"
	"github.com/mcdev12/bidwatch/go/internal/models"
)

// Status is the display tag for a lot.
type Status string

const (
	StatusLeading     Status = "leading"
	StatusOutbid      Status = "outbid"
	StatusWon         Status = "won"
	StatusLost        Status = "lost"
	StatusEndedNoBids Status = "ended-no-bids"
	// StatusFinalizing is shown when the countdown hit zero but the server has not
	// confirmed the end yet.
	StatusFinalizing Status = "finalizing"
)

// View is what a UI renders for one lot.
type View struct {
	LotID        string           `json:"lot_id"`
	Status       Status           `json:"status"`
	CurrentPrice models.Amount    `json:"current_price"`
	Price        string           `json:"price"`
	BidCount     int              `json:"bid_count"`
	SecondsLeft  int              `json:"seconds_left"`
	Phase        countdown.Phase  `json:"phase"`
	Lifecycle    models.Lifecycle `json:"lifecycle"`
	Degraded     bool             `json:"degraded"`
}

// StatusFor maps a lot and its countdown phase to a display status.
func StatusFor(lot *models.TrackedLot, phase countdown.Phase) Status {
	if phase == countdown.PhaseEnded {
		switch {
		case !lot.EndConfirmed:
			return StatusFinalizing
		case lot.IsLocalUserLeading:
			return StatusWon
		case lot.BidCount > 0:
			return StatusLost
		default:
			return StatusEndedNoBids
		}
	}
	if lot.IsLocalUserLeading {
		return StatusLeading
	}
	return StatusOutbid
}

// Project builds the view of lot. displayScale is the number of minor-unit decimal places.
func Project(lot *models.TrackedLot, r countdown.Remaining, displayScale int32) View {
	return View{
		LotID:        lot.LotID,
		Status:       StatusFor(lot, r.Phase),
		CurrentPrice: lot.CurrentPrice,
		Price:        lot.CurrentPrice.Format(displayScale),
		BidCount:     lot.BidCount,
		SecondsLeft:  r.SecondsLeft,
		Phase:        r.Phase,
		Lifecycle:    lot.Lifecycle,
	}
}
