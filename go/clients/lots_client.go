package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/bidwatch/go/internal/models"
)

var (
	ErrLotNotFound  = errors.New("lot not found")
	ErrBidTooLow    = errors.New("bid too low")
	ErrAuctionEnded = errors.New("auction ended")
)

const (
	LotsEndpoint = "/lots"

	IdempotencyKeyHeader = "Idempotency-Key"

	codeBidTooLow    = "bid_too_low"
	codeAuctionEnded = "auction_ended"
)

// BidRejectedError is a bid the auction refused. It unwraps to ErrBidTooLow or
// ErrAuctionEnded when the code is known.
type BidRejectedError struct {
	LotID   string
	Code    string
	Message string
	reason  error
}

func (e *BidRejectedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("bid on lot %s rejected (%s): %s", e.LotID, e.Code, e.Message)
	}
	return fmt.Sprintf("bid on lot %s rejected (%s)", e.LotID, e.Code)
}

func (e *BidRejectedError) Unwrap() error { return e.reason }

// LotsClient talks to the auction's lots API.
type LotsClient struct {
	*BaseClient
	// wireScale is the number of decimal places between wire amounts and minor units.
	wireScale int32
}

func NewLotsClient(baseURL string, wireScale int32) *LotsClient {
	client := &LotsClient{
		BaseClient: NewBaseClient(baseURL),
		wireScale: wireScale,
	}

	client.SetHeader("Accept", "application/json")
	client.SetHeader("Content-Type", "application/json")

	return client
}

type lotResponse struct {
	ID            string          `json:"id"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	BidCount      int             `json:"bid_count"`
	StartsAt      time.Time       `json:"starts_at"`
	EndsAt        time.Time       `json:"ends_at"`
	Status        string          `json:"status"`
	LeadingUserID string          `json:"leading_user_id"`
	Sequence      *uint64         `json:"sequence,omitempty"`
}

type bidRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type bidResponse struct {
	BidID        string          `json:"bid_id"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	BidCount     int             `json:"bid_count"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BidReceipt is the server's acknowledgement of an accepted bid.
type BidReceipt struct {
	BidID          string
	LotID          string
	CurrentPrice   models.Amount
	BidCount       int
	IdempotencyKey string
}

// GetLot returns the authoritative state of a lot.
func (c *LotsClient) GetLot(ctx context.Context, lotID string) (*models.LotSnapshot, error) {
	body, err := c.Get(ctx, c.lotPath(lotID))
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("get lot %s: %w", lotID, ErrLotNotFound)
		}
		return nil, fmt.Errorf("failed to get lot %s: %w", lotID, err)
	}

	var resp lotResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w, raw response: %s", err, string(body))
	}

	price, err := models.AmountFromDecimal(resp.CurrentPrice, c.wireScale)
	if err != nil {
		return nil, fmt.Errorf("lot %s current price: %w", lotID, err)
	}

	id := resp.ID
	if id == "" {
		id = lotID
	}

	snap := &models.LotSnapshot{
		LotID:         id,
		CurrentPrice:  price,
		BidCount:      resp.BidCount,
		StartsAt:      resp.StartsAt,
		EndsAt:        resp.EndsAt,
		Lifecycle:     models.Lifecycle(resp.Status),
		LeadingUserID: resp.LeadingUserID,
		Sequence:      resp.Sequence,
	}
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("lot %s: %w", lotID, err)
	}
	return snap, nil
}

// PlaceBid submits a bid of amount minor units. Rejections come back as *BidRejectedError
// and must not be retried.
func (c *LotsClient) PlaceBid(ctx context.Context, lotID string, amount models.Amount) (*BidReceipt, error) {
	payload, err := json.Marshal(bidRequest{Amount: amount.Decimal(c.wireScale)})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bid: %w", err)
	}

	key := uuid.New().String()
	header := http.Header{}
	header.Set(IdempotencyKeyHeader, key)

	body, err := c.Post(ctx, c.lotPath(lotID)+"/bids", bytes.NewReader(payload), header)
	if err != nil {
		return nil, c.bidError(lotID, err)
	}

	var resp bidResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w, raw response: %s", err, string(body))
	}

	price, err := models.AmountFromDecimal(resp.CurrentPrice, c.wireScale)
	if err != nil {
		return nil, fmt.Errorf("lot %s current price: %w", lotID, err)
	}

	return &BidReceipt{
		BidID:          resp.BidID,
		LotID:          lotID,
		CurrentPrice:   price,
		BidCount:       resp.BidCount,
		IdempotencyKey: key,
	}, nil
}

func (c *LotsClient) bidError(lotID string, err error) error {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return fmt.Errorf("failed to place bid on lot %s: %w", lotID, err)
	}

	switch statusErr.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("place bid on lot %s: %w", lotID, ErrLotNotFound)
	case http.StatusConflict, http.StatusUnprocessableEntity:
		var resp errorResponse
		if jsonErr := json.Unmarshal(statusErr.Body, &resp); jsonErr != nil {
			return fmt.Errorf("failed to place bid on lot %s: %w", lotID, err)
		}
		rejected := &BidRejectedError{LotID: lotID, Code: resp.Code, Message: resp.Message}
		switch resp.Code {
		case codeBidTooLow:
			rejected.reason = ErrBidTooLow
		case codeAuctionEnded:
			rejected.reason = ErrAuctionEnded
		}
		return rejected
	default:
		return fmt.Errorf("failed to place bid on lot %s: %w", lotID, err)
	}
}

func (c *LotsClient) lotPath(lotID string) string {
	return LotsEndpoint + "/" + url.PathEscape(lotID)
}
