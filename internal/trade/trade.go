// Package trade implements the crypto/fiat trade lifecycle.
//
// Flow:
//  1. User opens a trade → rate locked, fiat amount fixed, TTL starts
//  2. Platform assigns a verification admin
//  3. User declares payment and submits proof
//  4. Admin verifies → trade completes and the ledger is credited
//  5. Disagreements escalate to a dispute, which freezes the TTL
//  6. Trades that stall past their TTL are expired by the sweeper
package trade

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTradeNotFound    = errors.New("trade not found")
	ErrInvalidStatus    = errors.New("invalid trade status for this operation")
	ErrStateConflict    = errors.New("trade status changed concurrently")
	ErrUnauthorized     = errors.New("not authorized for this trade operation")
	ErrAlreadyAssigned  = errors.New("trade already assigned")
	ErrAlreadyResolved  = errors.New("trade already resolved")
	ErrTradeExpired     = errors.New("trade has expired")
	ErrDuplicateRating  = errors.New("trade already rated")
	ErrAmountOutOfRange = errors.New("amount outside tradable bounds")
)

// Status represents the state of a trade.
type Status string

const (
	StatusCreated           Status = "created"             // Opened, rate locked, no admin yet
	StatusAssigned          Status = "assigned"            // Admin assigned, awaiting user payment
	StatusAwaitingProof     Status = "awaiting_payment_proof" // User declared payment, proof pending
	StatusUnderVerification Status = "under_verification"  // Proof submitted, admin verifying
	StatusCompleted         Status = "completed"           // Verified and settled
	StatusDisputed          Status = "disputed"            // Escalated; TTL frozen
	StatusCancelled         Status = "cancelled"           // Cancelled before settlement
	StatusExpired           Status = "expired"             // TTL elapsed without settlement
)

// Trade directions.
const (
	DirectionBuy  = "buy"  // user pays fiat, receives crypto
	DirectionSell = "sell" // user pays crypto, receives fiat
)

// DefaultTTL is the time a trade has to settle before expiring.
const DefaultTTL = 900 * time.Second

// Trade is one crypto/fiat exchange worked by a human admin.
type Trade struct {
	ID           string  `json:"id"`
	UserID       string  `json:"userId"`
	AdminID      string  `json:"adminId,omitempty"`
	Direction    string  `json:"direction"` // buy, sell
	Asset        string  `json:"asset"`
	FiatCurrency string  `json:"fiatCurrency"`
	CryptoAmount float64 `json:"cryptoAmount"`
	FiatAmount   float64 `json:"fiatAmount"`

	// Rate is fiat per asset unit, locked at creation. RateStale marks
	// quotes computed from an out-of-date snapshot; they remain binding.
	Rate      float64 `json:"rate"`
	RateStale bool    `json:"rateStale,omitempty"`

	Status        Status `json:"status"`
	PaymentRef    string `json:"paymentRef,omitempty"`
	ProofRef      string `json:"proofRef,omitempty"`
	DisputeReason string `json:"disputeReason,omitempty"`
	Resolution    string `json:"resolution,omitempty"`

	// ExpiresAt is the settlement deadline. When a trade is disputed the
	// remaining time is frozen here and restored if the trade resumes.
	ExpiresAt       time.Time     `json:"expiresAt"`
	FrozenRemaining time.Duration `json:"-"`

	AssignedAt       *time.Time `json:"assignedAt,omitempty"`
	AdminRespondedAt *time.Time `json:"adminRespondedAt,omitempty"`
	ResolvedAt       *time.Time `json:"resolvedAt,omitempty"`

	// RatingScore is the user's 1-5 review, 0 while unrated.
	RatingScore int `json:"ratingScore,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsTerminal returns true if the trade is in a final state.
func (t *Trade) IsTerminal() bool {
	switch t.Status {
	case StatusCompleted, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Expired reports whether the settlement deadline has passed.
// Disputed trades never expire (their clock is frozen), and neither do
// trades under verification: the countdown stops once proof is in, so
// a slow reviewer cannot expire a paid trade.
func (t *Trade) Expired(now time.Time) bool {
	switch t.Status {
	case StatusDisputed, StatusUnderVerification:
		return false
	}
	return !t.IsTerminal() && now.After(t.ExpiresAt)
}

// ReceiveLeg returns the currency and amount credited to the user when
// the trade settles.
func (t *Trade) ReceiveLeg() (currency string, amount float64) {
	if t.Direction == DirectionBuy {
		return t.Asset, t.CryptoAmount
	}
	return t.FiatCurrency, t.FiatAmount
}

// Store persists trade data.
type Store interface {
	Create(ctx context.Context, t *Trade) error
	Get(ctx context.Context, id string) (*Trade, error)
	Update(ctx context.Context, t *Trade) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*Trade, error)
	ListByAdmin(ctx context.Context, adminID string, limit int) ([]*Trade, error)
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*Trade, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Trade, error)
}

// RateLocker locks exchange rates at trade creation. The side carries
// the trade direction so sell trades price below base and buys above.
type RateLocker interface {
	LockRate(ctx context.Context, asset, fiat, side string) (rate float64, stale bool, err error)
}

// AdminPool abstracts admin assignment so trade doesn't import admins.
type AdminPool interface {
	Assign(ctx context.Context, fiat string) (adminID string, err error)
	Release(ctx context.Context, adminID string) error
	RecordRating(ctx context.Context, adminID string, score int) error
	RecordResponseTime(ctx context.Context, adminID string, d time.Duration) error
}

// SettlementLedger abstracts ledger credits so trade doesn't import ledger.
type SettlementLedger interface {
	Credit(ctx context.Context, accountID, currency string, amount float64, idempotencyKey, reference, description string) error
}

// SystemChat posts platform messages into a trade's thread.
type SystemChat interface {
	PostSystem(ctx context.Context, tradeID, body string) error
}

// Broadcaster pushes trade updates to connected clients.
type Broadcaster interface {
	BroadcastTrade(t *Trade)
}

// Bounds are per-asset tradable amount limits. Zero values mean unset.
type Bounds struct {
	Min map[string]float64
	Max map[string]float64
}

// CreateRequest contains the parameters for opening a trade.
type CreateRequest struct {
	UserID       string  `json:"userId"`
	Direction    string  `json:"direction" binding:"required"`
	Asset        string  `json:"asset" binding:"required"`
	FiatCurrency string  `json:"fiatCurrency" binding:"required"`
	CryptoAmount float64 `json:"cryptoAmount" binding:"required"`
}

// DisputeRequest contains the parameters for disputing a trade.
type DisputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}
