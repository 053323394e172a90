// Package ledger tracks user balances on the platform.
//
// Flow:
//  1. A trade settles and the buyer's account is credited
//  2. Credits are keyed by the trade ID, so retried settlements
//     never double-credit
//  3. Withdrawals and corrections debit the balance
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/swiftramp/swiftramp/internal/idgen"
	"github.com/swiftramp/swiftramp/internal/logging"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrDuplicateEntry      = errors.New("entry already recorded")
)

// Entry types.
const (
	TypeCredit = "credit"
	TypeDebit  = "debit"
)

// Entry is an immutable ledger line.
type Entry struct {
	ID             string    `json:"id"`
	AccountID      string    `json:"accountId"`
	Currency       string    `json:"currency"` // asset or fiat symbol
	Type           string    `json:"type"`     // credit, debit
	Amount         float64   `json:"amount"`
	IdempotencyKey string    `json:"idempotencyKey"`
	Reference      string    `json:"reference,omitempty"` // trade ID, payout ID
	Description    string    `json:"description,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Balance is an account's position in one currency.
type Balance struct {
	AccountID string    `json:"accountId"`
	Currency  string    `json:"currency"`
	Available float64   `json:"available"`
	TotalIn   float64   `json:"totalIn"`
	TotalOut  float64   `json:"totalOut"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists ledger data. Append must reject entries whose
// idempotency key was already recorded with ErrDuplicateEntry.
type Store interface {
	Append(ctx context.Context, e *Entry) error
	GetBalance(ctx context.Context, accountID, currency string) (*Balance, error)
	GetHistory(ctx context.Context, accountID string, limit int) ([]*Entry, error)
	HasKey(ctx context.Context, idempotencyKey string) (bool, error)
}

// Ledger manages account balances.
type Ledger struct {
	store Store
}

// New creates a new ledger.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Credit adds funds to an account. A repeated idempotency key is a
// recorded no-op: the call succeeds without writing a second entry.
func (l *Ledger) Credit(ctx context.Context, accountID, currency string, amount float64, idempotencyKey, reference, description string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	err := l.store.Append(ctx, &Entry{
		ID:             idgen.WithPrefix("led_"),
		AccountID:      accountID,
		Currency:       strings.ToUpper(currency),
		Type:           TypeCredit,
		Amount:         amount,
		IdempotencyKey: idempotencyKey,
		Reference:      reference,
		Description:    description,
		CreatedAt:      time.Now().UTC(),
	})
	if errors.Is(err, ErrDuplicateEntry) {
		logging.L(ctx).Info("duplicate credit ignored", "idempotency_key", idempotencyKey)
		return nil
	}
	return err
}

// Debit removes funds from an account, failing with
// ErrInsufficientBalance if the available balance cannot cover it.
func (l *Ledger) Debit(ctx context.Context, accountID, currency string, amount float64, idempotencyKey, reference, description string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	bal, err := l.store.GetBalance(ctx, accountID, strings.ToUpper(currency))
	if err != nil {
		return err
	}
	if bal.Available < amount {
		return ErrInsufficientBalance
	}
	err = l.store.Append(ctx, &Entry{
		ID:             idgen.WithPrefix("led_"),
		AccountID:      accountID,
		Currency:       strings.ToUpper(currency),
		Type:           TypeDebit,
		Amount:         amount,
		IdempotencyKey: idempotencyKey,
		Reference:      reference,
		Description:    description,
		CreatedAt:      time.Now().UTC(),
	})
	if errors.Is(err, ErrDuplicateEntry) {
		return nil
	}
	return err
}

// GetBalance returns an account's balance in one currency.
func (l *Ledger) GetBalance(ctx context.Context, accountID, currency string) (*Balance, error) {
	return l.store.GetBalance(ctx, accountID, strings.ToUpper(currency))
}

// GetHistory returns ledger entries for an account.
func (l *Ledger) GetHistory(ctx context.Context, accountID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.GetHistory(ctx, accountID, limit)
}

// HasEntry reports whether an idempotency key has already been recorded.
func (l *Ledger) HasEntry(ctx context.Context, idempotencyKey string) (bool, error) {
	return l.store.HasKey(ctx, idempotencyKey)
}
