package trade

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/swiftramp/swiftramp/internal/idgen"
	"github.com/swiftramp/swiftramp/internal/logging"
	"github.com/swiftramp/swiftramp/internal/metrics"
	"github.com/swiftramp/swiftramp/internal/rates"
)

// Service implements trade business logic.
type Service struct {
	store       Store
	rateLocker  RateLocker
	pool        AdminPool
	ledger      SettlementLedger
	chat        SystemChat
	broadcaster Broadcaster
	bounds      Bounds
	ttl         time.Duration
	locks       sync.Map // per-trade ID locks to serialize state transitions
	now         func() time.Time
}

// tradeLock returns a mutex for the given trade ID.
// This prevents concurrent state transitions (e.g. approve + expire racing).
func (s *Service) tradeLock(id string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// NewService creates a new trade service.
func NewService(store Store, rateLocker RateLocker, pool AdminPool, ledger SettlementLedger) *Service {
	return &Service{
		store:      store,
		rateLocker: rateLocker,
		pool:       pool,
		ledger:     ledger,
		ttl:        DefaultTTL,
		now:        time.Now,
	}
}

// WithChat adds a system chat sink for transition messages.
func (s *Service) WithChat(c SystemChat) *Service {
	s.chat = c
	return s
}

// WithBroadcaster adds a realtime broadcaster for trade updates.
func (s *Service) WithBroadcaster(b Broadcaster) *Service {
	s.broadcaster = b
	return s
}

// WithBounds sets per-asset amount limits.
func (s *Service) WithBounds(b Bounds) *Service {
	s.bounds = b
	return s
}

// WithTTL overrides the settlement deadline.
func (s *Service) WithTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

// WithClock overrides the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create opens a trade: locks the rate, fixes the fiat amount, starts
// the TTL, and assigns an admin. The locked rate is binding for the
// life of the trade regardless of market movement.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Trade, error) {
	asset := strings.ToUpper(req.Asset)
	fiat := strings.ToUpper(req.FiatCurrency)

	if min := s.bounds.Min[asset]; min > 0 && req.CryptoAmount < min {
		return nil, ErrAmountOutOfRange
	}
	if max := s.bounds.Max[asset]; max > 0 && req.CryptoAmount > max {
		return nil, ErrAmountOutOfRange
	}

	rate, stale, err := s.rateLocker.LockRate(ctx, asset, fiat, req.Direction)
	if err != nil {
		return nil, fmt.Errorf("failed to lock rate: %w", err)
	}

	now := s.now().UTC()
	t := &Trade{
		ID:           idgen.WithPrefix("trd_"),
		UserID:       req.UserID,
		Direction:    req.Direction,
		Asset:        asset,
		FiatCurrency: fiat,
		CryptoAmount: req.CryptoAmount,
		FiatAmount:   rates.RoundFiat(req.CryptoAmount * rate),
		Rate:         rate,
		RateStale:    stale,
		Status:       StatusCreated,
		ExpiresAt:    now.Add(s.ttl),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create trade record: %w", err)
	}
	metrics.TradeCreatedTotal.WithLabelValues(asset, fiat).Inc()
	s.systemMessage(ctx, t.ID, fmt.Sprintf("Trade opened: %s %g %s at %.2f %s, total %.2f %s. Settle within %s.",
		t.Direction, t.CryptoAmount, t.Asset, t.Rate, t.FiatCurrency, t.FiatAmount, t.FiatCurrency, s.ttl))

	// Assignment failures leave the trade in created; Assign can be retried.
	assigned, err := s.Assign(ctx, t.ID)
	if err != nil {
		logging.L(ctx).Warn("trade created but assignment failed", "trade_id", t.ID, "error", err)
		return s.store.Get(ctx, t.ID)
	}
	return assigned, nil
}

// Assign routes a created trade to the best available admin.
func (s *Service) Assign(ctx context.Context, id string) (*Trade, error) {
	mu := s.tradeLock(id)
	mu.Lock()
	defer mu.Unlock()

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.assignLocked(ctx, t)
}

// assignLocked performs the assignment. Caller holds the trade lock.
func (s *Service) assignLocked(ctx context.Context, t *Trade) (*Trade, error) {
	if t.AdminID != "" {
		return nil, ErrAlreadyAssigned
	}
	if t.Status != StatusCreated {
		return nil, ErrInvalidStatus
	}
	if t.Expired(s.now()) {
		return nil, ErrTradeExpired
	}

	adminID, err := s.pool.Assign(ctx, t.FiatCurrency)
	if err != nil {
		return nil, fmt.Errorf("failed to assign admin: %w", err)
	}

	now := s.now().UTC()
	t.AdminID = adminID
	t.Status = StatusAssigned
	t.AssignedAt = &now
	t.UpdatedAt = now

	if err := s.store.Update(ctx, t); err != nil {
		// Hand the slot back so the admin's load stays accurate.
		_ = s.pool.Release(ctx, adminID)
		return nil, err
	}

	s.systemMessage(ctx, t.ID, "An operator has been assigned to your trade.")
	s.broadcast(t)
	return t, nil
}

// DeclarePayment records that the user has initiated payment.
func (s *Service) DeclarePayment(ctx context.Context, id, userID, paymentRef string, expectedStatus Status) (*Trade, error) {
	mu := s.tradeLock(id)
	mu.Lock()
	defer mu.Unlock()

	t, err := s.loadFor(ctx, id, expectedStatus)
	if err != nil {
		return nil, err
	}
	if t.UserID != userID {
		return nil, ErrUnauthorized
	}
	if t.Expired(s.now()) {
		return nil, ErrTradeExpired
	}
	if t.Status != StatusAssigned {
		return nil, ErrInvalidStatus
	}

	now := s.now().UTC()
	t.Status = StatusAwaitingProof
	t.PaymentRef = paymentRef
	t.UpdatedAt = now

	if err := s.store.Update(ctx, t); err != nil {
		return nil, err
	}
	s.systemMessage(ctx, t.ID, "Payment declared. Submit your payment proof.")
	s.broadcast(t)
	return t, nil
}

// SubmitProof attaches the user's payment evidence and queues verification.
func (s *Service) SubmitProof(ctx context.Context, id, userID, proofRef string, expectedStatus Status) (*Trade, error) {
	mu := s.tradeLock(id)
	mu.Lock()
	defer mu.Unlock()

	t, err := s.loadFor(ctx, id, expectedStatus)
	if err != nil {
		return nil, err
	}
	if t.UserID != userID {
		return nil, ErrUnauthorized
	}
	if t.Expired(s.now()) {
		return nil, ErrTradeExpired
	}
	if t.Status != StatusAwaitingProof {
		return nil, ErrInvalidStatus
	}

	now := s.now().UTC()
	t.Status = StatusUnderVerification
	t.ProofRef = proofRef
	t.UpdatedAt = now

	if err := s.store.Update(ctx, t); err != nil {
		return nil, err
	}
	s.systemMessage(ctx, t.ID, "Payment proof received. Verification in progress.")
	s.broadcast(t)
	return t, nil
}

// Approve completes a verified trade and credits the user's receive leg.
// The ledger credit is keyed by the trade ID, so a retried approval can
// never settle twice.
func (s *Service) Approve(ctx context.Context, id, adminID string, expectedStatus Status) (*Trade, error) {
	mu := s.tradeLock(id)
	mu.Lock()
	defer mu.Unlock()

	t, err := s.loadFor(ctx, id, expectedStatus)
	if err != nil {
		return nil, err
	}
	if t.AdminID != adminID {
		return nil, ErrUnauthorized
	}
	if t.IsTerminal() {
		return nil, ErrAlreadyResolved
	}
	if t.Status != StatusUnderVerification {
		return nil, ErrInvalidStatus
	}

	currency, amount := t.ReceiveLeg()
	if err := s.ledger.Credit(ctx, t.UserID, currency, amount, t.ID, t.ID, "trade settlement"); err != nil {
		return nil, fmt.Errorf("failed to credit settlement: %w", err)
	}

	s.recordResponse(ctx, t)
	now := s.now().UTC()
	t.Status = StatusCompleted
	t.Resolution = "approved"
	t.ResolvedAt = &now
	t.UpdatedAt = now

	if err := s.store.Update(ctx, t); err != nil {
		// Funds already credited; persisting the terminal state must win.
		if retryErr := s.store.Update(ctx, t); retryErr != nil {
			logging.L(ctx).Error("trade settled but status update failed",
				"trade_id", t.ID, "error", retryErr)
			return nil, fmt.Errorf("failed to update trade after settlement (requires manual resolution): %w", err)
		}
	}

	s.finishTrade(ctx, t)
	s.systemMessage(ctx, t.ID, fmt.Sprintf("Payment verified. %g %s credited to your account.", amount, currency))
	metrics.TradeCompletedTotal.Inc()
	s.broadcast(t)
	return t, nil
}

// Reject fails verification and cancels the trade. Rejection is
// terminal: the operator judged the payment evidence invalid, so the
// trade never settles. The submitted proof is kept for the audit trail.
func (s *Service) Reject(ctx context.Context, id, adminID, reason string, expectedStatus Status) (*Trade, error) {
	mu := s.tradeLock(id)
	mu.Lock()
	defer mu.Unlock()

	t, err := s.loadFor(ctx, id, expectedStatus)
	if err != nil {
		return nil, err
	}
	if t.AdminID != adminID {
		return nil, ErrUnauthorized
	}
	if t.Status != StatusUnderVerification {
		return nil, ErrInvalidStatus
	}

	s.recordResponse(ctx, t)
	now := s.now().UTC()
	t.Status = StatusCancelled
	t.Resolution = "rejected: " + reason
	t.ResolvedAt = &now
	t.UpdatedAt = now

	if err := s.store.Update(ctx, t); err != nil {
		return nil, err
	}
	s.finishTrade(ctx, t)
	s.systemMessage(ctx, t.ID, "Payment proof rejected: "+reason+". The trade has been cancelled.")
	s.broadcast(t)
	return t, nil
}

// Cancel aborts a trade before settlement. Users may cancel until their
// proof is under verification; the assigned admin may cancel any
// non-terminal, non-disputed trade.
func (s *Service) Cancel(ctx context.Context, id, actorID string, actorIsAdmin bool, reason string, expectedStatus Status) (*Trade, error) {
	mu := s.tradeLock(id)
	mu.Lock()
	defer mu.Unlock()

	t, err := s.loadFor(ctx, id, expectedStatus)
	if err != nil {
		return nil, err
	}
	if t.IsTerminal() {
		return nil, ErrAlreadyResolved
	}
	if t.Status == StatusDisputed {
		return nil, ErrInvalidStatus
	}

	if actorIsAdmin {
		if t.AdminID != "" && t.AdminID != actorID {
			return nil, ErrUnauthorized
		}
	} else {
		if t.UserID != actorID {
			return nil, ErrUnauthorized
		}
		if t.Status == StatusUnderVerification {
			return nil, ErrInvalidStatus
		}
	}

	now := s.now().UTC()
	t.Status = StatusCancelled
	t.Resolution = "cancelled: " + reason
	t.ResolvedAt = &now
	t.UpdatedAt = now

	if err := s.store.Update(ctx, t); err != nil {
		return nil, err
	}
	s.finishTrade(ctx, t)
	s.systemMessage(ctx, t.ID, "Trade cancelled: "+reason)
	s.broadcast(t)
	return t, nil
}

// Dispute escalates a trade. The remaining TTL is frozen so time spent
// in review never expires the trade.
func (s *Service) Dispute(ctx context.Context, id, actorID, reason string, expectedStatus Status) (*Trade, error) {
	mu := s.tradeLock(id)
	mu.Lock()
	defer mu.Unlock()

	t, err := s.loadFor(ctx, id, expectedStatus)
	if err != nil {
		return nil, err
	}
	if t.UserID != actorID && t.AdminID != actorID {
		return nil, ErrUnauthorized
	}
	if t.IsTerminal() {
		return nil, ErrAlreadyResolved
	}
	// Disputable from any assigned state, including before payment: an
	// unresponsive operator is grounds for escalation.
	switch t.Status {
	case StatusAssigned, StatusAwaitingProof, StatusUnderVerification:
	default:
		return nil, ErrInvalidStatus
	}

	now := s.now().UTC()
	remaining := t.ExpiresAt.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	t.Status = StatusDisputed
	t.DisputeReason = reason
	t.FrozenRemaining = remaining
	t.UpdatedAt = now

	if err := s.store.Update(ctx, t); err != nil {
		return nil, err
	}
	s.systemMessage(ctx, t.ID, "Trade disputed: "+reason+". A reviewer will intervene.")
	metrics.TradeDisputedTotal.Inc()
	s.broadcast(t)
	return t, nil
}

// Dispute resolutions.
const (
	ResolveComplete = "complete" // settle in the user's favor
	ResolveCancel   = "cancel"   // void the trade
	ResolveResume   = "resume"   // back to verification, TTL restored
)

// ResolveDispute closes a dispute. Only superadmins reach this through
// the HTTP surface.
func (s *Service) ResolveDispute(ctx context.Context, id, resolution, note string) (*Trade, error) {
	mu := s.tradeLock(id)
	mu.Lock()
	defer mu.Unlock()

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusDisputed {
		return nil, ErrInvalidStatus
	}

	now := s.now().UTC()
	switch resolution {
	case ResolveComplete:
		currency, amount := t.ReceiveLeg()
		if err := s.ledger.Credit(ctx, t.UserID, currency, amount, t.ID, t.ID, "dispute settlement"); err != nil {
			return nil, fmt.Errorf("failed to credit settlement: %w", err)
		}
		t.Status = StatusCompleted
		t.Resolution = "dispute_completed: " + note
		t.ResolvedAt = &now
		metrics.TradeCompletedTotal.Inc()
	case ResolveCancel:
		t.Status = StatusCancelled
		t.Resolution = "dispute_cancelled: " + note
		t.ResolvedAt = &now
	case ResolveResume:
		t.Status = StatusUnderVerification
		t.ExpiresAt = now.Add(t.FrozenRemaining)
		t.FrozenRemaining = 0
		t.Resolution = ""
	default:
		return nil, fmt.Errorf("unknown resolution %q", resolution)
	}
	t.UpdatedAt = now

	if err := s.store.Update(ctx, t); err != nil {
		return nil, err
	}
	if t.IsTerminal() {
		s.finishTrade(ctx, t)
	}
	s.systemMessage(ctx, t.ID, "Dispute resolved: "+resolution+". "+note)
	s.broadcast(t)
	return t, nil
}

// ReleaseToPool lets the assigned admin hand a trade back for
// reassignment before the user has paid.
func (s *Service) ReleaseToPool(ctx context.Context, id, adminID string) (*Trade, error) {
	mu := s.tradeLock(id)
	mu.Lock()
	defer mu.Unlock()

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.AdminID != adminID {
		return nil, ErrUnauthorized
	}
	if t.Status != StatusAssigned {
		return nil, ErrInvalidStatus
	}
	if t.Expired(s.now()) {
		return nil, ErrTradeExpired
	}

	if err := s.pool.Release(ctx, adminID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	t.AdminID = ""
	t.AssignedAt = nil
	t.Status = StatusCreated
	t.UpdatedAt = now

	if err := s.store.Update(ctx, t); err != nil {
		return nil, err
	}
	s.systemMessage(ctx, t.ID, "Operator released the trade. Reassigning.")
	reassigned, err := s.assignLocked(ctx, t)
	if err != nil {
		logging.L(ctx).Warn("trade release succeeded but reassignment failed", "trade_id", t.ID, "error", err)
		return t, nil
	}
	return reassigned, nil
}

// Expire marks a stalled trade expired. Safe to call concurrently and
// repeatedly: only the first call past the deadline transitions.
func (s *Service) Expire(ctx context.Context, id string) (*Trade, error) {
	mu := s.tradeLock(id)
	mu.Lock()
	defer mu.Unlock()

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.IsTerminal() {
		return nil, ErrAlreadyResolved
	}
	if !t.Expired(s.now()) {
		return nil, ErrInvalidStatus
	}

	now := s.now().UTC()
	t.Status = StatusExpired
	t.Resolution = "ttl_elapsed"
	t.ResolvedAt = &now
	t.UpdatedAt = now

	if err := s.store.Update(ctx, t); err != nil {
		return nil, err
	}
	s.finishTrade(ctx, t)
	s.systemMessage(ctx, t.ID, "Trade expired: settlement window elapsed.")
	metrics.TradeExpiredTotal.Inc()
	s.broadcast(t)
	return t, nil
}

// Get returns a trade by ID.
func (s *Service) Get(ctx context.Context, id string) (*Trade, error) {
	return s.store.Get(ctx, id)
}

// ListByUser returns a user's trades.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]*Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit)
}

// ListByAdmin returns an admin's assigned trades.
func (s *Service) ListByAdmin(ctx context.Context, adminID string, limit int) ([]*Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByAdmin(ctx, adminID, limit)
}

// TradeParticipants resolves the chat participants of a trade.
func (s *Service) TradeParticipants(ctx context.Context, tradeID string) (userID, adminID string, err error) {
	t, err := s.store.Get(ctx, tradeID)
	if err != nil {
		return "", "", err
	}
	return t.UserID, t.AdminID, nil
}

// loadFor fetches a trade and enforces the caller's optimistic
// precondition: when expectedStatus is set and the trade has moved on,
// the operation fails with ErrStateConflict instead of acting on state
// the caller never saw.
func (s *Service) loadFor(ctx context.Context, id string, expectedStatus Status) (*Trade, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if expectedStatus != "" && t.Status != expectedStatus {
		return nil, ErrStateConflict
	}
	return t, nil
}

// finishTrade handles terminal bookkeeping: admin load, terminal
// metrics, and the settlement duration histogram.
func (s *Service) finishTrade(ctx context.Context, t *Trade) {
	if t.AdminID != "" {
		if err := s.pool.Release(ctx, t.AdminID); err != nil {
			logging.L(ctx).Warn("failed to release admin load", "trade_id", t.ID, "admin_id", t.AdminID, "error", err)
		}
	}
	metrics.TradesTotal.WithLabelValues(string(t.Status)).Inc()
	if t.ResolvedAt != nil {
		metrics.TradeDuration.Observe(t.ResolvedAt.Sub(t.CreatedAt).Seconds())
	}
}

// recordResponse folds the admin's first action latency into their profile.
func (s *Service) recordResponse(ctx context.Context, t *Trade) {
	if t.AdminRespondedAt != nil || t.AssignedAt == nil {
		return
	}
	now := s.now().UTC()
	t.AdminRespondedAt = &now
	if err := s.pool.RecordResponseTime(ctx, t.AdminID, now.Sub(*t.AssignedAt)); err != nil {
		logging.L(ctx).Warn("failed to record response time", "trade_id", t.ID, "error", err)
	}
}

func (s *Service) systemMessage(ctx context.Context, tradeID, body string) {
	if s.chat == nil {
		return
	}
	if err := s.chat.PostSystem(ctx, tradeID, body); err != nil {
		logging.L(ctx).Warn("failed to post system message", "trade_id", tradeID, "error", err)
	}
}

func (s *Service) broadcast(t *Trade) {
	if s.broadcaster != nil {
		s.broadcaster.BroadcastTrade(t)
	}
}
