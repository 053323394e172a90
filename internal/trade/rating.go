package trade

import (
	"context"
	"fmt"
)

// SubmitRating records the user's 1-5 review of a completed trade and
// folds it into the admin's rolling rating. A trade can be rated once.
func (s *Service) SubmitRating(ctx context.Context, id, userID string, score int) (*Trade, error) {
	if score < 1 || score > 5 {
		return nil, fmt.Errorf("rating score must be 1-5, got %d", score)
	}

	mu := s.tradeLock(id)
	mu.Lock()
	defer mu.Unlock()

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.UserID != userID {
		return nil, ErrUnauthorized
	}
	if t.Status != StatusCompleted {
		return nil, ErrInvalidStatus
	}
	if t.RatingScore != 0 {
		return nil, ErrDuplicateRating
	}
	if t.AdminID == "" {
		return nil, ErrInvalidStatus
	}

	if err := s.pool.RecordRating(ctx, t.AdminID, score); err != nil {
		return nil, fmt.Errorf("failed to record rating: %w", err)
	}

	t.RatingScore = score
	t.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}
