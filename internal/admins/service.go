package admins

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/swiftramp/swiftramp/internal/idgen"
	"github.com/swiftramp/swiftramp/internal/logging"
	"github.com/swiftramp/swiftramp/internal/metrics"
)

// assignAttempts bounds how many CAS races Assign will lose before giving up
// on ranked candidates and falling back to the default operator.
const assignAttempts = 4

// Service implements admin registration, liveness, and trade assignment.
type Service struct {
	store          Store
	heartbeatTTL   time.Duration
	defaultAdminID string
	now            func() time.Time
}

// NewService creates an admin service.
func NewService(store Store, heartbeatTTL time.Duration, defaultAdminID string) *Service {
	return &Service{
		store:          store,
		heartbeatTTL:   heartbeatTTL,
		defaultAdminID: defaultAdminID,
		now:            time.Now,
	}
}

// WithClock overrides the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Register creates a new admin profile.
func (s *Service) Register(ctx context.Context, displayName string, region Region, maxLoad int) (*Profile, error) {
	if !ValidRegion(region) {
		return nil, fmt.Errorf("invalid region %q", region)
	}
	if maxLoad <= 0 {
		maxLoad = 5
	}
	now := s.now().UTC()
	p := &Profile{
		ID:          idgen.WithPrefix("adm_"),
		DisplayName: strings.TrimSpace(displayName),
		Region:      region,
		MaxLoad:     maxLoad,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}
	logging.L(ctx).Info("admin registered", "admin_id", p.ID, "region", p.Region)
	return p, nil
}

// Get returns an admin profile.
func (s *Service) Get(ctx context.Context, id string) (*Profile, error) {
	return s.store.Get(ctx, id)
}

// List returns admin profiles.
func (s *Service) List(ctx context.Context, limit int) ([]*Profile, error) {
	return s.store.List(ctx, limit)
}

// Heartbeat marks the admin as online.
func (s *Service) Heartbeat(ctx context.Context, id string) error {
	return s.store.Heartbeat(ctx, id, s.now().UTC())
}

// OnlineCount returns how many admins currently hold a live heartbeat.
// The result also refreshes the online_admins gauge.
func (s *Service) OnlineCount(ctx context.Context) (int, error) {
	all, err := s.store.List(ctx, 1000)
	if err != nil {
		return 0, err
	}
	now := s.now()
	count := 0
	for _, p := range all {
		if p.Online(now, s.heartbeatTTL) {
			count++
		}
	}
	metrics.OnlineAdmins.Set(float64(count))
	return count, nil
}

// Assign picks the best available admin for a trade in the given corridor
// and atomically increments their load. Candidates are online admins
// serving the region with spare capacity, ranked by rating (desc), then
// average response time (asc), then current load (asc), then ID (asc) so
// assignment is deterministic. When no candidate can be claimed, the trade
// routes to the default operator account.
func (s *Service) Assign(ctx context.Context, region Region) (*Profile, error) {
	for attempt := 0; attempt < assignAttempts; attempt++ {
		candidate, err := s.bestCandidate(ctx, region)
		if err != nil {
			return nil, err
		}
		if candidate == nil {
			break // nobody online, fall back
		}

		err = s.store.CompareAndSwapLoad(ctx, candidate.ID, candidate.CurrentLoad, candidate.CurrentLoad+1)
		if err == nil {
			candidate.CurrentLoad++
			return candidate, nil
		}
		if !errors.Is(err, ErrLoadConflict) {
			return nil, err
		}
		// Lost the race to a concurrent assignment; re-rank and retry.
	}

	return s.assignFallback(ctx)
}

func (s *Service) bestCandidate(ctx context.Context, region Region) (*Profile, error) {
	all, err := s.store.List(ctx, 1000)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var candidates []*Profile
	for _, p := range all {
		if p.ID == s.defaultAdminID {
			continue // fallback account never competes
		}
		if !p.Online(now, s.heartbeatTTL) || !p.Serves(region) {
			continue
		}
		if p.MaxLoad > 0 && p.CurrentLoad >= p.MaxLoad {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.RollingRating != b.RollingRating {
			return a.RollingRating > b.RollingRating
		}
		if a.AvgResponseSeconds != b.AvgResponseSeconds {
			return a.AvgResponseSeconds < b.AvgResponseSeconds
		}
		if a.CurrentLoad != b.CurrentLoad {
			return a.CurrentLoad < b.CurrentLoad
		}
		return a.ID < b.ID
	})
	return candidates[0], nil
}

func (s *Service) assignFallback(ctx context.Context) (*Profile, error) {
	if s.defaultAdminID == "" {
		return nil, ErrNoAdminAvailable
	}
	fallback, err := s.store.Get(ctx, s.defaultAdminID)
	if err != nil {
		if errors.Is(err, ErrAdminNotFound) {
			return nil, ErrNoAdminAvailable
		}
		return nil, err
	}
	// The default operator absorbs unlimited load; plain increment, no CAS
	// retry bound, because correctness only needs the count to stay right.
	for {
		err := s.store.CompareAndSwapLoad(ctx, fallback.ID, fallback.CurrentLoad, fallback.CurrentLoad+1)
		if err == nil {
			fallback.CurrentLoad++
			break
		}
		if !errors.Is(err, ErrLoadConflict) {
			return nil, err
		}
		fallback, err = s.store.Get(ctx, s.defaultAdminID)
		if err != nil {
			return nil, err
		}
	}
	metrics.AssignmentFallbackTotal.Inc()
	logging.L(ctx).Warn("trade assignment fell back to default operator", "admin_id", fallback.ID)
	return fallback, nil
}

// ReleaseLoad decrements an admin's open-trade count when a trade reaches
// a terminal status. Never goes below zero.
func (s *Service) ReleaseLoad(ctx context.Context, id string) error {
	for {
		p, err := s.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if p.CurrentLoad <= 0 {
			return nil
		}
		err = s.store.CompareAndSwapLoad(ctx, id, p.CurrentLoad, p.CurrentLoad-1)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrLoadConflict) {
			return err
		}
	}
}

// RecordRating folds a 1-5 review score into the admin's rolling average.
func (s *Service) RecordRating(ctx context.Context, id string, score int) error {
	if score < 1 || score > 5 {
		return fmt.Errorf("rating score must be 1-5, got %d", score)
	}
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	total := p.RollingRating*float64(p.RatingCount) + float64(score)
	p.RatingCount++
	p.RollingRating = total / float64(p.RatingCount)
	p.UpdatedAt = s.now().UTC()
	return s.store.Update(ctx, p)
}

// RecordResponseTime folds an assignment-to-first-action duration into
// the admin's running average.
func (s *Service) RecordResponseTime(ctx context.Context, id string, d time.Duration) error {
	if d < 0 {
		d = 0
	}
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	total := p.AvgResponseSeconds*float64(p.ResponseCount) + d.Seconds()
	p.ResponseCount++
	p.AvgResponseSeconds = total / float64(p.ResponseCount)
	p.UpdatedAt = s.now().UTC()
	return s.store.Update(ctx, p)
}
