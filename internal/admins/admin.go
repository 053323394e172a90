// Package admins manages the verification operators who settle trades.
//
// Every trade is worked by a human admin. Admins heartbeat while on
// shift, carry a rolling rating from trade reviews, and accumulate a
// running average response time. The assignment engine ranks online
// admins and routes each new trade to the best available one.
package admins

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrAdminNotFound is returned when an admin does not exist.
	ErrAdminNotFound = errors.New("admin not found")
	// ErrAdminExists is returned when registering a duplicate admin ID.
	ErrAdminExists = errors.New("admin already exists")
	// ErrNoAdminAvailable is returned when no admin (including the
	// default operator) can take a trade.
	ErrNoAdminAvailable = errors.New("no admin available")
	// ErrLoadConflict is returned when a load compare-and-swap loses a race.
	ErrLoadConflict = errors.New("admin load changed concurrently")
)

// Region scopes an admin to a settlement corridor.
type Region string

const (
	RegionNG  Region = "NG"  // Nigeria (NGN)
	RegionKE  Region = "KE"  // Kenya (KES)
	RegionAll Region = "ALL" // works any corridor
)

// RegionForFiat maps a settlement currency to its corridor.
func RegionForFiat(fiat string) Region {
	switch strings.ToUpper(fiat) {
	case "KES":
		return RegionKE
	default:
		return RegionNG
	}
}

// ValidRegion reports whether r is a known region.
func ValidRegion(r Region) bool {
	return r == RegionNG || r == RegionKE || r == RegionAll
}

// Profile is a verification operator's record.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Region      Region `json:"region"`

	// RollingRating is the running average of trade review scores (1-5).
	// RatingCount is the number of reviews folded in.
	RollingRating float64 `json:"rollingRating"`
	RatingCount   int64   `json:"ratingCount"`

	// AvgResponseSeconds is the running average time from assignment
	// to the admin's first action on a trade.
	AvgResponseSeconds float64 `json:"avgResponseSeconds"`
	ResponseCount      int64   `json:"responseCount"`

	// CurrentLoad is the number of open trades assigned to this admin.
	CurrentLoad int `json:"currentLoad"`
	MaxLoad     int `json:"maxLoad"`

	LastHeartbeat time.Time `json:"lastHeartbeat"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Online reports whether the admin's heartbeat is within ttl of now.
func (p *Profile) Online(now time.Time, ttl time.Duration) bool {
	return !p.LastHeartbeat.IsZero() && now.Sub(p.LastHeartbeat) <= ttl
}

// Serves reports whether the admin covers the given corridor.
func (p *Profile) Serves(region Region) bool {
	return p.Region == RegionAll || p.Region == region
}

// Store persists admin profiles.
type Store interface {
	Create(ctx context.Context, p *Profile) error
	Get(ctx context.Context, id string) (*Profile, error)
	Update(ctx context.Context, p *Profile) error
	List(ctx context.Context, limit int) ([]*Profile, error)

	// Heartbeat stamps the admin's liveness.
	Heartbeat(ctx context.Context, id string, at time.Time) error

	// CompareAndSwapLoad adjusts CurrentLoad from expected to next.
	// Returns ErrLoadConflict if the stored load is not expected.
	CompareAndSwapLoad(ctx context.Context, id string, expected, next int) error
}
