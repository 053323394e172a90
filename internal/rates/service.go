package rates

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/swiftramp/swiftramp/internal/metrics"
)

// Trade sides. The platform margin cuts against the user on both:
// buyers pay above base, sellers receive below it.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// ErrUnknownSide is returned for sides other than buy or sell.
var ErrUnknownSide = errors.New("unknown trade side")

// Quote is a locked crypto/fiat exchange rate.
//
// Rate is fiat units per one unit of the asset, margin included. Trades
// settle at the rate captured here even if the market moves afterwards.
// StaleSource flags quotes computed from a snapshot older than its TTL;
// such quotes are still binding, the flag is advisory for clients.
type Quote struct {
	Asset       string    `json:"asset"`
	Fiat        string    `json:"fiatCurrency"`
	Side        string    `json:"side"`
	UsdPrice    float64   `json:"usdPrice"`
	FxRate      float64   `json:"fxRate"`
	Margin      float64   `json:"margin"`
	Rate        float64   `json:"rate"`
	StaleSource bool      `json:"staleSource"`
	QuotedAt    time.Time `json:"quotedAt"`
}

// Service computes margin-adjusted quotes from oracle snapshots.
type Service struct {
	oracle  *Oracle
	margins map[string]float64 // asset -> platform margin, e.g. 0.02
}

// NewService creates a rate service.
func NewService(oracle *Oracle, margins map[string]float64) *Service {
	return &Service{oracle: oracle, margins: margins}
}

// LockRate produces a binding quote for the given pair and side:
// base*(1+margin) for buys, base*(1-margin) for sells.
// Returns ErrNoSnapshot when the oracle has never seen a price, and
// ErrUnknownAsset/ErrUnknownCurrency for unsupported pairs.
func (s *Service) LockRate(ctx context.Context, asset, fiat, side string) (Quote, error) {
	asset = strings.ToUpper(asset)
	fiat = strings.ToUpper(fiat)
	side = strings.ToLower(side)
	if side != SideBuy && side != SideSell {
		return Quote{}, ErrUnknownSide
	}

	usd, priceStale, err := s.oracle.Price(asset)
	if err != nil {
		return Quote{}, err
	}
	fx, fxStale, err := s.oracle.FX(fiat)
	if err != nil {
		return Quote{}, err
	}

	margin := s.margins[asset]
	stale := priceStale || fxStale

	rate := usd * fx * (1 + margin)
	if side == SideSell {
		rate = usd * fx * (1 - margin)
	}

	q := Quote{
		Asset:       asset,
		Fiat:        fiat,
		Side:        side,
		UsdPrice:    usd,
		FxRate:      fx,
		Margin:      margin,
		Rate:        rate,
		StaleSource: stale,
		QuotedAt:    time.Now().UTC(),
	}

	source := "fresh"
	if stale {
		source = "stale"
	}
	metrics.RateLocksTotal.WithLabelValues(source).Inc()

	return q, nil
}

// Quotes returns indicative buy and sell quotes for every supported
// pair. Pairs whose snapshot is missing are omitted rather than failing
// the whole listing.
func (s *Service) Quotes(ctx context.Context) []Quote {
	quotes := make([]Quote, 0, 2*len(assetIDs)*len(trackedFiat))
	for asset := range assetIDs {
		for _, fiat := range trackedFiat {
			for _, side := range []string{SideBuy, SideSell} {
				q, err := s.LockRate(ctx, asset, fiat, side)
				if err != nil {
					continue
				}
				quotes = append(quotes, q)
			}
		}
	}
	return quotes
}

// RoundFiat rounds a fiat amount to 2 decimal places.
func RoundFiat(v float64) float64 {
	return math.Round(v*100) / 100
}
