// Package rates provides crypto/USD pricing, USD/fiat FX, and rate locking.
package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/swiftramp/swiftramp/internal/logging"
	"github.com/swiftramp/swiftramp/internal/retry"
)

// ErrNoSnapshot is returned when the oracle has never fetched a price.
var ErrNoSnapshot = errors.New("no price snapshot available")

// ErrUnknownAsset is returned for assets the oracle does not track.
var ErrUnknownAsset = errors.New("unknown asset")

// ErrUnknownCurrency is returned for fiat currencies the oracle does not track.
var ErrUnknownCurrency = errors.New("unknown currency")

// assetIDs maps asset symbols to upstream price API identifiers.
var assetIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"USDT": "tether",
}

// trackedFiat are the settlement currencies the FX feed must cover.
var trackedFiat = []string{"NGN", "KES"}

// Options configures the oracle's upstream endpoints and refresh behavior.
type Options struct {
	PriceBaseURL string        // crypto/USD price API base
	FXBaseURL    string        // USD/fiat FX API base
	PriceTTL     time.Duration // snapshot age beyond which prices are stale
	FXTTL        time.Duration
	Timeout      time.Duration
	MaxRetries   int
}

// Oracle caches crypto/USD prices and USD/fiat FX rates fetched from
// upstream feeds. Reads never block on the network: callers get the
// cached snapshot plus an explicit staleness flag, and background
// refresh loops keep the snapshot current.
type Oracle struct {
	opts   Options
	client *http.Client

	mu       sync.RWMutex
	prices   map[string]float64 // asset symbol -> USD price
	fx       map[string]float64 // fiat currency -> units per USD
	pricesAt time.Time
	fxAt     time.Time
}

// NewOracle creates an oracle. Call Start to begin background refreshes.
func NewOracle(opts Options) *Oracle {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	return &Oracle{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		prices: make(map[string]float64),
		fx:     make(map[string]float64),
	}
}

// Start refreshes immediately, then keeps both feeds current until ctx is done.
func (o *Oracle) Start(ctx context.Context) {
	if err := o.Refresh(ctx); err != nil {
		logging.L(ctx).Warn("initial rate refresh failed", "error", err)
	}

	go o.loop(ctx, o.opts.PriceTTL, o.refreshPrices, "prices")
	go o.loop(ctx, o.opts.FXTTL, o.refreshFX, "fx")
}

func (o *Oracle) loop(ctx context.Context, interval time.Duration, refresh func(context.Context) error, feed string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := refresh(ctx); err != nil {
				logging.L(ctx).Warn("rate refresh failed", "feed", feed, "error", err)
			}
		}
	}
}

// Refresh fetches both feeds once. Used at startup and by tests.
func (o *Oracle) Refresh(ctx context.Context) error {
	if err := o.refreshPrices(ctx); err != nil {
		return err
	}
	return o.refreshFX(ctx)
}

// Price returns the cached USD price for an asset and whether it is stale.
func (o *Oracle) Price(asset string) (price float64, stale bool, err error) {
	if _, ok := assetIDs[strings.ToUpper(asset)]; !ok {
		return 0, false, ErrUnknownAsset
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	price, ok := o.prices[strings.ToUpper(asset)]
	if !ok || o.pricesAt.IsZero() {
		return 0, false, ErrNoSnapshot
	}
	return price, time.Since(o.pricesAt) > o.opts.PriceTTL, nil
}

// FX returns the cached fiat units per USD and whether the rate is stale.
func (o *Oracle) FX(currency string) (rate float64, stale bool, err error) {
	cur := strings.ToUpper(currency)
	o.mu.RLock()
	defer o.mu.RUnlock()
	rate, ok := o.fx[cur]
	if !ok {
		for _, f := range trackedFiat {
			if f == cur {
				return 0, false, ErrNoSnapshot
			}
		}
		return 0, false, ErrUnknownCurrency
	}
	if o.fxAt.IsZero() {
		return 0, false, ErrNoSnapshot
	}
	return rate, time.Since(o.fxAt) > o.opts.FXTTL, nil
}

// Healthy reports whether the oracle holds a usable (possibly stale) snapshot.
func (o *Oracle) Healthy() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return !o.pricesAt.IsZero() && !o.fxAt.IsZero()
}

func (o *Oracle) refreshPrices(ctx context.Context) error {
	ids := make([]string, 0, len(assetIDs))
	for _, id := range assetIDs {
		ids = append(ids, id)
	}
	url := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd",
		strings.TrimRight(o.opts.PriceBaseURL, "/"), strings.Join(ids, ","))

	var result map[string]struct {
		USD float64 `json:"usd"`
	}
	err := retry.Do(ctx, o.opts.MaxRetries, 200*time.Millisecond, func() error {
		return o.fetchJSON(ctx, url, &result)
	})
	if err != nil {
		return fmt.Errorf("refresh prices: %w", err)
	}

	prices := make(map[string]float64, len(assetIDs))
	for symbol, id := range assetIDs {
		entry, ok := result[id]
		if !ok || entry.USD <= 0 {
			return fmt.Errorf("refresh prices: missing or invalid price for %s", symbol)
		}
		prices[symbol] = entry.USD
	}

	o.mu.Lock()
	o.prices = prices
	o.pricesAt = time.Now()
	o.mu.Unlock()
	return nil
}

func (o *Oracle) refreshFX(ctx context.Context) error {
	url := strings.TrimRight(o.opts.FXBaseURL, "/") + "/latest/USD"

	var result struct {
		Rates map[string]float64 `json:"rates"`
	}
	err := retry.Do(ctx, o.opts.MaxRetries, 200*time.Millisecond, func() error {
		return o.fetchJSON(ctx, url, &result)
	})
	if err != nil {
		return fmt.Errorf("refresh fx: %w", err)
	}

	fx := make(map[string]float64, len(trackedFiat))
	for _, cur := range trackedFiat {
		rate, ok := result.Rates[cur]
		if !ok || rate <= 0 {
			return fmt.Errorf("refresh fx: missing or invalid rate for %s", cur)
		}
		fx[cur] = rate
	}

	o.mu.Lock()
	o.fx = fx
	o.fxAt = time.Now()
	o.mu.Unlock()
	return nil
}

func (o *Oracle) fetchJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return retry.Permanent(fmt.Errorf("upstream returned status %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
