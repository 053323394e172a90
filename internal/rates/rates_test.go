package rates

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// fakeFeeds spins up price and FX upstreams returning fixed values.
func fakeFeeds(t *testing.T, btc, eth, usdt, ngn, kes float64) (priceURL, fxURL string) {
	t.Helper()

	priceSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"bitcoin":{"usd":%f},"ethereum":{"usd":%f},"tether":{"usd":%f}}`, btc, eth, usdt)
	}))
	t.Cleanup(priceSrv.Close)

	fxSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"rates":{"NGN":%f,"KES":%f}}`, ngn, kes)
	}))
	t.Cleanup(fxSrv.Close)

	return priceSrv.URL, fxSrv.URL
}

func newTestOracle(t *testing.T, priceURL, fxURL string) *Oracle {
	t.Helper()
	o := NewOracle(Options{
		PriceBaseURL: priceURL,
		FXBaseURL:    fxURL,
		PriceTTL:     time.Minute,
		FXTTL:        5 * time.Minute,
		Timeout:      2 * time.Second,
		MaxRetries:   2,
	})
	if err := o.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	return o
}

func TestOracle_PriceAndFX(t *testing.T) {
	priceURL, fxURL := fakeFeeds(t, 95000, 3200, 1, 1600, 129)
	o := newTestOracle(t, priceURL, fxURL)

	price, stale, err := o.Price("BTC")
	if err != nil || stale {
		t.Fatalf("Expected fresh BTC price, got stale=%v err=%v", stale, err)
	}
	if price != 95000 {
		t.Errorf("Expected 95000, got %f", price)
	}

	fx, stale, err := o.FX("ngn")
	if err != nil || stale {
		t.Fatalf("Expected fresh NGN rate, got stale=%v err=%v", stale, err)
	}
	if fx != 1600 {
		t.Errorf("Expected 1600, got %f", fx)
	}
}

func TestOracle_UnknownAssetAndCurrency(t *testing.T) {
	priceURL, fxURL := fakeFeeds(t, 95000, 3200, 1, 1600, 129)
	o := newTestOracle(t, priceURL, fxURL)

	if _, _, err := o.Price("DOGE"); !errors.Is(err, ErrUnknownAsset) {
		t.Errorf("Expected ErrUnknownAsset, got %v", err)
	}
	if _, _, err := o.FX("USD"); !errors.Is(err, ErrUnknownCurrency) {
		t.Errorf("Expected ErrUnknownCurrency, got %v", err)
	}
}

func TestOracle_NoSnapshot(t *testing.T) {
	o := NewOracle(Options{
		PriceBaseURL: "http://127.0.0.1:0",
		FXBaseURL:    "http://127.0.0.1:0",
		PriceTTL:     time.Minute,
		FXTTL:        time.Minute,
	})
	if _, _, err := o.Price("BTC"); !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("Expected ErrNoSnapshot, got %v", err)
	}
	if o.Healthy() {
		t.Error("Expected unhealthy oracle with no snapshot")
	}
}

func TestOracle_StaleFlagAfterTTL(t *testing.T) {
	priceURL, fxURL := fakeFeeds(t, 95000, 3200, 1, 1600, 129)
	o := NewOracle(Options{
		PriceBaseURL: priceURL,
		FXBaseURL:    fxURL,
		PriceTTL:     time.Millisecond,
		FXTTL:        time.Millisecond,
		Timeout:      2 * time.Second,
	})
	if err := o.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	price, stale, err := o.Price("BTC")
	if err != nil {
		t.Fatalf("Expected stale price, not error: %v", err)
	}
	if !stale {
		t.Error("Expected stale flag after TTL")
	}
	if price != 95000 {
		t.Errorf("Expected last-known 95000, got %f", price)
	}
}

func TestOracle_RetriesTransientUpstreamErrors(t *testing.T) {
	var calls atomic.Int32
	priceSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"bitcoin":{"usd":95000},"ethereum":{"usd":3200},"tether":{"usd":1}}`)
	}))
	defer priceSrv.Close()
	_, fxURL := fakeFeeds(t, 0, 0, 0, 1600, 129)

	o := NewOracle(Options{
		PriceBaseURL: priceSrv.URL,
		FXBaseURL:    fxURL,
		PriceTTL:     time.Minute,
		FXTTL:        time.Minute,
		MaxRetries:   3,
	})
	if err := o.refreshPrices(context.Background()); err != nil {
		t.Fatalf("Expected retry to recover, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 upstream calls, got %d", calls.Load())
	}
}

func TestLockRate_AppliesMargin(t *testing.T) {
	priceURL, fxURL := fakeFeeds(t, 95000, 3200, 1, 1600, 129)
	o := newTestOracle(t, priceURL, fxURL)
	svc := NewService(o, map[string]float64{"BTC": 0.02, "ETH": 0.02, "USDT": 0.01})

	q, err := svc.LockRate(context.Background(), "BTC", "NGN", SideBuy)
	if err != nil {
		t.Fatalf("LockRate failed: %v", err)
	}

	// 95,000 USD * 1,600 NGN/USD * 1.02 margin = 155,040,000 NGN per BTC.
	wantRate := 95000.0 * 1600 * 1.02
	if math.Abs(q.Rate-wantRate) > 0.01 {
		t.Errorf("Expected rate %.2f, got %.2f", wantRate, q.Rate)
	}
	if q.StaleSource {
		t.Error("Expected fresh quote")
	}

	// 0.01 BTC at that rate settles for 1,550,400 NGN.
	fiat := RoundFiat(0.01 * q.Rate)
	if math.Abs(fiat-1550400.00) > 0.01 {
		t.Errorf("Expected 1550400.00 NGN, got %.2f", fiat)
	}
}

func TestLockRate_SellSideMarginCutsBelowBase(t *testing.T) {
	priceURL, fxURL := fakeFeeds(t, 95000, 3200, 1, 1600, 129)
	o := newTestOracle(t, priceURL, fxURL)
	svc := NewService(o, map[string]float64{"BTC": 0.02})

	q, err := svc.LockRate(context.Background(), "BTC", "NGN", SideSell)
	if err != nil {
		t.Fatalf("LockRate failed: %v", err)
	}

	// Sellers receive base*(1-margin): 95,000 * 1,600 * 0.98.
	wantRate := 95000.0 * 1600 * 0.98
	if math.Abs(q.Rate-wantRate) > 0.01 {
		t.Errorf("Expected sell rate %.2f, got %.2f", wantRate, q.Rate)
	}
	if q.Side != SideSell {
		t.Errorf("Expected sell side on quote, got %q", q.Side)
	}

	buy, err := svc.LockRate(context.Background(), "BTC", "NGN", SideBuy)
	if err != nil {
		t.Fatalf("LockRate failed: %v", err)
	}
	if q.Rate >= buy.Rate {
		t.Errorf("Sell rate %.2f must be below buy rate %.2f", q.Rate, buy.Rate)
	}
}

func TestLockRate_RejectsUnknownSide(t *testing.T) {
	priceURL, fxURL := fakeFeeds(t, 95000, 3200, 1, 1600, 129)
	o := newTestOracle(t, priceURL, fxURL)
	svc := NewService(o, map[string]float64{"BTC": 0.02})

	if _, err := svc.LockRate(context.Background(), "BTC", "NGN", "short"); !errors.Is(err, ErrUnknownSide) {
		t.Errorf("Expected ErrUnknownSide, got %v", err)
	}
}

func TestLockRate_StalePropagates(t *testing.T) {
	priceURL, fxURL := fakeFeeds(t, 95000, 3200, 1, 1600, 129)
	o := NewOracle(Options{
		PriceBaseURL: priceURL,
		FXBaseURL:    fxURL,
		PriceTTL:     time.Millisecond,
		FXTTL:        time.Minute,
	})
	if err := o.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	svc := NewService(o, map[string]float64{"BTC": 0.02})
	q, err := svc.LockRate(context.Background(), "BTC", "KES", SideBuy)
	if err != nil {
		t.Fatalf("LockRate failed: %v", err)
	}
	if !q.StaleSource {
		t.Error("Expected StaleSource on quote from expired snapshot")
	}
}

func TestQuotes_CoversAllPairs(t *testing.T) {
	priceURL, fxURL := fakeFeeds(t, 95000, 3200, 1, 1600, 129)
	o := newTestOracle(t, priceURL, fxURL)
	svc := NewService(o, map[string]float64{})

	quotes := svc.Quotes(context.Background())
	if len(quotes) != 12 { // 3 assets x 2 currencies x 2 sides
		t.Errorf("Expected 12 quotes, got %d", len(quotes))
	}
}

func TestRoundFiat(t *testing.T) {
	if got := RoundFiat(1550400.004); got != 1550400.00 {
		t.Errorf("Expected 1550400.00, got %f", got)
	}
	if got := RoundFiat(12.345); got != 12.35 {
		t.Errorf("Expected 12.35, got %f", got)
	}
}
