package server

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/swiftramp/swiftramp/internal/auth"
	"github.com/swiftramp/swiftramp/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeFeeds serves CoinGecko-shaped prices and er-api-shaped FX rates.
func fakeFeeds(t *testing.T) (priceURL, fxURL string) {
	t.Helper()
	price := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":95000},"ethereum":{"usd":2500},"tether":{"usd":1}}`))
	}))
	t.Cleanup(price.Close)
	fx := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"rates":{"NGN":1600,"KES":130}}`))
	}))
	t.Cleanup(fx.Close)
	return price.URL, fx.URL
}

// testConfig returns a minimal config for testing
func testConfig(priceURL, fxURL string) *config.Config {
	return &config.Config{
		Port:           "0",
		Env:            "development",
		LogLevel:       "error",
		TradeTTL:       900 * time.Second,
		ExpirySweep:    time.Second,
		HeartbeatTTL:   90 * time.Second,
		DefaultAdminID: "adm_default",
		MinAmounts:     map[string]float64{"BTC": 0.0001},
		MaxAmounts:     map[string]float64{"BTC": 2},
		Margins:        map[string]float64{"BTC": 0.02, "ETH": 0.02, "USDT": 0.02},
		OracleBaseURL:  priceURL,
		FXBaseURL:      fxURL,
		PriceRefresh:   time.Minute,
		FXRefresh:      5 * time.Minute,
		OracleTimeout:  2 * time.Second,
		OracleRetries:  2,
		RateLimitRPM:   600,
	}
}

// newTestServer creates a server with fake upstream feeds and a warm oracle.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	priceURL, fxURL := fakeFeeds(t)
	s, err := New(testConfig(priceURL, fxURL))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	if err := s.oracle.Refresh(context.Background()); err != nil {
		t.Fatalf("Failed to refresh oracle: %v", err)
	}
	return s
}

func asUser(req *http.Request, id string) *http.Request {
	req.Header.Set(auth.HeaderActorID, id)
	req.Header.Set(auth.HeaderActorRole, auth.RoleUser)
	return req
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestHealthDegradedWithoutSnapshot(t *testing.T) {
	priceURL, fxURL := fakeFeeds(t)
	s, err := New(testConfig(priceURL, fxURL))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	// Oracle never refreshed: rate_oracle check must fail.

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", w.Code)
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/live", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/ready", nil)
	s.router.ServeHTTP(w, req)

	// Server hasn't called Run() so ready is false
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestTradeRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	tradeRoutes := map[string]bool{
		"POST:/v1/trades":             false,
		"GET:/v1/trades/:id":          false,
		"POST:/v1/trades/:id/payment": false,
		"POST:/v1/trades/:id/proof":   false,
		"POST:/v1/trades/:id/approve": false,
		"POST:/v1/trades/:id/dispute": false,
		"POST:/v1/trades/:id/resolve": false,
		"POST:/v1/trades/:id/rating":  false,
	}

	for _, route := range routes {
		key := route.Method + ":" + route.Path
		if _, ok := tradeRoutes[key]; ok {
			tradeRoutes[key] = true
		}
	}

	for route, found := range tradeRoutes {
		if !found {
			t.Errorf("Trade route %s not registered", route)
		}
	}
}

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := []string{
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"GET:/ws",
		"GET:/v1/rates",
		"GET:/v1/rates/:asset/:fiat",
		"POST:/v1/admins",
		"POST:/v1/admins/heartbeat",
		"GET:/v1/trades/:id/messages",
		"GET:/v1/balances/:currency",
		"GET:/v1/ledger",
	}

	routeSet := make(map[string]bool)
	for _, route := range routes {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Core route %s not registered", e)
		}
	}
}

// ---------------------------------------------------------------------------
// Public rates
// ---------------------------------------------------------------------------

func TestRatesEndpointIsPublic(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/rates/BTC/NGN", nil) // no identity headers
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var quote struct {
		Rate float64 `json:"rate"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &quote); err != nil {
		t.Fatalf("Failed to parse quote: %v", err)
	}
	// 95000 * 1600 * 1.02
	if math.Abs(quote.Rate-155040000) > 1 {
		t.Errorf("Expected rate 155040000, got %v", quote.Rate)
	}
}

// ---------------------------------------------------------------------------
// Auth boundary
// ---------------------------------------------------------------------------

func TestProtectedRoutesRejectAnonymous(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/trades", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without identity headers, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// End-to-end trade over HTTP
// ---------------------------------------------------------------------------

func TestTradeCreationOverHTTP(t *testing.T) {
	s := newTestServer(t)

	body := `{"direction":"buy","asset":"BTC","fiatCurrency":"NGN","cryptoAmount":0.01}`
	w := httptest.NewRecorder()
	req := asUser(httptest.NewRequest("POST", "/v1/trades", strings.NewReader(body)), "usr_1")
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var tr struct {
		ID         string  `json:"id"`
		Status     string  `json:"status"`
		AdminID    string  `json:"adminId"`
		FiatAmount float64 `json:"fiatAmount"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &tr); err != nil {
		t.Fatalf("Failed to parse trade: %v", err)
	}

	if tr.FiatAmount != 1550400.00 {
		t.Errorf("Expected fiat amount 1550400.00, got %v", tr.FiatAmount)
	}
	// Nobody heartbeated, so the trade routes to the default operator.
	if tr.Status != "assigned" || tr.AdminID != "adm_default" {
		t.Errorf("Expected assigned to adm_default, got %s/%s", tr.Status, tr.AdminID)
	}

	// The opening system message lands in the thread.
	w = httptest.NewRecorder()
	req = asUser(httptest.NewRequest("GET", "/v1/trades/"+tr.ID+"/messages", nil), "usr_1")
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 listing messages, got %d: %s", w.Code, w.Body.String())
	}
	var page struct {
		Messages []struct {
			Role string `json:"role"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatalf("Failed to parse messages: %v", err)
	}
	if len(page.Messages) == 0 || page.Messages[0].Role != "system" {
		t.Errorf("Expected a system message in the thread, got %+v", page.Messages)
	}
}

func TestTradeAmountBoundsOverHTTP(t *testing.T) {
	s := newTestServer(t)

	body := `{"direction":"buy","asset":"BTC","fiatCurrency":"NGN","cryptoAmount":5}`
	w := httptest.NewRecorder()
	req := asUser(httptest.NewRequest("POST", "/v1/trades", strings.NewReader(body)), "usr_1")
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for out-of-bounds amount, got %d: %s", w.Code, w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// 404 test
// ---------------------------------------------------------------------------

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/nonexistent", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}
