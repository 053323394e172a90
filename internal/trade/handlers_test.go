package trade

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/swiftramp/swiftramp/internal/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) (*gin.Engine, *Service) {
	t.Helper()
	svc, _, _ := newTestService(t)
	r := gin.New()
	v1 := r.Group("/v1")
	v1.Use(auth.Middleware("")) // dev mode: identity headers only
	NewHandler(svc).RegisterRoutes(v1)
	return r, svc
}

func doJSON(r *gin.Engine, method, path, body, actorID, role string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.HeaderActorID, actorID)
	req.Header.Set(auth.HeaderActorRole, role)
	r.ServeHTTP(w, req)
	return w
}

func TestErrorEnvelope_CarriesCurrentStatus(t *testing.T) {
	r, svc := newTestRouter(t)
	tr, err := svc.Create(context.Background(), CreateRequest{
		UserID: "usr_1", Direction: DirectionBuy, Asset: "BTC", FiatCurrency: "NGN", CryptoAmount: 0.01,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Stale precondition: the caller thinks the trade is still created,
	// but assignment already moved it on.
	w := doJSON(r, "POST", "/v1/trades/"+tr.ID+"/payment",
		`{"paymentRef":"ref-1","expectedStatus":"created"}`, "usr_1", auth.RoleUser)
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected 409, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Error  string `json:"error"`
		Status Status `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse error body: %v", err)
	}
	if resp.Error != "state_conflict" {
		t.Errorf("Expected state_conflict, got %q", resp.Error)
	}
	if resp.Status != StatusAssigned {
		t.Errorf("Expected authoritative status %q in error body, got %q", StatusAssigned, resp.Status)
	}
}

func TestErrorEnvelope_StatusOnTerminalConflict(t *testing.T) {
	r, svc := newTestRouter(t)
	tr, err := svc.Create(context.Background(), CreateRequest{
		UserID: "usr_1", Direction: DirectionBuy, Asset: "BTC", FiatCurrency: "NGN", CryptoAmount: 0.01,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	tr = driveTo(t, svc, tr, StatusCompleted)

	// A late approval cannot settle again; the body says where the trade is.
	w := doJSON(r, "POST", "/v1/trades/"+tr.ID+"/approve", `{}`, tr.AdminID, auth.RoleAdmin)
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected 409, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Status Status `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse error body: %v", err)
	}
	if resp.Status != StatusCompleted {
		t.Errorf("Expected status %q in error body, got %q", StatusCompleted, resp.Status)
	}
}

func TestErrorEnvelope_UnknownTradeHasNoStatus(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(r, "GET", "/v1/trades/trd_missing", "", "usr_1", auth.RoleUser)
	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", w.Code)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse error body: %v", err)
	}
	if _, ok := resp["status"]; ok {
		t.Error("Unknown trades have no authoritative status to report")
	}
}
