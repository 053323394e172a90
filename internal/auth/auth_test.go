package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(secret string, extra ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers := append([]gin.HandlerFunc{Middleware(secret)}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		actor, _ := FromGin(c)
		c.JSON(http.StatusOK, gin.H{"id": actor.ID, "role": actor.Role})
	})
	r.GET("/ping", handlers...)
	return r
}

func doReq(r *gin.Engine, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMiddleware_RejectsBadSecret(t *testing.T) {
	r := newRouter("s3cret")
	w := doReq(r, map[string]string{
		HeaderActorID:       "usr_1",
		HeaderActorRole:     RoleUser,
		HeaderGatewaySecret: "wrong",
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
}

func TestMiddleware_AcceptsValidIdentity(t *testing.T) {
	r := newRouter("s3cret")
	w := doReq(r, map[string]string{
		HeaderActorID:       "usr_1",
		HeaderActorRole:     RoleUser,
		HeaderGatewaySecret: "s3cret",
	})
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestMiddleware_RequiresIdentityEvenWithoutSecret(t *testing.T) {
	r := newRouter("") // dev mode, no gateway secret configured
	w := doReq(r, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without identity headers, got %d", w.Code)
	}
}

func TestMiddleware_RejectsUnknownRole(t *testing.T) {
	r := newRouter("")
	w := doReq(r, map[string]string{
		HeaderActorID:   "usr_1",
		HeaderActorRole: "root",
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for unknown role, got %d", w.Code)
	}
}

func TestRequireRole_BlocksUsers(t *testing.T) {
	r := newRouter("", RequireRole(RoleAdmin))
	w := doReq(r, map[string]string{
		HeaderActorID:   "usr_1",
		HeaderActorRole: RoleUser,
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for user on admin route, got %d", w.Code)
	}
}

func TestRequireRole_SuperAdminPassesAnyCheck(t *testing.T) {
	r := newRouter("", RequireRole(RoleAdmin))
	w := doReq(r, map[string]string{
		HeaderActorID:   "adm_root",
		HeaderActorRole: RoleSuperAdmin,
	})
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for superadmin, got %d", w.Code)
	}
}

func TestIsAdmin(t *testing.T) {
	if (Actor{Role: RoleUser}).IsAdmin() {
		t.Error("User should not be admin")
	}
	if !(Actor{Role: RoleAdmin}).IsAdmin() || !(Actor{Role: RoleSuperAdmin}).IsAdmin() {
		t.Error("Admin and superadmin should report IsAdmin")
	}
}
