// Package auth provides actor identity middleware for the SwiftRamp API.
//
// SwiftRamp sits behind an API gateway that terminates end-user
// authentication. The gateway forwards the verified identity in the
// X-Actor-ID and X-Actor-Role headers and proves itself with a shared
// secret in X-Gateway-Secret. This package validates those headers and
// places the actor on the gin context and the request context.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/swiftramp/swiftramp/internal/logging"
)

// Actor roles as forwarded by the gateway.
const (
	RoleUser       = "user"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "superadmin"
)

// Forwarded identity headers.
const (
	HeaderActorID       = "X-Actor-ID"
	HeaderActorRole     = "X-Actor-Role"
	HeaderGatewaySecret = "X-Gateway-Secret"
)

const actorContextKey = "swiftramp_actor"

// ErrNoActor is returned when no actor is attached to the context.
var ErrNoActor = errors.New("no actor in context")

// Actor is the authenticated caller identity.
type Actor struct {
	ID   string
	Role string
}

// IsAdmin reports whether the actor holds admin or superadmin privileges.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin || a.Role == RoleSuperAdmin
}

func validRole(role string) bool {
	return role == RoleUser || role == RoleAdmin || role == RoleSuperAdmin
}

// Middleware validates the gateway headers and attaches the actor.
// When gatewaySecret is empty (development mode) the secret check is skipped
// but identity headers are still required.
func Middleware(gatewaySecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if gatewaySecret != "" {
			provided := c.GetHeader(HeaderGatewaySecret)
			if subtle.ConstantTimeCompare([]byte(provided), []byte(gatewaySecret)) != 1 {
				c.JSON(http.StatusUnauthorized, gin.H{
					"error":   "unauthorized",
					"message": "Invalid or missing gateway secret.",
				})
				c.Abort()
				return
			}
		}

		id := c.GetHeader(HeaderActorID)
		role := c.GetHeader(HeaderActorRole)
		if id == "" || !validRole(role) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Missing or invalid actor identity headers.",
			})
			c.Abort()
			return
		}

		actor := Actor{ID: id, Role: role}
		c.Set(actorContextKey, actor)

		ctx := logging.WithActorID(c.Request.Context(), actor.ID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// RequireRole aborts with 403 unless the actor holds one of the given roles.
// A superadmin passes any role check.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(c *gin.Context) {
		actor, err := FromGin(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Authentication required.",
			})
			c.Abort()
			return
		}
		if actor.Role != RoleSuperAdmin && !allowed[actor.Role] {
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Insufficient privileges for this operation.",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// FromGin extracts the actor set by Middleware.
func FromGin(c *gin.Context) (Actor, error) {
	v, ok := c.Get(actorContextKey)
	if !ok {
		return Actor{}, ErrNoActor
	}
	actor, ok := v.(Actor)
	if !ok {
		return Actor{}, ErrNoActor
	}
	return actor, nil
}

type ctxKey string

const actorCtxKey ctxKey = "actor"

// WithActor attaches an actor to a plain context. Used by tests and
// internal callers that bypass the HTTP layer.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorCtxKey, actor)
}

// FromContext extracts an actor from a plain context.
func FromContext(ctx context.Context) (Actor, error) {
	actor, ok := ctx.Value(actorCtxKey).(Actor)
	if !ok {
		return Actor{}, ErrNoActor
	}
	return actor, nil
}
