package chat

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/swiftramp/swiftramp/internal/auth"
	"github.com/swiftramp/swiftramp/internal/pagination"
)

// Handler exposes trade chat endpoints.
type Handler struct {
	service *Service
}

// NewHandler creates a chat HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers chat endpoints on the given router group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/trades/:id/messages", h.post)
	r.GET("/trades/:id/messages", h.list)
}

type postRequest struct {
	Body string `json:"body"`
	Type string `json:"type"` // text (default) or image_ref
}

// post handles POST /trades/:id/messages
func (h *Handler) post(c *gin.Context) {
	actor, err := auth.FromGin(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req postRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid JSON body.",
		})
		return
	}

	// Superadmins post into threads with admin standing.
	role := actor.Role
	if role == auth.RoleSuperAdmin {
		role = RoleAdmin
	}

	msg, err := h.service.Post(c.Request.Context(), c.Param("id"), actor.ID, role, req.Body, req.Type)
	switch {
	case errors.Is(err, ErrEmptyBody):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "empty_body",
			"message": "Message body must not be empty.",
		})
	case errors.Is(err, ErrBodyTooLong):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "body_too_long",
			"message": "Message body exceeds the maximum length.",
		})
	case errors.Is(err, ErrInvalidType):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_type",
			"message": "Message type must be text or image_ref.",
		})
	case errors.Is(err, ErrSystemRole):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "System messages cannot be posted.",
		})
	case errors.Is(err, ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "not_participant",
			"message": "Only the trade's user and assigned admin may post.",
		})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to post message.",
		})
	default:
		c.JSON(http.StatusCreated, msg)
	}
}

// list handles GET /trades/:id/messages
// Threads are readable by the trade's participants and superadmins.
func (h *Handler) list(c *gin.Context) {
	actor, err := auth.FromGin(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if actor.Role != auth.RoleSuperAdmin {
		ok, err := h.service.IsParticipant(c.Request.Context(), c.Param("id"), actor.ID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "trade_not_found",
				"message": "No trade with that ID.",
			})
			return
		}
		if !ok {
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "not_participant",
				"message": "Only the trade's user and assigned admin may read the thread.",
			})
			return
		}
	}

	limit := pagination.ParseLimit(c.Query("limit"), 50, 200)
	msgs, next, hasMore, err := h.service.List(c.Request.Context(), c.Param("id"), c.Query("cursor"), limit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "The cursor is malformed.",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"messages":   msgs,
		"nextCursor": next,
		"hasMore":    hasMore,
	})
}
