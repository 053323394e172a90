package admins

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/swiftramp/swiftramp/internal/auth"
	"github.com/swiftramp/swiftramp/internal/validation"
)

// Handler exposes admin management endpoints.
type Handler struct {
	service *Service
}

// NewHandler creates an admins HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers admin endpoints on the given router group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/admins", auth.RequireRole(auth.RoleSuperAdmin), h.register)
	r.GET("/admins", auth.RequireRole(auth.RoleAdmin), h.list)
	r.GET("/admins/:id", auth.RequireRole(auth.RoleAdmin), h.get)
	r.POST("/admins/heartbeat", auth.RequireRole(auth.RoleAdmin), h.heartbeat)
}

type registerRequest struct {
	DisplayName string `json:"displayName"`
	Region      string `json:"region"`
	MaxLoad     int    `json:"maxLoad"`
}

// register handles POST /admins
func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid JSON body.",
		})
		return
	}

	errs := validation.Validate(
		validation.Required("displayName", req.DisplayName),
		validation.Required("region", req.Region),
		validation.MaxLength("displayName", req.DisplayName, 120),
	)
	if len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "details": errs})
		return
	}

	p, err := h.service.Register(c.Request.Context(), req.DisplayName, Region(req.Region), req.MaxLoad)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusCreated, p)
}

// list handles GET /admins
func (h *Handler) list(c *gin.Context) {
	all, err := h.service.List(c.Request.Context(), 500)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list admins.",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"admins": all})
}

// get handles GET /admins/:id
func (h *Handler) get(c *gin.Context) {
	p, err := h.service.Get(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, ErrAdminNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "admin_not_found",
			"message": "No admin with that ID.",
		})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load admin.",
		})
	default:
		c.JSON(http.StatusOK, p)
	}
}

// heartbeat handles POST /admins/heartbeat
// Admins heartbeat as themselves; the actor ID is the admin ID.
func (h *Handler) heartbeat(c *gin.Context) {
	actor, err := auth.FromGin(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	err = h.service.Heartbeat(c.Request.Context(), actor.ID)
	switch {
	case errors.Is(err, ErrAdminNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "admin_not_found",
			"message": "No admin profile for this actor.",
		})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to record heartbeat.",
		})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
