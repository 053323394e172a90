package ledger

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/swiftramp/swiftramp/internal/auth"
	"github.com/swiftramp/swiftramp/internal/pagination"
)

// Handler exposes balance and history endpoints.
type Handler struct {
	ledger *Ledger
}

// NewHandler creates a ledger HTTP handler.
func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

// RegisterRoutes registers ledger endpoints on the given router group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/balances/:currency", h.getBalance)
	r.GET("/ledger", h.getHistory)
}

// getBalance handles GET /balances/:currency
// Users see their own balance; admins may pass ?accountId= to inspect others.
func (h *Handler) getBalance(c *gin.Context) {
	actor, err := auth.FromGin(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	accountID := actor.ID
	if requested := c.Query("accountId"); requested != "" && actor.IsAdmin() {
		accountID = requested
	}

	bal, err := h.ledger.GetBalance(c.Request.Context(), accountID, strings.ToUpper(c.Param("currency")))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load balance.",
		})
		return
	}
	c.JSON(http.StatusOK, bal)
}

// getHistory handles GET /ledger
func (h *Handler) getHistory(c *gin.Context) {
	actor, err := auth.FromGin(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	accountID := actor.ID
	if requested := c.Query("accountId"); requested != "" && actor.IsAdmin() {
		accountID = requested
	}

	limit := pagination.ParseLimit(c.Query("limit"), 50, 200)
	entries, err := h.ledger.GetHistory(c.Request.Context(), accountID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load ledger history.",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
