package trade

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/swiftramp/swiftramp/internal/auth"
	"github.com/swiftramp/swiftramp/internal/pagination"
	"github.com/swiftramp/swiftramp/internal/validation"
)

// Handler exposes the trade lifecycle over HTTP.
type Handler struct {
	service *Service
}

// NewHandler creates a trade HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers trade endpoints on the given router group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/trades", auth.RequireRole(auth.RoleUser), h.create)
	r.GET("/trades", h.list)
	r.GET("/trades/:id", h.get)
	r.POST("/trades/:id/payment", auth.RequireRole(auth.RoleUser), h.declarePayment)
	r.POST("/trades/:id/proof", auth.RequireRole(auth.RoleUser), h.submitProof)
	r.POST("/trades/:id/approve", auth.RequireRole(auth.RoleAdmin), h.approve)
	r.POST("/trades/:id/reject", auth.RequireRole(auth.RoleAdmin), h.reject)
	r.POST("/trades/:id/release", auth.RequireRole(auth.RoleAdmin), h.release)
	r.POST("/trades/:id/cancel", h.cancel)
	r.POST("/trades/:id/dispute", h.dispute)
	r.POST("/trades/:id/resolve", auth.RequireRole(auth.RoleSuperAdmin), h.resolveDispute)
	r.POST("/trades/:id/rating", auth.RequireRole(auth.RoleUser), h.rate)
}

// create handles POST /trades
func (h *Handler) create(c *gin.Context) {
	actor, err := auth.FromGin(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid JSON body.",
		})
		return
	}
	req.UserID = actor.ID

	errs := validation.Validate(
		validation.Required("direction", req.Direction),
		validation.ValidSide("direction", req.Direction),
		validation.Required("asset", req.Asset),
		validation.ValidAsset("asset", req.Asset),
		validation.Required("fiatCurrency", req.FiatCurrency),
		validation.ValidFiat("fiatCurrency", req.FiatCurrency),
		validation.PositiveAmount("cryptoAmount", req.CryptoAmount),
	)
	if len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "details": errs})
		return
	}

	t, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, c.Param("id"), err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

// list handles GET /trades
func (h *Handler) list(c *gin.Context) {
	actor, err := auth.FromGin(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	limit := pagination.ParseLimit(c.Query("limit"), 50, 200)
	var trades []*Trade
	if actor.IsAdmin() {
		trades, err = h.service.ListByAdmin(c.Request.Context(), actor.ID, limit)
	} else {
		trades, err = h.service.ListByUser(c.Request.Context(), actor.ID, limit)
	}
	if err != nil {
		h.writeError(c, c.Param("id"), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

// get handles GET /trades/:id
func (h *Handler) get(c *gin.Context) {
	actor, err := auth.FromGin(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	t, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, c.Param("id"), err)
		return
	}
	if t.UserID != actor.ID && t.AdminID != actor.ID && actor.Role != auth.RoleSuperAdmin {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Not a participant of this trade.",
		})
		return
	}
	c.JSON(http.StatusOK, t)
}

type paymentRequest struct {
	PaymentRef     string `json:"paymentRef"`
	ExpectedStatus string `json:"expectedStatus"`
}

// declarePayment handles POST /trades/:id/payment
func (h *Handler) declarePayment(c *gin.Context) {
	actor, _ := auth.FromGin(c)
	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid JSON body."})
		return
	}

	t, err := h.service.DeclarePayment(c.Request.Context(), c.Param("id"), actor.ID, req.PaymentRef, Status(req.ExpectedStatus))
	if err != nil {
		h.writeError(c, c.Param("id"), err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type proofRequest struct {
	ProofRef       string `json:"proofRef" binding:"required"`
	ExpectedStatus string `json:"expectedStatus"`
}

// submitProof handles POST /trades/:id/proof
func (h *Handler) submitProof(c *gin.Context) {
	actor, _ := auth.FromGin(c)
	var req proofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "proofRef is required."})
		return
	}

	t, err := h.service.SubmitProof(c.Request.Context(), c.Param("id"), actor.ID, req.ProofRef, Status(req.ExpectedStatus))
	if err != nil {
		h.writeError(c, c.Param("id"), err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type verdictRequest struct {
	Reason         string `json:"reason"`
	ExpectedStatus string `json:"expectedStatus"`
}

// approve handles POST /trades/:id/approve
func (h *Handler) approve(c *gin.Context) {
	actor, _ := auth.FromGin(c)
	var req verdictRequest
	_ = c.ShouldBindJSON(&req) // body optional

	t, err := h.service.Approve(c.Request.Context(), c.Param("id"), actor.ID, Status(req.ExpectedStatus))
	if err != nil {
		h.writeError(c, c.Param("id"), err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// reject handles POST /trades/:id/reject
func (h *Handler) reject(c *gin.Context) {
	actor, _ := auth.FromGin(c)
	var req verdictRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Reason == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "reason is required."})
		return
	}

	t, err := h.service.Reject(c.Request.Context(), c.Param("id"), actor.ID, req.Reason, Status(req.ExpectedStatus))
	if err != nil {
		h.writeError(c, c.Param("id"), err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// release handles POST /trades/:id/release
func (h *Handler) release(c *gin.Context) {
	actor, _ := auth.FromGin(c)
	t, err := h.service.ReleaseToPool(c.Request.Context(), c.Param("id"), actor.ID)
	if err != nil {
		h.writeError(c, c.Param("id"), err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// cancel handles POST /trades/:id/cancel
func (h *Handler) cancel(c *gin.Context) {
	actor, err := auth.FromGin(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var req verdictRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Reason == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "reason is required."})
		return
	}

	t, err := h.service.Cancel(c.Request.Context(), c.Param("id"), actor.ID, actor.IsAdmin(), req.Reason, Status(req.ExpectedStatus))
	if err != nil {
		h.writeError(c, c.Param("id"), err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// dispute handles POST /trades/:id/dispute
func (h *Handler) dispute(c *gin.Context) {
	actor, err := auth.FromGin(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var req DisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "reason is required."})
		return
	}

	expected := Status(c.Query("expectedStatus"))
	t, err := h.service.Dispute(c.Request.Context(), c.Param("id"), actor.ID, req.Reason, expected)
	if err != nil {
		h.writeError(c, c.Param("id"), err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type resolveRequest struct {
	Resolution string `json:"resolution" binding:"required"`
	Note       string `json:"note"`
}

// resolveDispute handles POST /trades/:id/resolve
func (h *Handler) resolveDispute(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "resolution is required."})
		return
	}

	t, err := h.service.ResolveDispute(c.Request.Context(), c.Param("id"), req.Resolution, req.Note)
	if err != nil {
		h.writeError(c, c.Param("id"), err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type ratingRequest struct {
	Score int `json:"score" binding:"required"`
}

// rate handles POST /trades/:id/rating
func (h *Handler) rate(c *gin.Context) {
	actor, _ := auth.FromGin(c)
	var req ratingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "score is required."})
		return
	}

	t, err := h.service.SubmitRating(c.Request.Context(), c.Param("id"), actor.ID, req.Score)
	if err != nil {
		h.writeError(c, c.Param("id"), err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// writeError maps service errors to HTTP responses. When the failed
// operation targeted an existing trade, the body carries the trade's
// current status so the client can resynchronize instead of guessing.
func (h *Handler) writeError(c *gin.Context, tradeID string, err error) {
	respond := func(httpStatus int, code, message string) {
		body := gin.H{"error": code, "message": message}
		if tradeID != "" {
			if t, getErr := h.service.Get(c.Request.Context(), tradeID); getErr == nil {
				body["status"] = t.Status
			}
		}
		c.JSON(httpStatus, body)
	}

	switch {
	case errors.Is(err, ErrTradeNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "trade_not_found",
			"message": "No trade with that ID.",
		})
	case errors.Is(err, ErrUnauthorized):
		respond(http.StatusForbidden, "forbidden", "Not authorized for this trade operation.")
	case errors.Is(err, ErrStateConflict):
		respond(http.StatusConflict, "state_conflict", "The trade changed since you last saw it. Refresh and retry.")
	case errors.Is(err, ErrAlreadyAssigned), errors.Is(err, ErrAlreadyResolved), errors.Is(err, ErrDuplicateRating):
		respond(http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, ErrInvalidStatus):
		respond(http.StatusConflict, "invalid_status", "The trade is not in a status that allows this operation.")
	case errors.Is(err, ErrTradeExpired):
		respond(http.StatusGone, "trade_expired", "The settlement window for this trade has elapsed.")
	case errors.Is(err, ErrAmountOutOfRange):
		respond(http.StatusBadRequest, "amount_out_of_range", "The crypto amount is outside the tradable bounds for this asset.")
	default:
		respond(http.StatusInternalServerError, "internal_error", "The operation failed. Try again.")
	}
}
