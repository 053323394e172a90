package rates

import (
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
)

// Handler exposes rate endpoints.
type Handler struct {
	service *Service
}

// NewHandler creates a rates HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers rate endpoints on the given router group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/rates", h.listRates)
	r.GET("/rates/:asset/:fiat", h.getRate)
}

// listRates handles GET /rates
func (h *Handler) listRates(c *gin.Context) {
	quotes := h.service.Quotes(c.Request.Context())
	sort.Slice(quotes, func(i, j int) bool {
		if quotes[i].Asset != quotes[j].Asset {
			return quotes[i].Asset < quotes[j].Asset
		}
		if quotes[i].Fiat != quotes[j].Fiat {
			return quotes[i].Fiat < quotes[j].Fiat
		}
		return quotes[i].Side < quotes[j].Side
	})
	c.JSON(http.StatusOK, gin.H{"rates": quotes})
}

// getRate handles GET /rates/:asset/:fiat?side=buy|sell
func (h *Handler) getRate(c *gin.Context) {
	q, err := h.service.LockRate(c.Request.Context(), c.Param("asset"), c.Param("fiat"), c.DefaultQuery("side", SideBuy))
	switch {
	case errors.Is(err, ErrUnknownSide):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "unknown_side",
			"message": "side must be buy or sell.",
		})
	case errors.Is(err, ErrUnknownAsset), errors.Is(err, ErrUnknownCurrency):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "unsupported_pair",
			"message": "The requested asset or currency is not supported.",
		})
	case errors.Is(err, ErrNoSnapshot):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "rates_unavailable",
			"message": "No price snapshot is available yet. Try again shortly.",
		})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to compute rate.",
		})
	default:
		c.JSON(http.StatusOK, q)
	}
}
