package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/davet/prodsync/internal/service"
)

// PriceHandler exposes the dual-source price search.
type PriceHandler struct {
	search *service.PriceSearchService
}

// NewPriceHandler creates a new price handler.
func NewPriceHandler(search *service.PriceSearchService) *PriceHandler {
	return &PriceHandler{search: search}
}

// Search runs one dual-source search, persists monitoring rows and returns
// the merged result list with run statistics.
//
// POST /api/v1/prices/search
func (h *PriceHandler) Search(c *gin.Context) {
	userID := requireUserID(c)
	if userID == "" {
		return
	}

	var body struct {
		ProductName string   `json:"product_name"`
		SiteIDs     []string `json:"site_ids"`
		MaxResults  int      `json:"max_results"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if body.ProductName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "product_name is required"})
		return
	}

	result, err := h.search.RunDualSearch(c.Request.Context(), userID, body.ProductName, body.SiteIDs, body.MaxResults)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}
