package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/davet/prodsync/internal/service"
)

// QueueHandler exposes the enrichment queue.
type QueueHandler struct {
	queue *service.QueueService
}

// NewQueueHandler creates a new queue handler.
func NewQueueHandler(queue *service.QueueService) *QueueHandler {
	return &QueueHandler{queue: queue}
}

// ProcessQueue runs one scheduling pass on demand. The worker binary calls
// the same service on an interval; this endpoint exists for manual kicks.
//
// POST /api/v1/queue/process
func (h *QueueHandler) ProcessQueue(c *gin.Context) {
	var body struct {
		MaxItems    int `json:"max_items"`
		Parallelism int `json:"parallelism"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	stats, err := h.queue.ProcessQueue(c.Request.Context(), body.MaxItems, body.Parallelism)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// EnqueueTask creates a pending enrichment task for a supplier product.
//
// POST /api/v1/queue/tasks
func (h *QueueHandler) EnqueueTask(c *gin.Context) {
	userID := requireUserID(c)
	if userID == "" {
		return
	}

	var body struct {
		SupplierProductID string   `json:"supplier_product_id"`
		Priority          int      `json:"priority"`
		EnrichmentTypes   []string `json:"enrichment_types"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if body.SupplierProductID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "supplier_product_id is required"})
		return
	}

	task, err := h.queue.EnqueueTask(c.Request.Context(), userID, body.SupplierProductID, body.Priority, body.EnrichmentTypes)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, task)
}
