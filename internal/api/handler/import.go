package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/davet/prodsync/internal/domain"
	"github.com/davet/prodsync/internal/service"
	"github.com/davet/prodsync/internal/storage"
)

// ImportHandler exposes the import pipeline's entry points.
type ImportHandler struct {
	imports *service.ImportService
	chunks  *service.ChunkProcessor
	store   storage.ObjectStorage
}

// NewImportHandler creates a new import handler.
func NewImportHandler(imports *service.ImportService, chunks *service.ChunkProcessor, store storage.ObjectStorage) *ImportHandler {
	return &ImportHandler{imports: imports, chunks: chunks, store: store}
}

// StartImport accepts a supplier file (multipart upload or an already-stored
// object key) and starts the import asynchronously.
//
// POST /api/v1/imports
func (h *ImportHandler) StartImport(c *gin.Context) {
	userID := requireUserID(c)
	if userID == "" {
		return
	}

	req := service.StartImportRequest{UserID: userID}

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		file, header, err := c.Request.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing file upload"})
			return
		}
		defer file.Close()
		req.Source = file
		req.SourceFile = header.Filename
		req.SupplierID = c.PostForm("supplier_id")
		req.Delimiter = c.PostForm("delimiter")
		req.SkipRows, _ = strconv.Atoi(c.PostForm("skip_rows"))
		req.HasHeaderRow = c.PostForm("has_header_row") == "true"
		req.InboxID = c.PostForm("inbox_id")
		if mapping := c.PostForm("column_mapping"); mapping != "" {
			if err := json.Unmarshal([]byte(mapping), &req.Mapping); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid column_mapping"})
				return
			}
		}
	} else {
		var body struct {
			SupplierID    string               `json:"supplier_id"`
			StorageKey    string               `json:"storage_key"`
			Delimiter     string               `json:"delimiter"`
			SkipRows      int                  `json:"skip_rows"`
			HasHeaderRow  bool                 `json:"has_header_row"`
			ColumnMapping domain.ColumnMapping `json:"column_mapping"`
			InboxID       string               `json:"inbox_id"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if body.StorageKey == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "storage_key is required"})
			return
		}
		source, err := h.store.Download(c.Request.Context(), body.StorageKey)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to fetch source file"})
			return
		}
		defer source.Close()
		req.Source = source
		req.SourceFile = body.StorageKey
		req.SupplierID = body.SupplierID
		req.Delimiter = body.Delimiter
		req.SkipRows = body.SkipRows
		req.HasHeaderRow = body.HasHeaderRow
		req.Mapping = body.ColumnMapping
		req.InboxID = body.InboxID
	}

	if req.SupplierID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "supplier_id is required"})
		return
	}

	result, err := h.imports.StartImport(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, result)
}

// GetJob returns the pollable job resource.
//
// GET /api/v1/imports/:id
func (h *ImportHandler) GetJob(c *gin.Context) {
	job, err := h.imports.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// ProcessChunk is the chain's re-entry point for one checkpoint slice.
// Intended for internal dispatch, not end users.
//
// POST /api/v1/imports/chunk
func (h *ImportHandler) ProcessChunk(c *gin.Context) {
	var req service.ChunkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.JobID == "" || req.Checkpoint == "" || req.Limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_id, checkpoint and limit are required"})
		return
	}

	result, err := h.chunks.ProcessChunk(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if result.RetryScheduled {
		c.JSON(http.StatusAccepted, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// requireUserID reads the authenticated user id header and rejects the
// request when it is absent.
func requireUserID(c *gin.Context) string {
	userID := c.GetHeader("X-User-ID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
	}
	return userID
}
