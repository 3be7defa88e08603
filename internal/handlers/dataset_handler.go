package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/models"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/services"
)

// DatasetHandler exposes dataset version lifecycle operations. These routes
// are operator-facing; dataset versions are global, not tenant-scoped.
type DatasetHandler struct {
	datasets *services.DatasetService
	logger   *logrus.Logger
}

// NewDatasetHandler creates a new dataset handler
func NewDatasetHandler(datasets *services.DatasetService, logger *logrus.Logger) *DatasetHandler {
	return &DatasetHandler{datasets: datasets, logger: logger}
}

type createVersionRequest struct {
	DatasetName string                 `json:"dataset_name" binding:"required"`
	Version     string                 `json:"version" binding:"required"`
	Columns     []models.DatasetColumn `json:"columns" binding:"required"`
}

// CreateVersion registers a pending dataset version with its column contract
func (h *DatasetHandler) CreateVersion(c *gin.Context) {
	var req createVersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": services.CodeInvalidInput, "message": "invalid request body"})
		return
	}
	version, err := h.datasets.CreatePending(c.Request.Context(), req.DatasetName, req.Version, req.Columns)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, version)
}

// Activate promotes a pending version to active
func (h *DatasetHandler) Activate(c *gin.Context) {
	version, err := h.datasets.Activate(c.Request.Context(), c.Param("name"), c.Param("version"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, version)
}

// Rollback restores the most recently superseded version
func (h *DatasetHandler) Rollback(c *gin.Context) {
	version, err := h.datasets.Rollback(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, version)
}

// GetActive returns the currently active version of a dataset
func (h *DatasetHandler) GetActive(c *gin.Context) {
	version, err := h.datasets.GetActive(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, version)
}
