package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/middleware"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/services"
)

// DashboardHandler exposes custom dashboard management
type DashboardHandler struct {
	dashboards *services.DashboardService
	logger     *logrus.Logger
}

// NewDashboardHandler creates a new dashboard handler
func NewDashboardHandler(dashboards *services.DashboardService, logger *logrus.Logger) *DashboardHandler {
	return &DashboardHandler{dashboards: dashboards, logger: logger}
}

// Create creates a dashboard
func (h *DashboardHandler) Create(c *gin.Context) {
	tenant, _ := middleware.CurrentTenant(c)
	user, _ := middleware.CurrentUser(c)

	var input services.CreateDashboardInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": services.CodeInvalidInput, "message": "invalid request body"})
		return
	}
	dashboard, err := h.dashboards.Create(c.Request.Context(), tenant.ID, user.ID, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dashboard)
}

// Get returns a dashboard the user can access
func (h *DashboardHandler) Get(c *gin.Context) {
	tenant, _ := middleware.CurrentTenant(c)
	user, _ := middleware.CurrentUser(c)
	dashboardID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": services.CodeInvalidInput, "message": "invalid dashboard id"})
		return
	}
	dashboard, err := h.dashboards.Get(c.Request.Context(), tenant.ID, dashboardID, user.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dashboard)
}

// Update applies an optimistic-locked edit
func (h *DashboardHandler) Update(c *gin.Context) {
	tenant, _ := middleware.CurrentTenant(c)
	user, _ := middleware.CurrentUser(c)
	dashboardID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": services.CodeInvalidInput, "message": "invalid dashboard id"})
		return
	}
	var input services.UpdateDashboardInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": services.CodeInvalidInput, "message": "invalid request body"})
		return
	}
	dashboard, err := h.dashboards.Update(c.Request.Context(), tenant.ID, dashboardID, user.ID, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dashboard)
}

// Restore reverts a dashboard to a prior version snapshot
func (h *DashboardHandler) Restore(c *gin.Context) {
	tenant, _ := middleware.CurrentTenant(c)
	user, _ := middleware.CurrentUser(c)
	dashboardID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": services.CodeInvalidInput, "message": "invalid dashboard id"})
		return
	}
	versionNumber, err := strconv.Atoi(c.Param("version"))
	if err != nil || versionNumber < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": services.CodeInvalidInput, "message": "invalid version number"})
		return
	}
	dashboard, err := h.dashboards.Restore(c.Request.Context(), tenant.ID, dashboardID, user.ID, versionNumber)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dashboard)
}

// Archive archives a dashboard
func (h *DashboardHandler) Archive(c *gin.Context) {
	tenant, _ := middleware.CurrentTenant(c)
	user, _ := middleware.CurrentUser(c)
	dashboardID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": services.CodeInvalidInput, "message": "invalid dashboard id"})
		return
	}
	if err := h.dashboards.Archive(c.Request.Context(), tenant.ID, dashboardID, user.ID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"archived": true})
}
