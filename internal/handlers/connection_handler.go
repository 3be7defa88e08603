package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/middleware"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/models"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/services"
)

// ConnectionHandler exposes connector connection and credential management
type ConnectionHandler struct {
	connections *services.ConnectionService
	vault       *services.VaultService
	freshness   *services.FreshnessService
	incidents   *services.IncidentService
	anomalies   *services.AnomalyService
	logger      *logrus.Logger
}

// NewConnectionHandler creates a new connection handler
func NewConnectionHandler(
	connections *services.ConnectionService,
	vault *services.VaultService,
	freshness *services.FreshnessService,
	incidents *services.IncidentService,
	anomalies *services.AnomalyService,
	logger *logrus.Logger,
) *ConnectionHandler {
	return &ConnectionHandler{
		connections: connections,
		vault:       vault,
		freshness:   freshness,
		incidents:   incidents,
		anomalies:   anomalies,
		logger:      logger,
	}
}

// Register creates a new connector connection for the current tenant
func (h *ConnectionHandler) Register(c *gin.Context) {
	tenant, _ := middleware.CurrentTenant(c)
	user, _ := middleware.CurrentUser(c)

	var input services.RegisterConnectionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": services.CodeInvalidInput, "message": "invalid request body"})
		return
	}

	var userID *uuid.UUID
	if user != nil {
		userID = &user.ID
	}
	conn, err := h.connections.Register(c.Request.Context(), tenant.ID, userID, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conn)
}

// List returns the tenant's connections
func (h *ConnectionHandler) List(c *gin.Context) {
	tenant, _ := middleware.CurrentTenant(c)
	conns, err := h.connections.List(c.Request.Context(), tenant.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"connections": conns, "count": len(conns)})
}

// Get returns a single connection
func (h *ConnectionHandler) Get(c *gin.Context) {
	tenant, _ := middleware.CurrentTenant(c)
	connectionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": services.CodeInvalidInput, "message": "invalid connection id"})
		return
	}
	conn, err := h.connections.Get(c.Request.Context(), tenant.ID, connectionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conn)
}

// Disconnect soft-deletes a connection and revokes its credentials
func (h *ConnectionHandler) Disconnect(c *gin.Context) {
	tenant, _ := middleware.CurrentTenant(c)
	user, _ := middleware.CurrentUser(c)
	connectionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": services.CodeInvalidInput, "message": "invalid connection id"})
		return
	}
	var userID *uuid.UUID
	if user != nil {
		userID = &user.ID
	}
	if err := h.connections.Disconnect(c.Request.Context(), tenant.ID, connectionID, userID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"disconnected": true})
}

// SetEnabled pauses or resumes syncing for a connection
func (h *ConnectionHandler) SetEnabled(c *gin.Context) {
	tenant, _ := middleware.CurrentTenant(c)
	user, _ := middleware.CurrentUser(c)
	connectionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": services.CodeInvalidInput, "message": "invalid connection id"})
		return
	}
	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": services.CodeInvalidInput, "message": "enabled is required"})
		return
	}
	var userID *uuid.UUID
	if user != nil {
		userID = &user.ID
	}
	if err := h.connections.SetEnabled(c.Request.Context(), tenant.ID, connectionID, userID, *req.Enabled); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": *req.Enabled})
}

type storeCredentialRequest struct {
	SourceType   string     `json:"source_type" binding:"required"`
	AccessToken  string     `json:"access_token" binding:"required"`
	RefreshToken string     `json:"refresh_token"`
	TokenType    string     `json:"token_type"`
	Scope        string     `json:"scope"`
	ClientID     string     `json:"client_id"`
	ClientSecret string     `json:"client_secret"`
	ExpiresAt    *time.Time `json:"expires_at"`
}

// StoreCredential encrypts and stores an OAuth credential for a connection.
// The response never echoes token material back.
func (h *ConnectionHandler) StoreCredential(c *gin.Context) {
	tenant, _ := middleware.CurrentTenant(c)
	connectionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": services.CodeInvalidInput, "message": "invalid connection id"})
		return
	}
	var req storeCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": services.CodeInvalidInput, "message": "invalid request body"})
		return
	}

	payload := services.TokenPayload{
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		TokenType:    req.TokenType,
		Scope:        req.Scope,
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
	}
	cred, err := h.vault.Store(c.Request.Context(), tenant.ID, &connectionID, req.SourceType, payload, req.ExpiresAt)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"credential_id":    cred.ID,
		"source_type":      cred.SourceType,
		"status":           cred.Status,
		"token_expires_at": cred.TokenExpiresAt,
	})
}

// Availability returns the freshness state for a source type
func (h *ConnectionHandler) Availability(c *gin.Context) {
	tenant, _ := middleware.CurrentTenant(c)
	sourceType := c.Param("source")
	row, err := h.freshness.GetAvailability(c.Request.Context(), tenant.ID, sourceType)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

// ListIncidents returns open data-quality incidents for the tenant
func (h *ConnectionHandler) ListIncidents(c *gin.Context) {
	tenant, _ := middleware.CurrentTenant(c)
	incidents, err := h.incidents.ListOpen(c.Request.Context(), tenant.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"incidents": incidents, "count": len(incidents)})
}

// AcknowledgeIncident marks an incident acknowledged
func (h *ConnectionHandler) AcknowledgeIncident(c *gin.Context) {
	tenant, _ := middleware.CurrentTenant(c)
	user, _ := middleware.CurrentUser(c)
	incidentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": services.CodeInvalidInput, "message": "invalid incident id"})
		return
	}
	var userID *uuid.UUID
	if user != nil {
		userID = &user.ID
	}
	if err := h.incidents.Acknowledge(c.Request.Context(), tenant.ID, incidentID, userID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"acknowledged": true})
}

// ResolveIncident closes an incident
func (h *ConnectionHandler) ResolveIncident(c *gin.Context) {
	tenant, _ := middleware.CurrentTenant(c)
	user, _ := middleware.CurrentUser(c)
	incidentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": services.CodeInvalidInput, "message": "invalid incident id"})
		return
	}
	var userID *uuid.UUID
	if user != nil {
		userID = &user.ID
	}
	if err := h.incidents.Resolve(c.Request.Context(), tenant.ID, incidentID, userID, false); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolved": true})
}

// RecordSyncResult accepts an internal pipeline callback for a completed run
func (h *ConnectionHandler) RecordSyncResult(c *gin.Context) {
	tenant, _ := middleware.CurrentTenant(c)
	connectionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": services.CodeInvalidInput, "message": "invalid connection id"})
		return
	}
	var req struct {
		Status       models.SyncRunStatus `json:"status" binding:"required"`
		RowsSynced   int64                `json:"rows_synced"`
		ErrorMessage string               `json:"error_message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": services.CodeInvalidInput, "message": "invalid request body"})
		return
	}
	if err := h.connections.RecordSyncResult(c.Request.Context(), tenant.ID, connectionID, req.Status, req.RowsSynced, req.ErrorMessage); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recorded": true})
}

type qualitySignalsRequest struct {
	RowCounts *struct {
		Table     string `json:"table" binding:"required"`
		Yesterday int64  `json:"yesterday"`
		Today     int64  `json:"today"`
	} `json:"row_counts"`
	Spend *struct {
		Source   string  `json:"source"`
		Previous float64 `json:"previous"`
		Current  float64 `json:"current"`
	} `json:"spend"`
	Orders *struct {
		Previous int64 `json:"previous"`
		Current  int64 `json:"current"`
	} `json:"orders"`
	Coverage *struct {
		Series       string `json:"series"`
		ExpectedDays int    `json:"expected_days"`
		PresentDays  int    `json:"present_days"`
	} `json:"coverage"`
	NegativeValues *struct {
		Field string `json:"field"`
		Count int64  `json:"count"`
	} `json:"negative_values"`
	DuplicateKeys *struct {
		Table string `json:"table"`
		Count int64  `json:"count"`
	} `json:"duplicate_keys"`
	Divergence *struct {
		Currency         string  `json:"currency"`
		RevenueChangePct float64 `json:"revenue_change_pct"`
		SpendChangePct   float64 `json:"spend_change_pct"`
		ThresholdPct     float64 `json:"threshold_pct"`
	} `json:"divergence"`
}

// ReportQualitySignals accepts pipeline measurements for a connection, runs
// the registered anomaly checks over them, and opens a data-quality incident
// when any check flags. Sections absent from the body are skipped.
func (h *ConnectionHandler) ReportQualitySignals(c *gin.Context) {
	tenant, _ := middleware.CurrentTenant(c)
	connectionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": services.CodeInvalidInput, "message": "invalid connection id"})
		return
	}
	var req qualitySignalsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": services.CodeInvalidInput, "message": "invalid request body"})
		return
	}

	var results []models.AnomalyResult
	if req.RowCounts != nil {
		results = append(results, h.anomalies.CheckRowCountDrop(req.RowCounts.Table, req.RowCounts.Yesterday, req.RowCounts.Today))
	}
	if req.Spend != nil {
		results = append(results, h.anomalies.CheckZeroSpend(req.Spend.Source, req.Spend.Previous, req.Spend.Current))
	}
	if req.Orders != nil {
		results = append(results, h.anomalies.CheckZeroOrders(req.Orders.Previous, req.Orders.Current))
	}
	if req.Coverage != nil {
		results = append(results, h.anomalies.CheckMissingDays(req.Coverage.Series, req.Coverage.ExpectedDays, req.Coverage.PresentDays))
	}
	if req.NegativeValues != nil {
		results = append(results, h.anomalies.CheckNegativeValues(req.NegativeValues.Field, req.NegativeValues.Count))
	}
	if req.DuplicateKeys != nil {
		results = append(results, h.anomalies.CheckDuplicateKeys(req.DuplicateKeys.Table, req.DuplicateKeys.Count))
	}
	if req.Divergence != nil {
		results = append(results, h.anomalies.CheckDivergence(req.Divergence.Currency, req.Divergence.RevenueChangePct, req.Divergence.SpendChangePct, req.Divergence.ThresholdPct))
	}

	// One incident per connector; Open is idempotent, so the worst flagged
	// check wins and later calls attach to the existing incident.
	var worst *models.AnomalyResult
	for i := range results {
		if !results[i].IsAnomaly {
			continue
		}
		if worst == nil || severityRank(results[i].Severity) > severityRank(worst.Severity) {
			worst = &results[i]
		}
	}

	incidentOpened := false
	if worst != nil {
		_, err := h.incidents.Open(c.Request.Context(), tenant.ID, connectionID, worst.Severity,
			worst.CheckName, worst.MerchantMessage, worst.SupportDetails)
		if err != nil {
			h.logger.WithFields(logrus.Fields{
				"tenant_id":     tenant.ID,
				"connection_id": connectionID,
				"check":         worst.CheckName,
			}).WithError(err).Error("Failed to open incident for anomaly")
		} else {
			incidentOpened = true
		}
	}

	c.JSON(http.StatusOK, gin.H{"results": results, "incident_opened": incidentOpened})
}

func severityRank(s models.IncidentSeverity) int {
	switch s {
	case models.SeverityCritical:
		return 3
	case models.SeverityHigh:
		return 2
	case models.SeverityWarning:
		return 1
	default:
		return 0
	}
}
