package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/middleware"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/models"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/services"
)

func qualitySignalsRouter(tenantID uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	handler := NewConnectionHandler(nil, nil, nil, nil, services.NewAnomalyService(), logger)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(middleware.ContextKeyTenant, &models.Tenant{ID: tenantID})
	})
	router.POST("/connections/:id/quality-signals", handler.ReportQualitySignals)
	return router
}

func TestReportQualitySignalsCleanMeasurements(t *testing.T) {
	router := qualitySignalsRouter(uuid.New())
	body := []byte(`{
		"row_counts": {"table": "fct_orders", "yesterday": 1000, "today": 980},
		"orders": {"previous": 40, "current": 38}
	}`)

	req := httptest.NewRequest(http.MethodPost, "/connections/"+uuid.NewString()+"/quality-signals", bytes.NewBuffer(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Results        []models.AnomalyResult `json:"results"`
		IncidentOpened bool                   `json:"incident_opened"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Results, 2)
	assert.False(t, resp.IncidentOpened)
	for _, r := range resp.Results {
		assert.False(t, r.IsAnomaly, "check %s", r.CheckName)
	}
}

func TestReportQualitySignalsRejectsBadConnectionID(t *testing.T) {
	router := qualitySignalsRouter(uuid.New())

	req := httptest.NewRequest(http.MethodPost, "/connections/not-a-uuid/quality-signals", bytes.NewBufferString(`{}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
