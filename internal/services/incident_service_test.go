package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/models"
)

func TestBlockBanner(t *testing.T) {
	scope, eta := BlockBanner(models.SeverityCritical, "Shopify")
	assert.Equal(t, "All Shopify metrics are affected", scope)
	assert.Equal(t, "Resolution expected within 4 hours", eta)

	scope, eta = BlockBanner(models.SeverityHigh, "Facebook Ads")
	assert.Equal(t, "Recent Facebook Ads data may be incomplete", scope)
	assert.Equal(t, "Resolution expected within 12 hours", eta)

	scope, eta = BlockBanner(models.SeverityWarning, "Klaviyo")
	assert.Equal(t, "Some Klaviyo data is delayed", scope)
	assert.Equal(t, "Resolution expected within 24 hours", eta)
}
