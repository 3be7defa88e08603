package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/models"
)

func TestCheckCompatibility(t *testing.T) {
	active := []models.DatasetColumn{
		{Name: "order_id", Type: "string", Exposed: true},
		{Name: "revenue", Type: "numeric", Exposed: true},
		{Name: "internal_hash", Type: "string", Exposed: false},
	}

	t.Run("identical schema is compatible", func(t *testing.T) {
		result := CheckCompatibility(active, active)
		assert.True(t, result.Compatible)
		assert.Empty(t, result.Breaks)
	})

	t.Run("removing an exposed column breaks", func(t *testing.T) {
		candidate := []models.DatasetColumn{
			{Name: "order_id", Type: "string", Exposed: true},
			{Name: "internal_hash", Type: "string", Exposed: false},
		}
		result := CheckCompatibility(active, candidate)
		assert.False(t, result.Compatible)
		assert.Len(t, result.Breaks, 1)
		assert.Contains(t, result.Breaks[0], "revenue")
	})

	t.Run("retyping an exposed column breaks", func(t *testing.T) {
		candidate := []models.DatasetColumn{
			{Name: "order_id", Type: "string", Exposed: true},
			{Name: "revenue", Type: "string", Exposed: true},
			{Name: "internal_hash", Type: "string", Exposed: false},
		}
		result := CheckCompatibility(active, candidate)
		assert.False(t, result.Compatible)
		assert.Contains(t, result.Breaks[0], "retyped")
	})

	t.Run("removing or retyping unexposed columns is fine", func(t *testing.T) {
		candidate := []models.DatasetColumn{
			{Name: "order_id", Type: "string", Exposed: true},
			{Name: "revenue", Type: "numeric", Exposed: true},
		}
		result := CheckCompatibility(active, candidate)
		assert.True(t, result.Compatible)
	})

	t.Run("adding columns is fine", func(t *testing.T) {
		candidate := append([]models.DatasetColumn{}, active...)
		candidate = append(candidate, models.DatasetColumn{Name: "discount", Type: "numeric", Exposed: true})
		result := CheckCompatibility(active, candidate)
		assert.True(t, result.Compatible)
	})

	t.Run("empty active schema accepts anything", func(t *testing.T) {
		result := CheckCompatibility(nil, active)
		assert.True(t, result.Compatible)
	})
}
