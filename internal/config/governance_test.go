package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func slaFixture() *FreshnessSLAConfig {
	return &FreshnessSLAConfig{
		Defaults: SLAThresholds{WarnAfterMinutes: 120, ErrorAfterMinutes: 480},
		Sources: map[string]SourceSLA{
			"shopify_orders": {
				Tiers: map[string]SLAThresholds{
					"pro":     {WarnAfterMinutes: 60, ErrorAfterMinutes: 240},
					"default": {WarnAfterMinutes: 120, ErrorAfterMinutes: 480},
				},
			},
		},
		SourceAliases:   map[string]string{"shopify": "shopify_orders"},
		CriticalSources: []string{"shopify_orders"},
	}
}

func TestResolveSLAKey(t *testing.T) {
	cfg := slaFixture()
	assert.Equal(t, "shopify_orders", cfg.ResolveSLAKey("shopify"))
	assert.Equal(t, "klaviyo", cfg.ResolveSLAKey("klaviyo"))
}

func TestThresholds(t *testing.T) {
	cfg := slaFixture()

	pro := cfg.Thresholds("shopify", "pro")
	assert.Equal(t, 60, pro.WarnAfterMinutes)
	assert.Equal(t, 240, pro.ErrorAfterMinutes)

	// Unknown tier falls back to the source's default tier.
	free := cfg.Thresholds("shopify", "free")
	assert.Equal(t, 120, free.WarnAfterMinutes)

	// Unknown source falls back to the config defaults.
	unknown := cfg.Thresholds("tiktok", "pro")
	assert.Equal(t, 120, unknown.WarnAfterMinutes)
	assert.Equal(t, 480, unknown.ErrorAfterMinutes)
}

func TestIsCriticalSource(t *testing.T) {
	cfg := slaFixture()
	assert.True(t, cfg.IsCriticalSource("shopify"))
	assert.True(t, cfg.IsCriticalSource("shopify_orders"))
	assert.False(t, cfg.IsCriticalSource("facebook"))
}
