package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/models"
)

// HTTPProviderClient fetches subscription state from the billing platform's
// REST API. Reconciliation treats the provider as the source of truth.
type HTTPProviderClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPProviderClient creates a new billing provider client
func NewHTTPProviderClient(baseURL, apiKey string) *HTTPProviderClient {
	return &HTTPProviderClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// GetSubscription returns the provider-side view of one subscription
func (c *HTTPProviderClient) GetSubscription(ctx context.Context, externalSubscriptionID string) (*ProviderSubscription, error) {
	url := fmt.Sprintf("%s/v1/subscriptions/%s", c.baseURL, externalSubscriptionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build provider request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, NewAppError(CodeAccountNotFound, "subscription not found at provider").
			WithContext("external_subscription_id", externalSubscriptionID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	var body struct {
		ID               string     `json:"id"`
		Status           string     `json:"status"`
		CurrentPeriodEnd *time.Time `json:"current_period_end"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode provider response: %w", err)
	}

	return &ProviderSubscription{
		ExternalSubscriptionID: body.ID,
		Status:                 models.SubscriptionStatus(body.Status),
		CurrentPeriodEnd:       body.CurrentPeriodEnd,
	}, nil
}
