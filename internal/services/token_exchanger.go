package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/models"
)

const (
	metaExchangeURL   = "https://graph.facebook.com/v19.0/oauth/access_token"
	googleTokenURL    = "https://oauth2.googleapis.com/token"
	exchangeUserAgent = "controlplane-token-manager/1.0"
)

// OAuthExchanger implements the platform-specific token exchanges. Shopify
// offline tokens never rotate; Meta uses the long-lived token exchange;
// Google uses the standard refresh_token grant.
type OAuthExchanger struct {
	httpClient *http.Client
}

// NewOAuthExchanger creates the default exchanger
func NewOAuthExchanger() *OAuthExchanger {
	return &OAuthExchanger{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Exchange dispatches to the platform flow for the source type
func (e *OAuthExchanger) Exchange(ctx context.Context, sourceType string, payload TokenPayload) (*TokenPayload, *time.Time, bool, error) {
	switch sourceType {
	case models.SourceShopify:
		// Offline access tokens are long-lived and have no refresh flow.
		return &payload, nil, true, nil
	case models.SourceFacebook:
		return e.exchangeMeta(ctx, payload)
	case models.SourceGoogle:
		return e.exchangeGoogle(ctx, payload)
	default:
		return &payload, nil, true, nil
	}
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int    `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (e *OAuthExchanger) exchangeMeta(ctx context.Context, payload TokenPayload) (*TokenPayload, *time.Time, bool, error) {
	params := url.Values{
		"grant_type":        {"fb_exchange_token"},
		"client_id":         {payload.ClientID},
		"client_secret":     {payload.ClientSecret},
		"fb_exchange_token": {payload.AccessToken},
	}
	resp, err := e.post(ctx, metaExchangeURL, params)
	if err != nil {
		return nil, nil, false, err
	}

	fresh := payload
	fresh.AccessToken = resp.AccessToken
	expiresAt := expiryFrom(resp.ExpiresIn)
	return &fresh, expiresAt, false, nil
}

func (e *OAuthExchanger) exchangeGoogle(ctx context.Context, payload TokenPayload) (*TokenPayload, *time.Time, bool, error) {
	params := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {payload.RefreshToken},
		"client_id":     {payload.ClientID},
		"client_secret": {payload.ClientSecret},
	}
	resp, err := e.post(ctx, googleTokenURL, params)
	if err != nil {
		return nil, nil, false, err
	}

	fresh := payload
	fresh.AccessToken = resp.AccessToken
	if resp.RefreshToken != "" {
		fresh.RefreshToken = resp.RefreshToken
	}
	expiresAt := expiryFrom(resp.ExpiresIn)
	return &fresh, expiresAt, false, nil
}

func (e *OAuthExchanger) post(ctx context.Context, endpoint string, params url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", exchangeUserAgent)

	httpResp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchange request failed: %w", err)
	}
	defer httpResp.Body.Close()

	var resp tokenResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode exchange response: %w", err)
	}

	if httpResp.StatusCode >= 400 || resp.Error != "" {
		cause := fmt.Errorf("exchange rejected (%d): %s %s", httpResp.StatusCode, resp.Error, resp.ErrorDescription)
		// invalid_grant means the merchant revoked or the token is dead;
		// retrying cannot help.
		if resp.Error == "invalid_grant" || httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden {
			return nil, NewPermanentRefreshError(cause)
		}
		return nil, cause
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("exchange response missing access token")
	}
	return &resp, nil
}

func expiryFrom(expiresIn int) *time.Time {
	if expiresIn <= 0 {
		return nil
	}
	t := time.Now().UTC().Add(time.Duration(expiresIn) * time.Second)
	return &t
}
