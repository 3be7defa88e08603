package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/config"
)

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func billingForSignature(secret string) *BillingService {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewBillingService(nil, nil, nil, nil, nil, nil, logger, config.BillingConfig{
		WebhookSecret: secret,
	})
}

func TestVerifyWebhookSignature(t *testing.T) {
	svc := billingForSignature("whsec_test")
	body := []byte(`{"event_id":"evt_1","status":"frozen"}`)

	assert.True(t, svc.VerifyWebhookSignature(body, signBody("whsec_test", body)))
	assert.False(t, svc.VerifyWebhookSignature(body, signBody("wrong_secret", body)))
	assert.False(t, svc.VerifyWebhookSignature([]byte(`tampered`), signBody("whsec_test", body)))
	assert.False(t, svc.VerifyWebhookSignature(body, ""))
	assert.False(t, svc.VerifyWebhookSignature(body, "not-base64-!!!"))
}

func TestVerifyWebhookSignatureNoSecretConfigured(t *testing.T) {
	svc := billingForSignature("")
	body := []byte(`{}`)
	// An unset secret must reject everything rather than accept anything.
	assert.False(t, svc.VerifyWebhookSignature(body, signBody("", body)))
}
