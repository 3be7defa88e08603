package services

import (
	"strings"
)

// Keys whose values are never allowed into an audit record, regardless of
// nesting depth. Matching is case-insensitive on the key name.
var sensitiveKeys = map[string]bool{
	"access_token":   true,
	"refresh_token":  true,
	"token":          true,
	"api_key":        true,
	"apikey":         true,
	"secret":         true,
	"client_secret":  true,
	"password":       true,
	"authorization":  true,
	"private_key":    true,
	"credential":     true,
	"ssn":            true,
	"tax_id":         true,
	"vat_number":     true,
	"bank_account":   true,
	"iban":           true,
	"credit_card":    true,
	"card_number":    true,
	"account_number": true,
	"street_address": true,
	"address":        true,
}

// Keys whose values are partially redacted so support can still correlate
// records with merchant reports.
var partialKeys = map[string]bool{
	"email":         true,
	"email_address": true,
	"phone":         true,
	"phone_number":  true,
}

const redactedPlaceholder = "[REDACTED]"

// RedactMetadata walks a metadata map and strips sensitive values before they
// reach the audit log. Nested maps and slices are walked recursively; the
// input map is not mutated.
func RedactMetadata(metadata map[string]interface{}) map[string]interface{} {
	if metadata == nil {
		return nil
	}
	out := make(map[string]interface{}, len(metadata))
	for key, value := range metadata {
		out[key] = redactValue(key, value)
	}
	return out
}

func redactValue(key string, value interface{}) interface{} {
	lower := strings.ToLower(key)
	if sensitiveKeys[lower] {
		return redactedPlaceholder
	}
	if partialKeys[lower] {
		if s, ok := value.(string); ok {
			return partialRedact(s)
		}
		return redactedPlaceholder
	}

	switch v := value.(type) {
	case map[string]interface{}:
		nested := make(map[string]interface{}, len(v))
		for k, inner := range v {
			nested[k] = redactValue(k, inner)
		}
		return nested
	case []interface{}:
		nested := make([]interface{}, len(v))
		for i, inner := range v {
			nested[i] = redactValue(key, inner)
		}
		return nested
	default:
		return value
	}
}

// partialRedact keeps just enough of an identifier to correlate: the domain of
// an email, the last four digits of a phone number.
func partialRedact(s string) string {
	if at := strings.LastIndex(s, "@"); at >= 0 {
		return "***@" + s[at+1:]
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if len(digits) >= 4 {
		return "***" + digits[len(digits)-4:]
	}
	return redactedPlaceholder
}
