package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeShopDomain(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"store.myshopify.com", "store.myshopify.com"},
		{"Store.MyShopify.com", "store.myshopify.com"},
		{"https://store.myshopify.com", "store.myshopify.com"},
		{"http://store.myshopify.com/", "store.myshopify.com"},
		{"  store.myshopify.com  ", "store.myshopify.com"},
		{"HTTPS://STORE.MYSHOPIFY.COM/", "store.myshopify.com"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeShopDomain(tt.in), "input %q", tt.in)
	}
}
