package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	svc, err := NewAESKeyService("test-master-key", "test-salt")
	require.NoError(t, err)

	plaintext := []byte(`{"access_token":"shpat_abc123","refresh_token":"rt_xyz"}`)
	ciphertext, err := svc.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotContains(t, ciphertext, "shpat_abc123")

	decrypted, err := svc.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	svc, err := NewAESKeyService("test-master-key", "test-salt")
	require.NoError(t, err)

	a, err := svc.Encrypt([]byte("same input"))
	require.NoError(t, err)
	b, err := svc.Encrypt([]byte("same input"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	svc, err := NewAESKeyService("key-one", "salt")
	require.NoError(t, err)
	other, err := NewAESKeyService("key-two", "salt")
	require.NoError(t, err)

	ciphertext, err := svc.Encrypt([]byte("secret"))
	require.NoError(t, err)

	_, err = other.Decrypt(ciphertext)
	assert.Error(t, err)
}

func TestDecryptRejectsGarbage(t *testing.T) {
	svc, err := NewAESKeyService("test-master-key", "test-salt")
	require.NoError(t, err)

	_, err = svc.Decrypt("not base64 at all !!!")
	assert.Error(t, err)

	_, err = svc.Decrypt("c2hvcnQ=")
	assert.Error(t, err)
}

func TestEmptyMasterKeyRejected(t *testing.T) {
	_, err := NewAESKeyService("", "salt")
	assert.Error(t, err)
}
