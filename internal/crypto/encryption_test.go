package crypto

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() string {
	return base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	encryptor, err := NewEncryptor(testKey())
	require.NoError(t, err)

	ciphertext, err := encryptor.Encrypt("imap-password-секрет")
	require.NoError(t, err)
	assert.NotEmpty(t, ciphertext)

	plaintext, err := encryptor.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "imap-password-секрет", plaintext)
}

func TestEncryptProducesDistinctCiphertexts(t *testing.T) {
	encryptor, err := NewEncryptor(testKey())
	require.NoError(t, err)

	first, err := encryptor.Encrypt("same input")
	require.NoError(t, err)
	second, err := encryptor.Encrypt("same input")
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "nonce must be random per encryption")
}

func TestNewEncryptorRejectsBadKeys(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{name: "not base64", key: "%%%not-base64%%%"},
		{name: "too short", key: base64.StdEncoding.EncodeToString([]byte("short"))},
		{name: "empty", key: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEncryptor(tt.key)
			assert.Error(t, err)
		})
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	encryptor, err := NewEncryptor(testKey())
	require.NoError(t, err)

	ciphertext, err := encryptor.Encrypt("payload")
	require.NoError(t, err)

	ciphertext[len(ciphertext)-1] ^= 0xFF

	_, err = encryptor.Decrypt(ciphertext)
	assert.Error(t, err)
}

func TestDecryptRejectsTruncatedCiphertext(t *testing.T) {
	encryptor, err := NewEncryptor(testKey())
	require.NoError(t, err)

	_, err = encryptor.Decrypt([]byte{0x01, 0x02})
	assert.Error(t, err)
}
