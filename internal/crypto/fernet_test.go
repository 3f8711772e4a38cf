package crypto

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) string {
	t.Helper()
	raw := make([]byte, signingKeyLen+encryptKeyLen)
	for i := range raw {
		raw[i] = byte(i)
	}
	return base64.URLEncoding.EncodeToString(raw)
}

func TestFernet_EncryptDecrypt_RoundTrips(t *testing.T) {
	f, err := NewFernet(testKey(t))
	require.NoError(t, err)

	token, err := f.Encrypt([]byte("hello sandbox"))
	require.NoError(t, err)
	assert.True(t, hasFernetPrefix(token), "token should start with the Fernet version prefix")

	plain, err := f.Decrypt(token)
	require.NoError(t, err)
	assert.Equal(t, "hello sandbox", string(plain))
}

func TestFernet_Decrypt_TamperedSignature_Fails(t *testing.T) {
	f, err := NewFernet(testKey(t))
	require.NoError(t, err)
	token, err := f.Encrypt([]byte("data"))
	require.NoError(t, err)

	tampered := token[:len(token)-4] + "AAAA"
	_, err = f.Decrypt(tampered)
	assert.Error(t, err)
}

func TestFernet_Decrypt_WrongKey_Fails(t *testing.T) {
	f1, err := NewFernet(testKey(t))
	require.NoError(t, err)
	token, err := f1.Encrypt([]byte("secret"))
	require.NoError(t, err)

	otherRaw := make([]byte, signingKeyLen+encryptKeyLen)
	f2, err := NewFernet(base64.URLEncoding.EncodeToString(otherRaw))
	require.NoError(t, err)

	_, err = f2.Decrypt(token)
	assert.Error(t, err)
}

func TestNewFernet_RejectsWrongKeyLength(t *testing.T) {
	_, err := NewFernet(base64.URLEncoding.EncodeToString([]byte("too-short")))
	assert.ErrorIs(t, err, ErrBadKey)
}

func TestDecryptContent_FullyEncrypted_Decrypts(t *testing.T) {
	f, err := NewFernet(testKey(t))
	require.NoError(t, err)
	token, err := f.Encrypt([]byte("the full chunk body"))
	require.NoError(t, err)

	assert.Equal(t, "the full chunk body", DecryptContent(f, token))
}

func TestDecryptContent_FullyEncrypted_BadToken_ReturnsPlaceholder(t *testing.T) {
	f, err := NewFernet(testKey(t))
	require.NoError(t, err)

	assert.Equal(t, "[ENCRYPTED CONTENT]", DecryptContent(f, fernetPrefix+"not-a-real-token"))
}

func TestDecryptContent_PartialEncryption_DecryptsEmbeddedPairs(t *testing.T) {
	f, err := NewFernet(testKey(t))
	require.NoError(t, err)
	token, err := f.Encrypt([]byte("jane@example.com"))
	require.NoError(t, err)

	content := "customer_email: " + token + "\nother_field: plain text"
	got := DecryptContent(f, content)
	assert.Equal(t, "customer_email: jane@example.com\nother_field: plain text", got)
}

func TestDecryptContent_Plaintext_Passthrough(t *testing.T) {
	f, err := NewFernet(testKey(t))
	require.NoError(t, err)
	assert.Equal(t, "nothing encrypted here", DecryptContent(f, "nothing encrypted here"))
}
