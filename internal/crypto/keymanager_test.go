package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptSecret(t *testing.T) {
	blob, err := EncryptSecret("my-api-secret", "hunter2")
	require.NoError(t, err)

	got, err := DecryptSecret(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "my-api-secret", got)

	_, err = DecryptSecret(blob, "wrong")
	assert.Error(t, err)
}

func TestEncryptSecret_RejectsEmpty(t *testing.T) {
	_, err := EncryptSecret("secret", "")
	assert.Error(t, err)
	_, err = EncryptSecret("  ", "pw")
	assert.Error(t, err)
}

func TestLoadSecret(t *testing.T) {
	s, err := LoadSecret(SecretConfig{RawSecret: " raw "})
	require.NoError(t, err)
	assert.Equal(t, "raw", s)

	blob, err := EncryptSecret("from-file", "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "secret.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	s, err = LoadSecret(SecretConfig{EncryptedPath: path, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "from-file", s)

	_, err = LoadSecret(SecretConfig{})
	assert.Error(t, err)
}
