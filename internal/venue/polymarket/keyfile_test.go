package polymarket

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestKeyfileRoundTrip(t *testing.T) {
	blob, err := EncryptKeyfile("0x"+testKeyHex, "hunter2")
	require.NoError(t, err)
	assert.NotContains(t, string(blob), testKeyHex)

	got, err := DecryptKeyfile(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	_, err = DecryptKeyfile(blob, "wrong")
	assert.Error(t, err)
}

func TestEncryptKeyfileRejectsBadInput(t *testing.T) {
	_, err := EncryptKeyfile(testKeyHex, "")
	assert.Error(t, err)

	_, err = EncryptKeyfile("not-hex", "pw")
	assert.Error(t, err)

	_, err = EncryptKeyfile(strings.Repeat("ab", 16), "pw")
	assert.Error(t, err)
}

func TestResolveKey(t *testing.T) {
	t.Run("raw key wins", func(t *testing.T) {
		got, err := ResolveKey(KeySource{RawHex: "0x" + testKeyHex, KeyfilePath: "/does/not/exist"})
		require.NoError(t, err)
		assert.Equal(t, testKeyHex, got)
	})

	t.Run("keyfile fallback", func(t *testing.T) {
		blob, err := EncryptKeyfile(testKeyHex, "pw")
		require.NoError(t, err)
		path := filepath.Join(t.TempDir(), "key.json")
		require.NoError(t, os.WriteFile(path, blob, 0o600))

		got, err := ResolveKey(KeySource{KeyfilePath: path, KeyfilePass: "pw"})
		require.NoError(t, err)
		assert.Equal(t, testKeyHex, got)
	})

	t.Run("nothing configured", func(t *testing.T) {
		_, err := ResolveKey(KeySource{})
		assert.Error(t, err)
	})
}
