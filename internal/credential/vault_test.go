package credential

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsweep/internal/apperr"
	"github.com/nhle/mailsweep/internal/model"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	key, err := GenerateMasterKey()
	require.NoError(t, err)
	return NewVault(key)
}

func TestRoundTrip(t *testing.T) {
	v := newTestVault(t)

	for _, plaintext := range []string{
		"",
		"1//0gLrefresh-token-value",
		"ünïcødé 令牌 🔑",
	} {
		sealed, err := v.Seal(plaintext)
		require.NoError(t, err)

		got, err := v.Unseal(sealed)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestSealIsNotDeterministic(t *testing.T) {
	v := newTestVault(t)

	a, err := v.Seal("same-value")
	require.NoError(t, err)
	b, err := v.Seal("same-value")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestEveryBitFlipFailsIntegrity(t *testing.T) {
	v := newTestVault(t)

	for _, plaintext := range []string{"x", "secret", "1//0gLrefresh-token"} {
		sealed, err := v.Seal(plaintext)
		require.NoError(t, err)

		for i := 0; i < len(sealed)*8; i++ {
			tampered := []byte(sealed)
			tampered[i/8] ^= 1 << (i % 8)

			got, err := v.Unseal(string(tampered))
			require.Error(t, err, "%q bit %d unsealed to %q", plaintext, i, got)
			assert.True(t, apperr.Is(err, apperr.KindIntegrity), "%q bit %d: %v", plaintext, i, err)
		}
	}
}

func TestPaddingBitsAreAuthenticated(t *testing.T) {
	v := newTestVault(t)

	// Find a seal whose last data character carries unused bits.
	var sealed string
	for sealed == "" || !strings.HasSuffix(sealed, "==") {
		var err error
		sealed, err = v.Seal("x")
		require.NoError(t, err)
	}

	last := len(sealed) - 3
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"
	pos := strings.IndexByte(alphabet, sealed[last])
	require.GreaterOrEqual(t, pos, 0)

	for bit := 0; bit < 4; bit++ {
		tampered := sealed[:last] + string(alphabet[pos^(1<<bit)]) + sealed[last+1:]
		_, err := v.Unseal(tampered)
		assert.True(t, apperr.Is(err, apperr.KindIntegrity), "bit %d: %v", bit, err)
	}
}

func TestLineBreaksFailIntegrity(t *testing.T) {
	v := newTestVault(t)
	sealed, err := v.Seal("secret")
	require.NoError(t, err)

	_, err = v.Unseal(sealed[:10] + "\n" + sealed[10:])
	assert.True(t, apperr.Is(err, apperr.KindIntegrity))
}

func TestWrongKeyRejected(t *testing.T) {
	sealed, err := newTestVault(t).Seal("secret")
	require.NoError(t, err)

	_, err = newTestVault(t).Unseal(sealed)
	assert.True(t, apperr.Is(err, apperr.KindIntegrity))
}

func TestMissingKeyIsConfigError(t *testing.T) {
	v := NewVault(nil)

	_, err := v.Seal("x")
	assert.True(t, apperr.Is(err, apperr.KindConfig))

	_, err = v.Unseal("x")
	assert.True(t, apperr.Is(err, apperr.KindConfig))
}

func TestMalformedInputIsFormatError(t *testing.T) {
	v := newTestVault(t)

	for _, input := range []string{"not base64!!", base64.StdEncoding.EncodeToString([]byte("short"))} {
		_, err := v.Unseal(input)
		assert.True(t, apperr.Is(err, apperr.KindFormat), "input %q: %v", input, err)
	}
}

type memRing map[string][]byte

func (m memRing) Get(key string) (keyring.Item, error) {
	data, ok := m[key]
	if !ok {
		return keyring.Item{}, keyring.ErrKeyNotFound
	}
	return keyring.Item{Key: key, Data: data}, nil
}

func (m memRing) Set(item keyring.Item) error {
	m[item.Key] = item.Data
	return nil
}

func TestLoadMasterKey(t *testing.T) {
	key, err := GenerateMasterKey()
	require.NoError(t, err)

	t.Run("configured", func(t *testing.T) {
		got, err := LoadMasterKey(model.VaultConfig{MasterKey: base64.StdEncoding.EncodeToString(key)}, nil)
		require.NoError(t, err)
		assert.Equal(t, key, got)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := LoadMasterKey(model.VaultConfig{MasterKey: base64.StdEncoding.EncodeToString([]byte("short"))}, nil)
		assert.True(t, apperr.Is(err, apperr.KindConfig))
	})

	t.Run("none", func(t *testing.T) {
		_, err := LoadMasterKey(model.VaultConfig{}, memRing{})
		assert.True(t, apperr.Is(err, apperr.KindConfig))
	})

	t.Run("keyring generates once", func(t *testing.T) {
		ring := memRing{}
		first, err := LoadMasterKey(model.VaultConfig{UseKeyring: true}, ring)
		require.NoError(t, err)
		assert.Len(t, first, MinMasterKeySize)

		second, err := LoadMasterKey(model.VaultConfig{UseKeyring: true}, ring)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})
}
