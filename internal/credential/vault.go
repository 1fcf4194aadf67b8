package credential

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/nhle/mailsweep/internal/apperr"
)

const (
	sealVersion = byte(1)
	saltSize    = 16
	headerSize  = 1 + saltSize
	hkdfInfo    = "mailsweep credential vault v1"

	// MinMasterKeySize is the shortest accepted master key.
	MinMasterKeySize = 32

	minSealedSize = headerSize + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead
)

// envelope rejects non-zero padding bits, so every encoded bit is covered
// by the authentication tag.
var envelope = base64.StdEncoding.Strict()

var minSealedLen = envelope.EncodedLen(minSealedSize)

// Vault seals and unseals long-lived provider credentials. Every Seal
// derives a fresh key from the master key and a random salt, and uses a
// fresh random nonce, so identical plaintexts never produce the same
// output.
//
// Sealed layout, base64 encoded:
//
//	version(1) | salt(16) | nonce(24) | ciphertext+tag
type Vault struct {
	masterKey []byte
}

// NewVault returns a Vault for masterKey. An empty key is accepted here;
// Seal and Unseal then fail with a config error.
func NewVault(masterKey []byte) *Vault {
	return &Vault{masterKey: masterKey}
}

// Seal encrypts plaintext and returns the opaque sealed form.
func (v *Vault) Seal(plaintext string) (string, error) {
	if err := v.checkKey("seal"); err != nil {
		return "", err
	}

	header := make([]byte, headerSize)
	header[0] = sealVersion
	if _, err := io.ReadFull(rand.Reader, header[1:]); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	aead, err := v.aead(header[1:])
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	out := append(header, nonce...)
	out = aead.Seal(out, nonce, []byte(plaintext), header)
	return envelope.EncodeToString(out), nil
}

// Unseal reverses Seal. Input shorter than any sealed value fails with a
// format error. Any other input that is not exactly what Seal produced,
// down to a single flipped bit of the encoded string, fails with an
// integrity error.
func (v *Vault) Unseal(opaque string) (string, error) {
	if err := v.checkKey("unseal"); err != nil {
		return "", err
	}

	if len(opaque) < minSealedLen {
		return "", apperr.New(apperr.KindFormat, "unseal", "sealed value is too short")
	}
	// The decoder skips line breaks, so they would hide a modification.
	if strings.ContainsAny(opaque, "\r\n") {
		return "", apperr.New(apperr.KindIntegrity, "unseal", "sealed value encoding does not verify")
	}
	data, err := envelope.DecodeString(opaque)
	if err != nil {
		return "", apperr.Wrap(apperr.KindIntegrity, "unseal", "sealed value encoding does not verify", err)
	}
	if len(data) < minSealedSize {
		return "", apperr.New(apperr.KindIntegrity, "unseal", "sealed value length does not verify")
	}

	header := data[:headerSize]
	if header[0] != sealVersion {
		return "", apperr.New(apperr.KindIntegrity, "unseal", "sealed value header does not verify")
	}

	aead, err := v.aead(header[1:])
	if err != nil {
		return "", err
	}

	nonce := data[headerSize : headerSize+aead.NonceSize()]
	ciphertext := data[headerSize+aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, ciphertext, header)
	if err != nil {
		return "", apperr.Wrap(apperr.KindIntegrity, "unseal", "sealed value failed authentication", err)
	}
	return string(plaintext), nil
}

func (v *Vault) checkKey(op string) error {
	if v == nil || len(v.masterKey) == 0 {
		return apperr.New(apperr.KindConfig, op, "no vault master key configured")
	}
	if len(v.masterKey) < MinMasterKeySize {
		return apperr.New(apperr.KindConfig, op,
			fmt.Sprintf("vault master key must be at least %d bytes", MinMasterKeySize))
	}
	return nil
}

func (v *Vault) aead(salt []byte) (cipher.AEAD, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, v.masterKey, salt, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	return aead, nil
}

// GenerateMasterKey returns a new random master key.
func GenerateMasterKey() ([]byte, error) {
	key := make([]byte, MinMasterKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating master key: %w", err)
	}
	return key, nil
}
