package credential

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/99designs/keyring"

	"github.com/nhle/mailsweep/internal/apperr"
	"github.com/nhle/mailsweep/internal/model"
)

const (
	serviceName  = "mailsweep"
	masterKeyKey = "vault-master-key"
)

// Ring is the part of keyring.Keyring the vault needs.
type Ring interface {
	Get(key string) (keyring.Item, error)
	Set(item keyring.Item) error
}

// OpenKeyring returns a configured keyring instance.
func OpenKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/mailsweep/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("mailsweep-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// LoadMasterKey resolves the vault master key. A configured key wins; with
// UseKeyring the key is read from ring and generated on first use.
// Neither yields a config error.
func LoadMasterKey(cfg model.VaultConfig, ring Ring) ([]byte, error) {
	if cfg.MasterKey != "" {
		key, err := base64.StdEncoding.DecodeString(cfg.MasterKey)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindConfig, "load master key", "vault master key is not valid base64", err)
		}
		if len(key) < MinMasterKeySize {
			return nil, apperr.New(apperr.KindConfig, "load master key",
				fmt.Sprintf("vault master key must be at least %d bytes", MinMasterKeySize))
		}
		return key, nil
	}

	if !cfg.UseKeyring || ring == nil {
		return nil, apperr.New(apperr.KindConfig, "load master key", "no vault master key configured")
	}

	item, err := ring.Get(masterKeyKey)
	if err == nil {
		return item.Data, nil
	}
	if !errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, apperr.Wrap(apperr.KindConfig, "load master key", "reading master key from keyring", err)
	}

	key, err := GenerateMasterKey()
	if err != nil {
		return nil, err
	}
	if err := ring.Set(keyring.Item{Key: masterKeyKey, Data: key}); err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "load master key", "storing master key in keyring", err)
	}
	return key, nil
}
