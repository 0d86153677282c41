package crypto

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// ErrKeyNotFound is returned when the keyring holds no key for an account.
var ErrKeyNotFound = errors.New("crypto: no key for account")

// Keyring resolves the signing keys of custodial holder accounts. Each key is
// stored as <dir>/<base58 public key>.json in the EncryptKey format and shares
// one password. Decrypted keys are cached for the life of the Keyring.
type Keyring struct {
	dir      string
	password string

	mu    sync.Mutex
	cache map[string]solana.PrivateKey
}

// NewKeyring creates a Keyring reading from dir.
func NewKeyring(dir, password string) *Keyring {
	return &Keyring{dir: dir, password: password, cache: make(map[string]solana.PrivateKey)}
}

// Key returns the private key for account.
func (k *Keyring) Key(account string) (solana.PrivateKey, error) {
	pub, err := solana.PublicKeyFromBase58(account)
	if err != nil {
		return nil, fmt.Errorf("crypto: account %q is not a public key: %w", account, err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if key, ok := k.cache[account]; ok {
		return key, nil
	}

	data, err := os.ReadFile(filepath.Join(k.dir, pub.String()+".json"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w %s", ErrKeyNotFound, account)
	}
	if err != nil {
		return nil, fmt.Errorf("crypto: reading key for %s: %w", account, err)
	}
	key, err := DecryptKey(data, k.password)
	if err != nil {
		return nil, err
	}
	if !key.PublicKey().Equals(pub) {
		return nil, fmt.Errorf("crypto: key file for %s holds %s", account, key.PublicKey())
	}
	k.cache[account] = key
	return key, nil
}
