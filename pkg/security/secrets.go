package security

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// ErrSecretNotFound is returned when no row exists for a given secret id.
var ErrSecretNotFound = errors.New("secret_not_found")

// KeyRing resolves the active encryption key and historical keys by
// version, so secrets can be re-encrypted under a new key without losing
// the ability to decrypt older ciphertext (spec §3's secrets table
// carries a key_version column precisely for this rotation).
type KeyRing interface {
	ActiveKey() (version int, key [32]byte)
	Key(version int) ([32]byte, bool)
}

// StaticKeyRing is a KeyRing with a single active key, sufficient for a
// deployment that hasn't yet rotated.
type StaticKeyRing struct {
	Version int
	Key     [32]byte
}

func (r StaticKeyRing) ActiveKey() (int, [32]byte) { return r.Version, r.Key }

func (r StaticKeyRing) Key(version int) ([32]byte, bool) {
	if version == r.Version {
		return r.Key, true
	}
	return [32]byte{}, false
}

// Secrets stores and retrieves secret material at rest using AES-256-GCM
// envelope encryption (stdlib crypto/aes + crypto/cipher — no third-party
// library in the retrieval pack offers authenticated symmetric encryption
// beyond what the standard library already provides safely, so this is
// one of the parts of the kernel built on stdlib; see DESIGN.md).
type Secrets struct {
	exec PGExecutor
	keys KeyRing
}

func NewSecrets(exec PGExecutor, keys KeyRing) *Secrets {
	return &Secrets{exec: exec, keys: keys}
}

// Put encrypts and upserts a secret's plaintext value under the keyring's
// current active key.
func (s *Secrets) Put(ctx context.Context, secretID string, plaintext []byte) error {
	version, key := s.keys.ActiveKey()
	ciphertext, nonce, err := seal(key, plaintext)
	if err != nil {
		return err
	}

	_, err = s.exec.Exec(ctx, `
		INSERT INTO secrets (secret_id, ciphertext, nonce, key_version)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (secret_id) DO UPDATE
		SET ciphertext = EXCLUDED.ciphertext, nonce = EXCLUDED.nonce, key_version = EXCLUDED.key_version`,
		secretID, ciphertext, nonce, version)
	if err != nil {
		return fmt.Errorf("security: store secret: %w", err)
	}
	return nil
}

// Get decrypts and returns a secret's plaintext value, looking up the key
// version recorded alongside the ciphertext so rotation doesn't break
// reads of secrets written under a prior key.
func (s *Secrets) Get(ctx context.Context, secretID string) ([]byte, error) {
	row := s.exec.QueryRow(ctx, `
		SELECT ciphertext, nonce, key_version FROM secrets WHERE secret_id = $1`, secretID)

	var ciphertext, nonce []byte
	var version int
	if err := row.Scan(&ciphertext, &nonce, &version); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSecretNotFound, err)
	}

	key, ok := s.keys.Key(version)
	if !ok {
		return nil, fmt.Errorf("security: no key for version %d", version)
	}
	return open(key, ciphertext, nonce)
}

func seal(key [32]byte, plaintext []byte) (ciphertext, nonce []byte, err error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, nil, fmt.Errorf("security: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("security: new gcm: %w", err)
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("security: generate nonce: %w", err)
	}
	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

func open(key [32]byte, ciphertext, nonce []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("security: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: new gcm: %w", err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("security: decrypt secret: %w", err)
	}
	return plaintext, nil
}
