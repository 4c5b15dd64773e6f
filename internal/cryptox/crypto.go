// Package cryptox collects the cryptographic primitives used by the messaging
// core: key derivation for data at rest, AES-GCM sealing, X25519 device key
// pairs and anonymous sealed boxes for message payloads.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/dmitrijs2005/gophmsg/internal/common"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

const (
	KeySize   = 32
	NonceSize = 12
	SaltSize  = 16
)

var (
	ErrDecrypt       = errors.New("decryption failed")
	ErrInvalidKeyLen = errors.New("invalid key length")
)

// DeriveKey stretches secret into a 32-byte AES key using argon2id.
// The same (secret, salt) pair always yields the same key.
func DeriveKey(secret []byte, salt []byte) []byte {
	return argon2.IDKey(secret, salt, 1, 64*1024, 4, KeySize)
}

// Seal encrypts plaintext with AES-GCM under key using a fresh random nonce.
//
// The key must be a valid AES key length (16, 24, or 32 bytes). The nonce is
// returned separately and must be stored next to the ciphertext.
func Seal(plaintext, key []byte) (ciphertext, nonce []byte, err error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}

	return aead.Seal(nil, nonce, plaintext, nil), nonce, nil
}

// Open reverses Seal. A wrong key, nonce or tampered ciphertext all yield
// ErrDecrypt.
func Open(ciphertext, nonce, key []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, ErrDecrypt
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// SealJSON serializes v to JSON and seals it with Seal. The intermediate
// JSON is zeroed before returning.
//
//	key := cryptox.DeriveKey(secret, salt)
//	ct, nonce, err := cryptox.SealJSON(sealedKey{DeviceID: id, PrivateKey: priv}, key)
func SealJSON(v any, key []byte) (ciphertext, nonce []byte, err error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, nil, err
	}
	defer common.WipeByteArray(plaintext)
	return Seal(plaintext, key)
}

// OpenJSON opens a SealJSON result and unmarshals it into v. The decrypted
// JSON is zeroed before returning; wiping v is up to the caller.
func OpenJSON(ciphertext, nonce, key []byte, v any) error {
	plaintext, err := Open(ciphertext, nonce, key)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(plaintext)
	if err := json.Unmarshal(plaintext, v); err != nil {
		return ErrDecrypt
	}
	return nil
}


func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// GenerateKeyPair creates an X25519 key pair from r. Passing a reader lets
// callers detect a broken randomness source.
func GenerateKeyPair(r io.Reader) (publicKey, privateKey *[32]byte, err error) {
	if r == nil {
		r = rand.Reader
	}
	return box.GenerateKey(r)
}

// PublicFromPrivate recomputes the X25519 public key for privateKey.
func PublicFromPrivate(privateKey []byte) ([32]byte, error) {
	var pub [32]byte
	if len(privateKey) != KeySize {
		return pub, ErrInvalidKeyLen
	}
	raw, err := curve25519.X25519(privateKey, curve25519.Basepoint)
	if err != nil {
		return pub, err
	}
	copy(pub[:], raw)
	return pub, nil
}

// Fingerprint returns a short human-verifiable digest of a public key:
// the first 16 bytes of its SHA-256 in upper-case hex, grouped by four.
func Fingerprint(publicKey []byte) string {
	sum := sha256.Sum256(publicKey)
	h := strings.ToUpper(hex.EncodeToString(sum[:16]))

	groups := make([]string, 0, len(h)/4)
	for i := 0; i < len(h); i += 4 {
		groups = append(groups, h[i:i+4])
	}
	return strings.Join(groups, " ")
}

// SealTo encrypts msg so that only the holder of the private key matching
// recipient can read it. The sender stays anonymous.
func SealTo(msg []byte, recipient *[32]byte) ([]byte, error) {
	return box.SealAnonymous(nil, msg, recipient, rand.Reader)
}

// OpenSealed decrypts a SealTo result with the recipient's key pair.
func OpenSealed(sealed []byte, publicKey, privateKey *[32]byte) ([]byte, error) {
	plaintext, ok := box.OpenAnonymous(nil, sealed, publicKey, privateKey)
	if !ok {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
