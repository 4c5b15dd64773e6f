// Package identity manages this device's X25519 identity: generation, sealed
// local persistence, unlocking for a session, and publication of the public
// half to the user's remote profile.
//
// The private key never leaves the device in plaintext. It is stored as one
// AES-GCM sealed blob in the local metadata table; the sealing key is derived
// with argon2id from a SecretSource and a per-blob random salt.
package identity

import (
	"encoding/base64"
	"time"

	"github.com/dmitrijs2005/gophmsg/internal/common"
)

const (
	keyIdentity  = "device_identity"
	keyPublished = "device_identity_published"
	keySecret    = "device_secret"

	recordVersion = 2
)

// KeyPair is an X25519 key pair. Wipe it when done.
type KeyPair struct {
	PublicKey  [32]byte
	PrivateKey [32]byte
}

func (k *KeyPair) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(k.PublicKey[:])
}

// Wipe zeroes the private key.
func (k *KeyPair) Wipe() {
	if k == nil {
		return
	}
	common.WipeByteArray(k.PrivateKey[:])
}

// Header is the public, unencrypted part of the persisted identity.
type Header struct {
	Version     int       `json:"v"`
	UserID      string    `json:"user_id"`
	DeviceID    string    `json:"device_id"`
	PublicKey   string    `json:"public_key"`
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"created_at"`
}

// DeviceIdentity is a freshly initialized identity, private key included.
type DeviceIdentity struct {
	Header
	KeyPair   *KeyPair
	Published bool
}

// record is the on-disk form: header plus the sealed sealedKey.
type record struct {
	Header
	Salt   []byte `json:"salt"`
	Nonce  []byte `json:"nonce"`
	Sealed []byte `json:"sealed"`
}

// sealedKey is what gets encrypted inside a record. DeviceID ties the
// private key to the header stored next to it.
type sealedKey struct {
	DeviceID   string `json:"device_id"`
	PrivateKey []byte `json:"private_key"`
}
