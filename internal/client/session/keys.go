package session

import (
	"sync"

	"github.com/dmitrijs2005/gophmsg/internal/client/identity"
	"github.com/dmitrijs2005/gophmsg/internal/common"
)

// Keys is the unlocked key material of one session. It is owned by the Gate
// and destroyed on logout or when a newer session supersedes it. A nil *Keys
// behaves like a destroyed one.
type Keys struct {
	mu          sync.RWMutex
	userID      string
	deviceID    string
	fingerprint string
	pair        *identity.KeyPair
}

func newKeys(userID, deviceID, fingerprint string, pair *identity.KeyPair) *Keys {
	return &Keys{userID: userID, deviceID: deviceID, fingerprint: fingerprint, pair: pair}
}

func (k *Keys) UserID() string {
	if k == nil {
		return ""
	}
	return k.userID
}

func (k *Keys) DeviceID() string {
	if k == nil {
		return ""
	}
	return k.deviceID
}

func (k *Keys) Fingerprint() string {
	if k == nil {
		return ""
	}
	return k.fingerprint
}

// PublicKey returns a copy of the public key, or common.ErrLocked.
func (k *Keys) PublicKey() ([32]byte, error) {
	if k == nil {
		return [32]byte{}, common.ErrLocked
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.pair == nil {
		return [32]byte{}, common.ErrLocked
	}
	return k.pair.PublicKey, nil
}

// Open runs fn with the key pair. The pointers are only valid inside fn.
func (k *Keys) Open(fn func(pub, priv *[32]byte) error) error {
	if k == nil {
		return common.ErrLocked
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.pair == nil {
		return common.ErrLocked
	}
	return fn(&k.pair.PublicKey, &k.pair.PrivateKey)
}

// Destroy wipes the private key. Further use returns common.ErrLocked.
func (k *Keys) Destroy() {
	if k == nil {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.pair != nil {
		k.pair.Wipe()
		k.pair = nil
	}
}

// destroyed reports whether Destroy has run.
func (k *Keys) destroyed() bool {
	if k == nil {
		return true
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.pair == nil
}
