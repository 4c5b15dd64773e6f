package identity

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/dmitrijs2005/gophmsg/internal/auth"
	"github.com/dmitrijs2005/gophmsg/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/gophmsg/internal/common"
)

// SecretSource yields the secret the identity sealing key is derived from.
// fresh is true while initializing a new identity and false while unlocking.
type SecretSource interface {
	Secret(ctx context.Context, repo metadata.Repository, session *auth.Session, fresh bool) ([]byte, error)
}

// UserSecret combines the stable user id with a random per-device secret kept
// in local metadata. It survives token rotation, so logging out and back in on
// the same device unlocks the same identity.
type UserSecret struct{}

const deviceSecretSize = 32

func (UserSecret) Secret(ctx context.Context, repo metadata.Repository, session *auth.Session, fresh bool) ([]byte, error) {
	var deviceSecret []byte
	if fresh {
		deviceSecret = make([]byte, deviceSecretSize)
		if _, err := rand.Read(deviceSecret); err != nil {
			return nil, err
		}
		if err := repo.Set(ctx, keySecret, deviceSecret); err != nil {
			return nil, err
		}
	} else {
		v, err := repo.Get(ctx, keySecret)
		if err != nil {
			return nil, err
		}
		if len(v) == 0 {
			return nil, fmt.Errorf("device secret missing")
		}
		deviceSecret = v
	}

	secret := make([]byte, 0, len(session.UserID)+1+len(deviceSecret))
	secret = append(secret, session.UserID...)
	secret = append(secret, 0)
	secret = append(secret, deviceSecret...)
	common.WipeByteArray(deviceSecret)
	return secret, nil
}

// TokenSecret uses the raw session token. Only suitable for auth providers
// that keep a device's token stable across logins.
type TokenSecret struct{}

func (TokenSecret) Secret(_ context.Context, _ metadata.Repository, session *auth.Session, _ bool) ([]byte, error) {
	if session.Token == "" {
		return nil, fmt.Errorf("empty session token")
	}
	return []byte(session.Token), nil
}
