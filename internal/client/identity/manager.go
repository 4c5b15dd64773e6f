package identity

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/gophmsg/internal/auth"
	"github.com/dmitrijs2005/gophmsg/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/gophmsg/internal/common"
	"github.com/dmitrijs2005/gophmsg/internal/cryptox"
	"github.com/dmitrijs2005/gophmsg/internal/dbx"
	"github.com/dmitrijs2005/gophmsg/internal/logging"
	"github.com/dmitrijs2005/gophmsg/internal/remote"
	"github.com/google/uuid"
)

const (
	flagPublished   = "1"
	flagUnpublished = "0"
)

type Manager struct {
	db       *sql.DB
	profiles remote.ProfileStore
	secrets  SecretSource
	rand     io.Reader
	now      func() time.Time
	logger   logging.Logger
}

// NewManager wires a Manager over the local database db. secrets defaults to
// UserSecret when nil.
func NewManager(db *sql.DB, profiles remote.ProfileStore, secrets SecretSource, logger logging.Logger) *Manager {
	if secrets == nil {
		secrets = UserSecret{}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Manager{
		db:       db,
		profiles: profiles,
		secrets:  secrets,
		rand:     rand.Reader,
		now:      time.Now,
		logger:   logger.With("module", "identity"),
	}
}

func (m *Manager) repo() *metadata.SQLiteRepository {
	return metadata.NewSQLiteRepository(m.db)
}

// InitializeDeviceIdentity generates a new key pair for session's user,
// persists it sealed and unpublished, then publishes the public half.
//
// If publishing fails the identity is still returned, together with an error
// wrapping common.ErrProfilePublish; the local record stays flagged
// unpublished and is republished on the next unlock.
func (m *Manager) InitializeDeviceIdentity(ctx context.Context, session *auth.Session) (*DeviceIdentity, error) {
	pub, priv, err := cryptox.GenerateKeyPair(m.rand)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrKeyGeneration, err)
	}
	kp := &KeyPair{PublicKey: *pub, PrivateKey: *priv}
	common.WipeByteArray(priv[:])

	salt := make([]byte, cryptox.SaltSize)
	if _, err := io.ReadFull(m.rand, salt); err != nil {
		kp.Wipe()
		return nil, fmt.Errorf("%w: %w", common.ErrKeyGeneration, err)
	}

	header := Header{
		Version:     recordVersion,
		UserID:      session.UserID,
		DeviceID:    uuid.NewString(),
		PublicKey:   kp.PublicKeyBase64(),
		Fingerprint: cryptox.Fingerprint(kp.PublicKey[:]),
		CreatedAt:   m.now().UTC(),
	}

	err = dbx.WithTx(ctx, m.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := metadata.NewSQLiteRepository(tx)

		secret, err := m.secrets.Secret(ctx, repo, session, true)
		if err != nil {
			return fmt.Errorf("derive secret: %w", err)
		}
		key := cryptox.DeriveKey(secret, salt)
		common.WipeByteArray(secret)
		defer common.WipeByteArray(key)

		sealed, nonce, err := cryptox.SealJSON(sealedKey{DeviceID: header.DeviceID, PrivateKey: kp.PrivateKey[:]}, key)
		if err != nil {
			return fmt.Errorf("seal private key: %w", err)
		}

		blob, err := json.Marshal(record{Header: header, Salt: salt, Nonce: nonce, Sealed: sealed})
		if err != nil {
			return err
		}
		if err := repo.Set(ctx, keyIdentity, blob); err != nil {
			return err
		}
		return repo.Set(ctx, keyPublished, []byte(flagUnpublished))
	})
	if err != nil {
		kp.Wipe()
		return nil, fmt.Errorf("persist identity: %w", err)
	}

	m.logger.Info(ctx, "device identity created", "user", header.UserID, "device", header.DeviceID, "fingerprint", header.Fingerprint)

	id := &DeviceIdentity{Header: header, KeyPair: kp}
	if err := m.Republish(ctx, session, &header); err != nil {
		return id, err
	}
	id.Published = true
	return id, nil
}

// UnlockPrivateKey opens the persisted identity for session's user and
// returns it with the header read in the same pass, so the key pair and the
// device id always belong together.
// Every failure is reported as common.ErrUnlock. A record still flagged
// unpublished is republished; a failure there is logged, not returned.
func (m *Manager) UnlockPrivateKey(ctx context.Context, session *auth.Session) (*DeviceIdentity, error) {
	repo := m.repo()

	rec, err := m.loadRecord(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrUnlock, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: no identity on this device", common.ErrUnlock)
	}
	if rec.UserID != session.UserID {
		return nil, fmt.Errorf("%w: identity belongs to another user", common.ErrUnlock)
	}

	secret, err := m.secrets.Secret(ctx, repo, session, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrUnlock, err)
	}
	key := cryptox.DeriveKey(secret, rec.Salt)
	common.WipeByteArray(secret)
	defer common.WipeByteArray(key)

	var payload sealedKey
	if err := cryptox.OpenJSON(rec.Sealed, rec.Nonce, key, &payload); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrUnlock, err)
	}
	defer common.WipeByteArray(payload.PrivateKey)

	if payload.DeviceID != rec.DeviceID {
		return nil, fmt.Errorf("%w: sealed key belongs to device %q", common.ErrUnlock, payload.DeviceID)
	}

	derived, err := cryptox.PublicFromPrivate(payload.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrUnlock, err)
	}
	stored, err := base64.StdEncoding.DecodeString(rec.PublicKey)
	if err != nil || subtle.ConstantTimeCompare(stored, derived[:]) != 1 {
		return nil, fmt.Errorf("%w: public key does not match private key", common.ErrUnlock)
	}

	kp := &KeyPair{PublicKey: derived}
	copy(kp.PrivateKey[:], payload.PrivateKey)
	id := &DeviceIdentity{Header: rec.Header, KeyPair: kp, Published: true}

	published, err := m.IsPublished(ctx)
	if err != nil {
		m.logger.Warn(ctx, "reading publish flag failed", "err", err)
	}
	if !published {
		if err := m.Republish(ctx, session, &rec.Header); err != nil {
			m.logger.Warn(ctx, "republish on unlock failed", "err", err)
			id.Published = false
		}
	}

	return id, nil
}

// Republish writes header's public key to the remote profile and, on
// success, marks the local record published. Safe to repeat.
func (m *Manager) Republish(ctx context.Context, session *auth.Session, header *Header) error {
	err := m.profiles.PublishDeviceKey(ctx, remote.DeviceKey{
		UserID:         session.UserID,
		PublicKey:      header.PublicKey,
		DeviceID:       header.DeviceID,
		KeyFingerprint: header.Fingerprint,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrProfilePublish, err)
	}

	if err := m.repo().Set(ctx, keyPublished, []byte(flagPublished)); err != nil {
		m.logger.Warn(ctx, "profile published but flag not saved", "err", err)
		return nil
	}
	m.logger.Info(ctx, "device key published", "device", header.DeviceID)
	return nil
}

func (m *Manager) IsDeviceInitialized(ctx context.Context) (bool, error) {
	return m.repo().Has(ctx, keyIdentity)
}

func (m *Manager) IsPublished(ctx context.Context) (bool, error) {
	v, err := m.repo().Get(ctx, keyPublished)
	if err != nil {
		return false, err
	}
	return string(v) == flagPublished, nil
}

// LoadDeviceIdentity returns the public header, or nil if the device has no
// identity yet.
func (m *Manager) LoadDeviceIdentity(ctx context.Context) (*Header, error) {
	rec, err := m.loadRecord(ctx, m.repo())
	if err != nil || rec == nil {
		return nil, err
	}
	h := rec.Header
	return &h, nil
}

// GetPublicKey returns the base64 public key of this device, or
// common.ErrNotFound if it has none.
func (m *Manager) GetPublicKey(ctx context.Context) (string, error) {
	h, err := m.LoadDeviceIdentity(ctx)
	if err != nil {
		return "", err
	}
	if h == nil {
		return "", common.ErrNotFound
	}
	return h.PublicKey, nil
}

// Wipe removes the identity, its publish flag and the device secret.
func (m *Manager) Wipe(ctx context.Context) error {
	return dbx.WithTx(ctx, m.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := metadata.NewSQLiteRepository(tx)
		for _, k := range []string{keyIdentity, keyPublished, keySecret} {
			if err := repo.Delete(ctx, k); err != nil {
				return err
			}
		}
		return nil
	})
}

var errCorrupted = errors.New("identity record corrupted")

func (m *Manager) loadRecord(ctx context.Context, repo metadata.Repository) (*record, error) {
	blob, err := repo.Get(ctx, keyIdentity)
	if err != nil {
		return nil, err
	}
	if blob == nil {
		return nil, nil
	}

	var rec record
	if err := json.Unmarshal(blob, &rec); err != nil {
		return nil, fmt.Errorf("%w: %w", errCorrupted, err)
	}
	if rec.Version != recordVersion || len(rec.Salt) == 0 || len(rec.Sealed) == 0 {
		return nil, errCorrupted
	}
	return &rec, nil
}
