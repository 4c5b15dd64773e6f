// Package session runs the unlock sequence on every auth-session change and
// owns the resulting key material.
//
// States: LoggedOut → Initializing → Unlocked. A failed sequence leaves the
// gate in Initializing and notifies the user; the next session change retries.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/gophmsg/internal/auth"
	"github.com/dmitrijs2005/gophmsg/internal/client/identity"
	"github.com/dmitrijs2005/gophmsg/internal/common"
	"github.com/dmitrijs2005/gophmsg/internal/logging"
	"github.com/dmitrijs2005/gophmsg/internal/remote"
)

type State int

const (
	LoggedOut State = iota
	Initializing
	Unlocked
)

func (s State) String() string {
	switch s {
	case LoggedOut:
		return "logged-out"
	case Initializing:
		return "initializing"
	case Unlocked:
		return "unlocked"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// IdentityManager is the part of identity.Manager the Gate drives.
type IdentityManager interface {
	IsDeviceInitialized(ctx context.Context) (bool, error)
	LoadDeviceIdentity(ctx context.Context) (*identity.Header, error)
	InitializeDeviceIdentity(ctx context.Context, session *auth.Session) (*identity.DeviceIdentity, error)
	UnlockPrivateKey(ctx context.Context, session *auth.Session) (*identity.DeviceIdentity, error)
}

type Gate struct {
	identity IdentityManager
	profiles remote.ProfileStore
	notifier Notifier
	logger   logging.Logger

	// runMu serializes unlock sequences.
	runMu sync.Mutex

	mu         sync.RWMutex
	state      State
	keys       *Keys
	generation uint64
	subs       map[int]chan State
	nextSub    int
}

func NewGate(im IdentityManager, profiles remote.ProfileStore, notifier Notifier, logger logging.Logger) *Gate {
	if notifier == nil {
		notifier = NotifierFunc(func(context.Context, Notification) {})
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Gate{
		identity: im,
		profiles: profiles,
		notifier: notifier,
		logger:   logger.With("module", "session"),
		subs:     make(map[int]chan State),
	}
}

func (g *Gate) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Keys returns the current session's keys, or nil when none are held.
func (g *Gate) Keys() *Keys {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.keys
}

// Subscribe returns a channel receiving every state transition. Slow
// receivers miss intermediate states. Call cancel to release it.
func (g *Gate) Subscribe() (<-chan State, func()) {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.nextSub
	g.nextSub++
	ch := make(chan State, 8)
	g.subs[id] = ch

	return ch, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if c, ok := g.subs[id]; ok {
			delete(g.subs, id)
			close(c)
		}
	}
}

// setStateLocked must be called with g.mu held.
func (g *Gate) setStateLocked(s State) {
	if g.state == s {
		return
	}
	g.state = s
	for _, ch := range g.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

// OnSessionChange reacts to a new auth session; nil means logout.
//
// It returns common.ErrStaleSession when a newer session change arrived
// while this one was running; the result is discarded and its keys wiped.
func (g *Gate) OnSessionChange(ctx context.Context, s *auth.Session) error {
	gen := g.begin(s)
	if s == nil {
		return nil
	}

	g.runMu.Lock()
	defer g.runMu.Unlock()

	if !g.isCurrent(gen) {
		return common.ErrStaleSession
	}

	keys, warn, err := g.unlock(ctx, s)

	g.mu.Lock()
	if gen != g.generation {
		g.mu.Unlock()
		keys.Destroy()
		g.logger.Debug(ctx, "discarding stale unlock result", "user", s.UserID)
		return common.ErrStaleSession
	}
	if err != nil {
		g.mu.Unlock()
		g.logger.Error(ctx, "unlock sequence failed", "user", s.UserID, "err", err)
		g.notifier.Notify(ctx, Notification{
			Level:   LevelError,
			Title:   "Secure messaging unavailable",
			Message: err.Error(),
			Err:     err,
		})
		return err
	}
	old := g.keys
	g.keys = keys
	g.setStateLocked(Unlocked)
	g.mu.Unlock()

	if old != keys {
		old.Destroy()
	}
	if warn != nil {
		g.notifier.Notify(ctx, *warn)
	}
	g.logger.Info(ctx, "session unlocked", "user", s.UserID, "device", keys.DeviceID())
	return nil
}

// begin records a new generation and performs the synchronous part of the
// transition: logout destroys keys immediately, a login enters Initializing.
func (g *Gate) begin(s *auth.Session) uint64 {
	g.mu.Lock()
	g.generation++
	gen := g.generation

	var drop *Keys
	if s == nil {
		drop = g.keys
		g.keys = nil
		g.setStateLocked(LoggedOut)
	} else {
		if g.keys != nil && g.keys.UserID() != s.UserID {
			drop = g.keys
			g.keys = nil
		}
		g.setStateLocked(Initializing)
	}
	g.mu.Unlock()

	drop.Destroy()
	return gen
}

func (g *Gate) isCurrent(gen uint64) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return gen == g.generation
}

// unlock decides between initializing a new identity and unlocking the
// stored one, then builds the session keys.
func (g *Gate) unlock(ctx context.Context, s *auth.Session) (*Keys, *Notification, error) {
	profile, err := g.profiles.GetProfile(ctx, s.UserID)
	if errors.Is(err, common.ErrNotFound) {
		profile, err = nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load profile: %w", err)
	}

	initialized, err := g.identity.IsDeviceInitialized(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("check device: %w", err)
	}

	var header *identity.Header
	if initialized {
		header, err = g.identity.LoadDeviceIdentity(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", common.ErrUnlock, err)
		}
	}

	if needsInit(header, profile, s.UserID) {
		return g.initialize(ctx, s)
	}

	id, err := g.identity.UnlockPrivateKey(ctx, s)
	if err != nil {
		return nil, nil, err
	}
	// id may differ from header if the record was replaced in between; it is
	// the one the key pair came from
	return newKeys(s.UserID, id.DeviceID, id.Fingerprint, id.KeyPair), nil, nil
}

func needsInit(header *identity.Header, profile *remote.Profile, userID string) bool {
	switch {
	case header == nil:
		return true
	case header.UserID != userID:
		return true
	case !profile.HasKey():
		return true
	case profile.PublicKey != header.PublicKey:
		return true
	}
	return false
}

func (g *Gate) initialize(ctx context.Context, s *auth.Session) (*Keys, *Notification, error) {
	id, err := g.identity.InitializeDeviceIdentity(ctx, s)
	if err != nil && !(errors.Is(err, common.ErrProfilePublish) && id != nil) {
		return nil, nil, err
	}

	var warn *Notification
	if err != nil {
		g.logger.Warn(ctx, "identity created but not published", "err", err)
		warn = &Notification{
			Level:   LevelWarning,
			Title:   "Key not published yet",
			Message: "Contacts cannot message you until your key is published. It will be retried on next login.",
			Err:     err,
		}
	}
	return newKeys(s.UserID, id.DeviceID, id.Fingerprint, id.KeyPair), warn, nil
}
