// Package memory is an in-process remote.Store. It mirrors the PostgreSQL
// adapter's semantics (sequence numbers, idempotent inserts, the per-peer
// aggregate) and exposes hooks to inject failures in tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophmsg/internal/common"
	"github.com/dmitrijs2005/gophmsg/internal/realtime"
	"github.com/dmitrijs2005/gophmsg/internal/remote"
)

var ErrInjected = errors.New("injected failure")

type Store struct {
	mu        sync.Mutex
	profiles  map[string]remote.Profile
	messages  []remote.Message
	byID      map[string]int
	nextSeq   int64
	now       func() time.Time
	publisher realtime.Publisher

	// Failure injection. Each flag makes the matching call fail with ErrInjected.
	FailConversations bool
	FailGetProfiles   bool
	FailMarkRead      bool
	FailInsert        bool
	FailPublishKey    bool
	FailGetProfile    bool
}

func NewStore() *Store {
	return &Store{
		profiles: make(map[string]remote.Profile),
		byID:     make(map[string]int),
		nextSeq:  1,
		now:      time.Now,
	}
}

// WithPublisher makes inserts and profile updates emit realtime events.
func (s *Store) WithPublisher(p realtime.Publisher) *Store {
	s.publisher = p
	return s
}

// SetNextSeq forces the sequence number handed to the next insert.
func (s *Store) SetNextSeq(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq = n
}

// PutProfile creates or replaces a profile row.
func (s *Store) PutProfile(p remote.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p
}

// Messages returns a copy of every stored row in insertion order.
func (s *Store) Messages() []remote.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]remote.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Store) GetProfile(_ context.Context, userID string) (*remote.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailGetProfile {
		return nil, fmt.Errorf("%w: get profile: %w", common.ErrRemoteQuery, ErrInjected)
	}
	p, ok := s.profiles[userID]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &p, nil
}

func (s *Store) GetProfiles(_ context.Context, userIDs []string) (map[string]remote.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailGetProfiles {
		return nil, fmt.Errorf("%w: get profiles: %w", common.ErrRemoteQuery, ErrInjected)
	}
	out := make(map[string]remote.Profile, len(userIDs))
	for _, id := range userIDs {
		if p, ok := s.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (s *Store) PublishDeviceKey(ctx context.Context, key remote.DeviceKey) error {
	s.mu.Lock()
	if s.FailPublishKey {
		s.mu.Unlock()
		return fmt.Errorf("%w: publish key: %w", common.ErrRemoteQuery, ErrInjected)
	}
	p := s.profiles[key.UserID]
	p.UserID = key.UserID
	p.PublicKey = key.PublicKey
	p.DeviceID = key.DeviceID
	p.KeyFingerprint = key.KeyFingerprint
	s.profiles[key.UserID] = p
	s.mu.Unlock()

	s.publish(ctx, key.UserID, realtime.TableProfiles, realtime.OpUpdate, p)
	return nil
}

func (s *Store) InsertMessage(ctx context.Context, msg remote.NewMessage) (*remote.Message, error) {
	s.mu.Lock()
	if s.FailInsert {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: insert message: %w", common.ErrRemoteQuery, ErrInjected)
	}
	if i, ok := s.byID[msg.ID]; ok {
		existing := s.messages[i]
		s.mu.Unlock()
		if existing.SenderID != msg.SenderID {
			return nil, common.ErrIdempotencyClash
		}
		return &existing, nil
	}

	row := remote.Message{
		ID:         msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Content:    msg.Content,
		ImageRef:   msg.ImageRef,
		Status:     remote.StatusSent,
		SeqNum:     s.nextSeq,
		CreatedAt:  s.now().UTC(),
	}
	s.nextSeq++
	s.byID[row.ID] = len(s.messages)
	s.messages = append(s.messages, row)
	s.mu.Unlock()

	s.publish(ctx, row.ReceiverID, realtime.TableMessages, realtime.OpInsert, row)
	if row.SenderID != row.ReceiverID {
		s.publish(ctx, row.SenderID, realtime.TableMessages, realtime.OpInsert, row)
	}
	return &row, nil
}

func (s *Store) ListThread(_ context.Context, me, peer string) ([]remote.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []remote.Message
	for _, m := range s.messages {
		if between(m, me, peer) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeqNum < out[j].SeqNum })
	return out, nil
}

func (s *Store) MarkThreadRead(_ context.Context, me, peer string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailMarkRead {
		return 0, fmt.Errorf("%w: mark read: %w", common.ErrRemoteQuery, ErrInjected)
	}
	var n int64
	for i := range s.messages {
		m := &s.messages[i]
		if m.SenderID == peer && m.ReceiverID == me && !m.IsRead {
			m.IsRead = true
			m.Status = remote.StatusSeen
			n++
		}
	}
	return n, nil
}

func (s *Store) MarkDelivered(_ context.Context, me string, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, id := range ids {
		i, ok := s.byID[id]
		if !ok {
			continue
		}
		m := &s.messages[i]
		if m.ReceiverID == me && m.Status == remote.StatusSent {
			m.Status = remote.StatusDelivered
			n++
		}
	}
	return n, nil
}

func (s *Store) Conversations(_ context.Context, me string) ([]remote.ConversationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailConversations {
		return nil, fmt.Errorf("%w: conversations: %w", common.ErrRemoteQuery, ErrInjected)
	}

	latest := make(map[string]remote.Message)
	unread := make(map[string]int)
	for _, m := range s.messages {
		if m.SenderID != me && m.ReceiverID != me {
			continue
		}
		peer := m.PeerOf(me)
		if cur, ok := latest[peer]; !ok || m.SeqNum > cur.SeqNum {
			latest[peer] = m
		}
		if m.ReceiverID == me && m.SenderID != me && !m.IsRead {
			unread[peer]++
		}
	}

	out := make([]remote.ConversationSummary, 0, len(latest))
	for peer, m := range latest {
		out = append(out, remote.ConversationSummary{PeerID: peer, Latest: m, UnreadCount: unread[peer]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Latest.SeqNum > out[j].Latest.SeqNum })
	return out, nil
}

func (s *Store) RecentMessages(_ context.Context, me string, limit int) ([]remote.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []remote.Message
	for _, m := range s.messages {
		if m.SenderID == me || m.ReceiverID == me {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeqNum > out[j].SeqNum })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) publish(ctx context.Context, userID, table, op string, row any) {
	if s.publisher == nil {
		return
	}
	ev, err := realtime.NewEvent(table, op, row)
	if err != nil {
		return
	}
	_ = s.publisher.Publish(ctx, userID, ev)
}

func between(m remote.Message, a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}
