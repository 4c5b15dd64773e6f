// Package messages is the client-side message store adapter.
//
// It sends messages (attachment upload, envelope sealing, remote insert),
// reads threads back in sequence order with client-side decryption, and
// follows the realtime feed for new rows.
//
// Ordering and de-duplication rely only on the server-assigned SeqNum;
// client clocks are never consulted.
package messages

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophmsg/internal/client/envelope"
	"github.com/dmitrijs2005/gophmsg/internal/client/session"
	"github.com/dmitrijs2005/gophmsg/internal/common"
	"github.com/dmitrijs2005/gophmsg/internal/logging"
	"github.com/dmitrijs2005/gophmsg/internal/objectstore"
	"github.com/dmitrijs2005/gophmsg/internal/realtime"
	"github.com/dmitrijs2005/gophmsg/internal/remote"
	"github.com/google/uuid"
)

const defaultURLTTL = 15 * time.Minute

// KeyProvider yields the current session keys; *session.Gate implements it.
type KeyProvider interface {
	Keys() *session.Keys
}

type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is a thread row as shown to the user.
type Message struct {
	ID         string
	SenderID   string
	ReceiverID string
	Text       string
	ImageRef   string
	Status     remote.Status
	SeqNum     int64
	CreatedAt  time.Time
	IsRead     bool

	// Encrypted is false for legacy plaintext rows.
	Encrypted bool
	// DecryptFailed marks envelopes this device could not open.
	DecryptFailed bool
}

// FromRemote decodes a stored row from me's point of view.
func FromRemote(row remote.Message, me string, keys envelope.Opener) Message {
	plain := envelope.Decode(row.Content, row.SenderID == me, keys)
	return Message{
		ID:            row.ID,
		SenderID:      row.SenderID,
		ReceiverID:    row.ReceiverID,
		Text:          plain.Text,
		ImageRef:      row.ImageRef,
		Status:        row.Status,
		SeqNum:        row.SeqNum,
		CreatedAt:     row.CreatedAt,
		IsRead:        row.IsRead,
		Encrypted:     plain.Encrypted,
		DecryptFailed: plain.Failed,
	}
}

type threadKey struct{ me, peer string }

// seenWindow bounds how many exact sequence numbers are remembered per
// thread. Older ones collapse into the floor.
const seenWindow = 512

// seenSet is the set of sequence numbers already handed out for one thread.
// Everything at or below floor counts as seen.
type seenSet struct {
	floor int64
	seqs  map[int64]struct{}
}

// add records seq and reports whether it was new.
func (ss *seenSet) add(seq int64) bool {
	if seq <= ss.floor {
		return false
	}
	if _, ok := ss.seqs[seq]; ok {
		return false
	}
	ss.seqs[seq] = struct{}{}
	if len(ss.seqs) > seenWindow {
		ss.compact()
	}
	return true
}

// compact drops the older half of seqs and raises floor to the highest
// dropped value.
func (ss *seenSet) compact() {
	all := make([]int64, 0, len(ss.seqs))
	for seq := range ss.seqs {
		all = append(all, seq)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	for _, seq := range all[:len(all)-seenWindow/2] {
		delete(ss.seqs, seq)
		ss.floor = seq
	}
}

type Service struct {
	store   remote.Store
	objects objectstore.Store
	feed    realtime.Feed
	keys    KeyProvider
	logger  logging.Logger
	newID   func() string
	urlTTL  time.Duration

	mu   sync.Mutex
	seen map[threadKey]*seenSet
}

func NewService(store remote.Store, objects objectstore.Store, feed realtime.Feed, keys KeyProvider, logger logging.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{
		store:   store,
		objects: objects,
		feed:    feed,
		keys:    keys,
		logger:  logger.With("module", "messages"),
		newID:   uuid.NewString,
		urlTTL:  defaultURLTTL,
		seen:    make(map[threadKey]*seenSet),
	}
}

// Send delivers text and an optional attachment from me to peer under a
// fresh idempotency id.
func (s *Service) Send(ctx context.Context, me, peer, text string, att *Attachment) (*Message, error) {
	return s.SendWithID(ctx, s.newID(), me, peer, text, att)
}

// SendWithID is Send with a caller-chosen id. Retrying with the same id
// returns the row stored by the first successful attempt.
//
// The attachment is uploaded before the row is inserted; if the upload fails
// no row is created and the error wraps common.ErrAttachmentUpload.
func (s *Service) SendWithID(ctx context.Context, id, me, peer, text string, att *Attachment) (*Message, error) {
	if me == "" || peer == "" {
		return nil, common.ErrInvalidRecipient
	}
	hasAttachment := att != nil && len(att.Data) > 0
	if strings.TrimSpace(text) == "" && !hasAttachment {
		return nil, common.ErrEmptyMessage
	}
	if id == "" {
		id = s.newID()
	}

	keys := s.keys.Keys()
	senderPub, err := keys.PublicKey()
	if err != nil {
		return nil, err
	}

	recipientPub, err := s.peerKey(ctx, peer)
	if err != nil {
		return nil, err
	}

	var imageRef string
	if hasAttachment {
		imageRef = objectstore.AttachmentPath(me, id, att.Filename)
		if err := s.objects.Upload(ctx, imageRef, att.Data, att.ContentType); err != nil {
			s.logger.Error(ctx, "attachment upload failed", "path", imageRef, "err", err)
			return nil, fmt.Errorf("%w: %w", common.ErrAttachmentUpload, err)
		}
	}

	content, err := envelope.Seal([]byte(text), &recipientPub, &senderPub)
	if err != nil {
		return nil, err
	}

	row, err := s.store.InsertMessage(ctx, remote.NewMessage{
		ID:         id,
		SenderID:   me,
		ReceiverID: peer,
		Content:    content,
		ImageRef:   imageRef,
	})
	if err != nil {
		return nil, err
	}

	s.observe(me, peer, row.SeqNum)
	s.logger.Debug(ctx, "message sent", "id", row.ID, "peer", peer, "seq", row.SeqNum)

	msg := FromRemote(*row, me, keys)
	return &msg, nil
}

func (s *Service) peerKey(ctx context.Context, peer string) ([32]byte, error) {
	var key [32]byte

	p, err := s.store.GetProfile(ctx, peer)
	if errors.Is(err, common.ErrNotFound) {
		return key, fmt.Errorf("%w: unknown user %q", common.ErrInvalidRecipient, peer)
	}
	if err != nil {
		return key, err
	}
	if !p.HasKey() {
		return key, common.ErrPeerKeyUnavailable
	}

	raw, err := base64.StdEncoding.DecodeString(p.PublicKey)
	if err != nil || len(raw) != len(key) {
		return key, fmt.Errorf("%w: bad public key", common.ErrPeerKeyUnavailable)
	}
	copy(key[:], raw)
	return key, nil
}

// FetchThread returns the conversation between me and peer ordered by
// ascending SeqNum with duplicate ids removed. Rows this device cannot
// decrypt are kept and flagged.
func (s *Service) FetchThread(ctx context.Context, me, peer string) ([]Message, error) {
	rows, err := s.store.ListThread(ctx, me, peer)
	if err != nil {
		return nil, err
	}

	rows = dedupe(rows)
	keys := s.keys.Keys()

	out := make([]Message, 0, len(rows))
	for _, r := range rows {
		s.observe(me, peer, r.SeqNum)
		out = append(out, FromRemote(r, me, keys))
	}
	return out, nil
}

func dedupe(rows []remote.Message) []remote.Message {
	ids := make(map[string]struct{}, len(rows))
	out := rows[:0:0]
	for _, r := range rows {
		if _, ok := ids[r.ID]; ok {
			continue
		}
		ids[r.ID] = struct{}{}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SeqNum < out[j].SeqNum })
	return out
}

// MarkThreadRead flags peer's messages to me as read. Failures are logged.
func (s *Service) MarkThreadRead(ctx context.Context, me, peer string) {
	n, err := s.store.MarkThreadRead(ctx, me, peer)
	if err != nil {
		s.logger.Warn(ctx, "mark thread read failed", "peer", peer, "err", err)
		return
	}
	s.logger.Debug(ctx, "thread marked read", "peer", peer, "count", n)
}

// MarkDelivered acknowledges receipt of ids. Failures are logged.
func (s *Service) MarkDelivered(ctx context.Context, me string, ids []string) {
	if len(ids) == 0 {
		return
	}
	n, err := s.store.MarkDelivered(ctx, me, ids)
	if err != nil {
		s.logger.Warn(ctx, "mark delivered failed", "count", len(ids), "err", err)
		return
	}
	s.logger.Debug(ctx, "messages marked delivered", "count", n)
}

// AttachmentURL resolves an ImageRef into a short-lived download URL.
func (s *Service) AttachmentURL(ctx context.Context, imageRef string) (string, error) {
	if imageRef == "" {
		return "", common.ErrNotFound
	}
	return s.objects.PresignGet(ctx, imageRef, s.urlTTL)
}

// Watch calls fn for every new message addressed to or sent by me. A message
// is emitted only if its SeqNum has not been seen in its thread yet, so
// echoes of rows already fetched or sent are dropped while late events with
// a lower SeqNum still get through. Messages received from others are
// acknowledged as delivered.
//
// The subscription ends when ctx is done.
func (s *Service) Watch(ctx context.Context, me string, fn func(Message)) (realtime.Subscription, error) {
	return s.feed.Subscribe(ctx, me, func(ev realtime.Event) {
		if ev.Table != realtime.TableMessages || ev.Op != realtime.OpInsert {
			return
		}
		var row remote.Message
		if err := json.Unmarshal(ev.Payload, &row); err != nil {
			s.logger.Warn(ctx, "bad message event", "err", err)
			return
		}
		if row.SenderID != me && row.ReceiverID != me {
			return
		}
		if !s.observe(me, row.PeerOf(me), row.SeqNum) {
			return
		}

		if row.ReceiverID == me && row.SenderID != me {
			s.MarkDelivered(ctx, me, []string{row.ID})
		}
		fn(FromRemote(row, me, s.keys.Keys()))
	})
}

// observe records seq for the thread and reports whether it is new.
func (s *Service) observe(me, peer string, seq int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := threadKey{me, peer}
	ss, ok := s.seen[k]
	if !ok {
		ss = &seenSet{seqs: make(map[int64]struct{})}
		s.seen[k] = ss
	}
	return ss.add(seq)
}
