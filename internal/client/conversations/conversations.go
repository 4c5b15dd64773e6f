// Package conversations derives the conversation list: one row per peer with
// the latest message and the unread count.
//
// Rows come from the remote per-peer aggregate. When that fails, or returns
// nothing before any data was ever seen, the list is rebuilt from a scan of
// recent messages. Both paths go through the same projection, so callers
// cannot tell them apart.
package conversations

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophmsg/internal/client/envelope"
	"github.com/dmitrijs2005/gophmsg/internal/client/messages"
	"github.com/dmitrijs2005/gophmsg/internal/common"
	"github.com/dmitrijs2005/gophmsg/internal/logging"
	"github.com/dmitrijs2005/gophmsg/internal/realtime"
	"github.com/dmitrijs2005/gophmsg/internal/remote"
)

const DefaultFallbackLimit = 200

type Conversation struct {
	PeerID            string
	LastContent       string
	LastImageRef      string
	LastSenderID      string
	LastStatus        remote.Status
	LastCreatedAt     time.Time
	LastSeq           int64
	UnreadCount       int
	LastEncrypted     bool
	LastDecryptFailed bool
}

type Aggregator struct {
	store         remote.Store
	keys          messages.KeyProvider
	feed          realtime.Feed
	fallbackLimit int
	logger        logging.Logger

	mu      sync.Mutex
	hadData map[string]bool
}

// NewAggregator builds an Aggregator. feed may be nil, in which case Run only
// refreshes on its timer.
func NewAggregator(store remote.Store, keys messages.KeyProvider, feed realtime.Feed, fallbackLimit int, logger logging.Logger) *Aggregator {
	if fallbackLimit <= 0 {
		fallbackLimit = DefaultFallbackLimit
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Aggregator{
		store:         store,
		keys:          keys,
		feed:          feed,
		fallbackLimit: fallbackLimit,
		logger:        logger.With("module", "conversations"),
		hadData:       make(map[string]bool),
	}
}

// FetchConversations returns me's conversations sorted by LastSeq descending
// plus the peers' profiles. A profile lookup failure leaves the map empty but
// is not an error.
func (a *Aggregator) FetchConversations(ctx context.Context, me string) ([]Conversation, map[string]remote.Profile, error) {
	summaries, err := a.summaries(ctx, me)
	if err != nil {
		return nil, nil, err
	}

	keys := a.keys.Keys()
	rows := make([]Conversation, 0, len(summaries))
	for _, s := range summaries {
		rows = append(rows, project(s, me, keys))
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].LastSeq > rows[j].LastSeq })

	if len(rows) > 0 {
		a.mu.Lock()
		a.hadData[me] = true
		a.mu.Unlock()
	}

	return rows, a.enrich(ctx, rows), nil
}

func (a *Aggregator) summaries(ctx context.Context, me string) ([]remote.ConversationSummary, error) {
	primary, err := a.store.Conversations(ctx, me)
	if err == nil {
		a.mu.Lock()
		seen := a.hadData[me]
		a.mu.Unlock()
		if len(primary) > 0 || seen {
			return primary, nil
		}
		a.logger.Debug(ctx, "aggregate empty, scanning recent messages")
	} else {
		a.logger.Warn(ctx, "conversation aggregate failed, using fallback", "err", err)
	}

	recent, ferr := a.store.RecentMessages(ctx, me, a.fallbackLimit)
	if ferr != nil {
		if err != nil {
			return nil, errors.Join(err, ferr)
		}
		return nil, ferr
	}
	return fold(recent, me), nil
}

// fold groups newest-first messages by peer. The first message seen for a
// peer is its latest; unread counts messages authored by the peer.
func fold(recent []remote.Message, me string) []remote.ConversationSummary {
	index := make(map[string]int)
	var out []remote.ConversationSummary

	for _, m := range recent {
		peer := m.PeerOf(me)
		i, ok := index[peer]
		if !ok {
			i = len(out)
			index[peer] = i
			out = append(out, remote.ConversationSummary{PeerID: peer, Latest: m})
		}
		if m.SenderID == peer && m.SenderID != me && !m.IsRead {
			out[i].UnreadCount++
		}
	}
	return out
}

// project is the single mapping from an aggregate row to a Conversation.
func project(s remote.ConversationSummary, me string, keys envelope.Opener) Conversation {
	plain := envelope.Decode(s.Latest.Content, s.Latest.SenderID == me, keys)
	return Conversation{
		PeerID:            s.PeerID,
		LastContent:       plain.Text,
		LastImageRef:      s.Latest.ImageRef,
		LastSenderID:      s.Latest.SenderID,
		LastStatus:        s.Latest.Status,
		LastCreatedAt:     s.Latest.CreatedAt,
		LastSeq:           s.Latest.SeqNum,
		UnreadCount:       s.UnreadCount,
		LastEncrypted:     plain.Encrypted,
		LastDecryptFailed: plain.Failed,
	}
}

func (a *Aggregator) enrich(ctx context.Context, rows []Conversation) map[string]remote.Profile {
	if len(rows) == 0 {
		return map[string]remote.Profile{}
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.PeerID)
	}

	profiles, err := a.store.GetProfiles(ctx, ids)
	if err != nil {
		err = fmt.Errorf("%w: %w", common.ErrEnrichment, err)
		a.logger.Warn(ctx, "profile enrichment failed", "err", err)
		return map[string]remote.Profile{}
	}
	return profiles
}

// Run calls fn with a fresh conversation list immediately, then every
// interval and whenever the realtime feed reports a change for me. It
// returns when ctx is done.
func (a *Aggregator) Run(ctx context.Context, me string, interval time.Duration, fn func([]Conversation, map[string]remote.Profile, error)) error {
	trigger := make(chan struct{}, 1)

	if a.feed != nil {
		sub, err := a.feed.Subscribe(ctx, me, func(realtime.Event) {
			select {
			case trigger <- struct{}{}:
			default:
			}
		})
		if err != nil {
			return err
		}
		defer func() { _ = sub.Unsubscribe() }()
	}

	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		fn(a.FetchConversations(ctx, me))

		select {
		case <-ctx.Done():
			return nil
		case <-tick:
		case <-trigger:
		}
	}
}
