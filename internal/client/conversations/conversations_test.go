package conversations

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophmsg/internal/auth"
	"github.com/dmitrijs2005/gophmsg/internal/client/identity"
	"github.com/dmitrijs2005/gophmsg/internal/client/localdb"
	"github.com/dmitrijs2005/gophmsg/internal/client/messages"
	"github.com/dmitrijs2005/gophmsg/internal/client/session"
	"github.com/dmitrijs2005/gophmsg/internal/objectstore"
	"github.com/dmitrijs2005/gophmsg/internal/realtime"
	"github.com/dmitrijs2005/gophmsg/internal/remote"
	"github.com/dmitrijs2005/gophmsg/internal/remote/memory"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type world struct {
	store *memory.Store
	bus   *realtime.MemoryBus
	gates map[string]*session.Gate
	msgs  map[string]*messages.Service
}

func newWorld(t *testing.T, users ...string) *world {
	t.Helper()
	ctx := context.Background()
	bus := realtime.NewMemoryBus()
	w := &world{
		store: memory.NewStore().WithPublisher(bus),
		bus:   bus,
		gates: make(map[string]*session.Gate),
		msgs:  make(map[string]*messages.Service),
	}
	objects := objectstore.NewMemoryStore()

	for _, u := range users {
		db, err := localdb.InitDatabase(ctx, filepath.Join(t.TempDir(), u+".db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })

		g := session.NewGate(identity.NewManager(db, w.store, nil, nil), w.store, nil, nil)
		require.NoError(t, g.OnSessionChange(ctx, &auth.Session{UserID: u, Token: u}))
		w.gates[u] = g
		w.msgs[u] = messages.NewService(w.store, objects, bus, g, nil)
	}
	return w
}

func (w *world) send(t *testing.T, from, to, text string) {
	t.Helper()
	_, err := w.msgs[from].Send(context.Background(), from, to, text, nil)
	require.NoError(t, err)
}

// seed builds: bob→alice x2 (unread), alice→carol, carol→alice (unread), alice→alice.
func seed(t *testing.T, w *world) {
	w.send(t, "bob", "alice", "hi alice")
	w.send(t, "alice", "carol", "lunch?")
	w.send(t, "bob", "alice", "are you there")
	w.send(t, "carol", "alice", "sure")
	w.send(t, "alice", "alice", "note to self")
}

func TestContract_AggregateAndFallbackAgree(t *testing.T) {
	w := newWorld(t, "alice", "bob", "carol")
	seed(t, w)
	ctx := context.Background()

	primary := NewAggregator(w.store, w.gates["alice"], nil, 0, nil)
	fromAggregate, _, err := primary.FetchConversations(ctx, "alice")
	require.NoError(t, err)

	w.store.FailConversations = true
	fallback := NewAggregator(w.store, w.gates["alice"], nil, 0, nil)
	fromScan, _, err := fallback.FetchConversations(ctx, "alice")
	require.NoError(t, err)

	if diff := cmp.Diff(fromAggregate, fromScan); diff != "" {
		t.Fatalf("aggregate and fallback differ (-aggregate +fallback):\n%s", diff)
	}

	require.Len(t, fromScan, 3)
	assert.Equal(t, []string{"alice", "carol", "bob"}, peers(fromScan))
	for i := 1; i < len(fromScan); i++ {
		assert.Greater(t, fromScan[i-1].LastSeq, fromScan[i].LastSeq)
	}

	byPeer := index(fromScan)
	assert.Equal(t, 2, byPeer["bob"].UnreadCount)
	assert.Equal(t, "are you there", byPeer["bob"].LastContent)
	assert.Equal(t, 1, byPeer["carol"].UnreadCount)
	assert.Equal(t, "carol", byPeer["carol"].LastSenderID)
	assert.Equal(t, 0, byPeer["alice"].UnreadCount)
	assert.Equal(t, "note to self", byPeer["alice"].LastContent)
	assert.True(t, byPeer["alice"].LastEncrypted)
}

func TestFetchConversations_StableUnderRefetch(t *testing.T) {
	w := newWorld(t, "alice", "bob", "carol")
	seed(t, w)
	agg := NewAggregator(w.store, w.gates["alice"], nil, 0, nil)
	ctx := context.Background()

	first, profiles, err := agg.FetchConversations(ctx, "alice")
	require.NoError(t, err)
	second, profiles2, err := agg.FetchConversations(ctx, "alice")
	require.NoError(t, err)

	assert.Empty(t, cmp.Diff(first, second))
	assert.Empty(t, cmp.Diff(profiles, profiles2))
	assert.Contains(t, profiles, "bob")
	assert.NotEmpty(t, profiles["bob"].KeyFingerprint)
}

func TestUnreadDropsToZeroAfterMarkThreadRead(t *testing.T) {
	w := newWorld(t, "alice", "bob", "carol")
	seed(t, w)
	ctx := context.Background()
	agg := NewAggregator(w.store, w.gates["alice"], nil, 0, nil)

	w.msgs["alice"].MarkThreadRead(ctx, "alice", "bob")

	rows, _, err := agg.FetchConversations(ctx, "alice")
	require.NoError(t, err)
	byPeer := index(rows)
	assert.Equal(t, 0, byPeer["bob"].UnreadCount)
	assert.Equal(t, 1, byPeer["carol"].UnreadCount)

	w.store.FailConversations = true
	rows, _, err = agg.FetchConversations(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, index(rows)["bob"].UnreadCount)
}

func TestFallback_OnAggregateErrorIsOrderedBySeq(t *testing.T) {
	w := newWorld(t, "alice", "bob", "carol")
	seed(t, w)
	w.send(t, "bob", "alice", "latest")
	w.store.FailConversations = true

	rows, _, err := NewAggregator(w.store, w.gates["alice"], nil, 0, nil).FetchConversations(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "alice", "carol"}, peers(rows))
	assert.Equal(t, "latest", rows[0].LastContent)
}

func TestFallback_LimitBoundsTheScan(t *testing.T) {
	w := newWorld(t, "alice", "bob", "carol")
	seed(t, w)
	w.store.FailConversations = true

	rows, _, err := NewAggregator(w.store, w.gates["alice"], nil, 2, nil).FetchConversations(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "carol"}, peers(rows))
}

// emptyAggregate reports no conversations regardless of data.
type emptyAggregate struct {
	*memory.Store
}

func (emptyAggregate) Conversations(context.Context, string) ([]remote.ConversationSummary, error) {
	return nil, nil
}

func TestFallback_EmptyAggregateWithoutPriorData(t *testing.T) {
	w := newWorld(t, "alice", "bob")
	w.send(t, "bob", "alice", "first")
	ctx := context.Background()

	agg := NewAggregator(emptyAggregate{w.store}, w.gates["alice"], nil, 0, nil)
	rows, _, err := agg.FetchConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "bob", rows[0].PeerID)

	// once data has been seen an empty aggregate is trusted
	rows, _, err = agg.FetchConversations(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestBothPathsFail(t *testing.T) {
	w := newWorld(t, "alice")
	w.store.FailConversations = true

	failing := &failingRecent{Store: w.store}
	_, _, err := NewAggregator(failing, w.gates["alice"], nil, 0, nil).FetchConversations(context.Background(), "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, memory.ErrInjected)
	assert.ErrorIs(t, err, errScan)
}

type failingRecent struct {
	*memory.Store
}

var errScan = errors.New("scan failed")

func (*failingRecent) RecentMessages(context.Context, string, int) ([]remote.Message, error) {
	return nil, errScan
}

func TestEnrichmentFailureIsSwallowed(t *testing.T) {
	w := newWorld(t, "alice", "bob")
	w.send(t, "bob", "alice", "hey")
	w.store.FailGetProfiles = true

	rows, profiles, err := NewAggregator(w.store, w.gates["alice"], nil, 0, nil).FetchConversations(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.NotNil(t, profiles)
	assert.Empty(t, profiles)
}

func TestPreviewWithoutKeys(t *testing.T) {
	w := newWorld(t, "alice", "bob")
	w.send(t, "bob", "alice", "hey")
	ctx := context.Background()
	require.NoError(t, w.gates["alice"].OnSessionChange(ctx, nil))

	rows, _, err := NewAggregator(w.store, w.gates["alice"], nil, 0, nil).FetchConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].LastDecryptFailed)
	assert.Empty(t, rows[0].LastContent)
	assert.Equal(t, 1, rows[0].UnreadCount)
}

func TestRun_RefreshesOnFeedEvents(t *testing.T) {
	w := newWorld(t, "alice", "bob")
	ctx, cancel := context.WithCancel(context.Background())

	results := make(chan []Conversation, 16)
	agg := NewAggregator(w.store, w.gates["alice"], w.bus, 0, nil)

	done := make(chan error, 1)
	go func() {
		done <- agg.Run(ctx, "alice", time.Hour, func(rows []Conversation, _ map[string]remote.Profile, err error) {
			if err == nil {
				results <- rows
			}
		})
	}()

	require.Empty(t, <-results)
	require.Eventually(t, func() bool { return w.bus.Subscribers("alice") > 0 }, time.Second, time.Millisecond)

	w.send(t, "bob", "alice", "ping")

	var rows []Conversation
	require.Eventually(t, func() bool {
		select {
		case rows = <-results:
		default:
		}
		return len(rows) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "ping", rows[0].LastContent)

	cancel()
	require.NoError(t, <-done)
}

func peers(rows []Conversation) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.PeerID)
	}
	return out
}

func index(rows []Conversation) map[string]Conversation {
	out := make(map[string]Conversation, len(rows))
	for _, r := range rows {
		out[r.PeerID] = r
	}
	return out
}
