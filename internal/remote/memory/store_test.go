package memory

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/dmitrijs2005/gophmsg/internal/common"
	"github.com/dmitrijs2005/gophmsg/internal/realtime"
	"github.com/dmitrijs2005/gophmsg/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func send(t *testing.T, s *Store, id, from, to, content string) *remote.Message {
	t.Helper()
	m, err := s.InsertMessage(context.Background(), remote.NewMessage{ID: id, SenderID: from, ReceiverID: to, Content: content})
	require.NoError(t, err)
	return m
}

func TestInsertMessage_AssignsSeqAndIsIdempotent(t *testing.T) {
	s := NewStore()
	s.SetNextSeq(42)

	m := send(t, s, "m1", "alice", "bob", "hi")
	assert.Equal(t, int64(42), m.SeqNum)
	assert.Equal(t, remote.StatusSent, m.Status)

	again := send(t, s, "m1", "alice", "bob", "hi (retry)")
	assert.Equal(t, int64(42), again.SeqNum)
	assert.Equal(t, "hi", again.Content)
	assert.Len(t, s.Messages(), 1)

	_, err := s.InsertMessage(context.Background(), remote.NewMessage{ID: "m1", SenderID: "mallory", ReceiverID: "bob"})
	assert.ErrorIs(t, err, common.ErrIdempotencyClash)
}

func TestListThread_BothDirectionsAscending(t *testing.T) {
	s := NewStore()
	send(t, s, "1", "alice", "bob", "a")
	send(t, s, "2", "bob", "alice", "b")
	send(t, s, "3", "alice", "carol", "c")
	send(t, s, "4", "alice", "bob", "d")

	thread, err := s.ListThread(context.Background(), "alice", "bob")
	require.NoError(t, err)
	require.Len(t, thread, 3)
	assert.Equal(t, []string{"1", "2", "4"}, []string{thread[0].ID, thread[1].ID, thread[2].ID})
}

func TestConversations_UnreadAndMarkRead(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	send(t, s, "1", "bob", "alice", "x")
	send(t, s, "2", "bob", "alice", "y")
	send(t, s, "3", "alice", "bob", "z")
	send(t, s, "4", "carol", "alice", "w")

	rows, err := s.Conversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "carol", rows[0].PeerID)
	assert.Equal(t, 1, rows[0].UnreadCount)
	assert.Equal(t, "bob", rows[1].PeerID)
	assert.Equal(t, "3", rows[1].Latest.ID)
	assert.Equal(t, 2, rows[1].UnreadCount)

	n, err := s.MarkThreadRead(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rows, err = s.Conversations(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, rows[1].UnreadCount)

	rows, err = s.Conversations(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, rows[0].UnreadCount, "own messages never count as unread")
}

func TestMarkDelivered_OnlyReceiverAndSent(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	send(t, s, "1", "bob", "alice", "x")
	send(t, s, "2", "alice", "bob", "y")

	n, err := s.MarkDelivered(ctx, "alice", []string{"1", "2", "missing"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.MarkDelivered(ctx, "alice", []string{"1"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestRecentMessages_NewestFirstWithLimit(t *testing.T) {
	s := NewStore()
	for _, id := range []string{"a", "b", "c", "d"} {
		send(t, s, id, "alice", "bob", id)
	}

	rows, err := s.RecentMessages(context.Background(), "bob", 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "d", rows[0].ID)
	assert.Equal(t, "c", rows[1].ID)
}

func TestProfiles(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	s.PutProfile(remote.Profile{UserID: "bob", DisplayName: "Bob"})

	_, err := s.GetProfile(ctx, "nobody")
	assert.ErrorIs(t, err, common.ErrNotFound)

	require.NoError(t, s.PublishDeviceKey(ctx, remote.DeviceKey{UserID: "bob", PublicKey: "pk", DeviceID: "d1", KeyFingerprint: "fp"}))
	p, err := s.GetProfile(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, p.HasKey())
	assert.Equal(t, "Bob", p.DisplayName)

	got, err := s.GetProfiles(ctx, []string{"bob", "nobody"})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	s.FailGetProfiles = true
	_, err = s.GetProfiles(ctx, []string{"bob"})
	assert.ErrorIs(t, err, common.ErrRemoteQuery)
}

func TestInsertMessage_PublishesToBothParticipants(t *testing.T) {
	bus := realtime.NewMemoryBus()
	s := NewStore().WithPublisher(bus)
	ctx := context.Background()

	var bobEvents, aliceEvents []realtime.Event
	_, err := bus.Subscribe(ctx, "bob", func(ev realtime.Event) { bobEvents = append(bobEvents, ev) })
	require.NoError(t, err)
	_, err = bus.Subscribe(ctx, "alice", func(ev realtime.Event) { aliceEvents = append(aliceEvents, ev) })
	require.NoError(t, err)

	send(t, s, "m1", "alice", "bob", "hi")

	require.Len(t, bobEvents, 1)
	require.Len(t, aliceEvents, 1)

	var row remote.Message
	require.NoError(t, json.Unmarshal(bobEvents[0].Payload, &row))
	assert.Equal(t, "m1", row.ID)
	assert.Equal(t, int64(1), row.SeqNum)
}
