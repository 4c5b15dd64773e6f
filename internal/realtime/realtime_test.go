package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophmsg/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "gophmsg.messages.u1", Subject(TableMessages, "u1"))
	assert.Equal(t, "gophmsg.profiles.u1", Subject(TableProfiles, "u1"))
	assert.Equal(t, "gophmsg.*.u1", wildcardSubject("u1"))
}

func TestBuses_RejectSubjectMetacharacters(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	for _, id := range []string{"*", ">", "a.b", ""} {
		_, err := bus.Subscribe(ctx, id, func(Event) {})
		assert.ErrorIs(t, err, common.ErrInvalidUserID, id)
		assert.ErrorIs(t, bus.Publish(ctx, id, Event{Table: TableMessages}), common.ErrInvalidUserID, id)
	}
	assert.Zero(t, bus.Subscribers("*"))

	// no connection is needed to reject the id
	var nb NatsBus
	_, err := nb.Subscribe(ctx, "*", func(Event) {})
	assert.ErrorIs(t, err, common.ErrInvalidUserID)
	assert.ErrorIs(t, nb.Publish(ctx, "u1.x", Event{}), common.ErrInvalidUserID)
}

func TestDecodeEvent(t *testing.T) {
	ev, err := decodeEvent("gophmsg.messages.u1", []byte(`{"op":"INSERT","payload":{"id":"m1"}}`))
	require.NoError(t, err)
	assert.Equal(t, TableMessages, ev.Table)
	assert.Equal(t, OpInsert, ev.Op)
	assert.JSONEq(t, `{"id":"m1"}`, string(ev.Payload))

	ev, err = decodeEvent("gophmsg.messages.u1", []byte(`{"table":"profiles","op":"UPDATE","payload":{}}`))
	require.NoError(t, err)
	assert.Equal(t, TableProfiles, ev.Table)

	_, err = decodeEvent("x", []byte("not json"))
	assert.Error(t, err)
}

func TestNewEvent(t *testing.T) {
	ev, err := NewEvent(TableMessages, OpInsert, map[string]any{"seq_num": 42})
	require.NoError(t, err)
	assert.JSONEq(t, `{"seq_num":42}`, string(ev.Payload))
}

func TestMemoryBus_DeliversToAddresseeOnly(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	var got []Event
	sub, err := bus.Subscribe(ctx, "alice", func(ev Event) { got = append(got, ev) })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, bus.Publish(ctx, "alice", Event{Table: TableMessages, Op: OpInsert}))
	require.NoError(t, bus.Publish(ctx, "bob", Event{Table: TableMessages, Op: OpInsert}))

	require.Len(t, got, 1)
	assert.Equal(t, TableMessages, got[0].Table)
}

func TestMemoryBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	calls := 0
	sub, err := bus.Subscribe(ctx, "alice", func(Event) { calls++ })
	require.NoError(t, err)

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, bus.Publish(ctx, "alice", Event{}))

	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, bus.Subscribers("alice"))
}

func TestMemoryBus_ContextCancelReleases(t *testing.T) {
	bus := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())

	_, err := bus.Subscribe(ctx, "alice", func(Event) {})
	require.NoError(t, err)
	require.Equal(t, 1, bus.Subscribers("alice"))

	cancel()
	assert.Eventually(t, func() bool { return bus.Subscribers("alice") == 0 }, time.Second, 5*time.Millisecond)
}
