// Package realtime carries row-change notifications from the remote store to
// connected clients. Events are addressed to a user; a client subscribes to
// everything addressed to its own user id.
package realtime

import (
	"context"
	"encoding/json"
)

const (
	TableMessages = "messages"
	TableProfiles = "profiles"

	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
)

// Event describes a single row change. Payload holds the row as JSON.
type Event struct {
	Table   string          `json:"table"`
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload"`
}

// NewEvent marshals row into an Event payload.
func NewEvent(table, op string, row any) (Event, error) {
	b, err := json.Marshal(row)
	if err != nil {
		return Event{}, err
	}
	return Event{Table: table, Op: op, Payload: b}, nil
}

// Handler receives events. It is called from the feed's delivery goroutine
// and must not block for long.
type Handler func(Event)

type Subscription interface {
	Unsubscribe() error
}

type Publisher interface {
	Publish(ctx context.Context, userID string, ev Event) error
}

// Feed delivers events addressed to userID until ctx is done or the
// subscription is released.
type Feed interface {
	Subscribe(ctx context.Context, userID string, h Handler) (Subscription, error)
}
