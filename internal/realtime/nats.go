package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophmsg/internal/common"
	"github.com/nats-io/nats.go"
)

const subjectPrefix = "gophmsg"

// Subject returns the NATS subject for events of table addressed to userID,
// e.g. "gophmsg.messages.<user>". userID must pass common.ValidateUserID.
func Subject(table, userID string) string {
	return fmt.Sprintf("%s.%s.%s", subjectPrefix, table, userID)
}

// wildcardSubject matches every table for userID.
func wildcardSubject(userID string) string {
	return fmt.Sprintf("%s.*.%s", subjectPrefix, userID)
}

// NatsBus is a Publisher and Feed over a core NATS connection.
type NatsBus struct {
	nc *nats.Conn
}

// ConnectNats dials url with reconnect settings suited to a long-lived client.
func ConnectNats(url, name string) (*NatsBus, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NatsBus{nc: nc}, nil
}

func (b *NatsBus) Publish(ctx context.Context, userID string, ev Event) error {
	if err := common.ValidateUserID(userID); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := b.nc.Publish(Subject(ev.Table, userID), data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

func (b *NatsBus) Subscribe(ctx context.Context, userID string, h Handler) (Subscription, error) {
	if err := common.ValidateUserID(userID); err != nil {
		return nil, err
	}
	sub, err := b.nc.Subscribe(wildcardSubject(userID), func(m *nats.Msg) {
		ev, err := decodeEvent(m.Subject, m.Data)
		if err != nil {
			return
		}
		h(ev)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe: %w", err)
	}

	s := &natsSubscription{sub: sub, done: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Unsubscribe()
		case <-s.done:
		}
	}()
	return s, nil
}

func (b *NatsBus) Close() {
	b.nc.Close()
}

type natsSubscription struct {
	sub  *nats.Subscription
	once sync.Once
	done chan struct{}
}

func (s *natsSubscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.sub.Unsubscribe()
	})
	return err
}

// decodeEvent parses a message body, falling back to the table encoded in
// the subject when the body leaves it empty.
func decodeEvent(subject string, data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, err
	}
	if ev.Table == "" {
		parts := strings.Split(subject, ".")
		if len(parts) == 3 {
			ev.Table = parts[1]
		}
	}
	return ev, nil
}
