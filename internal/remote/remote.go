// Package remote declares the backend collaborators of the messenger: user
// profiles holding published device keys, and the messages table with its
// server-assigned sequence numbers.
//
// Two implementations exist: remote/postgres for a real deployment and
// remote/memory for tests and offline demos.
package remote

import (
	"context"
	"time"
)

// Profile is the public record of a user. Key fields are empty until the
// user's device publishes its identity.
type Profile struct {
	UserID         string `json:"user_id"`
	DisplayName    string `json:"display_name"`
	AvatarURL      string `json:"avatar_url"`
	PublicKey      string `json:"public_key"`
	DeviceID       string `json:"device_id"`
	KeyFingerprint string `json:"key_fingerprint"`
}

// HasKey reports whether all published key fields are present.
func (p *Profile) HasKey() bool {
	return p != nil && p.PublicKey != "" && p.DeviceID != "" && p.KeyFingerprint != ""
}

// DeviceKey is the part of a profile written by the identity manager.
type DeviceKey struct {
	UserID         string
	PublicKey      string
	DeviceID       string
	KeyFingerprint string
}

type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusSeen      Status = "seen"
)

// Message is a row of the messages table. Content is whatever the sender
// stored, normally an encrypted envelope. ImageRef is an object-store path.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Content    string    `json:"content"`
	ImageRef   string    `json:"image_url,omitempty"`
	Status     Status    `json:"status"`
	SeqNum     int64     `json:"seq_num"`
	CreatedAt  time.Time `json:"created_at"`
	IsRead     bool      `json:"is_read"`
}

// PeerOf returns the other participant from me's point of view.
func (m *Message) PeerOf(me string) string {
	if m.SenderID == me {
		return m.ReceiverID
	}
	return m.SenderID
}

// NewMessage is what a client submits. ID is the client-chosen idempotency key.
type NewMessage struct {
	ID         string
	SenderID   string
	ReceiverID string
	Content    string
	ImageRef   string
}

// ConversationSummary is one row of the precomputed per-peer aggregate.
type ConversationSummary struct {
	PeerID      string
	Latest      Message
	UnreadCount int
}

type ProfileStore interface {
	// GetProfile returns common.ErrNotFound for unknown users.
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	// GetProfiles skips unknown ids.
	GetProfiles(ctx context.Context, userIDs []string) (map[string]Profile, error)
	// PublishDeviceKey overwrites the user's key fields.
	PublishDeviceKey(ctx context.Context, key DeviceKey) error
}

type MessageStore interface {
	// InsertMessage stores msg and returns the canonical row with its SeqNum.
	// Re-submitting the same ID returns the row stored the first time.
	InsertMessage(ctx context.Context, msg NewMessage) (*Message, error)
	// ListThread returns both directions between me and peer, ascending SeqNum.
	ListThread(ctx context.Context, me, peer string) ([]Message, error)
	// MarkThreadRead flags every message from peer to me as read.
	MarkThreadRead(ctx context.Context, me, peer string) (int64, error)
	// MarkDelivered moves the given received messages from sent to delivered.
	MarkDelivered(ctx context.Context, me string, ids []string) (int64, error)
	// Conversations is the per-peer aggregate, newest first.
	Conversations(ctx context.Context, me string) ([]ConversationSummary, error)
	// RecentMessages returns up to limit messages involving me, newest first.
	RecentMessages(ctx context.Context, me string, limit int) ([]Message, error)
}

type Store interface {
	ProfileStore
	MessageStore
}
