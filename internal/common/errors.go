// Package common defines sentinel errors and small helpers shared by the
// messaging core. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Lookup errors.
	ErrNotFound = errors.New("not found")

	// Device identity lifecycle.
	ErrKeyGeneration  = errors.New("key generation failed")
	ErrUnlock         = errors.New("unlock failed")
	ErrProfilePublish = errors.New("profile publish failed")
	ErrLocked         = errors.New("device keys are locked")

	// Messaging.
	ErrAttachmentUpload   = errors.New("attachment upload failed")
	ErrRemoteQuery        = errors.New("remote query failed")
	ErrEnrichment         = errors.New("profile enrichment failed")
	ErrPeerKeyUnavailable = errors.New("peer has no published key")
	ErrInvalidRecipient   = errors.New("invalid recipient")
	ErrEmptyMessage       = errors.New("empty message")
	ErrIdempotencyClash   = errors.New("message id already used by another sender")

	// Session handling.
	ErrStaleSession = errors.New("session changed while unlocking")
	ErrInvalidToken  = errors.New("invalid token")
	ErrInvalidUserID = errors.New("invalid user id")
)
