// Package envelope encodes message content for the wire.
//
// A v1 envelope is a small JSON document holding two anonymous sealed boxes
// of the same plaintext: one for the recipient and one for the sender, so
// both sides of a thread can read it back:
//
//	{"v":1,"r":"<base64 sealed to recipient>","s":"<base64 sealed to sender>"}
//
// Content that is not an envelope is treated as legacy plaintext.
package envelope

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/gophmsg/internal/cryptox"
)

const Version = 1

var ErrMalformed = errors.New("malformed envelope")

type wire struct {
	V int    `json:"v"`
	R string `json:"r"`
	S string `json:"s"`
}

// Seal encrypts plaintext for recipient and sender.
func Seal(plaintext []byte, recipient, sender *[32]byte) (string, error) {
	r, err := cryptox.SealTo(plaintext, recipient)
	if err != nil {
		return "", fmt.Errorf("seal for recipient: %w", err)
	}
	s, err := cryptox.SealTo(plaintext, sender)
	if err != nil {
		return "", fmt.Errorf("seal for sender: %w", err)
	}

	b, err := json.Marshal(wire{
		V: Version,
		R: base64.StdEncoding.EncodeToString(r),
		S: base64.StdEncoding.EncodeToString(s),
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func parse(content string) (*wire, bool) {
	if !strings.HasPrefix(strings.TrimSpace(content), "{") {
		return nil, false
	}
	var w wire
	if err := json.Unmarshal([]byte(content), &w); err != nil {
		return nil, false
	}
	if w.V != Version || (w.R == "" && w.S == "") {
		return nil, false
	}
	return &w, true
}

// IsEnvelope reports whether content looks like a v1 envelope.
func IsEnvelope(content string) bool {
	_, ok := parse(content)
	return ok
}

// Open decrypts content with the given key pair. asSender selects which copy
// to try first; the other copy is tried if that fails, which covers notes to
// self and rows whose direction is unknown.
func Open(content string, asSender bool, pub, priv *[32]byte) ([]byte, error) {
	w, ok := parse(content)
	if !ok {
		return nil, ErrMalformed
	}

	order := []string{w.R, w.S}
	if asSender {
		order = []string{w.S, w.R}
	}

	err := cryptox.ErrDecrypt
	for _, part := range order {
		if part == "" {
			continue
		}
		sealed, decErr := base64.StdEncoding.DecodeString(part)
		if decErr != nil {
			err = fmt.Errorf("%w: %w", ErrMalformed, decErr)
			continue
		}
		plain, openErr := cryptox.OpenSealed(sealed, pub, priv)
		if openErr == nil {
			return plain, nil
		}
		err = openErr
	}
	return nil, err
}

// Opener gives temporary access to a key pair; session.Keys implements it.
type Opener interface {
	Open(fn func(pub, priv *[32]byte) error) error
}

// Plain is decoded content ready for display.
type Plain struct {
	Text string
	// Encrypted is false for legacy plaintext rows.
	Encrypted bool
	// Failed is set when the row is an envelope that could not be opened;
	// Text is then empty.
	Failed bool
}

// Decode turns stored content into displayable text. It never fails: rows
// that cannot be opened are flagged rather than dropped.
func Decode(content string, asSender bool, keys Opener) Plain {
	if !IsEnvelope(content) {
		return Plain{Text: content}
	}
	if keys == nil {
		return Plain{Encrypted: true, Failed: true}
	}

	var text string
	err := keys.Open(func(pub, priv *[32]byte) error {
		b, err := Open(content, asSender, pub, priv)
		if err != nil {
			return err
		}
		text = string(b)
		return nil
	})
	if err != nil {
		return Plain{Encrypted: true, Failed: true}
	}
	return Plain{Text: text, Encrypted: true}
}
