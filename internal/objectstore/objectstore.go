// Package objectstore stores message attachments. Messages reference an
// attachment by its object path; readable URLs are minted on demand and
// expire.
package objectstore

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

type Store interface {
	// Upload writes data at path, replacing any existing object.
	Upload(ctx context.Context, path string, data []byte, contentType string) error
	// PresignGet returns a URL granting read access to path for ttl.
	PresignGet(ctx context.Context, path string, ttl time.Duration) (string, error)
}

// AttachmentPath returns "messages/<senderID>/<messageID>.<ext>" where ext is
// taken from filename, lower-cased, and defaults to "bin".
func AttachmentPath(senderID, messageID, filename string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("messages/%s/%s.%s", senderID, messageID, ext)
}
