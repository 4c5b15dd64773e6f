package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlogLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	log := NewSlogLoggerTo(&buf, true, slog.LevelDebug)
	ctx := context.Background()

	log.Debug(ctx, "feed event", "seq", 1)
	log.Info(ctx, "unlocked", "user", "u1")
	log.Warn(ctx, "republish pending", "device", "d1")
	log.Error(ctx, "send failed", "err", errors.New("boom"))

	out := buf.String()
	for _, want := range []string{
		"level=DEBUG", "level=INFO", "level=WARN", "level=ERROR",
		`msg="feed event"`, "seq=1", "user=u1", "device=d1", "err=boom",
	} {
		assert.Contains(t, out, want)
	}
}

func TestSlogLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := NewSlogLoggerTo(&buf, true, slog.LevelWarn)

	log.Info(context.Background(), "hidden")
	log.Warn(context.Background(), "shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestSlogLogger_With(t *testing.T) {
	var buf bytes.Buffer
	log := NewSlogLoggerTo(&buf, false, slog.LevelInfo).With("module", "messages")

	log.Info(context.TODO(), "sent", "peer", "bob")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "messages", line["module"])
	assert.Equal(t, "bob", line["peer"])
	assert.Equal(t, "sent", line["msg"])
}

func TestSlogLogger_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	log := NewSlogLoggerTo(&buf, true, slog.LevelInfo).With("Token", "eyJhbGciOi")

	log.Info(context.Background(), "login", "user", "alice", "password", "hunter2", "private_key", []byte{1, 2, 3})

	out := buf.String()
	assert.Contains(t, out, "user=alice")
	assert.Equal(t, 3, strings.Count(out, Redacted))
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "eyJhbGciOi")
}

func TestZapLogger_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	log := NewZapLoggerTo(&buf)

	log.Info(context.Background(), "login", "secret", "s3cr3t", "user", "alice")

	assert.NotContains(t, buf.String(), "s3cr3t")
	assert.Contains(t, buf.String(), `"secret": "`+Redacted+`"`)
	assert.Contains(t, buf.String(), `"user": "alice"`)
}
