package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson_SourcesAndPrecedence(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	dir := t.TempDir()
	pathFlag := writeConfig(t, dir, "flag.json", map[string]any{
		"database_dsn":                "postgres://db/gophmsg",
		"nats_url":                    "nats://127.0.0.1:4222",
		"refresh_interval":            "10s",
		"session_ttl":                 float64(time.Hour),
		"conversation_fallback_limit": 75,
		"log_format":                  "zap",
	})

	t.Run("loads from flags", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", pathFlag}

		cfg := &Config{}
		cfg.LoadDefaults()
		parseJson(cfg)

		assert.Equal(t, "postgres://db/gophmsg", cfg.DatabaseDSN)
		assert.Equal(t, "nats://127.0.0.1:4222", cfg.NatsURL)
		assert.Equal(t, 10*time.Second, cfg.RefreshInterval)
		assert.Equal(t, time.Hour, cfg.SessionTTL)
		assert.Equal(t, 75, cfg.ConversationFallbackLimit)
		assert.Equal(t, "zap", cfg.LogFormat)
		assert.Equal(t, "gophmsg.db", cfg.LocalDBPath, "absent keys keep defaults")
	})

	t.Run("no config flag → no changes", func(t *testing.T) {
		os.Args = []string{"testbin"}

		cfg := &Config{LocalDBPath: "keep.db", RefreshInterval: 42 * time.Second}
		parseJson(cfg)

		assert.Equal(t, "keep.db", cfg.LocalDBPath)
		assert.Equal(t, 42*time.Second, cfg.RefreshInterval)
	})

	t.Run("invalid JSON → panics", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))

		os.Args = []string{"testbin", "-config", bad}
		require.Panics(t, func() { parseJson(&Config{}) })
	})

	t.Run("secrets overlay, zero values do not", func(t *testing.T) {
		path := writeConfig(t, dir, "secrets.json", map[string]any{
			"jwt_secret":                  "from-file",
			"s3_password":                 "pw",
			"conversation_fallback_limit": 0,
			"refresh_interval":            "0s",
		})
		os.Args = []string{"testbin", "--config=" + path}

		cfg := &Config{}
		cfg.LoadDefaults()
		parseJson(cfg)

		assert.Equal(t, "from-file", cfg.JWTSecret)
		assert.Equal(t, "pw", cfg.S3Password)
		assert.Equal(t, 200, cfg.ConversationFallbackLimit)
		assert.Equal(t, 30*time.Second, cfg.RefreshInterval)
	})

	t.Run("bad duration → panics", func(t *testing.T) {
		path := writeConfig(t, dir, "dur.json", map[string]any{"refresh_interval": "soon"})
		os.Args = []string{"testbin", "-c", path}
		require.Panics(t, func() { parseJson(&Config{}) })
	})

	t.Run("missing file → panics", func(t *testing.T) {
		os.Args = []string{"testbin", "-c", filepath.Join(dir, "nope.json")}
		require.Panics(t, func() { parseJson(&Config{}) })
	})
}
