package config

import "time"

// Config holds runtime settings for the messenger client.
//
// Fields:
//   - DatabaseDSN: PostgreSQL DSN of the remote store; empty runs against an
//     in-memory store (demo mode).
//   - LocalDBPath: SQLite file holding this device's identity.
//   - NatsURL: realtime feed; empty uses an in-process bus.
//   - S3*: attachment bucket; empty S3Endpoint and S3Bucket use in-memory storage.
//   - JWTSecret / SessionTTL: HS256 secret and lifetime of issued sessions.
//   - ConversationFallbackLimit: messages scanned when the aggregate is unavailable.
//   - RefreshInterval: periodic conversation list refresh.
//   - LogFormat: "json", "text" or "zap".
type Config struct {
	DatabaseDSN               string
	LocalDBPath               string
	NatsURL                   string
	S3User                    string
	S3Password                string
	S3Bucket                  string
	S3Region                  string
	S3Endpoint                string
	JWTSecret                 string
	SessionTTL                time.Duration
	ConversationFallbackLimit int
	RefreshInterval           time.Duration
	LogFormat                 string
}

// LoadDefaults populates c with development defaults.
// NOTE: JWTSecret must be overridden outside local development.
func (c *Config) LoadDefaults() {
	c.DatabaseDSN = ""
	c.LocalDBPath = "gophmsg.db"
	c.NatsURL = ""
	c.S3User = "admin"
	c.S3Password = "secretpassword"
	c.S3Bucket = ""
	c.S3Region = "us-east-1"
	c.S3Endpoint = ""
	c.JWTSecret = "secretKey"
	c.SessionTTL = 24 * time.Hour
	c.ConversationFallbackLimit = 200
	c.RefreshInterval = 30 * time.Second
	c.LogFormat = "json"
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
