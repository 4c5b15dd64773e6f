package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/gophmsg/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
// See the package documentation for the list. Only the flags handled here are
// passed to the FlagSet, via flagx.FilterArgs. Panics on malformed values.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-l", "-n", "-k", "-f", "-i", "-log", "-e", "-b"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.DatabaseDSN, "d", cfg.DatabaseDSN, "remote PostgreSQL DSN")
	fs.StringVar(&cfg.LocalDBPath, "l", cfg.LocalDBPath, "local SQLite path")
	fs.StringVar(&cfg.NatsURL, "n", cfg.NatsURL, "NATS URL")
	fs.StringVar(&cfg.JWTSecret, "k", cfg.JWTSecret, "JWT secret")
	fs.IntVar(&cfg.ConversationFallbackLimit, "f", cfg.ConversationFallbackLimit, "conversation fallback scan limit")
	refreshInterval := fs.Int("i", int(cfg.RefreshInterval.Seconds()), "conversation refresh interval (in seconds)")
	fs.StringVar(&cfg.LogFormat, "log", cfg.LogFormat, "log format: json, text or zap")
	fs.StringVar(&cfg.S3Endpoint, "e", cfg.S3Endpoint, "S3 endpoint")
	fs.StringVar(&cfg.S3Bucket, "b", cfg.S3Bucket, "S3 bucket")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.RefreshInterval = time.Duration(*refreshInterval) * time.Second
}
