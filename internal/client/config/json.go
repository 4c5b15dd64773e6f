package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/gophmsg/internal/flagx"
	"github.com/dmitrijs2005/gophmsg/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
type JsonConfig struct {
	DatabaseDSN               string         `json:"database_dsn"`
	LocalDBPath               string         `json:"local_db_path"`
	NatsURL                   string         `json:"nats_url"`
	S3User                    string         `json:"s3_user"`
	S3Password                string         `json:"s3_password"`
	S3Bucket                  string         `json:"s3_bucket"`
	S3Region                  string         `json:"s3_region"`
	S3Endpoint                string         `json:"s3_endpoint"`
	JWTSecret                 string         `json:"jwt_secret"`
	SessionTTL                timex.Duration `json:"session_ttl"`
	ConversationFallbackLimit int            `json:"conversation_fallback_limit"`
	RefreshInterval           timex.Duration `json:"refresh_interval"`
	LogFormat                 string         `json:"log_format"`
}

// parseJson overlays Config with values loaded from the JSON file named by
// -c / -config. Missing or zero-valued keys leave cfg untouched.
// Panics on read or unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	overlayString(&cfg.DatabaseDSN, jc.DatabaseDSN)
	overlayString(&cfg.LocalDBPath, jc.LocalDBPath)
	overlayString(&cfg.NatsURL, jc.NatsURL)
	overlayString(&cfg.S3User, jc.S3User)
	overlayString(&cfg.S3Password, jc.S3Password)
	overlayString(&cfg.S3Bucket, jc.S3Bucket)
	overlayString(&cfg.S3Region, jc.S3Region)
	overlayString(&cfg.S3Endpoint, jc.S3Endpoint)
	overlayString(&cfg.JWTSecret, jc.JWTSecret)
	overlayString(&cfg.LogFormat, jc.LogFormat)

	if jc.SessionTTL.Duration > 0 {
		cfg.SessionTTL = jc.SessionTTL.Duration
	}
	if jc.RefreshInterval.Duration > 0 {
		cfg.RefreshInterval = jc.RefreshInterval.Duration
	}
	if jc.ConversationFallbackLimit > 0 {
		cfg.ConversationFallbackLimit = jc.ConversationFallbackLimit
	}
}

func overlayString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
