package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Server
	ServerPort string
	BaseURL    string

	// Hub
	HubURL       string
	ChannelIDs   []string
	LeaseSeconds int

	// Partner API
	ContentOwnerID     string
	PolicyID           string
	PartnerAPIBase     string
	DataAPIBase        string
	PartnerAccessToken string
	ClaimTimeout       time.Duration

	// Ingest
	VideoURLPrefix string
	WebhookMaxBody int64

	// Retention
	RetentionKeep int
	SweepInterval time.Duration

	// Lease renewal
	RenewInterval time.Duration

	// Rate Limit
	RateLimitGeneral     int
	RateLimitMaintenance int
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	cfg.ContentOwnerID = os.Getenv("CONTENT_OWNER_ID")
	if cfg.ContentOwnerID == "" {
		missing = append(missing, "CONTENT_OWNER_ID")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.HubURL = getEnvString("HUB_URL", "https://pubsubhubbub.appspot.com/")
	cfg.ChannelIDs = splitCommaList(os.Getenv("CHANNEL_IDS"))
	cfg.LeaseSeconds = getEnvInt("LEASE_SECONDS", 864000)
	cfg.PolicyID = getEnvString("POLICY_ID", "")
	cfg.PartnerAPIBase = getEnvString("PARTNER_API_BASE", "")
	cfg.DataAPIBase = getEnvString("DATA_API_BASE", "")
	cfg.PartnerAccessToken = getEnvString("PARTNER_ACCESS_TOKEN", "")
	cfg.ClaimTimeout = getEnvDuration("CLAIM_TIMEOUT", 60*time.Second)
	cfg.VideoURLPrefix = getEnvString("VIDEO_URL_PREFIX", "https://www.youtube.com/watch?v=")
	cfg.WebhookMaxBody = getEnvInt64("WEBHOOK_MAX_BODY", 1048576)
	cfg.RetentionKeep = getEnvInt("RETENTION_KEEP", 50000)
	cfg.SweepInterval = getEnvDuration("SWEEP_INTERVAL", 24*time.Hour)
	cfg.RenewInterval = getEnvDuration("RENEW_INTERVAL", 96*time.Hour)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitMaintenance = getEnvInt("RATE_LIMIT_MAINTENANCE", 10)

	return cfg, nil
}

// splitCommaList はカンマ区切りの値をトリムして分割する。空要素は捨てる。
func splitCommaList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
