package config

import (
	"testing"
	"time"
)

// setRequiredEnv は必須環境変数を設定するヘルパー。
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/claimsub")
	t.Setenv("BASE_URL", "https://claims.example.com")
	t.Setenv("CONTENT_OWNER_ID", "owner-1")
}

func TestLoad_RequiredFieldsMissing(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("BASE_URL", "")
	t.Setenv("CONTENT_OWNER_ID", "")

	if _, err := Load(); err == nil {
		t.Fatal("必須環境変数が未設定の場合はエラーになるべき")
	}
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load がエラーを返した: %v", err)
	}

	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want 8080", cfg.ServerPort)
	}
	if cfg.HubURL != "https://pubsubhubbub.appspot.com/" {
		t.Errorf("HubURL = %q", cfg.HubURL)
	}
	if cfg.LeaseSeconds != 864000 {
		t.Errorf("LeaseSeconds = %d, want 864000", cfg.LeaseSeconds)
	}
	if cfg.VideoURLPrefix != "https://www.youtube.com/watch?v=" {
		t.Errorf("VideoURLPrefix = %q", cfg.VideoURLPrefix)
	}
	if cfg.RetentionKeep != 50000 {
		t.Errorf("RetentionKeep = %d, want 50000", cfg.RetentionKeep)
	}
	if cfg.SweepInterval != 24*time.Hour {
		t.Errorf("SweepInterval = %v, want 24h", cfg.SweepInterval)
	}
	if cfg.RenewInterval != 96*time.Hour {
		t.Errorf("RenewInterval = %v, want 96h", cfg.RenewInterval)
	}
	if cfg.WebhookMaxBody != 1048576 {
		t.Errorf("WebhookMaxBody = %d, want 1048576", cfg.WebhookMaxBody)
	}
	if len(cfg.ChannelIDs) != 0 {
		t.Errorf("ChannelIDs = %v, デフォルトは空であるべき", cfg.ChannelIDs)
	}
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("LEASE_SECONDS", "3600")
	t.Setenv("RETENTION_KEEP", "100")
	t.Setenv("SWEEP_INTERVAL", "1h")
	t.Setenv("POLICY_ID", "policy-override")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load がエラーを返した: %v", err)
	}

	if cfg.ServerPort != "9090" {
		t.Errorf("ServerPort = %q, want 9090", cfg.ServerPort)
	}
	if cfg.LeaseSeconds != 3600 {
		t.Errorf("LeaseSeconds = %d, want 3600", cfg.LeaseSeconds)
	}
	if cfg.RetentionKeep != 100 {
		t.Errorf("RetentionKeep = %d, want 100", cfg.RetentionKeep)
	}
	if cfg.SweepInterval != time.Hour {
		t.Errorf("SweepInterval = %v, want 1h", cfg.SweepInterval)
	}
	if cfg.PolicyID != "policy-override" {
		t.Errorf("PolicyID = %q", cfg.PolicyID)
	}
}

func TestLoad_ChannelIDs(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CHANNEL_IDS", "UC1, UC2 ,,UC3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load がエラーを返した: %v", err)
	}

	want := []string{"UC1", "UC2", "UC3"}
	if len(cfg.ChannelIDs) != len(want) {
		t.Fatalf("ChannelIDs = %v, want %v", cfg.ChannelIDs, want)
	}
	for i := range want {
		if cfg.ChannelIDs[i] != want[i] {
			t.Errorf("ChannelIDs[%d] = %q, want %q", i, cfg.ChannelIDs[i], want[i])
		}
	}
}

func TestLoad_InvalidNumericFallsBackToDefault(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LEASE_SECONDS", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load がエラーを返した: %v", err)
	}
	if cfg.LeaseSeconds != 864000 {
		t.Errorf("LeaseSeconds = %d, 不正値はデフォルトに戻るべき", cfg.LeaseSeconds)
	}
}
