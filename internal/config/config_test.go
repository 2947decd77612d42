package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"paper-trader/internal/errors"
)

func TestLoadCreatesTemplates(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DHAN_CLIENT_ID", "")
	t.Setenv("DHAN_ACCESS_TOKEN", "")
	t.Setenv("PAPER_INITIAL_CAPITAL", "")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Account.InitialCapital != 500000 {
		t.Errorf("initial capital = %v", cfg.Account.InitialCapital)
	}
	if cfg.Feed.BaseDelay != 2*time.Second || cfg.Feed.MaxDelay != 30*time.Second {
		t.Errorf("feed delays = %v, %v", cfg.Feed.BaseDelay, cfg.Feed.MaxDelay)
	}
	if cfg.Store.Path != filepath.Join(dir, "paper.db") {
		t.Errorf("store path = %q", cfg.Store.Path)
	}
	if cfg.Credentials.HasDhan() {
		t.Error("expected empty credentials")
	}

	for _, name := range []string{"config.toml", "credentials.toml"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s not created: %v", name, err)
		}
	}
	info, err := os.Stat(CredentialsPath(dir))
	if err == nil && info.Mode().Perm() != 0600 {
		t.Errorf("credentials mode = %v", info.Mode().Perm())
	}

	// The generated template loads cleanly on the next run.
	again, err := Load(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.SquareOff.Schedule != "@every 30s" || again.Feed.Mode != "quote" {
		t.Errorf("template values lost: %+v", again.SquareOff)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	config := `
[account]
initial_capital = 250000

[account.lot_sizes]
NIFTY = 75

[feed]
mode = "full"
base_delay = "500ms"
max_delay = "4s"
`
	creds := `
[dhan]
client_id = "1000"
access_token = "file-token"
`
	os.WriteFile(ConfigPath(dir), []byte(config), 0644)
	os.WriteFile(CredentialsPath(dir), []byte(creds), 0600)

	t.Setenv("DHAN_CLIENT_ID", "")
	t.Setenv("DHAN_ACCESS_TOKEN", "env-token")
	t.Setenv("PAPER_INITIAL_CAPITAL", "")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Account.InitialCapital != 250000 {
		t.Errorf("initial capital = %v", cfg.Account.InitialCapital)
	}
	if cfg.Account.LotSizes["nifty"] != 75 && cfg.Account.LotSizes["NIFTY"] != 75 {
		t.Errorf("lot sizes = %v", cfg.Account.LotSizes)
	}
	if cfg.Feed.Mode != "full" || cfg.Feed.BaseDelay != 500*time.Millisecond {
		t.Errorf("feed = %+v", cfg.Feed)
	}
	if cfg.Credentials.Dhan.ClientID != "1000" || cfg.Credentials.Dhan.AccessToken != "env-token" {
		t.Errorf("credentials = %+v", cfg.Credentials.Dhan)
	}

	t.Setenv("PAPER_INITIAL_CAPITAL", "not-a-number")
	if _, err := Load(dir); !errors.Is(err, errors.ErrConfigInvalid) {
		t.Errorf("expected ErrConfigInvalid, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Account:    AccountConfig{InitialCapital: 1000},
			Feed:       FeedConfig{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: 2 * time.Second, BatchSize: 100, Mode: "quote"},
			Settlement: SettlementConfig{CutoffHour: 6},
			SquareOff:  SquareOffConfig{EquityAt: "15:15", EquityUntil: "16:00", CommodityAt: "23:15"},
		}
	}

	base := valid()
	if err := base.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero capital", func(c *Config) { c.Account.InitialCapital = 0 }},
		{"bad lot size", func(c *Config) { c.Account.LotSizes = map[string]int{"NIFTY": 0} }},
		{"negative retries", func(c *Config) { c.Feed.MaxRetries = -1 }},
		{"max below base", func(c *Config) { c.Feed.MaxDelay = 100 * time.Millisecond }},
		{"batch too large", func(c *Config) { c.Feed.BatchSize = 101 }},
		{"unknown mode", func(c *Config) { c.Feed.Mode = "depth" }},
		{"cutoff out of range", func(c *Config) { c.Settlement.CutoffHour = 24 }},
		{"bad clock", func(c *Config) { c.SquareOff.CommodityAt = "11pm" }},
		{"empty window", func(c *Config) { c.SquareOff.EquityUntil = "15:00" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, errors.ErrConfigInvalid) {
				t.Errorf("expected ErrConfigInvalid, got %v", err)
			}
		})
	}
}

func TestSquareOffMinutes(t *testing.T) {
	from, until, mcx, err := SquareOffConfig{EquityAt: "15:15", EquityUntil: "16:00", CommodityAt: "23:15"}.Minutes()
	if err != nil {
		t.Fatalf("Minutes: %v", err)
	}
	if from != 915 || until != 960 || mcx != 1395 {
		t.Errorf("minutes = %d, %d, %d", from, until, mcx)
	}
}
