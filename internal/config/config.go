// Package config provides configuration management for the paper trader.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"paper-trader/internal/errors"
	"paper-trader/pkg/utils"
)

// Config holds all application configuration.
type Config struct {
	Account     AccountConfig    `mapstructure:"account"`
	Broker      BrokerConfig     `mapstructure:"broker"`
	Feed        FeedConfig       `mapstructure:"feed"`
	Settlement  SettlementConfig `mapstructure:"settlement"`
	SquareOff   SquareOffConfig  `mapstructure:"square_off"`
	Store       StoreConfig      `mapstructure:"store"`
	Logging     LoggingConfig    `mapstructure:"logging"`
	Credentials Credentials      `mapstructure:"-" json:"-"` // Loaded separately
	Dir         string           `mapstructure:"-"`
}

// AccountConfig holds the paper account settings.
type AccountConfig struct {
	InitialCapital float64        `mapstructure:"initial_capital"`
	LotSizes       map[string]int `mapstructure:"lot_sizes"` // symbol fragment -> lot size
}

// BrokerConfig holds the REST client settings.
type BrokerConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// FeedConfig holds the live feed settings.
type FeedConfig struct {
	URL        string        `mapstructure:"url"`
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	BatchSize  int           `mapstructure:"batch_size"`
	Mode       string        `mapstructure:"mode"` // ticker, quote, full
}

// SettlementConfig holds the daily settlement settings.
type SettlementConfig struct {
	CutoffHour int    `mapstructure:"cutoff_hour"` // IST
	Schedule   string `mapstructure:"schedule"`    // cron spec for the check
}

// SquareOffConfig holds the intraday auto square-off settings.
type SquareOffConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Schedule    string `mapstructure:"schedule"`
	EquityAt    string `mapstructure:"equity_at"`    // HH:MM IST
	EquityUntil string `mapstructure:"equity_until"` // HH:MM IST
	CommodityAt string `mapstructure:"commodity_at"` // HH:MM IST
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	Path        string `mapstructure:"path"`
	SnapshotKey string `mapstructure:"snapshot_key"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Console  bool   `mapstructure:"console"`
	File     bool   `mapstructure:"file"`
	FilePath string `mapstructure:"file_path"`
}

// Credentials holds API credentials.
type Credentials struct {
	Dhan DhanCredentials `mapstructure:"dhan"`
}

// DhanCredentials holds Dhan API credentials.
type DhanCredentials struct {
	ClientID    string `mapstructure:"client_id"`
	AccessToken string `mapstructure:"access_token"`
}

// HasDhan reports whether both Dhan credentials are set.
func (c Credentials) HasDhan() bool {
	return c.Dhan.ClientID != "" && c.Dhan.AccessToken != ""
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/paper-trader"
	}
	return filepath.Join(home, ".config", "paper-trader")
}

// ConfigPath returns the path of config.toml in dir.
func ConfigPath(dir string) string {
	return filepath.Join(dir, "config.toml")
}

// CredentialsPath returns the path of credentials.toml in dir.
func CredentialsPath(dir string) string {
	return filepath.Join(dir, "credentials.toml")
}

func setDefaults(v *viper.Viper, dir string) {
	v.SetDefault("account.initial_capital", 500000.0)

	v.SetDefault("broker.base_url", "https://api.dhan.co/v2")
	v.SetDefault("broker.timeout", 15*time.Second)

	v.SetDefault("feed.url", "wss://api-feed.dhan.co")
	v.SetDefault("feed.max_retries", 5)
	v.SetDefault("feed.base_delay", 2*time.Second)
	v.SetDefault("feed.max_delay", 30*time.Second)
	v.SetDefault("feed.batch_size", 100)
	v.SetDefault("feed.mode", "quote")

	v.SetDefault("settlement.cutoff_hour", 6)
	v.SetDefault("settlement.schedule", "0 */5 * * * *")

	v.SetDefault("square_off.enabled", true)
	v.SetDefault("square_off.schedule", "@every 30s")
	v.SetDefault("square_off.equity_at", "15:15")
	v.SetDefault("square_off.equity_until", "16:00")
	v.SetDefault("square_off.commodity_at", "23:15")

	v.SetDefault("store.path", filepath.Join(dir, "paper.db"))
	v.SetDefault("store.snapshot_key", "paper-trading-storage")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.file_path", filepath.Join(dir, "logs", "trader.log"))
}

// Load loads configuration from the specified directory. If configDir is
// empty, uses the default config directory. Missing files are created
// from templates and the defaults apply.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{Dir: configDir}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadConfigFile(configDir string, cfg *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		if err := createTemplate(ConfigPath(configDir), configTemplate, 0644); err != nil {
			return err
		}
	}

	return v.Unmarshal(cfg)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		// Restricted permissions for the credentials file.
		return createTemplate(CredentialsPath(configDir), credentialsTemplate, 0600)
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("DHAN_CLIENT_ID"); v != "" {
		cfg.Credentials.Dhan.ClientID = v
	}
	if v := os.Getenv("DHAN_ACCESS_TOKEN"); v != "" {
		cfg.Credentials.Dhan.AccessToken = v
	}
	if v := os.Getenv("PAPER_INITIAL_CAPITAL"); v != "" {
		capital, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: PAPER_INITIAL_CAPITAL=%q", errors.ErrConfigInvalid, v)
		}
		cfg.Account.InitialCapital = capital
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Account.InitialCapital <= 0 {
		return fmt.Errorf("%w: initial_capital must be positive", errors.ErrConfigInvalid)
	}
	for k, v := range c.Account.LotSizes {
		if v <= 0 {
			return fmt.Errorf("%w: lot size for %s must be positive", errors.ErrConfigInvalid, k)
		}
	}

	if c.Feed.MaxRetries < 0 {
		return fmt.Errorf("%w: feed.max_retries must be non-negative", errors.ErrConfigInvalid)
	}
	if c.Feed.BaseDelay <= 0 || c.Feed.MaxDelay < c.Feed.BaseDelay {
		return fmt.Errorf("%w: feed delays must satisfy 0 < base_delay <= max_delay", errors.ErrConfigInvalid)
	}
	if c.Feed.BatchSize < 1 || c.Feed.BatchSize > 100 {
		return fmt.Errorf("%w: feed.batch_size must be between 1 and 100", errors.ErrConfigInvalid)
	}
	switch strings.ToLower(c.Feed.Mode) {
	case "ticker", "quote", "full":
	default:
		return fmt.Errorf("%w: feed.mode must be ticker, quote or full", errors.ErrConfigInvalid)
	}

	if c.Settlement.CutoffHour < 0 || c.Settlement.CutoffHour > 23 {
		return fmt.Errorf("%w: settlement.cutoff_hour must be between 0 and 23", errors.ErrConfigInvalid)
	}

	from, until, _, err := c.SquareOff.Minutes()
	if err != nil {
		return err
	}
	if until <= from {
		return fmt.Errorf("%w: square_off.equity_until must be after equity_at", errors.ErrConfigInvalid)
	}

	return nil
}

// Minutes parses the square-off clock times into IST minutes.
func (s SquareOffConfig) Minutes() (equityAt, equityUntil, commodityAt int, err error) {
	parse := func(name, value string) int {
		if err != nil {
			return 0
		}
		m, perr := utils.ParseClock(value)
		if perr != nil {
			err = fmt.Errorf("%w: square_off.%s %q is not HH:MM", errors.ErrConfigInvalid, name, value)
		}
		return m
	}
	equityAt = parse("equity_at", s.EquityAt)
	equityUntil = parse("equity_until", s.EquityUntil)
	commodityAt = parse("commodity_at", s.CommodityAt)
	return equityAt, equityUntil, commodityAt, err
}
