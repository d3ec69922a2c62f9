// Package config loads the typed application configuration from viper.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// StoreConfig selects and configures the record-store backend.
type StoreConfig struct {
	Backend    string // "airtable" or "sqlite"
	APIKey     string
	BaseID     string
	BaseURL    string
	SQLitePath string
}

// CredentialsConfig locates the encrypted scraping credentials.
type CredentialsConfig struct {
	File string
	Key  string // 64 hex chars; usually from SHEKELBOT_CREDENTIALS_KEY
}

// PlaidConfig holds the Plaid application credentials shared by all
// Plaid-backed accounts.
type PlaidConfig struct {
	ClientID    string
	Secret      string
	Environment string
}

// ScraperConfig configures the scraping backends.
type ScraperConfig struct {
	BridgeURL string
	Plaid     PlaidConfig
}

// InvoiceConfig configures the external invoicing API layer. Missing
// values disable the layer rather than failing startup.
type InvoiceConfig struct {
	APIKey    string
	CompanyID string
	BaseURL   string
	Entity    string
}

// BusinessLedger points at one business's expected-payments sheet.
type BusinessLedger struct {
	Entity        string
	SpreadsheetID string
	ReadRange     string
}

// LedgerConfig configures the per-business ledger layer.
type LedgerConfig struct {
	ServiceAccountPath string
	Businesses         []BusinessLedger
}

// RunnerConfig holds the daily schedule times ("HH:MM", local time).
type RunnerConfig struct {
	ScrapeAt   string
	ClassifyAt string
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr string
}

// NotifyConfig points at the chat transport webhook that receives run
// summaries and resolution prompts. Empty disables outbound messages.
type NotifyConfig struct {
	WebhookURL string
}

// Config is the full application configuration.
type Config struct {
	UserID      string
	Store       StoreConfig
	Credentials CredentialsConfig
	Scraper     ScraperConfig
	Invoice     InvoiceConfig
	Ledger      LedgerConfig
	Runner      RunnerConfig
	Server      ServerConfig
	Notify      NotifyConfig
}

// Load reads the configuration from the already-initialized viper state.
func Load() Config {
	cfg := Config{
		UserID: viper.GetString("user_id"),
		Store: StoreConfig{
			Backend:    viper.GetString("store.backend"),
			APIKey:     viper.GetString("store.api_key"),
			BaseID:     viper.GetString("store.base_id"),
			BaseURL:    viper.GetString("store.base_url"),
			SQLitePath: ExpandPath(viper.GetString("store.sqlite_path")),
		},
		Credentials: CredentialsConfig{
			File: ExpandPath(viper.GetString("credentials.file")),
			Key:  viper.GetString("credentials.key"),
		},
		Scraper: ScraperConfig{
			BridgeURL: viper.GetString("scraper.bridge_url"),
			Plaid: PlaidConfig{
				ClientID:    viper.GetString("scraper.plaid.client_id"),
				Secret:      viper.GetString("scraper.plaid.secret"),
				Environment: viper.GetString("scraper.plaid.environment"),
			},
		},
		Invoice: InvoiceConfig{
			APIKey:    viper.GetString("invoice.api_key"),
			CompanyID: viper.GetString("invoice.company_id"),
			BaseURL:   viper.GetString("invoice.base_url"),
			Entity:    viper.GetString("invoice.entity"),
		},
		Ledger: LedgerConfig{
			ServiceAccountPath: ExpandPath(viper.GetString("ledger.service_account_path")),
		},
		Runner: RunnerConfig{
			ScrapeAt:   viper.GetString("runner.scrape_at"),
			ClassifyAt: viper.GetString("runner.classify_at"),
		},
		Server: ServerConfig{
			Addr: viper.GetString("server.addr"),
		},
		Notify: NotifyConfig{
			WebhookURL: viper.GetString("notify.webhook_url"),
		},
	}

	var businesses []BusinessLedger
	if err := viper.UnmarshalKey("ledger.businesses", &businesses); err == nil {
		cfg.Ledger.Businesses = businesses
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "sqlite"
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = ExpandPath("~/.local/share/shekelbot/records.db")
	}
	if cfg.Runner.ScrapeAt == "" {
		cfg.Runner.ScrapeAt = "06:00"
	}
	if cfg.Runner.ClassifyAt == "" {
		cfg.Runner.ClassifyAt = "08:00"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8099"
	}
	if cfg.UserID == "" {
		cfg.UserID = "default"
	}

	return cfg
}

// ExpandPath expands ~ and environment variables in a file path.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = home
		}
	}

	return os.ExpandEnv(path)
}
