// Package config handles application configuration.
//
// Settings come from three layers, later layers overriding earlier ones:
// built-in defaults, the etchd.conf file, and command-line flags.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// NetworkType identifies mainnet or testnet3.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet3"
)

// Config holds the runtime configuration for an etchd instance.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// HTTP API server
	API APIConfig

	// Payment policy
	Payment PaymentConfig

	// BlockCypher upstream
	BlockCypher BlockCypherConfig

	// Webhook receiver
	Webhook WebhookConfig

	// OP_RETURN broadcast
	Broadcast BroadcastConfig

	// Wallet
	Wallet WalletConfig

	// Logging
	Log LogConfig
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Addr string `conf:"api.addr"`
	Port int    `conf:"api.port"`
}

// PaymentConfig holds the payment policy applied to new requests.
type PaymentConfig struct {
	// RequiredSatoshis is the amount a deposit must carry to be considered
	// full payment.
	RequiredSatoshis int64 `conf:"payment.required_satoshis"`
	// MinConfirmations is the confirmation depth required before the
	// OP_RETURN transaction is broadcast.
	MinConfirmations int64 `conf:"payment.min_confirmations"`
}

// BlockCypherConfig holds upstream API settings.
type BlockCypherConfig struct {
	// Token is the API token. Without one, webhook registration is skipped
	// and requests progress only via manually posted notifications.
	Token string `conf:"blockcypher.token"`
	// BaseURL overrides the chain-derived API base URL. Mainly for tests.
	BaseURL string `conf:"blockcypher.base_url"`
}

// WebhookConfig holds notification receiver settings.
type WebhookConfig struct {
	// CallbackBase is the externally reachable base URL of this instance,
	// e.g. "https://etch.example.com". Required for webhook registration.
	CallbackBase string `conf:"webhook.callback_base"`
}

// BroadcastConfig holds OP_RETURN broadcast settings.
type BroadcastConfig struct {
	TimeoutSeconds int `conf:"broadcast.timeout_seconds"`
}

// WalletConfig holds HD wallet settings. The mnemonic itself is never
// stored in the config file; it comes from the ETCHD_MNEMONIC environment
// variable or an interactive prompt.
type WalletConfig struct {
	Passphrase string `conf:"wallet.passphrase"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.etchd
//	macOS:   ~/Library/Application Support/Etchd
//	Windows: %APPDATA%\Etchd
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".etchd"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Etchd")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Etchd")
		}
		return filepath.Join(home, "AppData", "Roaming", "Etchd")
	default:
		return filepath.Join(home, ".etchd")
	}
}

// ConfigFilePath returns the path of the config file within a data directory.
func ConfigFilePath(dataDir string) string {
	return filepath.Join(dataDir, "etchd.conf")
}

// CallbackURL returns the full webhook callback URL, or "" when no callback
// base is configured.
func (c *Config) CallbackURL() string {
	if c.Webhook.CallbackBase == "" {
		return ""
	}
	return c.Webhook.CallbackBase + "/api/webhook/payment-notification"
}
