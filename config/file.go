package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadFile loads configuration from a .conf file.
// Format: key = value (one per line, # for comments). A missing file is not
// an error; defaults apply.
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file configuration to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a config value by key.
func setConfigValue(cfg *Config, key, value string) error {
	switch key {
	// Core
	case "network":
		cfg.Network = NetworkType(value)
	case "datadir":
		cfg.DataDir = value

	// API
	case "api.addr":
		cfg.API.Addr = value
	case "api.port":
		port, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.API.Port = port

	// Payment
	case "payment.required_satoshis":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		cfg.Payment.RequiredSatoshis = n
	case "payment.min_confirmations":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		cfg.Payment.MinConfirmations = n

	// BlockCypher
	case "blockcypher.token":
		cfg.BlockCypher.Token = value
	case "blockcypher.base_url":
		cfg.BlockCypher.BaseURL = value

	// Webhook
	case "webhook.callback_base":
		cfg.Webhook.CallbackBase = strings.TrimRight(value, "/")

	// Broadcast
	case "broadcast.timeout_seconds":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Broadcast.TimeoutSeconds = n

	// Wallet
	case "wallet.passphrase":
		cfg.Wallet.Passphrase = value

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)

	default:
		return fmt.Errorf("unknown config key")
	}
	return nil
}

func parseBool(value string) bool {
	switch strings.ToLower(value) {
	case "true", "yes", "on", "1":
		return true
	default:
		return false
	}
}

// WriteDefaultConfigFile writes a commented sample config file. Existing
// files are left untouched.
func WriteDefaultConfigFile(path string, network NetworkType) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	content := `# etchd configuration file
# Lines starting with # are comments.

# Network: mainnet or testnet3
network = ` + string(network) + `

# Data directory (default: ~/.etchd)
# datadir = ~/.etchd

# ============================================================================
# API Server
# ============================================================================

api.addr = 127.0.0.1
api.port = 3000

# ============================================================================
# Payment Policy
# ============================================================================

# Amount (satoshis) a deposit must carry to count as full payment
# payment.required_satoshis = 10000

# Confirmations required before the OP_RETURN broadcast
payment.min_confirmations = 1

# ============================================================================
# BlockCypher
# ============================================================================

# API token; without it, webhook registration is skipped
# blockcypher.token =

# ============================================================================
# Webhook Receiver
# ============================================================================

# Externally reachable base URL of this instance
# webhook.callback_base = https://etch.example.com

# ============================================================================
# Logging
# ============================================================================

log.level = info
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0644)
}
