package config

import "fmt"

// Validate checks runtime config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Network != Mainnet && cfg.Network != Testnet {
		return fmt.Errorf("network must be %q or %q", Mainnet, Testnet)
	}
	if cfg.API.Port < 0 || cfg.API.Port > 65535 {
		return fmt.Errorf("api.port must be in range [0, 65535]")
	}
	if cfg.Payment.RequiredSatoshis <= 0 {
		return fmt.Errorf("payment.required_satoshis must be positive")
	}
	if cfg.Payment.MinConfirmations < 1 {
		return fmt.Errorf("payment.min_confirmations must be at least 1")
	}
	if cfg.Broadcast.TimeoutSeconds <= 0 {
		return fmt.Errorf("broadcast.timeout_seconds must be positive")
	}
	return nil
}
