package config

// DefaultMainnet returns the default configuration for mainnet.
func DefaultMainnet() *Config {
	return &Config{
		Network: Mainnet,
		DataDir: DefaultDataDir(),
		API: APIConfig{
			Addr: "127.0.0.1",
			Port: 3000,
		},
		Payment: PaymentConfig{
			RequiredSatoshis: 10000,
			MinConfirmations: 1,
		},
		Broadcast: BroadcastConfig{
			TimeoutSeconds: 60,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// DefaultTestnet returns the default configuration for testnet3.
func DefaultTestnet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Testnet
	cfg.Payment.RequiredSatoshis = 1000
	return cfg
}

// Default returns the default configuration for the given network.
func Default(network NetworkType) *Config {
	switch network {
	case Testnet:
		return DefaultTestnet()
	default:
		return DefaultMainnet()
	}
}
