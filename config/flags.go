package config

import (
	"flag"
	"fmt"
	"os"
)

// Flags holds parsed command-line flags.
type Flags struct {
	// Commands
	Help    bool
	Version bool

	// Core
	Network string
	DataDir string
	Config  string

	// API
	APIAddr string
	APIPort int

	// Payment
	RequiredSatoshis int64
	MinConfirmations int64

	// BlockCypher
	Token   string
	BaseURL string

	// Webhook
	CallbackBase string

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	// Explicitly-set bool flags (for true/false overrides).
	SetLogJSON bool
}

// ParseFlags parses command-line flags from args (without the program name).
func ParseFlags(args []string) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet("etchd", flag.ContinueOnError)

	// Commands
	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")

	// Core
	fs.StringVar(&f.Network, "network", "", "Network (mainnet or testnet3)")
	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVar(&f.Config, "config", "", "Config file path (default: <datadir>/etchd.conf)")

	// API
	fs.StringVar(&f.APIAddr, "api.addr", "", "API listen address")
	fs.IntVar(&f.APIPort, "api.port", 0, "API listen port")

	// Payment
	fs.Int64Var(&f.RequiredSatoshis, "payment.required", 0, "Required payment amount in satoshis")
	fs.Int64Var(&f.MinConfirmations, "payment.confirmations", 0, "Required confirmation depth")

	// BlockCypher
	fs.StringVar(&f.Token, "blockcypher.token", "", "BlockCypher API token")
	fs.StringVar(&f.BaseURL, "blockcypher.url", "", "BlockCypher API base URL override")

	// Webhook
	fs.StringVar(&f.CallbackBase, "callback", "", "Externally reachable base URL for webhooks")

	// Logging
	fs.StringVar(&f.LogLevel, "log.level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log.file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log.json", false, "JSON log output")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	fs.Visit(func(fl *flag.Flag) {
		if fl.Name == "log.json" {
			f.SetLogJSON = true
		}
	})

	return f, nil
}

// ApplyFlags overrides cfg with explicitly provided flags.
func ApplyFlags(cfg *Config, f *Flags) {
	if f.Network != "" {
		cfg.Network = NetworkType(f.Network)
	}
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}
	if f.APIAddr != "" {
		cfg.API.Addr = f.APIAddr
	}
	if f.APIPort != 0 {
		cfg.API.Port = f.APIPort
	}
	if f.RequiredSatoshis != 0 {
		cfg.Payment.RequiredSatoshis = f.RequiredSatoshis
	}
	if f.MinConfirmations != 0 {
		cfg.Payment.MinConfirmations = f.MinConfirmations
	}
	if f.Token != "" {
		cfg.BlockCypher.Token = f.Token
	}
	if f.BaseURL != "" {
		cfg.BlockCypher.BaseURL = f.BaseURL
	}
	if f.CallbackBase != "" {
		cfg.Webhook.CallbackBase = f.CallbackBase
	}
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}
}

// Load builds the effective configuration: defaults, then the config file,
// then flag overrides, then validation.
func Load(args []string) (*Config, *Flags, error) {
	f, err := ParseFlags(args)
	if err != nil {
		return nil, nil, err
	}

	network := Mainnet
	if f.Network != "" {
		network = NetworkType(f.Network)
	}
	cfg := Default(network)

	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}
	path := f.Config
	if path == "" {
		path = ConfigFilePath(cfg.DataDir)
	}
	values, err := LoadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, values); err != nil {
		return nil, nil, err
	}

	ApplyFlags(cfg, f)

	if err := Validate(cfg); err != nil {
		return nil, nil, err
	}
	return cfg, f, nil
}

// Usage prints flag usage to stderr.
func Usage() {
	fmt.Fprintln(os.Stderr, "Usage: etchd [flags]")
	fmt.Fprintln(os.Stderr, "Run 'etchd -help' for the full flag list.")
}
