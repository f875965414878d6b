// etchd daemon: accepts message-embedding requests, watches for payments,
// and broadcasts OP_RETURN transactions once payment confirms.
//
// Usage:
//
//	etchd [flags]    Run the service
//	etchd --help     Show help
//
// The wallet mnemonic is read from the ETCHD_MNEMONIC environment variable,
// or prompted for interactively when running in a terminal.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/etchlabs/etchd/config"
	"github.com/etchlabs/etchd/internal/app"
	"github.com/etchlabs/etchd/internal/log"
)

const version = "0.1.0"

func main() {
	cfg, flags, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if flags.Help {
		config.Usage()
		return
	}
	if flags.Version {
		fmt.Println("etchd", version)
		return
	}

	if err := log.Init(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	mnemonic, err := readMnemonic()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	a, err := app.New(cfg, mnemonic)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := a.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		a.Stop()
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	a.Stop()
}

// readMnemonic fetches the wallet mnemonic from the environment or, failing
// that, prompts without echo on the terminal.
func readMnemonic() (string, error) {
	if m := strings.TrimSpace(os.Getenv("ETCHD_MNEMONIC")); m != "" {
		return m, nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("ETCHD_MNEMONIC is not set and stdin is not a terminal")
	}

	fmt.Fprint(os.Stderr, "Wallet mnemonic: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read mnemonic: %w", err)
	}
	m := strings.TrimSpace(string(raw))
	if m == "" {
		return "", fmt.Errorf("empty mnemonic")
	}
	return m, nil
}
