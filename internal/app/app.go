// Package app wires the etchd components together: wallet, storage,
// allocator, webhook processor, and the API server.
package app

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/etchlabs/etchd/config"
	"github.com/etchlabs/etchd/internal/allocator"
	"github.com/etchlabs/etchd/internal/api"
	"github.com/etchlabs/etchd/internal/blockcypher"
	"github.com/etchlabs/etchd/internal/broadcaster"
	"github.com/etchlabs/etchd/internal/log"
	"github.com/etchlabs/etchd/internal/registrar"
	"github.com/etchlabs/etchd/internal/request"
	"github.com/etchlabs/etchd/internal/storage"
	"github.com/etchlabs/etchd/internal/wallet"
	"github.com/etchlabs/etchd/internal/webhook"
	"github.com/etchlabs/etchd/pkg/btc"
)

// App is a fully wired etchd instance.
type App struct {
	cfg    *config.Config
	db     storage.DB
	store  *request.Store
	alloc  *allocator.Allocator
	server *api.Server
	logger zerolog.Logger
}

// New builds an App from the configuration and wallet mnemonic. The
// mnemonic never touches disk; losing it means losing the ability to spend
// from allocated deposit addresses.
func New(cfg *config.Config, mnemonic string) (*App, error) {
	if !wallet.ValidateMnemonic(mnemonic) {
		return nil, fmt.Errorf("invalid BIP-39 mnemonic")
	}
	seed, err := wallet.SeedFromMnemonic(mnemonic, cfg.Wallet.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("derive seed: %w", err)
	}

	params, err := btc.ParamsForNetwork(string(cfg.Network))
	if err != nil {
		return nil, err
	}
	account, err := wallet.NewAccount(seed, params)
	if err != nil {
		return nil, fmt.Errorf("derive account: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := config.WriteDefaultConfigFile(config.ConfigFilePath(cfg.DataDir), cfg.Network); err != nil {
		return nil, fmt.Errorf("write sample config: %w", err)
	}

	db, err := storage.NewBadger(filepath.Join(cfg.DataDir, "db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	store := request.NewStore(db)

	alloc := allocator.New(store, account, cfg.Payment.RequiredSatoshis)

	baseURL := cfg.BlockCypher.BaseURL
	if baseURL == "" {
		baseURL = blockcypher.BaseURL(params)
	}
	client := blockcypher.NewClient(baseURL, cfg.BlockCypher.Token, nil)

	reg := registrar.New(client, cfg.CallbackURL())
	bc := broadcaster.New(client, account)
	proc := webhook.NewProcessor(store, bc,
		cfg.Payment.MinConfirmations,
		time.Duration(cfg.Broadcast.TimeoutSeconds)*time.Second)

	addr := net.JoinHostPort(cfg.API.Addr, strconv.Itoa(cfg.API.Port))
	server := api.New(addr, alloc, store, proc, reg)

	return &App{
		cfg:    cfg,
		db:     db,
		store:  store,
		alloc:  alloc,
		server: server,
		logger: log.WithComponent("app"),
	}, nil
}

// Start brings up the allocator worker and the API server.
func (a *App) Start() error {
	if err := a.alloc.Start(); err != nil {
		return err
	}
	if err := a.server.Start(); err != nil {
		a.alloc.Stop()
		return err
	}
	a.logger.Info().
		Str("network", string(a.cfg.Network)).
		Str("addr", a.server.Addr()).
		Msg("etchd started")
	return nil
}

// Addr returns the bound API address.
func (a *App) Addr() string {
	return a.server.Addr()
}

// Stop shuts everything down in reverse start order.
func (a *App) Stop() {
	if err := a.server.Stop(); err != nil {
		a.logger.Error().Err(err).Msg("API server shutdown error")
	}
	a.alloc.Stop()
	if err := a.db.Close(); err != nil {
		a.logger.Error().Err(err).Msg("Database close error")
	}
	a.logger.Info().Msg("etchd stopped")
}
