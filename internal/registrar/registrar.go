// Package registrar registers payment-notification webhooks with the
// upstream monitor. Registration is best-effort: a failure never fails the
// allocation that triggered it, because a request remains fully usable
// through status polling.
package registrar

import (
	"context"
	"fmt"

	"github.com/etchlabs/etchd/internal/blockcypher"
	"github.com/etchlabs/etchd/internal/log"
	"github.com/rs/zerolog"
)

// Service registers one-shot confirmed-tx subscriptions via BlockCypher.
type Service struct {
	client      *blockcypher.Client
	callbackURL string
	logger      zerolog.Logger
}

// New creates a registrar. callbackURL is the full public URL of the
// inbound notification endpoint.
func New(client *blockcypher.Client, callbackURL string) *Service {
	return &Service{
		client:      client,
		callbackURL: callbackURL,
		logger:      log.Registrar,
	}
}

// Register subscribes the upstream monitor to an address. Returns the
// subscription ID, or empty without error when registration is skipped
// (missing token or callback URL).
func (s *Service) Register(ctx context.Context, address string) (string, error) {
	if !s.client.HasToken() {
		s.logger.Warn().Str("address", address).Msg("no api token, skipping webhook registration")
		return "", nil
	}
	if s.callbackURL == "" {
		s.logger.Warn().Str("address", address).Msg("no callback url, skipping webhook registration")
		return "", nil
	}

	id, err := s.client.CreateHook(ctx, address, s.callbackURL)
	if err != nil {
		return "", fmt.Errorf("register webhook for %s: %w", address, err)
	}
	s.logger.Info().Str("address", address).Str("hook_id", id).Msg("webhook registered")
	return id, nil
}

// Unregister removes a subscription. Used on administrative request
// deletion; failures are the caller's to log and ignore.
func (s *Service) Unregister(ctx context.Context, hookID string) error {
	if hookID == "" || !s.client.HasToken() {
		return nil
	}
	if err := s.client.DeleteHook(ctx, hookID); err != nil {
		return fmt.Errorf("delete webhook %s: %w", hookID, err)
	}
	return nil
}
