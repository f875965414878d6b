// Package api implements the HTTP API server: public request creation and
// status endpoints, the payment notification receiver, and admin routes.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/etchlabs/etchd/internal/allocator"
	"github.com/etchlabs/etchd/internal/log"
	"github.com/etchlabs/etchd/internal/registrar"
	"github.com/etchlabs/etchd/internal/request"
	"github.com/etchlabs/etchd/internal/webhook"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// HookRegistrar manages upstream payment notification subscriptions.
type HookRegistrar interface {
	Register(ctx context.Context, address string) (string, error)
	Unregister(ctx context.Context, hookID string) error
}

var _ HookRegistrar = (*registrar.Service)(nil)

// Server is the HTTP API server.
type Server struct {
	addr      string
	alloc     *allocator.Allocator
	store     *request.Store
	processor *webhook.Processor
	registrar HookRegistrar
	server    *http.Server
	logger    zerolog.Logger
	ln        net.Listener
}

// New creates the API server and wires up its routes.
func New(addr string, alloc *allocator.Allocator, store *request.Store,
	processor *webhook.Processor, reg HookRegistrar) *Server {

	s := &Server{
		addr:      addr,
		alloc:     alloc,
		store:     store,
		processor: processor,
		registrar: reg,
		logger:    log.API,
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/message-request", s.handleCreateRequest).Methods(http.MethodPost)
	r.HandleFunc("/api/request-status/{id}", s.handleRequestStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/webhook/payment-notification", s.handlePaymentNotification).Methods(http.MethodPost)

	admin := r.PathPrefix("/api/admin").Subrouter()
	admin.HandleFunc("/requests", s.handleAdminList).Methods(http.MethodGet)
	admin.HandleFunc("/requests/{id}", s.handleAdminGet).Methods(http.MethodGet)
	admin.HandleFunc("/requests/{id}", s.handleAdminDelete).Methods(http.MethodDelete)
	admin.HandleFunc("/requests/{id}/retry", s.handleAdminRetry).Methods(http.MethodPost)

	s.server = &http.Server{
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start begins listening and serving in a background goroutine.
// It returns immediately after the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.ln = ln
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("API server listening")

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()

	return nil
}

// Addr returns the listener address (useful when bound to :0).
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
