package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/etchlabs/etchd/internal/allocator"
	"github.com/etchlabs/etchd/internal/request"
	"github.com/etchlabs/etchd/internal/webhook"
)

// registerTimeout bounds the background webhook registration that follows
// request creation.
const registerTimeout = 30 * time.Second

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type createRequestBody struct {
	Message string `json:"message"`
}

type createRequestResponse struct {
	RequestID              string `json:"requestId"`
	Address                string `json:"address"`
	RequiredAmountSatoshis int64  `json:"requiredAmountSatoshis"`
	Message                string `json:"message"`
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	alloc, err := s.alloc.Allocate(r.Context(), body.Message)
	if err != nil {
		switch {
		case errors.Is(err, allocator.ErrInvalidMessage):
			writeError(w, http.StatusBadRequest, "Message is required and must be under 80 bytes.")
		case errors.Is(err, allocator.ErrClosed):
			writeError(w, http.StatusServiceUnavailable, "service is shutting down")
		default:
			s.logger.Error().Err(err).Msg("Request allocation failed")
			writeError(w, http.StatusInternalServerError, "Failed to process message request.")
		}
		return
	}

	// Subscribe to payment notifications off the request path. Failure is
	// tolerated; the request still progresses via status polling.
	go s.registerHook(alloc.ID, alloc.Address)

	writeJSON(w, http.StatusCreated, createRequestResponse{
		RequestID:              alloc.ID,
		Address:                alloc.Address,
		RequiredAmountSatoshis: alloc.RequiredSatoshis,
		Message:                "Send the specified amount to the address to embed your message.",
	})
}

func (s *Server) registerHook(id, address string) {
	ctx, cancel := context.WithTimeout(context.Background(), registerTimeout)
	defer cancel()

	hookID, err := s.registrar.Register(ctx, address)
	if err != nil {
		s.logger.Error().Err(err).Str("request_id", id).Msg("Webhook registration failed")
		return
	}
	if hookID == "" {
		return
	}
	if err := s.store.SetWebhookID(id, hookID); err != nil {
		s.logger.Error().Err(err).Str("request_id", id).Str("hook_id", hookID).
			Msg("Failed to record webhook subscription")
	}
}

func (s *Server) handleRequestStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	req, err := s.store.GetByID(id)
	if err != nil {
		if errors.Is(err, request.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Request not found")
			return
		}
		s.logger.Error().Err(err).Str("request_id", id).Msg("Status lookup failed")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve request status")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// handlePaymentNotification receives confirmed-tx events from the upstream
// monitor. Valid payloads are always acknowledged with 200 regardless of the
// processing outcome, so the monitor does not retry deliveries that were
// handled but resulted in no transition.
func (s *Server) handlePaymentNotification(w http.ResponseWriter, r *http.Request) {
	var n webhook.Notification
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(&n); err != nil {
		writeError(w, http.StatusBadRequest, "invalid notification body")
		return
	}

	if err := n.Validate(); err != nil {
		// Acknowledged so the sender does not redeliver a payload that can
		// never become processable.
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "Webhook received but payload invalid/incomplete",
		})
		return
	}

	if err := s.processor.Process(r.Context(), &n); err != nil {
		s.logger.Error().Err(err).Str("tx_hash", n.Hash).Msg("Notification processing failed")
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Webhook processed"})
}

type adminListResponse struct {
	Message string             `json:"message"`
	Data    []*request.Request `json:"data"`
}

func (s *Server) handleAdminList(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.store.List()
	if err != nil {
		s.logger.Error().Err(err).Msg("Admin list failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, adminListResponse{Message: "success", Data: reqs})
}

func (s *Server) handleAdminGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	req, err := s.store.GetByID(id)
	if err != nil {
		if errors.Is(err, request.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Request not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "success", "data": req})
}

func (s *Server) handleAdminDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	req, err := s.store.GetByID(id)
	if err != nil {
		if errors.Is(err, request.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Request not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if req.WebhookID != "" {
		ctx, cancel := context.WithTimeout(r.Context(), registerTimeout)
		defer cancel()
		if err := s.registrar.Unregister(ctx, req.WebhookID); err != nil {
			s.logger.Warn().Err(err).Str("request_id", id).Str("hook_id", req.WebhookID).
				Msg("Failed to unregister webhook, deleting request anyway")
		}
	}

	if err := s.store.Delete(id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "deleted", "changes": 1})
}

func (s *Server) handleAdminRetry(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.processor.Retry(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, request.ErrNotFound):
			writeError(w, http.StatusNotFound, "Request not found")
		case errors.Is(err, webhook.ErrNotRetryable):
			writeError(w, http.StatusConflict, err.Error())
		default:
			s.logger.Error().Err(err).Str("request_id", id).Msg("Retry failed")
			writeError(w, http.StatusInternalServerError, "Retry attempt failed")
		}
		return
	}

	req, err := s.store.GetByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "success", "data": req})
}
