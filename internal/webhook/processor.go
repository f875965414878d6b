package webhook

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/etchlabs/etchd/internal/broadcaster"
	"github.com/etchlabs/etchd/internal/log"
	"github.com/etchlabs/etchd/internal/request"
)

// ErrNotRetryable is returned by Retry when the request is not in a state
// that permits re-driving the OP_RETURN broadcast.
var ErrNotRetryable = errors.New("request is not in a retryable state")

// Broadcaster builds, signs and sends the OP_RETURN transaction for a
// confirmed request.
type Broadcaster interface {
	BuildAndBroadcast(ctx context.Context, req *request.Request) (*broadcaster.Result, error)
}

var _ Broadcaster = (*broadcaster.BlockCypher)(nil)

// Processor drives the payment confirmation state machine. Notifications
// for the same transaction may arrive concurrently and repeatedly; the
// processor relies on conditional store updates plus a per-request
// in-flight guard so that each request broadcasts its OP_RETURN at most
// once.
type Processor struct {
	store            *request.Store
	bc               Broadcaster
	minConfirmations int64
	broadcastTimeout time.Duration
	logger           zerolog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewProcessor returns a Processor. minConfirmations is the confirmation
// threshold a matching payment must reach; broadcastTimeout bounds a single
// build-and-broadcast attempt.
func NewProcessor(store *request.Store, bc Broadcaster, minConfirmations int64, broadcastTimeout time.Duration) *Processor {
	if minConfirmations < 1 {
		minConfirmations = 1
	}
	if broadcastTimeout <= 0 {
		broadcastTimeout = 60 * time.Second
	}
	return &Processor{
		store:            store,
		bc:               bc,
		minConfirmations: minConfirmations,
		broadcastTimeout: broadcastTimeout,
		logger:           log.Webhook,
		inFlight:         make(map[string]struct{}),
	}
}

// Process handles one payment notification. It scans the transaction
// outputs for addresses belonging to known requests, applies the matching
// state transition, and, when a request reaches payment_confirmed, drives
// the OP_RETURN broadcast. At most one request is carried to the broadcast
// step per invocation.
func (p *Processor) Process(ctx context.Context, n *Notification) error {
	if err := n.Validate(); err != nil {
		p.logger.Warn().Err(err).Msg("Dropping invalid payment notification")
		return err
	}

	p.logger.Info().
		Str("tx_hash", n.Hash).
		Int64("confirmations", *n.Confirmations).
		Int("outputs", len(n.Outputs)).
		Msg("Processing payment notification")

	candidateID := p.matchOutputs(n)
	if candidateID == "" {
		return nil
	}
	return p.drive(ctx, candidateID, []request.Status{request.StatusPaymentConfirmed})
}

// matchOutputs walks the notification outputs and applies confirmation
// transitions. It returns the ID of the request selected for the broadcast
// step, or "" when no request reached payment_confirmed. Selection stops at
// the first fully paid match; the request is selected even when its own
// conditional update raced, so a crash-stranded payment_confirmed row is
// still re-driven by the next notification.
func (p *Processor) matchOutputs(n *Notification) string {
	confirmations := *n.Confirmations

	for _, out := range n.Outputs {
		for _, addr := range out.Addresses {
			req, err := p.store.GetByAddress(addr)
			if err != nil {
				if !errors.Is(err, request.ErrNotFound) {
					p.logger.Error().Err(err).Str("address", addr).Msg("Address lookup failed")
				}
				continue
			}

			reqLog := log.WithRequestID(p.logger, req.ID)

			switch {
			case req.Status.IsTerminal():
				p.refreshConfirmations(req, n)

			case confirmations >= p.minConfirmations && out.Value >= req.RequiredSatoshis:
				applied, err := p.store.UpdateStatus(req.ID,
					[]request.Status{request.StatusPendingPayment, request.StatusPaymentDetected},
					request.StatusPaymentConfirmed,
					func(r *request.Request) {
						r.PaymentTxID = n.Hash
						r.PaymentReceivedSatoshis = out.Value
						r.PaymentConfirmations = confirmations
						now := time.Now().UTC()
						r.PaymentConfirmedAt = &now
					})
				if err != nil {
					reqLog.Error().Err(err).Msg("Failed to record payment confirmation")
					continue
				}
				if applied {
					reqLog.Info().
						Str("tx_hash", n.Hash).
						Int64("amount", out.Value).
						Msg("Payment confirmed")
				} else {
					reqLog.Debug().Str("tx_hash", n.Hash).Msg("Confirmation already recorded, re-checking broadcast")
				}
				return req.ID

			case out.Value > 0 && out.Value < req.RequiredSatoshis:
				applied, err := p.store.UpdateStatus(req.ID,
					[]request.Status{request.StatusPendingPayment},
					request.StatusPaymentDetected,
					func(r *request.Request) {
						r.PaymentTxID = n.Hash
						r.PaymentReceivedSatoshis = out.Value
						r.PaymentConfirmations = confirmations
					})
				if err != nil {
					reqLog.Error().Err(err).Msg("Failed to record partial payment")
				} else if applied {
					reqLog.Info().
						Str("tx_hash", n.Hash).
						Int64("amount", out.Value).
						Int64("required", req.RequiredSatoshis).
						Msg("Partial payment detected")
				}

			default:
				reqLog.Debug().
					Int64("confirmations", confirmations).
					Int64("amount", out.Value).
					Msg("Payment not yet confirmed")
			}
		}
	}
	return ""
}

// refreshConfirmations bumps the recorded confirmation count of a request
// that already reached a terminal state. Only a strictly higher count for
// the same payment transaction is applied; nothing else about the request
// changes.
func (p *Processor) refreshConfirmations(req *request.Request, n *Notification) {
	confirmations := *n.Confirmations
	if req.PaymentTxID != n.Hash || confirmations <= req.PaymentConfirmations {
		return
	}
	_, err := p.store.UpdateStatus(req.ID,
		[]request.Status{req.Status},
		req.Status,
		func(r *request.Request) {
			if r.PaymentTxID == n.Hash && confirmations > r.PaymentConfirmations {
				r.PaymentConfirmations = confirmations
			}
		})
	if err != nil {
		p.logger.Error().Err(err).Str("request_id", req.ID).Msg("Failed to refresh confirmation count")
	}
}

// Retry re-drives the OP_RETURN broadcast for a request whose previous
// attempt failed, or that was stranded in payment_confirmed by a crash.
func (p *Processor) Retry(ctx context.Context, id string) error {
	req, err := p.store.GetByID(id)
	if err != nil {
		return err
	}
	switch req.Status {
	case request.StatusOpReturnFailed, request.StatusPaymentConfirmed:
	default:
		return fmt.Errorf("%w: status is %s", ErrNotRetryable, req.Status)
	}
	return p.drive(ctx, id, []request.Status{request.StatusPaymentConfirmed, request.StatusOpReturnFailed})
}

// drive performs the guarded broadcast step: acquire the per-request
// in-flight slot, re-read the authoritative status, and only then build and
// send the OP_RETURN transaction. The fresh read happens after the guard is
// held so no two attempts for the same request can both observe a
// broadcastable status.
func (p *Processor) drive(ctx context.Context, id string, from []request.Status) error {
	if !p.tryAcquire(id) {
		p.logger.Debug().Str("request_id", id).Msg("Broadcast already in flight, skipping")
		return nil
	}
	defer p.release(id)

	fresh, err := p.store.GetByID(id)
	if err != nil {
		p.logger.Error().Err(err).Str("request_id", id).Msg("Fresh read before broadcast failed")
		return err
	}
	if !statusIn(fresh.Status, from) {
		p.logger.Debug().
			Str("request_id", id).
			Str("status", string(fresh.Status)).
			Msg("Request no longer broadcastable, skipping")
		return nil
	}

	reqLog := log.WithRequestID(p.logger, id)
	reqLog.Info().Uint32("index", fresh.Index).Msg("Broadcasting OP_RETURN transaction")

	bctx, cancel := context.WithTimeout(ctx, p.broadcastTimeout)
	defer cancel()

	res, err := p.bc.BuildAndBroadcast(bctx, fresh)
	if err != nil {
		reqLog.Error().Err(err).Msg("OP_RETURN broadcast failed")
		applied, uerr := p.store.UpdateStatus(id,
			[]request.Status{request.StatusPaymentConfirmed},
			request.StatusOpReturnFailed, nil)
		if uerr != nil {
			reqLog.Error().Err(uerr).Msg("Failed to record broadcast failure")
		} else if !applied {
			reqLog.Debug().Msg("Broadcast failure not recorded, request moved on")
		}
		return err
	}

	applied, uerr := p.store.UpdateStatus(id,
		[]request.Status{request.StatusPaymentConfirmed, request.StatusOpReturnFailed},
		request.StatusOpReturnBroadcasted,
		func(r *request.Request) {
			r.OpReturnTxID = res.TxID
			r.OpReturnTxHex = res.TxHex
		})
	if uerr != nil {
		reqLog.Error().Err(uerr).Str("op_return_txid", res.TxID).Msg("Failed to record broadcast result")
		return uerr
	}
	if applied {
		reqLog.Info().Str("op_return_txid", res.TxID).Msg("OP_RETURN transaction broadcasted")
	}
	return nil
}

func (p *Processor) tryAcquire(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inFlight[id]; busy {
		return false
	}
	p.inFlight[id] = struct{}{}
	return true
}

func (p *Processor) release(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, id)
}

func statusIn(s request.Status, set []request.Status) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}
