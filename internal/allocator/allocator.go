// Package allocator serializes deposit-address allocation through a single
// worker so that no two requests can ever obtain the same allocation index
// or address.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/etchlabs/etchd/internal/log"
	"github.com/etchlabs/etchd/internal/request"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tyler-smith/go-bip32"
)

// Allocator errors.
var (
	ErrClosed         = errors.New("allocator closed")
	ErrInvalidMessage = errors.New("message must be 1-80 bytes")
	ErrIndexExhausted = errors.New("allocation index space exhausted")
)

// AddressDeriver derives the deposit address for an allocation index.
// Must be a pure function of the index (no randomness).
type AddressDeriver interface {
	ReceiveAddress(index uint32) (addr, path string, err error)
}

// Allocation is the caller-visible result of a successful allocation.
type Allocation struct {
	ID               string
	Address          string
	DerivationPath   string
	Index            uint32
	RequiredSatoshis int64
}

type result struct {
	alloc *Allocation
	err   error
}

type job struct {
	message string
	reply   chan result
}

// Allocator owns the max-index-read + derive + insert critical section.
// Any number of producers enqueue jobs; one worker drains them in order.
// This is deliberately a bottleneck of one in exchange for a trivial
// uniqueness argument.
type Allocator struct {
	store    *request.Store
	deriver  AddressDeriver
	required int64

	// next is the worker's index cursor. Owned exclusively by the worker
	// goroutine after Start. A failed allocation burns its index (the
	// cursor still advances), trading a permanent gap for never risking
	// reuse.
	next uint32

	jobs   chan job
	quit   chan struct{}
	done   chan struct{}
	logger zerolog.Logger
}

// New creates an allocator. Call Start before Allocate.
func New(store *request.Store, deriver AddressDeriver, requiredSatoshis int64) *Allocator {
	return &Allocator{
		store:    store,
		deriver:  deriver,
		required: requiredSatoshis,
		jobs:     make(chan job, 64),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		logger:   log.Alloc,
	}
}

// Start reads the persisted high-water index and launches the worker.
func (a *Allocator) Start() error {
	max, err := a.store.MaxIndex()
	if err != nil {
		return fmt.Errorf("read max index: %w", err)
	}
	a.next = uint32(max + 1)
	a.logger.Info().Int64("max_index", max).Msg("allocator started")

	go a.run()
	return nil
}

// Stop shuts the worker down. In-flight Allocate calls fail with ErrClosed.
func (a *Allocator) Stop() {
	close(a.quit)
	<-a.done
}

// Allocate validates the message, enqueues an allocation job, and waits for
// the worker to complete it. Concurrent callers are serialized by the
// worker; the returned indexes are strictly increasing across successes.
func (a *Allocator) Allocate(ctx context.Context, message string) (*Allocation, error) {
	if len(message) < request.MinMessageLen || len(message) > request.MaxMessageLen {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidMessage, len(message))
	}

	j := job{message: message, reply: make(chan result, 1)}
	select {
	case a.jobs <- j:
	case <-a.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-j.reply:
		return res.alloc, res.err
	case <-a.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *Allocator) run() {
	defer close(a.done)
	for {
		select {
		case j := <-a.jobs:
			j.reply <- a.process(j.message)
		case <-a.quit:
			return
		}
	}
}

// process performs one allocation. It runs only on the worker goroutine, so
// the read-derive-insert sequence cannot interleave with another allocation.
func (a *Allocator) process(message string) result {
	if a.next >= bip32.FirstHardenedChild {
		return result{err: ErrIndexExhausted}
	}
	index := a.next
	a.next++ // Advance unconditionally: failures below burn this index.

	addr, path, err := a.deriver.ReceiveAddress(index)
	if err != nil {
		a.logger.Error().Err(err).Uint32("index", index).Msg("address derivation failed, index burned")
		return result{err: fmt.Errorf("derive address at %d: %w", index, err)}
	}

	req := &request.Request{
		ID:               uuid.NewString(),
		Message:          message,
		Index:            index,
		Address:          addr,
		DerivationPath:   path,
		RequiredSatoshis: a.required,
		Status:           request.StatusPendingPayment,
		CreatedAt:        time.Now().UTC(),
	}

	if err := a.store.Insert(req); err != nil {
		// A uniqueness violation here means something outside this queue
		// wrote to the store; surface it, never retry with a new index.
		a.logger.Error().Err(err).Uint32("index", index).Msg("request insert failed")
		return result{err: fmt.Errorf("insert request at %d: %w", index, err)}
	}

	a.logger.Info().
		Str("request_id", req.ID).
		Str("address", addr).
		Uint32("index", index).
		Msg("request allocated")

	return result{alloc: &Allocation{
		ID:               req.ID,
		Address:          addr,
		DerivationPath:   path,
		Index:            index,
		RequiredSatoshis: a.required,
	}}
}
