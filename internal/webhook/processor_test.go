package webhook

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/etchlabs/etchd/internal/broadcaster"
	"github.com/etchlabs/etchd/internal/request"
	"github.com/etchlabs/etchd/internal/storage"
)

// stubBroadcaster counts invocations and returns a canned result or error.
type stubBroadcaster struct {
	mu    sync.Mutex
	calls int
	res   *broadcaster.Result
	err   error
	delay time.Duration
}

func (b *stubBroadcaster) BuildAndBroadcast(ctx context.Context, req *request.Request) (*broadcaster.Result, error) {
	b.mu.Lock()
	b.calls++
	res, err, delay := b.res, b.err, b.delay
	b.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (b *stubBroadcaster) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func (b *stubBroadcaster) set(res *broadcaster.Result, err error) {
	b.mu.Lock()
	b.res, b.err = res, err
	b.mu.Unlock()
}

func notification(hash string, confirmations int64, outputs ...Output) *Notification {
	c := confirmations
	return &Notification{Hash: hash, Confirmations: &c, Outputs: outputs}
}

func seedRequest(t *testing.T, s *request.Store, id, addr string, index uint32, status request.Status) *request.Request {
	t.Helper()
	req := &request.Request{
		ID:               id,
		Message:          "hello",
		Index:            index,
		Address:          addr,
		DerivationPath:   "m/84'/0'/0'/0/0",
		RequiredSatoshis: 1000,
		Status:           status,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.Insert(req); err != nil {
		t.Fatalf("Insert(%s) error: %v", id, err)
	}
	return req
}

func TestNotificationValidate(t *testing.T) {
	one := int64(1)
	tests := []struct {
		name string
		n    Notification
		want error
	}{
		{"valid", Notification{Hash: "h1", Confirmations: &one, Outputs: []Output{{Value: 1}}}, nil},
		{"missing hash", Notification{Confirmations: &one, Outputs: []Output{{Value: 1}}}, ErrMissingHash},
		{"missing confirmations", Notification{Hash: "h1", Outputs: []Output{{Value: 1}}}, ErrMissingConfirmations},
		{"missing outputs", Notification{Hash: "h1", Confirmations: &one}, ErrMissingOutputs},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.n.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestProcessFullPayment(t *testing.T) {
	s := request.NewStore(storage.NewMemory())
	bc := &stubBroadcaster{res: &broadcaster.Result{TxID: "t1", TxHex: "ab"}}
	p := NewProcessor(s, bc, 1, time.Second)
	seedRequest(t, s, "req-1", "A0", 0, request.StatusPendingPayment)

	// The paying output sits alongside an unrelated change output.
	n := notification("h1", 1,
		Output{Addresses: []string{"tb1qchange"}, Value: 500},
		Output{Addresses: []string{"A0"}, Value: 1000},
	)
	if err := p.Process(context.Background(), n); err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	req, err := s.GetByID("req-1")
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if req.Status != request.StatusOpReturnBroadcasted {
		t.Errorf("status = %s, want %s", req.Status, request.StatusOpReturnBroadcasted)
	}
	if req.PaymentTxID != "h1" {
		t.Errorf("PaymentTxID = %q, want h1", req.PaymentTxID)
	}
	if req.PaymentReceivedSatoshis != 1000 {
		t.Errorf("PaymentReceivedSatoshis = %d, want 1000", req.PaymentReceivedSatoshis)
	}
	if req.PaymentConfirmations != 1 {
		t.Errorf("PaymentConfirmations = %d, want 1", req.PaymentConfirmations)
	}
	if req.PaymentConfirmedAt == nil {
		t.Error("PaymentConfirmedAt not set")
	}
	if req.OpReturnTxID != "t1" || req.OpReturnTxHex != "ab" {
		t.Errorf("broadcast result = (%q, %q), want (t1, ab)", req.OpReturnTxID, req.OpReturnTxHex)
	}
	if got := bc.callCount(); got != 1 {
		t.Errorf("broadcaster calls = %d, want 1", got)
	}
}

func TestProcessPartialPayment(t *testing.T) {
	s := request.NewStore(storage.NewMemory())
	bc := &stubBroadcaster{}
	p := NewProcessor(s, bc, 1, time.Second)
	seedRequest(t, s, "req-1", "A0", 0, request.StatusPendingPayment)

	n := notification("h1", 1, Output{Addresses: []string{"A0"}, Value: 400})
	if err := p.Process(context.Background(), n); err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	req, _ := s.GetByID("req-1")
	if req.Status != request.StatusPaymentDetected {
		t.Errorf("status = %s, want %s", req.Status, request.StatusPaymentDetected)
	}
	if req.PaymentTxID != "h1" || req.PaymentReceivedSatoshis != 400 {
		t.Errorf("partial evidence = (%q, %d), want (h1, 400)", req.PaymentTxID, req.PaymentReceivedSatoshis)
	}
	if req.PaymentConfirmedAt != nil {
		t.Error("PaymentConfirmedAt set for a partial payment")
	}
	if got := bc.callCount(); got != 0 {
		t.Errorf("broadcaster calls = %d, want 0", got)
	}
}

func TestProcessInsufficientConfirmations(t *testing.T) {
	s := request.NewStore(storage.NewMemory())
	bc := &stubBroadcaster{res: &broadcaster.Result{TxID: "t1", TxHex: "ab"}}
	p := NewProcessor(s, bc, 3, time.Second)
	seedRequest(t, s, "req-1", "A0", 0, request.StatusPendingPayment)

	n := notification("h1", 2, Output{Addresses: []string{"A0"}, Value: 1000})
	if err := p.Process(context.Background(), n); err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	req, _ := s.GetByID("req-1")
	if req.Status != request.StatusPendingPayment {
		t.Errorf("status = %s, want %s", req.Status, request.StatusPendingPayment)
	}
	if got := bc.callCount(); got != 0 {
		t.Errorf("broadcaster calls = %d, want 0", got)
	}

	// Threshold reached on a later notification for the same transaction.
	if err := p.Process(context.Background(), notification("h1", 3, Output{Addresses: []string{"A0"}, Value: 1000})); err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	req, _ = s.GetByID("req-1")
	if req.Status != request.StatusOpReturnBroadcasted {
		t.Errorf("status = %s, want %s", req.Status, request.StatusOpReturnBroadcasted)
	}
}

func TestProcessDuplicateNotifications(t *testing.T) {
	s := request.NewStore(storage.NewMemory())
	bc := &stubBroadcaster{res: &broadcaster.Result{TxID: "t1", TxHex: "ab"}}
	p := NewProcessor(s, bc, 1, time.Second)
	seedRequest(t, s, "req-1", "A0", 0, request.StatusPendingPayment)

	n := notification("h1", 1, Output{Addresses: []string{"A0"}, Value: 1000})
	for i := 0; i < 3; i++ {
		if err := p.Process(context.Background(), n); err != nil {
			t.Fatalf("Process() #%d error: %v", i, err)
		}
	}

	req, _ := s.GetByID("req-1")
	if req.Status != request.StatusOpReturnBroadcasted {
		t.Errorf("status = %s, want %s", req.Status, request.StatusOpReturnBroadcasted)
	}
	if got := bc.callCount(); got != 1 {
		t.Errorf("broadcaster calls = %d, want 1", got)
	}
}

func TestProcessConcurrentNotificationsBroadcastOnce(t *testing.T) {
	s := request.NewStore(storage.NewMemory())
	bc := &stubBroadcaster{res: &broadcaster.Result{TxID: "t1", TxHex: "ab"}, delay: 20 * time.Millisecond}
	p := NewProcessor(s, bc, 1, time.Second)
	seedRequest(t, s, "req-1", "A0", 0, request.StatusPendingPayment)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := notification("h1", 1, Output{Addresses: []string{"A0"}, Value: 1000})
			_ = p.Process(context.Background(), n)
		}()
	}
	wg.Wait()

	req, _ := s.GetByID("req-1")
	if req.Status != request.StatusOpReturnBroadcasted {
		t.Errorf("status = %s, want %s", req.Status, request.StatusOpReturnBroadcasted)
	}
	if got := bc.callCount(); got != 1 {
		t.Errorf("broadcaster calls = %d, want 1", got)
	}
}

func TestProcessBroadcastFailureThenRetry(t *testing.T) {
	s := request.NewStore(storage.NewMemory())
	bc := &stubBroadcaster{err: errors.New("api unavailable")}
	p := NewProcessor(s, bc, 1, time.Second)
	seedRequest(t, s, "req-1", "A0", 0, request.StatusPendingPayment)

	n := notification("h1", 1, Output{Addresses: []string{"A0"}, Value: 1000})
	if err := p.Process(context.Background(), n); err == nil {
		t.Fatal("Process() succeeded, want broadcast error")
	}

	req, _ := s.GetByID("req-1")
	if req.Status != request.StatusOpReturnFailed {
		t.Fatalf("status = %s, want %s", req.Status, request.StatusOpReturnFailed)
	}
	if req.OpReturnTxID != "" {
		t.Errorf("OpReturnTxID = %q after failure, want empty", req.OpReturnTxID)
	}

	// Payment evidence survives the failed attempt.
	if req.PaymentTxID != "h1" || req.PaymentReceivedSatoshis != 1000 {
		t.Errorf("payment evidence lost: (%q, %d)", req.PaymentTxID, req.PaymentReceivedSatoshis)
	}

	bc.set(&broadcaster.Result{TxID: "t2", TxHex: "cd"}, nil)
	if err := p.Retry(context.Background(), "req-1"); err != nil {
		t.Fatalf("Retry() error: %v", err)
	}

	req, _ = s.GetByID("req-1")
	if req.Status != request.StatusOpReturnBroadcasted {
		t.Errorf("status = %s, want %s", req.Status, request.StatusOpReturnBroadcasted)
	}
	if req.OpReturnTxID != "t2" {
		t.Errorf("OpReturnTxID = %q, want t2", req.OpReturnTxID)
	}
	if got := bc.callCount(); got != 2 {
		t.Errorf("broadcaster calls = %d, want 2", got)
	}
}

func TestRetryRejectsNonRetryable(t *testing.T) {
	s := request.NewStore(storage.NewMemory())
	p := NewProcessor(s, &stubBroadcaster{}, 1, time.Second)
	seedRequest(t, s, "req-1", "A0", 0, request.StatusPendingPayment)

	if err := p.Retry(context.Background(), "req-1"); !errors.Is(err, ErrNotRetryable) {
		t.Errorf("Retry(pending) error = %v, want ErrNotRetryable", err)
	}
	if err := p.Retry(context.Background(), "ghost"); !errors.Is(err, request.ErrNotFound) {
		t.Errorf("Retry(ghost) error = %v, want ErrNotFound", err)
	}
}

func TestRetryReDrivesStrandedConfirmed(t *testing.T) {
	s := request.NewStore(storage.NewMemory())
	bc := &stubBroadcaster{res: &broadcaster.Result{TxID: "t1", TxHex: "ab"}}
	p := NewProcessor(s, bc, 1, time.Second)

	// A crash between the confirmation update and the broadcast leaves the
	// request parked in payment_confirmed.
	req := seedRequest(t, s, "req-1", "A0", 0, request.StatusPendingPayment)
	if _, err := s.UpdateStatus(req.ID,
		[]request.Status{request.StatusPendingPayment},
		request.StatusPaymentConfirmed,
		func(r *request.Request) { r.PaymentTxID = "h1"; r.PaymentReceivedSatoshis = 1000 }); err != nil {
		t.Fatalf("UpdateStatus() error: %v", err)
	}

	if err := p.Retry(context.Background(), "req-1"); err != nil {
		t.Fatalf("Retry() error: %v", err)
	}
	got, _ := s.GetByID("req-1")
	if got.Status != request.StatusOpReturnBroadcasted {
		t.Errorf("status = %s, want %s", got.Status, request.StatusOpReturnBroadcasted)
	}
}

func TestProcessReNotificationReDrivesStrandedConfirmed(t *testing.T) {
	s := request.NewStore(storage.NewMemory())
	bc := &stubBroadcaster{res: &broadcaster.Result{TxID: "t1", TxHex: "ab"}}
	p := NewProcessor(s, bc, 1, time.Second)

	req := seedRequest(t, s, "req-1", "A0", 0, request.StatusPendingPayment)
	if _, err := s.UpdateStatus(req.ID,
		[]request.Status{request.StatusPendingPayment},
		request.StatusPaymentConfirmed,
		func(r *request.Request) { r.PaymentTxID = "h1"; r.PaymentReceivedSatoshis = 1000 }); err != nil {
		t.Fatalf("UpdateStatus() error: %v", err)
	}

	// The monitor re-delivers the confirmed-tx event; the confirmation
	// update no-ops but the broadcast still runs.
	n := notification("h1", 2, Output{Addresses: []string{"A0"}, Value: 1000})
	if err := p.Process(context.Background(), n); err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	got, _ := s.GetByID("req-1")
	if got.Status != request.StatusOpReturnBroadcasted {
		t.Errorf("status = %s, want %s", got.Status, request.StatusOpReturnBroadcasted)
	}
	if got := bc.callCount(); got != 1 {
		t.Errorf("broadcaster calls = %d, want 1", got)
	}
}

func TestProcessTerminalRefreshesConfirmations(t *testing.T) {
	s := request.NewStore(storage.NewMemory())
	bc := &stubBroadcaster{res: &broadcaster.Result{TxID: "t1", TxHex: "ab"}}
	p := NewProcessor(s, bc, 1, time.Second)
	seedRequest(t, s, "req-1", "A0", 0, request.StatusPendingPayment)

	if err := p.Process(context.Background(), notification("h1", 1, Output{Addresses: []string{"A0"}, Value: 1000})); err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	// Deeper confirmation of the same payment bumps the count only.
	if err := p.Process(context.Background(), notification("h1", 4, Output{Addresses: []string{"A0"}, Value: 1000})); err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	req, _ := s.GetByID("req-1")
	if req.Status != request.StatusOpReturnBroadcasted {
		t.Errorf("status = %s, want %s", req.Status, request.StatusOpReturnBroadcasted)
	}
	if req.PaymentConfirmations != 4 {
		t.Errorf("PaymentConfirmations = %d, want 4", req.PaymentConfirmations)
	}

	// A different transaction touching the same address changes nothing.
	if err := p.Process(context.Background(), notification("h2", 9, Output{Addresses: []string{"A0"}, Value: 1000})); err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	req, _ = s.GetByID("req-1")
	if req.PaymentConfirmations != 4 || req.PaymentTxID != "h1" {
		t.Errorf("terminal request mutated by unrelated tx: confs=%d txid=%q", req.PaymentConfirmations, req.PaymentTxID)
	}
	if got := bc.callCount(); got != 1 {
		t.Errorf("broadcaster calls = %d, want 1", got)
	}
}

func TestProcessInvalidNotification(t *testing.T) {
	s := request.NewStore(storage.NewMemory())
	bc := &stubBroadcaster{}
	p := NewProcessor(s, bc, 1, time.Second)
	seedRequest(t, s, "req-1", "A0", 0, request.StatusPendingPayment)

	if err := p.Process(context.Background(), &Notification{Hash: "h1"}); !errors.Is(err, ErrMissingConfirmations) {
		t.Errorf("Process() error = %v, want ErrMissingConfirmations", err)
	}
	req, _ := s.GetByID("req-1")
	if req.Status != request.StatusPendingPayment {
		t.Errorf("status = %s, want %s", req.Status, request.StatusPendingPayment)
	}
}

func TestProcessUnknownAddress(t *testing.T) {
	s := request.NewStore(storage.NewMemory())
	bc := &stubBroadcaster{}
	p := NewProcessor(s, bc, 1, time.Second)

	n := notification("h1", 1, Output{Addresses: []string{"tb1qstranger"}, Value: 1000})
	if err := p.Process(context.Background(), n); err != nil {
		t.Errorf("Process() error: %v", err)
	}
	if got := bc.callCount(); got != 0 {
		t.Errorf("broadcaster calls = %d, want 0", got)
	}
}

func TestProcessBroadcastTimeout(t *testing.T) {
	s := request.NewStore(storage.NewMemory())
	bc := &stubBroadcaster{res: &broadcaster.Result{TxID: "t1", TxHex: "ab"}, delay: 200 * time.Millisecond}
	p := NewProcessor(s, bc, 1, 10*time.Millisecond)
	seedRequest(t, s, "req-1", "A0", 0, request.StatusPendingPayment)

	n := notification("h1", 1, Output{Addresses: []string{"A0"}, Value: 1000})
	if err := p.Process(context.Background(), n); err == nil {
		t.Fatal("Process() succeeded, want timeout error")
	}
	req, _ := s.GetByID("req-1")
	if req.Status != request.StatusOpReturnFailed {
		t.Errorf("status = %s, want %s", req.Status, request.StatusOpReturnFailed)
	}
}
