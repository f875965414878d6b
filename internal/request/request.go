// Package request defines the persistent message-embedding request and its
// store. A request is created once by the allocator and afterwards mutated
// only through conditional status updates.
package request

import "time"

// Status is the lifecycle state of a request.
//
// Transitions are forward-only:
//
//	pending_payment --partial--> payment_detected
//	pending_payment --full & conf--> payment_confirmed
//	payment_detected --full & conf--> payment_confirmed
//	payment_confirmed --broadcast ok--> op_return_broadcasted
//	payment_confirmed --broadcast fail--> op_return_failed
//	op_return_failed --retried broadcast ok--> op_return_broadcasted
type Status string

const (
	StatusPendingPayment      Status = "pending_payment"
	StatusPaymentDetected     Status = "payment_detected"
	StatusPaymentConfirmed    Status = "payment_confirmed"
	StatusOpReturnBroadcasted Status = "op_return_broadcasted"
	StatusOpReturnFailed      Status = "op_return_failed"
)

// IsTerminal reports whether the automatic pipeline takes no further forward
// action from this status. op_return_failed is terminal for automatic
// processing but can be retried.
func (s Status) IsTerminal() bool {
	return s == StatusOpReturnBroadcasted || s == StatusOpReturnFailed
}

// Message size limits in bytes (OP_RETURN standardness).
const (
	MinMessageLen = 1
	MaxMessageLen = 80
)

// Request is a single message-embedding request. ID, Message, Index,
// Address, DerivationPath, RequiredSatoshis, and CreatedAt are immutable
// after creation.
type Request struct {
	ID               string `json:"id"`
	Message          string `json:"message"`
	Index            uint32 `json:"index"`
	Address          string `json:"address"`
	DerivationPath   string `json:"derivationPath"`
	RequiredSatoshis int64  `json:"requiredAmountSatoshis"`
	Status           Status `json:"status"`

	// Payment evidence, set by the webhook processor.
	PaymentTxID             string     `json:"paymentTxId,omitempty"`
	PaymentReceivedSatoshis int64      `json:"paymentReceivedSatoshis,omitempty"`
	PaymentConfirmations    int64      `json:"paymentConfirmationCount,omitempty"`
	PaymentConfirmedAt      *time.Time `json:"paymentConfirmedAt,omitempty"`

	// Broadcast result, set exactly once on success.
	OpReturnTxID  string `json:"opReturnTxId,omitempty"`
	OpReturnTxHex string `json:"opReturnTxHex,omitempty"`

	// WebhookID is the upstream subscription ID. Empty when registration
	// failed; the request still works via status polling.
	WebhookID string `json:"webhookSubscriptionId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}
