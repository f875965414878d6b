package webhook

import (
	"errors"
	"time"
)

// Payload validation errors.
var (
	ErrMissingHash          = errors.New("notification missing transaction hash")
	ErrMissingConfirmations = errors.New("notification missing confirmation count")
	ErrMissingOutputs       = errors.New("notification missing outputs")
)

// Output is one (addresses, value) pair of a notified transaction.
type Output struct {
	Addresses []string `json:"addresses"`
	Value     int64    `json:"value"`
}

// Notification is the payment notification payload posted by the upstream
// monitor: a transaction hash, its confirmation count, and its outputs.
// Confirmations is a pointer so an absent field is distinguishable from
// zero confirmations.
type Notification struct {
	Hash          string     `json:"hash"`
	Confirmations *int64     `json:"confirmations"`
	Confirmed     *time.Time `json:"confirmed,omitempty"`
	Outputs       []Output   `json:"outputs"`
}

// Validate checks the structural requirements. Invalid payloads are
// acknowledged and dropped, never processed.
func (n *Notification) Validate() error {
	if n.Hash == "" {
		return ErrMissingHash
	}
	if n.Confirmations == nil {
		return ErrMissingConfirmations
	}
	if len(n.Outputs) == 0 {
		return ErrMissingOutputs
	}
	return nil
}
