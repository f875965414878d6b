package wallet

import (
	"fmt"

	"github.com/etchlabs/etchd/pkg/btc"
	"github.com/tyler-smith/go-bip32"
)

// Account holds the BIP-84 account-level key (m/84'/coin'/0') for one
// network and derives per-index deposit addresses from it. Derivation is a
// pure function of the seed and index; an Account is safe for concurrent use
// because bip32 key derivation does not mutate the parent.
type Account struct {
	key    *HDKey
	params btc.Params
}

// NewAccount derives the account-level key m/84'/coin'/0' from a seed.
func NewAccount(seed []byte, params btc.Params) (*Account, error) {
	master, err := NewMasterKey(seed)
	if err != nil {
		return nil, err
	}
	key, err := master.DerivePath(
		PurposeBIP84,
		bip32.FirstHardenedChild+params.CoinType,
		bip32.FirstHardenedChild+0,
	)
	if err != nil {
		return nil, fmt.Errorf("derive account key: %w", err)
	}
	return &Account{key: key, params: params}, nil
}

// Params returns the network parameters this account derives for.
func (a *Account) Params() btc.Params {
	return a.params
}

// ReceiveKey derives the external-chain key at m/84'/coin'/0'/0/index.
func (a *Account) ReceiveKey(index uint32) (*HDKey, error) {
	if index >= bip32.FirstHardenedChild {
		return nil, fmt.Errorf("receive index %d out of non-hardened range", index)
	}
	key, err := a.key.DerivePath(ChangeExternal, index)
	if err != nil {
		return nil, fmt.Errorf("derive receive key %d: %w", index, err)
	}
	return key, nil
}

// ReceiveAddress derives the deposit address and derivation path for an
// index. The same index always yields the same address.
func (a *Account) ReceiveAddress(index uint32) (addr, path string, err error) {
	key, err := a.ReceiveKey(index)
	if err != nil {
		return "", "", err
	}
	addr, err = btc.P2WPKHAddress(a.params.HRP, key.PublicKeyBytes())
	if err != nil {
		return "", "", fmt.Errorf("encode address %d: %w", index, err)
	}
	return addr, a.Path(index), nil
}

// Path renders the full derivation path string for a receive index.
func (a *Account) Path(index uint32) string {
	return fmt.Sprintf("m/84'/%d'/0'/%d/%d", a.params.CoinType, ChangeExternal, index)
}
