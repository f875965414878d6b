// Package broadcaster builds, signs, and broadcasts the message-embedding
// transaction for a confirmed request.
package broadcaster

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/etchlabs/etchd/internal/blockcypher"
	"github.com/etchlabs/etchd/internal/log"
	"github.com/etchlabs/etchd/internal/request"
	"github.com/etchlabs/etchd/internal/wallet"
	"github.com/etchlabs/etchd/pkg/btc"
	"github.com/rs/zerolog"
)

// ErrIncompleteResult means the upstream accepted the transaction but the
// response lacked the fields a success must carry (tx id and raw hex).
var ErrIncompleteResult = errors.New("broadcast result missing tx id or hex")

// Result is a successful broadcast: the embedding transaction's id and its
// signed raw encoding.
type Result struct {
	TxID  string
	TxHex string
}

// BlockCypher broadcasts OP_RETURN transactions through the BlockCypher
// skeleton flow, signing locally with the request's derived deposit key.
// UTXO selection and fee policy stay upstream.
type BlockCypher struct {
	client  *blockcypher.Client
	account *wallet.Account
	logger  zerolog.Logger
}

// New creates a BlockCypher-backed broadcaster.
func New(client *blockcypher.Client, account *wallet.Account) *BlockCypher {
	return &BlockCypher{
		client:  client,
		account: account,
		logger:  log.Broadcast,
	}
}

// BuildAndBroadcast builds the null-data transaction spending from the
// request's deposit address, signs it, and broadcasts it. The caller bounds
// the whole operation through ctx.
func (b *BlockCypher) BuildAndBroadcast(ctx context.Context, req *request.Request) (*Result, error) {
	key, err := b.account.ReceiveKey(req.Index)
	if err != nil {
		return nil, fmt.Errorf("derive key for %s: %w", req.ID, err)
	}
	signer, err := key.Signer()
	if err != nil {
		return nil, fmt.Errorf("signer for %s: %w", req.ID, err)
	}

	script, err := btc.NullDataScript([]byte(req.Message))
	if err != nil {
		return nil, fmt.Errorf("null-data script for %s: %w", req.ID, err)
	}

	draft := &blockcypher.TXSkeleton{
		TX: blockcypher.TX{
			Inputs: []blockcypher.TXInput{{Addresses: []string{req.Address}}},
			Outputs: []blockcypher.TXOutput{{
				Value:      0,
				ScriptType: "null-data",
				Script:     hex.EncodeToString(script),
			}},
		},
	}

	skel, err := b.client.NewTX(ctx, draft)
	if err != nil {
		return nil, fmt.Errorf("build tx for %s: %w", req.ID, err)
	}
	if len(skel.ToSign) == 0 {
		return nil, fmt.Errorf("build tx for %s: no signing hashes returned", req.ID)
	}

	pubHex := hex.EncodeToString(signer.PubKey().SerializeCompressed())
	skel.Signatures = make([]string, 0, len(skel.ToSign))
	skel.PubKeys = make([]string, 0, len(skel.ToSign))
	for i, toSign := range skel.ToSign {
		hash, err := hex.DecodeString(toSign)
		if err != nil {
			return nil, fmt.Errorf("decode tosign %d for %s: %w", i, req.ID, err)
		}
		sig := ecdsa.Sign(signer, hash)
		skel.Signatures = append(skel.Signatures, hex.EncodeToString(sig.Serialize()))
		skel.PubKeys = append(skel.PubKeys, pubHex)
	}

	final, err := b.client.SendTX(ctx, skel)
	if err != nil {
		return nil, fmt.Errorf("send tx for %s: %w", req.ID, err)
	}
	if final.TX.Hash == "" || final.TX.Hex == "" {
		return nil, fmt.Errorf("%w (request %s)", ErrIncompleteResult, req.ID)
	}

	b.logger.Info().
		Str("request_id", req.ID).
		Str("tx_id", final.TX.Hash).
		Int("message_bytes", len(req.Message)).
		Msg("op_return transaction broadcast")

	return &Result{TxID: final.TX.Hash, TxHex: final.TX.Hex}, nil
}
