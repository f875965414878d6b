package broadcaster

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/etchlabs/etchd/internal/blockcypher"
	"github.com/etchlabs/etchd/internal/request"
	"github.com/etchlabs/etchd/internal/wallet"
	"github.com/etchlabs/etchd/pkg/btc"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func testAccount(t *testing.T) *wallet.Account {
	t.Helper()
	seed, err := wallet.SeedFromMnemonic(testMnemonic, "")
	if err != nil {
		t.Fatalf("SeedFromMnemonic() error: %v", err)
	}
	acct, err := wallet.NewAccount(seed, btc.TestNet3Params)
	if err != nil {
		t.Fatalf("NewAccount() error: %v", err)
	}
	return acct
}

func testRequest(t *testing.T, acct *wallet.Account) *request.Request {
	t.Helper()
	addr, path, err := acct.ReceiveAddress(0)
	if err != nil {
		t.Fatalf("ReceiveAddress() error: %v", err)
	}
	return &request.Request{
		ID:             "req-1",
		Message:        "hello",
		Index:          0,
		Address:        addr,
		DerivationPath: path,
		Status:         request.StatusPaymentConfirmed,
		CreatedAt:      time.Now().UTC(),
	}
}

// fakeUpstream implements the /txs/new and /txs/send skeleton flow and
// verifies each submitted signature against the claimed pubkey.
type fakeUpstream struct {
	t        *testing.T
	toSign   string
	draft    blockcypher.TXSkeleton
	sendResp blockcypher.TXSkeleton
	newCalls int
}

func (f *fakeUpstream) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/txs/new", func(w http.ResponseWriter, r *http.Request) {
		f.newCalls++
		if err := json.NewDecoder(r.Body).Decode(&f.draft); err != nil {
			f.t.Errorf("decode draft: %v", err)
		}
		skel := f.draft
		skel.ToSign = []string{f.toSign}
		_ = json.NewEncoder(w).Encode(skel)
	})
	mux.HandleFunc("/txs/send", func(w http.ResponseWriter, r *http.Request) {
		var skel blockcypher.TXSkeleton
		if err := json.NewDecoder(r.Body).Decode(&skel); err != nil {
			f.t.Errorf("decode signed skeleton: %v", err)
		}
		if len(skel.Signatures) != 1 || len(skel.PubKeys) != 1 {
			f.t.Errorf("signatures/pubkeys = %d/%d, want 1/1", len(skel.Signatures), len(skel.PubKeys))
		} else {
			f.verify(skel.Signatures[0], skel.PubKeys[0])
		}
		_ = json.NewEncoder(w).Encode(f.sendResp)
	})
	return mux
}

func (f *fakeUpstream) verify(sigHex, pubHex string) {
	f.t.Helper()
	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil {
		f.t.Errorf("signature not hex: %v", err)
		return
	}
	sig, err := ecdsa.ParseDERSignature(sigBytes)
	if err != nil {
		f.t.Errorf("signature not DER: %v", err)
		return
	}
	pubBytes, err := hex.DecodeString(pubHex)
	if err != nil || len(pubBytes) != btc.CompressedPubKeySize {
		f.t.Errorf("pubkey not 33-byte hex: %v", err)
		return
	}
	pub, err := secp256k1.ParsePubKey(pubBytes)
	if err != nil {
		f.t.Errorf("pubkey parse: %v", err)
		return
	}
	hash, _ := hex.DecodeString(f.toSign)
	if !sig.Verify(hash, pub) {
		f.t.Error("signature does not verify against tosign hash")
	}
}

func newFake(t *testing.T) *fakeUpstream {
	hash := sha256.Sum256([]byte("tosign"))
	return &fakeUpstream{
		t:      t,
		toSign: hex.EncodeToString(hash[:]),
		sendResp: blockcypher.TXSkeleton{
			TX: blockcypher.TX{Hash: "feedbead", Hex: "0100beef"},
		},
	}
}

func TestBuildAndBroadcast(t *testing.T) {
	fake := newFake(t)
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	acct := testAccount(t)
	req := testRequest(t, acct)
	b := New(blockcypher.NewClient(srv.URL, "", nil), acct)

	res, err := b.BuildAndBroadcast(context.Background(), req)
	if err != nil {
		t.Fatalf("BuildAndBroadcast() error: %v", err)
	}
	if res.TxID != "feedbead" || res.TxHex != "0100beef" {
		t.Errorf("result = %+v", res)
	}

	// The draft spends from the deposit address and carries the null-data
	// output with the embedded message.
	if len(fake.draft.TX.Inputs) != 1 || fake.draft.TX.Inputs[0].Addresses[0] != req.Address {
		t.Errorf("draft inputs = %+v", fake.draft.TX.Inputs)
	}
	if len(fake.draft.TX.Outputs) != 1 {
		t.Fatalf("draft outputs = %+v", fake.draft.TX.Outputs)
	}
	out := fake.draft.TX.Outputs[0]
	if out.Value != 0 || out.ScriptType != "null-data" {
		t.Errorf("output = %+v", out)
	}
	if out.Script != "6a0568656c6c6f" {
		t.Errorf("script = %q, want 6a0568656c6c6f", out.Script)
	}
	if fake.newCalls != 1 {
		t.Errorf("/txs/new calls = %d, want 1", fake.newCalls)
	}
}

func TestBuildAndBroadcastIncompleteResult(t *testing.T) {
	fake := newFake(t)
	fake.sendResp = blockcypher.TXSkeleton{TX: blockcypher.TX{Hash: "feedbead"}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	acct := testAccount(t)
	b := New(blockcypher.NewClient(srv.URL, "", nil), acct)

	_, err := b.BuildAndBroadcast(context.Background(), testRequest(t, acct))
	if !errors.Is(err, ErrIncompleteResult) {
		t.Errorf("error = %v, want ErrIncompleteResult", err)
	}
}

func TestBuildAndBroadcastUpstreamRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"errors": []map[string]string{{"error": "not enough funds"}},
		})
	}))
	defer srv.Close()

	acct := testAccount(t)
	b := New(blockcypher.NewClient(srv.URL, "", nil), acct)

	_, err := b.BuildAndBroadcast(context.Background(), testRequest(t, acct))
	if err == nil || !strings.Contains(err.Error(), "not enough funds") {
		t.Errorf("error = %v, want upstream rejection", err)
	}
}

func TestBuildAndBroadcastOversizeMessage(t *testing.T) {
	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	acct := testAccount(t)
	req := testRequest(t, acct)
	req.Message = strings.Repeat("x", 81)
	b := New(blockcypher.NewClient(srv.URL, "", nil), acct)

	if _, err := b.BuildAndBroadcast(context.Background(), req); err == nil {
		t.Error("BuildAndBroadcast() succeeded with 81-byte message")
	}
	if called {
		t.Error("upstream contacted for an unbuildable script")
	}
}
