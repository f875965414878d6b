// Package btc provides the small set of Bitcoin primitives etchd needs:
// HASH160, SegWit (bech32) address encoding, and null-data script construction.
package btc

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/ripemd160"
)

// Human-readable parts for SegWit addresses.
const (
	MainnetHRP = "bc"
	TestnetHRP = "tb"
)

// CompressedPubKeySize is the length of a compressed secp256k1 public key.
const CompressedPubKeySize = 33

// Hash160 computes RIPEMD160(SHA256(data)), the standard Bitcoin
// public-key-hash digest.
func Hash160(data []byte) []byte {
	sha := sha256.Sum256(data)
	rmd := ripemd160.New()
	rmd.Write(sha[:])
	return rmd.Sum(nil)
}

// P2WPKHAddress derives the native SegWit (witness v0) address for a
// compressed public key.
func P2WPKHAddress(hrp string, compressedPubKey []byte) (string, error) {
	if len(compressedPubKey) != CompressedPubKeySize {
		return "", fmt.Errorf("pubkey must be %d bytes, got %d", CompressedPubKeySize, len(compressedPubKey))
	}
	if compressedPubKey[0] != 0x02 && compressedPubKey[0] != 0x03 {
		return "", fmt.Errorf("pubkey is not compressed (prefix 0x%02x)", compressedPubKey[0])
	}
	return SegWitEncode(hrp, 0, Hash160(compressedPubKey))
}
