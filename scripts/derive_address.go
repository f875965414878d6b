// derive_address.go prints the deposit address for a mnemonic and index.
// Useful for verifying which key controls a given allocation.
// Usage: ETCHD_MNEMONIC="..." go run scripts/derive_address.go [network] [index]
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/etchlabs/etchd/internal/wallet"
	"github.com/etchlabs/etchd/pkg/btc"
)

func main() {
	mnemonic := strings.TrimSpace(os.Getenv("ETCHD_MNEMONIC"))
	if mnemonic == "" {
		fmt.Fprintln(os.Stderr, "ETCHD_MNEMONIC is not set")
		os.Exit(1)
	}
	if !wallet.ValidateMnemonic(mnemonic) {
		fmt.Fprintln(os.Stderr, "invalid mnemonic")
		os.Exit(1)
	}

	network := "mainnet"
	if len(os.Args) > 1 {
		network = os.Args[1]
	}
	index := uint64(0)
	if len(os.Args) > 2 {
		var err error
		index, err = strconv.ParseUint(os.Args[2], 10, 32)
		if err != nil {
			fmt.Fprintln(os.Stderr, "index must be a non-negative integer")
			os.Exit(1)
		}
	}

	params, err := btc.ParamsForNetwork(network)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	seed, err := wallet.SeedFromMnemonic(mnemonic, "")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	acct, err := wallet.NewAccount(seed, params)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	addr, path, err := acct.ReceiveAddress(uint32(index))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Printf("path:    %s\n", path)
	fmt.Printf("address: %s\n", addr)
}
