package btc

import "fmt"

// Params bundles the per-network constants etchd cares about: the bech32
// HRP, the BIP-44 coin type, and the BlockCypher chain segment.
type Params struct {
	Name     string
	HRP      string
	CoinType uint32
	// BlockCypherChain is the chain path segment in BlockCypher URLs.
	BlockCypherChain string
}

// MainNetParams is the Bitcoin mainnet parameter set.
var MainNetParams = Params{
	Name:             "mainnet",
	HRP:              MainnetHRP,
	CoinType:         0,
	BlockCypherChain: "main",
}

// TestNet3Params is the Bitcoin testnet3 parameter set.
var TestNet3Params = Params{
	Name:             "testnet3",
	HRP:              TestnetHRP,
	CoinType:         1,
	BlockCypherChain: "test3",
}

// ParamsForNetwork returns the parameter set for a network name.
func ParamsForNetwork(name string) (Params, error) {
	switch name {
	case MainNetParams.Name:
		return MainNetParams, nil
	case TestNet3Params.Name, "testnet":
		return TestNet3Params, nil
	default:
		return Params{}, fmt.Errorf("unknown network %q", name)
	}
}
