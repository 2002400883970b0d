// Package network describes the version bytes and prefixes that differ
// between Bitcoin networks. The tables come from btcd's chaincfg so they
// track the reference values.
package network

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
)

// Params is the subset of chain parameters needed for key and address
// encoding.
type Params struct {
	Name       string // Short name used on the command line
	WIF        byte   // Version byte of WIF private keys
	PubKeyHash byte   // Version byte of P2PKH addresses
	ScriptHash byte   // Version byte of P2SH addresses
	Bech32     string // Human-readable part of segwit addresses
}

func fromChainParams(name string, p *chaincfg.Params) *Params {
	return &Params{
		Name:       name,
		WIF:        p.PrivateKeyID,
		PubKeyHash: p.PubKeyHashAddrID,
		ScriptHash: p.ScriptHashAddrID,
		Bech32:     p.Bech32HRPSegwit,
	}
}

var (
	// Bitcoin is the main network.
	Bitcoin = fromChainParams("bitcoin", &chaincfg.MainNetParams)

	// Testnet is testnet3.
	Testnet = fromChainParams("testnet", &chaincfg.TestNet3Params)

	// Regtest is the local regression test network.
	Regtest = fromChainParams("regtest", &chaincfg.RegressionNetParams)
)

// All lists the known networks in lookup order. Testnet and regtest share WIF
// version bytes, so a WIF lookup over All resolves to testnet.
var All = []*Params{Bitcoin, Testnet, Regtest}

// ByName returns the network with the given name. "mainnet" is accepted as an
// alias for bitcoin.
func ByName(name string) (*Params, error) {
	switch strings.ToLower(name) {
	case "bitcoin", "mainnet", "main":
		return Bitcoin, nil
	case "testnet", "testnet3", "test":
		return Testnet, nil
	case "regtest":
		return Regtest, nil
	}
	return nil, fmt.Errorf("unknown network %q", name)
}

func (p *Params) String() string {
	return p.Name
}
