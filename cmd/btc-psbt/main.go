// btc-psbt builds, signs and finalizes Bitcoin transactions as BIP 174
// partially signed transactions.
//
// Every command reads and writes packets as base64 text, so each step can
// run on a different machine:
//
//	# Create a packet spending a p2wpkh output
//	btc-psbt --network=testnet create \
//	  --input <txid>:<vout>:<sats>:<scriptPubKey hex> \
//	  --output <address>:<sats>
//
//	# Sign with each key, then combine and extract
//	btc-psbt --network=testnet sign --wif <key> < unsigned.psbt > a.psbt
//	btc-psbt combine "$(cat a.psbt)" "$(cat b.psbt)" > signed.psbt
//	btc-psbt --network=testnet extract < signed.psbt
package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/suffix-labs/btc-psbt/pkg/network"
)

const version = "0.1.0"

type globalOptions struct {
	Network    string `long:"network" short:"n" description:"Bitcoin network" choice:"mainnet" choice:"testnet" choice:"regtest" default:"mainnet"`
	DebugLevel string `long:"debuglevel" short:"d" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical, off}, or <subsystem>=<level>,... for BLDR, ROLE, PSBT, CRYP and TXN" default:"off"`

	net *network.Params
}

// setup applies the logging and network options. go-flags fills in the
// global options before it runs a command, so commands call it first.
func (g *globalOptions) setup() error {
	if err := setLogLevels(g.DebugLevel); err != nil {
		return err
	}

	net, err := network.ByName(g.Network)
	if err != nil {
		return err
	}
	g.net = net
	return nil
}

type subCommand interface {
	Register(parser *flags.Parser) error
}

func main() {
	opts := &globalOptions{}
	parser := flags.NewParser(opts, flags.Default)
	commands := []subCommand{
		newCreateCommand(opts),
		newSignCommand(opts),
		newCombineCommand(opts),
		newFinalizeCommand(opts),
		newExtractCommand(opts),
		newDecodeCommand(opts),
		newKeygenCommand(opts),
		newParseURICommand(opts),
		&versionCommand{},
	}
	for _, command := range commands {
		if err := command.Register(parser); err != nil {
			fmt.Fprintf(os.Stderr, "failed to register command: %v\n",
				err)
			os.Exit(1)
		}
	}

	if _, err := parser.Parse(); err != nil {
		flagErr, ok := err.(*flags.Error)
		if ok && flagErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

type versionCommand struct{}

func (x *versionCommand) Register(parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"version",
		"Show version information",
		"Print the btc-psbt version and exit",
		x,
	)
	return err
}

func (x *versionCommand) Execute(_ []string) error {
	fmt.Printf("btc-psbt v%s\n", version)
	return nil
}
