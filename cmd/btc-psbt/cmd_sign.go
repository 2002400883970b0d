package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/suffix-labs/btc-psbt/pkg/api"
	"github.com/suffix-labs/btc-psbt/pkg/script"
)

type signCommand struct {
	PSBT    string `long:"psbt" description:"Base64 PSBT; read from stdin when omitted"`
	WIF     string `long:"wif" description:"Private key in wallet import format" required:"true"`
	SigHash string `long:"sighash" description:"Signature hash type such as ALL, NONE or SINGLE|ANYONECANPAY; each input's declared type when omitted"`
	LowR    bool   `long:"lowr" description:"Grind signatures to a low R value"`

	global *globalOptions
}

func newSignCommand(global *globalOptions) *signCommand {
	return &signCommand{global: global}
}

func (x *signCommand) Register(parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"sign",
		"Sign every input the key can spend",
		"Add a partial signature to each input of the PSBT that is "+
			"locked to the given key and print the updated PSBT",
		x,
	)
	return err
}

func (x *signCommand) Execute(_ []string) error {
	if err := x.global.setup(); err != nil {
		return err
	}

	packet, err := readPacket(x.PSBT)
	if err != nil {
		return err
	}

	var hashType script.SigHashType
	if x.SigHash != "" {
		hashType, err = script.ParseSigHashType(x.SigHash)
		if err != nil {
			return err
		}
	}

	signed, indexes, err := api.SignPSBT(
		packet, x.WIF, hashType, x.LowR, x.global.net,
	)
	if signed == "" {
		return err
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	fmt.Fprintf(os.Stderr, "signed inputs: %v\n", indexes)
	fmt.Println(signed)
	return nil
}
