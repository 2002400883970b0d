package main

import (
	"encoding/json"
	"fmt"

	"github.com/jessevdk/go-flags"
	"github.com/suffix-labs/btc-psbt/pkg/api"
)

type decodeCommand struct {
	PSBT string `long:"psbt" description:"Base64 PSBT; read from stdin when omitted"`

	global *globalOptions
}

func newDecodeCommand(global *globalOptions) *decodeCommand {
	return &decodeCommand{global: global}
}

func (x *decodeCommand) Register(parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"decode",
		"Show the contents of a PSBT",
		"Print the inputs, outputs, fee and signing state of a PSBT "+
			"as JSON",
		x,
	)
	return err
}

func (x *decodeCommand) Execute(_ []string) error {
	if err := x.global.setup(); err != nil {
		return err
	}

	packet, err := readPacket(x.PSBT)
	if err != nil {
		return err
	}

	summary, err := api.DecodePSBT(packet, x.global.net)
	if err != nil {
		return err
	}
	return printJSON(summary)
}

type keygenCommand struct {
	Uncompressed bool `long:"uncompressed" description:"Use the uncompressed public key encoding; no segwit addresses are shown"`

	global *globalOptions
}

func newKeygenCommand(global *globalOptions) *keygenCommand {
	return &keygenCommand{global: global}
}

func (x *keygenCommand) Register(parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"keygen",
		"Generate a private key",
		"Generate a random private key and print it in wallet import "+
			"format with its public key and addresses",
		x,
	)
	return err
}

func (x *keygenCommand) Execute(_ []string) error {
	if err := x.global.setup(); err != nil {
		return err
	}

	info, err := api.NewKey(x.global.net, !x.Uncompressed)
	if err != nil {
		return err
	}
	return printJSON(info)
}

type parseURICommand struct {
	global *globalOptions
}

func newParseURICommand(global *globalOptions) *parseURICommand {
	return &parseURICommand{global: global}
}

func (x *parseURICommand) Register(parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"parse-uri",
		"Parse a BIP 21 payment request",
		"Parse the payment request URI given as the only argument and "+
			"print its fields and output script",
		x,
	)
	return err
}

func (x *parseURICommand) Execute(args []string) error {
	if err := x.global.setup(); err != nil {
		return err
	}

	if len(args) != 1 {
		return fmt.Errorf("exactly one URI argument is required")
	}

	req, err := api.ParsePaymentRequest(args[0], x.global.net)
	if err != nil {
		return err
	}

	fmt.Printf("Address: %s\n", req.Address)
	if req.Amount != nil {
		fmt.Printf("Amount:  %v\n", *req.Amount)
	} else {
		fmt.Println("Amount:  (not specified)")
	}
	if req.Label != "" {
		fmt.Printf("Label:   %s\n", req.Label)
	}
	if req.Message != "" {
		fmt.Printf("Message: %s\n", req.Message)
	}
	for key, values := range req.Extra {
		fmt.Printf("%s: %v\n", key, values)
	}

	pkScript, err := req.OutputScript(x.global.net)
	if err != nil {
		return err
	}
	fmt.Printf("Script:  %x\n", pkScript)
	fmt.Printf("\nRe-encoded URI:\n%s\n", req.Encode())
	return nil
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
