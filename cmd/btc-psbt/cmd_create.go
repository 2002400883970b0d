package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/jessevdk/go-flags"
	"github.com/suffix-labs/btc-psbt/pkg/api"
)

type createCommand struct {
	Inputs   []string `long:"input" short:"i" description:"Output to spend as <txid>:<vout>:<sats>:<scriptPubKey hex>[:<redeem script hex>[:<witness script hex>]]; may be repeated" required:"true"`
	PrevTxs  []string `long:"prevtx" description:"Raw hex of a previous transaction, matched to inputs by txid; needed for legacy inputs when the spent output script is unknown"`
	Outputs  []string `long:"output" short:"o" description:"Payment as <address>:<sats>; may be repeated"`
	URIs     []string `long:"uri" description:"BIP 21 payment request with an amount; may be repeated"`
	Version  int32    `long:"txversion" description:"Transaction version" default:"2"`
	LockTime uint32   `long:"locktime" description:"Transaction lock time"`

	global *globalOptions
}

func newCreateCommand(global *globalOptions) *createCommand {
	return &createCommand{global: global}
}

func (x *createCommand) Register(parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"create",
		"Create an unsigned PSBT",
		"Build a partially signed transaction from the given inputs, "+
			"outputs and payment requests and print it as base64",
		x,
	)
	return err
}

func (x *createCommand) Execute(_ []string) error {
	if err := x.global.setup(); err != nil {
		return err
	}

	proposal := &api.Proposal{
		PaymentURIs: x.URIs,
		Version:     x.Version,
		LockTime:    x.LockTime,
	}

	prevTxs := make(map[string]string, len(x.PrevTxs))
	for _, raw := range x.PrevTxs {
		tx, err := txidOf(raw)
		if err != nil {
			return err
		}
		prevTxs[tx] = raw
	}

	for _, arg := range x.Inputs {
		in, err := parseInput(arg)
		if err != nil {
			return fmt.Errorf("invalid input %q: %v", arg, err)
		}
		in.PrevTx = prevTxs[in.TxID]
		proposal.Inputs = append(proposal.Inputs, *in)
	}

	for _, arg := range x.Outputs {
		address, amount, found := strings.Cut(arg, ":")
		if !found {
			return fmt.Errorf("invalid output %q: expected "+
				"<address>:<sats>", arg)
		}
		value, err := strconv.ParseInt(amount, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid output amount %q: %v", amount,
				err)
		}
		proposal.Outputs = append(proposal.Outputs, api.Output{
			Address: address,
			Value:   btcutil.Amount(value),
		})
	}

	packet, err := api.CreatePSBT(proposal, x.global.net)
	if err != nil {
		return err
	}
	fmt.Println(packet)
	return nil
}

// parseInput parses <txid>:<vout>:<sats>:<scriptPubKey>[:<redeem>[:<witness>]].
// The value and script fields may be left empty when a previous
// transaction is given instead.
func parseInput(arg string) (*api.Input, error) {
	fields := strings.Split(arg, ":")
	if len(fields) < 2 || len(fields) > 6 {
		return nil, fmt.Errorf("expected 2 to 6 fields, got %d",
			len(fields))
	}

	vout, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid vout: %v", err)
	}
	in := &api.Input{
		TxID: fields[0],
		Vout: uint32(vout),
	}

	if len(fields) > 2 && fields[2] != "" {
		value, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value: %v", err)
		}
		in.Value = btcutil.Amount(value)
	}

	scripts := []*[]byte{&in.ScriptPubKey, &in.RedeemScript, &in.WitnessScript}
	for i, field := range fields[min(len(fields), 3):] {
		if field == "" {
			continue
		}
		*scripts[i], err = hex.DecodeString(field)
		if err != nil {
			return nil, fmt.Errorf("invalid script hex %q: %v", field,
				err)
		}
	}
	return in, nil
}
