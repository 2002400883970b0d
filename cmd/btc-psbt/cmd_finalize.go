package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/jessevdk/go-flags"
	"github.com/suffix-labs/btc-psbt/pkg/api"
)

type combineCommand struct {
	global *globalOptions
}

func newCombineCommand(global *globalOptions) *combineCommand {
	return &combineCommand{global: global}
}

func (x *combineCommand) Register(parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"combine",
		"Merge copies of a PSBT",
		"Merge the signatures and metadata of every PSBT given as an "+
			"argument; all must share the same unsigned transaction",
		x,
	)
	return err
}

func (x *combineCommand) Execute(args []string) error {
	if err := x.global.setup(); err != nil {
		return err
	}

	if len(args) < 2 {
		return fmt.Errorf("at least two PSBTs are required")
	}

	combined, err := api.CombinePSBTs(args)
	if err != nil {
		return err
	}
	fmt.Println(combined)
	return nil
}

type finalizeCommand struct {
	PSBT string `long:"psbt" description:"Base64 PSBT; read from stdin when omitted"`

	global *globalOptions
}

func newFinalizeCommand(global *globalOptions) *finalizeCommand {
	return &finalizeCommand{global: global}
}

func (x *finalizeCommand) Register(parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"finalize",
		"Finalize the inputs that have enough signatures",
		"Assemble the final scriptSig and witness of every input "+
			"whose signatures satisfy its script and print the PSBT",
		x,
	)
	return err
}

func (x *finalizeCommand) Execute(_ []string) error {
	if err := x.global.setup(); err != nil {
		return err
	}

	packet, err := readPacket(x.PSBT)
	if err != nil {
		return err
	}

	result, err := api.FinalizePSBT(packet, x.global.net)
	if err != nil {
		return err
	}
	indexes := make([]int, 0, len(result.Pending))
	for i := range result.Pending {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		fmt.Fprintf(os.Stderr, "warning: input %d not finalized: %v\n",
			i, result.Pending[i])
	}
	fmt.Println(result.PSBT)
	return nil
}

type extractCommand struct {
	PSBT            string `long:"psbt" description:"Base64 PSBT; read from stdin when omitted"`
	AllowIncomplete bool   `long:"allow-incomplete" description:"Extract even if some inputs are not finalized; the result cannot be broadcast"`

	global *globalOptions
}

func newExtractCommand(global *globalOptions) *extractCommand {
	return &extractCommand{global: global}
}

func (x *extractCommand) Register(parser *flags.Parser) error {
	_, err := parser.AddCommand(
		"extract",
		"Extract the network transaction",
		"Finalize the PSBT and print the raw transaction hex, ready "+
			"to broadcast",
		x,
	)
	return err
}

func (x *extractCommand) Execute(_ []string) error {
	if err := x.global.setup(); err != nil {
		return err
	}

	packet, err := readPacket(x.PSBT)
	if err != nil {
		return err
	}

	txHex, err := api.ExtractTransaction(
		packet, x.AllowIncomplete, x.global.net,
	)
	if err != nil {
		return err
	}
	fmt.Println(txHex)
	return nil
}
